package snowflake

import (
	"errors"
	"strconv"
	"sync"

	"github.com/jonboulle/clockwork"
)

const (
	// Epoch is the custom epoch (January 1, 2024 00:00:00 UTC)
	Epoch int64 = 1704067200000 // milliseconds

	// Default bit allocations
	DefaultWorkerIDBits uint8 = 10
	DefaultSequenceBits uint8 = 12
)

var (
	ErrInvalidWorkerID      = errors.New("worker ID exceeds maximum value")
	ErrClockMovedBackwards  = errors.New("clock moved backwards")
	ErrInvalidBitAllocation = errors.New("invalid bit allocation: total bits must not exceed 22")
)

// Generator generates unique, time-ordered IDs using the Snowflake layout
// (timestamp | worker | sequence).
type Generator struct {
	mu    sync.Mutex
	clock clockwork.Clock

	epoch        int64
	workerID     int64
	sequenceBits uint8

	workerIDShift  uint8
	timestampShift uint8
	sequenceMask   int64
	workerIDMask   int64

	sequence      int64
	lastTimestamp int64
	lastWall      int64
}

// Config holds the configuration for the Snowflake generator
type Config struct {
	Epoch        int64
	WorkerID     int64
	WorkerIDBits uint8
	SequenceBits uint8
	// Clock defaults to the real clock.
	Clock clockwork.Clock
}

// NewGenerator creates a new Snowflake ID generator with the given configuration
func NewGenerator(config Config) (*Generator, error) {
	if config.WorkerIDBits == 0 {
		config.WorkerIDBits = DefaultWorkerIDBits
	}
	if config.SequenceBits == 0 {
		config.SequenceBits = DefaultSequenceBits
	}
	if config.Epoch == 0 {
		config.Epoch = Epoch
	}
	if config.Clock == nil {
		config.Clock = clockwork.NewRealClock()
	}

	// 41 bits timestamp + worker + sequence must fit in 63 bits
	if config.WorkerIDBits+config.SequenceBits > 22 {
		return nil, ErrInvalidBitAllocation
	}

	g := &Generator{
		clock:          config.Clock,
		epoch:          config.Epoch,
		workerID:       config.WorkerID,
		sequenceBits:   config.SequenceBits,
		workerIDShift:  config.SequenceBits,
		timestampShift: config.SequenceBits + config.WorkerIDBits,
		sequenceMask:   -1 ^ (-1 << config.SequenceBits),
		workerIDMask:   -1 ^ (-1 << config.WorkerIDBits),
	}
	if g.workerID > g.workerIDMask || g.workerID < 0 {
		return nil, ErrInvalidWorkerID
	}
	return g, nil
}

// NextID generates the next unique ID
func (g *Generator) NextID() (int64, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	now := g.clock.Now().UnixMilli()
	if now < g.lastWall {
		return 0, ErrClockMovedBackwards
	}
	g.lastWall = now

	timestamp := max(now, g.lastTimestamp)

	if timestamp == g.lastTimestamp {
		g.sequence = (g.sequence + 1) & g.sequenceMask
		if g.sequence == 0 {
			// sequence exhausted: borrow the next millisecond instead of
			// spinning, so a stopped clock cannot wedge the generator
			timestamp = g.lastTimestamp + 1
		}
	} else {
		g.sequence = 0
	}
	g.lastTimestamp = timestamp

	id := ((timestamp - g.epoch) << g.timestampShift) |
		(g.workerID << g.workerIDShift) |
		g.sequence
	return id, nil
}

// NextString is NextID in decimal form, the shape message IDs use.
func (g *Generator) NextString() (string, error) {
	id, err := g.NextID()
	if err != nil {
		return "", err
	}
	return strconv.FormatInt(id, 10), nil
}

// Parse extracts the components from a Snowflake ID
func (g *Generator) Parse(id int64) (timestamp int64, workerID int64, sequence int64) {
	sequence = id & g.sequenceMask
	workerID = (id >> g.workerIDShift) & g.workerIDMask
	timestamp = (id >> g.timestampShift) + g.epoch
	return
}

// GetTimestamp extracts just the timestamp from a Snowflake ID
func (g *Generator) GetTimestamp(id int64) int64 {
	return (id >> g.timestampShift) + g.epoch
}
