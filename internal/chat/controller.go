// Package chat runs the stranger-chat window: finding a peer, the canned
// conversation, and the voice call sub-state.
package chat

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"strings"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"

	"github.com/Gopher0727/Strangers/config"
	"github.com/Gopher0727/Strangers/internal/events"
	"github.com/Gopher0727/Strangers/internal/loop"
	"github.com/Gopher0727/Strangers/internal/match"
	"github.com/Gopher0727/Strangers/internal/model"
	"github.com/Gopher0727/Strangers/utils/snowflake"
)

var (
	ErrBusy            = errors.New("chat: search already in progress")
	ErrNoPeer          = errors.New("chat: no active peer")
	ErrEmptyMessage    = errors.New("chat: message is empty")
	ErrNoMatch         = errors.New("chat: no available users match your filter criteria")
	ErrUpgradeRequired = errors.New("chat: feature requires a pro subscription")
	ErrUnsupportedFile = errors.New("chat: unsupported file type")
	// ErrSuperseded is returned by a search that was reset before it
	// finished.
	ErrSuperseded = errors.New("chat: search superseded")
)

const (
	StrangerReply   = "That is interesting! Tell me more."
	ReplyFileName   = "response.jpg"
	connectedFormat = "You are now connected with %s."
)

// Gate decides access to pro-only features.
type Gate interface {
	IsPro() bool
	// PromptUpgrade is called instead of running a gated action.
	PromptUpgrade()
}

// BlockList yields the IDs excluded from matchmaking.
type BlockList interface {
	Members(ctx context.Context) ([]string, error)
}

// State is a point-in-time copy of the chat window.
type State struct {
	Status   Status          `json:"status"`
	Voice    VoiceStatus     `json:"voice"`
	Peer     *model.User     `json:"peer,omitempty"`
	Messages []model.Message `json:"messages"`
	Typing   bool            `json:"typing"`
	Filters  model.Filters   `json:"filters"`
}

type Options struct {
	SessionID string
	Clock     clockwork.Clock
	Latency   config.LatencyConfig
	Loop      *loop.Loop
	Pool      *match.Pool
	Gate      Gate
	Blocked   BlockList
	Rand      match.Rand
	IDs       *snowflake.Generator
	Logger    *zap.Logger
	Publisher events.Publisher
}

// Controller owns the conversation with at most one peer. Deferred
// follow-ups run on the session loop and are dropped once the peer
// changes.
type Controller struct {
	sessionID string
	clock     clockwork.Clock
	latency   config.LatencyConfig
	loop      *loop.Loop
	pool      *match.Pool
	gate      Gate
	blocked   BlockList
	rng       match.Rand
	ids       *snowflake.Generator
	logger    *zap.Logger
	pub       events.Publisher

	mu        sync.Mutex
	status    Status
	voice     VoiceStatus
	peer      *model.User
	messages  []model.Message
	typing    bool
	filters   model.Filters
	searching bool
	// gen bumps whenever the conversation is replaced
	gen       uint64
	callSeq   uint64
	followups []func()
}

func NewController(opts Options) (*Controller, error) {
	if opts.Loop == nil || opts.Pool == nil || opts.Gate == nil || opts.Blocked == nil {
		return nil, errors.New("chat: loop, pool, gate and block list are required")
	}
	if opts.Clock == nil {
		opts.Clock = clockwork.NewRealClock()
	}
	if opts.Rand == nil {
		opts.Rand = rand.New(rand.NewPCG(uint64(opts.Clock.Now().UnixNano()), 0x5eed))
	}
	if opts.IDs == nil {
		ids, err := snowflake.NewGenerator(snowflake.Config{Clock: opts.Clock})
		if err != nil {
			return nil, err
		}
		opts.IDs = ids
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Publisher == nil {
		opts.Publisher = events.Discard
	}
	return &Controller{
		sessionID: opts.SessionID,
		clock:     opts.Clock,
		latency:   opts.Latency,
		loop:      opts.Loop,
		pool:      opts.Pool,
		gate:      opts.Gate,
		blocked:   opts.Blocked,
		rng:       opts.Rand,
		ids:       opts.IDs,
		logger:    opts.Logger,
		pub:       opts.Publisher,
		status:    StatusIdle,
		voice:     VoiceIdle,
	}, nil
}

// Snapshot copies the current window state.
func (c *Controller) Snapshot() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return State{
		Status:   c.status,
		Voice:    c.voice,
		Peer:     c.peer.Clone(),
		Messages: append([]model.Message(nil), c.messages...),
		Typing:   c.typing,
		Filters:  c.filters,
	}
}

// Peer returns a copy of the active peer, or nil.
func (c *Controller) Peer() *model.User {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.peer.Clone()
}

func (c *Controller) Filters() model.Filters {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.filters
}

// SetFilters stores the search filters. Without pro nothing changes and
// the upgrade prompt opens.
func (c *Controller) SetFilters(f model.Filters) error {
	if !c.gate.IsPro() {
		c.gate.PromptUpgrade()
		return ErrUpgradeRequired
	}
	f.Location = strings.TrimSpace(f.Location)
	c.mu.Lock()
	defer c.mu.Unlock()
	c.filters = f
	return nil
}

// FindPeer drops the current conversation, waits the search latency and
// connects to a random eligible candidate. Filters only apply with pro.
func (c *Controller) FindPeer(ctx context.Context, f model.Filters) (*model.User, error) {
	c.mu.Lock()
	if c.searching {
		c.mu.Unlock()
		return nil, ErrBusy
	}
	next, err := Next(c.status, ActionFind)
	if err != nil {
		c.mu.Unlock()
		return nil, err
	}
	c.resetConversationLocked()
	c.searching = true
	c.setStatusLocked(next)
	gen := c.gen
	c.mu.Unlock()

	waitErr := loop.Wait(ctx, c.clock, c.latency.Search)

	var blocked []string
	if waitErr == nil {
		blocked, waitErr = c.blocked.Members(ctx)
	}
	pro := c.gate.IsPro()

	c.mu.Lock()
	defer c.mu.Unlock()
	if gen != c.gen {
		return nil, ErrSuperseded
	}
	c.searching = false
	if waitErr != nil {
		c.setStatusLocked(StatusIdle)
		return nil, waitErr
	}

	peer, ok := c.pool.Pick(blocked, f, pro, c.rng)
	if !ok {
		next, _ := Next(c.status, ActionNoneFound)
		c.setStatusLocked(next)
		c.emitLocked(events.NoMatch, nil)
		c.logger.Info("no candidate matched", zap.String("session_id", c.sessionID), zap.Bool("pro", pro))
		return nil, ErrNoMatch
	}

	c.peer = &peer
	next, _ = Next(c.status, ActionFound)
	c.setStatusLocked(next)
	c.appendLocked(model.Message{
		Text:   fmt.Sprintf(connectedFormat, peer.Username),
		Sender: model.SenderStranger,
	})
	c.logger.Debug("peer connected", zap.String("session_id", c.sessionID), zap.String("peer_id", peer.ID))
	return peer.Clone(), nil
}

// Disconnect shows the disconnected notice, then clears the peer after the
// disconnect latency.
func (c *Controller) Disconnect() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	next, err := Next(c.status, ActionDisconnect)
	if err != nil {
		return err
	}
	c.setStatusLocked(next)
	gen := c.gen
	c.scheduleLocked(c.latency.Disconnect, func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		if gen == c.gen && c.status == StatusDisconnected {
			c.clearPeerLocked()
		}
	})
	return nil
}

// SendMessage appends the user's text now and the stranger's canned reply
// after a random delay in the reply window.
func (c *Controller) SendMessage(text string) (*model.Message, error) {
	if strings.TrimSpace(text) == "" {
		return nil, ErrEmptyMessage
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.peer == nil || c.status != StatusConnected {
		return nil, ErrNoPeer
	}
	sent := c.appendLocked(model.Message{Text: text, Sender: model.SenderMe})
	c.setTypingLocked(true)

	gen := c.gen
	c.scheduleLocked(c.replyDelay(), func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		if gen != c.gen {
			return
		}
		c.setTypingLocked(false)
		c.appendLocked(model.Message{Text: StrangerReply, Sender: model.SenderStranger})
	})
	return &sent, nil
}

// SendFile appends an image or video from the user, then a canned image
// from the stranger.
func (c *Controller) SendFile(att model.Attachment) (*model.Message, error) {
	if !c.gate.IsPro() {
		c.gate.PromptUpgrade()
		return nil, ErrUpgradeRequired
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.peer == nil || c.status != StatusConnected {
		return nil, ErrNoPeer
	}
	kind, ok := att.Kind()
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedFile, att.MIMEType)
	}

	url := att.URL
	if url == "" {
		url = "local://" + att.Name
	}
	sent := c.appendLocked(model.Message{
		File:   &model.File{URL: url, Kind: kind, Name: att.Name},
		Sender: model.SenderMe,
	})
	c.setTypingLocked(true)

	gen := c.gen
	c.scheduleLocked(c.latency.FileReply, func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		if gen != c.gen {
			return
		}
		c.setTypingLocked(false)
		c.appendLocked(model.Message{
			File: &model.File{
				URL:  fmt.Sprintf("https://picsum.photos/seed/%d/400/300", c.clock.Now().UnixMilli()),
				Kind: model.FileImage,
				Name: ReplyFileName,
			},
			Sender: model.SenderStranger,
		})
	})
	return &sent, nil
}

// InitiateCall rings the peer; the call connects after the call latency.
func (c *Controller) InitiateCall() error {
	if !c.gate.IsPro() {
		c.gate.PromptUpgrade()
		return ErrUpgradeRequired
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.peer == nil || c.status != StatusConnected {
		return ErrNoPeer
	}
	next, err := NextVoice(c.voice, VoiceInitiate)
	if err != nil {
		return err
	}
	c.setVoiceLocked(next)

	c.callSeq++
	gen, call := c.gen, c.callSeq
	c.scheduleLocked(c.latency.Call, func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		if gen != c.gen || call != c.callSeq {
			return
		}
		if next, err := NextVoice(c.voice, VoiceAnswered); err == nil {
			c.setVoiceLocked(next)
		}
	})
	return nil
}

// EndCall hangs up a connected call.
func (c *Controller) EndCall() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	next, err := NextVoice(c.voice, VoiceEnd)
	if err != nil {
		return err
	}
	c.callSeq++
	c.setVoiceLocked(next)
	return nil
}

// ClearPeerIf drops the conversation when id is the active peer, skipping
// the disconnected notice. It reports whether anything was cleared.
func (c *Controller) ClearPeerIf(id string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.peer == nil || c.peer.ID != id {
		return false
	}
	c.clearPeerLocked()
	return true
}

// Reset returns the window to its initial state, abandoning any search and
// cancelling follow-ups.
func (c *Controller) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.clearPeerLocked()
	c.searching = false
	c.filters = model.Filters{}
}

func (c *Controller) replyDelay() time.Duration {
	spread := c.latency.ReplyMax - c.latency.ReplyMin
	if spread <= 0 {
		return c.latency.ReplyMin
	}
	return c.latency.ReplyMin + time.Duration(c.rng.IntN(int(spread)+1))
}

func (c *Controller) scheduleLocked(d time.Duration, job func()) {
	c.followups = append(c.followups, c.loop.After(d, job))
}

// resetConversationLocked bumps the generation so stale follow-ups are
// ignored, then empties the window.
func (c *Controller) resetConversationLocked() {
	c.gen++
	c.callSeq++
	for _, cancel := range c.followups {
		cancel()
	}
	c.followups = nil
	c.peer = nil
	c.messages = nil
	c.setTypingLocked(false)
	c.setVoiceLocked(VoiceIdle)
}

func (c *Controller) clearPeerLocked() {
	c.resetConversationLocked()
	next, _ := Next(c.status, ActionClear)
	c.setStatusLocked(next)
}

func (c *Controller) appendLocked(m model.Message) model.Message {
	now := c.clock.Now()
	id, err := c.ids.NextString()
	if err != nil {
		// a backwards clock step only affects ordering hints
		id = fmt.Sprintf("%d-%d", now.UnixMilli(), len(c.messages))
		c.logger.Warn("message id fallback", zap.Error(err))
	}
	m.ID = id
	m.SentAt = now
	m.Timestamp = now.Format(model.TimestampLayout)
	c.messages = append(c.messages, m)
	c.emitLocked(events.MessageAppended, map[string]any{"message": m})
	return m
}

func (c *Controller) setStatusLocked(s Status) {
	if s == c.status {
		return
	}
	c.status = s
	data := map[string]any{"status": string(s)}
	if c.peer != nil {
		data["peer_id"] = c.peer.ID
	}
	c.emitLocked(events.ChatStatusChanged, data)
}

func (c *Controller) setVoiceLocked(v VoiceStatus) {
	if v == c.voice {
		return
	}
	c.voice = v
	c.emitLocked(events.VoiceChanged, map[string]any{"voice": string(v)})
}

func (c *Controller) setTypingLocked(typing bool) {
	if typing == c.typing {
		return
	}
	c.typing = typing
	c.emitLocked(events.TypingChanged, map[string]any{"typing": typing})
}

func (c *Controller) emitLocked(t events.Type, data map[string]any) {
	c.pub.Publish(events.Event{Type: t, SessionID: c.sessionID, At: c.clock.Now(), Data: data})
}
