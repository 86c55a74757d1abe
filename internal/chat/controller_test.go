package chat

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Gopher0727/Strangers/config"
	"github.com/Gopher0727/Strangers/internal/events"
	"github.com/Gopher0727/Strangers/internal/loop"
	"github.com/Gopher0727/Strangers/internal/match"
	"github.com/Gopher0727/Strangers/internal/model"
)

type fakeGate struct {
	mu      sync.Mutex
	pro     bool
	prompts int
}

func (g *fakeGate) IsPro() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.pro
}

func (g *fakeGate) PromptUpgrade() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.prompts++
}

func (g *fakeGate) Prompts() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.prompts
}

type staticBlocks []string

func (b staticBlocks) Members(context.Context) ([]string, error) { return b, nil }

// fixedRand always draws the same index, clamped to the range.
type fixedRand int

func (r fixedRand) IntN(n int) int { return min(int(r), n-1) }

type harness struct {
	ctrl  *Controller
	clock *clockwork.FakeClock
	gate  *fakeGate
	rec   *events.Recorder
}

func newHarness(t *testing.T, pro bool, latency config.LatencyConfig, blocked ...string) *harness {
	t.Helper()
	clock := clockwork.NewFakeClockAt(time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC))
	l := loop.New(clock, 16, nil)
	l.Start()
	t.Cleanup(l.Stop)

	h := &harness{clock: clock, gate: &fakeGate{pro: pro}, rec: &events.Recorder{}}
	ctrl, err := NewController(Options{
		SessionID: "s1",
		Clock:     clock,
		Latency:   latency,
		Loop:      l,
		Pool:      match.NewPool(match.Candidates()),
		Gate:      h.gate,
		Blocked:   staticBlocks(blocked),
		Rand:      fixedRand(0),
		Publisher: h.rec,
	})
	require.NoError(t, err)
	h.ctrl = ctrl
	return h
}

func (h *harness) connect(t *testing.T) *model.User {
	t.Helper()
	peer, err := h.ctrl.FindPeer(context.Background(), model.Filters{})
	require.NoError(t, err)
	return peer
}

func (h *harness) messageCount() int {
	return len(h.ctrl.Snapshot().Messages)
}

func TestController_FindPeer(t *testing.T) {
	h := newHarness(t, false, config.LatencyConfig{})

	peer, err := h.ctrl.FindPeer(context.Background(), model.Filters{})
	require.NoError(t, err)
	assert.Equal(t, "10", peer.ID)

	state := h.ctrl.Snapshot()
	assert.Equal(t, StatusConnected, state.Status)
	assert.Equal(t, "Sophia", state.Peer.Username)
	require.Len(t, state.Messages, 1)
	assert.Equal(t, "You are now connected with Sophia.", state.Messages[0].Text)
	assert.Equal(t, model.SenderStranger, state.Messages[0].Sender)
	assert.Equal(t, h.clock.Now().Format("15:04"), state.Messages[0].Timestamp)
}

func TestController_FindPeerWaitsSearchLatency(t *testing.T) {
	h := newHarness(t, false, config.LatencyConfig{Search: 2500 * time.Millisecond})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	type result struct {
		peer *model.User
		err  error
	}
	done := make(chan result, 1)
	go func() {
		p, err := h.ctrl.FindPeer(ctx, model.Filters{})
		done <- result{p, err}
	}()

	require.NoError(t, h.clock.BlockUntilContext(ctx, 1))
	state := h.ctrl.Snapshot()
	assert.Equal(t, StatusSearching, state.Status)
	assert.Nil(t, state.Peer)
	assert.Empty(t, state.Messages)

	_, err := h.ctrl.FindPeer(ctx, model.Filters{})
	assert.ErrorIs(t, err, ErrBusy)

	h.clock.Advance(2500 * time.Millisecond)
	res := <-done
	require.NoError(t, res.err)
	assert.Equal(t, StatusConnected, h.ctrl.Snapshot().Status)
}

func TestController_FindPeerNoMatch(t *testing.T) {
	all := []string{"10", "11", "12", "1", "2", "3", "13", "14"}
	h := newHarness(t, false, config.LatencyConfig{}, all...)

	peer, err := h.ctrl.FindPeer(context.Background(), model.Filters{})
	assert.ErrorIs(t, err, ErrNoMatch)
	assert.Nil(t, peer)

	state := h.ctrl.Snapshot()
	assert.Equal(t, StatusIdle, state.Status)
	assert.Nil(t, state.Peer)
	assert.Empty(t, state.Messages)
	assert.Contains(t, h.rec.Types(), events.NoMatch)
}

func TestController_FindPeerFilters(t *testing.T) {
	filters := model.Filters{Gender: model.GenderMale, Interest: model.InterestGay}

	t.Run("applied with pro", func(t *testing.T) {
		h := newHarness(t, true, config.LatencyConfig{})
		peer, err := h.ctrl.FindPeer(context.Background(), filters)
		require.NoError(t, err)
		assert.Equal(t, "Charlie", peer.Username)
	})

	t.Run("ignored without pro", func(t *testing.T) {
		h := newHarness(t, false, config.LatencyConfig{})
		peer, err := h.ctrl.FindPeer(context.Background(), filters)
		require.NoError(t, err)
		assert.Equal(t, "Sophia", peer.Username)
		assert.Zero(t, h.gate.Prompts())
	})

	t.Run("empty filtered pool with pro", func(t *testing.T) {
		h := newHarness(t, true, config.LatencyConfig{})
		_, err := h.ctrl.FindPeer(context.Background(), model.Filters{Location: "Atlantis"})
		assert.ErrorIs(t, err, ErrNoMatch)
	})
}

func TestController_FindPeerReplacesConversation(t *testing.T) {
	h := newHarness(t, false, config.LatencyConfig{ReplyMin: time.Second, ReplyMax: time.Second})
	h.connect(t)
	_, err := h.ctrl.SendMessage("hello")
	require.NoError(t, err)

	// find again from a live chat
	h.connect(t)
	assert.Equal(t, 1, h.messageCount())

	h.clock.Advance(2 * time.Second)
	assert.Never(t, func() bool { return h.messageCount() != 1 }, 50*time.Millisecond, 5*time.Millisecond)
	assert.False(t, h.ctrl.Snapshot().Typing)
}

func TestController_FindPeerCancelled(t *testing.T) {
	h := newHarness(t, false, config.LatencyConfig{Search: time.Hour})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := h.ctrl.FindPeer(ctx, model.Filters{})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, StatusIdle, h.ctrl.Snapshot().Status)

	// not stuck in searching
	ctx, cancel = context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = h.ctrl.FindPeer(ctx, model.Filters{})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestController_ResetSupersedesSearch(t *testing.T) {
	h := newHarness(t, false, config.LatencyConfig{Search: time.Second})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	errCh := make(chan error, 1)
	go func() {
		_, err := h.ctrl.FindPeer(ctx, model.Filters{})
		errCh <- err
	}()
	require.NoError(t, h.clock.BlockUntilContext(ctx, 1))

	h.ctrl.Reset()
	h.clock.Advance(time.Second)

	assert.ErrorIs(t, <-errCh, ErrSuperseded)
	state := h.ctrl.Snapshot()
	assert.Equal(t, StatusIdle, state.Status)
	assert.Nil(t, state.Peer)
}

func TestController_SendHi(t *testing.T) {
	h := newHarness(t, false, config.LatencyConfig{ReplyMin: 2 * time.Second, ReplyMax: 3 * time.Second})
	h.connect(t)
	before := h.messageCount()

	sent, err := h.ctrl.SendMessage("hi")
	require.NoError(t, err)
	assert.Equal(t, "hi", sent.Text)
	assert.Equal(t, model.SenderMe, sent.Sender)

	state := h.ctrl.Snapshot()
	require.Len(t, state.Messages, before+1)
	assert.True(t, state.Typing)

	// fixedRand(0) puts the reply at the start of the window
	h.clock.Advance(1999 * time.Millisecond)
	assert.Never(t, func() bool { return h.messageCount() != before+1 }, 50*time.Millisecond, 5*time.Millisecond)

	h.clock.Advance(time.Millisecond)
	assert.Eventually(t, func() bool { return h.messageCount() == before+2 }, time.Second, 5*time.Millisecond)

	state = h.ctrl.Snapshot()
	assert.False(t, state.Typing)
	mine, reply := state.Messages[before], state.Messages[before+1]
	assert.Equal(t, model.SenderMe, mine.Sender)
	assert.Equal(t, "hi", mine.Text)
	assert.Equal(t, model.SenderStranger, reply.Sender)
	assert.Equal(t, StrangerReply, reply.Text)
	assert.NotEqual(t, mine.ID, reply.ID)
}

func TestController_ReplyDelayWithinWindow(t *testing.T) {
	h := newHarness(t, false, config.LatencyConfig{ReplyMin: 2 * time.Second, ReplyMax: 3 * time.Second})
	h.ctrl.rng = fixedRand(1 << 40)

	assert.Equal(t, 3*time.Second, h.ctrl.replyDelay())
	h.ctrl.rng = fixedRand(0)
	assert.Equal(t, 2*time.Second, h.ctrl.replyDelay())
}

func TestController_SendMessageErrors(t *testing.T) {
	h := newHarness(t, false, config.LatencyConfig{})

	_, err := h.ctrl.SendMessage("hi")
	assert.ErrorIs(t, err, ErrNoPeer)

	h.connect(t)
	_, err = h.ctrl.SendMessage("   ")
	assert.ErrorIs(t, err, ErrEmptyMessage)
	assert.Equal(t, 1, h.messageCount())
}

func TestController_SendFile(t *testing.T) {
	t.Run("requires pro", func(t *testing.T) {
		h := newHarness(t, false, config.LatencyConfig{})
		h.connect(t)

		_, err := h.ctrl.SendFile(model.Attachment{Name: "cat.png", MIMEType: "image/png"})
		assert.ErrorIs(t, err, ErrUpgradeRequired)
		assert.Equal(t, 1, h.gate.Prompts())
		assert.Equal(t, 1, h.messageCount())
	})

	t.Run("rejects text/plain", func(t *testing.T) {
		h := newHarness(t, true, config.LatencyConfig{})
		h.connect(t)
		before := h.ctrl.Snapshot().Messages

		_, err := h.ctrl.SendFile(model.Attachment{Name: "notes.txt", MIMEType: "text/plain"})
		assert.ErrorIs(t, err, ErrUnsupportedFile)
		assert.Equal(t, before, h.ctrl.Snapshot().Messages)
		assert.False(t, h.ctrl.Snapshot().Typing)
	})

	t.Run("image then canned reply", func(t *testing.T) {
		h := newHarness(t, true, config.LatencyConfig{FileReply: 2500 * time.Millisecond})
		h.connect(t)

		sent, err := h.ctrl.SendFile(model.Attachment{Name: "clip.mp4", MIMEType: "video/mp4", URL: "blob:1"})
		require.NoError(t, err)
		require.NotNil(t, sent.File)
		assert.Equal(t, model.FileVideo, sent.File.Kind)
		assert.Equal(t, "blob:1", sent.File.URL)
		assert.Equal(t, 2, h.messageCount())

		h.clock.Advance(2500 * time.Millisecond)
		assert.Eventually(t, func() bool { return h.messageCount() == 3 }, time.Second, 5*time.Millisecond)

		reply := h.ctrl.Snapshot().Messages[2]
		require.NotNil(t, reply.File)
		assert.Equal(t, model.SenderStranger, reply.Sender)
		assert.Equal(t, model.FileImage, reply.File.Kind)
		assert.Equal(t, ReplyFileName, reply.File.Name)
		assert.Regexp(t, `^https://picsum\.photos/seed/\d+/400/300$`, reply.File.URL)
	})

	t.Run("requires a peer", func(t *testing.T) {
		h := newHarness(t, true, config.LatencyConfig{})
		_, err := h.ctrl.SendFile(model.Attachment{Name: "cat.png", MIMEType: "image/png"})
		assert.ErrorIs(t, err, ErrNoPeer)
	})
}

func TestController_Disconnect(t *testing.T) {
	h := newHarness(t, false, config.LatencyConfig{Disconnect: time.Second})

	assert.ErrorIs(t, h.ctrl.Disconnect(), ErrInvalidTransition)

	h.connect(t)
	require.NoError(t, h.ctrl.Disconnect())

	state := h.ctrl.Snapshot()
	assert.Equal(t, StatusDisconnected, state.Status)
	require.NotNil(t, state.Peer, "peer stays visible for the notice")

	_, err := h.ctrl.SendMessage("still there?")
	assert.ErrorIs(t, err, ErrNoPeer)

	h.clock.Advance(time.Second)
	assert.Eventually(t, func() bool { return h.ctrl.Snapshot().Status == StatusIdle }, time.Second, 5*time.Millisecond)
	state = h.ctrl.Snapshot()
	assert.Nil(t, state.Peer)
	assert.Empty(t, state.Messages)
}

func TestController_FindDuringDisconnectNotice(t *testing.T) {
	h := newHarness(t, false, config.LatencyConfig{Disconnect: time.Second})
	h.connect(t)
	require.NoError(t, h.ctrl.Disconnect())

	h.connect(t)
	h.clock.Advance(time.Second)

	assert.Never(t, func() bool { return h.ctrl.Snapshot().Status != StatusConnected }, 50*time.Millisecond, 5*time.Millisecond)
}

func TestController_VoiceCall(t *testing.T) {
	t.Run("requires pro", func(t *testing.T) {
		h := newHarness(t, false, config.LatencyConfig{})
		h.connect(t)
		assert.ErrorIs(t, h.ctrl.InitiateCall(), ErrUpgradeRequired)
		assert.Equal(t, VoiceIdle, h.ctrl.Snapshot().Voice)
		assert.Equal(t, 1, h.gate.Prompts())
	})

	t.Run("rings then connects", func(t *testing.T) {
		h := newHarness(t, true, config.LatencyConfig{Call: 3 * time.Second})
		assert.ErrorIs(t, h.ctrl.InitiateCall(), ErrNoPeer)

		h.connect(t)
		require.NoError(t, h.ctrl.InitiateCall())
		assert.Equal(t, VoiceCalling, h.ctrl.Snapshot().Voice)
		assert.ErrorIs(t, h.ctrl.InitiateCall(), ErrInvalidTransition)
		assert.ErrorIs(t, h.ctrl.EndCall(), ErrInvalidTransition)

		h.clock.Advance(3 * time.Second)
		assert.Eventually(t, func() bool { return h.ctrl.Snapshot().Voice == VoiceConnected }, time.Second, 5*time.Millisecond)

		require.NoError(t, h.ctrl.EndCall())
		assert.Equal(t, VoiceIdle, h.ctrl.Snapshot().Voice)
		assert.Contains(t, h.rec.Types(), events.VoiceChanged)
	})

	t.Run("clearing the peer resets voice", func(t *testing.T) {
		h := newHarness(t, true, config.LatencyConfig{Call: 3 * time.Second})
		peer := h.connect(t)
		require.NoError(t, h.ctrl.InitiateCall())

		assert.True(t, h.ctrl.ClearPeerIf(peer.ID))
		h.clock.Advance(3 * time.Second)
		assert.Never(t, func() bool { return h.ctrl.Snapshot().Voice != VoiceIdle }, 50*time.Millisecond, 5*time.Millisecond)
	})
}

func TestController_SetFilters(t *testing.T) {
	t.Run("gated", func(t *testing.T) {
		h := newHarness(t, false, config.LatencyConfig{})
		err := h.ctrl.SetFilters(model.Filters{Gender: model.GenderFemale})
		assert.ErrorIs(t, err, ErrUpgradeRequired)
		assert.Equal(t, model.Filters{}, h.ctrl.Filters())
		assert.Equal(t, 1, h.gate.Prompts())
	})

	t.Run("stored with pro", func(t *testing.T) {
		h := newHarness(t, true, config.LatencyConfig{})
		require.NoError(t, h.ctrl.SetFilters(model.Filters{Location: " Paris "}))
		assert.Equal(t, "Paris", h.ctrl.Filters().Location)

		h.ctrl.Reset()
		assert.Equal(t, model.Filters{}, h.ctrl.Filters())
	})
}

func TestController_ClearPeerIf(t *testing.T) {
	h := newHarness(t, false, config.LatencyConfig{ReplyMin: time.Second, ReplyMax: time.Second})
	peer := h.connect(t)
	_, err := h.ctrl.SendMessage("hi")
	require.NoError(t, err)

	assert.False(t, h.ctrl.ClearPeerIf("someone-else"))
	assert.NotNil(t, h.ctrl.Peer())

	assert.True(t, h.ctrl.ClearPeerIf(peer.ID))
	state := h.ctrl.Snapshot()
	assert.Equal(t, StatusIdle, state.Status)
	assert.Nil(t, state.Peer)
	assert.Empty(t, state.Messages)
	assert.False(t, state.Typing)

	h.clock.Advance(time.Second)
	assert.Never(t, func() bool { return h.messageCount() > 0 }, 50*time.Millisecond, 5*time.Millisecond)
}
