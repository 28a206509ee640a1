package fanout_test

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"testing"
	"time"

	"parley/backend/internal/fanout"
	"parley/backend/internal/models"
	"parley/backend/internal/presence"

	"github.com/mama165/sdk-go/logs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

// recordingSession keeps every delivered event. A blocking session never
// accepts one and waits for the deadline instead.
type recordingSession struct {
	id       string
	blocking bool
	mu       sync.Mutex
	events   []models.Event
}

func (s *recordingSession) ID() string { return s.id }

func (s *recordingSession) Deliver(ctx context.Context, ev models.Event) error {
	if s.blocking {
		<-ctx.Done()
		return ctx.Err()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, ev)
	return nil
}

func (s *recordingSession) received() []models.Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]models.Event(nil), s.events...)
}

type world struct {
	router   *presence.Router
	engine   *fanout.Engine
	sessions map[string]*recordingSession
}

func newWorld(t *testing.T, timeout time.Duration) *world {
	t.Helper()
	log := logs.GetLoggerFromLevel(slog.LevelDebug)
	router := presence.NewRouter(log)
	return &world{
		router:   router,
		engine:   fanout.NewEngine(router, timeout, log),
		sessions: make(map[string]*recordingSession),
	}
}

func (w *world) connect(t *testing.T, sessionID, userID string, rooms ...string) *recordingSession {
	t.Helper()
	s := &recordingSession{id: sessionID}
	w.sessions[sessionID] = s
	w.router.Connect(s)
	require.NoError(t, w.router.Identify(sessionID, userID))
	for _, room := range rooms {
		require.NoError(t, w.router.JoinRoom(sessionID, room))
	}
	return s
}

func message(sender string) models.MessageView {
	return models.MessageView{ID: 7, ChatID: "c1", SenderID: sender, Content: "hi", CreatedAt: time.Now().UTC()}
}

func TestDeliverMessage_ExcludesSenderSessions(t *testing.T) {
	w := newWorld(t, time.Second)
	a1 := w.connect(t, "a1", "A")
	a2 := w.connect(t, "a2", "A")
	b1 := w.connect(t, "b1", "B")
	c1 := w.connect(t, "c1", "C")
	c2 := w.connect(t, "c2", "C")
	outsider := w.connect(t, "d1", "D")

	report := w.engine.DeliverMessage(context.Background(), message("A"), []string{"A", "B", "C"})

	assert.Equal(t, fanout.Report{Sessions: 3, Delivered: 3}, report)
	for _, s := range []*recordingSession{b1, c1, c2} {
		require.Len(t, s.received(), 1, s.id)
		assert.Equal(t, models.EventMessageReceived, s.received()[0].Type)
	}
	for _, s := range []*recordingSession{a1, a2, outsider} {
		assert.Empty(t, s.received(), s.id)
	}

	var payload models.MessagePayload
	require.NoError(t, json.Unmarshal(b1.received()[0].Data, &payload))
	assert.Equal(t, uint(7), payload.Message.ID)
}

func TestDeliverMessage_OfflineRecipientsAreSkipped(t *testing.T) {
	w := newWorld(t, time.Second)
	b := w.connect(t, "b1", "B")

	report := w.engine.DeliverMessage(context.Background(), message("A"), []string{"A", "B", "offline"})

	assert.Equal(t, 1, report.Sessions)
	assert.Len(t, b.received(), 1)
}

func TestDeliverMessage_SlowSessionDoesNotBlockOthers(t *testing.T) {
	w := newWorld(t, 50*time.Millisecond)
	slow := &recordingSession{id: "slow", blocking: true}
	w.router.Connect(slow)
	require.NoError(t, w.router.Identify("slow", "B"))
	fast := w.connect(t, "fast", "C")

	start := time.Now()
	report := w.engine.DeliverMessage(context.Background(), message("A"), []string{"A", "B", "C"})

	assert.Less(t, time.Since(start), time.Second, "bounded by the per-session timeout")
	assert.Equal(t, fanout.Report{Sessions: 2, Delivered: 1, Dropped: 1}, report)
	assert.Len(t, fast.received(), 1)
}

func TestDeliverMessage_ClosedSessionIsHarmless(t *testing.T) {
	w := newWorld(t, time.Second)
	b := w.connect(t, "b1", "B")
	targets := w.router.SessionsForUser("B")
	w.router.Disconnect("b1")

	// Delivering to a snapshot taken before disconnect must not fail.
	for _, s := range targets {
		assert.NoError(t, s.Deliver(context.Background(), models.Event{Type: models.EventMessageReceived}))
	}
	report := w.engine.DeliverMessage(context.Background(), message("A"), []string{"A", "B"})
	assert.Zero(t, report.Sessions)
	assert.Len(t, b.received(), 1)
}

func TestDeliverTyping_RoomMinusActor(t *testing.T) {
	w := newWorld(t, time.Second)
	actor := w.connect(t, "a1", "A", "c1")
	sameUser := w.connect(t, "a2", "A", "c1")
	peer := w.connect(t, "b1", "B", "c1")
	elsewhere := w.connect(t, "x1", "X", "c2")

	report := w.engine.DeliverTyping(context.Background(), "c1", models.EventTypingStarted, "A", "a1")

	assert.Equal(t, 2, report.Delivered)
	assert.Empty(t, actor.received())
	assert.Len(t, sameUser.received(), 1)
	assert.Empty(t, elsewhere.received())
	require.Len(t, peer.received(), 1)
	assert.Equal(t, models.EventTypingStarted, peer.received()[0].Type)

	var payload models.TypingPayload
	require.NoError(t, json.Unmarshal(peer.received()[0].Data, &payload))
	assert.Equal(t, models.TypingPayload{ChatID: "c1", UserID: "A"}, payload)
}

func TestDeliverTyping_RejectsOtherEvents(t *testing.T) {
	w := newWorld(t, time.Second)
	peer := w.connect(t, "b1", "B", "c1")

	report := w.engine.DeliverTyping(context.Background(), "c1", models.EventMessageReceived, "A", "a1")

	assert.Zero(t, report.Sessions)
	assert.Empty(t, peer.received())
}

type MockRelay struct {
	mock.Mock
}

func (m *MockRelay) Publish(ctx context.Context, env fanout.Envelope) error {
	return m.Called(ctx, env).Error(0)
}

func TestDispatch_UsesRelay(t *testing.T) {
	w := newWorld(t, time.Second)
	b := w.connect(t, "b1", "B")
	relay := new(MockRelay)
	relay.On("Publish", mock.Anything, mock.MatchedBy(func(env fanout.Envelope) bool {
		return env.Kind == fanout.KindMessage
	})).Return(nil).Once()
	w.engine.SetRelay(relay)

	w.engine.Dispatch(context.Background(), fanout.MessageEnvelope(message("A"), []string{"A", "B"}))

	relay.AssertExpectations(t)
	assert.Empty(t, b.received(), "the relay delivers, not the dispatcher")
}

func TestDispatch_FallsBackToLocalDelivery(t *testing.T) {
	w := newWorld(t, time.Second)
	b := w.connect(t, "b1", "B")
	relay := new(MockRelay)
	relay.On("Publish", mock.Anything, mock.Anything).Return(errors.New("redis down"))
	w.engine.SetRelay(relay)

	w.engine.Dispatch(context.Background(), fanout.MessageEnvelope(message("A"), []string{"A", "B"}))

	assert.Len(t, b.received(), 1)
}

func TestAnnounce_DeliversAsynchronously(t *testing.T) {
	w := newWorld(t, time.Second)
	b := w.connect(t, "b1", "B")
	msg := message("A")
	msg.Chat = &models.ChatView{ID: "c1", Members: []models.Profile{{ID: "A"}, {ID: "B"}}}

	w.engine.Announce(context.Background(), msg)
	w.engine.Wait()

	assert.Len(t, b.received(), 1)

	w.engine.Announce(context.Background(), message("A"))
	w.engine.Wait()
	assert.Len(t, b.received(), 1, "a message without chat members is not fanned out")
}

func TestEnvelope_EncodeDecode(t *testing.T) {
	env := fanout.TypingEnvelope("c1", models.EventTypingStopped, "A", "a1")

	raw, err := fanout.Encode(env)
	require.NoError(t, err)
	got, err := fanout.Decode(raw)
	require.NoError(t, err)
	assert.Equal(t, env, got)

	_, err = fanout.Decode([]byte("{"))
	assert.Error(t, err)
}
