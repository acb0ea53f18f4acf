package app

import (
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/dkeye/Talk/internal/core"
	"github.com/dkeye/Talk/internal/domain"
	"github.com/dkeye/Talk/internal/signal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeConn struct {
	frames []core.Frame
	closed bool
	fail   error
}

func (c *fakeConn) TrySend(f core.Frame) error {
	if c.fail != nil {
		return c.fail
	}
	c.frames = append(c.frames, f)
	return nil
}

func (c *fakeConn) Close() { c.closed = true }

func (c *fakeConn) messages(t *testing.T) []signal.Message {
	t.Helper()
	out := make([]signal.Message, 0, len(c.frames))
	for _, f := range c.frames {
		var m signal.Message
		require.NoError(t, json.Unmarshal(f, &m))
		out = append(out, m)
	}
	return out
}

func (c *fakeConn) ofType(t *testing.T, msgType string) []signal.Message {
	t.Helper()
	var out []signal.Message
	for _, m := range c.messages(t) {
		if m.Type == msgType {
			out = append(out, m)
		}
	}
	return out
}

func newTestRouter() *Router {
	return NewRouter(
		core.NewConnectionRegistry(),
		core.NewPresenceTable(),
		core.NewVoiceAggregator(0.05, time.Second),
	)
}

func attach(r *Router, room domain.RoomID, id domain.UserID) *fakeConn {
	conn := &fakeConn{}
	r.Attach(room, &domain.User{ID: id, Username: string(id)}, conn)
	return conn
}

func frame(t *testing.T, m signal.Message) core.Frame {
	t.Helper()
	f, err := m.Encode()
	require.NoError(t, err)
	return f
}

func TestAttachBroadcastsJoinToOthers(t *testing.T) {
	r := newTestRouter()
	room := domain.RoomID("r1")

	a := attach(r, room, "alice")
	b := attach(r, room, "bob")

	joins := a.ofType(t, signal.TypeUserJoined)
	require.Len(t, joins, 1)
	assert.Equal(t, domain.UserID("bob"), joins[0].User.ID)
	assert.Empty(t, b.ofType(t, signal.TypeUserJoined), "joiner does not hear its own join")
}

func TestSimultaneousAttachAnnouncesOneDirection(t *testing.T) {
	r := newTestRouter()
	room := domain.RoomID("r1")

	// Two users racing into an empty room: the attach critical section
	// orders them, so only the second one's join is announced and only
	// one side will ever initiate.
	a := &fakeConn{}
	b := &fakeConn{}
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		r.Attach(room, &domain.User{ID: "alice", Username: "alice"}, a)
	}()
	go func() {
		defer wg.Done()
		r.Attach(room, &domain.User{ID: "bob", Username: "bob"}, b)
	}()
	wg.Wait()

	total := len(a.ofType(t, signal.TypeUserJoined)) + len(b.ofType(t, signal.TypeUserJoined))
	assert.Equal(t, 1, total, "exactly one of the pair hears the other join")
}

func TestOfferForwardedToTargetOnly(t *testing.T) {
	r := newTestRouter()
	room := domain.RoomID("r1")
	a := attach(r, room, "alice")
	b := attach(r, room, "bob")
	c := attach(r, domain.RoomID("r2"), "carol")

	offer := json.RawMessage(`{"type":"offer","sdp":"v=0"}`)
	err := r.Route(room, "alice", a, frame(t, signal.Message{
		Type: signal.TypeOffer, ToUser: "bob", Offer: offer,
	}))
	require.NoError(t, err)

	got := b.ofType(t, signal.TypeOffer)
	require.Len(t, got, 1, "B receives exactly one forwarded offer")
	assert.Equal(t, domain.UserID("alice"), got[0].FromUser)
	assert.JSONEq(t, string(offer), string(got[0].Offer))

	assert.Empty(t, c.ofType(t, signal.TypeOffer), "other rooms receive nothing")
}

func TestForwardToAbsentPeerDropsSilently(t *testing.T) {
	r := newTestRouter()
	room := domain.RoomID("r1")
	a := attach(r, room, "alice")

	err := r.Route(room, "alice", a, frame(t, signal.Message{
		Type: signal.TypeAnswer, ToUser: "gone", Answer: json.RawMessage(`{"sdp":"x"}`),
	}))
	assert.NoError(t, err, "peer already gone is not a fault")
}

func TestNonMemberMessageRejected(t *testing.T) {
	r := newTestRouter()
	room := domain.RoomID("r1")
	b := attach(r, room, "bob")

	err := r.Route(room, "mallory", &fakeConn{}, frame(t, signal.Message{
		Type: signal.TypeOffer, ToUser: "bob", Offer: json.RawMessage(`{"sdp":"x"}`),
	}))
	assert.ErrorIs(t, err, core.ErrNotMember)
	assert.Empty(t, b.ofType(t, signal.TypeOffer))
}

func TestUnknownTypeDroppedWithoutError(t *testing.T) {
	r := newTestRouter()
	room := domain.RoomID("r1")
	a := attach(r, room, "alice")

	err := r.Route(room, "alice", a, frame(t, signal.Message{Type: "jazz_hands"}))
	assert.NoError(t, err, "unknown types are logged and dropped, never fatal")
}

func TestTransportFailureBroadcastsExactlyOneLeave(t *testing.T) {
	r := newTestRouter()
	room := domain.RoomID("r1")
	aliceConn := attach(r, room, "alice")
	b := attach(r, room, "bob")

	// Transport failure path: no explicit leave message was received.
	assert.True(t, r.Detach(room, "alice", aliceConn))
	// A racing duplicate teardown must not notify twice.
	assert.False(t, r.Detach(room, "alice", aliceConn))

	left := b.ofType(t, signal.TypeUserDisconnected)
	require.Len(t, left, 1)
	assert.Equal(t, domain.UserID("alice"), left[0].UserID)
	assert.NotContains(t, r.Presence.Snapshot(room).Members, domain.UserID("alice"))
}

func TestExplicitLeaveThenDisconnectNotifiesOnce(t *testing.T) {
	r := newTestRouter()
	room := domain.RoomID("r1")
	aliceConn := attach(r, room, "alice")
	b := attach(r, room, "bob")

	require.NoError(t, r.Route(room, "alice", aliceConn, frame(t, signal.Message{Type: signal.TypeUserLeft})))
	// The read loop still fires Detach when the socket closes.
	r.Detach(room, "alice", aliceConn)

	total := len(b.ofType(t, signal.TypeUserLeft)) + len(b.ofType(t, signal.TypeUserDisconnected))
	assert.Equal(t, 1, total, "close-triggered and explicit leave must deduplicate")
}

func TestDuplicateRegisterEvictsWithoutLeaveBroadcast(t *testing.T) {
	r := newTestRouter()
	room := domain.RoomID("r1")
	first := attach(r, room, "alice")
	b := attach(r, room, "bob")

	second := &fakeConn{}
	r.Attach(room, &domain.User{ID: "alice", Username: "alice"}, second)

	assert.True(t, first.closed, "evicted connection must be closed")
	assert.Empty(t, b.ofType(t, signal.TypeUserLeft))
	assert.Empty(t, b.ofType(t, signal.TypeUserDisconnected))

	// The stale connection's read loop exiting must not detach the user.
	assert.False(t, r.Detach(room, "alice", first))
	assert.Contains(t, r.Presence.Snapshot(room).Members, domain.UserID("alice"))
}

func TestStaleLeaveFrameCannotDetachReplacement(t *testing.T) {
	r := newTestRouter()
	room := domain.RoomID("r1")
	first := attach(r, room, "alice")
	b := attach(r, room, "bob")

	// Reconnect evicts the first connection, but a user_left frame read
	// off it is still in flight.
	second := &fakeConn{}
	r.Attach(room, &domain.User{ID: "alice", Username: "alice"}, second)
	require.NoError(t, r.Route(room, "alice", first, frame(t, signal.Message{Type: signal.TypeUserLeft})))

	_, live := r.Registry.Lookup(room, "alice")
	assert.True(t, live, "replacement connection stays registered")
	assert.Contains(t, r.Presence.Snapshot(room).Members, domain.UserID("alice"))
	assert.Empty(t, b.ofType(t, signal.TypeUserLeft))
	assert.Empty(t, b.ofType(t, signal.TypeUserDisconnected))

	// A leave from the live connection still works.
	require.NoError(t, r.Route(room, "alice", second, frame(t, signal.Message{Type: signal.TypeUserLeft})))
	assert.NotContains(t, r.Presence.Snapshot(room).Members, domain.UserID("alice"))
	assert.Len(t, b.ofType(t, signal.TypeUserLeft), 1)
}

func TestVoiceStatusBroadcastOnlyOnTransition(t *testing.T) {
	r := newTestRouter()
	room := domain.RoomID("r1")
	a := attach(r, room, "alice")
	b := attach(r, room, "bob")

	speak := frame(t, signal.Message{Type: signal.TypeVoiceStatusUpdate, IsSpeaking: true})
	require.NoError(t, r.Route(room, "alice", a, speak))
	require.NoError(t, r.Route(room, "alice", a, speak))
	require.NoError(t, r.Route(room, "alice", a, speak))

	updates := b.ofType(t, signal.TypeVoiceStatusUpdate)
	require.Len(t, updates, 1, "per-sample chatter must be suppressed")
	assert.True(t, updates[0].IsSpeaking)
	assert.Contains(t, updates[0].ActiveSpeakers, domain.UserID("alice"))
	assert.Contains(t, r.Presence.Snapshot(room).ActiveSpeakers, domain.UserID("alice"))
}

func TestMuteClearsSpeakerAndBroadcasts(t *testing.T) {
	r := newTestRouter()
	room := domain.RoomID("r1")
	a := attach(r, room, "alice")
	b := attach(r, room, "bob")

	require.NoError(t, r.Route(room, "alice", a, frame(t, signal.Message{
		Type: signal.TypeVoiceStatusUpdate, IsSpeaking: true,
	})))
	require.NoError(t, r.Route(room, "alice", a, frame(t, signal.Message{
		Type: signal.TypeVoiceStatusUpdate, IsSpeaking: true, IsMuted: true,
	})))

	updates := b.ofType(t, signal.TypeVoiceStatusUpdate)
	require.Len(t, updates, 2)
	last := updates[1]
	assert.False(t, last.IsSpeaking)
	assert.True(t, last.IsMuted)
	assert.NotContains(t, r.Presence.Snapshot(room).ActiveSpeakers, domain.UserID("alice"))
}

func TestSlowConsumerIsKicked(t *testing.T) {
	r := newTestRouter()
	room := domain.RoomID("r1")
	attach(r, room, "alice")

	slow := &fakeConn{fail: core.ErrBackpressure}
	r.Attach(room, &domain.User{ID: "bob", Username: "bob"}, slow)

	// Any broadcast toward the stalled connection triggers the policy.
	attach(r, room, "carol")

	assert.True(t, slow.closed)
	assert.NotContains(t, r.Presence.Snapshot(room).Members, domain.UserID("bob"))
}
