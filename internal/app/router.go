// Package app holds the signal router: the single writer for presence
// and registry state of a room, fed by every connection's read loop.
package app

import (
	"errors"
	"sync"

	"github.com/dkeye/Talk/internal/core"
	"github.com/dkeye/Talk/internal/domain"
	"github.com/dkeye/Talk/internal/signal"
	"github.com/rs/zerolog/log"
)

// Router validates an inbound message, updates the presence table and
// connection registry, and forwards or broadcasts per message type.
// Every entry point takes a per-room lock, so all events of one room
// apply in a single total order; rooms never block each other.
type Router struct {
	Registry *core.ConnectionRegistry
	Presence *core.PresenceTable
	Voice    *core.VoiceAggregator
	Policy   Policy

	lockMu sync.Mutex
	locks  map[domain.RoomID]*sync.Mutex
}

func NewRouter(reg *core.ConnectionRegistry, pres *core.PresenceTable, voice *core.VoiceAggregator) *Router {
	return &Router{
		Registry: reg,
		Presence: pres,
		Voice:    voice,
		Policy:   SimplePolicy{},
		locks:    make(map[domain.RoomID]*sync.Mutex),
	}
}

// lockRoom returns the room's mutex, locked. Internal helpers assume
// the caller holds it and must not lock again.
func (r *Router) lockRoom(room domain.RoomID) *sync.Mutex {
	r.lockMu.Lock()
	mu, ok := r.locks[room]
	if !ok {
		mu = &sync.Mutex{}
		r.locks[room] = mu
	}
	r.lockMu.Unlock()
	mu.Lock()
	return mu
}

// Attach registers a freshly accepted connection and joins the user to
// the room. Register, join and the join announcement run as one critical
// section: of two users attaching at once, exactly one sees the other as
// pre-existing, so exactly one side of each pair hears a user_joined and
// initiates. A stale connection for the same (room, user) is closed and
// replaced without a leave broadcast: the user never stopped being
// present, only the transport changed.
func (r *Router) Attach(room domain.RoomID, user *domain.User, conn core.SignalConnection) {
	mu := r.lockRoom(room)
	defer mu.Unlock()

	if old := r.Registry.Register(room, user.ID, conn); old != nil {
		old.Close()
	} else {
		metricConnections.Inc()
	}
	if r.Presence.Join(room, user.ID) {
		r.broadcast(room, user.ID, signal.Message{
			Type:   signal.TypeUserJoined,
			RoomID: room,
			User:   user,
		})
	}
}

// Detach is the transport-failure teardown path. It only acts when conn
// is still the registered transport for the pair, so the read loop of an
// evicted connection cannot tear down its replacement. Reports whether
// the pair was actually removed, for callers that hold per-connection
// state of their own.
func (r *Router) Detach(room domain.RoomID, user domain.UserID, conn core.SignalConnection) bool {
	mu := r.lockRoom(room)
	defer mu.Unlock()
	return r.detach(room, user, conn)
}

func (r *Router) detach(room domain.RoomID, user domain.UserID, conn core.SignalConnection) bool {
	if !r.Registry.UnregisterConn(room, user, conn) {
		return false
	}
	metricConnections.Dec()
	r.leave(room, user, signal.TypeUserDisconnected)
	return true
}

// Route handles one inbound frame from an established connection. The
// source connection is threaded through so teardown stays conn-scoped.
// Per-message failures are returned for logging but never fatal to the
// connection.
func (r *Router) Route(room domain.RoomID, sender domain.UserID, conn core.SignalConnection, data core.Frame) error {
	mu := r.lockRoom(room)
	defer mu.Unlock()

	msg, err := signal.Decode(data)
	if err != nil {
		metricDropped.WithLabelValues("invalid").Inc()
		return err
	}
	if !r.Presence.IsMember(room, sender) {
		metricDropped.WithLabelValues("not_member").Inc()
		return core.ErrNotMember
	}
	metricMessages.WithLabelValues(msg.Type).Inc()

	switch msg.Type {
	case signal.TypeUserJoined:
		// Join is applied at attach time; a replayed join only
		// re-announces if the membership actually changed.
		if r.Presence.Join(room, sender) {
			r.broadcast(room, sender, signal.Message{
				Type:   signal.TypeUserJoined,
				RoomID: room,
				User:   msg.User,
			})
		}
		return nil

	case signal.TypeUserLeft, signal.TypeUserDisconnected:
		// Conn-scoped, like Detach: a leave frame still in flight off
		// an evicted connection must not unregister the live
		// replacement or announce a departure that never happened.
		if r.Registry.UnregisterConn(room, sender, conn) {
			metricConnections.Dec()
			r.leave(room, sender, signal.TypeUserLeft)
		}
		return nil

	case signal.TypeOffer, signal.TypeAnswer, signal.TypeICECandidate:
		return r.forward(room, sender, msg)

	case signal.TypeVoiceStatusUpdate:
		r.voiceStatus(room, sender, msg.IsSpeaking, msg.IsMuted)
		return nil

	default:
		metricDropped.WithLabelValues("unknown_type").Inc()
		log.Warn().Str("module", "app.router").Str("room", string(room)).Str("type", msg.Type).Msg("unknown signal type")
		return nil
	}
}

// VoiceSample feeds a raw volume sample, e.g. from the HTTP ingest path.
func (r *Router) VoiceSample(room domain.RoomID, user domain.UserID, volume float64) error {
	mu := r.lockRoom(room)
	defer mu.Unlock()

	if !r.Presence.IsMember(room, user) {
		return core.ErrNotMember
	}
	if r.Voice.Sample(room, user, volume) {
		r.publishSpeakers(room, user, false)
	}
	return nil
}

// VoiceStatus feeds an explicit speaking/muted report over HTTP.
func (r *Router) VoiceStatus(room domain.RoomID, user domain.UserID, speaking, muted bool) error {
	mu := r.lockRoom(room)
	defer mu.Unlock()

	if !r.Presence.IsMember(room, user) {
		return core.ErrNotMember
	}
	r.voiceStatus(room, user, speaking, muted)
	return nil
}

func (r *Router) voiceStatus(room domain.RoomID, user domain.UserID, speaking, muted bool) {
	if r.Voice.Flag(room, user, speaking, muted) {
		r.publishSpeakers(room, user, muted)
	}
}

func (r *Router) publishSpeakers(room domain.RoomID, user domain.UserID, muted bool) {
	speaking := r.Voice.Speaking(room, user)
	if !r.Presence.SetSpeaking(room, user, speaking) {
		return
	}
	snap := r.Presence.Snapshot(room)
	r.broadcast(room, user, signal.Message{
		Type:           signal.TypeVoiceStatusUpdate,
		RoomID:         room,
		UserID:         user,
		IsSpeaking:     speaking,
		IsMuted:        muted,
		ActiveSpeakers: snap.ActiveSpeakers,
	})
}

// forward relays offer/answer/candidate payloads verbatim to the target
// connection with the sender identity attached. An absent target means
// the peer already left; the message is dropped silently.
func (r *Router) forward(room domain.RoomID, sender domain.UserID, msg signal.Message) error {
	conn, ok := r.Registry.Lookup(room, msg.ToUser)
	if !ok {
		metricDropped.WithLabelValues("peer_unreachable").Inc()
		log.Debug().Err(core.ErrPeerUnreachable).Str("module", "app.router").Str("room", string(room)).Str("to", string(msg.ToUser)).Msg("forward dropped")
		return nil
	}
	msg.RoomID = room
	msg.FromUser = sender
	frame, err := msg.Encode()
	if err != nil {
		return err
	}
	if err := conn.TrySend(frame); err != nil {
		r.onSlowConsumer(room, msg.ToUser, conn, err)
	}
	return nil
}

// leave converges every teardown path: presence removal, voice cleanup
// and exactly one departure broadcast per (room, user).
func (r *Router) leave(room domain.RoomID, user domain.UserID, msgType string) {
	if !r.Presence.Leave(room, user) {
		return
	}
	r.Voice.Forget(room, user)
	r.broadcast(room, user, signal.Message{
		Type:   msgType,
		RoomID: room,
		UserID: user,
	})
}

func (r *Router) broadcast(room domain.RoomID, from domain.UserID, msg signal.Message) {
	frame, err := msg.Encode()
	if err != nil {
		log.Error().Err(err).Str("module", "app.router").Msg("broadcast encode")
		return
	}
	for _, member := range r.Registry.MembersOf(room) {
		if member == from {
			continue
		}
		conn, ok := r.Registry.Lookup(room, member)
		if !ok {
			continue
		}
		if err := conn.TrySend(frame); err != nil {
			r.onSlowConsumer(room, member, conn, err)
		}
	}
}

func (r *Router) onSlowConsumer(room domain.RoomID, user domain.UserID, conn core.SignalConnection, err error) {
	if !errors.Is(err, core.ErrBackpressure) {
		return
	}
	metricDropped.WithLabelValues("backpressure").Inc()
	if r.Policy == nil {
		return
	}
	switch r.Policy.OnBackPressure(room, user) {
	case KickMember:
		log.Warn().Str("module", "app.router").Str("room", string(room)).Str("user", string(user)).Msg("kicking slow consumer")
		conn.Close()
		// Already inside the room's critical section.
		r.detach(room, user, conn)
	case DropFrame, NoAction:
	}
}
