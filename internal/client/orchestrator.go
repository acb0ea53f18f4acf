package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/dkeye/Talk/internal/core"
	"github.com/dkeye/Talk/internal/domain"
	"github.com/dkeye/Talk/internal/signal"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"
)

type LinkState int

const (
	StateAbsent LinkState = iota
	StateNegotiating
	StateConnected
	StateClosed
)

func (s LinkState) String() string {
	switch s {
	case StateNegotiating:
		return "negotiating"
	case StateConnected:
		return "connected"
	case StateClosed:
		return "closed"
	default:
		return "absent"
	}
}

// PeerLink is one negotiated media session per remote participant.
type PeerLink struct {
	Remote domain.UserID
	State  LinkState
	Conn   MediaConn

	// initiated marks links whose offer we sent; needed to detect
	// offer glare.
	initiated bool
}

// ErrSignalingClosed reports that the server dropped the signaling
// connection; the session is over.
var ErrSignalingClosed = errors.New("signaling connection closed")

// Orchestrator drives all peer links of one room session. Every state
// transition runs on the Run goroutine: transport callbacks are
// marshalled onto it through the cmds channel, so link handling never
// reenters itself.
type Orchestrator struct {
	room   domain.RoomID
	self   *domain.User
	sig    SignalClient
	source MediaSource

	// NewConn is the peer-connection factory, replaceable in tests.
	NewConn func() (MediaConn, error)

	// OnVoiceStatus, when set, observes rebroadcast speaker updates.
	OnVoiceStatus func(signal.Message)

	detector *core.VoiceAggregator
	links    map[domain.UserID]*PeerLink
	cmds     chan func()
	muted    bool
}

// NewOrchestrator wires a session for one room. A nil or unusable media
// source fails with ErrNoLocalAudio: joining without signaling-capable
// audio is not allowed, the caller should retry after fixing capture.
func NewOrchestrator(room domain.RoomID, self *domain.User, sig SignalClient, source MediaSource) (*Orchestrator, error) {
	if source == nil {
		return nil, ErrNoLocalAudio
	}
	if _, err := source.Track(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNoLocalAudio, err)
	}
	return &Orchestrator{
		room:   room,
		self:   self,
		sig:    sig,
		source: source,
		NewConn: func() (MediaConn, error) {
			return NewPionConn(DefaultWebRTCConfig())
		},
		detector: core.NewVoiceAggregator(core.DefaultVolumeThreshold, core.DefaultHangover),
		links:    make(map[domain.UserID]*PeerLink),
		cmds:     make(chan func(), 32),
	}, nil
}

// Run processes signaling events and local volume samples until the
// context ends or the server drops the connection.
func (o *Orchestrator) Run(ctx context.Context) error {
	defer o.teardown()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-o.sig.Incoming():
			if !ok {
				return ErrSignalingClosed
			}
			o.handle(ctx, msg)
		case fn := <-o.cmds:
			fn()
		case level := <-o.source.Levels():
			o.onLevel(level)
		}
	}
}

// do runs fn on the Run goroutine.
func (o *Orchestrator) do(fn func()) {
	select {
	case o.cmds <- fn:
	default:
		// Command queue full means the loop is gone or wedged; the
		// teardown path will reconcile state.
		log.Warn().Str("module", "client.orch").Msg("command queue full, dropping transition")
	}
}

func (o *Orchestrator) handle(ctx context.Context, msg signal.Message) {
	switch msg.Type {
	case signal.TypeUserJoined:
		if msg.User == nil || msg.User.ID == o.self.ID {
			return
		}
		o.ensureInitiator(ctx, msg.User.ID)

	case signal.TypeOffer:
		o.onOffer(ctx, msg)

	case signal.TypeAnswer:
		o.onAnswer(msg)

	case signal.TypeICECandidate:
		o.onCandidate(msg)

	case signal.TypeUserLeft, signal.TypeUserDisconnected:
		o.closeLink(msg.UserID)

	case signal.TypeVoiceStatusUpdate:
		if o.OnVoiceStatus != nil {
			o.OnVoiceStatus(msg)
		}

	default:
		log.Warn().Str("module", "client.orch").Str("type", msg.Type).Msg("unknown signal type")
	}
}

// ensureInitiator starts negotiation toward a newly joined peer. A link
// already negotiating or connected makes this a no-op, so replayed join
// notifications cannot spawn a second competing connection.
func (o *Orchestrator) ensureInitiator(ctx context.Context, remote domain.UserID) {
	if l, ok := o.links[remote]; ok && l.State != StateClosed {
		log.Debug().Str("module", "client.orch").Str("remote", string(remote)).Str("state", l.State.String()).Msg("duplicate join ignored")
		return
	}
	link, err := o.createLink(ctx, remote, true)
	if err != nil {
		log.Error().Err(err).Str("module", "client.orch").Str("remote", string(remote)).Msg("create initiator link")
		return
	}
	offer, err := link.Conn.CreateOffer()
	if err != nil {
		log.Error().Err(err).Str("module", "client.orch").Str("remote", string(remote)).Msg("create offer")
		o.closeLink(remote)
		return
	}
	o.sendDescription(signal.TypeOffer, remote, offer)
}

func (o *Orchestrator) onOffer(ctx context.Context, msg signal.Message) {
	remote := msg.FromUser
	if l, ok := o.links[remote]; ok && l.State != StateClosed {
		if !l.initiated || l.State != StateNegotiating {
			log.Debug().Str("module", "client.orch").Str("remote", string(remote)).Msg("duplicate offer ignored")
			return
		}
		// Offer glare: both sides offered at once. Deterministic
		// tie-break so exactly one negotiation survives: the lower
		// user id abandons its own offer and answers, the higher one
		// keeps its offer and waits for that answer.
		if o.self.ID >= remote {
			log.Debug().Str("module", "client.orch").Str("remote", string(remote)).Msg("offer glare, keeping own offer")
			return
		}
		log.Debug().Str("module", "client.orch").Str("remote", string(remote)).Msg("offer glare, yielding to remote offer")
		o.closeLink(remote)
	}
	var offer webrtc.SessionDescription
	if err := json.Unmarshal(msg.Offer, &offer); err != nil {
		log.Warn().Err(err).Str("module", "client.orch").Msg("bad offer blob")
		return
	}
	link, err := o.createLink(ctx, remote, false)
	if err != nil {
		log.Error().Err(err).Str("module", "client.orch").Str("remote", string(remote)).Msg("create responder link")
		return
	}
	answer, err := link.Conn.ApplyOffer(offer)
	if err != nil {
		log.Error().Err(err).Str("module", "client.orch").Str("remote", string(remote)).Msg("apply offer")
		o.closeLink(remote)
		return
	}
	o.sendDescription(signal.TypeAnswer, remote, answer)
}

func (o *Orchestrator) onAnswer(msg signal.Message) {
	link, ok := o.links[msg.FromUser]
	if !ok || link.State != StateNegotiating {
		return
	}
	var answer webrtc.SessionDescription
	if err := json.Unmarshal(msg.Answer, &answer); err != nil {
		log.Warn().Err(err).Str("module", "client.orch").Msg("bad answer blob")
		return
	}
	if err := link.Conn.ApplyAnswer(answer); err != nil {
		log.Error().Err(err).Str("module", "client.orch").Str("remote", string(msg.FromUser)).Msg("apply answer")
		o.closeLink(msg.FromUser)
	}
}

func (o *Orchestrator) onCandidate(msg signal.Message) {
	link, ok := o.links[msg.FromUser]
	if !ok || link.State == StateClosed {
		return
	}
	var cand webrtc.ICECandidateInit
	if err := json.Unmarshal(msg.Candidate, &cand); err != nil {
		log.Warn().Err(err).Str("module", "client.orch").Msg("bad candidate blob")
		return
	}
	if err := link.Conn.AddICECandidate(cand); err != nil {
		log.Error().Err(err).Str("module", "client.orch").Str("remote", string(msg.FromUser)).Msg("add candidate")
	}
}

func (o *Orchestrator) createLink(ctx context.Context, remote domain.UserID, initiated bool) (*PeerLink, error) {
	conn, err := o.NewConn()
	if err != nil {
		return nil, err
	}
	track, err := o.source.Track()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("%w: %v", ErrNoLocalAudio, err)
	}
	if err := conn.AddTrack(track); err != nil {
		conn.Close()
		return nil, err
	}

	link := &PeerLink{Remote: remote, State: StateNegotiating, Conn: conn, initiated: initiated}

	conn.OnICECandidate(func(ci webrtc.ICECandidateInit) {
		o.sendCandidate(remote, ci)
	})
	conn.OnConnected(func() {
		o.do(func() {
			if cur, ok := o.links[remote]; ok && cur == link && link.State == StateNegotiating {
				link.State = StateConnected
				log.Info().Str("module", "client.orch").Str("remote", string(remote)).Msg("peer connected")
			}
		})
	})
	conn.OnClosed(func() {
		o.do(func() {
			if cur, ok := o.links[remote]; ok && cur == link {
				o.closeLink(remote)
			}
		})
	})

	if err := conn.Start(ctx); err != nil {
		conn.Close()
		return nil, err
	}
	o.links[remote] = link
	return link, nil
}

func (o *Orchestrator) closeLink(remote domain.UserID) {
	link, ok := o.links[remote]
	if !ok {
		return
	}
	link.State = StateClosed
	link.Conn.Close()
	delete(o.links, remote)
	log.Info().Str("module", "client.orch").Str("remote", string(remote)).Msg("peer link closed")
}

func (o *Orchestrator) sendDescription(msgType string, to domain.UserID, desc webrtc.SessionDescription) {
	blob, err := json.Marshal(desc)
	if err != nil {
		log.Error().Err(err).Str("module", "client.orch").Msg("marshal description")
		return
	}
	msg := signal.Message{Type: msgType, RoomID: o.room, ToUser: to}
	if msgType == signal.TypeOffer {
		msg.Offer = blob
	} else {
		msg.Answer = blob
	}
	_ = o.sig.Send(msg)
}

func (o *Orchestrator) sendCandidate(to domain.UserID, ci webrtc.ICECandidateInit) {
	blob, err := json.Marshal(ci)
	if err != nil {
		return
	}
	_ = o.sig.Send(signal.Message{
		Type:      signal.TypeICECandidate,
		RoomID:    o.room,
		ToUser:    to,
		Candidate: blob,
	})
}

// SetMuted toggles outbound audio. Peer links keep their state; only the
// source stops sending and a voice status update goes out.
func (o *Orchestrator) SetMuted(muted bool) {
	o.do(func() {
		o.muted = muted
		o.source.SetMuted(muted)
		o.detector.Flag(o.room, o.self.ID, false, muted)
		_ = o.sig.Send(signal.Message{
			Type:       signal.TypeVoiceStatusUpdate,
			RoomID:     o.room,
			UserID:     o.self.ID,
			IsSpeaking: false,
			IsMuted:    muted,
		})
	})
}

// Leave announces the departure and shuts the session down.
func (o *Orchestrator) Leave() {
	o.do(func() {
		_ = o.sig.Send(signal.Message{
			Type:   signal.TypeUserLeft,
			RoomID: o.room,
			UserID: o.self.ID,
		})
		o.sig.Close()
	})
}

func (o *Orchestrator) onLevel(level float64) {
	if o.muted {
		return
	}
	if o.detector.Sample(o.room, o.self.ID, level) {
		_ = o.sig.Send(signal.Message{
			Type:       signal.TypeVoiceStatusUpdate,
			RoomID:     o.room,
			UserID:     o.self.ID,
			IsSpeaking: o.detector.Speaking(o.room, o.self.ID),
			IsMuted:    false,
		})
	}
}

// LinkStateOf reports the state machine position for a remote user.
func (o *Orchestrator) LinkStateOf(remote domain.UserID) LinkState {
	if l, ok := o.links[remote]; ok {
		return l.State
	}
	return StateAbsent
}

func (o *Orchestrator) teardown() {
	for remote := range o.links {
		o.closeLink(remote)
	}
	o.source.Close()
	o.sig.Close()
}
