package client

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/dkeye/Talk/internal/domain"
	"github.com/dkeye/Talk/internal/signal"
	"github.com/pion/webrtc/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSignal struct {
	sent     []signal.Message
	incoming chan signal.Message
	closed   bool
}

func newFakeSignal() *fakeSignal {
	return &fakeSignal{incoming: make(chan signal.Message, 16)}
}

func (f *fakeSignal) Send(m signal.Message) error        { f.sent = append(f.sent, m); return nil }
func (f *fakeSignal) Incoming() <-chan signal.Message    { return f.incoming }
func (f *fakeSignal) Close()                             { f.closed = true }

func (f *fakeSignal) ofType(msgType string) []signal.Message {
	var out []signal.Message
	for _, m := range f.sent {
		if m.Type == msgType {
			out = append(out, m)
		}
	}
	return out
}

type fakeMedia struct {
	started     bool
	closed      bool
	tracks      int
	candidates  []webrtc.ICECandidateInit
	onConnected func()
	onClosed    func()
}

func (f *fakeMedia) Start(context.Context) error { f.started = true; return nil }

func (f *fakeMedia) CreateOffer() (webrtc.SessionDescription, error) {
	return webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: "v=0 offer"}, nil
}

func (f *fakeMedia) ApplyOffer(webrtc.SessionDescription) (webrtc.SessionDescription, error) {
	return webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: "v=0 answer"}, nil
}

func (f *fakeMedia) ApplyAnswer(webrtc.SessionDescription) error { return nil }

func (f *fakeMedia) AddICECandidate(c webrtc.ICECandidateInit) error {
	f.candidates = append(f.candidates, c)
	return nil
}

func (f *fakeMedia) AddTrack(webrtc.TrackLocal) error            { f.tracks++; return nil }
func (f *fakeMedia) OnICECandidate(func(webrtc.ICECandidateInit)) {}
func (f *fakeMedia) OnConnected(fn func())                        { f.onConnected = fn }
func (f *fakeMedia) OnClosed(fn func())                           { f.onClosed = fn }
func (f *fakeMedia) Close()                                       { f.closed = true }

type fakeSource struct {
	track *webrtc.TrackLocalStaticSample
	muted bool
}

func newFakeSource(t *testing.T) *fakeSource {
	t.Helper()
	track, err := webrtc.NewTrackLocalStaticSample(
		webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus}, "audio", "test")
	require.NoError(t, err)
	return &fakeSource{track: track}
}

func (f *fakeSource) Track() (webrtc.TrackLocal, error) { return f.track, nil }
func (f *fakeSource) Levels() <-chan float64            { return nil }
func (f *fakeSource) SetMuted(m bool)                   { f.muted = m }
func (f *fakeSource) Muted() bool                       { return f.muted }
func (f *fakeSource) Close()                            {}

func newTestOrchestrator(t *testing.T) (*Orchestrator, *fakeSignal, *[]*fakeMedia) {
	t.Helper()
	sig := newFakeSignal()
	self := &domain.User{ID: "me", Username: "me"}
	orch, err := NewOrchestrator("r1", self, sig, newFakeSource(t))
	require.NoError(t, err)

	conns := &[]*fakeMedia{}
	orch.NewConn = func() (MediaConn, error) {
		c := &fakeMedia{}
		*conns = append(*conns, c)
		return c, nil
	}
	return orch, sig, conns
}

func joined(id domain.UserID) signal.Message {
	return signal.Message{
		Type: signal.TypeUserJoined,
		User: &domain.User{ID: id, Username: string(id)},
	}
}

func TestJoinCreatesInitiatorLink(t *testing.T) {
	orch, sig, conns := newTestOrchestrator(t)
	ctx := context.Background()

	orch.handle(ctx, joined("bob"))

	require.Len(t, *conns, 1)
	assert.True(t, (*conns)[0].started)
	assert.Equal(t, 1, (*conns)[0].tracks, "local track attached before negotiation")
	assert.Equal(t, StateNegotiating, orch.LinkStateOf("bob"))

	offers := sig.ofType(signal.TypeOffer)
	require.Len(t, offers, 1)
	assert.Equal(t, domain.UserID("bob"), offers[0].ToUser)
}

func TestDuplicateJoinIsNoOp(t *testing.T) {
	orch, sig, conns := newTestOrchestrator(t)
	ctx := context.Background()

	orch.handle(ctx, joined("bob"))
	orch.handle(ctx, joined("bob"))

	assert.Len(t, *conns, 1, "no second competing connection")
	assert.Len(t, sig.ofType(signal.TypeOffer), 1)

	// Same once connected.
	(*conns)[0].onConnected()
	drainCmds(orch)
	require.Equal(t, StateConnected, orch.LinkStateOf("bob"))
	orch.handle(ctx, joined("bob"))
	assert.Len(t, *conns, 1)
}

func TestIncomingOfferMakesResponder(t *testing.T) {
	orch, sig, conns := newTestOrchestrator(t)

	offer, _ := json.Marshal(webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: "v=0"})
	orch.handle(context.Background(), signal.Message{
		Type: signal.TypeOffer, FromUser: "bob", Offer: offer,
	})

	require.Len(t, *conns, 1)
	assert.Equal(t, StateNegotiating, orch.LinkStateOf("bob"))

	answers := sig.ofType(signal.TypeAnswer)
	require.Len(t, answers, 1)
	assert.Equal(t, domain.UserID("bob"), answers[0].ToUser)
}

func TestOfferGlareLowerIDYieldsAndAnswers(t *testing.T) {
	orch, sig, conns := newTestOrchestrator(t)
	ctx := context.Background()

	// "me" < "zed": after both sides offer at once, this side abandons
	// its own offer and answers as responder.
	orch.handle(ctx, joined("zed"))
	require.Len(t, sig.ofType(signal.TypeOffer), 1)

	offer, _ := json.Marshal(webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: "v=0"})
	orch.handle(ctx, signal.Message{Type: signal.TypeOffer, FromUser: "zed", Offer: offer})

	require.Len(t, *conns, 2, "initiator link torn down, responder link created")
	assert.True(t, (*conns)[0].closed)

	answers := sig.ofType(signal.TypeAnswer)
	require.Len(t, answers, 1, "the yielding side must answer or nobody does")
	assert.Equal(t, domain.UserID("zed"), answers[0].ToUser)
	assert.Equal(t, StateNegotiating, orch.LinkStateOf("zed"))
}

func TestOfferGlareHigherIDKeepsOwnOffer(t *testing.T) {
	orch, sig, conns := newTestOrchestrator(t)
	ctx := context.Background()

	// "me" >= "al": this side ignores the counter-offer and waits for
	// the remote, who yields, to answer its own.
	orch.handle(ctx, joined("al"))
	offer, _ := json.Marshal(webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: "v=0"})
	orch.handle(ctx, signal.Message{Type: signal.TypeOffer, FromUser: "al", Offer: offer})

	assert.Len(t, *conns, 1, "no competing responder link")
	assert.Empty(t, sig.ofType(signal.TypeAnswer))
	assert.Equal(t, StateNegotiating, orch.LinkStateOf("al"))

	answer, _ := json.Marshal(webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: "v=0"})
	orch.handle(ctx, signal.Message{Type: signal.TypeAnswer, FromUser: "al", Answer: answer})
	(*conns)[0].onConnected()
	drainCmds(orch)
	assert.Equal(t, StateConnected, orch.LinkStateOf("al"))
}

func TestUserLeftClosesLink(t *testing.T) {
	orch, _, conns := newTestOrchestrator(t)
	ctx := context.Background()

	orch.handle(ctx, joined("bob"))
	orch.handle(ctx, signal.Message{Type: signal.TypeUserLeft, UserID: "bob"})

	assert.True(t, (*conns)[0].closed, "session resources freed")
	assert.Equal(t, StateAbsent, orch.LinkStateOf("bob"))
}

func TestDisconnectedPeerCanRejoin(t *testing.T) {
	orch, _, conns := newTestOrchestrator(t)
	ctx := context.Background()

	orch.handle(ctx, joined("bob"))
	orch.handle(ctx, signal.Message{Type: signal.TypeUserDisconnected, UserID: "bob"})
	orch.handle(ctx, joined("bob"))

	assert.Len(t, *conns, 2, "a fresh link after the old one closed")
	assert.Equal(t, StateNegotiating, orch.LinkStateOf("bob"))
}

func TestCandidateRoutedToLink(t *testing.T) {
	orch, _, conns := newTestOrchestrator(t)
	ctx := context.Background()
	orch.handle(ctx, joined("bob"))

	cand, _ := json.Marshal(webrtc.ICECandidateInit{Candidate: "candidate:1"})
	orch.handle(ctx, signal.Message{
		Type: signal.TypeICECandidate, FromUser: "bob", Candidate: cand,
	})
	// Candidates for unknown peers are dropped, not fatal.
	orch.handle(ctx, signal.Message{
		Type: signal.TypeICECandidate, FromUser: "stranger", Candidate: cand,
	})

	require.Len(t, (*conns)[0].candidates, 1)
	assert.Equal(t, "candidate:1", (*conns)[0].candidates[0].Candidate)
}

func TestMuteSendsStatusWithoutTouchingLinks(t *testing.T) {
	orch, sig, conns := newTestOrchestrator(t)
	ctx := context.Background()
	orch.handle(ctx, joined("bob"))
	(*conns)[0].onConnected()
	drainCmds(orch)

	orch.SetMuted(true)
	drainCmds(orch)

	updates := sig.ofType(signal.TypeVoiceStatusUpdate)
	require.Len(t, updates, 1)
	assert.True(t, updates[0].IsMuted)
	assert.False(t, updates[0].IsSpeaking)
	assert.Equal(t, StateConnected, orch.LinkStateOf("bob"), "mute must not renegotiate")
}

func TestNilSourceBlocksJoin(t *testing.T) {
	_, err := NewOrchestrator("r1", &domain.User{ID: "me"}, newFakeSignal(), nil)
	assert.ErrorIs(t, err, ErrNoLocalAudio)
}

// drainCmds runs queued transitions the way the Run loop would.
func drainCmds(o *Orchestrator) {
	for {
		select {
		case fn := <-o.cmds:
			fn()
		default:
			return
		}
	}
}
