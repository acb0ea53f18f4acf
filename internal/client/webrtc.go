package client

import (
	"context"
	"sync"

	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"
)

// MediaConn abstracts one peer connection so the orchestrator can be
// tested without ICE or a network.
type MediaConn interface {
	Start(ctx context.Context) error
	CreateOffer() (webrtc.SessionDescription, error)
	ApplyOffer(webrtc.SessionDescription) (webrtc.SessionDescription, error)
	ApplyAnswer(webrtc.SessionDescription) error
	AddICECandidate(webrtc.ICECandidateInit) error
	AddTrack(webrtc.TrackLocal) error
	OnICECandidate(func(webrtc.ICECandidateInit))
	OnConnected(func())
	OnClosed(func())
	Close()
}

func DefaultWebRTCConfig() webrtc.Configuration {
	return webrtc.Configuration{
		ICEServers: []webrtc.ICEServer{
			{URLs: []string{"stun:stun.l.google.com:19302"}},
		},
	}
}

// PionConn implements MediaConn on pion/webrtc. Remote candidates that
// arrive before the remote description are buffered and flushed after
// it is applied, since the two can interleave arbitrarily on the wire.
type PionConn struct {
	pc     *webrtc.PeerConnection
	cancel context.CancelFunc

	onICE       func(webrtc.ICECandidateInit)
	onConnected func()
	onClosed    func()

	mu        sync.Mutex
	remoteSet bool
	pending   []webrtc.ICECandidateInit
}

func NewPionConn(cfg webrtc.Configuration) (*PionConn, error) {
	pc, err := webrtc.NewPeerConnection(cfg)
	if err != nil {
		return nil, err
	}
	return &PionConn{pc: pc}, nil
}

func (c *PionConn) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	c.cancel = cancel

	c.pc.OnICECandidate(func(cand *webrtc.ICECandidate) {
		if cand != nil && c.onICE != nil {
			c.onICE(cand.ToJSON())
		}
	})

	c.pc.OnConnectionStateChange(func(s webrtc.PeerConnectionState) {
		log.Info().Str("module", "client.webrtc").Str("peer_state", s.String()).Msg("peer state")
		switch s {
		case webrtc.PeerConnectionStateConnected:
			if c.onConnected != nil {
				c.onConnected()
			}
		case webrtc.PeerConnectionStateFailed, webrtc.PeerConnectionStateClosed:
			cancel()
			if c.onClosed != nil {
				c.onClosed()
			}
		}
	})

	return nil
}

func (c *PionConn) CreateOffer() (webrtc.SessionDescription, error) {
	offer, err := c.pc.CreateOffer(nil)
	if err != nil {
		return webrtc.SessionDescription{}, err
	}
	gatherComplete := webrtc.GatheringCompletePromise(c.pc)
	if err := c.pc.SetLocalDescription(offer); err != nil {
		return webrtc.SessionDescription{}, err
	}
	<-gatherComplete
	return *c.pc.LocalDescription(), nil
}

func (c *PionConn) ApplyOffer(offer webrtc.SessionDescription) (webrtc.SessionDescription, error) {
	if err := c.setRemote(offer); err != nil {
		return webrtc.SessionDescription{}, err
	}
	answer, err := c.pc.CreateAnswer(nil)
	if err != nil {
		return webrtc.SessionDescription{}, err
	}
	gatherComplete := webrtc.GatheringCompletePromise(c.pc)
	if err := c.pc.SetLocalDescription(answer); err != nil {
		return webrtc.SessionDescription{}, err
	}
	<-gatherComplete
	return *c.pc.LocalDescription(), nil
}

func (c *PionConn) ApplyAnswer(answer webrtc.SessionDescription) error {
	return c.setRemote(answer)
}

func (c *PionConn) setRemote(desc webrtc.SessionDescription) error {
	if err := c.pc.SetRemoteDescription(desc); err != nil {
		return err
	}
	c.mu.Lock()
	c.remoteSet = true
	pending := c.pending
	c.pending = nil
	c.mu.Unlock()
	for _, cand := range pending {
		if err := c.pc.AddICECandidate(cand); err != nil {
			log.Error().Err(err).Str("module", "client.webrtc").Msg("flush pending candidate")
		}
	}
	return nil
}

func (c *PionConn) AddICECandidate(cand webrtc.ICECandidateInit) error {
	c.mu.Lock()
	if !c.remoteSet {
		c.pending = append(c.pending, cand)
		c.mu.Unlock()
		return nil
	}
	c.mu.Unlock()
	return c.pc.AddICECandidate(cand)
}

func (c *PionConn) AddTrack(track webrtc.TrackLocal) error {
	_, err := c.pc.AddTrack(track)
	return err
}

func (c *PionConn) OnICECandidate(fn func(webrtc.ICECandidateInit)) { c.onICE = fn }
func (c *PionConn) OnConnected(fn func())                          { c.onConnected = fn }
func (c *PionConn) OnClosed(fn func())                             { c.onClosed = fn }

func (c *PionConn) Close() {
	if c.cancel != nil {
		c.cancel()
	}
	if err := c.pc.Close(); err != nil {
		log.Error().Err(err).Str("module", "client.webrtc").Msg("close error")
	}
}
