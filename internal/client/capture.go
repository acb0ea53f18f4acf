package client

import (
	"errors"
	"sync"

	"github.com/pion/webrtc/v4"
	"github.com/pion/webrtc/v4/pkg/media"
)

// ErrNoLocalAudio blocks a join with no usable capture: a client that
// cannot send audio must not silently enter a room. Callers present a
// retry path.
var ErrNoLocalAudio = errors.New("no local audio capture")

// MediaSource is the local capture the orchestrator attaches to every
// peer link. Levels emits volume samples for the voice detector; a nil
// channel means the source does its own speaking detection elsewhere.
type MediaSource interface {
	Track() (webrtc.TrackLocal, error)
	Levels() <-chan float64
	SetMuted(bool)
	Muted() bool
	Close()
}

// SilentSource is a capture stand-in for headless clients: a real Opus
// track that never produces samples. Useful for listen-only sessions and
// tests.
type SilentSource struct {
	track *webrtc.TrackLocalStaticSample

	mu    sync.Mutex
	muted bool
}

func NewSilentSource() (*SilentSource, error) {
	track, err := webrtc.NewTrackLocalStaticSample(
		webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus},
		"audio", "talk-local",
	)
	if err != nil {
		return nil, err
	}
	return &SilentSource{track: track}, nil
}

func (s *SilentSource) Track() (webrtc.TrackLocal, error) { return s.track, nil }

func (s *SilentSource) Levels() <-chan float64 { return nil }

func (s *SilentSource) SetMuted(muted bool) {
	s.mu.Lock()
	s.muted = muted
	s.mu.Unlock()
}

func (s *SilentSource) Muted() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.muted
}

func (s *SilentSource) Close() {}

// WriteSample lets a feeder push audio into the track, e.g. a file
// player in integration setups.
func (s *SilentSource) WriteSample(sample media.Sample) error {
	s.mu.Lock()
	muted := s.muted
	s.mu.Unlock()
	if muted {
		return nil
	}
	return s.track.WriteSample(sample)
}
