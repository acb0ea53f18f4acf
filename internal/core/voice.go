package core

import (
	"sync"
	"time"

	"github.com/dkeye/Talk/internal/domain"
)

const (
	DefaultVolumeThreshold = 0.05
	DefaultHangover        = time.Second
)

type voiceKey struct {
	Room domain.RoomID
	User domain.UserID
}

type voiceState struct {
	speaking        bool
	silenceDeadline time.Time
}

// VoiceAggregator debounces a raw stream of volume samples (or explicit
// speaking flags) into stable speaking transitions. A sample above the
// threshold reports speaking on the rising edge with zero delay; after
// volume drops, speaking persists until the hangover deadline passes
// without a renewing sample. Muting forces silence immediately.
//
// Samples typically arrive many times per second; transitions are rare.
// Callers broadcast only when Sample/Flag returns true.
type VoiceAggregator struct {
	mu        sync.Mutex
	states    map[voiceKey]*voiceState
	threshold float64
	hangover  time.Duration
	now       func() time.Time
}

func NewVoiceAggregator(threshold float64, hangover time.Duration) *VoiceAggregator {
	if threshold <= 0 {
		threshold = DefaultVolumeThreshold
	}
	if hangover <= 0 {
		hangover = DefaultHangover
	}
	return &VoiceAggregator{
		states:    make(map[voiceKey]*voiceState),
		threshold: threshold,
		hangover:  hangover,
		now:       time.Now,
	}
}

// SetClock overrides the time source. Test hook.
func (a *VoiceAggregator) SetClock(now func() time.Time) { a.now = now }

// Sample ingests a raw volume sample and reports whether the visible
// speaking state changed.
func (a *VoiceAggregator) Sample(room domain.RoomID, user domain.UserID, volume float64) bool {
	return a.ingest(room, user, volume > a.threshold, false)
}

// Flag ingests an explicit speaking/muted report, e.g. from a
// voice_status_update message.
func (a *VoiceAggregator) Flag(room domain.RoomID, user domain.UserID, speaking, muted bool) bool {
	return a.ingest(room, user, speaking, muted)
}

func (a *VoiceAggregator) ingest(room domain.RoomID, user domain.UserID, active, muted bool) bool {
	key := voiceKey{Room: room, User: user}
	a.mu.Lock()
	defer a.mu.Unlock()

	st, ok := a.states[key]
	if !ok {
		st = &voiceState{}
		a.states[key] = st
	}

	if muted {
		changed := st.speaking
		st.speaking = false
		st.silenceDeadline = time.Time{}
		return changed
	}

	now := a.now()
	if active {
		st.silenceDeadline = now.Add(a.hangover)
		if !st.speaking {
			st.speaking = true
			return true
		}
		return false
	}

	// Below threshold: hold the speaking state through the hangover
	// window, flip only once the deadline elapsed with no renewal.
	if st.speaking && now.After(st.silenceDeadline) {
		st.speaking = false
		return true
	}
	return false
}

// Speaking reports the current debounced state.
func (a *VoiceAggregator) Speaking(room domain.RoomID, user domain.UserID) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	st, ok := a.states[voiceKey{Room: room, User: user}]
	return ok && st.speaking
}

// Forget drops the per-user state when the user leaves the room.
func (a *VoiceAggregator) Forget(room domain.RoomID, user domain.UserID) {
	a.mu.Lock()
	defer a.mu.Unlock()
	delete(a.states, voiceKey{Room: room, User: user})
}
