package signal

import (
	"testing"

	"github.com/dkeye/Talk/internal/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeRejectsMalformedJSON(t *testing.T) {
	_, err := Decode([]byte(`{"type":`))
	assert.ErrorIs(t, err, core.ErrInvalidMessage)
}

func TestDecodeRejectsMissingType(t *testing.T) {
	_, err := Decode([]byte(`{"room_id":"r1"}`))
	assert.ErrorIs(t, err, core.ErrInvalidMessage)
}

func TestDecodeRequiresTargetForPointToPoint(t *testing.T) {
	cases := []string{
		`{"type":"webrtc_offer","offer":{"sdp":"x"}}`,
		`{"type":"webrtc_answer","to_user":"bob"}`,
		`{"type":"ice_candidate","candidate":{"candidate":"x"}}`,
	}
	for _, raw := range cases {
		_, err := Decode([]byte(raw))
		assert.ErrorIs(t, err, core.ErrInvalidMessage, raw)
	}
}

func TestDecodePassesUnknownTypesThrough(t *testing.T) {
	m, err := Decode([]byte(`{"type":"something_new"}`))
	require.NoError(t, err, "the router decides what to do with unknown types")
	assert.Equal(t, "something_new", m.Type)
}

func TestOfferPayloadRelayedOpaque(t *testing.T) {
	raw := `{"type":"webrtc_offer","to_user":"bob","offer":{"sdp":"v=0","weird_field":1}}`
	m, err := Decode([]byte(raw))
	require.NoError(t, err)
	// The blob is not interpreted, only carried.
	assert.JSONEq(t, `{"sdp":"v=0","weird_field":1}`, string(m.Offer))
}
