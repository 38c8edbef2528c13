package sfu

import (
	"testing"

	"github.com/pion/webrtc/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dkeye/huddle/internal/domain"
)

func TestFmtpRoundTrip(t *testing.T) {
	params := parseFmtp("profile-level-id=42e01f;packetization-mode=1;level-asymmetry-allowed=1")
	assert.Equal(t, map[string]any{
		"profile-level-id":        "42e01f",
		"packetization-mode":      1,
		"level-asymmetry-allowed": 1,
	}, params)
	assert.Equal(t, "level-asymmetry-allowed=1;packetization-mode=1;profile-level-id=42e01f", fmtpLine(params))

	// Numbers decoded from JSON arrive as float64.
	assert.Equal(t, "minptime=10;useinbandfec=1", fmtpLine(map[string]any{"useinbandfec": float64(1), "minptime": float64(10)}))
	assert.Nil(t, parseFmtp(""))
	assert.Empty(t, fmtpLine(nil))
}

func TestCapabilitiesFromDefaultCodecs(t *testing.T) {
	caps := capabilities(DefaultCodecs())
	require.Len(t, caps.Codecs, 4)

	opus := caps.Codecs[0]
	assert.Equal(t, domain.KindAudio, opus.Kind)
	assert.Equal(t, uint8(111), opus.PreferredPayloadType)
	assert.Equal(t, uint16(2), opus.Channels)
	assert.Equal(t, 1, opus.Parameters["useinbandfec"])

	assert.True(t, caps.Supports(domain.RTPCodecParameters{MimeType: "video/vp8", ClockRate: 90000}))
	assert.False(t, caps.Supports(domain.RTPCodecParameters{MimeType: "video/AV1", ClockRate: 90000}))
}

func TestRegisterCodecs(t *testing.T) {
	me := &webrtc.MediaEngine{}
	require.NoError(t, registerCodecs(me, DefaultCodecs()))
}

func TestCapabilityOf(t *testing.T) {
	c := capabilityOf(domain.RTPCodecParameters{
		MimeType:     webrtc.MimeTypeOpus,
		PayloadType:  100,
		ClockRate:    48000,
		Channels:     2,
		Parameters:   map[string]any{"useinbandfec": float64(1)},
		RTCPFeedback: []domain.RTCPFeedback{{Type: "transport-cc"}},
	})
	assert.Equal(t, "useinbandfec=1", c.SDPFmtpLine)
	assert.Equal(t, []webrtc.RTCPFeedback{{Type: "transport-cc"}}, c.RTCPFeedback)
	assert.Equal(t, uint32(48000), c.ClockRate)
}

func TestCandidatesIn(t *testing.T) {
	cands, err := candidatesIn([]domain.ICECandidate{{
		Foundation: "1", Priority: 100, IP: "10.0.0.1", Protocol: "udp", Port: 4000, Type: "host",
	}})
	require.NoError(t, err)
	require.Len(t, cands, 1)
	assert.Equal(t, webrtc.ICEProtocolUDP, cands[0].Protocol)
	assert.Equal(t, webrtc.ICECandidateTypeHost, cands[0].Typ)
	assert.Equal(t, "10.0.0.1", candidatesOut(cands)[0].IP)

	_, err = candidatesIn([]domain.ICECandidate{{Protocol: "sctp", Type: "host"}})
	require.ErrorIs(t, err, domain.ErrInvalidArgument)
	_, err = candidatesIn([]domain.ICECandidate{{Protocol: "udp", Type: "bogus"}})
	require.ErrorIs(t, err, domain.ErrInvalidArgument)
}

func TestDTLSParams(t *testing.T) {
	_, err := dtlsParamsIn(domain.DTLSParameters{Role: "client"})
	require.ErrorIs(t, err, domain.ErrInvalidArgument)

	p, err := dtlsParamsIn(domain.DTLSParameters{
		Role:         "client",
		Fingerprints: []domain.DTLSFingerprint{{Algorithm: "sha-256", Value: "AB:CD"}},
	})
	require.NoError(t, err)
	assert.Equal(t, webrtc.DTLSRoleClient, p.Role)

	out := dtlsParamsOut(p)
	assert.Equal(t, "client", out.Role)
	assert.Equal(t, "auto", dtlsRoleOut(webrtc.DTLSRoleAuto))
	assert.Equal(t, webrtc.DTLSRoleServer, dtlsRoleIn("SERVER"))
}
