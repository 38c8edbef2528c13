package sfu

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/dkeye/huddle/internal/domain"
	"github.com/pion/webrtc/v4"
)

// Codec is one entry of a router's media codec list.
type Codec struct {
	Kind        domain.MediaKind
	MimeType    string
	PayloadType uint8
	ClockRate   uint32
	Channels    uint16
	Fmtp        string
	Feedback    []webrtc.RTCPFeedback
}

var videoFeedback = []webrtc.RTCPFeedback{
	{Type: "goog-remb"},
	{Type: "ccm", Parameter: "fir"},
	{Type: "nack"},
	{Type: "nack", Parameter: "pli"},
	{Type: "transport-cc"},
}

// DefaultCodecs is opus for audio and VP8, VP9, H264 for video.
func DefaultCodecs() []Codec {
	return []Codec{
		{Kind: domain.KindAudio, MimeType: webrtc.MimeTypeOpus, PayloadType: 111, ClockRate: 48000, Channels: 2,
			Fmtp: "minptime=10;useinbandfec=1", Feedback: []webrtc.RTCPFeedback{{Type: "transport-cc"}}},
		{Kind: domain.KindVideo, MimeType: webrtc.MimeTypeVP8, PayloadType: 96, ClockRate: 90000,
			Fmtp: "x-google-start-bitrate=1000", Feedback: videoFeedback},
		{Kind: domain.KindVideo, MimeType: webrtc.MimeTypeVP9, PayloadType: 98, ClockRate: 90000,
			Fmtp: "profile-id=0;x-google-start-bitrate=1000", Feedback: videoFeedback},
		{Kind: domain.KindVideo, MimeType: webrtc.MimeTypeH264, PayloadType: 102, ClockRate: 90000,
			Fmtp: "level-asymmetry-allowed=1;packetization-mode=1;profile-level-id=42e01f", Feedback: videoFeedback},
	}
}

func codecType(kind domain.MediaKind) webrtc.RTPCodecType {
	if kind == domain.KindAudio {
		return webrtc.RTPCodecTypeAudio
	}
	return webrtc.RTPCodecTypeVideo
}

func (c Codec) parameters() webrtc.RTPCodecParameters {
	return webrtc.RTPCodecParameters{
		RTPCodecCapability: webrtc.RTPCodecCapability{
			MimeType:     c.MimeType,
			ClockRate:    c.ClockRate,
			Channels:     c.Channels,
			SDPFmtpLine:  c.Fmtp,
			RTCPFeedback: c.Feedback,
		},
		PayloadType: webrtc.PayloadType(c.PayloadType),
	}
}

// registerCodecs fills a fresh media engine with codecs.
func registerCodecs(m *webrtc.MediaEngine, codecs []Codec) error {
	for _, c := range codecs {
		if err := m.RegisterCodec(c.parameters(), codecType(c.Kind)); err != nil {
			return fmt.Errorf("register %s: %w", c.MimeType, err)
		}
	}
	return nil
}

// capabilities is the client-facing view of codecs.
func capabilities(codecs []Codec) domain.RTPCapabilities {
	out := domain.RTPCapabilities{Codecs: make([]domain.RTPCodecCapability, 0, len(codecs))}
	for _, c := range codecs {
		out.Codecs = append(out.Codecs, domain.RTPCodecCapability{
			Kind:                 c.Kind,
			MimeType:             c.MimeType,
			PreferredPayloadType: c.PayloadType,
			ClockRate:            c.ClockRate,
			Channels:             c.Channels,
			Parameters:           parseFmtp(c.Fmtp),
			RTCPFeedback:         feedbackOut(c.Feedback),
		})
	}
	return out
}

func feedbackOut(in []webrtc.RTCPFeedback) []domain.RTCPFeedback {
	if len(in) == 0 {
		return nil
	}
	out := make([]domain.RTCPFeedback, 0, len(in))
	for _, f := range in {
		out = append(out, domain.RTCPFeedback{Type: f.Type, Parameter: f.Parameter})
	}
	return out
}

func feedbackIn(in []domain.RTCPFeedback) []webrtc.RTCPFeedback {
	if len(in) == 0 {
		return nil
	}
	out := make([]webrtc.RTCPFeedback, 0, len(in))
	for _, f := range in {
		out = append(out, webrtc.RTCPFeedback{Type: f.Type, Parameter: f.Parameter})
	}
	return out
}

// capabilityOf turns a client's codec description into a pion capability.
func capabilityOf(c domain.RTPCodecParameters) webrtc.RTPCodecCapability {
	return webrtc.RTPCodecCapability{
		MimeType:     c.MimeType,
		ClockRate:    c.ClockRate,
		Channels:     c.Channels,
		SDPFmtpLine:  fmtpLine(c.Parameters),
		RTCPFeedback: feedbackIn(c.RTCPFeedback),
	}
}

// parseFmtp splits "a=1;b=x" into a map, keeping integers as numbers.
func parseFmtp(line string) map[string]any {
	if line == "" {
		return nil
	}
	out := make(map[string]any)
	for _, part := range strings.Split(line, ";") {
		k, v, ok := strings.Cut(strings.TrimSpace(part), "=")
		if !ok || k == "" {
			continue
		}
		if n, err := strconv.Atoi(v); err == nil {
			out[k] = n
			continue
		}
		out[k] = v
	}
	return out
}

// fmtpLine is the inverse of parseFmtp with keys sorted.
func fmtpLine(params map[string]any) string {
	if len(params) == 0 {
		return ""
	}
	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		v := params[k]
		if f, ok := v.(float64); ok && f == float64(int64(f)) {
			v = int64(f)
		}
		parts = append(parts, fmt.Sprintf("%s=%v", k, v))
	}
	return strings.Join(parts, ";")
}

func iceParamsOut(p webrtc.ICEParameters) domain.ICEParameters {
	return domain.ICEParameters{UsernameFragment: p.UsernameFragment, Password: p.Password, ICELite: p.ICELite}
}

func iceParamsIn(p domain.ICEParameters) webrtc.ICEParameters {
	return webrtc.ICEParameters{UsernameFragment: p.UsernameFragment, Password: p.Password, ICELite: p.ICELite}
}

func candidatesOut(in []webrtc.ICECandidate) []domain.ICECandidate {
	out := make([]domain.ICECandidate, 0, len(in))
	for _, c := range in {
		out = append(out, domain.ICECandidate{
			Foundation: c.Foundation,
			Priority:   c.Priority,
			IP:         c.Address,
			Protocol:   c.Protocol.String(),
			Port:       c.Port,
			Type:       c.Typ.String(),
			TCPType:    c.TCPType,
		})
	}
	return out
}

func candidatesIn(in []domain.ICECandidate) ([]webrtc.ICECandidate, error) {
	out := make([]webrtc.ICECandidate, 0, len(in))
	for _, c := range in {
		proto, err := webrtc.NewICEProtocol(c.Protocol)
		if err != nil {
			return nil, fmt.Errorf("%w: candidate protocol %q", domain.ErrInvalidArgument, c.Protocol)
		}
		typ, err := webrtc.NewICECandidateType(c.Type)
		if err != nil {
			return nil, fmt.Errorf("%w: candidate type %q", domain.ErrInvalidArgument, c.Type)
		}
		out = append(out, webrtc.ICECandidate{
			Foundation: c.Foundation,
			Priority:   c.Priority,
			Address:    c.IP,
			Protocol:   proto,
			Port:       c.Port,
			Typ:        typ,
			Component:  1,
			TCPType:    c.TCPType,
		})
	}
	return out, nil
}

func dtlsRoleOut(r webrtc.DTLSRole) string {
	switch r {
	case webrtc.DTLSRoleClient:
		return "client"
	case webrtc.DTLSRoleServer:
		return "server"
	default:
		return "auto"
	}
}

func dtlsRoleIn(s string) webrtc.DTLSRole {
	switch strings.ToLower(s) {
	case "client":
		return webrtc.DTLSRoleClient
	case "server":
		return webrtc.DTLSRoleServer
	default:
		return webrtc.DTLSRoleAuto
	}
}

func dtlsParamsOut(p webrtc.DTLSParameters) domain.DTLSParameters {
	out := domain.DTLSParameters{Role: dtlsRoleOut(p.Role)}
	for _, f := range p.Fingerprints {
		out.Fingerprints = append(out.Fingerprints, domain.DTLSFingerprint{Algorithm: f.Algorithm, Value: f.Value})
	}
	return out
}

func dtlsParamsIn(p domain.DTLSParameters) (webrtc.DTLSParameters, error) {
	if len(p.Fingerprints) == 0 {
		return webrtc.DTLSParameters{}, fmt.Errorf("%w: dtls parameters carry no fingerprint", domain.ErrInvalidArgument)
	}
	out := webrtc.DTLSParameters{Role: dtlsRoleIn(p.Role)}
	for _, f := range p.Fingerprints {
		out.Fingerprints = append(out.Fingerprints, webrtc.DTLSFingerprint{Algorithm: f.Algorithm, Value: f.Value})
	}
	return out, nil
}
