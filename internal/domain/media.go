package domain

import (
	"fmt"
	"strings"
)

type (
	TransportID string
	ProducerID  string
	ConsumerID  string
)

type Direction string

const (
	DirectionSend Direction = "send"
	DirectionRecv Direction = "recv"
)

func (d Direction) Valid() bool { return d == DirectionSend || d == DirectionRecv }

// DirectionFromSender maps the legacy isSender flag onto a Direction.
func DirectionFromSender(isSender bool) Direction {
	if isSender {
		return DirectionSend
	}
	return DirectionRecv
}

type MediaKind string

const (
	KindAudio MediaKind = "audio"
	KindVideo MediaKind = "video"
)

func ParseMediaKind(s string) (MediaKind, error) {
	switch MediaKind(strings.ToLower(s)) {
	case KindAudio:
		return KindAudio, nil
	case KindVideo:
		return KindVideo, nil
	}
	return "", fmt.Errorf("%w: unknown media kind %q", ErrInvalidArgument, s)
}

// ProducerType tells a camera stream from a screen share.
type ProducerType string

const (
	TypeCamera ProducerType = "camera"
	TypeScreen ProducerType = "screen"
)

// ParseProducerType defaults to camera when the client sends nothing.
func ParseProducerType(s string) (ProducerType, error) {
	switch ProducerType(strings.ToLower(s)) {
	case "", TypeCamera:
		return TypeCamera, nil
	case TypeScreen:
		return TypeScreen, nil
	}
	return "", fmt.Errorf("%w: unknown producer type %q", ErrInvalidArgument, s)
}

type RTCPFeedback struct {
	Type      string `json:"type"`
	Parameter string `json:"parameter,omitempty"`
}

type RTPCodecCapability struct {
	Kind                 MediaKind      `json:"kind"`
	MimeType             string         `json:"mimeType"`
	PreferredPayloadType uint8          `json:"preferredPayloadType,omitempty"`
	ClockRate            uint32         `json:"clockRate"`
	Channels             uint16         `json:"channels,omitempty"`
	Parameters           map[string]any `json:"parameters,omitempty"`
	RTCPFeedback         []RTCPFeedback `json:"rtcpFeedback,omitempty"`
}

type RTPHeaderExtension struct {
	Kind MediaKind `json:"kind,omitempty"`
	URI  string    `json:"uri"`
	ID   int       `json:"preferredId,omitempty"`
}

// RTPCapabilities describes what a router (or a remote device) can send or receive.
type RTPCapabilities struct {
	Codecs           []RTPCodecCapability `json:"codecs"`
	HeaderExtensions []RTPHeaderExtension `json:"headerExtensions,omitempty"`
}

// Supports reports whether caps contains a codec matching mime type and clock rate.
func (c RTPCapabilities) Supports(codec RTPCodecParameters) bool {
	for _, cc := range c.Codecs {
		if strings.EqualFold(cc.MimeType, codec.MimeType) && cc.ClockRate == codec.ClockRate {
			if codec.Channels != 0 && cc.Channels != 0 && cc.Channels != codec.Channels {
				continue
			}
			return true
		}
	}
	return false
}

type RTPCodecParameters struct {
	MimeType     string         `json:"mimeType"`
	PayloadType  uint8          `json:"payloadType"`
	ClockRate    uint32         `json:"clockRate"`
	Channels     uint16         `json:"channels,omitempty"`
	Parameters   map[string]any `json:"parameters,omitempty"`
	RTCPFeedback []RTCPFeedback `json:"rtcpFeedback,omitempty"`
}

type RTPEncoding struct {
	SSRC uint32 `json:"ssrc,omitempty"`
	RID  string `json:"rid,omitempty"`
}

type RTPHeaderExtensionParameters struct {
	URI string `json:"uri"`
	ID  int    `json:"id"`
}

// RTPParameters describes one concrete stream (a producer's or a consumer's).
type RTPParameters struct {
	MID              string                         `json:"mid,omitempty"`
	Codecs           []RTPCodecParameters           `json:"codecs"`
	HeaderExtensions []RTPHeaderExtensionParameters `json:"headerExtensions,omitempty"`
	Encodings        []RTPEncoding                  `json:"encodings,omitempty"`
}

// Validate checks the fields the engine relies on.
func (p RTPParameters) Validate() error {
	if len(p.Codecs) == 0 {
		return fmt.Errorf("%w: rtp parameters carry no codecs", ErrInvalidArgument)
	}
	if len(p.Encodings) == 0 || p.Encodings[0].SSRC == 0 {
		return fmt.Errorf("%w: rtp parameters carry no ssrc", ErrInvalidArgument)
	}
	return nil
}

type ICEParameters struct {
	UsernameFragment string `json:"usernameFragment"`
	Password         string `json:"password"`
	ICELite          bool   `json:"iceLite,omitempty"`
}

type ICECandidate struct {
	Foundation string `json:"foundation"`
	Priority   uint32 `json:"priority"`
	IP         string `json:"ip"`
	Protocol   string `json:"protocol"`
	Port       uint16 `json:"port"`
	Type       string `json:"type"`
	TCPType    string `json:"tcpType,omitempty"`
}

type DTLSFingerprint struct {
	Algorithm string `json:"algorithm"`
	Value     string `json:"value"`
}

type DTLSParameters struct {
	Role         string            `json:"role,omitempty"`
	Fingerprints []DTLSFingerprint `json:"fingerprints"`
}

// TransportParams is what a client needs to build its side of a transport.
type TransportParams struct {
	ID             TransportID    `json:"id"`
	ICEParameters  ICEParameters  `json:"iceParameters"`
	ICECandidates  []ICECandidate `json:"iceCandidates"`
	DTLSParameters DTLSParameters `json:"dtlsParameters"`
}

// ConnectParams carries the remote side of the transport negotiation.
type ConnectParams struct {
	DTLSParameters DTLSParameters `json:"dtlsParameters"`
	ICEParameters  *ICEParameters `json:"iceParameters,omitempty"`
	ICECandidates  []ICECandidate `json:"iceCandidates,omitempty"`
}

// ProducerInfo is one entry of get-initial-producers and the new-producer broadcast.
type ProducerInfo struct {
	ProducerID ProducerID   `json:"producerId"`
	OwnerID    ConnID       `json:"ownerId"`
	Kind       MediaKind    `json:"kind"`
	Type       ProducerType `json:"type"`
}
