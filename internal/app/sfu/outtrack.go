package sfu

import (
	"sync/atomic"

	"github.com/pion/rtp"
)

type TrackState int32

const (
	TrackStateOk TrackState = iota
	TrackStateMuted
	TrackStateDelete
)

// rtpWriter is the sending half of a consumer, a *webrtc.TrackLocalStaticRTP in production.
type rtpWriter interface {
	WriteRTP(p *rtp.Packet) error
}

// OutTrack represents a single outgoing track to a consumer.
type OutTrack struct {
	Track rtpWriter
	state atomic.Int32 // Zero by default (TrackStateOk)
}

func NewOutTrack(track rtpWriter) *OutTrack {
	return &OutTrack{Track: track}
}

func (ot *OutTrack) GetState() TrackState {
	return TrackState(ot.state.Load())
}

func (ot *OutTrack) MarkOk() {
	ot.state.CompareAndSwap(int32(TrackStateMuted), int32(TrackStateOk))
}

func (ot *OutTrack) MarkMuted() {
	ot.state.CompareAndSwap(int32(TrackStateOk), int32(TrackStateMuted))
}

// MarkDelete is final; a deleted track is never revived.
func (ot *OutTrack) MarkDelete() {
	ot.state.Store(int32(TrackStateDelete))
}
