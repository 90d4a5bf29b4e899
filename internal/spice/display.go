// SPDX-FileCopyrightText: 2023 SAP SE or an SAP affiliate company and IronCore contributors
// SPDX-License-Identifier: Apache-2.0

package spice

import (
	"sync"

	"github.com/wooveep/atp-runner/pkg/atperrors"
)

// Surface is one rendering target the server has created.
type Surface struct {
	ID                  uint32
	Width, Height       uint32
	Format, Flags       uint32
	IsPrimary           bool
}

// VideoStream is one active video stream attached to a surface.
type VideoStream struct {
	ID, SurfaceID uint32
	CodecType     uint8
	Width, Height uint32
	Flags         uint8
	Active        bool
}

// DisplayEventKind discriminates DisplayEvent's payload, standing in for
// the original's Rust enum.
type DisplayEventKind int

const (
	EventSurfaceCreated DisplayEventKind = iota
	EventSurfaceDestroyed
	EventModeChanged
	EventStreamCreated
	EventStreamData
	EventStreamDestroyed
	EventMonitorsConfig
	EventDrawCommand
)

// DisplayEvent is one state change surfaced by ProcessEvents. Only the
// fields relevant to its Kind are populated.
type DisplayEvent struct {
	Kind DisplayEventKind

	Surface   Surface
	SurfaceID uint32

	Width, Height, Depth uint32

	Stream   VideoStream
	StreamID uint32
	Data     []byte

	Monitors []MonitorConfig

	DrawSurfaceID          uint32
	DrawX, DrawY           int32
	DrawWidth, DrawHeight  uint32
}

// DisplayChannel tracks surfaces/streams/mode state for a SPICE Display
// channel. Pixel decoding is out of scope: draw commands (302-314) and
// stream data (123) only increment FrameCount, matching the C6 "frame
// counting" entry of SPEC_FULL §5 for load testing.
type DisplayChannel struct {
	channel *Channel

	mu                sync.Mutex
	surfaces          map[uint32]Surface
	streams           map[uint32]VideoStream
	currentResolution *Resolution
	frameCount        uint64
}

func newDisplayChannel(ch *Channel) (*DisplayChannel, error) {
	dc := &DisplayChannel{
		channel:  ch,
		surfaces: make(map[uint32]Surface),
		streams:  make(map[uint32]VideoStream),
	}
	if err := dc.sendInit(); err != nil {
		return nil, err
	}
	return dc, nil
}

// sendInit pushes MsgcDisplayInit with no pixmap cache / GLZ dictionary,
// since this channel never decodes pixels.
func (dc *DisplayChannel) sendInit() error {
	return dc.channel.SendMessage(MsgcDisplayInit, EncodeDisplayInit())
}

// CurrentResolution returns the last-seen Mode resolution, if any.
func (dc *DisplayChannel) CurrentResolution() (Resolution, bool) {
	dc.mu.Lock()
	defer dc.mu.Unlock()
	if dc.currentResolution == nil {
		return Resolution{}, false
	}
	return *dc.currentResolution, true
}

// Surfaces returns a snapshot of the tracked surfaces.
func (dc *DisplayChannel) Surfaces() map[uint32]Surface {
	dc.mu.Lock()
	defer dc.mu.Unlock()
	out := make(map[uint32]Surface, len(dc.surfaces))
	for k, v := range dc.surfaces {
		out[k] = v
	}
	return out
}

// PrimarySurface returns the surface flagged primary, if any.
func (dc *DisplayChannel) PrimarySurface() (Surface, bool) {
	dc.mu.Lock()
	defer dc.mu.Unlock()
	for _, s := range dc.surfaces {
		if s.IsPrimary {
			return s, true
		}
	}
	return Surface{}, false
}

// Streams returns a snapshot of the tracked video streams.
func (dc *DisplayChannel) Streams() map[uint32]VideoStream {
	dc.mu.Lock()
	defer dc.mu.Unlock()
	out := make(map[uint32]VideoStream, len(dc.streams))
	for k, v := range dc.streams {
		out[k] = v
	}
	return out
}

// FrameCount returns the number of frames (draw commands + stream data
// packets) observed so far.
func (dc *DisplayChannel) FrameCount() uint64 {
	dc.mu.Lock()
	defer dc.mu.Unlock()
	return dc.frameCount
}

// ProcessEvents reads one server message, updates internal state, and
// returns the corresponding DisplayEvent (ok=false for messages that
// carry no externally-visible state change, e.g. Mark or an
// unrecognized type).
func (dc *DisplayChannel) ProcessEvents() (DisplayEvent, bool, error) {
	msgType, data, err := dc.channel.ReceiveMessage()
	if err != nil {
		return DisplayEvent{}, false, atperrors.Wrap(atperrors.KindReceiveFailed, "spice display event pump", err)
	}

	dc.mu.Lock()
	defer dc.mu.Unlock()

	switch msgType {
	case MsgDisplayMode:
		mode, err := ParseMsgDisplayMode(data)
		if err != nil {
			return DisplayEvent{}, false, nil
		}
		dc.currentResolution = &Resolution{Width: mode.XRes, Height: mode.YRes}
		return DisplayEvent{Kind: EventModeChanged, Width: mode.XRes, Height: mode.YRes, Depth: mode.Bits}, true, nil

	case MsgDisplayMark:
		return DisplayEvent{}, false, nil

	case MsgDisplayReset:
		dc.surfaces = make(map[uint32]Surface)
		dc.streams = make(map[uint32]VideoStream)
		return DisplayEvent{}, false, nil

	case MsgDisplaySurfaceCreate:
		create, err := ParseMsgDisplaySurfaceCreate(data)
		if err != nil {
			return DisplayEvent{}, false, nil
		}
		s := Surface{
			ID: create.SurfaceID, Width: create.Width, Height: create.Height,
			Format: create.Format, Flags: create.Flags, IsPrimary: create.Flags&1 != 0,
		}
		dc.surfaces[s.ID] = s
		return DisplayEvent{Kind: EventSurfaceCreated, Surface: s}, true, nil

	case MsgDisplaySurfaceDestroy:
		surfaceID, err := ParseMsgDisplaySurfaceDestroy(data)
		if err != nil {
			return DisplayEvent{}, false, nil
		}
		delete(dc.surfaces, surfaceID)
		return DisplayEvent{Kind: EventSurfaceDestroyed, SurfaceID: surfaceID}, true, nil

	case MsgDisplayStreamCreate:
		create, err := ParseMsgDisplayStreamCreate(data)
		if err != nil {
			return DisplayEvent{}, false, nil
		}
		vs := VideoStream{
			ID: create.ID, SurfaceID: create.SurfaceID, CodecType: create.CodecType,
			Width: create.StreamWidth, Height: create.StreamHeight, Flags: create.Flags, Active: true,
		}
		dc.streams[vs.ID] = vs
		return DisplayEvent{Kind: EventStreamCreated, Stream: vs}, true, nil

	case MsgDisplayStreamData:
		dc.frameCount++
		if len(data) < 12 {
			return DisplayEvent{}, false, nil
		}
		streamID := leUint32(data[0:4])
		return DisplayEvent{Kind: EventStreamData, StreamID: streamID, Data: append([]byte(nil), data[12:]...)}, true, nil

	case MsgDisplayStreamDestroy:
		streamID, err := ParseMsgDisplayStreamDestroy(data)
		if err != nil {
			return DisplayEvent{}, false, nil
		}
		delete(dc.streams, streamID)
		return DisplayEvent{Kind: EventStreamDestroyed, StreamID: streamID}, true, nil

	case MsgDisplayStreamDestroyAll:
		dc.streams = make(map[uint32]VideoStream)
		return DisplayEvent{}, false, nil

	case MsgDisplayMonitorsConfig:
		cfg, err := ParseMsgDisplayMonitorsConfig(data)
		if err != nil {
			return DisplayEvent{}, false, nil
		}
		return DisplayEvent{Kind: EventMonitorsConfig, Monitors: cfg.Monitors}, true, nil

	default:
		if msgType >= MsgDisplayDrawFill && msgType <= MsgDisplayDrawComposite {
			dc.frameCount++
			if len(data) < 20 {
				return DisplayEvent{}, false, nil
			}
			le := data
			top := int32(leUint32(le[4:8]))
			left := int32(leUint32(le[8:12]))
			bottom := int32(leUint32(le[12:16]))
			right := int32(leUint32(le[16:20]))
			surfaceID := leUint32(le[0:4])
			return DisplayEvent{
				Kind: EventDrawCommand, DrawSurfaceID: surfaceID,
				DrawX: left, DrawY: top,
				DrawWidth: uint32(right - left), DrawHeight: uint32(bottom - top),
			}, true, nil
		}
		return DisplayEvent{}, false, nil
	}
}
