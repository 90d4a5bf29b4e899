// SPDX-FileCopyrightText: 2023 SAP SE or an SAP affiliate company and IronCore contributors
// SPDX-License-Identifier: Apache-2.0

package spice

import (
	"encoding/binary"
	"fmt"
)

// MsgMainInitPayload is the Main channel's session bootstrap message,
// server -> client.
type MsgMainInitPayload struct {
	SessionID           uint32
	DisplayChannelsHint uint32
	SupportedMouseModes uint32
	CurrentMouseMode    uint32
	AgentConnected      uint32
	AgentTokens         uint32
	MultiMediaTime      uint32
	RAMHint             uint32
}

func ParseMsgMainInit(b []byte) (MsgMainInitPayload, error) {
	if len(b) < 32 {
		return MsgMainInitPayload{}, fmt.Errorf("main init message too short: %d bytes", len(b))
	}
	le := binary.LittleEndian
	return MsgMainInitPayload{
		SessionID:           le.Uint32(b[0:4]),
		DisplayChannelsHint: le.Uint32(b[4:8]),
		SupportedMouseModes: le.Uint32(b[8:12]),
		CurrentMouseMode:    le.Uint32(b[12:16]),
		AgentConnected:      le.Uint32(b[16:20]),
		AgentTokens:         le.Uint32(b[20:24]),
		MultiMediaTime:      le.Uint32(b[24:28]),
		RAMHint:             le.Uint32(b[28:32]),
	}, nil
}

// MsgMainChannelsListPayload enumerates the channels the server offers.
type MsgMainChannelsListPayload struct {
	Channels []ChannelInfo
}

func ParseMsgMainChannelsList(b []byte) (MsgMainChannelsListPayload, error) {
	if len(b) < 4 {
		return MsgMainChannelsListPayload{}, fmt.Errorf("channels list message too short: %d bytes", len(b))
	}
	numChannels := binary.LittleEndian.Uint32(b[0:4])
	out := MsgMainChannelsListPayload{Channels: make([]ChannelInfo, 0, numChannels)}
	offset := 4
	for i := uint32(0); i < numChannels && offset+2 <= len(b); i++ {
		out.Channels = append(out.Channels, ChannelInfo{
			ChannelType: ChannelType(b[offset]),
			ChannelID:   b[offset+1],
		})
		offset += 2
	}
	return out, nil
}

// MsgMainMouseModePayload reports the server's supported/current mouse mode.
type MsgMainMouseModePayload struct {
	SupportedModes uint32
	CurrentMode    uint32
}

func ParseMsgMainMouseMode(b []byte) (MsgMainMouseModePayload, error) {
	if len(b) < 8 {
		return MsgMainMouseModePayload{}, fmt.Errorf("mouse mode message too short: %d bytes", len(b))
	}
	le := binary.LittleEndian
	return MsgMainMouseModePayload{SupportedModes: le.Uint32(b[0:4]), CurrentMode: le.Uint32(b[4:8])}, nil
}

// EncodeMouseModeRequest builds the client->server mouse mode request body.
func EncodeMouseModeRequest(mode uint32) []byte {
	b := make([]byte, 4)
	binary.LittleEndian.PutUint32(b, mode)
	return b
}

// MsgInputsInitPayload carries the keyboard modifiers state at channel init.
type MsgInputsInitPayload struct {
	KeyboardModifiers uint32
}

func ParseMsgInputsInit(b []byte) (MsgInputsInitPayload, error) {
	if len(b) < 4 {
		return MsgInputsInitPayload{}, fmt.Errorf("inputs init message too short: %d bytes", len(b))
	}
	return MsgInputsInitPayload{KeyboardModifiers: binary.LittleEndian.Uint32(b[0:4])}, nil
}

func ParseMsgInputsKeyModifiers(b []byte) (uint32, error) {
	if len(b) < 4 {
		return 0, fmt.Errorf("key modifiers message too short: %d bytes", len(b))
	}
	return binary.LittleEndian.Uint32(b[0:4]), nil
}

// EncodeKeyDown/EncodeKeyUp carry a PC/AT scancode.
func EncodeKeyDown(code uint32) []byte { return le32(code) }
func EncodeKeyUp(code uint32) []byte   { return le32(code) }

func EncodeKeyModifiers(modifiers uint32) []byte { return le32(modifiers) }

// EncodeMouseMotion builds the relative-motion (server mouse mode) message body.
func EncodeMouseMotion(dx, dy int32, buttonsState uint32) []byte {
	b := make([]byte, 12)
	binary.LittleEndian.PutUint32(b[0:4], uint32(dx))
	binary.LittleEndian.PutUint32(b[4:8], uint32(dy))
	binary.LittleEndian.PutUint32(b[8:12], buttonsState)
	return b
}

// EncodeMousePosition builds the absolute-position (client mouse mode)
// message body.
func EncodeMousePosition(x, y, buttonsState uint32, displayID uint8) []byte {
	b := make([]byte, 13)
	binary.LittleEndian.PutUint32(b[0:4], x)
	binary.LittleEndian.PutUint32(b[4:8], y)
	binary.LittleEndian.PutUint32(b[8:12], buttonsState)
	b[12] = displayID
	return b
}

func EncodeMousePress(button uint8, buttonsState uint32) []byte {
	b := make([]byte, 5)
	b[0] = button
	binary.LittleEndian.PutUint32(b[1:5], buttonsState)
	return b
}

func EncodeMouseRelease(button uint8, buttonsState uint32) []byte {
	b := make([]byte, 5)
	b[0] = button
	binary.LittleEndian.PutUint32(b[1:5], buttonsState)
	return b
}

// MsgDisplayModePayload describes the display's current resolution/depth.
type MsgDisplayModePayload struct {
	XRes, YRes uint32
	Bits       uint32
}

func ParseMsgDisplayMode(b []byte) (MsgDisplayModePayload, error) {
	if len(b) < 12 {
		return MsgDisplayModePayload{}, fmt.Errorf("display mode message too short: %d bytes", len(b))
	}
	le := binary.LittleEndian
	return MsgDisplayModePayload{XRes: le.Uint32(b[0:4]), YRes: le.Uint32(b[4:8]), Bits: le.Uint32(b[8:12])}, nil
}

// MonitorConfig is one entry of a MonitorsConfig message.
type MonitorConfig struct {
	ID, SurfaceID uint32
	Width, Height uint32
	X, Y          int32
	Flags         uint32
}

type MsgDisplayMonitorsConfigPayload struct {
	Count, MaxAllowed uint16
	Monitors          []MonitorConfig
}

const monitorConfigSize = 28

func ParseMsgDisplayMonitorsConfig(b []byte) (MsgDisplayMonitorsConfigPayload, error) {
	if len(b) < 4 {
		return MsgDisplayMonitorsConfigPayload{}, fmt.Errorf("monitors config message too short: %d bytes", len(b))
	}
	le := binary.LittleEndian
	out := MsgDisplayMonitorsConfigPayload{Count: le.Uint16(b[0:2]), MaxAllowed: le.Uint16(b[2:4])}
	offset := 4
	for i := uint16(0); i < out.Count && offset+monitorConfigSize <= len(b); i++ {
		out.Monitors = append(out.Monitors, MonitorConfig{
			ID:        le.Uint32(b[offset : offset+4]),
			SurfaceID: le.Uint32(b[offset+4 : offset+8]),
			Width:     le.Uint32(b[offset+8 : offset+12]),
			Height:    le.Uint32(b[offset+12 : offset+16]),
			X:         int32(le.Uint32(b[offset+16 : offset+20])),
			Y:         int32(le.Uint32(b[offset+20 : offset+24])),
			Flags:     le.Uint32(b[offset+24 : offset+28]),
		})
		offset += monitorConfigSize
	}
	return out, nil
}

// MsgDisplaySurfaceCreatePayload is emitted when the server opens a new
// rendering surface.
type MsgDisplaySurfaceCreatePayload struct {
	SurfaceID     uint32
	Width, Height uint32
	Format, Flags uint32
}

func ParseMsgDisplaySurfaceCreate(b []byte) (MsgDisplaySurfaceCreatePayload, error) {
	if len(b) < 20 {
		return MsgDisplaySurfaceCreatePayload{}, fmt.Errorf("surface create message too short: %d bytes", len(b))
	}
	le := binary.LittleEndian
	return MsgDisplaySurfaceCreatePayload{
		SurfaceID: le.Uint32(b[0:4]),
		Width:     le.Uint32(b[4:8]),
		Height:    le.Uint32(b[8:12]),
		Format:    le.Uint32(b[12:16]),
		Flags:     le.Uint32(b[16:20]),
	}, nil
}

func ParseMsgDisplaySurfaceDestroy(b []byte) (uint32, error) {
	if len(b) < 4 {
		return 0, fmt.Errorf("surface destroy message too short: %d bytes", len(b))
	}
	return binary.LittleEndian.Uint32(b[0:4]), nil
}

// MsgDisplayStreamCreatePayload describes a new video stream's geometry
// and codec; only the header fields are decoded, matching SPEC_FULL's
// reduced scope (actual frame pixel decoding is out of scope).
type MsgDisplayStreamCreatePayload struct {
	ID, SurfaceID             uint32
	Flags, CodecType          uint8
	Stamp                     uint64
	StreamWidth, StreamHeight uint32
	SrcWidth, SrcHeight       uint32
}

// ParseMsgDisplayStreamCreate decodes the SpiceMsgDisplayStreamCreate
// header per spice-protocol/spice/protocol.h: surface_id precedes id on
// the wire (messages.rs's forward-declared field order has them
// reversed and was never wired to a parser there).
func ParseMsgDisplayStreamCreate(b []byte) (MsgDisplayStreamCreatePayload, error) {
	const minLen = 4 + 4 + 1 + 1 + 8 + 4 + 4 + 4 + 4
	if len(b) < minLen {
		return MsgDisplayStreamCreatePayload{}, fmt.Errorf("stream create message too short: %d bytes", len(b))
	}
	le := binary.LittleEndian
	return MsgDisplayStreamCreatePayload{
		SurfaceID:    le.Uint32(b[0:4]),
		ID:           le.Uint32(b[4:8]),
		Flags:        b[8],
		CodecType:    b[9],
		Stamp:        le.Uint64(b[10:18]),
		StreamWidth:  le.Uint32(b[18:22]),
		StreamHeight: le.Uint32(b[22:26]),
		SrcWidth:     le.Uint32(b[26:30]),
		SrcHeight:    le.Uint32(b[30:34]),
	}, nil
}

func ParseMsgDisplayStreamDestroy(b []byte) (uint32, error) {
	if len(b) < 4 {
		return 0, fmt.Errorf("stream destroy message too short: %d bytes", len(b))
	}
	return binary.LittleEndian.Uint32(b[0:4]), nil
}

// EncodeDisplayInit builds the client->server MsgcDisplayInit body: no
// pixmap cache or GLZ dictionary, matching the original's zero defaults
// since pixel decoding is out of scope here.
func EncodeDisplayInit() []byte {
	b := make([]byte, 13)
	binary.LittleEndian.PutUint64(b[1:9], 0)
	binary.LittleEndian.PutUint32(b[9:13], 0)
	return b
}

func le32(v uint32) []byte {
	b := make([]byte, 4)
	binary.LittleEndian.PutUint32(b, v)
	return b
}
