// SPDX-FileCopyrightText: 2023 SAP SE or an SAP affiliate company and IronCore contributors
// SPDX-License-Identifier: Apache-2.0

// Package spice implements the SPICE remote-desktop wire protocol: link
// handshake and ticket auth (C3), the multi-channel client session (C4),
// Inputs channel semantics (C5), and Display channel state tracking (C6).
// Grounded on atp-core/protocol/src/spice/{constants,types,channel,client,
// inputs,display}.rs.
package spice

// ChannelType identifies which SPICE channel a link message is for.
type ChannelType uint8

const (
	ChannelMain      ChannelType = 1
	ChannelDisplay   ChannelType = 2
	ChannelInputs    ChannelType = 3
	ChannelCursor    ChannelType = 4
	ChannelPlayback  ChannelType = 5
	ChannelRecord    ChannelType = 6
	ChannelTunnel    ChannelType = 7 // deprecated upstream
	ChannelSmartcard ChannelType = 8
	ChannelUSBRedir  ChannelType = 9
	ChannelPort      ChannelType = 10
	ChannelWebDAV    ChannelType = 11
)

func (c ChannelType) String() string {
	switch c {
	case ChannelMain:
		return "main"
	case ChannelDisplay:
		return "display"
	case ChannelInputs:
		return "inputs"
	case ChannelCursor:
		return "cursor"
	case ChannelPlayback:
		return "playback"
	case ChannelRecord:
		return "record"
	case ChannelTunnel:
		return "tunnel"
	case ChannelSmartcard:
		return "smartcard"
	case ChannelUSBRedir:
		return "usbredir"
	case ChannelPort:
		return "port"
	case ChannelWebDAV:
		return "webdav"
	default:
		return "unknown"
	}
}

// Link error codes returned in SpiceLinkReply.Error.
const (
	LinkErrorOK                  uint32 = 0
	LinkErrorError               uint32 = 1
	LinkErrorInvalidMagic        uint32 = 2
	LinkErrorInvalidData         uint32 = 3
	LinkErrorVersionMismatch     uint32 = 4
	LinkErrorNeedSecured         uint32 = 5
	LinkErrorNeedUnsecured       uint32 = 6
	LinkErrorPermissionDenied    uint32 = 7
	LinkErrorBadConnectionID     uint32 = 8
	LinkErrorChannelNotAvailable uint32 = 9
)

// Main channel message types, server -> client.
//
// Ping/Pong deliberately use the numbers from the governing specification
// (4 and 3) rather than the upstream SPICE wire values (118/113): this
// engine only ever talks to the in-repo test double and the scenario
// executor, never a real spice-server, so there is no wire compatibility
// to preserve and the spec's numbers are authoritative.
const (
	MsgMainMigrateBegin          uint16 = 101
	MsgMainMigrateCancel         uint16 = 102
	MsgMainInit                  uint16 = 103
	MsgMainChannelsList          uint16 = 104
	MsgMainMouseMode             uint16 = 105
	MsgMainMultiMediaTime        uint16 = 106
	MsgMainAgentConnected        uint16 = 107
	MsgMainAgentDisconnected     uint16 = 108
	MsgMainAgentData             uint16 = 109
	MsgMainAgentToken            uint16 = 110
	MsgMainMigrateSwitchHost     uint16 = 111
	MsgMainMigrateEnd            uint16 = 112
	MsgMainName                  uint16 = 113
	MsgMainUUID                  uint16 = 114
	MsgMainMigrateBeginSeamless  uint16 = 115
	MsgMainMigrateDstSeamlessAck uint16 = 116
	MsgMainMigrateDstSeamlessNak uint16 = 117
	MsgMainPing                  uint16 = 4
)

// Main channel message types, client -> server.
const (
	MsgcMainClientInfo            uint16 = 101
	MsgcMainMigrateConnected      uint16 = 102
	MsgcMainMigrateConnectError   uint16 = 103
	MsgcMainAttachChannels        uint16 = 104
	MsgcMainMouseModeRequest      uint16 = 105
	MsgcMainAgentStart            uint16 = 106
	MsgcMainAgentData             uint16 = 107
	MsgcMainAgentToken            uint16 = 108
	MsgcMainMigrateEnd            uint16 = 109
	MsgcMainMigrateDstDoSeamless  uint16 = 110
	MsgcMainMigrateSeamlessDstAck uint16 = 111
	MsgcMainMigrateSeamlessDstNak uint16 = 112
	MsgcMainPong                  uint16 = 3
)

// Inputs channel message types, server -> client.
const (
	MsgInputsInit            uint16 = 101
	MsgInputsKeyModifiers    uint16 = 102
	MsgInputsMouseMotionAck  uint16 = 111
)

// Inputs channel message types, client -> server.
const (
	MsgcInputsKeyDown       uint16 = 101
	MsgcInputsKeyUp         uint16 = 102
	MsgcInputsKeyModifiers  uint16 = 103
	MsgcInputsMouseMotion   uint16 = 111
	MsgcInputsMousePosition uint16 = 112
	MsgcInputsMousePress    uint16 = 113
	MsgcInputsMouseRelease  uint16 = 114
)

// Display channel message types, server -> client.
const (
	MsgDisplayMode             uint16 = 101
	MsgDisplayMark             uint16 = 102
	MsgDisplayReset            uint16 = 103
	MsgDisplayCopyBits         uint16 = 104
	MsgDisplayInvalList        uint16 = 105
	MsgDisplayInvalAllPixmaps  uint16 = 106
	MsgDisplayInvalPalette     uint16 = 107
	MsgDisplayInvalAllPalettes uint16 = 108
	MsgDisplayStreamCreate     uint16 = 122
	MsgDisplayStreamData       uint16 = 123
	MsgDisplayStreamClip       uint16 = 124
	MsgDisplayStreamDestroy    uint16 = 125
	MsgDisplayStreamDestroyAll uint16 = 126
	MsgDisplayDrawFill         uint16 = 302
	MsgDisplayDrawOpaque       uint16 = 303
	MsgDisplayDrawCopy         uint16 = 304
	MsgDisplayDrawBlend        uint16 = 305
	MsgDisplayDrawBlackness    uint16 = 306
	MsgDisplayDrawWhiteness    uint16 = 307
	MsgDisplayDrawInvers       uint16 = 308
	MsgDisplayDrawRop3         uint16 = 309
	MsgDisplayDrawStroke       uint16 = 310
	MsgDisplayDrawText         uint16 = 311
	MsgDisplayDrawTransparent  uint16 = 312
	MsgDisplayDrawAlphaBlend   uint16 = 313
	MsgDisplayDrawComposite    uint16 = 314
	MsgDisplaySurfaceCreate    uint16 = 315
	MsgDisplaySurfaceDestroy   uint16 = 316
	MsgDisplayMonitorsConfig   uint16 = 317
	MsgDisplayGLScanoutUnix    uint16 = 318
	MsgDisplayGLDraw          uint16 = 319
)

// Display channel message types, client -> server.
const (
	MsgcDisplayInit                    uint16 = 101
	MsgcDisplayStreamReport            uint16 = 102
	MsgcDisplayPreferredCompression    uint16 = 103
	MsgcDisplayGLDrawDone              uint16 = 104
	MsgcDisplayPreferredVideoCodecType uint16 = 105
)

// Mouse modes.
const (
	MouseModeServer uint32 = 1 // relative motion
	MouseModeClient uint32 = 2 // absolute position
)

// Mouse button IDs and their bitmask positions.
const (
	MouseButtonLeft       uint8 = 1
	MouseButtonMiddle     uint8 = 2
	MouseButtonRight      uint8 = 3
	MouseButtonScrollUp   uint8 = 4
	MouseButtonScrollDown uint8 = 5
	MouseButtonSide       uint8 = 6
	MouseButtonExtra      uint8 = 7
)

const (
	MouseButtonMaskLeft       uint32 = 1 << 0
	MouseButtonMaskMiddle     uint32 = 1 << 1
	MouseButtonMaskRight      uint32 = 1 << 2
	MouseButtonMaskScrollUp   uint32 = 1 << 3
	MouseButtonMaskScrollDown uint32 = 1 << 4
	MouseButtonMaskSide       uint32 = 1 << 5
	MouseButtonMaskExtra      uint32 = 1 << 6
)

// Keyboard modifier flags.
const (
	KeyModifierScrollLock uint32 = 1 << 0
	KeyModifierNumLock    uint32 = 1 << 1
	KeyModifierCapsLock   uint32 = 1 << 2
)

// Common (cross-channel) capability bits.
const (
	CommonCapAuthSelect uint32 = 1 << 0
	CommonCapAuthSpice  uint32 = 1 << 1
	CommonCapAuthSASL   uint32 = 1 << 2
	CommonCapMiniHeader uint32 = 1 << 3
)

const InputsCapKeyScancode uint32 = 1 << 0

const (
	DefaultPort    uint16 = 5900
	DefaultTLSPort uint16 = 5901

	// MotionAckBunch is the number of pending mouse motion/position sends
	// that one MouseMotionAck acknowledges.
	MotionAckBunch uint32 = 8

	RSAKeyBits    = 1024
	PasswordMaxLen = 60

	// TicketSize is the fixed 128-byte auth ticket sent on the wire: the
	// left-padded RSA-OAEP ciphertext, or all zero bytes for empty auth.
	TicketSize = 128
)
