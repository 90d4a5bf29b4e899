// SPDX-FileCopyrightText: 2023 SAP SE or an SAP affiliate company and IronCore contributors
// SPDX-License-Identifier: Apache-2.0

package spice

import (
	"strings"
	"sync/atomic"
	"time"

	"github.com/wooveep/atp-runner/pkg/atperrors"
)

// MouseButton is one of the seven buttons InputsChannel can press/release.
type MouseButton uint8

const (
	MouseLeft       MouseButton = MouseButton(MouseButtonLeft)
	MouseMiddle     MouseButton = MouseButton(MouseButtonMiddle)
	MouseRight      MouseButton = MouseButton(MouseButtonRight)
	MouseScrollUp   MouseButton = MouseButton(MouseButtonScrollUp)
	MouseScrollDown MouseButton = MouseButton(MouseButtonScrollDown)
	MouseSide       MouseButton = MouseButton(MouseButtonSide)
	MouseExtra      MouseButton = MouseButton(MouseButtonExtra)
)

func (b MouseButton) id() uint8 { return uint8(b) }

func (b MouseButton) mask() uint32 {
	switch b {
	case MouseLeft:
		return MouseButtonMaskLeft
	case MouseMiddle:
		return MouseButtonMaskMiddle
	case MouseRight:
		return MouseButtonMaskRight
	case MouseScrollUp:
		return MouseButtonMaskScrollUp
	case MouseScrollDown:
		return MouseButtonMaskScrollDown
	case MouseSide:
		return MouseButtonMaskSide
	case MouseExtra:
		return MouseButtonMaskExtra
	default:
		return 0
	}
}

// Scancode constants for the PC/AT scancode set 1, reused across keys that
// have no printable-character mapping.
const (
	ScancodeEscape    uint32 = 0x01
	ScancodeBackspace uint32 = 0x0E
	ScancodeTab       uint32 = 0x0F
	ScancodeEnter     uint32 = 0x1C
	ScancodeLeftCtrl  uint32 = 0x1D
	ScancodeLeftShift uint32 = 0x2A
	ScancodeRightShift uint32 = 0x36
	ScancodeLeftAlt   uint32 = 0x38
	ScancodeSpace     uint32 = 0x39
	ScancodeCapsLock  uint32 = 0x3A
	ScancodeNumLock   uint32 = 0x45
	ScancodeScrollLock uint32 = 0x46

	ScancodeF1  uint32 = 0x3B
	ScancodeF2  uint32 = 0x3C
	ScancodeF3  uint32 = 0x3D
	ScancodeF4  uint32 = 0x3E
	ScancodeF5  uint32 = 0x3F
	ScancodeF6  uint32 = 0x40
	ScancodeF7  uint32 = 0x41
	ScancodeF8  uint32 = 0x42
	ScancodeF9  uint32 = 0x43
	ScancodeF10 uint32 = 0x44
	ScancodeF11 uint32 = 0x57
	ScancodeF12 uint32 = 0x58

	ScancodeInsert   uint32 = 0xE052
	ScancodeDelete   uint32 = 0xE053
	ScancodeHome     uint32 = 0xE047
	ScancodeEnd      uint32 = 0xE04F
	ScancodePageUp   uint32 = 0xE049
	ScancodePageDown uint32 = 0xE051
	ScancodeUp       uint32 = 0xE048
	ScancodeDown     uint32 = 0xE050
	ScancodeLeft     uint32 = 0xE04B
	ScancodeRight    uint32 = 0xE04D

	ScancodeLeftWin  uint32 = 0xE05B
	ScancodeRightWin uint32 = 0xE05C
	ScancodeMenu     uint32 = 0xE05D

	ScancodeRightCtrl uint32 = 0xE01D
	ScancodeRightAlt  uint32 = 0xE038
)

const shiftedSymbols = `!@#$%^&*()_+{}|:"<>?~`

// keyDelay/charDelay/clickDelay/doubleClickDelay/scrollDelay match
// inputs.rs's hard-coded timings exactly.
const (
	keyDelay         = 50 * time.Millisecond
	charDelay        = 20 * time.Millisecond
	clickDelay       = 50 * time.Millisecond
	doubleClickDelay = 100 * time.Millisecond
	scrollDelay      = 20 * time.Millisecond
)

// InputsChannel sends keyboard and mouse events to the guest over a SPICE
// Inputs channel. Ported from atp-core/protocol/src/spice/inputs.rs.
type InputsChannel struct {
	channel *Channel

	buttonsState     atomic.Uint32
	keyModifiers     atomic.Uint32
	motionAckPending atomic.Uint32
}

func newInputsChannel(ch *Channel) (*InputsChannel, error) {
	ic := &InputsChannel{channel: ch}
	if err := ic.handleInit(); err != nil {
		return nil, err
	}
	return ic, nil
}

func (ic *InputsChannel) handleInit() error {
	msgType, data, err := ic.channel.ReceiveMessage()
	if err != nil {
		return atperrors.Wrap(atperrors.KindReceiveFailed, "read spice inputs init", err)
	}
	if msgType == MsgInputsInit {
		init, err := ParseMsgInputsInit(data)
		if err != nil {
			return atperrors.Wrap(atperrors.KindParseError, "parse spice inputs init", err)
		}
		ic.keyModifiers.Store(init.KeyboardModifiers)
	}
	return nil
}

func (ic *InputsChannel) requireConnected() error {
	if !ic.channel.IsConnected() {
		return atperrors.New(atperrors.KindConnectionFailed, "inputs channel not connected")
	}
	return nil
}

// SendKeyDown sends a PC/AT scancode key-down event.
func (ic *InputsChannel) SendKeyDown(scancode uint32) error {
	if err := ic.requireConnected(); err != nil {
		return err
	}
	return ic.channel.SendMessage(MsgcInputsKeyDown, EncodeKeyDown(scancode))
}

// SendKeyUp sends a PC/AT scancode key-up event.
func (ic *InputsChannel) SendKeyUp(scancode uint32) error {
	if err := ic.requireConnected(); err != nil {
		return err
	}
	return ic.channel.SendMessage(MsgcInputsKeyUp, EncodeKeyUp(scancode))
}

// SendKeyPress sends down, waits 50ms, then sends up.
func (ic *InputsChannel) SendKeyPress(scancode uint32) error {
	if err := ic.SendKeyDown(scancode); err != nil {
		return err
	}
	time.Sleep(keyDelay)
	return ic.SendKeyUp(scancode)
}

// SendKeyModifiers pushes the lock-key state to the server (msg 103).
func (ic *InputsChannel) SendKeyModifiers(mods KeyModifiersState) error {
	if err := ic.requireConnected(); err != nil {
		return err
	}
	return ic.channel.SendMessage(MsgcInputsKeyModifiers, EncodeKeyModifiers(mods.Flags()))
}

// SendText types each character, looking up its scancode via the
// canonical ASCII table; uppercase letters and the shifted-symbol set are
// bracketed with Left-Shift down/up, with 20ms between characters.
func (ic *InputsChannel) SendText(text string) error {
	for _, r := range text {
		scancode, ok := charToScancode(r)
		if !ok {
			continue
		}

		needsShift := (r >= 'A' && r <= 'Z') || strings.ContainsRune(shiftedSymbols, r)

		if needsShift {
			if err := ic.SendKeyDown(ScancodeLeftShift); err != nil {
				return err
			}
		}
		if err := ic.SendKeyPress(scancode); err != nil {
			return err
		}
		if needsShift {
			if err := ic.SendKeyUp(ScancodeLeftShift); err != nil {
				return err
			}
		}

		time.Sleep(charDelay)
	}
	return nil
}

// SendMousePosition sends an absolute-coordinate move (client mouse mode).
func (ic *InputsChannel) SendMousePosition(x, y uint32, displayID uint8) error {
	if err := ic.requireConnected(); err != nil {
		return err
	}
	buttons := ic.buttonsState.Load()
	if err := ic.channel.SendMessage(MsgcInputsMousePosition, EncodeMousePosition(x, y, buttons, displayID)); err != nil {
		return err
	}
	ic.motionAckPending.Add(1)
	return nil
}

// SendMouseMotion sends a relative move (server mouse mode).
func (ic *InputsChannel) SendMouseMotion(dx, dy int32) error {
	if err := ic.requireConnected(); err != nil {
		return err
	}
	buttons := ic.buttonsState.Load()
	if err := ic.channel.SendMessage(MsgcInputsMouseMotion, EncodeMouseMotion(dx, dy, buttons)); err != nil {
		return err
	}
	ic.motionAckPending.Add(1)
	return nil
}

// MousePress updates buttons_state then sends the press message.
func (ic *InputsChannel) MousePress(button MouseButton) error {
	if err := ic.requireConnected(); err != nil {
		return err
	}
	newState := ic.buttonsState.Or(button.mask()) | button.mask()
	return ic.channel.SendMessage(MsgcInputsMousePress, EncodeMousePress(button.id(), newState))
}

// MouseRelease updates buttons_state then sends the release message.
func (ic *InputsChannel) MouseRelease(button MouseButton) error {
	if err := ic.requireConnected(); err != nil {
		return err
	}
	newState := ic.buttonsState.And(^button.mask()) &^ button.mask()
	return ic.channel.SendMessage(MsgcInputsMouseRelease, EncodeMouseRelease(button.id(), newState))
}

// MouseClick = press + 50ms + release.
func (ic *InputsChannel) MouseClick(button MouseButton) error {
	if err := ic.MousePress(button); err != nil {
		return err
	}
	time.Sleep(clickDelay)
	return ic.MouseRelease(button)
}

// MouseDoubleClick = click + 100ms + click.
func (ic *InputsChannel) MouseDoubleClick(button MouseButton) error {
	if err := ic.MouseClick(button); err != nil {
		return err
	}
	time.Sleep(doubleClickDelay)
	return ic.MouseClick(button)
}

// MouseScroll issues n short press/release pairs of ScrollUp/ScrollDown,
// 20ms apart.
func (ic *InputsChannel) MouseScroll(up bool, count int) error {
	button := MouseScrollDown
	if up {
		button = MouseScrollUp
	}
	for i := 0; i < count; i++ {
		if err := ic.MousePress(button); err != nil {
			return err
		}
		if err := ic.MouseRelease(button); err != nil {
			return err
		}
		time.Sleep(scrollDelay)
	}
	return nil
}

// ButtonsState returns the current mouse button bitmask.
func (ic *InputsChannel) ButtonsState() uint32 { return ic.buttonsState.Load() }

// KeyModifiers returns the last-known lock-key state.
func (ic *InputsChannel) KeyModifiers() KeyModifiersState {
	return KeyModifiersFromFlags(ic.keyModifiers.Load())
}

// MotionAckPending returns the number of motion/position sends not yet
// acknowledged by the server.
func (ic *InputsChannel) MotionAckPending() uint32 { return ic.motionAckPending.Load() }

// ProcessEvents reads and handles one server message: KeyModifiers update
// or a MouseMotionAck, which decrements the pending counter by up to
// MotionAckBunch.
func (ic *InputsChannel) ProcessEvents() error {
	msgType, data, err := ic.channel.ReceiveMessage()
	if err != nil {
		return atperrors.Wrap(atperrors.KindReceiveFailed, "spice inputs event pump", err)
	}

	switch msgType {
	case MsgInputsKeyModifiers:
		mods, err := ParseMsgInputsKeyModifiers(data)
		if err == nil {
			ic.keyModifiers.Store(mods)
		}
	case MsgInputsMouseMotionAck:
		for {
			cur := ic.motionAckPending.Load()
			dec := MotionAckBunch
			if cur < dec {
				dec = cur
			}
			if ic.motionAckPending.CompareAndSwap(cur, cur-dec) {
				break
			}
		}
	}
	return nil
}

// charToScancode maps a printable character to its PC/AT scancode set 1
// position, ignoring case and shift state (callers bracket Shift
// themselves). Returns false for characters with no mapping.
func charToScancode(r rune) (uint32, bool) {
	lower := r
	if r >= 'A' && r <= 'Z' {
		lower = r + ('a' - 'A')
	}
	switch lower {
	case 'a':
		return 0x1E, true
	case 'b':
		return 0x30, true
	case 'c':
		return 0x2E, true
	case 'd':
		return 0x20, true
	case 'e':
		return 0x12, true
	case 'f':
		return 0x21, true
	case 'g':
		return 0x22, true
	case 'h':
		return 0x23, true
	case 'i':
		return 0x17, true
	case 'j':
		return 0x24, true
	case 'k':
		return 0x25, true
	case 'l':
		return 0x26, true
	case 'm':
		return 0x32, true
	case 'n':
		return 0x31, true
	case 'o':
		return 0x18, true
	case 'p':
		return 0x19, true
	case 'q':
		return 0x10, true
	case 'r':
		return 0x13, true
	case 's':
		return 0x1F, true
	case 't':
		return 0x14, true
	case 'u':
		return 0x16, true
	case 'v':
		return 0x2F, true
	case 'w':
		return 0x11, true
	case 'x':
		return 0x2D, true
	case 'y':
		return 0x15, true
	case 'z':
		return 0x2C, true
	case '0', ')':
		return 0x0B, true
	case '1', '!':
		return 0x02, true
	case '2', '@':
		return 0x03, true
	case '3', '#':
		return 0x04, true
	case '4', '$':
		return 0x05, true
	case '5', '%':
		return 0x06, true
	case '6', '^':
		return 0x07, true
	case '7', '&':
		return 0x08, true
	case '8', '*':
		return 0x09, true
	case '9', '(':
		return 0x0A, true
	case ' ':
		return 0x39, true
	case '\n', '\r':
		return 0x1C, true
	case '\t':
		return 0x0F, true
	case '-', '_':
		return 0x0C, true
	case '=', '+':
		return 0x0D, true
	case '[', '{':
		return 0x1A, true
	case ']', '}':
		return 0x1B, true
	case '\\', '|':
		return 0x2B, true
	case ';', ':':
		return 0x27, true
	case '\'', '"':
		return 0x28, true
	case '`', '~':
		return 0x29, true
	case ',', '<':
		return 0x33, true
	case '.', '>':
		return 0x34, true
	case '/', '?':
		return 0x35, true
	default:
		return 0, false
	}
}
