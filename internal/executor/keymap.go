// SPDX-FileCopyrightText: 2023 SAP SE or an SAP affiliate company and IronCore contributors
// SPDX-License-Identifier: Apache-2.0

package executor

import (
	"strings"

	"github.com/wooveep/atp-runner/internal/spice"
)

// namedScancodes maps a scenario SendKey action's symbolic key name to a
// PC/AT scancode set 1 value, reusing internal/spice's named Scancode*
// constants for every key without a single-character representation.
var namedScancodes = map[string]uint32{
	"ESC": spice.ScancodeEscape, "ESCAPE": spice.ScancodeEscape,
	"BACKSPACE": spice.ScancodeBackspace,
	"TAB":       spice.ScancodeTab,
	"ENTER":     spice.ScancodeEnter, "RETURN": spice.ScancodeEnter,
	"LCTRL": spice.ScancodeLeftCtrl, "CTRL": spice.ScancodeLeftCtrl,
	"RCTRL":  spice.ScancodeRightCtrl,
	"LSHIFT": spice.ScancodeLeftShift, "SHIFT": spice.ScancodeLeftShift,
	"RSHIFT": spice.ScancodeRightShift,
	"LALT":   spice.ScancodeLeftAlt, "ALT": spice.ScancodeLeftAlt,
	"RALT":      spice.ScancodeRightAlt,
	"SPACE":     spice.ScancodeSpace,
	"CAPSLOCK":  spice.ScancodeCapsLock,
	"NUMLOCK":   spice.ScancodeNumLock,
	"SCROLLLOCK": spice.ScancodeScrollLock,
	"INSERT":    spice.ScancodeInsert,
	"DELETE":    spice.ScancodeDelete, "DEL": spice.ScancodeDelete,
	"HOME":     spice.ScancodeHome,
	"END":      spice.ScancodeEnd,
	"PAGEUP":   spice.ScancodePageUp,
	"PAGEDOWN": spice.ScancodePageDown,
	"UP":       spice.ScancodeUp,
	"DOWN":     spice.ScancodeDown,
	"LEFT":     spice.ScancodeLeft,
	"RIGHT":    spice.ScancodeRight,
	"WIN":      spice.ScancodeLeftWin, "LWIN": spice.ScancodeLeftWin,
	"RWIN": spice.ScancodeRightWin,
	"MENU": spice.ScancodeMenu,
	"F1": spice.ScancodeF1, "F2": spice.ScancodeF2, "F3": spice.ScancodeF3,
	"F4": spice.ScancodeF4, "F5": spice.ScancodeF5, "F6": spice.ScancodeF6,
	"F7": spice.ScancodeF7, "F8": spice.ScancodeF8, "F9": spice.ScancodeF9,
	"F10": spice.ScancodeF10, "F11": spice.ScancodeF11, "F12": spice.ScancodeF12,
}

// resolveScancode translates a scenario Action.Key into a scancode. A
// single printable character falls through to the session's SendText
// path instead (handled by the caller); this function only resolves the
// named-key table.
func resolveScancode(key string) (uint32, bool) {
	code, ok := namedScancodes[strings.ToUpper(strings.TrimSpace(key))]
	return code, ok
}
