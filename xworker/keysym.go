// SPDX-FileCopyrightText: 2025 The globalactiond Authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package xworker

import (
	"github.com/jezek/xgb/xproto"
)

// Modifier masks stored in an X binding. Only these six bits are
// significant; lock-style modifiers are handled by the grab fan-out.
// Level5 sits on Mod3 and Level3 on Mod5, matching the XKB mappings this
// daemon is deployed against.
const (
	MaskShift   uint32 = xproto.ModMaskShift
	MaskControl uint32 = xproto.ModMaskControl
	MaskAlt     uint32 = xproto.ModMask1
	MaskMeta    uint32 = xproto.ModMask4
	MaskLevel3  uint32 = xproto.ModMask5
	MaskLevel5  uint32 = xproto.ModMask3

	MaskSignificant = MaskShift | MaskControl | MaskAlt | MaskMeta |
		MaskLevel3 | MaskLevel5
)

// Keysym values from the X11 keysym definitions, limited to what the
// classification below needs.
const (
	xkBackSpace  = 0xff08
	xkTab        = 0xff09
	xkLinefeed   = 0xff0a
	xkClear      = 0xff0b
	xkReturn     = 0xff0d
	xkPause      = 0xff13
	xkScrollLock = 0xff14
	xkSysReq     = 0xff15
	xkEscape     = 0xff1b
	xkDelete     = 0xffff

	xkMultiKey          = 0xff20
	xkCodeinput         = 0xff37
	xkSingleCandidate   = 0xff3c
	xkMultipleCandidate = 0xff3d
	xkPreviousCandidate = 0xff3e

	xkHome     = 0xff50
	xkLeft     = 0xff51
	xkUp       = 0xff52
	xkRight    = 0xff53
	xkDown     = 0xff54
	xkPageUp   = 0xff55
	xkPageDown = 0xff56
	xkEnd      = 0xff57
	xkBegin    = 0xff58

	xkSelect  = 0xff60
	xkPrint   = 0xff61
	xkExecute = 0xff62
	xkInsert  = 0xff63
	xkUndo    = 0xff65
	xkRedo    = 0xff66
	xkMenu    = 0xff67
	xkFind    = 0xff68
	xkCancel  = 0xff69
	xkHelp    = 0xff6a
	xkBreak   = 0xff6b
	xkNumLock = 0xff7f

	xkKPSpace     = 0xff80
	xkKPTab       = 0xff89
	xkKPEnter     = 0xff8d
	xkKPF1        = 0xff91
	xkKPF2        = 0xff92
	xkKPF3        = 0xff93
	xkKPF4        = 0xff94
	xkKPHome      = 0xff95
	xkKPLeft      = 0xff96
	xkKPUp        = 0xff97
	xkKPRight     = 0xff98
	xkKPDown      = 0xff99
	xkKPPageUp    = 0xff9a
	xkKPPageDown  = 0xff9b
	xkKPEnd       = 0xff9c
	xkKPBegin     = 0xff9d
	xkKPInsert    = 0xff9e
	xkKPDelete    = 0xff9f
	xkKPMultiply  = 0xffaa
	xkKPAdd       = 0xffab
	xkKPSeparator = 0xffac
	xkKPSubtract  = 0xffad
	xkKPDecimal   = 0xffae
	xkKPDivide    = 0xffaf
	xkKP0         = 0xffb0
	xkKP9         = 0xffb9
	xkKPEqual     = 0xffbd

	xkShiftL     = 0xffe1
	xkShiftR     = 0xffe2
	xkControlL   = 0xffe3
	xkControlR   = 0xffe4
	xkCapsLock   = 0xffe5
	xkMetaL      = 0xffe7
	xkMetaR      = 0xffe8
	xkAltL       = 0xffe9
	xkAltR       = 0xffea
	xkSuperL     = 0xffeb
	xkSuperR     = 0xffec
	xkHyperL     = 0xffed
	xkHyperR     = 0xffee
	xkModeSwitch = 0xff7e // doubles as ISO_Group_Shift

	xkISOLock           = 0xfe01
	xkISOLevel3Shift    = 0xfe03
	xkISOLevel3Lock     = 0xfe05
	xkISOGroupLock      = 0xfe07
	xkISONextGroupLock  = 0xfe09
	xkISOPrevGroupLock  = 0xfe0b
	xkISOFirstGroupLock = 0xfe0d
	xkISOLastGroupLock  = 0xfe0f
	xkISOLevel5Shift    = 0xfe11
	xkISOLevel5Lock     = 0xfe13

	xkLowerA = 0x0061
	xkLowerZ = 0x007a

	xkGrave        = 0x0060
	xk0            = 0x0030
	xk9            = 0x0039
	xkMinus        = 0x002d
	xkEqual        = 0x003d
	xkUpperA       = 0x0041
	xkUpperZ       = 0x005a
	xkBracketLeft  = 0x005b
	xkBackslash    = 0x005c
	xkBracketRight = 0x005d
	xkSemicolon    = 0x003b
	xkApostrophe   = 0x0027
	xkComma        = 0x002c
	xkPeriod       = 0x002e
	xkSlash        = 0x002f
)

// AllowMasks gates which otherwise-typeable keys may be captured during an
// interactive grab when no modifiers are pressed.
type AllowMasks struct {
	Locks       bool
	BaseSpecial bool
	MiscSpecial bool
	BaseKeypad  bool
	MiscKeypad  bool
	Printable   bool
}

// DefaultAllowMasks mirrors the daemon's built-in gating: keypad and
// miscellaneous special keys may be grabbed bare, lock, base special and
// printable keys need a modifier. Keysyms outside these classes are always
// allowed.
func DefaultAllowMasks() AllowMasks {
	return AllowMasks{
		Locks:       false,
		BaseSpecial: false,
		MiscSpecial: true,
		BaseKeypad:  true,
		MiscKeypad:  true,
		Printable:   false,
	}
}

func isModifierKeysym(sym xproto.Keysym) bool {
	switch sym {
	case xkShiftL, xkShiftR,
		xkControlL, xkControlR,
		xkMetaL, xkMetaR,
		xkAltL, xkAltR,
		xkSuperL, xkSuperR,
		xkHyperL, xkHyperR,
		xkISOLevel3Shift, xkISOLevel5Shift,
		xkModeSwitch:
		return true
	}
	return false
}

// allowed implements the per-class gating. The printable class tolerates
// Shift and the level shifts, every other class requires the bare key to be
// explicitly allowed.
func (am AllowMasks) allowed(sym xproto.Keysym, mods uint32) bool {
	switch sym {
	case xkScrollLock, xkNumLock, xkCapsLock,
		xkISOLock, xkISOLevel3Lock, xkISOLevel5Lock,
		xkISOGroupLock, xkISONextGroupLock, xkISOPrevGroupLock,
		xkISOFirstGroupLock, xkISOLastGroupLock:
		if mods == 0 {
			return am.Locks
		}

	case xkHome, xkLeft, xkUp, xkRight, xkDown,
		xkPageUp, xkPageDown, xkEnd, xkDelete, xkInsert,
		xkBackSpace, xkTab, xkReturn, ' ':
		if mods == 0 {
			return am.BaseSpecial
		}

	case xkPause, xkPrint, xkLinefeed, xkClear,
		xkMultiKey, xkCodeinput, xkSingleCandidate, xkMultipleCandidate,
		xkPreviousCandidate, xkBegin, xkSelect, xkExecute,
		xkUndo, xkRedo, xkMenu, xkFind, xkCancel, xkHelp,
		xkSysReq, xkBreak:
		if mods == 0 {
			return am.MiscSpecial
		}

	case xkKPEnter, xkKPHome, xkKPLeft, xkKPUp, xkKPRight, xkKPDown,
		xkKPPageUp, xkKPPageDown, xkKPEnd, xkKPBegin,
		xkKPInsert, xkKPDelete,
		xkKPMultiply, xkKPAdd, xkKPSubtract, xkKPDecimal, xkKPDivide:
		if mods == 0 {
			return am.BaseKeypad
		}

	case xkKPSpace, xkKPTab, xkKPF1, xkKPF2, xkKPF3, xkKPF4,
		xkKPEqual, xkKPSeparator:
		if mods == 0 {
			return am.MiscKeypad
		}

	case xkGrave, xkMinus, xkEqual,
		xkBracketLeft, xkBracketRight, xkBackslash,
		xkSemicolon, xkApostrophe, xkComma, xkPeriod, xkSlash:
		if mods&^(MaskShift|MaskLevel3|MaskLevel5) == 0 {
			return am.Printable
		}

	default:
		if sym >= xkKP0 && sym <= xkKP9 {
			if mods == 0 {
				return am.BaseKeypad
			}
		} else if (sym >= xk0 && sym <= xk9) || (sym >= xkUpperA && sym <= xkUpperZ) {
			if mods&^(MaskShift|MaskLevel3|MaskLevel5) == 0 {
				return am.Printable
			}
		}
	}
	return true
}
