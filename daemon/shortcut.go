// SPDX-FileCopyrightText: 2025 The globalactiond Authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package daemon

import (
	"errors"
	"fmt"
	"strings"

	"globalactiond/xworker"
)

var (
	errUnknownModifier = errors.New("unknown modifier")
	errUnresolvedKey   = errors.New("key does not resolve to a keycode")
	errNamelessKeycode = errors.New("keycode has no keysym name")
)

// modifierMasks maps shortcut tokens to the stored modifier bits.
var modifierMasks = map[string]uint32{
	"Shift":   xworker.MaskShift,
	"Control": xworker.MaskControl,
	"Alt":     xworker.MaskAlt,
	"Meta":    xworker.MaskMeta,
	"Level3":  xworker.MaskLevel3,
	"Level5":  xworker.MaskLevel5,
}

// shortcutToX parses "Mod1+Mod2+…+Key": every segment but the last must be a
// known modifier token, the last is resolved to a keycode by the worker.
// A key resolving to keycode 0 is a failure, not a silent no-op grab.
func (m *Manager) shortcutToX(shortcut string) (xBinding, error) {
	var result xBinding

	parts := strings.Split(shortcut, "+")
	for _, part := range parts[:len(parts)-1] {
		mask, ok := modifierMasks[part]
		if !ok {
			return result, fmt.Errorf("%w: %q", errUnknownModifier, part)
		}
		result.mask |= mask
	}

	code, err := m.x.StringToKeycode(parts[len(parts)-1])
	if err != nil {
		return result, err
	}
	if code == 0 {
		return result, fmt.Errorf("%w: %q", errUnresolvedKey,
			parts[len(parts)-1])
	}
	result.code = code
	return result, nil
}

// xToShortcut renders the canonical textual form: modifiers in fixed order
// followed by the keysym name of the keycode.
func (m *Manager) xToShortcut(x xBinding) (string, error) {
	key, err := m.x.KeycodeToString(x.code)
	if err != nil {
		return "", err
	}
	if key == "" {
		return "", errNamelessKeycode
	}
	return modifierPrefix(x.mask) + key, nil
}

func modifierPrefix(mask uint32) string {
	var b strings.Builder
	if mask&xworker.MaskLevel5 != 0 {
		b.WriteString("Level5+")
	}
	if mask&xworker.MaskLevel3 != 0 {
		b.WriteString("Level3+")
	}
	if mask&xworker.MaskMeta != 0 {
		b.WriteString("Meta+")
	}
	if mask&xworker.MaskAlt != 0 {
		b.WriteString("Alt+")
	}
	if mask&xworker.MaskControl != 0 {
		b.WriteString("Control+")
	}
	if mask&xworker.MaskShift != 0 {
		b.WriteString("Shift+")
	}
	return b.String()
}

// resolveShortcut computes the X binding for an input shortcut and the
// canonical form all indexing uses, remembering the pair in both direction
// maps.
func (m *Manager) resolveShortcut(shortcut string) (xBinding, string, bool) {
	x, err := m.shortcutToX(shortcut)
	if err != nil {
		logger.Warningf("cannot extract keycode and modifiers from shortcut %q: %v",
			shortcut, err)
		return xBinding{}, "", false
	}

	m.mu.Lock()
	used, cached := m.reg.shortcutByX[x]
	m.mu.Unlock()

	if !cached {
		used, err = m.xToShortcut(x)
		if err != nil {
			logger.Warningf("cannot get back shortcut %q: %v", shortcut, err)
			return xBinding{}, "", false
		}
	}

	if shortcut != used {
		logger.Infof("using shortcut %q instead of %q", used, shortcut)
	}

	m.mu.Lock()
	m.reg.shortcutByX[x] = used
	if _, ok := m.reg.xByShortcut[used]; !ok {
		m.reg.xByShortcut[used] = x
	}
	m.mu.Unlock()

	return x, used, true
}

// grabOrReuse guarantees the X server holds a grab for x: either an existing
// non-empty id set already implies one, or a new grab is installed.
func (m *Manager) grabOrReuse(x xBinding, shortcut string) bool {
	m.mu.Lock()
	reuse := len(m.reg.idsByShortcut[shortcut]) > 0
	m.mu.Unlock()
	if reuse {
		return true
	}
	if err := m.x.GrabKey(x.code, x.mask); err != nil {
		logger.Warningf("cannot grab shortcut %q: %v", shortcut, err)
		return false
	}
	return true
}

// releaseShortcut drops id from the dispatch index and ungrabs the binding
// when the last id is gone, removing the shortcut from both direction maps
// so the registry returns to its prior state. Called without the data lock
// held.
func (m *Manager) releaseShortcut(shortcut string, id uint64) {
	m.mu.Lock()
	last := m.reg.dropID(shortcut, id)
	x := m.reg.xByShortcut[shortcut]
	if last {
		delete(m.reg.xByShortcut, shortcut)
		delete(m.reg.shortcutByX, x)
	}
	m.mu.Unlock()
	if !last {
		return
	}
	if err := m.x.UngrabKey(x.code, x.mask); err != nil {
		logger.Warningf("cannot ungrab shortcut %q: %v", shortcut, err)
	}
}
