// SPDX-FileCopyrightText: 2025 The globalactiond Authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package daemon

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"globalactiond/daemon/action"
	"globalactiond/xworker"
)

func TestAddCommandAction(t *testing.T) {
	x := newFakeX()
	m := newTestManager(x)

	used, id := m.addCommandAction("Control+Alt+T", "/usr/bin/xterm", nil,
		"terminal")
	require.Equal(t, "Alt+Control+T", used)
	require.Equal(t, uint64(1), id)

	info, found := m.actionByID(id)
	require.True(t, found)
	assert.Equal(t, action.TypeCommand, info.Type)
	assert.Equal(t, "Alt+Control+T", info.Shortcut)
	assert.Equal(t, "terminal", info.Description)
	assert.True(t, info.Enabled)

	assert.Contains(t, m.allActionIds(), id)
	assert.True(t, x.isGrabbed(xBinding{
		code: 28,
		mask: xworker.MaskControl | xworker.MaskAlt,
	}))
}

func TestCanonicalShortcutOrder(t *testing.T) {
	x := newFakeX()
	m := newTestManager(x)

	used, id := m.addMethodAction("Control+Alt+F1", "org.example.Svc",
		"/org/example", "org.example.Iface", "Activate", "")
	require.NotZero(t, id)
	assert.Equal(t, "Alt+Control+F1", used)

	// Canonicalization is idempotent.
	used2, id2 := m.addCommandAction("Alt+Control+F1", "/bin/true", nil, "")
	require.NotZero(t, id2)
	assert.Equal(t, used, used2)

	// Both ids share a single grab.
	assert.Equal(t, 1, x.grabCount())
}

func TestUnknownModifierFails(t *testing.T) {
	x := newFakeX()
	m := newTestManager(x)

	used, id := m.addCommandAction("Hyper+T", "/bin/true", nil, "")
	assert.Empty(t, used)
	assert.Zero(t, id)
	assert.Zero(t, x.grabCount())
	assert.Empty(t, m.allActionIds())
}

func TestUnresolvedKeycodeFails(t *testing.T) {
	x := newFakeX()
	m := newTestManager(x)

	used, id := m.addCommandAction("Control+NoSuchKey", "/bin/true", nil, "")
	assert.Empty(t, used)
	assert.Zero(t, id)
	assert.Zero(t, x.grabCount())
}

func TestIdMonotonicity(t *testing.T) {
	x := newFakeX()
	m := newTestManager(x)

	_, id1 := m.addCommandAction("Control+T", "/bin/true", nil, "")
	ok := m.removeAction(id1)
	require.True(t, ok)
	_, id2 := m.addCommandAction("Control+T", "/bin/true", nil, "")

	assert.Greater(t, id2, id1)
}

func TestRemovalSymmetry(t *testing.T) {
	x := newFakeX()
	m := newTestManager(x)

	require.Zero(t, x.grabCount())
	_, id := m.addCommandAction("Control+T", "/bin/true", nil, "")
	require.Equal(t, 1, x.grabCount())

	require.True(t, m.removeAction(id))
	assert.Zero(t, x.grabCount())
	assert.Empty(t, m.allActionIds())

	_, found := m.actionByID(id)
	assert.False(t, found)

	// The registry is back to its prior state, both direction maps
	// included.
	m.mu.Lock()
	assert.Empty(t, m.reg.idsByShortcut)
	assert.Empty(t, m.reg.xByShortcut)
	assert.Empty(t, m.reg.shortcutByX)
	m.mu.Unlock()
}

func TestSharedGrabRefcount(t *testing.T) {
	x := newFakeX()
	m := newTestManager(x)

	_, id1 := m.addCommandAction("Meta+X", "/bin/a", nil, "")
	_, id2 := m.addCommandAction("Meta+X", "/bin/b", nil, "")
	require.Equal(t, 1, x.grabCount())
	require.Equal(t, 1, x.grabCalls)

	// The grab stays while one binding remains.
	require.True(t, m.removeAction(id1))
	assert.Equal(t, 1, x.grabCount())

	require.True(t, m.removeAction(id2))
	assert.Zero(t, x.grabCount())
}

func TestModifyWrongTypeFails(t *testing.T) {
	x := newFakeX()
	m := newTestManager(x)

	_, cmdID := m.addCommandAction("Control+T", "/bin/true", nil, "")
	_, methodID := m.addMethodAction("Control+F1", "org.example.Svc",
		"/org/example", "org.example.Iface", "Run", "")

	assert.False(t, m.modifyMethodAction(cmdID, "s", "/p", "i", "m", ""))
	assert.False(t, m.modifyCommandAction(methodID, "/bin/false", nil, ""))
	assert.False(t, m.modifyMethodAction(999, "s", "/p", "i", "m", ""))

	assert.True(t, m.modifyCommandAction(cmdID, "/bin/false", []string{"-x"}, ""))
	info, found := m.commandActionInfo(cmdID)
	require.True(t, found)
	assert.Equal(t, "/bin/false", info.Command)
	assert.Equal(t, []string{"-x"}, info.Arguments)
}

func TestChangeShortcut(t *testing.T) {
	x := newFakeX()
	m := newTestManager(x)

	_, id := m.addCommandAction("Control+T", "/bin/true", nil, "")
	grabsBefore := x.grabCalls
	ungrabsBefore := x.ungrabCalls

	// A canonical equivalent is a no-op on grabs.
	used := m.changeShortcut(id, "Control+T")
	assert.Equal(t, "Control+T", used)
	assert.Equal(t, grabsBefore, x.grabCalls)
	assert.Equal(t, ungrabsBefore, x.ungrabCalls)

	used = m.changeShortcut(id, "Meta+L")
	assert.Equal(t, "Meta+L", used)
	assert.False(t, x.isGrabbed(xBinding{code: 28, mask: xworker.MaskControl}))
	assert.True(t, x.isGrabbed(xBinding{code: 46, mask: xworker.MaskMeta}))

	info, _ := m.actionByID(id)
	assert.Equal(t, "Meta+L", info.Shortcut)
}

func TestChangeShortcutUnknownId(t *testing.T) {
	m := newTestManager(newFakeX())
	assert.Empty(t, m.changeShortcut(7, "Control+T"))
}

func TestSwapActions(t *testing.T) {
	x := newFakeX()
	m := newTestManager(x)

	_, id1 := m.addCommandAction("Meta+X", "/bin/a", nil, "first")
	_, id2 := m.addCommandAction("Meta+X", "/bin/b", nil, "second")
	_, id3 := m.addCommandAction("Control+T", "/bin/c", nil, "other")

	// Different shortcuts cannot swap.
	assert.False(t, m.swapActions(id1, id3))

	require.True(t, m.swapActions(id1, id2))
	info1, _ := m.actionByID(id1)
	assert.Equal(t, "second", info1.Description)

	// Swapping twice restores the original state.
	require.True(t, m.swapActions(id1, id2))
	info1, _ = m.actionByID(id1)
	assert.Equal(t, "first", info1.Description)
}

func TestRemoveDBusActionById(t *testing.T) {
	x := newFakeX()
	m := newTestManager(x)

	used, id := m.addDBusAction("Meta+L", "/lock", "", ":1.42")
	require.Equal(t, "Meta+L", used)
	require.NotZero(t, id)

	// dbus actions cannot be removed by id, only by (owner, path).
	assert.False(t, m.removeAction(id))
	assert.False(t, m.modifyActionDescription(id, "x"))

	removed := m.removeDBusAction("/lock", ":1.42")
	assert.Equal(t, id, removed)
	assert.Zero(t, x.grabCount())
}

func TestDuplicateOwnerPath(t *testing.T) {
	x := newFakeX()
	m := newTestManager(x)

	used1, id1 := m.addDBusAction("Meta+L", "/lock", "", ":1.42")
	used2, id2 := m.addDBusAction("Control+T", "/lock", "", ":1.42")

	// The existing binding is returned unchanged.
	assert.Equal(t, id1, id2)
	assert.Equal(t, used1, used2)
	assert.Equal(t, 1, x.grabCount())
}

func TestGrabFailureMutatesNothing(t *testing.T) {
	x := newFakeX()
	m := newTestManager(x)

	x.failNextGrab = true
	used, id := m.addCommandAction("Control+T", "/bin/true", nil, "")
	assert.Empty(t, used)
	assert.Zero(t, id)
	assert.Empty(t, m.allActionIds())

	x.failNextGrab = true
	_, id = m.addDBusAction("Meta+L", "/lock", "", ":1.42")
	assert.Zero(t, id)

	// The failed registration leaves no (owner, path) residue behind.
	_, id = m.addDBusAction("Meta+L", "/lock", "", ":1.42")
	assert.NotZero(t, id)
}

func TestDispatchPolicies(t *testing.T) {
	x := newFakeX()
	m := newTestManager(x)

	_, id1 := m.addCommandAction("Meta+X", "/bin/a", nil, "")
	_, id2 := m.addCommandAction("Meta+X", "/bin/b", nil, "")

	first := newFakeAction(false)
	second := newFakeAction(true)
	m.mu.Lock()
	m.reg.byID[id1].act = first
	m.reg.byID[id2].act = second
	m.mu.Unlock()

	press := func() {
		m.mu.Lock()
		m.dispatchLocked(53, xworker.MaskMeta)
		m.mu.Unlock()
	}

	// FIRST walks insertion order until one action reports success.
	press()
	assert.Equal(t, 1, first.calls)
	assert.Equal(t, 1, second.calls)

	// LAST starts from the end; the succeeding action stops the walk.
	m.mu.Lock()
	m.behaviour = BehaviourLast
	m.mu.Unlock()
	press()
	assert.Equal(t, 1, first.calls)
	assert.Equal(t, 2, second.calls)

	// ALL ignores results.
	m.mu.Lock()
	m.behaviour = BehaviourAll
	m.mu.Unlock()
	press()
	assert.Equal(t, 2, first.calls)
	assert.Equal(t, 3, second.calls)

	// NONE does nothing while more than one id is bound, and disabled
	// actions still count.
	m.mu.Lock()
	m.behaviour = BehaviourNone
	m.mu.Unlock()
	first.enabled = false
	press()
	assert.Equal(t, 2, first.calls)
	assert.Equal(t, 3, second.calls)

	require.True(t, m.removeAction(id1))
	press()
	assert.Equal(t, 4, second.calls)
}

func TestDispatchSkipsDisabled(t *testing.T) {
	x := newFakeX()
	m := newTestManager(x)

	_, id1 := m.addCommandAction("Meta+X", "/bin/a", nil, "")
	_, id2 := m.addCommandAction("Meta+X", "/bin/b", nil, "")

	first := newFakeAction(true)
	second := newFakeAction(true)
	m.mu.Lock()
	m.reg.byID[id1].act = first
	m.reg.byID[id2].act = second
	m.mu.Unlock()

	require.True(t, m.enableAction(id1, false))

	m.mu.Lock()
	m.dispatchLocked(53, xworker.MaskMeta)
	m.mu.Unlock()

	assert.Zero(t, first.calls)
	assert.Equal(t, 1, second.calls)
}

func TestDispatchUnknownShortcut(t *testing.T) {
	m := newTestManager(newFakeX())
	m.mu.Lock()
	m.dispatchLocked(99, 0)
	m.mu.Unlock()
}

func TestEnableActionPersistsInInfo(t *testing.T) {
	m := newTestManager(newFakeX())

	_, id := m.addCommandAction("Control+T", "/bin/true", nil, "")
	require.True(t, m.enableAction(id, false))

	info, found := m.actionByID(id)
	require.True(t, found)
	assert.False(t, info.Enabled)
}

func TestTypedInfoLookups(t *testing.T) {
	m := newTestManager(newFakeX())

	_, cmdID := m.addCommandAction("Control+T", "/usr/bin/xterm",
		[]string{"-e", "top"}, "")
	_, methodID := m.addMethodAction("Control+F1", "org.example.Svc",
		"/org/example", "org.example.Iface", "Run", "")
	_, dbusID := m.addDBusAction("Meta+L", "/lock", "", ":1.42")

	cmdInfo, found := m.commandActionInfo(cmdID)
	require.True(t, found)
	assert.Equal(t, "/usr/bin/xterm", cmdInfo.Command)
	assert.Equal(t, []string{"-e", "top"}, cmdInfo.Arguments)

	methodInfo, found := m.methodActionInfo(methodID)
	require.True(t, found)
	assert.Equal(t, "org.example.Svc", methodInfo.Service)
	assert.Equal(t, "Run", methodInfo.Method)

	dbusInfo, found := m.dbusActionInfo(dbusID)
	require.True(t, found)
	assert.Equal(t, ":1.42", dbusInfo.Service)

	// Wrong-type lookups fail.
	_, found = m.commandActionInfo(methodID)
	assert.False(t, found)
	_, found = m.methodActionInfo(dbusID)
	assert.False(t, found)
	_, found = m.dbusActionInfo(cmdID)
	assert.False(t, found)
}
