// SPDX-FileCopyrightText: 2025 The globalactiond Authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package daemon

import (
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/godbus/dbus/v5"
	ofdbus "github.com/linuxdeepin/go-dbus-factory/system/org.freedesktop.dbus"
	"github.com/linuxdeepin/go-lib/dbusutil"

	"globalactiond/daemon/action"
	"globalactiond/xworker"
)

// MultipleActionsBehaviour selects how several actions sharing one shortcut
// are treated on a key press.
type MultipleActionsBehaviour uint32

const (
	BehaviourFirst MultipleActionsBehaviour = iota
	BehaviourLast
	BehaviourAll
	BehaviourNone
)

func (b MultipleActionsBehaviour) String() string {
	switch b {
	case BehaviourFirst:
		return "first"
	case BehaviourLast:
		return "last"
	case BehaviourAll:
		return "all"
	case BehaviourNone:
		return "none"
	}
	return "first"
}

func ParseBehaviour(s string) (MultipleActionsBehaviour, bool) {
	switch strings.ToLower(s) {
	case "first":
		return BehaviourFirst, true
	case "last":
		return BehaviourLast, true
	case "all":
		return BehaviourAll, true
	case "none":
		return BehaviourNone, true
	}
	return BehaviourFirst, false
}

// xConn is what the control core needs from the X11 worker.
type xConn interface {
	StringToKeycode(name string) (uint8, error)
	KeycodeToString(code uint8) (string, error)
	GrabKey(code uint8, mask uint32) error
	UngrabKey(code uint8, mask uint32) error
	Exclusive(fn func(c xworker.Commander))
	SetAllowMasks(am xworker.AllowMasks)
	AbandonGrabLocked()
	GrabbingLocked() bool
}

// Manager is the control core: it owns the registries, serves the RPC
// surface and drives the X11 worker.
type Manager struct {
	service     *dbusutil.Service
	sessionConn *dbus.Conn

	// mu is the single data lock over every registry map, the behaviour
	// and allow-mask settings and the grab-session state. It is never held
	// across a worker command round-trip.
	mu sync.Mutex

	// opMu serializes mutating operations end-to-end, so the check of a
	// grab's reference count and the grab command itself act as one unit.
	opMu sync.Mutex

	x   xConn
	reg *registry

	behaviour  MultipleActionsBehaviour
	allowMasks xworker.AllowMasks

	configFiles  []string
	configFile   string
	saveAllowed  bool
	logLevelSet  bool
	behaviourSet bool

	grab grabSession

	adaptor *Daemon
	native  *Native

	sigLoop    *dbusutil.SignalLoop
	dbusDaemon ofdbus.DBus

	watcher *configWatcher
}

func newManager(service *dbusutil.Service, x xConn) *Manager {
	m := &Manager{
		service:     service,
		sessionConn: service.Conn(),
		x:           x,
		reg:         newRegistry(),
		behaviour:   BehaviourFirst,
		allowMasks:  xworker.DefaultAllowMasks(),
	}
	m.grab.init()
	m.adaptor = &Daemon{m: m}
	m.native = &Native{m: m}
	return m
}

// dispatchLocked handles one key press in normal mode. Called on the worker
// goroutine with mu held, for the full lookup-and-invoke.
func (m *Manager) dispatchLocked(keycode uint8, mask uint32) {
	shortcut := m.reg.shortcutByX[xBinding{code: keycode, mask: mask}]
	logger.Debugf("KeyPress %08x %02x %q", mask, keycode, shortcut)

	ids := m.reg.idsByShortcut[shortcut]
	if len(ids) == 0 {
		return
	}

	switch m.behaviour {
	case BehaviourFirst:
		for _, id := range ids {
			if m.callActionLocked(id) {
				break
			}
		}
	case BehaviourLast:
		for i := len(ids) - 1; i >= 0; i-- {
			if m.callActionLocked(ids[i]) {
				break
			}
		}
	case BehaviourAll:
		for _, id := range ids {
			m.callActionLocked(id)
		}
	case BehaviourNone:
		// Disabled actions still count here: a shortcut with two
		// bindings stays inert even when one of them is disabled.
		if len(ids) == 1 {
			m.callActionLocked(ids[0])
		}
	}
}

func (m *Manager) callActionLocked(id uint64) bool {
	b := m.reg.byID[id]
	if b == nil || !b.act.IsEnabled() {
		return false
	}
	return b.act.Call()
}

// addMethodAction registers a shortcut bound to a one-shot remote method
// call. Returns the canonical shortcut and the allocated id, or ("", 0).
func (m *Manager) addMethodAction(shortcut, service string, path dbus.ObjectPath,
	iface, method, description string) (string, uint64) {
	logger.Infof("addMethodAction shortcut:%q service:%q path:%q interface:%q method:%q description:%q",
		shortcut, service, path, iface, method, description)

	m.opMu.Lock()
	defer m.opMu.Unlock()

	act := action.NewMethod(m.sessionConn, service, path, iface, method,
		description)
	return m.addAction(shortcut, act)
}

// addCommandAction registers a shortcut that spawns a command.
func (m *Manager) addCommandAction(shortcut, command string, args []string,
	description string) (string, uint64) {
	logger.Infof("addCommandAction shortcut:%q command:%q arguments:%q description:%q",
		shortcut, command, args, description)

	m.opMu.Lock()
	defer m.opMu.Unlock()

	return m.addAction(shortcut, action.NewCommand(command, args, description))
}

// addAction is the shared tail of the simple registrations. Caller holds
// opMu.
func (m *Manager) addAction(shortcut string, act action.Action) (string, uint64) {
	x, used, ok := m.resolveShortcut(shortcut)
	if !ok {
		return "", 0
	}
	if !m.grabOrReuse(x, used) {
		return "", 0
	}

	m.mu.Lock()
	id := m.reg.nextID()
	m.reg.insert(id, used, act)
	m.mu.Unlock()

	logger.Infof("added action shortcut:%q id:%d", used, id)

	m.saveConfig()
	return used, id
}

// addOrRegisterDBusAction backs both the peer-facing registration (sender
// set) and the persistent configuration-file variant (sender empty). The
// binding is tracked under ownerKey, which is the registering peer's unique
// name, or the configured well-known name for persistent entries.
func (m *Manager) addOrRegisterDBusAction(shortcut, ownerKey, serviceName string,
	path dbus.ObjectPath, description, sender string) (string, uint64) {
	m.opMu.Lock()
	defer m.opMu.Unlock()

	m.mu.Lock()
	if !m.reg.addOwnerPath(ownerKey, path) {
		// Keep the existing binding; callers get its shortcut and id
		// back and cannot distinguish "created" from "already there".
		id, ok := m.reg.idByOwnerPath[ownerPath{owner: ownerKey, path: path}]
		var used string
		if ok {
			used = m.reg.byID[id].shortcut
		}
		m.mu.Unlock()
		logger.Warningf("dbus client already registered for %q @ %s",
			ownerKey, path)
		return used, id
	}
	m.mu.Unlock()

	rollback := func() {
		m.mu.Lock()
		m.reg.dropOwnerPath(ownerKey, path)
		m.mu.Unlock()
	}

	x, used, ok := m.resolveShortcut(shortcut)
	if !ok {
		rollback()
		return "", 0
	}
	if !m.grabOrReuse(x, used) {
		rollback()
		return "", 0
	}

	var act *action.DBus
	if sender == "" {
		act = action.NewDBusPersistent(serviceName, path, description)
	} else {
		act = action.NewDBus(m.sessionConn, serviceName, path, description,
			serviceName != sender)
	}

	m.mu.Lock()
	id := m.reg.nextID()
	m.reg.insert(id, used, act)
	m.reg.idByOwnerPath[ownerPath{owner: ownerKey, path: path}] = id
	m.mu.Unlock()

	logger.Infof("addDBusAction shortcut:%q id:%d", used, id)

	m.emitSignal("ActionAdded", id)
	return used, id
}

// addDBusAction serves a peer registering a binding for itself.
func (m *Manager) addDBusAction(shortcut string, path dbus.ObjectPath,
	description, sender string) (string, uint64) {
	logger.Infof("addDBusAction shortcut:%q path:%q description:%q sender:%q",
		shortcut, path, description, sender)

	m.mu.Lock()
	serviceName := m.reg.preferredName(sender)
	m.mu.Unlock()

	return m.addOrRegisterDBusAction(shortcut, sender, serviceName, path,
		description, sender)
}

// registerDBusAction is the configuration-load variant: the binding belongs
// to a well-known name that may not be on the bus yet.
func (m *Manager) registerDBusAction(shortcut, serviceName string,
	path dbus.ObjectPath, description string) uint64 {
	logger.Infof("registerDBusAction shortcut:%q service:%q path:%q description:%q",
		shortcut, serviceName, path, description)

	_, id := m.addOrRegisterDBusAction(shortcut, serviceName, serviceName,
		path, description, "")
	return id
}

func (m *Manager) modifyDBusAction(path dbus.ObjectPath, description,
	sender string) uint64 {
	logger.Infof("modifyDBusAction path:%q description:%q sender:%q",
		path, description, sender)

	m.opMu.Lock()
	defer m.opMu.Unlock()

	m.mu.Lock()
	id, ok := m.reg.idByOwnerPath[ownerPath{owner: sender, path: path}]
	if !ok {
		m.mu.Unlock()
		logger.Warningf("no action registered for %q @ %s", sender, path)
		return 0
	}
	m.reg.byID[id].act.SetDescription(description)
	m.mu.Unlock()

	m.emitSignal("ActionModified", id)
	return id
}

func (m *Manager) modifyActionDescription(id uint64, description string) bool {
	logger.Infof("modifyActionDescription id:%d description:%q", id, description)

	m.opMu.Lock()
	defer m.opMu.Unlock()

	m.mu.Lock()
	b := m.reg.byID[id]
	if b == nil {
		m.mu.Unlock()
		logger.Warningf("no action registered with id #%d", id)
		return false
	}
	if b.act.Type() == action.TypeDBus {
		m.mu.Unlock()
		logger.Warningf("modifyActionDescription attempts to modify action of type %q",
			action.TypeDBus)
		return false
	}
	b.act.SetDescription(description)
	m.mu.Unlock()

	m.saveConfig()
	return true
}

func (m *Manager) modifyMethodAction(id uint64, service string,
	path dbus.ObjectPath, iface, method, description string) bool {
	logger.Infof("modifyMethodAction id:%d service:%q path:%q interface:%q method:%q description:%q",
		id, service, path, iface, method, description)

	m.opMu.Lock()
	defer m.opMu.Unlock()

	m.mu.Lock()
	b := m.reg.byID[id]
	if b == nil {
		m.mu.Unlock()
		logger.Warningf("no action registered with id #%d", id)
		return false
	}
	if b.act.Type() != action.TypeMethod {
		m.mu.Unlock()
		logger.Warningf("modifyMethodAction attempts to modify action of type %q",
			b.act.Type())
		return false
	}
	b.act = action.NewMethod(m.sessionConn, service, path, iface, method,
		description)
	m.mu.Unlock()

	m.saveConfig()
	return true
}

func (m *Manager) modifyCommandAction(id uint64, command string,
	args []string, description string) bool {
	logger.Infof("modifyCommandAction id:%d command:%q arguments:%q description:%q",
		id, command, args, description)

	m.opMu.Lock()
	defer m.opMu.Unlock()

	m.mu.Lock()
	b := m.reg.byID[id]
	if b == nil {
		m.mu.Unlock()
		logger.Warningf("no action registered with id #%d", id)
		return false
	}
	if b.act.Type() != action.TypeCommand {
		m.mu.Unlock()
		logger.Warningf("modifyCommandAction attempts to modify action of type %q",
			b.act.Type())
		return false
	}
	b.act = action.NewCommand(command, args, description)
	m.mu.Unlock()

	m.saveConfig()
	return true
}

func (m *Manager) enableAction(id uint64, enabled bool) bool {
	logger.Infof("enableAction id:%d enabled:%v", id, enabled)

	m.opMu.Lock()
	defer m.opMu.Unlock()

	m.mu.Lock()
	b := m.reg.byID[id]
	if b == nil {
		m.mu.Unlock()
		logger.Warningf("no action registered with id #%d", id)
		return false
	}
	b.act.SetEnabled(enabled)
	m.mu.Unlock()

	m.saveConfig()
	return true
}

// reassignShortcut moves id to the canonical form of newShortcut, releasing
// the old grab when its last binding leaves and installing the new one. A
// canonical no-op touches no grabs. Caller holds opMu.
func (m *Manager) reassignShortcut(id uint64, newShortcut string) (string, bool) {
	x, used, ok := m.resolveShortcut(newShortcut)
	if !ok {
		return "", false
	}

	m.mu.Lock()
	b := m.reg.byID[id]
	oldShortcut := b.shortcut
	m.mu.Unlock()

	if oldShortcut == used {
		return used, true
	}

	if !m.grabOrReuse(x, used) {
		return "", false
	}

	m.releaseShortcut(oldShortcut, id)

	m.mu.Lock()
	m.reg.idsByShortcut[used] = append(m.reg.idsByShortcut[used], id)
	b.shortcut = used
	var dbusAct *action.DBus
	if da, ok := b.act.(*action.DBus); ok {
		dbusAct = da
	}
	m.mu.Unlock()

	if dbusAct != nil {
		dbusAct.ShortcutChanged(oldShortcut, used)
	}
	return used, true
}

func (m *Manager) changeShortcut(id uint64, shortcut string) string {
	logger.Infof("changeShortcut id:%d shortcut:%q", id, shortcut)

	m.opMu.Lock()
	defer m.opMu.Unlock()

	m.mu.Lock()
	known := m.reg.byID[id] != nil
	m.mu.Unlock()
	if !known {
		logger.Warningf("no action registered with id #%d", id)
		return ""
	}

	used, ok := m.reassignShortcut(id, shortcut)
	if !ok {
		return ""
	}

	m.saveConfig()
	return used
}

func (m *Manager) changeDBusShortcut(path dbus.ObjectPath, shortcut,
	sender string) (string, uint64) {
	logger.Infof("changeDBusShortcut path:%q shortcut:%q sender:%q",
		path, shortcut, sender)

	m.opMu.Lock()
	defer m.opMu.Unlock()

	m.mu.Lock()
	id, ok := m.reg.idByOwnerPath[ownerPath{owner: sender, path: path}]
	m.mu.Unlock()
	if !ok {
		logger.Warningf("no action registered for %q @ %s", sender, path)
		return "", 0
	}

	used, ok := m.reassignShortcut(id, shortcut)
	if !ok {
		return "", 0
	}

	m.emitSignal("ActionShortcutChanged", id)
	return used, id
}

func (m *Manager) swapActions(id1, id2 uint64) bool {
	logger.Infof("swapActions id1:%d id2:%d", id1, id2)

	m.opMu.Lock()
	defer m.opMu.Unlock()

	m.mu.Lock()
	b1 := m.reg.byID[id1]
	b2 := m.reg.byID[id2]
	if b1 == nil {
		m.mu.Unlock()
		logger.Warningf("no action registered with id #%d", id1)
		return false
	}
	if b2 == nil {
		m.mu.Unlock()
		logger.Warningf("no action registered with id #%d", id2)
		return false
	}
	if b1.shortcut != b2.shortcut {
		m.mu.Unlock()
		logger.Warning("swapActions attempts to swap actions assigned to different shortcuts")
		return false
	}
	b1.act, b2.act = b2.act, b1.act
	m.mu.Unlock()

	m.saveConfig()
	return true
}

func (m *Manager) removeAction(id uint64) bool {
	logger.Infof("removeAction id:%d", id)

	m.opMu.Lock()
	defer m.opMu.Unlock()

	m.mu.Lock()
	b := m.reg.byID[id]
	if b == nil {
		m.mu.Unlock()
		logger.Warningf("no action registered with id #%d", id)
		return false
	}
	if b.act.Type() == action.TypeDBus {
		m.mu.Unlock()
		logger.Warning("cannot unregister dbus action by id")
		return false
	}
	shortcut := b.shortcut
	delete(m.reg.byID, id)
	m.mu.Unlock()

	m.releaseShortcut(shortcut, id)

	m.saveConfig()
	return true
}

func (m *Manager) removeDBusAction(path dbus.ObjectPath, sender string) uint64 {
	logger.Infof("removeDBusAction path:%q sender:%q", path, sender)

	m.opMu.Lock()
	defer m.opMu.Unlock()

	key := ownerPath{owner: sender, path: path}

	m.mu.Lock()
	id, ok := m.reg.idByOwnerPath[key]
	if !ok {
		m.mu.Unlock()
		logger.Warningf("no action registered for %q @ %s", sender, path)
		return 0
	}
	shortcut := m.reg.byID[id].shortcut
	delete(m.reg.byID, id)
	delete(m.reg.idByOwnerPath, key)
	m.reg.dropOwnerPath(sender, path)
	m.mu.Unlock()

	m.releaseShortcut(shortcut, id)

	m.emitSignal("ActionRemoved", id)
	return id
}

func (m *Manager) setMultipleActionsBehaviour(b MultipleActionsBehaviour) {
	m.opMu.Lock()
	defer m.opMu.Unlock()

	m.mu.Lock()
	m.behaviour = b
	m.mu.Unlock()

	m.saveConfig()
}

func (m *Manager) getMultipleActionsBehaviour() MultipleActionsBehaviour {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.behaviour
}

func (m *Manager) allActionIds() []uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()

	ids := make([]uint64, 0, len(m.reg.byID))
	for id := range m.reg.byID {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// GeneralActionInfo is the wire shape of one binding.
type GeneralActionInfo struct {
	Shortcut    string
	Type        string
	Description string
	Enabled     bool
	Info        string
}

// actionInfoLocked renders a binding; mu must be held.
func (m *Manager) actionInfoLocked(b *binding) GeneralActionInfo {
	info := GeneralActionInfo{
		Shortcut:    b.shortcut,
		Type:        b.act.Type(),
		Description: b.act.Description(),
		Enabled:     b.act.IsEnabled(),
	}
	switch act := b.act.(type) {
	case *action.DBus:
		info.Info = m.reg.preferredName(act.Service()) + " " + string(act.Path())
	case *action.Method:
		info.Info = act.Service() + " " + string(act.Path()) + " " +
			act.Interface() + " " + act.Method()
	case *action.Command:
		parts := append([]string{act.Program()}, act.Args()...)
		for i, p := range parts {
			parts[i] = strconv.Quote(p)
		}
		info.Info = strings.Join(parts, " ")
	}
	return info
}

func (m *Manager) actionByID(id uint64) (GeneralActionInfo, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	b := m.reg.byID[id]
	if b == nil {
		logger.Warningf("no action registered with id #%d", id)
		return GeneralActionInfo{}, false
	}
	return m.actionInfoLocked(b), true
}

func (m *Manager) allActions() map[uint64]GeneralActionInfo {
	m.mu.Lock()
	defer m.mu.Unlock()

	result := make(map[uint64]GeneralActionInfo, len(m.reg.byID))
	for id, b := range m.reg.byID {
		result[id] = m.actionInfoLocked(b)
	}
	return result
}

// DBusActionInfo, MethodActionInfo and CommandActionInfo carry the typed
// detail lookups.
type DBusActionInfo struct {
	Service string
	Path    dbus.ObjectPath
}

type MethodActionInfo struct {
	Service   string
	Path      dbus.ObjectPath
	Interface string
	Method    string
}

type CommandActionInfo struct {
	Command   string
	Arguments []string
}

func (m *Manager) dbusActionInfo(id uint64) (DBusActionInfo, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	b := m.reg.byID[id]
	if b == nil {
		logger.Warningf("no action registered with id #%d", id)
		return DBusActionInfo{}, false
	}
	act, ok := b.act.(*action.DBus)
	if !ok {
		logger.Warningf("getDBusActionInfoById attempts to request action of type %q",
			b.act.Type())
		return DBusActionInfo{}, false
	}
	return DBusActionInfo{
		Service: m.reg.preferredName(act.Service()),
		Path:    act.Path(),
	}, true
}

func (m *Manager) methodActionInfo(id uint64) (MethodActionInfo, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	b := m.reg.byID[id]
	if b == nil {
		logger.Warningf("no action registered with id #%d", id)
		return MethodActionInfo{}, false
	}
	act, ok := b.act.(*action.Method)
	if !ok {
		logger.Warningf("getMethodActionInfoById attempts to request action of type %q",
			b.act.Type())
		return MethodActionInfo{}, false
	}
	return MethodActionInfo{
		Service:   act.Service(),
		Path:      act.Path(),
		Interface: act.Interface(),
		Method:    act.Method(),
	}, true
}

func (m *Manager) commandActionInfo(id uint64) (CommandActionInfo, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	b := m.reg.byID[id]
	if b == nil {
		logger.Warningf("no action registered with id #%d", id)
		return CommandActionInfo{}, false
	}
	act, ok := b.act.(*action.Command)
	if !ok {
		logger.Warningf("getCommandActionInfoById attempts to request action of type %q",
			b.act.Type())
		return CommandActionInfo{}, false
	}
	return CommandActionInfo{
		Command:   act.Program(),
		Arguments: act.Args(),
	}, true
}

func (m *Manager) emitSignal(name string, id uint64) {
	if m.service == nil {
		return
	}
	err := m.service.Emit(m.adaptor, name, id)
	if err != nil {
		logger.Warning("emit", name, "failed:", err)
	}
}
