// SPDX-FileCopyrightText: 2025 The globalactiond Authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package daemon

import (
	"github.com/godbus/dbus/v5"
	ofdbus "github.com/linuxdeepin/go-dbus-factory/system/org.freedesktop.dbus"
	"github.com/linuxdeepin/go-lib/dbusutil"

	"globalactiond/daemon/action"
)

// initServiceTracker subscribes to the session bus's NameOwnerChanged so
// service-bound actions are activated and deactivated with their peers.
func (m *Manager) initServiceTracker() error {
	m.sigLoop = dbusutil.NewSignalLoop(m.sessionConn, 10)
	m.sigLoop.Start()

	m.dbusDaemon = ofdbus.NewDBus(m.sessionConn)
	m.dbusDaemon.InitSignalExt(m.sigLoop, true)
	_, err := m.dbusDaemon.ConnectNameOwnerChanged(
		func(name, oldOwner, newOwner string) {
			if oldOwner != "" {
				m.serviceDisappeared(name, oldOwner)
			}
			if newOwner != "" {
				m.serviceAppeared(name, newOwner)
			}
		})
	return err
}

// serviceAppeared records a fresh alias and activates service actions bound
// to the owner. A unique owner name appearing on its own carries no alias
// information.
func (m *Manager) serviceAppeared(name, owner string) {
	logger.Debugf("serviceAppeared %q %q", name, owner)

	if name == owner {
		return
	}

	m.mu.Lock()
	m.reg.recordAlias(name, owner)

	var acts []*action.DBus
	var services []string
	for _, key := range []string{owner, name} {
		for _, path := range m.reg.pathsByOwner[key] {
			id, ok := m.reg.idByOwnerPath[ownerPath{owner: key, path: path}]
			if !ok {
				continue
			}
			if act, ok := m.reg.byID[id].act.(*action.DBus); ok {
				acts = append(acts, act)
				services = append(services, name)
			}
		}
	}
	m.mu.Unlock()

	for i, act := range acts {
		logger.Infof("activating dbus action for %q @ %s", services[i], act.Path())
		act.Appeared(m.sessionConn)
	}
}

// serviceDisappeared deactivates or removes the service actions of a name
// that left the bus. When the owner itself dies its transient actions are
// removed and their grabs released; an alias dropping away only notifies.
func (m *Manager) serviceDisappeared(name, owner string) {
	logger.Debugf("serviceDisappeared %q %q", name, owner)

	m.opMu.Lock()
	defer m.opMu.Unlock()

	type removal struct {
		id       uint64
		shortcut string
	}
	var removed []removal
	var notify []*action.DBus

	keys := []string{owner}
	if name != owner {
		keys = append(keys, name)
	}

	m.mu.Lock()
	for _, key := range keys {
		paths := append([]dbus.ObjectPath(nil), m.reg.pathsByOwner[key]...)
		for _, path := range paths {
			opKey := ownerPath{owner: key, path: path}
			id, ok := m.reg.idByOwnerPath[opKey]
			if !ok {
				continue
			}
			act, ok := m.reg.byID[id].act.(*action.DBus)
			if !ok {
				continue
			}

			if name == owner && key == owner && !act.IsPersistent() {
				logger.Infof("removing dbus action for %q @ %s", name, path)
				removed = append(removed, removal{
					id:       id,
					shortcut: m.reg.byID[id].shortcut,
				})
				delete(m.reg.byID, id)
				delete(m.reg.idByOwnerPath, opKey)
				m.reg.dropOwnerPath(key, path)
			} else {
				logger.Infof("deactivating dbus action for %q @ %s", name, path)
				notify = append(notify, act)
			}
		}
	}

	if name == owner {
		m.reg.dropOwner(owner)
	} else {
		m.reg.dropAlias(name, owner)
	}
	m.mu.Unlock()

	for _, act := range notify {
		act.Disappeared()
	}
	for _, r := range removed {
		m.releaseShortcut(r.shortcut, r.id)
	}
}
