// SPDX-FileCopyrightText: 2025 The globalactiond Authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package action

import (
	"github.com/godbus/dbus/v5"
)

// clientInterface is implemented by peers that register service-bound
// actions; the daemon pushes notifications at the registered object path.
const clientInterface = "org.globalactiond.GlobalActions.client"

// DBus delivers a notification to the bound remote peer on activation. It is
// tied to the presence of its service on the bus: transient bindings vanish
// with the registering peer, persistent ones survive and reconnect when the
// service comes back.
type DBus struct {
	base
	conn       *dbus.Conn // nil while the service is absent
	service    string
	path       dbus.ObjectPath
	persistent bool
}

// NewDBus wraps a live registration by a connected peer.
func NewDBus(conn *dbus.Conn, service string, path dbus.ObjectPath,
	description string, persistent bool) *DBus {
	return &DBus{
		base:       newBase(description),
		conn:       conn,
		service:    service,
		path:       path,
		persistent: persistent,
	}
}

// NewDBusPersistent is the configuration-load variant: the service is not on
// the bus yet, activation is deferred until it appears.
func NewDBusPersistent(service string, path dbus.ObjectPath,
	description string) *DBus {
	return &DBus{
		base:       newBase(description),
		service:    service,
		path:       path,
		persistent: true,
	}
}

func (a *DBus) Type() string {
	return TypeDBus
}

func (a *DBus) Service() string {
	return a.service
}

func (a *DBus) Path() dbus.ObjectPath {
	return a.path
}

func (a *DBus) IsPersistent() bool {
	return a.persistent
}

func (a *DBus) Call() bool {
	return a.notify("Activated")
}

// Appeared binds the action to the bus once its service shows up.
func (a *DBus) Appeared(conn *dbus.Conn) {
	a.conn = conn
	a.notify("Appeared")
}

// Disappeared tells the peer one of its aliases dropped off the bus. The
// binding itself stays.
func (a *DBus) Disappeared() {
	a.notify("Disappeared")
}

// ShortcutChanged tells the peer its binding moved to another shortcut.
func (a *DBus) ShortcutChanged(oldShortcut, newShortcut string) {
	a.notify("ShortcutChanged", oldShortcut, newShortcut)
}

func (a *DBus) notify(member string, args ...interface{}) bool {
	if a.conn == nil {
		logger.Debugf("dbus action %s @ %s is not active, dropping %s",
			a.service, a.path, member)
		return false
	}
	obj := a.conn.Object(a.service, a.path)
	call := obj.Go(clientInterface+"."+member, dbus.FlagNoReplyExpected, nil,
		args...)
	if call.Err != nil {
		logger.Warningf("cannot notify %s @ %s of %s: %v",
			a.service, a.path, member, call.Err)
		return false
	}
	return true
}
