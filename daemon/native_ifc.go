// SPDX-FileCopyrightText: 2025 The globalactiond Authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package daemon

import (
	"github.com/godbus/dbus/v5"
)

// Native is the peer-oriented object at /native: every operation applies to
// bindings owned by the calling connection.
type Native struct {
	m *Manager
}

func (*Native) GetInterfaceName() string {
	return dbusNativeInterface
}

func (n *Native) AddDBusAction(sender dbus.Sender, shortcut string,
	path dbus.ObjectPath, description string) (usedShortcut string, id uint64, busErr *dbus.Error) {
	usedShortcut, id = n.m.addDBusAction(shortcut, path, description,
		string(sender))
	return usedShortcut, id, nil
}

func (n *Native) ModifyDBusAction(sender dbus.Sender, path dbus.ObjectPath,
	description string) (id uint64, busErr *dbus.Error) {
	return n.m.modifyDBusAction(path, description, string(sender)), nil
}

func (n *Native) ChangeDBusShortcut(sender dbus.Sender, path dbus.ObjectPath,
	shortcut string) (usedShortcut string, id uint64, busErr *dbus.Error) {
	usedShortcut, id = n.m.changeDBusShortcut(path, shortcut, string(sender))
	return usedShortcut, id, nil
}

func (n *Native) RemoveDBusAction(sender dbus.Sender, path dbus.ObjectPath) (id uint64, busErr *dbus.Error) {
	return n.m.removeDBusAction(path, string(sender)), nil
}
