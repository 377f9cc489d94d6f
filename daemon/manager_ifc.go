// SPDX-FileCopyrightText: 2025 The globalactiond Authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package daemon

import (
	"github.com/godbus/dbus/v5"
)

const (
	dbusServiceName     = "org.globalactiond.GlobalActions"
	dbusDaemonPath      = "/daemon"
	dbusDaemonInterface = dbusServiceName + ".daemon"
	dbusNativePath      = "/native"
	dbusNativeInterface = dbusServiceName + ".native"
)

// Daemon is the administrative object at /daemon: it enumerates and mutates
// bindings of every kind, drives the interactive grab and stops the daemon.
type Daemon struct {
	m *Manager

	signals *struct {
		ActionAdded, ActionModified, ActionShortcutChanged, ActionRemoved struct {
			id uint64
		}
	}
}

func (*Daemon) GetInterfaceName() string {
	return dbusDaemonInterface
}

func (d *Daemon) AddMethodAction(shortcut, service string, path dbus.ObjectPath,
	iface, method, description string) (usedShortcut string, id uint64, busErr *dbus.Error) {
	usedShortcut, id = d.m.addMethodAction(shortcut, service, path, iface,
		method, description)
	return usedShortcut, id, nil
}

func (d *Daemon) AddCommandAction(shortcut, command string, args []string,
	description string) (usedShortcut string, id uint64, busErr *dbus.Error) {
	usedShortcut, id = d.m.addCommandAction(shortcut, command, args, description)
	return usedShortcut, id, nil
}

func (d *Daemon) ModifyActionDescription(id uint64, description string) (ok bool, busErr *dbus.Error) {
	return d.m.modifyActionDescription(id, description), nil
}

func (d *Daemon) ModifyMethodAction(id uint64, service string, path dbus.ObjectPath,
	iface, method, description string) (ok bool, busErr *dbus.Error) {
	return d.m.modifyMethodAction(id, service, path, iface, method,
		description), nil
}

func (d *Daemon) ModifyCommandAction(id uint64, command string, args []string,
	description string) (ok bool, busErr *dbus.Error) {
	return d.m.modifyCommandAction(id, command, args, description), nil
}

func (d *Daemon) EnableAction(id uint64, enabled bool) (ok bool, busErr *dbus.Error) {
	return d.m.enableAction(id, enabled), nil
}

func (d *Daemon) ChangeShortcut(id uint64, shortcut string) (usedShortcut string, busErr *dbus.Error) {
	return d.m.changeShortcut(id, shortcut), nil
}

func (d *Daemon) SwapActions(id1, id2 uint64) (ok bool, busErr *dbus.Error) {
	return d.m.swapActions(id1, id2), nil
}

func (d *Daemon) RemoveAction(id uint64) (ok bool, busErr *dbus.Error) {
	return d.m.removeAction(id), nil
}

func (d *Daemon) SetMultipleActionsBehaviour(behaviour uint32) *dbus.Error {
	d.m.setMultipleActionsBehaviour(MultipleActionsBehaviour(behaviour))
	return nil
}

func (d *Daemon) GetMultipleActionsBehaviour() (behaviour uint32, busErr *dbus.Error) {
	return uint32(d.m.getMultipleActionsBehaviour()), nil
}

func (d *Daemon) GetAllActionIds() (ids []uint64, busErr *dbus.Error) {
	return d.m.allActionIds(), nil
}

func (d *Daemon) GetActionById(id uint64) (found bool, info GeneralActionInfo, busErr *dbus.Error) {
	info, found = d.m.actionByID(id)
	return found, info, nil
}

func (d *Daemon) GetAllActionsById() (actions map[uint64]GeneralActionInfo, busErr *dbus.Error) {
	return d.m.allActions(), nil
}

func (d *Daemon) GetDBusActionInfoById(id uint64) (found bool, info DBusActionInfo, busErr *dbus.Error) {
	info, found = d.m.dbusActionInfo(id)
	return found, info, nil
}

func (d *Daemon) GetMethodActionInfoById(id uint64) (found bool, info MethodActionInfo, busErr *dbus.Error) {
	info, found = d.m.methodActionInfo(id)
	return found, info, nil
}

func (d *Daemon) GetCommandActionInfoById(id uint64) (found bool, info CommandActionInfo, busErr *dbus.Error) {
	info, found = d.m.commandActionInfo(id)
	return found, info, nil
}

// GrabShortcut captures the next key combination pressed by the user. The
// reply is delayed until the grab resolves, is cancelled or times out;
// timeouts outside [1000, 60000] ms are rejected as timed out immediately.
func (d *Daemon) GrabShortcut(timeout uint32) (shortcut string, failed, cancelled, timedOut bool, busErr *dbus.Error) {
	shortcut, failed, cancelled, timedOut = d.m.grabShortcut(timeout)
	return shortcut, failed, cancelled, timedOut, nil
}

func (d *Daemon) Quit() *dbus.Error {
	logger.Info("quit requested over the bus")
	d.m.requestQuit()
	return nil
}
