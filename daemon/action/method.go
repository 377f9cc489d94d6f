// SPDX-FileCopyrightText: 2025 The globalactiond Authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package action

import (
	"github.com/godbus/dbus/v5"
)

// Method performs a one-shot remote method call on activation.
type Method struct {
	base
	conn    *dbus.Conn
	service string
	path    dbus.ObjectPath
	iface   string
	method  string
}

func NewMethod(conn *dbus.Conn, service string, path dbus.ObjectPath,
	iface, method, description string) *Method {
	return &Method{
		base:    newBase(description),
		conn:    conn,
		service: service,
		path:    path,
		iface:   iface,
		method:  method,
	}
}

func (a *Method) Type() string {
	return TypeMethod
}

func (a *Method) Service() string {
	return a.service
}

func (a *Method) Path() dbus.ObjectPath {
	return a.path
}

func (a *Method) Interface() string {
	return a.iface
}

func (a *Method) Method() string {
	return a.method
}

func (a *Method) Call() bool {
	obj := a.conn.Object(a.service, a.path)
	call := obj.Go(a.iface+"."+a.method, dbus.FlagNoReplyExpected, nil)
	if call.Err != nil {
		logger.Warningf("method call %s.%s on %s failed: %v",
			a.iface, a.method, a.service, call.Err)
		return false
	}
	return true
}
