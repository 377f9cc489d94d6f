// SPDX-FileCopyrightText: 2025 The globalactiond Authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

// Package action holds the three kinds of work a shortcut can be bound to:
// a one-shot remote method call, a spawned command and a notification to a
// registered bus peer.
package action

import (
	"github.com/linuxdeepin/go-lib/log"
)

var logger = log.NewLogger("globalactiond/action")

// SetLogger replaces the package logger, mirroring the daemon-wide level.
func SetLogger(l *log.Logger) {
	logger = l
}

// Type tags, persisted in the configuration file and reported over the bus.
const (
	TypeMethod  = "method"
	TypeCommand = "command"
	TypeDBus    = "dbus"
)

// Action is the capability set shared by all variants. Call reports whether
// the action considered itself handled; the multi-binding dispatch policy
// relies on that.
type Action interface {
	Type() string
	Description() string
	SetDescription(description string)
	IsEnabled() bool
	SetEnabled(enabled bool)
	Call() bool
}

type base struct {
	description string
	enabled     bool
}

func newBase(description string) base {
	return base{description: description, enabled: true}
}

func (b *base) Description() string {
	return b.description
}

func (b *base) SetDescription(description string) {
	b.description = description
}

func (b *base) IsEnabled() bool {
	return b.enabled
}

func (b *base) SetEnabled(enabled bool) {
	b.enabled = enabled
}
