// SPDX-FileCopyrightText: 2025 The globalactiond Authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package daemon

import (
	"github.com/godbus/dbus/v5"
	"globalactiond/daemon/action"
)

// xBinding is the X11 side of a shortcut: a keycode plus the six significant
// modifier bits. Lock-style modifiers never appear in the mask.
type xBinding struct {
	code uint8
	mask uint32
}

// ownerPath identifies a service-bound action: the bus identity it was
// registered under and the object path it chose.
type ownerPath struct {
	owner string
	path  dbus.ObjectPath
}

// binding ties an allocated id to its canonical shortcut and action.
type binding struct {
	shortcut string
	act      action.Action
}

// registry holds every map the daemon dispatches from. It is not safe for
// concurrent use; the Manager's data lock guards it.
type registry struct {
	lastID uint64

	byID          map[uint64]*binding
	idsByShortcut map[string][]uint64
	xByShortcut   map[string]xBinding
	shortcutByX   map[xBinding]string

	idByOwnerPath map[ownerPath]uint64
	pathsByOwner  map[string][]dbus.ObjectPath

	namesByOwner         map[string]map[string]bool
	preferredNameByOwner map[string]string
	ownerByName          map[string]string
}

func newRegistry() *registry {
	return &registry{
		byID:          make(map[uint64]*binding),
		idsByShortcut: make(map[string][]uint64),
		xByShortcut:   make(map[string]xBinding),
		shortcutByX:   make(map[xBinding]string),

		idByOwnerPath: make(map[ownerPath]uint64),
		pathsByOwner:  make(map[string][]dbus.ObjectPath),

		namesByOwner:         make(map[string]map[string]bool),
		preferredNameByOwner: make(map[string]string),
		ownerByName:          make(map[string]string),
	}
}

// nextID allocates a fresh action id. Ids are strictly monotonic and never
// reused, 0 stays reserved as "none".
func (r *registry) nextID() uint64 {
	r.lastID++
	return r.lastID
}

// insert records a binding and appends its id to the dispatch index,
// preserving insertion order.
func (r *registry) insert(id uint64, shortcut string, act action.Action) {
	r.byID[id] = &binding{shortcut: shortcut, act: act}
	r.idsByShortcut[shortcut] = append(r.idsByShortcut[shortcut], id)
}

// dropID removes id from the dispatch index of shortcut. It reports whether
// the shortcut lost its last binding, meaning the grab must be released.
func (r *registry) dropID(shortcut string, id uint64) bool {
	ids := r.idsByShortcut[shortcut]
	for i, cur := range ids {
		if cur == id {
			ids = append(ids[:i], ids[i+1:]...)
			break
		}
	}
	if len(ids) == 0 {
		delete(r.idsByShortcut, shortcut)
		return true
	}
	r.idsByShortcut[shortcut] = ids
	return false
}

// addOwnerPath tracks a service action registration. It reports false when
// the (owner, path) pair is already taken.
func (r *registry) addOwnerPath(owner string, path dbus.ObjectPath) bool {
	for _, p := range r.pathsByOwner[owner] {
		if p == path {
			return false
		}
	}
	r.pathsByOwner[owner] = append(r.pathsByOwner[owner], path)
	return true
}

func (r *registry) dropOwnerPath(owner string, path dbus.ObjectPath) {
	paths := r.pathsByOwner[owner]
	for i, p := range paths {
		if p == path {
			paths = append(paths[:i], paths[i+1:]...)
			break
		}
	}
	if len(paths) == 0 {
		delete(r.pathsByOwner, owner)
	} else {
		r.pathsByOwner[owner] = paths
	}
}

// recordAlias tracks a well-known name appearing for owner.
func (r *registry) recordAlias(name, owner string) {
	names := r.namesByOwner[owner]
	if names == nil {
		names = make(map[string]bool)
		r.namesByOwner[owner] = names
	}
	names[name] = true
	if _, ok := r.preferredNameByOwner[owner]; !ok {
		r.preferredNameByOwner[owner] = name
	}
	r.ownerByName[name] = owner
}

// dropAlias undoes recordAlias for one name; dropOwner clears everything
// known about a vanished connection.
func (r *registry) dropAlias(name, owner string) {
	if names := r.namesByOwner[owner]; names != nil {
		delete(names, name)
		if len(names) == 0 {
			delete(r.namesByOwner, owner)
		}
	}
	if r.preferredNameByOwner[owner] == name {
		delete(r.preferredNameByOwner, owner)
	}
	delete(r.ownerByName, name)
}

func (r *registry) dropOwner(owner string) {
	delete(r.preferredNameByOwner, owner)
	for name := range r.namesByOwner[owner] {
		delete(r.ownerByName, name)
	}
	delete(r.namesByOwner, owner)
}

// preferredName maps a bus identity to its preferred well-known name, or
// returns it unchanged when none is known.
func (r *registry) preferredName(id string) string {
	if name, ok := r.preferredNameByOwner[id]; ok {
		return name
	}
	return id
}
