// SPDX-FileCopyrightText: 2025 The globalactiond Authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package daemon

import (
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/fsnotify/fsnotify"
	"github.com/godbus/dbus/v5"
	"github.com/linuxdeepin/go-lib/keyfile"
	"github.com/linuxdeepin/go-lib/log"

	"globalactiond/daemon/action"
)

const (
	kfSectionGeneral = "General"

	kfKeyLogLevel   = "LogLevel"
	kfKeyBehaviour  = "MultipleActionsBehaviour"
	kfKeyGrabLocks  = "AllowGrabLocks"
	kfKeyGrabBaseSp = "AllowGrabBaseSpecial"
	kfKeyGrabMiscSp = "AllowGrabMiscSpecial"
	kfKeyGrabBaseKP = "AllowGrabBaseKeypad"
	kfKeyGrabMiscKP = "AllowGrabMiscKeypad"
	kfKeyGrabPrint  = "AllowGrabPrintable"

	kfKeyEnabled   = "Enabled"
	kfKeyComment   = "Comment"
	kfKeyExec      = "Exec"
	kfKeyService   = "DBus-service"
	kfKeyPath      = "DBus-path"
	kfKeyInterface = "DBus-interface"
	kfKeyMethod    = "DBus-method"
)

// ParseLogLevel maps a LogLevel config value to a go-lib priority. The
// syslog notice level has no go-lib equivalent and lands on info.
func ParseLogLevel(value string) (log.Priority, bool) {
	switch strings.ToLower(value) {
	case "error":
		return log.LevelError, true
	case "warning":
		return log.LevelWarning, true
	case "notice", "info":
		return log.LevelInfo, true
	case "debug":
		return log.LevelDebug, true
	}
	return log.LevelInfo, false
}

// loadConfig reads every configured file in order; later files override
// earlier ones on collision, and the last file is the save target.
func (m *Manager) loadConfig() {
	for _, file := range m.configFiles {
		m.configFile = file
		m.loadConfigFile(file)
	}

	m.mu.Lock()
	am := m.allowMasks
	behaviour := m.behaviour
	m.mu.Unlock()
	m.x.SetAllowMasks(am)

	logger.Debug("MultipleActionsBehaviour:", behaviour)
	logger.Debug("AllowGrabLocks:", am.Locks)
	logger.Debug("AllowGrabBaseSpecial:", am.BaseSpecial)
	logger.Debug("AllowGrabMiscSpecial:", am.MiscSpecial)
	logger.Debug("AllowGrabBaseKeypad:", am.BaseKeypad)
	logger.Debug("AllowGrabMiscKeypad:", am.MiscKeypad)
	logger.Debug("AllowGrabPrintable:", am.Printable)
}

func (m *Manager) loadConfigFile(file string) {
	kf := keyfile.NewKeyFile()
	err := kf.LoadFromFile(file)
	if err != nil {
		if !os.IsNotExist(err) {
			logger.Warningf("cannot load config file %q: %v", file, err)
		}
		return
	}

	m.applyGeneralSection(kf)

	for _, section := range kf.GetSections() {
		if section == kfSectionGeneral {
			continue
		}
		m.loadBindingSection(kf, section)
	}
}

// applyGeneralSection folds one file's General section into the current
// settings. Command-line overrides win over config values.
func (m *Manager) applyGeneralSection(kf *keyfile.KeyFile) {
	if !m.logLevelSet {
		if value, err := kf.GetString(kfSectionGeneral, kfKeyLogLevel); err == nil {
			if level, ok := ParseLogLevel(value); ok {
				logger.SetLogLevel(level)
			}
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.behaviourSet {
		if value, err := kf.GetString(kfSectionGeneral, kfKeyBehaviour); err == nil {
			if behaviour, ok := ParseBehaviour(value); ok {
				m.behaviour = behaviour
			}
		}
	}

	boolKeys := []struct {
		key  string
		dest *bool
	}{
		{kfKeyGrabLocks, &m.allowMasks.Locks},
		{kfKeyGrabBaseSp, &m.allowMasks.BaseSpecial},
		{kfKeyGrabMiscSp, &m.allowMasks.MiscSpecial},
		{kfKeyGrabBaseKP, &m.allowMasks.BaseKeypad},
		{kfKeyGrabMiscKP, &m.allowMasks.MiscKeypad},
		{kfKeyGrabPrint, &m.allowMasks.Printable},
	}
	for _, bk := range boolKeys {
		if value, err := kf.GetBool(kfSectionGeneral, bk.key); err == nil {
			*bk.dest = value
		}
	}
}

// loadBindingSection registers one `<shortcut>[.<id>]` section. Offending
// bindings are skipped with a warning, never partially registered.
func (m *Manager) loadBindingSection(kf *keyfile.KeyFile, section string) {
	shortcut := section
	if pos := strings.Index(shortcut, "."); pos != -1 {
		shortcut = shortcut[:pos]
	}

	enabled := true
	if value, err := kf.GetBool(section, kfKeyEnabled); err == nil {
		enabled = value
	}
	description, _ := kf.GetString(section, kfKeyComment)

	var id uint64
	if execList, err := kf.GetStringList(section, kfKeyExec); err == nil {
		if len(execList) == 0 {
			logger.Warningf("section %q has an empty Exec list", section)
			return
		}
		_, id = m.addCommandAction(shortcut, execList[0], execList[1:],
			description)
	} else {
		service, _ := kf.GetString(section, kfKeyService)
		pathStr, _ := kf.GetString(section, kfKeyPath)
		if service == "" || pathStr == "" {
			logger.Warningf("section %q names no action", section)
			return
		}
		path := dbus.ObjectPath(pathStr)
		if iface, err := kf.GetString(section, kfKeyInterface); err == nil && iface != "" {
			method, _ := kf.GetString(section, kfKeyMethod)
			if method == "" {
				logger.Warningf("section %q has an interface but no method", section)
				return
			}
			_, id = m.addMethodAction(shortcut, service, path, iface,
				method, description)
		} else {
			id = m.registerDBusAction(shortcut, service, path, description)
		}
	}

	if id != 0 && !enabled {
		m.mu.Lock()
		if b := m.reg.byID[id]; b != nil {
			b.act.SetEnabled(false)
		}
		m.mu.Unlock()
	}
}

// saveConfig persists the whole registry and the General settings to the
// save target. Gated until the initial load is done so loading never
// rewrites the file it is reading.
func (m *Manager) saveConfig() {
	m.mu.Lock()
	if !m.saveAllowed {
		m.mu.Unlock()
		return
	}

	kf := keyfile.NewKeyFile()
	kf.SetValue(kfSectionGeneral, kfKeyBehaviour, m.behaviour.String())
	kf.SetValue(kfSectionGeneral, kfKeyGrabLocks, strconv.FormatBool(m.allowMasks.Locks))
	kf.SetValue(kfSectionGeneral, kfKeyGrabBaseSp, strconv.FormatBool(m.allowMasks.BaseSpecial))
	kf.SetValue(kfSectionGeneral, kfKeyGrabMiscSp, strconv.FormatBool(m.allowMasks.MiscSpecial))
	kf.SetValue(kfSectionGeneral, kfKeyGrabBaseKP, strconv.FormatBool(m.allowMasks.BaseKeypad))
	kf.SetValue(kfSectionGeneral, kfKeyGrabMiscKP, strconv.FormatBool(m.allowMasks.MiscKeypad))
	kf.SetValue(kfSectionGeneral, kfKeyGrabPrint, strconv.FormatBool(m.allowMasks.Printable))

	for _, id := range sortedIdsLocked(m.reg) {
		b := m.reg.byID[id]
		section := b.shortcut + "." + strconv.FormatUint(id, 10)

		switch act := b.act.(type) {
		case *action.Command:
			kf.SetStringList(section, kfKeyExec,
				append([]string{act.Program()}, act.Args()...))
		case *action.Method:
			kf.SetString(section, kfKeyService, act.Service())
			kf.SetString(section, kfKeyPath, string(act.Path()))
			kf.SetString(section, kfKeyInterface, act.Interface())
			kf.SetString(section, kfKeyMethod, act.Method())
		case *action.DBus:
			if !act.IsPersistent() {
				continue
			}
			kf.SetString(section, kfKeyService, act.Service())
			kf.SetString(section, kfKeyPath, string(act.Path()))
		}

		kf.SetValue(section, kfKeyEnabled, strconv.FormatBool(b.act.IsEnabled()))
		kf.SetString(section, kfKeyComment, b.act.Description())
	}

	file := m.configFile
	m.mu.Unlock()

	err := os.MkdirAll(filepath.Dir(file), 0755)
	if err != nil {
		logger.Warning("cannot create config directory:", err)
		return
	}
	err = kf.SaveToFile(file)
	if err != nil {
		logger.Warningf("cannot save config file %q: %v", file, err)
	}
}

func sortedIdsLocked(r *registry) []uint64 {
	ids := make([]uint64, 0, len(r.byID))
	for id := range r.byID {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// configWatcher re-applies the General settings when a config file is
// edited externally. Binding sections stay RPC-driven.
type configWatcher struct {
	watcher *fsnotify.Watcher
	done    chan struct{}
}

func (m *Manager) startConfigWatcher() {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		logger.Warning("cannot create config watcher:", err)
		return
	}

	dirs := make(map[string]bool)
	for _, file := range m.configFiles {
		dirs[filepath.Dir(file)] = true
	}
	for dir := range dirs {
		if err := watcher.Add(dir); err != nil {
			logger.Warningf("cannot watch %q: %v", dir, err)
		}
	}

	files := make(map[string]bool, len(m.configFiles))
	for _, file := range m.configFiles {
		files[file] = true
	}

	cw := &configWatcher{watcher: watcher, done: make(chan struct{})}
	m.watcher = cw

	go func() {
		defer close(cw.done)
		for {
			select {
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if !files[event.Name] {
					continue
				}
				if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
					continue
				}
				logger.Debug("config file changed:", event.Name)
				m.reloadGeneralSettings()
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				logger.Warning("config watcher:", err)
			}
		}
	}()
}

func (m *Manager) stopConfigWatcher() {
	if m.watcher == nil {
		return
	}
	_ = m.watcher.watcher.Close()
	<-m.watcher.done
	m.watcher = nil
}

// reloadGeneralSettings folds the General sections of every config file back
// in, in order.
func (m *Manager) reloadGeneralSettings() {
	for _, file := range m.configFiles {
		kf := keyfile.NewKeyFile()
		if err := kf.LoadFromFile(file); err != nil {
			continue
		}
		m.applyGeneralSection(kf)
	}

	m.mu.Lock()
	am := m.allowMasks
	m.mu.Unlock()
	m.x.SetAllowMasks(am)
}
