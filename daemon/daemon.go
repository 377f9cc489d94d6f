// SPDX-FileCopyrightText: 2025 The globalactiond Authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

// Package daemon implements the control core of globalactiond: the shortcut
// and action registries, the RPC surface on the session bus, configuration
// persistence and the daemon lifecycle.
package daemon

import (
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/linuxdeepin/go-lib/dbusutil"
	"github.com/linuxdeepin/go-lib/log"
	"github.com/linuxdeepin/go-lib/xdg/basedir"

	"globalactiond/daemon/action"
	"globalactiond/xworker"
)

var logger = log.NewLogger("globalactiond/daemon")

const defaultConfigName = "global_actions.ini"

// Options carries the command-line configuration. The *Set flags mark
// values that must win over the configuration files.
type Options struct {
	ConfigFiles []string

	LogLevel    log.Priority
	LogLevelSet bool

	Behaviour    MultipleActionsBehaviour
	BehaviourSet bool
}

// DefaultConfigFile is the persistent registry location used when no
// -config flag is given.
func DefaultConfigFile() string {
	return filepath.Join(basedir.GetUserConfigDir(), defaultConfigName)
}

// Run brings the daemon up and blocks until it is asked to quit.
func Run(opts Options) error {
	action.SetLogger(logger)
	xworker.SetLogger(logger)
	if opts.LogLevelSet {
		logger.SetLogLevel(opts.LogLevel)
	}

	service, err := dbusutil.NewSessionService()
	if err != nil {
		logger.Error("cannot connect to the session bus:", err)
		return err
	}

	m := newManager(service, nil)
	m.configFiles = opts.ConfigFiles
	if len(m.configFiles) == 0 {
		m.configFiles = []string{DefaultConfigFile()}
	}
	m.logLevelSet = opts.LogLevelSet
	m.behaviourSet = opts.BehaviourSet
	if opts.BehaviourSet {
		m.behaviour = opts.Behaviour
	}

	worker := xworker.New(xworker.Callbacks{
		Mu:             &m.mu,
		Dispatch:       m.dispatchLocked,
		OnGrabResolved: m.onGrabResolved,
		OnFatal: func(err error) {
			m.requestQuit()
		},
	})
	if err := worker.Start(); err != nil {
		logger.Error("cannot start X11 worker:", err)
		return err
	}
	m.x = worker

	m.loadConfig()
	m.mu.Lock()
	m.saveAllowed = true
	m.mu.Unlock()

	err = service.Export(dbusDaemonPath, m.adaptor)
	if err != nil {
		logger.Error("cannot export daemon object:", err)
		worker.Stop()
		return err
	}
	err = service.Export(dbusNativePath, m.native)
	if err != nil {
		logger.Error("cannot export native object:", err)
		worker.Stop()
		return err
	}
	err = service.RequestName(dbusServiceName)
	if err != nil {
		logger.Errorf("cannot register service %q: %v", dbusServiceName, err)
		worker.Stop()
		return err
	}

	if err := m.initServiceTracker(); err != nil {
		logger.Warning("cannot track bus names:", err)
	}
	m.startConfigWatcher()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)
	go func() {
		sig, ok := <-sigCh
		if !ok {
			return
		}
		logger.Infof("signal %v received", sig)
		m.requestQuit()
	}()

	logger.Info("started")
	service.Wait()

	logger.Info("stopping")
	signal.Stop(sigCh)
	close(sigCh)

	m.stopConfigWatcher()
	if m.sigLoop != nil {
		m.sigLoop.Stop()
	}
	err = service.ReleaseName(dbusServiceName)
	if err != nil {
		logger.Warning(err)
	}
	worker.Stop()

	logger.Info("stopped")
	return nil
}

// requestQuit ends the main loop; cleanup happens on the main goroutine.
func (m *Manager) requestQuit() {
	m.service.Quit()
}
