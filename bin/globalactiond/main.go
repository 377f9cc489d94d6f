// SPDX-FileCopyrightText: 2025 The globalactiond Authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/linuxdeepin/go-lib/log"

	"globalactiond/daemon"
)

var logger = log.NewLogger("globalactiond")

type stringList []string

func (l *stringList) String() string {
	return fmt.Sprint([]string(*l))
}

func (l *stringList) Set(value string) error {
	*l = append(*l, value)
	return nil
}

var (
	configFiles stringList
	logLevel    string
	behaviour   string
)

func init() {
	flag.Var(&configFiles, "config",
		"configuration file, may be given several times; later files win")
	flag.StringVar(&logLevel, "l", "",
		"log level: error, warning, notice, info or debug")
	flag.StringVar(&behaviour, "b", "",
		"multiple actions behaviour: first, last, all or none")
}

func main() {
	flag.Parse()

	var opts daemon.Options
	opts.ConfigFiles = configFiles

	if logLevel != "" {
		level, ok := daemon.ParseLogLevel(logLevel)
		if !ok {
			logger.Fatalf("unknown log level %q", logLevel)
		}
		opts.LogLevel = level
		opts.LogLevelSet = true
		logger.SetLogLevel(level)
	}
	if behaviour != "" {
		b, ok := daemon.ParseBehaviour(behaviour)
		if !ok {
			logger.Fatalf("unknown multiple actions behaviour %q", behaviour)
		}
		opts.Behaviour = b
		opts.BehaviourSet = true
	}

	err := daemon.Run(opts)
	if err != nil {
		os.Exit(1)
	}
}
