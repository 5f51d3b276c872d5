package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/wildnest/camgate/cmd"
	"github.com/wildnest/camgate/internal/conf"
	"github.com/wildnest/camgate/internal/logging"
)

func main() {
	os.Exit(run())
}

func run() int {
	settings, err := conf.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "error loading configuration: %v\n", err)
		return 1
	}

	level := slog.LevelInfo
	if settings.Debug {
		level = slog.LevelDebug
	}
	logging.Init(level)

	if logCfg := settings.Main.Log; logCfg.Enabled && logCfg.Path != "" {
		closeLog, err := logging.InitFile(logCfg.Path, settings.Main.Name, level, logging.FileRotation{
			MaxSizeMB:  logCfg.MaxSizeMB,
			MaxBackups: logCfg.MaxBackups,
			MaxAgeDays: logCfg.MaxAgeDays,
		})
		if err != nil {
			fmt.Fprintf(os.Stderr, "error opening log file: %v\n", err)
		} else {
			defer func() { _ = closeLog() }()
		}
	}

	if err := cmd.RootCommand(settings).Execute(); err != nil {
		return 1
	}
	return 0
}
