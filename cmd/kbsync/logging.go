package main

import (
	"io"
	"log/slog"
	"os"

	"github.com/lmittmann/tint"
	"github.com/mattn/go-isatty"
	"github.com/openmined/kbsync/internal/config"
	"github.com/openmined/kbsync/internal/utils"
	"github.com/openmined/kbsync/internal/workspace"
	"gopkg.in/natefinch/lumberjack.v2"
)

const (
	annotationNoConfig = "kbsync/no-config"
	annotationFileLog  = "kbsync/file-log"
)

// setupLogging installs a console handler on w and, when a log file is set or
// fileLog asks for the workspace default, a rotated JSON file handler.
func setupLogging(w io.Writer, cfg *config.Config, fileLog bool) (io.Closer, error) {
	level := cfg.Log.SlogLevel()

	noColor := true
	if f, ok := w.(*os.File); ok {
		noColor = !isatty.IsTerminal(f.Fd())
	}
	consoleHandler := tint.NewHandler(w, &tint.Options{
		Level:      level,
		TimeFormat: "2006-01-02T15:04:05.000Z07:00",
		NoColor:    noColor,
	})

	logFile := cfg.Log.File
	if logFile == "" && fileLog && cfg.DataDir != "" {
		ws, err := workspace.NewWorkspace(cfg.DataDir)
		if err != nil {
			return nil, err
		}
		logFile = ws.DefaultLogFile()
	}

	var fileHandler slog.Handler
	var closer io.Closer
	if logFile != "" {
		if err := utils.EnsureParent(logFile); err != nil {
			return nil, err
		}
		rotator := &lumberjack.Logger{
			Filename:   logFile,
			MaxSize:    50, // MiB
			MaxBackups: 5,
			MaxAge:     30, // days
			Compress:   true,
		}
		fileHandler = slog.NewJSONHandler(rotator, &slog.HandlerOptions{Level: min(level, slog.LevelInfo)})
		closer = rotator
	}

	slog.SetDefault(slog.New(utils.NewMultiLogHandler(consoleHandler, fileHandler)))
	return closer, nil
}
