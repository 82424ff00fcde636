package main

import (
	"io"
	"log/slog"
	"os"

	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/treesync/treesync/internal/config"
)

// buildLogHandler picks a slog.Handler per the resolved profile's logging
// section: text or JSON, stderr or a rotated log file. A nil profile
// (pre-config bootstrap) always logs to stderr as text.
func buildLogHandler(rp *config.ResolvedProfile, level slog.Level) slog.Handler {
	var w io.Writer = os.Stderr

	jsonFormat := false

	if rp != nil {
		if rp.Logging.LogFile != "" {
			w = &lumberjack.Logger{
				Filename: rp.Logging.LogFile,
				MaxAge:   rp.Logging.LogRetentionDays,
				Compress: true,
			}
		}

		jsonFormat = rp.Logging.LogFormat == "json"
	}

	opts := &slog.HandlerOptions{Level: level}

	if jsonFormat {
		return slog.NewJSONHandler(w, opts)
	}

	return slog.NewTextHandler(w, opts)
}
