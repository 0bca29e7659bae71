package shared

import (
	"io"
	"os"
	"strings"

	"github.com/sirupsen/logrus"
	"gopkg.in/natefinch/lumberjack.v2"
)

// ConfigureLogging applies level, formatter and output to the standard logrus logger.
// A non-empty File routes output to a size-rotated log file.
func ConfigureLogging(cfg LoggingConfig) io.Writer {
	level, err := logrus.ParseLevel(strings.ToLower(cfg.Level))
	if err != nil {
		logrus.Warnf("Invalid log level %q, using info", cfg.Level)
		level = logrus.InfoLevel
	}
	logrus.SetLevel(level)

	if strings.EqualFold(cfg.Format, "text") {
		logrus.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	} else {
		logrus.SetFormatter(&logrus.JSONFormatter{})
	}

	var out io.Writer
	switch {
	case cfg.File != "":
		out = &lumberjack.Logger{
			Filename:   cfg.File,
			MaxSize:    cfg.MaxSizeMB,
			MaxBackups: cfg.MaxBackups,
			Compress:   true,
		}
	case strings.EqualFold(cfg.Output, "stderr"):
		out = os.Stderr
	default:
		out = os.Stdout
	}
	logrus.SetOutput(out)

	logrus.WithFields(logrus.Fields{
		"component":    "Logging",
		"level":        level.String(),
		"format":       cfg.Format,
		"file":         cfg.File,
		"service_name": cfg.ServiceName,
	}).Debug("Logging configured")

	return out
}
