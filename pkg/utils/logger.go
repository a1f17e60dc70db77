package utils

import (
	"io"
	"os"

	"github.com/sirupsen/logrus"
)

const logTimestampFormat = "2006-01-02T15:04:05.000Z07:00"

// Logger is the process-wide logger, shared by every component
var Logger *logrus.Logger

// InitLogger configures the process logger from the logging config
// section. Format defaults to JSON; anything but an openable file
// target logs to stdout.
func InitLogger(level, format, output, file string) error {
	logger := logrus.New()

	parsed, err := logrus.ParseLevel(level)
	if err != nil {
		return NewAppError(ErrCodeConfiguration, "Invalid log level", level)
	}
	logger.SetLevel(parsed)

	switch format {
	case "text":
		logger.SetFormatter(&logrus.TextFormatter{
			FullTimestamp:   true,
			TimestampFormat: logTimestampFormat,
		})
	default:
		logger.SetFormatter(&logrus.JSONFormatter{
			TimestampFormat: logTimestampFormat,
		})
	}

	var out io.Writer = os.Stdout
	if output == "file" && file != "" {
		f, err := os.OpenFile(file, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return NewAppError(ErrCodeConfiguration, "Cannot open log file", err.Error())
		}
		out = f
	}
	logger.SetOutput(out)

	Logger = logger
	return nil
}

// GetLogger returns the process logger, initializing it with defaults
// on first use
func GetLogger() *logrus.Logger {
	if Logger == nil {
		InitLogger("info", "json", "stdout", "")
	}
	return Logger
}

// ComponentLogger returns an entry tagged with the component name
func ComponentLogger(component string) *logrus.Entry {
	return GetLogger().WithField("component", component)
}
