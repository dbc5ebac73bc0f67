package log

import (
	"io"
	"os"

	"github.com/natefinch/lumberjack"
	"github.com/sirupsen/logrus"
)

const (
	c_maxSizeMB  = 100
	c_maxBackups = 3
	c_maxAgeDays = 28
)

// Global is used by the command line tools. Library code takes a logger
// instead.
var Global = New("", "info")

// New returns a logger writing to a rotated file, or to stderr when file is
// empty. Unknown levels fall back to info.
func New(file string, level string) *logrus.Logger {
	logger := logrus.New()
	logger.SetFormatter(&logrus.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: "01-02|15:04:05.000",
	})
	lvl, err := logrus.ParseLevel(level)
	if err != nil {
		lvl = logrus.InfoLevel
	}
	logger.SetLevel(lvl)
	logger.SetOutput(output(file))
	return logger
}

func output(file string) io.Writer {
	if file == "" {
		return os.Stderr
	}
	return &lumberjack.Logger{
		Filename:   file,
		MaxSize:    c_maxSizeMB,
		MaxBackups: c_maxBackups,
		MaxAge:     c_maxAgeDays,
	}
}

// SetGlobal replaces the global logger's output and level.
func SetGlobal(file string, level string) {
	Global = New(file, level)
}
