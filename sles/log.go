package sles

import (
	"io"

	"github.com/sirupsen/logrus"
)

// LogType separates configuration dumps from post-run statistics
type LogType uint8

const (
	LogSetup LogType = iota
	LogPerformance
)

func (lt LogType) String() string {
	switch lt {
	case LogSetup:
		return "setup"
	case LogPerformance:
		return "performance"
	}
	return "unknown"
}

// Log is the package logger shared by the solvers. It defaults to the logrus
// standard logger.
var Log logrus.FieldLogger = logrus.StandardLogger()

// SetLogger replaces the solver logger, nil restores the standard logger
func SetLogger(l logrus.FieldLogger) {
	if l == nil {
		l = logrus.StandardLogger()
	}
	Log = l
}

// DiscardLogger returns a logger writing nowhere, for quiet runs and tests
func DiscardLogger() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

// SystemLog returns the logger for a named linear system
func SystemLog(name string, lt LogType) *logrus.Entry {
	return Log.WithFields(logrus.Fields{
		"system":   name,
		"log_type": lt.String(),
	})
}
