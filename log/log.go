// Package log provides loggers configured from the environment.
package log

import (
	"io"
	"os"
	"strconv"

	"github.com/sirupsen/logrus"
)

const (
	// DebugEnv enables debug level when set to a true value.
	DebugEnv = "AUDIOGRAPH_DEBUG"
	// FormatEnv selects entry format. Only "json" is recognized, text
	// is used otherwise.
	FormatEnv = "AUDIOGRAPH_LOG_FORMAT"
)

var (
	debug bool
	json  bool
)

func init() {
	var err error
	debug, err = strconv.ParseBool(os.Getenv(DebugEnv))
	if err != nil {
		debug = false
	}
	json = os.Getenv(FormatEnv) == "json"
}

// GetLogger returns a new logger instance.
func GetLogger() *logrus.Logger {
	return New(os.Stderr, debug, json)
}

// New returns logger that writes into w.
func New(w io.Writer, debug, json bool) *logrus.Logger {
	l := logrus.New()
	l.SetOutput(w)
	if debug {
		l.SetLevel(logrus.DebugLevel)
	}
	if json {
		l.SetFormatter(&logrus.JSONFormatter{})
	}
	return l
}

// Discard returns a logger that drops all entries.
func Discard() *logrus.Logger {
	return New(io.Discard, false, false)
}
