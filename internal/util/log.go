// Package util provides logging and error-handling helpers shared across
// the TSA back-end.
package util

import (
	"io"
	"os"

	"github.com/sirupsen/logrus"
)

// Logger is the global logger instance.
var Logger = logrus.New()

func init() {
	Logger.SetOutput(os.Stderr)
	Logger.SetLevel(logrus.InfoLevel)
	Logger.SetFormatter(&logrus.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: "2006-01-02 15:04:05",
	})
}

// SetLogLevel sets the logging level.
func SetLogLevel(level string) error {
	lvl, err := logrus.ParseLevel(level)
	if err != nil {
		return err
	}
	Logger.SetLevel(lvl)
	return nil
}

// SetLogOutput sets the log output destination.
func SetLogOutput(w io.Writer) {
	Logger.SetOutput(w)
}

// SetJSONFormat enables JSON log format, used when the process runs
// under a log collector rather than a terminal.
func SetJSONFormat() {
	Logger.SetFormatter(&logrus.JSONFormatter{
		TimestampFormat: "2006-01-02T15:04:05Z07:00",
	})
}

// WithField returns a logger with a field attached.
func WithField(key string, value interface{}) *logrus.Entry {
	return Logger.WithField(key, value)
}

// WithFields returns a logger with multiple fields attached.
func WithFields(fields map[string]interface{}) *logrus.Entry {
	return Logger.WithFields(fields)
}

// WithCommand returns a logger scoped to a dispatched command name.
func WithCommand(command string) *logrus.Entry {
	return Logger.WithField("command", command)
}

// WithChainKey returns a logger scoped to a canonical policy-chain key.
func WithChainKey(key string) *logrus.Entry {
	return Logger.WithField("chain_key", key)
}

// WithDpid returns a logger scoped to a switch datapath id.
func WithDpid(dpid string) *logrus.Entry {
	return Logger.WithField("dpid", dpid)
}

func Debugf(format string, args ...interface{}) { Logger.Debugf(format, args...) }
func Infof(format string, args ...interface{})  { Logger.Infof(format, args...) }
func Warnf(format string, args ...interface{})  { Logger.Warnf(format, args...) }
func Errorf(format string, args ...interface{}) { Logger.Errorf(format, args...) }
