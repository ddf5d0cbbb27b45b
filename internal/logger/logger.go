package logger

import (
	"os"

	"github.com/sirupsen/logrus"
)

var log = newLogger()

func newLogger() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(os.Stderr)
	l.SetLevel(logrus.InfoLevel)
	return l
}

// Init sets the level from its textual form, falling back to info.
// JSON output is used unless env is "dev".
func Init(level, env string) {
	lvl, err := logrus.ParseLevel(level)
	if err != nil {
		lvl = logrus.InfoLevel
	}
	log.SetLevel(lvl)
	if env != "dev" {
		log.SetFormatter(&logrus.JSONFormatter{})
	} else {
		log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}
}

// L exposes the underlying logger, mainly so tests can attach hooks.
func L() *logrus.Logger { return log }

func WithFields(fields logrus.Fields) *logrus.Entry { return log.WithFields(fields) }

func Info(args ...interface{}) { log.Info(args...) }
func Warn(args ...interface{}) { log.Warn(args...) }

func Infof(format string, args ...interface{})  { log.Infof(format, args...) }
func Errorf(format string, args ...interface{}) { log.Errorf(format, args...) }
