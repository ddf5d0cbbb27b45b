package logger

import (
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/require"
)

func TestLoggerFunctions(t *testing.T) {
	Init("invalid", "dev") // should default to info
	require.Equal(t, logrus.InfoLevel, L().GetLevel())
	_, isText := L().Formatter.(*logrus.TextFormatter)
	require.True(t, isText)

	hook := test.NewLocal(L())

	L().Debug("debug")
	Info("info")
	Warn("warn")
	Infof("%s", "infof")
	Errorf("%s", "errorf")

	// debug entries are filtered at info level
	require.Len(t, hook.AllEntries(), 4)
	require.Equal(t, logrus.ErrorLevel, hook.LastEntry().Level)
	require.Equal(t, "errorf", hook.LastEntry().Message)

	Init("debug", "prod")
	require.Equal(t, logrus.DebugLevel, L().GetLevel())
	_, isJSON := L().Formatter.(*logrus.JSONFormatter)
	require.True(t, isJSON)

	WithFields(logrus.Fields{"token": "x"}).Warn("rejected")
	require.Equal(t, "x", hook.LastEntry().Data["token"])
	Init("info", "dev")
}
