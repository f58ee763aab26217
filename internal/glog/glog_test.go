package glog

import (
	"bytes"
	"log"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func withCapturedOutput(t *testing.T, fn func()) string {
	t.Helper()
	var buf bytes.Buffer
	old := logger
	logger = log.New(&buf, "", 0)
	defer func() { logger = old }()
	fn()
	return buf.String()
}

func TestVGatesInfoByVerbosity(t *testing.T) {
	SetVerbosity(1)
	defer SetVerbosity(0)

	out := withCapturedOutput(t, func() {
		V(0).Infof("always shown")
		V(2).Infof("too verbose")
	})

	assert.True(t, strings.Contains(out, "always shown"))
	assert.False(t, strings.Contains(out, "too verbose"))
}

func TestVFalseAtZeroVerbositySuppressesHigherLevels(t *testing.T) {
	SetVerbosity(0)

	out := withCapturedOutput(t, func() {
		V(1).Info("hidden")
	})

	assert.Empty(t, out)
}

func TestWarningfAndErrorfAlwaysLog(t *testing.T) {
	SetVerbosity(0)

	out := withCapturedOutput(t, func() {
		Warningf("careful: %d", 1)
		Errorf("broken: %d", 2)
	})

	assert.True(t, strings.Contains(out, "W careful: 1"))
	assert.True(t, strings.Contains(out, "E broken: 2"))
}
