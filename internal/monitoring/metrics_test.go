package monitoring

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestMetrics_SessionLifecycle(t *testing.T) {
	m := NewMetrics(prometheus.NewRegistry())

	m.SessionRegistered()
	m.SessionRegistered()
	m.SessionRemoved()
	m.SpawnFailed()
	m.InputWritten(12)
	m.WriteFailed()
	m.EventEmitted("shell-output")
	m.EventEmitted("shell-output")
	m.EventEmitted("shell-exit")

	assert.Equal(t, 1.0, testutil.ToFloat64(m.SessionsActive))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.SessionsStarted))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.SpawnFailures))
	assert.Equal(t, 12.0, testutil.ToFloat64(m.InputBytes))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.WriteFailures))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.Events.WithLabelValues("shell-output")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Events.WithLabelValues("shell-exit")))
}

func TestMetrics_WebSocket(t *testing.T) {
	m := NewMetrics(prometheus.NewRegistry())

	m.ClientConnected()
	m.ClientConnected()
	m.ClientDisconnected()
	m.MessageReceived("start_shell")

	assert.Equal(t, 1.0, testutil.ToFloat64(m.WSConnections))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.WSMessages.WithLabelValues("start_shell")))
}

func TestMetrics_NilIsNoop(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.SessionRegistered()
		m.SessionRemoved()
		m.SpawnFailed()
		m.InputWritten(1)
		m.WriteFailed()
		m.EventEmitted("shell-exit")
		m.ClientConnected()
		m.ClientDisconnected()
		m.MessageReceived("x")
	})
}

func TestNewMetrics_SeparateRegistries(t *testing.T) {
	assert.NotPanics(t, func() {
		NewMetrics(prometheus.NewRegistry())
		NewMetrics(prometheus.NewRegistry())
	})
}
