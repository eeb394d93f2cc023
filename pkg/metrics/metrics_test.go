package metrics

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strings"
	"testing"
	"time"

	"fileshare/pkg/protocol"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func TestResult(t *testing.T) {
	tests := []struct {
		err  error
		want string
	}{
		{nil, "ok"},
		{&protocol.CommandError{Verb: "upload"}, "invalid_command"},
		{protocol.ErrInvalidFilename, "invalid_filename"},
		{protocol.ErrFileTooLarge, "too_large"},
		{protocol.ErrInvalidFileSize, "invalid_size"},
		{protocol.ErrConnectionInterrupted, "interrupted"},
		{protocol.ErrFileNotFound, "not_found"},
		{protocol.ErrPermissionDenied, "permission_denied"},
		{protocol.ErrTransferCancelled, "cancelled"},
		{errors.New("disk full"), "error"},
	}

	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			assert.Equal(t, tt.want, Result(tt.err))
		})
	}
}

func TestObserveCommand(t *testing.T) {
	registry := prometheus.NewRegistry()
	m := New(registry)

	m.ObserveCommand("list", nil, time.Millisecond)
	m.ObserveCommand("list", nil, time.Millisecond)
	m.ObserveCommand("delete", protocol.ErrPermissionDenied, time.Millisecond)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.Commands.WithLabelValues("list", "ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Commands.WithLabelValues("delete", "permission_denied")))
	assert.Equal(t, 2, testutil.CollectAndCount(m.CommandDuration))
}

func TestServeExposesMetrics(t *testing.T) {
	registry := prometheus.NewRegistry()
	m := New(registry)
	m.ConnectionsTotal.Inc()

	server, addr, err := Serve("127.0.0.1:0", registry, zaptest.NewLogger(t))
	require.NoError(t, err)
	defer server.Shutdown(context.Background())

	resp, err := http.Get("http://" + addr.String() + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.True(t, strings.Contains(string(body), "fileshare_connections_total 1"))

	live, err := http.Get("http://" + addr.String() + "/health/live")
	require.NoError(t, err)
	live.Body.Close()
	assert.Equal(t, http.StatusOK, live.StatusCode)
}
