package server

import (
	"bytes"
	"context"
	"testing"
	"time"

	"fileshare/pkg/client"
	"fileshare/pkg/metrics"
	"fileshare/pkg/protocol"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func eventually(t *testing.T, want float64, c prometheus.Collector) {
	t.Helper()
	require.Eventually(t, func() bool {
		return testutil.ToFloat64(c) == want
	}, testTimeout, 10*time.Millisecond)
}

func TestServerMetrics(t *testing.T) {
	srv := startServer(t)
	m := srv.Metrics()
	ctx := context.Background()

	alice := dial(t, srv, "alice")
	bob := dial(t, srv, "bob")
	eventually(t, 2, m.ActiveSessions)

	upload(t, alice, "a.txt", []byte("12345"))
	eventually(t, 1, m.StoredFiles)
	eventually(t, 5, m.BytesUploaded)

	var buf bytes.Buffer
	_, err := bob.Download(ctx, "a.txt", "alice", &buf)
	require.NoError(t, err)
	waitEvent(t, alice)
	eventually(t, 5, m.BytesDownloaded)
	eventually(t, 1, m.Notifications.WithLabelValues(metrics.NotificationQueued))

	err = bob.Delete(ctx, "a.txt")
	require.Error(t, err)
	eventually(t, 1, m.Commands.WithLabelValues("delete", "permission_denied"))

	_, err = bob.Download(ctx, "missing.txt", "alice", nil)
	require.Error(t, err)
	eventually(t, 1, m.Commands.WithLabelValues("download", "not_found"))

	require.NoError(t, alice.Delete(ctx, "a.txt"))
	eventually(t, 0, m.StoredFiles)
	eventually(t, 1, m.Commands.WithLabelValues("delete", "ok"))

	dialCtx, cancel := context.WithTimeout(ctx, testTimeout)
	defer cancel()
	_, err = client.Dial(dialCtx, srv.Addr().String(), "alice", zaptest.NewLogger(t))
	require.ErrorIs(t, err, protocol.ErrUsernameTaken)
	eventually(t, 1, m.HandshakeFailures.WithLabelValues("username_taken"))

	bob.Close()
	eventually(t, 1, m.ActiveSessions)
	assert.Equal(t, 0.0, testutil.ToFloat64(m.Notifications.WithLabelValues(metrics.NotificationDropped)))
}
