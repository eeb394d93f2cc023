package admin

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

func TestHealthStatus(t *testing.T) {
	s := New("127.0.0.1:0", zaptest.NewLogger(t))
	require.NoError(t, s.Start())
	defer s.Stop()

	addr := s.Addr().String()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	status, err := Probe(ctx, addr, ServiceName)
	require.NoError(t, err)
	assert.Equal(t, healthpb.HealthCheckResponse_NOT_SERVING, status)

	s.SetServing(true)
	status, err = Probe(ctx, addr, ServiceName)
	require.NoError(t, err)
	assert.Equal(t, healthpb.HealthCheckResponse_SERVING, status)

	status, err = Probe(ctx, addr, "")
	require.NoError(t, err)
	assert.Equal(t, healthpb.HealthCheckResponse_SERVING, status)

	s.SetServing(false)
	status, err = Probe(ctx, addr, ServiceName)
	require.NoError(t, err)
	assert.Equal(t, healthpb.HealthCheckResponse_NOT_SERVING, status)
}

func TestProbeUnknownService(t *testing.T) {
	s := New("127.0.0.1:0", zaptest.NewLogger(t))
	require.NoError(t, s.Start())
	defer s.Stop()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	_, err := Probe(ctx, s.Addr().String(), "no.such.Service")
	assert.Error(t, err)
}
