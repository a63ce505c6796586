package rpc

import (
	"context"
	"errors"
	"net"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/health/grpc_health_v1"
)

func startHealth(t *testing.T, checks map[string]Pinger) (*HealthServer, grpc_health_v1.HealthClient) {
	t.Helper()
	h := NewHealthServer(zerolog.Nop(), checks)
	lis, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	go func() { _ = h.ServeListener(lis) }()
	t.Cleanup(h.Stop)

	conn, err := grpc.NewClient(lis.Addr().String(), grpc.WithTransportCredentials(insecure.NewCredentials()))
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return h, grpc_health_v1.NewHealthClient(conn)
}

func TestHealthServer_ReportsDependencyState(t *testing.T) {
	healthy := true
	h, client := startHealth(t, map[string]Pinger{
		"db": PingFunc(func(context.Context) error {
			if healthy {
				return nil
			}
			return errors.New("bağlantı yok")
		}),
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	resp, err := client.Check(ctx, &grpc_health_v1.HealthCheckRequest{Service: ServiceName})
	require.NoError(t, err)
	assert.Equal(t, grpc_health_v1.HealthCheckResponse_SERVING, resp.GetStatus())

	healthy = false
	assert.False(t, h.Check(ctx))
	resp, err = client.Check(ctx, &grpc_health_v1.HealthCheckRequest{Service: ServiceName})
	require.NoError(t, err)
	assert.Equal(t, grpc_health_v1.HealthCheckResponse_NOT_SERVING, resp.GetStatus())
}

func TestCallWithCustomTimeout(t *testing.T) {
	_, err := CallWithCustomTimeout(context.Background(), 10*time.Millisecond, zerolog.Nop(), func(ctx context.Context) (int, error) {
		<-ctx.Done()
		return 0, ctx.Err()
	})
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	v, err := CallWithTimeout(context.Background(), zerolog.Nop(), func(context.Context) (int, error) { return 7, nil })
	require.NoError(t, err)
	assert.Equal(t, 7, v)
}
