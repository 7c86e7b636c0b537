package meshctl

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/LeonardoBeccarini/espcluster/internal/model/entities"
	"github.com/LeonardoBeccarini/espcluster/internal/services/command"
)

func startNode(t *testing.T) (string, chan entities.TimingCommand) {
	t.Helper()
	lis, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	got := make(chan entities.TimingCommand, 4)
	srv := grpc.NewServer()
	command.RegisterCommandInputServer(srv, command.NewGrpcHandler(0, func(c entities.TimingCommand) { got <- c }, zap.NewNop().Sugar()))
	go func() { _ = srv.Serve(lis) }()
	t.Cleanup(srv.Stop)
	return lis.Addr().String(), got
}

func TestSubmitAccepted(t *testing.T) {
	addr, got := startNode(t)
	s := NewSubmitter(Settings{Wait: 5 * time.Second}, zap.NewNop().Sugar())

	ack, err := s.Submit(context.Background(), addr, "A3")
	require.NoError(t, err)
	assert.Contains(t, ack, "active")
	assert.Equal(t, uint32(3), (<-got).Duration)
}

func TestSubmitRejectedIsNotRetried(t *testing.T) {
	addr, _ := startNode(t)
	s := NewSubmitter(Settings{Wait: 5 * time.Second}, zap.NewNop().Sugar())

	start := time.Now()
	_, err := s.Submit(context.Background(), addr, "Q1")
	require.Error(t, err)
	assert.Equal(t, codes.InvalidArgument, status.Code(err))
	assert.Less(t, time.Since(start), 2*time.Second)
}

func TestSubmitGivesUpOnSleepingNode(t *testing.T) {
	lis, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := lis.Addr().String()
	require.NoError(t, lis.Close())

	s := NewSubmitter(Settings{Wait: 600 * time.Millisecond, CallTimeout: 100 * time.Millisecond, Failures: 2, OpenFor: time.Second}, zap.NewNop().Sugar())
	_, err = s.Submit(context.Background(), addr, "S10")
	assert.Error(t, err)
}
