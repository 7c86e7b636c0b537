package command

import (
	"context"
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"

	"github.com/LeonardoBeccarini/espcluster/internal/model/entities"
)

func TestSubmitOverGrpc(t *testing.T) {
	lis := bufconn.Listen(1 << 16)
	received := make(chan entities.TimingCommand, 1)

	srv := grpc.NewServer()
	RegisterCommandInputServer(srv, NewGrpcHandler(0, func(c entities.TimingCommand) { received <- c }, zap.NewNop().Sugar()))
	go func() { _ = srv.Serve(lis) }()
	t.Cleanup(srv.Stop)

	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) { return lis.DialContext(ctx) }),
		grpc.WithTransportCredentials(insecure.NewCredentials()))
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })

	ack, err := Submit(context.Background(), conn, "S45")
	require.NoError(t, err)
	assert.Contains(t, ack, "45")

	cmd := <-received
	assert.Equal(t, entities.SetSleepDuration, cmd.Kind)
	assert.Equal(t, uint32(45), cmd.Duration)

	_, err = Submit(context.Background(), conn, "Z1")
	require.Error(t, err)
	assert.Equal(t, codes.InvalidArgument, status.Code(err))
}
