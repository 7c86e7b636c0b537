package command

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"github.com/LeonardoBeccarini/espcluster/internal/model/entities"
)

const (
	ServiceName = "espcluster.node.v1.CommandInput"
	// SubmitMethod is the full method name used by clients with conn.Invoke.
	SubmitMethod = "/" + ServiceName + "/Submit"
)

// CommandInputServer accepts the same operator lines the serial reader does.
type CommandInputServer interface {
	Submit(context.Context, *wrapperspb.StringValue) (*wrapperspb.StringValue, error)
}

// GrpcHandler parses submitted lines and hands them to the node loop.
type GrpcHandler struct {
	target entities.BoardID
	sink   func(entities.TimingCommand)
	logger *zap.SugaredLogger
}

func NewGrpcHandler(target entities.BoardID, sink func(entities.TimingCommand), logger *zap.SugaredLogger) *GrpcHandler {
	if logger == nil {
		logger = zap.S()
	}
	return &GrpcHandler{target: target, sink: sink, logger: logger}
}

func (h *GrpcHandler) Submit(_ context.Context, req *wrapperspb.StringValue) (*wrapperspb.StringValue, error) {
	line := strings.TrimSpace(req.GetValue())
	cmd, err := ParseLine(line, h.target)
	if err != nil {
		h.logger.Warnf("Rejected remote command %q: %v", line, err)
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}
	h.sink(cmd)
	h.logger.Infof("Accepted remote command %s %ds", cmd.Kind, cmd.Duration)
	return wrapperspb.String(fmt.Sprintf("queued %s %d", cmd.Kind, cmd.Duration)), nil
}

func submitHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(wrapperspb.StringValue)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(CommandInputServer).Submit(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: SubmitMethod}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(CommandInputServer).Submit(ctx, req.(*wrapperspb.StringValue))
	}
	return interceptor(ctx, in, info, handler)
}

var serviceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*CommandInputServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Submit", Handler: submitHandler},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "espcluster/node/v1/command.proto",
}

func RegisterCommandInputServer(s grpc.ServiceRegistrar, srv CommandInputServer) {
	s.RegisterService(&serviceDesc, srv)
}

// Submit sends one operator line to a node's command input service.
func Submit(ctx context.Context, conn grpc.ClientConnInterface, line string) (string, error) {
	out := new(wrapperspb.StringValue)
	if err := conn.Invoke(ctx, SubmitMethod, wrapperspb.String(line), out); err != nil {
		return "", err
	}
	return out.GetValue(), nil
}
