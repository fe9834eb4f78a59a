// Package rpc exposes intent resolution over gRPC for operator tooling. Requests
// and replies are google.protobuf.Struct values.
package rpc

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/ashureev/voice-assistant/internal/assistant"
	"github.com/ashureev/voice-assistant/internal/intent"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/keepalive"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"
)

// ServiceName is the fully qualified gRPC service name.
const ServiceName = "assistant.v1.IntentService"

const resolveMethod = "/" + ServiceName + "/Resolve"

// Resolver turns an utterance into an intent.
type Resolver interface {
	Resolve(ctx context.Context, utterance, assistantName, userName string) intent.Intent
}

// IntentServer is the server API for the intent service.
type IntentServer interface {
	Resolve(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error)
}

var serviceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*IntentServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Resolve", Handler: resolveHandler},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "assistant/v1/intent.proto",
}

func resolveHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(structpb.Struct)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(IntentServer).Resolve(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: resolveMethod}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(IntentServer).Resolve(ctx, req.(*structpb.Struct))
	}
	return interceptor(ctx, in, info, handler)
}

// Server resolves utterances without touching any user's history.
type Server struct {
	resolver Resolver
	logger   *slog.Logger
}

// NewServer creates the intent service implementation.
func NewServer(resolver Resolver, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{resolver: resolver, logger: logger.With("component", "rpc")}
}

// Resolve expects {utterance, assistantName?, userName?} and answers with the
// intent's {type, userInput, response}.
func (s *Server) Resolve(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	fields := req.GetFields()
	utterance := strings.TrimSpace(fields["utterance"].GetStringValue())
	if utterance == "" {
		return nil, status.Error(codes.InvalidArgument, "utterance is required")
	}
	assistantName := strings.TrimSpace(fields["assistantName"].GetStringValue())
	if assistantName == "" {
		assistantName = assistant.DefaultAssistantName
	}
	userName := strings.TrimSpace(fields["userName"].GetStringValue())

	result := s.resolver.Resolve(ctx, utterance, assistantName, userName)
	return intentToStruct(result)
}

func intentToStruct(in intent.Intent) (*structpb.Struct, error) {
	out, err := structpb.NewStruct(map[string]interface{}{
		"type":      string(in.Type),
		"userInput": in.UserInput,
		"response":  in.Response,
	})
	if err != nil {
		return nil, status.Errorf(codes.Internal, "encode intent: %v", err)
	}
	return out, nil
}

func structToIntent(s *structpb.Struct) intent.Intent {
	f := s.GetFields()
	return intent.Intent{
		Type:      intent.Type(f["type"].GetStringValue()),
		UserInput: f["userInput"].GetStringValue(),
		Response:  f["response"].GetStringValue(),
	}
}

// NewGRPCServer builds a grpc.Server serving the intent and health services.
func NewGRPCServer(srv *Server, logger *slog.Logger) *grpc.Server {
	if logger == nil {
		logger = slog.Default()
	}
	gs := grpc.NewServer(
		grpc.KeepaliveParams(keepalive.ServerParameters{
			MaxConnectionIdle: 5 * time.Minute,
			Time:              2 * time.Minute,
			Timeout:           10 * time.Second,
		}),
		grpc.ChainUnaryInterceptor(loggingInterceptor(logger)),
	)
	gs.RegisterService(&serviceDesc, srv)

	hs := health.NewServer()
	hs.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	hs.SetServingStatus(ServiceName, healthpb.HealthCheckResponse_SERVING)
	healthpb.RegisterHealthServer(gs, hs)
	return gs
}

func loggingInterceptor(logger *slog.Logger) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (interface{}, error) {
		start := time.Now()
		resp, err := handler(ctx, req)
		if err != nil {
			logger.Warn("gRPC call failed", "method", info.FullMethod, "code", status.Code(err), "elapsed", time.Since(start))
			return resp, err
		}
		logger.Debug("gRPC call", "method", info.FullMethod, "elapsed", time.Since(start))
		return resp, nil
	}
}
