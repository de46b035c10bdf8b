// Package remote is the gRPC transport between the engine and remote
// workers. A worker serves ExecuteBundle by running the bundle with its own
// engine; the client side implements bundle.Runner so executors can treat a
// remote worker like a local one.
package remote

import (
	"context"
	"errors"
	"log/slog"
	"net"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	"github.com/san-kum/cadsim/internal/bundle"
	"github.com/san-kum/cadsim/internal/dynamo"
)

// Server executes bundles received over gRPC.
type Server struct {
	runner bundle.Runner
	token  string
	log    *slog.Logger
	grpc   *grpc.Server
}

// NewServer builds a worker server. Requests must carry token as a bearer
// credential unless token is empty.
func NewServer(runner bundle.Runner, token string, log *slog.Logger) *Server {
	if log == nil {
		log = slog.Default()
	}
	s := &Server{runner: runner, token: token, log: log}
	s.grpc = grpc.NewServer(grpc.UnaryInterceptor(s.authorize))
	s.grpc.RegisterService(serviceDesc(), s)
	return s
}

func (s *Server) Serve(lis net.Listener) error {
	s.log.Info("worker listening", "addr", lis.Addr().String())
	return s.grpc.Serve(lis)
}

func (s *Server) GracefulStop() { s.grpc.GracefulStop() }

func (s *Server) Stop() { s.grpc.Stop() }

func (s *Server) ExecuteBundle(ctx context.Context, req *ExecuteRequest) (*ExecuteResponse, error) {
	if req == nil || len(req.Bundle) == 0 {
		return nil, status.Error(codes.InvalidArgument, "bundle is required")
	}

	s.log.Debug("bundle received", "task", req.Task, "bytes", len(req.Bundle), "backend", req.Params.Backend)
	out, err := s.runner.RunBundle(ctx, req.Bundle, req.Params)
	if err != nil {
		s.log.Warn("bundle failed", "task", req.Task, "error", err)
		switch {
		case errors.Is(err, dynamo.ErrConfiguration):
			return nil, status.Error(codes.InvalidArgument, err.Error())
		case errors.Is(err, dynamo.ErrRunFailure):
			return nil, status.Error(codes.Aborted, err.Error())
		case errors.Is(err, context.Canceled):
			return nil, status.Error(codes.Canceled, err.Error())
		case errors.Is(err, context.DeadlineExceeded):
			return nil, status.Error(codes.DeadlineExceeded, err.Error())
		default:
			return nil, status.Error(codes.Internal, err.Error())
		}
	}
	s.log.Debug("bundle done", "task", req.Task, "bytes", len(out))
	return &ExecuteResponse{Outcomes: out}, nil
}

func (s *Server) authorize(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
	if s.token == "" {
		return handler(ctx, req)
	}
	md, _ := metadata.FromIncomingContext(ctx)
	for _, v := range md.Get("authorization") {
		if v == "Bearer "+s.token {
			return handler(ctx, req)
		}
	}
	return nil, status.Error(codes.Unauthenticated, "invalid worker token")
}
