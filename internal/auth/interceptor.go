// ABOUTME: gRPC interceptors running the authentication gate and route policy
// ABOUTME: Reads bearer tokens from metadata and authorizes by full method name

package auth

import (
	"context"
	"net/http"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
)

// UnaryInterceptor returns a gRPC unary interceptor that examines the
// request's bearer token. It never rejects; chain Policy.UnaryInterceptor
// after it.
func (g *Gate) UnaryInterceptor() grpc.UnaryServerInterceptor {
	return func(
		ctx context.Context,
		req any,
		info *grpc.UnaryServerInfo,
		handler grpc.UnaryHandler,
	) (any, error) {
		return handler(g.examineIncoming(ctx), req)
	}
}

// StreamInterceptor returns a gRPC stream interceptor that examines the
// stream's bearer token.
func (g *Gate) StreamInterceptor() grpc.StreamServerInterceptor {
	return func(
		srv any,
		ss grpc.ServerStream,
		info *grpc.StreamServerInfo,
		handler grpc.StreamHandler,
	) error {
		wrapped := &wrappedServerStream{
			ServerStream: ss,
			ctx:          g.examineIncoming(ss.Context()),
		}
		return handler(srv, wrapped)
	}
}

func (g *Gate) examineIncoming(ctx context.Context) context.Context {
	var header string
	if md, ok := metadata.FromIncomingContext(ctx); ok {
		if values := md.Get("authorization"); len(values) > 0 {
			header = values[0]
		}
	}
	ctx, _ = g.Examine(ctx, header)
	return ctx
}

// UnaryInterceptor returns a gRPC unary interceptor enforcing the policy on
// the full method name ("/package.Service/Method"). gRPC calls are matched
// as POST requests.
func (p *Policy) UnaryInterceptor() grpc.UnaryServerInterceptor {
	return func(
		ctx context.Context,
		req any,
		info *grpc.UnaryServerInfo,
		handler grpc.UnaryHandler,
	) (any, error) {
		if err := p.authorizeRPC(ctx, info.FullMethod); err != nil {
			return nil, err
		}
		return handler(ctx, req)
	}
}

// StreamInterceptor returns a gRPC stream interceptor enforcing the policy.
func (p *Policy) StreamInterceptor() grpc.StreamServerInterceptor {
	return func(
		srv any,
		ss grpc.ServerStream,
		info *grpc.StreamServerInfo,
		handler grpc.StreamHandler,
	) error {
		if err := p.authorizeRPC(ss.Context(), info.FullMethod); err != nil {
			return err
		}
		return handler(srv, ss)
	}
}

func (p *Policy) authorizeRPC(ctx context.Context, fullMethod string) error {
	id := FromContext(ctx)
	if p.Authorize(fullMethod, http.MethodPost, id) == Permit {
		return nil
	}
	if id == nil {
		return status.Error(codes.Unauthenticated, "unauthorized")
	}
	return status.Error(codes.PermissionDenied, "forbidden")
}

// wrappedServerStream wraps a grpc.ServerStream with a custom context.
type wrappedServerStream struct {
	grpc.ServerStream
	ctx context.Context
}

// Context returns the wrapped context.
func (w *wrappedServerStream) Context() context.Context {
	return w.ctx
}
