// Package grpcserver exposes the task operations over gRPC. Messages are
// google.protobuf.Struct values carrying the same JSON shapes as the HTTP API.
package grpcserver

import (
	"net"

	"google.golang.org/grpc"

	"github.com/patric-chuzhbe/tasktracker/internal/grpcserver/interceptor"
)

var protectedMethods = []string{
	FullMethod(MethodCreateTask),
	FullMethod(MethodListTasks),
	FullMethod(MethodGetTask),
	FullMethod(MethodUpdateTask),
	FullMethod(MethodDeleteTask),
}

func NewGRPCServer(
	addr string,
	handler *TaskHandler,
	guard interceptor.Authenticator,
) (*grpc.Server, net.Listener, error) {
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, nil, err
	}

	authInterceptor := interceptor.NewAuthInterceptor(guard)

	server := grpc.NewServer(
		grpc.ChainUnaryInterceptor(
			interceptor.UnaryLoggingInterceptor(),
			authInterceptor.UnaryAuthInterceptor(protectedMethods),
		),
	)
	RegisterTaskServiceServer(server, handler)

	return server, lis, nil
}
