package grpcserver

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/structpb"
)

// ServiceName is the fully qualified gRPC service name. Every method takes and
// returns a google.protobuf.Struct shaped like the HTTP JSON bodies.
const ServiceName = "tasktracker.TaskService"

const (
	MethodCreateTask       = "CreateTask"
	MethodListTasks        = "ListTasks"
	MethodGetTask          = "GetTask"
	MethodUpdateTask       = "UpdateTask"
	MethodDeleteTask       = "DeleteTask"
	MethodPing             = "Ping"
	MethodGetInternalStats = "GetInternalStats"
)

// FullMethod returns the "/service/method" name used by interceptors.
func FullMethod(method string) string {
	return "/" + ServiceName + "/" + method
}

type TaskServiceServer interface {
	CreateTask(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error)
	ListTasks(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error)
	GetTask(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error)
	UpdateTask(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error)
	DeleteTask(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error)
	Ping(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error)
	GetInternalStats(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error)
}

type unaryCall func(srv TaskServiceServer, ctx context.Context, req *structpb.Struct) (*structpb.Struct, error)

func unaryMethod(method string, call unaryCall) grpc.MethodDesc {
	return grpc.MethodDesc{
		MethodName: method,
		Handler: func(
			srv any,
			ctx context.Context,
			dec func(any) error,
			interceptor grpc.UnaryServerInterceptor,
		) (any, error) {
			in := new(structpb.Struct)
			if err := dec(in); err != nil {
				return nil, err
			}
			server := srv.(TaskServiceServer)
			if interceptor == nil {
				return call(server, ctx, in)
			}

			info := &grpc.UnaryServerInfo{
				Server:     srv,
				FullMethod: FullMethod(method),
			}
			return interceptor(ctx, in, info, func(ctx context.Context, req any) (any, error) {
				return call(server, ctx, req.(*structpb.Struct))
			})
		},
	}
}

// TaskServiceDesc describes the service for grpc.Server.RegisterService.
var TaskServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*TaskServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		unaryMethod(MethodCreateTask, TaskServiceServer.CreateTask),
		unaryMethod(MethodListTasks, TaskServiceServer.ListTasks),
		unaryMethod(MethodGetTask, TaskServiceServer.GetTask),
		unaryMethod(MethodUpdateTask, TaskServiceServer.UpdateTask),
		unaryMethod(MethodDeleteTask, TaskServiceServer.DeleteTask),
		unaryMethod(MethodPing, TaskServiceServer.Ping),
		unaryMethod(MethodGetInternalStats, TaskServiceServer.GetInternalStats),
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "tasktracker.proto",
}

func RegisterTaskServiceServer(registrar grpc.ServiceRegistrar, srv TaskServiceServer) {
	registrar.RegisterService(&TaskServiceDesc, srv)
}

// TaskServiceClient calls TaskService methods over a client connection.
type TaskServiceClient struct {
	cc grpc.ClientConnInterface
}

func NewTaskServiceClient(cc grpc.ClientConnInterface) *TaskServiceClient {
	return &TaskServiceClient{cc: cc}
}

// Call invokes method with in and returns the decoded reply.
func (c *TaskServiceClient) Call(
	ctx context.Context,
	method string,
	in *structpb.Struct,
	opts ...grpc.CallOption,
) (*structpb.Struct, error) {
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, FullMethod(method), in, out, opts...); err != nil {
		return nil, err
	}

	return out, nil
}
