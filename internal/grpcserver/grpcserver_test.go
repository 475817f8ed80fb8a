package grpcserver

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/patric-chuzhbe/tasktracker/internal/auth"
	"github.com/patric-chuzhbe/tasktracker/internal/credentials"
	"github.com/patric-chuzhbe/tasktracker/internal/db/memorystorage"
	"github.com/patric-chuzhbe/tasktracker/internal/ipchecker"
	"github.com/patric-chuzhbe/tasktracker/internal/mockstorage"
	"github.com/patric-chuzhbe/tasktracker/internal/models"
	"github.com/patric-chuzhbe/tasktracker/internal/service"
)

const (
	addr         = "localhost:0"
	dialTimeout  = 5 * time.Second
	testPassword = "correct horse"
)

type testStorage interface {
	CreateTask(ctx context.Context, ownerID string, description string, completed bool) (*models.Task, error)
	GetTask(ctx context.Context, ownerID string, taskID string) (*models.Task, error)
	ListTasks(ctx context.Context, ownerID string, query models.ListTasksQuery) (models.Tasks, error)
	UpdateTask(ctx context.Context, ownerID string, taskID string, patch models.TaskPatch) (*models.Task, error)
	DeleteTask(ctx context.Context, ownerID string, taskID string) (*models.Task, error)
	storage
}

type initOptions struct {
	mockStorage   testStorage
	trustedSubnet string
}

type initOption func(*initOptions)

func withMockStorage(db testStorage) initOption {
	return func(options *initOptions) {
		options.mockStorage = db
	}
}

func withTrustedSubnet(subnet string) initOption {
	return func(options *initOptions) {
		options.trustedSubnet = subnet
	}
}

type testServer struct {
	client   *TaskServiceClient
	sessions *credentials.Service
}

// startTestGRPCServer boots a server on a random port and returns a client
// connected to it.
func startTestGRPCServer(t *testing.T, optionsProto ...initOption) *testServer {
	options := &initOptions{}
	for _, protoOption := range optionsProto {
		protoOption(options)
	}

	db, err := memorystorage.New()
	require.NoError(t, err)

	sessions := credentials.New(
		db,
		db,
		[]byte("grpc-test-signing-key"),
		time.Hour,
		credentials.WithPasswordHasher(credentials.NewArgon2Hasher(credentials.Argon2Params{
			Memory:      64,
			Iterations:  1,
			Parallelism: 1,
			SaltLength:  16,
			KeyLength:   32,
		})),
	)

	var tasksDB testStorage = db
	if options.mockStorage != nil {
		tasksDB = options.mockStorage
	}

	checker, err := ipchecker.New(options.trustedSubnet)
	require.NoError(t, err)

	server, lis, err := NewGRPCServer(
		addr,
		NewTaskHandler(service.New(tasksDB), tasksDB, checker),
		auth.New(sessions),
	)
	require.NoError(t, err)

	go func() {
		if err := server.Serve(lis); err != nil {
			t.Logf("gRPC server stopped: %v", err)
		}
	}()

	dialContext, cancelDial := context.WithTimeout(context.Background(), dialTimeout)
	defer cancelDial()

	conn, err := grpc.DialContext(
		dialContext,
		lis.Addr().String(),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithBlock(),
	)
	require.NoError(t, err)

	t.Cleanup(func() {
		server.Stop()
		_ = conn.Close()
	})

	return &testServer{
		client:   NewTaskServiceClient(conn),
		sessions: sessions,
	}
}

func (s *testServer) login(t *testing.T, email string) context.Context {
	t.Helper()

	_, err := s.sessions.Register(context.Background(), email, testPassword)
	require.NoError(t, err)
	result, err := s.sessions.Login(context.Background(), email, testPassword)
	require.NoError(t, err)

	return metadata.AppendToOutgoingContext(context.Background(), "authorization", "Bearer "+result.Token)
}

func mustStruct(t *testing.T, fields map[string]any) *structpb.Struct {
	t.Helper()

	result, err := structpb.NewStruct(fields)
	require.NoError(t, err)

	return result
}

func TestCreateAndGetTask(t *testing.T) {
	s := startTestGRPCServer(t)
	alice := s.login(t, "alice@example.com")

	created, err := s.client.Call(alice, MethodCreateTask, mustStruct(t, map[string]any{
		"description": "From my test",
		"owner":       "somebody-else",
	}))
	require.NoError(t, err)
	assert.Equal(t, "From my test", created.Fields["description"].GetStringValue())
	assert.False(t, created.Fields["completed"].GetBoolValue())
	assert.NotEqual(t, "somebody-else", created.Fields["owner"].GetStringValue())

	id := created.Fields["id"].GetStringValue()
	fetched, err := s.client.Call(alice, MethodGetTask, mustStruct(t, map[string]any{"id": id}))
	require.NoError(t, err)
	assert.Equal(t, id, fetched.Fields["id"].GetStringValue())
}

func TestCallsWithoutTokenAreRejected(t *testing.T) {
	s := startTestGRPCServer(t)

	for _, method := range []string{MethodCreateTask, MethodListTasks, MethodGetTask, MethodUpdateTask, MethodDeleteTask} {
		t.Run(method, func(t *testing.T) {
			_, err := s.client.Call(context.Background(), method, mustStruct(t, map[string]any{"description": ""}))
			assert.Equal(t, codes.Unauthenticated, status.Code(err))
		})
	}

	bogus := metadata.AppendToOutgoingContext(context.Background(), "authorization", "Bearer bogus")
	_, err := s.client.Call(bogus, MethodListTasks, mustStruct(t, nil))
	assert.Equal(t, codes.Unauthenticated, status.Code(err))
}

func TestTaskErrors(t *testing.T) {
	s := startTestGRPCServer(t)
	alice := s.login(t, "alice@example.com")
	bob := s.login(t, "bob@example.com")

	created, err := s.client.Call(alice, MethodCreateTask, mustStruct(t, map[string]any{"description": "mine"}))
	require.NoError(t, err)
	id := created.Fields["id"].GetStringValue()

	type tTestCase struct {
		name     string
		ctx      context.Context
		method   string
		request  map[string]any
		wantCode codes.Code
		wantMsg  string
	}
	testCases := []tTestCase{
		{
			name:     "empty description",
			ctx:      alice,
			method:   MethodCreateTask,
			request:  map[string]any{"description": ""},
			wantCode: codes.InvalidArgument,
		},
		{
			name:     "foreign get",
			ctx:      bob,
			method:   MethodGetTask,
			request:  map[string]any{"id": id},
			wantCode: codes.NotFound,
			wantMsg:  "task not found",
		},
		{
			name:     "foreign delete",
			ctx:      bob,
			method:   MethodDeleteTask,
			request:  map[string]any{"id": id},
			wantCode: codes.NotFound,
			wantMsg:  "task not found",
		},
		{
			name:     "disallowed update",
			ctx:      alice,
			method:   MethodUpdateTask,
			request:  map[string]any{"id": id, "updates": map[string]any{"owner": "x"}},
			wantCode: codes.InvalidArgument,
			wantMsg:  "invalid updates",
		},
		{
			name:     "update without updates",
			ctx:      alice,
			method:   MethodUpdateTask,
			request:  map[string]any{"id": id},
			wantCode: codes.InvalidArgument,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := s.client.Call(tc.ctx, tc.method, mustStruct(t, tc.request))
			assert.Equal(t, tc.wantCode, status.Code(err))
			if tc.wantMsg != "" {
				assert.Equal(t, tc.wantMsg, status.Convert(err).Message())
			}
		})
	}

	fetched, err := s.client.Call(alice, MethodGetTask, mustStruct(t, map[string]any{"id": id}))
	require.NoError(t, err)
	assert.Equal(t, "mine", fetched.Fields["description"].GetStringValue())
}

func TestUpdateListAndDelete(t *testing.T) {
	s := startTestGRPCServer(t)
	alice := s.login(t, "alice@example.com")

	var ids []string
	for _, description := range []string{"b", "a", "c"} {
		created, err := s.client.Call(alice, MethodCreateTask, mustStruct(t, map[string]any{"description": description}))
		require.NoError(t, err)
		ids = append(ids, created.Fields["id"].GetStringValue())
	}

	updated, err := s.client.Call(alice, MethodUpdateTask, mustStruct(t, map[string]any{
		"id":      ids[0],
		"updates": map[string]any{"completed": true},
	}))
	require.NoError(t, err)
	assert.True(t, updated.Fields["completed"].GetBoolValue())

	listed, err := s.client.Call(alice, MethodListTasks, mustStruct(t, map[string]any{
		"completed": false,
		"sortBy":    "description:desc",
		"limit":     10,
	}))
	require.NoError(t, err)
	var descriptions []string
	for _, value := range listed.Fields["tasks"].GetListValue().GetValues() {
		descriptions = append(descriptions, value.GetStructValue().Fields["description"].GetStringValue())
	}
	assert.Equal(t, []string{"c", "a"}, descriptions)

	_, err = s.client.Call(alice, MethodDeleteTask, mustStruct(t, map[string]any{"id": ids[1]}))
	require.NoError(t, err)
	_, err = s.client.Call(alice, MethodDeleteTask, mustStruct(t, map[string]any{"id": ids[1]}))
	assert.Equal(t, codes.NotFound, status.Code(err))
}

func TestPingAndStats(t *testing.T) {
	s := startTestGRPCServer(t, withTrustedSubnet("127.0.0.0/8"))

	pong, err := s.client.Call(context.Background(), MethodPing, mustStruct(t, nil))
	require.NoError(t, err)
	assert.True(t, pong.Fields["ok"].GetBoolValue())

	stats, err := s.client.Call(context.Background(), MethodGetInternalStats, mustStruct(t, nil))
	require.NoError(t, err)
	assert.Equal(t, float64(0), stats.Fields["tasks"].GetNumberValue())

	untrusted := startTestGRPCServer(t)
	_, err = untrusted.client.Call(context.Background(), MethodGetInternalStats, mustStruct(t, nil))
	assert.Equal(t, codes.PermissionDenied, status.Code(err))
}

func TestStorageFailures(t *testing.T) {
	db := &mockstorage.StorageMock{}
	db.On("Ping", mock.Anything).Return(errors.New("connection refused"))
	db.On("ListTasks", mock.Anything, mock.Anything, mock.Anything).Return(nil, errors.New("boom"))

	s := startTestGRPCServer(t, withMockStorage(db))
	alice := s.login(t, "alice@example.com")

	_, err := s.client.Call(context.Background(), MethodPing, mustStruct(t, nil))
	assert.Equal(t, codes.Unavailable, status.Code(err))

	_, err = s.client.Call(alice, MethodListTasks, mustStruct(t, nil))
	assert.Equal(t, codes.Internal, status.Code(err))
	assert.Equal(t, "internal server error", status.Convert(err).Message())
}
