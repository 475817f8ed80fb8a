package grpcserver

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/url"
	"strconv"

	"go.uber.org/zap"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/peer"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/patric-chuzhbe/tasktracker/internal/auth"
	"github.com/patric-chuzhbe/tasktracker/internal/ipchecker"
	"github.com/patric-chuzhbe/tasktracker/internal/logger"
	"github.com/patric-chuzhbe/tasktracker/internal/models"
	"github.com/patric-chuzhbe/tasktracker/internal/service"
)

type taskService interface {
	CreateTask(ctx context.Context, ownerID string, body []byte) (*models.Task, error)
	ListTasks(ctx context.Context, ownerID string, query models.ListTasksQuery) (models.Tasks, error)
	GetTask(ctx context.Context, ownerID string, taskID string) (*models.Task, error)
	UpdateTask(ctx context.Context, ownerID string, taskID string, body []byte) (*models.Task, error)
	DeleteTask(ctx context.Context, ownerID string, taskID string) (*models.Task, error)
}

type storage interface {
	Ping(ctx context.Context) error
	GetStats(ctx context.Context) (*models.InternalStatsResponse, error)
}

// TaskHandler serves TaskService on top of the same service layer the HTTP
// router uses.
type TaskHandler struct {
	tasks     taskService
	db        storage
	ipChecker *ipchecker.IPChecker
}

func NewTaskHandler(tasks taskService, db storage, ipChecker *ipchecker.IPChecker) *TaskHandler {
	return &TaskHandler{
		tasks:     tasks,
		db:        db,
		ipChecker: ipChecker,
	}
}

func principalFrom(ctx context.Context) (auth.Principal, error) {
	principal, ok := auth.PrincipalFromContext(ctx)
	if !ok {
		return auth.Principal{}, status.Error(codes.Unauthenticated, auth.UnauthenticatedMessage)
	}

	return principal, nil
}

// statusFromError mirrors the HTTP status mapping.
func statusFromError(err error) error {
	switch {
	case errors.Is(err, models.ErrDisallowedUpdate):
		return status.Error(codes.InvalidArgument, models.ErrDisallowedUpdate.Error())
	case errors.Is(err, models.ErrValidation):
		return status.Error(codes.InvalidArgument, err.Error())
	case errors.Is(err, models.ErrTaskNotFound):
		return status.Error(codes.NotFound, models.ErrTaskNotFound.Error())
	default:
		logger.Log.Errorw("gRPC call failed", "error", err)
		return status.Error(codes.Internal, "internal server error")
	}
}

func toStruct(payload any) (*structpb.Struct, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, statusFromError(err)
	}

	result := &structpb.Struct{}
	if err := result.UnmarshalJSON(data); err != nil {
		return nil, statusFromError(err)
	}

	return result, nil
}

func stringField(req *structpb.Struct, name string) string {
	return req.GetFields()[name].GetStringValue()
}

// scalarString renders a scalar value the way it would appear in a query
// string.
func scalarString(value *structpb.Value) (string, bool) {
	switch kind := value.GetKind().(type) {
	case *structpb.Value_StringValue:
		return kind.StringValue, true
	case *structpb.Value_BoolValue:
		return strconv.FormatBool(kind.BoolValue), true
	case *structpb.Value_NumberValue:
		return strconv.FormatFloat(kind.NumberValue, 'f', -1, 64), true
	default:
		return "", false
	}
}

func (h *TaskHandler) CreateTask(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	principal, err := principalFrom(ctx)
	if err != nil {
		return nil, err
	}

	body, err := req.MarshalJSON()
	if err != nil {
		return nil, statusFromError(service.ErrMalformedBody)
	}

	task, err := h.tasks.CreateTask(ctx, principal.UserID, body)
	if err != nil {
		return nil, statusFromError(err)
	}

	return toStruct(task)
}

// ListTasks accepts the GET /tasks query parameters as struct fields:
// completed, limit, skip and sortBy.
func (h *TaskHandler) ListTasks(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	principal, err := principalFrom(ctx)
	if err != nil {
		return nil, err
	}

	values := url.Values{}
	for _, name := range []string{"completed", "limit", "skip", "sortBy"} {
		if value, ok := scalarString(req.GetFields()[name]); ok {
			values.Set(name, value)
		}
	}

	tasks, err := h.tasks.ListTasks(ctx, principal.UserID, service.ParseListQuery(values))
	if err != nil {
		return nil, statusFromError(err)
	}
	if tasks == nil {
		tasks = models.Tasks{}
	}

	return toStruct(map[string]any{"tasks": tasks})
}

func (h *TaskHandler) GetTask(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	principal, err := principalFrom(ctx)
	if err != nil {
		return nil, err
	}

	task, err := h.tasks.GetTask(ctx, principal.UserID, stringField(req, "id"))
	if err != nil {
		return nil, statusFromError(err)
	}

	return toStruct(task)
}

// UpdateTask expects {"id": ..., "updates": {...}}, where updates has the
// shape of a PATCH /tasks/{id} body.
func (h *TaskHandler) UpdateTask(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	principal, err := principalFrom(ctx)
	if err != nil {
		return nil, err
	}

	updates := req.GetFields()["updates"].GetStructValue()
	if updates == nil {
		return nil, statusFromError(service.ErrMalformedBody)
	}
	body, err := updates.MarshalJSON()
	if err != nil {
		return nil, statusFromError(service.ErrMalformedBody)
	}

	task, err := h.tasks.UpdateTask(ctx, principal.UserID, stringField(req, "id"), body)
	if err != nil {
		return nil, statusFromError(err)
	}

	return toStruct(task)
}

func (h *TaskHandler) DeleteTask(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	principal, err := principalFrom(ctx)
	if err != nil {
		return nil, err
	}

	task, err := h.tasks.DeleteTask(ctx, principal.UserID, stringField(req, "id"))
	if err != nil {
		return nil, statusFromError(err)
	}

	return toStruct(task)
}

func (h *TaskHandler) Ping(ctx context.Context, _ *structpb.Struct) (*structpb.Struct, error) {
	if err := h.db.Ping(ctx); err != nil {
		logger.Log.Debugln("Error calling the `h.db.Ping()`: ", zap.Error(err))
		return nil, status.Error(codes.Unavailable, "storage is unavailable")
	}

	return toStruct(map[string]any{"ok": true})
}

func (h *TaskHandler) trustedPeer(ctx context.Context) bool {
	p, ok := peer.FromContext(ctx)
	if !ok || p.Addr == nil {
		return false
	}
	host, _, err := net.SplitHostPort(p.Addr.String())
	if err != nil {
		return false
	}

	return h.ipChecker.Check(net.ParseIP(host))
}

// GetInternalStats is only served to peers inside the trusted subnet.
func (h *TaskHandler) GetInternalStats(ctx context.Context, _ *structpb.Struct) (*structpb.Struct, error) {
	if !h.trustedPeer(ctx) {
		return nil, status.Error(codes.PermissionDenied, "forbidden")
	}

	stats, err := h.db.GetStats(ctx)
	if err != nil {
		return nil, statusFromError(err)
	}

	return toStruct(stats)
}
