// Package service implements the task operations shared by the HTTP and gRPC
// transports. Payloads arrive as raw JSON objects so that field presence and
// field types can be checked before anything reaches the store.
package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"

	validator "github.com/go-playground/validator/v10"
	"github.com/thoas/go-funk"
	"go.uber.org/zap"

	"github.com/patric-chuzhbe/tasktracker/internal/logger"
	"github.com/patric-chuzhbe/tasktracker/internal/metrics"
	"github.com/patric-chuzhbe/tasktracker/internal/models"
)

type taskKeeper interface {
	CreateTask(ctx context.Context, ownerID string, description string, completed bool) (*models.Task, error)

	GetTask(ctx context.Context, ownerID string, taskID string) (*models.Task, error)

	ListTasks(ctx context.Context, ownerID string, query models.ListTasksQuery) (models.Tasks, error)

	UpdateTask(ctx context.Context, ownerID string, taskID string, patch models.TaskPatch) (*models.Task, error)

	DeleteTask(ctx context.Context, ownerID string, taskID string) (*models.Task, error)
}

const (
	fieldDescription = "description"
	fieldCompleted   = "completed"
)

// UpdatableFields is the allow-list of fields an update may name.
var UpdatableFields = []string{fieldDescription, fieldCompleted}

type Service struct {
	db                 taskKeeper
	validate           *validator.Validate
	legacyUpdateErrors bool
}

type initOptions struct {
	legacyUpdateErrors bool
}

type InitOption func(*initOptions)

// WithLegacyUpdateErrors reports invalid update values as a data-layer
// failure (models.ErrConstraintViolation, answered with 500) instead of
// models.ErrValidation. Older clients rely on that status.
func WithLegacyUpdateErrors(value bool) InitOption {
	return func(options *initOptions) {
		options.legacyUpdateErrors = value
	}
}

func New(db taskKeeper, optionsProto ...InitOption) *Service {
	options := &initOptions{
		legacyUpdateErrors: false,
	}
	for _, protoOption := range optionsProto {
		protoOption(options)
	}

	return &Service{
		db:                 db,
		validate:           validator.New(),
		legacyUpdateErrors: options.legacyUpdateErrors,
	}
}

func validationError(format string, args ...any) error {
	return fmt.Errorf("%w: %s", models.ErrValidation, fmt.Sprintf(format, args...))
}

// ErrMalformedBody is returned for a body that is not a JSON object.
var ErrMalformedBody = fmt.Errorf("%w: body must be a JSON object", models.ErrValidation)

func decodeObject(body []byte) (map[string]json.RawMessage, error) {
	fields := map[string]json.RawMessage{}
	if err := json.Unmarshal(body, &fields); err != nil || fields == nil {
		return nil, ErrMalformedBody
	}

	return fields, nil
}

func decodeString(raw json.RawMessage, field string) (string, error) {
	var value string
	if err := json.Unmarshal(raw, &value); err != nil || string(raw) == "null" {
		return "", validationError("%s must be a string", field)
	}

	return value, nil
}

func decodeBool(raw json.RawMessage, field string) (bool, error) {
	var value bool
	if err := json.Unmarshal(raw, &value); err != nil || string(raw) == "null" {
		return false, validationError("%s must be a boolean", field)
	}

	return value, nil
}

// ParseCreateTask checks a create payload. Fields other than description and
// completed, an owner among them, are ignored.
func (s *Service) ParseCreateTask(body []byte) (*models.CreateTaskRequest, error) {
	fields, err := decodeObject(body)
	if err != nil {
		return nil, err
	}

	request := &models.CreateTaskRequest{}

	rawDescription, ok := fields[fieldDescription]
	if !ok {
		return nil, validationError("description is required")
	}
	request.Description, err = decodeString(rawDescription, fieldDescription)
	if err != nil {
		return nil, err
	}

	if rawCompleted, ok := fields[fieldCompleted]; ok {
		completed, err := decodeBool(rawCompleted, fieldCompleted)
		if err != nil {
			return nil, err
		}
		request.Completed = &completed
	}

	if err := s.validate.Struct(request); err != nil {
		return nil, validationError("%s", err.Error())
	}

	return request, nil
}

// ParseTaskPatch checks an update payload: field names first, against
// UpdatableFields, then the field values.
func (s *Service) ParseTaskPatch(body []byte) (models.TaskPatch, error) {
	patch := models.TaskPatch{}

	fields, err := decodeObject(body)
	if err != nil {
		return patch, err
	}

	for name := range fields {
		if !funk.ContainsString(UpdatableFields, name) {
			return patch, models.ErrDisallowedUpdate
		}
	}

	if raw, ok := fields[fieldDescription]; ok {
		description, err := decodeString(raw, fieldDescription)
		if err != nil {
			return patch, err
		}
		patch.Description = &description
	}
	if raw, ok := fields[fieldCompleted]; ok {
		completed, err := decodeBool(raw, fieldCompleted)
		if err != nil {
			return patch, err
		}
		patch.Completed = &completed
	}

	if err := s.validate.Struct(patch); err != nil {
		return patch, validationError("%s", err.Error())
	}

	return patch, nil
}

// ParseListQuery reads completed, limit, skip and sortBy. Values that cannot
// be understood are ignored rather than rejected.
func ParseListQuery(values url.Values) models.ListTasksQuery {
	query := models.ListTasksQuery{}

	switch values.Get("completed") {
	case "true":
		completed := true
		query.Filter.Completed = &completed
	case "false":
		completed := false
		query.Filter.Completed = &completed
	}

	if limit, err := strconv.Atoi(values.Get("limit")); err == nil && limit > 0 {
		query.Page.Limit = limit
	}
	if skip, err := strconv.Atoi(values.Get("skip")); err == nil && skip > 0 {
		query.Page.Skip = skip
	}

	if sortBy := values.Get("sortBy"); sortBy != "" {
		field, direction, _ := strings.Cut(sortBy, ":")
		if funk.ContainsString(models.SortableFields, field) {
			query.Sort = models.Sort{
				Field:      field,
				Descending: direction == "desc",
			}
		}
	}

	return query
}

// CreateTask stores a new task owned by ownerID.
func (s *Service) CreateTask(ctx context.Context, ownerID string, body []byte) (*models.Task, error) {
	request, err := s.ParseCreateTask(body)
	if err != nil {
		metrics.ObserveTaskOperation("create", err)
		return nil, err
	}

	completed := false
	if request.Completed != nil {
		completed = *request.Completed
	}

	task, err := s.db.CreateTask(context.WithoutCancel(ctx), ownerID, request.Description, completed)
	if errors.Is(err, models.ErrConstraintViolation) {
		err = validationError("%s", err.Error())
	}
	metrics.ObserveTaskOperation("create", err)
	if err != nil {
		return nil, err
	}

	return task, nil
}

// ListTasks returns ownerID's tasks matching query.
func (s *Service) ListTasks(ctx context.Context, ownerID string, query models.ListTasksQuery) (models.Tasks, error) {
	tasks, err := s.db.ListTasks(ctx, ownerID, query)
	metrics.ObserveTaskOperation("list", err)
	if err != nil {
		return nil, err
	}

	return tasks, nil
}

func (s *Service) GetTask(ctx context.Context, ownerID string, taskID string) (*models.Task, error) {
	task, err := s.db.GetTask(ctx, ownerID, taskID)
	metrics.ObserveTaskOperation("get", err)

	return task, err
}

// UpdateTask applies an update payload to one of ownerID's tasks. Nothing is
// written unless the whole payload is acceptable.
func (s *Service) UpdateTask(ctx context.Context, ownerID string, taskID string, body []byte) (*models.Task, error) {
	patch, err := s.ParseTaskPatch(body)
	if err != nil && s.legacyUpdateErrors && s.isInvalidValue(err) {
		// Legacy clients see 404 for a task they do not own before any value error.
		if _, lookupErr := s.db.GetTask(ctx, ownerID, taskID); lookupErr != nil {
			metrics.ObserveTaskOperation("update", lookupErr)
			return nil, lookupErr
		}
	}
	if err != nil {
		err = s.classifyUpdateError(err)
		metrics.ObserveTaskOperation("update", err)
		return nil, err
	}

	var task *models.Task
	if patch.IsEmpty() {
		task, err = s.db.GetTask(ctx, ownerID, taskID)
	} else {
		task, err = s.db.UpdateTask(context.WithoutCancel(ctx), ownerID, taskID, patch)
	}
	if err != nil {
		err = s.classifyUpdateError(err)
	}
	metrics.ObserveTaskOperation("update", err)
	if err != nil {
		return nil, err
	}

	return task, nil
}

// isInvalidValue reports whether err rejects a field value, as opposed to a
// field name or the body as a whole.
func (s *Service) isInvalidValue(err error) bool {
	invalidValue := errors.Is(err, models.ErrValidation) || errors.Is(err, models.ErrConstraintViolation)
	return invalidValue && !errors.Is(err, ErrMalformedBody)
}

func (s *Service) classifyUpdateError(err error) error {
	if !s.isInvalidValue(err) {
		return err
	}

	if s.legacyUpdateErrors {
		logger.Log.Debugln("Rejected update reported as internal: ", zap.Error(err))
		return fmt.Errorf("%w: %s", models.ErrConstraintViolation, err.Error())
	}
	if errors.Is(err, models.ErrValidation) {
		return err
	}

	return validationError("%s", err.Error())
}

// DeleteTask removes one of ownerID's tasks and returns it.
func (s *Service) DeleteTask(ctx context.Context, ownerID string, taskID string) (*models.Task, error) {
	task, err := s.db.DeleteTask(context.WithoutCancel(ctx), ownerID, taskID)
	metrics.ObserveTaskOperation("delete", err)

	return task, err
}
