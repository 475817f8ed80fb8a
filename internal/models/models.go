// Package models holds the data types shared by the storage, service and
// transport layers: tasks, list queries, auth tokens and the sentinel errors
// the transports map to status codes.
package models

import (
	"errors"
	"time"
)

// Task is one unit of work owned by exactly one user.
type Task struct {
	ID          string    `json:"id"`
	Description string    `json:"description"`
	Completed   bool      `json:"completed"`
	Owner       string    `json:"owner"`
	CreatedAt   time.Time `json:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

// Tasks is an ordered list of tasks as returned by the list operation.
type Tasks []*Task

// CreateTaskRequest is the payload of POST /tasks. Unknown fields, including
// any client supplied owner, are ignored.
type CreateTaskRequest struct {
	Description string `json:"description" validate:"required"`
	Completed   *bool  `json:"completed"`
}

// TaskPatch carries the allow-listed fields of an update. A nil field is left
// untouched.
type TaskPatch struct {
	Description *string `validate:"omitnil,min=1"`
	Completed   *bool
}

// IsEmpty reports whether the patch changes nothing.
func (p TaskPatch) IsEmpty() bool {
	return p.Description == nil && p.Completed == nil
}

// Apply copies the supplied fields onto the task.
func (p TaskPatch) Apply(task *Task) {
	if p.Description != nil {
		task.Description = *p.Description
	}
	if p.Completed != nil {
		task.Completed = *p.Completed
	}
}

// Sortable task fields, as accepted by the sortBy query parameter.
const (
	SortFieldDescription = "description"
	SortFieldCompleted   = "completed"
	SortFieldCreatedAt   = "createdAt"
	SortFieldUpdatedAt   = "updatedAt"
)

// SortableFields lists the values accepted as a sortBy field.
var SortableFields = []string{
	SortFieldDescription,
	SortFieldCompleted,
	SortFieldCreatedAt,
	SortFieldUpdatedAt,
}

// TaskFilter narrows a list query. Nil means "no constraint".
type TaskFilter struct {
	Completed *bool
}

// Page is an offset/limit window. Limit 0 means unlimited.
type Page struct {
	Skip  int
	Limit int
}

// Sort orders a list query. An empty Field means the store default order:
// creation time ascending, ties broken by id.
type Sort struct {
	Field      string
	Descending bool
}

// ListTasksQuery is the parsed form of the GET /tasks query string.
type ListTasksQuery struct {
	Filter TaskFilter
	Page   Page
	Sort   Sort
}

// AuthToken is a persisted bearer token record. A token is active while its
// record exists and ExpiresAt is in the future.
type AuthToken struct {
	ID        string
	UserID    string
	CreatedAt time.Time
	ExpiresAt time.Time
}

// IsExpired reports whether the token is no longer valid at now.
func (t *AuthToken) IsExpired(now time.Time) bool {
	return !now.Before(t.ExpiresAt)
}

// LoginRequest is the payload of POST /users/login.
type LoginRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
}

// LoginResponse is returned by a successful login.
type LoginResponse struct {
	User  UserResponse `json:"user"`
	Token string       `json:"token"`
}

// UserResponse is the public representation of a user.
type UserResponse struct {
	ID    string `json:"id"`
	Email string `json:"email"`
}

// InternalStatsResponse is returned by GET /internal/stats.
type InternalStatsResponse struct {
	Tasks int64 `json:"tasks"`
	Users int64 `json:"users"`
}

// ErrorResponse is the body of every failed HTTP request.
type ErrorResponse struct {
	Error string `json:"error"`
}

const (
	StorageTypeUnknown = iota
	StorageTypePostgresql
	StorageTypeFile
	StorageTypeMemory
)

var (
	// ErrTaskNotFound is returned when no task with the given id is owned by
	// the caller. It deliberately covers tasks owned by somebody else.
	ErrTaskNotFound = errors.New("task not found")

	ErrUserNotFound = errors.New("user not found")

	ErrUserExists = errors.New("user already exists")

	ErrTokenNotFound = errors.New("token not found")

	// ErrValidation marks a payload that breaks a field rule.
	ErrValidation = errors.New("validation failed")

	// ErrDisallowedUpdate marks an update naming a field outside the allow-list.
	ErrDisallowedUpdate = errors.New("invalid updates")

	// ErrConstraintViolation is raised by a store when the data layer rejects
	// a write, e.g. a database check constraint.
	ErrConstraintViolation = errors.New("constraint violation")
)
