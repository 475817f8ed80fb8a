// Package storage declares the contract every backend (postgresdb, jsondb,
// memorystorage) fulfils. Every task method takes the owner id explicitly and
// never touches a task belonging to a different owner.
package storage

import (
	"context"
	"time"

	"github.com/patric-chuzhbe/tasktracker/internal/models"
	"github.com/patric-chuzhbe/tasktracker/internal/user"
)

type TaskStorage interface {
	CreateTask(ctx context.Context, ownerID string, description string, completed bool) (*models.Task, error)

	GetTask(ctx context.Context, ownerID string, taskID string) (*models.Task, error)

	ListTasks(ctx context.Context, ownerID string, query models.ListTasksQuery) (models.Tasks, error)

	// UpdateTask applies patch to the owner's task in one atomic step.
	UpdateTask(ctx context.Context, ownerID string, taskID string, patch models.TaskPatch) (*models.Task, error)

	// DeleteTask removes the owner's task in one atomic step and returns it.
	DeleteTask(ctx context.Context, ownerID string, taskID string) (*models.Task, error)
}

type UserStorage interface {
	CreateUser(ctx context.Context, usr *user.User) (string, error)

	GetUserByID(ctx context.Context, userID string) (*user.User, error)

	GetUserByEmail(ctx context.Context, email string) (*user.User, error)
}

type TokenStorage interface {
	SaveToken(ctx context.Context, token *models.AuthToken) error

	GetToken(ctx context.Context, tokenID string) (*models.AuthToken, error)

	DeleteToken(ctx context.Context, userID string, tokenID string) error

	// DeleteUserTokens removes every token of the user and returns their ids.
	DeleteUserTokens(ctx context.Context, userID string) ([]string, error)

	DeleteExpiredTokens(ctx context.Context, now time.Time) (int64, error)
}

type StatsStorage interface {
	GetStats(ctx context.Context) (*models.InternalStatsResponse, error)
}

type Storage interface {
	TaskStorage
	UserStorage
	TokenStorage
	StatsStorage

	Ping(ctx context.Context) error

	Close() error
}
