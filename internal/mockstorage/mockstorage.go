// Package mockstorage provides a testify-based mock of storage.Storage.
// It is used to drive the service and transport layers into the error paths
// real backends rarely produce.
package mockstorage

import (
	"context"
	"time"

	"github.com/stretchr/testify/mock"

	"github.com/patric-chuzhbe/tasktracker/internal/models"
	"github.com/patric-chuzhbe/tasktracker/internal/user"
)

// StorageMock is a testify mock that implements storage.Storage.
type StorageMock struct {
	mock.Mock

	// OnGetStats, when set, replaces the generic mock handler for GetStats.
	OnGetStats func(ctx context.Context) (*models.InternalStatsResponse, error)
}

func task(args mock.Arguments) (*models.Task, error) {
	result, _ := args.Get(0).(*models.Task)
	return result, args.Error(1)
}

func (m *StorageMock) CreateTask(ctx context.Context, ownerID string, description string, completed bool) (*models.Task, error) {
	return task(m.Called(ctx, ownerID, description, completed))
}

func (m *StorageMock) GetTask(ctx context.Context, ownerID string, taskID string) (*models.Task, error) {
	return task(m.Called(ctx, ownerID, taskID))
}

func (m *StorageMock) ListTasks(ctx context.Context, ownerID string, query models.ListTasksQuery) (models.Tasks, error) {
	args := m.Called(ctx, ownerID, query)
	tasks, _ := args.Get(0).(models.Tasks)
	return tasks, args.Error(1)
}

func (m *StorageMock) UpdateTask(ctx context.Context, ownerID string, taskID string, patch models.TaskPatch) (*models.Task, error) {
	return task(m.Called(ctx, ownerID, taskID, patch))
}

func (m *StorageMock) DeleteTask(ctx context.Context, ownerID string, taskID string) (*models.Task, error) {
	return task(m.Called(ctx, ownerID, taskID))
}

func (m *StorageMock) CreateUser(ctx context.Context, usr *user.User) (string, error) {
	args := m.Called(ctx, usr)
	return args.String(0), args.Error(1)
}

func (m *StorageMock) GetUserByID(ctx context.Context, userID string) (*user.User, error) {
	args := m.Called(ctx, userID)
	usr, _ := args.Get(0).(*user.User)
	return usr, args.Error(1)
}

func (m *StorageMock) GetUserByEmail(ctx context.Context, email string) (*user.User, error) {
	args := m.Called(ctx, email)
	usr, _ := args.Get(0).(*user.User)
	return usr, args.Error(1)
}

func (m *StorageMock) SaveToken(ctx context.Context, token *models.AuthToken) error {
	return m.Called(ctx, token).Error(0)
}

func (m *StorageMock) GetToken(ctx context.Context, tokenID string) (*models.AuthToken, error) {
	args := m.Called(ctx, tokenID)
	token, _ := args.Get(0).(*models.AuthToken)
	return token, args.Error(1)
}

func (m *StorageMock) DeleteToken(ctx context.Context, userID string, tokenID string) error {
	return m.Called(ctx, userID, tokenID).Error(0)
}

func (m *StorageMock) DeleteUserTokens(ctx context.Context, userID string) ([]string, error) {
	args := m.Called(ctx, userID)
	ids, _ := args.Get(0).([]string)
	return ids, args.Error(1)
}

func (m *StorageMock) DeleteExpiredTokens(ctx context.Context, now time.Time) (int64, error) {
	args := m.Called(ctx, now)
	removed, _ := args.Get(0).(int64)
	return removed, args.Error(1)
}

// GetStats delegates to OnGetStats when it is set.
func (m *StorageMock) GetStats(ctx context.Context) (*models.InternalStatsResponse, error) {
	if m.OnGetStats != nil {
		return m.OnGetStats(ctx)
	}
	args := m.Called(ctx)
	stats, _ := args.Get(0).(*models.InternalStatsResponse)
	return stats, args.Error(1)
}

// Ping mocks the health check.
func (m *StorageMock) Ping(ctx context.Context) error {
	return m.Called(ctx).Error(0)
}

func (m *StorageMock) Close() error {
	return m.Called().Error(0)
}
