package jsondb

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/patric-chuzhbe/tasktracker/internal/models"
	"github.com/patric-chuzhbe/tasktracker/internal/user"
)

func boolPtr(v bool) *bool { return &v }

func strPtr(v string) *string { return &v }

func newTestDB(t *testing.T) *JSONDB {
	t.Helper()
	theStorage, err := New(filepath.Join(t.TempDir(), "db_test.json"))
	require.NoError(t, err)
	require.NotNil(t, theStorage)

	return theStorage
}

func descriptions(tasks models.Tasks) []string {
	result := make([]string, 0, len(tasks))
	for _, task := range tasks {
		result = append(result, task.Description)
	}

	return result
}

func TestTasksAreOwnerScoped(t *testing.T) {
	ctx := context.Background()
	theStorage := newTestDB(t)

	mine, err := theStorage.CreateTask(ctx, "alice", "alice task", false)
	require.NoError(t, err)
	assert.Equal(t, "alice", mine.Owner)
	assert.NotEmpty(t, mine.ID)
	assert.False(t, mine.CreatedAt.IsZero())

	_, err = theStorage.CreateTask(ctx, "bob", "bob task", true)
	require.NoError(t, err)

	_, err = theStorage.GetTask(ctx, "bob", mine.ID)
	assert.ErrorIs(t, err, models.ErrTaskNotFound)

	_, err = theStorage.UpdateTask(ctx, "bob", mine.ID, models.TaskPatch{Completed: boolPtr(true)})
	assert.ErrorIs(t, err, models.ErrTaskNotFound)

	_, err = theStorage.DeleteTask(ctx, "bob", mine.ID)
	assert.ErrorIs(t, err, models.ErrTaskNotFound)

	got, err := theStorage.GetTask(ctx, "alice", mine.ID)
	require.NoError(t, err)
	assert.False(t, got.Completed)

	tasks, err := theStorage.ListTasks(ctx, "alice", models.ListTasksQuery{})
	require.NoError(t, err)
	assert.Equal(t, []string{"alice task"}, descriptions(tasks))
}

func TestUpdateAndDelete(t *testing.T) {
	ctx := context.Background()
	theStorage := newTestDB(t)

	task, err := theStorage.CreateTask(ctx, "alice", "first", false)
	require.NoError(t, err)

	updated, err := theStorage.UpdateTask(ctx, "alice", task.ID, models.TaskPatch{
		Description: strPtr("renamed"),
		Completed:   boolPtr(true),
	})
	require.NoError(t, err)
	assert.Equal(t, "renamed", updated.Description)
	assert.True(t, updated.Completed)
	assert.Equal(t, task.ID, updated.ID)
	assert.Equal(t, "alice", updated.Owner)
	assert.True(t, updated.UpdatedAt.After(task.UpdatedAt))

	_, err = theStorage.UpdateTask(ctx, "alice", task.ID, models.TaskPatch{Description: strPtr("")})
	assert.ErrorIs(t, err, models.ErrConstraintViolation)

	deleted, err := theStorage.DeleteTask(ctx, "alice", task.ID)
	require.NoError(t, err)
	assert.Equal(t, "renamed", deleted.Description)

	_, err = theStorage.DeleteTask(ctx, "alice", task.ID)
	assert.ErrorIs(t, err, models.ErrTaskNotFound)
}

func TestListTasksQuery(t *testing.T) {
	ctx := context.Background()
	theStorage := newTestDB(t)

	for _, item := range []struct {
		description string
		completed   bool
	}{
		{"c", false},
		{"a", true},
		{"d", true},
		{"b", false},
	} {
		_, err := theStorage.CreateTask(ctx, "alice", item.description, item.completed)
		require.NoError(t, err)
	}
	_, err := theStorage.CreateTask(ctx, "bob", "foreign", true)
	require.NoError(t, err)

	type tTestCase struct {
		name  string
		query models.ListTasksQuery
		want  []string
	}
	tests := []tTestCase{
		{
			name:  "default order is creation order",
			query: models.ListTasksQuery{},
			want:  []string{"c", "a", "d", "b"},
		},
		{
			name:  "completed filter",
			query: models.ListTasksQuery{Filter: models.TaskFilter{Completed: boolPtr(true)}},
			want:  []string{"a", "d"},
		},
		{
			name:  "not completed filter",
			query: models.ListTasksQuery{Filter: models.TaskFilter{Completed: boolPtr(false)}},
			want:  []string{"c", "b"},
		},
		{
			name: "completed filter composes with sort and limit",
			query: models.ListTasksQuery{
				Filter: models.TaskFilter{Completed: boolPtr(true)},
				Sort:   models.Sort{Field: models.SortFieldDescription, Descending: true},
				Page:   models.Page{Limit: 1},
			},
			want: []string{"d"},
		},
		{
			name:  "sort by description ascending",
			query: models.ListTasksQuery{Sort: models.Sort{Field: models.SortFieldDescription}},
			want:  []string{"a", "b", "c", "d"},
		},
		{
			name: "sort by description descending with pagination",
			query: models.ListTasksQuery{
				Sort: models.Sort{Field: models.SortFieldDescription, Descending: true},
				Page: models.Page{Skip: 1, Limit: 2},
			},
			want: []string{"c", "b"},
		},
		{
			name:  "sort by completed keeps creation order among equals",
			query: models.ListTasksQuery{Sort: models.Sort{Field: models.SortFieldCompleted}},
			want:  []string{"c", "b", "a", "d"},
		},
		{
			name:  "skip past the end",
			query: models.ListTasksQuery{Page: models.Page{Skip: 10}},
			want:  []string{},
		},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			tasks, err := theStorage.ListTasks(ctx, "alice", test.query)
			require.NoError(t, err)
			assert.Equal(t, test.want, descriptions(tasks))
		})
	}
}

func TestPersistence(t *testing.T) {
	ctx := context.Background()
	fileName := filepath.Join(t.TempDir(), "db_test.json")

	theStorage, err := New(fileName)
	require.NoError(t, err)

	userID, err := theStorage.CreateUser(ctx, &user.User{Email: "a@example.com", PasswordHash: "hash"})
	require.NoError(t, err)
	task, err := theStorage.CreateTask(ctx, userID, "survives restart", false)
	require.NoError(t, err)
	require.NoError(t, theStorage.Close())

	_, err = os.Stat(fileName)
	require.NoError(t, err)

	reopened, err := New(fileName)
	require.NoError(t, err)

	got, err := reopened.GetTask(ctx, userID, task.ID)
	require.NoError(t, err)
	assert.Equal(t, "survives restart", got.Description)

	usr, err := reopened.GetUserByEmail(ctx, "A@example.com")
	require.NoError(t, err)
	assert.Equal(t, userID, usr.ID)
}

func TestUsersAndTokens(t *testing.T) {
	ctx := context.Background()
	theStorage := newTestDB(t)

	userID, err := theStorage.CreateUser(ctx, &user.User{Email: "a@example.com"})
	require.NoError(t, err)

	_, err = theStorage.CreateUser(ctx, &user.User{Email: "a@example.com"})
	assert.ErrorIs(t, err, models.ErrUserExists)

	_, err = theStorage.GetUserByID(ctx, "nobody")
	assert.ErrorIs(t, err, models.ErrUserNotFound)

	now := time.Now()
	require.NoError(t, theStorage.SaveToken(ctx, &models.AuthToken{ID: "t1", UserID: userID, ExpiresAt: now.Add(time.Hour)}))
	require.NoError(t, theStorage.SaveToken(ctx, &models.AuthToken{ID: "t2", UserID: userID, ExpiresAt: now.Add(-time.Hour)}))
	require.NoError(t, theStorage.SaveToken(ctx, &models.AuthToken{ID: "t3", UserID: userID, ExpiresAt: now.Add(time.Hour)}))

	token, err := theStorage.GetToken(ctx, "t1")
	require.NoError(t, err)
	assert.Equal(t, userID, token.UserID)

	assert.ErrorIs(t, theStorage.DeleteToken(ctx, "someone else", "t1"), models.ErrTokenNotFound)
	require.NoError(t, theStorage.DeleteToken(ctx, userID, "t1"))
	_, err = theStorage.GetToken(ctx, "t1")
	assert.ErrorIs(t, err, models.ErrTokenNotFound)

	removed, err := theStorage.DeleteExpiredTokens(ctx, now)
	require.NoError(t, err)
	assert.Equal(t, int64(1), removed)

	ids, err := theStorage.DeleteUserTokens(ctx, userID)
	require.NoError(t, err)
	assert.Equal(t, []string{"t3"}, ids)

	stats, err := theStorage.GetStats(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), stats.Users)
	assert.Equal(t, int64(0), stats.Tasks)
}

func TestConcurrentCreates(t *testing.T) {
	ctx := context.Background()
	theStorage := newTestDB(t)

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := theStorage.CreateTask(ctx, "alice", "parallel", false)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	tasks, err := theStorage.ListTasks(ctx, "alice", models.ListTasksQuery{})
	require.NoError(t, err)
	assert.Len(t, tasks, 50)
}
