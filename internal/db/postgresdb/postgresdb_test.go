package postgresdb

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/patric-chuzhbe/tasktracker/internal/models"
	"github.com/patric-chuzhbe/tasktracker/internal/user"
)

func TestBuildListTasksQuery(t *testing.T) {
	completed := true

	type tTestCase struct {
		name     string
		query    models.ListTasksQuery
		wantSQL  string
		wantArgs []any
	}
	tests := []tTestCase{
		{
			name:     "defaults",
			query:    models.ListTasksQuery{},
			wantSQL:  `SELECT ` + taskColumns + ` FROM tasks WHERE owner_id = $1 ORDER BY created_at ASC, id ASC`,
			wantArgs: []any{"owner"},
		},
		{
			name: "everything",
			query: models.ListTasksQuery{
				Filter: models.TaskFilter{Completed: &completed},
				Page:   models.Page{Skip: 20, Limit: 10},
				Sort:   models.Sort{Field: models.SortFieldUpdatedAt, Descending: true},
			},
			wantSQL: `SELECT ` + taskColumns + ` FROM tasks WHERE owner_id = $1 AND completed = $2` +
				` ORDER BY "updated_at" DESC, created_at ASC, id ASC LIMIT $3 OFFSET $4`,
			wantArgs: []any{"owner", true, 10, 20},
		},
		{
			name:     "unknown sort field falls back to the default order",
			query:    models.ListTasksQuery{Sort: models.Sort{Field: "owner; DROP TABLE tasks"}},
			wantSQL:  `SELECT ` + taskColumns + ` FROM tasks WHERE owner_id = $1 ORDER BY created_at ASC, id ASC`,
			wantArgs: []any{"owner"},
		},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			sqlQuery, args := buildListTasksQuery("owner", test.query)
			assert.Equal(t, test.wantSQL, sqlQuery)
			assert.Equal(t, test.wantArgs, args)
		})
	}
}

// TestPostgresDB needs a disposable database: TEST_DATABASE_DSN is wiped
// before the migrations run.
func TestPostgresDB(t *testing.T) {
	dsn := os.Getenv("TEST_DATABASE_DSN")
	if dsn == "" {
		t.Skip("TEST_DATABASE_DSN is not set")
	}

	ctx := context.Background()
	db, err := New(ctx, dsn, 5*time.Second, "../../../cmd/tasktracker/migrations", WithDBPreReset(true))
	require.NoError(t, err)
	defer func() {
		require.NoError(t, db.Close())
	}()

	require.NoError(t, db.Ping(ctx))

	alice, err := db.CreateUser(ctx, &user.User{Email: "alice@example.com", PasswordHash: "x"})
	require.NoError(t, err)
	bob, err := db.CreateUser(ctx, &user.User{Email: "bob@example.com", PasswordHash: "x"})
	require.NoError(t, err)

	_, err = db.CreateUser(ctx, &user.User{Email: "ALICE@example.com", PasswordHash: "x"})
	assert.ErrorIs(t, err, models.ErrUserExists)

	task, err := db.CreateTask(ctx, alice, "From my test", false)
	require.NoError(t, err)
	assert.Equal(t, alice, task.Owner)

	_, err = db.CreateTask(ctx, alice, "", false)
	assert.ErrorIs(t, err, models.ErrConstraintViolation)

	_, err = db.GetTask(ctx, bob, task.ID)
	assert.ErrorIs(t, err, models.ErrTaskNotFound)
	_, err = db.GetTask(ctx, alice, "not-a-uuid")
	assert.ErrorIs(t, err, models.ErrTaskNotFound)

	_, err = db.DeleteTask(ctx, bob, task.ID)
	assert.ErrorIs(t, err, models.ErrTaskNotFound)

	description := ""
	_, err = db.UpdateTask(ctx, alice, task.ID, models.TaskPatch{Description: &description})
	assert.ErrorIs(t, err, models.ErrConstraintViolation)

	completed := true
	updated, err := db.UpdateTask(ctx, alice, task.ID, models.TaskPatch{Completed: &completed})
	require.NoError(t, err)
	assert.True(t, updated.Completed)
	assert.Equal(t, "From my test", updated.Description)

	tasks, err := db.ListTasks(ctx, alice, models.ListTasksQuery{Filter: models.TaskFilter{Completed: &completed}})
	require.NoError(t, err)
	assert.Len(t, tasks, 1)

	tasks, err = db.ListTasks(ctx, bob, models.ListTasksQuery{})
	require.NoError(t, err)
	assert.Empty(t, tasks)

	deleted, err := db.DeleteTask(ctx, alice, task.ID)
	require.NoError(t, err)
	assert.Equal(t, task.ID, deleted.ID)
	_, err = db.DeleteTask(ctx, alice, task.ID)
	assert.ErrorIs(t, err, models.ErrTaskNotFound)

	now := time.Now()
	tokenID := "8b0f7f0e-5f5a-4b4e-9d43-5c0f3bd1e001"
	require.NoError(t, db.SaveToken(ctx, &models.AuthToken{
		ID: tokenID, UserID: alice, CreatedAt: now, ExpiresAt: now.Add(-time.Minute),
	}))
	removed, err := db.DeleteExpiredTokens(ctx, now)
	require.NoError(t, err)
	assert.Equal(t, int64(1), removed)
	_, err = db.GetToken(ctx, tokenID)
	assert.ErrorIs(t, err, models.ErrTokenNotFound)

	stats, err := db.GetStats(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), stats.Users)
	assert.Equal(t, int64(0), stats.Tasks)
}
