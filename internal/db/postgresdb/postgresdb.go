// Package postgresdb provides a PostgreSQL-based implementation of the storage
// interface. Every task statement carries the owner id in its WHERE clause, so
// a row owned by somebody else is indistinguishable from a missing one.
package postgresdb

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/lib/pq"
	"github.com/pressly/goose/v3"

	"github.com/patric-chuzhbe/tasktracker/internal/models"
	"github.com/patric-chuzhbe/tasktracker/internal/user"
)

const (
	pgCodeUniqueViolation = "23505"
	pgCodeCheckViolation  = "23514"
)

const taskColumns = `id, description, completed, owner_id, created_at, updated_at`

var sortColumns = map[string]string{
	models.SortFieldDescription: "description",
	models.SortFieldCompleted:   "completed",
	models.SortFieldCreatedAt:   "created_at",
	models.SortFieldUpdatedAt:   "updated_at",
}

// PostgresDB is a PostgreSQL-backed storage.
type PostgresDB struct {
	database          *sql.DB
	connectionTimeout time.Duration
}

type queryer interface {
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type executor interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
}

type rowScanner interface {
	Scan(dest ...any) error
}

type initOptions struct {
	DBPreReset bool
}

// InitOption defines a functional option for configuring database initialization.
type InitOption func(*initOptions)

// WithDBPreReset drops every public table before the migrations run.
// Meant for tests.
func WithDBPreReset(value bool) InitOption {
	return func(options *initOptions) {
		options.DBPreReset = value
	}
}

// New establishes a connection to the PostgreSQL database,
// runs schema migrations, and returns a configured PostgresDB instance.
func New(
	ctx context.Context,
	databaseDSN string,
	connectionTimeout time.Duration,
	migrationsDir string,
	optionsProto ...InitOption,
) (*PostgresDB, error) {
	options := &initOptions{
		DBPreReset: false,
	}
	for _, protoOption := range optionsProto {
		protoOption(options)
	}

	database, err := sql.Open("pgx", databaseDSN)
	if err != nil {
		return nil, err
	}

	result := &PostgresDB{
		database:          database,
		connectionTimeout: connectionTimeout,
	}

	if options.DBPreReset {
		if err := result.resetDB(ctx); err != nil {
			return nil,
				fmt.Errorf(
					"in internal/db/postgresdb/postgresdb.go/New(): error while `result.resetDB()` calling: %w",
					err,
				)
		}
	}

	if err := goose.SetDialect("postgres"); err != nil {
		return nil,
			fmt.Errorf(
				"in internal/db/postgresdb/postgresdb.go/New(): error while `goose.SetDialect()` calling: %w",
				err,
			)
	}

	if err := goose.UpContext(ctx, result.database, migrationsDir); err != nil {
		return nil,
			fmt.Errorf(
				"in internal/db/postgresdb/postgresdb.go/New(): error while `goose.UpContext()` calling: %w",
				err,
			)
	}

	return result, nil
}

func mapPgError(err error) error {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return err
	}
	switch pgErr.Code {
	case pgCodeCheckViolation:
		return fmt.Errorf("%w: %s", models.ErrConstraintViolation, pgErr.ConstraintName)
	case pgCodeUniqueViolation:
		return models.ErrUserExists
	}

	return err
}

func isUUID(value string) bool {
	_, err := uuid.Parse(value)
	return err == nil
}

func scanTask(row rowScanner) (*models.Task, error) {
	task := &models.Task{}
	err := row.Scan(
		&task.ID,
		&task.Description,
		&task.Completed,
		&task.Owner,
		&task.CreatedAt,
		&task.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	return task, nil
}

func (db *PostgresDB) queryTask(ctx context.Context, database queryer, query string, args ...any) (*models.Task, error) {
	task, err := scanTask(database.QueryRowContext(ctx, query, args...))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, models.ErrTaskNotFound
		}
		return nil, mapPgError(err)
	}

	return task, nil
}

// CreateTask inserts a task owned by ownerID.
func (db *PostgresDB) CreateTask(
	ctx context.Context,
	ownerID string,
	description string,
	completed bool,
) (*models.Task, error) {
	task, err := db.queryTask(
		ctx,
		db.database,
		`INSERT INTO tasks (owner_id, description, completed) VALUES ($1, $2, $3) RETURNING `+taskColumns,
		ownerID,
		description,
		completed,
	)
	if err != nil {
		return nil, fmt.Errorf(
			"in internal/db/postgresdb/postgresdb.go/CreateTask(): error while `db.queryTask()` calling: %w",
			err,
		)
	}

	return task, nil
}

// GetTask returns the task only when it belongs to ownerID.
func (db *PostgresDB) GetTask(ctx context.Context, ownerID string, taskID string) (*models.Task, error) {
	if !isUUID(taskID) {
		return nil, models.ErrTaskNotFound
	}

	return db.queryTask(
		ctx,
		db.database,
		`SELECT `+taskColumns+` FROM tasks WHERE id = $1 AND owner_id = $2`,
		taskID,
		ownerID,
	)
}

func buildListTasksQuery(ownerID string, query models.ListTasksQuery) (string, []any) {
	args := []any{ownerID}
	conditions := []string{"owner_id = $1"}

	if query.Filter.Completed != nil {
		args = append(args, *query.Filter.Completed)
		conditions = append(conditions, fmt.Sprintf("completed = $%d", len(args)))
	}

	order := []string{}
	if column, ok := sortColumns[query.Sort.Field]; ok {
		direction := "ASC"
		if query.Sort.Descending {
			direction = "DESC"
		}
		order = append(order, pq.QuoteIdentifier(column)+" "+direction)
	}
	order = append(order, "created_at ASC", "id ASC")

	sqlQuery := `SELECT ` + taskColumns + ` FROM tasks WHERE ` + strings.Join(conditions, " AND ") +
		` ORDER BY ` + strings.Join(order, ", ")

	if query.Page.Limit > 0 {
		args = append(args, query.Page.Limit)
		sqlQuery += fmt.Sprintf(" LIMIT $%d", len(args))
	}
	if query.Page.Skip > 0 {
		args = append(args, query.Page.Skip)
		sqlQuery += fmt.Sprintf(" OFFSET $%d", len(args))
	}

	return sqlQuery, args
}

// ListTasks returns ownerID's tasks filtered, ordered and paginated by query.
func (db *PostgresDB) ListTasks(
	ctx context.Context,
	ownerID string,
	query models.ListTasksQuery,
) (models.Tasks, error) {
	sqlQuery, args := buildListTasksQuery(ownerID, query)

	rows, err := db.database.QueryContext(ctx, sqlQuery, args...)
	if err != nil {
		return nil, fmt.Errorf(
			"in internal/db/postgresdb/postgresdb.go/ListTasks(): error while `db.database.QueryContext()` calling: %w",
			err,
		)
	}
	defer rows.Close()

	result := models.Tasks{}
	for rows.Next() {
		task, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, task)
	}

	err = rows.Err()
	if err != nil {
		return nil, err
	}

	return result, nil
}

// UpdateTask changes the supplied fields in a single statement.
func (db *PostgresDB) UpdateTask(
	ctx context.Context,
	ownerID string,
	taskID string,
	patch models.TaskPatch,
) (*models.Task, error) {
	if !isUUID(taskID) {
		return nil, models.ErrTaskNotFound
	}

	return db.queryTask(
		ctx,
		db.database,
		`
			UPDATE tasks
				SET
					description = COALESCE($3::text, description),
					completed = COALESCE($4::boolean, completed),
					updated_at = clock_timestamp()
				WHERE id = $1 AND owner_id = $2
				RETURNING `+taskColumns,
		taskID,
		ownerID,
		patch.Description,
		patch.Completed,
	)
}

// DeleteTask removes the task in one remove-if-owned statement.
func (db *PostgresDB) DeleteTask(ctx context.Context, ownerID string, taskID string) (*models.Task, error) {
	if !isUUID(taskID) {
		return nil, models.ErrTaskNotFound
	}

	return db.queryTask(
		ctx,
		db.database,
		`DELETE FROM tasks WHERE id = $1 AND owner_id = $2 RETURNING `+taskColumns,
		taskID,
		ownerID,
	)
}

// CreateUser inserts a new user record and returns its id.
func (db *PostgresDB) CreateUser(ctx context.Context, usr *user.User) (string, error) {
	row := db.database.QueryRowContext(
		ctx,
		`INSERT INTO users (email, password_hash) VALUES ($1, $2) RETURNING id`,
		usr.Email,
		usr.PasswordHash,
	)
	var userIDFromDB string
	err := row.Scan(&userIDFromDB)
	if err != nil {
		return "", mapPgError(err)
	}

	return userIDFromDB, nil
}

func (db *PostgresDB) queryUser(ctx context.Context, query string, arg string) (*user.User, error) {
	row := db.database.QueryRowContext(ctx, query, arg)
	usr := &user.User{}
	err := row.Scan(&usr.ID, &usr.Email, &usr.PasswordHash)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, models.ErrUserNotFound
		}
		return nil, err
	}

	return usr, nil
}

// GetUserByID fetches a user by their UUID.
func (db *PostgresDB) GetUserByID(ctx context.Context, userID string) (*user.User, error) {
	if !isUUID(userID) {
		return nil, models.ErrUserNotFound
	}

	return db.queryUser(ctx, `SELECT id, email, password_hash FROM users WHERE id = $1`, userID)
}

// GetUserByEmail fetches a user by email, case-insensitively.
func (db *PostgresDB) GetUserByEmail(ctx context.Context, email string) (*user.User, error) {
	return db.queryUser(ctx, `SELECT id, email, password_hash FROM users WHERE lower(email) = lower($1)`, email)
}

func (db *PostgresDB) SaveToken(ctx context.Context, token *models.AuthToken) error {
	_, err := db.database.ExecContext(
		ctx,
		`INSERT INTO auth_tokens (id, user_id, created_at, expires_at) VALUES ($1, $2, $3, $4)`,
		token.ID,
		token.UserID,
		token.CreatedAt,
		token.ExpiresAt,
	)
	if err != nil {
		return fmt.Errorf(
			"in internal/db/postgresdb/postgresdb.go/SaveToken(): error while `db.database.ExecContext()` calling: %w",
			err,
		)
	}

	return nil
}

func (db *PostgresDB) GetToken(ctx context.Context, tokenID string) (*models.AuthToken, error) {
	if !isUUID(tokenID) {
		return nil, models.ErrTokenNotFound
	}

	row := db.database.QueryRowContext(
		ctx,
		`SELECT id, user_id, created_at, expires_at FROM auth_tokens WHERE id = $1`,
		tokenID,
	)
	token := &models.AuthToken{}
	err := row.Scan(&token.ID, &token.UserID, &token.CreatedAt, &token.ExpiresAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, models.ErrTokenNotFound
		}
		return nil, err
	}

	return token, nil
}

func (db *PostgresDB) DeleteToken(ctx context.Context, userID string, tokenID string) error {
	if !isUUID(tokenID) {
		return models.ErrTokenNotFound
	}

	affected, err := execAffected(
		ctx,
		db.database,
		`DELETE FROM auth_tokens WHERE id = $1 AND user_id = $2`,
		tokenID,
		userID,
	)
	if err != nil {
		return err
	}
	if affected == 0 {
		return models.ErrTokenNotFound
	}

	return nil
}

func (db *PostgresDB) DeleteUserTokens(ctx context.Context, userID string) ([]string, error) {
	rows, err := db.database.QueryContext(
		ctx,
		`DELETE FROM auth_tokens WHERE user_id = $1 RETURNING id`,
		userID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	result := []string{}
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		result = append(result, id)
	}

	return result, rows.Err()
}

func (db *PostgresDB) DeleteExpiredTokens(ctx context.Context, now time.Time) (int64, error) {
	return execAffected(ctx, db.database, `DELETE FROM auth_tokens WHERE expires_at <= $1`, now)
}

func execAffected(ctx context.Context, database executor, query string, args ...any) (int64, error) {
	result, err := database.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, err
	}

	return result.RowsAffected()
}

func (db *PostgresDB) GetStats(ctx context.Context) (*models.InternalStatsResponse, error) {
	row := db.database.QueryRowContext(
		ctx,
		`SELECT (SELECT COUNT(*) FROM tasks), (SELECT COUNT(*) FROM users)`,
	)
	stats := &models.InternalStatsResponse{}
	if err := row.Scan(&stats.Tasks, &stats.Users); err != nil {
		return nil, err
	}

	return stats, nil
}

// Ping verifies connectivity with the PostgreSQL database within the configured timeout.
func (db *PostgresDB) Ping(ctx context.Context) error {
	ctxWithTimeout, cancel := context.WithTimeout(ctx, db.connectionTimeout)
	defer cancel()

	return db.database.PingContext(ctxWithTimeout)
}

// Close closes the database connection and releases any associated resources.
func (db *PostgresDB) Close() error {
	return db.database.Close()
}

func (db *PostgresDB) resetDB(ctx context.Context) error {
	_, err := db.database.ExecContext(
		ctx,
		`
			DO $$
			DECLARE
				r RECORD;
			BEGIN
				FOR r IN (SELECT tablename FROM pg_tables WHERE schemaname = 'public') LOOP
					EXECUTE 'DROP TABLE IF EXISTS ' || quote_ident(r.tablename) || ' CASCADE';
				END LOOP;
			END $$;
		`,
	)
	if err != nil {
		return fmt.Errorf(
			"in internal/db/postgresdb/postgresdb.go/resetDB(): error while `db.database.ExecContext()` calling: %w",
			err,
		)
	}
	return nil
}
