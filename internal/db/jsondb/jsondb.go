// Package jsondb is a file-backed storage. The whole dataset lives in memory
// and is written to a JSON file on Close.
package jsondb

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/thoas/go-funk"

	"github.com/patric-chuzhbe/tasktracker/internal/models"
	"github.com/patric-chuzhbe/tasktracker/internal/user"
)

type JSONDB struct {
	fileName string
	mu       sync.RWMutex
	lastTime time.Time
	Cache    CacheStruct
}

type CacheStruct struct {
	Tasks  map[string]*models.Task
	Users  map[string]*user.User
	Tokens map[string]*models.AuthToken
}

// NewCache returns an empty, ready to use CacheStruct.
func NewCache() CacheStruct {
	return CacheStruct{
		Tasks:  map[string]*models.Task{},
		Users:  map[string]*user.User{},
		Tokens: map[string]*models.AuthToken{},
	}
}

func initDBFile(fileName string) error {
	return writeToJSONFile(fileName, NewCache())
}

func writeToJSONFile(fileName string, cache interface{}) error {
	jsonData, err := json.MarshalIndent(cache, "", "\t")
	if err != nil {
		return fmt.Errorf("error marshaling JSON: %w", err)
	}

	file, err := os.OpenFile(fileName, os.O_WRONLY|os.O_TRUNC|os.O_CREATE, 0600)
	if err != nil {
		return fmt.Errorf("error opening file: %w", err)
	}
	defer file.Close()

	_, err = file.Write(jsonData)
	if err != nil {
		return fmt.Errorf("error writing to file: %w", err)
	}

	return nil
}

func parseJSONFile(fileName string, cache *CacheStruct) error {
	file, err := os.Open(fileName)
	if err != nil {
		return err
	}
	defer file.Close()

	return json.NewDecoder(file).Decode(cache)
}

// New opens fileName, creating an empty database when it does not exist.
func New(fileName string) (*JSONDB, error) {
	db := &JSONDB{
		fileName: fileName,
		Cache:    NewCache(),
	}

	err := parseJSONFile(db.fileName, &db.Cache)
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("in internal/db/jsondb/jsondb.go/New(): error while `parseJSONFile()` calling: %w", err)
		}
		if err := initDBFile(fileName); err != nil {
			return nil, fmt.Errorf("in internal/db/jsondb/jsondb.go/New(): error while `initDBFile()` calling: %w", err)
		}
	}
	db.ensureMaps()

	return db, nil
}

func (db *JSONDB) ensureMaps() {
	if db.Cache.Tasks == nil {
		db.Cache.Tasks = map[string]*models.Task{}
	}
	if db.Cache.Users == nil {
		db.Cache.Users = map[string]*user.User{}
	}
	if db.Cache.Tokens == nil {
		db.Cache.Tokens = map[string]*models.AuthToken{}
	}
}

// now never returns the same instant twice, so creation order is also the
// default list order.
func (db *JSONDB) now() time.Time {
	now := time.Now().UTC()
	if !now.After(db.lastTime) {
		now = db.lastTime.Add(time.Nanosecond)
	}
	db.lastTime = now

	return now
}

func (db *JSONDB) Ping(ctx context.Context) error {
	return nil
}

// Close flushes the dataset to the file.
func (db *JSONDB) Close() error {
	db.mu.RLock()
	defer db.mu.RUnlock()

	if db.fileName == "" {
		return nil
	}

	return writeToJSONFile(db.fileName, db.Cache)
}

func copyTask(task *models.Task) *models.Task {
	result := *task
	return &result
}

func (db *JSONDB) CreateTask(
	ctx context.Context,
	ownerID string,
	description string,
	completed bool,
) (*models.Task, error) {
	if description == "" {
		return nil, models.ErrConstraintViolation
	}

	db.mu.Lock()
	defer db.mu.Unlock()

	now := db.now()
	task := &models.Task{
		ID:          uuid.NewString(),
		Description: description,
		Completed:   completed,
		Owner:       ownerID,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	db.Cache.Tasks[task.ID] = task

	return copyTask(task), nil
}

// ownedTask must be called with db.mu held.
func (db *JSONDB) ownedTask(ownerID string, taskID string) (*models.Task, bool) {
	task, ok := db.Cache.Tasks[taskID]
	if !ok || task.Owner != ownerID {
		return nil, false
	}

	return task, true
}

func (db *JSONDB) GetTask(ctx context.Context, ownerID string, taskID string) (*models.Task, error) {
	db.mu.RLock()
	defer db.mu.RUnlock()

	task, ok := db.ownedTask(ownerID, taskID)
	if !ok {
		return nil, models.ErrTaskNotFound
	}

	return copyTask(task), nil
}

func (db *JSONDB) ListTasks(
	ctx context.Context,
	ownerID string,
	query models.ListTasksQuery,
) (models.Tasks, error) {
	db.mu.RLock()
	tasks := models.Tasks{}
	for _, task := range db.Cache.Tasks {
		if task.Owner != ownerID {
			continue
		}
		tasks = append(tasks, copyTask(task))
	}
	db.mu.RUnlock()

	if query.Filter.Completed != nil {
		completed := *query.Filter.Completed
		// funk.Filter returns the unnamed slice type.
		tasks = models.Tasks(funk.Filter(tasks, func(task *models.Task) bool {
			return task.Completed == completed
		}).([]*models.Task))
	}

	sortTasks(tasks, query.Sort)

	return paginate(tasks, query.Page), nil
}

func sortTasks(tasks models.Tasks, order models.Sort) {
	compare := func(a, b *models.Task) int {
		switch order.Field {
		case models.SortFieldDescription:
			return strings.Compare(a.Description, b.Description)
		case models.SortFieldCompleted:
			return compareBool(a.Completed, b.Completed)
		case models.SortFieldUpdatedAt:
			return a.UpdatedAt.Compare(b.UpdatedAt)
		case models.SortFieldCreatedAt:
			return a.CreatedAt.Compare(b.CreatedAt)
		}
		return 0
	}

	sort.SliceStable(tasks, func(i, j int) bool {
		cmp := compare(tasks[i], tasks[j])
		if order.Descending {
			cmp = -cmp
		}
		if cmp != 0 {
			return cmp < 0
		}
		if c := tasks[i].CreatedAt.Compare(tasks[j].CreatedAt); c != 0 {
			return c < 0
		}
		return tasks[i].ID < tasks[j].ID
	})
}

func compareBool(a, b bool) int {
	switch {
	case a == b:
		return 0
	case !a:
		return -1
	default:
		return 1
	}
}

func paginate(tasks models.Tasks, page models.Page) models.Tasks {
	if page.Skip >= len(tasks) {
		return models.Tasks{}
	}
	tasks = tasks[page.Skip:]
	if page.Limit > 0 && page.Limit < len(tasks) {
		tasks = tasks[:page.Limit]
	}

	return tasks
}

func (db *JSONDB) UpdateTask(
	ctx context.Context,
	ownerID string,
	taskID string,
	patch models.TaskPatch,
) (*models.Task, error) {
	if patch.Description != nil && *patch.Description == "" {
		return nil, models.ErrConstraintViolation
	}

	db.mu.Lock()
	defer db.mu.Unlock()

	task, ok := db.ownedTask(ownerID, taskID)
	if !ok {
		return nil, models.ErrTaskNotFound
	}
	patch.Apply(task)
	task.UpdatedAt = db.now()

	return copyTask(task), nil
}

func (db *JSONDB) DeleteTask(ctx context.Context, ownerID string, taskID string) (*models.Task, error) {
	db.mu.Lock()
	defer db.mu.Unlock()

	task, ok := db.ownedTask(ownerID, taskID)
	if !ok {
		return nil, models.ErrTaskNotFound
	}
	delete(db.Cache.Tasks, taskID)

	return task, nil
}

func (db *JSONDB) CreateUser(ctx context.Context, usr *user.User) (string, error) {
	db.mu.Lock()
	defer db.mu.Unlock()

	for _, existing := range db.Cache.Users {
		if strings.EqualFold(existing.Email, usr.Email) {
			return "", models.ErrUserExists
		}
	}

	stored := *usr
	stored.ID = uuid.NewString()
	db.Cache.Users[stored.ID] = &stored

	return stored.ID, nil
}

func (db *JSONDB) GetUserByID(ctx context.Context, userID string) (*user.User, error) {
	db.mu.RLock()
	defer db.mu.RUnlock()

	usr, ok := db.Cache.Users[userID]
	if !ok {
		return nil, models.ErrUserNotFound
	}
	result := *usr

	return &result, nil
}

func (db *JSONDB) GetUserByEmail(ctx context.Context, email string) (*user.User, error) {
	db.mu.RLock()
	defer db.mu.RUnlock()

	for _, usr := range db.Cache.Users {
		if strings.EqualFold(usr.Email, email) {
			result := *usr
			return &result, nil
		}
	}

	return nil, models.ErrUserNotFound
}

func (db *JSONDB) SaveToken(ctx context.Context, token *models.AuthToken) error {
	db.mu.Lock()
	defer db.mu.Unlock()

	stored := *token
	db.Cache.Tokens[token.ID] = &stored

	return nil
}

func (db *JSONDB) GetToken(ctx context.Context, tokenID string) (*models.AuthToken, error) {
	db.mu.RLock()
	defer db.mu.RUnlock()

	token, ok := db.Cache.Tokens[tokenID]
	if !ok {
		return nil, models.ErrTokenNotFound
	}
	result := *token

	return &result, nil
}

func (db *JSONDB) DeleteToken(ctx context.Context, userID string, tokenID string) error {
	db.mu.Lock()
	defer db.mu.Unlock()

	token, ok := db.Cache.Tokens[tokenID]
	if !ok || token.UserID != userID {
		return models.ErrTokenNotFound
	}
	delete(db.Cache.Tokens, tokenID)

	return nil
}

func (db *JSONDB) DeleteUserTokens(ctx context.Context, userID string) ([]string, error) {
	db.mu.Lock()
	defer db.mu.Unlock()

	removed := []string{}
	for id, token := range db.Cache.Tokens {
		if token.UserID == userID {
			removed = append(removed, id)
			delete(db.Cache.Tokens, id)
		}
	}

	return removed, nil
}

func (db *JSONDB) DeleteExpiredTokens(ctx context.Context, now time.Time) (int64, error) {
	db.mu.Lock()
	defer db.mu.Unlock()

	var removed int64
	for id, token := range db.Cache.Tokens {
		if token.IsExpired(now) {
			delete(db.Cache.Tokens, id)
			removed++
		}
	}

	return removed, nil
}

func (db *JSONDB) GetStats(ctx context.Context) (*models.InternalStatsResponse, error) {
	db.mu.RLock()
	defer db.mu.RUnlock()

	return &models.InternalStatsResponse{
		Tasks: int64(len(db.Cache.Tasks)),
		Users: int64(len(db.Cache.Users)),
	}, nil
}
