package app

import (
	"context"
	"net"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/patric-chuzhbe/tasktracker/internal/config"
	"github.com/patric-chuzhbe/tasktracker/internal/db/jsondb"
	"github.com/patric-chuzhbe/tasktracker/internal/db/memorystorage"
	"github.com/patric-chuzhbe/tasktracker/internal/db/storage"
	"github.com/patric-chuzhbe/tasktracker/internal/models"
)

func TestGetAvailableStorageType(t *testing.T) {
	type tTestCase struct {
		name string
		cfg  config.Config
		want int
	}
	testCases := []tTestCase{
		{name: "dsn wins", cfg: config.Config{DatabaseDSN: "postgres://x", DBFileName: "db.json"}, want: models.StorageTypePostgresql},
		{name: "file", cfg: config.Config{DBFileName: "db.json"}, want: models.StorageTypeFile},
		{name: "memory", cfg: config.Config{}, want: models.StorageTypeMemory},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, getAvailableStorageType(&tc.cfg))
		})
	}
}

func TestOpenStorage(t *testing.T) {
	db, err := OpenStorage(&config.Config{})
	require.NoError(t, err)
	assert.IsType(t, &memorystorage.MemoryStorage{}, db)

	db, err = OpenStorage(&config.Config{DBFileName: filepath.Join(t.TempDir(), "db.json")})
	require.NoError(t, err)
	assert.IsType(t, &jsondb.JSONDB{}, db)
	require.NoError(t, db.Close())
}

func TestNewWiresHTTPStack(t *testing.T) {
	t.Setenv("LOG_LEVEL", "error")

	app, err := New(config.WithDisableFlagsParsing(true))
	require.NoError(t, err)
	defer app.Close()
	assert.Nil(t, app.grpcServer)

	sessions, err := NewCredentials(app.cfg, app.db)
	require.NoError(t, err)
	_, err = sessions.Register(context.Background(), "alice@example.com", "secret")
	require.NoError(t, err)

	server := httptest.NewServer(app.httpHandler)
	defer server.Close()
	client := resty.New().SetBaseURL(server.URL)

	resp, err := client.R().Get("/ping")
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode())

	var login models.LoginResponse
	resp, err = client.R().
		SetBody(models.LoginRequest{Email: "alice@example.com", Password: "secret"}).
		SetResult(&login).
		Post("/users/login")
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode())

	resp, err = client.R().
		SetAuthToken(login.Token).
		SetBody(`{"description":"wired"}`).
		Post("/tasks")
	require.NoError(t, err)
	assert.Equal(t, http.StatusCreated, resp.StatusCode())
}

func TestRunStopsOnCancel(t *testing.T) {
	t.Setenv("SERVER_ADDRESS", "127.0.0.1:18080")
	t.Setenv("GRPC_SERVER_ADDRESS", "127.0.0.1:18081")
	t.Setenv("LOG_LEVEL", "error")

	app, err := New(config.WithDisableFlagsParsing(true))
	require.NoError(t, err)
	defer app.Close()
	require.NotNil(t, app.grpcServer)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- app.Run(ctx)
	}()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

type closeRecordingStorage struct {
	*memorystorage.MemoryStorage
	closed bool
}

func (s *closeRecordingStorage) Close() error {
	s.closed = true
	return s.MemoryStorage.Close()
}

func TestNewClosesStorageOnFailure(t *testing.T) {
	busy, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer busy.Close()

	t.Setenv("GRPC_SERVER_ADDRESS", busy.Addr().String())
	t.Setenv("LOG_LEVEL", "error")

	db, err := memorystorage.New()
	require.NoError(t, err)
	recorder := &closeRecordingStorage{MemoryStorage: db}

	original := openStorage
	t.Cleanup(func() { openStorage = original })
	openStorage = func(_ *config.Config) (storage.Storage, error) {
		return recorder, nil
	}

	app, err := New(config.WithDisableFlagsParsing(true))
	assert.Error(t, err)
	assert.Nil(t, app)
	assert.True(t, recorder.closed)
}
