// Package router exposes the task and session operations over HTTP/JSON.
// Every task route is wrapped by the auth Guard, which hands the resolved
// Principal to the handler; nothing below the guard reads the caller identity
// from anywhere else.
package router

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	validator "github.com/go-playground/validator/v10"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/ulule/limiter/v3"
	stdlib "github.com/ulule/limiter/v3/drivers/middleware/stdlib"
	"github.com/ulule/limiter/v3/drivers/store/memory"
	"github.com/unrolled/secure"
	"go.uber.org/zap"

	"github.com/patric-chuzhbe/tasktracker/internal/auth"
	"github.com/patric-chuzhbe/tasktracker/internal/credentials"
	"github.com/patric-chuzhbe/tasktracker/internal/gzippedhttp"
	"github.com/patric-chuzhbe/tasktracker/internal/ipchecker"
	"github.com/patric-chuzhbe/tasktracker/internal/logger"
	"github.com/patric-chuzhbe/tasktracker/internal/metrics"
	"github.com/patric-chuzhbe/tasktracker/internal/models"
	"github.com/patric-chuzhbe/tasktracker/internal/service"
)

const maxBodyBytes = 1 << 20

type taskService interface {
	CreateTask(ctx context.Context, ownerID string, body []byte) (*models.Task, error)
	ListTasks(ctx context.Context, ownerID string, query models.ListTasksQuery) (models.Tasks, error)
	GetTask(ctx context.Context, ownerID string, taskID string) (*models.Task, error)
	UpdateTask(ctx context.Context, ownerID string, taskID string, body []byte) (*models.Task, error)
	DeleteTask(ctx context.Context, ownerID string, taskID string) (*models.Task, error)
}

type sessionService interface {
	Login(ctx context.Context, email, password string) (*models.LoginResponse, error)
	Logout(ctx context.Context, principal auth.Principal) error
	LogoutAll(ctx context.Context, principal auth.Principal) error
	Me(ctx context.Context, principal auth.Principal) (*models.UserResponse, error)
}

type guard interface {
	Protect(h auth.AuthenticatedHandlerFunc) http.HandlerFunc
}

type pinger interface {
	Ping(ctx context.Context) error
}

type statsProvider interface {
	GetStats(ctx context.Context) (*models.InternalStatsResponse, error)
}

type storage interface {
	pinger
	statsProvider
}

// Router holds the dependencies of the HTTP handlers.
type Router struct {
	tasks     taskService
	sessions  sessionService
	guard     guard
	db        storage
	ipChecker *ipchecker.IPChecker
	validate  *validator.Validate
	rateLimit string
}

type initOptions struct {
	rateLimit string
}

type InitOption func(*initOptions)

// WithRateLimit limits requests per client IP, e.g. "100-M". Empty disables
// the limiter.
func WithRateLimit(rateLimit string) InitOption {
	return func(options *initOptions) {
		options.rateLimit = rateLimit
	}
}

func New(
	tasks taskService,
	sessions sessionService,
	theGuard guard,
	db storage,
	ipChecker *ipchecker.IPChecker,
	optionsProto ...InitOption,
) *Router {
	options := &initOptions{
		rateLimit: "",
	}
	for _, protoOption := range optionsProto {
		protoOption(options)
	}

	return &Router{
		tasks:     tasks,
		sessions:  sessions,
		guard:     theGuard,
		db:        db,
		ipChecker: ipChecker,
		validate:  validator.New(),
		rateLimit: options.rateLimit,
	}
}

func (router *Router) rateLimiter() (func(http.Handler) http.Handler, error) {
	if router.rateLimit == "" {
		return func(h http.Handler) http.Handler { return h }, nil
	}

	rate, err := limiter.NewRateFromFormatted(router.rateLimit)
	if err != nil {
		return nil, err
	}
	instance := limiter.New(memory.NewStore(), rate)

	return stdlib.NewMiddleware(
		instance,
		stdlib.WithLimitReachedHandler(func(response http.ResponseWriter, _ *http.Request) {
			writeJSON(response, http.StatusTooManyRequests, models.ErrorResponse{Error: "rate limit exceeded"})
		}),
	).Handler, nil
}

func securityHeaders() func(http.Handler) http.Handler {
	return secure.New(secure.Options{
		ContentTypeNosniff:    true,
		FrameDeny:             true,
		BrowserXssFilter:      true,
		ContentSecurityPolicy: "default-src 'none'",
		ReferrerPolicy:        "no-referrer",
	}).Handler
}

// Handler builds the chi mux with the whole middleware chain.
func (router *Router) Handler() (http.Handler, error) {
	rateLimiter, err := router.rateLimiter()
	if err != nil {
		return nil, err
	}

	mux := chi.NewRouter()
	mux.Use(
		middleware.RequestID,
		logger.WithLoggingHTTPMiddleware,
		middleware.Recoverer,
		metrics.WithHTTPMetrics,
		securityHeaders(),
		rateLimiter,
	)

	// promhttp negotiates its own compression.
	mux.Handle(`/metrics`, promhttp.Handler())

	mux.Group(func(r chi.Router) {
		r.Use(gzippedhttp.UngzipRequest, gzippedhttp.GzipResponse)

		r.Get(`/ping`, router.GetPing)
		r.With(router.ipChecker.TrustedOnly).Get(`/internal/stats`, router.GetInternalStats)

		r.Route(`/users`, func(r chi.Router) {
			r.Post(`/login`, router.PostUsersLogin)
			r.Post(`/logout`, router.guard.Protect(router.PostUsersLogout))
			r.Post(`/logoutAll`, router.guard.Protect(router.PostUsersLogoutAll))
			r.Get(`/me`, router.guard.Protect(router.GetUsersMe))
		})

		r.Route(`/tasks`, func(r chi.Router) {
			r.Post(`/`, router.guard.Protect(router.PostTasks))
			r.Get(`/`, router.guard.Protect(router.GetTasks))
			r.Get(`/{id}`, router.guard.Protect(router.GetTask))
			r.Patch(`/{id}`, router.guard.Protect(router.PatchTask))
			r.Delete(`/{id}`, router.guard.Protect(router.DeleteTask))
		})
	})

	mux.NotFound(func(response http.ResponseWriter, _ *http.Request) {
		writeJSON(response, http.StatusNotFound, models.ErrorResponse{Error: "not found"})
	})

	return mux, nil
}

func writeJSON(response http.ResponseWriter, status int, payload any) {
	response.Header().Set("Content-Type", "application/json")
	response.WriteHeader(status)
	if err := json.NewEncoder(response).Encode(payload); err != nil {
		logger.Log.Debugln("Error calling the `json.NewEncoder(response).Encode()`: ", zap.Error(err))
	}
}

// writeError maps the error taxonomy onto status codes. A task owned by
// somebody else produces exactly the same 404 body as a missing one.
func writeError(response http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, models.ErrDisallowedUpdate):
		writeJSON(response, http.StatusBadRequest, models.ErrorResponse{Error: models.ErrDisallowedUpdate.Error()})
	case errors.Is(err, models.ErrValidation):
		writeJSON(response, http.StatusBadRequest, models.ErrorResponse{Error: err.Error()})
	case errors.Is(err, models.ErrTaskNotFound):
		writeJSON(response, http.StatusNotFound, models.ErrorResponse{Error: models.ErrTaskNotFound.Error()})
	default:
		logger.Log.Errorw("request failed", "error", err)
		writeJSON(response, http.StatusInternalServerError, models.ErrorResponse{Error: "internal server error"})
	}
}

func readBody(response http.ResponseWriter, request *http.Request) ([]byte, error) {
	body, err := io.ReadAll(http.MaxBytesReader(response, request.Body, maxBodyBytes))
	if err != nil {
		return nil, service.ErrMalformedBody
	}

	return body, nil
}

// PostTasks creates a task owned by the caller.
func (router *Router) PostTasks(response http.ResponseWriter, request *http.Request, principal auth.Principal) {
	body, err := readBody(response, request)
	if err != nil {
		writeError(response, err)
		return
	}

	task, err := router.tasks.CreateTask(request.Context(), principal.UserID, body)
	if err != nil {
		writeError(response, err)
		return
	}

	writeJSON(response, http.StatusCreated, task)
}

// GetTasks lists the caller's tasks; see service.ParseListQuery for the
// query parameters.
func (router *Router) GetTasks(response http.ResponseWriter, request *http.Request, principal auth.Principal) {
	query := service.ParseListQuery(request.URL.Query())

	tasks, err := router.tasks.ListTasks(request.Context(), principal.UserID, query)
	if err != nil {
		writeError(response, err)
		return
	}

	writeJSON(response, http.StatusOK, tasks)
}

func (router *Router) GetTask(response http.ResponseWriter, request *http.Request, principal auth.Principal) {
	task, err := router.tasks.GetTask(request.Context(), principal.UserID, chi.URLParam(request, "id"))
	if err != nil {
		writeError(response, err)
		return
	}

	writeJSON(response, http.StatusOK, task)
}

func (router *Router) PatchTask(response http.ResponseWriter, request *http.Request, principal auth.Principal) {
	body, err := readBody(response, request)
	if err != nil {
		writeError(response, err)
		return
	}

	task, err := router.tasks.UpdateTask(request.Context(), principal.UserID, chi.URLParam(request, "id"), body)
	if err != nil {
		writeError(response, err)
		return
	}

	writeJSON(response, http.StatusOK, task)
}

func (router *Router) DeleteTask(response http.ResponseWriter, request *http.Request, principal auth.Principal) {
	task, err := router.tasks.DeleteTask(request.Context(), principal.UserID, chi.URLParam(request, "id"))
	if err != nil {
		writeError(response, err)
		return
	}

	writeJSON(response, http.StatusOK, task)
}

// PostUsersLogin exchanges an email and password for a bearer token.
func (router *Router) PostUsersLogin(response http.ResponseWriter, request *http.Request) {
	var payload models.LoginRequest
	if err := json.NewDecoder(http.MaxBytesReader(response, request.Body, maxBodyBytes)).Decode(&payload); err != nil {
		writeJSON(response, http.StatusBadRequest, models.ErrorResponse{Error: service.ErrMalformedBody.Error()})
		return
	}
	if err := router.validate.Struct(payload); err != nil {
		writeJSON(response, http.StatusBadRequest, models.ErrorResponse{Error: credentials.ErrInvalidCredentials.Error()})
		return
	}

	result, err := router.sessions.Login(request.Context(), payload.Email, payload.Password)
	if err != nil {
		if errors.Is(err, credentials.ErrInvalidCredentials) {
			writeJSON(response, http.StatusBadRequest, models.ErrorResponse{Error: err.Error()})
			return
		}
		writeError(response, err)
		return
	}

	writeJSON(response, http.StatusOK, result)
}

func (router *Router) PostUsersLogout(response http.ResponseWriter, request *http.Request, principal auth.Principal) {
	if err := router.sessions.Logout(request.Context(), principal); err != nil {
		writeError(response, err)
		return
	}

	response.WriteHeader(http.StatusOK)
}

func (router *Router) PostUsersLogoutAll(response http.ResponseWriter, request *http.Request, principal auth.Principal) {
	if err := router.sessions.LogoutAll(request.Context(), principal); err != nil {
		writeError(response, err)
		return
	}

	response.WriteHeader(http.StatusOK)
}

func (router *Router) GetUsersMe(response http.ResponseWriter, request *http.Request, principal auth.Principal) {
	me, err := router.sessions.Me(request.Context(), principal)
	if err != nil {
		writeError(response, err)
		return
	}

	writeJSON(response, http.StatusOK, me)
}

// GetPing reports whether the store is reachable.
func (router *Router) GetPing(response http.ResponseWriter, request *http.Request) {
	if err := router.db.Ping(request.Context()); err != nil {
		logger.Log.Debugln("Error calling the `router.db.Ping()`: ", zap.Error(err))
		response.WriteHeader(http.StatusInternalServerError)
		return
	}

	response.WriteHeader(http.StatusOK)
}

// GetInternalStats returns global task and user counts. Only reachable from
// the trusted subnet.
func (router *Router) GetInternalStats(response http.ResponseWriter, request *http.Request) {
	stats, err := router.db.GetStats(request.Context())
	if err != nil {
		writeError(response, err)
		return
	}

	writeJSON(response, http.StatusOK, stats)
}
