package errx

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/redis/go-redis/v9"
)

const (
	// SystemErrorMessage is a user-facing fallback when internal errors occur.
	SystemErrorMessage = "internal server error"
	// RedisErrorMessage describes Redis related failures.
	RedisErrorMessage = "redis operation failed"
	// RedisNotFoundMessage is returned when a key is missing.
	RedisNotFoundMessage = "redis key not found"
	// UpstreamErrorMessage is shown when a model or embedding call fails.
	UpstreamErrorMessage = "No he podido completar esta operación. Por favor, inténtalo de nuevo."
	// GraphErrorMessage describes graph store failures.
	GraphErrorMessage = "graph store query failed"
	// UnsafeQueryMessage is used when a generated query is rejected by the safety gate.
	UnsafeQueryMessage = "generated query rejected: not read-only"
	// SessionBusyMessage is returned when another turn holds the session lock.
	SessionBusyMessage = "conversation is busy with another turn"
)

// AppError wraps an underlying error with an HTTP status and safe message.
type AppError struct {
	Err     error
	Status  int
	Message string
}

// Error implements the error interface.
func (e *AppError) Error() string {
	if e.Err == nil {
		return e.Message
	}
	return fmt.Sprintf("%s: %v", e.Message, e.Err)
}

// Unwrap exposes the underlying error for errors.Is / errors.As support.
func (e *AppError) Unwrap() error {
	return e.Err
}

// New creates a new AppError with the provided information.
func New(err error, status int, message string) *AppError {
	return &AppError{
		Err:     err,
		Status:  status,
		Message: message,
	}
}

// WrapRedis maps Redis errors to AppError; redis.Nil becomes a 404.
func WrapRedis(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, redis.Nil) {
		return New(err, http.StatusNotFound, RedisNotFoundMessage)
	}
	return New(err, http.StatusBadGateway, RedisErrorMessage)
}

// WrapUpstream marks a completion or embedding provider failure.
func WrapUpstream(err error) error {
	if err == nil {
		return nil
	}
	return New(err, http.StatusBadGateway, UpstreamErrorMessage)
}

// WrapGraph marks a graph store failure. Errors already carrying an AppError
// keep their classification.
func WrapGraph(err error) error {
	if err == nil {
		return nil
	}
	var app *AppError
	if errors.As(err, &app) {
		return err
	}
	return New(err, http.StatusBadGateway, GraphErrorMessage)
}

// QueryError carries a generated query rejected by the read-only gate.
type QueryError struct {
	Query string
}

func (e *QueryError) Error() string {
	return fmt.Sprintf("rejected query: %q", e.Query)
}

// Unsafe reports a generated query that did not pass the read-only gate.
func Unsafe(query string) error {
	return New(&QueryError{Query: query}, http.StatusUnprocessableEntity, UnsafeQueryMessage)
}

// RejectedQuery returns the query text of an Unsafe error, or "".
func RejectedQuery(err error) string {
	var q *QueryError
	if errors.As(err, &q) {
		return q.Query
	}
	return ""
}

// Busy reports a conversation that already has a turn in flight.
func Busy(sessionID string) error {
	return New(fmt.Errorf("session %s locked", sessionID), http.StatusConflict, SessionBusyMessage)
}

// StatusOf returns the HTTP status carried by err, or 500.
func StatusOf(err error) int {
	var app *AppError
	if errors.As(err, &app) && app.Status != 0 {
		return app.Status
	}
	return http.StatusInternalServerError
}

// IsUnsafe reports whether err came from the read-only gate.
func IsUnsafe(err error) bool {
	var app *AppError
	return errors.As(err, &app) && app.Message == UnsafeQueryMessage
}

// Is reports whether the target matches the underlying error or the AppError itself.
func (e *AppError) Is(target error) bool {
	return errors.Is(e.Err, target)
}

// As allows casting to AppError or the wrapped error in a chain.
func (e *AppError) As(target any) bool {
	if errors.As(e.Err, target) {
		return true
	}
	if t, ok := target.(**AppError); ok {
		*t = e
		return true
	}
	return false
}

// IsUpstream reports whether err came from a model or embedding provider.
func IsUpstream(err error) bool {
	var app *AppError
	return errors.As(err, &app) && app.Message == UpstreamErrorMessage
}
