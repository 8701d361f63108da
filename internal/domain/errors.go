package domain

import (
	"errors"
	"fmt"
)

// ErrorKind classifies a failure so the surface (proxy response, management
// API, CLI) can map it to a status without string matching.
type ErrorKind string

const (
	KindInvalidRoutingTable ErrorKind = "InvalidRoutingTable"
	KindRouteMatchMiss      ErrorKind = "RouteMatchMiss"
	KindMiddlewareCancelled ErrorKind = "MiddlewareCancelled"
	KindAuthFailed          ErrorKind = "AuthFailed"
	KindUpstreamTimeout     ErrorKind = "UpstreamTimeout"
	KindUpstreamFetchFailed ErrorKind = "UpstreamFetchFailed"
	KindStaticNotFound      ErrorKind = "StaticNotFound"
	KindAPIUnauthorized     ErrorKind = "ApiUnauthorized"
	KindServerInternal      ErrorKind = "ServerInternal"
)

// Error carries a kind, a short human message, optional metadata and an
// optional wrapped cause, so a log site at the top of the stack sees the full
// chain.
type Error struct {
	Kind    ErrorKind
	Message string
	Meta    map[string]any
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// Is reports kind equality, so errors.Is(err, &Error{Kind: k}) matches any
// error of that kind regardless of message.
func (e *Error) Is(target error) bool {
	var t *Error
	if errors.As(target, &t) {
		return t.Kind == e.Kind
	}
	return false
}

// E builds a kinded error.
func E(kind ErrorKind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Wrap builds a kinded error around a cause.
func Wrap(kind ErrorKind, message string, err error) *Error {
	return &Error{Kind: kind, Message: message, Err: err}
}

// IsKind reports whether err is (or wraps) a kinded error of the given kind.
func IsKind(err error, kind ErrorKind) bool {
	var e *Error
	return errors.As(err, &e) && e.Kind == kind
}
