// Package enaerrors defines the error-kind taxonomy used across Ena's
// pipeline: which failures are retryable, which are terminal, and which
// should abort a thread's transaction versus merely being logged and
// skipped.
package enaerrors

import (
	"fmt"

	"github.com/pkg/errors"
)

// Transport wraps a retryable network/HTTP error (connection reset, timeout,
// 5xx). RetryBackoff should keep retrying while the backoff schedule allows.
type Transport struct {
	Op  string
	Err error
}

func (e *Transport) Error() string { return fmt.Sprintf("transport: %s: %v", e.Op, e.Err) }
func (e *Transport) Unwrap() error { return e.Err }

func NewTransport(op string, err error) error {
	if err == nil {
		return nil
	}
	return &Transport{Op: op, Err: err}
}

// Terminal wraps a non-retryable HTTP status: 404, 403, 451. Callers must
// stop retrying and treat the resource as permanently unavailable.
type Terminal struct {
	Status int
	URL    string
}

func (e *Terminal) Error() string {
	return fmt.Sprintf("terminal status %d fetching %s", e.Status, e.URL)
}

func IsTerminalStatus(status int) bool {
	switch status {
	case 404, 403, 451:
		return true
	default:
		return false
	}
}

// WireSchema signals that the Deserializer rejected a record because a
// required field was absent. The affected thread/media/post is skipped; the
// pipeline continues.
type WireSchema struct {
	Record string
	Field  string
}

func (e *WireSchema) Error() string {
	return fmt.Sprintf("wire schema: %s missing required field %q", e.Record, e.Field)
}

func NewWireSchema(record, field string) error {
	return &WireSchema{Record: record, Field: field}
}

// Db wraps a failure that aborted the current per-thread transaction. The
// thread will be retried on the next poll that marks it modified.
type Db struct {
	Op  string
	Err error
}

func (e *Db) Error() string { return fmt.Sprintf("db: %s: %v", e.Op, e.Err) }
func (e *Db) Unwrap() error { return e.Err }

func NewDb(op string, err error) error {
	if err == nil {
		return nil
	}
	return errors.WithMessage(&Db{Op: op, Err: err}, op)
}

// Io wraps a media file write failure. Media jobs are submitted only when a
// post is first stored or first gains media, so a failed write is not
// re-queued when later polls observe the same post.
type Io struct {
	Op  string
	Err error
}

func (e *Io) Error() string { return fmt.Sprintf("io: %s: %v", e.Op, e.Err) }
func (e *Io) Unwrap() error { return e.Err }

func NewIo(op string, err error) error {
	if err == nil {
		return nil
	}
	return &Io{Op: op, Err: err}
}

// ConfigInvariant is the only error kind that is fatal at startup.
type ConfigInvariant struct {
	Field  string
	Reason string
}

func (e *ConfigInvariant) Error() string {
	return fmt.Sprintf("config invariant violated: %s: %s", e.Field, e.Reason)
}

func NewConfigInvariant(field, reason string) error {
	return &ConfigInvariant{Field: field, Reason: reason}
}

// IsRetryable reports whether err should be retried by RetryBackoff.
// Terminal, WireSchema, and ConfigInvariant are never retryable.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	var t *Terminal
	if errors.As(err, &t) {
		return false
	}
	var w *WireSchema
	if errors.As(err, &w) {
		return false
	}
	var c *ConfigInvariant
	if errors.As(err, &c) {
		return false
	}
	var tr *Transport
	if errors.As(err, &tr) {
		return true
	}
	var io *Io
	if errors.As(err, &io) {
		return true
	}
	// Unclassified errors (context cancellation, programmer errors) are not
	// retried; the caller should propagate them.
	return false
}
