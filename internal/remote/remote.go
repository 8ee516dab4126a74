// Package remote defines the contract of the remote data store that queued
// operations are replayed against, and classifies its failures.
package remote

import (
	"context"
	"database/sql/driver"
	stderrors "errors"
	"fmt"
	"net"
	"net/url"
	"syscall"

	apperrors "github.com/Andival-Sei/pennora/backend/internal/errors"
	"github.com/Andival-Sei/pennora/backend/internal/models"
)

// Store performs writes against the remote data store. Implementations
// report failures as *Error, or as connectivity errors recognised by
// IsConnectivity. Transport, auth and retry behavior belong to the
// implementation.
type Store interface {
	Insert(ctx context.Context, table models.Table, data models.Payload) error
	Update(ctx context.Context, table models.Table, recordID string, data models.Payload) error
	Delete(ctx context.Context, table models.Table, recordID string) error
}

// Error is a structured error response from the remote store.
type Error struct {
	Message string
	Code    string // store-specific code, e.g. a SQLSTATE
	Status  int    // HTTP status, 0 when not applicable
}

func (e *Error) Error() string {
	switch {
	case e.Code != "" && e.Status != 0:
		return fmt.Sprintf("%s (code %s, status %d)", e.Message, e.Code, e.Status)
	case e.Code != "":
		return fmt.Sprintf("%s (code %s)", e.Message, e.Code)
	case e.Status != 0:
		return fmt.Sprintf("%s (status %d)", e.Message, e.Status)
	default:
		return e.Message
	}
}

// Offline wraps err as a connectivity failure.
func Offline(err error) error {
	return apperrors.Wrap(apperrors.ErrNetworkUnavailable, "remote store unreachable", err)
}

// IsConnectivity reports whether err means the remote store could not be
// reached at all, as opposed to a request it rejected. Only connectivity
// failures may be deferred to the offline queue.
func IsConnectivity(err error) bool {
	if err == nil {
		return false
	}
	if apperrors.Is(err, apperrors.ErrNetworkUnavailable) {
		return true
	}

	var remoteErr *Error
	if stderrors.As(err, &remoteErr) {
		return false
	}

	if stderrors.Is(err, driver.ErrBadConn) ||
		stderrors.Is(err, syscall.ECONNREFUSED) ||
		stderrors.Is(err, syscall.ECONNRESET) ||
		stderrors.Is(err, syscall.ENETUNREACH) ||
		stderrors.Is(err, syscall.EHOSTUNREACH) {
		return true
	}

	var dnsErr *net.DNSError
	if stderrors.As(err, &dnsErr) {
		return true
	}
	var opErr *net.OpError
	if stderrors.As(err, &opErr) {
		return true
	}
	var urlErr *url.Error
	if stderrors.As(err, &urlErr) {
		return urlErr.Timeout() || stderrors.As(urlErr.Err, &opErr)
	}
	var netErr net.Error
	if stderrors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	return false
}

// ValidateTable rejects tables outside the known set. Implementations that
// interpolate the table into a path or query must call it first.
func ValidateTable(table models.Table) error {
	if !table.IsKnown() {
		return apperrors.New(apperrors.ErrUnknownTable, fmt.Sprintf("unknown table %q", table))
	}
	return nil
}
