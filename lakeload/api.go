// Package lakeload resolves cloud credentials and opens remote Delta Lake
// tables for analytical reads.
//
// The package binds an object store to a table location, replays the
// table's transaction log, and exposes either the table metadata or a lazy
// frame over the table's Parquet data files. It does not implement query
// planning, table writes, or the credential provider chain itself.
package lakeload

import (
	"context"
	"errors"
	"io"
)

// -----------------------------------------------------------------------------
// Store interface
// -----------------------------------------------------------------------------

// Store abstracts the object storage system a table lives in.
//
// Keys are relative to the store root (for S3, the bucket). The interface is
// read-only: lakeload never writes to the tables it opens.
type Store interface {
	// Get retrieves data from the given key.
	Get(ctx context.Context, key string) (io.ReadCloser, error)

	// Exists checks whether a key exists.
	Exists(ctx context.Context, key string) (bool, error)

	// List returns keys under the given prefix.
	List(ctx context.Context, prefix string) ([]string, error)

	// ReaderAt returns random access to the object along with its size.
	// Callers should close the ReaderAt if it implements io.Closer.
	ReaderAt(ctx context.Context, key string) (io.ReaderAt, int64, error)
}

// -----------------------------------------------------------------------------
// Errors
// -----------------------------------------------------------------------------

// Credential resolution errors.
var (
	// ErrProviderUnavailable indicates no credential provider is configured.
	ErrProviderUnavailable = errProviderUnavailable{}

	// ErrProviderFailed indicates a configured provider failed to produce
	// credentials. The provider's error is wrapped alongside it.
	ErrProviderFailed = errProviderFailed{}
)

// Table loading errors.
var (
	// ErrInvalidURI indicates a location URI without a usable bucket or host.
	ErrInvalidURI = errInvalidURI{}

	// ErrOpenFailed indicates the table's transaction log could not be read.
	ErrOpenFailed = errOpenFailed{}

	// ErrEmptyTable indicates the table (or the selection) has no data files.
	ErrEmptyTable = errEmptyTable{}

	// ErrReadFailed indicates a data file could not be opened or decoded.
	ErrReadFailed = errReadFailed{}
)

// Supporting errors wrapped by the kinds above.
var (
	// ErrNotFound indicates a requested object does not exist.
	ErrNotFound = errors.New("not found")

	// ErrInvalidPath indicates a key that would escape the storage root.
	ErrInvalidPath = errors.New("invalid path: escapes storage root")

	// ErrUnsupportedScheme indicates no backend is registered for a URI scheme.
	ErrUnsupportedScheme = errors.New("unsupported storage scheme")

	// ErrMissingCredentials indicates a binding lacks the access key id or secret.
	ErrMissingCredentials = errors.New("missing access key id or secret access key")

	// ErrVersionNotFound indicates a requested table version is not in the log.
	ErrVersionNotFound = errors.New("table version not found")
)

type errProviderUnavailable struct{}

func (errProviderUnavailable) Error() string { return "no credentials provider configured" }

type errProviderFailed struct{}

func (errProviderFailed) Error() string { return "credentials provider failed" }

type errInvalidURI struct{}

func (errInvalidURI) Error() string { return "invalid table uri" }

type errOpenFailed struct{}

func (errOpenFailed) Error() string { return "open table failed" }

type errEmptyTable struct{}

func (errEmptyTable) Error() string { return "table has no data files" }

type errReadFailed struct{}

func (errReadFailed) Error() string { return "read data file failed" }
