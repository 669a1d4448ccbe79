package utils

import (
	"errors"
	"fmt"
)

var ErrUnsupportedScheme = errors.New("unsupported URL scheme")

// StorageInitError is returned when the output directory cannot be created
// or written to. It is fatal at scheduler construction.
type StorageInitError struct {
	Dir string
	Err error
}

func (e *StorageInitError) Error() string {
	return fmt.Sprintf("cannot initialize output directory %q: %v", e.Dir, e.Err)
}

func (e *StorageInitError) Unwrap() error { return e.Err }

type HTTPStatusError struct {
	URL    string
	Status int
}

func (e *HTTPStatusError) Error() string {
	return fmt.Sprintf("unexpected status code %d for %s", e.Status, e.URL)
}

// NetworkError covers connection failures, timeouts and truncated transfers.
type NetworkError struct {
	URL string
	Err error
}

func (e *NetworkError) Error() string {
	return fmt.Sprintf("network error for %s: %v", e.URL, e.Err)
}

func (e *NetworkError) Unwrap() error { return e.Err }

type LocalIOError struct {
	Path string
	Err  error
}

func (e *LocalIOError) Error() string {
	return fmt.Sprintf("local I/O error on %s: %v", e.Path, e.Err)
}

func (e *LocalIOError) Unwrap() error { return e.Err }

// ErrorKind names the taxonomy bucket of err, or "unknown".
func ErrorKind(err error) string {
	var (
		statusErr  *HTTPStatusError
		netErr     *NetworkError
		ioErr      *LocalIOError
		storageErr *StorageInitError
	)
	switch {
	case err == nil:
		return ""
	case errors.As(err, &statusErr):
		return "http-status"
	case errors.As(err, &netErr):
		return "network"
	case errors.As(err, &ioErr):
		return "local-io"
	case errors.As(err, &storageErr):
		return "storage-init"
	default:
		return "unknown"
	}
}
