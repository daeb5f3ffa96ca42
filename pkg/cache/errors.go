package cache

import "errors"

var (
	// ErrInvalidKey is returned for empty keys, keys longer than MaxKeyLength
	// and keys containing whitespace or control characters.
	ErrInvalidKey = errors.New("invalid cache key")

	// ErrValueTooLarge is returned when the encoded value exceeds the
	// configured CACHE_MAX_VALUE_SIZE.
	ErrValueTooLarge = errors.New("cache value too large")

	// ErrUnavailable is returned when the backend cannot be reached, including
	// when the startup retry policy is exhausted.
	ErrUnavailable = errors.New("cache unavailable")

	// ErrClosed is returned by operations on a closed cache.
	ErrClosed = errors.New("cache is closed")

	// ErrAuthentication marks credential failures. They are never retried.
	ErrAuthentication = errors.New("cache authentication failed")

	// ErrPermissionDenied marks a command the backend user may not run, such
	// as a redis ACL NOPERM reply. The connection itself is healthy.
	ErrPermissionDenied = errors.New("cache permission denied")

	// ErrUnknownDriver is returned by Open for an unregistered driver name.
	ErrUnknownDriver = errors.New("unknown cache driver")
)
