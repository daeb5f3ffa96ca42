package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/marmos91/stackd/internal/logger"
	"github.com/marmos91/stackd/pkg/cache"
)

// CacheHandler exposes the cache over /api/v1/cache.
type CacheHandler struct {
	cache   cache.Cache
	maxBody int64
}

// NewCacheHandler creates the admin handler. maxBody caps request bodies;
// the cache applies its own encoded size limit on top.
func NewCacheHandler(c cache.Cache, maxBody int64) *CacheHandler {
	if maxBody <= 0 {
		maxBody = cache.DefaultMaxValueSize
	}
	return &CacheHandler{cache: c, maxBody: maxBody}
}

// CacheEntry is the body of GET /api/v1/cache/{key}.
type CacheEntry struct {
	Key   string          `json:"key"`
	Value json.RawMessage `json:"value"`
}

// DeleteResult is the body of the delete endpoints.
type DeleteResult struct {
	Deleted int64 `json:"deleted"`
}

// Get handles GET /api/v1/cache/{key}.
func (h *CacheHandler) Get(w http.ResponseWriter, r *http.Request) {
	key, ok := keyParam(w, r)
	if !ok {
		return
	}

	var raw json.RawMessage
	found, err := h.cache.Get(r.Context(), key, &raw)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if !found {
		NotFound(w, fmt.Sprintf("key %q not found", key))
		return
	}

	writeJSON(w, http.StatusOK, CacheEntry{Key: key, Value: raw})
}

// Put handles PUT /api/v1/cache/{key}?ttl=30m. The body must be a JSON
// document; ttl accepts a Go duration or a number of seconds.
func (h *CacheHandler) Put(w http.ResponseWriter, r *http.Request) {
	key, ok := keyParam(w, r)
	if !ok {
		return
	}

	ttl, err := parseTTL(r.URL.Query().Get("ttl"))
	if err != nil {
		BadRequest(w, err.Error())
		return
	}

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, h.maxBody))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			PayloadTooLarge(w, fmt.Sprintf("request body exceeds %d bytes", h.maxBody))
			return
		}
		BadRequest(w, "Failed to read request body")
		return
	}
	if len(body) == 0 || !json.Valid(body) {
		BadRequest(w, "Request body must be a JSON document")
		return
	}

	if err := h.cache.Set(r.Context(), key, json.RawMessage(body), ttl); err != nil {
		h.fail(w, r, err)
		return
	}

	WriteNoContent(w)
}

// Delete handles DELETE /api/v1/cache/{key}.
func (h *CacheHandler) Delete(w http.ResponseWriter, r *http.Request) {
	key, ok := keyParam(w, r)
	if !ok {
		return
	}

	n, err := h.cache.Delete(r.Context(), key)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, DeleteResult{Deleted: n})
}

// DeletePrefix handles DELETE /api/v1/cache?prefix=p.
func (h *CacheHandler) DeletePrefix(w http.ResponseWriter, r *http.Request) {
	prefix := r.URL.Query().Get("prefix")
	if prefix == "" {
		BadRequest(w, "prefix query parameter is required")
		return
	}

	n, err := h.cache.DeleteByPrefix(r.Context(), prefix)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, DeleteResult{Deleted: n})
}

func (h *CacheHandler) fail(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, cache.ErrInvalidKey):
		BadRequest(w, err.Error())
	case errors.Is(err, cache.ErrValueTooLarge):
		PayloadTooLarge(w, err.Error())
	case errors.Is(err, cache.ErrUnavailable), errors.Is(err, cache.ErrClosed), errors.Is(err, cache.ErrAuthentication):
		logger.WarnCtx(r.Context(), "Cache unavailable", logger.Err(err))
		ServiceUnavailable(w, "cache unavailable")
	case errors.Is(err, cache.ErrPermissionDenied):
		logger.WarnCtx(r.Context(), "Cache refused operation", logger.Err(err))
		Forbidden(w, "cache user is not permitted to run this operation")
	default:
		logger.ErrorCtx(r.Context(), "Cache operation failed", logger.Err(err))
		InternalServerError(w, "cache operation failed")
	}
}

// keyParam reads the wildcard key so keys may contain slashes. chi matches
// against RawPath when the request carried escapes, so the parameter is only
// still encoded in that case.
func keyParam(w http.ResponseWriter, r *http.Request) (string, bool) {
	key := chi.URLParam(r, "*")
	if r.URL.RawPath != "" {
		var err error
		if key, err = url.PathUnescape(key); err != nil {
			BadRequest(w, "malformed key")
			return "", false
		}
	}
	if key == "" {
		BadRequest(w, "key is required")
		return "", false
	}
	return key, true
}

const maxTTLSeconds = math.MaxInt64 / int64(time.Second)

func parseTTL(s string) (time.Duration, error) {
	if s == "" {
		return 0, nil
	}
	if secs, err := strconv.ParseInt(s, 10, 64); err == nil {
		if secs <= 0 {
			return 0, fmt.Errorf("ttl must be positive, got %q", s)
		}
		if secs > maxTTLSeconds {
			return 0, fmt.Errorf("ttl %q is too large", s)
		}
		return time.Duration(secs) * time.Second, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("invalid ttl %q: use a duration such as 30m or a number of seconds", s)
	}
	if d <= 0 {
		return 0, fmt.Errorf("ttl must be positive, got %q", s)
	}
	return d, nil
}
