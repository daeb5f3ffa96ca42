package apiclient

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"
	"time"
)

const cachePath = "/api/v1/cache"

// Entry is a cached value as returned by the API.
type Entry struct {
	Key   string          `json:"key"`
	Value json.RawMessage `json:"value"`
}

type deleteResult struct {
	Deleted int64 `json:"deleted"`
}

// keyPath escapes each segment so keys keep their slashes.
func keyPath(key string) string {
	segments := strings.Split(key, "/")
	for i, s := range segments {
		segments[i] = url.PathEscape(s)
	}
	return cachePath + "/" + strings.Join(segments, "/")
}

// Get returns the entry stored under key. A missing key is an APIError
// for which IsNotFound reports true.
func (c *Client) Get(ctx context.Context, key string) (*Entry, error) {
	if key == "" {
		return nil, fmt.Errorf("key is required")
	}
	var entry Entry
	if err := c.get(ctx, keyPath(key), &entry); err != nil {
		return nil, err
	}
	return &entry, nil
}

// Set stores value, which must be a JSON document, under key. A zero ttl
// uses the server's default.
func (c *Client) Set(ctx context.Context, key string, value json.RawMessage, ttl time.Duration) error {
	if key == "" {
		return fmt.Errorf("key is required")
	}
	if !json.Valid(value) {
		return fmt.Errorf("value for %q is not valid JSON", key)
	}
	path := keyPath(key)
	if ttl > 0 {
		path += "?ttl=" + url.QueryEscape(ttl.String())
	}
	return c.put(ctx, path, value, nil)
}

// SetValue marshals v and stores it under key.
func (c *Client) SetValue(ctx context.Context, key string, v any, ttl time.Duration) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to marshal value: %w", err)
	}
	return c.Set(ctx, key, data, ttl)
}

// Delete removes key and reports how many entries were deleted.
func (c *Client) Delete(ctx context.Context, key string) (int64, error) {
	if key == "" {
		return 0, fmt.Errorf("key is required")
	}
	var res deleteResult
	if err := c.delete(ctx, keyPath(key), &res); err != nil {
		return 0, err
	}
	return res.Deleted, nil
}

// DeleteByPrefix removes every key starting with prefix.
func (c *Client) DeleteByPrefix(ctx context.Context, prefix string) (int64, error) {
	if prefix == "" {
		return 0, fmt.Errorf("prefix is required")
	}
	var res deleteResult
	if err := c.delete(ctx, cachePath+"?prefix="+url.QueryEscape(prefix), &res); err != nil {
		return 0, err
	}
	return res.Deleted, nil
}
