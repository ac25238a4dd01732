// Package endpoint implements the content-addressed dispatcher: endpoint
// matching, the multi-mechanism auth pipeline, and per-endpoint rate
// limiting.
package endpoint

import (
	"context"
	"encoding/json"

	"github.com/bdobrica/restapi/internal/restapi/credentials"
	"github.com/bdobrica/restapi/internal/restapi/httpcodec"
	"github.com/bdobrica/restapi/internal/restapi/ratelimit"
)

// AuthMask is a bitset over the auth mechanisms an endpoint accepts.
type AuthMask int

const (
	AuthNone  AuthMask = 0
	AuthToken AuthMask = 1 << 0
	AuthKey   AuthMask = 1 << 1
	AuthSign  AuthMask = 1 << 2
)

// Handler is the contract every endpoint implementation satisfies: it
// receives the authenticated username (nil when AuthNone), decoded JSON
// params, and the raw request headers, and owns response construction.
type Handler func(ctx context.Context, username *string, params json.RawMessage, headers *httpcodec.Headers) *httpcodec.Response

// Endpoint is the registered tuple: content-type, method, path, auth mask,
// handler, and rate limit (with its own counter map).
type Endpoint struct {
	ContentType httpcodec.ContentType
	Method      httpcodec.Method
	Path        string
	AuthMask    AuthMask
	Handler     Handler
	limiter     *ratelimit.Limiter
}

// New constructs an Endpoint with its own rate limiter.
func New(ct httpcodec.ContentType, method httpcodec.Method, path string, mask AuthMask, limit ratelimit.Limit, handler Handler) *Endpoint {
	return &Endpoint{
		ContentType: ct,
		Method:      method,
		Path:        path,
		AuthMask:    mask,
		Handler:     handler,
		limiter:     ratelimit.New(limit),
	}
}

// matches reports whether the endpoint's (content_type, method, path)
// equals the request's ("strip ?query first").
func (e *Endpoint) matches(ct httpcodec.ContentType, method httpcodec.Method, path string) bool {
	return e.ContentType == ct && e.Method == method && e.Path == path
}

// Table is an ordered list of endpoints, linearly scanned in registration
// order for the first endpoint whose tuple matches.
type Table struct {
	endpoints []*Endpoint
	store     *credentials.Store
}

// NewTable creates an empty endpoint table backed by the given credential
// store (used by the auth pipeline).
func NewTable(store *credentials.Store) *Table {
	return &Table{store: store}
}

// Register appends e to the table.
func (t *Table) Register(e *Endpoint) {
	t.endpoints = append(t.endpoints, e)
}

// Match returns the first endpoint whose (content_type, method, path)
// equals the request's path-without-query, or nil if none match.
func (t *Table) Match(ct httpcodec.ContentType, method httpcodec.Method, pathOnly string) *Endpoint {
	for _, e := range t.endpoints {
		if e.matches(ct, method, pathOnly) {
			return e
		}
	}
	return nil
}
