package endpoint

import (
	"context"
	"strings"

	"github.com/bdobrica/restapi/internal/restapi/apperr"
	"github.com/bdobrica/restapi/internal/restapi/httpcodec"
)

// Dispatch matches req against the table, runs the auth pipeline, enforces
// the endpoint's rate limit, and invokes the handler. numericIP is the
// rate-limit bucket key.
func (t *Table) Dispatch(ctx context.Context, req *httpcodec.Request, numericIP string) *httpcodec.Response {
	e := t.Match(req.ContentType, req.Method, req.PathOnly())
	if e == nil {
		return InvalidEndpoint()
	}

	if !e.limiter.Allow(numericIP) {
		return RateLimitExceeded()
	}

	username, err := t.authenticate(e, req)
	if err != nil {
		return Unauthorized()
	}
	if e.AuthMask != AuthNone && username == nil {
		return Unauthorized()
	}

	params, _ := requestParams(req)
	return e.Handler(ctx, username, params, &req.Headers)
}

// authenticate runs whichever gates e.AuthMask selects, in fixed order,
// returning the authenticated username on the first success.
// When AuthMask is AuthNone, it returns (nil, nil) without running any
// gate, so the handler is invoked with a null username.
func (t *Table) authenticate(e *Endpoint, req *httpcodec.Request) (*string, error) {
	if e.AuthMask == AuthNone {
		return nil, nil
	}

	if e.AuthMask&AuthToken != 0 {
		if token, ok := req.Headers.Get("Authorization"); ok && token != "" {
			if username, err := t.store.GetUsernameByAPIKey(token); err == nil {
				if verr := t.store.VerifyAccessToken(username, token); verr == nil {
					return &username, nil
				}
			}
		}
	}

	if e.AuthMask&(AuthKey|AuthSign) != 0 {
		key, keyOK := req.Headers.Get("API-Key")
		if keyOK && key != "" {
			username, err := t.store.GetUsernameByAPIKey(key)
			if err == nil {
				requireSign := e.AuthMask&AuthSign != 0 && len(req.Body) > 0
				if requireSign {
					sigHex, sigOK := req.Headers.Get("API-Signature")
					if sigOK {
						if verr := t.store.VerifyAPIKey(username, key, []byte(sigHex), req.Body); verr == nil {
							return &username, nil
						}
					}
				} else {
					if verr := t.store.VerifyAPIKey(username, key, nil, nil); verr == nil {
						return &username, nil
					}
				}
			}
		}
	}

	return nil, apperr.New(apperr.KindInvalidAuth, "authenticate")
}

// requestParams passes the request body to the handler as a raw JSON
// message without decoding or validating it, or returns "{}" for an empty
// (or all-whitespace) body. The server loop has already transparently
// decompressed a gzip-prefixed body before Dispatch runs.
func requestParams(req *httpcodec.Request) ([]byte, error) {
	body := req.Body
	if len(trimSpaceBytes(body)) == 0 {
		return []byte("{}"), nil
	}
	return body, nil
}

func trimSpaceBytes(b []byte) []byte {
	return []byte(strings.TrimSpace(string(b)))
}
