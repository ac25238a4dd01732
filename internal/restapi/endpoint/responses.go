package endpoint

import (
	"bytes"
	"compress/gzip"
	"encoding/json"

	"github.com/bdobrica/restapi/internal/restapi/httpcodec"
)

// Success builds a 200 JSON response from v, the convenience factory
// handlers may use for the common case.
func Success(v any) *httpcodec.Response {
	return jsonResponse(httpcodec.StatusOK, v)
}

// BadRequest builds a 400 JSON error response with the given message.
func BadRequest(message string) *httpcodec.Response {
	return errorResponse(httpcodec.StatusBadRequest, message)
}

// InternalServerError builds a 500 JSON error response with the default
// body {"error":"Internal server error."}.
func InternalServerError() *httpcodec.Response {
	return errorResponse(httpcodec.StatusInternalServerError, "Internal server error.")
}

// InvalidEndpoint builds the default 404 response for an unmatched route.
func InvalidEndpoint() *httpcodec.Response {
	return errorResponse(httpcodec.StatusNotFound, "Invalid endpoint.")
}

// InvalidBody builds the default 400 response for a malformed request body.
func InvalidBody() *httpcodec.Response {
	return errorResponse(httpcodec.StatusBadRequest, "Invalid body.")
}

// Unauthorized builds the default 401 response for a failed auth pipeline.
func Unauthorized() *httpcodec.Response {
	return errorResponse(httpcodec.StatusUnauthorized, "Unauthorized.")
}

// RateLimitExceeded builds the default 429 response.
func RateLimitExceeded() *httpcodec.Response {
	return errorResponse(httpcodec.StatusTooManyRequests, "Rate limit exceeded.")
}

// CompressedResponse gzip-compresses body and returns a 200 response
// labelled Content-Encoding: gzip.
func CompressedResponse(body []byte) (*httpcodec.Response, error) {
	var buf bytes.Buffer
	gw := gzip.NewWriter(&buf)
	if _, err := gw.Write(body); err != nil {
		return nil, err
	}
	if err := gw.Close(); err != nil {
		return nil, err
	}

	resp := httpcodec.NewResponse(httpcodec.StatusOK, buf.Bytes())
	resp.Headers.Replace("Content-Encoding", "gzip")
	return resp, nil
}

func jsonResponse(status httpcodec.Status, v any) *httpcodec.Response {
	body, err := json.Marshal(v)
	if err != nil {
		return InternalServerError()
	}
	return httpcodec.NewResponse(status, body)
}

func errorResponse(status httpcodec.Status, message string) *httpcodec.Response {
	body, _ := json.Marshal(struct {
		Error string `json:"error"`
	}{Error: message})
	return httpcodec.NewResponse(status, body)
}
