package endpoint_test

import (
	"bytes"
	"compress/gzip"
	"encoding/json"
	"io"
	"testing"

	"github.com/bdobrica/restapi/internal/restapi/endpoint"
	"github.com/bdobrica/restapi/internal/restapi/httpcodec"
)

func TestSuccess_MarshalsValueAsJSONBody(t *testing.T) {
	resp := endpoint.Success(map[string]int{"count": 3})
	if resp.Status != httpcodec.StatusOK {
		t.Fatalf("expected 200, got %d", resp.Status)
	}
	var decoded map[string]int
	if err := json.Unmarshal(resp.Body, &decoded); err != nil {
		t.Fatalf("expected valid JSON body, got error: %v", err)
	}
	if decoded["count"] != 3 {
		t.Fatalf("expected count=3, got %v", decoded)
	}
}

func TestErrorResponses_CarryExpectedStatusAndMessage(t *testing.T) {
	cases := []struct {
		resp *httpcodec.Response
		want httpcodec.Status
	}{
		{endpoint.BadRequest("bad input"), httpcodec.StatusBadRequest},
		{endpoint.InternalServerError(), httpcodec.StatusInternalServerError},
		{endpoint.InvalidEndpoint(), httpcodec.StatusNotFound},
		{endpoint.InvalidBody(), httpcodec.StatusBadRequest},
		{endpoint.Unauthorized(), httpcodec.StatusUnauthorized},
		{endpoint.RateLimitExceeded(), httpcodec.StatusTooManyRequests},
	}
	for _, c := range cases {
		if c.resp.Status != c.want {
			t.Errorf("expected status %d, got %d", c.want, c.resp.Status)
		}
		var body struct {
			Error string `json:"error"`
		}
		if err := json.Unmarshal(c.resp.Body, &body); err != nil {
			t.Errorf("expected JSON error body, got error: %v", err)
		}
		if body.Error == "" {
			t.Error("expected a non-empty error message")
		}
	}
}

func TestCompressedResponse_BodyIsValidGzipOfInput(t *testing.T) {
	original := []byte(`{"large":"payload"}`)
	resp, err := endpoint.CompressedResponse(original)
	if err != nil {
		t.Fatalf("CompressedResponse: %v", err)
	}
	if enc, ok := resp.Headers.Get("Content-Encoding"); !ok || enc != "gzip" {
		t.Fatalf("expected Content-Encoding: gzip, got %q (ok=%v)", enc, ok)
	}

	gr, err := gzip.NewReader(bytes.NewReader(resp.Body))
	if err != nil {
		t.Fatalf("expected body to be valid gzip, got error: %v", err)
	}
	got, err := io.ReadAll(gr)
	if err != nil {
		t.Fatalf("gzip read: %v", err)
	}
	if !bytes.Equal(got, original) {
		t.Fatalf("expected decompressed body %q, got %q", original, got)
	}
}
