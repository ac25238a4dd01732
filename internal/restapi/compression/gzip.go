// Package compression wraps the gzip primitive consumed by the server loop
//: request bodies whose leading bytes match the gzip
// magic are transparently decompressed before JSON parsing, and
// endpoint.CompressedResponse gzip-compresses outgoing bodies.
package compression

import (
	"bytes"
	"compress/gzip"
	"io"

	"github.com/bdobrica/restapi/internal/restapi/apperr"
)

// gzipMagic is the two-byte gzip member header (RFC 1952 §2.3.1).
var gzipMagic = []byte{0x1f, 0x8b}

// IsGzip reports whether body begins with the gzip magic bytes.
func IsGzip(body []byte) bool {
	return len(body) >= 2 && bytes.Equal(body[:2], gzipMagic)
}

// MaybeDecompress returns body decompressed if it looks gzip-encoded,
// otherwise it returns body unchanged, matching how incoming request
// bodies are handled.
func MaybeDecompress(body []byte) ([]byte, error) {
	if !IsGzip(body) {
		return body, nil
	}
	return Decompress(body)
}

// Decompress unconditionally gzip-decompresses body.
func Decompress(body []byte) ([]byte, error) {
	r, err := gzip.NewReader(bytes.NewReader(body))
	if err != nil {
		return nil, apperr.Wrap(apperr.KindCompressionInflate, "decompress", err)
	}
	defer r.Close()

	out, err := io.ReadAll(r)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindCompressionDecompress, "decompress", err)
	}
	return out, nil
}
