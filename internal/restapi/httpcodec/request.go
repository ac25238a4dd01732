package httpcodec

import (
	"bytes"
	"fmt"
)

// Request is a parsed or to-be-serialized HTTP request. Body length must
// match Content-Length (or have been reassembled from chunked frames)
// whenever HasBody reports true; framing is the socket layer's job, not
// this package's.
type Request struct {
	Method      Method
	Path        string // includes "?query" when present
	Version     Version
	Headers     Headers
	Body        []byte
	ContentType ContentType
}

// HasBody reports whether the request is expected to carry a body, based on
// the presence of a Content-Length or Transfer-Encoding header.
func (r *Request) HasBody() bool {
	if cl, ok := r.Headers.Get("Content-Length"); ok && cl != "0" {
		return true
	}
	if te, ok := r.Headers.Get("Transfer-Encoding"); ok && te != "" {
		return true
	}
	return len(r.Body) > 0
}

// Query returns the portion of Path after the first '?', or "" if none.
func (r *Request) Query() string {
	for i := 0; i < len(r.Path); i++ {
		if r.Path[i] == '?' {
			return r.Path[i+1:]
		}
	}
	return ""
}

// PathOnly returns Path with any "?query" suffix stripped, the form the
// endpoint table matches against.
func (r *Request) PathOnly() string {
	for i := 0; i < len(r.Path); i++ {
		if r.Path[i] == '?' {
			return r.Path[:i]
		}
	}
	return r.Path
}

// ParseRequest parses a complete request out of buf: "METHOD SP TARGET SP
// HTTP/VERSION CRLF (HEADER CRLF)* CRLF BODY". buf must already contain a
// full request (the socket framing layer is responsible for that); this
// function never reads past len(buf). An unrecognized method, a missing
// target, a missing "HTTP/" prefix or a missing CRLF on the request line
// is reported as an error; an unrecognized version after "HTTP/" is not an
// error and leaves Version as VersionUndefined.
func ParseRequest(buf []byte) (*Request, error) {
	req := &Request{}

	method, n := parseMethod(buf)
	req.Method = method
	if n == 0 || n >= len(buf) || buf[n] != ' ' {
		return req, fmt.Errorf("httpcodec: malformed request line (method)")
	}
	i := n + 1

	targetStart := i
	for i < len(buf) && buf[i] != ' ' {
		i++
	}
	if i >= len(buf) {
		return req, fmt.Errorf("httpcodec: malformed request line (target)")
	}
	req.Path = string(buf[targetStart:i])
	i++ // skip space

	if !hasPrefix(buf[i:], "HTTP/") {
		return req, fmt.Errorf("httpcodec: malformed request line (version prefix)")
	}
	i += len("HTTP/")
	version, vn := parseVersion(buf[i:])
	req.Version = version
	i += vn

	lineEnd := bytes.Index(buf[i:], []byte("\r\n"))
	if lineEnd < 0 {
		return req, fmt.Errorf("httpcodec: missing CRLF after request line")
	}
	i += lineEnd + 2

	headersEnd, err := parseHeaders(buf[i:], &req.Headers)
	if err != nil {
		return req, err
	}
	i += headersEnd

	if ct, ok := req.Headers.Get("Content-Type"); ok {
		req.ContentType = ParseContentType(ct)
	}

	body := buf[i:]
	body = bytes.TrimRight(body, "\r\n")
	req.Body = body

	return req, nil
}

// parseHeaders parses zero or more "KEY: VALUE\r\n" lines until it hits the
// blank CRLF that ends the header block, appending each to h in order.
// Returns the offset of the first byte after that terminating CRLF.
func parseHeaders(buf []byte, h *Headers) (int, error) {
	i := 0
	for {
		if i+1 < len(buf) && buf[i] == '\r' && buf[i+1] == '\n' {
			return i + 2, nil
		}
		colon := bytes.IndexByte(buf[i:], ':')
		if colon < 0 {
			return i, fmt.Errorf("httpcodec: header missing colon")
		}
		key := string(buf[i : i+colon])
		i += colon + 1
		for i < len(buf) && (buf[i] == ' ' || buf[i] == '\t') {
			i++
		}
		lineEnd := bytes.Index(buf[i:], []byte("\r\n"))
		if lineEnd < 0 {
			return i, fmt.Errorf("httpcodec: header missing CRLF")
		}
		value := string(buf[i : i+lineEnd])
		h.Set(key, value)
		i += lineEnd + 2
	}
}

// Build serializes req as "METHOD SP TARGET SP HTTP/VERSION CRLF (header
// CRLF)* CRLF BODY". Unlike Response.Build it writes the headers exactly as
// set and does not add or rewrite a Content-Length header.
func (r *Request) Build() []byte {
	var buf bytes.Buffer
	buf.WriteString(r.Method.String())
	buf.WriteByte(' ')
	buf.WriteString(r.Path)
	buf.WriteByte(' ')
	buf.WriteString("HTTP/")
	buf.WriteString(r.Version.Digits())
	buf.WriteString("\r\n")
	r.Headers.Each(func(key, value string) {
		buf.WriteString(key)
		buf.WriteByte(':')
		buf.WriteString(value)
		buf.WriteString("\r\n")
	})
	buf.WriteString("\r\n")
	buf.Write(r.Body)
	return buf.Bytes()
}
