package socket

import (
	"bytes"
	"crypto/tls"
	"strconv"

	"github.com/bdobrica/restapi/internal/restapi/apperr"
	"github.com/bdobrica/restapi/internal/restapi/httpcodec"
)

// recvFunc abstracts the byte source RecvHTTP reads from: a plain
// non-blocking fd (Recv) or a TLS connection (recvTLS), with timeoutMs
// already bound in. Both obey the same contract — block up to timeoutMs,
// return whatever arrived, and fail with SocketClosed on EOF — so the
// framing logic above can stay ignorant of which transport it's running
// over.
type recvFunc func(chunkSize int) ([]byte, error)

// RecvHTTP reads from fd until a complete HTTP/1.1 request is buffered:
// it scans for the header-block terminator "\r\n\r\n", extracts
// Content-Length (reading additional chunks until that many body bytes are
// present), or follows Transfer-Encoding: chunked frames until the
// terminating zero-length chunk. Bytes read past the request boundary are
// left in *carry for the next call on the same connection.
func RecvHTTP(fd int, timeoutMs int, chunkSize int, carry *[]byte) (*httpcodec.Request, error) {
	return recvHTTP(func(c int) ([]byte, error) { return Recv(fd, timeoutMs, c) }, chunkSize, carry)
}

// RecvHTTPTLS is RecvHTTP over an already-handshaked TLS connection.
func RecvHTTPTLS(conn *tls.Conn, timeoutMs int, chunkSize int, carry *[]byte) (*httpcodec.Request, error) {
	return recvHTTP(func(c int) ([]byte, error) { return recvTLS(conn, timeoutMs, c) }, chunkSize, carry)
}

func recvHTTP(recv recvFunc, chunkSize int, carry *[]byte) (*httpcodec.Request, error) {
	buf := append([]byte(nil), *carry...)
	*carry = nil

	headerEnd := -1
	for {
		if idx := bytes.Index(buf, []byte("\r\n\r\n")); idx >= 0 {
			headerEnd = idx + 4
			break
		}
		chunk, err := recv(chunkSize)
		if err != nil {
			return nil, err
		}
		buf = append(buf, chunk...)
	}

	headers := buf[:headerEnd]
	contentLength := -1
	chunkedEncoding := false
	if cl, ok := findHeaderValue(headers, "Content-Length"); ok {
		if n, err := strconv.Atoi(cl); err == nil {
			contentLength = n
		}
	}
	if te, ok := findHeaderValue(headers, "Transfer-Encoding"); ok && te == "chunked" {
		chunkedEncoding = true
	}

	var body []byte
	if chunkedEncoding {
		decoded, consumed, err := decodeChunkedBody(buf[headerEnd:], recv, chunkSize)
		if err != nil {
			return nil, err
		}
		body = decoded
		*carry = append(*carry, buf[headerEnd+consumed:]...)
	} else if contentLength >= 0 {
		for len(buf)-headerEnd < contentLength {
			chunk, err := recv(chunkSize)
			if err != nil {
				return nil, err
			}
			buf = append(buf, chunk...)
		}
		body = buf[headerEnd : headerEnd+contentLength]
		*carry = append(*carry, buf[headerEnd+contentLength:]...)
	} else {
		*carry = append(*carry, buf[headerEnd:]...)
	}

	full := append(append([]byte(nil), headers...), body...)
	req, err := httpcodec.ParseRequest(full)
	if err != nil {
		return nil, err
	}
	if chunkedEncoding || contentLength >= 0 {
		// A framed body is kept exactly as received, so its length matches
		// Content-Length; ParseRequest's trailing-CRLF trim only applies to
		// unframed bodies.
		req.Body = body
	}
	return req, nil
}

// decodeChunkedBody parses "<hex-len>\r\n<bytes>\r\n" frames from buf,
// reading more off the wire as needed, until a zero-length chunk
// terminates the stream. It returns the reassembled body and how many
// bytes of buf (not counting any extra reads appended internally) were
// consumed by the chunk stream itself — callers should treat everything
// after the returned body in the original connection stream as carry.
func decodeChunkedBody(buf []byte, recv recvFunc, chunkSize int) ([]byte, int, error) {
	var body []byte
	pos := 0
	for {
		for {
			if idx := bytes.Index(buf[pos:], []byte("\r\n")); idx >= 0 {
				break
			}
			chunk, err := recv(chunkSize)
			if err != nil {
				return nil, 0, err
			}
			buf = append(buf, chunk...)
		}
		lineEnd := bytes.Index(buf[pos:], []byte("\r\n"))
		sizeLine := buf[pos : pos+lineEnd]
		size, err := strconv.ParseInt(string(sizeLine), 16, 64)
		if err != nil {
			return nil, 0, apperr.New(apperr.KindJSONParse, "decode_chunked")
		}
		pos += lineEnd + 2

		for len(buf)-pos < int(size)+2 {
			chunk, err := recv(chunkSize)
			if err != nil {
				return nil, 0, err
			}
			buf = append(buf, chunk...)
		}

		if size == 0 {
			pos += 2 // trailing CRLF of the zero chunk
			return body, pos, nil
		}

		body = append(body, buf[pos:pos+int(size)]...)
		pos += int(size) + 2 // frame bytes + trailing CRLF
	}
}

// findHeaderValue scans a raw header block (without parsing into Headers)
// for the first case-sensitive match of key's "duplicate keys
// return the first match" rule.
func findHeaderValue(headerBlock []byte, key string) (string, bool) {
	lines := bytes.Split(headerBlock, []byte("\r\n"))
	prefix := key + ":"
	for _, line := range lines {
		if bytes.HasPrefix(line, []byte(prefix)) {
			v := bytes.TrimLeft(line[len(prefix):], " \t")
			return string(v), true
		}
	}
	return "", false
}

// sendFunc abstracts the byte sink Send/SendChunked write to, mirroring
// recvFunc on the write side.
type sendFunc func(data []byte, timeoutMs int) error

// SendChunked rewrites resp's Content-Length header to
// "Transfer-Encoding: chunked", sends the header block, then streams the
// body in sendChunkSize frames each "<hex-len>\r\n<bytes>\r\n", terminated
// by "0\r\n\r\n".
func SendChunked(fd int, resp *httpcodec.Response, timeoutMs int) error {
	return sendChunked(func(data []byte, t int) error { return Send(fd, data, t) }, resp, timeoutMs)
}

// SendChunkedTLS is SendChunked over an already-handshaked TLS connection.
func SendChunkedTLS(conn *tls.Conn, resp *httpcodec.Response, timeoutMs int) error {
	return sendChunked(func(data []byte, t int) error { return sendTLS(conn, data, t) }, resp, timeoutMs)
}

func sendChunked(send sendFunc, resp *httpcodec.Response, timeoutMs int) error {
	// HeaderBlock ends in a single CRLF; the blank line that closes the
	// header block is added here, before the first frame.
	if err := send(append(resp.HeaderBlock(), "\r\n"...), timeoutMs); err != nil {
		return err
	}

	body := resp.Body
	for len(body) > 0 {
		n := sendChunkSize
		if n > len(body) {
			n = len(body)
		}
		frame := body[:n]
		header := []byte(strconv.FormatInt(int64(len(frame)), 16) + "\r\n")
		if err := send(header, timeoutMs); err != nil {
			return err
		}
		if err := send(frame, timeoutMs); err != nil {
			return err
		}
		if err := send([]byte("\r\n"), timeoutMs); err != nil {
			return err
		}
		body = body[n:]
	}
	return send([]byte("0\r\n\r\n"), timeoutMs)
}
