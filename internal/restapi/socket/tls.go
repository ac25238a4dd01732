package socket

import (
	"crypto/tls"
	"io"
	"net"
	"time"

	"golang.org/x/sys/unix"

	"github.com/bdobrica/restapi/internal/restapi/apperr"
)

// TLSConfig carries the construction-time TLS parameters: certificate/key
// file paths, an optional key passphrase, the minimum negotiated version,
// and (client-side only) an SNI server name.
type TLSConfig struct {
	CertFile      string
	KeyFile       string
	KeyPassphrase string // reserved: encrypted PEM keys are not supported by crypto/tls directly
	MinVersion    uint16 // tls.VersionTLS10 .. tls.VersionTLS13; zero defaults to TLS 1.3
	ServerName    string // client-side SNI
}

func (c TLSConfig) minVersion() uint16 {
	if c.MinVersion == 0 {
		return tls.VersionTLS13
	}
	return c.MinVersion
}

// fdConn adapts a raw non-blocking fd to net.Conn so crypto/tls (and any
// other net.Conn consumer) can layer over the same poll-based transport the
// plain socket uses ("TLS variant wraps the plain socket").
type fdConn struct {
	fd           int
	readDeadline time.Time
	writeDeadline time.Time
	local, remote net.Addr
}

func newFdConn(fd int) *fdConn {
	return &fdConn{fd: fd}
}

func (c *fdConn) Read(b []byte) (int, error) {
	timeout := deadlineToMs(c.readDeadline)
	if err := poll(c.fd, unix.POLLIN, unix.POLLIN, timeout); err != nil {
		return 0, mapIOError(err)
	}
	n, err := unix.Read(c.fd, b)
	if err == unix.EAGAIN || err == unix.EINTR {
		return 0, nil
	}
	if err != nil {
		return n, mapIOError(err)
	}
	if n == 0 {
		return 0, apperr.New(apperr.KindSocketClosed, "tls_read")
	}
	return n, nil
}

func (c *fdConn) Write(b []byte) (int, error) {
	timeout := deadlineToMs(c.writeDeadline)
	total := 0
	for total < len(b) {
		if err := poll(c.fd, unix.POLLOUT, unix.POLLOUT, timeout); err != nil {
			return total, mapIOError(err)
		}
		n, err := unix.SendmsgN(c.fd, b[total:], nil, nil, unix.MSG_NOSIGNAL)
		if err == unix.EAGAIN || err == unix.EINTR {
			continue
		}
		if err == unix.EPIPE {
			return total, apperr.Wrap(apperr.KindSocketBrokenPipe, "tls_write", err)
		}
		if err != nil {
			return total, mapIOError(err)
		}
		total += n
	}
	return total, nil
}

func (c *fdConn) Close() error                       { return Close(c.fd) }
func (c *fdConn) LocalAddr() net.Addr                { return c.local }
func (c *fdConn) RemoteAddr() net.Addr               { return c.remote }
func (c *fdConn) SetDeadline(t time.Time) error      { c.readDeadline, c.writeDeadline = t, t; return nil }
func (c *fdConn) SetReadDeadline(t time.Time) error  { c.readDeadline = t; return nil }
func (c *fdConn) SetWriteDeadline(t time.Time) error { c.writeDeadline = t; return nil }

func deadlineToMs(t time.Time) int {
	if t.IsZero() {
		return -1
	}
	remaining := time.Until(t)
	if remaining <= 0 {
		return 0
	}
	return int(remaining.Milliseconds())
}

func mapIOError(err error) error {
	if _, ok := err.(*apperr.Error); ok {
		return err
	}
	return apperr.Wrap(apperr.KindSocketSend, "io", err)
}

// recvTLS mirrors Recv's contract (block up to timeoutMs, return whatever
// arrived, fail with SocketClosed on EOF) over an already-handshaked TLS
// connection.
func recvTLS(conn *tls.Conn, timeoutMs int, chunkSize int) ([]byte, error) {
	if chunkSize <= 0 {
		chunkSize = defaultChunkSize
	}
	if timeoutMs >= 0 {
		conn.SetReadDeadline(time.Now().Add(time.Duration(timeoutMs) * time.Millisecond))
	} else {
		conn.SetReadDeadline(time.Time{})
	}

	var out []byte
	buf := make([]byte, chunkSize)
	for {
		n, err := conn.Read(buf)
		if n > 0 {
			out = append(out, buf[:n]...)
		}
		if err != nil {
			if err == io.EOF {
				if len(out) == 0 {
					return nil, apperr.New(apperr.KindSocketClosed, "recv_tls")
				}
				break
			}
			if ne, ok := err.(net.Error); ok && ne.Timeout() {
				if len(out) == 0 {
					return nil, apperr.Wrap(apperr.KindSocketPoll, "recv_tls", err)
				}
				break
			}
			if ae, ok := err.(*apperr.Error); ok {
				return out, ae
			}
			return out, apperr.Wrap(apperr.KindSocketClosed, "recv_tls", err)
		}
		if n < chunkSize {
			break
		}
	}
	return out, nil
}

// sendTLS mirrors Send's contract (loop until all of data is written) over
// an already-handshaked TLS connection.
func sendTLS(conn *tls.Conn, data []byte, timeoutMs int) error {
	if timeoutMs >= 0 {
		conn.SetWriteDeadline(time.Now().Add(time.Duration(timeoutMs) * time.Millisecond))
	} else {
		conn.SetWriteDeadline(time.Time{})
	}
	for len(data) > 0 {
		n, err := conn.Write(data)
		if err != nil {
			if ae, ok := err.(*apperr.Error); ok {
				return ae
			}
			return apperr.Wrap(apperr.KindSocketSend, "send_tls", err)
		}
		data = data[n:]
	}
	return nil
}

// SendTLS sends the full contents of data over conn, looping until
// complete. Used for the single-shot (non-chunked) response path when the
// connection is TLS.
func SendTLS(conn *tls.Conn, data []byte, timeoutMs int) error {
	return sendTLS(conn, data, timeoutMs)
}

// WrapServerTLS wraps an accepted plain fd in a TLS server connection using
// cfg's certificate/key. The handshake is performed eagerly so callers see
// a TLS failure immediately rather than on first Recv.
func WrapServerTLS(fd int, cfg TLSConfig) (*tls.Conn, error) {
	cert, err := tls.LoadX509KeyPair(cfg.CertFile, cfg.KeyFile)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindSocketLoadCert, "tls_server", err)
	}
	tlsCfg := &tls.Config{
		Certificates: []tls.Certificate{cert},
		MinVersion:   cfg.minVersion(),
	}
	conn := tls.Server(newFdConn(fd), tlsCfg)
	if err := conn.Handshake(); err != nil {
		return nil, apperr.Wrap(apperr.KindSocketTLSInit, "tls_server", err)
	}
	return conn, nil
}

// WrapClientTLS wraps a connected plain fd in a TLS client connection,
// setting SNI from cfg.ServerName when configured.
func WrapClientTLS(fd int, cfg TLSConfig) (*tls.Conn, error) {
	tlsCfg := &tls.Config{
		MinVersion: cfg.minVersion(),
		ServerName: cfg.ServerName,
	}
	conn := tls.Client(newFdConn(fd), tlsCfg)
	if err := conn.Handshake(); err != nil {
		return nil, apperr.Wrap(apperr.KindSocketTLSInit, "tls_client", err)
	}
	return conn, nil
}
