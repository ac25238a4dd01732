// Package server implements the accept loop and per-connection worker:
// bind/listen, spawn a worker per accepted connection, parse the request,
// authenticate, dispatch, and respond. The initialize/start/stop lifecycle
// and the listen-then-serve-in-background shape are composed rather than
// inherited from a thread base class.
package server

import (
	"bytes"
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"

	"github.com/bdobrica/restapi/common/redact"
	"github.com/bdobrica/restapi/common/trace"
	"github.com/bdobrica/restapi/internal/restapi/auditlog"
	"github.com/bdobrica/restapi/internal/restapi/compression"
	"github.com/bdobrica/restapi/internal/restapi/credentials"
	"github.com/bdobrica/restapi/internal/restapi/endpoint"
	"github.com/bdobrica/restapi/internal/restapi/httpcodec"
	"github.com/bdobrica/restapi/internal/restapi/socket"
)

const (
	statusStopped int32 = 0
	statusRunning int32 = 1
)

// Config holds the server's construction-time parameters, minus those
// derived at Initialize time.
type Config struct {
	Listen        string // "ip:port"; ip == "" or "*" means any-address
	TLS           *socket.TLSConfig
	DatabasePath  string
	RecvTimeoutMS int // per-request recv timeout; defaults to 300_000
	AcceptBacklog int
	AuditDBPath   string
}

// Server owns the listening socket, endpoint table, credential store, log
// files, and lifecycle status.
type Server struct {
	cfg   Config
	table *endpoint.Table
	store *credentials.Store
	audit *auditlog.Sink

	listener *socket.Socket
	status   atomic.Int32

	logFile *os.File
	errFile *os.File
	logMu   sync.Mutex

	wg sync.WaitGroup
}

// New constructs a Server. Call Initialize then Start to bring it up.
func New(cfg Config, table *endpoint.Table, store *credentials.Store) *Server {
	if cfg.AcceptBacklog <= 0 {
		cfg.AcceptBacklog = 128
	}
	if cfg.RecvTimeoutMS <= 0 {
		cfg.RecvTimeoutMS = 300_000
	}
	return &Server{cfg: cfg, table: table, store: store}
}

// Initialize validates configuration, creates the on-disk layout, opens the
// log/error files, and optionally opens the audit sink. It does not bind or
// listen; that happens in Start.
func (s *Server) Initialize() error {
	if s.cfg.DatabasePath == "" {
		return fmt.Errorf("server: database_path is required")
	}

	logDir := filepath.Join(s.cfg.DatabasePath, "logs")
	if err := os.MkdirAll(logDir, 0o700); err != nil {
		return fmt.Errorf("server: create log dir: %w", err)
	}

	logFile, err := os.OpenFile(filepath.Join(logDir, "logs"), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o600)
	if err != nil {
		return fmt.Errorf("server: open logs: %w", err)
	}
	s.logFile = logFile

	errFile, err := os.OpenFile(filepath.Join(logDir, "errors"), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o600)
	if err != nil {
		logFile.Close()
		return fmt.Errorf("server: open errors: %w", err)
	}
	s.errFile = errFile

	if s.cfg.AuditDBPath != "" {
		sink, err := auditlog.Open(s.cfg.AuditDBPath)
		if err != nil {
			return fmt.Errorf("server: open audit sink: %w", err)
		}
		s.audit = sink
	}

	return nil
}

// Start binds and listens, flips status to running, and spawns the accept
// loop on a new goroutine. It returns once the listening socket is
// established so the caller knows the port is open.
func (s *Server) Start() error {
	ip, port, err := splitListen(s.cfg.Listen)
	if err != nil {
		return fmt.Errorf("server: %w", err)
	}

	sock, err := socket.New(ip, port)
	if err != nil {
		return fmt.Errorf("server: %w", err)
	}
	if err := sock.Bind(); err != nil {
		return fmt.Errorf("server: %w", err)
	}
	if err := sock.Listen(s.cfg.AcceptBacklog); err != nil {
		return fmt.Errorf("server: %w", err)
	}
	s.listener = sock

	s.status.Store(statusRunning)
	go s.run()
	return nil
}

// Stop flips status to stopped; the accept loop exits on its next
// iteration. Outstanding workers continue until their current request
// completes.
func (s *Server) Stop() {
	s.status.Store(statusStopped)
}

// Wait blocks until every spawned worker goroutine has returned. Intended
// for graceful-shutdown callers after Stop().
func (s *Server) Wait() {
	s.wg.Wait()
	if s.audit != nil {
		s.audit.Close()
	}
	if s.logFile != nil {
		s.logFile.Close()
	}
	if s.errFile != nil {
		s.errFile.Close()
	}
}

// run is the accept loop: while running, accept with no
// timeout, spawn a detached worker per connection, and log (not fail) on
// accept errors.
func (s *Server) run() {
	for s.status.Load() == statusRunning {
		conn, err := s.listener.Accept(-1)
		if err != nil {
			s.logError(fmt.Sprintf("Accept error: %v", err))
			continue
		}

		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.handleConnection(conn)
		}()
	}
}

// handleConnection implements the strict per-connection order: optionally
// layer TLS over the accepted fd, receive full request -> dispatch -> send
// full response -> close. When s.cfg.TLS is set every connection is
// TLS-wrapped before a single byte is parsed as HTTP; the handshake happens
// eagerly inside socket.WrapServerTLS, so a failed handshake never reaches
// the dispatcher.
func (s *Server) handleConnection(conn *socket.Connection) {
	connID := uuid.New().String()
	ctx := trace.WithTraceID(context.Background(), connID)
	start := time.Now()

	defer socket.Close(conn.Fd)

	var tlsConn *tls.Conn
	if s.cfg.TLS != nil {
		wrapped, err := socket.WrapServerTLS(conn.Fd, *s.cfg.TLS)
		if err != nil {
			s.logConnError(connID, conn, err)
			return
		}
		defer wrapped.Close()
		tlsConn = wrapped
	}

	var carry []byte
	var req *httpcodec.Request
	var err error
	if tlsConn != nil {
		req, err = socket.RecvHTTPTLS(tlsConn, s.cfg.RecvTimeoutMS, 0, &carry)
	} else {
		req, err = socket.RecvHTTP(conn.Fd, s.cfg.RecvTimeoutMS, 0, &carry)
	}
	if err != nil {
		s.logConnError(connID, conn, err)
		return
	}

	decoded, derr := compression.MaybeDecompress(req.Body)
	if derr != nil {
		s.sendAndLog(ctx, connID, conn, tlsConn, req, endpoint.InvalidBody(), start, derr)
		return
	}
	req.Body = decoded

	resp := s.table.Dispatch(ctx, req, conn.NumericIP)
	s.sendAndLog(ctx, connID, conn, tlsConn, req, resp, start, nil)
}

func (s *Server) sendAndLog(ctx context.Context, connID string, conn *socket.Connection, tlsConn *tls.Conn, req *httpcodec.Request, resp *httpcodec.Response, start time.Time, handlerErr error) {
	built := resp.Build()
	var sendErr error
	if tlsConn != nil {
		sendErr = socket.SendTLS(tlsConn, built, s.cfg.RecvTimeoutMS)
	} else {
		sendErr = socket.Send(conn.Fd, built, s.cfg.RecvTimeoutMS)
	}

	duration := time.Since(start)
	line := fmt.Sprintf("%s %s:%d %s %s -> %d (%s in %s)",
		time.Now().UTC().Format(time.RFC3339), conn.IP, conn.Port,
		req.Method, req.PathOnly(), int(resp.Status),
		humanize.Bytes(uint64(len(built))), duration)

	if handlerErr != nil || sendErr != nil {
		s.logError(redactCredentials(line, req))
	} else {
		s.logAccess(line)
	}

	if s.audit != nil {
		errMsg := ""
		if handlerErr != nil {
			errMsg = handlerErr.Error()
		} else if sendErr != nil {
			errMsg = sendErr.Error()
		}
		rec := auditlog.Record{
			ConnectionID: connID,
			PeerIP:       conn.IP,
			PeerPort:     conn.Port,
			Method:       req.Method.String(),
			Path:         req.PathOnly(),
			Status:       int(resp.Status),
			DurationMS:   duration.Milliseconds(),
			BytesIn:      len(req.Body),
			BytesOut:     len(built),
			Timestamp:    start,
			Error:        errMsg,
		}
		if err := s.audit.Insert(ctx, rec); err != nil {
			s.logError(fmt.Sprintf("audit insert failed: %v", err))
		}
	}
}

func (s *Server) logConnError(connID string, conn *socket.Connection, err error) {
	s.logError(fmt.Sprintf("%s %s:%d error: %v", time.Now().UTC().Format(time.RFC3339), conn.IP, conn.Port, err))
}

// redactCredentials strips any auth header values carried by req out of
// line before it reaches the error log, in case a wrapped error ever
// echoes the raw request.
func redactCredentials(line string, req *httpcodec.Request) string {
	var sensitive []string
	for _, h := range []string{"Authorization", "API-Key", "API-Signature"} {
		if v, ok := req.Headers.Get(h); ok && v != "" {
			sensitive = append(sensitive, v)
		}
	}
	return redact.String(line, sensitive...)
}

func (s *Server) logAccess(line string) {
	s.logMu.Lock()
	defer s.logMu.Unlock()
	if s.logFile == nil {
		return
	}
	io.WriteString(s.logFile, line+"\n")
	s.logFile.Sync()
	slog.Info("request handled", "line", line)
}

func (s *Server) logError(line string) {
	s.logMu.Lock()
	defer s.logMu.Unlock()
	if s.errFile != nil {
		io.WriteString(s.errFile, line+"\n")
		s.errFile.Sync()
	}
	slog.Error(line)
}

// splitListen parses "ip:port" into its components, treating "" or "*" as
// any-address.
func splitListen(listen string) (string, uint16, error) {
	idx := bytes.LastIndexByte([]byte(listen), ':')
	if idx < 0 {
		return "", 0, fmt.Errorf("invalid listen address %q", listen)
	}
	ip := listen[:idx]
	portStr := listen[idx+1:]
	var port uint16
	if _, err := fmt.Sscanf(portStr, "%d", &port); err != nil {
		return "", 0, fmt.Errorf("invalid port in %q: %w", listen, err)
	}
	return ip, port, nil
}
