package server_test

import (
	"bytes"
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/json"
	"encoding/pem"
	"math/big"
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/bdobrica/restapi/internal/restapi/credentials"
	"github.com/bdobrica/restapi/internal/restapi/endpoint"
	"github.com/bdobrica/restapi/internal/restapi/httpcodec"
	"github.com/bdobrica/restapi/internal/restapi/ratelimit"
	"github.com/bdobrica/restapi/internal/restapi/server"
	"github.com/bdobrica/restapi/internal/restapi/socket"
)

func healthHandler(ctx context.Context, username *string, params json.RawMessage, headers *httpcodec.Headers) *httpcodec.Response {
	return endpoint.Success(map[string]string{"status": "ok"})
}

func newTestServer(t *testing.T, listen string) *server.Server {
	t.Helper()
	store, err := credentials.Open(t.TempDir())
	if err != nil {
		t.Fatalf("credentials.Open: %v", err)
	}

	table := endpoint.NewTable(store)
	table.Register(endpoint.New(httpcodec.ContentTypeJSON, httpcodec.MethodGet, "/health", endpoint.AuthNone, ratelimit.Limit{Max: 0}, healthHandler))

	srv := server.New(server.Config{
		Listen:        listen,
		DatabasePath:  filepath.Join(t.TempDir(), "db"),
		RecvTimeoutMS: 2000,
	}, table, store)

	if err := srv.Initialize(); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	return srv
}

func TestServer_StartAcceptsAndRespondsOverHTTP(t *testing.T) {
	srv := newTestServer(t, "127.0.0.1:18099")
	if err := srv.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer func() {
		srv.Stop()
		srv.Wait()
	}()

	// Give the accept loop a moment to actually be polling.
	time.Sleep(50 * time.Millisecond)

	conn, err := net.DialTimeout("tcp", "127.0.0.1:18099", 2*time.Second)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	if _, err := conn.Write([]byte("GET /health HTTP/1.1\r\nHost: localhost\r\nContent-Type: application/json\r\n\r\n")); err != nil {
		t.Fatalf("write request: %v", err)
	}

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	buf := make([]byte, 4096)
	n, err := conn.Read(buf)
	if err != nil {
		t.Fatalf("read response: %v", err)
	}

	got := buf[:n]
	if !bytes.Contains(got, []byte("200")) {
		t.Fatalf("expected a 200 status line, got %q", got)
	}
	if !bytes.Contains(got, []byte(`"status":"ok"`)) {
		t.Fatalf("expected the health body, got %q", got)
	}
}

func TestServer_UnmatchedPathReturns404(t *testing.T) {
	srv := newTestServer(t, "127.0.0.1:18101")
	if err := srv.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer func() {
		srv.Stop()
		srv.Wait()
	}()

	time.Sleep(50 * time.Millisecond)

	conn, err := net.DialTimeout("tcp", "127.0.0.1:18101", 2*time.Second)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	if _, err := conn.Write([]byte("GET /nope HTTP/1.1\r\nHost: localhost\r\n\r\n")); err != nil {
		t.Fatalf("write request: %v", err)
	}

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	buf := make([]byte, 4096)
	n, err := conn.Read(buf)
	if err != nil {
		t.Fatalf("read response: %v", err)
	}
	if !bytes.Contains(buf[:n], []byte("404")) {
		t.Fatalf("expected a 404 status line, got %q", buf[:n])
	}
}

// generateSelfSignedCert writes a throwaway ECDSA certificate/key pair valid
// for 127.0.0.1 into t.TempDir() and returns their paths.
func generateSelfSignedCert(t *testing.T) (certPath, keyPath string) {
	t.Helper()

	priv, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	template := &x509.Certificate{
		SerialNumber: big.NewInt(1),
		Subject:      pkix.Name{CommonName: "127.0.0.1"},
		NotBefore:    time.Now().Add(-time.Hour),
		NotAfter:     time.Now().Add(time.Hour),
		KeyUsage:     x509.KeyUsageDigitalSignature | x509.KeyUsageCertSign,
		ExtKeyUsage:  []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
		IPAddresses:  []net.IP{net.ParseIP("127.0.0.1")},
		IsCA:         true,
	}
	der, err := x509.CreateCertificate(rand.Reader, template, template, &priv.PublicKey, priv)
	if err != nil {
		t.Fatalf("create certificate: %v", err)
	}
	keyDER, err := x509.MarshalECPrivateKey(priv)
	if err != nil {
		t.Fatalf("marshal key: %v", err)
	}

	dir := t.TempDir()
	certPath = filepath.Join(dir, "cert.pem")
	keyPath = filepath.Join(dir, "key.pem")
	if err := os.WriteFile(certPath, pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: der}), 0o600); err != nil {
		t.Fatalf("write cert: %v", err)
	}
	if err := os.WriteFile(keyPath, pem.EncodeToMemory(&pem.Block{Type: "EC PRIVATE KEY", Bytes: keyDER}), 0o600); err != nil {
		t.Fatalf("write key: %v", err)
	}
	return certPath, keyPath
}

func TestServer_TLSConfigAcceptsAndRespondsOverHTTPS(t *testing.T) {
	certPath, keyPath := generateSelfSignedCert(t)

	store, err := credentials.Open(t.TempDir())
	if err != nil {
		t.Fatalf("credentials.Open: %v", err)
	}
	table := endpoint.NewTable(store)
	table.Register(endpoint.New(httpcodec.ContentTypeJSON, httpcodec.MethodGet, "/health", endpoint.AuthNone, ratelimit.Limit{Max: 0}, healthHandler))

	srv := server.New(server.Config{
		Listen:       "127.0.0.1:18103",
		TLS:          &socket.TLSConfig{CertFile: certPath, KeyFile: keyPath, MinVersion: tls.VersionTLS12},
		DatabasePath: filepath.Join(t.TempDir(), "db"),
	}, table, store)
	if err := srv.Initialize(); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	if err := srv.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer func() {
		srv.Stop()
		srv.Wait()
	}()

	time.Sleep(50 * time.Millisecond)

	rootPool := x509.NewCertPool()
	certPEM, err := os.ReadFile(certPath)
	if err != nil {
		t.Fatalf("read cert: %v", err)
	}
	if !rootPool.AppendCertsFromPEM(certPEM) {
		t.Fatal("failed to add self-signed cert to trust pool")
	}

	conn, err := tls.DialWithDialer(&net.Dialer{Timeout: 2 * time.Second}, "tcp", "127.0.0.1:18103", &tls.Config{
		ServerName: "127.0.0.1",
		RootCAs:    rootPool,
	})
	if err != nil {
		t.Fatalf("tls dial: %v", err)
	}
	defer conn.Close()

	if _, err := conn.Write([]byte("GET /health HTTP/1.1\r\nHost: 127.0.0.1\r\nContent-Type: application/json\r\n\r\n")); err != nil {
		t.Fatalf("write request: %v", err)
	}

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	buf := make([]byte, 4096)
	n, err := conn.Read(buf)
	if err != nil {
		t.Fatalf("read response: %v", err)
	}
	got := buf[:n]
	if !bytes.Contains(got, []byte("200")) {
		t.Fatalf("expected a 200 status line, got %q", got)
	}
	if !bytes.Contains(got, []byte(`"status":"ok"`)) {
		t.Fatalf("expected the health body, got %q", got)
	}
}

func TestServer_StopEndsAcceptLoopPromptly(t *testing.T) {
	srv := newTestServer(t, "127.0.0.1:18102")
	if err := srv.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}

	done := make(chan struct{})
	go func() {
		srv.Stop()
		srv.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Stop/Wait did not return promptly after Stop")
	}
}
