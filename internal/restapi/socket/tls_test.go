package socket_test

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"math/big"
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/bdobrica/restapi/internal/restapi/httpcodec"
	"github.com/bdobrica/restapi/internal/restapi/socket"
)

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

// fdConn is a minimal net.Conn over a raw connected fd, used only to drive
// the reference ("known good") client side of the handshake in this test;
// the production server path under test is socket.WrapServerTLS.
type fdConn struct {
	fd int
}

func (c *fdConn) Read(b []byte) (int, error) {
	got, err := socket.Recv(c.fd, 2000, 0)
	n := copy(b, got)
	return n, err
}
func (c *fdConn) Write(b []byte) (int, error) {
	if err := socket.Send(c.fd, b, 2000); err != nil {
		return 0, err
	}
	return len(b), nil
}
func (c *fdConn) Close() error                       { return nil }
func (c *fdConn) LocalAddr() net.Addr                { return nil }
func (c *fdConn) RemoteAddr() net.Addr               { return nil }
func (c *fdConn) SetDeadline(t time.Time) error      { return nil }
func (c *fdConn) SetReadDeadline(t time.Time) error  { return nil }
func (c *fdConn) SetWriteDeadline(t time.Time) error { return nil }

// TestServerTLS_HandshakesAndRoundTripsHTTP exercises socket.WrapServerTLS,
// socket.RecvHTTPTLS and socket.SendTLS end to end: a real TCP pair, a TLS
// handshake using a throwaway self-signed certificate, an HTTP/1.1 request
// parsed off the TLS stream, and a response sent back over it.
func TestServerTLS_HandshakesAndRoundTripsHTTP(t *testing.T) {
	const port = 18096
	certPath, keyPath := generateSelfSignedCert(t)
	serverCfg := socket.TLSConfig{CertFile: certPath, KeyFile: keyPath, MinVersion: tls.VersionTLS12}

	listener := listenOn(t, port)

	accepted := make(chan *socket.Connection, 1)
	go func() {
		conn, _ := listener.Accept(5000)
		accepted <- conn
	}()

	client, err := socket.Connect("127.0.0.1", port, 2000)
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer socket.Close(client.Fd)

	server := <-accepted
	defer socket.Close(server.Fd)

	serverTLS := make(chan *tls.Conn, 1)
	serverErr := make(chan error, 1)
	go func() {
		conn, err := socket.WrapServerTLS(server.Fd, serverCfg)
		serverTLS <- conn
		serverErr <- err
	}()

	rootPool := x509.NewCertPool()
	certPEM, err := os.ReadFile(certPath)
	if err != nil {
		t.Fatalf("read cert: %v", err)
	}
	if !rootPool.AppendCertsFromPEM(certPEM) {
		t.Fatal("failed to add self-signed cert to trust pool")
	}

	clientConn := tls.Client(&fdConn{fd: client.Fd}, &tls.Config{
		ServerName: "127.0.0.1",
		RootCAs:    rootPool,
		MinVersion: tls.VersionTLS12,
	})
	if err := clientConn.Handshake(); err != nil {
		t.Fatalf("client handshake: %v", err)
	}
	defer clientConn.Close()

	if err := <-serverErr; err != nil {
		t.Fatalf("WrapServerTLS: %v", err)
	}
	serverConn := <-serverTLS
	defer serverConn.Close()

	request := "GET /health HTTP/1.1\r\nHost: 127.0.0.1\r\nConnection: close\r\n\r\n"
	if _, err := clientConn.Write([]byte(request)); err != nil {
		t.Fatalf("write request: %v", err)
	}

	var carry []byte
	req, err := socket.RecvHTTPTLS(serverConn, 2000, 0, &carry)
	if err != nil {
		t.Fatalf("RecvHTTPTLS: %v", err)
	}
	if req.Method != httpcodec.MethodGet || req.PathOnly() != "/health" {
		t.Fatalf("unexpected parsed request: %+v", req)
	}

	resp := httpcodec.NewResponse(httpcodec.StatusOK, []byte(`{"status":"ok"}`))
	if err := socket.SendTLS(serverConn, resp.Build(), 2000); err != nil {
		t.Fatalf("SendTLS: %v", err)
	}

	buf := make([]byte, 256)
	n, err := clientConn.Read(buf)
	if err != nil {
		t.Fatalf("client read: %v", err)
	}
	if got := string(buf[:n]); len(got) < 12 || got[:12] != "HTTP/1.1 200" {
		t.Fatalf("expected a 200 status line in response, got %q", got)
	}
}
