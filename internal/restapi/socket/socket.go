// Package socket implements the non-blocking TCP/TLS transport: bind/listen/
// accept, client connect, poll-based recv/send, chunked HTTP streaming, and
// HTTP request framing with a carry buffer for bytes read past a request
// boundary.
//
// It is built directly on golang.org/x/sys/unix rather than net.Listener
// because the contract here is a syscall-level one: an explicit
// poll(fd, want_events, accept_events, timeout_ms) helper, fcntl-based
// non-blocking mode, SO_REUSEADDR/SO_REUSEPORT, and millisecond timeouts on
// every blocking operation (see SPEC_FULL.md §4.1 for why net.Listener and
// net.Conn deadlines were not used).
package socket

import (
	"encoding/hex"
	"fmt"
	"net"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"sync"
	"syscall"

	"golang.org/x/sys/unix"

	"github.com/bdobrica/restapi/internal/restapi/apperr"
)

// Family selects the IPv4 or IPv6 code path. These are separate branches
// selected at construction, not separate monomorphized types.
type Family int

const (
	FamilyIPv4 Family = iota
	FamilyIPv6
)

const (
	// defaultChunkSize is the default per-syscall read size for Recv.
	defaultChunkSize = 8192
	// sendChunkSize is the size of each HTTP chunked-transfer frame.
	sendChunkSize = 32 * 1024
	// maxZeroByteSends bounds consecutive zero-byte send() results before
	// giving up with a Closed error.
	maxZeroByteSends = 10
)

var sigPipeOnce sync.Once

// ignoreSIGPIPE prevents the Go runtime's default SIGPIPE disposition
// (process termination) from firing when a raw socket write races a peer
// close. Every send additionally passes MSG_NOSIGNAL so this is
// belt-and-braces alongside the process-wide SIGPIPE handler installed
// below.
func ignoreSIGPIPE() {
	sigPipeOnce.Do(func() {
		ch := make(chan os.Signal, 1)
		signal.Notify(ch, syscall.SIGPIPE)
		go func() {
			for range ch {
			}
		}()
	})
}

// Connection describes an accepted peer: its file descriptor, string IP,
// numeric-IP rate-limit bucket key, and port.
type Connection struct {
	Fd        int
	IP        string
	NumericIP string
	Port      uint16
}

// Socket is a non-blocking TCP endpoint, server- or client-side. The TLS
// variant wraps one of these (see tls.go).
type Socket struct {
	fd        int
	family    Family
	ip        string
	port      uint16
	chunkSize int
}

// New creates (but does not bind) a Socket for ip:port. ip == "" or "*"
// means INADDR_ANY / in6addr_any. family is inferred from ip when
// it parses as an address; otherwise FamilyIPv4 is assumed for "*"/"".
func New(ip string, port uint16) (*Socket, error) {
	ignoreSIGPIPE()

	family := FamilyIPv4
	if ip != "" && ip != "*" {
		if parsed := parseIP(ip); parsed != nil && parsed.To4() == nil {
			family = FamilyIPv6
		}
	}

	domain := unix.AF_INET
	if family == FamilyIPv6 {
		domain = unix.AF_INET6
	}

	fd, err := unix.Socket(domain, unix.SOCK_STREAM, 0)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindSocketInit, "socket", err)
	}

	if err := unix.SetNonblock(fd, true); err != nil {
		unix.Close(fd)
		return nil, apperr.Wrap(apperr.KindSocketSetBlocking, "socket", err)
	}
	if err := unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_REUSEADDR, 1); err != nil {
		unix.Close(fd)
		return nil, apperr.Wrap(apperr.KindSocketSetOpt, "socket", err)
	}
	if err := unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_REUSEPORT, 1); err != nil {
		// SO_REUSEPORT is best-effort: some kernels/containers disallow it.
		_ = err
	}

	return &Socket{fd: fd, family: family, ip: ip, port: port, chunkSize: defaultChunkSize}, nil
}

// Fd returns the underlying file descriptor.
func (s *Socket) Fd() int { return s.fd }

// SetChunkSize overrides the per-recv() syscall read size (default 8192).
func (s *Socket) SetChunkSize(n int) {
	if n > 0 {
		s.chunkSize = n
	}
}

// Bind binds the socket to its configured ip:port.
func (s *Socket) Bind() error {
	if s.family == FamilyIPv6 {
		addr := &unix.SockaddrInet6{Port: int(s.port)}
		if s.ip != "" && s.ip != "*" {
			ip := parseIP(s.ip)
			if ip == nil {
				return apperr.New(apperr.KindSocketConvertIP, "bind")
			}
			copy(addr.Addr[:], ip.To16())
		}
		if err := unix.Bind(s.fd, addr); err != nil {
			return apperr.Wrap(apperr.KindSocketBind, "bind", err)
		}
		return nil
	}

	addr := &unix.SockaddrInet4{Port: int(s.port)}
	if s.ip != "" && s.ip != "*" {
		ip := parseIP(s.ip)
		if ip == nil {
			return apperr.New(apperr.KindSocketConvertIP, "bind")
		}
		v4 := ip.To4()
		if v4 == nil {
			return apperr.New(apperr.KindSocketConvertIP, "bind")
		}
		copy(addr.Addr[:], v4)
	}
	if err := unix.Bind(s.fd, addr); err != nil {
		return apperr.Wrap(apperr.KindSocketBind, "bind", err)
	}
	return nil
}

// Listen marks the socket as passive with the given backlog.
func (s *Socket) Listen(backlog int) error {
	if err := unix.Listen(s.fd, backlog); err != nil {
		return apperr.Wrap(apperr.KindSocketListen, "listen", err)
	}
	return nil
}

// Accept polls the listening fd for POLLIN up to timeoutMs (-1 = forever,
// 0 = non-blocking), accepts one connection, and sets the new fd
// non-blocking before returning it.
func (s *Socket) Accept(timeoutMs int) (*Connection, error) {
	if err := poll(s.fd, unix.POLLIN, unix.POLLIN, timeoutMs); err != nil {
		return nil, apperr.Wrap(apperr.KindSocketAccept, "accept", err)
	}

	nfd, sa, err := unix.Accept(s.fd)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindSocketAccept, "accept", err)
	}
	if err := unix.SetNonblock(nfd, true); err != nil {
		unix.Close(nfd)
		return nil, apperr.Wrap(apperr.KindSocketSetBlocking, "accept", err)
	}

	ip, port := sockaddrToIPPort(sa)
	return &Connection{Fd: nfd, IP: ip, NumericIP: numericIP(ip), Port: port}, nil
}

// Close releases the socket's file descriptor.
func (s *Socket) Close() error {
	if err := unix.Close(s.fd); err != nil {
		return apperr.Wrap(apperr.KindSocketClose, "close", err)
	}
	return nil
}

// Close closes fd directly, for use with fds obtained from Accept/Connect.
func Close(fd int) error {
	if err := unix.Close(fd); err != nil {
		return apperr.Wrap(apperr.KindSocketClose, "close", err)
	}
	return nil
}

// Shutdown shuts down both directions of fd without closing it.
func Shutdown(fd int) error {
	if err := unix.Shutdown(fd, unix.SHUT_RDWR); err != nil {
		return apperr.Wrap(apperr.KindSocketShutdown, "shutdown", err)
	}
	return nil
}

// numericIP computes the rate-limit bucket key for ip: the lowercase hex
// encoding of its 16-byte net.IP form. Going through net.IP.To16 rather than
// assuming IPv4's 32-bit packed form means IPv4 and IPv6 addresses are
// hashed the same way, so an IPv4-mapped IPv6 address (::ffff:10.0.0.1) and
// its plain IPv4 form (10.0.0.1) land in the same bucket. An address that
// fails to parse falls back to the raw string so callers always get a
// non-empty key.
func numericIP(ip string) string {
	parsed := net.ParseIP(ip)
	if parsed == nil {
		return ip
	}
	return hex.EncodeToString(parsed.To16())
}

func parseIP(s string) net.IP {
	return net.ParseIP(s)
}

func sockaddrToIPPort(sa unix.Sockaddr) (string, uint16) {
	switch a := sa.(type) {
	case *unix.SockaddrInet4:
		return fmt.Sprintf("%d.%d.%d.%d", a.Addr[0], a.Addr[1], a.Addr[2], a.Addr[3]), uint16(a.Port)
	case *unix.SockaddrInet6:
		return formatIPv6(a.Addr), uint16(a.Port)
	default:
		return "", 0
	}
}

func formatIPv6(addr [16]byte) string {
	parts := make([]string, 8)
	for i := 0; i < 8; i++ {
		parts[i] = strconv.FormatUint(uint64(addr[2*i])<<8|uint64(addr[2*i+1]), 16)
	}
	return strings.Join(parts, ":")
}
