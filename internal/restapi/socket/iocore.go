package socket

import (
	"fmt"
	"net"

	"golang.org/x/sys/unix"

	"github.com/bdobrica/restapi/internal/restapi/apperr"
)

// Connect resolves hostOrIP (via DNS when it isn't a literal address) and
// connects to it on port, trying each returned address in order. On
// EINPROGRESS it polls for POLLOUT up to timeoutMs; any other failure, or a
// timeout, fails with a Connect error.
func Connect(hostOrIP string, port uint16, timeoutMs int) (*Connection, error) {
	ignoreSIGPIPE()

	addrs := []string{hostOrIP}
	if net.ParseIP(hostOrIP) == nil {
		resolved, err := net.LookupHost(hostOrIP)
		if err != nil {
			return nil, apperr.Wrap(apperr.KindSocketGetAddr, "connect", err)
		}
		addrs = resolved
	}

	var lastErr error
	for _, addr := range addrs {
		conn, err := connectOne(addr, port, timeoutMs)
		if err == nil {
			return conn, nil
		}
		lastErr = err
	}
	if lastErr == nil {
		lastErr = apperr.New(apperr.KindSocketConnect, "connect")
	}
	return nil, lastErr
}

func connectOne(ip string, port uint16, timeoutMs int) (*Connection, error) {
	parsed := net.ParseIP(ip)
	if parsed == nil {
		return nil, apperr.New(apperr.KindSocketConvertIP, "connect")
	}

	domain := unix.AF_INET
	var sa unix.Sockaddr
	if parsed.To4() == nil {
		domain = unix.AF_INET6
		addr := &unix.SockaddrInet6{Port: int(port)}
		copy(addr.Addr[:], parsed.To16())
		sa = addr
	} else {
		addr := &unix.SockaddrInet4{Port: int(port)}
		copy(addr.Addr[:], parsed.To4())
		sa = addr
	}

	fd, err := unix.Socket(domain, unix.SOCK_STREAM, 0)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindSocketInit, "connect", err)
	}
	if err := unix.SetNonblock(fd, true); err != nil {
		unix.Close(fd)
		return nil, apperr.Wrap(apperr.KindSocketSetBlocking, "connect", err)
	}

	err = unix.Connect(fd, sa)
	if err != nil && err != unix.EINPROGRESS {
		unix.Close(fd)
		return nil, apperr.Wrap(apperr.KindSocketConnect, "connect", err)
	}
	if err == unix.EINPROGRESS {
		if perr := poll(fd, unix.POLLOUT, unix.POLLOUT, timeoutMs); perr != nil {
			unix.Close(fd)
			return nil, apperr.Wrap(apperr.KindSocketConnect, "connect", perr)
		}
		// Confirm the connection actually succeeded (POLLOUT fires on
		// failure too): check SO_ERROR.
		soErr, serr := unix.GetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_ERROR)
		if serr != nil || soErr != 0 {
			unix.Close(fd)
			return nil, apperr.New(apperr.KindSocketConnect, "connect")
		}
	}

	return &Connection{Fd: fd, IP: ip, NumericIP: numericIP(ip), Port: port}, nil
}

// Recv polls fd for POLLIN, then drains it via repeated recv() calls into a
// growing buffer of chunkSize-sized reads, stopping when a read returns
// <= 0. A poll success followed by a zero-byte read is EOF and fails with
// SocketClosed rather than returning an empty slice.
func Recv(fd int, timeoutMs int, chunkSize int) ([]byte, error) {
	if chunkSize <= 0 {
		chunkSize = defaultChunkSize
	}
	if err := poll(fd, unix.POLLIN, unix.POLLIN, timeoutMs); err != nil {
		return nil, apperr.Wrap(apperr.KindSocketPoll, "recv", err)
	}

	var out []byte
	buf := make([]byte, chunkSize)
	for {
		n, err := unix.Read(fd, buf)
		if n > 0 {
			out = append(out, buf[:n]...)
		}
		if err == unix.EINTR {
			continue
		}
		if err == unix.EAGAIN {
			break
		}
		if err != nil {
			return out, apperr.Wrap(apperr.KindSocketClosed, "recv", err)
		}
		if n <= 0 {
			if len(out) == 0 {
				return nil, apperr.New(apperr.KindSocketClosed, "recv")
			}
			break
		}
		if n < chunkSize {
			break
		}
	}
	return out, nil
}

// Send loops until all of data has been written. Each iteration polls
// POLLOUT then send()s the remaining slice with MSG_NOSIGNAL (so a broken
// pipe surfaces as EPIPE, mapped to BrokenPipe, rather than a process
// signal). EAGAIN retries; maxZeroByteSends consecutive zero-byte sends
// fail with Closed.
func Send(fd int, data []byte, timeoutMs int) error {
	zeroRun := 0
	for len(data) > 0 {
		if err := poll(fd, unix.POLLOUT, unix.POLLOUT, timeoutMs); err != nil {
			return apperr.Wrap(apperr.KindSocketSend, "send", err)
		}
		n, err := unix.SendmsgN(fd, data, nil, nil, unix.MSG_NOSIGNAL)
		if err == unix.EAGAIN || err == unix.EINTR {
			continue
		}
		if err == unix.EPIPE {
			return apperr.Wrap(apperr.KindSocketBrokenPipe, "send", err)
		}
		if err != nil {
			return apperr.Wrap(apperr.KindSocketSend, "send", err)
		}
		if n == 0 {
			zeroRun++
			if zeroRun >= maxZeroByteSends {
				return apperr.New(apperr.KindSocketClosed, "send")
			}
			continue
		}
		zeroRun = 0
		data = data[n:]
	}
	return nil
}

// IsConnected probes fd non-destructively via a zero-timeout MSG_PEEK recv:
// any readable-but-empty result or a poll error means the peer is gone.
func IsConnected(fd int) bool {
	return !IsBroken(fd, 0)
}

// IsBroken probes fd for POLLERR|POLLHUP within timeoutMs, and additionally
// peeks one byte to detect a graceful close the peer has already sent.
func IsBroken(fd int, timeoutMs int) bool {
	pfd := []unix.PollFd{{Fd: int32(fd), Events: unix.POLLIN}}
	n, err := unix.Poll(pfd, timeoutMs)
	if err != nil {
		return true
	}
	if n == 0 {
		return false
	}
	if pfd[0].Revents&(unix.POLLERR|unix.POLLHUP) != 0 {
		return true
	}
	if pfd[0].Revents&unix.POLLIN != 0 {
		buf := make([]byte, 1)
		nr, _, err := unix.Recvfrom(fd, buf, unix.MSG_PEEK)
		if nr == 0 && err == nil {
			return true
		}
	}
	return false
}

// errnoString formats err with %v, giving a plain string instead of the
// wrapped apperr.Error. Nothing in this package calls it.
func errnoString(err error) string {
	return fmt.Sprintf("%v", err)
}
