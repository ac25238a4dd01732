package socket

import (
	"golang.org/x/sys/unix"

	"github.com/bdobrica/restapi/internal/restapi/apperr"
)

// badEvents are the revents bits that always fail a poll, regardless of
// what the caller asked for.
const badEvents = unix.POLLNVAL | unix.POLLERR | unix.POLLHUP | unix.POLLPRI

// poll is the single helper every blocking socket operation funnels
// through. It loops on EINTR, fails with SocketClosed when any of
// badEvents is set, fails with Timeout when the deadline elapses without a
// matching event, and succeeds as soon as any bit of acceptEvents appears
// in revents. timeoutMs follows the usual convention: -1 blocks forever, 0
// polls once without blocking.
func poll(fd int, wantEvents int16, acceptEvents int16, timeoutMs int) error {
	pfd := []unix.PollFd{{Fd: int32(fd), Events: wantEvents}}
	for {
		n, err := unix.Poll(pfd, timeoutMs)
		if err == unix.EINTR {
			continue
		}
		if err != nil {
			return apperr.Wrap(apperr.KindSocketPoll, "poll", err)
		}
		if n == 0 {
			return apperr.New(apperr.KindSocketTimeout, "poll")
		}
		if pfd[0].Revents&badEvents != 0 {
			return apperr.New(apperr.KindSocketClosed, "poll")
		}
		if pfd[0].Revents&acceptEvents != 0 {
			return nil
		}
		// Spurious wakeup with none of our bits set: treat as EINTR-like
		// and retry once more within the same deadline semantics. Poll
		// with a zero timeout on retry to avoid re-blocking for the full
		// duration a second time when timeoutMs > 0.
		if timeoutMs > 0 {
			timeoutMs = 0
		}
	}
}
