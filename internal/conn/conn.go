// Package conn implements the store's transport: a listening AF_UNIX
// socket, per-client accepted connections, framed read/write helpers,
// and SCM_RIGHTS file-descriptor passing (spec component F and the
// fd-passing half of the wire protocol, spec.md §6). Grounded on the
// teacher's direct unix.* syscall usage for device/queue setup in
// internal/queue/runner.go, carried over to socket syscalls instead of
// mmap/ioctl ones.
package conn

import (
	"encoding/binary"
	"fmt"

	"golang.org/x/sys/unix"

	"github.com/ehrlich-b/shmstore/internal/constants"
)

// Listener wraps a bound, listening AF_UNIX stream socket.
type Listener struct {
	fd   int
	path string
}

// Listen creates, binds, and listens on an AF_UNIX stream socket at
// path. Any existing socket file at path is removed first, mirroring
// the usual local-daemon convention of a stale-socket cleanup on start.
func Listen(path string) (*Listener, error) {
	fd, err := unix.Socket(unix.AF_UNIX, unix.SOCK_STREAM, 0)
	if err != nil {
		return nil, fmt.Errorf("conn: socket: %w", err)
	}
	_ = unix.Unlink(path)
	addr := &unix.SockaddrUnix{Name: path}
	if err := unix.Bind(fd, addr); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("conn: bind %s: %w", path, err)
	}
	if err := unix.Listen(fd, constants.DefaultListenBacklog); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("conn: listen %s: %w", path, err)
	}
	return &Listener{fd: fd, path: path}, nil
}

// FD returns the listener's file descriptor, for registration with an
// evloop.Loop.
func (l *Listener) FD() int { return l.fd }

// Accept accepts one pending connection. Returns the new client's fd.
// Non-blocking sockets return (0, unix.EAGAIN) when there is nothing to
// accept; the event loop only calls this on read-readiness so this is
// rare but not an error.
func (l *Listener) Accept() (int, error) {
	nfd, _, err := unix.Accept(l.fd)
	if err != nil {
		return 0, err
	}
	return nfd, nil
}

// Close closes the listening socket and removes the socket file.
func (l *Listener) Close() error {
	err := unix.Close(l.fd)
	_ = unix.Unlink(l.path)
	return err
}

// ReadFrame reads exactly one length-prefixed frame from fd: a 16-byte
// header followed by its payload. Per spec.md §7, a short read or any
// other error on the command path is treated as fatal to the
// connection (the caller decides whether that means fatal to the
// server, per the distinction between client-bug preconditions and
// this transport-level failure).
func ReadFrame(fd int) (msgType int64, payload []byte, err error) {
	header := make([]byte, constants.FrameHeaderSize)
	if err := readFull(fd, header); err != nil {
		return 0, nil, err
	}
	msgType = int64(binary.LittleEndian.Uint64(header[0:8]))
	length := int64(binary.LittleEndian.Uint64(header[8:16]))
	if length < 0 {
		return 0, nil, fmt.Errorf("conn: negative frame length %d", length)
	}
	payload = make([]byte, length)
	if length > 0 {
		if err := readFull(fd, payload); err != nil {
			return 0, nil, err
		}
	}
	return msgType, payload, nil
}

// WriteFrame writes one length-prefixed frame: header then payload, in
// a single Writev so they land as one kernel write.
func WriteFrame(fd int, msgType int64, payload []byte) error {
	header := make([]byte, constants.FrameHeaderSize)
	binary.LittleEndian.PutUint64(header[0:8], uint64(msgType))
	binary.LittleEndian.PutUint64(header[8:16], uint64(len(payload)))
	_, err := unix.Writev(fd, [][]byte{header, payload})
	return err
}

// WriteFrameWithFD writes one length-prefixed frame exactly like
// WriteFrame, but additionally passes passFD to the peer via SCM_RIGHTS
// ancillary data on the same sendmsg call — the mechanism spec.md §6
// requires for CREATE/GET/SEAL replies.
func WriteFrameWithFD(fd int, msgType int64, payload []byte, passFD int) error {
	header := make([]byte, constants.FrameHeaderSize)
	binary.LittleEndian.PutUint64(header[0:8], uint64(msgType))
	binary.LittleEndian.PutUint64(header[8:16], uint64(len(payload)))
	buf := append(header, payload...)
	rights := unix.UnixRights(passFD)
	return unix.Sendmsg(fd, buf, rights, nil, 0)
}

// RecvFDAndFrame reads one length-prefixed frame from fd along with a
// single passed file descriptor carried via SCM_RIGHTS ancillary data
// on the same datagram — used by SUBSCRIBE (spec.md §4.D, §6).
func RecvFDAndFrame(fd int) (msgType int64, payload []byte, passedFD int, err error) {
	header := make([]byte, constants.FrameHeaderSize)
	oob := make([]byte, unix.CmsgSpace(4))
	n, oobn, _, _, err := unix.Recvmsg(fd, header, oob, 0)
	if err != nil {
		return 0, nil, 0, err
	}
	if n < constants.FrameHeaderSize {
		return 0, nil, 0, fmt.Errorf("conn: short header in recvmsg: got %d bytes", n)
	}
	msgType = int64(binary.LittleEndian.Uint64(header[0:8]))
	length := int64(binary.LittleEndian.Uint64(header[8:16]))

	fds, err := parseSCMRights(oob[:oobn])
	if err != nil {
		return 0, nil, 0, err
	}
	if len(fds) != 1 {
		return 0, nil, 0, fmt.Errorf("conn: expected exactly one passed fd, got %d", len(fds))
	}
	passedFD = fds[0]

	payload = make([]byte, length)
	if length > 0 {
		if err := readFull(fd, payload); err != nil {
			return 0, nil, 0, err
		}
	}
	return msgType, payload, passedFD, nil
}

// ReadFrameAny reads one length-prefixed frame from fd, the same as
// ReadFrame, but additionally surfaces any SCM_RIGHTS fd riding along
// with the header (as SUBSCRIBE's ancillary fd does). passedFD is -1
// when no fd accompanied the frame, which is the common case for every
// request type except SUBSCRIBE.
func ReadFrameAny(fd int) (msgType int64, payload []byte, passedFD int, err error) {
	header := make([]byte, constants.FrameHeaderSize)
	oob := make([]byte, unix.CmsgSpace(4))
	n, oobn, _, _, err := unix.Recvmsg(fd, header, oob, 0)
	if err != nil {
		return 0, nil, -1, err
	}
	if n == 0 {
		return 0, nil, -1, fmt.Errorf("conn: connection closed mid-frame")
	}
	if n < constants.FrameHeaderSize {
		return 0, nil, -1, fmt.Errorf("conn: short header in recvmsg: got %d bytes", n)
	}
	msgType = int64(binary.LittleEndian.Uint64(header[0:8]))
	length := int64(binary.LittleEndian.Uint64(header[8:16]))
	if length < 0 {
		return 0, nil, -1, fmt.Errorf("conn: negative frame length %d", length)
	}

	passedFD = -1
	if oobn > 0 {
		fds, ferr := parseSCMRights(oob[:oobn])
		if ferr == nil && len(fds) == 1 {
			passedFD = fds[0]
		}
	}

	payload = make([]byte, length)
	if length > 0 {
		if err := readFull(fd, payload); err != nil {
			return 0, nil, -1, err
		}
	}
	return msgType, payload, passedFD, nil
}

func parseSCMRights(oob []byte) ([]int, error) {
	cmsgs, err := unix.ParseSocketControlMessage(oob)
	if err != nil {
		return nil, fmt.Errorf("conn: parse control message: %w", err)
	}
	for _, cmsg := range cmsgs {
		fds, err := unix.ParseUnixRights(&cmsg)
		if err != nil {
			continue
		}
		return fds, nil
	}
	return nil, fmt.Errorf("conn: no SCM_RIGHTS control message present")
}

// WriteNotification writes a single raw 20-byte notification frame
// (no header) to a subscriber socket. Returns ok=false, with no write
// performed, if the socket would block — the caller (internal/subs)
// treats that as backpressure, not an error.
func WriteNotification(fd int, frame []byte) (ok bool, err error) {
	_, err = unix.Write(fd, frame)
	if err == unix.EAGAIN || err == unix.EWOULDBLOCK {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func readFull(fd int, buf []byte) error {
	read := 0
	for read < len(buf) {
		n, err := unix.Read(fd, buf[read:])
		if err != nil {
			return err
		}
		if n == 0 {
			return fmt.Errorf("conn: connection closed mid-frame")
		}
		read += n
	}
	return nil
}

