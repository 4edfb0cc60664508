package conn

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"
)

func TestListenAcceptRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "store.sock")

	l, err := Listen(path)
	require.NoError(t, err)
	defer l.Close()

	_, err = os.Stat(path)
	require.NoError(t, err)

	clientFD, err := unix.Socket(unix.AF_UNIX, unix.SOCK_STREAM, 0)
	require.NoError(t, err)
	defer unix.Close(clientFD)
	require.NoError(t, unix.Connect(clientFD, &unix.SockaddrUnix{Name: path}))

	serverFD, err := l.Accept()
	require.NoError(t, err)
	defer unix.Close(serverFD)
	require.NotZero(t, serverFD)
}

func TestWriteFrameReadFrameRoundTrip(t *testing.T) {
	fds, err := unix.Socketpair(unix.AF_UNIX, unix.SOCK_STREAM, 0)
	require.NoError(t, err)
	a, b := fds[0], fds[1]
	defer unix.Close(a)
	defer unix.Close(b)

	payload := []byte("hello world")
	require.NoError(t, WriteFrame(a, 128, payload))

	msgType, got, err := ReadFrame(b)
	require.NoError(t, err)
	require.Equal(t, int64(128), msgType)
	require.Equal(t, payload, got)
}

func TestWriteFrameWithFDPassesDescriptor(t *testing.T) {
	fds, err := unix.Socketpair(unix.AF_UNIX, unix.SOCK_STREAM, 0)
	require.NoError(t, err)
	a, b := fds[0], fds[1]
	defer unix.Close(a)
	defer unix.Close(b)

	memfd, err := unix.MemfdCreate("conn-test", 0)
	require.NoError(t, err)
	defer unix.Close(memfd)
	require.NoError(t, unix.Ftruncate(memfd, 64))

	payload := []byte("handle")
	require.NoError(t, WriteFrameWithFD(a, 129, payload, memfd))

	header := make([]byte, 16)
	oob := make([]byte, unix.CmsgSpace(4))
	n, oobn, _, _, err := unix.Recvmsg(b, header, oob, 0)
	require.NoError(t, err)
	require.Equal(t, 16, n)

	fds2, err := parseSCMRights(oob[:oobn])
	require.NoError(t, err)
	require.Len(t, fds2, 1)
	require.NotZero(t, fds2[0])
	unix.Close(fds2[0])
}

func TestWriteNotificationWouldBlock(t *testing.T) {
	fds, err := unix.Socketpair(unix.AF_UNIX, unix.SOCK_STREAM, 0)
	require.NoError(t, err)
	a, b := fds[0], fds[1]
	defer unix.Close(a)
	defer unix.Close(b)

	require.NoError(t, unix.SetNonblock(a, true))
	require.NoError(t, unix.SetsockoptInt(a, unix.SOL_SOCKET, unix.SO_SNDBUF, 1024))
	require.NoError(t, unix.SetsockoptInt(b, unix.SOL_SOCKET, unix.SO_RCVBUF, 1024))

	big := make([]byte, 1<<20)
	var blocked bool
	for i := 0; i < 1000; i++ {
		ok, err := WriteNotification(a, big[:20])
		require.NoError(t, err)
		if !ok {
			blocked = true
			break
		}
	}
	require.True(t, blocked, "expected send buffer to eventually fill and report backpressure")
}

func TestReadFrameAnyWithoutFD(t *testing.T) {
	fds, err := unix.Socketpair(unix.AF_UNIX, unix.SOCK_STREAM, 0)
	require.NoError(t, err)
	a, b := fds[0], fds[1]
	defer unix.Close(a)
	defer unix.Close(b)

	require.NoError(t, WriteFrame(a, 130, []byte("plain")))

	msgType, payload, passedFD, err := ReadFrameAny(b)
	require.NoError(t, err)
	require.Equal(t, int64(130), msgType)
	require.Equal(t, []byte("plain"), payload)
	require.Equal(t, -1, passedFD)
}

func TestReadFrameAnyWithFD(t *testing.T) {
	fds, err := unix.Socketpair(unix.AF_UNIX, unix.SOCK_STREAM, 0)
	require.NoError(t, err)
	a, b := fds[0], fds[1]
	defer unix.Close(a)
	defer unix.Close(b)

	memfd, err := unix.MemfdCreate("conn-test-subscribe", 0)
	require.NoError(t, err)
	defer unix.Close(memfd)

	require.NoError(t, WriteFrameWithFD(a, 135, []byte("sub"), memfd))

	msgType, payload, passedFD, err := ReadFrameAny(b)
	require.NoError(t, err)
	require.Equal(t, int64(135), msgType)
	require.Equal(t, []byte("sub"), payload)
	require.NotEqual(t, -1, passedFD)
	unix.Close(passedFD)
}

func TestReadFrameConnectionClosedMidFrame(t *testing.T) {
	fds, err := unix.Socketpair(unix.AF_UNIX, unix.SOCK_STREAM, 0)
	require.NoError(t, err)
	a, b := fds[0], fds[1]
	defer unix.Close(b)

	header := make([]byte, 16)
	header[8] = 10 // claim a 10-byte payload that never arrives
	_, err = unix.Write(a, header)
	require.NoError(t, err)
	unix.Close(a)

	_, _, err = ReadFrame(b)
	require.Error(t, err)
}
