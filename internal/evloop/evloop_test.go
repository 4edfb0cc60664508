package evloop

import (
	"testing"

	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"
)

func TestAddFDDispatchesOnReadable(t *testing.T) {
	l, err := New(nil)
	require.NoError(t, err)
	defer l.Close()

	fds, err := unix.Socketpair(unix.AF_UNIX, unix.SOCK_STREAM, 0)
	require.NoError(t, err)
	a, b := fds[0], fds[1]
	defer unix.Close(a)
	defer unix.Close(b)

	fired := false
	require.NoError(t, l.AddFD(a, Readable, func(fd int, ready Mask) {
		fired = true
		require.Equal(t, a, fd)
		require.NotZero(t, ready&Readable)
		buf := make([]byte, 16)
		unix.Read(fd, buf)
	}))

	_, err = unix.Write(b, []byte("hi"))
	require.NoError(t, err)

	require.NoError(t, l.RunOnce(1000))
	require.True(t, fired)
}

func TestRemoveFDStopsDispatch(t *testing.T) {
	l, err := New(nil)
	require.NoError(t, err)
	defer l.Close()

	fds, err := unix.Socketpair(unix.AF_UNIX, unix.SOCK_STREAM, 0)
	require.NoError(t, err)
	a, b := fds[0], fds[1]
	defer unix.Close(a)
	defer unix.Close(b)

	calls := 0
	require.NoError(t, l.AddFD(a, Readable, func(fd int, ready Mask) { calls++ }))
	l.RemoveFD(a)

	_, err = unix.Write(b, []byte("hi"))
	require.NoError(t, err)

	require.NoError(t, l.RunOnce(100))
	require.Equal(t, 0, calls)
}

func TestRunStopsWhenStopFuncTrue(t *testing.T) {
	l, err := New(nil)
	require.NoError(t, err)
	defer l.Close()

	fds, err := unix.Socketpair(unix.AF_UNIX, unix.SOCK_STREAM, 0)
	require.NoError(t, err)
	a, b := fds[0], fds[1]
	defer unix.Close(a)
	defer unix.Close(b)

	// a stays perpetually readable: each RunOnce wakes immediately, which
	// keeps Run's stop-check loop from blocking on an empty epoll_wait.
	require.NoError(t, l.AddFD(a, Readable, func(fd int, ready Mask) {}))
	_, err = unix.Write(b, []byte("x"))
	require.NoError(t, err)

	iterations := 0
	err = l.Run(func() bool {
		iterations++
		return iterations > 3
	})
	require.NoError(t, err)
	require.Equal(t, 4, iterations)
}
