package engine

import (
	"fmt"
	"io"
	"net"
	"testing"
	"time"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"

	"github.com/kfcemployee/httpd/server/resolve"
)

// builds a reactor on an ephemeral port and reports the address clients
// can dial.
func testReactor(t *testing.T, maxConns int) (*Reactor, string) {
	t.Helper()

	pool, err := NewPool(1, 4, quietLogger())
	require.NoError(t, err)
	t.Cleanup(pool.Stop)

	res := resolve.New(afero.NewMemMapFs(), "/www", "index.html", resolve.DefaultEndpoints)

	r, err := NewReactor([4]byte{127, 0, 0, 1}, 0, maxConns, pool, res, nil, quietLogger())
	require.NoError(t, err)
	t.Cleanup(func() {
		for _, c := range r.conns {
			if c != nil && c.fd >= 0 {
				c.CloseConn()
			}
		}
		r.close()
	})

	sa, err := unix.Getsockname(r.listenFd)
	require.NoError(t, err)
	port := sa.(*unix.SockaddrInet4).Port
	return r, fmt.Sprintf("127.0.0.1:%d", port)
}

func TestReactorRefusesBeyondConnectionLimit(t *testing.T) {
	r, addr := testReactor(t, 1)

	first, err := net.DialTimeout("tcp", addr, time.Second)
	require.NoError(t, err)
	defer first.Close()
	second, err := net.DialTimeout("tcp", addr, time.Second)
	require.NoError(t, err)
	defer second.Close()

	// both handshakes completed against the listen backlog; draining the
	// accept loop admits the first client and refuses the second
	r.accept()

	assert.EqualValues(t, 1, r.Users(), "refused client must not count")

	require.NoError(t, second.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, err = second.Read(make([]byte, 1))
	assert.ErrorIs(t, err, io.EOF, "refused client's socket should be closed")

	// the admitted client stays open
	require.NoError(t, first.SetReadDeadline(time.Now().Add(50*time.Millisecond)))
	_, err = first.Read(make([]byte, 1))
	var nerr net.Error
	assert.ErrorAs(t, err, &nerr)
	assert.True(t, nerr.Timeout())
}

func TestReactorAcceptsUpToLimit(t *testing.T) {
	r, addr := testReactor(t, 2)

	for i := 0; i < 2; i++ {
		c, err := net.DialTimeout("tcp", addr, time.Second)
		require.NoError(t, err, "client %d", i)
		defer c.Close()
	}

	r.accept()
	assert.EqualValues(t, 2, r.Users())
}
