package engine

import (
	"os"

	"golang.org/x/sys/unix"
)

// fileBody is a read-only mapping of a response body, owned by exactly one
// connection for the lifetime of one response.
type fileBody struct {
	data []byte
}

// mapFile maps path read-only. A zero-size file yields an empty body (mmap
// rejects zero-length mappings).
func mapFile(path string, size int64) (*fileBody, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	if size == 0 {
		return &fileBody{}, nil
	}
	data, err := unix.Mmap(int(f.Fd()), 0, int(size), unix.PROT_READ, unix.MAP_PRIVATE)
	if err != nil {
		return nil, err
	}
	return &fileBody{data: data}, nil
}

// release unmaps the body. Nil-safe and idempotent so every exit path can
// call it unconditionally.
func (m *fileBody) release() {
	if m == nil || m.data == nil {
		return
	}
	_ = unix.Munmap(m.data)
	m.data = nil
}
