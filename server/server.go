// composition root: configuration, worker pool, resolver, database pool
// and reactor wired together
package server

import (
	"context"
	"errors"
	"fmt"
	"net"

	"github.com/sirupsen/logrus"
	"github.com/spf13/afero"

	"github.com/kfcemployee/httpd/config"
	"github.com/kfcemployee/httpd/server/db"
	"github.com/kfcemployee/httpd/server/engine"
	"github.com/kfcemployee/httpd/server/resolve"
)

// Server owns the pieces of one serving process. The database pool is
// optional; without it dynamic POSTs run without a handle.
type Server struct {
	cfg config.Config
	log *logrus.Logger
	fs  afero.Fs
	dbp db.Pool
}

func New(cfg config.Config, log *logrus.Logger) *Server {
	return &Server{cfg: cfg, log: log, fs: afero.NewOsFs()}
}

// SetDBPool plugs in the external database connection pool, overriding the
// DBConns-sized default.
func (s *Server) SetDBPool(p db.Pool) {
	s.dbp = p
}

// dbPool picks the pool the workers check handles out of: an injected one
// wins, otherwise DBConns > 0 builds a fixed pool of opaque handle slots
// (the engine only meters checkouts; real integrations inject their own
// handles via SetDBPool), and zero disables checkout entirely.
func (s *Server) dbPool() db.Pool {
	if s.dbp != nil {
		return s.dbp
	}
	n := int(s.cfg.DBConns.Int64)
	if n <= 0 {
		return nil
	}
	handles := make([]db.Handle, n)
	for i := range handles {
		handles[i] = i
	}
	return db.NewFixedPool(handles...)
}

// SetFs overrides the document-root filesystem.
func (s *Server) SetFs(fsys afero.Fs) {
	s.fs = fsys
}

// Run serves until ctx is cancelled. The worker pool is stopped after the
// reactor returns so queued connections still drain.
func (s *Server) Run(ctx context.Context) error {
	pool, err := engine.NewPool(int(s.cfg.Workers.Int64), int(s.cfg.QueueDepth.Int64), s.log)
	if err != nil {
		return err
	}
	defer pool.Stop()

	res := resolve.New(s.fs, s.cfg.DocRoot.String, s.cfg.Index.String, resolve.DefaultEndpoints)

	addr, err := ipv4(s.cfg.Address.String)
	if err != nil {
		return err
	}
	reactor, err := engine.NewReactor(addr, int(s.cfg.Port.Int64), int(s.cfg.MaxConns.Int64), pool, res, s.dbPool(), s.log)
	if err != nil {
		return err
	}

	s.log.WithFields(logrus.Fields{
		"address": s.cfg.Address.String,
		"port":    s.cfg.Port.Int64,
		"root":    s.cfg.DocRoot.String,
		"workers": s.cfg.Workers.Int64,
	}).Info("serving")

	if err := reactor.Run(ctx); !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

func ipv4(s string) ([4]byte, error) {
	var a [4]byte
	ip := net.ParseIP(s)
	if ip == nil {
		return a, fmt.Errorf("invalid listen address %q", s)
	}
	v4 := ip.To4()
	if v4 == nil {
		return a, fmt.Errorf("listen address %q is not IPv4", s)
	}
	copy(a[:], v4)
	return a, nil
}
