// resolution of parsed request targets against the document root
package resolve

import (
	"path"
	"sort"
	"strings"

	"github.com/spf13/afero"

	"github.com/kfcemployee/httpd/server/protocol"
)

// Endpoint remaps a logical URL prefix to an on-disk target under the
// document root, consulted before the filesystem is touched.
type Endpoint struct {
	Prefix string
	Target string
}

// DefaultEndpoints mirrors the demo front end's logical pages; the POST
// form targets land on the same pages, execution is left to the caller.
var DefaultEndpoints = []Endpoint{
	{Prefix: "/register", Target: "/register.html"},
	{Prefix: "/login", Target: "/login.html"},
	{Prefix: "/picture", Target: "/picture.html"},
	{Prefix: "/video", Target: "/video.html"},
	{Prefix: "/fans", Target: "/fans.html"},
}

// Resolver turns a completed request into a terminal classification plus,
// for FileRequest, the absolute file path and size.
type Resolver struct {
	fs        afero.Fs
	root      string
	index     string
	endpoints []Endpoint
}

// New builds a resolver over fsys. index is the landing resource an empty
// path maps to; endpoints are matched longest prefix first.
func New(fsys afero.Fs, root, index string, endpoints []Endpoint) *Resolver {
	eps := make([]Endpoint, len(endpoints))
	copy(eps, endpoints)
	sort.SliceStable(eps, func(i, j int) bool {
		return len(eps[i].Prefix) > len(eps[j].Prefix)
	})
	return &Resolver{fs: fsys, root: root, index: index, endpoints: eps}
}

// Resolve classifies a parsed request: NoResource when the target does not
// exist, Forbidden when it is unreadable or not a regular file, otherwise
// FileRequest with the resolved path and size.
func (r *Resolver) Resolve(req *protocol.Request) (protocol.Code, string, int64) {
	p := string(req.Path)
	if p == "/" {
		p = "/" + r.index
	}
	for _, ep := range r.endpoints {
		if strings.HasPrefix(p, ep.Prefix) {
			p = ep.Target
			break
		}
	}

	// the path is rooted, so Clean cannot step above the document root
	full := path.Join(r.root, path.Clean(p))

	info, err := r.fs.Stat(full)
	if err != nil {
		return protocol.NoResource, "", 0
	}
	if !info.Mode().IsRegular() {
		return protocol.Forbidden, "", 0
	}
	if info.Mode().Perm()&0o004 == 0 {
		return protocol.Forbidden, "", 0
	}
	return protocol.FileRequest, full, info.Size()
}
