package router

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/Brownie44l1/httpconnector/internal/config"
	"github.com/Brownie44l1/httpconnector/internal/request"
	"github.com/Brownie44l1/httpconnector/internal/response"
)

var ErrUnknownApplication = errors.New("unknown application")

// Route mounts an application below a path.
type Route struct {
	Path string
	App  response.Application
}

// Router turns parsed requests into replies: application mount points
// first, then static files below the document root.
type Router struct {
	conf       *config.Config
	dispatcher response.Dispatcher
	routes     []*Route
}

// New creates a router. Applications run on dispatcher.
func New(conf *config.Config, dispatcher response.Dispatcher) *Router {
	return &Router{
		conf:       conf,
		dispatcher: dispatcher,
		routes:     make([]*Route, 0),
	}
}

// Mount registers app below path. "/" catches every request.
func (r *Router) Mount(path string, app response.Application) {
	route := &Route{
		Path: strings.TrimRight(path, "/"),
		App:  app,
	}
	r.routes = append(r.routes, route)

	// longest mount point wins
	sort.SliceStable(r.routes, func(i, j int) bool {
		return len(r.routes[i].Path) > len(r.routes[j].Path)
	})
}

// MountEntryPoints mounts the configured entry points, resolving their
// application names in apps.
func (r *Router) MountEntryPoints(apps map[string]response.Application) error {
	for _, ep := range r.conf.EntryPoints {
		app, ok := apps[ep.App]
		if !ok {
			return fmt.Errorf("%w: %q at %s", ErrUnknownApplication, ep.App, ep.Path)
		}
		r.Mount(ep.Path, app)
	}
	return nil
}

// Match finds the mount point for a decoded path. extra is what follows
// the mount point.
func (r *Router) Match(path string) (route *Route, extra string) {
	for _, route := range r.routes {
		if extra, ok := matchPath(route.Path, path); ok {
			return route, extra
		}
	}
	return nil, ""
}

// matchPath reports whether path lies below mount: the prefix must end at
// a path separator or at the end of path.
func matchPath(mount, path string) (string, bool) {
	if !strings.HasPrefix(path, mount) {
		return "", false
	}
	rest := path[len(mount):]
	if rest != "" && rest[0] != '/' {
		return "", false
	}
	return rest, true
}

// Handle builds the reply for req.
func (r *Router) Handle(req *request.Request) *response.Reply {
	if !request.IsSupportedMethod(req.Method) || !request.IsSupportedVersion(req.VersionMajor, req.VersionMinor) {
		return response.NewStockReply(req, response.StatusNotImplemented, "", r.conf)
	}

	rawPath, query, _ := strings.Cut(req.URI, "?")
	path, err := url.PathUnescape(rawPath)
	if err != nil || path == "" || path[0] != '/' || strings.Contains(path, "..") {
		return response.NewStockReply(req, response.StatusBadRequest, "", r.conf)
	}

	// old IE sends the fragment of URLs ending in "/#..."
	if i := strings.Index(path, "/#"); i >= 0 {
		path = path[:i+1]
	}
	req.Path = path
	req.Query = query

	if route, extra := r.Match(path); route != nil {
		req.ExtraPath = extra
		return response.NewAppReply(req, route.App, r.dispatcher, r.conf)
	}

	if req.IsWebSocket() {
		return response.NewStockReply(req, response.StatusBadRequest, "", r.conf)
	}
	if req.Method != "GET" && req.Method != "HEAD" {
		return response.NewStockReply(req, response.StatusNotImplemented, "", r.conf)
	}

	return r.static(req, path, query)
}

func (r *Router) static(req *request.Request, path, query string) *response.Reply {
	if strings.HasSuffix(path, "/") {
		path += "index.html"
	}
	full := filepath.Join(r.conf.DocRoot, filepath.FromSlash(path))

	if info, err := os.Stat(full); err == nil && info.IsDir() {
		location := (&url.URL{Path: path + "/"}).EscapedPath()
		if query != "" {
			location += "?" + query
		}
		return response.NewRedirectReply(req, response.StatusMovedPermanently, location, r.conf)
	}

	ext := strings.TrimPrefix(filepath.Ext(path), ".")
	return response.NewStaticReply(full, ext, req, r.conf)
}
