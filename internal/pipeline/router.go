package pipeline

import (
	"net/http"
	"sort"
	"strings"

	"github.com/vyrodovalexey/govgate/internal/observability"
	"github.com/vyrodovalexey/govgate/internal/util"
)

// Route maps a path prefix to a group.
type Route struct {
	Prefix string `json:"prefix"`
	Group  string `json:"group"`
}

// DefaultRoutes returns the built-in route table.
func DefaultRoutes() []Route {
	return []Route{
		{Prefix: "/api/admin/", Group: GroupAdmin},
		{Prefix: "/api/public/", Group: GroupPublic},
		{Prefix: util.APIPathPrefix, Group: GroupAPI},
		{Prefix: "/", Group: GroupWeb},
	}
}

// Router selects the group for a request by longest matching path prefix
// and serves it through the registry.
type Router struct {
	routes   []Route
	handlers map[string]http.Handler
}

// NewRouter creates a router serving terminal behind the group chains of
// routes.
func NewRouter(registry *Registry, terminal http.Handler, routes []Route) *Router {
	sorted := append([]Route(nil), routes...)
	sort.SliceStable(sorted, func(i, j int) bool {
		return len(sorted[i].Prefix) > len(sorted[j].Prefix)
	})

	handlers := make(map[string]http.Handler)
	for _, route := range sorted {
		if _, ok := handlers[route.Group]; !ok {
			handlers[route.Group] = registry.Handler(route.Group, terminal)
		}
	}

	return &Router{routes: sorted, handlers: handlers}
}

// Match returns the group serving path.
func (rt *Router) Match(path string) (string, bool) {
	for _, route := range rt.routes {
		if strings.HasPrefix(path, route.Prefix) {
			return route.Group, true
		}
	}
	return "", false
}

// Routes returns the route table, longest prefix first.
func (rt *Router) Routes() []Route {
	return append([]Route(nil), rt.routes...)
}

// ServeHTTP implements http.Handler.
func (rt *Router) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	group, ok := rt.Match(r.URL.Path)
	if !ok {
		util.WriteFailure(w, r, http.StatusNotFound, "Not Found", "No route matches the requested path.")
		return
	}

	observability.ReportGroup(r.Context(), group)
	r = r.WithContext(util.ContextWithGroup(r.Context(), group))
	rt.handlers[group].ServeHTTP(w, r)
}
