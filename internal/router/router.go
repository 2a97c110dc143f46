package router

import (
	"net/http"
	"slices"
	"sync"
)

// Router wraps http.ServeMux with middleware chaining. Groups share the
// parent's mux and route table.
type Router struct {
	mux    *http.ServeMux
	chain  []Middleware
	routes *routeTable
}

// Middleware is a function that wraps an http.Handler
type Middleware func(http.Handler) http.Handler

// Route describes one registered pattern.
type Route struct {
	Method  string
	Pattern string
}

type routeTable struct {
	mu     sync.Mutex
	routes []Route
}

func (t *routeTable) add(method, pattern string) {
	t.mu.Lock()
	t.routes = append(t.routes, Route{Method: method, Pattern: pattern})
	t.mu.Unlock()
}

// New creates a new Router with optional global middleware
func New(middleware ...Middleware) *Router {
	return &Router{
		mux:    http.NewServeMux(),
		chain:  middleware,
		routes: &routeTable{},
	}
}

// ServeHTTP implements http.Handler
func (r *Router) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	r.mux.ServeHTTP(w, req)
}

// Get registers a GET route
func (r *Router) Get(pattern string, handler http.HandlerFunc, middleware ...Middleware) {
	r.Handle(http.MethodGet, pattern, handler, middleware...)
}

// Post registers a POST route
func (r *Router) Post(pattern string, handler http.HandlerFunc, middleware ...Middleware) {
	r.Handle(http.MethodPost, pattern, handler, middleware...)
}

// Handle registers a route with explicit method
func (r *Router) Handle(method, pattern string, handler http.Handler, middleware ...Middleware) {
	r.mux.Handle(method+" "+pattern, r.wrap(handler, middleware))
	r.routes.add(method, pattern)
}

// Routes returns the registered routes in registration order.
func (r *Router) Routes() []Route {
	r.routes.mu.Lock()
	defer r.routes.mu.Unlock()
	return slices.Clone(r.routes.routes)
}

// wrap applies the group chain then the route chain, outermost first.
func (r *Router) wrap(handler http.Handler, middleware []Middleware) http.Handler {
	combined := append(slices.Clone(r.chain), middleware...)

	result := handler
	for i := len(combined) - 1; i >= 0; i-- {
		result = combined[i](result)
	}
	return result
}

// Group creates a sub-router with additional middleware
func (r *Router) Group(middleware ...Middleware) *Router {
	return &Router{
		mux:    r.mux,
		chain:  append(slices.Clone(r.chain), middleware...),
		routes: r.routes,
	}
}

// NotFound sets the handler for requests that match no route. It runs
// behind the global chain so unmatched requests are still logged and
// CORS preflights are answered.
func (r *Router) NotFound(handler http.HandlerFunc) {
	r.mux.Handle("/", r.wrap(handler, nil))
}
