package hello

import (
	"time"
)

const (
	StatusOK       = "HTTP/1.1 200 OK"
	StatusNotFound = "HTTP/1.1 404 NOT FOUND"

	PageHello    = "hello.html"
	PageNotFound = "404.html"

	// SleepDelay is how long the /sleep route holds its worker before answering.
	SleepDelay = 5 * time.Second
)

// Route maps one exact request line to the status line and file served for it.
// A positive Delay is waited out before the file is read.
type Route struct {
	RequestLine string
	Status      string
	File        string
	Delay       time.Duration
}

// Router classifies request lines by exact match. Lines with no route get
// the not-found route.
type Router struct {
	routes   map[string]Route
	notFound Route
}

// NewRouter creates a router answering unknown lines with notFound.
func NewRouter(notFound Route, routes ...Route) *Router {
	r := &Router{
		routes:   make(map[string]Route, len(routes)),
		notFound: notFound,
	}
	for _, route := range routes {
		r.Add(route)
	}
	return r
}

// DefaultRouter serves hello.html for "GET /" and, after SleepDelay, for
// "GET /sleep". Everything else is a 404 with 404.html.
func DefaultRouter() *Router {
	return NewRouter(
		Route{Status: StatusNotFound, File: PageNotFound},
		Route{RequestLine: "GET / HTTP/1.1", Status: StatusOK, File: PageHello},
		Route{RequestLine: "GET /sleep HTTP/1.1", Status: StatusOK, File: PageHello, Delay: SleepDelay},
	)
}

// Add registers route, replacing any route for the same request line.
// Not safe to call while the router is serving.
func (r *Router) Add(route Route) {
	r.routes[route.RequestLine] = route
}

// Match returns the route for line, or the not-found route.
func (r *Router) Match(line string) Route {
	if route, ok := r.routes[line]; ok {
		return route
	}
	nf := r.notFound
	nf.RequestLine = line
	return nf
}
