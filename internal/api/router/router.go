// Package router wires the posting API routes and applies the middleware
// chain.
package router

import (
	"net/http"
	"time"

	apimw "github.com/Adithya-Monish-Kumar-K/chirp/internal/api/middleware"
	"github.com/Adithya-Monish-Kumar-K/chirp/internal/posts/handler"
	"github.com/Adithya-Monish-Kumar-K/chirp/pkg/health"
	"github.com/Adithya-Monish-Kumar-K/chirp/pkg/metrics"
	pkgmw "github.com/Adithya-Monish-Kumar-K/chirp/pkg/middleware"
)

// Deps are the pieces the router mounts. Metrics is optional.
type Deps struct {
	Handler        *handler.Handler
	Verifier       apimw.Verifier
	Health         *health.Checker
	Metrics        *metrics.Metrics
	RequestTimeout time.Duration
	CORS           apimw.CORSConfig
}

// New builds the HTTP handler.
//
// Route table:
//
//	POST   /api/v1/posts                       → create post    (session required)
//	GET    /api/v1/posts                       → global feed
//	GET    /api/v1/posts/{id}                  → single post
//	GET    /api/v1/users/{authorId}/posts      → author feed
//	GET    /api/v1/profiles/{username}         → public profile
//	GET    /api/v1/profiles/{username}/posts   → profile + author feed
//	GET    /health/live, /health/ready         → probes
//
// Middleware chain (outermost first):
//
//	RequestID → CORS → Timeout → Metrics → mux → [session] → handler
//
// Metrics sits right on the mux so it can label by matched route.
func New(d Deps) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /health/live", d.Health.LiveHandler())
	mux.HandleFunc("GET /health/ready", d.Health.ReadyHandler())

	required := apimw.RequireSession(d.Verifier)
	optional := apimw.OptionalSession(d.Verifier)
	h := d.Handler

	mux.Handle("POST /api/v1/posts", required(http.HandlerFunc(h.Create)))
	mux.Handle("GET /api/v1/posts", optional(http.HandlerFunc(h.List)))
	mux.Handle("GET /api/v1/posts/{id}", optional(http.HandlerFunc(h.Get)))
	mux.Handle("GET /api/v1/users/{authorId}/posts", optional(http.HandlerFunc(h.ListByAuthor)))
	mux.Handle("GET /api/v1/profiles/{username}", optional(http.HandlerFunc(h.GetProfile)))
	mux.Handle("GET /api/v1/profiles/{username}/posts", optional(http.HandlerFunc(h.ListByUsername)))

	var chain http.Handler = mux
	if d.Metrics != nil {
		chain = pkgmw.Metrics(d.Metrics)(chain)
	}
	if d.RequestTimeout > 0 {
		chain = pkgmw.Timeout(d.RequestTimeout)(chain)
	}
	chain = apimw.CORS(d.CORS)(chain)
	chain = pkgmw.RequestID(chain)

	return chain
}
