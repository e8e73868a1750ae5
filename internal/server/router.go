package server

import (
	"errors"
	"net/http"

	"github.com/dgellow/oauth-relay/internal/config"
	"github.com/dgellow/oauth-relay/internal/flow"
	"github.com/dgellow/oauth-relay/internal/log"
	"github.com/dgellow/oauth-relay/internal/respond"
)

// Router dispatches requests to the flow controller. Configuration is loaded
// for every request, so the init and callback paths may change between
// requests without a restart.
type Router struct {
	provider   config.Provider
	controller *flow.Controller
}

// NewRouter creates a Router.
func NewRouter(provider config.Provider, controller *flow.Controller) *Router {
	return &Router{
		provider:   provider,
		controller: controller,
	}
}

// ServeHTTP implements http.Handler
func (rt *Router) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	path := r.URL.Path

	if path == "/" {
		switch r.Method {
		case http.MethodGet, http.MethodHead:
			respond.WriteOK(w)
		default:
			respond.WriteMethodNotAllowed(w, "GET, HEAD")
		}
		return
	}

	if r.Method != http.MethodGet {
		respond.WriteMethodNotAllowed(w, "GET")
		return
	}

	cfg, err := rt.provider.Load(r.Context())
	if err != nil {
		fields := map[string]any{
			"error": err.Error(),
			"path":  path,
		}
		if errors.Is(err, config.ErrInvalid) {
			log.LogErrorWithFields("router", "Invalid configuration", fields)
		} else {
			log.LogErrorWithFields("router", "Failed to load configuration", fields)
		}
		respond.WriteInternalServerError(w, "Server configuration error")
		return
	}

	switch path {
	case cfg.InitPath:
		rt.controller.Start(w, r, cfg)
	case cfg.CallbackPath:
		rt.controller.Callback(w, r, cfg)
	default:
		respond.WriteNotFound(w)
	}
}
