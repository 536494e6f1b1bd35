package admin

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/hazyhaar/swcache/auth"
	"github.com/hazyhaar/swcache/shield"
)

// RouteOptions tunes the HTTP surface.
type RouteOptions struct {
	// Secret enables bearer-token auth: reads need any valid token,
	// activation needs the operator role. Empty disables auth.
	Secret []byte
	// ActivateLimit caps activations per client per minute. Default: 10.
	ActivateLimit int
}

// Routes returns the handler to mount at /_sw.
func (s *Service) Routes(opts RouteOptions) http.Handler {
	if opts.ActivateLimit <= 0 {
		opts.ActivateLimit = 10
	}
	limiter := shield.NewRateLimiter(opts.ActivateLimit, time.Minute)

	r := chi.NewRouter()
	r.Use(shield.SecurityHeaders(shield.DefaultHeaders()))

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Group(func(r chi.Router) {
		readers, operators := pass, pass
		if len(opts.Secret) > 0 {
			r.Use(auth.Middleware(opts.Secret))
			readers = auth.Require()
			operators = auth.Require(auth.RoleOperator)
		}

		r.With(readers).Get("/status", func(w http.ResponseWriter, r *http.Request) {
			st, err := s.Status(r.Context())
			if err != nil {
				writeError(w, http.StatusInternalServerError, err)
				return
			}
			writeJSON(w, http.StatusOK, st)
		})

		r.With(readers).Get("/partitions", func(w http.ResponseWriter, r *http.Request) {
			parts, err := s.Partitions(r.Context())
			if err != nil {
				writeError(w, http.StatusInternalServerError, err)
				return
			}
			writeJSON(w, http.StatusOK, parts)
		})

		r.With(readers).Get("/stats", func(w http.ResponseWriter, _ *http.Request) {
			writeJSON(w, http.StatusOK, s.Stats())
		})

		r.With(readers).Get("/events", func(w http.ResponseWriter, r *http.Request) {
			evs, err := s.Events(r.Context(), r.URL.Query().Get("kind"), queryInt(r, "limit", 100))
			if errors.Is(err, ErrNoEventLog) {
				writeError(w, http.StatusNotFound, err)
				return
			}
			if err != nil {
				writeError(w, http.StatusInternalServerError, err)
				return
			}
			writeJSON(w, http.StatusOK, evs)
		})

		r.With(operators, limiter.Middleware).Post("/activate", func(w http.ResponseWriter, r *http.Request) {
			rep, err := s.Activate(r.Context())
			if errors.Is(err, ErrNotInstalled) {
				writeError(w, http.StatusConflict, err)
				return
			}
			if err != nil {
				writeError(w, http.StatusInternalServerError, err)
				return
			}
			shield.GetLogger(r.Context()).Info("activation re-run", "deleted", len(rep.Deleted))
			writeJSON(w, http.StatusOK, rep)
		})
	})

	return r
}

func pass(next http.Handler) http.Handler { return next }

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, err error) {
	writeJSON(w, code, map[string]string{"error": err.Error()})
}

func queryInt(r *http.Request, key string, def int) int {
	s := r.URL.Query().Get(key)
	if s == "" {
		return def
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		return def
	}
	return v
}
