package controllers

import (
	"context"
	"net/http"
	"sort"
	"time"

	"github.com/hogansalley/storefront/api/responses"
	"github.com/hogansalley/storefront/pkg/config"
	pkgerrors "github.com/hogansalley/storefront/pkg/errors"
	"github.com/hogansalley/storefront/pkg/logger"
)

const (
	envHeader         = "X-Storefront-Env"
	readinessTimeout  = 3 * time.Second
	dependencyOK      = "ok"
	dependencyFailing = "unavailable"
)

// Pinger is a dependency that can report its own health.
type Pinger interface {
	Ping(context.Context) error
}

func HealthLive(cfg *config.Config) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set(envHeader, cfg.App.Env)
		responses.WriteSuccess(w, map[string]string{"status": "live"})
	}
}

// HealthReady pings every configured dependency. Any failure answers 503 with
// the per-dependency status in the error details.
func HealthReady(cfg *config.Config, logg *logger.Logger, deps map[string]Pinger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set(envHeader, cfg.App.Env)

		ctx, cancel := context.WithTimeout(r.Context(), readinessTimeout)
		defer cancel()

		names := make([]string, 0, len(deps))
		for name := range deps {
			names = append(names, name)
		}
		sort.Strings(names)

		statuses := make(map[string]string, len(deps))
		healthy := true
		for _, name := range names {
			dep := deps[name]
			if dep == nil {
				continue
			}
			if err := dep.Ping(ctx); err != nil {
				healthy = false
				statuses[name] = dependencyFailing
				logg.Error(logg.WithField(ctx, "dependency", name), "readiness check failed", err)
				continue
			}
			statuses[name] = dependencyOK
		}

		if !healthy {
			responses.WriteError(r.Context(), nil, w,
				pkgerrors.New(pkgerrors.CodeUnavailable, "dependencies unavailable").WithDetails(statuses))
			return
		}
		responses.WriteSuccess(w, map[string]any{"status": "ready", "dependencies": statuses})
	}
}
