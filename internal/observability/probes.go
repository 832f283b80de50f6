package observability

import (
	"context"
	"log/slog"
	"net/http"
	"sync"

	"github.com/go-chi/render"
	"golang.org/x/sync/errgroup"
)

// ReadinessReport is the body of the readiness probe. Checks maps each
// dependency to "up" or "down: <reason>".
type ReadinessReport struct {
	Ready    bool              `json:"ready"`
	Draining bool              `json:"draining,omitempty"`
	Checks   map[string]string `json:"checks"`
}

func (s *Server) liveness(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

// readiness runs every checker concurrently under the configured timeout.
// One failure, or draining, answers 503.
func (s *Server) readiness(w http.ResponseWriter, r *http.Request) {
	report := s.probe(r.Context())

	if report.Ready {
		render.Status(r, http.StatusOK)
	} else {
		render.Status(r, http.StatusServiceUnavailable)
	}
	render.JSON(w, r, report)
}

func (s *Server) probe(ctx context.Context) ReadinessReport {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.Timeout)
	defer cancel()

	report := ReadinessReport{
		Ready:    !s.draining.Load(),
		Draining: s.draining.Load(),
		Checks:   make(map[string]string, len(s.checkers)),
	}

	var (
		mu sync.Mutex
		g  errgroup.Group
	)
	for _, c := range s.checkers {
		g.Go(func() error {
			err := c.Check(ctx)

			mu.Lock()
			defer mu.Unlock()
			if err == nil {
				report.Checks[c.Name()] = "up"
				return nil
			}
			s.logger.Warn("readiness check failed",
				slog.String("dependency", c.Name()),
				slog.String("error", err.Error()),
			)
			report.Checks[c.Name()] = "down: " + err.Error()
			report.Ready = false
			return nil
		})
	}
	_ = g.Wait()
	return report
}
