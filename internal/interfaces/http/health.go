package http

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/turtacn/RxMarket-Intelligence/internal/infrastructure/monitoring/logging"
)

// probeTimeout bounds one readiness pass across all dependencies so a hung
// client cannot stall the endpoint past the server's write timeout.
const probeTimeout = 5 * time.Second

// Probe is one named dependency check run by the readiness endpoint.
// Infrastructure clients supply their HealthCheck methods as the function.
type Probe struct {
	Name  string
	Check func(ctx context.Context) error
}

type probeStatus struct {
	Status string `json:"status"`
	Error  string `json:"error,omitempty"`
}

// liveness answers as long as the process serves requests at all.
func (s *Server) liveness(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// readiness runs every registered probe and reports per-dependency state.
// Any failing dependency turns the response into a 503 so the scheduler
// stops routing work here until the dependency recovers.
func (s *Server) readiness(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), probeTimeout)
	defer cancel()

	deps := make(map[string]probeStatus, len(s.probes))
	ready := true
	for _, p := range s.probes {
		if err := p.Check(ctx); err != nil {
			ready = false
			deps[p.Name] = probeStatus{Status: "down", Error: err.Error()}
			s.logger.Warn("readiness probe failed",
				logging.String("dependency", p.Name),
				logging.Err(err),
			)
			continue
		}
		deps[p.Name] = probeStatus{Status: "up"}
	}

	code := http.StatusOK
	overall := "ready"
	if !ready {
		code = http.StatusServiceUnavailable
		overall = "degraded"
	}
	c.JSON(code, gin.H{"status": overall, "dependencies": deps})
}
