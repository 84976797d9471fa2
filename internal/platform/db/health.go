package db

import (
	"context"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/labstack/echo/v4"
)

// PoolStats is the JSON view of the pgx pool counters.
type PoolStats struct {
	TotalConns      int32  `json:"total_conns"`
	IdleConns       int32  `json:"idle_conns"`
	AcquiredConns   int32  `json:"acquired_conns"`
	MaxConns        int32  `json:"max_conns"`
	AcquireCount    int64  `json:"acquire_count"`
	AcquireDuration string `json:"acquire_duration"`
	Healthy         bool   `json:"healthy"`
}

func GetPoolStats(pool *pgxpool.Pool) *PoolStats {
	stat := pool.Stat()
	return &PoolStats{
		TotalConns:      stat.TotalConns(),
		IdleConns:       stat.IdleConns(),
		AcquiredConns:   stat.AcquiredConns(),
		MaxConns:        stat.MaxConns(),
		AcquireCount:    stat.AcquireCount(),
		AcquireDuration: stat.AcquireDuration().String(),
		Healthy:         stat.TotalConns() > 0,
	}
}

// Pinger is any dependency the readiness check pings besides the pool.
type Pinger interface {
	Ping(ctx context.Context) error
}

// HealthHandler reports pool statistics and pings the database plus any
// extra named dependencies (e.g. the in-flight guard's Redis).
func HealthHandler(pool *pgxpool.Pool, extra map[string]Pinger) echo.HandlerFunc {
	return func(c echo.Context) error {
		ctx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
		defer cancel()

		stats := GetPoolStats(pool)
		deps := make(map[string]string, len(extra)+1)
		status := http.StatusOK

		if err := pool.Ping(ctx); err != nil {
			stats.Healthy = false
			deps["database"] = err.Error()
			status = http.StatusServiceUnavailable
		} else {
			deps["database"] = "ok"
		}
		for name, p := range extra {
			if err := p.Ping(ctx); err != nil {
				deps[name] = err.Error()
				status = http.StatusServiceUnavailable
				continue
			}
			deps[name] = "ok"
		}

		label := "healthy"
		if status != http.StatusOK {
			label = "unhealthy"
		}
		return c.JSON(status, map[string]interface{}{
			"status":       label,
			"pool":         stats,
			"dependencies": deps,
		})
	}
}
