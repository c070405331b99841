package api

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"flowcast/internal/forecast"
	"flowcast/internal/simulation"
	"flowcast/internal/taskrunner"
)

func (s *Server) simulate(c *gin.Context) {
	var cfg simulation.Config
	if err := c.ShouldBindJSON(&cfg); err != nil {
		badRequest(c, err)
		return
	}

	cfg = cfg.WithDefaults()
	if cfg.NSimulations > s.cfg.SyncTrialCap {
		c.JSON(http.StatusRequestEntityTooLarge, gin.H{
			"error": fmt.Sprintf("n_simulations %d exceeds the synchronous cap of %d; use /simulate/async",
				cfg.NSimulations, s.cfg.SyncTrialCap),
		})
		return
	}

	res, err := s.engine.Run(c.Request.Context(), cfg)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

func (s *Server) simulateAsync(c *gin.Context) {
	var cfg simulation.Config
	if err := c.ShouldBindJSON(&cfg); err != nil {
		badRequest(c, err)
		return
	}

	id, err := s.runner.Submit("simulate", func(ctx context.Context, report func(int, string)) (any, error) {
		return s.engine.RunWithProgress(ctx, cfg, func(pct int, stage string) {
			report(pct, stage)
		})
	})
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"task_id": id})
}

func (s *Server) getTask(c *gin.Context) {
	snap, err := s.runner.Status(c.Param("id"))
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, snap)
}

func (s *Server) getTaskResult(c *gin.Context) {
	timeout := 30 * time.Second
	if raw := c.Query("timeout_ms"); raw != "" {
		ms, err := strconv.Atoi(raw)
		if err != nil || ms < 0 {
			badRequest(c, fmt.Errorf("invalid timeout_ms %q", raw))
			return
		}
		timeout = time.Duration(ms) * time.Millisecond
	}

	snap, err := s.runner.Result(c.Request.Context(), c.Param("id"), timeout)
	if err != nil {
		if err == taskrunner.ErrNotDone {
			c.JSON(http.StatusAccepted, snap)
			return
		}
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, snap)
}

func (s *Server) cancelTask(c *gin.Context) {
	snap, err := s.runner.Cancel(c.Param("id"))
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, snap)
}

// --- forecast facade ---

type deadlineRequest struct {
	Config   simulation.Config  `json:"config"`
	Start    string             `json:"start"`
	Deadline string             `json:"deadline"`
	Save     *forecast.SaveSpec `json:"save,omitempty"`
}

func (s *Server) meetDeadline(c *gin.Context) {
	var req deadlineRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	start, err := parseDate(req.Start)
	if err != nil {
		badRequest(c, err)
		return
	}
	deadline, err := parseDate(req.Deadline)
	if err != nil {
		badRequest(c, err)
		return
	}

	s.dispatchForecast(c, req.Config, "forecast-deadline", func(ctx context.Context) (any, error) {
		return s.facade.MeetDeadline(ctx, req.Config, start, deadline, req.Save)
	})
}

// dispatchForecast runs the operation inline when the trial count fits the
// synchronous cap, and hands it to the task runner otherwise.
func (s *Server) dispatchForecast(c *gin.Context, cfg simulation.Config, kind string, op func(ctx context.Context) (any, error)) {
	if cfg.WithDefaults().NSimulations > s.cfg.SyncTrialCap {
		id, err := s.runner.Submit(kind, func(ctx context.Context, report func(int, string)) (any, error) {
			return op(ctx)
		})
		if err != nil {
			fail(c, err)
			return
		}
		c.JSON(http.StatusAccepted, gin.H{"task_id": id})
		return
	}

	out, err := op(c.Request.Context())
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, out)
}

type windowRequest struct {
	Config simulation.Config  `json:"config"`
	Start  string             `json:"start"`
	End    string             `json:"end"`
	Save   *forecast.SaveSpec `json:"save,omitempty"`
}

func (s *Server) howMany(c *gin.Context) {
	var req windowRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	start, err := parseDate(req.Start)
	if err != nil {
		badRequest(c, err)
		return
	}
	end, err := parseDate(req.End)
	if err != nil {
		badRequest(c, err)
		return
	}

	s.dispatchForecast(c, req.Config, "forecast-throughput", func(ctx context.Context) (any, error) {
		return s.facade.HowMany(ctx, req.Config, start, end, req.Save)
	})
}

type whenRequest struct {
	Config simulation.Config  `json:"config"`
	Start  string             `json:"start"`
	Save   *forecast.SaveSpec `json:"save,omitempty"`
}

func (s *Server) when(c *gin.Context) {
	var req whenRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	start, err := parseDate(req.Start)
	if err != nil {
		badRequest(c, err)
		return
	}

	s.dispatchForecast(c, req.Config, "forecast-completion", func(ctx context.Context) (any, error) {
		return s.facade.When(ctx, req.Config, start, req.Save)
	})
}

// parseDate accepts RFC3339 or plain YYYY-MM-DD.
func parseDate(raw string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		return t, nil
	}
	t, err := time.Parse("2006-01-02", raw)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid date %q: want RFC3339 or YYYY-MM-DD", raw)
	}
	return t, nil
}
