package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"flowcast/internal/store"
)

func (s *Server) createProject(c *gin.Context) {
	var p store.Project
	if err := c.ShouldBindJSON(&p); err != nil {
		badRequest(c, err)
		return
	}
	if err := s.repo.CreateProject(&p); err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, p)
}

func (s *Server) listProjects(c *gin.Context) {
	ps, err := s.repo.ListProjects()
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, ps)
}

func (s *Server) getProject(c *gin.Context) {
	p, err := s.repo.GetProject(c.Param("id"))
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, p)
}

func (s *Server) updateProject(c *gin.Context) {
	existing, err := s.repo.GetProject(c.Param("id"))
	if err != nil {
		fail(c, err)
		return
	}

	var p store.Project
	if err := c.ShouldBindJSON(&p); err != nil {
		badRequest(c, err)
		return
	}
	p.ID = existing.ID
	p.CreatedAt = existing.CreatedAt

	if err := s.repo.UpdateProject(&p); err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, p)
}

func (s *Server) listProjectForecasts(c *gin.Context) {
	filter := store.ForecastFilter{Type: c.Query("type")}
	if raw := c.Query("limit"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil {
			filter.Limit = n
		}
	}
	if raw := c.Query("since"); raw != "" {
		t, err := parseDate(raw)
		if err != nil {
			badRequest(c, err)
			return
		}
		filter.Since = &t
	}

	fs, err := s.repo.ListForecasts(c.Param("id"), filter)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, fs)
}

func (s *Server) projectAccuracy(c *gin.Context) {
	rep, err := s.repo.ComputeAccuracy(c.Param("id"))
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, rep)
}

type actualRequest struct {
	ActualWeeks float64 `json:"actual_weeks"`
	ActualItems int     `json:"actual_items"`
}

func (s *Server) recordActual(c *gin.Context) {
	var req actualRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}

	a := &store.Actual{
		ForecastID:  c.Param("id"),
		ActualWeeks: req.ActualWeeks,
		ActualItems: req.ActualItems,
		RecordedAt:  time.Now(),
	}
	if err := s.repo.RecordActual(a); err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, a)
}
