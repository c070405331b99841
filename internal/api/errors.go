package api

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"flowcast/internal/simulation"
	"flowcast/internal/store"
	"flowcast/internal/taskrunner"
)

// fail maps domain errors onto HTTP statuses so every handler reports the
// same way.
func fail(c *gin.Context, err error) {
	var cfgErr *simulation.ConfigError

	status := http.StatusInternalServerError
	switch {
	case errors.As(err, &cfgErr):
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid configuration", "fields": cfgErr.Fields})
		return
	case errors.Is(err, store.ErrNotFound), errors.Is(err, taskrunner.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, taskrunner.ErrOverloaded):
		status = http.StatusServiceUnavailable
	case errors.Is(err, store.ErrCyclicDependency):
		status = http.StatusUnprocessableEntity
	}

	if status == http.StatusInternalServerError {
		log.Error().Err(err).Str("path", c.FullPath()).Msg("request failed")
	}
	c.JSON(status, gin.H{"error": err.Error()})
}

func badRequest(c *gin.Context, err error) {
	c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
}

// failInputs reports errors from joining a portfolio's memberships with
// request data: missing rows are 404, everything else is the caller's
// request to fix.
func failInputs(c *gin.Context, err error) {
	if errors.Is(err, store.ErrNotFound) {
		fail(c, err)
		return
	}
	badRequest(c, err)
}
