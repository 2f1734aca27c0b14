package api

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/northpress/syndicate/internal/domain"
)

// parseUUID parses a UUID from a gin.Context parameter
func parseUUID(c *gin.Context, paramName, entityType string) (uuid.UUID, bool) {
	idParam := c.Param(paramName)
	id, err := uuid.Parse(idParam)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Invalid " + entityType + " ID format",
		})
		return uuid.Nil, false
	}
	return id, true
}

// parseGID parses a global ID from a gin.Context parameter
func parseGID(c *gin.Context) (domain.GlobalID, bool) {
	gid, err := domain.ParseGlobalID(c.Param("gid"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Malformed global ID"})
		return domain.GlobalID{}, false
	}
	return gid, true
}

// limitQuery reads the limit query parameter, defaulting when absent.
func limitQuery(c *gin.Context) int {
	raw := c.Query("limit")
	if raw == "" {
		return defaultListLimit
	}
	limit, err := strconv.Atoi(raw)
	if err != nil || limit <= 0 {
		return defaultListLimit
	}
	return limit
}

// handleDomainError maps domain errors to HTTP statuses
func handleDomainError(c *gin.Context, err error, entityType, operation string) {
	switch {
	case errors.Is(err, domain.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": entityType + " not found"})
	case errors.Is(err, domain.ErrAlreadyFinished):
		c.JSON(http.StatusConflict, gin.H{"error": entityType + " already finished"})
	case errors.Is(err, domain.ErrMalformedID):
		c.JSON(http.StatusBadRequest, gin.H{"error": "Malformed global ID"})
	case errors.Is(err, domain.ErrEmptyBatch), errors.Is(err, domain.ErrInvalidDestination):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, domain.ErrRemoteUnreachable):
		c.JSON(http.StatusBadGateway, gin.H{"error": "Remote network unreachable"})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to " + operation + " " + entityType,
		})
	}
}
