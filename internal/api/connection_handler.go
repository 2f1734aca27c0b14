package api

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/northpress/syndicate/internal/domain"
	"github.com/northpress/syndicate/internal/logger"
)

type connectionRequest struct {
	Network        string `json:"network" binding:"required"`
	Secret         string `json:"secret" binding:"required"`
	Active         bool   `json:"active"`
	ContentEnabled bool   `json:"content_enabled"`
	SearchEnabled  bool   `json:"search_enabled"`
}

func (r *Router) listConnections(c *gin.Context) {
	conns, err := r.deps.Connections.ListActive(c.Request.Context())
	if err != nil {
		handleDomainError(c, err, "connection", "list")
		return
	}
	c.JSON(http.StatusOK, gin.H{"connections": conns, "count": len(conns)})
}

func (r *Router) upsertConnection(c *gin.Context) {
	var req connectionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	now := time.Now().UTC()
	conn := &domain.SiteConnection{
		ID:             uuid.New(),
		Network:        req.Network,
		Secret:         req.Secret,
		Active:         req.Active,
		ContentEnabled: req.ContentEnabled,
		SearchEnabled:  req.SearchEnabled,
		CreatedAt:      now,
		UpdatedAt:      now,
	}

	if err := r.deps.Connections.Upsert(c.Request.Context(), conn); err != nil {
		handleDomainError(c, err, "connection", "save")
		return
	}

	r.deps.Logger.Info("Connection saved", logger.String("network", conn.Network))
	c.JSON(http.StatusOK, conn)
}

func (r *Router) getConnection(c *gin.Context) {
	network := c.Param("network")

	conn, err := r.deps.Connections.GetByNetwork(c.Request.Context(), network)
	if err != nil {
		handleDomainError(c, err, "connection", "get")
		return
	}
	c.JSON(http.StatusOK, conn)
}

func (r *Router) deleteConnection(c *gin.Context) {
	network := c.Param("network")

	if err := r.deps.Connections.Delete(c.Request.Context(), network); err != nil {
		handleDomainError(c, err, "connection", "delete")
		return
	}

	r.deps.Logger.Info("Connection deleted", logger.String("network", network))
	c.JSON(http.StatusOK, gin.H{"deleted": network})
}
