package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/northpress/syndicate/internal/domain"
	"github.com/northpress/syndicate/internal/merge"
)

type findConflictsRequest struct {
	SiteID int64                `json:"site_id" binding:"required"`
	Items  []domain.ContentItem `json:"items" binding:"required"`
}

// findConflicts reports which incoming items collide with existing local
// content, so the operator UI can prompt for resolutions.
func (r *Router) findConflicts(c *gin.Context) {
	var req findConflictsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	conflicts, err := r.deps.Merger.FindConflicts(c.Request.Context(), req.SiteID, req.Items)
	if err != nil {
		handleDomainError(c, err, "conflict", "find")
		return
	}
	c.JSON(http.StatusOK, gin.H{"conflicts": conflicts, "count": len(conflicts)})
}

type resolveConflictRequest struct {
	SiteID     int64                  `json:"site_id" binding:"required"`
	Incoming   domain.ContentItem     `json:"incoming" binding:"required"`
	Action     merge.ResolutionAction `json:"action" binding:"required"`
	ExistingID int64                  `json:"existing_id"`
}

// resolveConflict applies one chosen resolution and returns the resulting
// local item.
func (r *Router) resolveConflict(c *gin.Context) {
	var req resolveConflictRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	item, err := r.deps.Merger.ApplyResolution(c.Request.Context(),
		req.SiteID, req.Incoming, req.Action, req.ExistingID)
	if err != nil {
		handleDomainError(c, err, "conflict", "resolve")
		return
	}
	c.JSON(http.StatusOK, item)
}

// resolveGlobalID resolves a global ID through the two-tier cache and
// returns the addressed item.
func (r *Router) resolveGlobalID(c *gin.Context) {
	gid, ok := parseGID(c)
	if !ok {
		return
	}

	item, err := r.deps.Resolver.Resolve(c.Request.Context(), gid)
	if err != nil {
		handleDomainError(c, err, "item", "resolve")
		return
	}
	c.JSON(http.StatusOK, gin.H{"global_id": gid.String(), "item": item})
}

// itemDestinations previews where cluster conditions would send an item.
func (r *Router) itemDestinations(c *gin.Context) {
	gid, ok := parseGID(c)
	if !ok {
		return
	}

	ctx := c.Request.Context()
	item, err := r.deps.Resolver.Resolve(ctx, gid)
	if err != nil {
		handleDomainError(c, err, "item", "resolve")
		return
	}

	destinations, err := r.deps.Destinations.DestinationsForItem(ctx, item)
	if err != nil {
		handleDomainError(c, err, "destination", "compute")
		return
	}

	keys := make([]string, 0, len(destinations))
	for _, dest := range destinations {
		keys = append(keys, dest.Key())
	}
	c.JSON(http.StatusOK, gin.H{"destinations": keys, "count": len(keys)})
}

// distributeItem enqueues fan-out for one item, as if it had just been
// published.
func (r *Router) distributeItem(c *gin.Context) {
	gid, ok := parseGID(c)
	if !ok {
		return
	}

	ctx := c.Request.Context()
	item, err := r.deps.Resolver.Resolve(ctx, gid)
	if err != nil {
		handleDomainError(c, err, "item", "resolve")
		return
	}

	if err := r.deps.Dist.Distribute(ctx, item); err != nil {
		handleDomainError(c, err, "item", "distribute")
		return
	}
	c.JSON(http.StatusOK, gin.H{"distributed": gid.String()})
}
