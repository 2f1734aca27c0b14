package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/northpress/syndicate/internal/domain"
	"github.com/northpress/syndicate/internal/logger"
)

// listQueue returns queue items, newest first, optionally filtered by status.
func (r *Router) listQueue(c *gin.Context) {
	status := domain.DistributionStatus(c.Query("status"))

	items, err := r.deps.Queue.List(c.Request.Context(), status, limitQuery(c))
	if err != nil {
		handleDomainError(c, err, "queue", "list")
		return
	}
	c.JSON(http.StatusOK, gin.H{"items": items, "count": len(items)})
}

func (r *Router) getQueueItem(c *gin.Context) {
	id, ok := parseUUID(c, "id", "distribution")
	if !ok {
		return
	}

	item, err := r.deps.Queue.GetByID(c.Request.Context(), id.String())
	if err != nil {
		handleDomainError(c, err, "distribution", "get")
		return
	}
	c.JSON(http.StatusOK, item)
}

// rescheduleQueueItem moves a terminal item back to init for the worker.
func (r *Router) rescheduleQueueItem(c *gin.Context) {
	id, ok := parseUUID(c, "id", "distribution")
	if !ok {
		return
	}

	if err := r.deps.Queue.Reschedule(c.Request.Context(), id.String()); err != nil {
		handleDomainError(c, err, "distribution", "reschedule")
		return
	}

	r.deps.Logger.Info("Distribution rescheduled", logger.String("distribution_id", id.String()))
	c.JSON(http.StatusOK, gin.H{"status": string(domain.DistributionStatusInit)})
}

// runQueueItemNow claims the item and executes it synchronously, returning
// the terminal status.
func (r *Router) runQueueItemNow(c *gin.Context) {
	id, ok := parseUUID(c, "id", "distribution")
	if !ok {
		return
	}

	ctx := c.Request.Context()
	job, err := r.deps.Queue.ClaimByID(ctx, id.String())
	if err != nil {
		handleDomainError(c, err, "distribution", "claim")
		return
	}

	status, execErr := r.deps.Dist.Execute(ctx, job)
	response := gin.H{"status": string(status)}
	if execErr != nil {
		response["error"] = execErr.Error()
	}
	c.JSON(http.StatusOK, response)
}

// deleteQueueItem removes a queue item unconditionally.
func (r *Router) deleteQueueItem(c *gin.Context) {
	id, ok := parseUUID(c, "id", "distribution")
	if !ok {
		return
	}

	if err := r.deps.Queue.Delete(c.Request.Context(), id.String()); err != nil {
		handleDomainError(c, err, "distribution", "delete")
		return
	}

	r.deps.Logger.Info("Distribution deleted", logger.String("distribution_id", id.String()))
	c.JSON(http.StatusOK, gin.H{"deleted": id.String()})
}

// queueStats returns queue depth and delivery lag.
func (r *Router) queueStats(c *gin.Context) {
	stats, err := r.deps.Queue.GetStats(c.Request.Context())
	if err != nil {
		handleDomainError(c, err, "queue", "stat")
		return
	}
	c.JSON(http.StatusOK, stats)
}

// deliveryStats returns per-destination delivery counters and recent
// deliveries from the tracker.
func (r *Router) deliveryStats(c *gin.Context) {
	ctx := c.Request.Context()

	destinations := c.QueryArray("destination")
	stats, err := r.deps.Tracker.GetStats(ctx, destinations)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to read delivery stats"})
		return
	}

	recent, err := r.deps.Tracker.GetRecentDeliveries(ctx, limitQuery(c))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to read recent deliveries"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"stats":  stats,
		"recent": recent,
	})
}
