package api

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/northpress/syndicate/internal/domain"
	"github.com/northpress/syndicate/internal/logger"
)

// clusterRequest is the wire form of a cluster create/update. Destinations
// arrive as tagged-union envelopes.
type clusterRequest struct {
	Title         string            `json:"title" binding:"required"`
	Destinations  []json.RawMessage `json:"destinations" binding:"required"`
	EnableReviews bool              `json:"enable_reviews"`
	ReviewerIDs   []int64           `json:"reviewer_ids"`
}

func (req *clusterRequest) decode() ([]domain.Destination, error) {
	destinations := make([]domain.Destination, 0, len(req.Destinations))
	for _, raw := range req.Destinations {
		dest, err := domain.DecodeDestination(raw)
		if err != nil {
			return nil, err
		}
		destinations = append(destinations, dest)
	}
	return destinations, nil
}

func (r *Router) listClusters(c *gin.Context) {
	clusters, err := r.deps.Clusters.ListClusters(c.Request.Context())
	if err != nil {
		handleDomainError(c, err, "cluster", "list")
		return
	}
	c.JSON(http.StatusOK, gin.H{"clusters": clusters, "count": len(clusters)})
}

func (r *Router) createCluster(c *gin.Context) {
	var req clusterRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	destinations, err := req.decode()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	now := time.Now().UTC()
	cluster := &domain.Cluster{
		ID:            uuid.New(),
		Title:         req.Title,
		Destinations:  destinations,
		EnableReviews: req.EnableReviews,
		ReviewerIDs:   req.ReviewerIDs,
		CreatedAt:     now,
		UpdatedAt:     now,
	}

	if err := r.deps.Clusters.CreateCluster(c.Request.Context(), cluster); err != nil {
		handleDomainError(c, err, "cluster", "create")
		return
	}

	r.deps.Logger.Info("Cluster created",
		logger.String("cluster_id", cluster.ID.String()),
		logger.String("title", cluster.Title))
	c.JSON(http.StatusCreated, cluster)
}

func (r *Router) getCluster(c *gin.Context) {
	id, ok := parseUUID(c, "id", "cluster")
	if !ok {
		return
	}

	cluster, err := r.deps.Clusters.GetCluster(c.Request.Context(), id.String())
	if err != nil {
		handleDomainError(c, err, "cluster", "get")
		return
	}
	c.JSON(http.StatusOK, cluster)
}

func (r *Router) updateCluster(c *gin.Context) {
	id, ok := parseUUID(c, "id", "cluster")
	if !ok {
		return
	}

	var req clusterRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	destinations, err := req.decode()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	ctx := c.Request.Context()
	cluster, err := r.deps.Clusters.GetCluster(ctx, id.String())
	if err != nil {
		handleDomainError(c, err, "cluster", "get")
		return
	}

	cluster.Title = req.Title
	cluster.Destinations = destinations
	cluster.EnableReviews = req.EnableReviews
	cluster.ReviewerIDs = req.ReviewerIDs
	cluster.UpdatedAt = time.Now().UTC()

	if err := r.deps.Clusters.UpdateCluster(ctx, cluster); err != nil {
		handleDomainError(c, err, "cluster", "update")
		return
	}
	c.JSON(http.StatusOK, cluster)
}

// deleteCluster removes the cluster. Its conditions become orphaned and
// inert; they are not cascaded.
func (r *Router) deleteCluster(c *gin.Context) {
	id, ok := parseUUID(c, "id", "cluster")
	if !ok {
		return
	}

	if err := r.deps.Clusters.DeleteCluster(c.Request.Context(), id.String()); err != nil {
		handleDomainError(c, err, "cluster", "delete")
		return
	}

	r.deps.Logger.Info("Cluster deleted", logger.String("cluster_id", id.String()))
	c.JSON(http.StatusOK, gin.H{"deleted": id.String()})
}

type conditionRequest struct {
	SourceSiteID int64                  `json:"source_site_id" binding:"required"`
	ContentType  string                 `json:"content_type" binding:"required"`
	Taxonomy     string                 `json:"taxonomy"`
	Terms        []string               `json:"terms"`
	Filter       domain.ConditionFilter `json:"filter"`
	AutoPublish  bool                   `json:"auto_publish"`
}

func (r *Router) createCondition(c *gin.Context) {
	clusterID, ok := parseUUID(c, "id", "cluster")
	if !ok {
		return
	}

	var req conditionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	ctx := c.Request.Context()
	if _, err := r.deps.Clusters.GetCluster(ctx, clusterID.String()); err != nil {
		handleDomainError(c, err, "cluster", "get")
		return
	}

	cond := &domain.ContentCondition{
		ID:           uuid.New(),
		ClusterID:    clusterID,
		SourceSiteID: req.SourceSiteID,
		ContentType:  req.ContentType,
		Taxonomy:     req.Taxonomy,
		Terms:        req.Terms,
		Filter:       req.Filter,
		AutoPublish:  req.AutoPublish,
	}

	if err := r.deps.Clusters.CreateCondition(ctx, cond); err != nil {
		handleDomainError(c, err, "condition", "create")
		return
	}
	c.JSON(http.StatusCreated, cond)
}

func (r *Router) deleteCondition(c *gin.Context) {
	id, ok := parseUUID(c, "id", "condition")
	if !ok {
		return
	}

	if err := r.deps.Clusters.DeleteCondition(c.Request.Context(), id.String()); err != nil {
		handleDomainError(c, err, "condition", "delete")
		return
	}
	c.JSON(http.StatusOK, gin.H{"deleted": id.String()})
}
