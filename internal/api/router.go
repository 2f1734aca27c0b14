// Package api exposes the operator HTTP API and the inbound syndication
// protocol endpoints.
package api

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/northpress/syndicate/internal/config"
	"github.com/northpress/syndicate/internal/domain"
	"github.com/northpress/syndicate/internal/logger"
	"github.com/northpress/syndicate/internal/merge"
	"github.com/northpress/syndicate/internal/metrics"
	"github.com/northpress/syndicate/internal/remote"
	"github.com/northpress/syndicate/internal/store"
)

const (
	healthStatusHealthy  = "healthy"
	healthStatusDegraded = "degraded"
	healthCheckTimeout   = 2 * time.Second
	serviceVersion       = "1.0.0"
	defaultListLimit     = 50
)

// QueueStore is the queue access the operator API needs.
type QueueStore interface {
	GetByID(ctx context.Context, id string) (*domain.DistributionItem, error)
	List(ctx context.Context, status domain.DistributionStatus, limit int) ([]domain.DistributionItem, error)
	Reschedule(ctx context.Context, id string) error
	ClaimByID(ctx context.Context, id string) (*domain.DistributionItem, error)
	Delete(ctx context.Context, id string) error
	GetStats(ctx context.Context) (*domain.DistributionStats, error)
}

// ReviewStore reads reviews for the operator API.
type ReviewStore interface {
	GetByID(ctx context.Context, id string) (*domain.PostReview, error)
	ListByState(ctx context.Context, state domain.ReviewState, limit int) ([]domain.PostReview, error)
}

// ClusterStore manages clusters and conditions.
type ClusterStore interface {
	CreateCluster(ctx context.Context, cluster *domain.Cluster) error
	UpdateCluster(ctx context.Context, cluster *domain.Cluster) error
	GetCluster(ctx context.Context, id string) (*domain.Cluster, error)
	ListClusters(ctx context.Context) ([]domain.Cluster, error)
	DeleteCluster(ctx context.Context, id string) error
	CreateCondition(ctx context.Context, cond *domain.ContentCondition) error
	DeleteCondition(ctx context.Context, id string) error
}

// ConnectionStore manages registered peer networks.
type ConnectionStore interface {
	Upsert(ctx context.Context, conn *domain.SiteConnection) error
	GetByNetwork(ctx context.Context, network string) (*domain.SiteConnection, error)
	ListActive(ctx context.Context) ([]domain.SiteConnection, error)
	Delete(ctx context.Context, network string) error
}

// Gate is the review state machine surface exposed over HTTP.
type Gate interface {
	Approve(ctx context.Context, reviewID string, reviewerID int64) error
	Deny(ctx context.Context, reviewID string, reviewerID int64, message string) error
	Revert(ctx context.Context, reviewID string, reviewerID int64, message string) error
}

// Distribution executes claimed jobs, prepares items for export and enqueues
// fan-out for an item.
type Distribution interface {
	Execute(ctx context.Context, job *domain.DistributionItem) (domain.DistributionStatus, error)
	Prepare(ctx context.Context, item *domain.ContentItem) (domain.PreparedItem, error)
	Distribute(ctx context.Context, item *domain.ContentItem) error
}

// DestinationSource computes fan-out targets for an item.
type DestinationSource interface {
	DestinationsForItem(ctx context.Context, item *domain.ContentItem) ([]domain.Destination, error)
}

// ItemResolver resolves global IDs to items.
type ItemResolver interface {
	Resolve(ctx context.Context, gid domain.GlobalID) (*domain.ContentItem, error)
}

// Deps bundles everything the router serves.
type Deps struct {
	Config       *config.Config
	Queue        QueueStore
	Reviews      ReviewStore
	Clusters     ClusterStore
	Connections  ConnectionStore
	Gate         Gate
	Dist         Distribution
	Destinations DestinationSource
	Resolver     ItemResolver
	Merger       *merge.Merger
	Content      store.ContentStore
	Tracker      metrics.StatsTracker
	Gatherer     prometheus.Gatherer
	DBPing       func(ctx context.Context) error
	RedisPing    func(ctx context.Context) error
	Logger       logger.Logger
}

// Router holds the API dependencies
type Router struct {
	deps Deps
}

// NewRouter creates a new API router
func NewRouter(deps Deps) *Router {
	return &Router{deps: deps}
}

// SetupRoutes builds the gin engine with all routes and middleware.
func (r *Router) SetupRoutes() *gin.Engine {
	if !r.deps.Config.Debug {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(corsMiddleware())

	// Health and metrics (public, no auth)
	router.GET("/health", r.healthCheck)
	if r.deps.Gatherer != nil {
		router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(r.deps.Gatherer, promhttp.HandlerOpts{})))
	}

	// Operator API, protected by the installation secret.
	v1 := router.Group("/api/v1")
	v1.Use(requireToken(r.deps.Config.Network.InboundSecret))

	queue := v1.Group("/queue")
	queue.GET("", r.listQueue)
	queue.GET("/stats", r.queueStats) // more specific route before :id
	queue.GET("/:id", r.getQueueItem)
	queue.POST("/:id/reschedule", r.rescheduleQueueItem)
	queue.POST("/:id/run-now", r.runQueueItemNow)
	queue.DELETE("/:id", r.deleteQueueItem)

	clusters := v1.Group("/clusters")
	clusters.GET("", r.listClusters)
	clusters.POST("", r.createCluster)
	clusters.GET("/:id", r.getCluster)
	clusters.PUT("/:id", r.updateCluster)
	clusters.DELETE("/:id", r.deleteCluster)
	clusters.POST("/:id/conditions", r.createCondition)

	v1.DELETE("/conditions/:id", r.deleteCondition)

	connections := v1.Group("/connections")
	connections.GET("", r.listConnections)
	connections.POST("", r.upsertConnection)
	connections.GET("/:network", r.getConnection)
	connections.DELETE("/:network", r.deleteConnection)

	reviews := v1.Group("/reviews")
	reviews.GET("", r.listReviews)
	reviews.GET("/:id", r.getReview)
	reviews.POST("/:id/approve", r.approveReview)
	reviews.POST("/:id/deny", r.denyReview)
	reviews.POST("/:id/revert", r.revertReview)

	conflicts := v1.Group("/conflicts")
	conflicts.POST("/find", r.findConflicts)
	conflicts.POST("/resolve", r.resolveConflict)

	v1.GET("/resolve/:gid", r.resolveGlobalID)
	v1.GET("/resolve/:gid/destinations", r.itemDestinations)
	v1.POST("/resolve/:gid/distribute", r.distributeItem)
	v1.GET("/stats", r.deliveryStats)

	// Inbound syndication protocol. Item reads are public; deliveries
	// require a signed peer token.
	proto := router.Group(remote.BasePath)
	proto.GET("/health", r.protocolHealth)
	proto.GET("/items/:gid", r.getItem)
	proto.GET("/items/:gid/prepared", r.getPreparedItem)
	proto.POST("/deliveries",
		requirePeerToken(r.deps.Connections, r.deps.Config.Network.InboundSecret),
		r.acceptDelivery)

	return router
}

// healthCheck returns the service health status
func (r *Router) healthCheck(c *gin.Context) {
	health := gin.H{
		"status":  healthStatusHealthy,
		"service": "syndicate",
		"version": serviceVersion,
		"network": r.deps.Config.Network.Name,
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), healthCheckTimeout)
	defer cancel()

	dbConnected := true
	if r.deps.DBPing != nil {
		if err := r.deps.DBPing(ctx); err != nil {
			dbConnected = false
			health["status"] = healthStatusDegraded
		}
	}
	health["database"] = gin.H{"connected": dbConnected}

	redisConnected := true
	if r.deps.RedisPing != nil {
		if err := r.deps.RedisPing(ctx); err != nil {
			redisConnected = false
			health["status"] = healthStatusDegraded
		}
	}
	health["redis"] = gin.H{"connected": redisConnected}

	c.JSON(http.StatusOK, health)
}
