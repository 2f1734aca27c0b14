package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/northpress/syndicate/internal/domain"
	"github.com/northpress/syndicate/internal/logger"
	"github.com/northpress/syndicate/internal/remote"
)

// protocolHealth answers peer reachability probes.
func (r *Router) protocolHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  healthStatusHealthy,
		"network": r.deps.Config.Network.Name,
	})
}

// getItem serves one item by global ID to peers and anonymous readers.
func (r *Router) getItem(c *gin.Context) {
	gid, ok := parseGID(c)
	if !ok {
		return
	}

	item, err := r.deps.Resolver.Resolve(c.Request.Context(), gid)
	if err != nil {
		handleDomainError(c, err, "item", "resolve")
		return
	}
	c.JSON(http.StatusOK, gin.H{"item": item})
}

// getPreparedItem serves the export form of an item, with its dependency
// closure computed on this side so callers never resolve dependents one by
// one.
func (r *Router) getPreparedItem(c *gin.Context) {
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

	prepared, err := r.deps.Dist.Prepare(ctx, item)
	if err != nil {
		handleDomainError(c, err, "item", "prepare")
		return
	}
	c.JSON(http.StatusOK, gin.H{"items": []domain.PreparedItem{prepared}})
}

// acceptDelivery applies a batch delivered by a peer network to one of our
// sub-sites and reports per-item outcomes.
func (r *Router) acceptDelivery(c *gin.Context) {
	var req remote.DeliveryRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	origin := originNetwork(c)
	if origin == "" {
		origin = req.OriginNetwork
	}
	if !req.ImportAction.Valid() {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Unknown import action"})
		return
	}

	results := make([]domain.DeliveryResult, 0, len(req.Items))
	for _, prepared := range req.Items {
		results = append(results, r.applyDelivery(c, origin, req.SubSiteID, req.ImportAction, prepared))
	}

	r.deps.Logger.Info("Delivery accepted",
		logger.String("origin", origin),
		logger.Int64("sub_site_id", req.SubSiteID),
		logger.String("action", string(req.ImportAction)),
		logger.Int("items", len(req.Items)))

	c.JSON(http.StatusOK, remote.DeliveryResponse{Results: results})
}

func (r *Router) applyDelivery(c *gin.Context, origin string, subSiteID int64, action domain.ImportAction, prepared domain.PreparedItem) domain.DeliveryResult {
	ctx := c.Request.Context()
	result := domain.DeliveryResult{
		SiteID: subSiteID,
		ItemID: prepared.Item.ID,
	}

	incoming := prepared.Item
	incoming.Meta = append([]domain.MetaEntry(nil), prepared.Item.Meta...)

	gid, err := incoming.GlobalID()
	if err != nil {
		result.State = domain.DeliveryStateFailed
		result.Error = "item carries no global ID"
		return result
	}
	rewritten := gid.RewriteForNetwork(origin, r.deps.Config.Network.Name)
	incoming.SetMeta(domain.MetaGlobalID, rewritten.String())
	incoming.SetMeta(domain.MetaSyncStatus, string(domain.SyncStatusLinked))

	rootNetwork := rewritten.Network
	if rootNetwork == "" {
		rootNetwork = r.deps.Config.Network.Name
	}
	incoming.SetMeta(domain.MetaCanonicalURL, remote.ItemURL(rootNetwork, rewritten))

	switch action {
	case domain.ImportActionTrash, domain.ImportActionDelete:
		removed, remErr := r.deps.Merger.ApplyRemoval(ctx, subSiteID, incoming.Type, rewritten.String(), action)
		if remErr != nil {
			result.State = domain.DeliveryStateFailed
			result.Error = remErr.Error()
			return result
		}
		result.State = domain.DeliveryStateApplied
		if removed != nil {
			result.LocalItemID = removed.ID
		}
		return result

	default:
		if action == domain.ImportActionDraft {
			incoming.Status = domain.ItemStatusDraft
		}
		created, impErr := r.deps.Merger.ImportItem(ctx, subSiteID, incoming)
		if impErr != nil {
			result.State = domain.DeliveryStateFailed
			result.Error = impErr.Error()
			return result
		}
		result.State = domain.DeliveryStateApplied
		result.LocalItemID = created.ID
		return result
	}
}
