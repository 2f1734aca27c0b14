// Package distribution turns matched content into queued deliveries and
// executes them against site and network destinations.
package distribution

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/northpress/syndicate/internal/domain"
	"github.com/northpress/syndicate/internal/logger"
	"github.com/northpress/syndicate/internal/merge"
	"github.com/northpress/syndicate/internal/metrics"
	"github.com/northpress/syndicate/internal/remote"
	"github.com/northpress/syndicate/internal/store"
)

// Queue is the persistence the engine needs to enqueue and finish jobs.
type Queue interface {
	Enqueue(ctx context.Context, item *domain.DistributionItem) error
	MarkFinished(ctx context.Context, id string, status domain.DistributionStatus, dest domain.Destination, errorMsg string) error
}

// DestinationSource computes where an item should go, from cluster
// conditions.
type DestinationSource interface {
	DestinationsForItem(ctx context.Context, item *domain.ContentItem) ([]domain.Destination, error)
}

// Substituter rewrites an export batch before it leaves, swapping items held
// in review for their approved snapshots.
type Substituter interface {
	SubstituteForExport(ctx context.Context, items []domain.PreparedItem) ([]domain.PreparedItem, error)
}

// NetworkDeliverer pushes a prepared batch to one sub-site of a foreign
// network.
type NetworkDeliverer interface {
	DeliverBatch(ctx context.Context, network string, subSiteID int64, action domain.ImportAction, items []domain.PreparedItem) ([]domain.DeliveryResult, error)
}

// Engine enqueues and executes distribution jobs.
type Engine struct {
	queue       Queue
	destSource  DestinationSource
	content     store.ContentStore
	merger      *merge.Merger
	remote      NetworkDeliverer
	substituter Substituter
	metrics     *metrics.Metrics
	tracker     metrics.StatsTracker
	network     string
	logger      logger.Logger
}

// NewEngine creates a distribution engine identifying itself as the given
// network.
func NewEngine(queue Queue, destSource DestinationSource, content store.ContentStore,
	merger *merge.Merger, remote NetworkDeliverer, substituter Substituter,
	m *metrics.Metrics, tracker metrics.StatsTracker, network string, log logger.Logger,
) *Engine {
	return &Engine{
		queue:       queue,
		destSource:  destSource,
		content:     content,
		merger:      merger,
		remote:      remote,
		substituter: substituter,
		metrics:     m,
		tracker:     tracker,
		network:     network,
		logger:      log,
	}
}

// Prepare builds the export form of a root item: the item stamped with its
// global ID and sync role, plus its persisted export options.
func (e *Engine) Prepare(ctx context.Context, item *domain.ContentItem) (domain.PreparedItem, error) {
	prepared := domain.PreparedItem{Item: *item}
	prepared.Item.Meta = append([]domain.MetaEntry(nil), item.Meta...)

	if prepared.Item.MetaValue(domain.MetaGlobalID) == "" {
		gid := domain.NewGlobalID(item.SiteID, item.ID, "")
		prepared.Item.SetMeta(domain.MetaGlobalID, gid.String())
	}
	// The receiving side marks its copy linked; the connection map stays
	// with the root and must not travel.
	prepared.Item.DeleteMeta(domain.MetaConnectionMap)

	if raw := item.MetaValue(domain.MetaExportOptions); raw != "" {
		options := make(map[string]string)
		if err := json.Unmarshal([]byte(raw), &options); err != nil {
			return domain.PreparedItem{}, fmt.Errorf("decode export options: %w", err)
		}
		prepared.ExportOptions = options
	}
	return prepared, nil
}

// Distribute computes the item's destinations from cluster conditions and
// enqueues one job per destination. Items entirely held back by review leave
// nothing to enqueue; that is not an error.
func (e *Engine) Distribute(ctx context.Context, item *domain.ContentItem) error {
	destinations, err := e.destSource.DestinationsForItem(ctx, item)
	if err != nil {
		return fmt.Errorf("compute destinations: %w", err)
	}
	if len(destinations) == 0 {
		return nil
	}

	prepared, err := e.Prepare(ctx, item)
	if err != nil {
		return err
	}

	batch, err := e.substituter.SubstituteForExport(ctx, []domain.PreparedItem{prepared})
	if err != nil {
		return fmt.Errorf("substitute for export: %w", err)
	}
	if len(batch) == 0 {
		e.logger.Debug("Item held back by review, nothing to enqueue",
			logger.Int64("site_id", item.SiteID),
			logger.Int64("item_id", item.ID),
		)
		return nil
	}

	for _, dest := range destinations {
		job, err := domain.NewDistributionItem(batch, dest, "", "")
		if err != nil {
			return err
		}
		if err := e.queue.Enqueue(ctx, job); err != nil {
			return fmt.Errorf("enqueue distribution: %w", err)
		}
		e.logger.Info("Distribution enqueued",
			logger.String("distribution_id", job.ID.String()),
			logger.String("destination", dest.Key()),
			logger.Int("items", len(batch)),
		)
	}
	return nil
}

// DistributeBatch prepares the given items as one batch and enqueues exactly
// one job per destination. Used by the scheduled re-check, which already
// knows the destinations and must not fan out once per item.
func (e *Engine) DistributeBatch(ctx context.Context, items []domain.ContentItem, destinations []domain.Destination) error {
	if len(items) == 0 || len(destinations) == 0 {
		return nil
	}

	batch := make([]domain.PreparedItem, 0, len(items))
	for i := range items {
		prepared, err := e.Prepare(ctx, &items[i])
		if err != nil {
			return err
		}
		batch = append(batch, prepared)
	}

	batch, err := e.substituter.SubstituteForExport(ctx, batch)
	if err != nil {
		return fmt.Errorf("substitute for export: %w", err)
	}
	if len(batch) == 0 {
		return nil
	}

	for _, dest := range destinations {
		job, jobErr := domain.NewDistributionItem(batch, dest, "", "")
		if jobErr != nil {
			return jobErr
		}
		if err := e.queue.Enqueue(ctx, job); err != nil {
			return fmt.Errorf("enqueue batch distribution: %w", err)
		}
	}
	return nil
}

// Propagate pushes a removal or status change for a root item to every
// destination recorded in its connection map. Local linked copies are
// updated directly; remote ones get a queued network delivery carrying the
// action.
func (e *Engine) Propagate(ctx context.Context, siteID, itemID int64, action domain.ImportAction) error {
	item, err := e.content.Get(ctx, siteID, itemID)
	if errors.Is(err, domain.ErrNotFound) {
		// Hard-deleted before approval: the connection map went with it.
		e.logger.Warn("Cannot propagate, item and its connection map are gone",
			logger.Int64("site_id", siteID),
			logger.Int64("item_id", itemID),
		)
		return nil
	}
	if err != nil {
		return err
	}

	connMap, err := domain.DecodeConnectionMap(item.MetaValue(domain.MetaConnectionMap))
	if err != nil {
		return err
	}
	if len(connMap) == 0 {
		return nil
	}

	remoteSites := make(map[string][]int64)
	for key, entry := range connMap {
		network, destSiteID, keyErr := splitConnectionKey(key)
		if keyErr != nil {
			e.logger.Warn("Skipping malformed connection map key",
				logger.String("key", key), logger.Error(keyErr))
			continue
		}
		if network == "" {
			if applyErr := e.applyLocal(ctx, destSiteID, entry.LocalItemID, action); applyErr != nil {
				return applyErr
			}
			continue
		}
		remoteSites[network] = append(remoteSites[network], destSiteID)
	}

	if len(remoteSites) == 0 {
		return nil
	}

	prepared, err := e.Prepare(ctx, item)
	if err != nil {
		return err
	}
	for network, subSites := range remoteSites {
		sort.Slice(subSites, func(i, j int) bool { return subSites[i] < subSites[j] })
		job, jobErr := domain.NewDistributionItem([]domain.PreparedItem{prepared},
			domain.NetworkDestination{Network: network, SubSites: subSites, ImportAction: action}, "", "")
		if jobErr != nil {
			return jobErr
		}
		if err := e.queue.Enqueue(ctx, job); err != nil {
			return fmt.Errorf("enqueue propagation: %w", err)
		}
	}
	return nil
}

// applyLocal applies a propagated action to a linked copy on the local
// network.
func (e *Engine) applyLocal(ctx context.Context, siteID, localItemID int64, action domain.ImportAction) error {
	switch action {
	case domain.ImportActionDelete:
		if err := e.content.Delete(ctx, siteID, localItemID); err != nil && !errors.Is(err, domain.ErrNotFound) {
			return fmt.Errorf("%w: delete linked copy: %v", domain.ErrStoreWrite, err)
		}
		return nil
	case domain.ImportActionTrash, domain.ImportActionInsert, domain.ImportActionDraft:
		linked, err := e.content.Get(ctx, siteID, localItemID)
		if errors.Is(err, domain.ErrNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		switch action {
		case domain.ImportActionTrash:
			linked.Status = domain.ItemStatusTrash
		case domain.ImportActionDraft:
			linked.Status = domain.ItemStatusDraft
		default:
			linked.Status = domain.ItemStatusPublish
		}
		if err := e.content.Update(ctx, siteID, linked); err != nil {
			return fmt.Errorf("%w: update linked copy: %v", domain.ErrStoreWrite, err)
		}
		return nil
	default:
		return fmt.Errorf("unknown propagation action %q", action)
	}
}

// canonicalURL points a linked copy back at the protocol read endpoint of its
// root.
func canonicalURL(gid domain.GlobalID, ownNetwork string) string {
	rootNetwork := gid.Network
	if rootNetwork == "" {
		rootNetwork = ownNetwork
	}
	return remote.ItemURL(rootNetwork, gid)
}

// splitConnectionKey parses a connection map key back into its network and
// site parts. Keys are "{site_id}" for the local network and
// "{network}|{site_id}" elsewhere.
func splitConnectionKey(key string) (network string, siteID int64, err error) {
	network = ""
	raw := key
	if idx := strings.LastIndex(key, "|"); idx >= 0 {
		network = key[:idx]
		raw = key[idx+1:]
	}
	if _, err := fmt.Sscanf(raw, "%d", &siteID); err != nil {
		return "", 0, fmt.Errorf("parse connection key %q: %w", key, err)
	}
	return network, siteID, nil
}

// Execute runs one claimed distribution to its terminal status and persists
// the outcome. The returned status is what was recorded.
func (e *Engine) Execute(ctx context.Context, job *domain.DistributionItem) (domain.DistributionStatus, error) {
	var (
		status  domain.DistributionStatus
		dest    domain.Destination
		execErr error
	)

	switch d := job.Destination.(type) {
	case domain.SiteDestination:
		status, execErr = e.executeSite(ctx, job, d)
		dest = d
	case domain.NetworkDestination:
		status, dest, execErr = e.executeNetwork(ctx, job, d)
	default:
		status = domain.DistributionStatusFailed
		dest = job.Destination
		execErr = fmt.Errorf("%w: %T", domain.ErrInvalidDestination, job.Destination)
	}

	errMsg := ""
	if execErr != nil {
		errMsg = execErr.Error()
	}
	if err := e.queue.MarkFinished(ctx, job.ID.String(), status, dest, errMsg); err != nil {
		return status, fmt.Errorf("mark finished: %w", err)
	}

	e.metrics.DistributionsTotal.WithLabelValues(string(status)).Inc()
	e.recordOutcome(ctx, job, status)

	if execErr != nil {
		return status, fmt.Errorf("%w: %v", domain.ErrDistributionFailed, execErr)
	}
	return status, nil
}

// executeSite imports the batch into a site on the local network.
func (e *Engine) executeSite(ctx context.Context, job *domain.DistributionItem, dest domain.SiteDestination) (domain.DistributionStatus, error) {
	origin := job.OriginNetwork
	var firstErr error
	applied := 0

	for _, prepared := range job.Items {
		incoming := prepared.Item
		incoming.Meta = append([]domain.MetaEntry(nil), prepared.Item.Meta...)

		gid, gidErr := incoming.GlobalID()
		if gidErr != nil {
			e.metrics.DeliveriesTotal.WithLabelValues("site", string(domain.DeliveryStateFailed)).Inc()
			if firstErr == nil {
				firstErr = gidErr
			}
			continue
		}
		rewritten := gid.RewriteForNetwork(origin, e.network)
		incoming.SetMeta(domain.MetaGlobalID, rewritten.String())
		incoming.SetMeta(domain.MetaSyncStatus, string(domain.SyncStatusLinked))
		incoming.SetMeta(domain.MetaCanonicalURL, canonicalURL(rewritten, e.network))

		created, importErr := e.merger.ImportItem(ctx, dest.SiteID, incoming)
		if importErr != nil {
			e.metrics.DeliveriesTotal.WithLabelValues("site", string(domain.DeliveryStateFailed)).Inc()
			e.logger.Warn("Local import failed",
				logger.Int64("dest_site_id", dest.SiteID),
				logger.Int64("item_id", prepared.Item.ID),
				logger.Error(importErr),
			)
			if firstErr == nil {
				firstErr = importErr
			}
			continue
		}

		applied++
		e.metrics.DeliveriesTotal.WithLabelValues("site", string(domain.DeliveryStateApplied)).Inc()

		// Only roots on this network track their copies.
		if origin == "" && rewritten.Local() {
			if mapErr := e.updateConnectionMap(ctx, rewritten.SiteID, rewritten.ItemID,
				domain.ConnectionKey("", dest.SiteID),
				domain.ConnectionEntry{LocalItemID: created.ID}); mapErr != nil {
				e.logger.Warn("Failed to update connection map", logger.Error(mapErr))
			}
		}
	}

	switch {
	case applied == len(job.Items):
		return domain.DistributionStatusSuccess, nil
	case applied == 0:
		return domain.DistributionStatusFailed, firstErr
	default:
		return domain.DistributionStatusPartial, firstErr
	}
}

// executeNetwork delivers the batch to every sub-site of a foreign network,
// accumulating per-(sub-site, item) outcomes on the destination.
func (e *Engine) executeNetwork(ctx context.Context, job *domain.DistributionItem, dest domain.NetworkDestination) (domain.DistributionStatus, domain.Destination, error) {
	action := dest.ImportAction
	if action == "" {
		action = domain.ImportActionInsert
	}

	dest.ItemStatus = dest.ItemStatus[:0]
	var firstErr error
	applied, failed := 0, 0

	for _, subSite := range dest.SubSites {
		results, err := e.remote.DeliverBatch(ctx, dest.Network, subSite, action, job.Items)
		if err != nil {
			if firstErr == nil {
				firstErr = err
			}
			for _, prepared := range job.Items {
				dest.ItemStatus = append(dest.ItemStatus, domain.DeliveryResult{
					SiteID: subSite,
					ItemID: prepared.Item.ID,
					State:  domain.DeliveryStateFailed,
					Error:  err.Error(),
				})
				failed++
				e.metrics.DeliveriesTotal.WithLabelValues("network", string(domain.DeliveryStateFailed)).Inc()
			}
			continue
		}

		for _, result := range results {
			dest.ItemStatus = append(dest.ItemStatus, result)
			e.metrics.DeliveriesTotal.WithLabelValues("network", string(result.State)).Inc()
			if result.State == domain.DeliveryStateApplied {
				applied++
				e.recordRemoteLink(ctx, job, dest.Network, result)
			} else {
				failed++
				if firstErr == nil && result.Error != "" {
					firstErr = errors.New(result.Error)
				}
			}
		}
	}

	var status domain.DistributionStatus
	switch {
	case failed == 0 && applied > 0:
		status = domain.DistributionStatusSuccess
	case applied == 0:
		status = domain.DistributionStatusFailed
	default:
		status = domain.DistributionStatusPartial
	}
	return status, dest, firstErr
}

// recordRemoteLink updates the root item's connection map after a remote
// sub-site applied a delivery.
func (e *Engine) recordRemoteLink(ctx context.Context, job *domain.DistributionItem, network string, result domain.DeliveryResult) {
	if job.OriginNetwork != "" {
		// Re-distribution of foreign content; the root lives elsewhere.
		return
	}
	for _, prepared := range job.Items {
		if prepared.Item.ID != result.ItemID {
			continue
		}
		err := e.updateConnectionMap(ctx, prepared.Item.SiteID, prepared.Item.ID,
			domain.ConnectionKey(network, result.SiteID),
			domain.ConnectionEntry{
				LocalItemID: result.LocalItemID,
				EditLink:    result.EditLink,
				DisplayURL:  result.DisplayURL,
			})
		if err != nil {
			e.logger.Warn("Failed to update connection map",
				logger.String("network", network),
				logger.Int64("sub_site_id", result.SiteID),
				logger.Error(err),
			)
		}
		return
	}
}

// updateConnectionMap mutates one key of a root item's connection map,
// re-reading the current map so concurrent deliveries to other destinations
// are not clobbered.
func (e *Engine) updateConnectionMap(ctx context.Context, siteID, itemID int64, key string, entry domain.ConnectionEntry) error {
	root, err := e.content.Get(ctx, siteID, itemID)
	if err != nil {
		return fmt.Errorf("load root item: %w", err)
	}
	connMap, err := domain.DecodeConnectionMap(root.MetaValue(domain.MetaConnectionMap))
	if err != nil {
		return err
	}
	connMap[key] = entry
	encoded, err := domain.EncodeConnectionMap(connMap)
	if err != nil {
		return err
	}
	if err := e.content.SetMeta(ctx, siteID, itemID, domain.MetaConnectionMap, encoded); err != nil {
		return fmt.Errorf("%w: write connection map: %v", domain.ErrStoreWrite, err)
	}
	return nil
}

func (e *Engine) recordOutcome(ctx context.Context, job *domain.DistributionItem, status domain.DistributionStatus) {
	if e.tracker == nil {
		return
	}
	destKey := job.Destination.Key()

	switch status {
	case domain.DistributionStatusSuccess:
		if err := e.tracker.IncrementDelivered(ctx, destKey); err != nil {
			e.logger.Debug("Stats update failed", logger.Error(err))
		}
	case domain.DistributionStatusPartial:
		_ = e.tracker.IncrementDelivered(ctx, destKey)
		_ = e.tracker.IncrementErrors(ctx, destKey)
	case domain.DistributionStatusFailed:
		if err := e.tracker.IncrementErrors(ctx, destKey); err != nil {
			e.logger.Debug("Stats update failed", logger.Error(err))
		}
	}

	if err := e.tracker.AddRecentDelivery(ctx, metrics.RecentDelivery{
		ID:          job.ID.String(),
		Destination: destKey,
		Status:      string(status),
		Items:       len(job.Items),
		FinishedAt:  time.Now().UTC(),
	}); err != nil {
		e.logger.Debug("Recent delivery update failed", logger.Error(err))
	}
}
