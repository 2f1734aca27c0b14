// Package remote speaks the syndication protocol to foreign networks over
// HTTP.
package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/northpress/syndicate/internal/domain"
	"github.com/northpress/syndicate/internal/logger"
)

// BasePath namespaces every syndication endpoint on both sides of the wire.
const BasePath = "/api/syndicate/v1"

const tokenLifetime = 2 * time.Minute

// ConnectionSource looks up the credential for a known peer.
type ConnectionSource interface {
	GetByNetwork(ctx context.Context, network string) (*domain.SiteConnection, error)
}

// Client calls foreign networks. Known connections authenticate with a
// signed token; unknown peers get unauthenticated public reads only.
type Client struct {
	httpClient  *http.Client
	connections ConnectionSource
	network     string
	timeout     time.Duration
	logger      logger.Logger
}

// NewClient creates a remote client identifying itself as the given network.
func NewClient(connections ConnectionSource, network string, timeout time.Duration, log logger.Logger) *Client {
	return &Client{
		httpClient:  &http.Client{Timeout: timeout},
		connections: connections,
		network:     network,
		timeout:     timeout,
		logger:      log,
	}
}

// baseURL turns a network locator into a URL prefix. Locators without a
// scheme default to https.
func baseURL(network string) string {
	if strings.HasPrefix(network, "http://") || strings.HasPrefix(network, "https://") {
		return strings.TrimSuffix(network, "/") + BasePath
	}
	return "https://" + strings.TrimSuffix(network, "/") + BasePath
}

// ItemURL returns the public protocol URL serving an item on its origin
// network, used as the canonical URL of linked copies. The locator part of
// the gid is dropped; the URL already names the network.
func ItemURL(network string, gid domain.GlobalID) string {
	return fmt.Sprintf("%s/items/%d-%d", baseURL(network), gid.SiteID, gid.ItemID)
}

// signToken builds a short-lived HS256 token identifying this network to the
// peer.
func (c *Client) signToken(secret string) (string, error) {
	now := time.Now()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Issuer:    c.network,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(tokenLifetime)),
	})
	signed, err := token.SignedString([]byte(secret))
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return signed, nil
}

// do performs one request against a peer, authenticating when a usable
// connection exists. Transport failures wrap ErrRemoteUnreachable.
func (c *Client) do(ctx context.Context, network, method, path string, body, out any) error {
	reqCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	var reqBody *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		reqBody = bytes.NewReader(data)
	} else {
		reqBody = bytes.NewReader(nil)
	}

	url := baseURL(network) + path
	req, err := http.NewRequestWithContext(reqCtx, method, url, reqBody)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	conn, connErr := c.connections.GetByNetwork(ctx, network)
	if connErr == nil && conn.Usable() {
		token, signErr := c.signToken(conn.Secret)
		if signErr != nil {
			return signErr
		}
		req.Header.Set("Authorization", "Bearer "+token)
	} else if connErr != nil && !errors.Is(connErr, domain.ErrNotFound) {
		return fmt.Errorf("load connection: %w", connErr)
	}

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	duration := time.Since(start)

	if err != nil {
		c.logger.Warn("Remote call failed",
			logger.String("network", network),
			logger.String("path", path),
			logger.Duration("duration", duration),
			logger.Error(err),
		)
		return fmt.Errorf("%w: %s: %v", domain.ErrRemoteUnreachable, network, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return fmt.Errorf("%w: %s%s", domain.ErrNotFound, network, path)
	case resp.StatusCode >= http.StatusInternalServerError:
		return fmt.Errorf("%w: %s returned status %d", domain.ErrRemoteUnreachable, network, resp.StatusCode)
	case resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated:
		return fmt.Errorf("remote %s returned status %d", network, resp.StatusCode)
	}

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("decode response: %w", err)
		}
	}
	return nil
}

type itemResponse struct {
	Item domain.ContentItem `json:"item"`
}

// ResolveItem fetches the item a global ID addresses from its home network.
func (c *Client) ResolveItem(ctx context.Context, gid domain.GlobalID) (*domain.ContentItem, error) {
	var resp itemResponse
	if err := c.do(ctx, gid.Network, http.MethodGet, "/items/"+gid.String(), nil, &resp); err != nil {
		return nil, err
	}
	return &resp.Item, nil
}

type preparedResponse struct {
	Items []domain.PreparedItem `json:"items"`
}

// ResolveForImport fetches the full dependency closure of a global ID. The
// remote side computes the closure; the caller does not resolve dependents
// item by item.
func (c *Client) ResolveForImport(ctx context.Context, gid domain.GlobalID) ([]domain.PreparedItem, error) {
	var resp preparedResponse
	if err := c.do(ctx, gid.Network, http.MethodGet, "/items/"+gid.String()+"/prepared", nil, &resp); err != nil {
		return nil, err
	}
	return resp.Items, nil
}

// DeliveryRequest is the wire form of one batch delivery to one sub-site.
type DeliveryRequest struct {
	OriginNetwork string                `json:"origin_network"`
	SubSiteID     int64                 `json:"sub_site_id"`
	ImportAction  domain.ImportAction   `json:"import_action"`
	Items         []domain.PreparedItem `json:"items"`
}

// DeliveryResponse carries the per-item outcomes reported by the remote side.
type DeliveryResponse struct {
	Results []domain.DeliveryResult `json:"results"`
}

// DeliverBatch delivers a prepared batch to one sub-site of a foreign
// network and returns the per-item outcomes.
func (c *Client) DeliverBatch(ctx context.Context, network string, subSiteID int64, action domain.ImportAction, items []domain.PreparedItem) ([]domain.DeliveryResult, error) {
	req := DeliveryRequest{
		OriginNetwork: c.network,
		SubSiteID:     subSiteID,
		ImportAction:  action,
		Items:         items,
	}

	var resp DeliveryResponse
	if err := c.do(ctx, network, http.MethodPost, "/deliveries", req, &resp); err != nil {
		return nil, err
	}
	return resp.Results, nil
}

// Ping checks whether a peer is reachable and willing to talk.
func (c *Client) Ping(ctx context.Context, network string) error {
	return c.do(ctx, network, http.MethodGet, "/health", nil, nil)
}
