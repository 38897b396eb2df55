/**
 * @description
 * This package provides a client for communicating with the group-membership service.
 * The settlement engine calls it exactly once per order, at payment confirmation, to
 * capture the membership snapshot that the eventual settlement will pay out against.
 */
package groupclient

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gigvault/wallet-service/internal/domain"
)

// Client is a client for the group-membership service.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

// NewClient creates a new group-membership service client.
func NewClient(baseURL string, apiKey string) *Client {
	return &Client{
		baseURL:    strings.TrimRight(strings.TrimSpace(baseURL), "/"),
		apiKey:     apiKey,
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
}

// membershipResponse is the wire shape returned by the group service.
type membershipResponse struct {
	LeaderAccountID  string   `json:"leader_account_id"`
	MemberAccountIDs []string `json:"member_account_ids"`
}

// GroupSnapshot fetches the current membership of a group: its leader account and
// the member accounts that will share the order's distribution.
func (c *Client) GroupSnapshot(ctx context.Context, groupID string) (*domain.GroupSnapshot, error) {
	if c.baseURL == "" {
		return nil, fmt.Errorf("group service base url is empty")
	}

	endpoint := fmt.Sprintf("%s/internal/groups/%s/membership", c.baseURL, url.PathEscape(groupID))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	if strings.TrimSpace(c.apiKey) != "" {
		req.Header.Set("X-Internal-API-Key", strings.TrimSpace(c.apiKey))
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to execute request to group service: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, fmt.Errorf("group %s not found", groupID)
	}
	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("group service returned error status %d", resp.StatusCode)
	}

	var body membershipResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}
	if body.LeaderAccountID == "" {
		return nil, fmt.Errorf("group %s has no leader", groupID)
	}

	return &domain.GroupSnapshot{
		LeaderAccountID:  body.LeaderAccountID,
		MemberAccountIDs: body.MemberAccountIDs,
	}, nil
}
