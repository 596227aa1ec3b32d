// SPDX-License-Identifier: MIT

package repository

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"time"
)

// snapshotStatus values reported by the search API.
const (
	statusRunning    = "RUNNING"
	statusSuccessful = "SUCCESSFUL"
)

// FindAllByCriteria runs a snapshot search: trigger the snapshot, poll its
// status until SUCCESSFUL, then fetch the first result page.
func (c *Client) FindAllByCriteria(ctx context.Context, meta Meta, criteria any) ([]map[string]any, error) {
	var snapshotID string
	path := fmt.Sprintf("search/snapshot/%s/%s", url.PathEscape(meta.Model), url.PathEscape(meta.Version))
	if err := c.do(ctx, http.MethodPost, path, criteria, &snapshotID); err != nil {
		return nil, err
	}

	if err := c.waitForSearch(ctx, snapshotID); err != nil {
		return nil, err
	}

	var page struct {
		Page struct {
			TotalElements int `json:"totalElements"`
		} `json:"page"`
		Embedded struct {
			ObjectNodes []struct {
				Data map[string]any `json:"data"`
				Meta struct {
					ID string `json:"id"`
				} `json:"meta"`
			} `json:"objectNodes"`
		} `json:"_embedded"`
	}
	if err := c.do(ctx, http.MethodGet, "search/snapshot/"+url.PathEscape(snapshotID), nil, &page); err != nil {
		return nil, err
	}
	if page.Page.TotalElements == 0 {
		return nil, nil
	}

	entities := make([]map[string]any, 0, len(page.Embedded.ObjectNodes))
	for _, node := range page.Embedded.ObjectNodes {
		entity := node.Data
		if entity == nil {
			entity = map[string]any{}
		}
		if entity["technical_id"] == nil || entity["technical_id"] == "" {
			entity["technical_id"] = node.Meta.ID
		}
		entities = append(entities, entity)
	}
	return entities, nil
}

// FindFirstByCriteria returns the first match, or nil when nothing matches.
func (c *Client) FindFirstByCriteria(ctx context.Context, meta Meta, criteria any) (map[string]any, error) {
	entities, err := c.FindAllByCriteria(ctx, meta, criteria)
	if err != nil {
		return nil, err
	}
	if len(entities) == 0 {
		return nil, nil
	}
	return entities[0], nil
}

// waitForSearch polls the snapshot status endpoint at a fixed interval until
// the search succeeds, fails, or the overall timeout elapses.
func (c *Client) waitForSearch(ctx context.Context, snapshotID string) error {
	deadline := time.Now().Add(c.searchTimeout)
	path := "search/snapshot/" + url.PathEscape(snapshotID) + "/status"

	for {
		var status struct {
			SnapshotStatus string `json:"snapshotStatus"`
		}
		if err := c.do(ctx, http.MethodGet, path, nil, &status); err != nil {
			return err
		}
		switch status.SnapshotStatus {
		case statusSuccessful:
			return nil
		case statusRunning:
		default:
			return fmt.Errorf("repository: snapshot search %s failed with status %q", snapshotID, status.SnapshotStatus)
		}

		if time.Now().After(deadline) {
			return fmt.Errorf("repository: snapshot search %s timed out after %s", snapshotID, c.searchTimeout)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(c.pollInterval):
		}
	}
}
