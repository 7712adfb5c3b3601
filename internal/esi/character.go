package esi

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
)

// Character is the public profile from /characters/{character_id}/.
type Character struct {
	Name           string    `json:"name"`
	CorporationID  int64     `json:"corporation_id"`
	AllianceID     int64     `json:"alliance_id,omitempty"`
	Birthday       time.Time `json:"birthday"`
	SecurityStatus float64   `json:"security_status"`
}

// Character fetches a character's public profile. No token is required.
func (c *Client) Character(ctx context.Context, characterID int64) (*Character, error) {
	p, err := c.FetchPage(ctx, fmt.Sprintf("/characters/%d/", characterID), nil, 0)
	if err != nil {
		return nil, fmt.Errorf("get character %d: %w", characterID, err)
	}

	var ch Character
	if err := json.Unmarshal(p.Body, &ch); err != nil {
		return nil, fmt.Errorf("unmarshal character: %w", err)
	}
	return &ch, nil
}
