package esi

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"
)

// MarketOrders fetches every order of one type in a region, walking all pages.
func (c *Client) MarketOrders(ctx context.Context, regionID, typeID int64) ([]Order, error) {
	params := url.Values{}
	params.Set("order_type", "all")
	params.Set("type_id", strconv.FormatInt(typeID, 10))

	path := fmt.Sprintf("/markets/%d/orders/", regionID)

	var orders []Order
	err := c.walkPages(ctx, path, params, "", func(body []byte) (int, error) {
		var rows []Order
		if err := json.Unmarshal(body, &rows); err != nil {
			return 0, fmt.Errorf("unmarshal orders: %w", err)
		}
		orders = append(orders, rows...)
		return len(rows), nil
	})
	if err != nil {
		return nil, fmt.Errorf("get orders %d/%d: %w", regionID, typeID, err)
	}

	return orders, nil
}

// MarketTypes fetches the ids of every type with active orders in a region.
// A non-empty etag is sent with the first page; if the catalog is unchanged
// the result has NotModified set.
func (c *Client) MarketTypes(ctx context.Context, regionID int64, etag string) (*TypeList, error) {
	path := fmt.Sprintf("/markets/%d/types/", regionID)

	first, err := c.FetchPageIfNoneMatch(ctx, path, nil, 1, etag)
	if err != nil {
		return nil, fmt.Errorf("get types %d: %w", regionID, err)
	}
	if first.NotModified {
		return &TypeList{ETag: etag, NotModified: true}, nil
	}

	list := &TypeList{ETag: first.ETag}
	decode := func(body []byte) (int, error) {
		var ids []int64
		if err := json.Unmarshal(body, &ids); err != nil {
			return 0, fmt.Errorf("unmarshal types: %w", err)
		}
		list.TypeIDs = append(list.TypeIDs, ids...)
		return len(ids), nil
	}

	n, err := decode(first.Body)
	if err != nil {
		return nil, err
	}
	if n == 0 || first.TotalPages <= 1 {
		return list, nil
	}

	for page := 2; page <= first.TotalPages; page++ {
		p, err := c.FetchPage(ctx, path, nil, page)
		if err != nil {
			return nil, fmt.Errorf("get types %d page %d: %w", regionID, page, err)
		}
		if p.NotModified {
			break
		}
		n, err := decode(p.Body)
		if err != nil {
			return nil, err
		}
		if n == 0 {
			break
		}
	}

	return list, nil
}

// MarketHistory fetches the daily history of one type in a region, oldest first.
func (c *Client) MarketHistory(ctx context.Context, regionID, typeID int64) ([]HistoryDay, error) {
	params := url.Values{}
	params.Set("type_id", strconv.FormatInt(typeID, 10))

	p, err := c.FetchPage(ctx, fmt.Sprintf("/markets/%d/history/", regionID), params, 0)
	if err != nil {
		return nil, fmt.Errorf("get history %d/%d: %w", regionID, typeID, err)
	}
	if p.NotModified {
		return nil, nil
	}

	var days []HistoryDay
	if err := json.Unmarshal(p.Body, &days); err != nil {
		return nil, fmt.Errorf("unmarshal history: %w", err)
	}
	return days, nil
}

// Status fetches the server status.
func (c *Client) Status(ctx context.Context) (*ServerStatus, error) {
	p, err := c.FetchPage(ctx, "/status/", nil, 0)
	if err != nil {
		return nil, fmt.Errorf("get status: %w", err)
	}

	var st ServerStatus
	if err := json.Unmarshal(p.Body, &st); err != nil {
		return nil, fmt.Errorf("unmarshal status: %w", err)
	}
	return &st, nil
}

// walkPages fetches page 1..X-Pages, handing each body to decode.
// Iteration stops early on an empty page or a 304.
func (c *Client) walkPages(ctx context.Context, path string, params url.Values, etag string, decode func([]byte) (int, error)) error {
	for page := 1; ; page++ {
		var tag string
		if page == 1 {
			tag = etag
		}
		p, err := c.FetchPageIfNoneMatch(ctx, path, params, page, tag)
		if err != nil {
			return err
		}
		if p.NotModified {
			return nil
		}

		n, err := decode(p.Body)
		if err != nil {
			return err
		}
		if n == 0 || page >= p.TotalPages {
			return nil
		}
	}
}
