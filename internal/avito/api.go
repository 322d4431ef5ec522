package avito

import (
	"context"
	"fmt"
	"net/http"
	"time"
)

// AccountInfo fetches the remote account identity.
func (c *Client) AccountInfo(ctx context.Context) (AccountInfo, error) {
	var out AccountInfo
	err := c.do(ctx, http.MethodGet, "/core/v1/accounts/self", nil, nil, &out)
	return out, err
}

// Balance fetches the wallet balance.
func (c *Client) Balance(ctx context.Context) (Balance, error) {
	var out Balance
	err := c.do(ctx, http.MethodGet, "/core/v1/accounts/balance", nil, nil, &out)
	return out, err
}

// ItemsStats fetches ad counters for the remote user.
func (c *Client) ItemsStats(ctx context.Context, userID int64) (ItemsStats, error) {
	var out ItemsStats
	err := c.do(ctx, http.MethodGet, fmt.Sprintf("/core/v1/accounts/%d/items/stats", userID), nil, nil, &out)
	return out, err
}

// CPABalance fetches the CPA wallet. Accounts without a CPA tariff get
// a zero balance instead of an error.
func (c *Client) CPABalance(ctx context.Context) (CPABalance, error) {
	var out CPABalance
	if err := c.do(ctx, http.MethodPost, "/cpa/v3/balanceInfo", nil, struct{}{}, &out); err != nil {
		c.log.Debugw("cpa balance unavailable", "err", err)
		return CPABalance{}, nil
	}
	return out, nil
}

// AggregatedStats sums unique views/contacts over the account's ads
// for the period (defaults to the last 30 days). Upstream failures
// degrade to zeros so periodic polling stays resilient.
func (c *Client) AggregatedStats(ctx context.Context, userID int64, from, to string) (AggregatedStats, error) {
	if from == "" || to == "" {
		now := c.now()
		to = now.Format("2006-01-02")
		from = now.AddDate(0, 0, -30).Format("2006-01-02")
	}

	var items struct {
		Resources []struct {
			ID int64 `json:"id"`
		} `json:"resources"`
	}
	if err := c.do(ctx, http.MethodGet, fmt.Sprintf("/core/v1/accounts/%d/items", userID), nil, nil, &items); err != nil {
		c.log.Warnw("aggregated stats: items list failed", "err", err)
		return AggregatedStats{}, nil
	}
	if len(items.Resources) == 0 {
		return AggregatedStats{}, nil
	}

	// Stats endpoint accepts at most 200 ids per request.
	ids := make([]int64, 0, 200)
	for _, it := range items.Resources {
		ids = append(ids, it.ID)
		if len(ids) == 200 {
			break
		}
	}

	var stats struct {
		Result struct {
			Items []struct {
				Stats []struct {
					UniqViews    int `json:"uniqViews"`
					UniqContacts int `json:"uniqContacts"`
				} `json:"stats"`
			} `json:"items"`
		} `json:"result"`
	}
	body := map[string]any{
		"dateFrom": from,
		"dateTo":   to,
		"itemIds":  ids,
		"fields":   []string{"uniqViews", "uniqContacts"},
	}
	if err := c.do(ctx, http.MethodPost, fmt.Sprintf("/stats/v1/accounts/%d/items", userID), nil, body, &stats); err != nil {
		c.log.Warnw("aggregated stats: stats fetch failed", "err", err)
		return AggregatedStats{AdsCount: len(items.Resources)}, nil
	}

	agg := AggregatedStats{AdsCount: len(items.Resources)}
	for _, it := range stats.Result.Items {
		for _, s := range it.Stats {
			agg.TotalViews += s.UniqViews
			agg.TotalContacts += s.UniqContacts
		}
	}
	return agg, nil
}

// HealthCheck resolves to a boolean rather than an error so polling
// loops stay simple.
func (c *Client) HealthCheck(ctx context.Context) bool {
	_, err := c.accessToken(ctx)
	return err == nil
}

// ProxyCheck verifies the proxied path can reach the marketplace.
// Without a proxy it is trivially true.
func (c *Client) ProxyCheck(ctx context.Context) bool {
	if _, ok := c.httpc.Transport.(*http.Transport); !ok {
		return true
	}
	tr, _ := c.httpc.Transport.(*http.Transport)
	if tr.Proxy == nil && tr.Dial == nil {
		return true
	}
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	var out AccountInfo
	return c.do(ctx, http.MethodGet, "/core/v1/accounts/self", nil, nil, &out) == nil
}
