package identity

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/redis/go-redis/v9"
)

// Profile is the display identity owned by the external identity provider.
type Profile struct {
	ID       string  `json:"id"`
	Name     string  `json:"name"`
	ImageURL *string `json:"image_url"`
}

// Client calls the external identity provider for display profiles. Lookups
// are best-effort: aggregation callers degrade to nil image URLs when the
// provider is slow or down, they never fail the request.
type Client struct {
	BaseURL  string
	HTTP     *http.Client
	Skip     bool
	cache    *redis.Client
	cacheTTL time.Duration
}

// New creates a client. cache may be nil to disable profile caching.
func New(baseURL string, skip bool, cache *redis.Client, cacheTTL time.Duration) *Client {
	if cacheTTL <= 0 {
		cacheTTL = 10 * time.Minute
	}
	return &Client{
		BaseURL: baseURL,
		Skip:    skip,
		HTTP: &http.Client{
			Timeout: 5 * time.Second,
		},
		cache:    cache,
		cacheTTL: cacheTTL,
	}
}

// Profiles resolves display profiles for a batch of member ids. Ids unknown
// to the provider are simply absent from the result map.
func (c *Client) Profiles(ctx context.Context, ids []string) (map[string]Profile, error) {
	if len(ids) == 0 {
		return map[string]Profile{}, nil
	}
	if c.Skip {
		out := make(map[string]Profile, len(ids))
		for _, id := range ids {
			out[id] = Profile{ID: id, Name: "Member " + id}
		}
		return out, nil
	}

	out := make(map[string]Profile, len(ids))
	missing := ids
	if c.cache != nil {
		missing = c.fillFromCache(ctx, ids, out)
	}
	if len(missing) == 0 {
		return out, nil
	}

	fetched, err := c.fetchBatch(ctx, missing)
	if err != nil {
		return nil, err
	}
	for id, p := range fetched {
		out[id] = p
		if c.cache != nil {
			if raw, err := json.Marshal(p); err == nil {
				_ = c.cache.Set(ctx, cacheKey(id), raw, c.cacheTTL).Err()
			}
		}
	}
	return out, nil
}

// fillFromCache copies cached profiles into out and returns the ids that
// still need a provider round trip.
func (c *Client) fillFromCache(ctx context.Context, ids []string, out map[string]Profile) []string {
	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = cacheKey(id)
	}
	vals, err := c.cache.MGet(ctx, keys...).Result()
	if err != nil {
		return ids
	}
	var missing []string
	for i, v := range vals {
		raw, ok := v.(string)
		if !ok {
			missing = append(missing, ids[i])
			continue
		}
		var p Profile
		if err := json.Unmarshal([]byte(raw), &p); err != nil {
			missing = append(missing, ids[i])
			continue
		}
		out[ids[i]] = p
	}
	return missing
}

func (c *Client) fetchBatch(ctx context.Context, ids []string) (map[string]Profile, error) {
	body, _ := json.Marshal(map[string][]string{"ids": ids})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+"/v1/profiles/batch", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return nil, fmt.Errorf("identity provider request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		bodyBytes, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("identity provider error %s: %s", resp.Status, string(bodyBytes))
	}

	var out struct {
		Profiles []Profile `json:"profiles"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}

	profiles := make(map[string]Profile, len(out.Profiles))
	for _, p := range out.Profiles {
		profiles[p.ID] = p
	}
	return profiles, nil
}

func cacheKey(id string) string {
	return "identity:profile:" + id
}
