package source

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/url"
)

// UserInfo is a minimal view of a remote account: total game counts and
// current per-speed ratings.
type UserInfo struct {
	Username string         `json:"username"`
	Count    map[string]int `json:"count"` // "all", "rated", ...
	Perfs    map[string]struct {
		Rating int `json:"rating"`
	} `json:"perfs"`
}

// User fetches account metadata. Callers that only need a best-effort probe
// should pass a context with a short deadline; failures here must never
// block an import from starting.
func (c *Client) User(ctx context.Context, username string) (*UserInfo, error) {
	u := c.baseURL + "/api/user/" + url.PathEscape(username)
	resp, err := c.do(ctx, u)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, err
	}
	var info UserInfo
	if err := json.Unmarshal(body, &info); err != nil {
		return nil, fmt.Errorf("parse user info: %w", err)
	}
	return &info, nil
}

// TotalGames returns the account's total game count, 0 if unknown.
func (u *UserInfo) TotalGames() int {
	if u == nil || u.Count == nil {
		return 0
	}
	return u.Count["all"]
}

// Rating returns the current rating for a speed tier, 0 if unknown.
func (u *UserInfo) Rating(speed string) int {
	if u == nil {
		return 0
	}
	p, ok := u.Perfs[speed]
	if !ok {
		return 0
	}
	return p.Rating
}
