// Package source fetches remote game histories as line-delimited JSON
// streams and bounded pages.
package source

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// ErrRateLimited signals a 429 from the remote source; the supervisor backs
// off rather than retrying synchronously.
var ErrRateLimited = errors.New("rate limited by remote source")

// ErrAuth signals a 401/403 from the remote source.
var ErrAuth = errors.New("remote source rejected credentials")

// Query parameterizes a history fetch.
type Query struct {
	Username string
	Vs       string // optional opponent filter
	Color    string // optional "white"/"black"
	SinceMs  int64  // inclusive lower bound, unix millis
	UntilMs  int64  // exclusive upper bound, unix millis
	Rated    *bool
	Speeds   []string
	Max      int // 0 = unbounded
}

// Client talks to the remote game history source.
type Client struct {
	baseURL string
	token   string
	http    *http.Client
	log     zerolog.Logger
}

// NewClient creates a source client with a bounded request timeout. The
// timeout covers connection and headers; streamed bodies are read under the
// caller's context.
func NewClient(baseURL, token string, log zerolog.Logger) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		http: &http.Client{
			Timeout: 0, // per-request contexts bound total time; dial below
			Transport: &http.Transport{
				ResponseHeaderTimeout: 30 * time.Second,
			},
		},
		log: log,
	}
}

func (c *Client) gamesURL(q Query) string {
	v := url.Values{}
	if q.Vs != "" {
		v.Set("vs", q.Vs)
	}
	if q.Color != "" {
		v.Set("color", q.Color)
	}
	if q.SinceMs > 0 {
		v.Set("since", strconv.FormatInt(q.SinceMs, 10))
	}
	if q.UntilMs > 0 {
		v.Set("until", strconv.FormatInt(q.UntilMs, 10))
	}
	if q.Rated != nil {
		v.Set("rated", strconv.FormatBool(*q.Rated))
	}
	if len(q.Speeds) > 0 {
		v.Set("perfType", strings.Join(q.Speeds, ","))
	}
	if q.Max > 0 {
		v.Set("max", strconv.Itoa(q.Max))
	}
	u := c.baseURL + "/api/games/user/" + url.PathEscape(q.Username)
	if enc := v.Encode(); enc != "" {
		u += "?" + enc
	}
	return u
}

func (c *Client) do(ctx context.Context, u string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/x-ndjson")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w", u, err)
	}
	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		resp.Body.Close()
		return nil, ErrRateLimited
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		resp.Body.Close()
		return nil, ErrAuth
	case resp.StatusCode != http.StatusOK:
		resp.Body.Close()
		return nil, fmt.Errorf("fetch %s: unexpected status %d", u, resp.StatusCode)
	}
	return resp, nil
}

// Stream is a line-delimited game stream. Next returns one raw record line
// at a time and io.EOF at end of history.
type Stream struct {
	body    io.ReadCloser
	scanner *bufio.Scanner
	bytes   int64
}

// Stream opens a streaming history export for the query.
func (c *Client) Stream(ctx context.Context, q Query) (*Stream, error) {
	resp, err := c.do(ctx, c.gamesURL(q))
	if err != nil {
		return nil, err
	}
	sc := bufio.NewScanner(resp.Body)
	sc.Buffer(make([]byte, 64*1024), 4*1024*1024)
	return &Stream{body: resp.Body, scanner: sc}, nil
}

// Next returns the next non-empty line, or io.EOF when the stream ends.
func (s *Stream) Next(ctx context.Context) ([]byte, error) {
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if !s.scanner.Scan() {
			if err := s.scanner.Err(); err != nil {
				return nil, err
			}
			return nil, io.EOF
		}
		line := s.scanner.Bytes()
		s.bytes += int64(len(line)) + 1
		if len(line) == 0 {
			continue
		}
		out := make([]byte, len(line))
		copy(out, line)
		return out, nil
	}
}

// BytesRead returns the number of stream bytes consumed so far.
func (s *Stream) BytesRead() int64 { return s.bytes }

// Close releases the underlying response body.
func (s *Stream) Close() error { return s.body.Close() }

// FetchPage collects up to q.Max games in one bounded request. Malformed
// lines are skipped individually and never fail the page.
func (c *Client) FetchPage(ctx context.Context, q Query) ([]GameRecord, int64, error) {
	st, err := c.Stream(ctx, q)
	if err != nil {
		return nil, 0, err
	}
	defer st.Close()

	var games []GameRecord
	for {
		line, err := st.Next(ctx)
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, st.BytesRead(), err
		}
		g, err := ParseGame(line)
		if err != nil {
			c.log.Warn().Err(err).Msg("skipping malformed game record")
			continue
		}
		games = append(games, *g)
		if q.Max > 0 && len(games) >= q.Max {
			break
		}
	}
	return games, st.BytesRead(), nil
}
