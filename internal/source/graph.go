package source

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"golang.org/x/oauth2"

	"feedwatcher/internal/model"
	"feedwatcher/internal/watcher"
)

// Fields requested for every item.
const itemFields = "id,message,created_time,updated_time,is_broadcast,attachments,reactions.limit(0).summary(true),from"

// GraphClient lists feed items through the Graph API.
type GraphClient struct {
	baseURL    string
	version    string
	httpClient *http.Client
}

// NewGraphClient creates a GraphClient authenticating with tokens from ts.
// A zero timeout leaves requests bounded only by their context.
func NewGraphClient(baseURL, version string, ts oauth2.TokenSource, timeout time.Duration) *GraphClient {
	return &GraphClient{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		version: strings.Trim(version, "/"),
		httpClient: &http.Client{
			Timeout: timeout,
			Transport: &oauth2.Transport{
				Source: oauth2.ReuseTokenSource(nil, ts),
			},
		},
	}
}

// edge returns the collection of a unit: a group's feed or a profile's posts.
func edge(kind model.FeedKind) string {
	if kind == model.FeedKindGroup {
		return "feed"
	}
	return "posts"
}

type graphError struct {
	Error *struct {
		Message string `json:"message"`
		Type    string `json:"type"`
		Code    int    `json:"code"`
	} `json:"error"`
}

// ListItems returns at most max items of the unit created within [since, until].
func (c *GraphClient) ListItems(ctx context.Context, unitID string, kind model.FeedKind, since, until time.Time, max int) ([]model.SourcePost, error) {
	if unitID == "" {
		return nil, fmt.Errorf("unit id is required")
	}

	q := url.Values{}
	q.Set("fields", itemFields)
	if max > 0 {
		q.Set("limit", strconv.Itoa(max))
	}
	if !since.IsZero() {
		q.Set("since", strconv.FormatInt(since.Unix(), 10))
	}
	if !until.IsZero() {
		q.Set("until", strconv.FormatInt(until.Unix(), 10))
	}
	endpoint := fmt.Sprintf("%s/%s/%s/%s?%s", c.baseURL, c.version, url.PathEscape(unitID), edge(kind), q.Encode())

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("requesting %s items: %w", unitID, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		var ge graphError
		if json.Unmarshal(body, &ge) == nil && ge.Error != nil && ge.Error.Message != "" {
			return nil, fmt.Errorf("feed source returned %d: %s", resp.StatusCode, ge.Error.Message)
		}
		return nil, fmt.Errorf("feed source returned %d", resp.StatusCode)
	}

	var page struct {
		Data *[]model.SourcePost `json:"data"`
	}
	if err := json.Unmarshal(body, &page); err != nil {
		return nil, fmt.Errorf("decoding response: %w", err)
	}
	if page.Data == nil {
		return nil, ErrNoData
	}

	items := *page.Data
	if max > 0 && len(items) > max {
		items = items[:max]
	}
	return items, nil
}

var _ watcher.FeedSource = (*GraphClient)(nil)
