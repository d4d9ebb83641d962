package apiclient

import (
	"context"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/spigell/assessment-recommender/internal/recommend"
	"go.uber.org/zap"
)

const (
	defaultTimeout = 30 * time.Second
	userAgent      = "spigell/assessment-recommender"
)

// Client talks to a running recommendation API.
type Client struct {
	logger     *zap.Logger
	HTTPClient *http.Client
	UserAgent  string
	APIURL     string
}

func New(logger *zap.Logger, apiURL string) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{
		APIURL: strings.TrimRight(apiURL, "/"),
		HTTPClient: &http.Client{
			Timeout: defaultTimeout,
		},
		logger:    logger,
		UserAgent: userAgent,
	}
}

// Health reports whether the API answers its health check.
func (c *Client) Health(ctx context.Context) error {
	var status struct {
		Status string `json:"status"`
	}
	return c.getJSON(ctx, c.APIURL+"/health", nil, &status)
}

// Recommend fetches recommendations for q.
func (c *Client) Recommend(ctx context.Context, q string, maxResults int) ([]recommend.Recommendation, error) {
	params := url.Values{}
	params.Set("query", q)
	if maxResults > 0 {
		params.Set("max_results", strconv.Itoa(maxResults))
	}

	var response RecommendResponse
	if err := c.getJSON(ctx, c.APIURL+"/recommend", params, &response); err != nil {
		return nil, err
	}

	c.logger.Debug("got recommendations from api", zap.Int("count", len(response.Recommendations)))
	return response.Recommendations, nil
}

// RecommendNames returns only the names of the recommendations, best first.
func (c *Client) RecommendNames(ctx context.Context, q string, maxResults int) ([]string, error) {
	recs, err := c.Recommend(ctx, q, maxResults)
	if err != nil {
		return nil, err
	}

	names := make([]string, 0, len(recs))
	for _, r := range recs {
		names = append(names, r.Name)
	}
	return names, nil
}
