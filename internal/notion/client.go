package notion

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/avast/retry-go/v4"
	"github.com/sirupsen/logrus"

	"github.com/notionfolio/notionfolio/internal/config"
	"github.com/notionfolio/notionfolio/internal/logging"
	"github.com/notionfolio/notionfolio/internal/version"
)

// maxResponseBytes bounds how much of a response body is read into memory.
const maxResponseBytes = 32 << 20

// ClientOptions configures a Client.
type ClientOptions struct {
	BaseURL        string
	Token          string
	Version        string
	PageSize       int
	MaxRetries     int
	InitialBackoff time.Duration
	HTTPClient     *http.Client
	Logger         *logrus.Logger
}

// Client is the REST client for the remote content API. Every method is a
// single logical request; transient failures (429, 5xx, network errors) are
// retried with exponential backoff before the last error is returned.
type Client struct {
	baseURL    *url.URL
	token      string
	version    string
	pageSize   int
	maxRetries int
	backoff    time.Duration
	http       *http.Client
	logger     *logrus.Logger
}

// NewClient validates the options and builds a Client.
func NewClient(opts ClientOptions) (*Client, error) {
	if strings.TrimSpace(opts.Token) == "" {
		return nil, errors.New("notion token required")
	}
	base, err := url.Parse(strings.TrimRight(opts.BaseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("parse base url: %w", err)
	}
	if base.Scheme == "" || base.Host == "" {
		return nil, fmt.Errorf("invalid base url: %q", opts.BaseURL)
	}

	c := &Client{
		baseURL:    base,
		token:      opts.Token,
		version:    opts.Version,
		pageSize:   opts.PageSize,
		maxRetries: opts.MaxRetries,
		backoff:    opts.InitialBackoff,
		http:       opts.HTTPClient,
		logger:     opts.Logger,
	}
	if c.version == "" {
		c.version = config.DefaultAPIVersion
	}
	if c.pageSize <= 0 || c.pageSize > 100 {
		c.pageSize = 100
	}
	if c.maxRetries < 0 {
		c.maxRetries = 0
	}
	if c.backoff <= 0 {
		c.backoff = time.Second
	}
	if c.http == nil {
		c.http = NewHTTPClient(defaultTimeout)
	}
	if c.logger == nil {
		c.logger = logging.Discard()
	}
	return c, nil
}

// NewClientFromConfig builds a Client from the [Notion] config section.
func NewClientFromConfig(cfg config.NotionConfig, logger *logrus.Logger) (*Client, error) {
	return NewClient(ClientOptions{
		BaseURL:        cfg.BaseURL,
		Token:          cfg.Token,
		Version:        cfg.Version,
		PageSize:       cfg.PageSize,
		MaxRetries:     cfg.MaxRetries,
		InitialBackoff: cfg.InitialBackoff.DurationValue(),
		HTTPClient:     NewHTTPClient(cfg.Timeout.DurationValue()),
		Logger:         logger,
	})
}

// RetrievePage fetches page metadata, including its last-edited timestamp.
func (c *Client) RetrievePage(ctx context.Context, pageID string) (*Page, error) {
	var page Page
	if err := c.do(ctx, "retrieve_page", pageID, http.MethodGet, "/pages/"+pageID, nil, nil, &page); err != nil {
		return nil, err
	}
	return &page, nil
}

// ListChildren fetches one page of a block's children. An empty cursor asks
// for the first page.
func (c *Client) ListChildren(ctx context.Context, blockID, cursor string) (*ChildrenPage, error) {
	query := url.Values{}
	query.Set("page_size", strconv.Itoa(c.pageSize))
	if cursor != "" {
		query.Set("start_cursor", cursor)
	}

	var page ChildrenPage
	path := "/blocks/" + blockID + "/children"
	if err := c.do(ctx, "list_children", blockID, http.MethodGet, path, query, nil, &page); err != nil {
		return nil, err
	}
	return &page, nil
}

// QueryDatabase fetches one page of database query results.
func (c *Client) QueryDatabase(ctx context.Context, databaseID string, q DatabaseQuery, cursor string) (*QueryPage, error) {
	q.StartCursor = cursor
	if q.PageSize <= 0 {
		q.PageSize = c.pageSize
	}
	body, err := json.Marshal(q)
	if err != nil {
		return nil, fmt.Errorf("encode query: %w", err)
	}

	var page QueryPage
	path := "/databases/" + databaseID + "/query"
	if err := c.do(ctx, "query_database", databaseID, http.MethodPost, path, nil, body, &page); err != nil {
		return nil, err
	}
	return &page, nil
}

func (c *Client) do(ctx context.Context, op, id, method, path string, query url.Values, body []byte, out any) error {
	endpoint := c.endpoint(path, query)

	return retry.Do(
		func() error {
			var reader io.Reader
			if body != nil {
				reader = bytes.NewReader(body)
			}
			req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
			if err != nil {
				return fmt.Errorf("build %s request: %w", op, err)
			}
			req.Header.Set("Authorization", "Bearer "+c.token)
			req.Header.Set("Notion-Version", c.version)
			req.Header.Set("User-Agent", version.UserAgent())
			req.Header.Set("Accept", "application/json")
			if body != nil {
				req.Header.Set("Content-Type", "application/json")
			}

			resp, err := c.http.Do(req)
			if err != nil {
				return fmt.Errorf("%s %s: %w", op, id, err)
			}
			defer resp.Body.Close()

			data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
			if err != nil {
				return fmt.Errorf("read %s response: %w", op, err)
			}
			if resp.StatusCode < 200 || resp.StatusCode > 299 {
				return decodeAPIError(resp.StatusCode, data, resp.Header.Get("Retry-After"))
			}
			if err := json.Unmarshal(data, out); err != nil {
				return fmt.Errorf("decode %s response: %w", op, err)
			}
			return nil
		},
		retry.Attempts(uint(c.maxRetries)+1),
		retry.Delay(c.backoff),
		retry.MaxDelay(30*time.Second),
		retry.DelayType(retryAfterDelay),
		retry.LastErrorOnly(true),
		retry.RetryIf(isRetryable),
		retry.OnRetry(func(n uint, err error) {
			c.logger.WithError(err).
				WithFields(logging.RemoteFields(op, id, n+1)).
				Warn("notion_retry")
		}),
		retry.Context(ctx),
	)
}

func (c *Client) endpoint(path string, query url.Values) string {
	u := *c.baseURL
	u.Path = strings.TrimRight(u.Path, "/") + path
	u.RawPath = ""
	if len(query) > 0 {
		u.RawQuery = query.Encode()
	}
	return u.String()
}

// retryAfterDelay honours a Retry-After hint on 429 responses and otherwise
// backs off exponentially.
func retryAfterDelay(n uint, err error, cfg *retry.Config) time.Duration {
	var apiErr *APIError
	if errors.As(err, &apiErr) && apiErr.RetryAfter > 0 {
		return apiErr.RetryAfter
	}
	return retry.BackOffDelay(n, err, cfg)
}
