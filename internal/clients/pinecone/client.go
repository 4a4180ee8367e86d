package pinecone

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/spoolhq/content-service/internal/platform/envutil"
	"github.com/spoolhq/content-service/internal/platform/logger"
)

type Client interface {
	DescribeIndex(ctx context.Context, indexName string) (*IndexDescription, error)
	UpsertVectors(ctx context.Context, host string, req UpsertRequest) (*UpsertResponse, error)
	Query(ctx context.Context, host string, req QueryRequest) (*QueryResponse, error)
	FetchVectors(ctx context.Context, host string, namespace string, ids []string) (*FetchResponse, error)
	ListVectorIDs(ctx context.Context, host string, req ListRequest) (*ListResponse, error)
	DeleteVectors(ctx context.Context, host string, req DeleteRequest) error
}

type Config struct {
	APIKey     string
	APIVersion string
	BaseURL    string
	Timeout    time.Duration
}

type client struct {
	log  *logger.Logger
	cfg  Config
	http *http.Client
}

func NewFromEnv(log *logger.Logger) (Client, error) {
	return New(log, Config{
		APIKey:     strings.TrimSpace(os.Getenv("PINECONE_API_KEY")),
		APIVersion: envutil.Str("PINECONE_API_VERSION", ""),
		BaseURL:    envutil.Str("PINECONE_BASE_URL", ""),
		Timeout:    envutil.Duration("PINECONE_TIMEOUT", 0),
	})
}

func New(log *logger.Logger, cfg Config) (Client, error) {
	if log == nil {
		return nil, fmt.Errorf("pinecone: logger required")
	}
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, fmt.Errorf("pinecone: missing API key")
	}
	if strings.TrimSpace(cfg.APIVersion) == "" {
		cfg.APIVersion = "2025-10"
	}
	if strings.TrimSpace(cfg.BaseURL) == "" {
		cfg.BaseURL = "https://api.pinecone.io"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	return &client{
		log:  log.With("client", "PineconeClient"),
		cfg:  cfg,
		http: &http.Client{Timeout: cfg.Timeout},
	}, nil
}

// -------------------- Control plane --------------------

type IndexDescription struct {
	Name      string `json:"name"`
	Host      string `json:"host"`
	Dimension int    `json:"dimension"`
	Metric    string `json:"metric"`
	Status    struct {
		Ready bool   `json:"ready"`
		State string `json:"state"`
	} `json:"status"`
}

func (c *client) DescribeIndex(ctx context.Context, indexName string) (*IndexDescription, error) {
	indexName = strings.TrimSpace(indexName)
	if indexName == "" {
		return nil, fmt.Errorf("pinecone: indexName required")
	}
	u := strings.TrimRight(c.cfg.BaseURL, "/") + "/indexes/" + indexName
	out, err := doJSON[IndexDescription](c, ctx, "GET", u, nil)
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(out.Host) == "" {
		return nil, fmt.Errorf("pinecone: describe_index returned empty host")
	}
	return out, nil
}

// -------------------- Data plane --------------------

type Vector struct {
	ID       string         `json:"id"`
	Values   []float32      `json:"values"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

type UpsertRequest struct {
	Vectors   []Vector `json:"vectors"`
	Namespace string   `json:"namespace,omitempty"`
}

type UpsertResponse struct {
	UpsertedCount int64 `json:"upsertedCount"`
}

func (c *client) UpsertVectors(ctx context.Context, host string, req UpsertRequest) (*UpsertResponse, error) {
	host = strings.TrimSpace(host)
	if host == "" {
		return nil, fmt.Errorf("pinecone: host required")
	}
	if len(req.Vectors) == 0 {
		return &UpsertResponse{}, nil
	}
	return doJSON[UpsertResponse](c, ctx, "POST", "https://"+host+"/vectors/upsert", req)
}

type QueryRequest struct {
	Namespace       string         `json:"namespace,omitempty"`
	Vector          []float32      `json:"vector,omitempty"`
	TopK            int            `json:"topK"`
	Filter          map[string]any `json:"filter,omitempty"`
	IncludeValues   bool           `json:"includeValues,omitempty"`
	IncludeMetadata bool           `json:"includeMetadata,omitempty"`
}

type QueryMatch struct {
	ID       string         `json:"id"`
	Score    float64        `json:"score"`
	Values   []float32      `json:"values,omitempty"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

type QueryResponse struct {
	Matches []QueryMatch `json:"matches"`
}

func (c *client) Query(ctx context.Context, host string, req QueryRequest) (*QueryResponse, error) {
	host = strings.TrimSpace(host)
	if host == "" {
		return nil, fmt.Errorf("pinecone: host required")
	}
	if req.TopK <= 0 {
		req.TopK = 10
	}
	if len(req.Vector) == 0 {
		return nil, fmt.Errorf("pinecone: query vector required")
	}
	return doJSON[QueryResponse](c, ctx, "POST", "https://"+host+"/query", req)
}

type FetchResponse struct {
	Vectors map[string]Vector `json:"vectors"`
}

func (c *client) FetchVectors(ctx context.Context, host string, namespace string, ids []string) (*FetchResponse, error) {
	host = strings.TrimSpace(host)
	if host == "" {
		return nil, fmt.Errorf("pinecone: host required")
	}
	if len(ids) == 0 {
		return &FetchResponse{Vectors: map[string]Vector{}}, nil
	}
	q := url.Values{}
	for _, id := range ids {
		q.Add("ids", id)
	}
	if namespace != "" {
		q.Set("namespace", namespace)
	}
	return doJSON[FetchResponse](c, ctx, "GET", "https://"+host+"/vectors/fetch?"+q.Encode(), nil)
}

type ListRequest struct {
	Namespace       string
	Prefix          string
	Limit           int
	PaginationToken string
}

type ListResponse struct {
	Vectors []struct {
		ID string `json:"id"`
	} `json:"vectors"`
	Pagination struct {
		Next string `json:"next"`
	} `json:"pagination"`
}

// ListVectorIDs pages through vector ids, optionally restricted to an id
// prefix. The caller follows Pagination.Next until it comes back empty.
func (c *client) ListVectorIDs(ctx context.Context, host string, req ListRequest) (*ListResponse, error) {
	host = strings.TrimSpace(host)
	if host == "" {
		return nil, fmt.Errorf("pinecone: host required")
	}
	q := url.Values{}
	if req.Namespace != "" {
		q.Set("namespace", req.Namespace)
	}
	if req.Prefix != "" {
		q.Set("prefix", req.Prefix)
	}
	if req.Limit > 0 {
		q.Set("limit", fmt.Sprintf("%d", req.Limit))
	}
	if req.PaginationToken != "" {
		q.Set("paginationToken", req.PaginationToken)
	}
	return doJSON[ListResponse](c, ctx, "GET", "https://"+host+"/vectors/list?"+q.Encode(), nil)
}

type DeleteRequest struct {
	IDs       []string       `json:"ids,omitempty"`
	Namespace string         `json:"namespace,omitempty"`
	DeleteAll bool           `json:"deleteAll,omitempty"`
	Filter    map[string]any `json:"filter,omitempty"`
}

func (c *client) DeleteVectors(ctx context.Context, host string, req DeleteRequest) error {
	host = strings.TrimSpace(host)
	if host == "" {
		return fmt.Errorf("pinecone: host required")
	}
	if len(req.IDs) == 0 && !req.DeleteAll && len(req.Filter) == 0 {
		return nil
	}
	_, err := doJSON[map[string]any](c, ctx, "POST", "https://"+host+"/vectors/delete", req)
	return err
}

// -------------------- helpers --------------------

type httpError struct {
	status int
	body   string
}

func (e *httpError) Error() string {
	return fmt.Sprintf("pinecone http %d: %s", e.status, e.body)
}

func (e *httpError) HTTPStatusCode() int { return e.status }

func doJSON[T any](c *client, ctx context.Context, method, u string, body any) (*T, error) {
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return nil, err
		}
	}

	req, err := http.NewRequestWithContext(ctx, method, u, &buf)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Api-Key", c.cfg.APIKey)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Pinecone-Api-Version", c.cfg.APIVersion)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	raw, _ := io.ReadAll(resp.Body)
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &httpError{status: resp.StatusCode, body: string(raw)}
	}

	var out T
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("pinecone decode error: %w; raw=%s", err, string(raw))
	}
	return &out, nil
}
