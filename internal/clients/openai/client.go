package openai

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/spoolhq/content-service/internal/domain"
	"github.com/spoolhq/content-service/internal/platform/envutil"
	"github.com/spoolhq/content-service/internal/platform/httpx"
	"github.com/spoolhq/content-service/internal/platform/logger"
)

// Client is the embedding collaborator.
type Client interface {
	Embed(ctx context.Context, inputs []string) ([][]float32, error)
}

type Config struct {
	APIKey    string
	BaseURL   string
	Model     string
	Dimension int
	Timeout   time.Duration
}

type client struct {
	log  *logger.Logger
	cfg  Config
	http *http.Client
}

func NewFromEnv(log *logger.Logger, model string, dimension int) (Client, error) {
	cfg := Config{
		APIKey:    strings.TrimSpace(os.Getenv("OPENAI_API_KEY")),
		BaseURL:   envutil.Str("OPENAI_BASE_URL", "https://api.openai.com"),
		Model:     model,
		Dimension: dimension,
		Timeout:   envutil.Duration("OPENAI_TIMEOUT", 60*time.Second),
	}
	return New(log, cfg)
}

func New(log *logger.Logger, cfg Config) (Client, error) {
	if log == nil {
		return nil, fmt.Errorf("openai: logger required")
	}
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("openai: missing API key")
	}
	if strings.TrimSpace(cfg.Model) == "" {
		cfg.Model = "text-embedding-3-small"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 60 * time.Second
	}
	return &client{
		log:  log.With("client", "OpenAI"),
		cfg:  cfg,
		http: &http.Client{Timeout: cfg.Timeout},
	}, nil
}

type embeddingsRequest struct {
	Model      string   `json:"model"`
	Input      []string `json:"input"`
	Dimensions int      `json:"dimensions,omitempty"`
}

type embeddingsResponse struct {
	Data []struct {
		Embedding []float64 `json:"embedding"`
		Index     int       `json:"index"`
	} `json:"data"`
}

func (c *client) Embed(ctx context.Context, inputs []string) ([][]float32, error) {
	if len(inputs) == 0 {
		return [][]float32{}, nil
	}

	clean := make([]string, len(inputs))
	for i := range inputs {
		s := strings.TrimSpace(inputs[i])
		if s == "" {
			s = " "
		}
		clean[i] = s
	}

	req := embeddingsRequest{
		Model:      c.cfg.Model,
		Input:      clean,
		Dimensions: c.cfg.Dimension,
	}

	var resp embeddingsResponse
	if err := c.do(ctx, "POST", "/v1/embeddings", req, &resp); err != nil {
		return nil, err
	}

	out := make([][]float32, len(clean))
	for _, d := range resp.Data {
		if d.Index < 0 || d.Index >= len(out) {
			continue
		}
		vec := make([]float32, len(d.Embedding))
		for i, f := range d.Embedding {
			vec[i] = float32(f)
		}
		out[d.Index] = vec
	}

	for i := range out {
		if len(out[i]) == 0 {
			return nil, &domain.EmbeddingServiceError{
				Err: fmt.Errorf("openai: response missing embedding for input %d of %d (model %s)", i, len(clean), c.cfg.Model),
			}
		}
	}
	return out, nil
}

func (c *client) do(ctx context.Context, method, path string, body any, out any) error {
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
	}

	u := strings.TrimRight(c.cfg.BaseURL, "/") + path
	req, err := http.NewRequestWithContext(ctx, method, u, &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return &domain.EmbeddingServiceError{Err: err}
	}
	defer resp.Body.Close()

	raw, _ := io.ReadAll(resp.Body)
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &domain.EmbeddingServiceError{
			StatusCode: resp.StatusCode,
			RetryAfter: httpx.RetryAfterDuration(resp, 0, time.Minute),
			Err:        fmt.Errorf("openai http %d: %s", resp.StatusCode, truncate(string(raw), 300)),
		}
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return &domain.EmbeddingServiceError{Err: fmt.Errorf("openai decode: %w", err)}
	}
	return nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
