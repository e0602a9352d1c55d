package openai

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"sort"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"
	"golang.org/x/sync/errgroup"
)

// Client is an OpenAI-compatible embeddings client. It also understands the
// response shape of Ollama's embeddings endpoint.
type Client struct {
	baseURL     string
	apiKey      string
	model       string
	batchSize   int
	concurrency int
	maxRetries  int
	retryBase   time.Duration
	dimension   atomic.Int64
	client      *http.Client
}

// Config configures the OpenAI-compatible embeddings client.
type Config struct {
	BaseURL     string
	APIKeyEnv   string
	Model       string
	Timeout     time.Duration
	BatchSize   int
	Concurrency int
	MaxRetries  int
}

// NewClient creates a new embeddings client using the provided configuration.
func NewClient(cfg Config) (*Client, error) {
	key := os.Getenv(cfg.APIKeyEnv)
	if key == "" {
		return nil, fmt.Errorf("missing API key in env %s", cfg.APIKeyEnv)
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://api.openai.com/v1"
	}
	if cfg.Model == "" {
		cfg.Model = "text-embedding-3-small"
	}
	t := cfg.Timeout
	if t == 0 {
		t = 30 * time.Second
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 32
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 4
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	return &Client{
		baseURL:     cfg.BaseURL,
		apiKey:      key,
		model:       cfg.Model,
		batchSize:   cfg.BatchSize,
		concurrency: cfg.Concurrency,
		maxRetries:  cfg.MaxRetries,
		retryBase:   200 * time.Millisecond,
		client:      &http.Client{Timeout: t},
	}, nil
}

// Name returns the identifier of this embedder implementation.
func (c *Client) Name() string { return "openai:" + c.model }

// Dimension returns the dimensionality of the produced vectors, or 0 before
// the first successful call.
func (c *Client) Dimension() int { return int(c.dimension.Load()) }

// Encode embeds texts in batches. Batches run concurrently; output order
// matches input order.
func (c *Client) Encode(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(c.concurrency)
	for start := 0; start < len(texts); start += c.batchSize {
		end := min(start+c.batchSize, len(texts))
		g.Go(func() error {
			vecs, err := c.embedBatch(ctx, texts[start:end])
			if err != nil {
				return err
			}
			copy(out[start:end], vecs)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) embedBatch(ctx context.Context, batch []string) ([][]float32, error) {
	var vecs [][]float32
	op := func() error {
		v, err := c.do(ctx, batch)
		if err != nil {
			return err
		}
		vecs = v
		return nil
	}
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = c.retryBase
	b.MaxInterval = 5 * time.Second
	err := backoff.Retry(op, backoff.WithContext(backoff.WithMaxRetries(b, uint64(c.maxRetries)), ctx))
	if err != nil {
		return nil, err
	}
	for _, v := range vecs {
		if err := c.observeDimension(len(v)); err != nil {
			return nil, err
		}
	}
	return vecs, nil
}

func (c *Client) observeDimension(n int) error {
	if c.dimension.CompareAndSwap(0, int64(n)) {
		return nil
	}
	if d := c.dimension.Load(); d != int64(n) {
		return fmt.Errorf("embedding dimension changed from %d to %d", d, n)
	}
	return nil
}

type reqBody struct {
	Input  []string `json:"input"`
	Prompt string   `json:"prompt,omitempty"`
	Model  string   `json:"model"`
}

// do performs one request. Errors that retrying cannot fix are wrapped with
// backoff.Permanent.
func (c *Client) do(ctx context.Context, batch []string) ([][]float32, error) {
	body := reqBody{Input: batch, Model: c.model}
	if len(batch) == 1 {
		body.Prompt = batch[0]
	}
	data, err := json.Marshal(body)
	if err != nil {
		return nil, backoff.Permanent(err)
	}
	url := fmt.Sprintf("%s/embeddings", c.baseURL)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(data))
	if err != nil {
		return nil, backoff.Permanent(err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, err
	}
	payload, err := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	if err != nil {
		return nil, err
	}
	if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
		return nil, fmt.Errorf("openai embeddings failed: %s", resp.Status)
	}
	if resp.StatusCode >= 300 {
		return nil, backoff.Permanent(fmt.Errorf("openai embeddings failed: %s", resp.Status))
	}
	vecs, err := decode(payload, len(batch))
	if err != nil {
		return nil, backoff.Permanent(err)
	}
	return vecs, nil
}

func decode(payload []byte, want int) ([][]float32, error) {
	// OpenAI-compatible response first
	var openaiOut struct {
		Data []struct {
			Index     int       `json:"index"`
			Embedding []float32 `json:"embedding"`
		} `json:"data"`
	}
	if err := json.Unmarshal(payload, &openaiOut); err == nil && len(openaiOut.Data) > 0 {
		sort.SliceStable(openaiOut.Data, func(i, j int) bool { return openaiOut.Data[i].Index < openaiOut.Data[j].Index })
		vecs := make([][]float32, 0, len(openaiOut.Data))
		for _, d := range openaiOut.Data {
			if len(d.Embedding) == 0 {
				return nil, errors.New("empty embedding")
			}
			vecs = append(vecs, d.Embedding)
		}
		if len(vecs) != want {
			return nil, fmt.Errorf("expected %d embeddings, got %d", want, len(vecs))
		}
		return vecs, nil
	}
	// Ollama-native shapes: { "embedding": [...] } and { "embeddings": [[...]] }
	var ollamaOut struct {
		Embedding  []float32   `json:"embedding"`
		Embeddings [][]float32 `json:"embeddings"`
	}
	if err := json.Unmarshal(payload, &ollamaOut); err == nil {
		if len(ollamaOut.Embeddings) == want && want > 0 {
			return ollamaOut.Embeddings, nil
		}
		if want == 1 && len(ollamaOut.Embedding) > 0 {
			return [][]float32{ollamaOut.Embedding}, nil
		}
	}
	return nil, errors.New("no embedding returned")
}
