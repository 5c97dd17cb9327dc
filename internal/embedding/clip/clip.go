// Package clip is an HTTP client for an OpenAI-compatible multimodal
// embeddings endpoint (such as an Infinity deployment serving a CLIP model).
// Text and images are projected into the same vector space, which is what
// makes cosine ranking of images against a text query meaningful.
package clip

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"sort"
	"strconv"
	"sync"
	"time"
)

// Client implements the Embedder interface over HTTP.
// It is safe for concurrent use; superseded viewer queries may still be
// running when the next one starts.
type Client struct {
	baseURL    string
	apiKey     string
	model      string
	client     *http.Client
	maxRetries int

	mu        sync.Mutex
	dimension int
}

// Config configures the embeddings client.
type Config struct {
	BaseURL   string
	APIKeyEnv string
	Model     string
	Timeout   time.Duration
}

// NewClient creates a new embeddings client using the provided configuration.
// An API key is only required when APIKeyEnv is set; local deployments
// typically run unauthenticated.
func NewClient(cfg Config) (*Client, error) {
	var key string
	if cfg.APIKeyEnv != "" {
		key = os.Getenv(cfg.APIKeyEnv)
		if key == "" {
			return nil, fmt.Errorf("missing API key in env %s", cfg.APIKeyEnv)
		}
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = "http://localhost:7997"
	}
	if cfg.Model == "" {
		cfg.Model = "clip-ViT-B-32"
	}
	t := cfg.Timeout
	if t == 0 {
		t = 60 * time.Second
	}
	return &Client{
		baseURL:    cfg.BaseURL,
		apiKey:     key,
		model:      cfg.Model,
		client:     &http.Client{Timeout: t},
		maxRetries: 5,
	}, nil
}

// Name returns the embedding model identifier.
func (c *Client) Name() string { return c.model }

// Dimension returns the dimensionality of the produced vectors.
// It is zero until the first successful embedding call.
func (c *Client) Dimension() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.dimension
}

func (c *Client) setDimension(dim int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.dimension == 0 {
		c.dimension = dim
	}
}

// EmbedText returns an embedding vector for the given text.
func (c *Client) EmbedText(ctx context.Context, text string) ([]float32, error) {
	vecs, err := c.embed(ctx, []string{text}, "text")
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

// EmbedImages returns one embedding vector per image, in input order.
// Images are sent as base64 data URIs.
func (c *Client) EmbedImages(ctx context.Context, images [][]byte) ([][]float32, error) {
	inputs := make([]string, len(images))
	for i, img := range images {
		mime := http.DetectContentType(img)
		inputs[i] = fmt.Sprintf("data:%s;base64,%s", mime, base64.StdEncoding.EncodeToString(img))
	}
	return c.embed(ctx, inputs, "image")
}

func (c *Client) embed(ctx context.Context, inputs []string, modality string) ([][]float32, error) {
	if len(inputs) == 0 {
		return nil, errors.New("no inputs")
	}
	type reqBody struct {
		Input    []string `json:"input"`
		Model    string   `json:"model"`
		Modality string   `json:"modality,omitempty"`
	}
	url := fmt.Sprintf("%s/embeddings", c.baseURL)
	data, _ := json.Marshal(reqBody{Input: inputs, Model: c.model, Modality: modality})

	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(data))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/json")
		if c.apiKey != "" {
			req.Header.Set("Authorization", "Bearer "+c.apiKey)
		}

		resp, err := c.client.Do(req)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			if attempt < c.maxRetries {
				time.Sleep(retryDelay(attempt))
				continue
			}
			return nil, fmt.Errorf("embedding service unreachable at %s: %w", c.baseURL, err)
		}

		if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
			_ = resp.Body.Close()
			if attempt == c.maxRetries {
				return nil, fmt.Errorf("embeddings request failed: %s", resp.Status)
			}
			// Respect Retry-After if provided
			delay := retryDelay(attempt)
			if ra := resp.Header.Get("Retry-After"); ra != "" {
				if secs, err := strconv.Atoi(ra); err == nil {
					delay = time.Duration(secs) * time.Second
				}
			}
			time.Sleep(delay)
			continue
		}

		if resp.StatusCode >= 300 {
			_ = resp.Body.Close()
			return nil, fmt.Errorf("embeddings request failed: %s", resp.Status)
		}

		payload, err := io.ReadAll(resp.Body)
		_ = resp.Body.Close()
		if err != nil {
			if attempt < c.maxRetries {
				time.Sleep(retryDelay(attempt))
				continue
			}
			return nil, err
		}

		vecs, err := parseEmbeddings(payload, len(inputs))
		if err != nil {
			if attempt < c.maxRetries {
				time.Sleep(retryDelay(attempt))
				continue
			}
			return nil, err
		}
		c.setDimension(len(vecs[0]))
		return vecs, nil
	}
	return nil, errors.New("no embedding returned")
}

func parseEmbeddings(payload []byte, want int) ([][]float32, error) {
	var out struct {
		Data []struct {
			Index     int       `json:"index"`
			Embedding []float32 `json:"embedding"`
		} `json:"data"`
	}
	if err := json.Unmarshal(payload, &out); err != nil {
		return nil, err
	}
	if len(out.Data) != want {
		return nil, fmt.Errorf("expected %d embeddings, got %d", want, len(out.Data))
	}
	sort.Slice(out.Data, func(i, j int) bool { return out.Data[i].Index < out.Data[j].Index })
	vecs := make([][]float32, len(out.Data))
	for i, d := range out.Data {
		if len(d.Embedding) == 0 {
			return nil, errors.New("empty embedding in response")
		}
		vecs[i] = d.Embedding
	}
	return vecs, nil
}

func retryDelay(attempt int) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	base := 200 * time.Millisecond
	// exponential backoff capped at 5s
	d := base << attempt
	if d > 5*time.Second {
		d = 5 * time.Second
	}
	return d
}
