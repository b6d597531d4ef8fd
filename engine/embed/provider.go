// Package embed implements the collection-aware embedding pipeline: a
// cache-layered, provider-pluggable subsystem generating query and
// document embeddings under latency budgets without blocking concurrent
// queries (spec.md §4.3).
package embed

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"time"

	"github.com/strataeng/strata/internal/fault"
)

// Provider is the capability set every embedding backend implements,
// matching spec.md §4.3's "capability set, not an inheritance hierarchy":
// implementations are tagged variants dispatched by Identifier(), never
// resolved through method overriding (spec.md §9 "Capability-based
// providers").
type Provider interface {
	EmbedOne(ctx context.Context, text string) ([]float32, error)
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
	Dimensions() int
	Identifier() string
}

// MockProvider is a deterministic provider used for testing (spec.md
// §4.3's "a deterministic mock provider"). It derives a vector from a
// seeded PRNG keyed by the text itself, so identical text always yields
// an identical vector without any network call — letting tests exercise
// cache correctness (spec.md §8) without flakiness.
type MockProvider struct {
	id         string
	dimensions int
	delay      time.Duration
}

// NewMockProvider creates a MockProvider producing vectors of the given
// dimensionality. delay, if positive, simulates provider latency — used
// by tests exercising the provider-timeout-during-batch scenario
// (spec.md §8 scenario 5).
func NewMockProvider(id string, dimensions int, delay time.Duration) *MockProvider {
	return &MockProvider{id: id, dimensions: dimensions, delay: delay}
}

// Identifier returns the provider's id.
func (m *MockProvider) Identifier() string { return m.id }

// Dimensions returns the fixed vector width this provider produces.
func (m *MockProvider) Dimensions() int { return m.dimensions }

// EmbedOne produces one deterministic vector for text.
func (m *MockProvider) EmbedOne(ctx context.Context, text string) ([]float32, error) {
	if err := m.wait(ctx); err != nil {
		return nil, err
	}
	return deterministicVector(text, m.dimensions), nil
}

// EmbedBatch produces deterministic vectors for each text in order.
func (m *MockProvider) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if err := m.wait(ctx); err != nil {
		return nil, err
	}
	out := make([][]float32, len(texts))
	for i, t := range texts {
		out[i] = deterministicVector(t, m.dimensions)
	}
	return out, nil
}

func (m *MockProvider) wait(ctx context.Context) error {
	if m.delay <= 0 {
		return nil
	}
	select {
	case <-time.After(m.delay):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func deterministicVector(text string, dimensions int) []float32 {
	var seed int64
	for _, r := range text {
		seed = seed*31 + int64(r)
	}
	rng := rand.New(rand.NewSource(seed))
	vec := make([]float32, dimensions)
	for i := range vec {
		vec[i] = rng.Float32()*2 - 1
	}
	return vec
}

// HTTPProvider is a generic provider honoring the HTTP embedding-provider
// contract spec.md §6 documents: `POST text[] -> vector[]`, with
// authentication in a configurable header, and a declared dimension
// that must match the collection's. It deliberately does not model any
// specific vendor's request/response shape (OpenAI, Anthropic,
// OpenRouter) — concrete provider clients are an explicit non-goal
// (spec.md §1); this is the contract those adapters would satisfy.
type HTTPProvider struct {
	id         string
	endpoint   string
	authHeader string
	authValue  string
	dimensions int
	client     *http.Client
	// Encode/Decode let a caller plug in the vendor-specific request and
	// response body shape without this type needing to know it.
	Encode func(texts []string) ([]byte, error)
	Decode func(body []byte) ([][]float32, error)
}

// HTTPProviderConfig configures an HTTPProvider.
type HTTPProviderConfig struct {
	ID         string
	Endpoint   string
	AuthHeader string
	AuthValue  string
	Dimensions int
	Client     *http.Client
	Encode     func(texts []string) ([]byte, error)
	Decode     func(body []byte) ([][]float32, error)
}

// NewHTTPProvider creates an HTTPProvider from cfg.
func NewHTTPProvider(cfg HTTPProviderConfig) *HTTPProvider {
	client := cfg.Client
	if client == nil {
		client = http.DefaultClient
	}
	return &HTTPProvider{
		id:         cfg.ID,
		endpoint:   cfg.Endpoint,
		authHeader: cfg.AuthHeader,
		authValue:  cfg.AuthValue,
		dimensions: cfg.Dimensions,
		client:     client,
		Encode:     cfg.Encode,
		Decode:     cfg.Decode,
	}
}

// Identifier returns the provider's id.
func (p *HTTPProvider) Identifier() string { return p.id }

// Dimensions returns the provider's declared output width.
func (p *HTTPProvider) Dimensions() int { return p.dimensions }

// EmbedOne embeds a single text via EmbedBatch.
func (p *HTTPProvider) EmbedOne(ctx context.Context, text string) ([]float32, error) {
	vecs, err := p.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	if len(vecs) == 0 {
		return nil, fault.NewError(fault.KindProviderError, "provider returned no vectors")
	}
	return vecs[0], nil
}

// EmbedBatch issues one HTTP call carrying texts, honoring retry-after on
// 429 (rate limit backoff, spec.md §6 "rate-limit backoff honoring the
// provider's retry-after signal").
func (p *HTTPProvider) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if p.Encode == nil || p.Decode == nil {
		return nil, fault.NewError(fault.KindInvalidRequest, "HTTPProvider requires Encode and Decode")
	}

	body, err := p.Encode(texts)
	if err != nil {
		return nil, fault.Wrap(fault.KindInvalidRequest, "encode embedding request", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fault.Wrap(fault.KindProviderError, "build embedding request", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if p.authHeader != "" {
		req.Header.Set(p.authHeader, p.authValue)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, fault.Wrap(fault.KindProviderTimeout, "embedding request timed out", err)
		}
		return nil, fault.Wrap(fault.KindProviderError, "embedding request failed", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode == http.StatusTooManyRequests {
		return nil, fault.NewError(fault.KindProviderError, "provider rate limited").
			WithDetails(map[string]any{"retry_after": resp.Header.Get("Retry-After")})
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fault.NewError(fault.KindProviderError, fmt.Sprintf("provider returned status %d", resp.StatusCode))
	}

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fault.Wrap(fault.KindProviderError, "read embedding response", err)
	}

	vectors, err := p.Decode(respBody)
	if err != nil {
		return nil, fault.Wrap(fault.KindProviderError, "decode embedding response", err)
	}
	for _, v := range vectors {
		if p.dimensions > 0 && len(v) != p.dimensions {
			return nil, fault.NewError(fault.KindDimensionMismatch,
				fmt.Sprintf("provider returned %d dimensions, declared %d", len(v), p.dimensions))
		}
	}
	return vectors, nil
}
