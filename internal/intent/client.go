package intent

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/Lew-Ashby/Token-Flow-API/internal/cache"
	"github.com/Lew-Ashby/Token-Flow-API/internal/domain/model"
	"github.com/Lew-Ashby/Token-Flow-API/internal/metrics"
)

const (
	predictionCacheTTL = time.Hour
	predictTimeout     = 10 * time.Second
	healthTimeout      = 2 * time.Second
	batchConcurrency   = 4
)

// Prediction is the classifier's answer for one transaction.
type Prediction struct {
	Intent     model.Intent `json:"intent"`
	Confidence float64      `json:"confidence"`
}

var fallbackPrediction = Prediction{Intent: model.IntentUnknown, Confidence: 0}

// Health mirrors the classifier service's health payload.
type Health struct {
	Status      string `json:"status"`
	Service     string `json:"service"`
	ModelLoaded bool   `json:"model_loaded"`
}

// Client calls the external intent classifier, caching predictions by
// signature. A failing service degrades to unknown/0 without caching, so
// recovered services get asked again.
type Client struct {
	httpClient *http.Client
	baseURL    string
	kv         cache.KV
	logger     *slog.Logger
}

// NewClient returns nil when baseURL is empty: intent inference is an
// optional dependency and callers treat a nil client as "always unknown".
func NewClient(baseURL string, kv cache.KV, logger *slog.Logger) *Client {
	if baseURL == "" {
		return nil
	}
	return &Client{
		httpClient: &http.Client{Timeout: predictTimeout},
		baseURL:    baseURL,
		kv:         kv,
		logger:     logger.With("component", "intent"),
	}
}

type predictRequest struct {
	Signature    string                  `json:"signature"`
	Instructions []model.InstructionInfo `json:"instructions"`
	Accounts     []string                `json:"accounts"`
	Fee          uint64                  `json:"fee"`
}

// PredictIntent classifies one parsed transaction.
func (c *Client) PredictIntent(ctx context.Context, tx *model.ParsedTransaction) Prediction {
	if c == nil {
		return fallbackPrediction
	}

	key := "intent:" + tx.Signature
	var cached Prediction
	if err := cache.GetJSON(ctx, c.kv, key, &cached); err == nil {
		metrics.IntentPredictionsTotal.WithLabelValues("cache").Inc()
		return cached
	}

	pred, err := c.callPredict(ctx, tx)
	if err != nil {
		c.logger.Warn("intent prediction failed", "signature", tx.Signature, "error", err)
		metrics.IntentPredictionsTotal.WithLabelValues("fallback").Inc()
		return fallbackPrediction
	}

	if err := cache.SetJSON(ctx, c.kv, key, pred, predictionCacheTTL); err != nil {
		c.logger.Debug("prediction cache write failed", "error", err)
	}
	metrics.IntentPredictionsTotal.WithLabelValues("service").Inc()
	return pred
}

// PredictBatch classifies transactions with bounded fan-out, preserving
// input order.
func (c *Client) PredictBatch(ctx context.Context, txs []*model.ParsedTransaction) []Prediction {
	out := make([]Prediction, len(txs))
	if c == nil {
		for i := range out {
			out[i] = fallbackPrediction
		}
		return out
	}

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(batchConcurrency)
	for i, tx := range txs {
		g.Go(func() error {
			out[i] = c.PredictIntent(ctx, tx)
			return nil
		})
	}
	_ = g.Wait()
	return out
}

func (c *Client) callPredict(ctx context.Context, tx *model.ParsedTransaction) (Prediction, error) {
	instructions := tx.Instructions
	if instructions == nil {
		instructions = []model.InstructionInfo{}
	}
	accounts := tx.Accounts
	if accounts == nil {
		accounts = []string{}
	}

	body, err := json.Marshal(predictRequest{
		Signature:    tx.Signature,
		Instructions: instructions,
		Accounts:     accounts,
		Fee:          tx.Fee,
	})
	if err != nil {
		return Prediction{}, fmt.Errorf("marshal predict request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/predict", bytes.NewReader(body))
	if err != nil {
		return Prediction{}, fmt.Errorf("create predict request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return Prediction{}, fmt.Errorf("predict request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return Prediction{}, fmt.Errorf("read predict response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return Prediction{}, fmt.Errorf("predict http status %d", resp.StatusCode)
	}

	var pred Prediction
	if err := json.Unmarshal(respBody, &pred); err != nil {
		return Prediction{}, fmt.Errorf("unmarshal prediction: %w", err)
	}
	if pred.Confidence < 0 || pred.Confidence > 1 {
		return Prediction{}, fmt.Errorf("prediction confidence %f out of range", pred.Confidence)
	}
	return pred, nil
}

// CheckHealth probes the classifier service.
func (c *Client) CheckHealth(ctx context.Context) (*Health, error) {
	if c == nil {
		return nil, nil
	}

	ctx, cancel := context.WithTimeout(ctx, healthTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/health", nil)
	if err != nil {
		return nil, fmt.Errorf("create health request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("health request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("health http status %d", resp.StatusCode)
	}

	var h Health
	if err := json.NewDecoder(resp.Body).Decode(&h); err != nil {
		return nil, fmt.Errorf("unmarshal health: %w", err)
	}
	return &h, nil
}
