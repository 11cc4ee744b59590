package intent

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Lew-Ashby/Token-Flow-API/internal/cache"
	"github.com/Lew-Ashby/Token-Flow-API/internal/domain/model"
)

func parsedTx(sig string) *model.ParsedTransaction {
	return &model.ParsedTransaction{
		Signature: sig,
		Fee:       5000,
		Accounts:  []string{"acc1", "acc2"},
		Instructions: []model.InstructionInfo{
			{ProgramID: "prog1"},
		},
	}
}

func TestPredictIntent_CallsService(t *testing.T) {
	t.Parallel()

	var got predictRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/predict", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		json.NewEncoder(w).Encode(Prediction{Intent: model.IntentTrading, Confidence: 0.87})
	}))
	defer srv.Close()

	c := NewClient(srv.URL, cache.NewMemory(), slog.Default())
	pred := c.PredictIntent(context.Background(), parsedTx("sig-1"))

	assert.Equal(t, model.IntentTrading, pred.Intent)
	assert.InDelta(t, 0.87, pred.Confidence, 1e-9)
	assert.Equal(t, "sig-1", got.Signature)
	assert.Equal(t, uint64(5000), got.Fee)
	assert.Len(t, got.Accounts, 2)
}

func TestPredictIntent_CachesBySignature(t *testing.T) {
	t.Parallel()

	var calls atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		json.NewEncoder(w).Encode(Prediction{Intent: model.IntentTransfer, Confidence: 0.9})
	}))
	defer srv.Close()

	c := NewClient(srv.URL, cache.NewMemory(), slog.Default())
	ctx := context.Background()

	_ = c.PredictIntent(ctx, parsedTx("sig-1"))
	_ = c.PredictIntent(ctx, parsedTx("sig-1"))
	assert.Equal(t, int64(1), calls.Load())

	_ = c.PredictIntent(ctx, parsedTx("sig-2"))
	assert.Equal(t, int64(2), calls.Load())
}

func TestPredictIntent_FallbackOnFailureNotCached(t *testing.T) {
	t.Parallel()

	var calls atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, cache.NewMemory(), slog.Default())
	ctx := context.Background()

	pred := c.PredictIntent(ctx, parsedTx("sig-1"))
	assert.Equal(t, model.IntentUnknown, pred.Intent)
	assert.Zero(t, pred.Confidence)

	// Failure is not cached: the service gets asked again.
	_ = c.PredictIntent(ctx, parsedTx("sig-1"))
	assert.Equal(t, int64(2), calls.Load())
}

func TestPredictIntent_RejectsOutOfRangeConfidence(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(Prediction{Intent: model.IntentTrading, Confidence: 1.5})
	}))
	defer srv.Close()

	c := NewClient(srv.URL, cache.NewMemory(), slog.Default())
	pred := c.PredictIntent(context.Background(), parsedTx("sig-1"))
	assert.Equal(t, model.IntentUnknown, pred.Intent)
}

func TestPredictIntent_NilClient(t *testing.T) {
	t.Parallel()

	c := NewClient("", cache.NewMemory(), slog.Default())
	require.Nil(t, c)

	pred := c.PredictIntent(context.Background(), parsedTx("sig-1"))
	assert.Equal(t, model.IntentUnknown, pred.Intent)
}

func TestPredictBatch_PreservesOrder(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req predictRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		intent := model.IntentTransfer
		if req.Signature == "sig-1" {
			intent = model.IntentArbitrage
		}
		json.NewEncoder(w).Encode(Prediction{Intent: intent, Confidence: 0.8})
	}))
	defer srv.Close()

	c := NewClient(srv.URL, cache.NewMemory(), slog.Default())
	preds := c.PredictBatch(context.Background(), []*model.ParsedTransaction{
		parsedTx("sig-0"), parsedTx("sig-1"), parsedTx("sig-2"),
	})

	require.Len(t, preds, 3)
	assert.Equal(t, model.IntentTransfer, preds[0].Intent)
	assert.Equal(t, model.IntentArbitrage, preds[1].Intent)
	assert.Equal(t, model.IntentTransfer, preds[2].Intent)
}

func TestCheckHealth(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/health", r.URL.Path)
		json.NewEncoder(w).Encode(Health{Status: "ok", Service: "ml-inference", ModelLoaded: true})
	}))
	defer srv.Close()

	c := NewClient(srv.URL, cache.NewMemory(), slog.Default())
	h, err := c.CheckHealth(context.Background())
	require.NoError(t, err)
	assert.True(t, h.ModelLoaded)
	assert.Equal(t, "ok", h.Status)
}
