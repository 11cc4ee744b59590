package server

import (
	"context"
	"net/http"
	"time"

	"github.com/Lew-Ashby/Token-Flow-API/internal/classifier"
	"github.com/Lew-Ashby/Token-Flow-API/internal/domain/model"
	"github.com/Lew-Ashby/Token-Flow-API/internal/flowgraph"
	"github.com/Lew-Ashby/Token-Flow-API/internal/intent"
	"github.com/Lew-Ashby/Token-Flow-API/internal/upstream/enhanced"
)

const (
	defaultMaxDepth = 5
	defaultLimit    = 100
	maxLimit        = 1000
	maxTraceBatch   = 100
)

// handleAnalyzePath reconstructs flow paths for an address and mint.
func (s *Server) handleAnalyzePath(w http.ResponseWriter, r *http.Request) {
	params, err := requestParams(r)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, codeInvalidRequest, err.Error())
		return
	}

	address := params["address"]
	if !ValidAddress(address) {
		writeError(w, r, http.StatusBadRequest, codeInvalidRequest, "address must be a base58 account address")
		return
	}
	token := params["token"]
	if !ValidAddress(token) {
		writeError(w, r, http.StatusBadRequest, codeInvalidRequest, "token must be a base58 mint address")
		return
	}

	direction := params["direction"]
	if direction == "" {
		direction = "forward"
	}
	if direction != "forward" && direction != "backward" {
		writeError(w, r, http.StatusBadRequest, codeInvalidRequest, "direction must be forward or backward")
		return
	}

	// Oversized depths clamp instead of erroring; depth is a budget, not a
	// contract.
	maxDepth := defaultMaxDepth
	if raw := params["maxDepth"]; raw != "" {
		n, err := parsePositiveInt(raw, defaultMaxDepth, 1<<30)
		if err != nil {
			writeError(w, r, http.StatusBadRequest, codeInvalidRequest, "maxDepth must be a positive integer")
			return
		}
		maxDepth = flowgraph.ClampDepth(n)
	}

	window := flowgraph.TimeRange{}
	if raw := params["timeRange"]; raw != "" {
		dur, err := ParseTimeRange(raw)
		if err != nil {
			writeError(w, r, http.StatusBadRequest, codeInvalidTimeRange, err.Error())
			return
		}
		window.Start = time.Now().Add(-dur).Unix()
	}

	var paths []model.FlowPath
	if direction == "forward" {
		paths, err = s.flows.BuildForwardPath(r.Context(), address, token, maxDepth, window)
	} else {
		paths, err = s.flows.BuildBackwardPath(r.Context(), address, token, maxDepth, window)
	}
	if err != nil {
		writeDomainError(w, r, err)
		return
	}

	if paths == nil {
		paths = []model.FlowPath{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"address":   address,
		"token":     token,
		"direction": direction,
		"maxDepth":  maxDepth,
		"pathCount": len(paths),
		"paths":     paths,
	})
}

// handleRisk scores an address.
func (s *Server) handleRisk(w http.ResponseWriter, r *http.Request) {
	address := r.PathValue("address")
	if !ValidAddress(address) {
		writeError(w, r, http.StatusBadRequest, codeInvalidRequest, "address must be a base58 account address")
		return
	}

	token := r.URL.Query().Get("token")
	if token != "" && !ValidAddress(token) {
		writeError(w, r, http.StatusBadRequest, codeInvalidRequest, "token must be a base58 mint address")
		return
	}

	assessment, err := s.risks.AssessRisk(r.Context(), address, token)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}

	if assessment.Flags == nil {
		assessment.Flags = []model.RiskFlag{}
	}
	writeJSON(w, http.StatusOK, assessment)
}

// handleIntent infers the intent of one transaction.
func (s *Server) handleIntent(w http.ResponseWriter, r *http.Request) {
	signature := r.PathValue("signature")
	if !ValidSignature(signature) {
		writeError(w, r, http.StatusBadRequest, codeInvalidRequest, "signature must be a base58 transaction signature")
		return
	}

	tx, err := s.upstream.GetTransaction(r.Context(), signature)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	if tx == nil {
		writeError(w, r, http.StatusNotFound, codeNotFound, "transaction not found")
		return
	}

	pred := s.intents.PredictIntent(r.Context(), tx)
	writeJSON(w, http.StatusOK, map[string]any{
		"signature":  signature,
		"intent":     pred.Intent,
		"confidence": pred.Confidence,
	})
}

type traceRequest struct {
	Signatures []string `json:"signatures"`
	BuildGraph bool     `json:"buildGraph"`
}

// handleTrace resolves a batch of signatures, optionally assembling the
// token-transfer graph across them. All validation happens before any
// upstream call.
func (s *Server) handleTrace(w http.ResponseWriter, r *http.Request) {
	var req traceRequest
	if err := decodeJSONBody(r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, codeInvalidRequest, err.Error())
		return
	}

	if len(req.Signatures) == 0 {
		writeError(w, r, http.StatusBadRequest, codeInvalidRequest, "signatures must not be empty")
		return
	}
	if len(req.Signatures) > maxTraceBatch {
		writeError(w, r, http.StatusBadRequest, codeInvalidRequest, "at most 100 signatures per trace")
		return
	}
	for _, sig := range req.Signatures {
		if !ValidSignature(sig) {
			writeError(w, r, http.StatusBadRequest, codeInvalidRequest, "signatures must be base58 transaction signatures")
			return
		}
	}

	txs, err := s.upstream.GetEnhancedTransactions(r.Context(), req.Signatures)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}

	type tracedTx struct {
		Signature string            `json:"signature"`
		Type      string            `json:"type"`
		Timestamp int64             `json:"timestamp"`
		Fee       uint64            `json:"fee"`
		FeePayer  string            `json:"feePayer"`
		Intent    *intent.Prediction `json:"intent,omitempty"`
	}

	var parsed []*model.ParsedTransaction
	out := make([]tracedTx, 0, len(txs))
	for i := range txs {
		tx := &txs[i]
		out = append(out, tracedTx{
			Signature: tx.Signature,
			Type:      tx.Type,
			Timestamp: tx.Timestamp,
			Fee:       tx.Fee,
			FeePayer:  tx.FeePayer,
		})

		instructions := make([]model.InstructionInfo, 0, len(tx.Instructions))
		accounts := make([]string, 0, len(tx.AccountData))
		for _, inst := range tx.Instructions {
			instructions = append(instructions, model.InstructionInfo{
				ProgramID: inst.ProgramID,
				Accounts:  inst.Accounts,
				Data:      inst.Data,
			})
		}
		for _, ad := range tx.AccountData {
			accounts = append(accounts, ad.Account)
		}
		parsed = append(parsed, &model.ParsedTransaction{
			Signature:    tx.Signature,
			BlockTime:    tx.Timestamp,
			Fee:          tx.Fee,
			Accounts:     accounts,
			Instructions: instructions,
		})
	}

	if s.intents != nil {
		preds := s.intents.PredictBatch(r.Context(), parsed)
		for i := range preds {
			out[i].Intent = &preds[i]
		}
	}

	s.ingestAsync(r, parsed, nil)

	resp := map[string]any{
		"count":        len(out),
		"transactions": out,
	}
	if req.BuildGraph {
		resp["graph"] = buildTraceGraph(txs)
	}
	writeJSON(w, http.StatusOK, resp)
}

type graphEdge struct {
	From   string `json:"from"`
	To     string `json:"to"`
	Mint   string `json:"mint"`
	Amount string `json:"amount"`
}

// buildTraceGraph flattens the token transfers of a trace batch into a
// node/edge list.
func buildTraceGraph(txs []enhanced.Transaction) map[string]any {
	nodes := make(map[string]bool)
	var edges []graphEdge

	for i := range txs {
		for _, tt := range txs[i].TokenTransfers {
			if tt.FromUserAccount == "" && tt.ToUserAccount == "" {
				continue
			}
			nodes[tt.FromUserAccount] = true
			nodes[tt.ToUserAccount] = true
			edges = append(edges, graphEdge{
				From:   tt.FromUserAccount,
				To:     tt.ToUserAccount,
				Mint:   tt.Mint,
				Amount: tt.TokenAmount.String(),
			})
		}
	}

	nodeList := make([]string, 0, len(nodes))
	for n := range nodes {
		if n != "" {
			nodeList = append(nodeList, n)
		}
	}
	return map[string]any{"nodes": nodeList, "edges": edges}
}

// handleAnalyzeToken classifies recent activity of a mint and marks
// liquidity-pool hubs in the result.
func (s *Server) handleAnalyzeToken(w http.ResponseWriter, r *http.Request) {
	params, err := requestParams(r)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, codeInvalidRequest, err.Error())
		return
	}

	token := params["token"]
	if !ValidAddress(token) {
		writeError(w, r, http.StatusBadRequest, codeInvalidRequest, "token must be a base58 mint address")
		return
	}

	limit, err := parsePositiveInt(params["limit"], defaultLimit, maxLimit)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, codeInvalidRequest, "limit must be a positive integer up to 1000")
		return
	}

	transfers, err := s.upstream.GetRecentTokenActivity(r.Context(), token, limit)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}

	pools := classifier.DetectPools(transfers)
	s.persistPools(r, pools)
	s.ingestAsync(r, nil, transfers)

	if transfers == nil {
		transfers = []model.Transfer{}
	}
	poolList := make([]string, 0, len(pools))
	for addr := range pools {
		poolList = append(poolList, addr)
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"token":     token,
		"count":     len(transfers),
		"transfers": transfers,
		"pools":     poolList,
	})
}

// ingestAsync persists fetched chain data without holding the response.
func (s *Server) ingestAsync(r *http.Request, txs []*model.ParsedTransaction, transfers []model.Transfer) {
	if s.ingest == nil || (len(txs) == 0 && len(transfers) == 0) {
		return
	}
	ctx := r.Context()
	go func() {
		bg, cancel := context.WithTimeout(context.WithoutCancel(ctx), 30*time.Second)
		defer cancel()
		if err := s.ingest.Ingest(bg, txs, transfers); err != nil {
			s.logger.Warn("ingest failed", "error", err)
		}
	}()
}

// persistPools records newly detected pool hubs in the entity registry so
// later traversals annotate them. Detached from the response.
func (s *Server) persistPools(r *http.Request, pools map[string]bool) {
	if s.entities == nil || len(pools) == 0 {
		return
	}
	ctx := r.Context()
	go func() {
		bg, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
		defer cancel()
		for addr := range pools {
			existing, err := s.entities.Lookup(bg, addr)
			if err != nil || existing != nil {
				continue
			}
			err = s.entities.Upsert(bg, &model.Entity{
				Address:   addr,
				Kind:      model.EntityKindPool,
				RiskLevel: model.RiskLevelLow,
				Metadata:  []byte(`{"source":"pool_detection"}`),
			})
			if err != nil {
				s.logger.Warn("pool entity persist failed", "address", addr, "error", err)
			}
		}
	}()
}
