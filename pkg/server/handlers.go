package server

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/modelchain/modelchain/pkg/ledger"
	"github.com/modelchain/modelchain/pkg/router"
	"github.com/modelchain/modelchain/pkg/store"
)

// ApiResponse is the envelope every endpoint returns.
type ApiResponse struct {
	Success bool        `json:"success"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, resp ApiResponse) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		slog.Error("Failed to encode response", "error", err)
	}
}

func respondOK(w http.ResponseWriter, message string, data interface{}) {
	writeJSON(w, http.StatusOK, ApiResponse{Success: true, Message: message, Data: data})
}

func respondError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, ApiResponse{Success: false, Message: message})
}

func decodeBody(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return false
	}
	return true
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	respondOK(w, "ok", map[string]string{"status": "healthy"})
}

type registerModelRequest struct {
	Name            string  `json:"name"`
	CapabilityRanks []int   `json:"capability_ranks"`
	MaxTokens       int     `json:"max_tokens"`
	AvgLatencyMS    int     `json:"avg_latency_ms"`
	CostPer1KUSD    float64 `json:"cost_per_1k_usd"`
	StakeETH        float64 `json:"stake_eth"`
}

func (s *Server) handleRegisterModel(w http.ResponseWriter, r *http.Request) {
	var req registerModelRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.Name == "" {
		respondError(w, http.StatusBadRequest, "model name is required")
		return
	}

	model := &store.Model{
		ID:               "model_" + uuid.NewString(),
		Name:             req.Name,
		CapabilityRanks:  req.CapabilityRanks,
		MaxTokens:        req.MaxTokens,
		AvgLatencyMS:     req.AvgLatencyMS,
		CostPer1KUSD:     req.CostPer1KUSD,
		StakeETH:         req.StakeETH,
		TrustScore:       50.0,
		RegistrationTime: time.Now().UTC(),
	}
	if model.MaxTokens <= 0 {
		model.MaxTokens = 8192
	}
	if model.AvgLatencyMS <= 0 {
		model.AvgLatencyMS = 1000
	}
	if model.CostPer1KUSD <= 0 {
		model.CostPer1KUSD = 0.01
	}
	if model.StakeETH <= 0 {
		model.StakeETH = 10.0
	}

	if err := s.engine.UpsertWithModel(r.Context(), model); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	respondOK(w, "model registered", model)
}

func (s *Server) handleListModels(w http.ResponseWriter, r *http.Request) {
	models, err := s.store.ListModels(r.Context())
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	respondOK(w, "models", models)
}

func (s *Server) handleGetModel(w http.ResponseWriter, r *http.Request) {
	model, err := s.store.GetModelByID(r.Context(), chi.URLParam(r, "id"))
	if errors.Is(err, store.ErrNotFound) {
		respondError(w, http.StatusNotFound, "model not found")
		return
	}
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	respondOK(w, "model", model)
}

func (s *Server) handleVerifyModel(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	err := s.store.SetModelVerified(r.Context(), id)
	if errors.Is(err, store.ErrNotFound) {
		respondError(w, http.StatusNotFound, "model not found")
		return
	}
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	respondOK(w, "model verified", map[string]string{"model_id": id})
}

type registerUserRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

func (s *Server) handleRegisterUser(w http.ResponseWriter, r *http.Request) {
	var req registerUserRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.Username == "" {
		respondError(w, http.StatusBadRequest, "username is required")
		return
	}

	if _, err := s.store.GetUserByUsername(r.Context(), req.Username); err == nil {
		respondError(w, http.StatusConflict, "username already exists")
		return
	} else if !errors.Is(err, store.ErrNotFound) {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}

	user := &store.User{
		ID:       "user_" + uuid.NewString(),
		Username: req.Username,
		Password: req.Password,
		IsActive: true,
	}
	if err := s.store.CreateUser(r.Context(), user); err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	respondOK(w, "user registered", user)
}

type registerConversationRequest struct {
	UserID string `json:"user_id"`
}

func (s *Server) handleRegisterConversation(w http.ResponseWriter, r *http.Request) {
	var req registerConversationRequest
	if r.ContentLength > 0 && !decodeBody(w, r, &req) {
		return
	}

	id, err := s.memory.NewConversation(r.Context(), req.UserID)
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	respondOK(w, "conversation registered", map[string]string{"conversation_id": id})
}

type conversationRequest struct {
	ConversationID string `json:"conversation_id"`
}

func (s *Server) handleGetConversation(w http.ResponseWriter, r *http.Request) {
	var req conversationRequest
	if !decodeBody(w, r, &req) {
		return
	}

	messages, err := s.memory.Load(r.Context(), req.ConversationID)
	if errors.Is(err, store.ErrNotFound) {
		respondError(w, http.StatusNotFound, "conversation not found")
		return
	}
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}

	memories := make([]memoryEntry, len(messages))
	for i, msg := range messages {
		memories[i] = memoryEntry{Role: msg.Role, Content: msg.Content}
	}
	respondOK(w, "conversation", map[string]interface{}{
		"conversation_id":      req.ConversationID,
		"conversation_summary": s.memory.Summary(req.ConversationID),
		"memories":             memories,
	})
}

type memoryEntry struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRouteRequest struct {
	ConversationID string `json:"conversation_id"`
	Query          string `json:"query"`
}

func (s *Server) handleChatRoute(w http.ResponseWriter, r *http.Request) {
	var req chatRouteRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.Query == "" {
		respondError(w, http.StatusBadRequest, "query is required")
		return
	}

	conversationID := req.ConversationID
	if conversationID == "" {
		id, err := s.memory.NewConversation(r.Context(), "")
		if err != nil {
			respondError(w, http.StatusInternalServerError, err.Error())
			return
		}
		conversationID = id
	} else if _, err := s.store.GetConversation(r.Context(), conversationID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			respondError(w, http.StatusNotFound, "conversation not found")
			return
		}
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}

	rewritten, err := s.memory.Rewrite(r.Context(), conversationID, req.Query)
	if err != nil {
		respondError(w, http.StatusBadGateway, "query rewrite failed: "+err.Error())
		return
	}

	answer, modelName, err := s.router.Dispatch(r.Context(), rewritten)
	if errors.Is(err, router.ErrNoModels) {
		respondError(w, http.StatusServiceUnavailable, "no models available for routing")
		return
	}
	if err != nil {
		respondError(w, http.StatusBadGateway, err.Error())
		return
	}

	if err := s.memory.StorePair(r.Context(), conversationID, req.Query, answer); err != nil {
		slog.Warn("Failed to store message pair", "conversation", conversationID, "error", err)
	}

	respondOK(w, "routed", map[string]string{
		"response":        answer,
		"model_name":      modelName,
		"conversation_id": conversationID,
	})
}

func (s *Server) handleListConversations(w http.ResponseWriter, r *http.Request) {
	ids, err := s.store.ListConversationIDs(r.Context())
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	respondOK(w, "conversations", map[string]interface{}{"conversation_ids": ids})
}

func (s *Server) handleDeleteConversation(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := s.memory.DeleteConversation(r.Context(), id); err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	respondOK(w, "conversation deleted", map[string]string{"conversation_id": id})
}

func (s *Server) handlePerformanceReport(w http.ResponseWriter, r *http.Request) {
	var report ledger.PerformanceReport
	if !decodeBody(w, r, &report) {
		return
	}

	record, err := s.ledger.ApplyPerformance(r.Context(), &report)
	if errors.Is(err, store.ErrNotFound) {
		respondError(w, http.StatusNotFound, "model not found")
		return
	}
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	respondOK(w, "performance recorded", record)
}

func (s *Server) handlePerformanceHistory(w http.ResponseWriter, r *http.Request) {
	records, err := s.store.ListPerformanceRecords(r.Context(), chi.URLParam(r, "model_id"), 100)
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	respondOK(w, "performance history", records)
}

func (s *Server) handleViolationReport(w http.ResponseWriter, r *http.Request) {
	var report ledger.ViolationReport
	if !decodeBody(w, r, &report) {
		return
	}

	record, err := s.ledger.ApplyViolation(r.Context(), &report)
	if errors.Is(err, store.ErrNotFound) {
		respondError(w, http.StatusNotFound, "model not found")
		return
	}
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	respondOK(w, "violation recorded", record)
}

func (s *Server) handleViolationHistory(w http.ResponseWriter, r *http.Request) {
	records, err := s.store.ListViolationRecords(r.Context(), chi.URLParam(r, "model_id"), 100)
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	respondOK(w, "violation history", records)
}

type trustScoreEntry struct {
	ModelID      string   `json:"model_id"`
	ModelName    string   `json:"model_name"`
	TrustScore   float64  `json:"trust_score"`
	Capabilities []string `json:"capabilities"`
	Violations   int      `json:"violations"`
	StakeETH     float64  `json:"stake_eth"`
	IsVerified   bool     `json:"is_verified"`
}

func trustEntry(m *store.Model) trustScoreEntry {
	return trustScoreEntry{
		ModelID:      m.ID,
		ModelName:    m.Name,
		TrustScore:   m.TrustScore,
		Capabilities: router.Capabilities(m.CapabilityRanks),
		Violations:   m.Violations,
		StakeETH:     m.StakeETH,
		IsVerified:   m.IsVerified,
	}
}

func (s *Server) handleTrustScores(w http.ResponseWriter, r *http.Request) {
	models, err := s.store.ListModels(r.Context())
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}

	entries := make([]trustScoreEntry, 0, len(models))
	for _, m := range models {
		entries = append(entries, trustEntry(m))
	}
	respondOK(w, "trust scores", entries)
}

func (s *Server) handleTrustScore(w http.ResponseWriter, r *http.Request) {
	model, err := s.store.GetModelByID(r.Context(), chi.URLParam(r, "model_id"))
	if errors.Is(err, store.ErrNotFound) {
		respondError(w, http.StatusNotFound, "model not found")
		return
	}
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	respondOK(w, "trust score", trustEntry(model))
}

func (s *Server) handleDashboardOverview(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	totalModels, err := s.store.CountModels(ctx)
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	verifiedModels, err := s.store.CountVerifiedModels(ctx)
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	totalRoutings, err := s.store.CountRoutingRecords(ctx)
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	totalViolations, err := s.store.CountViolationRecords(ctx)
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	recentPerformance, err := s.store.ListPerformanceRecords(ctx, "", 10)
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	topModels, err := s.store.TopModelsByTrust(ctx, 5)
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}

	respondOK(w, "overview", map[string]interface{}{
		"total_models":       totalModels,
		"verified_models":    verifiedModels,
		"total_routings":     totalRoutings,
		"total_violations":   totalViolations,
		"recent_performance": recentPerformance,
		"top_models":         topModels,
	})
}

type commitBatchRequest struct {
	Period string `json:"period"`
}

func (s *Server) handleCommitBatch(w http.ResponseWriter, r *http.Request) {
	var req commitBatchRequest
	if r.ContentLength > 0 && !decodeBody(w, r, &req) {
		return
	}
	if req.Period == "" {
		req.Period = time.Now().UTC().Format("2006-01-02T15:04")
	}

	commit, err := s.ledger.CommitBatch(r.Context(), req.Period)
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	respondOK(w, "batch committed", commit)
}
