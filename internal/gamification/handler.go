package gamification

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"strconv"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/tutorly/backend/internal/middleware"
	"github.com/tutorly/backend/internal/models"
	"go.uber.org/zap"
)

type Handler struct {
	service  *Service
	validate *validator.Validate
	logger   *zap.Logger
}

func NewHandler(service *Service, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{service: service, validate: validator.New(), logger: logger}
}

// ── User: Dashboard ─────────────────────────────────────

func (h *Handler) GetSummary(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.UserIDFromContext(r.Context())
	if !ok {
		writeJSON(w, http.StatusUnauthorized, models.ErrorResponse{Error: "Authentication required"})
		return
	}

	resp, err := h.service.GetSummary(r.Context(), userID)
	if err != nil {
		h.logger.Error("get summary", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, models.ErrorResponse{Error: "Failed to get gamification state"})
		return
	}

	writeJSON(w, http.StatusOK, resp)
}

// DailyLogin runs the pipeline for today's login. Repeating it on the same
// UTC day is a no-op.
func (h *Handler) DailyLogin(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.UserIDFromContext(r.Context())
	if !ok {
		writeJSON(w, http.StatusUnauthorized, models.ErrorResponse{Error: "Authentication required"})
		return
	}

	report, err := h.service.RecordActivity(r.Context(), Activity{UserID: userID, Event: EventDailyLogin})
	if err != nil {
		h.logger.Warn("daily login", zap.String("user_id", userID.String()), zap.Error(err))
	}
	if report == nil {
		writeJSON(w, http.StatusInternalServerError, models.ErrorResponse{Error: "Failed to record login"})
		return
	}

	writeJSON(w, http.StatusOK, report)
}

func (h *Handler) ListBadges(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.UserIDFromContext(r.Context())
	if !ok {
		writeJSON(w, http.StatusUnauthorized, models.ErrorResponse{Error: "Authentication required"})
		return
	}

	resp, err := h.service.ListBadges(r.Context(), userID)
	if err != nil {
		h.logger.Error("list badges", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, models.ErrorResponse{Error: "Failed to get badges"})
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{"badges": resp})
}

func (h *Handler) ListChallenges(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.UserIDFromContext(r.Context())
	if !ok {
		writeJSON(w, http.StatusUnauthorized, models.ErrorResponse{Error: "Authentication required"})
		return
	}

	resp, err := h.service.ListChallenges(r.Context(), userID)
	if err != nil {
		h.logger.Error("list challenges", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, models.ErrorResponse{Error: "Failed to get challenges"})
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{"challenges": resp})
}

func (h *Handler) XPHistory(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.UserIDFromContext(r.Context())
	if !ok {
		writeJSON(w, http.StatusUnauthorized, models.ErrorResponse{Error: "Authentication required"})
		return
	}

	limit := intQueryParam(r.URL.Query(), "limit", defaultHistoryLimit)

	resp, err := h.service.XPHistory(r.Context(), userID, limit)
	if err != nil {
		h.logger.Error("xp history", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, models.ErrorResponse{Error: "Failed to get XP history"})
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{"entries": resp})
}

// ── User: Leaderboard ───────────────────────────────────

func (h *Handler) Leaderboard(w http.ResponseWriter, r *http.Request) {
	if _, ok := middleware.UserIDFromContext(r.Context()); !ok {
		writeJSON(w, http.StatusUnauthorized, models.ErrorResponse{Error: "Authentication required"})
		return
	}

	limit := intQueryParam(r.URL.Query(), "limit", 20)

	resp, err := h.service.Leaderboard(r.Context(), limit)
	if err != nil {
		h.logger.Error("leaderboard", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, models.ErrorResponse{Error: "Failed to get leaderboard"})
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{"entries": resp})
}

// ── User: Rewards ───────────────────────────────────────

func (h *Handler) ListRewards(w http.ResponseWriter, r *http.Request) {
	resp, err := h.service.ListRewards(r.Context())
	if err != nil {
		h.logger.Error("list rewards", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, models.ErrorResponse{Error: "Failed to get rewards"})
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{"rewards": resp})
}

func (h *Handler) ListUserRewards(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.UserIDFromContext(r.Context())
	if !ok {
		writeJSON(w, http.StatusUnauthorized, models.ErrorResponse{Error: "Authentication required"})
		return
	}

	resp, err := h.service.ListUserRewards(r.Context(), userID)
	if err != nil {
		h.logger.Error("list user rewards", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, models.ErrorResponse{Error: "Failed to get your rewards"})
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{"rewards": resp})
}

func (h *Handler) RedeemReward(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.UserIDFromContext(r.Context())
	if !ok {
		writeJSON(w, http.StatusUnauthorized, models.ErrorResponse{Error: "Authentication required"})
		return
	}

	rewardID, err := uuid.Parse(mux.Vars(r)["id"])
	if err != nil {
		writeJSON(w, http.StatusBadRequest, models.ErrorResponse{Error: "Invalid reward ID"})
		return
	}

	ur, err := h.service.RedeemReward(r.Context(), userID, rewardID)
	if err != nil {
		status := http.StatusInternalServerError
		msg := "Failed to redeem reward"
		switch {
		case errors.Is(err, ErrNotFound):
			status, msg = http.StatusNotFound, "Reward not found"
		case errors.Is(err, ErrInsufficientFunds):
			status, msg = http.StatusPaymentRequired, "Not enough coins"
		case errors.Is(err, ErrOutOfStock):
			status, msg = http.StatusConflict, "Reward is out of stock"
		case errors.Is(err, ErrFreezeLimit):
			status, msg = http.StatusConflict, "You already hold the maximum number of streak freezes"
		default:
			h.logger.Error("redeem reward", zap.String("user_id", userID.String()), zap.Error(err))
		}
		writeJSON(w, status, models.ErrorResponse{Error: msg})
		return
	}

	writeJSON(w, http.StatusCreated, ur)
}

// ── Internal: Event Ingestion ───────────────────────────

// RecordEvent accepts a domain event from another service. Gamification
// is best effort, so step failures are reported in the body with 202.
func (h *Handler) RecordEvent(w http.ResponseWriter, r *http.Request) {
	var req models.RecordEventRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, models.ErrorResponse{Error: "Invalid request body"})
		return
	}
	if err := h.validate.Struct(req); err != nil {
		writeJSON(w, http.StatusBadRequest, models.ErrorResponse{Error: err.Error()})
		return
	}
	event, err := ParseEvent(req.Event)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, models.ErrorResponse{Error: err.Error()})
		return
	}

	report, err := h.service.RecordActivity(r.Context(), Activity{
		UserID:         uuid.MustParse(req.UserID),
		Event:          event,
		ReferenceID:    req.ReferenceID,
		Description:    req.Description,
		IdempotencyKey: req.IdempotencyKey,
	})
	if report == nil {
		if errors.Is(err, ErrInvalidEvent) {
			writeJSON(w, http.StatusBadRequest, models.ErrorResponse{Error: err.Error()})
			return
		}
		h.logger.Error("record event", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, models.ErrorResponse{Error: "Failed to record event"})
		return
	}

	writeJSON(w, http.StatusAccepted, report)
}

func (h *Handler) AwardXP(w http.ResponseWriter, r *http.Request) {
	var req models.AwardXPRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, models.ErrorResponse{Error: "Invalid request body"})
		return
	}
	if err := h.validate.Struct(req); err != nil {
		writeJSON(w, http.StatusBadRequest, models.ErrorResponse{Error: err.Error()})
		return
	}
	event, err := ParseEvent(req.Event)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, models.ErrorResponse{Error: err.Error()})
		return
	}

	res, err := h.service.AwardXP(r.Context(), uuid.MustParse(req.UserID), event, Reference{ID: req.ReferenceID, Description: req.Description})
	if err != nil {
		if errors.Is(err, ErrInvalidEvent) {
			writeJSON(w, http.StatusBadRequest, models.ErrorResponse{Error: err.Error()})
			return
		}
		h.logger.Error("award xp", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, models.ErrorResponse{Error: "Failed to award XP"})
		return
	}

	writeJSON(w, http.StatusOK, res)
}

func (h *Handler) UpdateStreak(w http.ResponseWriter, r *http.Request) {
	userID, ok := pathUserID(w, r)
	if !ok {
		return
	}

	res, err := h.service.UpdateStreak(r.Context(), userID)
	if err != nil {
		h.logger.Error("update streak", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, models.ErrorResponse{Error: "Failed to update streak"})
		return
	}

	writeJSON(w, http.StatusOK, res)
}

func (h *Handler) CheckBadges(w http.ResponseWriter, r *http.Request) {
	userID, ok := pathUserID(w, r)
	if !ok {
		return
	}

	res, err := h.service.CheckBadges(r.Context(), userID)
	if err != nil {
		h.logger.Error("check badges", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, models.ErrorResponse{Error: "Failed to check badges"})
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{"new_badges": res})
}

func (h *Handler) UpdateChallengeProgress(w http.ResponseWriter, r *http.Request) {
	userID, ok := pathUserID(w, r)
	if !ok {
		return
	}

	var req models.ChallengeProgressRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, models.ErrorResponse{Error: "Invalid request body"})
		return
	}
	if err := h.validate.Struct(req); err != nil {
		writeJSON(w, http.StatusBadRequest, models.ErrorResponse{Error: err.Error()})
		return
	}
	event, err := ParseEvent(req.Event)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, models.ErrorResponse{Error: err.Error()})
		return
	}

	res, err := h.service.UpdateChallengeProgress(r.Context(), userID, event)
	if err != nil {
		h.logger.Warn("challenge progress", zap.Error(err))
		if res == nil {
			writeJSON(w, http.StatusInternalServerError, models.ErrorResponse{Error: "Failed to update challenge progress"})
			return
		}
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{"challenges": res})
}

// ── Helpers ─────────────────────────────────────────────

func pathUserID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	userID, err := uuid.Parse(mux.Vars(r)["userID"])
	if err != nil {
		writeJSON(w, http.StatusBadRequest, models.ErrorResponse{Error: "Invalid user ID"})
		return uuid.Nil, false
	}
	return userID, true
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func intQueryParam(query url.Values, key string, defaultVal int) int {
	s := query.Get(key)
	if s == "" {
		return defaultVal
	}
	v, err := strconv.Atoi(s)
	if err != nil || v < 0 {
		return defaultVal
	}
	return v
}
