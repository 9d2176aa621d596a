package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/hackgods/clinic-appointment-agent/internal/inbound"
	"github.com/hackgods/clinic-appointment-agent/internal/scheduling"
)

const maxBodyBytes = 64 << 10

type MessageHandler interface {
	Handle(ctx context.Context, msg inbound.InboundMessage) (inbound.Outcome, error)
}

type RiskReader interface {
	Now() time.Time
	Clinic(ctx context.Context, id uuid.UUID) (*scheduling.Clinic, error)
	DailyRisk(ctx context.Context, clinic scheduling.Clinic, date time.Time) (*scheduling.DailyRisk, error)
}

func inboundMessageHandler(h MessageHandler, limiter *SenderLimiter, logger zerolog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		channelID := chi.URLParam(r, "channelID")

		var req InboundMessageRequest
		if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
			return
		}
		if strings.TrimSpace(req.From) == "" {
			writeError(w, http.StatusBadRequest, "invalid_sender", "from is required")
			return
		}

		if limiter != nil && !limiter.Allow(channelID+":"+req.From) {
			w.Header().Set("Retry-After", "1")
			writeError(w, http.StatusTooManyRequests, "rate_limited", "too many messages from this sender")
			return
		}

		outcome, err := h.Handle(r.Context(), inbound.InboundMessage{
			ChannelID:   channelID,
			From:        req.From,
			ProfileName: req.ProfileName,
			Type:        req.Type,
			Text:        req.Text,
			MessageID:   req.MessageID,
		})
		if err != nil {
			handleInboundError(w, logger, r, err)
			return
		}

		writeJSON(w, http.StatusOK, InboundMessageResponse{Status: "processed", Outcome: string(outcome)})
	}
}

func handleInboundError(w http.ResponseWriter, logger zerolog.Logger, r *http.Request, err error) {
	switch {
	case errors.Is(err, scheduling.ErrClinicNotFound):
		writeError(w, http.StatusNotFound, "clinic_not_found", "no clinic is registered for this channel")
	case errors.Is(err, scheduling.ErrDoctorNotFound):
		writeError(w, http.StatusConflict, "no_active_doctor", "clinic has no active doctor")
	case errors.Is(err, inbound.ErrInvalidSender):
		writeError(w, http.StatusBadRequest, "invalid_sender", err.Error())
	default:
		logger.Error().Err(err).Str("request_id", GetRequestID(r.Context())).Msg("inbound message failed")
		writeError(w, http.StatusInternalServerError, "internal_error", "message could not be processed")
	}
}

func dailyRiskHandler(svc RiskReader) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		clinicID, err := uuid.Parse(chi.URLParam(r, "clinicID"))
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_clinic_id", "clinicID must be a valid UUID")
			return
		}

		clinic, err := svc.Clinic(r.Context(), clinicID)
		if err != nil {
			if errors.Is(err, scheduling.ErrClinicNotFound) {
				writeError(w, http.StatusNotFound, "clinic_not_found", err.Error())
				return
			}
			writeError(w, http.StatusInternalServerError, "internal_error", err.Error())
			return
		}

		date := svc.Now().In(clinic.Location())
		if raw := r.URL.Query().Get("date"); raw != "" {
			date, err = time.ParseInLocation("2006-01-02", raw, clinic.Location())
			if err != nil {
				writeError(w, http.StatusBadRequest, "invalid_date", "date must be YYYY-MM-DD")
				return
			}
		}

		report, err := svc.DailyRisk(r.Context(), *clinic, date)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "internal_error", err.Error())
			return
		}

		writeJSON(w, http.StatusOK, report)
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, details string) {
	writeJSON(w, status, ErrorResponse{Error: code, Details: details})
}
