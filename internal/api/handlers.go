package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/hemalabs/hedgegrid/internal/config"
	"github.com/hemalabs/hedgegrid/internal/session"
)

// unregisterTimeout bounds how long a session may take to stop before it is
// force terminated.
const unregisterTimeout = 30 * time.Second

// registerRequest is the session creation payload. Custom settings are
// merged over the defaults; absent fields keep their default values.
type registerRequest struct {
	UserID              string                     `json:"userId"`
	UserBotID           string                     `json:"userBotId"`
	Credentials         config.ExchangeCredentials `json:"exchangeCredentials"`
	Symbol              string                     `json:"symbol"`
	Leverage            int                        `json:"leverage"`
	CustomSettings      json.RawMessage            `json:"customSettings"`
	TickIntervalSeconds float64                    `json:"tickIntervalSeconds"`
	TradeStart          string                     `json:"tradeStart"`
	TradeFinish         string                     `json:"tradeFinish"`
	WebhookURL          string                     `json:"webhookUrl"`
	WebhookSecret       string                     `json:"webhookSecret"`
}

func (r registerRequest) buildSettings() (config.SessionSettings, error) {
	settings := config.DefaultSettings()
	if len(r.CustomSettings) > 0 {
		if err := json.Unmarshal(r.CustomSettings, &settings); err != nil {
			return settings, errors.New("invalid custom settings: " + err.Error())
		}
	}
	if r.Symbol != "" {
		settings.Symbol = r.Symbol
	}
	if r.Leverage > 0 {
		settings.Leverage = r.Leverage
	}
	if r.TickIntervalSeconds > 0 {
		settings.TickInterval = time.Duration(r.TickIntervalSeconds * float64(time.Second))
	}
	if r.TradeStart != "" {
		start, err := config.ParseClockTime(r.TradeStart)
		if err != nil {
			return settings, err
		}
		settings.TradeStart = start
	}
	if r.TradeFinish != "" {
		finish, err := config.ParseClockTime(r.TradeFinish)
		if err != nil {
			return settings, err
		}
		settings.TradeFinish = finish
	}
	return settings, nil
}

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	settings, err := req.buildSettings()
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	err = s.manager.Register(session.RegisterParams{
		UserID:        req.UserID,
		UserBotID:     req.UserBotID,
		Credentials:   req.Credentials,
		Settings:      settings,
		WebhookURL:    req.WebhookURL,
		WebhookSecret: req.WebhookSecret,
	})
	switch {
	case errors.Is(err, session.ErrSessionExists):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, session.ErrTooManySessions):
		writeError(w, http.StatusTooManyRequests, err.Error())
	case err != nil:
		writeError(w, http.StatusBadRequest, err.Error())
	default:
		s.logger.Info().Str("user", req.UserID).Msg("session registered")
		writeJSON(w, http.StatusCreated, map[string]string{"sessionId": req.UserID})
	}
}

func (s *Server) handleStart(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := s.manager.Start(r.Context(), id); err != nil {
		if errors.Is(err, session.ErrSessionNotFound) {
			writeError(w, http.StatusNotFound, err.Error())
			return
		}
		writeError(w, http.StatusConflict, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "started"})
}

func (s *Server) handleStop(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := s.manager.Stop(id); err != nil {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "stopping"})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	info, err := s.manager.Status(r.PathValue("id"))
	if err != nil {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, info)
}

func (s *Server) handleUnregister(w http.ResponseWriter, r *http.Request) {
	// Detached from the request context so a client disconnect cannot turn
	// a graceful unregister into a forced kill.
	ctx, cancel := context.WithTimeout(context.Background(), unregisterTimeout)
	defer cancel()
	if err := s.manager.Unregister(ctx, r.PathValue("id")); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "unregistered"})
}

func (s *Server) handleList(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.manager.ListAll())
}

func (s *Server) handleUsage(w http.ResponseWriter, r *http.Request) {
	current, maxSessions := s.manager.Usage()
	writeJSON(w, http.StatusOK, map[string]int{
		"sessions":    current,
		"maxSessions": maxSessions,
	})
}

func (s *Server) handleForceClose(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := s.manager.ForceClosePositions(r.Context(), id); err != nil {
		if errors.Is(err, session.ErrSessionNotFound) {
			writeError(w, http.StatusNotFound, err.Error())
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "close requested"})
}
