package server

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/vibingu/vibingu/pkg/auth"
	"github.com/vibingu/vibingu/pkg/dimensions"
	"github.com/vibingu/vibingu/pkg/store"
)

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Password string `json:"password"`
	}
	if err := decodeJSON(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	token, err := s.auth.Login(body.Password)
	switch {
	case errors.Is(err, auth.ErrBadPassword):
		writeJSON(w, http.StatusUnauthorized, map[string]any{"success": false, "error": "wrong password"})
	case errors.Is(err, auth.ErrNoPassword):
		writeJSON(w, http.StatusBadRequest, map[string]any{"success": false, "error": "auth is not configured"})
	case err != nil:
		writeError(w, http.StatusInternalServerError, err.Error())
	default:
		writeJSON(w, http.StatusOK, map[string]any{"success": true, "token": token})
	}
}

func (s *Server) handleVerify(w http.ResponseWriter, r *http.Request) {
	valid := !s.auth.Enabled() || s.auth.Verify(auth.BearerToken(r))
	writeJSON(w, http.StatusOK, map[string]bool{"valid": valid})
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	s.auth.Logout(auth.BearerToken(r))
	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}

func (s *Server) handleGetNickname(w http.ResponseWriter, r *http.Request) {
	nickname, err := s.store.GetSetting(r.Context(), store.SettingNickname)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"nickname": nickname})
}

func (s *Server) handleSetNickname(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Nickname string `json:"nickname"`
	}
	if err := decodeJSON(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if err := s.store.SetSetting(r.Context(), store.SettingNickname, strings.TrimSpace(body.Nickname)); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}

func (s *Server) handleTokenStats(w http.ResponseWriter, r *http.Request) {
	now := time.Now().In(s.loc)
	period := r.URL.Query().Get("period")
	var (
		stats any
		err   error
	)
	switch period {
	case "", "today":
		period = "today"
		stats, err = s.usage.TodayStats(r.Context(), now)
	case "week":
		stats, err = s.usage.WeekStats(r.Context(), now)
	case "month":
		stats, err = s.usage.MonthStats(r.Context(), now)
	default:
		writeError(w, http.StatusBadRequest, "period must be today, week or month")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"period": period, "stats": stats})
}

func (s *Server) handleTokenTrend(w http.ResponseWriter, r *http.Request) {
	days := queryInt(r, "days", 7)
	if days < 1 || days > 90 {
		days = 7
	}
	trend, err := s.usage.DailyTrend(r.Context(), days, time.Now().In(s.loc))
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"days": days, "trend": trend})
}

func (s *Server) handleRAGStats(w http.ResponseWriter, r *http.Request) {
	count, err := s.store.CountActive(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, s.vector.StatsFor(count))
}

func (s *Server) handleRAGReindex(w http.ResponseWriter, r *http.Request) {
	records, err := s.store.ActiveRecords(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if err := s.vector.Reindex(r.Context(), records); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "indexed": len(records)})
}

func (s *Server) handleDailySummary(w http.ResponseWriter, r *http.Request) {
	now := time.Now().In(s.loc)
	date := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, s.loc)
	if v := r.URL.Query().Get("date"); v != "" {
		parsed, err := time.ParseInLocation("2006-01-02", v, s.loc)
		if err != nil {
			writeError(w, http.StatusBadRequest, "date must be YYYY-MM-DD")
			return
		}
		date = parsed
	}

	records, err := s.store.RecordsBetween(r.Context(), date, date.AddDate(0, 0, 1))
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	day := make([]store.LifeRecord, 0, len(records))
	for _, rec := range records {
		day = append(day, *rec)
	}
	writeJSON(w, http.StatusOK, dimensions.Summarize(day, date))
}
