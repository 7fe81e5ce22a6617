package server

import (
	"errors"
	"net/http"
	"time"

	"github.com/stakestreak/api/internal/calendar"
)

type CalendarResponse struct {
	Participant Participant      `json:"participant"`
	Days        []calendar.Day   `json:"days"`
	Summary     calendar.Summary `json:"summary"`
}

// handleCalendar returns the participant's day-by-day submission state for a
// challenge. The view is derived on every read from the challenge window and
// the stored submissions.
func handleCalendar(store Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		challengeID, err := challengeIDParam(r)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid challenge id")
			return
		}
		userID := r.URL.Query().Get("userId")
		if userID == "" {
			writeError(w, http.StatusBadRequest, "userId query parameter required")
			return
		}

		c, err := store.GetChallenge(r.Context(), challengeID)
		if errors.Is(err, ErrNotFound) {
			writeError(w, http.StatusNotFound, "challenge not found")
			return
		}
		if err != nil {
			writeError(w, http.StatusInternalServerError, "internal error")
			return
		}

		p, err := store.GetParticipant(r.Context(), challengeID, userID)
		if errors.Is(err, ErrNotFound) {
			writeError(w, http.StatusNotFound, "user has not joined this challenge")
			return
		}
		if err != nil {
			writeError(w, http.StatusInternalServerError, "internal error")
			return
		}

		subs, err := store.SubmissionsForParticipant(r.Context(), p.ID)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "internal error")
			return
		}
		byDate := make(map[string]calendar.ReviewStatus, len(subs))
		for _, s := range subs {
			byDate[s.SubmissionDate] = s.ReviewStatus
		}

		days, err := calendar.Build(c.StartDate, c.EndDate, time.Now(), byDate)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "internal error")
			return
		}

		writeJSON(w, http.StatusOK, CalendarResponse{
			Participant: p,
			Days:        days,
			Summary:     calendar.Summarize(days),
		})
	}
}
