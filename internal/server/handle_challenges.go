package server

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/stakestreak/api/internal/calendar"
)

// ChallengeResponse is a challenge plus its derived lifecycle state.
type ChallengeResponse struct {
	Challenge
	Status       calendar.ChallengeState `json:"status"`
	TotalDays    int                     `json:"totalDays"`
	Participants int                     `json:"participants"`
}

func challengeIDParam(r *http.Request) (int64, error) {
	return strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
}

func challengeResponse(c Challenge, participants int, now time.Time) (ChallengeResponse, error) {
	status, err := calendar.State(c.StartDate, c.EndDate, now, c.SettledAt != nil)
	if err != nil {
		return ChallengeResponse{}, err
	}
	total, err := calendar.TotalDays(c.StartDate, c.EndDate)
	if err != nil {
		return ChallengeResponse{}, err
	}
	return ChallengeResponse{
		Challenge:    c,
		Status:       status,
		TotalDays:    total,
		Participants: participants,
	}, nil
}

func handleListChallenges(store Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		challenges, err := store.ListChallenges(r.Context())
		if err != nil {
			writeError(w, http.StatusInternalServerError, "internal error")
			return
		}

		now := time.Now()
		out := make([]ChallengeResponse, 0, len(challenges))
		for _, c := range challenges {
			parts, err := store.ListParticipants(r.Context(), c.ID)
			if err != nil {
				writeError(w, http.StatusInternalServerError, "internal error")
				return
			}
			resp, err := challengeResponse(c, len(parts), now)
			if err != nil {
				writeError(w, http.StatusInternalServerError, "internal error")
				return
			}
			out = append(out, resp)
		}
		writeJSON(w, http.StatusOK, out)
	}
}

func handleGetChallenge(store Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := challengeIDParam(r)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid challenge id")
			return
		}

		c, err := store.GetChallenge(r.Context(), id)
		if errors.Is(err, ErrNotFound) {
			writeError(w, http.StatusNotFound, "challenge not found")
			return
		}
		if err != nil {
			writeError(w, http.StatusInternalServerError, "internal error")
			return
		}

		parts, err := store.ListParticipants(r.Context(), id)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "internal error")
			return
		}
		resp, err := challengeResponse(c, len(parts), time.Now())
		if err != nil {
			writeError(w, http.StatusInternalServerError, "internal error")
			return
		}
		writeJSON(w, http.StatusOK, resp)
	}
}

func handleListParticipants(store Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := challengeIDParam(r)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid challenge id")
			return
		}
		if _, err := store.GetChallenge(r.Context(), id); errors.Is(err, ErrNotFound) {
			writeError(w, http.StatusNotFound, "challenge not found")
			return
		} else if err != nil {
			writeError(w, http.StatusInternalServerError, "internal error")
			return
		}

		parts, err := store.ListParticipants(r.Context(), id)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "internal error")
			return
		}
		if parts == nil {
			parts = []Participant{}
		}
		writeJSON(w, http.StatusOK, parts)
	}
}
