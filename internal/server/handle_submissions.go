package server

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/stakestreak/api/internal/calendar"
)

type SubmissionRequest struct {
	UserID      string `json:"userId"`
	Date        string `json:"date"`
	ImageRef    string `json:"imageRef"`
	Description string `json:"description"`
}

// handleSubmit files a daily proof. The same day can be resubmitted while
// review is pending; a reviewed day is final; a day past its grace window is
// permanently locked.
func handleSubmit(store Store, broker *Broker) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		challengeID, err := challengeIDParam(r)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid challenge id")
			return
		}

		var req SubmissionRequest
		if err := readJSON(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
		req.UserID = strings.TrimSpace(req.UserID)
		req.ImageRef = strings.TrimSpace(req.ImageRef)
		if req.UserID == "" || req.Date == "" || req.ImageRef == "" {
			writeError(w, http.StatusBadRequest, "userId, date and imageRef are required")
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

		p, err := store.GetParticipant(r.Context(), challengeID, req.UserID)
		if errors.Is(err, ErrNotFound) {
			writeError(w, http.StatusNotFound, "user has not joined this challenge")
			return
		}
		if err != nil {
			writeError(w, http.StatusInternalServerError, "internal error")
			return
		}

		if req.Date < c.StartDate || req.Date > c.EndDate {
			writeError(w, http.StatusBadRequest, "date is outside the challenge window")
			return
		}
		open, err := calendar.CanSubmitOn(req.Date, time.Now())
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid date")
			return
		}
		if !open {
			writeError(w, http.StatusConflict, "this day is locked for submissions")
			return
		}

		sub, err := store.UpsertSubmission(r.Context(), Submission{
			ParticipantID:  p.ID,
			SubmissionDate: req.Date,
			ImageRef:       req.ImageRef,
			Description:    strings.TrimSpace(req.Description),
		})
		if errors.Is(err, ErrAlreadyReviewed) {
			writeError(w, http.StatusConflict, "this day already has a reviewed submission")
			return
		}
		if err != nil {
			writeError(w, http.StatusInternalServerError, "internal error")
			return
		}

		broker.Publish(challengeID, Event{
			Type:          "submission_received",
			ChallengeID:   challengeID,
			ParticipantID: p.ID,
			UserID:        p.UserID,
			Date:          sub.SubmissionDate,
		})
		writeJSON(w, http.StatusCreated, sub)
	}
}
