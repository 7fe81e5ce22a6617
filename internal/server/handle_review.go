package server

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/stakestreak/api/internal/calendar"
)

type ReviewRequest struct {
	Decision calendar.ReviewStatus `json:"decision"`
	Comment  string                `json:"comment"`
}

func handleReviewQueue(store Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		items, err := store.PendingSubmissions(r.Context())
		if err != nil {
			writeError(w, http.StatusInternalServerError, "internal error")
			return
		}
		if items == nil {
			items = []ReviewItem{}
		}
		writeJSON(w, http.StatusOK, items)
	}
}

// handleReviewDecide moves a pending submission to APPROVED or REJECTED and
// recomputes the participant's progress. A submission that already has a
// terminal decision cannot be re-reviewed.
func handleReviewDecide(store Store, broker *Broker) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid submission id")
			return
		}

		var req ReviewRequest
		if err := readJSON(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
		if req.Decision != calendar.ReviewApproved && req.Decision != calendar.ReviewRejected {
			writeError(w, http.StatusBadRequest, "decision must be APPROVED or REJECTED")
			return
		}

		item, err := store.DecideSubmission(r.Context(), id, req.Decision, req.Comment)
		switch {
		case errors.Is(err, ErrNotFound):
			writeError(w, http.StatusNotFound, "submission not found")
			return
		case errors.Is(err, ErrAlreadyReviewed):
			writeError(w, http.StatusConflict, "submission already reviewed")
			return
		case err != nil:
			writeError(w, http.StatusInternalServerError, "internal error")
			return
		}

		broker.Publish(item.ChallengeID, Event{
			Type:          "submission_reviewed",
			ChallengeID:   item.ChallengeID,
			ParticipantID: item.ParticipantID,
			UserID:        item.UserID,
			Date:          item.SubmissionDate,
			Status:        string(item.ReviewStatus),
		})
		writeJSON(w, http.StatusOK, item)
	}
}
