package server

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gagliardetto/solana-go"

	"github.com/stakestreak/api/internal/calendar"
	"github.com/stakestreak/api/internal/chain"
)

// ChallengeRequest is the admin create/update payload. Amounts are decimal
// token strings and converted to base units at this boundary.
type ChallengeRequest struct {
	Title          string `json:"title"`
	Description    string `json:"description"`
	StakeAmount    string `json:"stakeAmount"`
	TotalPrizePool string `json:"totalPrizePool"`
	StartDate      string `json:"startDate"`
	EndDate        string `json:"endDate"`
	EscrowAddress  string `json:"escrowAddress"`
	ThresholdBps   int    `json:"completionThresholdBps"`
}

const defaultThresholdBps = 8000

func challengeFromRequest(req ChallengeRequest, decimals uint8) (Challenge, string) {
	req.Title = strings.TrimSpace(req.Title)
	if req.Title == "" {
		return Challenge{}, "title is required"
	}
	if _, err := calendar.TotalDays(req.StartDate, req.EndDate); err != nil {
		return Challenge{}, "startDate and endDate must be valid dates with endDate not before startDate"
	}

	stake, err := chain.ToBaseUnits(req.StakeAmount, decimals)
	if err != nil {
		return Challenge{}, "invalid stakeAmount"
	}
	var prizePool uint64
	if req.TotalPrizePool != "" {
		prizePool, err = chain.ToBaseUnits(req.TotalPrizePool, decimals)
		if err != nil {
			return Challenge{}, "invalid totalPrizePool"
		}
	}

	if req.EscrowAddress != "" {
		if _, err := solana.PublicKeyFromBase58(req.EscrowAddress); err != nil {
			return Challenge{}, "invalid escrowAddress"
		}
	}

	threshold := req.ThresholdBps
	if threshold == 0 {
		threshold = defaultThresholdBps
	}
	if threshold < 0 || threshold > 10000 {
		return Challenge{}, "completionThresholdBps must be between 0 and 10000"
	}

	return Challenge{
		Title:          req.Title,
		Description:    strings.TrimSpace(req.Description),
		StakeAmount:    stake,
		TotalPrizePool: prizePool,
		StartDate:      req.StartDate,
		EndDate:        req.EndDate,
		EscrowAddress:  req.EscrowAddress,
		ThresholdBps:   threshold,
	}, ""
}

func handleAdminCreateChallenge(store Store, decimals uint8) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req ChallengeRequest
		if err := readJSON(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}

		c, problem := challengeFromRequest(req, decimals)
		if problem != "" {
			writeError(w, http.StatusBadRequest, problem)
			return
		}

		created, err := store.CreateChallenge(r.Context(), c)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "internal error")
			return
		}
		resp, err := challengeResponse(created, 0, time.Now())
		if err != nil {
			writeError(w, http.StatusInternalServerError, "internal error")
			return
		}
		writeJSON(w, http.StatusCreated, resp)
	}
}

func handleAdminUpdateChallenge(store Store, decimals uint8) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := challengeIDParam(r)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid challenge id")
			return
		}

		var req ChallengeRequest
		if err := readJSON(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
		c, problem := challengeFromRequest(req, decimals)
		if problem != "" {
			writeError(w, http.StatusBadRequest, problem)
			return
		}

		existing, err := store.GetChallenge(r.Context(), id)
		if errors.Is(err, ErrNotFound) {
			writeError(w, http.StatusNotFound, "challenge not found")
			return
		}
		if err != nil {
			writeError(w, http.StatusInternalServerError, "internal error")
			return
		}

		// The escrow address is frozen once funds may have moved into it.
		if c.EscrowAddress != existing.EscrowAddress {
			has, err := store.ChallengeHasParticipants(r.Context(), id)
			if err != nil {
				writeError(w, http.StatusInternalServerError, "internal error")
				return
			}
			if has {
				writeError(w, http.StatusConflict, "escrow address cannot change after participants joined")
				return
			}
		}

		updated, err := store.UpdateChallenge(r.Context(), id, c)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "internal error")
			return
		}
		parts, err := store.ListParticipants(r.Context(), id)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "internal error")
			return
		}
		resp, err := challengeResponse(updated, len(parts), time.Now())
		if err != nil {
			writeError(w, http.StatusInternalServerError, "internal error")
			return
		}
		writeJSON(w, http.StatusOK, resp)
	}
}

func handleAdminDeleteChallenge(store Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := challengeIDParam(r)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid challenge id")
			return
		}

		err = store.DeleteChallenge(r.Context(), id)
		switch {
		case errors.Is(err, ErrNotFound):
			writeError(w, http.StatusNotFound, "challenge not found")
		case errors.Is(err, ErrHasParticipants):
			writeError(w, http.StatusConflict, "challenge has participants and cannot be deleted")
		case err != nil:
			writeError(w, http.StatusInternalServerError, "internal error")
		default:
			writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
		}
	}
}
