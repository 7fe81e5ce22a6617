package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/stakestreak/api/internal/calendar"
	"github.com/stakestreak/api/internal/settlement"
)

// handleCloseChallenge evaluates a closed challenge without moving any
// funds: participants are partitioned against the completion threshold and
// the would-be reward ledger is returned. Idempotent, so an admin can
// inspect the outcome as often as needed before running payouts.
func handleCloseChallenge(store Store) http.HandlerFunc {
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

		state, err := calendar.State(c.StartDate, c.EndDate, time.Now(), c.SettledAt != nil)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "internal error")
			return
		}
		if state == calendar.StateUpcoming || state == calendar.StateActive {
			writeError(w, http.StatusConflict, "challenge is still open")
			return
		}

		participants, err := store.SettlementParticipants(r.Context(), id)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "internal error")
			return
		}

		writeJSON(w, http.StatusOK, settlement.Compute(participants, c.ThresholdBps, c.TotalPrizePool))
	}
}

// handleSettle runs settlement for a closed challenge. The call is safe to
// repeat: closing an already-closed challenge is a no-op and participants
// who were paid in an earlier run are skipped, so a run with partial payout
// failures can be retried until everyone is paid.
func handleSettle(store Store, engine *settlement.Engine, broker *Broker) http.HandlerFunc {
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

		state, err := calendar.State(c.StartDate, c.EndDate, time.Now(), c.SettledAt != nil)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "internal error")
			return
		}
		if state == calendar.StateUpcoming || state == calendar.StateActive {
			writeError(w, http.StatusConflict, "challenge is still open")
			return
		}
		if c.EscrowAddress == "" {
			writeError(w, http.StatusConflict, "challenge has no escrow address configured")
			return
		}

		participants, err := store.SettlementParticipants(r.Context(), id)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "internal error")
			return
		}

		report, err := engine.Run(r.Context(), participants, c.ThresholdBps, c.TotalPrizePool)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "settlement failed")
			return
		}

		snapshot, err := json.Marshal(report)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "internal error")
			return
		}
		if err := store.SaveSettlementRun(r.Context(), id, report.RunID, string(snapshot)); err != nil {
			writeError(w, http.StatusInternalServerError, "internal error")
			return
		}

		// The challenge counts as settled only once every winner is paid;
		// otherwise another run is needed and the state stays
		// CLOSED_PENDING_SETTLEMENT.
		if report.Failed() == 0 {
			if err := store.MarkChallengeSettled(r.Context(), id); err != nil {
				writeError(w, http.StatusInternalServerError, "internal error")
				return
			}
		}

		broker.Publish(id, Event{
			Type:        "settlement_completed",
			ChallengeID: id,
			Status:      string(calendar.StateSettled),
		})
		writeJSON(w, http.StatusOK, report)
	}
}

// handleSettlementResults returns the latest persisted settlement snapshot.
func handleSettlementResults(store Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := challengeIDParam(r)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid challenge id")
			return
		}

		run, err := store.LatestSettlementRun(r.Context(), id)
		if errors.Is(err, ErrNotFound) {
			writeError(w, http.StatusNotFound, "challenge has not been settled")
			return
		}
		if err != nil {
			writeError(w, http.StatusInternalServerError, "internal error")
			return
		}

		var report settlement.RunReport
		if err := json.Unmarshal([]byte(run.Result), &report); err != nil {
			writeError(w, http.StatusInternalServerError, "internal error")
			return
		}
		writeJSON(w, http.StatusOK, report)
	}
}

func handleListPayouts(store Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := challengeIDParam(r)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid challenge id")
			return
		}

		payouts, err := store.ListPayouts(r.Context(), id)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "internal error")
			return
		}
		if payouts == nil {
			payouts = []Payout{}
		}
		writeJSON(w, http.StatusOK, payouts)
	}
}
