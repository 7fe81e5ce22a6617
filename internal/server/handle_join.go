package server

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gagliardetto/solana-go"

	"github.com/stakestreak/api/internal/calendar"
	"github.com/stakestreak/api/internal/chain"
	"github.com/stakestreak/api/internal/reconcile"
)

type JoinRequest struct {
	UserID string `json:"userId"`
	Wallet string `json:"walletAddress"`
	// Signature of the on-chain transfer that moved the stake into the
	// challenge escrow.
	TransactionSignature string `json:"transactionSignature"`
}

type JoinResponse struct {
	Participant *Participant `json:"participant,omitempty"`
	Status      string       `json:"status"`
}

// joinQueue parks ambiguous funding transfers for the reconciler.
type joinQueue interface {
	EnqueueJoin(ctx context.Context, j reconcile.PendingJoin) error
}

// handleJoin records a participant once their funding transfer is confirmed
// on-chain and verifiably moved the stake into the challenge escrow. A
// transfer that is still ambiguous is parked for reconciliation and answered
// with 202; the participant appears once the ledger settles.
func handleJoin(store Store, ledger chain.Ledger, mint solana.PublicKey, queue joinQueue, broker *Broker) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		challengeID, err := challengeIDParam(r)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid challenge id")
			return
		}

		var req JoinRequest
		if err := readJSON(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
		req.UserID = strings.TrimSpace(req.UserID)
		req.TransactionSignature = strings.TrimSpace(req.TransactionSignature)
		if req.UserID == "" || req.Wallet == "" || req.TransactionSignature == "" {
			writeError(w, http.StatusBadRequest, "userId, walletAddress and transactionSignature are required")
			return
		}
		if _, err := solana.PublicKeyFromBase58(req.Wallet); err != nil {
			writeError(w, http.StatusBadRequest, "invalid walletAddress")
			return
		}
		sig, err := solana.SignatureFromBase58(req.TransactionSignature)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid transactionSignature")
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
		if c.EscrowAddress == "" {
			writeError(w, http.StatusConflict, "challenge has no escrow address configured")
			return
		}
		escrow, err := solana.PublicKeyFromBase58(c.EscrowAddress)
		if err != nil {
			writeError(w, http.StatusConflict, "challenge escrow address is invalid")
			return
		}

		state, err := calendar.State(c.StartDate, c.EndDate, time.Now(), c.SettledAt != nil)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "internal error")
			return
		}
		if state != calendar.StateUpcoming && state != calendar.StateActive {
			writeError(w, http.StatusConflict, "challenge is closed")
			return
		}

		if _, err := store.GetParticipant(r.Context(), challengeID, req.UserID); err == nil {
			writeError(w, http.StatusConflict, "user already joined this challenge")
			return
		} else if !errors.Is(err, ErrNotFound) {
			writeError(w, http.StatusInternalServerError, "internal error")
			return
		}

		status, err := ledger.Status(r.Context(), sig)
		if err != nil {
			writeError(w, http.StatusBadGateway, "could not verify funding transfer")
			return
		}

		switch status {
		case chain.StatusFailed:
			writeError(w, http.StatusBadRequest, "funding transfer was rejected by the ledger")
			return

		case chain.StatusConfirmed, chain.StatusFinalized:
			// The signature confirming is not enough: the transaction must
			// have deposited the stake into this challenge's escrow.
			deposited, err := ledger.TokenDelta(r.Context(), sig, escrow, mint)
			if err != nil {
				writeError(w, http.StatusBadGateway, "could not verify funding transfer")
				return
			}
			if deposited < int64(c.StakeAmount) {
				writeError(w, http.StatusBadRequest, "transaction did not deposit the stake into the challenge escrow")
				return
			}

			p, err := store.CreateParticipant(r.Context(), Participant{
				ChallengeID:          challengeID,
				UserID:               req.UserID,
				WalletAddress:        req.Wallet,
				StakeAmount:          c.StakeAmount,
				TransactionSignature: req.TransactionSignature,
			})
			if errors.Is(err, ErrAlreadyJoined) {
				writeError(w, http.StatusConflict, "user already joined this challenge")
				return
			}
			if errors.Is(err, ErrSignatureUsed) {
				writeError(w, http.StatusConflict, "transaction signature already funds another participant")
				return
			}
			if err != nil {
				writeError(w, http.StatusInternalServerError, "internal error")
				return
			}

			broker.Publish(challengeID, Event{
				Type:          "participant_joined",
				ChallengeID:   challengeID,
				ParticipantID: p.ID,
				UserID:        p.UserID,
			})
			writeJSON(w, http.StatusCreated, JoinResponse{Participant: &p, Status: "joined"})

		default:
			// Outcome unknown: funds may or may not have moved. Park the
			// signature; never ask the caller to transfer again.
			err := queue.EnqueueJoin(r.Context(), reconcile.PendingJoin{
				ChallengeID: challengeID,
				UserID:      req.UserID,
				Wallet:      req.Wallet,
				Escrow:      c.EscrowAddress,
				StakeAmount: c.StakeAmount,
				Signature:   req.TransactionSignature,
			})
			if err != nil {
				writeError(w, http.StatusInternalServerError, "internal error")
				return
			}
			writeJSON(w, http.StatusAccepted, JoinResponse{Status: "confirmation_pending"})
		}
	}
}
