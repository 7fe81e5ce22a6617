package server

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/stakestreak/api/internal/calendar"
	"github.com/stakestreak/api/internal/reconcile"
	"github.com/stakestreak/api/internal/settlement"
)

type SQLiteStore struct {
	db *sql.DB
}

func NewSQLiteStore(db *sql.DB) *SQLiteStore {
	return &SQLiteStore{db: db}
}

func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}

const challengeColumns = `id, title, description, stake_amount, total_prize_pool,
	start_date, end_date, escrow_address, completion_threshold_bps, settled_at, created_at`

func scanChallenge(row interface{ Scan(...any) error }) (Challenge, error) {
	var c Challenge
	var settledAt sql.NullString
	err := row.Scan(&c.ID, &c.Title, &c.Description, &c.StakeAmount, &c.TotalPrizePool,
		&c.StartDate, &c.EndDate, &c.EscrowAddress, &c.ThresholdBps, &settledAt, &c.CreatedAt)
	if settledAt.Valid {
		c.SettledAt = &settledAt.String
	}
	return c, err
}

func (s *SQLiteStore) ListChallenges(ctx context.Context) ([]Challenge, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+challengeColumns+` FROM challenges ORDER BY start_date DESC, id DESC
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Challenge
	for rows.Next() {
		c, err := scanChallenge(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) GetChallenge(ctx context.Context, id int64) (Challenge, error) {
	c, err := scanChallenge(s.db.QueryRowContext(ctx, `
		SELECT `+challengeColumns+` FROM challenges WHERE id = ?
	`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return c, ErrNotFound
	}
	return c, err
}

func (s *SQLiteStore) CreateChallenge(ctx context.Context, c Challenge) (Challenge, error) {
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO challenges (title, description, stake_amount, total_prize_pool,
			start_date, end_date, escrow_address, completion_threshold_bps)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, c.Title, c.Description, c.StakeAmount, c.TotalPrizePool,
		c.StartDate, c.EndDate, c.EscrowAddress, c.ThresholdBps)
	if err != nil {
		return Challenge{}, err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return Challenge{}, err
	}
	return s.GetChallenge(ctx, id)
}

func (s *SQLiteStore) UpdateChallenge(ctx context.Context, id int64, c Challenge) (Challenge, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE challenges
		SET title = ?, description = ?, stake_amount = ?, total_prize_pool = ?,
			start_date = ?, end_date = ?, escrow_address = ?, completion_threshold_bps = ?,
			updated_at = datetime('now')
		WHERE id = ?
	`, c.Title, c.Description, c.StakeAmount, c.TotalPrizePool,
		c.StartDate, c.EndDate, c.EscrowAddress, c.ThresholdBps, id)
	if err != nil {
		return Challenge{}, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return Challenge{}, err
	}
	if n == 0 {
		return Challenge{}, ErrNotFound
	}
	return s.GetChallenge(ctx, id)
}

func (s *SQLiteStore) DeleteChallenge(ctx context.Context, id int64) error {
	has, err := s.ChallengeHasParticipants(ctx, id)
	if err != nil {
		return err
	}
	if has {
		return ErrHasParticipants
	}
	res, err := s.db.ExecContext(ctx, `DELETE FROM challenges WHERE id = ?`, id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *SQLiteStore) ChallengeHasParticipants(ctx context.Context, id int64) (bool, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM participants WHERE challenge_id = ?
	`, id).Scan(&n)
	return n > 0, err
}

func (s *SQLiteStore) MarkChallengeSettled(ctx context.Context, id int64) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE challenges SET settled_at = datetime('now'), updated_at = datetime('now')
		WHERE id = ? AND settled_at IS NULL
	`, id)
	return err
}

const participantColumns = `id, challenge_id, user_id, wallet_address, stake_amount,
	transaction_signature, progress, status, joined_at`

func scanParticipant(row interface{ Scan(...any) error }) (Participant, error) {
	var p Participant
	err := row.Scan(&p.ID, &p.ChallengeID, &p.UserID, &p.WalletAddress, &p.StakeAmount,
		&p.TransactionSignature, &p.Progress, &p.Status, &p.JoinedAt)
	return p, err
}

func (s *SQLiteStore) CreateParticipant(ctx context.Context, p Participant) (Participant, error) {
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO participants (challenge_id, user_id, wallet_address, stake_amount, transaction_signature)
		VALUES (?, ?, ?, ?, ?)
	`, p.ChallengeID, p.UserID, p.WalletAddress, p.StakeAmount, p.TransactionSignature)
	if isUniqueViolation(err) {
		if strings.Contains(err.Error(), "transaction_signature") {
			return Participant{}, ErrSignatureUsed
		}
		return Participant{}, ErrAlreadyJoined
	}
	if err != nil {
		return Participant{}, err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return Participant{}, err
	}
	return s.GetParticipantByID(ctx, id)
}

func (s *SQLiteStore) GetParticipant(ctx context.Context, challengeID int64, userID string) (Participant, error) {
	p, err := scanParticipant(s.db.QueryRowContext(ctx, `
		SELECT `+participantColumns+` FROM participants
		WHERE challenge_id = ? AND user_id = ?
	`, challengeID, userID))
	if errors.Is(err, sql.ErrNoRows) {
		return p, ErrNotFound
	}
	return p, err
}

func (s *SQLiteStore) GetParticipantByID(ctx context.Context, id int64) (Participant, error) {
	p, err := scanParticipant(s.db.QueryRowContext(ctx, `
		SELECT `+participantColumns+` FROM participants WHERE id = ?
	`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return p, ErrNotFound
	}
	return p, err
}

func (s *SQLiteStore) ListParticipants(ctx context.Context, challengeID int64) ([]Participant, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+participantColumns+` FROM participants
		WHERE challenge_id = ? ORDER BY joined_at, id
	`, challengeID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Participant
	for rows.Next() {
		p, err := scanParticipant(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) SettlementParticipants(ctx context.Context, challengeID int64) ([]settlement.Participant, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, user_id, wallet_address, stake_amount, progress
		FROM participants WHERE challenge_id = ? ORDER BY id
	`, challengeID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []settlement.Participant
	for rows.Next() {
		var p settlement.Participant
		if err := rows.Scan(&p.ID, &p.UserID, &p.Wallet, &p.StakeAmount, &p.Progress); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

const submissionColumns = `id, participant_id, submission_date, image_ref, description,
	review_status, review_comments, reviewed_at`

func scanSubmission(row interface{ Scan(...any) error }) (Submission, error) {
	var sub Submission
	var reviewedAt sql.NullString
	err := row.Scan(&sub.ID, &sub.ParticipantID, &sub.SubmissionDate, &sub.ImageRef,
		&sub.Description, &sub.ReviewStatus, &sub.ReviewComments, &reviewedAt)
	if reviewedAt.Valid {
		sub.ReviewedAt = &reviewedAt.String
	}
	return sub, err
}

// UpsertSubmission creates the day's proof or replaces it while it is still
// PENDING. A day with a terminal decision cannot be resubmitted.
func (s *SQLiteStore) UpsertSubmission(ctx context.Context, sub Submission) (Submission, error) {
	var id int64
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO submissions (participant_id, submission_date, image_ref, description)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (participant_id, submission_date) DO UPDATE
		SET image_ref = excluded.image_ref,
			description = excluded.description,
			updated_at = datetime('now')
		WHERE submissions.review_status = 'PENDING'
		RETURNING id
	`, sub.ParticipantID, sub.SubmissionDate, sub.ImageRef, sub.Description).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		// Conflict hit a terminal submission; the upsert was a no-op.
		return Submission{}, ErrAlreadyReviewed
	}
	if err != nil {
		return Submission{}, err
	}

	out, err := scanSubmission(s.db.QueryRowContext(ctx, `
		SELECT `+submissionColumns+` FROM submissions WHERE id = ?
	`, id))
	return out, err
}

const reviewItemQuery = `
	SELECT s.id, s.participant_id, s.submission_date, s.image_ref, s.description,
		s.review_status, s.review_comments, s.reviewed_at,
		c.id, c.title, p.user_id
	FROM submissions s
	JOIN participants p ON p.id = s.participant_id
	JOIN challenges c ON c.id = p.challenge_id`

func scanReviewItem(row interface{ Scan(...any) error }) (ReviewItem, error) {
	var item ReviewItem
	var reviewedAt sql.NullString
	err := row.Scan(&item.ID, &item.ParticipantID, &item.SubmissionDate, &item.ImageRef,
		&item.Description, &item.ReviewStatus, &item.ReviewComments, &reviewedAt,
		&item.ChallengeID, &item.ChallengeTitle, &item.UserID)
	if reviewedAt.Valid {
		item.ReviewedAt = &reviewedAt.String
	}
	return item, err
}

func (s *SQLiteStore) GetSubmission(ctx context.Context, id int64) (ReviewItem, error) {
	item, err := scanReviewItem(s.db.QueryRowContext(ctx, reviewItemQuery+` WHERE s.id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return item, ErrNotFound
	}
	return item, err
}

func (s *SQLiteStore) SubmissionsForParticipant(ctx context.Context, participantID int64) ([]Submission, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+submissionColumns+` FROM submissions
		WHERE participant_id = ? ORDER BY submission_date
	`, participantID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Submission
	for rows.Next() {
		sub, err := scanSubmission(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, sub)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) PendingSubmissions(ctx context.Context) ([]ReviewItem, error) {
	rows, err := s.db.QueryContext(ctx,
		reviewItemQuery+` WHERE s.review_status = 'PENDING' ORDER BY s.created_at, s.id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []ReviewItem
	for rows.Next() {
		item, err := scanReviewItem(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, item)
	}
	return out, rows.Err()
}

// DecideSubmission moves a PENDING submission to a terminal decision and
// recomputes the owning participant's progress, as a single transaction.
// The WHERE clause on review_status is the lock: a concurrent decision on
// the same submission loses the race and gets ErrAlreadyReviewed.
func (s *SQLiteStore) DecideSubmission(ctx context.Context, id int64, decision calendar.ReviewStatus, comment string) (ReviewItem, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return ReviewItem{}, err
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `
		UPDATE submissions
		SET review_status = ?, review_comments = ?, reviewed_at = datetime('now'),
			updated_at = datetime('now')
		WHERE id = ? AND review_status = 'PENDING'
	`, decision, comment, id)
	if err != nil {
		return ReviewItem{}, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return ReviewItem{}, err
	}
	if n == 0 {
		var status string
		err := tx.QueryRowContext(ctx,
			`SELECT review_status FROM submissions WHERE id = ?`, id).Scan(&status)
		if errors.Is(err, sql.ErrNoRows) {
			return ReviewItem{}, ErrNotFound
		}
		if err != nil {
			return ReviewItem{}, err
		}
		return ReviewItem{}, ErrAlreadyReviewed
	}

	var participantID int64
	var startDate, endDate string
	err = tx.QueryRowContext(ctx, `
		SELECT p.id, c.start_date, c.end_date
		FROM submissions s
		JOIN participants p ON p.id = s.participant_id
		JOIN challenges c ON c.id = p.challenge_id
		WHERE s.id = ?
	`, id).Scan(&participantID, &startDate, &endDate)
	if err != nil {
		return ReviewItem{}, err
	}

	var approved int
	err = tx.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM submissions
		WHERE participant_id = ? AND review_status = 'APPROVED'
	`, participantID).Scan(&approved)
	if err != nil {
		return ReviewItem{}, err
	}

	total, err := calendar.TotalDays(startDate, endDate)
	if err != nil {
		return ReviewItem{}, err
	}
	_, err = tx.ExecContext(ctx, `
		UPDATE participants SET progress = ? WHERE id = ?
	`, calendar.Progress(approved, total), participantID)
	if err != nil {
		return ReviewItem{}, err
	}

	item, err := scanReviewItem(tx.QueryRowContext(ctx, reviewItemQuery+` WHERE s.id = ?`, id))
	if err != nil {
		return ReviewItem{}, err
	}
	return item, tx.Commit()
}

func (s *SQLiteStore) SaveSettlementRun(ctx context.Context, challengeID int64, runID, result string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO settlement_runs (run_id, challenge_id, result) VALUES (?, ?, ?)
	`, runID, challengeID, result)
	return err
}

func (s *SQLiteStore) LatestSettlementRun(ctx context.Context, challengeID int64) (SettlementRun, error) {
	var run SettlementRun
	err := s.db.QueryRowContext(ctx, `
		SELECT run_id, challenge_id, result, created_at
		FROM settlement_runs WHERE challenge_id = ?
		ORDER BY id DESC LIMIT 1
	`, challengeID).Scan(&run.RunID, &run.ChallengeID, &run.Result, &run.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return run, ErrNotFound
	}
	return run, err
}

func (s *SQLiteStore) ListPayouts(ctx context.Context, challengeID int64) ([]Payout, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, challenge_id, participant_id, run_id, amount, status, signature, error
		FROM payouts WHERE challenge_id = ? ORDER BY id
	`, challengeID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Payout
	for rows.Next() {
		var p Payout
		if err := rows.Scan(&p.ID, &p.ChallengeID, &p.ParticipantID, &p.RunID,
			&p.Amount, &p.Status, &p.Signature, &p.Error); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// ClaimPayout reserves the single payout slot for a participant. A PAID slot
// is final and an UNCONFIRMED slot is frozen until its transfer is
// reconciled; a PENDING or FAILED slot from an earlier run is reclaimed so
// the transfer can be retried.
func (s *SQLiteStore) ClaimPayout(ctx context.Context, runID string, participantID int64, amount uint64) (int64, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	var id int64
	var status string
	err = tx.QueryRowContext(ctx, `
		SELECT id, status FROM payouts WHERE participant_id = ?
	`, participantID).Scan(&id, &status)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		var challengeID int64
		err = tx.QueryRowContext(ctx,
			`SELECT challenge_id FROM participants WHERE id = ?`, participantID).Scan(&challengeID)
		if err != nil {
			return 0, fmt.Errorf("looking up participant %d: %w", participantID, err)
		}
		res, err := tx.ExecContext(ctx, `
			INSERT INTO payouts (challenge_id, participant_id, run_id, amount) VALUES (?, ?, ?, ?)
		`, challengeID, participantID, runID, amount)
		if err != nil {
			return 0, err
		}
		id, err = res.LastInsertId()
		if err != nil {
			return 0, err
		}
	case err != nil:
		return 0, err
	case status == string(settlement.PayoutPaid):
		return 0, settlement.ErrAlreadyPaid
	case status == string(settlement.PayoutUnconfirmed):
		return 0, settlement.ErrPayoutUnresolved
	default:
		_, err = tx.ExecContext(ctx, `
			UPDATE payouts
			SET run_id = ?, amount = ?, status = 'PENDING', error = '', updated_at = datetime('now')
			WHERE id = ?
		`, runID, amount, id)
		if err != nil {
			return 0, err
		}
	}
	return id, tx.Commit()
}

func (s *SQLiteStore) CompletePayout(ctx context.Context, payoutID int64, signature string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE payouts SET status = 'PAID', signature = ?, updated_at = datetime('now')
		WHERE id = ?
	`, signature, payoutID)
	return err
}

func (s *SQLiteStore) FailPayout(ctx context.Context, payoutID int64, reason string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE payouts SET status = 'FAILED', error = ?, updated_at = datetime('now')
		WHERE id = ?
	`, reason, payoutID)
	return err
}

// MarkPayoutUnconfirmed freezes a payout whose transfer was submitted but not
// confirmed, keeping the signature so reconciliation can resolve it. The
// guard on status stops a late write from overriding a reconciled outcome.
func (s *SQLiteStore) MarkPayoutUnconfirmed(ctx context.Context, payoutID int64, signature string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE payouts SET status = 'UNCONFIRMED', signature = ?, updated_at = datetime('now')
		WHERE id = ? AND status = 'PENDING'
	`, signature, payoutID)
	return err
}

// ActivateJoin creates the participant for a join whose funding transfer
// confirmed after the original request timed out. A duplicate is fine: the
// user may have retried and landed a confirmed join in the meantime.
func (s *SQLiteStore) ActivateJoin(ctx context.Context, j reconcile.PendingJoin) error {
	_, err := s.CreateParticipant(ctx, Participant{
		ChallengeID:          j.ChallengeID,
		UserID:               j.UserID,
		WalletAddress:        j.Wallet,
		StakeAmount:          j.StakeAmount,
		TransactionSignature: j.Signature,
	})
	if errors.Is(err, ErrAlreadyJoined) || errors.Is(err, ErrSignatureUsed) {
		return nil
	}
	return err
}

func (s *SQLiteStore) SetParticipantOutcome(ctx context.Context, participantID int64, outcome settlement.Outcome, progress int) error {
	status := "FAILED"
	if outcome == settlement.OutcomeWinner {
		status = "COMPLETED"
	}
	_, err := s.db.ExecContext(ctx, `
		UPDATE participants SET status = ?, progress = ? WHERE id = ?
	`, status, progress, participantID)
	return err
}
