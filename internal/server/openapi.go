package server

import (
	"encoding/json"
	"net/http"

	openapi "github.com/swaggest/openapi-go"
	"github.com/swaggest/openapi-go/openapi3"

	"github.com/stakestreak/api/internal/settlement"
)

// ErrorResponse is returned for all error responses.
type ErrorResponse struct {
	Error string `json:"error"`
}

func newOpenAPISpec() *openapi3.Spec {
	r := openapi3.NewReflector()
	r.Spec.Info.Title = "StakeStreak API"
	r.Spec.Info.Version = "0.1.0"
	r.Spec.Info.WithDescription("Challenge participation and settlement engine: stake tokens into escrow, submit daily proofs, get settled at close.")

	// GET /healthz
	getHealthz, _ := r.NewOperationContext(http.MethodGet, "/healthz")
	getHealthz.SetSummary("Health check")
	getHealthz.SetDescription("Returns the health status of backend dependencies.")
	getHealthz.AddRespStructure(HealthResponse{}, openapi.WithHTTPStatus(http.StatusOK))
	getHealthz.AddRespStructure(HealthResponse{}, openapi.WithHTTPStatus(http.StatusServiceUnavailable))
	_ = r.AddOperation(getHealthz)

	// GET /api/challenges
	listChallenges, _ := r.NewOperationContext(http.MethodGet, "/api/challenges")
	listChallenges.SetSummary("List challenges")
	listChallenges.SetDescription("Returns all challenges with their derived lifecycle status.")
	listChallenges.AddRespStructure([]ChallengeResponse{}, openapi.WithHTTPStatus(http.StatusOK))
	_ = r.AddOperation(listChallenges)

	// GET /api/challenges/{id}
	getChallenge, _ := r.NewOperationContext(http.MethodGet, "/api/challenges/{id}")
	getChallenge.SetSummary("Get challenge")
	getChallenge.AddRespStructure(ChallengeResponse{}, openapi.WithHTTPStatus(http.StatusOK))
	getChallenge.AddRespStructure(ErrorResponse{}, openapi.WithHTTPStatus(http.StatusNotFound))
	_ = r.AddOperation(getChallenge)

	// GET /api/challenges/{id}/participants
	listParts, _ := r.NewOperationContext(http.MethodGet, "/api/challenges/{id}/participants")
	listParts.SetSummary("List participants")
	listParts.AddRespStructure([]Participant{}, openapi.WithHTTPStatus(http.StatusOK))
	listParts.AddRespStructure(ErrorResponse{}, openapi.WithHTTPStatus(http.StatusNotFound))
	_ = r.AddOperation(listParts)

	// POST /api/challenges/{id}/join
	postJoin, _ := r.NewOperationContext(http.MethodPost, "/api/challenges/{id}/join")
	postJoin.SetSummary("Join a challenge")
	postJoin.SetDescription("Records a participant once their escrow funding transfer is confirmed on-chain. An ambiguous transfer is parked for reconciliation and answered with 202.")
	postJoin.AddReqStructure(JoinRequest{})
	postJoin.AddRespStructure(JoinResponse{}, openapi.WithHTTPStatus(http.StatusCreated))
	postJoin.AddRespStructure(JoinResponse{}, openapi.WithHTTPStatus(http.StatusAccepted))
	postJoin.AddRespStructure(ErrorResponse{}, openapi.WithHTTPStatus(http.StatusBadRequest))
	postJoin.AddRespStructure(ErrorResponse{}, openapi.WithHTTPStatus(http.StatusConflict))
	_ = r.AddOperation(postJoin)

	// GET /api/challenges/{id}/calendar
	getCalendar, _ := r.NewOperationContext(http.MethodGet, "/api/challenges/{id}/calendar")
	getCalendar.SetSummary("Proof calendar")
	getCalendar.SetDescription("Day-by-day submission state for a participant. Pass userId as query parameter.")
	getCalendar.AddRespStructure(CalendarResponse{}, openapi.WithHTTPStatus(http.StatusOK))
	getCalendar.AddRespStructure(ErrorResponse{}, openapi.WithHTTPStatus(http.StatusNotFound))
	_ = r.AddOperation(getCalendar)

	// POST /api/challenges/{id}/submissions
	postSubmission, _ := r.NewOperationContext(http.MethodPost, "/api/challenges/{id}/submissions")
	postSubmission.SetSummary("Submit daily proof")
	postSubmission.SetDescription("Files a proof for one calendar day. Resubmission is allowed while review is pending; a locked or reviewed day is rejected.")
	postSubmission.AddReqStructure(SubmissionRequest{})
	postSubmission.AddRespStructure(Submission{}, openapi.WithHTTPStatus(http.StatusCreated))
	postSubmission.AddRespStructure(ErrorResponse{}, openapi.WithHTTPStatus(http.StatusConflict))
	_ = r.AddOperation(postSubmission)

	// GET /api/challenges/{id}/events
	getEvents, _ := r.NewOperationContext(http.MethodGet, "/api/challenges/{id}/events")
	getEvents.SetSummary("SSE event stream")
	getEvents.SetDescription("Server-Sent Events stream for joins, submissions, review decisions, and settlement.")
	getEvents.AddRespStructure(nil, openapi.WithHTTPStatus(http.StatusOK),
		openapi.WithContentType("text/event-stream"))
	_ = r.AddOperation(getEvents)

	// POST /api/admin/login
	postLogin, _ := r.NewOperationContext(http.MethodPost, "/api/admin/login")
	postLogin.SetSummary("Admin login")
	postLogin.SetDescription("Authenticate with username and password. Sets admin_session cookie.")
	postLogin.AddReqStructure(AdminLoginRequest{})
	postLogin.AddRespStructure(AdminMeResponse{}, openapi.WithHTTPStatus(http.StatusOK))
	postLogin.AddRespStructure(ErrorResponse{}, openapi.WithHTTPStatus(http.StatusUnauthorized))
	_ = r.AddOperation(postLogin)

	// POST /api/admin/logout
	postLogout, _ := r.NewOperationContext(http.MethodPost, "/api/admin/logout")
	postLogout.SetSummary("Admin logout")
	postLogout.AddRespStructure(nil, openapi.WithHTTPStatus(http.StatusOK))
	_ = r.AddOperation(postLogout)

	// GET /api/admin/me
	getMe, _ := r.NewOperationContext(http.MethodGet, "/api/admin/me")
	getMe.SetSummary("Current admin")
	getMe.AddRespStructure(AdminMeResponse{}, openapi.WithHTTPStatus(http.StatusOK))
	getMe.AddRespStructure(ErrorResponse{}, openapi.WithHTTPStatus(http.StatusUnauthorized))
	_ = r.AddOperation(getMe)

	// POST /api/admin/challenges
	createChallenge, _ := r.NewOperationContext(http.MethodPost, "/api/admin/challenges")
	createChallenge.SetSummary("Create challenge")
	createChallenge.SetDescription("Creates a challenge. Amounts are decimal token strings. Requires admin_session cookie.")
	createChallenge.AddReqStructure(ChallengeRequest{})
	createChallenge.AddRespStructure(ChallengeResponse{}, openapi.WithHTTPStatus(http.StatusCreated))
	createChallenge.AddRespStructure(ErrorResponse{}, openapi.WithHTTPStatus(http.StatusBadRequest))
	createChallenge.AddRespStructure(ErrorResponse{}, openapi.WithHTTPStatus(http.StatusUnauthorized))
	_ = r.AddOperation(createChallenge)

	// PUT /api/admin/challenges/{id}
	updateChallenge, _ := r.NewOperationContext(http.MethodPut, "/api/admin/challenges/{id}")
	updateChallenge.SetSummary("Update challenge")
	updateChallenge.SetDescription("Updates a challenge. The escrow address is immutable once participants joined. Requires admin_session cookie.")
	updateChallenge.AddReqStructure(ChallengeRequest{})
	updateChallenge.AddRespStructure(ChallengeResponse{}, openapi.WithHTTPStatus(http.StatusOK))
	updateChallenge.AddRespStructure(ErrorResponse{}, openapi.WithHTTPStatus(http.StatusConflict))
	updateChallenge.AddRespStructure(ErrorResponse{}, openapi.WithHTTPStatus(http.StatusNotFound))
	_ = r.AddOperation(updateChallenge)

	// DELETE /api/admin/challenges/{id}
	deleteChallenge, _ := r.NewOperationContext(http.MethodDelete, "/api/admin/challenges/{id}")
	deleteChallenge.SetSummary("Delete challenge")
	deleteChallenge.SetDescription("Deletes a challenge. Blocked once participants joined. Requires admin_session cookie.")
	deleteChallenge.AddRespStructure(nil, openapi.WithHTTPStatus(http.StatusOK))
	deleteChallenge.AddRespStructure(ErrorResponse{}, openapi.WithHTTPStatus(http.StatusConflict))
	deleteChallenge.AddRespStructure(ErrorResponse{}, openapi.WithHTTPStatus(http.StatusNotFound))
	_ = r.AddOperation(deleteChallenge)

	// GET /api/admin/review
	reviewQueue, _ := r.NewOperationContext(http.MethodGet, "/api/admin/review")
	reviewQueue.SetSummary("Pending review queue")
	reviewQueue.AddRespStructure([]ReviewItem{}, openapi.WithHTTPStatus(http.StatusOK))
	reviewQueue.AddRespStructure(ErrorResponse{}, openapi.WithHTTPStatus(http.StatusUnauthorized))
	_ = r.AddOperation(reviewQueue)

	// POST /api/admin/review/{id}
	decide, _ := r.NewOperationContext(http.MethodPost, "/api/admin/review/{id}")
	decide.SetSummary("Decide a submission")
	decide.SetDescription("Approves or rejects a pending submission and recomputes the participant's progress. A terminal decision cannot be re-reviewed.")
	decide.AddReqStructure(ReviewRequest{})
	decide.AddRespStructure(ReviewItem{}, openapi.WithHTTPStatus(http.StatusOK))
	decide.AddRespStructure(ErrorResponse{}, openapi.WithHTTPStatus(http.StatusConflict))
	decide.AddRespStructure(ErrorResponse{}, openapi.WithHTTPStatus(http.StatusNotFound))
	_ = r.AddOperation(decide)

	// POST /api/admin/challenges/{id}/close
	closeChallenge, _ := r.NewOperationContext(http.MethodPost, "/api/admin/challenges/{id}/close")
	closeChallenge.SetSummary("Evaluate a closed challenge")
	closeChallenge.SetDescription("Partitions participants against the completion threshold and returns the would-be reward ledger without moving funds. Idempotent; use it to inspect outcomes before running payouts.")
	closeChallenge.AddRespStructure(settlement.Result{}, openapi.WithHTTPStatus(http.StatusOK))
	closeChallenge.AddRespStructure(ErrorResponse{}, openapi.WithHTTPStatus(http.StatusConflict))
	closeChallenge.AddRespStructure(ErrorResponse{}, openapi.WithHTTPStatus(http.StatusNotFound))
	_ = r.AddOperation(closeChallenge)

	// POST /api/admin/challenges/{id}/settle
	settle, _ := r.NewOperationContext(http.MethodPost, "/api/admin/challenges/{id}/settle")
	settle.SetSummary("Run settlement")
	settle.SetDescription("Partitions participants against the completion threshold and pays winners from escrow. Safe to repeat; already-paid participants are skipped.")
	settle.AddRespStructure(settlement.RunReport{}, openapi.WithHTTPStatus(http.StatusOK))
	settle.AddRespStructure(ErrorResponse{}, openapi.WithHTTPStatus(http.StatusConflict))
	settle.AddRespStructure(ErrorResponse{}, openapi.WithHTTPStatus(http.StatusNotFound))
	_ = r.AddOperation(settle)

	// GET /api/admin/challenges/{id}/results
	results, _ := r.NewOperationContext(http.MethodGet, "/api/admin/challenges/{id}/results")
	results.SetSummary("Settlement results")
	results.AddRespStructure(settlement.RunReport{}, openapi.WithHTTPStatus(http.StatusOK))
	results.AddRespStructure(ErrorResponse{}, openapi.WithHTTPStatus(http.StatusNotFound))
	_ = r.AddOperation(results)

	// GET /api/admin/challenges/{id}/payouts
	payouts, _ := r.NewOperationContext(http.MethodGet, "/api/admin/challenges/{id}/payouts")
	payouts.SetSummary("Payout trail")
	payouts.AddRespStructure([]Payout{}, openapi.WithHTTPStatus(http.StatusOK))
	payouts.AddRespStructure(ErrorResponse{}, openapi.WithHTTPStatus(http.StatusUnauthorized))
	_ = r.AddOperation(payouts)

	return r.Spec
}

func handleOpenAPI() http.HandlerFunc {
	spec := newOpenAPISpec()
	data, _ := json.MarshalIndent(spec, "", "  ")

	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json; charset=utf-8")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write(data)
	}
}
