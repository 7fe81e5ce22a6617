package server

import (
	"log/slog"

	"github.com/go-chi/chi/v5"
	"github.com/swaggest/swgui/v5emb"
)

func addRoutes(r chi.Router, logger *slog.Logger, deps Deps) {
	broker := NewBroker()

	r.Get("/openapi.json", handleOpenAPI())
	r.Mount("/docs", v5emb.New("StakeStreak API", "/openapi.json", "/docs"))
	r.Get("/healthz", handleHealth(logger, deps.DB, deps.Redis))

	// Participant-facing routes.
	r.Route("/api/challenges", func(r chi.Router) {
		r.Get("/", handleListChallenges(deps.Store))
		r.Get("/{id}", handleGetChallenge(deps.Store))
		r.Get("/{id}/participants", handleListParticipants(deps.Store))
		r.Post("/{id}/join", handleJoin(deps.Store, deps.Ledger, deps.TokenMint, deps.Queue, broker))
		r.Get("/{id}/calendar", handleCalendar(deps.Store))
		r.Post("/{id}/submissions", handleSubmit(deps.Store, broker))
		r.Get("/{id}/events", handleEvents(deps.Store, broker))
	})

	// Admin auth.
	r.Post("/api/admin/login", handleAdminLogin(deps.Admin))
	r.Post("/api/admin/logout", handleAdminLogout(deps.Admin))

	// Admin challenge management, review, and settlement.
	r.Route("/api/admin", func(r chi.Router) {
		r.Use(adminAuthMiddleware(deps.Admin))

		r.Get("/me", handleAdminMe())

		r.Post("/challenges", handleAdminCreateChallenge(deps.Store, deps.TokenDecimals))
		r.Put("/challenges/{id}", handleAdminUpdateChallenge(deps.Store, deps.TokenDecimals))
		r.Delete("/challenges/{id}", handleAdminDeleteChallenge(deps.Store))

		r.Get("/review", handleReviewQueue(deps.Store))
		r.Post("/review/{id}", handleReviewDecide(deps.Store, broker))

		r.Post("/challenges/{id}/close", handleCloseChallenge(deps.Store))
		r.Post("/challenges/{id}/settle", handleSettle(deps.Store, deps.Engine, broker))
		r.Get("/challenges/{id}/results", handleSettlementResults(deps.Store))
		r.Get("/challenges/{id}/payouts", handleListPayouts(deps.Store))
	})
}
