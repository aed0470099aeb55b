package api

import (
	httpSwagger "github.com/swaggo/http-swagger"

	"amplicon-pipeline/internal/api/handler"
	"amplicon-pipeline/pkg/router"
)

func RegisterRoutes(r *router.Router, h *handler.Handler) {
	r.GET("/api/v1/health", h.Health)
	r.GET("/api/v1/runs", h.ListRuns)
	// More specific routes first
	r.GET("/api/v1/runs/*/ledger", h.GetRunLedger)
	r.GET("/api/v1/runs/*/progress", h.GetRunProgress)
	r.GET("/api/v1/runs/*/errors", h.GetRunErrors)
	r.GET("/api/v1/runs/*/artifacts", h.GetRunArtifacts)
	r.GET("/api/v1/runs/*/summary", h.GetRunSummary)
	// Generic run route last
	r.GET("/api/v1/runs/*", h.GetRun)

	r.Handle("/swagger/", httpSwagger.WrapHandler)
}
