package server

import (
	"github.com/danielgtaylor/huma/v2"
	"github.com/go-chi/chi/v5"

	v1 "github.com/gosuda/auditchain/internal/api/v1"
	"github.com/gosuda/auditchain/internal/api/ws"
)

func registerAPIRoutes(api huma.API, deps Deps) {
	v1.RegisterOrgRoutes(api, deps.Store)
	v1.RegisterEventRoutes(api, deps.Store, deps.Log, deps.Verifier)
	v1.RegisterHoldRoutes(api, deps.Store, deps.Holds, deps.Log)
	v1.RegisterExportRoutes(api, deps.Store, deps.Exporter, deps.Log)
}

func registerWSRoutes(r chi.Router, hub *ws.Hub) {
	r.Get("/orgs/{orgID}/events", hub.ServeEvents)
}
