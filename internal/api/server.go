package api

import (
	"net/http"

	"github.com/11bztaylor/TaylorDashv1-sub001/internal/auth"
	"github.com/11bztaylor/TaylorDashv1-sub001/internal/bus"
	"github.com/11bztaylor/TaylorDashv1-sub001/internal/events"
	"github.com/11bztaylor/TaylorDashv1-sub001/internal/logging"
	"github.com/11bztaylor/TaylorDashv1-sub001/internal/metrics"
	"github.com/11bztaylor/TaylorDashv1-sub001/internal/models"
	"github.com/11bztaylor/TaylorDashv1-sub001/internal/plugins"
	"github.com/11bztaylor/TaylorDashv1-sub001/internal/projects"
	"github.com/11bztaylor/TaylorDashv1-sub001/internal/storage"
)

// Deps carries everything the HTTP surface needs.
type Deps struct {
	ServiceName string
	Registry    *metrics.Registry
	Sink        *logging.Sink
	Auth        *auth.Service
	Validator   TokenValidator
	Projects    *projects.Store
	Pipeline    *events.Pipeline
	Plugins     *plugins.Manager
	PluginStore plugins.Store
	Gatekeeper  *plugins.Gatekeeper
	Logs        *logging.PGStore
	DB          *storage.Store
	Bus         *bus.Client
}

// Server routes the versioned API.
type Server struct {
	serviceName string
	registry    *metrics.Registry
	sink        *logging.Sink
	auth        *auth.Service
	validator   TokenValidator
	projects    *projects.Store
	pipeline    *events.Pipeline
	plugins     *plugins.Manager
	pluginStore plugins.Store
	gatekeeper  *plugins.Gatekeeper
	logs        *logging.PGStore
	db          *storage.Store
	bus         *bus.Client

	mux *http.ServeMux
}

// NewServer builds the router.
func NewServer(deps Deps) *Server {
	s := &Server{
		serviceName: deps.ServiceName,
		registry:    deps.Registry,
		sink:        deps.Sink,
		auth:        deps.Auth,
		validator:   deps.Validator,
		projects:    deps.Projects,
		pipeline:    deps.Pipeline,
		plugins:     deps.Plugins,
		pluginStore: deps.PluginStore,
		gatekeeper:  deps.Gatekeeper,
		logs:        deps.Logs,
		db:          deps.DB,
		bus:         deps.Bus,
	}
	if s.serviceName == "" {
		s.serviceName = "taylordash"
	}
	s.mux = s.buildRoutes()
	return s
}

func (s *Server) buildRoutes() *http.ServeMux {
	mux := http.NewServeMux()

	// health
	mux.HandleFunc("GET /health/live", s.handleHealthLive)
	mux.HandleFunc("GET /health/ready", s.handleHealthReady)
	mux.HandleFunc("GET /api/v1/health/stack", s.requireRole(models.RoleAdmin, s.handleHealthStack))

	// auth
	mux.HandleFunc("POST /api/v1/auth/login", s.handleLogin)
	mux.HandleFunc("POST /api/v1/auth/logout", s.requireRole(models.RoleViewer, s.handleLogout))
	mux.HandleFunc("GET /api/v1/auth/me", s.requireRole(models.RoleViewer, s.handleMe))
	mux.HandleFunc("GET /api/v1/auth/users", s.requireRole(models.RoleAdmin, s.handleListUsers))
	mux.HandleFunc("POST /api/v1/auth/users", s.requireRole(models.RoleAdmin, s.handleCreateUser))
	mux.HandleFunc("PATCH /api/v1/auth/users/{id}", s.requireRole(models.RoleAdmin, s.handleUpdateUser))
	mux.HandleFunc("DELETE /api/v1/auth/users/{id}", s.requireRole(models.RoleAdmin, s.handleDeleteUser))
	mux.HandleFunc("GET /api/v1/auth/sessions", s.requireRole(models.RoleAdmin, s.handleListSessions))
	mux.HandleFunc("GET /api/v1/auth/audit", s.requireRole(models.RoleAdmin, s.handleListAuditEvents))

	// projects
	mux.HandleFunc("GET /api/v1/projects", s.requireRole(models.RoleViewer, s.handleListProjects))
	mux.HandleFunc("POST /api/v1/projects", s.requireRole(models.RoleAdmin, s.handleCreateProject))
	mux.HandleFunc("GET /api/v1/projects/{id}", s.requireRole(models.RoleViewer, s.handleGetProject))
	mux.HandleFunc("PUT /api/v1/projects/{id}", s.requireRole(models.RoleAdmin, s.handleUpdateProject))
	mux.HandleFunc("DELETE /api/v1/projects/{id}", s.requireRole(models.RoleAdmin, s.handleDeleteProject))

	// components and tasks
	mux.HandleFunc("GET /api/v1/projects/{id}/components", s.requireRole(models.RoleViewer, s.handleListComponents))
	mux.HandleFunc("POST /api/v1/projects/{id}/components", s.requireRole(models.RoleAdmin, s.handleCreateComponent))
	mux.HandleFunc("PUT /api/v1/components/{id}", s.requireRole(models.RoleAdmin, s.handleUpdateComponent))
	mux.HandleFunc("DELETE /api/v1/components/{id}", s.requireRole(models.RoleAdmin, s.handleDeleteComponent))
	mux.HandleFunc("GET /api/v1/components/{id}/tasks", s.requireRole(models.RoleViewer, s.handleListTasks))
	mux.HandleFunc("POST /api/v1/components/{id}/tasks", s.requireRole(models.RoleAdmin, s.handleCreateTask))
	mux.HandleFunc("PUT /api/v1/tasks/{id}", s.requireRole(models.RoleAdmin, s.handleUpdateTask))
	mux.HandleFunc("DELETE /api/v1/tasks/{id}", s.requireRole(models.RoleAdmin, s.handleDeleteTask))
	mux.HandleFunc("GET /api/v1/projects/{id}/dependencies", s.requireRole(models.RoleViewer, s.handleListDependencies))
	mux.HandleFunc("POST /api/v1/projects/{id}/dependencies", s.requireRole(models.RoleAdmin, s.handleAddDependency))
	mux.HandleFunc("DELETE /api/v1/components/{id}/dependencies/{depends_on}", s.requireRole(models.RoleAdmin, s.handleRemoveDependency))

	// events
	mux.HandleFunc("GET /api/v1/events", s.requireRole(models.RoleAdmin, s.handleListEvents))
	mux.HandleFunc("GET /api/v1/dlq", s.requireRole(models.RoleAdmin, s.handleListDLQ))
	mux.HandleFunc("POST /api/v1/events/publish", s.requireRole(models.RoleViewer, s.handlePublishEvent))

	// plugins
	mux.HandleFunc("GET /api/v1/plugins", s.requireRole(models.RoleViewer, s.handleListPlugins))
	mux.HandleFunc("POST /api/v1/plugins", s.requireRole(models.RoleAdmin, s.handleInstallPlugin))
	mux.HandleFunc("GET /api/v1/plugins/installations/{id}", s.requireRole(models.RoleAdmin, s.handleGetInstallation))
	mux.HandleFunc("GET /api/v1/plugins/{id}", s.requireRole(models.RoleViewer, s.handleGetPlugin))
	mux.HandleFunc("PATCH /api/v1/plugins/{id}/config", s.requireRole(models.RoleAdmin, s.handleUpdatePluginConfig))
	mux.HandleFunc("POST /api/v1/plugins/{id}/disable", s.requireRole(models.RoleAdmin, s.handleDisablePlugin))
	mux.HandleFunc("POST /api/v1/plugins/{id}/enable", s.requireRole(models.RoleAdmin, s.handleEnablePlugin))
	mux.HandleFunc("DELETE /api/v1/plugins/{id}", s.requireRole(models.RoleAdmin, s.handleUninstallPlugin))
	mux.HandleFunc("GET /api/v1/plugins/{id}/violations", s.requireRole(models.RoleAdmin, s.handleListViolations))
	mux.HandleFunc("POST /api/v1/plugins/{id}/violations/{vid}/resolve", s.requireRole(models.RoleAdmin, s.handleResolveViolation))
	mux.HandleFunc("/api/v1/plugins/{id}/proxy/{rest...}", s.handlePluginProxy)

	// logs
	mux.HandleFunc("GET /api/v1/logs", s.requireRole(models.RoleAdmin, s.handleQueryLogs))
	mux.HandleFunc("GET /api/v1/logs/stats", s.requireRole(models.RoleAdmin, s.handleLogStats))

	// metrics are served without auth; deploys restrict at the network layer
	mux.Handle("GET /metrics", metrics.Handler())

	return mux
}

// Handler returns the full middleware chain around the router.
func (s *Server) Handler() http.Handler {
	var h http.Handler = s.mux
	h = s.withTimeout(defaultHandlerTimeout, h)
	h = s.withObservability(h)
	h = s.withRecovery(h)
	h = s.withRequestContext(h)
	return h
}
