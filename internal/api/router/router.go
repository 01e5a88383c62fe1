// Package router sets up the API routes for the server.
package router

import (
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"github.com/arvlabs/arv/consts"
	"github.com/arvlabs/arv/internal/api/handler"
	"github.com/arvlabs/arv/internal/api/middleware"
	"github.com/arvlabs/arv/internal/assist"
	"github.com/arvlabs/arv/internal/config"
	"github.com/arvlabs/arv/internal/conntest"
	"github.com/arvlabs/arv/internal/events"
	"github.com/arvlabs/arv/internal/lifecycle"
	"github.com/arvlabs/arv/internal/store"
)

// Deps carries everything the route table wires together.
type Deps struct {
	Config     *config.Config
	Store      store.Store
	Controller *lifecycle.Controller
	Assist     *assist.Engine
	Tester     *conntest.Tester
	Bus        *events.Bus
	Reader     handler.TreeReader
	BaseURL    string
}

// Setup configures all API routes.
func Setup(r *gin.Engine, d Deps) {
	r.Use(middleware.Recovery())
	r.Use(middleware.Logger(&middleware.LoggerConfig{
		AccessLog: d.Config.Logging.AccessLog,
	}))
	r.Use(middleware.CORS(d.Config.Server.CORSOrigins))
	r.Use(middleware.RequestID())
	r.Use(middleware.ErrorHandler(d.Config.Server.Debug))
	r.Use(otelgin.Middleware(consts.ServiceName))

	validator := middleware.NewKeyValidator(d.Store)
	requireKey := middleware.AgentAuth(validator)
	optionalKey := middleware.OptionalAgentAuth(validator)

	// Health and metrics (public)
	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(200, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	sessionHandler := handler.NewSessionHandler(d.Controller, d.Store)
	reviewHandler := handler.NewReviewHandler(d.Controller, d.Store)
	issueHandler := handler.NewIssueHandler(d.Controller, d.Store, d.Assist)
	repoHandler := handler.NewRepoHandler(d.Store, d.Reader)
	agentHandler := handler.NewAgentHandler(d.Controller, d.Store, d.Assist, d.Tester, d.BaseURL)
	presetHandler := handler.NewPresetHandler(d.Store)
	eventsHandler := handler.NewEventsHandler(d.Store, d.Bus)

	api := r.Group("/api")

	// ============== Sessions ==============

	sessions := api.Group("/sessions")
	{
		sessions.GET("", sessionHandler.List)
		sessions.POST("", sessionHandler.Create)

		sessions.POST("/:sid/start", sessionHandler.Start)
		sessions.POST("/:sid/activate", sessionHandler.Activate)
		sessions.POST("/:sid/finish", sessionHandler.Finish)
		sessions.POST("/:sid/process", sessionHandler.Process)
		sessions.POST("/:sid/fix-complete", sessionHandler.FixComplete)
		sessions.DELETE("/:sid", sessionHandler.Delete)

		sessions.GET("/:sid/status", sessionHandler.Status)
		sessions.GET("/:sid/issues", sessionHandler.Issues)
		sessions.GET("/:sid/reviews", sessionHandler.Reviews)
		sessions.GET("/:sid/pending", sessionHandler.Pending)
		sessions.GET("/:sid/runtime", sessionHandler.Runtime)
		sessions.GET("/:sid/activity", sessionHandler.Activity)
		sessions.GET("/:sid/report", sessionHandler.Report)
		sessions.GET("/:sid/stream", eventsHandler.Stream)

		// Working tree views
		sessions.GET("/:sid/changes", repoHandler.Changes)
		sessions.GET("/:sid/diff/*path", repoHandler.Diff)
		sessions.GET("/:sid/files/*path", repoHandler.File)
		sessions.GET("/:sid/tree", repoHandler.Tree)
		sessions.GET("/:sid/search", repoHandler.Search)

		// Reviewer submissions. The review record needs an agent key; issue
		// reports also come from the human operator without one.
		sessions.POST("/:sid/reviews", requireKey, reviewHandler.SubmitReview)
		sessions.POST("/:sid/issues", optionalKey, reviewHandler.ReportIssue)

		// Session-scoped aliases matching the URLs reviewer prompts carry
		sessions.POST("/:sid/issues/:iid/opinions", optionalKey, issueHandler.SubmitOpinion)
		sessions.POST("/:sid/issues/:iid/respond", optionalKey, issueHandler.Respond)

		// Roster
		sessions.GET("/:sid/agents", agentHandler.List)
		sessions.POST("/:sid/agents", agentHandler.Create)
		sessions.PATCH("/:sid/agents/:model_id", agentHandler.Update)
		sessions.DELETE("/:sid/agents/:model_id", agentHandler.Delete)
		sessions.POST("/:sid/agents/:model_id/chat", agentHandler.Chat)
	}

	// ============== Issues ==============

	issues := api.Group("/issues")
	{
		issues.POST("/:iid/opinions", optionalKey, issueHandler.SubmitOpinion)
		issues.POST("/:iid/respond", optionalKey, issueHandler.Respond)
		issues.POST("/:iid/status", optionalKey, issueHandler.SetStatus)
		issues.POST("/:iid/dismiss", issueHandler.Dismiss)
		issues.GET("/:iid/thread", issueHandler.Thread)

		issues.POST("/:iid/assist", issueHandler.Assist)
		issues.GET("/:iid/assist", issueHandler.AssistTranscript)
		issues.POST("/:iid/assist/opinion", requireKey, issueHandler.AssistOpinion)
	}

	// ============== Agents & presets ==============

	api.POST("/agents/connection-test", agentHandler.ConnectionTest)
	api.POST("/connection-test/callback", agentHandler.ConnectionTestCallback)

	presets := api.Group("/presets")
	{
		presets.GET("", presetHandler.List)
		presets.POST("", presetHandler.Create)
		presets.GET("/:id", presetHandler.Get)
		presets.PUT("/:id", presetHandler.Update)
		presets.DELETE("/:id", presetHandler.Delete)
	}
}
