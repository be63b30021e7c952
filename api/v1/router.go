package v1

import (
	authapi "patchwatch/api/v1/auth"
	"patchwatch/api/v1/autoenrollment"
	"patchwatch/api/v1/dashboard"
	"patchwatch/api/v1/groups"
	"patchwatch/api/v1/hosts"
	"patchwatch/api/v1/middleware"
	"patchwatch/api/v1/packages"
	"patchwatch/api/v1/repositories"
	"patchwatch/api/v1/settingsapi"
	"patchwatch/internal/agentscript"
	"patchwatch/internal/config"
	"patchwatch/internal/enrollment"
	"patchwatch/internal/httpx"
	"patchwatch/internal/model"
	"patchwatch/internal/reconcile"
	"patchwatch/internal/session"
	"patchwatch/internal/settings"

	"github.com/gin-gonic/gin"
	"github.com/go-redis/redis/v8"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// Deps carries the shared services the routes are built from
type Deps struct {
	DB       *gorm.DB
	Redis    *redis.Client
	Config   *config.Config
	Logger   *logrus.Entry
	Sessions *session.Manager
	Settings *settings.Service
}

// SetupRouter sets up the API v1 routes
func SetupRouter(r *gin.Engine, deps *Deps) {
	db := deps.DB
	cfg := deps.Config

	engine := reconcile.NewEngine(db, deps.Logger)
	scripts := agentscript.NewService(db, cfg.Agent.ScriptDir)
	enrollSvc := enrollment.NewService(db, deps.Logger)

	authHandler := authapi.NewHandler(db, deps.Sessions, deps.Settings)
	hostsHandler := hosts.NewHandler(db, engine, scripts, deps.Settings)
	enrollHandler := autoenrollment.NewHandler(db, enrollSvc, scripts, deps.Settings)
	groupsHandler := groups.NewHandler(db)
	packagesHandler := packages.NewHandler(db)
	reposHandler := repositories.NewHandler(db)
	settingsHandler := settingsapi.NewHandler(deps.Settings)
	dashboardHandler := dashboard.NewHandler(db, deps.Settings)

	var generalLimit, agentLimit, enrollLimit gin.HandlerFunc
	if cfg.RateLimit.Enabled {
		generalLimit = middleware.RateLimit(deps.Redis, "general", cfg.RateLimit.RequestsPerMin)
		agentLimit = middleware.RateLimit(deps.Redis, "agent", cfg.RateLimit.AgentPerMin)
		enrollLimit = middleware.RateLimit(deps.Redis, "enrollment", cfg.RateLimit.EnrollmentPerMin)
	} else {
		passthrough := func(c *gin.Context) { c.Next() }
		generalLimit, agentLimit, enrollLimit = passthrough, passthrough, passthrough
	}

	authed := middleware.AuthRequired(db, deps.Sessions)
	agentAuthed := middleware.AgentAuth(db)

	v1 := r.Group("/api/v1")
	v1.Use(generalLimit)
	{
		v1.GET("/ping", pingHandler)

		authGroup := v1.Group("/auth")
		{
			authGroup.POST("/login", authHandler.Login)
			authGroup.POST("/verify-tfa", authHandler.VerifyTFA)
			authGroup.POST("/refresh", authHandler.Refresh)
			authGroup.POST("/signup", authHandler.Signup)
			authGroup.POST("/logout", authed, authHandler.Logout)
			authGroup.GET("/me", authed, authHandler.Me)

			adminUsers := authGroup.Group("/admin/users", authed, middleware.RequirePermission(db, model.CapManageUsers))
			{
				adminUsers.GET("", authHandler.ListUsers)
				adminUsers.POST("", authHandler.CreateUser)
				adminUsers.PUT("/:id", authHandler.UpdateUser)
				adminUsers.DELETE("/:id", authHandler.DeleteUser)
			}
		}

		hostsGroup := v1.Group("/hosts")
		{
			// Agent endpoints, API-id/key authenticated
			hostsGroup.POST("/update", agentLimit, agentAuthed, hostsHandler.Update)
			hostsGroup.POST("/ping", agentLimit, agentAuthed, hostsHandler.Ping)
			hostsGroup.GET("/info", agentLimit, agentAuthed, hostsHandler.Info)
			hostsGroup.GET("/install", agentLimit, agentAuthed, hostsHandler.InstallScript)

			// Script downloads, unauthenticated by design: the agent
			// script carries no secrets until install injects them.
			hostsGroup.GET("/agent/download", hostsHandler.DownloadAgent)
			hostsGroup.GET("/remove", hostsHandler.RemoveScript)

			// Dashboard endpoints
			hostsGroup.GET("", authed, middleware.RequirePermission(db, model.CapViewHosts), hostsHandler.List)
			hostsGroup.GET("/:id", authed, middleware.RequirePermission(db, model.CapViewHosts), hostsHandler.Get)

			manageHosts := middleware.RequirePermission(db, model.CapManageHosts)
			hostsGroup.POST("/create", authed, manageHosts, hostsHandler.Create)
			hostsGroup.DELETE("/:id", authed, manageHosts, hostsHandler.Delete)
			hostsGroup.POST("/bulk-delete", authed, manageHosts, hostsHandler.BulkDelete)
			hostsGroup.POST("/:id/regenerate-credentials", authed, manageHosts, hostsHandler.RegenerateCredentials)
			hostsGroup.POST("/:id/group", authed, manageHosts, hostsHandler.AssignGroup)
		}

		enrollGroup := v1.Group("/auto-enrollment")
		{
			manageTokens := middleware.RequirePermission(db, model.CapManageTokens)
			enrollGroup.POST("/tokens", authed, manageTokens, enrollHandler.CreateToken)
			enrollGroup.GET("/tokens", authed, manageTokens, enrollHandler.ListTokens)
			enrollGroup.DELETE("/tokens/:id", authed, manageTokens, enrollHandler.DeleteToken)

			enrollGroup.POST("/enroll", enrollLimit, enrollHandler.Enroll)
			enrollGroup.POST("/enroll/bulk", enrollLimit, enrollHandler.EnrollBulk)
			enrollGroup.GET("/proxmox-lxc", enrollLimit, enrollHandler.ProxmoxLXC)
		}

		groupsGroup := v1.Group("/host-groups", authed)
		{
			groupsGroup.GET("", middleware.RequirePermission(db, model.CapViewHosts), groupsHandler.List)

			manageHosts := middleware.RequirePermission(db, model.CapManageHosts)
			groupsGroup.POST("", manageHosts, groupsHandler.Create)
			groupsGroup.PUT("/:id", manageHosts, groupsHandler.Update)
			groupsGroup.DELETE("/:id", manageHosts, groupsHandler.Delete)
		}

		viewPackages := middleware.RequirePermission(db, model.CapViewPackages)
		packagesGroup := v1.Group("/packages", authed, viewPackages)
		{
			packagesGroup.GET("", packagesHandler.List)
			packagesGroup.GET("/:id/hosts", packagesHandler.Hosts)
		}

		reposGroup := v1.Group("/repositories", authed, viewPackages)
		{
			reposGroup.GET("", reposHandler.List)
			reposGroup.GET("/:id/hosts", reposHandler.Hosts)
		}

		settingsGroup := v1.Group("/settings", authed, middleware.RequirePermission(db, model.CapManageSettings))
		{
			settingsGroup.GET("", settingsHandler.Get)
			settingsGroup.PUT("", settingsHandler.Update)
		}

		dashboardGroup := v1.Group("/dashboard", authed)
		{
			dashboardGroup.GET("/stats", middleware.RequirePermission(db, model.CapViewReports), dashboardHandler.Stats)
			dashboardGroup.GET("/preferences", dashboardHandler.GetPreferences)
			dashboardGroup.PUT("/preferences", dashboardHandler.UpdatePreferences)
		}
	}
}

// pingHandler answers liveness probes
func pingHandler(c *gin.Context) {
	httpx.OK(c, gin.H{
		"pong": true,
	})
}
