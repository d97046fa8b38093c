package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"bitbucket.org/mmdatafocus/audit_backend/config"
	"bitbucket.org/mmdatafocus/audit_backend/middlewares"
	"bitbucket.org/mmdatafocus/audit_backend/models"
	"bitbucket.org/mmdatafocus/audit_backend/models/reports"
	"bitbucket.org/mmdatafocus/audit_backend/utils"
	"bitbucket.org/mmdatafocus/audit_backend/workflow"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

const defaultPort = "8080"

// respondError maps the domain error taxonomy onto HTTP statuses.
func respondError(c *gin.Context, err error) {
	var validationErr *models.ValidationError
	var unbalancedErr *models.UnbalancedJournalError
	var rowNotFoundErr *models.RowNotFoundError
	var conflictErr *models.ConflictError

	switch {
	case errors.As(err, &validationErr), errors.As(err, &unbalancedErr):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.As(err, &rowNotFoundErr), errors.Is(err, utils.ErrorRecordNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case errors.As(err, &conflictErr):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	default:
		var bindErrs validator.ValidationErrors
		if errors.As(err, &bindErrs) {
			c.JSON(http.StatusBadRequest, gin.H{"error": utils.ProcessValidationErrors(err)})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
	}
}

func pathId(c *gin.Context) (int, bool) {
	id, err := strconv.Atoi(c.Param("id"))
	if err != nil || id <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid id"})
		return 0, false
	}
	return id, true
}

type loginRequest struct {
	Username string `json:"username" binding:"required"`
	Password string `json:"password" binding:"required"`
}

func loginHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req loginRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			respondError(c, err)
			return
		}
		info, err := models.Login(c.Request.Context(), req.Username, req.Password)
		if err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, info)
	}
}

type changePasswordRequest struct {
	OldPassword string `json:"old_password" binding:"required"`
	NewPassword string `json:"new_password" binding:"required"`
}

func changePasswordHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req changePasswordRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			respondError(c, err)
			return
		}
		user, err := models.ChangePassword(c.Request.Context(), req.OldPassword, req.NewPassword)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, user)
	}
}

func createUserHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		if isAdmin, ok := utils.GetIsAdminFromContext(c.Request.Context()); !ok || !isAdmin {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}
		var input models.NewUser
		if err := c.ShouldBindJSON(&input); err != nil {
			respondError(c, err)
			return
		}
		user, err := models.CreateUser(c.Request.Context(), &input)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusCreated, user)
	}
}

func importETBHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var input models.NewExtendedTrialBalance
		if err := c.ShouldBindJSON(&input); err != nil {
			respondError(c, err)
			return
		}
		input.EngagementId = c.Param("engagementId")
		etb, err := models.ImportETB(c.Request.Context(), &input)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, etb)
	}
}

func getETBHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		etb, err := models.GetETBByEngagement(c.Request.Context(), c.Param("engagementId"))
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, etb)
	}
}

func etbDataHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		year, err := reports.ParseStatementYear(c.Query("year"))
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		data, err := reports.GetETBData(c.Request.Context(), c.Param("engagementId"), year)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, data)
	}
}

func createJournalHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var input models.NewJournal
		if err := c.ShouldBindJSON(&input); err != nil {
			respondError(c, err)
			return
		}
		input.EngagementId = c.Param("engagementId")
		journal, err := models.CreateJournal(c.Request.Context(), &input)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusCreated, journal)
	}
}

func listJournalsHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		limit := config.SearchLimit
		if v := c.Query("limit"); v != "" {
			if n, err := strconv.Atoi(v); err == nil && n > 0 && n <= 100 {
				limit = n
			}
		}
		var after *string
		if v := c.Query("after"); v != "" {
			after = &v
		}
		var journalType, status, journalNo *string
		if v := c.Query("journal_type"); v != "" {
			journalType = &v
		}
		if v := c.Query("status"); v != "" {
			status = &v
		}
		if v := c.Query("journal_no"); v != "" {
			journalNo = &v
		}
		connection, err := models.PaginateJournals(c.Request.Context(), c.Param("engagementId"), limit, after, journalType, status, journalNo)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, connection)
	}
}

func getJournalHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := pathId(c)
		if !ok {
			return
		}
		journal, err := models.GetJournal(c.Request.Context(), c.Param("engagementId"), id)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, journal)
	}
}

func updateJournalHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := pathId(c)
		if !ok {
			return
		}
		var input models.UpdateJournalInput
		if err := c.ShouldBindJSON(&input); err != nil {
			respondError(c, err)
			return
		}
		journal, err := models.UpdateJournal(c.Request.Context(), c.Param("engagementId"), id, &input)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, journal)
	}
}

func deleteJournalHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := pathId(c)
		if !ok {
			return
		}
		journal, err := models.DeleteJournal(c.Request.Context(), c.Param("engagementId"), id)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, journal)
	}
}

type postJournalRequest struct {
	EtbVersion *int `json:"etb_version"`
}

func postJournalHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := pathId(c)
		if !ok {
			return
		}
		var req postJournalRequest
		if c.Request.ContentLength > 0 {
			if err := c.ShouldBindJSON(&req); err != nil {
				respondError(c, err)
				return
			}
		}
		journal, summary, err := models.PostJournal(c.Request.Context(), c.Param("engagementId"), id, req.EtbVersion)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"journal": journal, "summary": summary})
	}
}

func unpostJournalHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := pathId(c)
		if !ok {
			return
		}
		var req postJournalRequest
		if c.Request.ContentLength > 0 {
			if err := c.ShouldBindJSON(&req); err != nil {
				respondError(c, err)
				return
			}
		}
		journal, summary, err := models.UnpostJournal(c.Request.Context(), c.Param("engagementId"), id, req.EtbVersion)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"journal": journal, "summary": summary})
	}
}

func journalHistoryHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := pathId(c)
		if !ok {
			return
		}
		histories, err := models.GetJournalHistory(c.Request.Context(), c.Param("engagementId"), id)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, histories)
	}
}

func historyHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		limit := config.SearchLimit
		if v := c.Query("limit"); v != "" {
			if n, err := strconv.Atoi(v); err == nil && n > 0 && n <= 100 {
				limit = n
			}
		}
		var after *string
		if v := c.Query("after"); v != "" {
			after = &v
		}
		var action *models.HistoryAction
		if v := c.Query("action"); v != "" {
			a := models.HistoryAction(v)
			action = &a
		}
		connection, err := models.PaginateHistory(c.Request.Context(), c.Param("engagementId"), limit, after, action)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, connection)
	}
}

func customNotFoundHandler(c *gin.Context) {
	c.JSON(http.StatusNotFound, gin.H{"error": "route not found"})
}

func main() {
	port := os.Getenv("API_PORT")
	if port == "" {
		// Cloud Run standard env var.
		port = os.Getenv("PORT")
	}
	if port == "" {
		port = defaultPort
	}

	logger := config.GetLogger()

	// Cloud Run sends SIGTERM on revision shutdown; handle it for graceful drain.
	sigCtx, stopSignals := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stopSignals()

	// Start the HTTP server ASAP so Cloud Run considers the revision healthy.
	// Until the DB is ready, we return 503 for app endpoints.
	r := gin.New()
	// Correlation IDs: generate once per request and attach to context.
	r.Use(func(c *gin.Context) {
		cid := c.GetHeader("x-correlation-id")
		if cid == "" {
			cid = uuid.NewString()
		}
		c.Request = c.Request.WithContext(utils.SetCorrelationIdInContext(c.Request.Context(), cid))
		c.Next()
	})
	r.Use(func(c *gin.Context) {
		// Always allow the startup probe.
		if c.Request.URL.Path == "/healthz" {
			c.Status(http.StatusNoContent)
			c.Abort()
			return
		}
		if config.GetDB() == nil {
			c.AbortWithStatus(http.StatusServiceUnavailable)
			return
		}
		c.Next()
	})

	r.GET("/healthz", func(c *gin.Context) { c.Status(http.StatusNoContent) })

	corsConfig := cors.DefaultConfig()
	// In production, require explicit allowlist via CORS_ALLOWED_ORIGINS
	// (comma-separated); otherwise allow all for developer convenience.
	allowedOrigins := strings.TrimSpace(os.Getenv("CORS_ALLOWED_ORIGINS"))
	if strings.EqualFold(strings.TrimSpace(os.Getenv("GO_ENV")), "production") {
		if allowedOrigins == "" {
			corsConfig.AllowOrigins = []string{}
		} else {
			corsConfig.AllowOrigins = splitAndTrim(allowedOrigins)
		}
	} else {
		corsConfig.AllowAllOrigins = true
	}
	corsConfig.AddAllowMethods("GET", "POST", "PUT", "DELETE", "OPTIONS")
	corsConfig.AddAllowHeaders("token", "Origin", "Content-Type", "Authorization")
	corsConfig.AddExposeHeaders("Content-Length")
	corsConfig.AllowCredentials = true
	r.Use(cors.New(corsConfig))

	r.Use(middlewares.AuthMiddleware())
	r.Use(customErrorLogger(logger))
	r.Use(gin.Recovery())

	r.POST("/login", loginHandler())
	r.POST("/users", middlewares.RequireActor(), createUserHandler())
	r.POST("/change-password", middlewares.RequireActor(), changePasswordHandler())

	engagement := r.Group("/engagements/:engagementId", middlewares.RequireActor())
	{
		engagement.POST("/etb", importETBHandler())
		engagement.GET("/etb", getETBHandler())
		engagement.GET("/etb-data", etbDataHandler())

		engagement.POST("/journals", createJournalHandler())
		engagement.GET("/journals", listJournalsHandler())
		engagement.GET("/journals/:id", getJournalHandler())
		engagement.PUT("/journals/:id", updateJournalHandler())
		engagement.DELETE("/journals/:id", deleteJournalHandler())
		engagement.POST("/journals/:id/post", postJournalHandler())
		engagement.POST("/journals/:id/unpost", unpostJournalHandler())
		engagement.GET("/journals/:id/history", journalHistoryHandler())

		engagement.GET("/history", historyHandler())
	}

	r.NoRoute(customNotFoundHandler)

	// Start listening immediately (Cloud Run startup probe is TCP based).
	srv := &http.Server{
		Addr:    ":" + port,
		Handler: r,
	}
	serverErrCh := make(chan error, 1)
	go func() {
		// ListenAndServe returns http.ErrServerClosed on graceful shutdown.
		serverErrCh <- srv.ListenAndServe()
	}()

	// Connect dependencies after the port is open.
	config.ConnectDatabaseWithRetry()

	db := config.GetDB()
	sqlDB, _ := db.DB()
	defer func() {
		if sqlDB != nil {
			_ = sqlDB.Close()
		}
	}()
	// AutoMigrate can run DDL that blocks tables; allow disabling migrations
	// on startup and running them as a separate job instead.
	if !strings.EqualFold(strings.TrimSpace(os.Getenv("SKIP_MIGRATIONS")), "true") {
		models.MigrateTable()
	} else {
		logger.WithFields(logrus.Fields{"field": "migrations"}).Warn("SKIP_MIGRATIONS=true; skipping AutoMigrate on startup")
	}

	// Start outbox dispatcher (publishes AFTER commit).
	dispatcherCtx, cancelDispatcher := context.WithCancel(context.Background())
	defer cancelDispatcher()
	go workflow.NewOutboxDispatcher(db, logger).Run(dispatcherCtx)

	// Set the session isolation level to READ COMMITTED
	for attempt := 1; ; attempt++ {
		err := db.Exec("SET SESSION TRANSACTION ISOLATION LEVEL READ COMMITTED").Error
		if err == nil {
			break
		}
		sleep := time.Second * time.Duration(1<<min(attempt, 5))
		if sleep > 30*time.Second {
			sleep = 30 * time.Second
		}
		logger.WithFields(logrus.Fields{
			"field":   "database",
			"attempt": attempt,
		}).Warn("failed to set isolation level; retrying in " + sleep.String() + ": " + err.Error())
		time.Sleep(sleep)
	}

	log.Println("Server started successfully on port " + port)

	// Block until shutdown or server error.
	select {
	case <-sigCtx.Done():
		// graceful shutdown below
	case err := <-serverErrCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.WithFields(logrus.Fields{"field": "http"}).Error("server stopped unexpectedly: " + err.Error())
		}
	}

	// Stop background workers first so they don't start new work while draining.
	cancelDispatcher()

	// Drain HTTP requests.
	shutdownTimeout := 30 * time.Second
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.WithFields(logrus.Fields{"field": "http"}).Error("graceful shutdown failed: " + err.Error())
	}

	// Close Redis (best-effort).
	if rdb := config.GetRedisDB(); rdb != nil {
		_ = rdb.Close()
	}
}

// customErrorLogger logs only requests that recorded errors.
func customErrorLogger(logger *logrus.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if len(c.Errors) > 0 {
			logger.Error(c.Errors.String())
		}
	}
}

func splitAndTrim(csv string) []string {
	if strings.TrimSpace(csv) == "" {
		return nil
	}
	parts := strings.Split(csv, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}
