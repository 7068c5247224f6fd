package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"projectchat/internal/membership"
	"projectchat/internal/router"
	"projectchat/pkg/interfaces"
	"projectchat/pkg/types"
)

// MessageCreator validates and persists messages without broadcasting them.
type MessageCreator interface {
	CreateMessage(ctx context.Context, sender types.Identity, payload types.SendMessagePayload) (*types.Message, error)
}

// Registry interface to avoid tight coupling to websocket.Registry implementation
type Registry interface {
	GetStats() map[string]int
}

// Deps are the components the REST layer calls into.
type Deps struct {
	Messages    MessageCreator
	Broadcaster interfaces.Broadcaster
	Database    interfaces.DatabaseManager
	Membership  interfaces.MembershipManager
	Presence    interfaces.PresenceStore
	Registry    Registry
	Verifier    interfaces.TokenVerifier
	// WebSocket, when set, is mounted at /ws.
	WebSocket http.HandlerFunc
	// Polling, when set, is mounted at /poll.
	Polling http.HandlerFunc
}

// Options tunes history paging and the gin mode.
type Options struct {
	HistoryLimit    int
	MaxHistoryLimit int
	Mode            string
}

// ARCHITECTURAL DISCOVERY: HTTP API layer serves as pure interface between external clients and internal components
// Clean separation - no business logic, only HTTP handling and JSON serialization
type Server struct {
	deps    Deps
	opts    Options
	logger  *zap.Logger
	engine  *gin.Engine
	started time.Time
}

// MessageResponse wraps a single created message.
type MessageResponse struct {
	Message *types.Message `json:"message"`
}

// HistoryResponse lists messages oldest first.
type HistoryResponse struct {
	Messages []*types.Message `json:"messages"`
}

// MembersRequest replaces a project allow-list; an empty list opens the project.
type MembersRequest struct {
	UserIDs []string `json:"userIds"`
}

type MembersResponse struct {
	ProjectID string   `json:"projectId"`
	UserIDs   []string `json:"userIds"`
}

type HealthResponse struct {
	Status      string         `json:"status"`
	Timestamp   time.Time      `json:"timestamp"`
	Database    string         `json:"database"`
	Connections map[string]int `json:"connections"`
	Uptime      string         `json:"uptime"`
}

// NewServer builds the gin engine and its routes.
func NewServer(deps Deps, opts Options, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.HistoryLimit <= 0 {
		opts.HistoryLimit = 50
	}
	if opts.MaxHistoryLimit < opts.HistoryLimit {
		opts.MaxHistoryLimit = opts.HistoryLimit
	}
	if opts.Mode != "" {
		gin.SetMode(opts.Mode)
	}

	s := &Server{
		deps:    deps,
		opts:    opts,
		logger:  logger.Named("api"),
		engine:  gin.New(),
		started: time.Now(),
	}
	s.setupRoutes()
	return s
}

// ARCHITECTURAL DISCOVERY: Route setup follows REST conventions with proper middleware
func (s *Server) setupRoutes() {
	s.engine.Use(gin.Recovery())
	s.engine.Use(requestLogger(s.logger))
	s.engine.Use(corsMiddleware())

	s.engine.GET("/health", s.healthCheck)
	if s.deps.WebSocket != nil {
		s.engine.GET("/ws", gin.WrapF(s.deps.WebSocket))
	}
	if s.deps.Polling != nil {
		poll := gin.WrapF(s.deps.Polling)
		s.engine.GET("/poll", poll)
		s.engine.POST("/poll", poll)
		s.engine.DELETE("/poll", poll)
	}

	api := s.engine.Group("/api/v1")
	api.Use(authMiddleware(s.deps.Verifier))
	{
		projects := api.Group("/projects/:projectId")
		projects.POST("/messages", s.createMessage)
		projects.GET("/messages", s.listMessages)
		projects.PUT("/members", s.setMembers)
		projects.GET("/presence", s.getPresence)
	}
}

// FUNCTIONAL DISCOVERY: Implement http.Handler interface for integration with standard HTTP server
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.engine.ServeHTTP(w, r)
}

// POST /api/v1/projects/:projectId/messages
// FUNCTIONAL DISCOVERY: Persisted messages are broadcast so live sockets see REST sends
func (s *Server) createMessage(c *gin.Context) {
	var req types.CreateMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		abortWithError(c, http.StatusBadRequest, "Invalid JSON")
		return
	}

	payload := types.SendMessagePayload{
		ProjectID: c.Param("projectId"),
		Content:   req.Content,
		Type:      req.Type,
	}
	message, err := s.deps.Messages.CreateMessage(c.Request.Context(), identityFrom(c), payload)
	if err != nil {
		s.sendRoutingError(c, err)
		return
	}

	s.deps.Broadcaster.BroadcastMessage(c.Request.Context(), message)
	c.JSON(http.StatusCreated, MessageResponse{Message: message})
}

// GET /api/v1/projects/:projectId/messages?limit=N
func (s *Server) listMessages(c *gin.Context) {
	projectID := c.Param("projectId")
	if err := s.deps.Membership.ValidateMembership(projectID, identityFrom(c).UserID); err != nil {
		s.sendRoutingError(c, err)
		return
	}

	limit := s.opts.HistoryLimit
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			abortWithError(c, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = min(n, s.opts.MaxHistoryLimit)
	}

	messages, err := s.deps.Database.GetProjectHistory(c.Request.Context(), projectID, limit)
	if err != nil {
		s.logger.Error("failed to load history", zap.String("project_id", projectID), zap.Error(err))
		abortWithError(c, http.StatusInternalServerError, "Failed to load messages")
		return
	}
	c.JSON(http.StatusOK, HistoryResponse{Messages: messages})
}

// PUT /api/v1/projects/:projectId/members
// Only a current member may change the allow-list of a restricted project.
func (s *Server) setMembers(c *gin.Context) {
	projectID := c.Param("projectId")

	var req MembersRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		abortWithError(c, http.StatusBadRequest, "Invalid JSON")
		return
	}
	if err := s.deps.Membership.ValidateMembership(projectID, identityFrom(c).UserID); err != nil {
		s.sendRoutingError(c, err)
		return
	}

	err := s.deps.Membership.SetMembers(c.Request.Context(), projectID, req.UserIDs)
	switch {
	case errors.Is(err, types.ErrInvalidProjectID), errors.Is(err, types.ErrInvalidUserID), errors.Is(err, membership.ErrTooManyMembers):
		abortWithError(c, http.StatusBadRequest, err.Error())
		return
	case err != nil:
		s.logger.Error("failed to set members", zap.String("project_id", projectID), zap.Error(err))
		abortWithError(c, http.StatusInternalServerError, "Failed to update members")
		return
	}

	members := s.deps.Membership.GetMembers(projectID)
	if members == nil {
		members = []string{}
	}
	c.JSON(http.StatusOK, MembersResponse{ProjectID: projectID, UserIDs: members})
}

// GET /api/v1/projects/:projectId/presence
func (s *Server) getPresence(c *gin.Context) {
	projectID := c.Param("projectId")
	if err := s.deps.Membership.ValidateMembership(projectID, identityFrom(c).UserID); err != nil {
		s.sendRoutingError(c, err)
		return
	}

	users, err := s.deps.Presence.Roster(c.Request.Context(), projectID)
	if err != nil {
		s.logger.Error("failed to read roster", zap.String("project_id", projectID), zap.Error(err))
		abortWithError(c, http.StatusInternalServerError, "Failed to read presence")
		return
	}
	if users == nil {
		users = []types.PresenceUser{}
	}
	c.JSON(http.StatusOK, types.RosterPayload{ProjectID: projectID, Users: users})
}

// FUNCTIONAL DISCOVERY: GET /health - System health check with component validation
func (s *Server) healthCheck(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	defer cancel()

	status := "healthy"
	dbStatus := "healthy"
	if err := s.deps.Database.HealthCheck(ctx); err != nil {
		status = "unhealthy"
		dbStatus = "error: " + err.Error()
	}

	response := HealthResponse{
		Status:      status,
		Timestamp:   time.Now(),
		Database:    dbStatus,
		Connections: s.deps.Registry.GetStats(),
		Uptime:      time.Since(s.started).Round(time.Second).String(),
	}

	// FUNCTIONAL DISCOVERY: Return 503 if any component is unhealthy
	code := http.StatusOK
	if status == "unhealthy" {
		code = http.StatusServiceUnavailable
	}
	c.JSON(code, response)
}

func (s *Server) sendRoutingError(c *gin.Context, err error) {
	switch router.ErrorCode(err) {
	case router.CodeInvalidPayload, router.CodeInvalidProject, router.CodeInvalidMessage:
		abortWithError(c, http.StatusBadRequest, err.Error())
	case router.CodeForbidden:
		abortWithError(c, http.StatusForbidden, err.Error())
	case router.CodeRateLimited:
		abortWithError(c, http.StatusTooManyRequests, err.Error())
	default:
		s.logger.Error("request failed", zap.String("path", c.FullPath()), zap.Error(err))
		abortWithError(c, http.StatusInternalServerError, "Internal server error")
	}
}
