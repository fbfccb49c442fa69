package main

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
)

const maxScreenshotBytes = 8 << 20

func (s *Server) registerAgentRoutes(r *gin.Engine) {
	api := r.Group("/api/agent")
	api.POST("/register", s.rateLimited("register", 30, time.Minute, func(c *gin.Context) string {
		return c.ClientIP()
	}, s.handleRegister))

	authed := api.Group("", s.requireAgent)
	authed.POST("/heartbeat", s.handleHeartbeat)
	authed.GET("/commands", s.handlePollCommands)
	authed.POST("/commands/:id/result", s.handleCommandResult)
	authed.POST("/screenshot", s.handleScreenshotUpload)
}

// requireAgent authenticates the bearer API key against the claimed
// computer identity. The id arrives as a query parameter or, for JSON
// bodies, as a computer_id field; the body is restored for the handler.
func (s *Server) requireAgent(c *gin.Context) {
	authz := c.GetHeader("Authorization")
	if !strings.HasPrefix(authz, "Bearer ") {
		respondError(c, http.StatusUnauthorized, "missing or invalid Authorization header", s.logger)
		return
	}
	apiKey := strings.TrimPrefix(authz, "Bearer ")

	computerID, err := s.claimedComputerID(c)
	if err != nil {
		respondError(c, http.StatusBadRequest, "computer_id is required", s.logger)
		return
	}

	computer, err := s.registry.Authenticate(apiKey, computerID)
	if err != nil {
		if errors.Is(err, ErrUnauthorized) {
			respondError(c, http.StatusUnauthorized, "invalid API key", s.logger)
		} else {
			respondError(c, http.StatusInternalServerError, "authentication failed", s.logger)
		}
		return
	}

	c.Set("computer", computer)
	c.Next()
}

func (s *Server) claimedComputerID(c *gin.Context) (uint, error) {
	if raw := c.Query("computer_id"); raw != "" {
		id, err := strconv.ParseUint(raw, 10, 32)
		if err != nil || id == 0 {
			return 0, ErrValidation
		}
		return uint(id), nil
	}

	if !strings.HasPrefix(c.ContentType(), "application/json") {
		return 0, ErrValidation
	}
	body, err := c.GetRawData()
	if err != nil {
		return 0, ErrValidation
	}
	c.Request.Body = io.NopCloser(bytes.NewBuffer(body))

	var probe struct {
		ComputerID uint `json:"computer_id"`
	}
	if err := json.Unmarshal(body, &probe); err != nil || probe.ComputerID == 0 {
		return 0, ErrValidation
	}
	return probe.ComputerID, nil
}

func (s *Server) handleRegister(c *gin.Context) {
	var req struct {
		Token        string `json:"token"`
		Hostname     string `json:"hostname"`
		IPAddress    string `json:"ip_address"`
		AgentVersion string `json:"agent_version"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, http.StatusBadRequest, err.Error(), s.logger)
		return
	}
	if req.Token == "" || req.Hostname == "" {
		respondError(c, http.StatusBadRequest, "token and hostname are required", s.logger)
		return
	}

	reg, err := s.registry.Register(req.Hostname, req.IPAddress, req.AgentVersion, req.Token)
	switch {
	case errors.Is(err, ErrInvalidToken):
		respondError(c, http.StatusUnauthorized, "invalid or already used token", s.logger)
		return
	case errors.Is(err, ErrValidation):
		respondError(c, http.StatusBadRequest, "token and hostname are required", s.logger)
		return
	case err != nil:
		respondError(c, http.StatusInternalServerError, "registration failed", s.logger)
		return
	}

	logger := requestLogger(c, s.logger)
	logger.Info().
		Str("hostname", req.Hostname).
		Uint("computer_id", reg.ComputerID).
		Msg("agent registered")

	c.JSON(http.StatusOK, gin.H{
		"status":      "ok",
		"computer_id": reg.ComputerID,
		"api_key":     reg.APIKey,
		"message":     "agent registered successfully",
	})
}

type commandPayload struct {
	ID         uint   `json:"id"`
	Type       string `json:"type"`
	TargetUser string `json:"target_user"`
}

func commandPayloads(commands []Command) []commandPayload {
	out := make([]commandPayload, 0, len(commands))
	for _, cmd := range commands {
		out = append(out, commandPayload{
			ID:         cmd.ID,
			Type:       string(cmd.Type),
			TargetUser: cmd.TargetUser,
		})
	}
	return out
}

func (s *Server) handleHeartbeat(c *gin.Context) {
	computer := c.MustGet("computer").(*Computer)

	var req struct {
		ComputerID         uint           `json:"computer_id"`
		IPAddress          *string        `json:"ip_address"`
		AgentVersion       *string        `json:"agent_version"`
		CurrentDesktopUser *string        `json:"current_desktop_user"`
		Users              []ReportedUser `json:"users"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, http.StatusBadRequest, err.Error(), s.logger)
		return
	}

	if _, err := s.registry.Heartbeat(computer.ID, HeartbeatUpdate{
		IPAddress:    req.IPAddress,
		AgentVersion: req.AgentVersion,
		CurrentUser:  req.CurrentDesktopUser,
	}); err != nil {
		respondError(c, http.StatusInternalServerError, "heartbeat failed", s.logger)
		return
	}

	// A present-but-empty list means the agent reported zero accounts and
	// the mirror empties; an absent field skips the sync entirely.
	if req.Users != nil {
		if _, err := s.users.Sync(computer.ID, req.Users); err != nil {
			respondError(c, http.StatusInternalServerError, "user sync failed", s.logger)
			return
		}
	}

	commands, err := s.mailbox.DrainPending(computer.ID)
	if err != nil {
		respondError(c, http.StatusInternalServerError, "command delivery failed", s.logger)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"status":   "ok",
		"commands": commandPayloads(commands),
	})
}

// handlePollCommands serves agents that poll for work between heartbeats.
// Same drain-once semantics as the heartbeat response.
func (s *Server) handlePollCommands(c *gin.Context) {
	computer := c.MustGet("computer").(*Computer)

	commands, err := s.mailbox.DrainPending(computer.ID)
	if err != nil {
		respondError(c, http.StatusInternalServerError, "command delivery failed", s.logger)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"status":   "ok",
		"commands": commandPayloads(commands),
	})
}

func (s *Server) handleCommandResult(c *gin.Context) {
	computer := c.MustGet("computer").(*Computer)

	commandID, err := parseUintParam(c.Param("id"))
	if err != nil {
		respondError(c, http.StatusBadRequest, "invalid command id", s.logger)
		return
	}

	var req struct {
		Success *bool  `json:"success"`
		Message string `json:"message"`
		Error   string `json:"error"`
	}
	if err := c.ShouldBindJSON(&req); err != nil || req.Success == nil {
		respondError(c, http.StatusBadRequest, "success is required", s.logger)
		return
	}

	message := req.Message
	if *req.Success && message == "" {
		message = "Success"
	}
	if !*req.Success {
		message = req.Error
		if message == "" {
			message = "Unknown error"
		}
	}

	err = s.mailbox.ReportResult(commandID, computer.ID, *req.Success, message)
	switch {
	case errors.Is(err, ErrNotFound):
		respondError(c, http.StatusNotFound, "command not found", s.logger)
		return
	case errors.Is(err, ErrForbidden):
		respondError(c, http.StatusForbidden, "command does not belong to this computer", s.logger)
		return
	case err != nil:
		respondError(c, http.StatusInternalServerError, "failed to record result", s.logger)
		return
	}

	logger := requestLogger(c, s.logger)
	logger.Info().
		Uint("command_id", commandID).
		Bool("success", *req.Success).
		Msg("command result recorded")

	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (s *Server) handleScreenshotUpload(c *gin.Context) {
	computer := c.MustGet("computer").(*Computer)

	data, err := io.ReadAll(io.LimitReader(c.Request.Body, maxScreenshotBytes+1))
	if err != nil {
		respondError(c, http.StatusBadRequest, "failed to read image", s.logger)
		return
	}
	if len(data) == 0 {
		respondError(c, http.StatusBadRequest, "empty image", s.logger)
		return
	}
	if len(data) > maxScreenshotBytes {
		respondError(c, http.StatusRequestEntityTooLarge, "image too large", s.logger)
		return
	}

	s.screenshots.Put(computer.ID, data)
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}
