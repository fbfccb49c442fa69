package main

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
)

func (s *Server) registerAdminRoutes(r *gin.Engine) {
	admin := r.Group("/api/admin", s.requireAdmin)

	admin.GET("/computers", s.handleListComputers)
	admin.GET("/computers/:id", s.handleGetComputer)
	admin.DELETE("/computers/:id", s.handleRemoveComputer)
	admin.GET("/computers/:id/screenshot", s.handleScreenshot)
	admin.GET("/computers/:id/screenshots", s.handleScreenshotSlots)
	admin.GET("/computers/:id/commands", s.handleListCommands)
	admin.DELETE("/computers/:id/commands", s.handleCancelCommands)
	admin.POST("/computers/:id/users/:username/disable", s.userCommandHandler(CommandDisableUser, AuditDisableUser))
	admin.POST("/computers/:id/users/:username/enable", s.userCommandHandler(CommandEnableUser, AuditEnableUser))
	admin.POST("/computers/:id/users/:username/logout", s.userCommandHandler(CommandLogoutUser, AuditLogoutUser))

	admin.POST("/tokens", s.handleGenerateToken)
	admin.GET("/tokens", s.handleListTokens)
	admin.DELETE("/tokens/:id", s.handleRevokeToken)
	admin.POST("/tokens/:id/delete", s.handleDeleteToken)

	admin.GET("/audit", s.handleAuditLog)
}

func (s *Server) requireAdmin(c *gin.Context) {
	authz := c.GetHeader("Authorization")
	if !strings.HasPrefix(authz, "Bearer ") {
		respondError(c, http.StatusUnauthorized, "missing bearer token", s.logger)
		return
	}
	token := strings.TrimPrefix(authz, "Bearer ")
	if !secureCompare(token, s.adminToken) {
		respondError(c, http.StatusUnauthorized, "invalid bearer token", s.logger)
		return
	}
	c.Next()
}

func adminActor(c *gin.Context) string {
	if actor := c.GetHeader("X-Admin-Actor"); actor != "" {
		return actor
	}
	return "admin"
}

// handleListComputers sweeps stale agents before reading, so offline status
// is as fresh as the last admin read. Order: online hosts first.
func (s *Server) handleListComputers(c *gin.Context) {
	if _, err := s.registry.SweepStale(s.staleAfter); err != nil {
		respondError(c, http.StatusInternalServerError, "liveness sweep failed", s.logger)
		return
	}
	computers, err := s.registry.List()
	if err != nil {
		respondError(c, http.StatusInternalServerError, "failed to list computers", s.logger)
		return
	}
	c.JSON(http.StatusOK, gin.H{"computers": computers})
}

func (s *Server) handleGetComputer(c *gin.Context) {
	id, err := parseUintParam(c.Param("id"))
	if err != nil {
		respondError(c, http.StatusBadRequest, "invalid computer id", s.logger)
		return
	}
	if _, err := s.registry.SweepStale(s.staleAfter); err != nil {
		respondError(c, http.StatusInternalServerError, "liveness sweep failed", s.logger)
		return
	}

	computer, err := s.registry.Get(id)
	if errors.Is(err, ErrNotFound) {
		respondError(c, http.StatusNotFound, "computer not found", s.logger)
		return
	}
	if err != nil {
		respondError(c, http.StatusInternalServerError, "failed to load computer", s.logger)
		return
	}

	users, err := s.users.ListByComputer(id)
	if err != nil {
		respondError(c, http.StatusInternalServerError, "failed to load users", s.logger)
		return
	}
	pending, err := s.mailbox.FindPending(id)
	if err != nil {
		respondError(c, http.StatusInternalServerError, "failed to load commands", s.logger)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"computer":         computer,
		"users":            users,
		"pending_commands": pending,
	})
}

func (s *Server) handleRemoveComputer(c *gin.Context) {
	id, err := parseUintParam(c.Param("id"))
	if err != nil {
		respondError(c, http.StatusBadRequest, "invalid computer id", s.logger)
		return
	}

	computer, err := s.registry.Get(id)
	if errors.Is(err, ErrNotFound) {
		respondError(c, http.StatusNotFound, "computer not found", s.logger)
		return
	}
	if err != nil {
		respondError(c, http.StatusInternalServerError, "failed to load computer", s.logger)
		return
	}

	if err := s.registry.Remove(id); err != nil {
		respondError(c, http.StatusInternalServerError, "failed to remove computer", s.logger)
		return
	}
	s.screenshots.Remove(id)
	s.audit.Append(adminActor(c), AuditRemoveAgent, computer.Hostname, "", "")

	c.Status(http.StatusNoContent)
}

func (s *Server) handleScreenshot(c *gin.Context) {
	id, err := parseUintParam(c.Param("id"))
	if err != nil {
		respondError(c, http.StatusBadRequest, "invalid computer id", s.logger)
		return
	}
	slot := c.DefaultQuery("slot", recentBucket)

	data, ok := s.screenshots.Get(id, slot)
	if !ok {
		respondError(c, http.StatusNotFound, "no screenshot available", s.logger)
		return
	}
	c.Header("Cache-Control", "no-cache")
	c.Data(http.StatusOK, "image/jpeg", data)
}

func (s *Server) handleScreenshotSlots(c *gin.Context) {
	id, err := parseUintParam(c.Param("id"))
	if err != nil {
		respondError(c, http.StatusBadRequest, "invalid computer id", s.logger)
		return
	}
	c.JSON(http.StatusOK, gin.H{"slots": s.screenshots.Slots(id)})
}

func (s *Server) handleListCommands(c *gin.Context) {
	id, err := parseUintParam(c.Param("id"))
	if err != nil {
		respondError(c, http.StatusBadRequest, "invalid computer id", s.logger)
		return
	}
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))

	commands, err := s.mailbox.ListByComputer(id, limit)
	if err != nil {
		respondError(c, http.StatusInternalServerError, "failed to list commands", s.logger)
		return
	}
	pending, err := s.mailbox.PendingCount(id)
	if err != nil {
		respondError(c, http.StatusInternalServerError, "failed to count commands", s.logger)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"commands":      commands,
		"pending_count": pending,
	})
}

func (s *Server) handleCancelCommands(c *gin.Context) {
	id, err := parseUintParam(c.Param("id"))
	if err != nil {
		respondError(c, http.StatusBadRequest, "invalid computer id", s.logger)
		return
	}
	targetUser := c.Query("target_user")

	computer, err := s.registry.Get(id)
	if errors.Is(err, ErrNotFound) {
		respondError(c, http.StatusNotFound, "computer not found", s.logger)
		return
	}
	if err != nil {
		respondError(c, http.StatusInternalServerError, "failed to load computer", s.logger)
		return
	}

	cancelled, err := s.mailbox.CancelPending(id, targetUser)
	if err != nil {
		respondError(c, http.StatusInternalServerError, "failed to cancel commands", s.logger)
		return
	}
	s.audit.Append(adminActor(c), AuditCancelCommand, computer.Hostname, targetUser,
		fmt.Sprintf("cancelled %d pending", cancelled))

	c.JSON(http.StatusOK, gin.H{"status": "ok", "cancelled": cancelled})
}

// userCommandHandler enqueues one administrative command against a mirrored
// local user and records the operator action.
func (s *Server) userCommandHandler(cmdType CommandType, auditAction string) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, err := parseUintParam(c.Param("id"))
		if err != nil {
			respondError(c, http.StatusBadRequest, "invalid computer id", s.logger)
			return
		}
		username := c.Param("username")

		computer, err := s.registry.Get(id)
		if errors.Is(err, ErrNotFound) {
			respondError(c, http.StatusNotFound, "computer not found", s.logger)
			return
		}
		if err != nil {
			respondError(c, http.StatusInternalServerError, "failed to load computer", s.logger)
			return
		}

		user, err := s.users.FindByComputerAndUsername(id, username)
		if errors.Is(err, ErrNotFound) {
			respondError(c, http.StatusNotFound, "user not found", s.logger)
			return
		}
		if err != nil {
			respondError(c, http.StatusInternalServerError, "failed to load user", s.logger)
			return
		}

		cmd, err := s.mailbox.Enqueue(id, cmdType, user.Username)
		if err != nil {
			respondError(c, http.StatusInternalServerError, "failed to enqueue command", s.logger)
			return
		}
		s.audit.Append(adminActor(c), auditAction, computer.Hostname, user.Username, "")

		c.JSON(http.StatusCreated, gin.H{"status": "ok", "command": cmd})
	}
}

func (s *Server) handleGenerateToken(c *gin.Context) {
	var req struct {
		Label string `json:"label"`
	}
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			respondError(c, http.StatusBadRequest, err.Error(), s.logger)
			return
		}
	}

	token, err := s.tokens.Issue(req.Label)
	if err != nil {
		respondError(c, http.StatusInternalServerError, "failed to generate token", s.logger)
		return
	}
	s.audit.Append(adminActor(c), AuditGenerateToken, "", "",
		fmt.Sprintf("token: %s...", token.Token[:8]))

	c.JSON(http.StatusCreated, gin.H{"token": token})
}

func (s *Server) handleListTokens(c *gin.Context) {
	tokens, err := s.tokens.List()
	if err != nil {
		respondError(c, http.StatusInternalServerError, "failed to list tokens", s.logger)
		return
	}
	c.JSON(http.StatusOK, gin.H{"tokens": tokens})
}

// handleRevokeToken force-deletes a token even when already used. Agents the
// token provisioned keep working; revocation only removes the credential.
func (s *Server) handleRevokeToken(c *gin.Context) {
	id, err := parseUintParam(c.Param("id"))
	if err != nil {
		respondError(c, http.StatusBadRequest, "invalid token id", s.logger)
		return
	}

	token, err := s.tokens.Get(id)
	if errors.Is(err, ErrNotFound) {
		respondError(c, http.StatusNotFound, "token not found", s.logger)
		return
	}
	if err != nil {
		respondError(c, http.StatusInternalServerError, "failed to load token", s.logger)
		return
	}

	if _, err := s.tokens.Revoke(id); err != nil {
		respondError(c, http.StatusInternalServerError, "failed to revoke token", s.logger)
		return
	}
	s.audit.Append(adminActor(c), AuditRevokeToken, "", "",
		fmt.Sprintf("token: %s...", token.Token[:8]))

	c.Status(http.StatusNoContent)
}

// handleDeleteToken removes a token only while unused, preserving the
// provenance of anything it already enrolled.
func (s *Server) handleDeleteToken(c *gin.Context) {
	id, err := parseUintParam(c.Param("id"))
	if err != nil {
		respondError(c, http.StatusBadRequest, "invalid token id", s.logger)
		return
	}

	deleted, err := s.tokens.Delete(id)
	if err != nil {
		respondError(c, http.StatusInternalServerError, "failed to delete token", s.logger)
		return
	}
	if !deleted {
		respondError(c, http.StatusConflict, "token is used or unknown; revoke to force", s.logger)
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) handleAuditLog(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "100"))
	entries, err := s.audit.Recent(limit)
	if err != nil {
		respondError(c, http.StatusInternalServerError, "failed to load audit log", s.logger)
		return
	}
	c.JSON(http.StatusOK, gin.H{"entries": entries})
}
