package server

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"gallery/internal/models"
)

func (s *Server) handleListUsers(c *gin.Context) {
	const op = "server.handleListUsers"

	users, err := s.users.ListUsers(c.Request.Context())
	if err != nil {
		s.fail(c, op, err, "", "Failed to list users")
		return
	}
	c.JSON(http.StatusOK, users)
}

func (s *Server) handleGetUser(c *gin.Context) {
	const op = "server.handleGetUser"

	id, ok := parseID(c)
	if !ok {
		return
	}
	user, err := s.users.GetUser(c.Request.Context(), id)
	if err != nil {
		s.fail(c, op, err, "User not found", "Failed to get user")
		return
	}
	c.JSON(http.StatusOK, user)
}

func (s *Server) handleCreateUser(c *gin.Context) {
	const op = "server.handleCreateUser"

	var req models.CreateUserRequest
	if err := c.ShouldBindJSON(&req); err != nil || strings.TrimSpace(req.Name) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "A name and a valid email are required"})
		return
	}
	user, err := s.users.CreateUser(c.Request.Context(), strings.TrimSpace(req.Name), req.Email)
	if errors.Is(err, models.ErrConflict) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Email already exists"})
		return
	}
	if err != nil {
		s.fail(c, op, err, "", "Failed to create user")
		return
	}
	c.Header("Location", fmt.Sprintf("/api/users/%d", user.ID))
	c.JSON(http.StatusCreated, user)
}

func (s *Server) handleDeleteUser(c *gin.Context) {
	const op = "server.handleDeleteUser"

	id, ok := parseID(c)
	if !ok {
		return
	}
	if err := s.users.DeleteUser(c.Request.Context(), id); err != nil {
		s.fail(c, op, err, "User not found", "Failed to delete user")
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": fmt.Sprintf("User %d deleted", id)})
}
