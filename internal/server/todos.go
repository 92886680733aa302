package server

import (
	"fmt"
	"net/http"
	"strings"
	"unicode/utf8"

	"github.com/gin-gonic/gin"

	"gallery/internal/models"
)

var titleTooLong = fmt.Sprintf("Title longer than %d characters", models.MaxTodoTitleLength)

func (s *Server) handleListTodos(c *gin.Context) {
	const op = "server.handleListTodos"

	todos, err := s.todos.ListTodos(c.Request.Context())
	if err != nil {
		s.fail(c, op, err, "", "Failed to list todos")
		return
	}
	c.JSON(http.StatusOK, todos)
}

func (s *Server) handleGetTodo(c *gin.Context) {
	const op = "server.handleGetTodo"

	id, ok := parseID(c)
	if !ok {
		return
	}
	todo, err := s.todos.GetTodo(c.Request.Context(), id)
	if err != nil {
		s.fail(c, op, err, "Todo not found", "Failed to get todo")
		return
	}
	c.JSON(http.StatusOK, todo)
}

func (s *Server) handleCreateTodo(c *gin.Context) {
	const op = "server.handleCreateTodo"

	var req models.CreateTodoRequest
	if err := c.ShouldBindJSON(&req); err != nil || strings.TrimSpace(req.Title) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Title is required"})
		return
	}
	title := strings.TrimSpace(req.Title)
	if utf8.RuneCountInString(title) > models.MaxTodoTitleLength {
		c.JSON(http.StatusBadRequest, gin.H{"error": titleTooLong})
		return
	}
	todo, err := s.todos.CreateTodo(c.Request.Context(), title)
	if err != nil {
		s.fail(c, op, err, "", "Failed to create todo")
		return
	}
	c.Header("Location", fmt.Sprintf("/api/todos/%d", todo.ID))
	c.JSON(http.StatusCreated, todo)
}

func (s *Server) handleUpdateTodo(c *gin.Context) {
	const op = "server.handleUpdateTodo"

	id, ok := parseID(c)
	if !ok {
		return
	}
	var req models.UpdateTodoRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
		return
	}
	if req.Title != nil {
		title := strings.TrimSpace(*req.Title)
		switch {
		case title == "":
			c.JSON(http.StatusBadRequest, gin.H{"error": "Title must not be empty"})
			return
		case utf8.RuneCountInString(title) > models.MaxTodoTitleLength:
			c.JSON(http.StatusBadRequest, gin.H{"error": titleTooLong})
			return
		}
		req.Title = &title
	}

	todo, err := s.todos.GetTodo(c.Request.Context(), id)
	if err != nil {
		s.fail(c, op, err, "Todo not found", "Failed to update todo")
		return
	}
	req.Apply(todo)
	if err := s.todos.UpdateTodo(c.Request.Context(), todo); err != nil {
		s.fail(c, op, err, "Todo not found", "Failed to update todo")
		return
	}
	c.JSON(http.StatusOK, todo)
}

func (s *Server) handleDeleteTodo(c *gin.Context) {
	const op = "server.handleDeleteTodo"

	id, ok := parseID(c)
	if !ok {
		return
	}
	if err := s.todos.DeleteTodo(c.Request.Context(), id); err != nil {
		s.fail(c, op, err, "Todo not found", "Failed to delete todo")
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": fmt.Sprintf("Todo %d deleted", id)})
}
