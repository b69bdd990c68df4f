package server

import (
	"net/http"

	"github.com/SherClockHolmes/webpush-go"
	"github.com/gin-gonic/gin"
)

// answerRequest is the body of POST /api/questions/:id.
type answerRequest struct {
	// Answers maps an item prompt to the chosen option label.
	Answers map[string]string `json:"answers" binding:"required"`
}

func (s *Server) healthHandler(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (s *Server) stateHandler(c *gin.Context) {
	c.JSON(http.StatusOK, s.states.Snapshot())
}

func (s *Server) getQuestionHandler(c *gin.Context) {
	id := c.Param("id")
	q, ok := s.broker.PendingByID(id)
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "no such pending question"})
		return
	}
	c.JSON(http.StatusOK, q)
}

func (s *Server) answerQuestionHandler(c *gin.Context) {
	id := c.Param("id")

	var req answerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "body must carry an answers map"})
		return
	}

	if !s.broker.SubmitAnswer(id, req.Answers) {
		c.JSON(http.StatusNotFound, gin.H{"error": "no such pending question"})
		return
	}

	s.logger.Info("Answer accepted", "question_id", id, "answers", len(req.Answers))
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (s *Server) activityHandler(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"activities": s.activity.Feed()})
}

func (s *Server) pushSubscribeHandler(c *gin.Context) {
	if s.webpush == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "webpush not configured"})
		return
	}

	var sub webpush.Subscription
	if err := c.ShouldBindJSON(&sub); err != nil || sub.Endpoint == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid push subscription"})
		return
	}
	if err := s.webpush.AddSubscription(sub); err != nil {
		s.logger.Error("Failed to store push subscription", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to store subscription"})
		return
	}
	c.JSON(http.StatusCreated, gin.H{"status": "subscribed"})
}

func (s *Server) pushPublicKeyHandler(c *gin.Context) {
	if s.webpush == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "webpush not configured"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"publicKey": s.webpush.PublicKey()})
}
