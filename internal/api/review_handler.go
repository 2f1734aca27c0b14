package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/northpress/syndicate/internal/domain"
)

func (r *Router) listReviews(c *gin.Context) {
	state := domain.ReviewState(c.DefaultQuery("state", string(domain.ReviewStateInReview)))

	reviews, err := r.deps.Reviews.ListByState(c.Request.Context(), state, limitQuery(c))
	if err != nil {
		handleDomainError(c, err, "review", "list")
		return
	}
	c.JSON(http.StatusOK, gin.H{"reviews": reviews, "count": len(reviews)})
}

func (r *Router) getReview(c *gin.Context) {
	id, ok := parseUUID(c, "id", "review")
	if !ok {
		return
	}

	review, err := r.deps.Reviews.GetByID(c.Request.Context(), id.String())
	if err != nil {
		handleDomainError(c, err, "review", "get")
		return
	}
	c.JSON(http.StatusOK, review)
}

type reviewDecisionRequest struct {
	ReviewerID int64  `json:"reviewer_id" binding:"required"`
	Message    string `json:"message"`
}

func (r *Router) approveReview(c *gin.Context) {
	id, ok := parseUUID(c, "id", "review")
	if !ok {
		return
	}

	var req reviewDecisionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if err := r.deps.Gate.Approve(c.Request.Context(), id.String(), req.ReviewerID); err != nil {
		handleDomainError(c, err, "review", "approve")
		return
	}
	c.JSON(http.StatusOK, gin.H{"state": string(domain.ReviewStateApproved)})
}

func (r *Router) denyReview(c *gin.Context) {
	id, ok := parseUUID(c, "id", "review")
	if !ok {
		return
	}

	var req reviewDecisionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if err := r.deps.Gate.Deny(c.Request.Context(), id.String(), req.ReviewerID, req.Message); err != nil {
		handleDomainError(c, err, "review", "deny")
		return
	}
	c.JSON(http.StatusOK, gin.H{"state": string(domain.ReviewStateDenied)})
}

func (r *Router) revertReview(c *gin.Context) {
	id, ok := parseUUID(c, "id", "review")
	if !ok {
		return
	}

	var req reviewDecisionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if err := r.deps.Gate.Revert(c.Request.Context(), id.String(), req.ReviewerID, req.Message); err != nil {
		handleDomainError(c, err, "review", "revert")
		return
	}
	c.JSON(http.StatusOK, gin.H{"state": string(domain.ReviewStateReverted)})
}
