// Package handlers exposes the HTTP surface: post authoring, scheduling, and
// manual publish. Credentials never leave this service; connection listings
// are redacted to metadata.
package handlers

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/4lph4Omeg4/timeline-alchemy-sub000/internal/dispatch"
	"github.com/4lph4Omeg4/timeline-alchemy-sub000/internal/models"
	"github.com/4lph4Omeg4/timeline-alchemy-sub000/internal/store"
	"github.com/4lph4Omeg4/timeline-alchemy-sub000/pkg/logging"
)

// PostStore is the persistence surface the handlers need.
type PostStore interface {
	CreatePost(ctx context.Context, orgID string, payloads map[models.Platform]string) (*models.Post, error)
	GetPost(ctx context.Context, id string) (*models.Post, error)
	SchedulePost(ctx context.Context, id string, at time.Time) error
	ListConnections(ctx context.Context, orgID string) ([]models.Connection, error)
}

// Publisher triggers a manual publish run.
type Publisher interface {
	PublishAndReduce(ctx context.Context, post *models.Post, platforms []models.Platform) (map[models.Platform]*models.PublishResult, bool, []dispatch.Failure)
}

var (
	posts      PostStore
	dispatcher Publisher
	logger     logging.Logger
)

// Init initializes the handlers with their collaborators.
func Init(s PostStore, d Publisher, log logging.Logger) {
	posts = s
	dispatcher = d
	logger = log
}

// RegisterRoutes attaches the service routes to the router.
func RegisterRoutes(router *gin.Engine) {
	router.POST("/posts", CreatePost)
	router.GET("/posts/:id", GetPost)
	router.POST("/posts/:id/schedule", SchedulePost)
	router.POST("/posts/:id/publish", PublishPost)
	router.GET("/orgs/:org_id/connections", ListConnections)
}

type createPostRequest struct {
	OrgID    string            `json:"org_id" binding:"required"`
	Payloads map[string]string `json:"payloads" binding:"required"`
}

// CreatePost stores a new draft with per-platform payloads.
func CreatePost(c *gin.Context) {
	var req createPostRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	payloads := make(map[models.Platform]string, len(req.Payloads))
	for name, text := range req.Payloads {
		platform := models.Platform(name)
		if !platform.Valid() {
			c.JSON(http.StatusBadRequest, gin.H{"error": "unknown platform: " + name})
			return
		}
		if text != "" {
			payloads[platform] = text
		}
	}
	if len(payloads) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "at least one non-empty payload is required"})
		return
	}

	post, err := posts.CreatePost(c.Request.Context(), req.OrgID, payloads)
	if err != nil {
		logger.WithError(err).WithField("org_id", req.OrgID).Error("Failed to create post")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to create post"})
		return
	}
	c.JSON(http.StatusCreated, post)
}

// GetPost returns one post.
func GetPost(c *gin.Context) {
	post, err := posts.GetPost(c.Request.Context(), c.Param("id"))
	if errors.Is(err, store.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "post not found"})
		return
	}
	if err != nil {
		logger.WithError(err).WithField("post_id", c.Param("id")).Error("Failed to load post")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load post"})
		return
	}
	c.JSON(http.StatusOK, post)
}

type schedulePostRequest struct {
	ScheduledFor time.Time `json:"scheduled_for" binding:"required"`
}

// SchedulePost moves a post to the scheduled state. Published posts cannot be
// rescheduled.
func SchedulePost(c *gin.Context) {
	var req schedulePostRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	id := c.Param("id")
	if err := posts.SchedulePost(c.Request.Context(), id, req.ScheduledFor); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			c.JSON(http.StatusConflict, gin.H{"error": "post not found or already published"})
			return
		}
		logger.WithError(err).WithField("post_id", id).Error("Failed to schedule post")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to schedule post"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"id": id, "scheduled_for": req.ScheduledFor})
}

type publishPostRequest struct {
	Platforms []string `json:"platforms"`
}

// PublishPost runs a manual publish, optionally restricted to a platform
// subset. Responds with per-platform results either way; success reports the
// all-or-nothing reduction.
func PublishPost(c *gin.Context) {
	var req publishPostRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
	}

	var platforms []models.Platform
	for _, name := range req.Platforms {
		platform := models.Platform(name)
		if !platform.Valid() {
			c.JSON(http.StatusBadRequest, gin.H{"error": "unknown platform: " + name})
			return
		}
		platforms = append(platforms, platform)
	}

	id := c.Param("id")
	post, err := posts.GetPost(c.Request.Context(), id)
	if errors.Is(err, store.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "post not found"})
		return
	}
	if err != nil {
		logger.WithError(err).WithField("post_id", id).Error("Failed to load post")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load post"})
		return
	}
	if post.State == models.PostStatePublished {
		c.JSON(http.StatusConflict, gin.H{"error": "post is already published"})
		return
	}

	results, ok, failures := dispatcher.PublishAndReduce(c.Request.Context(), post, platforms)
	c.JSON(http.StatusOK, gin.H{
		"success":  ok,
		"results":  results,
		"failures": failures,
	})
}

// connectionView is a credential-free projection of a connection.
type connectionView struct {
	ID        string          `json:"id"`
	Platform  models.Platform `json:"platform"`
	AccountID string          `json:"account_id"`
	ExpiresAt *time.Time      `json:"expires_at,omitempty"`
	CreatedAt time.Time       `json:"created_at"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// ListConnections returns the organization's connections with tokens redacted.
func ListConnections(c *gin.Context) {
	orgID := c.Param("org_id")
	conns, err := posts.ListConnections(c.Request.Context(), orgID)
	if err != nil {
		logger.WithError(err).WithField("org_id", orgID).Error("Failed to list connections")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list connections"})
		return
	}

	views := make([]connectionView, 0, len(conns))
	for _, conn := range conns {
		view := connectionView{
			ID:        conn.ID,
			Platform:  conn.Platform,
			AccountID: conn.AccountID,
			CreatedAt: conn.CreatedAt,
			UpdatedAt: conn.UpdatedAt,
		}
		if conn.ExpiresAt.Valid {
			t := conn.ExpiresAt.Time
			view.ExpiresAt = &t
		}
		views = append(views, view)
	}
	c.JSON(http.StatusOK, gin.H{"connections": views})
}
