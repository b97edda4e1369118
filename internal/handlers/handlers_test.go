package handlers

import (
	"context"
	"database/sql"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/4lph4Omeg4/timeline-alchemy-sub000/internal/dispatch"
	"github.com/4lph4Omeg4/timeline-alchemy-sub000/internal/models"
	"github.com/4lph4Omeg4/timeline-alchemy-sub000/internal/store"
	"github.com/4lph4Omeg4/timeline-alchemy-sub000/pkg/logging"
)

type fakePostStore struct {
	posts     map[string]*models.Post
	conns     []models.Connection
	scheduled map[string]time.Time
}

func newFakePostStore() *fakePostStore {
	return &fakePostStore{posts: make(map[string]*models.Post), scheduled: make(map[string]time.Time)}
}

func (f *fakePostStore) CreatePost(_ context.Context, orgID string, payloads map[models.Platform]string) (*models.Post, error) {
	post := &models.Post{ID: "post-1", OrgID: orgID, State: models.PostStateDraft, Payloads: payloads, CreatedAt: time.Now(), UpdatedAt: time.Now()}
	f.posts[post.ID] = post
	return post, nil
}

func (f *fakePostStore) GetPost(_ context.Context, id string) (*models.Post, error) {
	post, ok := f.posts[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return post, nil
}

func (f *fakePostStore) SchedulePost(_ context.Context, id string, at time.Time) error {
	post, ok := f.posts[id]
	if !ok || post.State == models.PostStatePublished {
		return store.ErrNotFound
	}
	f.scheduled[id] = at
	post.State = models.PostStateScheduled
	return nil
}

func (f *fakePostStore) ListConnections(_ context.Context, _ string) ([]models.Connection, error) {
	return f.conns, nil
}

type fakePublisher struct {
	platforms []models.Platform
	ok        bool
}

func (f *fakePublisher) PublishAndReduce(_ context.Context, post *models.Post, platforms []models.Platform) (map[models.Platform]*models.PublishResult, bool, []dispatch.Failure) {
	f.platforms = platforms
	if !f.ok {
		return map[models.Platform]*models.PublishResult{
			models.PlatformTwitter: {Platform: models.PlatformTwitter, Success: false, Error: "rate limited"},
		}, false, []dispatch.Failure{{Platform: models.PlatformTwitter, Error: "rate limited"}}
	}
	return map[models.Platform]*models.PublishResult{
		models.PlatformTwitter: {Platform: models.PlatformTwitter, Success: true, ResponseID: "42"},
	}, true, nil
}

func setupRouter(s *fakePostStore, p *fakePublisher) *gin.Engine {
	gin.SetMode(gin.TestMode)
	Init(s, p, logging.NewLogger())
	router := gin.New()
	RegisterRoutes(router)
	return router
}

func doJSON(t *testing.T, router *gin.Engine, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func TestCreatePost(t *testing.T) {
	router := setupRouter(newFakePostStore(), &fakePublisher{ok: true})

	rec := doJSON(t, router, http.MethodPost, "/posts",
		`{"org_id":"org-1","payloads":{"twitter":"short","wordpress":"long form"}}`)
	if rec.Code != http.StatusCreated {
		t.Fatalf("status %d body %s", rec.Code, rec.Body.String())
	}

	var post models.Post
	if err := json.Unmarshal(rec.Body.Bytes(), &post); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if post.State != models.PostStateDraft || len(post.Payloads) != 2 {
		t.Fatalf("unexpected post %+v", post)
	}
}

func TestCreatePostRejectsUnknownPlatform(t *testing.T) {
	router := setupRouter(newFakePostStore(), &fakePublisher{})

	rec := doJSON(t, router, http.MethodPost, "/posts",
		`{"org_id":"org-1","payloads":{"myspace":"hi"}}`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status %d", rec.Code)
	}
}

func TestSchedulePost(t *testing.T) {
	s := newFakePostStore()
	router := setupRouter(s, &fakePublisher{})
	doJSON(t, router, http.MethodPost, "/posts", `{"org_id":"org-1","payloads":{"twitter":"x"}}`)

	rec := doJSON(t, router, http.MethodPost, "/posts/post-1/schedule",
		`{"scheduled_for":"2026-09-01T12:00:00Z"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("status %d body %s", rec.Code, rec.Body.String())
	}
	if s.posts["post-1"].State != models.PostStateScheduled {
		t.Fatal("post not scheduled")
	}
}

func TestSchedulePublishedPostConflicts(t *testing.T) {
	s := newFakePostStore()
	router := setupRouter(s, &fakePublisher{})
	doJSON(t, router, http.MethodPost, "/posts", `{"org_id":"org-1","payloads":{"twitter":"x"}}`)
	s.posts["post-1"].State = models.PostStatePublished

	rec := doJSON(t, router, http.MethodPost, "/posts/post-1/schedule",
		`{"scheduled_for":"2026-09-01T12:00:00Z"}`)
	if rec.Code != http.StatusConflict {
		t.Fatalf("status %d", rec.Code)
	}
}

func TestPublishPostSubset(t *testing.T) {
	s := newFakePostStore()
	pub := &fakePublisher{ok: true}
	router := setupRouter(s, pub)
	doJSON(t, router, http.MethodPost, "/posts", `{"org_id":"org-1","payloads":{"twitter":"x","discord":"y"}}`)

	rec := doJSON(t, router, http.MethodPost, "/posts/post-1/publish", `{"platforms":["twitter"]}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("status %d body %s", rec.Code, rec.Body.String())
	}
	if len(pub.platforms) != 1 || pub.platforms[0] != models.PlatformTwitter {
		t.Fatalf("subset not passed through: %v", pub.platforms)
	}

	var resp struct {
		Success bool `json:"success"`
	}
	_ = json.Unmarshal(rec.Body.Bytes(), &resp)
	if !resp.Success {
		t.Fatal("expected success")
	}
}

func TestPublishPostReportsFailures(t *testing.T) {
	s := newFakePostStore()
	router := setupRouter(s, &fakePublisher{ok: false})
	doJSON(t, router, http.MethodPost, "/posts", `{"org_id":"org-1","payloads":{"twitter":"x"}}`)

	rec := doJSON(t, router, http.MethodPost, "/posts/post-1/publish", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status %d", rec.Code)
	}
	var resp struct {
		Success  bool               `json:"success"`
		Failures []dispatch.Failure `json:"failures"`
	}
	_ = json.Unmarshal(rec.Body.Bytes(), &resp)
	if resp.Success || len(resp.Failures) != 1 {
		t.Fatalf("unexpected response %s", rec.Body.String())
	}
}

func TestPublishAlreadyPublishedConflicts(t *testing.T) {
	s := newFakePostStore()
	router := setupRouter(s, &fakePublisher{ok: true})
	doJSON(t, router, http.MethodPost, "/posts", `{"org_id":"org-1","payloads":{"twitter":"x"}}`)
	s.posts["post-1"].State = models.PostStatePublished

	rec := doJSON(t, router, http.MethodPost, "/posts/post-1/publish", "")
	if rec.Code != http.StatusConflict {
		t.Fatalf("status %d", rec.Code)
	}
}

func TestListConnectionsRedactsTokens(t *testing.T) {
	s := newFakePostStore()
	s.conns = []models.Connection{{
		ID:           "conn-1",
		OrgID:        "org-1",
		Platform:     models.PlatformTwitter,
		AccountID:    "acct-1",
		AccessToken:  "secret-token",
		RefreshToken: sql.NullString{String: "secret-refresh", Valid: true},
		CreatedAt:    time.Now(),
		UpdatedAt:    time.Now(),
	}}
	router := setupRouter(s, &fakePublisher{})

	rec := doJSON(t, router, http.MethodGet, "/orgs/org-1/connections", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status %d", rec.Code)
	}
	body := rec.Body.String()
	if strings.Contains(body, "secret-token") || strings.Contains(body, "secret-refresh") {
		t.Fatalf("tokens leaked: %s", body)
	}
	if !strings.Contains(body, "acct-1") {
		t.Fatalf("metadata missing: %s", body)
	}
}

func TestGetPostNotFound(t *testing.T) {
	router := setupRouter(newFakePostStore(), &fakePublisher{})
	rec := doJSON(t, router, http.MethodGet, "/posts/missing", "")
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status %d", rec.Code)
	}
}
