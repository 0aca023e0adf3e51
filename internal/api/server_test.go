package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"tutorhub/pkg/interfaces"
	"tutorhub/pkg/types"
)

// fakeStore backs the API handlers with canned data and failure flags.
type fakeStore struct {
	topic        string
	topicTeacher string
	setTopics    map[string]string
	students     []types.Identity
	unhealthy    bool
}

func newFakeStore() *fakeStore {
	return &fakeStore{setTopics: make(map[string]string)}
}

func (f *fakeStore) ActiveTopic(ctx context.Context) (string, string, error) {
	if f.topic == "" {
		return "", "", interfaces.ErrNoActiveTopic
	}
	return f.topic, f.topicTeacher, nil
}

func (f *fakeStore) SetTopic(ctx context.Context, email, topic string) error {
	f.setTopics[email] = topic
	return nil
}

func (f *fakeStore) Leaderboard(ctx context.Context, limit int) ([]types.Identity, error) {
	if limit < len(f.students) {
		return f.students[:limit], nil
	}
	return f.students, nil
}

func (f *fakeStore) HealthCheck(ctx context.Context) error {
	if f.unhealthy {
		return errors.New("database unreachable")
	}
	return nil
}

func (f *fakeStore) EnsureConversation(ctx context.Context, studentID, teacherID, topic string) (string, error) {
	return "", nil
}

func (f *fakeStore) AppendMessage(ctx context.Context, conversationID, role, content, questionHash string) (bool, error) {
	return false, nil
}

func (f *fakeStore) RecentMessages(ctx context.Context, conversationID string, limit int) ([]types.ChatMessage, error) {
	return nil, nil
}

func (f *fakeStore) IncrementPoints(ctx context.Context, email string, delta int) (int, error) {
	return 0, nil
}

func (f *fakeStore) GetUserByEmail(ctx context.Context, email string) (*types.Identity, error) {
	return nil, interfaces.ErrUnknownIdentity
}

func (f *fakeStore) ResolveToken(ctx context.Context, token string) (string, error) {
	return "", interfaces.ErrUnknownIdentity
}

// fakeResolver maps tokens straight to identities.
type fakeResolver struct {
	identities map[string]*types.Identity
}

func (f *fakeResolver) Resolve(ctx context.Context, token string) (*types.Identity, error) {
	if token == "" {
		return nil, interfaces.ErrUnauthenticated
	}
	identity, ok := f.identities[token]
	if !ok {
		return nil, interfaces.ErrUnknownIdentity
	}
	return identity, nil
}

type fakeStats struct{ controllers int }

func (f *fakeStats) ActiveControllers() int { return f.controllers }

func newTestServer(store *fakeStore) *Server {
	resolver := &fakeResolver{identities: map[string]*types.Identity{
		"tok-teacher": {Email: "teacher@test.edu", Role: types.RoleTeacher, DisplayName: "Ms. Chen"},
		"tok-alice":   {Email: "alice@test.edu", Role: types.RoleStudent, DisplayName: "Alice"},
	}}
	return NewServer(store, resolver, &fakeStats{controllers: 3})
}

func doRequest(t *testing.T, server *Server, method, path, body, token string) *httptest.ResponseRecorder {
	t.Helper()
	var reader *strings.Reader
	if body != "" {
		reader = strings.NewReader(body)
	} else {
		reader = strings.NewReader("")
	}
	req := httptest.NewRequest(method, path, reader)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	server.ServeHTTP(rec, req)
	return rec
}

func TestHealthEndpoint(t *testing.T) {
	store := newFakeStore()
	server := newTestServer(store)

	rec := doRequest(t, server, http.MethodGet, "/health", "", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}

	var health HealthResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &health); err != nil {
		t.Fatalf("failed to decode body: %v", err)
	}
	if health.Status != "healthy" || health.Conversations != 3 {
		t.Errorf("health = %+v", health)
	}

	store.unhealthy = true
	rec = doRequest(t, server, http.MethodGet, "/health", "", "")
	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("unhealthy status = %d, want 503", rec.Code)
	}
}

func TestLeaderboardEndpoint(t *testing.T) {
	store := newFakeStore()
	store.students = []types.Identity{
		{Email: "bob@test.edu", DisplayName: "Bob", Role: types.RoleStudent, Points: 42},
		{Email: "alice@test.edu", DisplayName: "Alice", Role: types.RoleStudent, Points: 17},
	}
	server := newTestServer(store)

	rec := doRequest(t, server, http.MethodGet, "/api/leaderboard", "", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}

	var body LeaderboardResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("failed to decode body: %v", err)
	}
	if len(body.Students) != 2 || body.Students[0].Email != "bob@test.edu" {
		t.Errorf("leaderboard = %+v", body.Students)
	}

	rec = doRequest(t, server, http.MethodGet, "/api/leaderboard?limit=1", "", "")
	_ = json.Unmarshal(rec.Body.Bytes(), &body)
	if len(body.Students) != 1 {
		t.Errorf("limited leaderboard = %d rows, want 1", len(body.Students))
	}

	rec = doRequest(t, server, http.MethodGet, "/api/leaderboard?limit=zero", "", "")
	if rec.Code != http.StatusBadRequest {
		t.Errorf("bad limit status = %d, want 400", rec.Code)
	}

	rec = doRequest(t, server, http.MethodDelete, "/api/leaderboard", "", "")
	if rec.Code != http.StatusMethodNotAllowed {
		t.Errorf("DELETE status = %d, want 405", rec.Code)
	}
}

func TestGetTopic(t *testing.T) {
	store := newFakeStore()
	server := newTestServer(store)

	rec := doRequest(t, server, http.MethodGet, "/api/topic", "", "")
	if rec.Code != http.StatusNotFound {
		t.Errorf("no topic status = %d, want 404", rec.Code)
	}

	store.topic = "photosynthesis"
	store.topicTeacher = "teacher@test.edu"
	rec = doRequest(t, server, http.MethodGet, "/api/topic", "", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}

	var body TopicResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("failed to decode body: %v", err)
	}
	if body.Topic != "photosynthesis" || body.Teacher != "teacher@test.edu" {
		t.Errorf("topic = %+v", body)
	}
}

func TestSetTopicAuthorization(t *testing.T) {
	store := newFakeStore()
	server := newTestServer(store)
	payload := `{"topic": "cell division"}`

	rec := doRequest(t, server, http.MethodPost, "/api/topic", payload, "")
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("no token status = %d, want 401", rec.Code)
	}

	rec = doRequest(t, server, http.MethodPost, "/api/topic", payload, "tok-alice")
	if rec.Code != http.StatusForbidden {
		t.Errorf("student status = %d, want 403", rec.Code)
	}

	rec = doRequest(t, server, http.MethodPost, "/api/topic", payload, "tok-teacher")
	if rec.Code != http.StatusOK {
		t.Fatalf("teacher status = %d, want 200", rec.Code)
	}
	if store.setTopics["teacher@test.edu"] != "cell division" {
		t.Errorf("topic not stored: %+v", store.setTopics)
	}
}

func TestSetTopicValidation(t *testing.T) {
	server := newTestServer(newFakeStore())

	rec := doRequest(t, server, http.MethodPost, "/api/topic", `{"topic": "   "}`, "tok-teacher")
	if rec.Code != http.StatusBadRequest {
		t.Errorf("blank topic status = %d, want 400", rec.Code)
	}

	rec = doRequest(t, server, http.MethodPost, "/api/topic", `{not json`, "tok-teacher")
	if rec.Code != http.StatusBadRequest {
		t.Errorf("bad JSON status = %d, want 400", rec.Code)
	}
}

func TestCORSPreflight(t *testing.T) {
	server := newTestServer(newFakeStore())

	rec := doRequest(t, server, http.MethodOptions, "/api/leaderboard", "", "")
	if rec.Code != http.StatusOK {
		t.Errorf("preflight status = %d, want 200", rec.Code)
	}
	if rec.Header().Get("Access-Control-Allow-Origin") != "*" {
		t.Error("missing CORS origin header")
	}
}

func TestJSONContentType(t *testing.T) {
	server := newTestServer(newFakeStore())

	rec := doRequest(t, server, http.MethodGet, "/health", "", "")
	if got := rec.Header().Get("Content-Type"); got != "application/json" {
		t.Errorf("content type = %q, want application/json", got)
	}
}
