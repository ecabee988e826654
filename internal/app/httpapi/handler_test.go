package httpapi

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	app "github.com/jive-live/jive-server/internal/app"
)

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()
	application, err := app.New(app.Stores{}, app.Options{
		TokenSecret: []byte("test-secret"),
	}, nil)
	if err != nil {
		t.Fatalf("new application: %v", err)
	}
	ts := httptest.NewServer(NewHandler(application, nil))
	t.Cleanup(ts.Close)
	return ts
}

// do issues a JSON request and decodes the JSON response body.
func do(t *testing.T, method, url, token string, body interface{}) (int, map[string]interface{}) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req, err := http.NewRequest(method, url, &buf)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, url, err)
	}
	defer resp.Body.Close()

	var decoded map[string]interface{}
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		t.Fatalf("decode response from %s: %v", url, err)
	}
	return resp.StatusCode, decoded
}

func registerUser(t *testing.T, ts *httptest.Server, username string) (id, token string) {
	t.Helper()
	status, body := do(t, http.MethodPost, ts.URL+"/api/register", "", map[string]interface{}{
		"username": username,
		"email":    username + "@example.com",
		"password": "password123",
		"name":     username,
	})
	if status != http.StatusCreated {
		t.Fatalf("register %s: status = %d, body = %v", username, status, body)
	}
	acct, ok := body["userAccount"].(map[string]interface{})
	if !ok {
		t.Fatalf("register %s: missing userAccount in %v", username, body)
	}
	id, _ = acct["user_id"].(string)
	token, _ = body["token"].(string)
	if id == "" || token == "" {
		t.Fatalf("register %s: empty id or token in %v", username, body)
	}
	return id, token
}

// errorFields pulls the field-keyed messages out of an error envelope.
func errorFields(t *testing.T, body map[string]interface{}) map[string]interface{} {
	t.Helper()
	fields, ok := body["errors"].(map[string]interface{})
	if !ok {
		t.Fatalf("expected errors envelope, got %v", body)
	}
	return fields
}

func TestRegisterAndLogin(t *testing.T) {
	ts := newTestServer(t)

	id, token := registerUser(t, ts, "alice")

	status, body := do(t, http.MethodGet, ts.URL+"/api/user", token, nil)
	if status != http.StatusOK {
		t.Fatalf("GET /api/user: status = %d, body = %v", status, body)
	}
	acct := body["userAccount"].(map[string]interface{})
	if acct["username"] != "alice" || acct["user_id"] != id {
		t.Fatalf("unexpected current user: %v", acct)
	}

	status, body = do(t, http.MethodPost, ts.URL+"/api/login", "", map[string]interface{}{
		"email":    "alice@example.com",
		"password": "password123",
	})
	if status != http.StatusOK {
		t.Fatalf("login: status = %d, body = %v", status, body)
	}
	if body["token"] == "" {
		t.Fatalf("login: missing token in %v", body)
	}
}

func TestErrorStatusCodes(t *testing.T) {
	ts := newTestServer(t)
	registerUser(t, ts, "alice")

	// Bad email fails validation.
	status, body := do(t, http.MethodPost, ts.URL+"/api/register", "", map[string]interface{}{
		"username": "bob",
		"email":    "not-an-email",
		"password": "password123",
	})
	if status != http.StatusBadRequest {
		t.Fatalf("invalid email: status = %d, body = %v", status, body)
	}
	if _, ok := errorFields(t, body)["email"]; !ok {
		t.Fatalf("expected email error, got %v", body)
	}

	// Duplicate username conflicts.
	status, body = do(t, http.MethodPost, ts.URL+"/api/register", "", map[string]interface{}{
		"username": "alice",
		"email":    "alice2@example.com",
		"password": "password123",
	})
	if status != http.StatusConflict {
		t.Fatalf("duplicate username: status = %d, body = %v", status, body)
	}
	if _, ok := errorFields(t, body)["username"]; !ok {
		t.Fatalf("expected username error, got %v", body)
	}

	// Wrong password is unauthorized.
	status, _ = do(t, http.MethodPost, ts.URL+"/api/login", "", map[string]interface{}{
		"email":    "alice@example.com",
		"password": "wrong-password",
	})
	if status != http.StatusUnauthorized {
		t.Fatalf("wrong password: status = %d", status)
	}

	// Unknown profile is a 404.
	status, _ = do(t, http.MethodGet, ts.URL+"/api/userProfile/nobody", "", nil)
	if status != http.StatusNotFound {
		t.Fatalf("unknown profile: status = %d", status)
	}

	// Protected routes without a token get the token error envelope.
	status, body = do(t, http.MethodGet, ts.URL+"/api/user", "", nil)
	if status != http.StatusUnauthorized {
		t.Fatalf("missing token: status = %d", status)
	}
	if _, ok := errorFields(t, body)["token"]; !ok {
		t.Fatalf("expected token error, got %v", body)
	}
}

func TestUserByEmailReportsNull(t *testing.T) {
	ts := newTestServer(t)

	status, body := do(t, http.MethodGet, ts.URL+"/api/userByEmail/missing@example.com", "", nil)
	if status != http.StatusOK {
		t.Fatalf("status = %d, body = %v", status, body)
	}
	if body["userAccount"] != nil || body["userProfile"] != nil {
		t.Fatalf("expected null account and profile, got %v", body)
	}
}

func TestStreamLifecycle(t *testing.T) {
	ts := newTestServer(t)
	id, token := registerUser(t, ts, "streamer")
	otherID, _ := registerUser(t, ts, "viewer")

	// The stream key is only visible to its owner.
	status, body := do(t, http.MethodGet, ts.URL+"/api/streamKey/"+otherID, token, nil)
	if status != http.StatusUnauthorized {
		t.Fatalf("foreign stream key: status = %d, body = %v", status, body)
	}
	status, body = do(t, http.MethodGet, ts.URL+"/api/streamKey/"+id, token, nil)
	if status != http.StatusOK {
		t.Fatalf("stream key: status = %d, body = %v", status, body)
	}
	key, _ := body["streamKey"].(string)
	if key == "" {
		t.Fatalf("empty stream key in %v", body)
	}

	status, body = do(t, http.MethodPost, ts.URL+"/api/liveStream/started", "", map[string]string{"key": key})
	if status != http.StatusOK || body["result"] != "Live stream added." {
		t.Fatalf("stream started: status = %d, body = %v", status, body)
	}

	// Starting twice conflicts.
	status, _ = do(t, http.MethodPost, ts.URL+"/api/liveStream/started", "", map[string]string{"key": key})
	if status != http.StatusConflict {
		t.Fatalf("double start: status = %d", status)
	}

	// An unknown key is a 404.
	status, _ = do(t, http.MethodPost, ts.URL+"/api/liveStream/started", "", map[string]string{"key": "bogus"})
	if status != http.StatusNotFound {
		t.Fatalf("unknown key: status = %d", status)
	}

	status, body = do(t, http.MethodGet, ts.URL+"/api/liveStream/"+id, "", nil)
	if status != http.StatusOK {
		t.Fatalf("live stream: status = %d, body = %v", status, body)
	}
	if body["liveStream"] == nil {
		t.Fatalf("expected live stream, got %v", body)
	}

	status, body = do(t, http.MethodGet, ts.URL+"/api/feed", "", nil)
	if status != http.StatusOK {
		t.Fatalf("feed: status = %d, body = %v", status, body)
	}
	if entries, ok := body["liveStreams"].([]interface{}); !ok || len(entries) != 1 {
		t.Fatalf("expected one feed entry, got %v", body)
	}

	status, body = do(t, http.MethodPut, ts.URL+"/api/liveStream/increaseTotalViews/"+id, "", nil)
	if status != http.StatusOK || body["result"] != "Total view count updated." {
		t.Fatalf("increase views: status = %d, body = %v", status, body)
	}

	status, body = do(t, http.MethodGet, ts.URL+"/api/liveStream/currentViewerCount/"+id, "", nil)
	if status != http.StatusOK {
		t.Fatalf("viewer count: status = %d, body = %v", status, body)
	}
	if body["isLive"] != true {
		t.Fatalf("expected live viewer count, got %v", body)
	}

	status, body = do(t, http.MethodPost, ts.URL+"/api/liveStream/stopped", "", map[string]string{"key": key})
	if status != http.StatusOK || body["result"] != "Live stream stopped." {
		t.Fatalf("stream stopped: status = %d, body = %v", status, body)
	}

	status, body = do(t, http.MethodGet, ts.URL+"/api/liveStream/"+id, "", nil)
	if status != http.StatusOK || body["liveStream"] != nil {
		t.Fatalf("expected null stream after stop, got %v", body)
	}
}

func TestFollowAndChat(t *testing.T) {
	ts := newTestServer(t)
	aliceID, aliceToken := registerUser(t, ts, "alice")
	bobID, _ := registerUser(t, ts, "bob")

	status, body := do(t, http.MethodPost, ts.URL+"/api/follow/"+aliceID, aliceToken,
		map[string]string{"followsId": bobID})
	if status != http.StatusOK || body["result"] != "Now following user." {
		t.Fatalf("follow: status = %d, body = %v", status, body)
	}

	// Following again is idempotent.
	status, body = do(t, http.MethodPost, ts.URL+"/api/follow/"+aliceID, aliceToken,
		map[string]string{"followsId": bobID})
	if status != http.StatusOK {
		t.Fatalf("repeat follow: status = %d, body = %v", status, body)
	}

	status, body = do(t, http.MethodGet, fmt.Sprintf("%s/api/follows/%s/%s", ts.URL, aliceID, bobID), aliceToken, nil)
	if status != http.StatusOK || body["result"] != true {
		t.Fatalf("follows check: status = %d, body = %v", status, body)
	}

	status, body = do(t, http.MethodGet, ts.URL+"/api/followers/"+bobID, aliceToken, nil)
	if status != http.StatusOK {
		t.Fatalf("followers: status = %d, body = %v", status, body)
	}
	if profiles, ok := body["profiles"].([]interface{}); !ok || len(profiles) != 1 {
		t.Fatalf("expected one follower, got %v", body)
	}

	// Chat in bob's channel.
	status, body = do(t, http.MethodPost, fmt.Sprintf("%s/api/saveChat/%s/%s", ts.URL, aliceID, bobID), "",
		map[string]string{"chatMessage": "hello"})
	if status != http.StatusOK {
		t.Fatalf("save chat: status = %d, body = %v", status, body)
	}
	chatID, _ := body["chatId"].(string)
	if chatID == "" {
		t.Fatalf("empty chat id in %v", body)
	}

	status, body = do(t, http.MethodPut, fmt.Sprintf("%s/api/incrementChat/%s/%s/%s", ts.URL, aliceID, chatID, bobID), "", nil)
	if status != http.StatusOK || body["result"] != "success" {
		t.Fatalf("increment chat: status = %d, body = %v", status, body)
	}

	status, body = do(t, http.MethodGet, ts.URL+"/api/getRecentChat/"+bobID, "", nil)
	if status != http.StatusOK {
		t.Fatalf("recent chat: status = %d, body = %v", status, body)
	}
	messages, ok := body["chatMessages"].([]interface{})
	if !ok || len(messages) != 1 {
		t.Fatalf("expected one chat message, got %v", body)
	}
	msg := messages[0].(map[string]interface{})
	if msg["message"] != "hello" || msg["username"] != "alice" {
		t.Fatalf("unexpected chat message: %v", msg)
	}

	status, body = do(t, http.MethodPut, ts.URL+"/api/unfollow/"+aliceID, aliceToken,
		map[string]string{"followsId": bobID})
	if status != http.StatusOK || body["result"] != "Unfollowed user." {
		t.Fatalf("unfollow: status = %d, body = %v", status, body)
	}
}

func TestHealth(t *testing.T) {
	ts := newTestServer(t)
	status, body := do(t, http.MethodGet, ts.URL+"/healthz", "", nil)
	if status != http.StatusOK || body["status"] != "ok" {
		t.Fatalf("healthz: status = %d, body = %v", status, body)
	}
}
