package mcp

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/Selina744/group-planner-sub000/realtime"
)

func callTool(name string, args map[string]interface{}) mcp.CallToolRequest {
	return mcp.CallToolRequest{
		Params: mcp.CallToolParams{
			Name:      name,
			Arguments: args,
		},
	}
}

func resultText(t *testing.T, result *mcp.CallToolResult) string {
	t.Helper()
	if result == nil || len(result.Content) == 0 {
		t.Fatal("Expected result content")
	}
	text, ok := result.Content[0].(mcp.TextContent)
	if !ok {
		t.Fatal("Expected text content in result")
	}
	return text.Text
}

func TestNewClient(t *testing.T) {
	client := NewClient("http://localhost:8080/", WithAPIKey("x-admin-key", "k"))

	if client.baseURL != "http://localhost:8080" {
		t.Errorf("Expected trailing slash trimmed, got %s", client.baseURL)
	}
	if client.apiKeyHeader != "x-admin-key" || client.apiKey != "k" {
		t.Errorf("API key option not applied: %q=%q", client.apiKeyHeader, client.apiKey)
	}
	if client.httpClient == nil || client.mcpServer == nil {
		t.Error("Expected HTTP client and MCP server to be initialized")
	}
}

func TestClient_apiCall_SendsAPIKey(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("x-api-key") != "secret" {
			w.WriteHeader(http.StatusUnauthorized)
			json.NewEncoder(w).Encode(map[string]string{"error": "invalid api key"})
			return
		}
		json.NewEncoder(w).Encode(map[string]int{"connections": 1})
	}))
	defer server.Close()

	var out map[string]int
	if err := NewClient(server.URL, WithAPIKey("x-api-key", "secret")).apiCall(context.Background(), "GET", "/api/stats", nil, &out); err != nil {
		t.Fatalf("apiCall failed: %v", err)
	}

	err := NewClient(server.URL).apiCall(context.Background(), "GET", "/api/stats", nil, nil)
	if err == nil || !strings.Contains(err.Error(), "invalid api key") {
		t.Errorf("Expected API error message, got: %v", err)
	}
}

func TestClient_apiCall_HTTPError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		w.Write([]byte("Internal Server Error"))
	}))
	defer server.Close()

	err := NewClient(server.URL).apiCall(context.Background(), "GET", "/api/stats", nil, nil)
	if err == nil || !strings.Contains(err.Error(), "API error") {
		t.Errorf("Expected 'API error' in error message, got: %v", err)
	}
}

func TestClient_Stats(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != "GET" || r.URL.Path != "/api/stats" {
			t.Errorf("Expected GET /api/stats, got %s %s", r.Method, r.URL.Path)
		}
		json.NewEncoder(w).Encode(realtime.Stats{
			Connections: 4,
			Rooms:       2,
			RoomMembers: map[realtime.RoomID]int{"trip:7": 1, "trip:42": 3},
		})
	}))
	defer server.Close()

	result, err := NewClient(server.URL).handleStats(context.Background(), callTool("realtime_stats", nil))
	if err != nil {
		t.Fatal(err)
	}
	text := resultText(t, result)
	for _, want := range []string{"Connections: 4", "Rooms: 2", "- trip:42: 3 member(s)", "- trip:7: 1 member(s)"} {
		if !strings.Contains(text, want) {
			t.Errorf("Expected %q in output, got: %s", want, text)
		}
	}
}

func TestClient_RoomMembers(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/rooms/trip:42/members" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		json.NewEncoder(w).Encode(map[string]interface{}{
			"room":  "trip:42",
			"count": 1,
			"members": []realtime.MemberInfo{{
				UserID:       "ana",
				DisplayName:  "Ana",
				ConnectedAt:  time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC),
				LastActivity: time.Date(2026, 1, 2, 3, 9, 0, 0, time.UTC),
			}},
		})
	}))
	defer server.Close()

	client := NewClient(server.URL)
	result, err := client.handleRoomMembers(context.Background(), callTool("room_members", map[string]interface{}{"room": "trip:42"}))
	if err != nil {
		t.Fatal(err)
	}
	if text := resultText(t, result); !strings.Contains(text, "Ana [ana]") {
		t.Errorf("Expected member line, got: %s", text)
	}

	result, _ = client.handleRoomMembers(context.Background(), callTool("room_members", nil))
	if !result.IsError {
		t.Error("Expected error result without room")
	}
}

func TestClient_NotifyUser(t *testing.T) {
	var gotBody map[string]interface{}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != "POST" || r.URL.Path != "/api/users/ana/notify" {
			t.Errorf("Expected POST /api/users/ana/notify, got %s %s", r.Method, r.URL.Path)
		}
		json.NewDecoder(r.Body).Decode(&gotBody)
		json.NewEncoder(w).Encode(map[string]interface{}{"userId": "ana", "delivered": 2})
	}))
	defer server.Close()

	result, err := NewClient(server.URL).handleNotifyUser(context.Background(), callTool("notify_user", map[string]interface{}{
		"user_id": "ana",
		"payload": map[string]interface{}{"type": "invite"},
	}))
	if err != nil {
		t.Fatal(err)
	}
	if text := resultText(t, result); !strings.Contains(text, "2 connection(s)") {
		t.Errorf("unexpected output: %s", text)
	}
	if gotBody["type"] != "invite" {
		t.Errorf("payload not forwarded as body: %v", gotBody)
	}
}

func TestClient_BroadcastRoom(t *testing.T) {
	var gotBody map[string]interface{}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewDecoder(r.Body).Decode(&gotBody)
		json.NewEncoder(w).Encode(map[string]interface{}{"room": "trip:42", "delivered": 3})
	}))
	defer server.Close()

	client := NewClient(server.URL)
	result, err := client.handleBroadcastRoom(context.Background(), callTool("broadcast_room", map[string]interface{}{
		"room":            "42",
		"event":           "trip-archived",
		"payload":         map[string]interface{}{"by": "ops"},
		"exclude_user_id": "ana",
	}))
	if err != nil {
		t.Fatal(err)
	}
	if text := resultText(t, result); !strings.Contains(text, "delivered to 3") {
		t.Errorf("unexpected output: %s", text)
	}
	if gotBody["event"] != "trip-archived" || gotBody["excludeUserId"] != "ana" {
		t.Errorf("unexpected body: %v", gotBody)
	}

	result, _ = client.handleBroadcastRoom(context.Background(), callTool("broadcast_room", map[string]interface{}{"room": "42"}))
	if !result.IsError {
		t.Error("Expected error result without event")
	}
}

func TestHTTPHandler(t *testing.T) {
	handler := NewClient("http://unused").HTTPHandler()

	req := httptest.NewRequest("GET", "/mcp", nil)
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)
	if w.Code != http.StatusMethodNotAllowed {
		t.Errorf("Expected 405 for GET, got %d", w.Code)
	}

	msg := []byte(`{"jsonrpc":"2.0","id":1,"method":"tools/list","params":{}}`)
	req = httptest.NewRequest("POST", "/mcp", bytes.NewReader(msg))
	w = httptest.NewRecorder()
	handler.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", w.Code)
	}
	body, _ := io.ReadAll(w.Body)
	for _, tool := range []string{"realtime_stats", "room_members", "notify_user", "broadcast_room"} {
		if !bytes.Contains(body, []byte(tool)) {
			t.Errorf("tools/list is missing %s: %s", tool, body)
		}
	}
}
