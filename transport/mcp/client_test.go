package mcp

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/wricardo/worldsync/game/engine"
	"github.com/wricardo/worldsync/game/service"
	"github.com/wricardo/worldsync/game/session"
)

func TestNewClient(t *testing.T) {
	baseURL := "http://localhost:8080/"
	client := NewClient(baseURL)

	if client.baseURL != "http://localhost:8080" {
		t.Errorf("Expected trimmed baseURL, got %s", client.baseURL)
	}
	if client.httpClient == nil {
		t.Error("Expected HTTP client to be initialized")
	}
	if client.mcpServer == nil {
		t.Error("Expected MCP server to be initialized")
	}
}

func TestClient_apiCall_Error(t *testing.T) {
	client := NewClient("http://invalid-url-that-does-not-exist:9999")

	if err := client.apiCall(context.Background(), "GET", "/api/stats", nil, nil); err == nil {
		t.Error("Expected error for invalid URL")
	}
}

func TestClient_apiCall_HTTPError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		w.Write([]byte("Internal Server Error"))
	}))
	defer server.Close()

	client := NewClient(server.URL)

	err := client.apiCall(context.Background(), "GET", "/api/stats", nil, nil)
	if err == nil || !strings.Contains(err.Error(), "API error") {
		t.Errorf("Expected 'API error', got: %v", err)
	}
}

func textOf(t *testing.T, result *mcp.CallToolResult) string {
	t.Helper()
	if result == nil || len(result.Content) == 0 {
		t.Fatal("Expected result content")
	}
	text, ok := result.Content[0].(mcp.TextContent)
	if !ok {
		t.Fatalf("Expected text content, got %T", result.Content[0])
	}
	return text.Text
}

func callRequest(name string, args map[string]interface{}) mcp.CallToolRequest {
	return mcp.CallToolRequest{
		Params: mcp.CallToolParams{
			Name:      name,
			Arguments: args,
		},
	}
}

func TestClient_listPlayers(t *testing.T) {
	var gotQuery string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/players" {
			t.Errorf("Expected /api/players, got %s", r.URL.Path)
		}
		gotQuery = r.URL.RawQuery

		state := engine.NewPlayerState("u1", "alice")
		state.SetPosition(engine.Vec3{X: 1, Y: 2, Z: 3})
		json.NewEncoder(w).Encode(map[string]interface{}{
			"count": 1,
			"total": 2,
			"players": []session.SessionInfo{
				{State: state, Online: true, LastSeen: time.Now(), Address: "127.0.0.1:9001"},
			},
		})
	}))
	defer server.Close()

	client := NewClient(server.URL)
	result, err := client.handleListPlayers(context.Background(), callRequest("list_players", map[string]interface{}{
		"online": true,
		"limit":  float64(5),
	}))
	if err != nil {
		t.Fatalf("list_players failed: %v", err)
	}

	text := textOf(t, result)
	for _, want := range []string{"Players: 1 of 2", "alice (u1)", "(1.00, 2.00, 3.00)", "[online]", "127.0.0.1:9001"} {
		if !strings.Contains(text, want) {
			t.Errorf("Expected %q in output, got: %s", want, text)
		}
	}
	if gotQuery != "limit=5&online=true" {
		t.Errorf("Unexpected query %q", gotQuery)
	}
}

func TestClient_getPlayer(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/players/u1" {
			w.WriteHeader(http.StatusNotFound)
			json.NewEncoder(w).Encode(map[string]string{"error": "player not found"})
			return
		}
		json.NewEncoder(w).Encode(session.SessionInfo{State: engine.NewPlayerState("u1", "alice")})
	}))
	defer server.Close()

	client := NewClient(server.URL)
	ctx := context.Background()

	result, _ := client.handleGetPlayer(ctx, callRequest("get_player", map[string]interface{}{"uuid": "u1"}))
	if text := textOf(t, result); !strings.Contains(text, "alice (u1) at no position [offline]") {
		t.Errorf("Unexpected output: %s", text)
	}

	result, _ = client.handleGetPlayer(ctx, callRequest("get_player", map[string]interface{}{"uuid": "u9"}))
	if !result.IsError || !strings.Contains(textOf(t, result), "player not found") {
		t.Errorf("Expected error result, got %+v", result)
	}

	result, _ = client.handleGetPlayer(ctx, callRequest("get_player", map[string]interface{}{}))
	if !result.IsError {
		t.Error("Expected error for missing uuid")
	}
}

func TestClient_onlinePlayers(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		bob := engine.NewPlayerState("u2", "bob")
		bob.VX = engine.Float(3)
		bob.VY = engine.Float(4)
		json.NewEncoder(w).Encode(map[string]interface{}{
			"players": map[string]engine.PlayerState{
				"u2": bob,
				"u1": engine.NewPlayerState("u1", "alice"),
			},
		})
	}))
	defer server.Close()

	result, _ := NewClient(server.URL).handleOnlinePlayers(context.Background(), callRequest("online_players", nil))
	text := textOf(t, result)
	if !strings.Contains(text, "Online: 2") || !strings.Contains(text, "moving 5.00 m/s") {
		t.Errorf("Unexpected output: %s", text)
	}
	if strings.Index(text, "alice") > strings.Index(text, "bob") {
		t.Errorf("Expected players sorted by id, got: %s", text)
	}
}

func TestClient_serverStats(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(service.Stats{
			Players:  2,
			Online:   1,
			Uptime:   "1m0s",
			Counters: map[string]int64{"updates": 12, "corrections": 3},
		})
	}))
	defer server.Close()

	result, _ := NewClient(server.URL).handleServerStats(context.Background(), callRequest("server_stats", nil))
	text := textOf(t, result)
	for _, want := range []string{"Players: 2 (online 1", "Uptime: 1m0s", "corrections: 3", "updates: 12"} {
		if !strings.Contains(text, want) {
			t.Errorf("Expected %q in output, got: %s", want, text)
		}
	}
}

func TestClient_HTTPHandler(t *testing.T) {
	client := NewClient("http://localhost:0")
	handler := client.HTTPHandler()

	t.Run("rejects GET", func(t *testing.T) {
		w := httptest.NewRecorder()
		handler(w, httptest.NewRequest("GET", "/mcp", nil))
		if w.Code != http.StatusMethodNotAllowed {
			t.Errorf("Expected 405, got %d", w.Code)
		}
	})

	t.Run("lists tools", func(t *testing.T) {
		body := `{"jsonrpc":"2.0","id":1,"method":"tools/list","params":{}}`
		w := httptest.NewRecorder()
		handler(w, httptest.NewRequest("POST", "/mcp", strings.NewReader(body)))

		if w.Code != http.StatusOK {
			t.Fatalf("Expected 200, got %d", w.Code)
		}
		for _, tool := range []string{"list_players", "online_players", "get_player", "server_stats", "protocol_schema"} {
			if !strings.Contains(w.Body.String(), tool) {
				t.Errorf("Expected tool %s in %s", tool, w.Body.String())
			}
		}
	})
}
