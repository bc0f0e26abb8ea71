package mcp

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/wricardo/worldsync/game/engine"
	"github.com/wricardo/worldsync/game/service"
	"github.com/wricardo/worldsync/game/session"
)

// Client is a thin MCP client that proxies to the admin REST API
type Client struct {
	baseURL    string
	httpClient *http.Client
	mcpServer  *server.MCPServer
}

// NewClient creates a new MCP client that calls the REST API
func NewClient(baseURL string) *Client {
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
	}

	c.initMCPServer()
	return c
}

// initMCPServer initializes the MCP server with all tools
func (c *Client) initMCPServer() {
	c.mcpServer = server.NewMCPServer(
		"worldsync",
		"1.0.0",
		server.WithToolCapabilities(true),
		server.WithInstructions(`worldsync - MCP Interface

Read-only view of a running UDP world server. Every call proxies to the
admin REST API.

AVAILABLE TOOLS:
- list_players: Every known session with online flag, last activity and address
- online_players: The snapshot currently broadcast to clients
- get_player: One session by uuid, including soft-offline ones
- server_stats: Session counts and traffic counters
- protocol_schema: JSON schema of a datagram message

Sessions time out after a period of inactivity; an offline session keeps its
state and can resume by registering with its uuid.`),
	)

	c.registerTools()
}

// registerTools registers all MCP tools
func (c *Client) registerTools() {
	c.mcpServer.AddTool(mcp.Tool{
		Name:        "list_players",
		Description: "List every known player session",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"online": map[string]interface{}{
					"type":        "boolean",
					"description": "Only include online sessions",
				},
				"limit": map[string]interface{}{
					"type":        "number",
					"description": "Maximum number of sessions to return",
				},
			},
		},
	}, c.handleListPlayers)

	c.mcpServer.AddTool(mcp.Tool{
		Name:        "online_players",
		Description: "Get the world snapshot currently broadcast to clients",
		InputSchema: mcp.ToolInputSchema{
			Type:       "object",
			Properties: map[string]interface{}{},
		},
	}, c.handleOnlinePlayers)

	c.mcpServer.AddTool(mcp.Tool{
		Name:        "get_player",
		Description: "Get one player session by uuid",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"uuid": map[string]interface{}{
					"type":        "string",
					"description": "Session uuid",
				},
			},
			Required: []string{"uuid"},
		},
	}, c.handleGetPlayer)

	c.mcpServer.AddTool(mcp.Tool{
		Name:        "server_stats",
		Description: "Get session counts and traffic counters",
		InputSchema: mcp.ToolInputSchema{
			Type:       "object",
			Properties: map[string]interface{}{},
		},
	}, c.handleServerStats)

	c.mcpServer.AddTool(mcp.Tool{
		Name:        "protocol_schema",
		Description: "Get the JSON schema of one datagram message",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"name": map[string]interface{}{
					"type": "string",
					"enum": []string{
						"register", "update", "heartbeat", "registered", "name_conflict",
						"uuid_not_found", "username_required", "correction", "offline", "removed", "snapshot",
					},
					"description": "Message name",
				},
			},
			Required: []string{"name"},
		},
	}, c.handleProtocolSchema)
}

// GetMCPServer returns the underlying MCP server for serving
func (c *Client) GetMCPServer() *server.MCPServer {
	return c.mcpServer
}

// HTTPHandler serves single JSON-RPC messages over POST
func (c *Client) HTTPHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != "POST" {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}

		body, err := io.ReadAll(r.Body)
		if err != nil {
			http.Error(w, "Failed to read request", http.StatusBadRequest)
			return
		}
		defer r.Body.Close()

		response := c.mcpServer.HandleMessage(r.Context(), body)

		w.Header().Set("Content-Type", "application/json")
		responseData, err := json.Marshal(response)
		if err != nil {
			http.Error(w, "Failed to marshal response", http.StatusInternalServerError)
			return
		}
		w.Write(responseData)
	}
}

// Helper methods for API calls

func (c *Client) apiCall(ctx context.Context, method, path string, body interface{}, result interface{}) error {
	url := c.baseURL + path

	var reqBody io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reqBody = bytes.NewBuffer(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, reqBody)
	if err != nil {
		return err
	}

	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		var errResp map[string]string
		json.NewDecoder(resp.Body).Decode(&errResp)
		if msg, ok := errResp["error"]; ok {
			return fmt.Errorf("%s", msg)
		}
		return fmt.Errorf("API error: %d", resp.StatusCode)
	}

	if result != nil {
		return json.NewDecoder(resp.Body).Decode(result)
	}

	return nil
}

// Tool handlers

func (c *Client) handleListPlayers(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args := request.GetArguments()

	query := url.Values{}
	if online, _ := args["online"].(bool); online {
		query.Set("online", "true")
	}
	if limit, ok := args["limit"].(float64); ok && limit > 0 {
		query.Set("limit", strconv.Itoa(int(limit)))
	}
	path := "/api/players"
	if len(query) > 0 {
		path += "?" + query.Encode()
	}

	var response struct {
		Count   int                   `json:"count"`
		Total   int                   `json:"total"`
		Players []session.SessionInfo `json:"players"`
	}
	if err := c.apiCall(ctx, "GET", path, nil, &response); err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Players: %d of %d\n", response.Count, response.Total)
	for _, p := range response.Players {
		b.WriteString(formatSessionInfo(&p))
		b.WriteString("\n")
	}
	return mcp.NewToolResultText(b.String()), nil
}

func (c *Client) handleOnlinePlayers(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	var snapshot struct {
		Players map[string]engine.PlayerState `json:"players"`
	}
	if err := c.apiCall(ctx, "GET", "/api/players/online", nil, &snapshot); err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	ids := make([]string, 0, len(snapshot.Players))
	for id := range snapshot.Players {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	var b strings.Builder
	fmt.Fprintf(&b, "Online: %d\n", len(ids))
	for _, id := range ids {
		state := snapshot.Players[id]
		fmt.Fprintf(&b, "- %s\n", formatPlayerState(&state))
	}
	return mcp.NewToolResultText(b.String()), nil
}

func (c *Client) handleGetPlayer(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args := request.GetArguments()
	id, _ := args["uuid"].(string)
	if id == "" {
		return mcp.NewToolResultError("uuid is required"), nil
	}

	var info session.SessionInfo
	if err := c.apiCall(ctx, "GET", "/api/players/"+url.PathEscape(id), nil, &info); err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	return mcp.NewToolResultText(formatSessionInfo(&info)), nil
}

func (c *Client) handleServerStats(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	var stats service.Stats
	if err := c.apiCall(ctx, "GET", "/api/stats", nil, &stats); err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	return mcp.NewToolResultText(formatStats(&stats)), nil
}

func (c *Client) handleProtocolSchema(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args := request.GetArguments()
	name, _ := args["name"].(string)
	if name == "" {
		return mcp.NewToolResultError("name is required"), nil
	}

	var schema json.RawMessage
	if err := c.apiCall(ctx, "GET", "/api/schema?name="+url.QueryEscape(name), nil, &schema); err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	var pretty bytes.Buffer
	if err := json.Indent(&pretty, schema, "", "  "); err != nil {
		return mcp.NewToolResultText(string(schema)), nil
	}
	return mcp.NewToolResultText(pretty.String()), nil
}

// Formatting helpers

func formatSessionInfo(info *session.SessionInfo) string {
	status := "offline"
	if info.Online {
		status = "online"
	}
	line := fmt.Sprintf("%s [%s]", formatPlayerState(&info.State), status)
	if !info.LastSeen.IsZero() {
		line += fmt.Sprintf(" last seen %s", info.LastSeen.Format(time.RFC3339))
	}
	if info.Address != "" {
		line += fmt.Sprintf(" from %s", info.Address)
	}
	return line
}

func formatPlayerState(state *engine.PlayerState) string {
	line := fmt.Sprintf("%s (%s)", state.Username, state.UUID)
	if pos, ok := state.Position(); ok {
		line += fmt.Sprintf(" at (%.2f, %.2f, %.2f)", pos.X, pos.Y, pos.Z)
	} else {
		line += " at no position"
	}
	if v := state.Velocity(); v.Norm() > 0 {
		line += fmt.Sprintf(" moving %.2f m/s", v.Norm())
	}
	if state.Action != nil && *state.Action != "" {
		line += fmt.Sprintf(" doing %q", *state.Action)
	}
	return line
}

func formatStats(stats *service.Stats) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Players: %d (online %d, identities %d)\n", stats.Players, stats.Online, stats.Identities)
	fmt.Fprintf(&b, "Uptime: %s\n", stats.Uptime)
	fmt.Fprintf(&b, "Last saved generation: %d\n", stats.LastGeneration)

	names := make([]string, 0, len(stats.Counters))
	for name := range stats.Counters {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		fmt.Fprintf(&b, "  %s: %d\n", name, stats.Counters[name])
	}
	return b.String()
}
