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
	"strings"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/Selina744/group-planner-sub000/realtime"
)

// Version is reported to MCP clients.
const Version = "1.0.0"

// Client is a thin MCP client that proxies to the admin REST API
type Client struct {
	baseURL      string
	apiKey       string
	apiKeyHeader string
	httpClient   *http.Client
	mcpServer    *server.MCPServer
}

// Option configures a Client.
type Option func(*Client)

// WithAPIKey sends key in header on every API call.
func WithAPIKey(header, key string) Option {
	return func(c *Client) {
		c.apiKeyHeader = header
		c.apiKey = key
	}
}

// WithHTTPClient replaces the default 10s-timeout client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// NewClient creates a new MCP client that calls the admin API at baseURL
func NewClient(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL:      strings.TrimRight(baseURL, "/"),
		apiKeyHeader: "x-api-key",
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
	for _, opt := range opts {
		opt(c)
	}

	c.initMCPServer()
	return c
}

// initMCPServer initializes the MCP server with all tools
func (c *Client) initMCPServer() {
	c.mcpServer = server.NewMCPServer(
		"Group Planner Realtime",
		Version,
		server.WithToolCapabilities(true),
		server.WithInstructions(`Group Planner Realtime - MCP Interface

This is a thin client that proxies all requests to the realtime admin API.

Rooms are trips. Address them as "trip:<id>" or just "<id>".

AVAILABLE TOOLS:
- realtime_stats: Connection and room counts
- room_members: Who is connected to a trip room right now
- notify_user: Push a notification to every device of a user
- broadcast_room: Push an event to everyone in a trip room`),
	)

	// Register all tools
	c.registerTools()
}

// registerTools registers all MCP tools
func (c *Client) registerTools() {
	c.mcpServer.AddTool(mcp.Tool{
		Name:        "realtime_stats",
		Description: "Get the number of live connections, active rooms and members per room",
		InputSchema: mcp.ToolInputSchema{
			Type:       "object",
			Properties: map[string]interface{}{},
		},
	}, c.handleStats)

	c.mcpServer.AddTool(mcp.Tool{
		Name:        "room_members",
		Description: "List the connections currently subscribed to a trip room",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"room": map[string]interface{}{
					"type":        "string",
					"description": `Room target, "trip:42" or "42"`,
				},
			},
			Required: []string{"room"},
		},
	}, c.handleRoomMembers)

	c.mcpServer.AddTool(mcp.Tool{
		Name:        "notify_user",
		Description: "Send a notification to every connection a user holds",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"user_id": map[string]interface{}{
					"type":        "string",
					"description": "User to notify",
				},
				"payload": map[string]interface{}{
					"type":        "object",
					"description": "Notification body; a timestamp is added on delivery",
				},
			},
			Required: []string{"user_id", "payload"},
		},
	}, c.handleNotifyUser)

	c.mcpServer.AddTool(mcp.Tool{
		Name:        "broadcast_room",
		Description: "Send an event to every connection in a trip room",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"room": map[string]interface{}{
					"type":        "string",
					"description": `Room target, "trip:42" or "42"`,
				},
				"event": map[string]interface{}{
					"type":        "string",
					"description": "Event name delivered to clients",
				},
				"payload": map[string]interface{}{
					"type":        "object",
					"description": "Event data",
				},
				"exclude_user_id": map[string]interface{}{
					"type":        "string",
					"description": "Skip every connection of this user (optional)",
				},
			},
			Required: []string{"room", "event"},
		},
	}, c.handleBroadcastRoom)
}

// GetMCPServer returns the underlying MCP server for serving
func (c *Client) GetMCPServer() *server.MCPServer {
	return c.mcpServer
}

// HTTPHandler serves single JSON-RPC messages over POST.
func (c *Client) HTTPHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}

		body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
		if err != nil {
			http.Error(w, "Failed to read request", http.StatusBadRequest)
			return
		}
		defer r.Body.Close()

		response := c.mcpServer.HandleMessage(r.Context(), body)

		w.Header().Set("Content-Type", "application/json")
		if response == nil {
			w.WriteHeader(http.StatusAccepted)
			return
		}
		responseData, err := json.Marshal(response)
		if err != nil {
			http.Error(w, "Failed to marshal response", http.StatusInternalServerError)
			return
		}
		w.Write(responseData)
	})
}

// Helper methods for API calls

func (c *Client) apiCall(ctx context.Context, method, path string, body interface{}, result interface{}) error {
	var reqBody io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reqBody = bytes.NewBuffer(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reqBody)
	if err != nil {
		return err
	}

	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.apiKey != "" {
		req.Header.Set(c.apiKeyHeader, c.apiKey)
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

func arguments(request mcp.CallToolRequest) map[string]interface{} {
	args, _ := request.Params.Arguments.(map[string]interface{})
	if args == nil {
		args = map[string]interface{}{}
	}
	return args
}

// Tool handlers

func (c *Client) handleStats(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	var stats realtime.Stats
	if err := c.apiCall(ctx, "GET", "/api/stats", nil, &stats); err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return mcp.NewToolResultText(formatStats(stats)), nil
}

func (c *Client) handleRoomMembers(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	room, _ := arguments(request)["room"].(string)
	if room == "" {
		return mcp.NewToolResultError("room is required"), nil
	}

	var response struct {
		Room    realtime.RoomID       `json:"room"`
		Count   int                   `json:"count"`
		Members []realtime.MemberInfo `json:"members"`
	}
	if err := c.apiCall(ctx, "GET", "/api/rooms/"+url.PathEscape(room)+"/members", nil, &response); err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return mcp.NewToolResultText(formatMembers(response.Room, response.Members)), nil
}

func (c *Client) handleNotifyUser(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args := arguments(request)
	userID, _ := args["user_id"].(string)
	if userID == "" {
		return mcp.NewToolResultError("user_id is required"), nil
	}
	payload, ok := args["payload"]
	if !ok || payload == nil {
		return mcp.NewToolResultError("payload is required"), nil
	}

	var response struct {
		Delivered int `json:"delivered"`
	}
	if err := c.apiCall(ctx, "POST", "/api/users/"+url.PathEscape(userID)+"/notify", payload, &response); err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return mcp.NewToolResultText(fmt.Sprintf("Notified %s on %d connection(s)\n", userID, response.Delivered)), nil
}

func (c *Client) handleBroadcastRoom(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args := arguments(request)
	room, _ := args["room"].(string)
	event, _ := args["event"].(string)
	if room == "" || event == "" {
		return mcp.NewToolResultError("room and event are required"), nil
	}

	body := map[string]interface{}{"event": event}
	if payload, ok := args["payload"]; ok {
		body["payload"] = payload
	}
	if exclude, _ := args["exclude_user_id"].(string); exclude != "" {
		body["excludeUserId"] = exclude
	}

	var response struct {
		Room      string `json:"room"`
		Delivered int    `json:"delivered"`
	}
	if err := c.apiCall(ctx, "POST", "/api/rooms/"+url.PathEscape(room)+"/broadcast", body, &response); err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return mcp.NewToolResultText(fmt.Sprintf("Broadcast %q to %s: delivered to %d connection(s)\n",
		event, response.Room, response.Delivered)), nil
}

func formatStats(stats realtime.Stats) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Connections: %d\n", stats.Connections)
	fmt.Fprintf(&b, "Rooms: %d\n", stats.Rooms)

	rooms := make([]string, 0, len(stats.RoomMembers))
	for room := range stats.RoomMembers {
		rooms = append(rooms, string(room))
	}
	sort.Strings(rooms)
	for _, room := range rooms {
		fmt.Fprintf(&b, "- %s: %d member(s)\n", room, stats.RoomMembers[realtime.RoomID(room)])
	}
	return b.String()
}

func formatMembers(room realtime.RoomID, members []realtime.MemberInfo) string {
	if len(members) == 0 {
		return fmt.Sprintf("Nobody is connected to %s\n", room)
	}
	var b strings.Builder
	fmt.Fprintf(&b, "%s (%d connection(s)):\n\n", room, len(members))
	for _, m := range members {
		name := m.DisplayName
		if name == "" {
			name = m.UserID
		}
		fmt.Fprintf(&b, "- %s [%s] connected %s, last active %s\n",
			name, m.UserID,
			m.ConnectedAt.Format(time.RFC3339),
			m.LastActivity.Format("15:04:05"))
	}
	return b.String()
}
