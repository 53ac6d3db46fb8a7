// Package mcp exposes the ritual catalog over the Model Context Protocol
// so conversational agents can pull snapshots and open breaks before
// composing a turn. The server speaks JSON-RPC over stdio.
package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/jkaninda/mazoea/internal/catalog"
	"github.com/jkaninda/mazoea/internal/domain"
)

// RelationshipResolver resolves external relationship IDs.
type RelationshipResolver interface {
	GetByExternalID(ctx context.Context, externalID string) (*domain.Relationship, error)
	List(ctx context.Context) ([]domain.Relationship, error)
}

// BreakLister lists open breaks for a relationship.
type BreakLister interface {
	ListUnresolved(ctx context.Context, relationshipID uuid.UUID) ([]domain.BreakRecord, error)
}

// Server wraps the MCP server with mazoea tools.
type Server struct {
	relationships RelationshipResolver
	facade        *catalog.Facade
	breaks        BreakLister
	mcpServer     *server.MCPServer
}

// ToolResult represents the result of a tool call.
type ToolResult struct {
	Content string
	IsError bool
}

// ToolInfo represents a registered tool.
type ToolInfo struct {
	Name        string
	Description string
}

// NewServer creates a new MCP server with mazoea tools registered.
func NewServer(relationships RelationshipResolver, facade *catalog.Facade, breaks BreakLister) *Server {
	s := &Server{
		relationships: relationships,
		facade:        facade,
		breaks:        breaks,
	}

	s.mcpServer = server.NewMCPServer(
		"mazoea",
		"1.0.0",
		server.WithToolCapabilities(true),
	)

	s.registerTools()

	return s
}

// Run starts the MCP server, reading from stdin and writing to stdout.
func (s *Server) Run() error {
	return server.ServeStdio(s.mcpServer)
}

// HandleMessage processes a raw JSON-RPC message and returns a response.
// This is primarily for testing the MCP protocol layer.
func (s *Server) HandleMessage(ctx context.Context, message json.RawMessage) mcp.JSONRPCMessage {
	return s.mcpServer.HandleMessage(ctx, message)
}

// ListTools returns all registered tools.
func (s *Server) ListTools() []ToolInfo {
	return []ToolInfo{
		{Name: "mazoea_relationships", Description: "List tracked relationships"},
		{Name: "mazoea_snapshot", Description: "Get the ritual snapshot for a relationship"},
		{Name: "mazoea_breaks", Description: "List unresolved ritual breaks for a relationship"},
	}
}

// CallTool executes a tool by name with the given arguments.
// This is used for testing and direct invocation.
func (s *Server) CallTool(ctx context.Context, name string, args map[string]any) (*ToolResult, error) {
	switch name {
	case "mazoea_relationships":
		return s.handleRelationships(ctx, args)
	case "mazoea_snapshot":
		return s.handleSnapshot(ctx, args)
	case "mazoea_breaks":
		return s.handleBreaks(ctx, args)
	default:
		return &ToolResult{Content: fmt.Sprintf("unknown tool: %s", name), IsError: true}, nil
	}
}

func (s *Server) registerTools() {
	s.mcpServer.AddTool(mcp.NewTool("mazoea_relationships",
		mcp.WithDescription("List tracked relationships with their external IDs and timezones."),
	), s.mcpHandleRelationships)

	s.mcpServer.AddTool(mcp.NewTool("mazoea_snapshot",
		mcp.WithDescription("Get the current ritual snapshot for a relationship: established, emerging, and fading rituals plus unresolved breaks, ready to weave into conversation."),
		mcp.WithString("relationship_id",
			mcp.Description("External ID of the relationship"),
			mcp.Required(),
		),
	), s.mcpHandleSnapshot)

	s.mcpServer.AddTool(mcp.NewTool("mazoea_breaks",
		mcp.WithDescription("List unresolved ritual breaks for a relationship - established rituals that failed to occur inside their expected window and have not been addressed yet."),
		mcp.WithString("relationship_id",
			mcp.Description("External ID of the relationship"),
			mcp.Required(),
		),
	), s.mcpHandleBreaks)
}

func (s *Server) mcpHandleRelationships(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	result, err := s.handleRelationships(ctx, req.GetArguments())
	if err != nil {
		return nil, err
	}
	return toMCPResult(result), nil
}

func (s *Server) mcpHandleSnapshot(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	result, err := s.handleSnapshot(ctx, req.GetArguments())
	if err != nil {
		return nil, err
	}
	return toMCPResult(result), nil
}

func (s *Server) mcpHandleBreaks(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	result, err := s.handleBreaks(ctx, req.GetArguments())
	if err != nil {
		return nil, err
	}
	return toMCPResult(result), nil
}

func toMCPResult(r *ToolResult) *mcp.CallToolResult {
	result := &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{
				Type: "text",
				Text: r.Content,
			},
		},
	}
	if r.IsError {
		result.IsError = true
	}
	return result
}

// Internal handlers

func (s *Server) handleRelationships(ctx context.Context, _ map[string]any) (*ToolResult, error) {
	rels, err := s.relationships.List(ctx)
	if err != nil {
		return &ToolResult{Content: fmt.Sprintf("listing relationships failed: %v", err), IsError: true}, nil
	}
	if len(rels) == 0 {
		return &ToolResult{Content: "No relationships are tracked yet."}, nil
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "%d tracked relationship(s):\n", len(rels))
	for _, rel := range rels {
		tz := rel.Timezone
		if tz == "" {
			tz = "UTC"
		}
		fmt.Fprintf(&sb, "- %s (timezone: %s)\n", rel.ExternalID, tz)
	}
	return &ToolResult{Content: sb.String()}, nil
}

func (s *Server) handleSnapshot(ctx context.Context, args map[string]any) (*ToolResult, error) {
	rel, res := s.resolveRelationship(ctx, args)
	if res != nil {
		return res, nil
	}

	snap, err := s.facade.Snapshot(ctx, rel.ID, time.Now().UTC())
	if err != nil {
		return &ToolResult{Content: fmt.Sprintf("snapshot failed: %v", err), IsError: true}, nil
	}

	return &ToolResult{Content: formatSnapshot(rel, snap)}, nil
}

func (s *Server) handleBreaks(ctx context.Context, args map[string]any) (*ToolResult, error) {
	rel, res := s.resolveRelationship(ctx, args)
	if res != nil {
		return res, nil
	}

	records, err := s.breaks.ListUnresolved(ctx, rel.ID)
	if err != nil {
		return &ToolResult{Content: fmt.Sprintf("listing breaks failed: %v", err), IsError: true}, nil
	}
	if len(records) == 0 {
		return &ToolResult{Content: fmt.Sprintf("No unresolved breaks for %s.", rel.ExternalID)}, nil
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "%d unresolved break(s) for %s:\n", len(records), rel.ExternalID)
	for _, b := range records {
		fmt.Fprintf(&sb, "- %s expected by %s, noticed %s (id: %s)\n",
			b.Signature,
			b.ExpectedBy.Format(time.RFC3339),
			b.NoticedAt.Format(time.RFC3339),
			b.ID,
		)
	}
	return &ToolResult{Content: sb.String()}, nil
}

// resolveRelationship extracts and resolves the relationship_id argument.
// Returns a non-nil ToolResult on failure.
func (s *Server) resolveRelationship(ctx context.Context, args map[string]any) (*domain.Relationship, *ToolResult) {
	externalID, ok := args["relationship_id"].(string)
	if !ok || externalID == "" {
		return nil, &ToolResult{Content: "relationship_id is required", IsError: true}
	}
	rel, err := s.relationships.GetByExternalID(ctx, externalID)
	if err != nil {
		return nil, &ToolResult{Content: fmt.Sprintf("unknown relationship %q", externalID), IsError: true}
	}
	return rel, nil
}

func formatSnapshot(rel *domain.Relationship, snap *catalog.Snapshot) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Ritual snapshot for %s (taken %s):\n", rel.ExternalID, snap.TakenAt.Format(time.RFC3339))

	writeSection(&sb, "Established", snap.Established)
	writeSection(&sb, "Emerging", snap.Emerging)
	writeSection(&sb, "Fading", snap.Fading)

	if len(snap.UnresolvedBreaks) > 0 {
		fmt.Fprintf(&sb, "\nUnresolved breaks (%d):\n", len(snap.UnresolvedBreaks))
		for _, b := range snap.UnresolvedBreaks {
			fmt.Fprintf(&sb, "- %s expected by %s\n", b.Signature, b.ExpectedBy.Format(time.RFC3339))
		}
	}
	return sb.String()
}

func writeSection(sb *strings.Builder, title string, entries []domain.RitualEntry) {
	if len(entries) == 0 {
		return
	}
	fmt.Fprintf(sb, "\n%s (%d):\n", title, len(entries))
	for _, e := range entries {
		fmt.Fprintf(sb, "- %s [%s] seen %d time(s), last %s",
			e.Description, e.Signature, e.OccurrenceCount, e.LastOccurrence.Format("2006-01-02"))
		if e.WasJustResumed {
			sb.WriteString(", just resumed")
		}
		if e.SignificanceNote != "" {
			fmt.Fprintf(sb, "\n  note: %s", e.SignificanceNote)
		}
		sb.WriteString("\n")
	}
}
