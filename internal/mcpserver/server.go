// Package mcpserver provides an MCP (Model Context Protocol) server that
// exposes manifest validation and application as tools for LLM integration
// via stdio transport.
package mcpserver

import (
	"context"
	"encoding/json"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/starford/raido/internal/manifestservice"
)

// Server wraps the MCP server with raido tools.
type Server struct {
	mcp *server.MCPServer
	svc *manifestservice.Service
}

// New creates a new MCP server with all raido tools registered.
func New(svc *manifestservice.Service) *Server {
	s := &Server{svc: svc}

	s.mcp = server.NewMCPServer(
		"Raido",
		"1.0.0",
		server.WithToolCapabilities(false),
		server.WithResourceCapabilities(false, false),
	)

	s.mcp.AddTool(mcp.NewTool("validate_manifest",
		mcp.WithDescription("Statically validate a change manifest: schema, include "+
			"composition, reference ordering, and symbol namespaces. Makes no changes. "+
			"Read the manifest contract first via the get_manifest_contract tool or the "+
			"raido://manifest-format resource."),
		mcp.WithString("path", mcp.Required(), mcp.Description("Path to the manifest file")),
		mcp.WithBoolean("allowMissingIdFiles", mcp.Description("Skip missing idFiles with a warning instead of failing")),
	), s.validateManifest)

	s.mcp.AddTool(mcp.NewTool("apply_manifest",
		mcp.WithDescription("Validate and apply a change manifest against the modeling "+
			"service. Operations are submitted in chunks; on failure the result reports "+
			"exactly which chunks completed. Already-applied chunks are never rolled back."),
		mcp.WithString("path", mcp.Required(), mcp.Description("Path to the manifest file")),
		mcp.WithString("idempotencyKey", mcp.Description("Invocation-level idempotency key (the manifest's own key takes precedence)")),
		mcp.WithBoolean("allowMissingIdFiles", mcp.Description("Skip missing idFiles with a warning instead of failing")),
	), s.applyManifest)

	s.mcp.AddTool(mcp.NewTool("get_manifest_contract",
		mcp.WithDescription("Returns the canonical change-manifest format contract. "+
			"Call this before writing manifests to ensure correct structure."),
	), s.getManifestContract)

	s.mcp.AddTool(mcp.NewTool("list_applies",
		mcp.WithDescription("List recent apply invocations from the local journal, "+
			"newest first, with per-chunk outcomes."),
		mcp.WithNumber("limit", mcp.Description("Maximum number of applies to return (default 20)")),
	), s.listApplies)

	// Resource: manifest format contract.
	s.mcp.AddResource(
		mcp.NewResource("raido://manifest-format", "Manifest Format Contract",
			mcp.WithResourceDescription("Canonical change-manifest format that all manifests must follow."),
			mcp.WithMIMEType("text/markdown"),
		),
		s.readManifestFormatResource,
	)

	return s
}

// ServeStdio starts the MCP server on stdin/stdout.
func (s *Server) ServeStdio() error {
	return server.ServeStdio(s.mcp)
}

// MCPServer returns the underlying server for testing.
func (s *Server) MCPServer() *server.MCPServer {
	return s.mcp
}

func (s *Server) validateManifest(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	path, err := req.RequireString("path")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	allowMissing := boolArg(req, "allowMissingIdFiles")

	report, err := s.svc.Validate(ctx, path, allowMissing)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	out, _ := json.MarshalIndent(report, "", "  ")
	return mcp.NewToolResultText(string(out)), nil
}

func (s *Server) applyManifest(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	path, err := req.RequireString("path")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	report, err := s.svc.Apply(ctx, path, manifestservice.ApplyOptions{
		AllowMissingIDFiles: boolArg(req, "allowMissingIdFiles"),
		IdempotencyKey:      stringArg(req, "idempotencyKey"),
	})
	if report == nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	// A failed apply still returns the structured report: callers need the
	// chunk results and recovery snapshot, not just a message.
	out, _ := json.MarshalIndent(report, "", "  ")
	return mcp.NewToolResultText(string(out)), nil
}

func (s *Server) getManifestContract(_ context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return mcp.NewToolResultText(ManifestFormatContract), nil
}

func (s *Server) listApplies(_ context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	limit := intArg(req, "limit", 20)

	applies, chunks, err := s.svc.History(limit)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	type entry struct {
		Apply  any `json:"apply"`
		Chunks any `json:"chunks,omitempty"`
	}
	entries := make([]entry, len(applies))
	for i, a := range applies {
		entries[i] = entry{Apply: a, Chunks: chunks[a.ID]}
	}
	out, _ := json.MarshalIndent(entries, "", "  ")
	if len(entries) == 0 {
		return mcp.NewToolResultText("no applies recorded"), nil
	}
	return mcp.NewToolResultText(string(out)), nil
}

// Optional-argument helpers over the raw MCP argument map.

func argMap(req mcp.CallToolRequest) map[string]any {
	if m, ok := req.Params.Arguments.(map[string]any); ok {
		return m
	}
	return nil
}

func boolArg(req mcp.CallToolRequest, name string) bool {
	v, _ := argMap(req)[name].(bool)
	return v
}

func stringArg(req mcp.CallToolRequest, name string) string {
	v, _ := argMap(req)[name].(string)
	return v
}

func intArg(req mcp.CallToolRequest, name string, def int) int {
	if v, ok := argMap(req)[name].(float64); ok {
		return int(v)
	}
	return def
}

func (s *Server) readManifestFormatResource(_ context.Context, _ mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
	return []mcp.ResourceContents{
		mcp.TextResourceContents{
			URI:      "raido://manifest-format",
			MIMEType: "text/markdown",
			Text:     ManifestFormatContract,
		},
	}, nil
}
