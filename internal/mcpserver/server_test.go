package mcpserver

import (
	"context"
	"encoding/json"
	"os"
	"strings"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/starford/raido/internal/engine"
	"github.com/starford/raido/internal/journal"
	"github.com/starford/raido/internal/manifestservice"
	"github.com/starford/raido/internal/testutil"
)

func testServer(t *testing.T) (*Server, *testutil.FakeService) {
	t.Helper()

	fake := testutil.NewFakeService(t)

	dbFile, err := os.CreateTemp("", "raido-mcp-test-*.db")
	if err != nil {
		t.Fatal(err)
	}
	dbFile.Close()
	t.Cleanup(func() { os.Remove(dbFile.Name()) })

	jrnl, err := journal.Open(dbFile.Name())
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { jrnl.Close() })

	exec := engine.New(fake.Client(), testutil.Logger())
	svc := manifestservice.NewService(exec, jrnl, testutil.Logger())
	return New(svc), fake
}

// callTool invokes a tool handler directly; mcp-go has no test transport.
func callTool(t *testing.T, srv *Server, name string, args map[string]interface{}) *mcp.CallToolResult {
	t.Helper()
	ctx := context.Background()
	req := mcp.CallToolRequest{}
	req.Method = "tools/call"
	req.Params.Name = name
	req.Params.Arguments = args

	var result *mcp.CallToolResult
	var err error

	switch name {
	case "validate_manifest":
		result, err = srv.validateManifest(ctx, req)
	case "apply_manifest":
		result, err = srv.applyManifest(ctx, req)
	case "get_manifest_contract":
		result, err = srv.getManifestContract(ctx, req)
	case "list_applies":
		result, err = srv.listApplies(ctx, req)
	default:
		t.Fatalf("unknown tool: %s", name)
	}

	if err != nil {
		t.Fatalf("tool %s error: %v", name, err)
	}
	return result
}

func resultText(r *mcp.CallToolResult) string {
	if len(r.Content) > 0 {
		if tc, ok := r.Content[0].(mcp.TextContent); ok {
			return tc.Text
		}
	}
	return ""
}

const testManifest = `{
	"version": "1",
	"changes": [
		{"op": "createElement", "tempId": "app", "type": "component", "name": "App"}
	]
}`

func TestValidateManifestTool(t *testing.T) {
	srv, _ := testServer(t)
	dir := t.TempDir()
	path := testutil.WriteFile(t, dir, "m.json", testManifest)

	r := callTool(t, srv, "validate_manifest", map[string]interface{}{"path": path})
	if r.IsError {
		t.Fatalf("unexpected tool error: %s", resultText(r))
	}

	var report struct {
		Valid      bool `json:"valid"`
		Operations int  `json:"operations"`
	}
	if err := json.Unmarshal([]byte(resultText(r)), &report); err != nil {
		t.Fatalf("result is not JSON: %v", err)
	}
	if !report.Valid || report.Operations != 1 {
		t.Errorf("report = %+v", report)
	}
}

func TestValidateManifestTool_InvalidManifest(t *testing.T) {
	srv, _ := testServer(t)
	dir := t.TempDir()
	path := testutil.WriteFile(t, dir, "m.json", `{
		"version": "1",
		"changes": [{"op": "updateElement", "id": "ghost"}]
	}`)

	r := callTool(t, srv, "validate_manifest", map[string]interface{}{"path": path})
	if r.IsError {
		t.Fatalf("validation problems are report content, not tool errors: %s", resultText(r))
	}
	if !strings.Contains(resultText(r), "INVALID_BOM") {
		t.Errorf("result = %s", resultText(r))
	}
}

func TestValidateManifestTool_MissingPath(t *testing.T) {
	srv, _ := testServer(t)
	r := callTool(t, srv, "validate_manifest", map[string]interface{}{})
	if !r.IsError {
		t.Error("expected tool error for missing path argument")
	}
}

func TestApplyManifestTool(t *testing.T) {
	srv, fake := testServer(t)
	dir := t.TempDir()
	path := testutil.WriteFile(t, dir, "m.json", testManifest)

	r := callTool(t, srv, "apply_manifest", map[string]interface{}{"path": path})
	if r.IsError {
		t.Fatalf("unexpected tool error: %s", resultText(r))
	}

	var report struct {
		Success bool              `json:"success"`
		Symbols map[string]string `json:"symbols"`
	}
	if err := json.Unmarshal([]byte(resultText(r)), &report); err != nil {
		t.Fatalf("result is not JSON: %v", err)
	}
	if !report.Success || len(report.Symbols) != 1 {
		t.Errorf("report = %+v", report)
	}
	if fake.SubmitCount != 1 {
		t.Errorf("SubmitCount = %d, want 1", fake.SubmitCount)
	}
}

func TestApplyManifestTool_FailureReturnsStructuredReport(t *testing.T) {
	srv, fake := testServer(t)
	fake.FailNextBatch = "remote exploded"
	dir := t.TempDir()
	path := testutil.WriteFile(t, dir, "m.json", testManifest)

	r := callTool(t, srv, "apply_manifest", map[string]interface{}{"path": path})
	if r.IsError {
		t.Fatalf("failed applies still return the report: %s", resultText(r))
	}

	var report struct {
		Success bool   `json:"success"`
		Status  string `json:"status"`
	}
	if err := json.Unmarshal([]byte(resultText(r)), &report); err != nil {
		t.Fatalf("result is not JSON: %v", err)
	}
	if report.Success || report.Status != engine.ApplyPartialError {
		t.Errorf("report = %+v", report)
	}
}

func TestApplyManifestTool_PassesIdempotencyKey(t *testing.T) {
	srv, fake := testServer(t)
	dir := t.TempDir()
	path := testutil.WriteFile(t, dir, "m.json", testManifest)

	callTool(t, srv, "apply_manifest", map[string]interface{}{
		"path":           path,
		"idempotencyKey": "mcp-run",
	})
	if got := fake.Submitted[0].IdempotencyKey; got != "mcp-run:chunk:0:of:1" {
		t.Errorf("key = %q", got)
	}
}

func TestGetManifestContract(t *testing.T) {
	srv, _ := testServer(t)
	r := callTool(t, srv, "get_manifest_contract", map[string]interface{}{})
	text := resultText(r)
	if !strings.Contains(text, "idempotencyKey") || !strings.Contains(text, "addRelationshipToView") {
		t.Errorf("contract seems incomplete: %d bytes", len(text))
	}
}

func TestListApplies(t *testing.T) {
	srv, _ := testServer(t)

	r := callTool(t, srv, "list_applies", map[string]interface{}{})
	if resultText(r) != "no applies recorded" {
		t.Errorf("empty journal result = %q", resultText(r))
	}

	dir := t.TempDir()
	path := testutil.WriteFile(t, dir, "m.json", testManifest)
	callTool(t, srv, "apply_manifest", map[string]interface{}{"path": path})

	r = callTool(t, srv, "list_applies", map[string]interface{}{"limit": float64(5)})
	if !strings.Contains(resultText(r), "complete") {
		t.Errorf("result = %s", resultText(r))
	}
}

func TestReadManifestFormatResource(t *testing.T) {
	srv, _ := testServer(t)
	contents, err := srv.readManifestFormatResource(context.Background(), mcp.ReadResourceRequest{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(contents) != 1 {
		t.Fatalf("len(contents) = %d", len(contents))
	}
	tc, ok := contents[0].(mcp.TextResourceContents)
	if !ok || tc.URI != "raido://manifest-format" || tc.Text == "" {
		t.Errorf("contents = %+v", contents[0])
	}
}
