package api

import (
	"context"
	"encoding/json"
	"strings"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/ataleck/sage/internal/memory"
	"github.com/ataleck/sage/internal/retrieval"
	"github.com/ataleck/sage/internal/storage"
)

func newTestMCPDeps(t *testing.T) MCPDeps {
	t.Helper()
	store, err := storage.Open(":memory:")
	if err != nil {
		t.Fatalf("Open(:memory:) failed: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	vectors := retrieval.NewSQLiteStore(store.DB())
	return MCPDeps{
		Store:      store,
		Structured: memory.NewStructured(store),
		Semantic:   memory.NewSemantic(fakeEmbedder{}, vectors),
	}
}

func makeCallToolRequest(name string, args map[string]interface{}) mcp.CallToolRequest {
	return mcp.CallToolRequest{
		Params: mcp.CallToolParams{
			Name:      name,
			Arguments: args,
		},
	}
}

func makeReadResourceRequest(uri string) mcp.ReadResourceRequest {
	req := mcp.ReadResourceRequest{}
	req.Params.URI = uri
	return req
}

func toolText(t *testing.T, result *mcp.CallToolResult) string {
	t.Helper()
	if len(result.Content) == 0 {
		t.Fatal("tool result has no content")
	}
	tc, ok := result.Content[0].(mcp.TextContent)
	if !ok {
		t.Fatalf("content is %T, want TextContent", result.Content[0])
	}
	return tc.Text
}

func TestMCPRememberQueuesRun(t *testing.T) {
	deps := newTestMCPDeps(t)
	handler := mcpRemember(deps)

	result, err := handler(context.Background(), makeCallToolRequest("remember", map[string]interface{}{
		"text": "Alice works at Acme Corp",
	}))
	if err != nil {
		t.Fatalf("remember returned error: %v", err)
	}
	if result.IsError {
		t.Fatalf("remember failed: %s", toolText(t, result))
	}
	if !strings.Contains(toolText(t, result), "Extraction queued") {
		t.Errorf("text = %q", toolText(t, result))
	}

	runs, err := deps.Store.ListRuns(10, 0)
	if err != nil {
		t.Fatalf("ListRuns failed: %v", err)
	}
	if len(runs) != 1 {
		t.Fatalf("got %d runs, want 1", len(runs))
	}
	if runs[0].Status != storage.RunStatusRunning {
		t.Errorf("run status = %q, want running", runs[0].Status)
	}

	job, err := deps.Store.ClaimNextJob([]string{"memory_extract"})
	if err != nil {
		t.Fatalf("ClaimNextJob failed: %v", err)
	}
	if job == nil {
		t.Fatal("no job was enqueued")
	}
	if job.Type != "memory_extract" {
		t.Errorf("job type = %q", job.Type)
	}
}

func TestMCPRememberMissingText(t *testing.T) {
	deps := newTestMCPDeps(t)

	result, err := mcpRemember(deps)(context.Background(), makeCallToolRequest("remember", map[string]interface{}{}))
	if err != nil {
		t.Fatalf("handler returned error: %v", err)
	}
	if !result.IsError {
		t.Error("expected tool error for missing text")
	}
}

func TestMCPRecallEmpty(t *testing.T) {
	deps := newTestMCPDeps(t)

	result, err := mcpRecall(deps)(context.Background(), makeCallToolRequest("recall", map[string]interface{}{
		"query": "anything at all",
	}))
	if err != nil {
		t.Fatalf("recall returned error: %v", err)
	}
	if got := toolText(t, result); got != "[]" {
		t.Errorf("text = %q, want []", got)
	}
}

func TestMCPRecallReturnsChunks(t *testing.T) {
	deps := newTestMCPDeps(t)
	ctx := context.Background()

	err := deps.Semantic.Store(ctx, memory.Record{Kind: memory.KindKnowledge, Knowledge: &memory.Knowledge{
		Text: "The standup moved to ten in the morning",
	}})
	if err != nil {
		t.Fatalf("Store failed: %v", err)
	}

	result, err := mcpRecall(deps)(ctx, makeCallToolRequest("recall", map[string]interface{}{
		"query": "when is the standup",
	}))
	if err != nil {
		t.Fatalf("recall returned error: %v", err)
	}
	if result.IsError {
		t.Fatalf("recall failed: %s", toolText(t, result))
	}

	var chunks []struct {
		ID   string `json:"id"`
		Text string `json:"text"`
	}
	if err := json.Unmarshal([]byte(toolText(t, result)), &chunks); err != nil {
		t.Fatalf("decoding %q: %v", toolText(t, result), err)
	}
	if len(chunks) != 1 {
		t.Fatalf("got %d chunks, want 1", len(chunks))
	}
	if chunks[0].Text != "The standup moved to ten in the morning" {
		t.Errorf("text = %q", chunks[0].Text)
	}
	if chunks[0].ID == "" {
		t.Error("chunk id is empty")
	}
}

func TestMCPAddContact(t *testing.T) {
	deps := newTestMCPDeps(t)
	ctx := context.Background()

	result, err := mcpAddContact(deps)(ctx, makeCallToolRequest("add_contact", map[string]interface{}{
		"name":    "Bob Smith",
		"email":   "bob@example.com",
		"company": "Initech",
	}))
	if err != nil {
		t.Fatalf("add_contact returned error: %v", err)
	}
	if result.IsError {
		t.Fatalf("add_contact failed: %s", toolText(t, result))
	}

	records, err := deps.Structured.Query(ctx, memory.Filter{Kind: memory.KindContact, Name: "Bob"})
	if err != nil {
		t.Fatalf("Query failed: %v", err)
	}
	if len(records) != 1 {
		t.Fatalf("got %d contacts, want 1", len(records))
	}
	if records[0].Contact.Company != "Initech" {
		t.Errorf("company = %q", records[0].Contact.Company)
	}
}

func TestMCPEntitiesResource(t *testing.T) {
	deps := newTestMCPDeps(t)
	ctx := context.Background()

	err := deps.Structured.Store(ctx, memory.Record{Kind: memory.KindEntity, Entity: &memory.Entity{
		Name: "Acme Corp", Type: "Company", Details: "Alice's employer",
	}})
	if err != nil {
		t.Fatalf("Store failed: %v", err)
	}

	contents, err := mcpResourceEntities(deps)(ctx, makeReadResourceRequest("memory://entities"))
	if err != nil {
		t.Fatalf("resource returned error: %v", err)
	}
	if len(contents) != 1 {
		t.Fatalf("got %d contents, want 1", len(contents))
	}
	text, ok := contents[0].(mcp.TextResourceContents)
	if !ok {
		t.Fatalf("contents is %T, want TextResourceContents", contents[0])
	}
	if text.MIMEType != "application/json" {
		t.Errorf("mime = %q", text.MIMEType)
	}

	var entities []struct {
		Name string `json:"name"`
		Type string `json:"type"`
	}
	if err := json.Unmarshal([]byte(text.Text), &entities); err != nil {
		t.Fatalf("decoding %q: %v", text.Text, err)
	}
	if len(entities) != 1 || entities[0].Name != "Acme Corp" {
		t.Errorf("entities = %+v", entities)
	}
}

func TestMCPRecentRunsResource(t *testing.T) {
	deps := newTestMCPDeps(t)

	runID := "run-mcp-1"
	err := deps.Store.CreateRun(storage.Run{
		ID:     runID,
		Type:   storage.RunTypeMemoryExtraction,
		Status: storage.RunStatusRunning,
	})
	if err != nil {
		t.Fatalf("CreateRun failed: %v", err)
	}

	contents, err := mcpResourceRecentRuns(deps)(context.Background(), makeReadResourceRequest("memory://runs/recent"))
	if err != nil {
		t.Fatalf("resource returned error: %v", err)
	}
	text := contents[0].(mcp.TextResourceContents)

	var runs []struct {
		ID     string `json:"id"`
		Status string `json:"status"`
	}
	if err := json.Unmarshal([]byte(text.Text), &runs); err != nil {
		t.Fatalf("decoding %q: %v", text.Text, err)
	}
	if len(runs) != 1 || runs[0].ID != runID {
		t.Errorf("runs = %+v", runs)
	}
}
