package api

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/ataleck/sage/internal/memory"
	"github.com/ataleck/sage/internal/pipeline"
	"github.com/ataleck/sage/internal/storage"
)

// MCPDeps holds dependencies for the MCP server.
type MCPDeps struct {
	Store      *storage.Store
	Structured memory.Module
	Semantic   memory.Module
}

// NewMCPServer creates an MCP server with the memory tools and resources
// registered, so agent clients share the same memory as the chat API.
func NewMCPServer(deps MCPDeps) *server.MCPServer {
	s := server.NewMCPServer(
		"sage",
		"1.0.0",
		server.WithToolCapabilities(true),
		server.WithResourceCapabilities(false, true),
		server.WithInstructions("sage — local long-term memory: remembered entities, knowledge, and contacts."),
		server.WithRecovery(),
	)

	s.AddTool(
		mcp.NewTool("remember",
			mcp.WithDescription("Analyze a piece of text and store the entities and knowledge found in it into long-term memory."),
			mcp.WithString("text", mcp.Description("The text to remember"), mcp.Required()),
		),
		mcpRemember(deps),
	)

	s.AddTool(
		mcp.NewTool("recall",
			mcp.WithDescription("Semantically search remembered knowledge and return the most relevant chunks."),
			mcp.WithString("query", mcp.Description("Search query"), mcp.Required()),
			mcp.WithNumber("limit", mcp.Description("Maximum number of results (default 5)")),
		),
		mcpRecall(deps),
	)

	s.AddTool(
		mcp.NewTool("add_contact",
			mcp.WithDescription("Store or update a contact. Contacts are identified by name and email."),
			mcp.WithString("name", mcp.Description("Contact name"), mcp.Required()),
			mcp.WithString("email", mcp.Description("Contact email")),
			mcp.WithString("company", mcp.Description("Company")),
			mcp.WithString("notes", mcp.Description("Free-form notes")),
		),
		mcpAddContact(deps),
	)

	s.AddResource(
		mcp.NewResource(
			"memory://entities",
			"Known Entities",
			mcp.WithResourceDescription("All remembered entities as JSON"),
			mcp.WithMIMEType("application/json"),
		),
		mcpResourceEntities(deps),
	)

	s.AddResource(
		mcp.NewResource(
			"memory://runs/recent",
			"Recent Extraction Runs",
			mcp.WithResourceDescription("Last 10 memory pipeline runs"),
			mcp.WithMIMEType("application/json"),
		),
		mcpResourceRecentRuns(deps),
	)

	return s
}

func mcpRemember(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		text, err := req.RequireString("text")
		if err != nil {
			return mcpError("text is required"), nil
		}

		runID, err := pipeline.Enqueue(deps.Store, text)
		if err != nil {
			return mcpError(fmt.Sprintf("failed to queue extraction: %v", err)), nil
		}
		return mcpText(fmt.Sprintf("Extraction queued, run %s", runID)), nil
	}
}

func mcpRecall(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		query, err := req.RequireString("query")
		if err != nil {
			return mcpError("query is required"), nil
		}

		limit := req.GetInt("limit", 5)
		if limit <= 0 {
			limit = 5
		}
		if limit > 50 {
			limit = 50
		}

		records, err := deps.Semantic.Query(ctx, memory.Filter{
			Kind:      memory.KindKnowledge,
			QueryText: query,
			TopK:      limit,
		})
		if err != nil {
			return mcpError(fmt.Sprintf("recall failed: %v", err)), nil
		}
		if len(records) == 0 {
			return mcpText("[]"), nil
		}

		type chunkResult struct {
			ID    string  `json:"id"`
			Text  string  `json:"text"`
			Score float32 `json:"score"`
		}
		results := make([]chunkResult, len(records))
		for i, rec := range records {
			results[i] = chunkResult{
				ID:    rec.Knowledge.ID,
				Text:  rec.Knowledge.Text,
				Score: rec.Knowledge.Score,
			}
		}

		b, err := json.Marshal(results)
		if err != nil {
			return mcpError(fmt.Sprintf("failed to marshal results: %v", err)), nil
		}
		return mcpText(string(b)), nil
	}
}

func mcpAddContact(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		name, err := req.RequireString("name")
		if err != nil {
			return mcpError("name is required"), nil
		}

		err = deps.Structured.Store(ctx, memory.Record{Kind: memory.KindContact, Contact: &memory.Contact{
			Name:    name,
			Email:   req.GetString("email", ""),
			Company: req.GetString("company", ""),
			Notes:   req.GetString("notes", ""),
		}})
		if err != nil {
			return mcpError(fmt.Sprintf("failed to store contact: %v", err)), nil
		}
		return mcpText(fmt.Sprintf("Stored contact %s", name)), nil
	}
}

func mcpResourceEntities(deps MCPDeps) server.ResourceHandlerFunc {
	return func(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
		records, err := deps.Structured.Query(ctx, memory.Filter{Kind: memory.KindEntity})
		if err != nil {
			return nil, fmt.Errorf("failed to list entities: %w", err)
		}

		type entitySummary struct {
			Name    string `json:"name"`
			Type    string `json:"type"`
			Details string `json:"details,omitempty"`
		}
		summaries := make([]entitySummary, len(records))
		for i, rec := range records {
			summaries[i] = entitySummary{
				Name:    rec.Entity.Name,
				Type:    rec.Entity.Type,
				Details: rec.Entity.Details,
			}
		}

		b, err := json.Marshal(summaries)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal entities: %w", err)
		}
		return []mcp.ResourceContents{
			mcp.TextResourceContents{
				URI:      req.Params.URI,
				MIMEType: "application/json",
				Text:     string(b),
			},
		}, nil
	}
}

func mcpResourceRecentRuns(deps MCPDeps) server.ResourceHandlerFunc {
	return func(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
		runs, err := deps.Store.ListRuns(10, 0)
		if err != nil {
			return nil, fmt.Errorf("failed to list runs: %w", err)
		}

		type runSummary struct {
			ID          string `json:"id"`
			Status      string `json:"status"`
			StartTime   string `json:"start_time"`
			FinalOutput string `json:"final_output,omitempty"`
		}
		summaries := make([]runSummary, len(runs))
		for i, run := range runs {
			summaries[i] = runSummary{
				ID:          run.ID,
				Status:      run.Status,
				StartTime:   run.StartTime.UTC().Format(time.RFC3339),
				FinalOutput: run.FinalOutput,
			}
		}

		b, err := json.Marshal(summaries)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal runs: %w", err)
		}
		return []mcp.ResourceContents{
			mcp.TextResourceContents{
				URI:      req.Params.URI,
				MIMEType: "application/json",
				Text:     string(b),
			},
		}, nil
	}
}

func mcpText(text string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{Type: "text", Text: text},
		},
	}
}

func mcpError(msg string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{Type: "text", Text: msg},
		},
		IsError: true,
	}
}
