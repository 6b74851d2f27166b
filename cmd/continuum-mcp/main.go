// continuum-mcp exposes the continuum memory engine as an MCP stdio
// server.
//
// Environment variables (see continuum.LoadConfigFromEnv):
//
//	DB_PATH             — SQLite database path (default: ./data/continuum.db)
//	TENANT_ID           — default tenant when a caller omits one
//	CACHE_ENABLED        — enable the in-process search/stats cache
//	NEURAL_ATTENTION     — enable neural edge-strength prediction
//	NEURAL_MODEL_PATH    — model file watched for writes (changes are logged, not reloaded)
//	USE_PAID_EMBEDDINGS  — sets Config.UsePaidEmbeddings, which nothing reads; vector rerank runs only when Config.EmbeddingProvider is set
//
// Usage:
//
//	go install github.com/continuumlabs/continuum/cmd/continuum-mcp
//	continuum-mcp
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"

	continuum "github.com/continuumlabs/continuum"
	"github.com/modelcontextprotocol/go-sdk/mcp"
)

func main() {
	cfg, err := continuum.LoadConfigFromEnv()
	if err != nil {
		log.Fatalf("continuum config: %v", err)
	}

	engine, err := continuum.NewEngine(cfg)
	if err != nil {
		log.Fatalf("continuum init: %v", err)
	}
	defer engine.Close()

	async := continuum.NewAsyncEngine(engine)

	server := mcp.NewServer(&mcp.Implementation{
		Name:    "continuum-mcp",
		Version: "1.0.0",
	}, nil)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "learn",
		Description: "Ingest one user/assistant turn: extract concepts and decisions, update the attention graph, and store the verbatim exchange.",
	}, learnHandler(async))

	mcp.AddTool(server, &mcp.Tool{
		Name:        "recall",
		Description: "Run the fusion recall pipeline (lexical + graph expansion + optional vector rerank) and return a ready-to-use context string.",
	}, recallHandler(async))

	mcp.AddTool(server, &mcp.Tool{
		Name:        "process_turn",
		Description: "Recall context for an incoming message, then learn from the resulting exchange, in one call.",
	}, processTurnHandler(async))

	mcp.AddTool(server, &mcp.Tool{
		Name:        "stats",
		Description: "Return row-count diagnostics (entities, links, messages, decisions) for a tenant.",
	}, statsHandler(engine))

	mcp.AddTool(server, &mcp.Tool{
		Name:        "set_intention",
		Description: "Record a resumable work item for a tenant.",
	}, setIntentionHandler(engine))

	mcp.AddTool(server, &mcp.Tool{
		Name:        "resume_check",
		Description: "Return a tenant's pending intentions bucketed by priority, for resuming interrupted work.",
	}, resumeCheckHandler(engine))

	mcp.AddTool(server, &mcp.Tool{
		Name:        "how_did_i_think_about",
		Description: "Return a concept's full evolution history, oldest first.",
	}, evolutionHandler(engine))

	if err := server.Run(context.Background(), &mcp.StdioTransport{}); err != nil {
		log.Fatalf("continuum-mcp: %v", err)
	}
}

// --- Input types ---

type learnInput struct {
	TenantID    string            `json:"tenant_id"              jsonschema:"Tenant identifier"`
	UserMessage string            `json:"user_message"           jsonschema:"What the user said"`
	AIResponse  string            `json:"ai_response"            jsonschema:"What the assistant replied"`
	SessionID   string            `json:"session_id,omitempty"   jsonschema:"Optional conversation session ID"`
	Metadata    map[string]string `json:"metadata,omitempty"     jsonschema:"Optional free-form metadata"`
	Thinking    string            `json:"thinking,omitempty"     jsonschema:"Optional assistant internal reasoning to store alongside the turn"`
}

type recallInput struct {
	TenantID    string `json:"tenant_id"              jsonschema:"Tenant identifier"`
	Message     string `json:"message"                jsonschema:"Incoming message to recall context for"`
	MaxConcepts int    `json:"max_concepts,omitempty" jsonschema:"Maximum seed concepts to extract (default 5)"`
}

type processTurnInput struct {
	TenantID    string            `json:"tenant_id"              jsonschema:"Tenant identifier"`
	UserMessage string            `json:"user_message"           jsonschema:"What the user said"`
	AIResponse  string            `json:"ai_response"            jsonschema:"What the assistant replied"`
	SessionID   string            `json:"session_id,omitempty"   jsonschema:"Optional conversation session ID"`
	Metadata    map[string]string `json:"metadata,omitempty"     jsonschema:"Optional free-form metadata"`
}

type statsInput struct {
	TenantID string `json:"tenant_id" jsonschema:"Tenant identifier"`
}

type setIntentionInput struct {
	TenantID  string `json:"tenant_id"            jsonschema:"Tenant identifier"`
	Intention string `json:"intention"            jsonschema:"What to resume"`
	Context   string `json:"context,omitempty"    jsonschema:"Optional context for the intention"`
	SessionID string `json:"session_id,omitempty" jsonschema:"Optional session ID"`
	Priority  int    `json:"priority,omitempty"   jsonschema:"Priority 1-10 (default 5)"`
}

type resumeCheckInput struct {
	TenantID string `json:"tenant_id" jsonschema:"Tenant identifier"`
}

type evolutionInput struct {
	TenantID string `json:"tenant_id" jsonschema:"Tenant identifier"`
	Concept  string `json:"concept"   jsonschema:"Concept name"`
}

// --- Handlers ---

func learnHandler(a *continuum.AsyncEngine) func(context.Context, *mcp.CallToolRequest, learnInput) (*mcp.CallToolResult, any, error) {
	return func(ctx context.Context, req *mcp.CallToolRequest, input learnInput) (*mcp.CallToolResult, any, error) {
		result, err := a.Learn(ctx, continuum.LearnInput{
			TenantID:    input.TenantID,
			UserMessage: input.UserMessage,
			AIResponse:  input.AIResponse,
			SessionID:   input.SessionID,
			Metadata:    input.Metadata,
			Thinking:    input.Thinking,
		})
		if err != nil {
			return textResult(errJSON(err)), nil, nil
		}
		return textResult(jsonString(result)), nil, nil
	}
}

func recallHandler(a *continuum.AsyncEngine) func(context.Context, *mcp.CallToolRequest, recallInput) (*mcp.CallToolResult, any, error) {
	return func(ctx context.Context, req *mcp.CallToolRequest, input recallInput) (*mcp.CallToolResult, any, error) {
		result, err := a.Recall(ctx, continuum.RecallInput{
			TenantID:    input.TenantID,
			Message:     input.Message,
			MaxConcepts: input.MaxConcepts,
		})
		if err != nil {
			return textResult(errJSON(err)), nil, nil
		}
		return textResult(jsonString(result)), nil, nil
	}
}

func processTurnHandler(a *continuum.AsyncEngine) func(context.Context, *mcp.CallToolRequest, processTurnInput) (*mcp.CallToolResult, any, error) {
	return func(ctx context.Context, req *mcp.CallToolRequest, input processTurnInput) (*mcp.CallToolResult, any, error) {
		result, err := a.ProcessTurn(ctx, input.TenantID, input.UserMessage, input.AIResponse, input.SessionID, input.Metadata)
		if err != nil {
			return textResult(errJSON(err)), nil, nil
		}
		return textResult(jsonString(result)), nil, nil
	}
}

func statsHandler(e *continuum.Engine) func(context.Context, *mcp.CallToolRequest, statsInput) (*mcp.CallToolResult, any, error) {
	return func(ctx context.Context, req *mcp.CallToolRequest, input statsInput) (*mcp.CallToolResult, any, error) {
		stats, err := e.Stats(ctx, input.TenantID)
		if err != nil {
			return textResult(errJSON(err)), nil, nil
		}
		return textResult(jsonString(stats)), nil, nil
	}
}

func setIntentionHandler(e *continuum.Engine) func(context.Context, *mcp.CallToolRequest, setIntentionInput) (*mcp.CallToolResult, any, error) {
	return func(ctx context.Context, req *mcp.CallToolRequest, input setIntentionInput) (*mcp.CallToolResult, any, error) {
		it, err := e.SetIntention(ctx, input.TenantID, input.Intention, input.Context, input.SessionID, input.Priority)
		if err != nil {
			return textResult(errJSON(err)), nil, nil
		}
		return textResult(jsonString(it)), nil, nil
	}
}

func resumeCheckHandler(e *continuum.Engine) func(context.Context, *mcp.CallToolRequest, resumeCheckInput) (*mcp.CallToolResult, any, error) {
	return func(ctx context.Context, req *mcp.CallToolRequest, input resumeCheckInput) (*mcp.CallToolResult, any, error) {
		buckets, err := e.ResumeCheck(ctx, input.TenantID)
		if err != nil {
			return textResult(errJSON(err)), nil, nil
		}
		return textResult(jsonString(buckets)), nil, nil
	}
}

func evolutionHandler(e *continuum.Engine) func(context.Context, *mcp.CallToolRequest, evolutionInput) (*mcp.CallToolResult, any, error) {
	return func(ctx context.Context, req *mcp.CallToolRequest, input evolutionInput) (*mcp.CallToolResult, any, error) {
		events, err := e.HowDidIThinkAbout(ctx, input.TenantID, input.Concept)
		if err != nil {
			return textResult(errJSON(err)), nil, nil
		}
		return textResult(jsonString(events)), nil, nil
	}
}

// --- Helpers ---

func textResult(text string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			&mcp.TextContent{Text: text},
		},
	}
}

func jsonString(v any) string {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Sprintf(`{"error": "marshal: %v"}`, err)
	}
	return string(data)
}

func errJSON(err error) string {
	return fmt.Sprintf(`{"error": %q}`, err.Error())
}
