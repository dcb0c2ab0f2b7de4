// Package mcpapi provides a stateless MCP streamable-HTTP adapter.
package mcpapi

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
	mcpserver "github.com/mark3labs/mcp-go/server"

	"github.com/hylla/herbchain/internal/adapters/server/common"
)

// toolPrefix namespaces every registered tool name.
const toolPrefix = "herbchain."

// Config captures MCP transport configuration.
type Config struct {
	ServerName    string
	ServerVersion string
	EndpointPath  string
}

// Handler wraps one stateless MCP streamable HTTP handler.
type Handler struct {
	httpHandler http.Handler
}

// NewHandler builds one stateless MCP adapter exposing every ledger intent and query as a tool.
func NewHandler(cfg Config, ledger common.LedgerService) (*Handler, error) {
	if ledger == nil {
		return nil, fmt.Errorf("ledger service is required")
	}
	cfg = normalizeConfig(cfg)

	mcpSrv := mcpserver.NewMCPServer(
		cfg.ServerName,
		cfg.ServerVersion,
		mcpserver.WithToolCapabilities(false),
	)
	registerQueryTools(mcpSrv, ledger)
	registerIntentTools(mcpSrv, ledger)

	streamable := mcpserver.NewStreamableHTTPServer(
		mcpSrv,
		mcpserver.WithEndpointPath(cfg.EndpointPath),
		mcpserver.WithStateLess(true),
	)
	return &Handler{httpHandler: streamable}, nil
}

// ServeHTTP handles one MCP streamable HTTP request.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if h == nil || h.httpHandler == nil {
		http.Error(w, "mcp handler unavailable", http.StatusServiceUnavailable)
		return
	}
	h.httpHandler.ServeHTTP(w, r)
}

// normalizeConfig applies deterministic defaults to MCP adapter config.
func normalizeConfig(cfg Config) Config {
	cfg.ServerName = strings.TrimSpace(cfg.ServerName)
	if cfg.ServerName == "" {
		cfg.ServerName = "herbchain"
	}
	cfg.ServerVersion = strings.TrimSpace(cfg.ServerVersion)
	if cfg.ServerVersion == "" {
		cfg.ServerVersion = "dev"
	}
	cfg.EndpointPath = strings.TrimSpace(cfg.EndpointPath)
	if cfg.EndpointPath == "" {
		cfg.EndpointPath = "/mcp"
	}
	cfg.EndpointPath = "/" + strings.Trim(cfg.EndpointPath, "/")
	return cfg
}

// registerQueryTools registers read-only lookups that need no actor identity.
func registerQueryTools(srv *mcpserver.MCPServer, ledger common.LedgerService) {
	srv.AddTool(
		mcp.NewTool(
			toolPrefix+"resolve_provenance",
			mcp.WithDescription("Resolve the full journey behind a consumer code, from packaging back to every origin collection."),
			mcp.WithString("code", mcp.Required(), mcp.Description("Consumer code printed on the package")),
		),
		func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			code, err := req.RequireString("code")
			if err != nil {
				return invalidRequestToolResult(err), nil
			}
			tree, err := ledger.ResolveProvenance(ctx, code)
			if err != nil {
				return toolResultFromError(err), nil
			}
			return jsonToolResult("resolve_provenance", tree)
		},
	)

	srv.AddTool(
		mcp.NewTool(
			toolPrefix+"get_record",
			mcp.WithDescription("Return one ledger record by id or by minted code."),
			mcp.WithString("record_id", mcp.Description("Record identifier")),
			mcp.WithString("code", mcp.Description("Batch, product, or consumer code")),
		),
		func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			recordID := strings.TrimSpace(req.GetString("record_id", ""))
			code := strings.TrimSpace(req.GetString("code", ""))
			var (
				rec common.Record
				err error
			)
			switch {
			case recordID != "":
				rec, err = ledger.GetRecord(ctx, recordID)
			case code != "":
				rec, err = ledger.FindByCode(ctx, code)
			default:
				return mcp.NewToolResultError(`invalid_request: one of "record_id" or "code" is required`), nil
			}
			if err != nil {
				return toolResultFromError(err), nil
			}
			return jsonToolResult("get_record", rec)
		},
	)

	srv.AddTool(
		mcp.NewTool(
			toolPrefix+"list_records",
			mcp.WithDescription("List ledger records, oldest first, with optional filters."),
			mcp.WithString("kind", mcp.Description("Record kind"), mcp.Enum("collection", "test", "manufacturing", "packaging")),
			mcp.WithString("status", mcp.Description("Status within the kind")),
			mcp.WithString("owner_id", mcp.Description("Owning actor id")),
			mcp.WithNumber("limit", mcp.Description("Maximum rows (0 = no limit)")),
		),
		func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			recs, err := ledger.ListRecords(ctx, common.ListRecordsRequest{
				Kind:    req.GetString("kind", ""),
				Status:  req.GetString("status", ""),
				OwnerID: req.GetString("owner_id", ""),
				Limit:   req.GetInt("limit", 0),
			})
			if err != nil {
				return toolResultFromError(err), nil
			}
			return jsonToolResult("list_records", map[string]any{"records": recs})
		},
	)

	srv.AddTool(
		mcp.NewTool(
			toolPrefix+"list_children",
			mcp.WithDescription("List records built directly on one record."),
			mcp.WithString("record_id", mcp.Required(), mcp.Description("Parent record identifier")),
		),
		func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			recordID, err := req.RequireString("record_id")
			if err != nil {
				return invalidRequestToolResult(err), nil
			}
			recs, err := ledger.Children(ctx, recordID)
			if err != nil {
				return toolResultFromError(err), nil
			}
			return jsonToolResult("list_children", map[string]any{"records": recs})
		},
	)

	srv.AddTool(
		mcp.NewTool(
			toolPrefix+"batch_headroom",
			mcp.WithDescription("Report accepted, consumed, and remaining quantity of a tested batch."),
			mcp.WithString("batch_code", mcp.Required(), mcp.Description("Batch code of a test record")),
		),
		func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			code, err := req.RequireString("batch_code")
			if err != nil {
				return invalidRequestToolResult(err), nil
			}
			headroom, err := ledger.BatchHeadroom(ctx, code)
			if err != nil {
				return toolResultFromError(err), nil
			}
			return jsonToolResult("batch_headroom", headroom)
		},
	)

	srv.AddTool(
		mcp.NewTool(
			toolPrefix+"list_change_events",
			mcp.WithDescription("List transaction-log entries, newest first."),
			mcp.WithString("record_id", mcp.Description("Restrict to one record")),
			mcp.WithNumber("limit", mcp.Description("Maximum rows (0 = no limit)")),
		),
		func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			events, err := ledger.ListChangeEvents(ctx, req.GetString("record_id", ""), req.GetInt("limit", 0))
			if err != nil {
				return toolResultFromError(err), nil
			}
			return jsonToolResult("list_change_events", map[string]any{"events": events})
		},
	)

	srv.AddTool(
		mcp.NewTool(
			toolPrefix+"summary",
			mcp.WithDescription("Return the auditor overview: counts per kind and status, actors per role, and conservation breaches."),
		),
		func(ctx context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			summary, err := ledger.Summarize(ctx)
			if err != nil {
				return toolResultFromError(err), nil
			}
			return jsonToolResult("summary", summary)
		},
	)

	srv.AddTool(
		mcp.NewTool(
			toolPrefix+"list_actors",
			mcp.WithDescription("List registered supply-chain actors."),
		),
		func(ctx context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			actors, err := ledger.ListActors(ctx)
			if err != nil {
				return toolResultFromError(err), nil
			}
			return jsonToolResult("list_actors", map[string]any{"actors": actors})
		},
	)
}

// jsonToolResult encodes one payload as a structured tool result.
func jsonToolResult(tool string, payload any) (*mcp.CallToolResult, error) {
	result, err := mcp.NewToolResultJSON(payload)
	if err != nil {
		return nil, fmt.Errorf("encode %s result: %w", tool, err)
	}
	return result, nil
}

// toolResultFromError maps ledger errors to `code: message` tool errors.
func toolResultFromError(err error) *mcp.CallToolResult {
	if err == nil {
		return mcp.NewToolResultError("unknown error")
	}
	info := common.DescribeError(err)
	msg := info.Code + ": " + err.Error()
	if info.Retryable {
		msg += " (retryable)"
	}
	return mcp.NewToolResultError(msg)
}

// invalidRequestToolResult reports malformed tool arguments.
func invalidRequestToolResult(err error) *mcp.CallToolResult {
	if err == nil {
		return mcp.NewToolResultError("invalid_request: malformed arguments")
	}
	return mcp.NewToolResultError("invalid_request: " + err.Error())
}
