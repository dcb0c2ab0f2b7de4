package mcpapi

import (
	"context"

	"github.com/mark3labs/mcp-go/mcp"
	mcpserver "github.com/mark3labs/mcp-go/server"

	"github.com/hylla/herbchain/internal/adapters/server/common"
)

// actorArg declares the caller identity argument shared by every write tool.
func actorArg() mcp.ToolOption {
	return mcp.WithString("actor_id", mcp.Required(), mcp.Description("Registered actor performing the intent"))
}

// recordArg declares the target record argument of record-scoped intents.
func recordArg() mcp.ToolOption {
	return mcp.WithString("record_id", mcp.Required(), mcp.Description("Target record identifier"))
}

func expectedVersionArg() mcp.ToolOption {
	return mcp.WithNumber("expected_version", mcp.Description("Fail with a conflict unless the record is still at this version"))
}

// writeTool adapts one actor-scoped write into a tool handler. Arguments bind into T,
// then set stamps the actor and record ids that the JSON shape keeps out of T.
func writeTool[T any](
	tool string,
	recordScoped bool,
	set func(in *T, actorID, recordID string),
	call func(context.Context, T) (common.Record, error),
) mcpserver.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		actorID, err := req.RequireString("actor_id")
		if err != nil {
			return invalidRequestToolResult(err), nil
		}
		recordID := ""
		if recordScoped {
			recordID, err = req.RequireString("record_id")
			if err != nil {
				return invalidRequestToolResult(err), nil
			}
		}
		var in T
		if err := req.BindArguments(&in); err != nil {
			return invalidRequestToolResult(err), nil
		}
		set(&in, actorID, recordID)
		rec, err := call(ctx, in)
		if err != nil {
			return toolResultFromError(err), nil
		}
		return jsonToolResult(tool, rec)
	}
}

// registerIntentTools registers one tool per stage intent plus the generic advance and transition tools.
func registerIntentTools(srv *mcpserver.MCPServer, ledger common.LedgerService) {
	srv.AddTool(
		mcp.NewTool(
			toolPrefix+"register_actor",
			mcp.WithDescription("Register a supply-chain actor. Identical re-registration is a no-op."),
			mcp.WithString("id", mcp.Required(), mcp.Description("Actor identifier")),
			mcp.WithString("name", mcp.Required(), mcp.Description("Display name")),
			mcp.WithString("role", mcp.Required(), mcp.Description("Role"), mcp.Enum("collector", "tester", "manufacturer", "packager", "auditor")),
			mcp.WithString("company", mcp.Required(), mcp.Description("Company name")),
			mcp.WithString("license", mcp.Description("License number")),
		),
		func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			var in common.RegisterActorRequest
			if err := req.BindArguments(&in); err != nil {
				return invalidRequestToolResult(err), nil
			}
			actor, err := ledger.RegisterActor(ctx, in)
			if err != nil {
				return toolResultFromError(err), nil
			}
			return jsonToolResult("register_actor", actor)
		},
	)

	srv.AddTool(
		mcp.NewTool(
			toolPrefix+"record_collection",
			mcp.WithDescription("Record a field collection of raw material."),
			actorArg(),
			mcp.WithString("material", mcp.Required(), mcp.Description("Material name, seeds the batch code")),
			mcp.WithNumber("quantity", mcp.Required(), mcp.Description("Collected units")),
			mcp.WithString("unit", mcp.Description("Unit label, defaults to kg")),
			mcp.WithString("location", mcp.Required(), mcp.Description("Location label")),
			mcp.WithObject("coordinates", mcp.Description("latitude and longitude")),
			mcp.WithObject("environment", mcp.Description("soil_moisture, soil_ph, richness, weather")),
			mcp.WithArray("images", mcp.Description("Image references"), mcp.WithStringItems()),
		),
		writeTool("record_collection", false, func(in *common.RecordCollectionRequest, actorID, _ string) {
			in.ActorID = actorID
		}, ledger.RecordCollection),
	)

	srv.AddTool(
		mcp.NewTool(
			toolPrefix+"update_collection",
			mcp.WithDescription("Edit a collection that has not been sent. Omitted fields are unchanged."),
			actorArg(),
			recordArg(),
			expectedVersionArg(),
			mcp.WithString("material", mcp.Description("Material name")),
			mcp.WithNumber("quantity", mcp.Description("Collected units")),
			mcp.WithString("unit", mcp.Description("Unit label")),
			mcp.WithString("location", mcp.Description("Location label")),
			mcp.WithObject("coordinates", mcp.Description("latitude and longitude")),
			mcp.WithObject("environment", mcp.Description("soil_moisture, soil_ph, richness, weather")),
			mcp.WithArray("images", mcp.Description("Image references"), mcp.WithStringItems()),
		),
		writeTool("update_collection", true, func(in *common.UpdateCollectionRequest, actorID, recordID string) {
			in.ActorID, in.RecordID = actorID, recordID
		}, ledger.UpdateCollection),
	)

	srv.AddTool(
		mcp.NewTool(
			toolPrefix+"record_test",
			mcp.WithDescription("Record quality test results for a sent collection and mint its batch code."),
			actorArg(),
			mcp.WithString("collection_id", mcp.Required(), mcp.Description("Tested collection record id")),
			mcp.WithNumber("purity", mcp.Required(), mcp.Description("Purity percentage 0-100")),
			mcp.WithString("grade", mcp.Description("Quality grade")),
			mcp.WithNumber("accepted", mcp.Required(), mcp.Description("Accepted units")),
			mcp.WithNumber("rejected", mcp.Description("Rejected units")),
			mcp.WithString("notes", mcp.Description("Lab notes")),
		),
		writeTool("record_test", false, func(in *common.RecordTestRequest, actorID, _ string) {
			in.ActorID = actorID
		}, ledger.RecordTest),
	)

	srv.AddTool(
		mcp.NewTool(
			toolPrefix+"update_test",
			mcp.WithDescription("Edit an in-progress test. Omitted fields are unchanged."),
			actorArg(),
			recordArg(),
			expectedVersionArg(),
			mcp.WithNumber("purity", mcp.Description("Purity percentage 0-100")),
			mcp.WithString("grade", mcp.Description("Quality grade")),
			mcp.WithNumber("accepted", mcp.Description("Accepted units")),
			mcp.WithNumber("rejected", mcp.Description("Rejected units")),
			mcp.WithString("notes", mcp.Description("Lab notes")),
		),
		writeTool("update_test", true, func(in *common.UpdateTestRequest, actorID, recordID string) {
			in.ActorID, in.RecordID = actorID, recordID
		}, ledger.UpdateTest),
	)

	srv.AddTool(
		mcp.NewTool(
			toolPrefix+"create_product",
			mcp.WithDescription("Aggregate tested batches into a product. Every batch is checked against its headroom; nothing is consumed unless all fit."),
			actorArg(),
			mcp.WithString("product_name", mcp.Required(), mcp.Description("Product name, seeds the product code")),
			mcp.WithString("description", mcp.Description("Product description")),
			mcp.WithArray("composition", mcp.Required(), mcp.Description("Batches consumed by the product"), mcp.Items(map[string]any{
				"type": "object",
				"properties": map[string]any{
					"batch_code": map[string]any{"type": "string"},
					"quantity":   map[string]any{"type": "number"},
				},
				"required": []string{"batch_code", "quantity"},
			})),
		),
		writeTool("create_product", false, func(in *common.CreateProductRequest, actorID, _ string) {
			in.ActorID = actorID
		}, ledger.CreateProduct),
	)

	srv.AddTool(
		mcp.NewTool(
			toolPrefix+"receive_product",
			mcp.WithDescription("Take custody of a dispatched product and open its packaging record."),
			actorArg(),
			mcp.WithString("product", mcp.Required(), mcp.Description("Manufacturing record id or product code")),
		),
		writeTool("receive_product", false, func(in *common.ReceiveProductRequest, actorID, _ string) {
			in.ActorID = actorID
		}, ledger.ReceiveProduct),
	)

	srv.AddTool(
		mcp.NewTool(
			toolPrefix+"advance",
			mcp.WithDescription("Apply one named stage intent to a record."),
			actorArg(),
			recordArg(),
			mcp.WithString("intent", mcp.Required(), mcp.Description("Stage intent"), mcp.Enum(common.SupportedIntents()...)),
			expectedVersionArg(),
		),
		writeTool("advance", true, func(in *common.AdvanceRequest, actorID, recordID string) {
			in.ActorID, in.RecordID = actorID, recordID
		}, ledger.Advance),
	)

	srv.AddTool(
		mcp.NewTool(
			toolPrefix+"transition",
			mcp.WithDescription("Move a record to a target state through the intent that owns that step."),
			actorArg(),
			recordArg(),
			mcp.WithString("target", mcp.Required(), mcp.Description("Target status")),
			expectedVersionArg(),
			mcp.WithObject("collection", mcp.Description("Final collection edits applied with a send")),
			mcp.WithObject("test", mcp.Description("Final test results applied with completion")),
		),
		writeTool("transition", true, func(in *common.TransitionRequest, actorID, recordID string) {
			in.ActorID, in.RecordID = actorID, recordID
		}, ledger.Transition),
	)

	srv.AddTool(
		mcp.NewTool(
			toolPrefix+"mint_code",
			mcp.WithDescription("Mint a standalone code from a seed name."),
			mcp.WithString("seed", mcp.Required(), mcp.Description("Name whose initials form the prefix")),
			mcp.WithNumber("year", mcp.Description("Year segment, defaults to the configured year")),
		),
		func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			var in common.MintCodeRequest
			if err := req.BindArguments(&in); err != nil {
				return invalidRequestToolResult(err), nil
			}
			minted, err := ledger.MintCode(ctx, in)
			if err != nil {
				return toolResultFromError(err), nil
			}
			return jsonToolResult("mint_code", minted)
		},
	)
}
