// Package mcp provides a Model Context Protocol server for Keeper.
//
// It exposes Keeper's memory capabilities (remember, search, recall,
// entities, events, sharing) as MCP tools, and store statistics as an MCP
// resource. Supports stdio transport for desktop agent hosts.
//
// Every tool takes the caller's external identity (e.g. "signal:+15551234")
// and resolves it to an account before touching data, so the permission
// policy in the store applies to MCP callers the same as any other channel.
package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/keeperhq/keeper/internal/embed"
	"github.com/keeperhq/keeper/internal/ingest"
	"github.com/keeperhq/keeper/internal/search"
	"github.com/keeperhq/keeper/internal/store"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"go.uber.org/zap"
)

// ServerConfig holds configuration for the MCP server.
type ServerConfig struct {
	Store    *store.Store
	Version  string         // version string for MCP server info
	Oracle   ingest.Oracle  // optional, LLM-backed fact extraction
	Embedder embed.Embedder // optional, for semantic search
	Logger   *zap.Logger    // optional
}

// dbMu serializes all MCP tool calls that touch the database.
// The mcp-go library dispatches handlers concurrently via goroutines.
// SQLite supports only one writer at a time, and concurrent reads during
// writes can return stale results. A global mutex ensures correct
// ordering: a remember completes before a search sees its facts.
var dbMu sync.Mutex

// NewServer creates a configured MCP server with all Keeper tools and
// resources.
func NewServer(cfg ServerConfig) *server.MCPServer {
	ver := cfg.Version
	if ver == "" {
		ver = "dev"
	}

	s := server.NewMCPServer(
		"Keeper",
		ver,
		server.WithToolCapabilities(false),
		server.WithResourceCapabilities(true, false),
	)

	pipeline := ingest.NewPipeline(cfg.Store, cfg.Oracle, cfg.Embedder, cfg.Logger)
	engine := search.NewEngine(cfg.Store, cfg.Embedder)

	registerRememberTool(s, pipeline)
	registerSearchTool(s, engine, cfg.Store, cfg.Embedder != nil)
	registerRecallTool(s, cfg.Store)
	registerForgetTool(s, cfg.Store)
	registerEntitiesTool(s, cfg.Store)
	registerEventsTool(s, cfg.Store)
	registerShareTool(s, cfg.Store)
	registerRevokeTool(s, cfg.Store)
	registerFamilyTool(s, cfg.Store)
	registerStatsTool(s, cfg.Store)

	registerStatsResource(s, cfg.Store)

	return s
}

// --- JSON views ---
//
// Store types carry no JSON tags; tools return these compact shapes
// instead so the wire format stays stable if the storage structs move.

type factView struct {
	ID         string   `json:"id"`
	Content    string   `json:"content"`
	Importance int      `json:"importance"`
	Visibility int      `json:"visibility_tier"`
	Source     string   `json:"source"`
	Entity     string   `json:"entity,omitempty"`
	ValidFrom  string   `json:"valid_from,omitempty"`
	ValidTo    string   `json:"valid_to,omitempty"`
	RecordedAt string   `json:"recorded_at"`
	Tags       []string `json:"tags,omitempty"`
	Similarity float64  `json:"similarity,omitempty"`
}

type entityView struct {
	ID           string `json:"id"`
	Name         string `json:"name"`
	Type         string `json:"type"`
	Relationship string `json:"relationship,omitempty"`
	FactCount    int    `json:"fact_count"`
}

type eventView struct {
	ID         string `json:"id"`
	Title      string `json:"title"`
	Start      string `json:"start"`
	AllDay     bool   `json:"all_day"`
	Recurrence string `json:"recurrence"`
}

func toFactView(f *store.Fact) factView {
	return factView{
		ID:         f.ID,
		Content:    f.Content,
		Importance: f.Importance,
		Visibility: f.VisibilityTier,
		Source:     f.Source,
		Entity:     f.EntityName,
		ValidFrom:  f.ValidFrom,
		ValidTo:    f.ValidTo,
		RecordedAt: f.RecordedAt.UTC().Format(time.RFC3339),
	}
}

func toEntityView(e *store.Entity) entityView {
	return entityView{
		ID:           e.ID,
		Name:         e.Name,
		Type:         e.Type,
		Relationship: e.Metadata["relationship_to_user"],
		FactCount:    e.FactCount,
	}
}

// resolveViewer maps an external identity to an internal account ID.
// Retrieval tools never create accounts; only keeper_remember does.
func resolveViewer(ctx context.Context, st *store.Store, externalID string) (string, *mcp.CallToolResult) {
	u, err := st.ResolveUser(ctx, externalID)
	if errors.Is(err, store.ErrUserNotFound) {
		return "", mcp.NewToolResultError(fmt.Sprintf("no account for %q; use keeper_remember first", externalID))
	}
	if err != nil {
		return "", mcp.NewToolResultError(fmt.Sprintf("resolving account: %v", err))
	}
	return u.ID, nil
}

// --- Tools ---

func registerRememberTool(s *server.MCPServer, pipeline *ingest.Pipeline) {
	tool := mcp.NewTool("keeper_remember",
		mcp.WithDescription("Save information from a natural-language message. Extracts atomic facts, resolves mentioned people and places, infers reverse relationships, and adds annual calendar events for detected milestones."),
		mcp.WithReadOnlyHintAnnotation(false),
		mcp.WithDestructiveHintAnnotation(false),
		mcp.WithString("user_id",
			mcp.Required(),
			mcp.Description("External identity of the caller (e.g. 'signal:+15551234'). An account is created on first use."),
		),
		mcp.WithString("message",
			mcp.Required(),
			mcp.Description("The message to remember, e.g. 'My daughter Emma was born on March 15, 2010'"),
		),
		mcp.WithString("source",
			mcp.Description("Channel the message arrived on. Defaults to 'text'."),
			mcp.Enum("voice", "text", "import"),
		),
	)

	s.AddTool(tool, func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		dbMu.Lock()
		defer dbMu.Unlock()

		userID, err := req.RequireString("user_id")
		if err != nil || strings.TrimSpace(userID) == "" {
			return mcp.NewToolResultError("user_id is required"), nil
		}
		message, err := req.RequireString("message")
		if err != nil {
			return mcp.NewToolResultError("message is required"), nil
		}

		source := ""
		if src, err := req.RequireString("source"); err == nil {
			source = src
		}

		res := pipeline.Ingest(ctx, ingest.Request{
			Message: message,
			UserID:  userID,
			Source:  source,
		})
		if !res.Success {
			return mcp.NewToolResultError(res.Response), nil
		}

		entities := make([]string, 0, len(res.EntitiesCreated))
		for _, e := range res.EntitiesCreated {
			entities = append(entities, e.Name)
		}

		payload := map[string]interface{}{
			"response":          res.Response,
			"facts_stored":      res.FactsStored,
			"fact_ids":          res.FactIDs,
			"entities":          entities,
			"extraction_source": res.ExtractionSource,
			"execution_time_ms": res.ExecutionTimeMs,
		}
		data, _ := json.MarshalIndent(payload, "", "  ")
		return mcp.NewToolResultText(string(data)), nil
	})
}

func registerSearchTool(s *server.MCPServer, engine *search.Engine, st *store.Store, hasEmbedder bool) {
	tool := mcp.NewTool("keeper_search",
		mcp.WithDescription("Search the caller's visible facts: their own, facts shared with them, and family facts. Keyword mode matches terms; semantic mode ranks by embedding similarity."),
		mcp.WithReadOnlyHintAnnotation(true),
		mcp.WithDestructiveHintAnnotation(false),
		mcp.WithString("user_id",
			mcp.Required(),
			mcp.Description("External identity of the caller"),
		),
		mcp.WithString("query",
			mcp.Required(),
			mcp.Description("Search text"),
		),
		mcp.WithString("mode",
			mcp.Description("Search mode (default: keyword)"),
			mcp.Enum("keyword", "semantic"),
		),
		mcp.WithNumber("limit",
			mcp.Description("Maximum results (keyword default 20, semantic default 10, max 50)"),
		),
		mcp.WithNumber("min_similarity",
			mcp.Description("Semantic mode only: minimum cosine similarity (default 0.7)"),
		),
		mcp.WithNumber("min_importance",
			mcp.Description("Keyword mode only: minimum importance 1-5"),
		),
		mcp.WithString("as_of",
			mcp.Description("Keyword mode only: YYYY-MM-DD date; returns facts valid on that date"),
		),
		mcp.WithString("tags",
			mcp.Description("Keyword mode only: comma-separated tag filter, e.g. 'domain/family,temporal/deadline'"),
		),
	)

	s.AddTool(tool, func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		dbMu.Lock()
		defer dbMu.Unlock()

		userID, err := req.RequireString("user_id")
		if err != nil {
			return mcp.NewToolResultError("user_id is required"), nil
		}
		query, err := req.RequireString("query")
		if err != nil || strings.TrimSpace(query) == "" {
			return mcp.NewToolResultError("query is required"), nil
		}

		viewerID, errRes := resolveViewer(ctx, st, userID)
		if errRes != nil {
			return errRes, nil
		}

		limit := 0
		if l, err := req.RequireFloat("limit"); err == nil && l > 0 {
			limit = int(l)
			if limit > 50 {
				limit = 50
			}
		}

		mode := "keyword"
		if m, err := req.RequireString("mode"); err == nil && m != "" {
			mode = m
		}

		switch mode {
		case "semantic":
			if !hasEmbedder {
				return mcp.NewToolResultError("semantic search requires an embedding provider; start the server with --embed"), nil
			}
			q := search.SemanticQuery{ViewerID: viewerID, Text: query, Limit: limit}
			if ms, err := req.RequireFloat("min_similarity"); err == nil && ms != 0 {
				q.MinSimilarity = ms
			}
			items, err := engine.Semantic(ctx, q)
			if err != nil {
				return mcp.NewToolResultError(fmt.Sprintf("search error: %v", err)), nil
			}
			views := make([]factView, 0, len(items))
			for _, item := range items {
				v := toFactView(&item.Fact)
				v.Similarity = item.Similarity
				views = append(views, v)
			}
			data, _ := json.MarshalIndent(views, "", "  ")
			return mcp.NewToolResultText(string(data)), nil

		case "keyword":
			families, err := st.FamiliesForUser(ctx, viewerID)
			if err != nil {
				return mcp.NewToolResultError(fmt.Sprintf("search error: %v", err)), nil
			}
			q := store.SearchQuery{
				ViewerID:  viewerID,
				Text:      query,
				FamilyIDs: families,
				Limit:     limit,
			}
			if mi, err := req.RequireFloat("min_importance"); err == nil && mi > 0 {
				q.MinImportance = int(mi)
			}
			if asOf, err := req.RequireString("as_of"); err == nil && asOf != "" {
				q.AsOf = asOf
			}
			if tags, err := req.RequireString("tags"); err == nil && tags != "" {
				for _, tag := range strings.Split(tags, ",") {
					if tag = strings.TrimSpace(tag); tag != "" {
						q.Tags = append(q.Tags, tag)
					}
				}
			}
			facts, err := engine.Keyword(ctx, q)
			if err != nil {
				return mcp.NewToolResultError(fmt.Sprintf("search error: %v", err)), nil
			}
			views := make([]factView, 0, len(facts))
			for _, f := range facts {
				views = append(views, toFactView(f))
			}
			data, _ := json.MarshalIndent(views, "", "  ")
			return mcp.NewToolResultText(string(data)), nil

		default:
			return mcp.NewToolResultError(fmt.Sprintf("invalid mode %q", mode)), nil
		}
	})
}

func registerRecallTool(s *server.MCPServer, st *store.Store) {
	tool := mcp.NewTool("keeper_recall",
		mcp.WithDescription("Fetch a single fact by ID, or every visible fact about a named person, place, or organization."),
		mcp.WithReadOnlyHintAnnotation(true),
		mcp.WithDestructiveHintAnnotation(false),
		mcp.WithString("user_id",
			mcp.Required(),
			mcp.Description("External identity of the caller"),
		),
		mcp.WithString("fact_id",
			mcp.Description("Fact ID to fetch. Mutually exclusive with entity."),
		),
		mcp.WithString("entity",
			mcp.Description("Entity name to fetch facts about, e.g. 'Emma'"),
		),
		mcp.WithNumber("limit",
			mcp.Description("Maximum facts when fetching by entity (default: 20, max: 100)"),
		),
	)

	s.AddTool(tool, func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		dbMu.Lock()
		defer dbMu.Unlock()

		userID, err := req.RequireString("user_id")
		if err != nil {
			return mcp.NewToolResultError("user_id is required"), nil
		}
		viewerID, errRes := resolveViewer(ctx, st, userID)
		if errRes != nil {
			return errRes, nil
		}

		factID := ""
		if id, err := req.RequireString("fact_id"); err == nil {
			factID = id
		}
		entityName := ""
		if name, err := req.RequireString("entity"); err == nil {
			entityName = name
		}

		switch {
		case factID != "":
			f, err := st.GetFact(ctx, factID, viewerID)
			if errors.Is(err, store.ErrNotPermitted) {
				return mcp.NewToolResultError(err.Error()), nil
			}
			if err != nil {
				return mcp.NewToolResultError(fmt.Sprintf("recall error: %v", err)), nil
			}
			v := toFactView(f)
			if tags, err := st.TagsForFact(ctx, f.ID); err == nil {
				v.Tags = tags
			}
			data, _ := json.MarshalIndent(v, "", "  ")
			return mcp.NewToolResultText(string(data)), nil

		case entityName != "":
			limit := 20
			if l, err := req.RequireFloat("limit"); err == nil && l > 0 {
				limit = int(l)
				if limit > 100 {
					limit = 100
				}
			}
			entities, err := st.SearchEntities(ctx, store.EntityQuery{
				ViewerID: viewerID,
				Name:     entityName,
				Limit:    1,
			})
			if err != nil {
				return mcp.NewToolResultError(fmt.Sprintf("recall error: %v", err)), nil
			}
			if len(entities) == 0 {
				return mcp.NewToolResultError(fmt.Sprintf("no entity matching %q", entityName)), nil
			}
			facts, err := st.FactsAboutEntity(ctx, entities[0].ID, viewerID, limit)
			if err != nil {
				return mcp.NewToolResultError(fmt.Sprintf("recall error: %v", err)), nil
			}
			views := make([]factView, 0, len(facts))
			for _, f := range facts {
				views = append(views, toFactView(f))
			}
			payload := map[string]interface{}{
				"entity": toEntityView(entities[0]),
				"facts":  views,
			}
			data, _ := json.MarshalIndent(payload, "", "  ")
			return mcp.NewToolResultText(string(data)), nil

		default:
			return mcp.NewToolResultError("fact_id or entity is required"), nil
		}
	})
}

func registerForgetTool(s *server.MCPServer, st *store.Store) {
	tool := mcp.NewTool("keeper_forget",
		mcp.WithDescription("Permanently delete a fact the caller owns, along with its embedding, tags, and entity links. Only the owner can delete a fact."),
		mcp.WithReadOnlyHintAnnotation(false),
		mcp.WithDestructiveHintAnnotation(true),
		mcp.WithString("user_id",
			mcp.Required(),
			mcp.Description("External identity of the caller"),
		),
		mcp.WithString("fact_id",
			mcp.Required(),
			mcp.Description("ID of the fact to delete"),
		),
	)

	s.AddTool(tool, func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		dbMu.Lock()
		defer dbMu.Unlock()

		userID, err := req.RequireString("user_id")
		if err != nil {
			return mcp.NewToolResultError("user_id is required"), nil
		}
		factID, err := req.RequireString("fact_id")
		if err != nil {
			return mcp.NewToolResultError("fact_id is required"), nil
		}
		viewerID, errRes := resolveViewer(ctx, st, userID)
		if errRes != nil {
			return errRes, nil
		}

		if err := st.DeleteFact(ctx, factID, viewerID); err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("forget error: %v", err)), nil
		}
		return mcp.NewToolResultText(fmt.Sprintf("Deleted fact %s.", factID)), nil
	})
}

func registerEntitiesTool(s *server.MCPServer, st *store.Store) {
	tool := mcp.NewTool("keeper_entities",
		mcp.WithDescription("List people, places, and organizations Keeper has learned about, ordered by how many facts mention them."),
		mcp.WithReadOnlyHintAnnotation(true),
		mcp.WithDestructiveHintAnnotation(false),
		mcp.WithString("user_id",
			mcp.Required(),
			mcp.Description("External identity of the caller"),
		),
		mcp.WithString("name",
			mcp.Description("Filter by name (case-insensitive partial match)"),
		),
		mcp.WithString("type",
			mcp.Description("Filter by entity type"),
			mcp.Enum("person", "organization", "place", "project", "event"),
		),
		mcp.WithString("relationship",
			mcp.Description("Filter by relationship to the user, e.g. 'daughter'"),
		),
		mcp.WithNumber("limit",
			mcp.Description("Maximum entities to return (default: 20, max: 100)"),
		),
	)

	s.AddTool(tool, func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		dbMu.Lock()
		defer dbMu.Unlock()

		userID, err := req.RequireString("user_id")
		if err != nil {
			return mcp.NewToolResultError("user_id is required"), nil
		}
		viewerID, errRes := resolveViewer(ctx, st, userID)
		if errRes != nil {
			return errRes, nil
		}

		q := store.EntityQuery{ViewerID: viewerID}
		if name, err := req.RequireString("name"); err == nil {
			q.Name = name
		}
		if typ, err := req.RequireString("type"); err == nil {
			q.Type = typ
		}
		if rel, err := req.RequireString("relationship"); err == nil {
			q.Relationship = rel
		}
		if l, err := req.RequireFloat("limit"); err == nil && l > 0 {
			q.Limit = int(l)
			if q.Limit > 100 {
				q.Limit = 100
			}
		}

		entities, err := st.SearchEntities(ctx, q)
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("entities error: %v", err)), nil
		}
		views := make([]entityView, 0, len(entities))
		for _, e := range entities {
			views = append(views, toEntityView(e))
		}
		data, _ := json.MarshalIndent(views, "", "  ")
		return mcp.NewToolResultText(string(data)), nil
	})
}

func registerEventsTool(s *server.MCPServer, st *store.Store) {
	tool := mcp.NewTool("keeper_events",
		mcp.WithDescription("List the caller's recurring annual events (birthdays, anniversaries, memorials) derived from remembered milestones."),
		mcp.WithReadOnlyHintAnnotation(true),
		mcp.WithDestructiveHintAnnotation(false),
		mcp.WithString("user_id",
			mcp.Required(),
			mcp.Description("External identity of the caller"),
		),
	)

	s.AddTool(tool, func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		dbMu.Lock()
		defer dbMu.Unlock()

		userID, err := req.RequireString("user_id")
		if err != nil {
			return mcp.NewToolResultError("user_id is required"), nil
		}
		viewerID, errRes := resolveViewer(ctx, st, userID)
		if errRes != nil {
			return errRes, nil
		}

		events, err := st.ListRecurringEvents(ctx, viewerID)
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("events error: %v", err)), nil
		}
		views := make([]eventView, 0, len(events))
		for _, ev := range events {
			views = append(views, eventView{
				ID:         ev.ID,
				Title:      ev.Title,
				Start:      ev.StartTime.UTC().Format(time.RFC3339),
				AllDay:     ev.AllDay,
				Recurrence: ev.RecurrenceRule,
			})
		}
		data, _ := json.MarshalIndent(views, "", "  ")
		return mcp.NewToolResultText(string(data)), nil
	})
}

func registerShareTool(s *server.MCPServer, st *store.Store) {
	tool := mcp.NewTool("keeper_share",
		mcp.WithDescription("Grant another user access to the caller's facts at the given visibility tier and above. Tier 1 shares everything including private facts; tier 4 shares only public facts."),
		mcp.WithReadOnlyHintAnnotation(false),
		mcp.WithDestructiveHintAnnotation(false),
		mcp.WithString("user_id",
			mcp.Required(),
			mcp.Description("External identity of the caller (the fact owner)"),
		),
		mcp.WithString("viewer_id",
			mcp.Required(),
			mcp.Description("External identity of the user being granted access"),
		),
		mcp.WithNumber("tier",
			mcp.Required(),
			mcp.Description("Lowest visibility tier the viewer may see, 1 (everything) to 4 (public only)"),
		),
	)

	s.AddTool(tool, func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		dbMu.Lock()
		defer dbMu.Unlock()

		ownerID, viewerID, errRes := resolvePair(ctx, st, req)
		if errRes != nil {
			return errRes, nil
		}
		tierVal, err := req.RequireFloat("tier")
		if err != nil {
			return mcp.NewToolResultError("tier is required"), nil
		}

		if err := st.UpsertGrant(ctx, viewerID, ownerID, int(tierVal)); err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("share error: %v", err)), nil
		}
		return mcp.NewToolResultText(fmt.Sprintf("Granted tier %d access.", int(tierVal))), nil
	})
}

func registerRevokeTool(s *server.MCPServer, st *store.Store) {
	tool := mcp.NewTool("keeper_revoke",
		mcp.WithDescription("Revoke a previously granted access. The viewer immediately stops seeing the caller's user-owned facts."),
		mcp.WithReadOnlyHintAnnotation(false),
		mcp.WithDestructiveHintAnnotation(false),
		mcp.WithString("user_id",
			mcp.Required(),
			mcp.Description("External identity of the caller (the fact owner)"),
		),
		mcp.WithString("viewer_id",
			mcp.Required(),
			mcp.Description("External identity of the user losing access"),
		),
	)

	s.AddTool(tool, func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		dbMu.Lock()
		defer dbMu.Unlock()

		ownerID, viewerID, errRes := resolvePair(ctx, st, req)
		if errRes != nil {
			return errRes, nil
		}
		if err := st.RevokeGrant(ctx, viewerID, ownerID); err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("revoke error: %v", err)), nil
		}
		return mcp.NewToolResultText("Access revoked."), nil
	})
}

// resolvePair resolves the user_id and viewer_id arguments shared by the
// grant tools.
func resolvePair(ctx context.Context, st *store.Store, req mcp.CallToolRequest) (ownerID, viewerID string, errRes *mcp.CallToolResult) {
	userID, err := req.RequireString("user_id")
	if err != nil {
		return "", "", mcp.NewToolResultError("user_id is required")
	}
	viewer, err := req.RequireString("viewer_id")
	if err != nil {
		return "", "", mcp.NewToolResultError("viewer_id is required")
	}

	ownerID, errRes = resolveViewer(ctx, st, userID)
	if errRes != nil {
		return "", "", errRes
	}
	viewerID, errRes = resolveViewer(ctx, st, viewer)
	if errRes != nil {
		return "", "", errRes
	}
	return ownerID, viewerID, nil
}

func registerFamilyTool(s *server.MCPServer, st *store.Store) {
	tool := mcp.NewTool("keeper_family",
		mcp.WithDescription("Manage family membership. Members of a family see facts owned by that family, and sufficiently open facts owned by other members."),
		mcp.WithReadOnlyHintAnnotation(false),
		mcp.WithDestructiveHintAnnotation(false),
		mcp.WithString("user_id",
			mcp.Required(),
			mcp.Description("External identity of the caller"),
		),
		mcp.WithString("action",
			mcp.Required(),
			mcp.Description("What to do"),
			mcp.Enum("join", "leave", "list"),
		),
		mcp.WithString("family_id",
			mcp.Description("Family identifier. Required for join and leave."),
		),
		mcp.WithString("role",
			mcp.Description("Role within the family for join, e.g. 'parent'. Defaults to 'member'."),
		),
	)

	s.AddTool(tool, func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		dbMu.Lock()
		defer dbMu.Unlock()

		userID, err := req.RequireString("user_id")
		if err != nil {
			return mcp.NewToolResultError("user_id is required"), nil
		}
		action, err := req.RequireString("action")
		if err != nil {
			return mcp.NewToolResultError("action is required"), nil
		}
		viewerID, errRes := resolveViewer(ctx, st, userID)
		if errRes != nil {
			return errRes, nil
		}

		familyID := ""
		if fid, err := req.RequireString("family_id"); err == nil {
			familyID = fid
		}

		switch action {
		case "join":
			role := "member"
			if r, err := req.RequireString("role"); err == nil && r != "" {
				role = r
			}
			if err := st.AddFamilyMember(ctx, familyID, viewerID, role); err != nil {
				return mcp.NewToolResultError(fmt.Sprintf("family error: %v", err)), nil
			}
			return mcp.NewToolResultText(fmt.Sprintf("Joined family %s as %s.", familyID, role)), nil

		case "leave":
			if err := st.RemoveFamilyMember(ctx, familyID, viewerID); err != nil {
				return mcp.NewToolResultError(fmt.Sprintf("family error: %v", err)), nil
			}
			return mcp.NewToolResultText(fmt.Sprintf("Left family %s.", familyID)), nil

		case "list":
			families, err := st.FamiliesForUser(ctx, viewerID)
			if err != nil {
				return mcp.NewToolResultError(fmt.Sprintf("family error: %v", err)), nil
			}
			data, _ := json.MarshalIndent(families, "", "  ")
			return mcp.NewToolResultText(string(data)), nil

		default:
			return mcp.NewToolResultError(fmt.Sprintf("invalid action %q", action)), nil
		}
	})
}

func registerStatsTool(s *server.MCPServer, st *store.Store) {
	tool := mcp.NewTool("keeper_stats",
		mcp.WithDescription("Get store statistics: fact, entity, embedding, event, and user counts, plus database size."),
		mcp.WithReadOnlyHintAnnotation(true),
		mcp.WithDestructiveHintAnnotation(false),
	)

	s.AddTool(tool, func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		dbMu.Lock()
		defer dbMu.Unlock()

		stats, err := st.Stats(ctx)
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("stats error: %v", err)), nil
		}
		data, _ := json.MarshalIndent(statsPayload(stats), "", "  ")
		return mcp.NewToolResultText(string(data)), nil
	})
}

func statsPayload(stats *store.Stats) map[string]interface{} {
	return map[string]interface{}{
		"facts":         stats.FactCount,
		"entities":      stats.EntityCount,
		"embeddings":    stats.EmbeddingCount,
		"events":        stats.EventCount,
		"users":         stats.UserCount,
		"db_size_bytes": stats.DBSizeBytes,
	}
}

// --- Resources ---

func registerStatsResource(s *server.MCPServer, st *store.Store) {
	resource := mcp.NewResource(
		"keeper://stats",
		"Store Statistics",
		mcp.WithResourceDescription("Keeper store statistics including fact, entity, embedding, event, and user counts."),
		mcp.WithMIMEType("application/json"),
	)

	s.AddResource(resource, func(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
		dbMu.Lock()
		defer dbMu.Unlock()

		stats, err := st.Stats(ctx)
		if err != nil {
			return nil, fmt.Errorf("getting stats: %w", err)
		}
		data, _ := json.MarshalIndent(statsPayload(stats), "", "  ")
		return []mcp.ResourceContents{
			mcp.TextResourceContents{
				URI:      req.Params.URI,
				MIMEType: "application/json",
				Text:     string(data),
			},
		}, nil
	})
}
