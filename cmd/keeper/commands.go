package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/keeperhq/keeper/internal/config"
	"github.com/keeperhq/keeper/internal/ingest"
	"github.com/keeperhq/keeper/internal/search"
	"github.com/keeperhq/keeper/internal/store"
)

func runRemember(args []string) error {
	common, rest, err := parseCommonFlags(args)
	if err != nil {
		return err
	}
	if len(rest) < 2 {
		return fmt.Errorf("usage: keeper remember <user> <message> [--source voice|text|import]")
	}
	user := rest[0]
	message := strings.Join(rest[1:], " ")

	deps, err := openDeps(common)
	if err != nil {
		return err
	}
	defer deps.Close()

	pipeline := ingest.NewPipeline(deps.Store, deps.Oracle, deps.Embedder, deps.Logger)
	res := pipeline.Ingest(context.Background(), ingest.Request{
		Message: message,
		UserID:  user,
		Source:  common.Source,
	})

	if common.JSON {
		return printJSON(map[string]interface{}{
			"success":           res.Success,
			"response":          res.Response,
			"facts_stored":      res.FactsStored,
			"fact_ids":          res.FactIDs,
			"extraction_source": res.ExtractionSource,
			"execution_time_ms": res.ExecutionTimeMs,
		})
	}
	fmt.Println(res.Response)
	if !res.Success {
		return fmt.Errorf("nothing was saved")
	}
	return nil
}

func runSearch(args []string) error {
	common, rest, err := parseCommonFlags(args)
	if err != nil {
		return err
	}
	if len(rest) < 2 {
		return fmt.Errorf("usage: keeper search <user> <query> [--semantic] [--limit N] [--min-importance N] [--as-of YYYY-MM-DD] [--tags a,b]")
	}
	user := rest[0]
	query := strings.Join(rest[1:], " ")

	deps, err := openDeps(common)
	if err != nil {
		return err
	}
	defer deps.Close()

	ctx := context.Background()
	engine := search.NewEngine(deps.Store, deps.Embedder)

	viewerID, found, err := engine.ResolveViewer(ctx, user)
	if err != nil {
		return err
	}
	if !found {
		return fmt.Errorf("no account for %q", user)
	}

	if common.Semantic {
		if deps.Embedder == nil {
			return fmt.Errorf("semantic search requires --embed")
		}
		items, err := engine.Semantic(ctx, search.SemanticQuery{
			ViewerID:      viewerID,
			Text:          query,
			Limit:         common.Limit,
			MinSimilarity: common.MinSimilarity,
		})
		if err != nil {
			return err
		}
		if common.JSON {
			return printJSON(items)
		}
		if len(items) == 0 {
			fmt.Println("No matching facts.")
			return nil
		}
		for _, item := range items {
			fmt.Printf("%.3f  %s  %s\n", item.Similarity, item.Fact.ID, item.Fact.Content)
		}
		return nil
	}

	families, err := deps.Store.FamiliesForUser(ctx, viewerID)
	if err != nil {
		return err
	}
	facts, err := engine.Keyword(ctx, store.SearchQuery{
		ViewerID:      viewerID,
		Text:          query,
		FamilyIDs:     families,
		Tags:          common.Tags,
		MinImportance: common.MinImportance,
		AsOf:          common.AsOf,
		Limit:         common.Limit,
	})
	if err != nil {
		return err
	}
	if common.JSON {
		return printJSON(facts)
	}
	if len(facts) == 0 {
		fmt.Println("No matching facts.")
		return nil
	}
	for _, f := range facts {
		printFact(f)
	}
	return nil
}

func runRecall(args []string) error {
	common, rest, err := parseCommonFlags(args)
	if err != nil {
		return err
	}
	if len(rest) != 2 {
		return fmt.Errorf("usage: keeper recall <user> <fact-id|entity-name>")
	}
	user, target := rest[0], rest[1]

	deps, err := openDeps(common)
	if err != nil {
		return err
	}
	defer deps.Close()

	ctx := context.Background()
	viewer, err := deps.Store.ResolveUser(ctx, user)
	if err != nil {
		return err
	}

	// Try the target as a fact ID first, then as an entity name.
	f, err := deps.Store.GetFact(ctx, target, viewer.ID)
	if err == nil {
		if common.JSON {
			return printJSON(f)
		}
		printFact(f)
		if tags, err := deps.Store.TagsForFact(ctx, f.ID); err == nil && len(tags) > 0 {
			fmt.Printf("         tags: %s\n", strings.Join(tags, ", "))
		}
		return nil
	}
	if !errors.Is(err, store.ErrNotPermitted) {
		return err
	}

	entities, err := deps.Store.SearchEntities(ctx, store.EntityQuery{
		ViewerID: viewer.ID,
		Name:     target,
		Limit:    1,
	})
	if err != nil {
		return err
	}
	if len(entities) == 0 {
		return fmt.Errorf("nothing matching %q", target)
	}

	limit := common.Limit
	if limit <= 0 {
		limit = 20
	}
	facts, err := deps.Store.FactsAboutEntity(ctx, entities[0].ID, viewer.ID, limit)
	if err != nil {
		return err
	}
	if common.JSON {
		return printJSON(map[string]interface{}{"entity": entities[0], "facts": facts})
	}
	rel := entities[0].Metadata["relationship_to_user"]
	if rel != "" {
		fmt.Printf("%s (%s, %s)\n", entities[0].Name, entities[0].Type, rel)
	} else {
		fmt.Printf("%s (%s)\n", entities[0].Name, entities[0].Type)
	}
	for _, f := range facts {
		printFact(f)
	}
	return nil
}

func runForget(args []string) error {
	common, rest, err := parseCommonFlags(args)
	if err != nil {
		return err
	}
	if len(rest) != 2 {
		return fmt.Errorf("usage: keeper forget <user> <fact-id>")
	}

	deps, err := openDeps(common)
	if err != nil {
		return err
	}
	defer deps.Close()

	ctx := context.Background()
	viewer, err := deps.Store.ResolveUser(ctx, rest[0])
	if err != nil {
		return err
	}
	if err := deps.Store.DeleteFact(ctx, rest[1], viewer.ID); err != nil {
		return err
	}
	fmt.Printf("Deleted fact %s.\n", rest[1])
	return nil
}

func runEntities(args []string) error {
	common, rest, err := parseCommonFlags(args)
	if err != nil {
		return err
	}
	if len(rest) < 1 {
		return fmt.Errorf("usage: keeper entities <user> [name] [--limit N]")
	}

	deps, err := openDeps(common)
	if err != nil {
		return err
	}
	defer deps.Close()

	ctx := context.Background()
	viewer, err := deps.Store.ResolveUser(ctx, rest[0])
	if err != nil {
		return err
	}

	q := store.EntityQuery{ViewerID: viewer.ID, Limit: common.Limit}
	if len(rest) > 1 {
		q.Name = strings.Join(rest[1:], " ")
	}
	entities, err := deps.Store.SearchEntities(ctx, q)
	if err != nil {
		return err
	}
	if common.JSON {
		return printJSON(entities)
	}
	if len(entities) == 0 {
		fmt.Println("No entities yet.")
		return nil
	}
	for _, e := range entities {
		rel := e.Metadata["relationship_to_user"]
		if rel != "" {
			fmt.Printf("%-20s %-12s %-14s %d facts\n", e.Name, e.Type, rel, e.FactCount)
		} else {
			fmt.Printf("%-20s %-12s %-14s %d facts\n", e.Name, e.Type, "-", e.FactCount)
		}
	}
	return nil
}

func runEvents(args []string) error {
	common, rest, err := parseCommonFlags(args)
	if err != nil {
		return err
	}
	if len(rest) != 1 {
		return fmt.Errorf("usage: keeper events <user>")
	}

	deps, err := openDeps(common)
	if err != nil {
		return err
	}
	defer deps.Close()

	ctx := context.Background()
	viewer, err := deps.Store.ResolveUser(ctx, rest[0])
	if err != nil {
		return err
	}
	events, err := deps.Store.ListRecurringEvents(ctx, viewer.ID)
	if err != nil {
		return err
	}
	if common.JSON {
		return printJSON(events)
	}
	if len(events) == 0 {
		fmt.Println("No recurring events yet.")
		return nil
	}
	for _, ev := range events {
		fmt.Printf("%s  %s  (%s)\n", ev.StartTime.Format("Jan 2"), ev.Title, ev.RecurrenceRule)
	}
	return nil
}

func runShare(args []string) error {
	common, rest, err := parseCommonFlags(args)
	if err != nil {
		return err
	}
	if len(rest) != 3 {
		return fmt.Errorf("usage: keeper share <owner> <viewer> <tier 1-4>")
	}
	var tier int
	if _, err := fmt.Sscanf(rest[2], "%d", &tier); err != nil {
		return fmt.Errorf("invalid tier: %q", rest[2])
	}

	deps, err := openDeps(common)
	if err != nil {
		return err
	}
	defer deps.Close()

	ctx := context.Background()
	owner, err := deps.Store.ResolveUser(ctx, rest[0])
	if err != nil {
		return err
	}
	viewer, err := deps.Store.ResolveUser(ctx, rest[1])
	if err != nil {
		return err
	}
	if err := deps.Store.UpsertGrant(ctx, viewer.ID, owner.ID, tier); err != nil {
		return err
	}
	fmt.Printf("Granted %s tier %d access to %s's facts.\n", rest[1], tier, rest[0])
	return nil
}

func runRevoke(args []string) error {
	common, rest, err := parseCommonFlags(args)
	if err != nil {
		return err
	}
	if len(rest) != 2 {
		return fmt.Errorf("usage: keeper revoke <owner> <viewer>")
	}

	deps, err := openDeps(common)
	if err != nil {
		return err
	}
	defer deps.Close()

	ctx := context.Background()
	owner, err := deps.Store.ResolveUser(ctx, rest[0])
	if err != nil {
		return err
	}
	viewer, err := deps.Store.ResolveUser(ctx, rest[1])
	if err != nil {
		return err
	}
	if err := deps.Store.RevokeGrant(ctx, viewer.ID, owner.ID); err != nil {
		return err
	}
	fmt.Println("Access revoked.")
	return nil
}

func runFamily(args []string) error {
	common, rest, err := parseCommonFlags(args)
	if err != nil {
		return err
	}
	if len(rest) < 2 {
		return fmt.Errorf("usage: keeper family <user> join|leave|list [family-id] [--role R]")
	}

	deps, err := openDeps(common)
	if err != nil {
		return err
	}
	defer deps.Close()

	ctx := context.Background()
	viewer, err := deps.Store.ResolveUser(ctx, rest[0])
	if err != nil {
		return err
	}

	switch rest[1] {
	case "join":
		if len(rest) != 3 {
			return fmt.Errorf("usage: keeper family <user> join <family-id> [--role R]")
		}
		role := common.Role
		if role == "" {
			role = "member"
		}
		if err := deps.Store.AddFamilyMember(ctx, rest[2], viewer.ID, role); err != nil {
			return err
		}
		fmt.Printf("Joined family %s as %s.\n", rest[2], role)
	case "leave":
		if len(rest) != 3 {
			return fmt.Errorf("usage: keeper family <user> leave <family-id>")
		}
		if err := deps.Store.RemoveFamilyMember(ctx, rest[2], viewer.ID); err != nil {
			return err
		}
		fmt.Printf("Left family %s.\n", rest[2])
	case "list":
		families, err := deps.Store.FamiliesForUser(ctx, viewer.ID)
		if err != nil {
			return err
		}
		if common.JSON {
			return printJSON(families)
		}
		if len(families) == 0 {
			fmt.Println("Not a member of any family.")
			return nil
		}
		for _, f := range families {
			fmt.Println(f)
		}
	default:
		return fmt.Errorf("unknown family action: %s", rest[1])
	}
	return nil
}

func runStats(args []string) error {
	common, rest, err := parseCommonFlags(args)
	if err != nil {
		return err
	}
	if len(rest) != 0 {
		return fmt.Errorf("unexpected argument: %s", rest[0])
	}

	deps, err := openDeps(common)
	if err != nil {
		return err
	}
	defer deps.Close()

	stats, err := deps.Store.Stats(context.Background())
	if err != nil {
		return err
	}
	if common.JSON {
		return printJSON(map[string]interface{}{
			"facts":         stats.FactCount,
			"entities":      stats.EntityCount,
			"embeddings":    stats.EmbeddingCount,
			"events":        stats.EventCount,
			"users":         stats.UserCount,
			"db_size_bytes": stats.DBSizeBytes,
		})
	}
	fmt.Printf("Facts:      %d\n", stats.FactCount)
	fmt.Printf("Entities:   %d\n", stats.EntityCount)
	fmt.Printf("Embeddings: %d\n", stats.EmbeddingCount)
	fmt.Printf("Events:     %d\n", stats.EventCount)
	fmt.Printf("Users:      %d\n", stats.UserCount)
	fmt.Printf("DB size:    %d bytes\n", stats.DBSizeBytes)
	return nil
}

func runConfig(args []string) error {
	common, rest, err := parseCommonFlags(args)
	if err != nil {
		return err
	}
	if len(rest) != 0 {
		return fmt.Errorf("unexpected argument: %s", rest[0])
	}

	resolved, err := config.ResolveConfig(config.ResolveOptions{
		ConfigPath: common.ConfigPath,
		CLIOracle:  common.Oracle,
		CLIEmbed:   common.Embed,
		CLIDBPath:  common.DBPath,
	})
	if err != nil {
		return err
	}
	return printJSON(resolved)
}

func printFact(f *store.Fact) {
	window := ""
	if f.ValidFrom != "" || f.ValidTo != "" {
		window = fmt.Sprintf(" [%s..%s]", f.ValidFrom, f.ValidTo)
	}
	fmt.Printf("[i%d t%d] %s  %s%s\n", f.Importance, f.VisibilityTier, f.ID, f.Content, window)
}

func printJSON(v interface{}) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(data))
	return nil
}
