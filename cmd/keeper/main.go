package main

import (
	"fmt"
	"os"

	"github.com/mark3labs/mcp-go/server"

	"github.com/keeperhq/keeper/internal/mcp"
)

const version = "0.1.0-dev"

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(0)
	}

	switch os.Args[1] {
	case "remember":
		if err := runRemember(os.Args[2:]); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
	case "search":
		if err := runSearch(os.Args[2:]); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
	case "recall":
		if err := runRecall(os.Args[2:]); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
	case "forget":
		if err := runForget(os.Args[2:]); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
	case "entities":
		if err := runEntities(os.Args[2:]); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
	case "events":
		if err := runEvents(os.Args[2:]); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
	case "share":
		if err := runShare(os.Args[2:]); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
	case "revoke":
		if err := runRevoke(os.Args[2:]); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
	case "family":
		if err := runFamily(os.Args[2:]); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
	case "serve":
		if err := runServe(os.Args[2:]); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
	case "stats":
		if err := runStats(os.Args[2:]); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
	case "config":
		if err := runConfig(os.Args[2:]); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
	case "version", "--version", "-v":
		fmt.Printf("keeper %s\n", version)
	case "help", "--help", "-h":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}
}

func runServe(args []string) error {
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

	srv := mcp.NewServer(mcp.ServerConfig{
		Store:    deps.Store,
		Version:  version,
		Oracle:   deps.Oracle,
		Embedder: deps.Embedder,
		Logger:   deps.Logger,
	})
	return server.ServeStdio(srv)
}

func printUsage() {
	fmt.Printf(`keeper %s — Personal memory layer with permission-aware recall

Usage:
  keeper <command> [arguments]

Commands:
  remember <user> <message>      Save facts from a natural-language message
  search <user> <query>          Search facts visible to the user
  recall <user> <fact-id|name>   Fetch one fact, or facts about a person
  forget <user> <fact-id>        Delete an owned fact
  entities <user>                List known people, places, organizations
  events <user>                  List recurring annual events
  share <owner> <viewer> <tier>  Grant access at a visibility tier (1-4)
  revoke <owner> <viewer>        Revoke a previously granted access
  family <user> <action>         Manage family membership (join|leave|list)
  serve                          Run the MCP server on stdio
  stats                          Show store statistics
  config                         Show resolved configuration and sources
  version                        Print version

Common Flags:
  --db <path>                    Database path (default ~/.keeper/keeper.db)
  --config <path>                Config file (default ~/.keeper/config.yaml)
  --oracle <provider/model>      LLM extraction oracle, e.g. ollama/llama3.2
  --embed <provider/model>       Embedding provider, e.g. ollama/nomic-embed-text
  --source <channel>             remember: voice|text|import (default text)
  --semantic                     search: rank by embedding similarity
  --limit <n>                    search/recall/entities: maximum results
  --json                         Print raw JSON instead of text
  --verbose                      Log pipeline internals to stderr

Environment:
  KEEPER_DB, KEEPER_ORACLE, KEEPER_ORACLE_ENDPOINT, KEEPER_ORACLE_API_KEY,
  KEEPER_EMBED, KEEPER_EMBED_ENDPOINT, KEEPER_EMBED_API_KEY
`, version)
}
