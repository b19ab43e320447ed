package main

import (
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/keeperhq/keeper/internal/config"
	"github.com/keeperhq/keeper/internal/embed"
	"github.com/keeperhq/keeper/internal/extract"
	"github.com/keeperhq/keeper/internal/ingest"
	"github.com/keeperhq/keeper/internal/store"
)

// commonFlags are the flags every command accepts.
type commonFlags struct {
	ConfigPath string
	DBPath     string
	Oracle     string
	Embed      string
	Source     string
	Semantic   bool
	Limit      int
	JSON       bool
	Verbose    bool

	// search refinements
	MinSimilarity float64
	MinImportance int
	AsOf          string
	Tags          []string

	// family membership
	Role string
}

// parseCommonFlags strips the shared flags out of args and returns the
// remaining positional arguments in order.
func parseCommonFlags(args []string) (commonFlags, []string, error) {
	var flags commonFlags
	var rest []string

	takeValue := func(i *int, name string) (string, error) {
		if *i+1 >= len(args) {
			return "", fmt.Errorf("%s requires a value", name)
		}
		*i++
		return args[*i], nil
	}

	for i := 0; i < len(args); i++ {
		var err error
		switch {
		case args[i] == "--config":
			flags.ConfigPath, err = takeValue(&i, "--config")
		case args[i] == "--db":
			flags.DBPath, err = takeValue(&i, "--db")
		case args[i] == "--oracle":
			flags.Oracle, err = takeValue(&i, "--oracle")
		case args[i] == "--embed":
			flags.Embed, err = takeValue(&i, "--embed")
		case args[i] == "--source":
			flags.Source, err = takeValue(&i, "--source")
		case args[i] == "--limit":
			var v string
			if v, err = takeValue(&i, "--limit"); err == nil {
				if _, serr := fmt.Sscanf(v, "%d", &flags.Limit); serr != nil {
					err = fmt.Errorf("invalid --limit value: %q", v)
				}
			}
		case args[i] == "--min-similarity":
			var v string
			if v, err = takeValue(&i, "--min-similarity"); err == nil {
				if _, serr := fmt.Sscanf(v, "%g", &flags.MinSimilarity); serr != nil {
					err = fmt.Errorf("invalid --min-similarity value: %q", v)
				}
			}
		case args[i] == "--min-importance":
			var v string
			if v, err = takeValue(&i, "--min-importance"); err == nil {
				if _, serr := fmt.Sscanf(v, "%d", &flags.MinImportance); serr != nil {
					err = fmt.Errorf("invalid --min-importance value: %q", v)
				}
			}
		case args[i] == "--as-of":
			flags.AsOf, err = takeValue(&i, "--as-of")
		case args[i] == "--tags":
			var v string
			if v, err = takeValue(&i, "--tags"); err == nil {
				for _, tag := range strings.Split(v, ",") {
					if tag = strings.TrimSpace(tag); tag != "" {
						flags.Tags = append(flags.Tags, tag)
					}
				}
			}
		case args[i] == "--role":
			flags.Role, err = takeValue(&i, "--role")
		case args[i] == "--semantic":
			flags.Semantic = true
		case args[i] == "--json":
			flags.JSON = true
		case args[i] == "--verbose":
			flags.Verbose = true
		case strings.HasPrefix(args[i], "--"):
			return flags, nil, fmt.Errorf("unknown flag: %s", args[i])
		default:
			rest = append(rest, args[i])
		}
		if err != nil {
			return flags, nil, err
		}
	}
	return flags, rest, nil
}

// deps bundles everything a command needs.
type deps struct {
	Store    *store.Store
	Oracle   ingest.Oracle
	Embedder embed.Embedder
	Logger   *zap.Logger
}

func (d *deps) Close() {
	if d.Logger != nil {
		_ = d.Logger.Sync()
	}
	if d.Store != nil {
		_ = d.Store.Close()
	}
}

// openDeps resolves configuration and constructs the store, oracle, and
// embedder. Oracle and embedder stay nil when not configured; the pipeline
// and search engine degrade gracefully without them.
func openDeps(flags commonFlags) (*deps, error) {
	resolved, err := config.ResolveConfig(config.ResolveOptions{
		ConfigPath: flags.ConfigPath,
		CLIOracle:  flags.Oracle,
		CLIEmbed:   flags.Embed,
		CLIDBPath:  flags.DBPath,
	})
	if err != nil {
		return nil, err
	}

	d := &deps{Logger: zap.NewNop()}
	if flags.Verbose {
		logger, err := zap.NewDevelopment()
		if err != nil {
			return nil, fmt.Errorf("building logger: %w", err)
		}
		d.Logger = logger
	}

	st, err := store.Open(store.Config{DBPath: resolved.DBPath.Value})
	if err != nil {
		return nil, fmt.Errorf("opening store: %w", err)
	}
	d.Store = st

	if spec := resolved.OracleProvider.Value; spec != "" {
		cfg, err := extract.ParseOracleFlag(spec)
		if err != nil {
			d.Close()
			return nil, err
		}
		if ep := resolved.OracleEndpoint.Value; ep != "" {
			cfg.Endpoint = ep
		}
		if key := resolved.OracleAPIKey.Value; key != "" {
			cfg.APIKey = key
		}
		oracle, err := extract.NewOracle(cfg)
		if err != nil {
			d.Close()
			return nil, fmt.Errorf("configuring oracle: %w", err)
		}
		d.Oracle = oracle
	}

	if spec := resolved.EmbedProvider.Value; spec != "" {
		cfg, err := embed.ParseFlag(spec)
		if err != nil {
			d.Close()
			return nil, err
		}
		if ep := resolved.EmbedEndpoint.Value; ep != "" {
			cfg.Endpoint = ep
		}
		if key := resolved.EmbedAPIKey.Value; key != "" {
			cfg.APIKey = key
		}
		client, err := embed.NewClient(cfg)
		if err != nil {
			d.Close()
			return nil, fmt.Errorf("configuring embedder: %w", err)
		}
		d.Embedder = client
	}

	return d, nil
}
