package cmd

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/behzadon/rulebook/internal/config"
	"github.com/behzadon/rulebook/internal/domain"
	"github.com/behzadon/rulebook/internal/notification"
	"github.com/behzadon/rulebook/internal/storage/cache"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

// rulebookFile is the YAML layout read by "rules import" and written by
// "rules export".
type rulebookFile struct {
	Rules []rulebookEntry `yaml:"rules"`
}

type rulebookEntry struct {
	Number int    `yaml:"number"`
	Text   string `yaml:"text"`
}

var (
	rulesCmd = &cobra.Command{
		Use:   "rules",
		Short: "Inspect and seed the rulebook",
	}

	rulesListCmd = &cobra.Command{
		Use:   "list",
		Short: "Print the rulebook as the chat would show it",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRuleStore(cmd.Context(), func(ctx context.Context, store domain.Store) error {
				rules, err := store.ListRules(ctx)
				if err != nil {
					return fmt.Errorf("list rules: %w", err)
				}
				fmt.Fprintln(cmd.OutOrStdout(), notification.RenderRulebook(rules))
				return nil
			})
		},
	}

	rulesImportCmd = &cobra.Command{
		Use:   "import [file.yaml]",
		Short: "Upsert every rule listed in a YAML file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := os.Open(args[0])
			if err != nil {
				return fmt.Errorf("open rulebook file: %w", err)
			}
			defer f.Close()

			entries, err := decodeRulebook(f)
			if err != nil {
				return err
			}

			return withRuleStore(cmd.Context(), func(ctx context.Context, store domain.Store) error {
				for _, entry := range entries {
					if _, err := store.UpsertRule(ctx, entry.Number, entry.Text); err != nil {
						return fmt.Errorf("upsert rule %d: %w", entry.Number, err)
					}
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Imported %d rules\n", len(entries))
				return nil
			})
		},
	}

	rulesExportCmd = &cobra.Command{
		Use:   "export",
		Short: "Write the rulebook as YAML to stdout",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRuleStore(cmd.Context(), func(ctx context.Context, store domain.Store) error {
				rules, err := store.ListRules(ctx)
				if err != nil {
					return fmt.Errorf("list rules: %w", err)
				}
				return encodeRulebook(cmd.OutOrStdout(), rules)
			})
		},
	}
)

func init() {
	rootCmd.AddCommand(rulesCmd)
	rulesCmd.AddCommand(rulesListCmd, rulesImportCmd, rulesExportCmd)
}

// decodeRulebook validates every entry before anything is written.
func decodeRulebook(r io.Reader) ([]rulebookEntry, error) {
	var file rulebookFile
	if err := yaml.NewDecoder(r).Decode(&file); err != nil {
		return nil, fmt.Errorf("decode rulebook file: %w", err)
	}

	seen := make(map[int]bool, len(file.Rules))
	for _, entry := range file.Rules {
		if err := domain.ValidRuleNumber(entry.Number); err != nil {
			return nil, fmt.Errorf("rule %d: %w", entry.Number, err)
		}
		if seen[entry.Number] {
			return nil, fmt.Errorf("rule %d listed twice", entry.Number)
		}
		seen[entry.Number] = true
		if entry.Text == "" {
			return nil, fmt.Errorf("rule %d: %w", entry.Number, domain.ErrEmptyContent)
		}
	}
	return file.Rules, nil
}

func encodeRulebook(w io.Writer, rules []domain.Rule) error {
	file := rulebookFile{Rules: make([]rulebookEntry, 0, len(rules))}
	for _, rule := range rules {
		file.Rules = append(file.Rules, rulebookEntry{Number: rule.Number, Text: rule.Text})
	}

	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(file); err != nil {
		return fmt.Errorf("encode rulebook: %w", err)
	}
	return enc.Close()
}

// withRuleStore opens the configured store, routed through the redis
// rulebook cache when enabled so writes invalidate it.
func withRuleStore(ctx context.Context, fn func(context.Context, domain.Store) error) error {
	cfg := GetConfig()
	if ctx == nil {
		ctx = context.Background()
	}
	if cfg.Storage.Driver == config.StorageDriverMemory {
		return fmt.Errorf("the memory driver keeps no rules between runs")
	}

	logger, err := newZapLogger(cfg)
	if err != nil {
		return fmt.Errorf("create logger: %w", err)
	}
	defer syncLogger(logger)

	store, err := openStore(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := store.Close(); err != nil {
			logger.Error("Failed to close store", zap.Error(err))
		}
	}()

	if cfg.Redis.Enabled && cfg.Storage.CacheTTL > 0 {
		client, err := connectRedis(ctx, cfg.Redis)
		if err != nil {
			return fmt.Errorf("connect to redis: %w", err)
		}
		defer client.Close()
		store = cache.NewRuleStore(store, client, cfg.Storage.CacheTTL, logger)
	}

	return fn(ctx, store)
}
