package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/kalambet/chatembed/internal/config"
	"github.com/kalambet/chatembed/internal/markdown"
	"github.com/kalambet/chatembed/internal/model"
	"github.com/kalambet/chatembed/internal/session"
	"github.com/kalambet/chatembed/internal/storage"
	"github.com/kalambet/chatembed/internal/widget"
)

// --- render ---

var renderCmd = &cobra.Command{
	Use:   "render [text]",
	Short: "Render model markdown to sanitized HTML",
	Long: `Render model markdown to the sanitized HTML the widget displays.

Examples:
  chatembed render "**bold** and [a link](https://example.com)"
  cat reply.md | chatembed render`,
	RunE: func(cmd *cobra.Command, args []string) error {
		text := strings.Join(args, " ")
		if len(args) == 0 {
			data, err := io.ReadAll(cmd.InOrStdin())
			if err != nil {
				return fmt.Errorf("reading stdin: %w", err)
			}
			text = string(data)
		}
		fmt.Fprintln(cmd.OutOrStdout(), markdown.Render(text))
		return nil
	},
}

// --- session ---

var sessionCmd = &cobra.Command{
	Use:   "session",
	Short: "Inspect durable widget sessions",
}

var sessionShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show stored session records (all bots unless --bot-id is given)",
	RunE: func(cmd *cobra.Command, args []string) error {
		botID, _ := cmd.Flags().GetString("bot-id")
		ctx := cmd.Context()

		sessions, closeFn, err := openSessions(ctx)
		if err != nil {
			return err
		}
		defer closeFn()

		ids := []string{botID}
		if botID == "" {
			if ids, err = sessions.BotIDs(ctx); err != nil {
				return fmt.Errorf("listing sessions: %w", err)
			}
			sort.Strings(ids)
		}

		records := make(map[string]*session.Record, len(ids))
		for _, id := range ids {
			if rec := sessions.Load(ctx, id); rec != nil {
				records[id] = rec
			}
		}
		if len(records) == 0 {
			printWarning("no stored sessions")
			return nil
		}
		return writeSessions(cmd.OutOrStdout(), records)
	},
}

var sessionClearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Forget the stored session of a bot",
	RunE: func(cmd *cobra.Command, args []string) error {
		botID, _ := cmd.Flags().GetString("bot-id")
		if botID == "" {
			return fmt.Errorf("--bot-id is required")
		}
		ctx := cmd.Context()

		sessions, closeFn, err := openSessions(ctx)
		if err != nil {
			return err
		}
		defer closeFn()

		sessions.Clear(ctx, botID)
		printSuccess("Cleared session of bot %s", botID)
		return nil
	},
}

func init() {
	sessionShowCmd.Flags().String("bot-id", "", "bot whose session to show")
	sessionClearCmd.Flags().String("bot-id", "", "bot whose session to clear")
	sessionCmd.AddCommand(sessionShowCmd)
	sessionCmd.AddCommand(sessionClearCmd)
}

// openSessions opens the configured client storage driver only.
func openSessions(ctx context.Context) (*session.Store, func() error, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, nil, err
	}
	rt := &runtime{cfg: cfg}

	var store *storage.Store
	if cfg.Storage.Driver == "sqlite" {
		if store, err = storage.Open(cfg.Storage.DataDir); err != nil {
			return nil, nil, fmt.Errorf("opening storage: %w", err)
		}
		rt.closers = append(rt.closers, store.Close)
	}
	kv, err := rt.openKV(ctx, store)
	if err != nil {
		rt.Close()
		return nil, nil, err
	}
	return session.NewStoreWithClock(kv, nil, cfg.Session.Expiry), rt.Close, nil
}

type sessionView struct {
	ConversationID  string          `json:"conversationId,omitempty"`
	DepartmentBotID string          `json:"departmentBotId,omitempty"`
	Lead            *model.Identity `json:"lead,omitempty"`
	Saved           string          `json:"saved"`
}

func writeSessions(w io.Writer, records map[string]*session.Record) error {
	out := make(map[string]sessionView, len(records))
	for id, rec := range records {
		out[id] = sessionView{
			ConversationID:  rec.ConversationID,
			DepartmentBotID: rec.DepartmentBotID,
			Lead:            rec.LeadData,
			Saved:           humanize.Time(rec.SavedAt()),
		}
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(out)
}

// --- catalog ---

var catalogCmd = &cobra.Command{
	Use:   "catalog",
	Short: "Manage the local product catalog",
}

var catalogImportCmd = &cobra.Command{
	Use:   "import <file.xlsx>",
	Short: "Import products from a spreadsheet into the local store",
	Long: `Import products from a spreadsheet into the local store.

The first sheet is read and its first row is a header. Columns: name,
category, price, description, tags (comma separated), in_stock, image_url,
url, currency.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		botID, _ := cmd.Flags().GetString("bot-id")
		if botID == "" {
			return fmt.Errorf("--bot-id is required")
		}

		f, err := os.Open(args[0])
		if err != nil {
			return fmt.Errorf("opening catalog: %w", err)
		}
		defer f.Close()

		store, err := openStore()
		if err != nil {
			return err
		}
		defer store.Close()

		printStep("Importing %s...", args[0])
		n, err := store.ImportProducts(cmd.Context(), botID, f)
		if err != nil {
			return err
		}
		printSuccess("Imported %s products for bot %s", humanize.Comma(int64(n)), botID)
		return nil
	},
}

func init() {
	catalogImportCmd.Flags().String("bot-id", "", "bot that owns the products")
	catalogCmd.AddCommand(catalogImportCmd)
}

// --- bots ---

var botsCmd = &cobra.Command{
	Use:   "bots",
	Short: "Manage local bots and integrations",
}

// seedFile is the document read by bots import.
type seedFile struct {
	Bots         []model.BotConfig         `yaml:"bots"`
	Integrations []model.IntegrationConfig `yaml:"integrations"`
}

var botsImportCmd = &cobra.Command{
	Use:   "import <bots.yaml>",
	Short: "Seed bots, their actions and integrations into the local store",
	Long: `Seed bots, their actions and integrations into the local store.

Example document:
  bots:
    - id: support
      name: Support
      actions:
        - id: call
          type: phone
          label: Call us
          payload: "+1 555 123 4567"
  integrations:
    - id: site
      botId: support
      welcomeMessage: Hi! How can we help?`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		f, err := os.Open(args[0])
		if err != nil {
			return fmt.Errorf("opening seed file: %w", err)
		}
		defer f.Close()

		seed, err := loadSeed(f)
		if err != nil {
			return err
		}

		store, err := openStore()
		if err != nil {
			return err
		}
		defer store.Close()

		if err := applySeed(cmd.Context(), store, seed); err != nil {
			return err
		}
		printSuccess("Imported %d bots and %d integrations", len(seed.Bots), len(seed.Integrations))
		return nil
	},
}

func init() {
	botsCmd.AddCommand(botsImportCmd)
}

func loadSeed(r io.Reader) (seedFile, error) {
	var seed seedFile
	if err := yaml.NewDecoder(r).Decode(&seed); err != nil {
		if errors.Is(err, io.EOF) {
			return seed, fmt.Errorf("seed file is empty")
		}
		return seed, fmt.Errorf("decoding seed file: %w", err)
	}
	for i, b := range seed.Bots {
		if b.ID == "" {
			return seed, fmt.Errorf("bot %d has no id", i+1)
		}
	}
	for i, in := range seed.Integrations {
		if in.ID == "" || in.BotID == "" {
			return seed, fmt.Errorf("integration %d needs id and botId", i+1)
		}
	}
	return seed, nil
}

type seedStore interface {
	SaveBot(ctx context.Context, b model.BotConfig) error
	SaveIntegration(ctx context.Context, in model.IntegrationConfig) error
}

func applySeed(ctx context.Context, store seedStore, seed seedFile) error {
	for _, b := range seed.Bots {
		if err := store.SaveBot(ctx, b); err != nil {
			return fmt.Errorf("saving bot %s: %w", b.ID, err)
		}
	}
	for _, in := range seed.Integrations {
		if err := store.SaveIntegration(ctx, in); err != nil {
			return fmt.Errorf("saving integration %s: %w", in.ID, err)
		}
	}
	return nil
}

// --- widgets ---

var widgetsCmd = &cobra.Command{
	Use:   "widgets",
	Short: "Manage widgets on a running widget host",
}

var widgetsCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "Create a widget from an embed and print its id",
	RunE: func(cmd *cobra.Command, args []string) error {
		embed, err := embedFromFlags(cmd)
		if err != nil {
			return err
		}
		cfg, err := config.Load()
		if err != nil {
			return err
		}

		resp, err := newAPIClient(cfg).post(cmd.Context(), "/widgets", embed)
		if err != nil {
			return err
		}
		var created struct {
			ID      string         `json:"id"`
			Session widget.Session `json:"session"`
		}
		if err := decodeJSON(resp, &created); err != nil {
			return err
		}
		printSuccess("Created widget %s (%s, phase %s)", created.ID, created.Session.Bot().Name, created.Session.Phase)
		fmt.Fprintln(cmd.OutOrStdout(), created.ID)
		return nil
	},
}

func init() {
	widgetsCreateCmd.Flags().String("bot-id", "", "bot to talk to")
	widgetsCreateCmd.Flags().String("integration-id", "", "integration to load")
	widgetsCreateCmd.Flags().String("embed", "", "embed document (YAML or JSON)")
	widgetsCmd.AddCommand(widgetsCreateCmd)
}

// --- config ---

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Show or update configuration",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show current configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}

		keys := config.ShowAll(cfg)
		for _, k := range keys {
			fmt.Fprintf(cmd.OutOrStdout(), "  %s = %s\n", colorize(colorBold, k.Key), k.Value)
		}
		return nil
	},
}

var configSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Set a configuration value",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		key, value := args[0], args[1]

		if err := config.SetKey(key, value); err != nil {
			return err
		}

		if key == "api.anon_key" {
			printSuccess("Stored %s in the keychain", key)
			return nil
		}
		printSuccess("Set %s = %s", key, value)
		return nil
	},
}

func init() {
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configSetCmd)
}
