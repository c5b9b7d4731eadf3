package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"os/signal"
	"sort"
	"strings"
	"syscall"
	"time"

	"feedwatcher/internal/app"
	"feedwatcher/internal/config"
	"feedwatcher/internal/encryption"

	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"golang.org/x/term"
)

func main() {
	// A missing .env is fine.
	_ = godotenv.Load()

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// newApp reads the config and creates an App. The caller must defer a.Close().
// component identifies the CLI command being run (e.g. "Run", "ScanFeed").
func newApp(ctx context.Context, component string) (*app.App, error) {
	defaults, err := app.GetDefaults()
	if err != nil {
		return nil, fmt.Errorf("getting defaults: %w", err)
	}

	cfg, err := config.ReadFromFile(defaults.ConfigPath)
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}

	a, err := app.New(ctx, cfg, component)
	if err != nil {
		return nil, fmt.Errorf("initializing app: %w", err)
	}
	return a, nil
}

func readConfig() (*config.Config, string, error) {
	defaults, err := app.GetDefaults()
	if err != nil {
		return nil, "", fmt.Errorf("getting defaults: %w", err)
	}
	cfg, err := config.ReadFromFile(defaults.ConfigPath)
	if err != nil {
		return nil, "", fmt.Errorf("reading config: %w", err)
	}
	return cfg, defaults.ConfigPath, nil
}

func formatTime(t *time.Time) string {
	if t == nil {
		return "never"
	}
	return t.Local().Format("2006-01-02 15:04:05")
}

var rootCmd = &cobra.Command{
	Use:          "feedwatcher",
	Short:        "Poll feeds, store new posts and archive them as documents",
	SilenceUsage: true,
}

// config command
var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage configuration",
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		defaults, err := app.GetDefaults()
		if err != nil {
			return fmt.Errorf("failed to get defaults: %w", err)
		}

		instanceID := uuid.New().String()
		cfg := config.NewConfig(instanceID, defaults.BaseDir)

		if err := config.Init(defaults.ConfigPath, cfg); err != nil {
			return fmt.Errorf("failed to initialize config: %w", err)
		}

		fmt.Printf("Configuration initialized at %s\n", defaults.ConfigPath)
		fmt.Printf("Instance ID: %s\n", instanceID)
		fmt.Printf("Base Dir:    %s\n", defaults.BaseDir)
		return nil
	},
}

var configListCmd = &cobra.Command{
	Use:   "list",
	Short: "View configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, path, err := readConfig()
		if err != nil {
			return err
		}

		fmt.Printf("Configuration from %s:\n\n", path)
		fmt.Printf("Instance ID: %s\n", cfg.InstanceID)
		fmt.Printf("Base Dir:    %s\n", cfg.BaseDir)
		fmt.Printf("Log Dir:     %s\n", cfg.LogDir)
		fmt.Printf("Store:       %s %s\n", cfg.Store.Type, cfg.Store.DataDir)
		fmt.Printf("Archive:     %s\n", cfg.Archive.Type)
		fmt.Printf("Encryption:  %s\n", cfg.Encryption.Type)
		fmt.Printf("Source:      %s %s/%s\n", cfg.Source.Type, cfg.Source.BaseURL, cfg.Source.APIVersion)
		fmt.Printf("Listen:      %s\n", cfg.Server.Listen)
		fmt.Printf("Tick:        %ds\n", cfg.Worker.TickSeconds)
		return nil
	},
}

// encryption command
var encryptionCmd = &cobra.Command{
	Use:   "encryption",
	Short: "Manage the key sealing the archive credential",
}

var encryptionInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Generate the age identity",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, _, err := readConfig()
		if err != nil {
			return err
		}
		if cfg.Encryption.Type == "none" {
			return fmt.Errorf("encryption is disabled in the configuration")
		}

		sealer := encryption.NewAgeSealer(cfg.Encryption)
		if err := sealer.Setup(); err != nil {
			return err
		}
		fmt.Printf("Identity written to %s\n", cfg.Encryption.IdentityPath)
		return nil
	},
}

// run command
var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the polling engine and the local HTTP boundary",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		a, err := newApp(ctx, "Run")
		if err != nil {
			return err
		}
		defer a.Close()

		return a.Run(ctx)
	},
}

// scan command
var scanCmd = &cobra.Command{
	Use:   "scan FEED_ID",
	Short: "Scan one feed now",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		a, err := newApp(ctx, "ScanFeed")
		if err != nil {
			return err
		}
		defer a.Close()

		result, err := a.Engine().TriggerFeedScan(ctx, args[0])
		if result != nil {
			fmt.Printf("%s: scanned %d, new %d\n", result.FeedName, result.TotalScanned, len(result.NewPosts))
			for _, e := range result.Errors {
				fmt.Printf("  error: %s\n", e)
			}
		}
		return err
	},
}

// status command
var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the persisted worker status",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		a, err := newApp(ctx, "Status")
		if err != nil {
			return err
		}
		defer a.Close()

		status, err := a.Repository().LoadStatus(ctx)
		if err != nil {
			return err
		}

		fmt.Printf("Running:      %t\n", status.IsRunning)
		fmt.Printf("Active feeds: %d\n", status.ActiveFeeds)
		fmt.Printf("Last scan:    %s\n", formatTime(status.LastScanTime))

		ids := make([]string, 0, len(status.NextScanTimes))
		for id := range status.NextScanTimes {
			ids = append(ids, id)
		}
		sort.Strings(ids)
		for _, id := range ids {
			next := status.NextScanTimes[id]
			line := fmt.Sprintf("  %s  next %s", id, formatTime(&next))
			if r, ok := status.ScanResults[id]; ok {
				line += fmt.Sprintf("  last: scanned %d, new %d, errors %d", r.TotalScanned, len(r.NewPosts), len(r.Errors))
			}
			fmt.Println(line)
		}
		return nil
	},
}

// recount command
var recountCmd = &cobra.Command{
	Use:   "recount",
	Short: "Recompute the cached posts count of every feed",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		a, err := newApp(ctx, "UpdatePostsCounts")
		if err != nil {
			return err
		}
		defer a.Close()

		n, err := a.Engine().UpdatePostsCounts(ctx)
		if err != nil {
			return err
		}
		fmt.Printf("Updated %d feed(s)\n", n)
		return nil
	},
}

// credential command
var credentialCmd = &cobra.Command{
	Use:   "credential",
	Short: "Manage the archive credential",
}

var credentialSetCmd = &cobra.Command{
	Use:   "set",
	Short: "Store the archive credential (read from the terminal or stdin)",
	RunE: func(cmd *cobra.Command, args []string) error {
		token, err := readSecret("Archive token: ")
		if err != nil {
			return err
		}
		if token == "" {
			return fmt.Errorf("empty credential")
		}

		ctx := cmd.Context()
		a, err := newApp(ctx, "SetCredential")
		if err != nil {
			return err
		}
		defer a.Close()

		if err := a.Repository().SetArchiveCredential(ctx, token); err != nil {
			return err
		}
		fmt.Println("Credential stored.")
		return nil
	},
}

var credentialClearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Remove the archive credential",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		a, err := newApp(ctx, "ClearCredential")
		if err != nil {
			return err
		}
		defer a.Close()

		if err := a.Repository().ClearArchiveCredential(ctx); err != nil {
			return err
		}
		fmt.Println("Credential removed.")
		return nil
	},
}

// readSecret reads one line without echo from a terminal, or plainly from piped stdin.
func readSecret(prompt string) (string, error) {
	fd := int(syscall.Stdin)
	if term.IsTerminal(fd) {
		fmt.Print(prompt)
		b, err := term.ReadPassword(fd)
		fmt.Println()
		if err != nil {
			return "", fmt.Errorf("reading credential: %w", err)
		}
		return strings.TrimSpace(string(b)), nil
	}

	line, err := bufio.NewReader(os.Stdin).ReadString('\n')
	if err != nil && line == "" {
		return "", fmt.Errorf("reading credential: %w", err)
	}
	return strings.TrimSpace(line), nil
}

// session command
var sessionCmd = &cobra.Command{
	Use:   "session",
	Short: "Inspect the feed source session",
}

var sessionStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Check whether the feed source session is signed in",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		a, err := newApp(ctx, "SessionStatus")
		if err != nil {
			return err
		}
		defer a.Close()

		signedIn, err := a.Session().IsSignedIn(ctx)
		if err != nil {
			return err
		}
		if !signedIn {
			fmt.Println("Not signed in.")
			return nil
		}
		if err := a.Session().Authenticate(ctx); err != nil {
			fmt.Printf("Signed in, authentication failed: %v\n", err)
			return nil
		}
		fmt.Printf("Signed in as %s\n", a.Session().UserID())
		return nil
	},
}

// store command
var storeCmd = &cobra.Command{
	Use:   "store",
	Short: "Manage the key-value store",
}

var storeSnapshotCmd = &cobra.Command{
	Use:   "snapshot PATH",
	Short: "Write a consistent copy of the sqlite store",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd.Context(), "Snapshot")
		if err != nil {
			return err
		}
		defer a.Close()

		if err := a.Snapshot(args[0]); err != nil {
			return err
		}
		fmt.Printf("Snapshot written to %s\n", args[0])
		return nil
	},
}

func init() {
	// config subcommands
	configCmd.AddCommand(configInitCmd)
	configCmd.AddCommand(configListCmd)

	encryptionCmd.AddCommand(encryptionInitCmd)
	credentialCmd.AddCommand(credentialSetCmd)
	credentialCmd.AddCommand(credentialClearCmd)
	sessionCmd.AddCommand(sessionStatusCmd)
	storeCmd.AddCommand(storeSnapshotCmd)

	// root commands
	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(encryptionCmd)
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(feedCmd)
	rootCmd.AddCommand(scanCmd)
	rootCmd.AddCommand(backfillCmd)
	rootCmd.AddCommand(postsCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(recountCmd)
	rootCmd.AddCommand(credentialCmd)
	rootCmd.AddCommand(sessionCmd)
	rootCmd.AddCommand(storeCmd)
}
