package main

import (
	"fmt"
	"os"

	"feedwatcher/internal/app"
	"feedwatcher/internal/model"
	"feedwatcher/internal/watcher"

	"github.com/spf13/cobra"
)

var feedCmd = &cobra.Command{
	Use:   "feed",
	Short: "Manage watched feeds",
}

var feedAddCmd = &cobra.Command{
	Use:   "add NAME UNIT_ID",
	Short: "Watch a new feed",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		kind, _ := cmd.Flags().GetString("type")
		url, _ := cmd.Flags().GetString("url")
		inactive, _ := cmd.Flags().GetBool("inactive")
		backupRepo, _ := cmd.Flags().GetString("backup-repo")
		interval, _ := cmd.Flags().GetInt("interval")

		ctx := cmd.Context()
		a, err := newApp(ctx, "CreateFeed")
		if err != nil {
			return err
		}
		defer a.Close()

		feed, err := a.Repository().CreateFeed(ctx, watcher.FeedInput{
			Name:          args[0],
			Kind:          model.FeedKind(kind),
			URL:           url,
			UnitID:        args[1],
			IsActive:      !inactive,
			BackupEnabled: backupRepo != "",
			BackupRepo:    backupRepo,
			ScanInterval:  interval,
		})
		if err != nil {
			return err
		}
		fmt.Printf("Created feed %s\n", feed.ID)
		return nil
	},
}

var feedListCmd = &cobra.Command{
	Use:   "list",
	Short: "List watched feeds",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		a, err := newApp(ctx, "ListFeeds")
		if err != nil {
			return err
		}
		defer a.Close()

		feeds, err := a.Repository().Feeds(ctx)
		if err != nil {
			return err
		}
		if len(feeds) == 0 {
			fmt.Println("No feeds.")
			return nil
		}

		for _, f := range feeds {
			flags := ""
			if f.IsActive {
				flags += "A"
			} else {
				flags += "-"
			}
			if f.BackupEnabled {
				flags += "B"
			} else {
				flags += "-"
			}
			fmt.Printf("%s  %s  %-7s  %-20s  every %3dm  posts %4d  last scan %s  %s\n",
				f.ID,
				flags,
				f.Kind,
				f.Name,
				model.NormalizeInterval(f.ScanInterval),
				f.PostsCount,
				formatTime(f.LastScan),
				f.BackupRepo,
			)
		}
		return nil
	},
}

var feedUpdateCmd = &cobra.Command{
	Use:   "update FEED_ID",
	Short: "Edit a feed",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		var upd watcher.FeedUpdate
		flags := cmd.Flags()
		if flags.Changed("name") {
			v, _ := flags.GetString("name")
			upd.Name = &v
		}
		if flags.Changed("type") {
			v, _ := flags.GetString("type")
			kind := model.FeedKind(v)
			upd.Kind = &kind
		}
		if flags.Changed("url") {
			v, _ := flags.GetString("url")
			upd.URL = &v
		}
		if flags.Changed("unit-id") {
			v, _ := flags.GetString("unit-id")
			upd.UnitID = &v
		}
		if flags.Changed("backup-repo") {
			v, _ := flags.GetString("backup-repo")
			upd.BackupRepo = &v
		}
		if flags.Changed("interval") {
			v, _ := flags.GetInt("interval")
			upd.ScanInterval = &v
		}

		ctx := cmd.Context()
		a, err := newApp(ctx, "UpdateFeed")
		if err != nil {
			return err
		}
		defer a.Close()

		feed, err := a.Repository().UpdateFeed(ctx, args[0], upd)
		if err != nil {
			return err
		}
		fmt.Printf("Updated feed %s (%s)\n", feed.ID, feed.Name)
		return nil
	},
}

var feedRemoveCmd = &cobra.Command{
	Use:   "rm FEED_ID",
	Short: "Stop watching a feed and delete its posts",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		a, err := newApp(ctx, "DeleteFeed")
		if err != nil {
			return err
		}
		defer a.Close()

		if err := a.Repository().DeleteFeed(ctx, args[0]); err != nil {
			return err
		}
		fmt.Printf("Deleted feed %s\n", args[0])
		return nil
	},
}

var feedToggleCmd = &cobra.Command{
	Use:       "toggle FEED_ID active|backup",
	Short:     "Flip a feed's active or backup flag",
	Args:      cobra.ExactArgs(2),
	ValidArgs: []string{"active", "backup"},
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		a, err := newApp(ctx, "ToggleFeed")
		if err != nil {
			return err
		}
		defer a.Close()

		var feed model.Feed
		switch args[1] {
		case "active":
			feed, err = a.Repository().ToggleActive(ctx, args[0])
		case "backup":
			feed, err = a.Repository().ToggleBackup(ctx, args[0])
		default:
			return fmt.Errorf("unknown flag %q, expected active or backup", args[1])
		}
		if err != nil {
			return err
		}
		fmt.Printf("%s: active=%t backup=%t\n", feed.Name, feed.IsActive, feed.BackupEnabled)
		return nil
	},
}

var feedImportCmd = &cobra.Command{
	Use:   "import FILE",
	Short: "Create feeds from a YAML file",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		f, err := os.Open(args[0])
		if err != nil {
			return fmt.Errorf("opening feed file: %w", err)
		}
		defer f.Close()

		inputs, err := app.ReadFeedFile(f)
		if err != nil {
			return err
		}

		ctx := cmd.Context()
		a, err := newApp(ctx, "ImportFeeds")
		if err != nil {
			return err
		}
		defer a.Close()

		result, err := a.ImportFeeds(ctx, inputs)
		if result != nil {
			fmt.Printf("Created %d feed(s), skipped %d already watched\n", len(result.Created), len(result.Skipped))
		}
		return err
	},
}

// backfill command
var backfillCmd = &cobra.Command{
	Use:   "backfill FEED_ID DATE",
	Short: "Fetch and store a feed's posts of one day (YYYY-MM-DD)",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		a, err := newApp(ctx, "LoadPostsForDate")
		if err != nil {
			return err
		}
		defer a.Close()

		posts, err := a.Engine().LoadPostsForDate(ctx, args[0], args[1])
		if err != nil {
			return err
		}
		printPosts(posts)
		return nil
	},
}

func init() {
	feedAddCmd.Flags().StringP("type", "t", string(model.FeedKindGroup), "Feed type (profile or group)")
	feedAddCmd.Flags().String("url", "", "Link to the feed on the source site")
	feedAddCmd.Flags().Bool("inactive", false, "Create the feed without polling it")
	feedAddCmd.Flags().String("backup-repo", "", "Archive new posts to owner/repo")
	feedAddCmd.Flags().IntP("interval", "i", model.DefaultScanInterval, "Minutes between scans")

	feedUpdateCmd.Flags().String("name", "", "Display name")
	feedUpdateCmd.Flags().StringP("type", "t", "", "Feed type (profile or group)")
	feedUpdateCmd.Flags().String("url", "", "Link to the feed on the source site")
	feedUpdateCmd.Flags().String("unit-id", "", "Source-side id")
	feedUpdateCmd.Flags().String("backup-repo", "", "Archive destination owner/repo")
	feedUpdateCmd.Flags().IntP("interval", "i", 0, "Minutes between scans")

	feedCmd.AddCommand(feedAddCmd)
	feedCmd.AddCommand(feedListCmd)
	feedCmd.AddCommand(feedUpdateCmd)
	feedCmd.AddCommand(feedRemoveCmd)
	feedCmd.AddCommand(feedToggleCmd)
	feedCmd.AddCommand(feedImportCmd)
}
