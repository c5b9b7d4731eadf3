package main

import (
	"fmt"
	"strings"
	"time"

	"feedwatcher/internal/document"
	"feedwatcher/internal/model"

	"github.com/charmbracelet/glamour"
	"github.com/spf13/cobra"
)

var postsCmd = &cobra.Command{
	Use:   "posts",
	Short: "Browse stored posts",
}

var postsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List stored posts, newest first",
	RunE: func(cmd *cobra.Command, args []string) error {
		feedID, _ := cmd.Flags().GetString("feed")
		limit, _ := cmd.Flags().GetInt("limit")

		ctx := cmd.Context()
		a, err := newApp(ctx, "GetPosts")
		if err != nil {
			return err
		}
		defer a.Close()

		posts, err := a.Engine().GetPosts(ctx, feedID, limit)
		if err != nil {
			return err
		}
		printPosts(posts)
		return nil
	},
}

var postsShowCmd = &cobra.Command{
	Use:   "show POST_ID",
	Short: "Render a stored post as its archived document",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		raw, _ := cmd.Flags().GetBool("raw")

		ctx := cmd.Context()
		a, err := newApp(ctx, "ShowPost")
		if err != nil {
			return err
		}
		defer a.Close()

		post, err := a.Engine().FindPost(ctx, args[0])
		if err != nil {
			return err
		}
		if post == nil {
			return fmt.Errorf("post not found: %s", args[0])
		}

		doc, err := document.Render(*post, time.Now().UTC())
		if err != nil {
			return err
		}
		if raw {
			fmt.Print(doc)
			return nil
		}

		out, err := glamour.Render(doc, "auto")
		if err != nil {
			return fmt.Errorf("rendering post: %w", err)
		}
		fmt.Print(out)
		return nil
	},
}

func printPosts(posts []model.Post) {
	if len(posts) == 0 {
		fmt.Println("No posts.")
		return
	}
	for _, p := range posts {
		backed := " "
		if p.BackedUp {
			backed = "*"
		}
		created := p.Content.CreatedTime
		if t, err := p.Content.CreatedAt(); err == nil {
			created = t.Local().Format("2006-01-02 15:04")
		}
		fmt.Printf("%s %s  %-16s  %-20s  %s\n", backed, p.ID, created, p.Content.AuthorName(), summary(p.Content.Message, 60))
	}
}

// summary returns the first line of s, cut to at most n runes.
func summary(s string, n int) string {
	s, _, _ = strings.Cut(strings.TrimSpace(s), "\n")
	r := []rune(s)
	if len(r) > n {
		return string(r[:n-1]) + "…"
	}
	return s
}

func init() {
	postsListCmd.Flags().String("feed", "", "Only posts of this feed")
	postsListCmd.Flags().IntP("limit", "n", 50, "Maximum number of posts to show")
	postsShowCmd.Flags().Bool("raw", false, "Print the document without terminal rendering")

	postsCmd.AddCommand(postsListCmd)
	postsCmd.AddCommand(postsShowCmd)
}
