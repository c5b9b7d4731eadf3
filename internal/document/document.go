// Package document renders captured posts as markdown documents with
// YAML frontmatter and derives their archive file names.
package document

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"feedwatcher/internal/model"
)

// Extension is the file extension of archived documents.
const Extension = ".mdx"

// FooterPrefix starts the trailing line that records when the document was generated.
// It is the only part of a rendered document that varies between renders.
const FooterPrefix = "*Backed up by FeedWatcher on "

const displayTimeLayout = "2006-01-02 15:04:05 UTC"

type frontmatter struct {
	Title     string `yaml:"title"`
	Author    string `yaml:"author"`
	AuthorID  string `yaml:"authorId"`
	Date      string `yaml:"date"`
	FeedName  string `yaml:"feedName"`
	FeedType  string `yaml:"feedType"`
	PostID    string `yaml:"postId"`
	Reactions int    `yaml:"reactions"`
}

// Render returns the document for post. generatedAt only affects the footer line.
func Render(post model.Post, generatedAt time.Time) (string, error) {
	c := post.Content
	author := c.AuthorName()
	title := "Post from " + author

	fm, err := yaml.Marshal(frontmatter{
		Title:     title,
		Author:    author,
		AuthorID:  c.AuthorID(),
		Date:      c.CreatedTime,
		FeedName:  post.FeedName,
		FeedType:  string(post.FeedKind),
		PostID:    c.ID,
		Reactions: c.ReactionCount(),
	})
	if err != nil {
		return "", fmt.Errorf("encoding frontmatter: %w", err)
	}

	var b strings.Builder
	b.WriteString("---\n")
	b.Write(fm)
	b.WriteString("---\n\n")

	fmt.Fprintf(&b, "# %s\n\n", title)
	fmt.Fprintf(&b, "**Date:** %s\n", displayTime(c.CreatedTime))
	fmt.Fprintf(&b, "**Feed:** %s (%s)\n", post.FeedName, post.FeedKind)
	fmt.Fprintf(&b, "**Post ID:** %s\n", c.ID)
	fmt.Fprintf(&b, "**Author:** %s (%s)\n\n", author, c.AuthorID())

	if c.Message != "" {
		b.WriteString("## Content\n\n")
		b.WriteString(c.Message)
		b.WriteString("\n\n")
	}

	if attachments := c.AttachmentList(); len(attachments) > 0 {
		b.WriteString("## Attachments\n\n")
		for i, a := range attachments {
			fmt.Fprintf(&b, "### Attachment %d\n\n", i+1)
			fmt.Fprintf(&b, "- **Type:** %s\n", a.Type)
			if a.Title != "" {
				fmt.Fprintf(&b, "- **Title:** %s\n", a.Title)
			}
			if a.Description != "" {
				fmt.Fprintf(&b, "- **Description:** %s\n", a.Description)
			}
			if a.URL != "" {
				fmt.Fprintf(&b, "- **URL:** %s\n", a.URL)
			}
			if src := a.ImageURL(); src != "" {
				fmt.Fprintf(&b, "- **Image:** ![Image](%s)\n", src)
			}
			b.WriteString("\n")
		}
	}

	if n := c.ReactionCount(); n > 0 {
		b.WriteString("## Engagement\n\n")
		fmt.Fprintf(&b, "**Total Reactions:** %d\n\n", n)
	}

	b.WriteString("---\n")
	b.WriteString(FooterPrefix + generatedAt.UTC().Format(time.RFC3339) + "*\n")
	return b.String(), nil
}

func displayTime(created string) string {
	t, err := model.ParseSourceTime(created)
	if err != nil {
		return created
	}
	return t.Format(displayTimeLayout)
}

var (
	nonAlphanumeric = regexp.MustCompile(`[^a-z0-9]+`)
	whitespace      = regexp.MustCompile(`\s+`)
)

const maxAuthorSlug = 20

// AuthorSlug lower-cases name, collapses runs of non-alphanumerics to a
// hyphen and truncates the result to 20 characters.
func AuthorSlug(name string) string {
	slug := nonAlphanumeric.ReplaceAllString(strings.ToLower(name), "-")
	if len(slug) > maxAuthorSlug {
		slug = slug[:maxAuthorSlug]
	}
	return slug
}

// FeedSlug lower-cases a feed name and collapses whitespace to hyphens.
func FeedSlug(name string) string {
	return whitespace.ReplaceAllString(strings.ToLower(name), "-")
}

// FileName returns {date}_{time}_{author-slug}_{sourceId}.mdx, with date and
// time taken from the item's creation time in UTC.
func FileName(post model.Post) (string, error) {
	created, err := post.Content.CreatedAt()
	if err != nil {
		return "", fmt.Errorf("post %s: %w", post.ID, err)
	}
	return fmt.Sprintf("%s_%s_%s_%s%s",
		created.Format("2006-01-02"),
		created.Format("15-04-05"),
		AuthorSlug(post.Content.AuthorName()),
		post.SourceID(),
		Extension,
	), nil
}

// Path returns the archive path posts/{feed-slug}/{file name} of post.
func Path(feedName string, post model.Post) (string, error) {
	name, err := FileName(post)
	if err != nil {
		return "", err
	}
	return "posts/" + FeedSlug(feedName) + "/" + name, nil
}
