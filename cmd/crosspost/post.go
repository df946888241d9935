package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/abdulachik/crosspost/internal/app"
	"github.com/abdulachik/crosspost/internal/broadcast"
	"github.com/abdulachik/crosspost/internal/config"
)

var (
	postUser     string
	postLink     string
	postImages   []string
	postAlts     []string
	postTargets  []string
	postLanguage string
	postHTML     bool
)

var postCmd = &cobra.Command{
	Use:   "post [content]",
	Short: "Publish a post to connected platforms",
	Long: `Publish one post to the user's connected platforms.

Examples:
  crosspost post --user alice "Hello from the CLI"
  crosspost post --user alice --link https://example.com "Worth a read"
  crosspost post --user alice --image cat.png --alt "a cat" "Look at this"
  crosspost post --user alice --target mastodon --target bluesky "Not on LinkedIn"`,
	Args: cobra.ExactArgs(1),
	RunE: runPost,
}

func init() {
	postCmd.Flags().StringVar(&postUser, "user", "", "User the post is published as (required)")
	postCmd.Flags().StringVar(&postLink, "link", "", "Link to share")
	postCmd.Flags().StringArrayVar(&postImages, "image", nil, "Media handle under the media directory (repeatable)")
	postCmd.Flags().StringArrayVar(&postAlts, "alt", nil, "Alt text for the image at the same position (repeatable)")
	postCmd.Flags().StringArrayVar(&postTargets, "target", nil, "Restrict to these platforms (repeatable; default: all connected)")
	postCmd.Flags().StringVar(&postLanguage, "language", "", "BCP-47 language tag for the post")
	postCmd.Flags().BoolVar(&postHTML, "html", false, "Strip HTML markup from the content first")
	postCmd.MarkFlagRequired("user")
	rootCmd.AddCommand(postCmd)
}

func runPost(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("validate config: %w", err)
	}

	a, err := app.New(ctx, cfg)
	if err != nil {
		return fmt.Errorf("initialize app: %w", err)
	}
	defer a.Close()

	req := broadcast.Request{
		Content:     args[0],
		Link:        postLink,
		Targets:     postTargets,
		Language:    postLanguage,
		CleanupHTML: postHTML,
	}
	for i, handle := range postImages {
		img := broadcast.ImageRef{Handle: handle}
		if i < len(postAlts) {
			img.Alt = postAlts[i]
		}
		req.Images = append(req.Images, img)
	}

	result, err := a.Coordinator.Broadcast(ctx, postUser, req)
	if err != nil {
		return err
	}

	for _, o := range result.Outcomes {
		if o.OK {
			fmt.Printf("%-10s ok      %s\n", o.Target, o.PostID)
		} else {
			fmt.Printf("%-10s failed  (%d) %s\n", o.Target, o.StatusCode, o.Message)
		}
	}

	if result.Status() == broadcast.StatusFailed {
		return fmt.Errorf("all targets failed")
	}
	return nil
}
