package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/davidshq/forgetfulme-sub002/internal/domain/bookmark"
)

var (
	saveTitle  string
	saveStatus string
	saveTags   []string
)

var saveCmd = &cobra.Command{
	Use:   "save <url>",
	Short: "Save a bookmark",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		app, err := buildApp(ctx)
		if err != nil {
			return err
		}
		defer app.close(ctx)

		bookmarks, err := app.bookmarks(ctx)
		if err != nil {
			return err
		}
		defer bookmarks.Close()

		created, err := bookmarks.Save(ctx, &bookmark.Bookmark{
			URL:    args[0],
			Title:  saveTitle,
			Status: bookmark.Status(saveStatus),
			Tags:   saveTags,
		})
		if err != nil {
			return err
		}

		fmt.Printf("Saved %s (%s)\n", created.URL, created.Status)
		return nil
	},
}

func init() {
	saveCmd.Flags().StringVar(&saveTitle, "title", "", "bookmark title")
	saveCmd.Flags().StringVar(&saveStatus, "status", "unread", "status (unread, good-reference, low-value, revisit-later)")
	saveCmd.Flags().StringSliceVar(&saveTags, "tag", nil, "tag (repeatable)")
	rootCmd.AddCommand(saveCmd)
}
