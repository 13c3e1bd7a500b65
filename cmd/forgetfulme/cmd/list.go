package cmd

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/davidshq/forgetfulme-sub002/internal/domain/bookmark"
)

var (
	listStatus string
	listTag    string
	listSearch string
	listLimit  int
)

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List bookmarks",
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

		rows, err := bookmarks.List(ctx, bookmark.Query{
			Status: bookmark.Status(listStatus),
			Tag:    listTag,
			Search: listSearch,
			Limit:  listLimit,
		})
		if err != nil {
			return err
		}

		if len(rows) == 0 {
			fmt.Println("No bookmarks.")
			return nil
		}
		for _, b := range rows {
			line := fmt.Sprintf("[%s] %s", b.Status, b.URL)
			if b.Title != "" {
				line += "  " + b.Title
			}
			if len(b.Tags) > 0 {
				line += "  #" + strings.Join(b.Tags, " #")
			}
			fmt.Println(line)
		}
		return nil
	},
}

func init() {
	listCmd.Flags().StringVar(&listStatus, "status", "", "filter by status")
	listCmd.Flags().StringVar(&listTag, "tag", "", "filter by tag")
	listCmd.Flags().StringVar(&listSearch, "search", "", "search title and url")
	listCmd.Flags().IntVar(&listLimit, "limit", 50, "maximum rows")
	rootCmd.AddCommand(listCmd)
}
