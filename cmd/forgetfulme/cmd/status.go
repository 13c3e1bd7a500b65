package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show configuration and session state",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		app, err := buildApp(ctx)
		if err != nil {
			return err
		}
		defer app.close(ctx)

		status := app.auth.GetAuthStatus()
		if status.HasConfig {
			fmt.Println("Backend:   configured")
		} else {
			fmt.Println("Backend:   not configured")
		}
		if status.IsAuthenticated {
			fmt.Printf("Signed in: %s\n", status.User.Email)
			fmt.Printf("Expires:   %s\n", status.User.ExpiresAt.Local().Format("2006-01-02 15:04:05"))
		} else {
			fmt.Println("Signed in: no")
		}
		fmt.Printf("Data dir:  %s\n", app.cfg.Storage.Dir)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(statusCmd)
}
