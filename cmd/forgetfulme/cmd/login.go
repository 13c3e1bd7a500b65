package cmd

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
)

var loginCmd = &cobra.Command{
	Use:   "login <email>",
	Short: "Sign in and store the session",
	Long: `Sign in to the sync backend. The password is read from stdin.
The session is stored in the synced namespace so it travels with your
profile.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		app, err := buildApp(ctx)
		if err != nil {
			return err
		}
		defer app.close(ctx)

		if !app.auth.IsConfigured() {
			return fmt.Errorf("sync backend is not configured; run 'forgetfulme init' and fill in the supabase section")
		}

		fmt.Fprint(os.Stderr, "Password: ")
		reader := bufio.NewReader(os.Stdin)
		password, err := reader.ReadString('\n')
		if err != nil {
			return fmt.Errorf("read password: %w", err)
		}
		password = strings.TrimRight(password, "\r\n")

		sess, err := app.auth.SignIn(ctx, args[0], password)
		if err != nil {
			return err
		}

		fmt.Printf("Signed in as %s\n", sess.Email)
		return nil
	},
}

var signupCmd = &cobra.Command{
	Use:   "signup <email>",
	Short: "Create an account",
	Long: `Create an account on the sync backend. The password is read from
stdin. Depending on backend settings the account may require email
confirmation before the first sign-in.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		app, err := buildApp(ctx)
		if err != nil {
			return err
		}
		defer app.close(ctx)

		if !app.auth.IsConfigured() {
			return fmt.Errorf("sync backend is not configured; run 'forgetfulme init' and fill in the supabase section")
		}

		fmt.Fprint(os.Stderr, "Password: ")
		reader := bufio.NewReader(os.Stdin)
		password, err := reader.ReadString('\n')
		if err != nil {
			return fmt.Errorf("read password: %w", err)
		}
		password = strings.TrimRight(password, "\r\n")

		result, err := app.auth.SignUp(ctx, args[0], password)
		if err != nil {
			return err
		}

		if result.RequiresConfirmation {
			fmt.Printf("Account created. Check %s for a confirmation email, then run 'forgetfulme login'.\n", result.Email)
			return nil
		}
		fmt.Printf("Signed in as %s\n", result.Session.Email)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(loginCmd)
	rootCmd.AddCommand(signupCmd)
}
