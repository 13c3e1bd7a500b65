// Package cmd provides the CLI commands for ForgetfulMe.
package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/davidshq/forgetfulme-sub002/internal/config"
)

var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "forgetfulme",
	Short: "ForgetfulMe - bookmark sync client",
	Long: `ForgetfulMe saves pages with a status/tag taxonomy and syncs them
to a hosted backend.

Quick start:
  1. Create a config file: forgetfulme init
  2. Add your backend coordinates to forgetfulme.yaml
  3. Sign in: forgetfulme login you@example.com

Configuration:
  Config is loaded from forgetfulme.yaml in the current directory,
  $HOME/.forgetfulme/, or /etc/forgetfulme/.

  Environment variables can override config values with the FORGETFULME_
  prefix. Example: FORGETFULME_SUPABASE_URL=https://abc.supabase.co

Commands:
  init        Write a starter config file
  login       Sign in and store the session
  logout      Sign out and clear the session
  status      Show configuration and session state
  save        Save a bookmark
  list        List bookmarks
  version     Print version information`,
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: ./forgetfulme.yaml)")
}

func initConfig() {
	config.InitViper(cfgFile)
}
