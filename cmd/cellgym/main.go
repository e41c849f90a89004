package main

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

var configPath string

func main() {
	rootCmd := &cobra.Command{
		Use:   "cellgym",
		Short: "Client for running a remote robot cell as a gym-style environment",
	}
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "cellgym.json", "environment config file")

	validateCmd := &cobra.Command{
		Use:   "validate",
		Short: "Check the config file and every device's remote dependency",
		RunE:  runValidate,
	}

	observeCmd := &cobra.Command{
		Use:   "observe",
		Short: "Connect, run one observation round, and print the result",
		RunE:  runObserve,
	}

	runCmd := &cobra.Command{
		Use:   "run",
		Short: "Run scripted episodes against the cell",
		RunE:  runEpisodes,
	}
	runCmd.Flags().Int("episodes", 1, "episodes to run")
	runCmd.Flags().Int("steps", 10, "steps per episode")

	// .env carries broker credentials in local setups.
	if err := godotenv.Load(); err == nil {
		fmt.Fprintln(os.Stderr, "loaded .env")
	}

	rootCmd.AddCommand(validateCmd, observeCmd, runCmd)
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
