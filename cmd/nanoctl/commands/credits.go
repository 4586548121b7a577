package commands

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

var creditsCmd = &cobra.Command{
	Use:   "credits",
	Short: "Show the remaining credit balance",
	RunE:  runCredits,
}

func init() {
	rootCmd.AddCommand(creditsCmd)
}

func runCredits(cmd *cobra.Command, args []string) error {
	logger := newLogger(false)
	client, err := newClient(&logger)
	if err != nil {
		return err
	}
	balance, err := client.Credits(context.Background())
	if err != nil {
		return err
	}
	fmt.Printf("credits: %g\n", balance)
	return nil
}
