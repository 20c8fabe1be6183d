package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(statusCmd)
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show current backend processing status",
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newClient()
		if err != nil {
			return err
		}

		health, err := client.Health(context.Background())
		if err != nil {
			return fmt.Errorf("backend unreachable: %w", err)
		}
		fmt.Printf("backend: %s", health.Status)
		if health.Version != "" {
			fmt.Printf(" (%s)", health.Version)
		}
		fmt.Println()

		status, err := client.GetProcessingStatus(context.Background())
		if err != nil {
			return err
		}
		printStatus(*status)
		return nil
	},
}
