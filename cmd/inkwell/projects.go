package main

import (
	"context"
	"fmt"

	inkwell "github.com/inkwell-ai/inkwell-go"
	"github.com/spf13/cobra"
)

var (
	projectAuthor string
	projectGenre  string
)

func init() {
	rootCmd.AddCommand(projectsCmd)
	projectsCmd.AddCommand(projectsListCmd)
	projectsCmd.AddCommand(projectsCreateCmd)
	projectsCreateCmd.Flags().StringVar(&projectAuthor, "author", "", "project author (required)")
	projectsCreateCmd.Flags().StringVar(&projectGenre, "genre", "Fiction", "project genre")
	projectsCreateCmd.MarkFlagRequired("author")
}

var projectsCmd = &cobra.Command{
	Use:   "projects",
	Short: "Manage novel projects",
}

var projectsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List all projects",
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newClient()
		if err != nil {
			return err
		}
		projects, err := client.ListProjects(context.Background())
		if err != nil {
			return err
		}
		if len(projects) == 0 {
			fmt.Println("No projects.")
			return nil
		}
		for _, p := range projects {
			fmt.Printf("%-20s  %-30s  %-10s  %d words\n", p.ID, p.Title, p.Status, p.WordCount)
		}
		return nil
	},
}

var projectsCreateCmd = &cobra.Command{
	Use:   "create <title>",
	Short: "Create a new project",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newClient()
		if err != nil {
			return err
		}
		project, err := client.CreateProject(context.Background(), &inkwell.CreateProjectOptions{
			Title:  args[0],
			Author: projectAuthor,
			Genre:  projectGenre,
		})
		if err != nil {
			return err
		}
		fmt.Printf("Created project %s (%s)\n", project.ID, project.Title)
		return nil
	},
}
