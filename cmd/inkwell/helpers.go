package main

import (
	"fmt"
	"time"

	inkwell "github.com/inkwell-ai/inkwell-go"
)

// newClient builds a client from the stored configuration.
func newClient() (*inkwell.Client, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	if cfg.Default.Token == "" {
		return nil, fmt.Errorf("no token configured; run 'inkwell init <token>'")
	}
	var opts []inkwell.ClientOption
	if cfg.Default.BaseURL != "" {
		opts = append(opts, inkwell.WithBaseURL(cfg.Default.BaseURL))
	}
	return inkwell.NewClient(cfg.Default.Token, opts...), nil
}

// printStatus renders one ProcessingStatus to stdout.
func printStatus(s inkwell.ProcessingStatus) {
	fmt.Printf("agents: %d active  queue: %d\n", len(s.ActiveAgents), s.QueueLength)
	for _, agent := range s.ActiveAgents {
		fmt.Printf("  agent %s\n", agent)
	}
	for _, task := range s.CurrentTasks {
		fmt.Printf("  [%s] %-17s %3d%%  %s\n", task.Status, task.Type, task.Progress, task.Description)
	}
	if s.EstimatedCompletion != nil {
		fmt.Printf("  estimated completion: %s\n", s.EstimatedCompletion.Format(time.RFC3339))
	}
}
