package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	inkwell "github.com/inkwell-ai/inkwell-go"
	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(watchCmd)
}

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Watch live processing status over the realtime connection",
	Long:  "Connects to the backend event stream and prints the processing status\nas background agents report progress. Ctrl-C to stop.",
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newClient()
		if err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		rt := client.Realtime(nil)
		defer rt.Disconnect()

		// Announce presence once the link is up; queued until then.
		out := inkwell.NewOutbox(rt, 0, nil)
		defer out.Close()
		out.Enqueue(ctx, inkwell.EventSyncStatus, map[string]string{
			"client": "inkwell-cli",
			"state":  "watching",
		})

		unsubState := rt.OnStateChange(func(s inkwell.ConnState) {
			fmt.Printf("-- connection: %s\n", s)
		})
		defer unsubState()

		unsubRecon := rt.OnReconnecting(func(attempt int, delay time.Duration) {
			fmt.Printf("-- retry %d in %s\n", attempt, delay)
		})
		defer unsubRecon()

		unsubStatus := rt.Status().Subscribe(func(s inkwell.ProcessingStatus) {
			fmt.Printf("%s  ", time.Now().Format("15:04:05"))
			printStatus(s)
		})
		defer unsubStatus()

		if err := rt.Connect(ctx); err != nil {
			return err
		}

		<-ctx.Done()
		fmt.Println("stopping")
		return nil
	},
}
