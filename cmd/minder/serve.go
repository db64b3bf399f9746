package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/steveyegge/minder/internal/webhook"
)

var (
	serveIntervalFlag time.Duration
	serveListenFlag   string
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run cycles on an interval with a webhook and health listener",
	Long: `Run orchestration cycles continuously. Between cycles, an HTTP listener
accepts GitHub webhook deliveries (processing trigger-labeled issues as
they arrive) and serves a health endpoint. SIGINT and SIGTERM stop the
loop after the current cycle.`,
	Run: func(cmd *cobra.Command, args []string) {
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		orch, eventLog := newOrchestrator(ctx)
		defer eventLog.Close()
		store := openStore()
		repoCfg := loadRepoConfig()

		// Webhook deliveries funnel into a small queue drained by the same
		// goroutine that runs cycles, keeping processing single-threaded.
		queue := make(chan int, 64)
		server, err := webhook.NewServer(webhook.Config{
			Secret:       os.Getenv("MINDER_WEBHOOK_SECRET"),
			TriggerLabel: repoCfg.Labels.Trigger,
			OnLabeled: func(number int) {
				select {
				case queue <- number:
				default:
					fmt.Fprintf(os.Stderr, "warning: webhook queue full, dropping issue #%d (the next cycle will pick it up)\n", number)
				}
			},
			Health: func() webhook.HealthReport {
				report := webhook.HealthReport{Status: "ok"}
				if st, err := store.Load(); err == nil {
					report.LastActiveAt = st.LastActiveAt
					report.LastCycleAt = st.Stats.LastCycleAt
					report.TasksInFlight = len(st.CurrentTasks)
					report.CyclesRun = st.Stats.TotalCyclesRun
				} else {
					report.Status = "degraded"
				}
				return report
			},
		})
		if err != nil {
			fatal("%v", err)
		}

		httpServer := &http.Server{Addr: serveListenFlag, Handler: server.Routes()}
		go func() {
			fmt.Printf("Listening on %s (webhook, healthz)\n", serveListenFlag)
			if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				fmt.Fprintf(os.Stderr, "Error: HTTP listener failed: %v\n", err)
			}
		}()

		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

		ticker := time.NewTicker(serveIntervalFlag)
		defer ticker.Stop()

		fmt.Printf("Serving %s every %s\n", repoFlag, serveIntervalFlag)
		runOnce := func() {
			if err := orch.RunCycle(ctx); err != nil {
				fmt.Fprintf(os.Stderr, "warning: cycle failed: %v\n", err)
			}
		}
		runOnce()

		for {
			select {
			case sig := <-sigCh:
				fmt.Printf("\nReceived %s, shutting down\n", sig)
				shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
				defer shutdownCancel()
				_ = httpServer.Shutdown(shutdownCtx)
				cancel()
				return
			case number := <-queue:
				if err := orch.HandleIssue(ctx, number); err != nil {
					fmt.Fprintf(os.Stderr, "warning: failed to handle issue #%d: %v\n", number, err)
				}
			case <-ticker.C:
				runOnce()
			}
		}
	},
}

func init() {
	serveCmd.Flags().DurationVar(&serveIntervalFlag, "interval", 5*time.Minute, "Time between cycles")
	serveCmd.Flags().StringVar(&serveListenFlag, "listen", ":8080", "HTTP listen address")
	rootCmd.AddCommand(serveCmd)
}
