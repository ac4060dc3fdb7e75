// Command cachettl-demo is a small harness for exercising a cachettl.Cache
// from the command line. It is not a product CLI: there is no remote
// protocol and nothing to connect to, only one process seeding keys
// into its own in-memory cache and polling them back out.
package main

import (
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/cuemby/cachettl"
	"github.com/cuemby/cachettl/pkg/log"
	"github.com/cuemby/cachettl/pkg/metrics"
	"github.com/cuemby/cachettl/pkg/store"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "cachettl-demo",
	Short: "Seed a cachettl.Cache with sample keys and watch it refresh them",
	Version: "dev",
}

func init() {
	rootCmd.PersistentFlags().String("log-level", "info", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().Bool("log-json", false, "Output logs in JSON format")
	cobra.OnInitialize(initLogging)

	rootCmd.AddCommand(runCmd)
}

func initLogging() {
	logLevel, _ := rootCmd.PersistentFlags().GetString("log-level")
	logJSON, _ := rootCmd.PersistentFlags().GetBool("log-json")
	log.Init(log.Config{
		Level:      log.Level(logLevel),
		JSONOutput: logJSON,
	})
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Start the cache, seed sample keys, and serve /metrics and /health",
	RunE: func(cmd *cobra.Command, args []string) error {
		refreshInterval, _ := cmd.Flags().GetDuration("refresh-interval")
		ttl, _ := cmd.Flags().GetDuration("ttl")
		metricsAddr, _ := cmd.Flags().GetString("metrics-addr")

		c := cachettl.New(cachettl.Config{RefreshInterval: refreshInterval})
		if err := c.Start(); err != nil {
			return fmt.Errorf("failed to start cache: %w", err)
		}
		fmt.Printf("✓ Cache started (refresh interval: %s)\n", refreshInterval)

		metrics.SetVersion("dev")
		go func() {
			http.Handle("/metrics", metrics.Handler())
			http.Handle("/health", metrics.HealthHandler())
			http.Handle("/ready", metrics.ReadyHandler())
			http.Handle("/live", metrics.LivenessHandler())
			if err := http.ListenAndServe(metricsAddr, nil); err != nil {
				fmt.Printf("metrics server error: %v\n", err)
			}
		}()
		fmt.Printf("✓ Metrics endpoint: http://%s/metrics\n", metricsAddr)
		fmt.Printf("✓ Health endpoints: http://%s/{health,ready,live}\n", metricsAddr)

		seed := []string{"HEL", "WORLD", "FOO"}
		for i, k := range seed {
			key := store.StringKey(k)
			if err := c.Store(cmd.Context(), key, fmt.Sprintf("value-%d", i), ttl); err != nil {
				return fmt.Errorf("failed to seed key %q: %w", k, err)
			}
			fmt.Printf("✓ Seeded key %q (ttl %s)\n", k, ttl)
		}

		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
		ticker := time.NewTicker(refreshInterval)
		defer ticker.Stop()

		fmt.Println("Cache is running. Press Ctrl+C to stop.")
		for {
			select {
			case <-ticker.C:
				for _, k := range seed {
					v, status, err := c.Get(store.StringKey(k))
					fmt.Printf("  %-6s status=%-5s value=%v err=%v\n", k, status, v, err)
				}
			case <-sigCh:
				fmt.Println("\nShutting down...")
				stopCtx := cmd.Context()
				if err := c.Stop(stopCtx); err != nil {
					return fmt.Errorf("failed to stop cache: %w", err)
				}
				fmt.Println("✓ Shutdown complete")
				return nil
			}
		}
	},
}

func init() {
	runCmd.Flags().Duration("refresh-interval", 2*time.Second, "Worker refresh cadence")
	runCmd.Flags().Duration("ttl", 30*time.Second, "TTL for seeded keys")
	runCmd.Flags().String("metrics-addr", "127.0.0.1:9090", "Metrics/health HTTP listen address")
}
