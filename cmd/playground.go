package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/keelruntime/keel/internal/config"
	"github.com/keelruntime/keel/internal/log"
	"github.com/keelruntime/keel/internal/resolver"
	"github.com/keelruntime/keel/internal/tracing"
	"github.com/keelruntime/keel/internal/watcher"
)

var playgroundCmd = &cobra.Command{
	Use:   "playground",
	Short: "Boot a sample wiring and exercise reconfiguration cycles",
	Long: `Boot the runtime with a sample wiring and keep it running.

Touching the trigger file (default .keel/reload.trigger) starts a
reconfiguration cycle: the runtime disposes the active registry,
rebuilds a shadow from the loaded tiers, and swaps it in. Resolution
results and registry generations are printed across each cycle so the
swap is observable from the outside.

Examples:
  # Boot and wait for trigger-file touches
  keel playground

  # Drive a cycle from another shell
  touch .keel/reload.trigger`,
	RunE: runPlayground,
}

func init() {
	rootCmd.AddCommand(playgroundCmd)
}

func runPlayground(cmd *cobra.Command, args []string) error {
	ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if cfg.Debug {
		tailLogs(ctx)
	}

	provider, err := tracing.NewProvider(cfg.Tracing)
	if err != nil {
		return fmt.Errorf("configuring tracing: %w", err)
	}
	defer func() { _ = provider.Shutdown(context.Background()) }()

	store := config.FeatureStateStore{Path: cfg.Preload.StatePath}
	rt := resolver.New(cfg, harnessWiring(),
		resolver.WithLastFeatureSource(store),
		resolver.WithTracer(provider.Tracer()))

	if err := rt.Boot(ctx); err != nil {
		return fmt.Errorf("booting runtime: %w", err)
	}

	// Reference the sample feature the way application code would; the
	// saved name feeds the speculative preload on the next boot.
	if err := rt.LoadFeature(ctx, "reports"); err != nil {
		return fmt.Errorf("loading reports feature: %w", err)
	}
	if cfg.Preload.StatePath != "" {
		if err := store.SaveLastFeature("reports"); err != nil {
			log.ErrorErr(log.CatConfig, "saving last feature failed", err)
		}
	}
	printResolutions(rt, "boot")

	if err := os.MkdirAll(filepath.Dir(cfg.Watcher.TriggerPath), 0o755); err != nil {
		return fmt.Errorf("preparing trigger directory: %w", err)
	}
	w, err := watcher.New(watcher.Config{
		TriggerPath: cfg.Watcher.TriggerPath,
		DebounceDur: cfg.Watcher.Debounce,
	})
	if err != nil {
		return fmt.Errorf("creating trigger watcher: %w", err)
	}
	triggers, err := w.Start()
	if err != nil {
		return fmt.Errorf("starting trigger watcher: %w", err)
	}
	defer w.Stop()

	fmt.Printf("watching %s (touch it to reconfigure, ctrl-c to exit)\n", cfg.Watcher.TriggerPath)

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-triggers:
			if err := runCycle(ctx, rt); err != nil {
				log.ErrorErr(log.CatReconfig, "reconfiguration cycle failed", err)
				fmt.Printf("cycle failed: %v\n", err)
				continue
			}
			printResolutions(rt, "post-swap")
		}
	}
}

// tailLogs echoes every log entry to stderr until ctx is cancelled.
// The file stays the durable record; this is the live debug view.
func tailLogs(ctx context.Context) {
	listener := log.NewListener(ctx)
	if listener == nil {
		return
	}
	go func() {
		for {
			entry, ok := listener.Next()
			if !ok {
				return
			}
			fmt.Fprint(os.Stderr, entry.Payload)
		}
	}()
}

// runCycle drives one full dispose/rebuild cycle the way external
// tooling would: dispose, simulate rebuild work, then accept.
func runCycle(ctx context.Context, rt *resolver.Runtime) error {
	if err := rt.OnDispose(ctx); err != nil {
		return err
	}
	// Brief pause so mid-cycle resolution behavior is observable.
	time.Sleep(100 * time.Millisecond)
	return rt.OnRebuildAccept(ctx)
}

func printResolutions(rt *resolver.Runtime, label string) {
	reg := rt.Manager().Active()
	fmt.Printf("[%s] generation=%s features=%v\n", label, reg.Generation(), rt.LoadedFeatures())
	for _, id := range reg.BoundIDs() {
		instance, err := rt.Resolve(id)
		if err != nil {
			fmt.Printf("  %-24s error: %v\n", id.Name(), err)
			continue
		}
		fmt.Printf("  %-24s %T\n", id.Name(), instance)
	}
}
