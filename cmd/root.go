package cmd

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/keelruntime/keel/internal/config"
	"github.com/keelruntime/keel/internal/log"
)

var (
	version    = "dev"
	cfgFile    string
	cfg        config.Config
	logCleanup func()
)

var rootCmd = &cobra.Command{
	Use:   "keel",
	Short: "Development harness for the keel service-resolution runtime",
	Long: `Development tooling around the keel runtime: boot a sample wiring,
inspect the binding space, and drive hot-reconfiguration cycles by
touching a trigger file.

None of this ships in production; the runtime is a library and these
commands exist only for local development of the surrounding application.`,
	Version: version,
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "",
		"config file (default: .keel/config.yaml)")
	rootCmd.PersistentFlags().Bool("debug", false,
		"enable debug logging to stderr")
}

func initConfig() {
	path := cfgFile
	if path == "" {
		if _, err := os.Stat(".keel/config.yaml"); err == nil {
			path = ".keel/config.yaml"
		}
	}

	loaded, err := config.Load(path)
	if err != nil {
		// Continue with defaults; the harness should come up regardless
		log.ErrorErr(log.CatConfig, "loading config failed, using defaults", err, "path", path)
		loaded = config.Defaults()
	}
	cfg = loaded

	if debug, _ := rootCmd.PersistentFlags().GetBool("debug"); debug {
		cfg.Debug = true
	}
	initLogging()
}

// initLogging opens the runtime log file and sets the level floor.
// Debug entries are echoed to stderr by the playground's log tail, not
// here; this only controls what reaches the file and the broker.
func initLogging() {
	if cfg.LogPath == "" {
		return
	}
	if dir := filepath.Dir(cfg.LogPath); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			fmt.Fprintf(os.Stderr, "keel: create log dir: %v\n", err)
			return
		}
	}
	cleanup, err := log.Init(cfg.LogPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "keel: open log file: %v\n", err)
		return
	}
	logCleanup = cleanup

	if cfg.Debug {
		log.SetMinLevel(log.LevelDebug)
	} else {
		log.SetMinLevel(log.LevelInfo)
	}
}

// SetVersion sets the version string shown by --version.
func SetVersion(v string) {
	version = v
	rootCmd.Version = v
}

// Execute runs the root command.
func Execute() error {
	defer func() {
		if logCleanup != nil {
			logCleanup()
		}
	}()
	return rootCmd.Execute()
}
