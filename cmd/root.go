package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"

	"github.com/bnema/waycursor/internal/config"
	"github.com/bnema/waycursor/internal/logger"
	"github.com/bnema/waycursor/internal/viewer"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	// Version is set during build
	Version = "0.1.0-dev"

	configFile string

	rootCmd = &cobra.Command{
		Use:   "waycursor THEME SIZE CURSOR_NAME...",
		Short: "waycursor - show Xcursor theme cursors on Wayland",
		Long: `waycursor opens one window per cursor name and shows that cursor from
the given Xcursor theme at the requested size. Animated cursors play at the
pace of the compositor's frame callbacks until interrupted.`,
		SilenceErrors:     true,
		Args:              viewerArgs,
		PersistentPreRunE: initConfig,
		RunE:              runViewer,
	}
)

// Execute runs the root command
func Execute() error {
	rootCmd.Version = Version
	return rootCmd.Execute()
}

func init() {
	rootCmd.SetVersionTemplate(`{{with .Name}}{{printf "%s " .}}{{end}}{{printf "version %s\n" .Version}}`)

	flags := rootCmd.PersistentFlags()
	flags.StringVar(&configFile, "config", "", "config file (default $XDG_CONFIG_HOME/waycursor/waycursor.toml)")
	flags.String("display", "", "Wayland display socket name or path")
	flags.String("log-level", "", "log level (debug, info, warn, error)")

	_ = viper.BindPFlag("display.socket", flags.Lookup("display"))
	_ = viper.BindPFlag("logging.log_level", flags.Lookup("log-level"))
}

func viewerArgs(cmd *cobra.Command, args []string) error {
	if len(args) < 3 {
		return fmt.Errorf("requires THEME, SIZE and at least one CURSOR_NAME, got %d argument(s)", len(args))
	}
	return nil
}

func initConfig(cmd *cobra.Command, args []string) error {
	if configFile != "" {
		config.SetConfigPath(configFile)
	}
	if err := config.Init(); err != nil {
		return err
	}
	if level := config.Get().Logging.LogLevel; level != "" {
		logger.SetLevel(level)
	}
	return nil
}

func runViewer(cmd *cobra.Command, args []string) error {
	// past argument validation, failures are not usage errors
	cmd.SilenceUsage = true

	theme, size, names := args[0], parseSize(args[1]), args[2:]
	cfg := config.Get()

	// installed first so an interrupt during the bootstrap still ends in
	// an orderly teardown
	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()
	stop := notifyInterrupt(cancel)
	defer stop()

	v, err := viewer.Connect(cfg.Display.Socket)
	if err != nil {
		return fmt.Errorf("failed to connect to compositor: %w", err)
	}
	defer func() {
		if err := v.Close(); err != nil {
			logger.Warnf("Teardown finished with errors: %v", err)
		}
	}()

	if err := v.LoadTheme(theme, size, cfg.Cursor.SearchPaths); err != nil {
		return err
	}
	if err := v.ShowCursors(names); err != nil {
		return err
	}

	if err := v.Run(ctx); err != nil {
		logger.Errorf("Event loop stopped: %v", err)
	}
	return nil
}

// notifyInterrupt calls cancel on the first SIGINT. It is one-shot: the
// default disposition is restored, so a second SIGINT kills the process.
func notifyInterrupt(cancel context.CancelFunc) (stop func()) {
	sigCh := make(chan os.Signal, 1)
	done := make(chan struct{})
	signal.Notify(sigCh, os.Interrupt)

	go func() {
		select {
		case <-sigCh:
			signal.Reset(os.Interrupt)
			logger.Info("Interrupted, shutting down")
			cancel()
		case <-done:
		}
	}()

	return func() {
		signal.Stop(sigCh)
		close(done)
	}
}

// parseSize reads the leading decimal integer of s the way atoi does:
// leading blanks and one sign are accepted, anything unparsable is 0.
func parseSize(s string) int {
	i := 0
	for i < len(s) && (s[i] == ' ' || (s[i] >= '\t' && s[i] <= '\r')) {
		i++
	}

	neg := false
	if i < len(s) && (s[i] == '+' || s[i] == '-') {
		neg = s[i] == '-'
		i++
	}

	n := 0
	for ; i < len(s) && s[i] >= '0' && s[i] <= '9'; i++ {
		n = n*10 + int(s[i]-'0')
		if n > 1<<31-1 {
			n = 1<<31 - 1
		}
	}
	if neg {
		return -n
	}
	return n
}
