package root

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/MakeNowJust/heredoc/v2"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"github.com/squebler/stopwatch/cmd/stopwatch/root/config"
	"github.com/squebler/stopwatch/cmd/stopwatch/root/version"
	"github.com/squebler/stopwatch/internal/cliutil"
	"github.com/squebler/stopwatch/internal/stopwatch"
	"github.com/squebler/stopwatch/internal/terminal"
	"github.com/squebler/stopwatch/pkg/app"
)

// configKeys are the persistent flags that are also config file and
// environment keys.
var configKeys = []string{"poll-interval", "sample-interval", "refresh-interval", "close-timeout", "log-level", "log-file"}

func bindFlags(root *cobra.Command) error {
	flags := root.PersistentFlags()
	for _, name := range configKeys {
		if err := viper.BindPFlag(name, flags.Lookup(name)); err != nil {
			return fmt.Errorf("failed to bind flag %s: %w", name, err)
		}
	}
	return nil
}

func NewRootCmd() *cobra.Command {
	var closeLog func() error

	cmd := &cobra.Command{
		Use:   "stopwatch",
		Short: "A terminal stopwatch",
		Long: heredoc.Doc(`
			A stopwatch with start, stop and reset. Stopping keeps the time;
			starting again resumes from it. Reset stops and returns to zero.
		`),
		Example: heredoc.Doc(`
			# Run the stopwatch (s: start, x: stop, r: reset, q: quit)
			$ stopwatch

			# Repaint less often and log debug output to a file
			$ stopwatch --refresh-interval 50ms --log-level debug --log-file stopwatch.log
		`),
		Args:         cobra.NoArgs,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if err := bindFlags(cmd.Root()); err != nil {
				return err
			}
			var err error
			closeLog, err = cliutil.ConfigureLogging(viper.GetString("log-level"), viper.GetString("log-file"))
			return err
		},
		PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
			if closeLog == nil {
				return nil
			}
			return closeLog()
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			cfg := app.Config{
				PollInterval:    viper.GetDuration("poll-interval"),
				SampleInterval:  viper.GetDuration("sample-interval"),
				RefreshInterval: viper.GetDuration("refresh-interval"),
				CloseTimeout:    viper.GetDuration("close-timeout"),
			}
			return app.New(cfg, cmd.InOrStdin(), cmd.OutOrStdout()).Run(ctx)
		},
	}

	defaults := app.DefaultConfig()
	flags := cmd.PersistentFlags()
	flags.Duration("poll-interval", stopwatch.DefaultPollInterval, "How often the timekeeping loop checks for start, stop and reset")
	flags.Duration("sample-interval", stopwatch.DefaultSampleInterval, "How often a running stopwatch is sampled")
	flags.Duration("refresh-interval", terminal.DefaultRefreshInterval, "How often the display is repainted")
	flags.Duration("close-timeout", defaults.CloseTimeout, "How long quitting waits for sampling to stop before the process is killed")
	flags.String("log-level", "warn", "Log level (debug, info, warn, error)")
	flags.String("log-file", "", "Write logs to this file instead of stderr")

	cmd.AddCommand(version.NewVersionCmd())
	cmd.AddCommand(config.NewConfigCmd())

	return cmd
}
