package set

import (
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/MakeNowJust/heredoc/v2"
	"github.com/charmbracelet/log"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// ValidConfigKeys defines the allowed configuration keys and how their values
// are checked before being written.
var ValidConfigKeys = map[string]func(string) error{
	"poll-interval":    validateInterval,
	"sample-interval":  validateInterval,
	"refresh-interval": validateInterval,
	"close-timeout":    validateInterval,
	"log-level":        validateLevel,
	"log-file":         func(string) error { return nil },
}

func validateInterval(value string) error {
	d, err := time.ParseDuration(value)
	if err != nil {
		return err
	}
	if d <= 0 {
		return fmt.Errorf("must be positive, got %v", d)
	}
	return nil
}

func validateLevel(value string) error {
	_, err := log.ParseLevel(value)
	return err
}

func keys() []string {
	out := make([]string, 0, len(ValidConfigKeys))
	for key := range ValidConfigKeys {
		out = append(out, key)
	}
	slices.Sort(out)
	return out
}

// writeConfig updates the config file, creating it on first use.
func writeConfig() error {
	err := viper.WriteConfig()
	var notFound viper.ConfigFileNotFoundError
	if errors.As(err, &notFound) {
		return viper.SafeWriteConfig()
	}
	return err
}

func NewSetCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "set <key> <value>",
		Short: "Set a configuration value",
		Long:  `Set a configuration value that will be persisted in the config file.`,
		Example: heredoc.Doc(`
			# Repaint the display every 50 milliseconds
			$ stopwatch config set refresh-interval 50ms

			# Log debug output to a file
			$ stopwatch config set log-level debug
			$ stopwatch config set log-file /tmp/stopwatch.log
		`),
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			key := args[0]
			value := args[1]

			validate, ok := ValidConfigKeys[key]
			if !ok {
				return fmt.Errorf("invalid config key: %s. Valid keys are: %v", key, keys())
			}
			if err := validate(value); err != nil {
				return fmt.Errorf("invalid value for %s: %w", key, err)
			}

			viper.Set(key, value)

			if err := writeConfig(); err != nil {
				return fmt.Errorf("failed to write config: %w", err)
			}

			fmt.Fprintf(cmd.OutOrStdout(), "Successfully set %s = %s\n", key, value)
			return nil
		},
	}

	return cmd
}
