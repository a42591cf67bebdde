package main

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"runtime/debug"
	"strings"

	"github.com/charmbracelet/log"
	"github.com/mitchellh/go-homedir"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"github.com/squebler/stopwatch/cmd/stopwatch/root"
)

var (
	cfgFile string
	cmd     = root.NewRootCmd()
)

func init() {
	cobra.OnInitialize(initConfig)
	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "Config file (default is $HOME/.stopwatch.yaml)")
}

// main is the outermost fault boundary. Any panic or command failure ends the
// process with an explicit exit so no background goroutine can keep it alive.
func main() {
	defer func() {
		if r := recover(); r != nil {
			log.Error("Unrecoverable fault", "panic", r, "stack", string(debug.Stack()))
			os.Exit(1)
		}
	}()

	if err := cmd.Execute(); err != nil {
		log.Error("Stopwatch failed", "error", err)
		os.Exit(1)
	}
}

func initConfig() {
	viper.SetEnvPrefix("stopwatch")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()

	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else if home, err := homedir.Dir(); err == nil {
		viper.AddConfigPath(home)
		viper.SetConfigName(".stopwatch")
		viper.SetConfigType("yaml")
	}

	// Running without a config file uses the flag defaults; only
	// `config set` creates one.
	if err := viper.ReadInConfig(); err != nil && !missingConfig(err) {
		fmt.Println("Can't read config:", err)
		os.Exit(1)
	}
}

func missingConfig(err error) bool {
	var notFound viper.ConfigFileNotFoundError
	return errors.As(err, &notFound) || errors.Is(err, fs.ErrNotExist)
}
