// Package cmd is the Cobra CLI surface: a root command binding cfg's
// flags and an optional --config-file, plus the mount and version
// subcommands.
package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/backfs-project/backfs/cfg"
	"github.com/backfs-project/backfs/internal/util"
)

var (
	cfgFile       string
	bindErr       error
	configFileErr error
	unmarshalErr  error
	mountConfig   = cfg.Default()
)

var rootCmd = &cobra.Command{
	Use:   "backfs",
	Short: "A user-space block-caching filesystem",
	Long: `BackFS mirrors a backing directory tree through FUSE, caching
reads in fixed-size blocks on a separate, size-bounded cache directory.`,
	SilenceUsage: true,
}

// Execute runs the root command, exiting the process on failure.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config-file", "", "path to a YAML config file")
	bindErr = cfg.BindFlags(rootCmd.PersistentFlags())
	if err := viper.BindPFlags(rootCmd.PersistentFlags()); err != nil && bindErr == nil {
		bindErr = err
	}

	rootCmd.AddCommand(mountCmd)
	rootCmd.AddCommand(versionCmd)
}

func initConfig() {
	if cfgFile == "" {
		unmarshalErr = viper.Unmarshal(&mountConfig)
		return
	}

	resolved, err := util.GetResolvedPath(cfgFile)
	if err != nil {
		configFileErr = fmt.Errorf("resolving config file path: %w", err)
		return
	}
	viper.SetConfigFile(resolved)
	viper.SetConfigType("yaml")

	if err := viper.ReadInConfig(); err != nil {
		configFileErr = fmt.Errorf("reading config file: %w", err)
		return
	}
	unmarshalErr = viper.Unmarshal(&mountConfig)
}

func loadedConfig() (*cfg.Config, error) {
	if bindErr != nil {
		return nil, bindErr
	}
	if configFileErr != nil {
		return nil, configFileErr
	}
	if unmarshalErr != nil {
		return nil, unmarshalErr
	}
	return &mountConfig, nil
}
