// Command replicatectl is a thin CLI façade over the replicator package:
// it parses flags into a replconfig.Config, wires a store/transport pair,
// and drives the controller or conflict engine for manual smoke testing.
// It carries no replication semantics of its own (spec.md Non-goals) —
// only wiring.
//
// Grounded on the teacher's cmd/bd command tree (one cobra.Command per
// subcommand) and internal/config's viper singleton for config-file + env
// overlay, shrunk to the surface this module actually needs.
package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "replicatectl",
	Short: "Drive replicore push/pull replication and conflict resolution from the command line",
}

func initConfig() {
	v := viper.New()
	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else {
		v.SetConfigName("replicatectl")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		if home, err := os.UserHomeDir(); err == nil {
			v.AddConfigPath(home)
		}
	}

	v.SetEnvPrefix("REPLICATECTL")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if _, notFound := err.(viper.ConfigFileNotFoundError); !notFound {
			fmt.Fprintf(os.Stderr, "replicatectl: error reading config file: %v\n", err)
		}
	}

	bindFlagsToViper(rootCmd, v)
}

// bindFlagsToViper lets a config file or REPLICATECTL_* env var supply any
// flag the user didn't pass explicitly on the command line.
func bindFlagsToViper(root *cobra.Command, v *viper.Viper) {
	root.Flags().VisitAll(func(f *pflag.Flag) {
		if !f.Changed && v.IsSet(f.Name) {
			_ = root.Flags().Set(f.Name, v.GetString(f.Name))
		}
	})
	for _, c := range root.Commands() {
		bindFlagsToViper(c, v)
	}
}

func init() {
	cobra.OnInitialize(initConfig)
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: ./replicatectl.yaml or $HOME/replicatectl.yaml)")
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
