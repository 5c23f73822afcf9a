package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/mobilesync/replicore/internal/registry"
	"github.com/mobilesync/replicore/internal/replconfig"
	"github.com/mobilesync/replicore/internal/replicator"
	"github.com/mobilesync/replicore/internal/transport"
	"github.com/mobilesync/replicore/internal/wstransport"
)

// replicateFlags is the flag set shared by push and pull: the two
// directions differ only in Direction and which filter flag applies.
type replicateFlags struct {
	local      string
	remote     string
	username   string
	password   string
	filterName string
	header     []string
}

func addReplicateFlags(cmd *cobra.Command, f *replicateFlags) {
	cmd.Flags().StringVar(&f.local, "local", "", "local datastore handle")
	cmd.Flags().StringVar(&f.remote, "remote", "", "remote endpoint URL")
	cmd.Flags().StringVar(&f.username, "username", "", "remote username (enables cookie-session auth)")
	cmd.Flags().StringVar(&f.password, "password", "", "remote password (enables cookie-session auth)")
	cmd.Flags().StringVar(&f.filterName, "filter", "", "remote-side filter name (pull only)")
	cmd.Flags().StringArrayVar(&f.header, "header", nil, "extra request header as Name: Value (repeatable)")
}

func (f *replicateFlags) buildConfig(direction replconfig.Direction) (replconfig.Config, error) {
	cfg := replconfig.Config{
		Direction: direction,
		Local:     f.local,
		Remote:    f.remote,
		Username:  f.username,
		Password:  f.password,
	}
	if direction == replconfig.Pull {
		cfg.FilterName = f.filterName
	}
	if len(f.header) > 0 {
		cfg.OptionalHeaders = parseHeaders(f.header)
	}
	if err := cfg.Validate(); err != nil {
		return replconfig.Config{}, err
	}
	return cfg, nil
}

func parseHeaders(raw []string) map[string][]string {
	out := map[string][]string{}
	for _, h := range raw {
		name, value, ok := splitHeader(h)
		if !ok {
			continue
		}
		out[name] = append(out[name], value)
	}
	return out
}

func splitHeader(s string) (name, value string, ok bool) {
	for i := 0; i < len(s); i++ {
		if s[i] == ':' {
			return s[:i], trimLeadingSpace(s[i+1:]), true
		}
	}
	return "", "", false
}

func trimLeadingSpace(s string) string {
	i := 0
	for i < len(s) && s[i] == ' ' {
		i++
	}
	return s[i:]
}

// runReplication wires a Controller over the websocket reference
// transport, starts it, and blocks (printing progress) until it reaches a
// terminal state.
func runReplication(cfg replconfig.Config, push bool) error {
	reg := registry.New(transport.Factory(wstransport.New), replicator.NewMetrics(nil))

	_, controller, err := reg.Create(cfg, transport.Options{Push: push})
	if err != nil {
		return fmt.Errorf("replicatectl: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := controller.Start(ctx); err != nil {
		return fmt.Errorf("replicatectl: start failed: %w", err)
	}

	for controller.IsActive() {
		time.Sleep(200 * time.Millisecond)
		fmt.Fprintf(os.Stdout, "\r%s: %d/%d changes", controller.State(),
			controller.ChangesProcessed(), controller.ChangesTotal())
	}
	fmt.Fprintln(os.Stdout)

	if err := controller.Err(); err != nil {
		return fmt.Errorf("replicatectl: replication ended in error: %w", err)
	}
	fmt.Fprintf(os.Stdout, "replication finished: %s\n", controller.State())
	return nil
}

var pushFlags replicateFlags

var pushCmd = &cobra.Command{
	Use:   "push",
	Short: "Replicate local changes to a remote endpoint",
	RunE: func(_ *cobra.Command, _ []string) error {
		cfg, err := pushFlags.buildConfig(replconfig.Push)
		if err != nil {
			return err
		}
		return runReplication(cfg, true)
	},
}

var pullFlags replicateFlags

var pullCmd = &cobra.Command{
	Use:   "pull",
	Short: "Replicate changes from a remote endpoint to the local datastore",
	RunE: func(_ *cobra.Command, _ []string) error {
		cfg, err := pullFlags.buildConfig(replconfig.Pull)
		if err != nil {
			return err
		}
		return runReplication(cfg, false)
	},
}

func init() {
	addReplicateFlags(pushCmd, &pushFlags)
	addReplicateFlags(pullCmd, &pullFlags)
	rootCmd.AddCommand(pushCmd, pullCmd)
}
