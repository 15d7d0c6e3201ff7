// Package main implements afx, the operator CLI for a running autofixd.
package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/fyrsmithlabs/autofixd/internal/monitor"
)

// version information
var version = "dev"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

// options are the persistent flags shared by every command.
type options struct {
	serverURL string
	natsURL   string
	jsonOut   bool
}

func (o *options) client() *monitor.Client {
	return monitor.NewClient(o.serverURL)
}

// print writes v as indented JSON when --json is set, otherwise text.
func (o *options) print(w io.Writer, v any, text string) error {
	if !o.jsonOut {
		_, err := fmt.Fprintln(w, strings.TrimRight(text, "\n"))
		return err
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func newRootCmd() *cobra.Command {
	opts := &options{}
	root := &cobra.Command{
		Use:   "afx",
		Short: "CLI for the autofixd remediation daemon",
		Long: `afx talks to a running autofixd over its HTTP control surface.
It can inspect engine state, toggle the dispatcher and planner, run
macros, publish synthetic events and open a live dashboard.`,
		Version:      version,
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVar(&opts.serverURL, "server", envOr("AFX_SERVER", "http://localhost:9090"), "autofixd server URL")
	root.PersistentFlags().StringVar(&opts.natsURL, "nats", envOr("AFX_NATS", "nats://localhost:4222"), "NATS URL for emit")
	root.PersistentFlags().BoolVar(&opts.jsonOut, "json", false, "print raw JSON responses")

	root.AddCommand(
		newHealthCmd(opts),
		newStatusCmd(opts),
		newMemoryCmd(opts),
		newDispatcherCmd(opts),
		newPlannerCmd(opts),
		newResetCmd(opts),
		newEvolveCmd(opts),
		newMacroCmd(opts),
		newEmitCmd(opts),
		newMonitorCmd(opts),
	)
	return root
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
