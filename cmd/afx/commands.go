package main

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/fyrsmithlabs/autofixd/internal/macro"
	"github.com/fyrsmithlabs/autofixd/internal/monitor"
	"github.com/fyrsmithlabs/autofixd/internal/planner"
)

func newHealthCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "health",
		Short: "Check autofixd health",
		Long: `Check the health of a running autofixd.

Examples:
  # Check health
  afx health

  # Check health on a different server
  afx health --server http://localhost:9191`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			h, err := opts.client().Health(cmd.Context())
			if err != nil {
				return err
			}
			return opts.print(cmd.OutOrStdout(), h, fmt.Sprintf(
				"Server Status: %s\nServer URL: %s\nConnected: %t",
				h.Status, opts.serverURL, h.Connected))
		},
	}
}

func newStatusCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show engine, dispatcher and planner state",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			st, err := opts.client().Status(cmd.Context())
			if err != nil {
				return err
			}
			e := st.Engine
			var b strings.Builder
			fmt.Fprintf(&b, "Engine:     %s (%s)\n", e.ID, onOff(e.Running, "running", "stopped"))
			fmt.Fprintf(&b, "Version:    %s\n", st.Version)
			fmt.Fprintf(&b, "Connected:  %t\n", e.Connected)
			fmt.Fprintf(&b, "Dispatcher: %s  processed=%d applied=%d suggested=%d failed=%d dropped=%d (%s applied)\n",
				e.Dispatcher, e.DispatcherStats.Processed, e.DispatcherStats.Applied,
				e.DispatcherStats.Suggested, e.DispatcherStats.Failed, e.DispatcherStats.Dropped,
				monitor.FormatRatio(e.DispatcherStats.Applied, e.DispatcherStats.Processed))
			fmt.Fprintf(&b, "Planner:    %s every %s\n", onOff(e.PlannerEnabled, "enabled", "disabled"), e.PlannerInterval)
			if d := e.LastDecision; d != nil {
				fmt.Fprintf(&b, "Last:       %s (%s) %s\n", d.Action, monitor.FormatPercentage(d.Confidence), d.Reason)
			}
			if e.StartedAt != nil {
				fmt.Fprintf(&b, "Uptime:     %s\n", monitor.FormatDuration(time.Since(*e.StartedAt)))
			}
			fmt.Fprintf(&b, "History:    %d entries", e.HistoryLen)
			if len(e.CriticalStability) > 0 {
				fmt.Fprintf(&b, "\nCritical:   %s", strings.Join(e.CriticalStability, ", "))
			}
			return opts.print(cmd.OutOrStdout(), st, b.String())
		},
	}
}

func newMemoryCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "memory",
		Short: "Show the shared memory snapshot",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			snap, err := opts.client().Memory(cmd.Context())
			if err != nil {
				return err
			}
			var b strings.Builder
			b.WriteString("Patterns:\n")
			for _, k := range sortedKeys(snap.Patterns) {
				p := snap.Patterns[k]
				fmt.Fprintf(&b, "  %-28s %8.3f  conf=%s  seen=%d\n", k, p.Value, monitor.FormatPercentage(p.Confidence), p.Occurrences)
			}
			b.WriteString("Stability:\n")
			for _, k := range sortedKeys(snap.StabilityMetrics) {
				m := snap.StabilityMetrics[k]
				fmt.Fprintf(&b, "  %-28s %8.3f  threshold=%.3f  %s\n", k, m.Value, m.Threshold, m.Status)
			}
			b.WriteString("Balance:\n")
			for _, k := range sortedKeys(snap.BalanceMetrics) {
				m := snap.BalanceMetrics[k]
				fmt.Fprintf(&b, "  %-28s %8.3f  target=%.3f  deviation=%s\n", k, m.Value, m.Target, monitor.FormatSigned(m.Deviation))
			}
			fmt.Fprintf(&b, "History: %d entries", len(snap.History))
			return opts.print(cmd.OutOrStdout(), snap, b.String())
		},
	}
}

func newDispatcherCmd(opts *options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "dispatcher",
		Short: "Start or stop the event dispatcher",
	}
	for _, start := range []bool{true, false} {
		cmd.AddCommand(&cobra.Command{
			Use:   onOff(start, "start", "stop"),
			Short: onOff(start, "Start", "Stop") + " reacting to feed events",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				c := opts.client()
				toggle := c.StopDispatcher
				if start {
					toggle = c.StartDispatcher
				}
				resp, err := toggle(cmd.Context())
				if err != nil {
					return err
				}
				text := "Dispatcher " + resp.State
				if !resp.Changed {
					text += " (unchanged)"
				}
				return opts.print(cmd.OutOrStdout(), resp, text)
			},
		})
	}
	return cmd
}

func newPlannerCmd(opts *options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "planner",
		Short: "Enable, disable or tick the planner",
	}
	for _, enable := range []bool{true, false} {
		cmd.AddCommand(&cobra.Command{
			Use:   onOff(enable, "enable", "disable"),
			Short: onOff(enable, "Enable", "Disable") + " periodic planner ticks",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				resp, err := opts.client().SetPlanner(cmd.Context(), enable)
				if err != nil {
					return err
				}
				return opts.print(cmd.OutOrStdout(), resp, "Planner "+onOff(resp.Enabled, "enabled", "disabled"))
			},
		})
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "tick",
		Short: "Run one planner tick now",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			d, status, err := opts.client().Tick(cmd.Context())
			if err != nil {
				return err
			}
			return opts.print(cmd.OutOrStdout(), tickOutput{Status: status, Decision: d}, formatTick(d, status))
		},
	})
	return cmd
}

type tickOutput struct {
	Status   planner.Status    `json:"status"`
	Decision *planner.Decision `json:"decision,omitempty"`
}

func formatTick(d *planner.Decision, status planner.Status) string {
	if d == nil {
		return "Planner " + string(status)
	}
	var b strings.Builder
	fmt.Fprintf(&b, "Decision: %s (%s)\n", d.Action, monitor.FormatPercentage(d.Confidence))
	fmt.Fprintf(&b, "Reason:   %s\n", d.Reason)
	if d.Macro != "" {
		fmt.Fprintf(&b, "Macro:    %s\n", d.Macro)
	}
	fmt.Fprintf(&b, "Success:  %t", d.Success)
	for _, e := range d.Errors {
		fmt.Fprintf(&b, "\n  error: %s", e)
	}
	return b.String()
}

func newResetCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "reset",
		Short: "Clear the shared memory",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := opts.client().ResetMemory(cmd.Context()); err != nil {
				return err
			}
			return opts.print(cmd.OutOrStdout(), map[string]bool{"reset": true}, "Memory reset")
		},
	}
}

func newEvolveCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "evolve",
		Short: "Run one rule evolution pass",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			actions, err := opts.client().Evolve(cmd.Context())
			if err != nil {
				return err
			}
			if len(actions) == 0 {
				return opts.print(cmd.OutOrStdout(), actions, "No evolution actions")
			}
			var b strings.Builder
			for i, a := range actions {
				if i > 0 {
					b.WriteByte('\n')
				}
				fmt.Fprintf(&b, "%s %s: %g -> %g (%s) %s", a.Kind, a.Parameter, a.From, a.To,
					monitor.FormatPercentage(a.Confidence), a.Reason)
			}
			return opts.print(cmd.OutOrStdout(), actions, b.String())
		},
	}
}

func newMacroCmd(opts *options) *cobra.Command {
	names := make([]string, len(macro.Names))
	for i, n := range macro.Names {
		names[i] = string(n)
	}
	return &cobra.Command{
		Use:       "macro <name>",
		Short:     "Run a named repair macro",
		Long:      "Run a named repair macro. Available macros:\n  " + strings.Join(names, "\n  "),
		Args:      cobra.ExactArgs(1),
		ValidArgs: names,
		RunE: func(cmd *cobra.Command, args []string) error {
			res, err := opts.client().RunMacro(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			var b strings.Builder
			fmt.Fprintf(&b, "Macro %s: %s", args[0], onOff(res.Success, "ok", "failed"))
			for _, a := range res.Actions {
				fmt.Fprintf(&b, "\n  + %s", a)
			}
			for _, e := range res.Errors {
				fmt.Fprintf(&b, "\n  ! %s", e)
			}
			return opts.print(cmd.OutOrStdout(), res, b.String())
		},
	}
}

func onOff(ok bool, yes, no string) string {
	if ok {
		return yes
	}
	return no
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
