package monitor

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/NimbleMarkets/ntcharts/sparkline"
	"github.com/charmbracelet/bubbles/progress"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	api "github.com/fyrsmithlabs/autofixd/internal/http"
	"github.com/fyrsmithlabs/autofixd/internal/memory"
)

const (
	sparkWidth    = 32
	sparkHeight   = 2
	maxSamples    = 32
	recentEntries = 6
	fetchTimeout  = 5 * time.Second
)

// Model is the bubbletea dashboard model.
type Model struct {
	client     *Client
	interval   time.Duration
	lastUpdate time.Time
	status     api.StatusResponse
	snapshot   memory.Snapshot
	flash      string
	err        error
	quitting   bool

	// events processed per refresh, for the sparkline
	lastProcessed int64
	haveBaseline  bool
	throughput    []float64

	applyProgress progress.Model
}

// Palette: amber accents on a dark terminal, with traffic-light states.
const (
	colAccent = lipgloss.Color("214")
	colLabel  = lipgloss.Color("180")
	colValue  = lipgloss.Color("255")
	colDim    = lipgloss.Color("242")
	colOK     = lipgloss.Color("71")
	colWarn   = lipgloss.Color("220")
	colFail   = lipgloss.Color("160")
	colFrame  = lipgloss.Color("94")
)

func fg(c lipgloss.Color) lipgloss.Style { return lipgloss.NewStyle().Foreground(c) }

var (
	headerStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("16")).Background(colAccent).Bold(true).Padding(0, 1)
	sectionStyle   = fg(colAccent).Bold(true).MarginTop(1)
	labelStyle     = fg(colLabel)
	valueStyle     = fg(colValue).Bold(true)
	dimStyle       = fg(colDim)
	healthyStyle   = fg(colOK).Bold(true)
	warningStyle   = fg(colWarn).Bold(true)
	errorStyle     = fg(colFail).Bold(true)
	footerStyle    = fg(colDim).MarginTop(1)
	footerKeyStyle = fg(colAccent).Bold(true)
	sparklineStyle = fg(colAccent)
	containerStyle = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).BorderForeground(colFrame).Padding(1, 2)
)

// NewModel creates a dashboard polling client every interval.
func NewModel(client *Client, interval time.Duration) Model {
	return Model{
		client:   client,
		interval: interval,
		applyProgress: progress.New(
			progress.WithGradient("#ffff00", "#00ff00"),
			progress.WithWidth(40),
		),
		throughput: make([]float64, 0, maxSamples),
	}
}

type tickMsg time.Time

type stateMsg struct {
	status   api.StatusResponse
	snapshot memory.Snapshot
}

type errMsg struct{ err error }

// flashMsg reports the outcome of an operator action.
type flashMsg string

func (m Model) Init() tea.Cmd {
	return tea.Batch(tick(m.interval), fetchState(m.client))
}

func tick(interval time.Duration) tea.Cmd {
	return tea.Tick(interval, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

func fetchState(c *Client) tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), fetchTimeout)
		defer cancel()

		status, err := c.Status(ctx)
		if err != nil {
			return errMsg{err}
		}
		snap, err := c.Memory(ctx)
		if err != nil {
			return errMsg{err}
		}
		return stateMsg{status: status, snapshot: snap}
	}
}

// act runs an operator action, then refreshes.
func act(c *Client, fn func(context.Context, *Client) (string, error)) tea.Cmd {
	return tea.Sequence(func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), fetchTimeout)
		defer cancel()
		msg, err := fn(ctx, c)
		if err != nil {
			return flashMsg("error: " + err.Error())
		}
		return flashMsg(msg)
	}, fetchState(c))
}

func togglePlanner(enable bool) func(context.Context, *Client) (string, error) {
	return func(ctx context.Context, c *Client) (string, error) {
		resp, err := c.SetPlanner(ctx, enable)
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("planner enabled=%v", resp.Enabled), nil
	}
}

func toggleDispatcher(start bool) func(context.Context, *Client) (string, error) {
	return func(ctx context.Context, c *Client) (string, error) {
		f := c.StopDispatcher
		if start {
			f = c.StartDispatcher
		}
		resp, err := f(ctx)
		if err != nil {
			return "", err
		}
		return "dispatcher " + resp.State, nil
	}
}

func runTick(ctx context.Context, c *Client) (string, error) {
	d, status, err := c.Tick(ctx)
	if err != nil {
		return "", err
	}
	if d == nil {
		return "tick: " + string(status), nil
	}
	return fmt.Sprintf("tick: %s (%.2f) success=%v", d.Action, d.Confidence, d.Success), nil
}

func runEvolve(ctx context.Context, c *Client) (string, error) {
	actions, err := c.Evolve(ctx)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("evolve: %d rule change(s)", len(actions)), nil
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			m.quitting = true
			return m, tea.Quit
		case "r":
			return m, fetchState(m.client)
		case "t":
			return m, act(m.client, runTick)
		case "e":
			return m, act(m.client, runEvolve)
		case "p":
			return m, act(m.client, togglePlanner(!m.status.Engine.PlannerEnabled))
		case "d":
			return m, act(m.client, toggleDispatcher(m.status.Engine.Dispatcher != "active"))
		}

	case tickMsg:
		return m, tea.Batch(tick(m.interval), fetchState(m.client))

	case stateMsg:
		processed := msg.status.Engine.DispatcherStats.Processed
		if m.haveBaseline {
			delta := processed - m.lastProcessed
			if delta < 0 {
				delta = 0
			}
			m.throughput = pushSample(m.throughput, float64(delta))
		}
		m.lastProcessed = processed
		m.haveBaseline = true
		m.status = msg.status
		m.snapshot = msg.snapshot
		m.lastUpdate = time.Now()
		m.err = nil
		return m, nil

	case flashMsg:
		m.flash = string(msg)
		return m, nil

	case errMsg:
		m.err = msg.err
		return m, nil
	}
	return m, nil
}

func (m Model) View() string {
	if m.quitting {
		return ""
	}
	if m.err != nil {
		return m.renderError()
	}
	return m.renderDashboard()
}

func (m Model) renderError() string {
	var b strings.Builder
	b.WriteString(headerStyle.Render(" autofixd Monitor ") + "\n\n")
	b.WriteString(errorStyle.Render("⚠ Cannot reach autofixd") + "\n\n")
	b.WriteString(dimStyle.Render("URL: ") + valueStyle.Render(m.client.BaseURL()) + "\n")
	b.WriteString(dimStyle.Render("Error: ") + errorStyle.Render(m.err.Error()) + "\n\n")
	b.WriteString(footerStyle.Render("[q] quit  [r] retry"))
	return containerStyle.Render(b.String())
}

func (m Model) renderDashboard() string {
	st := m.status.Engine
	var b strings.Builder

	lastUpdate := "never"
	if !m.lastUpdate.IsZero() {
		lastUpdate = m.lastUpdate.Format("15:04:05")
	}
	uptime := "-"
	if st.StartedAt != nil && !m.lastUpdate.IsZero() {
		uptime = FormatDuration(m.lastUpdate.Sub(*st.StartedAt))
	}
	b.WriteString(headerStyle.Render(" autofixd Monitor ") + "\n")
	b.WriteString(fmt.Sprintf("%s   %s %s   %s\n",
		engineBadge(st.Running, st.Connected),
		dimStyle.Render("Uptime:"), valueStyle.Render(uptime),
		dimStyle.Render(lastUpdate)))

	// Dispatcher
	stats := st.DispatcherStats
	b.WriteString("\n" + sectionStyle.Render("┃ Dispatcher") + "\n")
	b.WriteString(labelStyle.Render("  State: ") + stateBadge(string(st.Dispatcher) == "active", string(st.Dispatcher)) +
		labelStyle.Render("   Events/refresh: ") + throughputChart(m.throughput) + "\n")
	b.WriteString(labelStyle.Render("  Processed: ") + valueStyle.Render(fmt.Sprint(stats.Processed)) +
		labelStyle.Render("  Applied: ") + valueStyle.Render(fmt.Sprint(stats.Applied)) +
		labelStyle.Render("  Suggested: ") + valueStyle.Render(fmt.Sprint(stats.Suggested)) +
		labelStyle.Render("  Failed: ") + valueStyle.Render(fmt.Sprint(stats.Failed)) + "\n")
	ratio := 0.0
	if stats.Processed > 0 {
		ratio = float64(stats.Applied) / float64(stats.Processed)
	}
	b.WriteString(labelStyle.Render("  Auto-applied: ") + m.applyProgress.ViewAs(ratio) +
		" " + dimStyle.Render(FormatRatio(stats.Applied, stats.Processed)) + "\n")

	// Planner
	b.WriteString("\n" + sectionStyle.Render("┃ Planner") + "\n")
	b.WriteString(labelStyle.Render("  Enabled: ") + stateBadge(st.PlannerEnabled, fmt.Sprint(st.PlannerEnabled)) +
		labelStyle.Render("  Interval: ") + valueStyle.Render(st.PlannerInterval.String()) + "\n")
	if d := st.LastDecision; d != nil {
		b.WriteString(labelStyle.Render("  Last: ") + valueStyle.Render(d.Action) +
			dimStyle.Render(fmt.Sprintf(" (%.2f) %s", d.Confidence, d.Reason)) + " " +
			stateBadge(d.Success, map[bool]string{true: "ok", false: "failed"}[d.Success]) + "\n")
	}

	// Stability and balance
	b.WriteString("\n" + sectionStyle.Render("┃ Stability") + "\n")
	if len(m.snapshot.StabilityMetrics) == 0 {
		b.WriteString(dimStyle.Render("  no metrics yet") + "\n")
	}
	for _, key := range sortedKeys(m.snapshot.StabilityMetrics) {
		sm := m.snapshot.StabilityMetrics[key]
		b.WriteString(fmt.Sprintf("  %s %s %s\n",
			stabilityBadge(sm.Status),
			labelStyle.Render(key+":"),
			valueStyle.Render(fmt.Sprintf("%.2f", sm.Value))+dimStyle.Render(fmt.Sprintf(" / %.2f", sm.Threshold))))
	}
	for _, key := range sortedKeys(m.snapshot.BalanceMetrics) {
		bm := m.snapshot.BalanceMetrics[key]
		b.WriteString(fmt.Sprintf("  %s %s %s\n",
			dimStyle.Render("≈"),
			labelStyle.Render(key+":"),
			valueStyle.Render(fmt.Sprintf("%.2f", bm.Value))+
				dimStyle.Render(fmt.Sprintf(" target %.2f dev %s", bm.Target, FormatSigned(bm.Deviation)))))
	}

	// Patterns
	if len(m.snapshot.Patterns) > 0 {
		b.WriteString("\n" + sectionStyle.Render("┃ Patterns") + "\n")
		for _, key := range sortedKeys(m.snapshot.Patterns) {
			p := m.snapshot.Patterns[key]
			b.WriteString(labelStyle.Render("  "+key+": ") + valueStyle.Render(fmt.Sprintf("%g", p.Value)) +
				dimStyle.Render(fmt.Sprintf(" conf %.2f", p.Confidence)) + "\n")
		}
	}

	// Recent history, newest first
	b.WriteString("\n" + sectionStyle.Render("┃ Recent") + "\n")
	h := m.snapshot.History
	if len(h) == 0 {
		b.WriteString(dimStyle.Render("  nothing yet") + "\n")
	}
	for i := len(h) - 1; i >= 0 && i >= len(h)-recentEntries; i-- {
		e := h[i]
		what := e.Action
		if what == "" {
			what = e.Detail
		}
		b.WriteString(fmt.Sprintf("  %s %s %s %s\n",
			dimStyle.Render(e.Timestamp.Format("15:04:05")),
			stateBadge(e.Success, "●"),
			labelStyle.Render(e.Type),
			valueStyle.Render(what)))
	}

	if m.flash != "" {
		b.WriteString("\n" + warningStyle.Render(m.flash) + "\n")
	}

	footer := footerKeyStyle.Render("[q]") + footerStyle.Render(" quit  ") +
		footerKeyStyle.Render("[r]") + footerStyle.Render(" refresh  ") +
		footerKeyStyle.Render("[t]") + footerStyle.Render(" tick  ") +
		footerKeyStyle.Render("[e]") + footerStyle.Render(" evolve  ") +
		footerKeyStyle.Render("[p]") + footerStyle.Render(" planner  ") +
		footerKeyStyle.Render("[d]") + footerStyle.Render(" dispatcher  ") +
		footerStyle.Render(fmt.Sprintf("Auto: %v", m.interval))
	b.WriteString("\n" + footer)

	return containerStyle.Render(b.String())
}

func engineBadge(running, connected bool) string {
	switch {
	case !running:
		return errorStyle.Render("✗ STOPPED")
	case !connected:
		return warningStyle.Render("⚠ DISCONNECTED")
	default:
		return healthyStyle.Render("✓ RUNNING")
	}
}

func stateBadge(ok bool, text string) string {
	if ok {
		return healthyStyle.Render(text)
	}
	return warningStyle.Render(text)
}

func stabilityBadge(s memory.Status) string {
	switch s {
	case memory.StatusCritical:
		return errorStyle.Render("[✗]")
	case memory.StatusUnstable:
		return warningStyle.Render("[⚠]")
	default:
		return healthyStyle.Render("[✓]")
	}
}

func throughputChart(samples []float64) string {
	if len(samples) == 0 {
		return dimStyle.Render("waiting for samples")
	}
	sl := sparkline.New(sparkWidth, sparkHeight)
	sl.PushAll(samples)
	sl.Draw()
	return sparklineStyle.Render(sl.View())
}

// pushSample appends v and keeps the newest maxSamples.
func pushSample(samples []float64, v float64) []float64 {
	samples = append(samples, v)
	if n := len(samples); n > maxSamples {
		samples = samples[n-maxSamples:]
	}
	return samples
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
