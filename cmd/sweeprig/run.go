package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/NimbleMarkets/ntcharts/canvas/runes"
	"github.com/NimbleMarkets/ntcharts/linechart/streamlinechart"

	"github.com/mechanaut/sweeprig/pkg/lifecycle"
	"github.com/mechanaut/sweeprig/pkg/rig"
	"github.com/mechanaut/sweeprig/pkg/sequencer"
)

type RunCommand struct {
	Config   string `long:"config" default:"sweeprig.json" description:"Path to the rig configuration"`
	Headless bool   `long:"headless" description:"Run without the dashboard, logging to stderr"`
}

const (
	headerHeight = 2 // title + blank line
	legendHeight = 2 // legend row + blank
	footerHeight = 7 // log box height
	maxLogs      = 5 // number of log messages to show
	borderSize   = 2 // chart border
)

// Channel line colors, cycled by channel index.
var channelColors = []string{
	"196", // red
	"208", // orange
	"226", // yellow
	"46",  // green
	"51",  // cyan
	"201", // magenta
}

var (
	titleStyle  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("12"))
	chartStyle  = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).BorderForeground(lipgloss.Color("240"))
	statusStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))

	normalStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("10"))
	elevatedStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("11"))
	faultStyle    = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("9"))
)

func (c *RunCommand) Execute(args []string) error {
	cfg, err := rig.LoadFrom(c.Config)
	if err != nil {
		fmt.Fprintf(os.Stderr, "No configuration found at %s: %v\n", c.Config, err)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "Bad configuration: %v\n", err)
		os.Exit(1)
	}
	if cfg.ServoPort == "" || cfg.SensorPort == "" || cfg.OPCAddress == "" {
		fmt.Fprintln(os.Stderr, "Hardware ports not configured. Run 'sweeprig check' first.")
		os.Exit(1)
	}

	b, err := openBoard(cfg)
	if err != nil {
		log.Fatalf("Failed to open hardware: %v", err)
	}

	ctrl, err := lifecycle.New(b, cfg)
	if err != nil {
		b.Close()
		log.Fatalf("Failed to create controller: %v", err)
	}
	defer ctrl.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	errC := make(chan error, 1)
	go func() {
		errC <- ctrl.Start(ctx)
	}()

	if c.Headless {
		return runHeadless(ctrl, cancel, errC)
	}

	p := tea.NewProgram(initialRunModel(ctrl, cfg), tea.WithAltScreen())
	if _, err := p.Run(); err != nil {
		log.Fatalf("Error running program: %v", err)
	}
	cancel()
	if err := <-errC; err != nil && err != context.Canceled {
		return err
	}
	return nil
}

// runHeadless prints the controller's log stream until the rig halts.
// The first interrupt requests a graceful shutdown; a second one stops
// the loop where it stands.
func runHeadless(ctrl *lifecycle.Controller, cancel context.CancelFunc, errC chan error) error {
	sigC := make(chan os.Signal, 2)
	signal.Notify(sigC, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigC)

	interrupted := false
	for {
		select {
		case msg := <-ctrl.Logs():
			fmt.Fprintln(os.Stderr, msg)
		case <-sigC:
			if !interrupted {
				interrupted = true
				if err := ctrl.RequestShutdown(); err != nil {
					fmt.Fprintf(os.Stderr, "shutdown request refused: %v\n", err)
					cancel()
				}
			} else {
				cancel()
			}
		case err := <-errC:
			if err != nil && err != context.Canceled {
				return err
			}
			return nil
		}
	}
}

// Dashboard model, one current trace per channel.
type runModel struct {
	ctrl     *lifecycle.Controller
	chart    *streamlinechart.Model
	channels int
	width    int
	height   int
	logs     []string
	status   sequencer.Status
	quitting bool
}

type stateMsg sequencer.Status
type logMsg string

func waitForState(ctrl *lifecycle.Controller) tea.Cmd {
	return func() tea.Msg {
		return stateMsg(<-ctrl.States())
	}
}

func waitForLog(ctrl *lifecycle.Controller) tea.Cmd {
	return func() tea.Msg {
		return logMsg(<-ctrl.Logs())
	}
}

func initialRunModel(ctrl *lifecycle.Controller, cfg *rig.Config) runModel {
	// Scale the chart to the hottest fault threshold with headroom.
	maxFault := 0.0
	for _, ch := range cfg.Channels {
		if ch.FaultAmps > maxFault {
			maxFault = ch.FaultAmps
		}
	}

	chart := streamlinechart.New(80, 20,
		streamlinechart.WithYRange(0, maxFault*1.5),
	)
	for i := range cfg.Channels {
		style := lipgloss.NewStyle().Foreground(lipgloss.Color(channelColors[i%len(channelColors)]))
		chart.SetDataSetStyles(channelName(i), runes.ThinLineStyle, style)
	}

	return runModel{
		ctrl:     ctrl,
		chart:    &chart,
		channels: len(cfg.Channels),
	}
}

func channelName(i int) string {
	return fmt.Sprintf("ch%02d", i)
}

func (m *runModel) addLog(msg string) {
	m.logs = append(m.logs, msg)
	if len(m.logs) > maxLogs {
		m.logs = m.logs[len(m.logs)-maxLogs:]
	}
}

func (m *runModel) chartSize() (width, height int) {
	if m.width == 0 || m.height == 0 {
		return 80, 20 // default size before we know terminal size
	}
	width = m.width - borderSize - 2
	if width < 40 {
		width = 40
	}
	height = m.height - headerHeight - legendHeight - footerHeight - borderSize
	if height < 10 {
		height = 10
	}
	return width, height
}

func (m *runModel) resizeChart() {
	w, h := m.chartSize()
	m.chart.Resize(w, h)
}

func (m runModel) Init() tea.Cmd {
	return tea.Batch(
		waitForState(m.ctrl),
		waitForLog(m.ctrl),
	)
}

func (m runModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.resizeChart()
		return m, nil

	case tea.KeyMsg:
		switch msg.String() {
		case "q":
			// Graceful: cycle back to the home pose first.
			if err := m.ctrl.RequestShutdown(); err != nil {
				m.addLog(fmt.Sprintf("shutdown request refused: %v", err))
			}
			return m, nil
		case "ctrl+c":
			m.quitting = true
			return m, tea.Quit
		}

	case stateMsg:
		m.status = sequencer.Status(msg)
		for _, cs := range m.status.Channels {
			m.chart.PushDataSet(channelName(cs.Index), cs.Amps)
		}
		m.chart.DrawAll()
		if m.status.State == sequencer.Halted {
			m.quitting = true
			return m, tea.Quit
		}
		return m, waitForState(m.ctrl)

	case logMsg:
		m.addLog(string(msg))
		return m, waitForLog(m.ctrl)
	}

	return m, nil
}

func (m runModel) View() string {
	if m.quitting {
		if m.status.SafeToDisconnect {
			return "Rig halted at home pose. Safe to disconnect power.\n"
		}
		return "Rig stopped.\n"
	}

	var sb strings.Builder

	// Header
	sb.WriteString(titleStyle.Render("sweeprig"))
	sb.WriteString(fmt.Sprintf(" - %s", m.status.State))
	if m.status.State == sequencer.Running || m.status.State == sequencer.ShuttingDown {
		sb.WriteString(statusStyle.Render(fmt.Sprintf("  step %d", m.status.Step)))
	}
	sb.WriteString("\n\n")

	// Chart
	sb.WriteString(chartStyle.Render(m.chart.View()))
	sb.WriteString("\n")

	// Legend: one entry per indicator group with its worst class
	sb.WriteString(m.renderLegend())
	sb.WriteString("\n")

	// Log box
	logStyle := lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(lipgloss.Color("240")).
		Width(m.width - 4).
		Foreground(lipgloss.Color("9"))

	var logLines string
	if len(m.logs) == 0 {
		logLines = statusStyle.Render("Press 'q' for graceful shutdown, ctrl+c to abort")
	} else {
		logLines = strings.Join(m.logs, "\n")
	}
	sb.WriteString(logStyle.Render(logLines))
	sb.WriteString("\n")

	return sb.String()
}

func (m runModel) renderLegend() string {
	groups := rig.Groups(m.channels)
	var items []string
	for _, g := range groups {
		worst := rig.Normal
		degraded := false
		for _, cs := range m.status.Channels {
			for _, ci := range g.Channels {
				if cs.Index != ci {
					continue
				}
				if cs.Class > worst {
					worst = cs.Class
				}
				if cs.Degraded {
					degraded = true
				}
			}
		}

		label := fmt.Sprintf("G%d ch%d-%d", g.Index, g.Channels[0], g.Channels[rig.ChannelsPerGroup-1])
		switch {
		case degraded:
			items = append(items, faultStyle.Render("●")+" "+label+faultStyle.Render(" degraded"))
		case worst == rig.Fault:
			items = append(items, faultStyle.Render("●")+" "+label)
		case worst == rig.Elevated:
			items = append(items, elevatedStyle.Render("●")+" "+label)
		default:
			items = append(items, normalStyle.Render("●")+" "+label)
		}
	}
	return strings.Join(items, "  ")
}
