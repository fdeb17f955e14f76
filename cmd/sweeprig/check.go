package main

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/charmbracelet/huh"
	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/hipsterbrown/feetech-servo/feetech"
	"go.bug.st/serial"

	"github.com/mechanaut/sweeprig/pkg/monitor"
	"github.com/mechanaut/sweeprig/pkg/rig"
)

var (
	headerStyle    = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("12"))
	subHeaderStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("14"))
	successStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("10"))
	dimStyle       = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
)

type CheckCommand struct {
	Config string `long:"config" default:"sweeprig.json" description:"Path to the rig configuration"`
}

func (c *CheckCommand) Execute(args []string) error {
	fmt.Println(headerStyle.Render("sweeprig Check"))
	fmt.Println(dimStyle.Render("━━━━━━━━━━━━━━━"))
	fmt.Println()

	cfg, err := rig.LoadFrom(c.Config)
	if err != nil {
		fmt.Fprintf(os.Stderr, "No configuration found at %s: %v\n", c.Config, err)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "Bad configuration: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("Loaded configuration from %s\n", c.Config)
	fmt.Println()

	// Step 1: find the servo bus
	if cfg.ServoPort == "" {
		cfg.ServoPort = findServoBus(cfg.ChannelServoIDs())
		if cfg.ServoPort == "" {
			fmt.Println("No servo bus found. Check wiring and power, or set servo_port in the config.")
			os.Exit(1)
		}
	} else {
		fmt.Printf("Using configured servo bus on %s\n", cfg.ServoPort)
	}

	// Step 2: sample every channel once and report
	fmt.Println()
	fmt.Println(subHeaderStyle.Render("━━━ Channel Report ━━━"))
	fmt.Println()
	reportChannels(cfg)

	// Step 3: optionally exercise the rig through one step
	fmt.Println()
	var exercise bool
	form := huh.NewForm(
		huh.NewGroup(
			huh.NewConfirm().
				Title("Exercise servos through the first step and back home?").
				Description("The rig will move.").
				Value(&exercise),
		),
	)
	if err := form.Run(); err != nil {
		fmt.Println()
		os.Exit(0)
	}
	if exercise {
		exerciseRig(cfg)
	}

	fmt.Println()
	fmt.Println(dimStyle.Render("━━━━━━━━━━━━━━━━━━━━━━━"))
	fmt.Println(successStyle.Render("Check complete!"))
	fmt.Println()
	fmt.Println("Run the choreography with: " + headerStyle.Render("sweeprig run"))

	return nil
}

// findServoBus scans serial ports for a bus answering on every channel's
// servo ID.
func findServoBus(ids []int) string {
	fmt.Println("Scanning for the servo bus...")

	ports, err := serial.GetPortsList()
	if err != nil {
		fmt.Printf("Error listing ports: %v\n", err)
		return ""
	}

	minID, maxID := ids[0], ids[0]
	for _, id := range ids {
		if id < minID {
			minID = id
		}
		if id > maxID {
			maxID = id
		}
	}

	for _, port := range ports {
		// Skip Bluetooth ports on macOS
		if strings.Contains(port, "Bluetooth") {
			continue
		}

		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)

		bus, err := feetech.NewBus(feetech.BusConfig{
			Port:     port,
			BaudRate: 1_000_000,
			Protocol: feetech.ProtocolSTS,
			Timeout:  100 * time.Millisecond,
		})
		if err != nil {
			cancel()
			continue
		}

		servos, err := bus.Scan(ctx, minID, maxID)
		cancel()
		bus.Close()

		if err == nil && hasAllIDs(servos, ids) {
			fmt.Printf("  Found rig bus on %s (%d servos)\n", port, len(ids))
			return port
		}
	}
	return ""
}

func hasAllIDs(servos []feetech.FoundServo, ids []int) bool {
	found := make(map[int]bool, len(servos))
	for _, s := range servos {
		found[s.ID] = true
	}
	for _, id := range ids {
		if !found[id] {
			return false
		}
	}
	return true
}

// reportChannels takes one current sample per channel and prints the
// classification table.
func reportChannels(cfg *rig.Config) {
	if cfg.SensorPort == "" || cfg.OPCAddress == "" {
		fmt.Println("sensor_port and opc_address must be configured for a full report.")
		os.Exit(1)
	}

	b, err := openBoard(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error opening hardware: %v\n", err)
		os.Exit(1)
	}
	defer b.Close()

	mon := monitor.New(b, cfg.ReadTimeout())
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	readings := mon.Sample(ctx)

	tableHeaderStyle := lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("12")).Padding(0, 1)
	cellStyle := lipgloss.NewStyle().Padding(0, 1)
	normalCell := lipgloss.NewStyle().Foreground(lipgloss.Color("10")).Padding(0, 1)
	elevatedCell := lipgloss.NewStyle().Foreground(lipgloss.Color("11")).Padding(0, 1)
	faultCell := lipgloss.NewStyle().Foreground(lipgloss.Color("9")).Padding(0, 1)

	channels := cfg.RigChannels()
	rows := make([][]string, 0, len(channels))
	classes := make([]string, 0, len(channels))
	for i, ch := range channels {
		r := readings[i]
		amps := "-"
		class := "error"
		if r.Err == nil {
			amps = fmt.Sprintf("%.3f", r.Amps)
			class = r.Class.String()
		}
		classes = append(classes, class)
		rows = append(rows, []string{
			fmt.Sprintf("%d", ch.Index),
			fmt.Sprintf("%.0f-%.0f", ch.MinAngle, ch.MaxAngle),
			fmt.Sprintf("%.0f", ch.Home()),
			amps,
			class,
		})
	}

	t := table.New().
		Border(lipgloss.RoundedBorder()).
		BorderStyle(dimStyle).
		Headers("Channel", "Range", "Home", "Amps", "Class").
		Rows(rows...).
		StyleFunc(func(row, col int) lipgloss.Style {
			if row == table.HeaderRow {
				return tableHeaderStyle
			}
			if col == 4 && row >= 0 && row < len(classes) {
				switch classes[row] {
				case "normal":
					return normalCell
				case "elevated":
					return elevatedCell
				default:
					return faultCell
				}
			}
			return cellStyle
		})

	fmt.Println(t.Render())
}

// exerciseRig commands the first step, holds it briefly, and returns the
// rig to the home pose.
func exerciseRig(cfg *rig.Config) {
	b, err := openBoard(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error opening hardware: %v\n", err)
		os.Exit(1)
	}
	defer b.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := b.Enable(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error enabling torque: %v\n", err)
		os.Exit(1)
	}
	defer b.Disable(context.Background())

	steps := cfg.RigSteps()
	fmt.Println("Commanding step 0...")
	for idx, angle := range steps[0].Angles {
		if err := b.SetAngle(ctx, idx, angle); err != nil {
			fmt.Printf("  channel %d: %v\n", idx, err)
		}
	}
	time.Sleep(time.Second)

	fmt.Println("Returning to home pose...")
	for _, ch := range b.Channels() {
		if err := b.SetAngle(ctx, ch.Index, ch.Home()); err != nil {
			fmt.Printf("  channel %d: %v\n", ch.Index, err)
		}
	}
	time.Sleep(time.Second)
	fmt.Println(successStyle.Render("Exercise done."))
}
