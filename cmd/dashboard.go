// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2026 Kaz Walker, Thermoquad

package cmd

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/Thermoquad/mdcstat/internal/logging"
	"github.com/Thermoquad/mdcstat/internal/metrics"
	"github.com/Thermoquad/mdcstat/pkg/roboteq"
)

//////////////////////////////////////////////////////////////
// Constants
//////////////////////////////////////////////////////////////

const (
	dashMaxLogEntries = 100
	dashBatchPeriod   = 50 * time.Millisecond
)

var dashNoTelemetry bool

var dashboardCmd = &cobra.Command{
	Use:   "dashboard",
	Short: "Interactive TUI for monitoring and driving the controller",
	Long: `Monitor and command an MDC2250 from an interactive terminal UI.

The dashboard shows the live status aggregate (motor and battery current,
encoder counts and speed, voltages, fault flags), packet statistics and an
event log of acknowledgements, rejections and decode errors.

Keys:
  x / space   emergency stop (!EX)
  c           clear emergency stop (!MG)
  0           stop both motors (!M 0 0)
  tab or :    command line, Esc to leave
  q           quit

The command line accepts shortcuts:
  g <ch> <cmd>       motor command
  m <cmd1> <cmd2>    dual motor command
  eppr <ch> <ppr>    encoder pulses per revolution
  mrpm <ch> <rpm>    max RPM
  ex, mg, save       emergency stop, clear, save configuration
or any raw command starting with ! ? ~ ^ % #.`,
	RunE: runDashboard,
}

func init() {
	rootCmd.AddCommand(dashboardCmd)
	dashboardCmd.Flags().BoolVar(&dashNoTelemetry, "no-telemetry", false, "Do not program the telemetry string")
}

//////////////////////////////////////////////////////////////
// Types
//////////////////////////////////////////////////////////////

type logEntry struct {
	timestamp time.Time
	message   string
	isError   bool
}

// commandSender is the part of the controller the dashboard drives
type commandSender interface {
	SendCommand(cmd string) error
	Statistics() roboteq.Statistics
}

type dashModel struct {
	ctrl     commandSender
	connInfo string
	device   roboteq.DeviceInfo
	started  time.Time

	status     roboteq.Status
	lastUpdate time.Time
	stats      roboteq.Statistics
	events     []logEntry

	input        textinput.Model
	inputFocused bool

	width          int
	height         int
	quitting       bool
	connectionLost bool
}

//////////////////////////////////////////////////////////////
// Messages
//////////////////////////////////////////////////////////////

type dashTickMsg time.Time

type dashBatchMsg struct {
	events []monitorEvent
}

type dashConnLostMsg struct{}

//////////////////////////////////////////////////////////////
// Model Initialization
//////////////////////////////////////////////////////////////

func initialDashModel(ctrl commandSender, connInfo string, device roboteq.DeviceInfo) dashModel {
	ti := textinput.New()
	ti.Placeholder = "g 1 500"
	ti.Prompt = "> "
	ti.CharLimit = 64
	ti.Width = 40

	return dashModel{
		ctrl:     ctrl,
		connInfo: connInfo,
		device:   device,
		started:  time.Now(),
		input:    ti,
		width:    80,
		height:   24,
	}
}

//////////////////////////////////////////////////////////////
// Bubble Tea Interface
//////////////////////////////////////////////////////////////

func (m dashModel) Init() tea.Cmd {
	return dashTickCmd()
}

func dashTickCmd() tea.Cmd {
	return tea.Tick(time.Second, func(t time.Time) tea.Msg {
		return dashTickMsg(t)
	})
}

func (m dashModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		return m.handleKeyMsg(msg)

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height

	case dashTickMsg:
		m.stats = m.ctrl.Statistics()
		return m, dashTickCmd()

	case dashBatchMsg:
		for _, ev := range msg.events {
			m.applyEvent(ev)
		}

	case dashConnLostMsg:
		m.connectionLost = true
		m.addLogEntry("Connection lost", true)
	}

	if m.inputFocused {
		var cmd tea.Cmd
		m.input, cmd = m.input.Update(msg)
		return m, cmd
	}
	return m, nil
}

func (m dashModel) handleKeyMsg(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	if msg.String() == "ctrl+c" {
		m.quitting = true
		return m, tea.Quit
	}

	if m.inputFocused {
		switch msg.String() {
		case "enter":
			m.submitInput()
			return m, nil
		case "esc", "tab":
			m.inputFocused = false
			m.input.Blur()
			return m, nil
		}
		var cmd tea.Cmd
		m.input, cmd = m.input.Update(msg)
		return m, cmd
	}

	switch msg.String() {
	case "q":
		m.quitting = true
		return m, tea.Quit
	case "tab", ":":
		m.inputFocused = true
		return m, m.input.Focus()
	case "x", " ":
		m.send("emergency stop", roboteq.EmergencyStop())
	case "c":
		m.send("clear emergency stop", roboteq.ClearEmergencyStop())
	case "0":
		m.send("stop motors", roboteq.DualMotorCommand(0, 0))
	}
	return m, nil
}

func (m dashModel) View() string {
	if m.quitting {
		return "Shutting down...\n"
	}

	var s strings.Builder

	titleStyle := lipgloss.NewStyle().
		Bold(true).
		Foreground(lipgloss.Color("12")).
		Background(lipgloss.Color("235")).
		Padding(0, 1)

	headerStyle := lipgloss.NewStyle().
		Foreground(lipgloss.Color("241"))

	labelStyle := lipgloss.NewStyle().
		Foreground(lipgloss.Color("12")).
		Bold(true)

	valueStyle := lipgloss.NewStyle().
		Foreground(lipgloss.Color("10"))

	errorStyle := lipgloss.NewStyle().
		Foreground(lipgloss.Color("9")).
		Bold(true)

	warningStyle := lipgloss.NewStyle().
		Foreground(lipgloss.Color("11"))

	boxStyle := lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(lipgloss.Color("240")).
		Padding(0, 1)

	// Header
	s.WriteString(titleStyle.Render("MDCSTAT DASHBOARD"))
	s.WriteString(" ")
	connStatus := m.connInfo
	if m.connectionLost {
		connStatus = errorStyle.Render("DISCONNECTED")
	}
	s.WriteString(headerStyle.Render(fmt.Sprintf("| %s | q=quit tab=command x=E-STOP", connStatus)))
	s.WriteString("\n")
	if m.device.Model != "" {
		s.WriteString(fmt.Sprintf(" %s %s  %s %s",
			labelStyle.Render("Controller:"), valueStyle.Render(m.device.Model),
			labelStyle.Render("Unit:"), valueStyle.Render(m.device.UnitID)))
	}
	s.WriteString(fmt.Sprintf("  %s %s\n\n",
		labelStyle.Render("Session:"), valueStyle.Render(formatElapsed(time.Since(m.started)))))

	s.WriteString(m.renderStatus(labelStyle, valueStyle, errorStyle, headerStyle, boxStyle))
	s.WriteString("\n")
	s.WriteString(m.renderStatisticsBar(labelStyle, valueStyle, errorStyle, boxStyle))
	s.WriteString("\n")

	// Command line
	if m.inputFocused {
		s.WriteString(m.input.View())
	} else {
		s.WriteString(headerStyle.Render("  (tab for command line)"))
	}
	s.WriteString("\n\n")

	s.WriteString(m.renderEventLog(labelStyle, warningStyle, errorStyle, headerStyle, boxStyle))
	return s.String()
}

//////////////////////////////////////////////////////////////
// View Helpers
//////////////////////////////////////////////////////////////

func (m dashModel) renderStatus(labelStyle, valueStyle, errorStyle, headerStyle, boxStyle lipgloss.Style) string {
	var content strings.Builder
	content.WriteString(labelStyle.Render("STATUS"))
	if !m.lastUpdate.IsZero() {
		content.WriteString(headerStyle.Render(fmt.Sprintf("  updated %s", m.lastUpdate.Format("15:04:05.000"))))
	}
	content.WriteString("\n")

	if m.lastUpdate.IsZero() {
		content.WriteString(headerStyle.Render("No telemetry yet"))
		return boxStyle.Width(m.width - 4).Render(content.String())
	}

	st := m.status
	rows := []struct {
		label string
		value string
	}{
		{"Motor amps:", fmt.Sprintf("M1 %6.1f A   M2 %6.1f A", st.M1Amps, st.M2Amps)},
		{"Battery amps:", fmt.Sprintf("B1 %6.1f A   B2 %6.1f A", st.B1Amps, st.B2Amps)},
		{"Command:", fmt.Sprintf("M1 %6d     M2 %6d", st.M1Cmd, st.M2Cmd)},
		{"Speed:", fmt.Sprintf("E1 %6d RPM E2 %6d RPM", st.E1RPM, st.E2RPM)},
		{"Encoder:", fmt.Sprintf("E1 %d   E2 %d", st.E1Count, st.E2Count)},
		{"Voltage:", fmt.Sprintf("driver %.1f V  battery %.1f V  5V %d mV", st.DriverVoltage, st.BatteryVoltage, st.FiveVoltRail)},
	}
	for _, r := range rows {
		content.WriteString(fmt.Sprintf("%-14s %s\n", labelStyle.Render(r.label), valueStyle.Render(r.value)))
	}

	content.WriteString(labelStyle.Render("Faults:"))
	content.WriteString(" ")
	if st.Faults.Any() {
		content.WriteString(errorStyle.Render(roboteq.FormatFaults(st.Faults)))
	} else {
		content.WriteString(valueStyle.Render("none"))
	}

	return boxStyle.Width(m.width - 4).Render(content.String())
}

func (m dashModel) renderStatisticsBar(labelStyle, valueStyle, errorStyle, boxStyle lipgloss.Style) string {
	var decodedPercent float64
	if m.stats.TotalPackets > 0 {
		decodedPercent = float64(m.stats.QueryPackets+m.stats.ConfigPackets) * 100.0 / float64(m.stats.TotalPackets)
	}

	errs := valueStyle.Render("0")
	if n := m.stats.Errors(); n > 0 {
		errs = errorStyle.Render(strconv.FormatUint(n, 10))
	}

	content := fmt.Sprintf("%s %s  %s %s  %s %s  %s %s  %s %s",
		labelStyle.Render("Total:"), valueStyle.Render(fmt.Sprintf("%d", m.stats.TotalPackets)),
		labelStyle.Render("Decoded:"), valueStyle.Render(fmt.Sprintf("%.1f%%", decodedPercent)),
		labelStyle.Render("Acks:"), valueStyle.Render(fmt.Sprintf("%d/%d", m.stats.Acks, m.stats.Nacks)),
		labelStyle.Render("Errors:"), errs,
		labelStyle.Render("Rate:"), valueStyle.Render(fmt.Sprintf("%.1f pkt/s", m.stats.PacketRate)),
	)
	return boxStyle.Width(m.width - 4).Render(content)
}

func (m dashModel) renderEventLog(labelStyle, warningStyle, errorStyle, headerStyle, boxStyle lipgloss.Style) string {
	var s strings.Builder
	s.WriteString(labelStyle.Render("EVENTS"))
	s.WriteString("\n")

	logHeight := 8
	if len(m.events) < logHeight {
		logHeight = len(m.events)
	}

	if len(m.events) == 0 {
		s.WriteString(headerStyle.Render("  (no events yet)"))
	}
	for _, entry := range m.events[len(m.events)-logHeight:] {
		icon := "i"
		style := warningStyle
		if entry.isError {
			icon = "x"
			style = errorStyle
		}
		s.WriteString(fmt.Sprintf("%s %s %s\n",
			headerStyle.Render(entry.timestamp.Format("15:04:05.000")),
			style.Render(icon),
			entry.message))
	}

	return boxStyle.Width(m.width - 4).Render(s.String())
}

//////////////////////////////////////////////////////////////
// Data Processing
//////////////////////////////////////////////////////////////

func (m *dashModel) applyEvent(ev monitorEvent) {
	res := ev.res
	switch {
	case res.IsQuery():
		if res.Query == roboteq.QueryFaultFlags && ev.status.Faults != m.status.Faults {
			m.addLogEntry("Faults: "+roboteq.FormatFaults(ev.status.Faults), ev.status.Faults.Any())
		}
		m.status = ev.status
		m.lastUpdate = ev.at

	case res.IsConfig():
		m.addLogEntry(fmt.Sprintf("%s: ch1=%d ch2=%d", res.Config, res.ConfigValues[0], res.ConfigValues[1]), false)

	case res.Class == roboteq.ClassAck:
		m.addLogEntry("ACK", false)

	case res.Class == roboteq.ClassNack:
		m.addLogEntry("REJECTED by controller", true)

	case res.Err != nil:
		m.addLogEntry(fmt.Sprintf("DECODE ERROR: %q: %v", res.Packet, res.Err), true)
	}
}

//////////////////////////////////////////////////////////////
// Commands
//////////////////////////////////////////////////////////////

func (m *dashModel) submitInput() {
	text := strings.TrimSpace(m.input.Value())
	m.input.Reset()
	if text == "" {
		return
	}

	command, err := parseDashCommand(text)
	if err != nil {
		metrics.RecordCommand(err)
		m.addLogEntry(fmt.Sprintf("Not sent: %v", err), true)
		return
	}
	m.send(text, command)
}

func (m *dashModel) send(label, command string) {
	if m.connectionLost {
		m.addLogEntry("Cannot send command: connection lost", true)
		return
	}
	err := m.ctrl.SendCommand(command)
	metrics.RecordCommand(err)
	if err != nil {
		m.addLogEntry(fmt.Sprintf("Failed to send %s: %v", label, err), true)
		return
	}
	m.addLogEntry(fmt.Sprintf("Sent %s (%s)", label, strings.TrimSpace(command)), false)
}

// parseDashCommand turns a command line entry into a wire command
func parseDashCommand(text string) (string, error) {
	if strings.ContainsRune("!?~^%#", rune(text[0])) {
		return roboteq.Terminate(text), nil
	}

	fields := strings.Fields(strings.ToLower(text))
	name, args := fields[0], fields[1:]
	values, err := parseInts(args)
	if err != nil {
		return "", err
	}

	want := func(n int) error {
		if len(values) != n {
			return fmt.Errorf("%s takes %d arguments", name, n)
		}
		return nil
	}

	switch name {
	case "g":
		if err := want(2); err != nil {
			return "", err
		}
		return roboteq.MotorCommand(values[0], values[1]), nil
	case "m":
		if err := want(2); err != nil {
			return "", err
		}
		return roboteq.DualMotorCommand(values[0], values[1]), nil
	case "eppr":
		if err := want(2); err != nil {
			return "", err
		}
		return roboteq.SetEncoderPPR(values[0], values[1])
	case "mrpm":
		if err := want(2); err != nil {
			return "", err
		}
		return roboteq.SetMaxRPM(values[0], values[1])
	case "ex", "estop":
		return roboteq.EmergencyStop(), nil
	case "mg":
		return roboteq.ClearEmergencyStop(), nil
	case "save":
		return roboteq.SaveConfiguration(), nil
	}
	return "", fmt.Errorf("unknown command %q", name)
}

//////////////////////////////////////////////////////////////
// Helpers
//////////////////////////////////////////////////////////////

func (m *dashModel) addLogEntry(message string, isError bool) {
	m.events = append(m.events, logEntry{
		timestamp: time.Now(),
		message:   message,
		isError:   isError,
	})
	if len(m.events) > dashMaxLogEntries {
		m.events = m.events[len(m.events)-dashMaxLogEntries:]
	}
}

// formatElapsed renders a duration as "1h 2m 3s"
func formatElapsed(d time.Duration) string {
	d = d.Round(time.Second)
	h := d / time.Hour
	d -= h * time.Hour
	mins := d / time.Minute
	d -= mins * time.Minute
	sec := d / time.Second

	switch {
	case h > 0:
		return fmt.Sprintf("%dh %dm %ds", h, mins, sec)
	case mins > 0:
		return fmt.Sprintf("%dm %ds", mins, sec)
	default:
		return fmt.Sprintf("%ds", sec)
	}
}

//////////////////////////////////////////////////////////////
// Runner
//////////////////////////////////////////////////////////////

func runDashboard(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	events := make(chan monitorEvent, 512)
	hook := func(res roboteq.Result, status roboteq.Status) {
		metrics.RecordResult(res)
		if res.IsQuery() && res.Supported {
			metrics.RecordStatus(status)
		}
		select {
		case events <- monitorEvent{res: res, status: status, at: time.Now()}:
		default:
		}
	}

	// The alternate screen owns the terminal; controller logs are discarded
	s, err := openSession(ctx, sessionOptions{
		record:   true,
		ctrlOpts: []roboteq.Option{roboteq.WithResultHook(hook), roboteq.WithLogger(zerolog.Nop())},
	})
	if err != nil {
		return err
	}
	defer s.Close()

	if cfg.Metrics.Listen != "" {
		log := logging.Component("dashboard")
		go func() {
			if err := metrics.Serve(ctx, cfg.Metrics.Listen, log); err != nil {
				log.Error().Err(err).Msg("metrics endpoint failed")
			}
		}()
	}

	if err := s.ctrl.StartContinuousReading(ctx); err != nil {
		return err
	}

	m := initialDashModel(s.ctrl, s.info, s.device)
	if !dashNoTelemetry {
		if err := s.applyTelemetry(); err != nil {
			m.addLogEntry(err.Error(), true)
		} else if len(cfg.Telemetry.Queries) > 0 {
			m.addLogEntry("Telemetry: "+cfg.Telemetry.TelemetryString(), false)
		}
	}

	p := tea.NewProgram(m, tea.WithAltScreen())
	go forwardEvents(ctx, p, events, s.ctrl.Done())

	if _, err := p.Run(); err != nil {
		return fmt.Errorf("TUI error: %w", err)
	}
	return nil
}

// forwardEvents batches decode events into the TUI at a fixed rate
func forwardEvents(ctx context.Context, p *tea.Program, events <-chan monitorEvent, readDone <-chan struct{}) {
	ticker := time.NewTicker(dashBatchPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-readDone:
			p.Send(dashConnLostMsg{})
			return
		case <-ticker.C:
			var batch dashBatchMsg
		drainLoop:
			for {
				select {
				case ev := <-events:
					batch.events = append(batch.events, ev)
				default:
					break drainLoop
				}
			}
			if len(batch.events) > 0 {
				p.Send(batch)
			}
		}
	}
}
