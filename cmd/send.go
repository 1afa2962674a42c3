// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2026 Kaz Walker, Thermoquad

package cmd

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/Thermoquad/mdcstat/internal/config"
	"github.com/Thermoquad/mdcstat/internal/logging"
	"github.com/Thermoquad/mdcstat/pkg/roboteq"
)

var (
	sendAck     bool
	sendTimeout time.Duration
)

var sendCmd = &cobra.Command{
	Use:   "send",
	Short: "Send a single command to the controller",
	Long: `Send one command and exit.

Commands are written in a single write. With --ack the command waits for the
controller's "+" acknowledgement (or "-" rejection) before exiting; without
it the command is fire-and-forget.

Parameters with documented ranges (eppr 1-5000, mrpm 1-65000) are checked
before connecting; an out of range value is rejected and nothing is sent.
Negative values must follow "--" so they are not read as flags.

Examples:
  mdcstat send motor 1 500 --port /dev/ttyACM0
  mdcstat send dual --ack -- 250 -250
  mdcstat send estop
  mdcstat send telemetry 200 ?A ?V ?FF
  mdcstat send query A BA FF
  mdcstat send raw "!G 1 0"`,
}

func init() {
	rootCmd.AddCommand(sendCmd)
	sendCmd.PersistentFlags().BoolVar(&sendAck, "ack", false, "Wait for the controller to acknowledge the command")
	sendCmd.PersistentFlags().DurationVar(&sendTimeout, "timeout", 2*time.Second, "Acknowledgement / reply timeout")

	sendCmd.AddCommand(
		newSendCmd("motor <channel> <command>", "Set one channel's command level (!G)", 2, func(v []int) (string, error) {
			return roboteq.MotorCommand(v[0], v[1]), nil
		}),
		newSendCmd("dual <cmd1> <cmd2>", "Command both channels at once (!M)", 2, func(v []int) (string, error) {
			return roboteq.DualMotorCommand(v[0], v[1]), nil
		}),
		newSendCmd("estop", "Latch the emergency stop (!EX)", 0, func([]int) (string, error) {
			return roboteq.EmergencyStop(), nil
		}),
		newSendCmd("clear-estop", "Release the emergency stop (!MG)", 0, func([]int) (string, error) {
			return roboteq.ClearEmergencyStop(), nil
		}),
		newSendCmd("reset", "Soft reset the controller (%RESET)", 0, func([]int) (string, error) {
			return roboteq.Reset(), nil
		}),
		newSendCmd("factory-reset", "Restore factory defaults (%EERST)", 0, func([]int) (string, error) {
			return roboteq.FactoryReset(), nil
		}),
		newSendCmd("save", "Save configuration to EEPROM (%EESAV)", 0, func([]int) (string, error) {
			return roboteq.SaveConfiguration(), nil
		}),
		newSendCmd("eppr <channel> <ppr>", "Set encoder pulses per revolution (^EPPR, 1-5000)", 2, func(v []int) (string, error) {
			return roboteq.SetEncoderPPR(v[0], v[1])
		}),
		newSendCmd("mrpm <channel> <rpm>", "Set maximum RPM (^MRPM, 1-65000)", 2, func(v []int) (string, error) {
			return roboteq.SetMaxRPM(v[0], v[1])
		}),
		newSendCmd("clear-history", "Stop repeated queries and clear history (# C)", 0, func([]int) (string, error) {
			return roboteq.ClearBufferHistory(), nil
		}),
		newSendCmd("history <period_ms>", "Repeat recent queries every period (# <period>)", 1, func(v []int) (string, error) {
			return roboteq.QueryHistory(v[0]), nil
		}),
		sendTelemetryCmd,
		sendQueryCmd,
		sendRawCmd,
	)
}

// newSendCmd builds a subcommand taking nargs integer arguments
func newSendCmd(use, short string, nargs int, build func([]int) (string, error)) *cobra.Command {
	return &cobra.Command{
		Use:   use,
		Short: short,
		Args:  cobra.ExactArgs(nargs),
		RunE: func(cmd *cobra.Command, args []string) error {
			values, err := parseInts(args)
			if err != nil {
				return err
			}
			command, err := build(values)
			if err != nil {
				log := logging.Component("send")
				log.Warn().Err(err).Msg("command rejected, nothing sent")
				return err
			}
			return sendOne(cmd.Context(), command)
		},
	}
}

var sendTelemetryCmd = &cobra.Command{
	Use:   "telemetry [period_ms query...]",
	Short: "Program the telemetry string (^TELS)",
	Long: `Program the queries the controller sends on its own.

Without arguments the telemetry section of the config file is used.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		tel := cfg.Telemetry
		if len(args) > 0 {
			period, err := strconv.Atoi(args[0])
			if err != nil {
				return fmt.Errorf("invalid period %q: %w", args[0], err)
			}
			tel = config.TelemetryConfig{Queries: args[1:], PeriodMs: period}
		}
		if len(tel.Queries) == 0 {
			return fmt.Errorf("no telemetry queries given")
		}
		if err := config.ValidateTelemetry(tel); err != nil {
			return err
		}
		return sendOne(cmd.Context(), roboteq.TelemetryString(tel.TelemetryString(), tel.PeriodMs))
	},
}

var sendRawCmd = &cobra.Command{
	Use:   "raw <command...>",
	Short: "Send arbitrary command text",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return sendOne(cmd.Context(), roboteq.Terminate(strings.Join(args, " ")))
	},
}

var sendQueryCmd = &cobra.Command{
	Use:   "query <code...>",
	Short: "Query runtime or configuration values and print the replies",
	Long: `Send one query per code and wait for the replies.

Runtime codes (A, BA, V, FF, ...) are sent as ?CODE, configuration codes
(EPPR, MRPM) as ~CODE.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runSendQuery,
}

func parseInts(args []string) ([]int, error) {
	values := make([]int, len(args))
	for i, a := range args {
		v, err := strconv.Atoi(a)
		if err != nil {
			return nil, fmt.Errorf("invalid integer %q", a)
		}
		values[i] = v
	}
	return values, nil
}

// sendOne connects, writes command and optionally waits for its ack
func sendOne(ctx context.Context, command string) error {
	s, err := openSession(ctx, sessionOptions{})
	if err != nil {
		return err
	}
	defer s.Close()

	printable := strings.TrimSpace(command)

	if !sendAck {
		if err := s.ctrl.SendCommand(command); err != nil {
			return err
		}
		fmt.Printf("Sent: %s\n", printable)
		return nil
	}

	if err := s.ctrl.StartContinuousReading(ctx); err != nil {
		return err
	}

	ackCtx, cancel := context.WithTimeout(ctx, sendTimeout)
	defer cancel()

	err = s.ctrl.SendCommandAck(ackCtx, command)
	switch {
	case err == nil:
		fmt.Printf("ACK: %s\n", printable)
	case errors.Is(err, roboteq.ErrNack):
		fmt.Printf("REJECTED: %s\n", printable)
	case errors.Is(err, roboteq.ErrAckTimeout):
		fmt.Printf("NO ACK within %v: %s\n", sendTimeout, printable)
	}
	return err
}

type queryRequest struct {
	command string
	query   roboteq.QueryKind
	config  roboteq.ConfigKind
}

func parseQueryCodes(args []string) ([]queryRequest, error) {
	queries := roboteq.NewQueryTable()
	configs := roboteq.NewConfigTable()

	reqs := make([]queryRequest, 0, len(args))
	for _, arg := range args {
		code := strings.ToUpper(strings.TrimLeft(arg, "?~"))
		if kind, ok := queries.Lookup(code); ok {
			command, _ := roboteq.Query(kind)
			reqs = append(reqs, queryRequest{command: command, query: kind})
			continue
		}
		if kind, ok := configs.Lookup(code); ok {
			command, _ := roboteq.ConfigQuery(kind)
			reqs = append(reqs, queryRequest{command: command, config: kind})
			continue
		}
		return nil, fmt.Errorf("unknown query code %q", arg)
	}
	return reqs, nil
}

func runSendQuery(cmd *cobra.Command, args []string) error {
	reqs, err := parseQueryCodes(args)
	if err != nil {
		return err
	}

	ctx := cmd.Context()
	s, err := openSession(ctx, sessionOptions{})
	if err != nil {
		return err
	}
	defer s.Close()

	wantQuery := make(map[roboteq.QueryKind]bool)
	wantConfig := make(map[roboteq.ConfigKind]bool)
	for _, r := range reqs {
		if r.query != roboteq.QueryUnknown {
			wantQuery[r.query] = true
		} else {
			wantConfig[r.config] = true
		}
	}

	replies := make(chan string, len(reqs))
	reply := func(line string) {
		select {
		case replies <- line:
		default:
		}
	}
	s.ctrl.OnQuery(func(status roboteq.Status, kind roboteq.QueryKind) {
		if !wantQuery[kind] {
			return
		}
		fields := roboteq.FormatQueryFields(kind, status)
		if fields == "" {
			fields = "(received, not decoded)"
		}
		reply(fmt.Sprintf("%s: %s", kind, fields))
	})
	s.ctrl.OnConfig(func(v1, v2 int64, kind roboteq.ConfigKind) {
		if wantConfig[kind] {
			reply(fmt.Sprintf("%s: ch1=%d ch2=%d", kind, v1, v2))
		}
	})

	if err := s.ctrl.StartContinuousReading(ctx); err != nil {
		return err
	}
	for _, r := range reqs {
		if err := s.ctrl.SendCommand(r.command); err != nil {
			return err
		}
	}

	timeout := time.After(sendTimeout)
	for received := 0; received < len(reqs); received++ {
		select {
		case line := <-replies:
			fmt.Println(line)
		case <-timeout:
			return fmt.Errorf("%d of %d replies missing after %v", len(reqs)-received, len(reqs), sendTimeout)
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}
