package main

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"
)

func main() {
	if err := buildRoot(os.Stdout).Execute(); err != nil {
		_, _ = fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// GlobalFlags are shared by every subcommand.
type GlobalFlags struct {
	ConfigPath string
	APIUrl     string
	APITimeout time.Duration
	Token      string
	Insecure   bool
	CACert     string
}

// ServeFlags holds flags for the serve command.
type ServeFlags struct {
	Daemonize bool
	PidFile   string
	LogFile   string
}

// ModeFlags holds flags for the mode command.
type ModeFlags struct {
	Mode   string
	Amount float64
	Level  string
}

func buildRoot(out io.Writer) *cobra.Command {
	g := &GlobalFlags{}
	c := &command{flags: g, out: out}

	root := createRootCommand(g)
	root.SetOut(out)
	root.AddCommand(
		createServeCommand(g, &ServeFlags{}),
		createStatusCommand(c),
		createHostCommand(c),
		createScheduleCommand(c),
		createActionCommand(c, "start", "Start a supervised program"),
		createActionCommand(c, "stop", "Stop a supervised program"),
		createActionCommand(c, "restart", "Restart a supervised program"),
		createSendCommand(c),
		createModeCommand(c, &ModeFlags{}),
		createCertCommand(),
	)
	return root
}

func createRootCommand(flags *GlobalFlags) *cobra.Command {
	root := &cobra.Command{
		Use:   "hashvisr",
		Short: "Supervisor for a Monero P2Pool mining rig",
		Long: `hashvisr runs monerod, P2Pool, XMRig and XMRig-Proxy as supervised children,
watches their health and drives the XvB donation loop.

Examples:
  hashvisr serve --config=hashvisr.toml   # run the supervisor
  hashvisr status                         # every program's state
  hashvisr status p2pool                  # one program's stats and console
  hashvisr restart xmrig
  hashvisr mode --set=hero`,
		SilenceUsage: true,
	}

	pf := root.PersistentFlags()
	pf.StringVar(&flags.ConfigPath, "config", "", "path to TOML config file")
	pf.StringVar(&flags.APIUrl, "api-url", "", "daemon URL (default from [server] in --config, else http://127.0.0.1:8686/api)")
	pf.DurationVar(&flags.APITimeout, "api-timeout", 10*time.Second, "request timeout")
	pf.StringVar(&flags.Token, "token", "", "bearer token for start/stop/restart/send/mode (default from [server].token)")
	pf.BoolVar(&flags.Insecure, "insecure", false, "skip TLS certificate verification")
	pf.StringVar(&flags.CACert, "ca-cert", "", "CA certificate for a TLS daemon")
	return root
}

func createServeCommand(g *GlobalFlags, sf *ServeFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve [config.toml]",
		Short: "Run the supervisor",
		Long: `Run the supervisor in the foreground until SIGINT or SIGTERM.
Programs with autostart set are started immediately. On shutdown the donation
loop returns the miner to P2Pool before the children are stopped.

Examples:
  hashvisr serve hashvisr.toml
  hashvisr serve --config=hashvisr.toml --daemonize --pidfile=/run/hashvisr.pid`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := g.ConfigPath
			if len(args) > 0 {
				path = args[0]
			}
			return runServe(cmd.Context(), path, sf)
		},
	}
	cmd.Flags().BoolVar(&sf.Daemonize, "daemonize", false, "run in the background")
	cmd.Flags().StringVar(&sf.PidFile, "pidfile", "", "write the daemon PID here")
	cmd.Flags().StringVar(&sf.LogFile, "logfile", "", "redirect daemon stdout/stderr to this file")
	return cmd
}

func createStatusCommand(c *command) *cobra.Command {
	return &cobra.Command{
		Use:   "status [kind]",
		Short: "Show program states, or one program's stats and console",
		Long: `Without an argument, list every program's state. With a kind
(node, p2pool, xmrig, xmrig-proxy, xvb) print its stats and console output.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 1 {
				return c.Kind(cmd.Context(), args[0])
			}
			return c.Status(cmd.Context())
		},
	}
}

func createHostCommand(c *command) *cobra.Command {
	return &cobra.Command{
		Use:   "host",
		Short: "Show host CPU and memory usage",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return c.Host(cmd.Context())
		},
	}
}

func createScheduleCommand(c *command) *cobra.Command {
	return &cobra.Command{
		Use:   "schedule",
		Short: "List the [[schedule]] actions and when they fire next",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return c.Schedules(cmd.Context())
		},
	}
}

func createActionCommand(c *command, op, short string) *cobra.Command {
	return &cobra.Command{
		Use:   op + " <kind>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.Action(cmd.Context(), op, args[0])
		},
	}
}

func createSendCommand(c *command) *cobra.Command {
	return &cobra.Command{
		Use:   "send <kind> <line...>",
		Short: "Send a console command to a program",
		Long: `Write one line to a program's console, as if typed in its terminal.

Examples:
  hashvisr send node status
  hashvisr send p2pool status
  hashvisr send xmrig h`,
		Args: cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.Send(cmd.Context(), args[0], args[1:])
		},
	}
}

func createModeCommand(c *command, mf *ModeFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "mode",
		Short: "Show or change the XvB donation mode",
		Long: `Without flags, print the live donation settings. Flags change only what
they name; the change takes effect at the next decision.

Modes: auto, hero, manual_donate, manual_keep, manual_level
Levels: donor, vip, whale, mega

Examples:
  hashvisr mode
  hashvisr mode --set=manual_donate --amount=5000
  hashvisr mode --set=manual_level --level=whale`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			f := cmd.Flags()
			if !f.Changed("set") && !f.Changed("amount") && !f.Changed("level") {
				return c.Mode(cmd.Context())
			}
			var u modeChange
			if f.Changed("set") {
				u.mode = &mf.Mode
			}
			if f.Changed("amount") {
				u.amount = &mf.Amount
			}
			if f.Changed("level") {
				u.level = &mf.Level
			}
			return c.SetMode(cmd.Context(), u)
		},
	}
	cmd.Flags().StringVar(&mf.Mode, "set", "", "donation mode")
	cmd.Flags().Float64Var(&mf.Amount, "amount", 0, "H/s to donate (manual_donate) or to keep (manual_keep)")
	cmd.Flags().StringVar(&mf.Level, "level", "", "donation level for manual_level")
	return cmd
}
