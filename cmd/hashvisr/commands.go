package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"sort"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/loykin/hashvisr/internal/config"
	"github.com/loykin/hashvisr/pkg/client"
)

// command runs the client-side subcommands against a daemon.
type command struct {
	flags *GlobalFlags
	out   io.Writer
}

type modeChange struct {
	mode   *string
	amount *float64
	level  *string
}

// apiClient resolves the daemon address from --api-url, then the [server]
// section of --config, then the default.
func (c *command) apiClient() (*client.Client, error) {
	cfg := client.DefaultConfig()
	cfg.Timeout = c.flags.APITimeout
	cfg.Token = c.flags.Token
	cfg.Insecure = c.flags.Insecure
	if c.flags.CACert != "" {
		cfg.TLS = &client.TLSClientConfig{CACert: c.flags.CACert}
	}
	if c.flags.ConfigPath != "" {
		sc, err := config.Load(c.flags.ConfigPath)
		if err != nil {
			return nil, err
		}
		cfg.BaseURL = serverURL(sc.Server)
		if cfg.Token == "" {
			cfg.Token = sc.Server.Token
		}
	}
	if c.flags.APIUrl != "" {
		cfg.BaseURL = c.flags.APIUrl
	}
	return client.New(cfg)
}

// serverURL turns the listen address into something dialable.
func serverURL(s config.ServerConfig) string {
	scheme := "http"
	if s.TLS.Enabled {
		scheme = "https"
	}
	host, port, err := net.SplitHostPort(s.Listen)
	if err != nil {
		return scheme + "://" + s.Listen + s.BasePath
	}
	if host == "" || host == "0.0.0.0" || host == "::" {
		host = "127.0.0.1"
	}
	return scheme + "://" + net.JoinHostPort(host, port) + "/" + strings.Trim(s.BasePath, "/")
}

func (c *command) Status(ctx context.Context) error {
	cl, err := c.apiClient()
	if err != nil {
		return err
	}
	ov, err := cl.Status(ctx)
	if err != nil {
		return err
	}
	_, _ = fmt.Fprintf(c.out, "uptime %s, donating to %s\n\n", ov.Uptime, ov.CurrentNode)
	tw := tabwriter.NewWriter(c.out, 0, 4, 2, ' ', 0)
	_, _ = fmt.Fprintln(tw, "KIND\tSTATE\tSIGNAL\tUPTIME\tEXIT")
	for _, p := range ov.Processes {
		up := "-"
		if p.Alive {
			up = p.Uptime.Truncate(time.Second).String()
		}
		exit := "-"
		if p.ExitErr != "" {
			exit = fmt.Sprintf("%d (%s)", p.ExitCode, p.ExitErr)
		}
		_, _ = fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", p.Kind, p.State, p.Signal, up, exit)
	}
	return tw.Flush()
}

func (c *command) Kind(ctx context.Context, kind string) error {
	cl, err := c.apiClient()
	if err != nil {
		return err
	}
	ks, err := cl.Kind(ctx, kind)
	if err != nil {
		return err
	}
	_, _ = fmt.Fprintf(c.out, "%s: %s\n", ks.Status.Kind, ks.Status.State)
	if len(ks.Stats) > 0 && string(ks.Stats) != "null" {
		var m map[string]any
		if err := json.Unmarshal(ks.Stats, &m); err == nil {
			keys := make([]string, 0, len(m))
			for k := range m {
				keys = append(keys, k)
			}
			sort.Strings(keys)
			tw := tabwriter.NewWriter(c.out, 0, 4, 2, ' ', 0)
			for _, k := range keys {
				_, _ = fmt.Fprintf(tw, "  %s\t%v\n", k, m[k])
			}
			_ = tw.Flush()
		}
	}
	if ks.Output != "" {
		_, _ = fmt.Fprintln(c.out, "\n"+strings.TrimRight(ks.Output, "\n"))
	}
	return nil
}

func (c *command) Host(ctx context.Context) error {
	cl, err := c.apiClient()
	if err != nil {
		return err
	}
	h, err := cl.Host(ctx)
	if err != nil {
		return err
	}
	_, _ = fmt.Fprintf(c.out, "cpu %.1f%% of %d cores, memory %s / %s\n",
		h.CPUPercent, h.CPUCount, mib(h.MemoryUsed), mib(h.MemoryTotal))
	names := make([]string, 0, len(h.Children))
	for n := range h.Children {
		names = append(names, n)
	}
	sort.Strings(names)
	for _, n := range names {
		u := h.Children[n]
		_, _ = fmt.Fprintf(c.out, "  %-12s pid %-7d cpu %5.1f%%  rss %s\n", n, u.PID, u.CPUPercent, mib(u.MemoryRSS))
	}
	return nil
}

func (c *command) Schedules(ctx context.Context) error {
	cl, err := c.apiClient()
	if err != nil {
		return err
	}
	es, err := cl.Schedules(ctx)
	if err != nil {
		return err
	}
	if len(es) == 0 {
		_, _ = fmt.Fprintln(c.out, "no scheduled actions")
		return nil
	}
	tw := tabwriter.NewWriter(c.out, 0, 4, 2, ' ', 0)
	_, _ = fmt.Fprintln(tw, "NAME\tCRON\tNEXT")
	for _, e := range es {
		_, _ = fmt.Fprintf(tw, "%s\t%s\t%s\n", e.Name, e.Cron, e.Next.Local().Format(time.DateTime))
	}
	return tw.Flush()
}

func (c *command) Action(ctx context.Context, op, kind string) error {
	cl, err := c.apiClient()
	if err != nil {
		return err
	}
	switch op {
	case "start":
		err = cl.Start(ctx, kind)
	case "stop":
		err = cl.Stop(ctx, kind)
	case "restart":
		err = cl.Restart(ctx, kind)
	default:
		return fmt.Errorf("unknown action %q", op)
	}
	if err != nil {
		return err
	}
	_, _ = fmt.Fprintf(c.out, "%s %s: ok\n", op, kind)
	return nil
}

func (c *command) Send(ctx context.Context, kind string, words []string) error {
	cl, err := c.apiClient()
	if err != nil {
		return err
	}
	return cl.SendStdin(ctx, kind, strings.Join(words, " "))
}

func (c *command) Mode(ctx context.Context) error {
	cl, err := c.apiClient()
	if err != nil {
		return err
	}
	m, err := cl.Mode(ctx)
	if err != nil {
		return err
	}
	c.printMode(m)
	return nil
}

func (c *command) SetMode(ctx context.Context, u modeChange) error {
	cl, err := c.apiClient()
	if err != nil {
		return err
	}
	m, err := cl.SetMode(ctx, client.ModeUpdate{Mode: u.mode, Amount: u.amount, Level: u.level})
	if err != nil {
		return err
	}
	c.printMode(m)
	return nil
}

func (c *command) printMode(m client.Mode) {
	_, _ = fmt.Fprintf(c.out, "mode %s, amount %g, level %s\n", m.Mode, m.Amount, m.Level)
}

func mib(b uint64) string {
	return fmt.Sprintf("%.0f MiB", float64(b)/(1<<20))
}
