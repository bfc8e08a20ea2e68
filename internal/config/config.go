package config

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/loykin/hashvisr/internal/env"
	"github.com/loykin/hashvisr/internal/logger"
	"github.com/spf13/viper"
)

// Config represents the top-level TOML structure.
type Config struct {
	Env        []string         `toml:"env" mapstructure:"env"`
	EnvFiles   []string         `toml:"env_files" mapstructure:"env_files"`
	UseOSEnv   bool             `toml:"use_os_env" mapstructure:"use_os_env"`
	Node       NodeConfig       `toml:"node" mapstructure:"node"`
	P2Pool     P2PoolConfig     `toml:"p2pool" mapstructure:"p2pool"`
	XMRig      XMRigConfig      `toml:"xmrig" mapstructure:"xmrig"`
	Proxy      ProxyConfig      `toml:"proxy" mapstructure:"proxy"`
	Xvb        XvbConfig        `toml:"xvb" mapstructure:"xvb"`
	Log        logger.Config    `toml:"log" mapstructure:"log"`
	Server     ServerConfig     `toml:"server" mapstructure:"server"`
	Metrics    MetricsConfig    `toml:"metrics" mapstructure:"metrics"`
	Supervisor SupervisorConfig `toml:"supervisor" mapstructure:"supervisor"`
	Schedules  []ScheduleConfig `toml:"schedule" mapstructure:"schedule"`
}

// NodeConfig drives monerod.
type NodeConfig struct {
	Path                  string   `toml:"path" mapstructure:"path"`
	Autostart             bool     `toml:"autostart" mapstructure:"autostart"`
	DataDir               string   `toml:"data_dir" mapstructure:"data_dir"`
	RPCBindIP             string   `toml:"rpc_bind_ip" mapstructure:"rpc_bind_ip"`
	RPCPort               int      `toml:"rpc_port" mapstructure:"rpc_port"`
	ZMQPort               int      `toml:"zmq_port" mapstructure:"zmq_port"`
	OutPeers              int      `toml:"out_peers" mapstructure:"out_peers"`
	InPeers               int      `toml:"in_peers" mapstructure:"in_peers"`
	LogLevel              int      `toml:"log_level" mapstructure:"log_level"`
	Prune                 bool     `toml:"prune" mapstructure:"prune"`
	DNSBlocklist          bool     `toml:"dns_blocklist" mapstructure:"dns_blocklist"`
	DisableDNSCheckpoints bool     `toml:"disable_dns_checkpoints" mapstructure:"disable_dns_checkpoints"`
	Args                  []string `toml:"args" mapstructure:"args"`
	Env                   []string `toml:"env" mapstructure:"env"`
}

// NodeHost is a monerod P2Pool can follow.
type NodeHost struct {
	IP  string `toml:"ip" mapstructure:"ip" json:"ip"`
	RPC int    `toml:"rpc" mapstructure:"rpc" json:"rpc"`
	ZMQ int    `toml:"zmq" mapstructure:"zmq" json:"zmq"`
}

func (h NodeHost) String() string { return fmt.Sprintf("%s:%d:%d", h.IP, h.RPC, h.ZMQ) }

// P2PoolConfig drives the side-chain node.
type P2PoolConfig struct {
	Path      string     `toml:"path" mapstructure:"path"`
	Autostart bool       `toml:"autostart" mapstructure:"autostart"`
	Wallet    string     `toml:"wallet" mapstructure:"wallet"`
	Hosts     []NodeHost `toml:"hosts" mapstructure:"hosts"`
	Mini      bool       `toml:"mini" mapstructure:"mini"`
	Stratum   string     `toml:"stratum" mapstructure:"stratum"`
	OutPeers  int        `toml:"out_peers" mapstructure:"out_peers"`
	InPeers   int        `toml:"in_peers" mapstructure:"in_peers"`
	LogLevel  int        `toml:"log_level" mapstructure:"log_level"`
	// DataAPI is the --data-api directory; empty means <binary dir>/api.
	DataAPI string `toml:"data_api" mapstructure:"data_api"`
	// StatusEvery is how many ticks pass between "status" console commands.
	StatusEvery int      `toml:"status_every" mapstructure:"status_every"`
	Args        []string `toml:"args" mapstructure:"args"`
	Env         []string `toml:"env" mapstructure:"env"`
}

// MinerHTTP is the local HTTP API shared by xmrig and xmrig-proxy.
type MinerHTTP struct {
	Host  string `toml:"http_host" mapstructure:"http_host"`
	Port  int    `toml:"http_port" mapstructure:"http_port"`
	Token string `toml:"http_token" mapstructure:"http_token"`
}

// BaseURL of the miner API.
func (m MinerHTTP) BaseURL() string { return fmt.Sprintf("http://%s:%d", m.Host, m.Port) }

// XMRigConfig drives the CPU miner.
type XMRigConfig struct {
	Path          string `toml:"path" mapstructure:"path"`
	Autostart     bool   `toml:"autostart" mapstructure:"autostart"`
	Pool          string `toml:"pool" mapstructure:"pool"`
	User          string `toml:"user" mapstructure:"user"`
	RigID         string `toml:"rig_id" mapstructure:"rig_id"`
	Threads       int    `toml:"threads" mapstructure:"threads"`
	PauseOnActive int    `toml:"pause_on_active" mapstructure:"pause_on_active"`
	Keepalive     bool   `toml:"keepalive" mapstructure:"keepalive"`
	MinerHTTP     `toml:",squash" mapstructure:",squash"`
	Args          []string `toml:"args" mapstructure:"args"`
	Env           []string `toml:"env" mapstructure:"env"`
}

// ProxyConfig drives xmrig-proxy.
type ProxyConfig struct {
	Path      string `toml:"path" mapstructure:"path"`
	Autostart bool   `toml:"autostart" mapstructure:"autostart"`
	Pool      string `toml:"pool" mapstructure:"pool"`
	User      string `toml:"user" mapstructure:"user"`
	RigID     string `toml:"rig_id" mapstructure:"rig_id"`
	Bind      string `toml:"bind" mapstructure:"bind"`
	Keepalive bool   `toml:"keepalive" mapstructure:"keepalive"`
	MinerHTTP `toml:",squash" mapstructure:",squash"`
	Args      []string `toml:"args" mapstructure:"args"`
	Env       []string `toml:"env" mapstructure:"env"`
}

// XvbConfig drives the donation loop.
type XvbConfig struct {
	Autostart        bool          `toml:"autostart" mapstructure:"autostart"`
	Token            string        `toml:"token" mapstructure:"token"`
	PublicURL        string        `toml:"public_url" mapstructure:"public_url"`
	PrivateURL       string        `toml:"private_url" mapstructure:"private_url"`
	EuropeAddr       string        `toml:"europe" mapstructure:"europe"`
	NorthAmericaAddr string        `toml:"north_america" mapstructure:"north_america"`
	DecisionInterval time.Duration `toml:"decision_interval" mapstructure:"decision_interval"`
	PublicInterval   time.Duration `toml:"public_interval" mapstructure:"public_interval"`
	PrivateInterval  time.Duration `toml:"private_interval" mapstructure:"private_interval"`
	RetryInterval    time.Duration `toml:"retry_interval" mapstructure:"retry_interval"`
	RerankInterval   time.Duration `toml:"rerank_interval" mapstructure:"rerank_interval"`
	ProbeTimeout     time.Duration `toml:"probe_timeout" mapstructure:"probe_timeout"`
	HTTPTimeout      time.Duration `toml:"http_timeout" mapstructure:"http_timeout"`
	Mode             Mode          `toml:"mode" mapstructure:"mode"`
	Amount           float64       `toml:"amount" mapstructure:"amount"`
	Level            Tier          `toml:"level" mapstructure:"level"`
}

// ServerConfig is the front-end HTTP surface.
type ServerConfig struct {
	Enabled  bool   `toml:"enabled" mapstructure:"enabled"`
	Listen   string `toml:"listen" mapstructure:"listen"`
	BasePath string `toml:"base_path" mapstructure:"base_path"`
	// Token, when set, is required as a bearer token on the mutating routes.
	Token string    `toml:"token" mapstructure:"token"`
	TLS   TLSConfig `toml:"tls" mapstructure:"tls"`
}

// TLSConfig serves the HTTP surface over TLS, from files or a generated
// self-signed pair kept in Dir.
type TLSConfig struct {
	Enabled      bool   `toml:"enabled" mapstructure:"enabled"`
	CertFile     string `toml:"cert_file" mapstructure:"cert_file"`
	KeyFile      string `toml:"key_file" mapstructure:"key_file"`
	Dir          string `toml:"dir" mapstructure:"dir"`
	AutoGenerate bool   `toml:"auto_generate" mapstructure:"auto_generate"`
	MinVersion   string `toml:"min_version" mapstructure:"min_version"`
}

type MetricsConfig struct {
	Enabled bool `toml:"enabled" mapstructure:"enabled"`
}

// ScheduleConfig is one [[schedule]] entry: a cron expression (standard five
// fields or a descriptor such as "@daily" or "@every 6h") and the action it fires.
type ScheduleConfig struct {
	Name   string `toml:"name" mapstructure:"name"`
	Cron   string `toml:"cron" mapstructure:"cron"`
	Action string `toml:"action" mapstructure:"action"` // start, stop, restart or mode
	Kind   string `toml:"kind" mapstructure:"kind"`
	// Mode, Amount and Level apply to action "mode"; unset fields keep their value.
	Mode   string   `toml:"mode" mapstructure:"mode"`
	Amount *float64 `toml:"amount" mapstructure:"amount"`
	Level  string   `toml:"level" mapstructure:"level"`
}

// Validate checks the fields that do not need the cron parser.
func (s ScheduleConfig) Validate() error {
	if s.Cron == "" {
		return errors.New("cron is required")
	}
	switch strings.ToLower(s.Action) {
	case "start", "stop", "restart":
		if s.Kind == "" {
			return fmt.Errorf("action %s needs a kind", s.Action)
		}
	case "mode":
		r := RuntimeSettings{Mode: Mode(s.Mode), Level: Tier(s.Level)}
		if s.Amount != nil {
			r.Amount = *s.Amount
		}
		return r.Validate()
	default:
		return fmt.Errorf("unknown action %q", s.Action)
	}
	return nil
}

// SupervisorConfig tunes the loops.
type SupervisorConfig struct {
	Tick        time.Duration `toml:"tick" mapstructure:"tick"`
	PollTimeout time.Duration `toml:"poll_timeout" mapstructure:"poll_timeout"`
	StopGrace   time.Duration `toml:"stop_grace" mapstructure:"stop_grace"`
	Telemetry   bool          `toml:"telemetry" mapstructure:"telemetry"`
	// PIDDir, when set, records each child's PID so the next run can stop
	// children left behind by a crash.
	PIDDir string `toml:"pid_dir" mapstructure:"pid_dir"`
}

const (
	DefaultXvbPublicURL  = "https://xmrvsbeast.com/p2pool/stats"
	DefaultXvbPrivateURL = "https://xmrvsbeast.com/cgi-bin/p2pool_bonus_history_api.cgi"
	MinTick              = 100 * time.Millisecond
)

func setDefaults(v *viper.Viper) {
	v.SetDefault("node.rpc_bind_ip", "127.0.0.1")
	v.SetDefault("node.rpc_port", 18081)
	v.SetDefault("node.zmq_port", 18083)
	v.SetDefault("node.out_peers", 32)
	v.SetDefault("node.in_peers", 64)
	v.SetDefault("node.dns_blocklist", true)

	v.SetDefault("p2pool.stratum", "0.0.0.0:3333")
	v.SetDefault("p2pool.out_peers", 10)
	v.SetDefault("p2pool.in_peers", 10)
	v.SetDefault("p2pool.log_level", 3)
	v.SetDefault("p2pool.status_every", 60)

	v.SetDefault("xmrig.pool", "127.0.0.1:3333")
	v.SetDefault("xmrig.user", "hashvisr")
	v.SetDefault("xmrig.keepalive", true)
	v.SetDefault("xmrig.http_host", "127.0.0.1")
	v.SetDefault("xmrig.http_port", 18088)

	v.SetDefault("proxy.pool", "127.0.0.1:3333")
	v.SetDefault("proxy.user", "hashvisr")
	v.SetDefault("proxy.bind", "0.0.0.0:3355")
	v.SetDefault("proxy.keepalive", true)
	v.SetDefault("proxy.http_host", "127.0.0.1")
	v.SetDefault("proxy.http_port", 18089)

	v.SetDefault("xvb.public_url", DefaultXvbPublicURL)
	v.SetDefault("xvb.private_url", DefaultXvbPrivateURL)
	v.SetDefault("xvb.decision_interval", "600s")
	v.SetDefault("xvb.public_interval", "60s")
	v.SetDefault("xvb.private_interval", "60s")
	v.SetDefault("xvb.retry_interval", "10s")
	v.SetDefault("xvb.rerank_interval", "10s")
	v.SetDefault("xvb.probe_timeout", "3s")
	v.SetDefault("xvb.http_timeout", "10s")
	v.SetDefault("xvb.mode", string(ModeAuto))

	v.SetDefault("log.slog.level", string(logger.LevelInfo))
	v.SetDefault("log.slog.format", string(logger.FormatText))
	v.SetDefault("log.slog.color", true)
	v.SetDefault("log.slog.timestamps", true)

	v.SetDefault("server.enabled", true)
	v.SetDefault("server.listen", "127.0.0.1:8686")
	v.SetDefault("server.base_path", "/api")
	v.SetDefault("server.tls.min_version", "1.2")

	v.SetDefault("supervisor.tick", "1s")
	v.SetDefault("supervisor.poll_timeout", "5s")
	v.SetDefault("supervisor.stop_grace", "10s")
	v.SetDefault("supervisor.telemetry", true)
}

func newViper(path string) *viper.Viper {
	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix("HASHVISR")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	if path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("toml")
	}
	return v
}

// Load reads the TOML file at path (defaults only when path is empty), applies env
// files and validates the result.
func Load(path string) (*Config, error) {
	v := newViper(path)
	if path != "" {
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}
	var c Config
	if err := v.Unmarshal(&c); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if path != "" {
		base := filepath.Dir(path)
		for i, f := range c.EnvFiles {
			if !filepath.IsAbs(f) {
				c.EnvFiles[i] = filepath.Join(base, f)
			}
		}
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

// Validate reports every problem found, joined.
func (c *Config) Validate() error {
	var errs []error
	for name, p := range map[string]string{
		"node.path": c.Node.Path, "p2pool.path": c.P2Pool.Path,
		"xmrig.path": c.XMRig.Path, "proxy.path": c.Proxy.Path,
	} {
		if p != "" && !filepath.IsAbs(p) {
			errs = append(errs, fmt.Errorf("%s must be absolute: %q", name, p))
		}
	}
	for name, port := range map[string]int{
		"node.rpc_port": c.Node.RPCPort, "node.zmq_port": c.Node.ZMQPort,
		"xmrig.http_port": c.XMRig.Port, "proxy.http_port": c.Proxy.Port,
	} {
		if port <= 0 || port > 65535 {
			errs = append(errs, fmt.Errorf("%s out of range: %d", name, port))
		}
	}
	for i, h := range c.P2Pool.Hosts {
		if h.IP == "" || h.RPC <= 0 || h.ZMQ <= 0 {
			errs = append(errs, fmt.Errorf("p2pool.hosts[%d] incomplete: %s", i, h))
		}
	}
	if t := c.Server.TLS; t.Enabled && (t.CertFile == "") != (t.KeyFile == "") {
		errs = append(errs, errors.New("server.tls needs both cert_file and key_file"))
	}
	if t := c.Server.TLS; t.Enabled && t.CertFile == "" && (!t.AutoGenerate || t.Dir == "") {
		errs = append(errs, errors.New("server.tls needs cert_file/key_file or auto_generate with dir"))
	}
	if c.Supervisor.Tick < MinTick {
		errs = append(errs, fmt.Errorf("supervisor.tick must be at least %s", MinTick))
	}
	if c.Xvb.DecisionInterval <= 0 {
		errs = append(errs, errors.New("xvb.decision_interval must be positive"))
	}
	if err := c.Xvb.Runtime().Validate(); err != nil {
		errs = append(errs, err)
	}
	for i, sc := range c.Schedules {
		if err := sc.Validate(); err != nil {
			errs = append(errs, fmt.Errorf("schedule[%d]: %w", i, err))
		}
	}
	return errors.Join(errs...)
}

// PrimaryHost is the node P2Pool follows first: the first configured host, or the
// local monerod.
func (c *Config) PrimaryHost() NodeHost {
	if len(c.P2Pool.Hosts) > 0 {
		return c.P2Pool.Hosts[0]
	}
	ip := c.Node.RPCBindIP
	if ip == "" || ip == "0.0.0.0" {
		ip = "127.0.0.1"
	}
	return NodeHost{IP: ip, RPC: c.Node.RPCPort, ZMQ: c.Node.ZMQPort}
}

// ChildEnv builds the environment composer for children from env, env_files and
// use_os_env.
func (c *Config) ChildEnv() (*env.Env, error) {
	e := env.New(c.UseOSEnv)
	for _, f := range c.EnvFiles {
		kvs, err := env.LoadFile(f)
		if err != nil {
			return nil, fmt.Errorf("env file %s: %w", f, err)
		}
		e.SetAll(kvs)
	}
	e.SetAll(c.Env)
	return e, nil
}

// Runtime returns the donation settings as configured at load time.
func (x XvbConfig) Runtime() RuntimeSettings {
	return RuntimeSettings{Mode: x.Mode, Amount: x.Amount, Level: x.Level}
}
