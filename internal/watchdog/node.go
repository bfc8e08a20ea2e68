package watchdog

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/loykin/hashvisr/internal/config"
	"github.com/loykin/hashvisr/internal/env"
	"github.com/loykin/hashvisr/internal/process"
	"github.com/loykin/hashvisr/internal/pubapi"
)

const nodeSyncedMarker = "You are now synchronized with the network"

// Node runs monerod.
type Node struct {
	cfg    config.NodeConfig
	env    *env.Env
	client *http.Client
}

func NewNode(cfg config.NodeConfig, e *env.Env, client *http.Client) *Node {
	return &Node{cfg: cfg, env: e, client: defaultClient(client)}
}

func (n *Node) Kind() process.Kind                          { return process.Node }
func (n *Node) StartingState() process.State                { return process.Syncing }
func (n *Node) ClassifyExit(c int, err error) process.State { return ClassifyExit(c, err) }

func (n *Node) BuildCommand() (process.Command, error) {
	c := n.cfg
	if c.Path == "" {
		return process.Command{}, fmt.Errorf("node path not configured")
	}
	args := []string{}
	if c.DataDir != "" {
		args = append(args, "--data-dir", c.DataDir)
	}
	args = append(args,
		"--rpc-bind-ip", c.RPCBindIP,
		"--rpc-bind-port", strconv.Itoa(c.RPCPort),
		"--zmq-pub", fmt.Sprintf("tcp://%s:%d", c.RPCBindIP, c.ZMQPort),
		"--out-peers", strconv.Itoa(c.OutPeers),
		"--in-peers", strconv.Itoa(c.InPeers),
		"--log-level", strconv.Itoa(c.LogLevel),
	)
	if c.RPCBindIP != "127.0.0.1" && c.RPCBindIP != "localhost" {
		args = append(args, "--confirm-external-bind")
	}
	if c.Prune {
		args = append(args, "--prune-blockchain", "--sync-pruned-blocks")
	}
	if c.DisableDNSCheckpoints {
		args = append(args, "--disable-dns-checkpoints")
	}
	if c.DNSBlocklist {
		args = append(args, "--enable-dns-blocklist")
	}
	args = append(args, c.Args...)
	return command(c.Path, args, n.env, c.Env), nil
}

func (n *Node) ParseLine(line string, cur process.State, _ *pubapi.Node) Effect {
	if cur == process.Syncing && strings.Contains(line, nodeSyncedMarker) {
		return Effect{SetState: true, State: process.Alive}
	}
	return Effect{}
}

type getInfoResult struct {
	Height                   uint64 `json:"height"`
	TargetHeight             uint64 `json:"target_height"`
	Difficulty               uint64 `json:"difficulty"`
	Synchronized             bool   `json:"synchronized"`
	BusySyncing              bool   `json:"busy_syncing"`
	OutgoingConnectionsCount int    `json:"outgoing_connections_count"`
	IncomingConnectionsCount int    `json:"incoming_connections_count"`
	TxPoolSize               int    `json:"tx_pool_size"`
	DatabaseSize             uint64 `json:"database_size"`
	Nettype                  string `json:"nettype"`
	Version                  string `json:"version"`
	Status                   string `json:"status"`
}

type rpcRequest struct {
	JSONRPC string `json:"jsonrpc"`
	ID      string `json:"id"`
	Method  string `json:"method"`
}

type rpcResponse[T any] struct {
	Result T `json:"result"`
	Error  *struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// RPCURL is the JSON-RPC endpoint of the local node.
func (n *Node) RPCURL() string {
	ip := n.cfg.RPCBindIP
	if ip == "" || ip == "0.0.0.0" {
		ip = "127.0.0.1"
	}
	return fmt.Sprintf("http://%s:%d/json_rpc", ip, n.cfg.RPCPort)
}

func (n *Node) PollAPI(ctx context.Context, s *pubapi.Node) error {
	var resp rpcResponse[getInfoResult]
	req := rpcRequest{JSONRPC: "2.0", ID: "0", Method: "get_info"}
	if err := doJSON(ctx, n.client, http.MethodPost, n.RPCURL(), "", req, &resp); err != nil {
		return err
	}
	if resp.Error != nil {
		return fmt.Errorf("get_info: %s (%d)", resp.Error.Message, resp.Error.Code)
	}
	r := resp.Result
	*s = pubapi.Node{
		Height:              r.Height,
		TargetHeight:        r.TargetHeight,
		Difficulty:          r.Difficulty,
		Synchronized:        r.Synchronized,
		BusySyncing:         r.BusySyncing,
		OutgoingConnections: r.OutgoingConnectionsCount,
		IncomingConnections: r.IncomingConnectionsCount,
		TxPoolSize:          r.TxPoolSize,
		DatabaseSize:        r.DatabaseSize,
		Nettype:             r.Nettype,
		Version:             r.Version,
		Status:              r.Status,
	}
	return nil
}
