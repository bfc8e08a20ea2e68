// Package pool names the stratum endpoints the miner can be pointed at: the local
// P2Pool and the remote donation nodes.
package pool

import "strings"

// Node is a mining endpoint the donation loop can select.
type Node int

const (
	P2Pool Node = iota
	Europe
	NorthAmerica
)

const (
	DefaultEuropeAddr       = "eu.xmrvsbeast.com:4247"
	DefaultNorthAmericaAddr = "na.xmrvsbeast.com:4247"
)

func (n Node) String() string {
	switch n {
	case P2Pool:
		return "p2pool"
	case Europe:
		return "europe"
	case NorthAmerica:
		return "north-america"
	default:
		return "unknown"
	}
}

// IsDonation reports whether n is a remote donation node.
func (n Node) IsDonation() bool { return n == Europe || n == NorthAmerica }

// DonationNodes lists the remote nodes in their default preference order.
func DonationNodes() []Node { return []Node{Europe, NorthAmerica} }

// ParseNode accepts the String form.
func ParseNode(s string) (Node, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "p2pool":
		return P2Pool, true
	case "europe", "eu":
		return Europe, true
	case "north-america", "na":
		return NorthAmerica, true
	}
	return P2Pool, false
}

// Endpoint is the connection parameters written into a miner's pool entry.
type Endpoint struct {
	URL       string `json:"url"`
	User      string `json:"user"`
	RigID     string `json:"rig_id"`
	TLS       bool   `json:"tls"`
	Keepalive bool   `json:"keepalive"`
}

// Addresses carries everything needed to derive an Endpoint for each Node.
type Addresses struct {
	P2PoolURL        string
	P2PoolUser       string
	P2PoolRigID      string
	EuropeAddr       string
	NorthAmericaAddr string
	Wallet           string
	Token            string
}

// Endpoint derives connection parameters for n. Donation nodes are mined with the
// wallet as user and the donation token as rig id, so the remote service can credit them.
func (a Addresses) Endpoint(n Node) Endpoint {
	switch n {
	case Europe:
		return Endpoint{URL: orDefault(a.EuropeAddr, DefaultEuropeAddr), User: a.Wallet, RigID: a.Token, Keepalive: true}
	case NorthAmerica:
		return Endpoint{URL: orDefault(a.NorthAmericaAddr, DefaultNorthAmericaAddr), User: a.Wallet, RigID: a.Token, Keepalive: true}
	default:
		return Endpoint{URL: a.P2PoolURL, User: a.P2PoolUser, RigID: a.P2PoolRigID, Keepalive: true}
	}
}

// Match returns the node whose address appears in a miner log line or pool url.
func (a Addresses) Match(s string) (Node, bool) {
	for _, n := range DonationNodes() {
		host := hostOnly(a.Endpoint(n).URL)
		if host != "" && strings.Contains(s, host) {
			return n, true
		}
	}
	if host := hostOnly(a.P2PoolURL); host != "" && strings.Contains(s, host) {
		return P2Pool, true
	}
	return P2Pool, false
}

func hostOnly(addr string) string {
	if i := strings.LastIndexByte(addr, ':'); i > 0 {
		return addr[:i]
	}
	return addr
}

func orDefault(v, def string) string {
	if v == "" {
		return def
	}
	return v
}
