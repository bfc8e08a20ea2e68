package process

import "strings"

// Kind identifies one of the supervised programs. The declaration order is the
// global lock order used by the supervisor.
type Kind int

const (
	Node Kind = iota
	P2Pool
	XMRig
	XMRigProxy
	XvB

	NumKinds = int(XvB) + 1
)

// Kinds returns every kind in lock order.
func Kinds() []Kind { return []Kind{Node, P2Pool, XMRig, XMRigProxy, XvB} }

func (k Kind) String() string {
	switch k {
	case Node:
		return "node"
	case P2Pool:
		return "p2pool"
	case XMRig:
		return "xmrig"
	case XMRigProxy:
		return "xmrig-proxy"
	case XvB:
		return "xvb"
	default:
		return "unknown"
	}
}

// Title is the display name used in console status lines.
func (k Kind) Title() string {
	switch k {
	case Node:
		return "Node"
	case P2Pool:
		return "P2Pool"
	case XMRig:
		return "XMRig"
	case XMRigProxy:
		return "XMRig-Proxy"
	case XvB:
		return "XvB"
	default:
		return "Unknown"
	}
}

// HasChild reports whether the kind spawns an external program.
func (k Kind) HasChild() bool { return k != XvB }

// ParseKind accepts the String form (case-insensitive) plus "proxy".
func ParseKind(s string) (Kind, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "node", "monerod":
		return Node, true
	case "p2pool":
		return P2Pool, true
	case "xmrig":
		return XMRig, true
	case "xmrig-proxy", "proxy", "xmrig_proxy":
		return XMRigProxy, true
	case "xvb":
		return XvB, true
	}
	return Node, false
}
