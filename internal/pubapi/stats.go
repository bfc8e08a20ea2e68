package pubapi

import "time"

// Node is what monerod reports through get_info.
type Node struct {
	Height              uint64 `json:"height"`
	TargetHeight        uint64 `json:"target_height"`
	Difficulty          uint64 `json:"difficulty"`
	Synchronized        bool   `json:"synchronized"`
	BusySyncing         bool   `json:"busy_syncing"`
	OutgoingConnections int    `json:"outgoing_connections"`
	IncomingConnections int    `json:"incoming_connections"`
	TxPoolSize          int    `json:"tx_pool_size"`
	DatabaseSize        uint64 `json:"database_size"`
	Nettype             string `json:"nettype"`
	Version             string `json:"version"`
	Status              string `json:"status"`
}

// P2Pool merges the three data-api files and the console "status" report.
type P2Pool struct {
	// local/stratum
	Hashrate15m    float64 `json:"hashrate_15m"`
	Hashrate1h     float64 `json:"hashrate_1h"`
	Hashrate24h    float64 `json:"hashrate_24h"`
	TotalHashes    uint64  `json:"total_hashes"`
	SharesFound    uint64  `json:"shares_found"`
	SharesFailed   uint64  `json:"shares_failed"`
	AverageEffort  float64 `json:"average_effort"`
	CurrentEffort  float64 `json:"current_effort"`
	Connections    int     `json:"connections"`
	RewardSharePct float64 `json:"block_reward_share_percent"`
	// network/stats
	NetworkDifficulty uint64 `json:"network_difficulty"`
	NetworkHeight     uint64 `json:"network_height"`
	// pool/stats
	PoolHashrate        float64 `json:"pool_hashrate"`
	Miners              int     `json:"miners"`
	SidechainDifficulty uint64  `json:"sidechain_difficulty"`
	SidechainHeight     uint64  `json:"sidechain_height"`
	PPLNSWindow         int     `json:"pplns_window"`
	TotalBlocksFound    uint64  `json:"total_blocks_found"`
	// console "status"
	ConsoleShares uint64  `json:"console_shares"`
	SidechainEHR  float64 `json:"sidechain_ehr"`
}

// XMRig is the miner's /1/summary, hashrates in H/s.
type XMRig struct {
	Version     string  `json:"version"`
	WorkerID    string  `json:"worker_id"`
	Uptime      uint64  `json:"uptime"`
	Hashrate10s float64 `json:"hashrate_10s"`
	Hashrate1m  float64 `json:"hashrate_1m"`
	Hashrate15m float64 `json:"hashrate_15m"`
	HashrateMax float64 `json:"hashrate_max"`
	Difficulty  uint64  `json:"difficulty"`
	SharesGood  uint64  `json:"shares_good"`
	SharesTotal uint64  `json:"shares_total"`
	Pool        string  `json:"pool"`
	PingMs      uint64  `json:"ping_ms"`
	Threads     int     `json:"threads"`
	ActivePool  string  `json:"active_pool"` // last "use pool" from the console
}

// Proxy is xmrig-proxy's /1/summary, hashrates converted from kH/s to H/s.
type Proxy struct {
	Version     string  `json:"version"`
	Uptime      uint64  `json:"uptime"`
	Hashrate1m  float64 `json:"hashrate_1m"`
	Hashrate10m float64 `json:"hashrate_10m"`
	Hashrate1h  float64 `json:"hashrate_1h"`
	Hashrate12h float64 `json:"hashrate_12h"`
	Hashrate24h float64 `json:"hashrate_24h"`
	Miners      int     `json:"miners"`
	MinersMax   int     `json:"miners_max"`
	Accepted    uint64  `json:"accepted"`
	Rejected    uint64  `json:"rejected"`
	Upstreams   int     `json:"upstreams"`
	ActivePool  string  `json:"active_pool"`
}

// Xvb combines the remote service's public and private stats with the last decision.
type Xvb struct {
	// public
	TimeRemain    uint32  `json:"time_remain"`
	BonusHr       float64 `json:"bonus_hr"`
	DonateHr      float64 `json:"donate_hr"`
	DonateMiners  uint32  `json:"donate_miners"`
	DonateWorkers uint32  `json:"donate_workers"`
	Players       uint32  `json:"players"`
	PlayersRound  uint32  `json:"players_round"`
	Winner        string  `json:"winner"`
	RoundType     string  `json:"round_type"`
	// private
	Fails       uint32  `json:"fails"`
	Donor1hAvg  float64 `json:"donor_1hr_avg"`
	Donor24hAvg float64 `json:"donor_24hr_avg"`
	PrivateOK   bool    `json:"private_ok"`
	// decision
	Mode            string        `json:"mode"`
	TargetDonation  float64       `json:"target_donation"`
	CurrentNode     string        `json:"current_node"`
	DonateFor       time.Duration `json:"donate_for"`
	TimeUntilSwitch time.Duration `json:"time_until_switch"`
	Indicator       string        `json:"indicator"`
	DecidedAt       time.Time     `json:"decided_at"`
}
