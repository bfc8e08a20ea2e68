package xvb

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
)

// ErrInvalidCredentials is returned when the private endpoint rejects the wallet
// and token pair (HTTP 422).
var ErrInvalidCredentials = errors.New("xvb: invalid credentials")

// PublicStats is the unauthenticated round summary.
type PublicStats struct {
	TimeRemain    uint32  `json:"time_remain"`
	BonusHr       float64 `json:"bonus_hr"`
	DonateHr      float64 `json:"donate_hr"`
	DonateMiners  uint32  `json:"donate_miners"`
	DonateWorkers uint32  `json:"donate_workers"`
	Players       uint32  `json:"players"`
	PlayersRound  uint32  `json:"players_round"`
	Winner        string  `json:"winner"`
	RoundType     string  `json:"round_type"`
}

// PrivateStats is the per-donor history. Averages are reported in kH/s.
type PrivateStats struct {
	Fails       uint32  `json:"fail_count"`
	Donor1hAvg  float64 `json:"donor_1hr_avg"`
	Donor24hAvg float64 `json:"donor_24hr_avg"`
}

// Client talks to the remote donation service.
type Client struct {
	http       *http.Client
	publicURL  string
	privateURL string
}

func NewClient(h *http.Client, publicURL, privateURL string) *Client {
	if h == nil {
		h = &http.Client{}
	}
	return &Client{http: h, publicURL: publicURL, privateURL: privateURL}
}

func (c *Client) Public(ctx context.Context) (PublicStats, error) {
	var s PublicStats
	err := c.get(ctx, c.publicURL, &s)
	return s, err
}

// Private fetches the donor's stats. A 422 answer is ErrInvalidCredentials; any
// other failure is transient.
func (c *Client) Private(ctx context.Context, wallet, token string) (PrivateStats, error) {
	u, err := url.Parse(c.privateURL)
	if err != nil {
		return PrivateStats{}, fmt.Errorf("private url: %w", err)
	}
	q := u.Query()
	q.Set("address", wallet)
	q.Set("token", token)
	u.RawQuery = q.Encode()
	var s PrivateStats
	err = c.get(ctx, u.String(), &s)
	return s, err
}

func (c *Client) get(ctx context.Context, u string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()
	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusUnprocessableEntity:
		return ErrInvalidCredentials
	default:
		return fmt.Errorf("xvb: %s: status %d", req.URL.Host, resp.StatusCode)
	}
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(out); err != nil {
		return fmt.Errorf("xvb: decode: %w", err)
	}
	return nil
}
