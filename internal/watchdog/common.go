package watchdog

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"

	"github.com/loykin/hashvisr/internal/env"
	"github.com/loykin/hashvisr/internal/process"
)

// ClassifyExit is the shared rule: a clean exit is Dead, anything else Failed.
func ClassifyExit(code int, err error) process.State {
	if code == 0 && err == nil {
		return process.Dead
	}
	return process.Failed
}

// command assembles a Command with the composed child environment.
func command(path string, args []string, e *env.Env, perKind []string) process.Command {
	c := process.Command{Path: path, Args: args}
	if e != nil {
		c.Env = e.Merge(perKind)
	}
	return c
}

// binDir is the directory holding the program, used for relative data paths.
func binDir(path string) string { return filepath.Dir(path) }

const maxBody = 4 << 20

func doJSON(ctx context.Context, client *http.Client, method, url, token string, body, out any) error {
	var rd io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		rd = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, url, rd)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%s %s: status %d", method, url, resp.StatusCode)
	}
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxBody)).Decode(out); err != nil {
		return fmt.Errorf("decode %s: %w", url, err)
	}
	return nil
}

func readJSONFile(path string, out any) error {
	b, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return err
	}
	if err := json.Unmarshal(b, out); err != nil {
		return fmt.Errorf("decode %s: %w", path, err)
	}
	return nil
}

func defaultClient(c *http.Client) *http.Client {
	if c != nil {
		return c
	}
	return &http.Client{}
}
