package logger

import (
	"bytes"
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	lj "gopkg.in/natefinch/lumberjack.v2"
)

func TestAppWriterFromDir(t *testing.T) {
	dir := t.TempDir()
	cfg := Config{File: FileConfig{Dir: dir}}
	w := cfg.AppWriter()
	require.NotNil(t, w)
	_, _ = w.Write([]byte("hello\n"))
	require.NoError(t, w.Close())
	_, err := os.Stat(filepath.Join(dir, AppLogName))
	assert.NoError(t, err)
}

func TestAppWriterDisabled(t *testing.T) {
	assert.Nil(t, Config{}.AppWriter())
}

func TestRotationDefaultsAndOverrides(t *testing.T) {
	w := Config{File: FileConfig{AppPath: "x.log"}}.AppWriter()
	l, ok := w.(*lj.Logger)
	require.True(t, ok)
	assert.Equal(t, DefaultMaxSizeMB, l.MaxSize)
	assert.Equal(t, DefaultMaxBackups, l.MaxBackups)
	assert.Equal(t, DefaultMaxAgeDays, l.MaxAge)

	w = Config{File: FileConfig{AppPath: "y.log", MaxSizeMB: 1, MaxBackups: 9, MaxAgeDays: 11, Compress: true}}.AppWriter()
	l = w.(*lj.Logger)
	assert.Equal(t, 1, l.MaxSize)
	assert.Equal(t, 9, l.MaxBackups)
	assert.Equal(t, 11, l.MaxAge)
	assert.True(t, l.Compress)
}

func TestConsoleWriter(t *testing.T) {
	dir := t.TempDir()
	assert.Nil(t, Config{File: FileConfig{Dir: dir}}.ConsoleWriter("p2pool"))

	cfg := Config{File: FileConfig{Dir: dir, Consoles: true}}
	w := cfg.ConsoleWriter("p2pool")
	require.NotNil(t, w)
	_, _ = w.Write([]byte("SideChain SYNCHRONIZED\n"))
	require.NoError(t, w.Close())
	b, err := os.ReadFile(filepath.Join(dir, "p2pool.console.log"))
	require.NoError(t, err)
	assert.Contains(t, string(b), "SYNCHRONIZED")
}

func TestColorTextHandler(t *testing.T) {
	var buf bytes.Buffer
	h := NewColorTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}, false)
	l := slog.New(h).With("kind", "xmrig")
	l.Warn("pool timeout")
	out := buf.String()
	assert.Contains(t, out, "\033[33mWARN\033[0m")
	assert.Contains(t, out, "kind=xmrig")
	assert.NotContains(t, out, "time=")
}

func TestFanoutWritesBothSinks(t *testing.T) {
	var a, b bytes.Buffer
	h := fanout{
		slog.NewTextHandler(&a, &slog.HandlerOptions{Level: slog.LevelInfo}),
		slog.NewTextHandler(&b, &slog.HandlerOptions{Level: slog.LevelError}),
	}
	l := slog.New(h)
	l.Info("one")
	l.Error("two")
	assert.Equal(t, 2, strings.Count(a.String(), "msg="))
	assert.Equal(t, 1, strings.Count(b.String(), "msg="))
	assert.True(t, h.Enabled(context.Background(), slog.LevelInfo))
	assert.False(t, h.Enabled(context.Background(), slog.LevelDebug))
}

func TestLevelParsing(t *testing.T) {
	assert.Equal(t, slog.LevelDebug, Level("DEBUG").slogLevel())
	assert.Equal(t, slog.LevelInfo, Level("").slogLevel())
	assert.Equal(t, slog.LevelError, LevelError.slogLevel())
}
