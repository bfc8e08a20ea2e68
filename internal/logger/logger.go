package logger

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	lj "gopkg.in/natefinch/lumberjack.v2"
)

// Default rotation parameters
const (
	DefaultMaxSizeMB  = 10 // MB
	DefaultMaxBackups = 3  // number of backup files
	DefaultMaxAgeDays = 7  // days

	AppLogName = "hashvisr.log"
)

type Level string

const (
	LevelDebug Level = "debug"
	LevelInfo  Level = "info"
	LevelWarn  Level = "warn"
	LevelError Level = "error"
)

type Format string

const (
	FormatText Format = "text"
	FormatJSON Format = "json"
)

// SlogConfig controls the structured application logger.
type SlogConfig struct {
	Level      Level  `mapstructure:"level"`
	Format     Format `mapstructure:"format"`
	Color      bool   `mapstructure:"color"`
	TimeStamps bool   `mapstructure:"timestamps"`
	Source     bool   `mapstructure:"source"`
}

// FileConfig describes rotated log files. With Dir set the app log goes to
// Dir/hashvisr.log and each child console to Dir/<name>.console.log.
type FileConfig struct {
	Dir        string `mapstructure:"dir"`
	AppPath    string `mapstructure:"app_path"` // explicit app log path overrides Dir
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age_days"`
	Compress   bool   `mapstructure:"compress"`
	Consoles   bool   `mapstructure:"consoles"` // persist child console output
}

// Config is the whole logging configuration.
type Config struct {
	Slog SlogConfig `mapstructure:"slog"`
	File FileConfig `mapstructure:"file"`
}

func (l Level) slogLevel() slog.Level {
	switch Level(strings.ToLower(string(l))) {
	case LevelDebug:
		return slog.LevelDebug
	case LevelWarn:
		return slog.LevelWarn
	case LevelError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// NewSlogger builds the application logger on stderr, tee'd to the rotated app log
// when one is configured. Colour only applies to the terminal side.
func (c Config) NewSlogger() *slog.Logger {
	h, _ := c.handler(os.Stderr)
	return slog.New(h)
}

// Setup installs the application logger as the slog default. The returned closer
// releases the app log file, if any.
func (c Config) Setup() (*slog.Logger, io.Closer) {
	h, closer := c.handler(os.Stderr)
	l := slog.New(h)
	slog.SetDefault(l)
	return l, closer
}

func (c Config) handler(term io.Writer) (slog.Handler, io.Closer) {
	opts := &slog.HandlerOptions{Level: c.Slog.Level.slogLevel(), AddSource: c.Slog.Source}
	if !c.Slog.TimeStamps {
		opts.ReplaceAttr = dropTime
	}
	var termH slog.Handler
	switch {
	case c.Slog.Format == FormatJSON:
		termH = slog.NewJSONHandler(term, opts)
	case c.Slog.Color:
		termH = NewColorTextHandler(term, opts, c.Slog.TimeStamps)
	default:
		termH = slog.NewTextHandler(term, opts)
	}
	app := c.AppWriter()
	if app == nil {
		return termH, nopCloser{}
	}
	var fileH slog.Handler
	if c.Slog.Format == FormatJSON {
		fileH = slog.NewJSONHandler(app, opts)
	} else {
		fileH = slog.NewTextHandler(app, opts)
	}
	return fanout{termH, fileH}, app
}

// AppWriter returns the rotated application log, or nil when file logging is off.
func (c Config) AppWriter() io.WriteCloser {
	p := c.File.AppPath
	if p == "" && c.File.Dir != "" {
		p = filepath.Join(c.File.Dir, AppLogName)
	}
	if p == "" {
		return nil
	}
	return c.rotated(p)
}

// ConsoleWriter returns a rotated writer for a child's console output, or nil when
// consoles are not persisted.
func (c Config) ConsoleWriter(name string) io.WriteCloser {
	if !c.File.Consoles || c.File.Dir == "" {
		return nil
	}
	return c.rotated(filepath.Join(c.File.Dir, fmt.Sprintf("%s.console.log", name)))
}

func (c Config) rotated(path string) *lj.Logger {
	return &lj.Logger{
		Filename:   path,
		MaxSize:    valOr(c.File.MaxSizeMB, DefaultMaxSizeMB),
		MaxBackups: valOr(c.File.MaxBackups, DefaultMaxBackups),
		MaxAge:     valOr(c.File.MaxAgeDays, DefaultMaxAgeDays),
		Compress:   c.File.Compress,
	}
}

func dropTime(groups []string, a slog.Attr) slog.Attr {
	if len(groups) == 0 && a.Key == slog.TimeKey {
		return slog.Attr{}
	}
	return a
}

func valOr(v int, def int) int {
	if v <= 0 {
		return def
	}
	return v
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }
