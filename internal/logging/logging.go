// Package logging provides named zerolog loggers for each component and
// adapters that route gorm and backlite output through them.
package logging

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Config selects the level and output format of every module logger.
type Config struct {
	Level  string
	Format string // "console" or "json"
}

var DefaultConfig = Config{
	Level:  "info",
	Format: "console",
}

var (
	mu      sync.Mutex
	current = DefaultConfig
	writer  io.Writer = os.Stderr
	loggers           = make(map[string]*zerolog.Logger)
)

// Init applies cfg to all existing and future module loggers.
func Init(cfg Config) {
	mu.Lock()
	defer mu.Unlock()

	current = cfg
	for module, l := range loggers {
		*l = New(cfg, module, writer)
	}
}

// SetOutput redirects all module loggers to w.
func SetOutput(w io.Writer) {
	mu.Lock()
	defer mu.Unlock()

	writer = w
	for module, l := range loggers {
		*l = New(current, module, writer)
	}
}

// Get returns the logger for module, creating it on first use.
func Get(module string) *zerolog.Logger {
	mu.Lock()
	defer mu.Unlock()

	l, ok := loggers[module]
	if !ok {
		nl := New(current, module, writer)
		l = &nl
		loggers[module] = l
	}
	return l
}

// New builds a standalone logger tagged with module.
func New(cfg Config, module string, w io.Writer) zerolog.Logger {
	lvl, err := zerolog.ParseLevel(strings.ToLower(cfg.Level))
	if err != nil || cfg.Level == "" {
		lvl = zerolog.InfoLevel
	}

	if cfg.Format == "json" {
		return zerolog.New(w).Level(lvl).With().Timestamp().Str("module", module).Logger()
	}

	output := zerolog.ConsoleWriter{
		Out:        w,
		TimeFormat: time.DateTime,
		NoColor:    true,
		FormatMessage: func(i any) string {
			return fmt.Sprintf("[%s] %v", strings.ToUpper(module), i)
		},
	}
	return zerolog.New(output).Level(lvl).With().Timestamp().Logger()
}

// Nop returns a disabled logger, used by tests and optional collaborators.
func Nop() *zerolog.Logger {
	l := zerolog.Nop()
	return &l
}
