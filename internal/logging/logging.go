// Package logging provides leveled, prefixed loggers for server components.
package logging

import (
	"io"
	"os"
	"strings"
	"sync"

	"github.com/labstack/gommon/log"
)

const header = "${time_rfc3339} ${level} [${prefix}]"

var (
	mu     sync.RWMutex
	level            = log.INFO
	output io.Writer = os.Stdout
)

// ParseLevel converts a config level name to a gommon level.
// Unknown names fall back to INFO.
func ParseLevel(name string) log.Lvl {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "debug":
		return log.DEBUG
	case "warn", "warning":
		return log.WARN
	case "error":
		return log.ERROR
	case "off", "none":
		return log.OFF
	default:
		return log.INFO
	}
}

// Configure sets the level and output used by loggers created afterwards.
func Configure(levelName string, w io.Writer) {
	mu.Lock()
	defer mu.Unlock()

	level = ParseLevel(levelName)
	if w != nil {
		output = w
	}
}

// New creates a logger for a component, e.g. logging.New("staging").
func New(component string) *log.Logger {
	mu.RLock()
	defer mu.RUnlock()

	l := log.New(component)
	l.SetHeader(header)
	l.SetLevel(level)
	l.SetOutput(output)
	return l
}
