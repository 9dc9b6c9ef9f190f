package main

import (
	"context"
	"os/signal"
	"strings"
	"sync"
	"syscall"

	"github.com/banshee-data/beadtrack/internal/config"
)

type commandContext struct {
	configFlag *string

	once     sync.Once
	settings *config.Settings
	err      error
}

func newCommandContext(configFlag *string) *commandContext {
	return &commandContext{configFlag: configFlag}
}

// ensureSettings loads the --config file once. Without one the defaults
// are used.
func (c *commandContext) ensureSettings() (*config.Settings, error) {
	c.once.Do(func() {
		path := ""
		if c.configFlag != nil {
			path = strings.TrimSpace(*c.configFlag)
		}
		if path == "" {
			c.settings = config.Default()
			return
		}
		c.settings, c.err = config.Load(path)
	})
	return c.settings, c.err
}

// signalContext is cancelled by SIGINT or SIGTERM.
func signalContext(parent context.Context) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
}
