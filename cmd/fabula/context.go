package main

import (
	"strings"
	"sync"

	"fabula/internal/config"
)

type commandContext struct {
	serverFlag *string
	configFlag *string

	configOnce   sync.Once
	config       *config.Config
	configPath   string
	configExists bool
	configErr    error
}

func newCommandContext(serverFlag, configFlag *string) *commandContext {
	return &commandContext{
		serverFlag: serverFlag,
		configFlag: configFlag,
	}
}

func (c *commandContext) ensureConfig() (*config.Config, error) {
	c.configOnce.Do(func() {
		var path string
		if c.configFlag != nil {
			path = strings.TrimSpace(*c.configFlag)
		}
		cfg, resolved, exists, err := config.Load(path)
		if err != nil {
			c.configErr = err
			return
		}
		c.config = cfg
		c.configPath = resolved
		c.configExists = exists
	})
	return c.config, c.configErr
}

// serverAddr resolves the daemon API address, preferring the --server flag
// over the configured bind address.
func (c *commandContext) serverAddr() string {
	if c.serverFlag != nil {
		if addr := strings.TrimSpace(*c.serverFlag); addr != "" {
			return addr
		}
	}
	if cfg, err := c.ensureConfig(); err == nil && cfg != nil {
		return cfg.API.Bind
	}
	return ""
}

func (c *commandContext) apiToken() string {
	if cfg, err := c.ensureConfig(); err == nil && cfg != nil {
		return cfg.API.Token
	}
	return ""
}

func (c *commandContext) client() (*apiClient, error) {
	return newAPIClient(c.serverAddr(), c.apiToken())
}
