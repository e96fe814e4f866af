package config

import (
	"fmt"
	"os"
	"strings"
)

func (c *Config) normalize() error {
	if err := c.normalizePaths(); err != nil {
		return err
	}
	c.normalizePipeline()
	c.normalizeServices()
	c.normalizeNotifications()
	c.normalizeLogging()
	return nil
}

func (c *Config) normalizePaths() error {
	var err error
	if strings.TrimSpace(c.Paths.DataDir) == "" {
		c.Paths.DataDir = defaultDataDir
	}
	if c.Paths.DataDir, err = expandPath(c.Paths.DataDir); err != nil {
		return fmt.Errorf("paths.data_dir: %w", err)
	}
	if strings.TrimSpace(c.Paths.LogDir) == "" {
		c.Paths.LogDir = defaultLogDir
	}
	if c.Paths.LogDir, err = expandPath(c.Paths.LogDir); err != nil {
		return fmt.Errorf("paths.log_dir: %w", err)
	}
	c.API.Bind = strings.TrimSpace(c.API.Bind)
	if c.API.Bind == "" {
		c.API.Bind = defaultAPIBind
	}
	c.API.Token = strings.TrimSpace(c.API.Token)
	if c.API.Token == "" {
		if value, ok := os.LookupEnv("FABULA_API_TOKEN"); ok {
			c.API.Token = strings.TrimSpace(value)
		}
	}
	return nil
}

func (c *Config) normalizePipeline() {
	if c.Pipeline.MaxRetries < 0 {
		c.Pipeline.MaxRetries = 0
	}
	if c.Pipeline.WatchdogSeconds <= 0 {
		c.Pipeline.WatchdogSeconds = defaultWatchdogSeconds
	}
	if c.Pipeline.RecoveryTTLMinutes <= 0 {
		c.Pipeline.RecoveryTTLMinutes = defaultRecoveryTTLMinutes
	}
}

func (c *Config) normalizeServices() {
	normalizeService(&c.Services.VoiceCast, "FABULA_VOICECAST_API_KEY", defaultServiceTimeout)
	normalizeService(&c.Services.SoundFX, "FABULA_SOUNDFX_API_KEY", defaultServiceTimeout)
	normalizeService(&c.Services.CoverArt, "FABULA_COVERART_API_KEY", defaultServiceTimeout)
	normalizeService(&c.Services.Safety, "FABULA_SAFETY_API_KEY", defaultServiceTimeout)
	normalizeService(&c.Services.Synth, "FABULA_SYNTH_API_KEY", defaultSynthTimeout)
	if strings.TrimSpace(c.Services.CoverArt.Style) == "" {
		c.Services.CoverArt.Style = defaultCoverArtStyle
	}
	if strings.TrimSpace(c.Services.Safety.Style) == "" {
		c.Services.Safety.Style = defaultSafetyPolicy
	}
}

func normalizeService(svc *Service, envKey string, defaultTimeout int) {
	svc.BaseURL = strings.TrimRight(strings.TrimSpace(svc.BaseURL), "/")
	svc.APIKey = strings.TrimSpace(svc.APIKey)
	if svc.APIKey == "" {
		if value, ok := os.LookupEnv(envKey); ok {
			svc.APIKey = strings.TrimSpace(value)
		}
	}
	svc.Model = strings.TrimSpace(svc.Model)
	svc.Style = strings.TrimSpace(svc.Style)
	if svc.TimeoutSeconds <= 0 {
		svc.TimeoutSeconds = defaultTimeout
	}
}

func (c *Config) normalizeNotifications() {
	c.Notifications.NtfyTopic = strings.TrimSpace(c.Notifications.NtfyTopic)
	if c.Notifications.RequestTimeout <= 0 {
		c.Notifications.RequestTimeout = defaultNotifyTimeout
	}
}

func (c *Config) normalizeLogging() {
	c.Logging.Format = strings.ToLower(strings.TrimSpace(c.Logging.Format))
	if c.Logging.Format == "" {
		c.Logging.Format = defaultLogFormat
	}
	c.Logging.Level = strings.ToLower(strings.TrimSpace(c.Logging.Level))
	if c.Logging.Level == "" {
		c.Logging.Level = defaultLogLevel
	}
}
