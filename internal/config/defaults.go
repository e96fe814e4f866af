package config

const (
	defaultDataDir            = "~/.local/share/fabula"
	defaultLogDir             = "~/.local/share/fabula/logs"
	defaultAPIBind            = "127.0.0.1:7817"
	defaultLogFormat          = "console"
	defaultLogLevel           = "info"
	defaultMaxRetries         = 2
	defaultWatchdogSeconds    = 2
	defaultRecoveryTTLMinutes = 10
	defaultServiceTimeout     = 30
	defaultSynthTimeout       = 120
	defaultCoverArtStyle      = "storybook"
	defaultSafetyPolicy       = "family-friendly"
	defaultNotifyTimeout      = 10
)

// Default returns a Config populated with repository defaults.
func Default() Config {
	return Config{
		Paths: Paths{
			DataDir: defaultDataDir,
			LogDir:  defaultLogDir,
		},
		API: API{
			Bind: defaultAPIBind,
		},
		Pipeline: Pipeline{
			MaxRetries:         defaultMaxRetries,
			WatchdogSeconds:    defaultWatchdogSeconds,
			RecoveryTTLMinutes: defaultRecoveryTTLMinutes,
			CoverArtRequired:   false,
			SoundEffects:       true,
			SynthesizedAudio:   true,
		},
		Services: Services{
			VoiceCast: Service{TimeoutSeconds: defaultServiceTimeout},
			SoundFX:   Service{TimeoutSeconds: defaultServiceTimeout},
			CoverArt:  Service{TimeoutSeconds: defaultServiceTimeout, Style: defaultCoverArtStyle},
			Safety:    Service{TimeoutSeconds: defaultServiceTimeout, Style: defaultSafetyPolicy},
			Synth:     Service{TimeoutSeconds: defaultSynthTimeout},
		},
		Notifications: Notifications{
			RequestTimeout: defaultNotifyTimeout,
			Ready:          true,
			Errors:         true,
		},
		Logging: Logging{
			Format: defaultLogFormat,
			Level:  defaultLogLevel,
		},
	}
}
