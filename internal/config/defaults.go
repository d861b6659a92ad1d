package config

func Defaults() *Config {
	return &Config{
		General: GeneralConfig{
			LogLevel: "info",
		},
		Backend: BackendConfig{
			APIBase: "http://localhost:3000",
			WSBase:  "ws://localhost:3000",
		},
		Widget: WidgetConfig{
			Device: "desktop",
		},
		Transport: TransportConfig{
			HeartbeatSeconds:     30,
			ReconnectBaseSeconds: 1,
			ReconnectCapSeconds:  30,
			ReconnectMaxAttempts: 5,
			MessagePollSeconds:   3,
			TypingPollSeconds:    1,
			OfflineWaitSeconds:   60,
		},
		Storage: StorageConfig{
			DBPath: "~/.chatwidget/state.db",
		},
	}
}
