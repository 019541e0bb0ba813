package config

func Defaults() *Config {
	return &Config{
		General: GeneralConfig{
			Workspace:     "~/.kestrel/workspace",
			LogLevel:      "info",
			MaxIterations: 20,
			DefaultAgent:  "kestrel",
		},
		Providers: map[string]ProviderConfig{
			"openai": {
				APIBase: "https://api.openai.com/v1",
				Model:   "gpt-4o-mini",
			},
			"claude": {
				APIBase: "https://api.anthropic.com",
				Model:   "claude-sonnet-4-20250514",
			},
			"gemini": {
				APIBase: "https://generativelanguage.googleapis.com",
				Model:   "gemini-2.0-flash",
			},
			"openrouter": {
				APIBase: "https://openrouter.ai/api/v1",
				Model:   "openai/gpt-4o-mini",
			},
		},
		Agents: []AgentProfile{
			{
				Name:              "kestrel",
				Provider:          "openai",
				Rules:             defaultRules(),
				RequirePermission: defaultRequirePermission(),
				MaxTurns:          50,
				MaxTokens:         4096,
				Temperature:       0.7,
			},
		},
		Memory: MemoryConfig{
			Enabled:     true,
			ArchivePath: "~/.kestrel/kestrel.db",
			MaxTurns:    50,
		},
		Tools: ToolsConfig{
			Shell: ShellToolConfig{
				Timeout:        30,
				MaxOutputBytes: 65536,
			},
			Web: WebToolConfig{
				Timeout:         30,
				MaxContentBytes: 1 << 20,
				Render:          false,
			},
		},
	}
}

func defaultRules() []string {
	return []string{
		"Work step by step and use tools to verify facts instead of guessing.",
		"When a task is complete, answer with the result instead of calling more tools.",
	}
}

func defaultRequirePermission() []string {
	return []string{
		"shell",
		"write_file",
		"notify",
		"delegate",
	}
}
