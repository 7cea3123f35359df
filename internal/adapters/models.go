package adapters

// modelAliases maps short user-facing names to provider model IDs.
// Unknown aliases pass through unchanged so full IDs keep working.
var modelAliases = map[string]string{
	"opus":   "claude-opus-4-5",
	"sonnet": "claude-sonnet-4-5",
	"haiku":  "claude-haiku-4-5",

	"codex":     "gpt-5.1-codex",
	"codex-max": "gpt-5.1-codex-max",

	"gemini":       "gemini-2.5-pro",
	"gemini-flash": "gemini-2.5-flash",

	"pi":       "anthropic/claude-sonnet-4-5",
	"pi-opus":  "anthropic/claude-opus-4-5",
	"pi-haiku": "anthropic/claude-haiku-4-5",
}

// ResolveModelAlias expands a short alias to its provider model ID.
func ResolveModelAlias(alias string) string {
	if id, ok := modelAliases[alias]; ok {
		return id
	}
	return alias
}

// KnownModelAliases returns the alias names for /status and usage output.
func KnownModelAliases() []string {
	names := make([]string, 0, len(modelAliases))
	for n := range modelAliases {
		names = append(names, n)
	}
	for i := 1; i < len(names); i++ {
		for j := i; j > 0 && names[j] < names[j-1]; j-- {
			names[j], names[j-1] = names[j-1], names[j]
		}
	}
	return names
}
