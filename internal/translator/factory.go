package translator

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/valpere/storetran/internal/apierr"
	"github.com/valpere/storetran/internal/audit"
)

var errMissingKey = errors.New("API key not configured")

var constructors = map[string]func(Config, audit.Sink) Provider{
	"anthropic": func(c Config, s audit.Sink) Provider { return NewAnthropicProvider(c, s) },
	"openai":    func(c Config, s audit.Sink) Provider { return NewOpenAIProvider(c, s) },
	"gemini":    func(c Config, s audit.Sink) Provider { return NewGeminiProvider(c, s) },
}

// Names lists the registered provider names.
func Names() []string {
	names := make([]string, 0, len(constructors))
	for n := range constructors {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// New builds the provider called name. A missing API key is an *apierr.AuthError.
func New(name string, cfg Config, sink audit.Sink) (Provider, error) {
	ctor, ok := constructors[strings.ToLower(name)]
	if !ok {
		return nil, fmt.Errorf("unknown provider %q (available: %s)", name, strings.Join(Names(), ", "))
	}
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, &apierr.AuthError{Service: name, Err: errMissingKey}
	}
	return ctor(cfg, sink), nil
}
