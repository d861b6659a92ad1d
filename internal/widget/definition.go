// Package widget is the embeddable chat widget's client engine: it
// owns the flow state, wires the transports to the reconciler and the
// persistent store, and exposes a view snapshot for rendering.
package widget

import (
	"fmt"
	"log/slog"
	"os"

	"gopkg.in/yaml.v3"
)

// Definition is the per-widget configuration the backend would serve
// to the embed snippet: enabled channels, form and survey behavior,
// eye-catcher, opening hours.
type Definition struct {
	Name     string        `yaml:"name"`
	Channels ChannelsDef   `yaml:"channels"`
	PreChat  PreChatDef    `yaml:"pre_chat_form"`
	Survey   SurveyDef     `yaml:"survey"`
	Catcher  EyeCatcherDef `yaml:"eye_catcher"`
	Offline  OfflineDef    `yaml:"offline"`
	Schedule Schedule      `yaml:"schedule"`
}

// ChannelsDef lists the contact options the widget offers. Live chat
// is handled by this engine; links are external deep links
// (whatsapp/telegram/email) rendered as buttons.
type ChannelsDef struct {
	LiveChat bool          `yaml:"live_chat"`
	Links    []ChannelLink `yaml:"links,omitempty"`
}

type ChannelLink struct {
	Type string `yaml:"type"` // "whatsapp" | "telegram" | "email" | "phone"
	URL  string `yaml:"url"`
}

type PreChatDef struct {
	Enabled      bool `yaml:"enabled"`
	RequireEmail bool `yaml:"require_email"`
}

type SurveyDef struct {
	Enabled bool `yaml:"enabled"`
}

type EyeCatcherDef struct {
	Enabled bool   `yaml:"enabled"`
	Text    string `yaml:"text,omitempty"`
}

type OfflineDef struct {
	FormEnabled bool `yaml:"form_enabled"`
}

// DefaultDefinition is used when no widget.yaml is configured.
func DefaultDefinition() *Definition {
	return &Definition{
		Name: "Live chat",
		Channels: ChannelsDef{
			LiveChat: true,
		},
		PreChat: PreChatDef{Enabled: true},
		Survey:  SurveyDef{Enabled: true},
		Catcher: EyeCatcherDef{Enabled: true, Text: "Hi! How can we help?"},
		Offline: OfflineDef{FormEnabled: true},
	}
}

// LoadDefinition reads a widget definition from a YAML file. A missing
// path returns the defaults.
func LoadDefinition(path string, logger *slog.Logger) (*Definition, error) {
	if path == "" {
		return DefaultDefinition(), nil
	}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		logger.Debug("widget definition does not exist, using defaults", "path", path)
		return DefaultDefinition(), nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read widget definition: %w", err)
	}

	def := DefaultDefinition()
	if err := yaml.Unmarshal(data, def); err != nil {
		return nil, fmt.Errorf("parse widget definition %s: %w", path, err)
	}

	logger.Info("loaded widget definition", "name", def.Name, "path", path)
	return def, nil
}
