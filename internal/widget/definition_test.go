package widget

import (
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestLoadDefinitionMissingFileReturnsDefaults(t *testing.T) {
	def, err := LoadDefinition(filepath.Join(t.TempDir(), "nope.yaml"), discardLogger())
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if !def.Channels.LiveChat {
		t.Fatal("expected live chat enabled by default")
	}
	if !def.PreChat.Enabled || !def.Survey.Enabled {
		t.Fatal("expected pre-chat form and survey enabled by default")
	}
}

func TestLoadDefinitionEmptyPathReturnsDefaults(t *testing.T) {
	def, err := LoadDefinition("", discardLogger())
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if def.Name != "Live chat" {
		t.Fatalf("unexpected default name %q", def.Name)
	}
}

func TestLoadDefinitionOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "widget.yaml")
	content := `
name: Support
pre_chat_form:
  enabled: false
survey:
  enabled: false
eye_catcher:
  enabled: true
  text: "Questions?"
channels:
  live_chat: true
  links:
    - type: whatsapp
      url: https://wa.me/123456
schedule:
  timezone: Europe/Berlin
  hours:
    - day: mon
      open: "09:00"
      close: "17:00"
`
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}

	def, err := LoadDefinition(path, discardLogger())
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if def.Name != "Support" {
		t.Fatalf("name = %q", def.Name)
	}
	if def.PreChat.Enabled {
		t.Fatal("pre-chat form should be disabled")
	}
	if def.Survey.Enabled {
		t.Fatal("survey should be disabled")
	}
	if def.Catcher.Text != "Questions?" {
		t.Fatalf("eye catcher text = %q", def.Catcher.Text)
	}
	if len(def.Channels.Links) != 1 || def.Channels.Links[0].Type != "whatsapp" {
		t.Fatalf("channel links = %+v", def.Channels.Links)
	}
	if def.Schedule.Timezone != "Europe/Berlin" || len(def.Schedule.Hours) != 1 {
		t.Fatalf("schedule = %+v", def.Schedule)
	}
}

func TestLoadDefinitionInvalidYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "widget.yaml")
	if err := os.WriteFile(path, []byte("{{not yaml"), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, err := LoadDefinition(path, discardLogger()); err == nil {
		t.Fatal("expected parse error")
	}
}
