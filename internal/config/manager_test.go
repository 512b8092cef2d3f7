package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestManagerParseJSON(t *testing.T) {
	t.Parallel()

	path := writeConfig(t, "config.json", `{
		"telegram": {"token": "123:abc", "poll_timeout": "15s"},
		"logging": {"level": "DEBUG", "console": true},
		"storage": {"driver": "file", "path": "./store"},
		"highlight": {"dispatch_interval": "7s", "rate_per_sec": 3}
	}`)

	cfg, err := NewManager(path).Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Telegram.Token != "123:abc" {
		t.Fatalf("token = %q", cfg.Telegram.Token)
	}
	if cfg.Storage == nil || cfg.Storage.Driver != "file" {
		t.Fatalf("storage = %+v", cfg.Storage)
	}
	d, err := cfg.Highlight.DispatchIntervalOrDefault()
	if err != nil || d != 7*time.Second {
		t.Fatalf("dispatch interval = (%v, %v)", d, err)
	}
}

func TestManagerParseYAML(t *testing.T) {
	t.Parallel()

	path := writeConfig(t, "config.yaml", `
telegram:
  token: "123:abc"
logging:
  console: true
highlight:
  rate_per_sec: 2
`)

	cfg, err := NewManager(path).Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Telegram.Token != "123:abc" || cfg.Highlight.RatePerSec != 2 {
		t.Fatalf("cfg = %+v", cfg)
	}
}

func TestManagerRejectsUnknownFields(t *testing.T) {
	t.Parallel()

	path := writeConfig(t, "config.json", `{
		"telegram": {"token": "123:abc"},
		"higlight": {}
	}`)

	if _, err := NewManager(path).Load(); err == nil {
		t.Fatal("misspelled section should be rejected")
	}
}

func TestManagerRejectsTrailingData(t *testing.T) {
	t.Parallel()

	path := writeConfig(t, "config.json", `{"telegram": {"token": "t"}} {"extra": 1}`)
	if _, err := NewManager(path).Parse(); err == nil {
		t.Fatal("trailing JSON tokens should be rejected")
	}
}

func TestValidate(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name string
		cfg  Config
		ok   bool
	}{
		{"token required", Config{}, false},
		{"token only", Config{Telegram: TelegramConfig{Token: "t"}}, true},
		{
			"bad poll timeout",
			Config{Telegram: TelegramConfig{Token: "t", PollTimeout: "soon"}},
			false,
		},
		{
			"bad dispatch interval",
			Config{
				Telegram:  TelegramConfig{Token: "t"},
				Highlight: HighlightConfig{DispatchInterval: "often"},
			},
			false,
		},
		{
			"bad busy timeout",
			Config{
				Telegram: TelegramConfig{Token: "t"},
				Storage:  &StorageConfig{Driver: "sqlite", Path: "x", BusyTimeout: "nope"},
			},
			false,
		},
	}
	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			err := tc.cfg.Validate()
			if tc.ok != (err == nil) {
				t.Fatalf("Validate = %v, want ok=%v", err, tc.ok)
			}
		})
	}
}

func TestDispatchIntervalDefault(t *testing.T) {
	t.Parallel()

	d, err := HighlightConfig{}.DispatchIntervalOrDefault()
	if err != nil || d != 5*time.Second {
		t.Fatalf("default = (%v, %v), want 5s", d, err)
	}
}

func TestParseDurationField(t *testing.T) {
	t.Parallel()

	cases := []struct {
		raw  string
		want time.Duration
		ok   bool
	}{
		{"", 0, true},
		{"10s", 10 * time.Second, true},
		{" 1m ", time.Minute, true},
		{"-5s", 0, false},
		{"banana", 0, false},
	}
	for _, tc := range cases {
		tc := tc
		t.Run(tc.raw, func(t *testing.T) {
			t.Parallel()
			d, err := ParseDurationField("test.field", tc.raw)
			if tc.ok != (err == nil) || d != tc.want {
				t.Fatalf("ParseDurationField(%q) = (%v, %v)", tc.raw, d, err)
			}
		})
	}
}

func TestManagerSubscribePublish(t *testing.T) {
	t.Parallel()

	m := NewManager("unused")
	ch := m.Subscribe(1)
	cfg := &Config{Telegram: TelegramConfig{Token: "t"}}

	m.publish(cfg)
	select {
	case got := <-ch:
		if got != cfg {
			t.Fatal("subscriber received a different config")
		}
	default:
		t.Fatal("subscriber did not receive the config")
	}

	// A slow subscriber gets the newest config, not the stale one.
	stale := &Config{}
	m.publish(stale)
	m.publish(cfg)
	if got := <-ch; got != cfg {
		t.Fatal("stale config should be displaced by the newest")
	}

	m.Unsubscribe(ch)
	if _, ok := <-ch; ok {
		t.Fatal("unsubscribe should close the channel")
	}
}
