package config

import (
	"strings"
	"testing"
	"time"

	"github.com/MarcoPoloResearchLab/overlay/internal/compiler"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load(NewViper())
	if err != nil {
		t.Fatalf("failed to load defaults: %v", err)
	}
	if cfg.OutboxVariant != compiler.OutboxWithTableName {
		t.Fatalf("expected default outbox variant, got %s", cfg.OutboxVariant)
	}
	if cfg.JoinTablePrefix != compiler.DefaultJoinTablePrefix {
		t.Fatalf("expected default join prefix, got %q", cfg.JoinTablePrefix)
	}
	if cfg.PollInterval != 2*time.Second || cfg.BatchSize != 100 {
		t.Fatalf("unexpected outbox defaults %s/%d", cfg.PollInterval, cfg.BatchSize)
	}
	if cfg.UsesPostgres() {
		t.Fatalf("expected sqlite by default")
	}
	options := cfg.CompilerOptions()
	if options.OutboxVariant != compiler.OutboxWithTableName || options.JoinTablePrefix != "_" {
		t.Fatalf("unexpected compiler options %+v", options)
	}
}

func TestLoadReadsEnvironment(t *testing.T) {
	t.Setenv("OVERLAY_COMPILE_OUTBOX_VARIANT", "without_table_name")
	t.Setenv("OVERLAY_DATABASE_URL", "postgres://overlay@localhost/overlay")
	t.Setenv("OVERLAY_OUTBOX_POLL_INTERVAL", "250ms")

	cfg, err := Load(NewViper())
	if err != nil {
		t.Fatalf("failed to load config: %v", err)
	}
	if cfg.OutboxVariant != compiler.OutboxWithoutTableName {
		t.Fatalf("expected variant from environment, got %s", cfg.OutboxVariant)
	}
	if !cfg.UsesPostgres() {
		t.Fatalf("expected postgres when database.url is set")
	}
	if cfg.PollInterval != 250*time.Millisecond {
		t.Fatalf("expected poll interval from environment, got %s", cfg.PollInterval)
	}
}

func TestLoadRejectsInvalidValues(t *testing.T) {
	testCases := []struct {
		name     string
		key      string
		value    any
		contains string
	}{
		{name: "variant", key: "compile.outbox_variant", value: "sideways", contains: "compile.outbox_variant"},
		{name: "batch size", key: "outbox.batch_size", value: 0, contains: "outbox.batch_size"},
		{name: "poll interval", key: "outbox.poll_interval", value: "0s", contains: "outbox.poll_interval"},
		{name: "database", key: "database.path", value: " ", contains: "database.url or database.path"},
	}
	for _, testCase := range testCases {
		t.Run(testCase.name, func(t *testing.T) {
			configViper := NewViper()
			configViper.Set(testCase.key, testCase.value)
			_, err := Load(configViper)
			if err == nil || !strings.Contains(err.Error(), testCase.contains) {
				t.Fatalf("expected error mentioning %q, got %v", testCase.contains, err)
			}
		})
	}
}
