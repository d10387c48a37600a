package appconfig

import (
	"testing"
	"time"

	"pkt.systems/kernelx/schema"
)

func TestDefaultSessionSettingsMatchSessionDefaults(t *testing.T) {
	cfg, err := DefaultConfig()
	if err != nil {
		t.Fatalf("default config: %v", err)
	}
	settings := cfg.SessionSettings()
	if settings.ShutdownGrace != schema.DefaultShutdownGrace || settings.RestartGrace != time.Second {
		t.Fatalf("unexpected grace periods %+v", settings)
	}
	if settings.OutputMaxLines != schema.DefaultOutputMaxLines {
		t.Fatalf("unexpected output max lines %d", settings.OutputMaxLines)
	}
}
