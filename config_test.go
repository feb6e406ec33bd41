package postwhite

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

func TestLoadConfigDefaults(t *testing.T) {
	dir := t.TempDir()
	cfg, err := LoadConfig(dir)
	if err != nil {
		t.Fatalf("LoadConfig: %s", err)
	}
	if cfg.Port != 10045 {
		t.Errorf("Port = %d", cfg.Port)
	}
	if cfg.LearningPeriod != 60*time.Minute {
		t.Errorf("LearningPeriod = %s", cfg.LearningPeriod)
	}
	if cfg.RejectMessage == "" {
		t.Errorf("expected a default reject-message")
	}
}

func TestLoadConfigOverrides(t *testing.T) {
	dir := t.TempDir()
	content := "host: 0.0.0.0\nport: 9999\nmax-connections: 5\nlearning-period: 5\nrequire-sasl: true\n"
	if err := os.WriteFile(filepath.Join(dir, "config.yml"), []byte(content), 0640); err != nil {
		t.Fatal(err)
	}

	cfg, err := LoadConfig(dir)
	if err != nil {
		t.Fatalf("LoadConfig: %s", err)
	}
	if cfg.Host != "0.0.0.0" || cfg.Port != 9999 || cfg.MaxConnections != 5 {
		t.Errorf("unexpected cfg: %+v", cfg)
	}
	if cfg.LearningPeriod != 5*time.Minute {
		t.Errorf("LearningPeriod = %s", cfg.LearningPeriod)
	}
	if !cfg.RequireSASL {
		t.Errorf("expected require-sasl to be true")
	}
}

func TestLoadConfigRejectsNonPositiveLearningPeriod(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "config.yml"), []byte("learning-period: 0\n"), 0640); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadConfig(dir); err == nil {
		t.Errorf("expected LoadConfig to reject a zero learning-period")
	}
}

func TestLoadConfigLogsUnknownKeysAtDebug(t *testing.T) {
	dir := t.TempDir()
	content := "host: 0.0.0.0\nbogus-setting: surprise\n"
	if err := os.WriteFile(filepath.Join(dir, "config.yml"), []byte(content), 0640); err != nil {
		t.Fatal(err)
	}

	var buf bytes.Buffer
	prevLogger, prevLevel := log.Logger, zerolog.GlobalLevel()
	log.Logger = zerolog.New(&buf)
	zerolog.SetGlobalLevel(zerolog.DebugLevel)
	defer func() {
		log.Logger = prevLogger
		zerolog.SetGlobalLevel(prevLevel)
	}()

	if _, err := LoadConfig(dir); err != nil {
		t.Fatalf("LoadConfig: %s", err)
	}
	if !strings.Contains(buf.String(), "bogus-setting") {
		t.Errorf("expected the unrecognized key to be logged, got %q", buf.String())
	}
	if strings.Contains(buf.String(), `"key":"host"`) {
		t.Errorf("recognized key %q should not have been logged as unknown", "host")
	}
}
