package config_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"

	gateway "github.com/chaoschain/gateway"
	"github.com/chaoschain/gateway/internal/config"
)

func writeFile(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "gateway.yaml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := config.Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Store.Driver != "memory" || cfg.HTTP.Addr != ":8080" || cfg.Log.Format != "json" {
		t.Errorf("unexpected defaults: %+v", cfg)
	}
	if cfg.Audit.Enabled || !cfg.Stream.Enabled || cfg.Stream.BufferSize != 256 {
		t.Errorf("audit = %+v stream = %+v", cfg.Audit, cfg.Stream)
	}
	if got, want := cfg.EngineConfig(), gateway.DefaultConfig(); got != want {
		t.Errorf("EngineConfig = %+v, want %+v", got, want)
	}
}

func TestLoad_FileAndEnv(t *testing.T) {
	path := writeFile(t, `
store:
  driver: postgres
  dsn: postgres://localhost/gateway
chain:
  rewards_address: "0x00000000000000000000000000000000000000aa"
  confirmations: 3
engine:
  max_attempts: 2
  action_timeout: 5s
admission:
  - type: CloseEpoch
    max_concurrency: 1
  - type: WorkSubmission
    studio: "0x00000000000000000000000000000000000000bb"
    rate: 2.5
    burst: 5
`)
	t.Setenv("GATEWAY_ENGINE_MAX_ATTEMPTS", "7")
	t.Setenv("GATEWAY_LOG_LEVEL", "debug")

	cfg, err := config.Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Store.Driver != "postgres" || cfg.Store.DSN != "postgres://localhost/gateway" {
		t.Errorf("store = %+v", cfg.Store)
	}
	if cfg.Engine.MaxAttempts != 7 {
		t.Errorf("env override lost: max_attempts = %d", cfg.Engine.MaxAttempts)
	}
	if cfg.Engine.ActionTimeout != 5*time.Second {
		t.Errorf("action_timeout = %s", cfg.Engine.ActionTimeout)
	}
	if cfg.Log.Level != "debug" {
		t.Errorf("log.level = %q", cfg.Log.Level)
	}
	if cfg.Chain.Confirmations != 3 || cfg.RewardsAddress() != common.HexToAddress("0xaa") {
		t.Errorf("chain = %+v rewards=%s", cfg.Chain, cfg.RewardsAddress().Hex())
	}
	if len(cfg.Admission) != 2 || cfg.Admission[1].Rate != 2.5 || cfg.Admission[1].Burst != 5 {
		t.Errorf("admission = %+v", cfg.Admission)
	}
	types, studios := cfg.AdmissionConfigs()
	if len(types) != 1 || types[0].Type != "CloseEpoch" || types[0].MaxConcurrency != 1 {
		t.Errorf("type limits = %+v", types)
	}
	if len(studios) != 1 || studios[0].RateLimit != 2.5 || studios[0].RateBurst != 5 {
		t.Errorf("studio limits = %+v", studios)
	}
}

func TestLoad_MissingFile(t *testing.T) {
	if _, err := config.Load(filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name string
		yaml string
		want string
	}{
		{"bad store", "store:\n  driver: sqlite\n", "store.driver"},
		{"dsn required", "store:\n  driver: mongo\n", "store.dsn"},
		{"bad archive", "archive:\n  driver: s3\n", "archive.driver"},
		{"bad locker", "txqueue:\n  locker: etcd\n", "txqueue.locker"},
		{"bad rewards", "chain:\n  rewards_address: nope\n", "chain.rewards_address"},
		{"admission type", "admission:\n  - max_concurrency: 1\n", "admission[0].type"},
		{"admission unknown type", "admission:\n  - type: Mint\n", "admission[0].type"},
		{"attempts", "engine:\n  max_attempts: 0\n", "engine.max_attempts"},
		{"audit action", "audit:\n  enabled: true\n  actions: [job.enqueued]\n", "audit.actions"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := config.Load(writeFile(t, tt.yaml))
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Fatalf("expected error mentioning %q, got %v", tt.want, err)
			}
		})
	}
}
