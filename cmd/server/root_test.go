package main

import (
	"bytes"
	"context"
	"strings"
	"testing"

	"github.com/rpattn/bulkingest/internal/config"
)

func TestMigrateList(t *testing.T) {
	var stdout, stderr bytes.Buffer
	cmd := newRootCommand(&stdout, &stderr)
	cmd.SetArgs([]string{"migrate", "--list"})

	if err := cmd.Execute(); err != nil {
		t.Fatalf("migrate --list: %v", err)
	}

	lines := strings.Fields(stdout.String())
	if len(lines) != 4 {
		t.Fatalf("expected 4 migration files, got %v", lines)
	}
	if lines[0] != "000001_create_records.down.sql" {
		t.Fatalf("unexpected first migration %q", lines[0])
	}
}

func TestServeRejectsInvalidConfig(t *testing.T) {
	t.Setenv("RATE_LIMIT_MAX", "0")

	var stdout, stderr bytes.Buffer
	cmd := newRootCommand(&stdout, &stderr)
	cmd.SetArgs([]string{"serve", "--config", t.TempDir()})

	err := cmd.Execute()
	if err == nil || !strings.Contains(err.Error(), "RATE_LIMIT_MAX") {
		t.Fatalf("expected a configuration error, got %v", err)
	}
}

func TestOpenMemoryStores(t *testing.T) {
	cfg := config.Config{Store: config.StoreConfig{Driver: config.StoreMemory}}
	st, err := openStores(context.Background(), cfg, nil)
	if err != nil {
		t.Fatalf("open stores: %v", err)
	}
	defer st.close()

	if st.records == nil || st.logs == nil {
		t.Fatalf("expected both repositories to be set")
	}
}

func TestOpenBoltStores(t *testing.T) {
	cfg := config.Config{Store: config.StoreConfig{Driver: config.StoreBolt, BoltPath: t.TempDir() + "/nested/records.db"}}
	st, err := openStores(context.Background(), cfg, nil)
	if err != nil {
		t.Fatalf("open stores: %v", err)
	}
	defer st.close()

	if err := st.ping(context.Background()); err != nil {
		t.Fatalf("ping: %v", err)
	}
}
