package backend

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"wastelog/internal/config"
	"wastelog/internal/core"
	"wastelog/internal/extraction/fixed"
	"wastelog/internal/extraction/remote"
)

func TestFromAppConfig(t *testing.T) {
	if _, err := FromAppConfig(nil); err == nil {
		t.Fatal("expected error for nil config")
	}
	if _, err := FromAppConfig(&config.Config{DataBackend: "sheets"}); err == nil {
		t.Fatal("expected error for unknown backend")
	}
	cfg, err := FromAppConfig(&config.Config{DataBackend: "sqlite", SQLiteDBPath: "x.db", ReportYear: 2024, AMQPURL: "amqp://h/", AMQPExchange: "e", AMQPQueue: "q"})
	if err != nil {
		t.Fatalf("convert: %v", err)
	}
	if cfg.Type != SQLiteBackend || cfg.SQLiteDBPath != "x.db" || cfg.ReportYear != 2024 || cfg.AMQPQueue != "q" {
		t.Fatalf("unexpected backend config %+v", cfg)
	}
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		cfg     Config
		wantErr bool
	}{
		{"memory", Config{Type: MemoryBackend}, false},
		{"sqlite", Config{Type: SQLiteBackend, SQLiteDBPath: "a.db"}, false},
		{"sqlite without path", Config{Type: SQLiteBackend}, true},
		{"unknown", Config{Type: "sheets"}, true},
		{"amqp without queue", Config{Type: MemoryBackend, AMQPURL: "amqp://h/", AMQPExchange: "e"}, true},
	}
	for _, tt := range tests {
		if err := tt.cfg.Validate(); (err != nil) != tt.wantErr {
			t.Errorf("%s: Validate() = %v, wantErr %v", tt.name, err, tt.wantErr)
		}
	}
	if got := GetBackendTypeStrings(); len(got) != 2 || got[0] != "memory" || got[1] != "sqlite" {
		t.Errorf("unexpected backend types %v", got)
	}
}

func TestCreateMemoryBackend(t *testing.T) {
	ctx := context.Background()
	res, err := NewFactory(nil).CreateBackend(ctx, Config{Type: MemoryBackend, ReportYear: 2024})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	defer res.Cleanup()

	list, err := res.Reader.List(ctx)
	if err != nil || len(list) != core.MonthsPerLedger {
		t.Fatalf("list: %d %v", len(list), err)
	}
	if list[0].LastUpdated.String() != "2024-01-01" {
		t.Fatalf("ledger should be dated by the report year, got %s", list[0].LastUpdated)
	}

	rep := core.MonthlyReport{MonthIndex: 1, KgGenerated: 5, Status: core.StatusVerified, LastUpdated: core.NewDate(2024, 2, 28)}
	if err := res.Store.Upsert(ctx, rep); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	if got, _ := res.Reader.Get(ctx, 1); got.KgGenerated != 5 || got.Status != core.StatusVerified {
		t.Fatalf("reader does not observe the write: %+v", got)
	}
	if err := res.Ready(ctx); err != nil {
		t.Fatalf("ready: %v", err)
	}
}

func TestCreateSQLiteBackend(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "wastelog.db")
	res, err := NewFactory(nil).CreateBackend(ctx, Config{Type: SQLiteBackend, SQLiteDBPath: path})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	defer res.Cleanup()

	if err := res.Ready(ctx); err != nil {
		t.Fatalf("ready: %v", err)
	}
	rep := core.MonthlyReport{MonthIndex: 9, KgGenerated: 77.5, Status: core.StatusVerified, LastUpdated: core.NewDate(2025, 10, 3), FileURL: "oct.pdf"}
	if err := res.Store.Upsert(ctx, rep); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	got, err := res.Reader.Get(ctx, 9)
	if err != nil || got.KgGenerated != 77.5 || got.FileURL != "oct.pdf" {
		t.Fatalf("get: %+v %v", got, err)
	}
}

func TestCreateBackendRejectsInvalidConfig(t *testing.T) {
	if _, err := NewFactory(nil).CreateBackend(context.Background(), Config{Type: "sheets"}); err == nil {
		t.Fatal("expected error")
	}
}

func TestNewExtractor(t *testing.T) {
	e, err := NewExtractor(&config.Config{Extractor: "fixed"})
	if err != nil {
		t.Fatalf("fixed: %v", err)
	}
	if _, ok := e.(fixed.Simulator); !ok {
		t.Fatalf("expected simulator, got %T", e)
	}

	e, err = NewExtractor(&config.Config{Extractor: "remote", ExtractorURL: "https://ocr.example.com", ExtractionTimeout: time.Second})
	if err != nil {
		t.Fatalf("remote: %v", err)
	}
	if _, ok := e.(*remote.Client); !ok {
		t.Fatalf("expected remote client, got %T", e)
	}

	if _, err := NewExtractor(&config.Config{Extractor: "remote"}); err == nil {
		t.Fatal("expected error for remote extractor without URL")
	}
	if _, err := NewExtractor(&config.Config{Extractor: "ocr"}); err == nil {
		t.Fatal("expected error for unknown extractor")
	}
}
