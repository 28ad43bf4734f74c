package services

import (
	"context"
	"errors"
	"testing"

	"wastelog/internal/core"
	"wastelog/internal/ledger/memory"
)

type recordingPublisher struct {
	published []core.MonthlyReport
	err       error
}

func (p *recordingPublisher) PublishReportVerified(_ context.Context, r core.MonthlyReport) error {
	p.published = append(p.published, r)
	return p.err
}

type brokenStore struct {
	*memory.Store
}

func (brokenStore) Upsert(context.Context, core.MonthlyReport) error {
	return errors.New("database is locked")
}

func verified(month int, kg float64) core.MonthlyReport {
	return core.MonthlyReport{MonthIndex: month, KgGenerated: kg, Status: core.StatusVerified, LastUpdated: core.NewDate(2025, 5, 1)}
}

func TestReportService_Upsert(t *testing.T) {
	ctx := context.Background()

	tests := []struct {
		name          string
		report        core.MonthlyReport
		publishErr    error
		wantPublished int
	}{
		{"verified is published", verified(4, 12), nil, 1},
		{"publish failure does not fail the write", verified(4, 12), errors.New("broker down"), 1},
		{"pending is not published", core.MonthlyReport{MonthIndex: 4, Status: core.StatusPending}, nil, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := memory.New(core.NewDate(2025, 1, 1))
			pub := &recordingPublisher{err: tt.publishErr}
			svc := NewReportService(store, pub)

			if err := svc.Upsert(ctx, tt.report); err != nil {
				t.Fatalf("upsert: %v", err)
			}
			got, _ := svc.Get(ctx, 4)
			if got != tt.report {
				t.Fatalf("store has %+v, want %+v", got, tt.report)
			}
			if len(pub.published) != tt.wantPublished {
				t.Fatalf("published %d events, want %d", len(pub.published), tt.wantPublished)
			}
		})
	}
}

func TestReportService_StoreErrorSkipsPublish(t *testing.T) {
	pub := &recordingPublisher{}
	svc := NewReportService(brokenStore{memory.New(core.NewDate(2025, 1, 1))}, pub)
	if err := svc.Upsert(context.Background(), verified(1, 2)); err == nil {
		t.Fatal("expected store error")
	}
	if len(pub.published) != 0 {
		t.Fatal("nothing should be published when the write fails")
	}
}

func TestReportService_NilPublisher(t *testing.T) {
	svc := NewReportService(memory.New(core.NewDate(2025, 1, 1)), nil)
	if err := svc.Upsert(context.Background(), verified(0, 1)); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	list, err := svc.List(context.Background())
	if err != nil || len(list) != core.MonthsPerLedger {
		t.Fatalf("list: %d %v", len(list), err)
	}
	if err := svc.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
}
