package cache

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/gridwx/weather-grid-service/internal/dataset"
)

type mockReportFetcher struct {
	report dataset.Report
	err    error
}

func (m *mockReportFetcher) ByName(ctx context.Context, name, country string) (dataset.Report, error) {
	if m.err != nil {
		return dataset.Report{}, m.err
	}
	out := m.report
	out.SourceCity = name
	return out, nil
}

func TestWarmer_Warm_Success(t *testing.T) {
	fetcher := &mockReportFetcher{report: dataset.Report{GridID: "GRID#12#229", Role: dataset.RoleSensor}}
	warmer := NewWarmer(fetcher, nil)
	ctx := context.Background()

	err := warmer.Warm(ctx, []string{"Barcelona", "Lisbon"})
	if err != nil {
		t.Fatalf("Warm() error = %v, want nil", err)
	}
}

func TestWarmer_Warm_EmptyCities(t *testing.T) {
	fetcher := &mockReportFetcher{}
	warmer := NewWarmer(fetcher, nil)
	ctx := context.Background()

	err := warmer.Warm(ctx, nil)
	if err != nil {
		t.Fatalf("Warm() with nil cities error = %v, want nil", err)
	}
	err = warmer.Warm(ctx, []string{})
	if err != nil {
		t.Fatalf("Warm() with empty cities error = %v, want nil", err)
	}
}

func TestWarmer_Warm_FetcherError(t *testing.T) {
	fetcher := &mockReportFetcher{err: errors.New("store down")}
	warmer := NewWarmer(fetcher, nil)
	ctx := context.Background()

	err := warmer.Warm(ctx, []string{"Barcelona"})
	if err == nil {
		t.Fatal("Warm() error = nil, want non-nil")
	}
	if !strings.Contains(err.Error(), "warm Barcelona") {
		t.Errorf("Warm() error = %q, want message naming the failed city", err)
	}
}
