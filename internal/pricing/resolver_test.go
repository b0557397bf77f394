package pricing

import (
	"testing"
	"time"

	"github.com/avolkov/ticketline/internal/domain"
)

func TestPriceForCount(t *testing.T) {
	item := &domain.Item{
		Amount: 10.00,
		CountTiers: []domain.CountTier{
			{Threshold: 10, Amount: 5.00},
			{Threshold: 20, Amount: 3.00},
		},
	}

	tests := []struct {
		name          string
		observedCount int
		want          float64
	}{
		{"below first breakpoint", 5, 10.00},
		{"at first breakpoint", 10, 10.00},
		{"past first breakpoint", 15, 5.00},
		{"just past first breakpoint", 11, 5.00},
		{"at second breakpoint", 20, 5.00},
		{"past second breakpoint", 25, 3.00},
		{"zero sold", 0, 10.00},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := PriceForCount(item, tt.observedCount)
			if got != tt.want {
				t.Errorf("PriceForCount(item, %d) = %v, want %v", tt.observedCount, got, tt.want)
			}
		})
	}
}

func TestPriceForCount_UnorderedTiers(t *testing.T) {
	// Tier order in the catalog is not guaranteed; the highest qualifying
	// threshold must still win.
	item := &domain.Item{
		Amount: 10.00,
		CountTiers: []domain.CountTier{
			{Threshold: 20, Amount: 3.00},
			{Threshold: 10, Amount: 5.00},
		},
	}
	if got := PriceForCount(item, 15); got != 5.00 {
		t.Errorf("PriceForCount(item, 15) = %v, want 5.00", got)
	}
	if got := PriceForCount(item, 25); got != 3.00 {
		t.Errorf("PriceForCount(item, 25) = %v, want 3.00", got)
	}
}

func TestPriceForCount_NoTiers(t *testing.T) {
	item := &domain.Item{Amount: 42.50}
	if got := PriceForCount(item, 100); got != 42.50 {
		t.Errorf("PriceForCount(item, 100) = %v, want base 42.50", got)
	}
}

func TestPriceForTime(t *testing.T) {
	early := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	late := time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC)

	item := &domain.Item{
		Amount: 30.00,
		TimeTiers: []domain.TimeTier{
			{Cutoff: early, Amount: 20.00},
			{Cutoff: late, Amount: 25.00},
		},
	}

	tests := []struct {
		name    string
		instant time.Time
		want    float64
	}{
		{"before all cutoffs", early.Add(-time.Hour), 30.00},
		{"exactly at first cutoff", early, 30.00},
		{"after first cutoff", early.Add(time.Hour), 20.00},
		{"after second cutoff", late.Add(time.Hour), 25.00},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := PriceForTime(item, tt.instant)
			if got != tt.want {
				t.Errorf("PriceForTime(item, %v) = %v, want %v", tt.instant, got, tt.want)
			}
		})
	}
}

func TestPriceForTime_NoTiers(t *testing.T) {
	item := &domain.Item{Amount: 15.00}
	if got := PriceForTime(item, time.Now()); got != 15.00 {
		t.Errorf("PriceForTime = %v, want base 15.00", got)
	}
}
