// Package tariff turns a downloaded ENTSO-E day-ahead price document
// (package entsoe) into a price-bearing slot grid at the configured
// resolution, applying the grid-transfer/tax/VAT fee stack to the
// import side.
package tariff

import (
	"context"
	"fmt"
	"time"

	"github.com/cepro-home/energy-planner/entsoe"
	"github.com/cepro-home/energy-planner/planner"
)

// PriceSlot is one raw (start,end,import,export) tuple before it is
// joined with forecasts into a planner.Slot by the input assembler.
type PriceSlot struct {
	Start       time.Time
	End         time.Time
	ImportPrice float64 // currency/kWh
	ExportPrice float64 // currency/kWh
}

// Model resolves slot-granular prices from one or more downloaded
// ENTSO-E documents (today's, and optionally tomorrow's once published).
type Model struct {
	Today    *entsoe.PublicationMarketDocument
	Tomorrow *entsoe.PublicationMarketDocument // nil when not published or already merged into Today (Fetch always merges)

	GridTransferFee float64 // currency/MWh
	EnergyTax       float64 // currency/MWh
	VATPercent      float64 // e.g. 21 for 21%
}

// Fetch downloads today's (and, if available, tomorrow's) publication
// documents, failing with a tariff-unavailable error only when even
// today's data is missing.
func Fetch(ctx context.Context, securityToken, urlFormat string, loc *time.Location) (*Model, error) {
	// The download already folds in tomorrow's publication once it is
	// out (around 13:00 CET); before that the horizon simply truncates
	// to today.
	today, err := entsoe.DownloadPublicationMarketDocument(ctx, securityToken, urlFormat, loc)
	if err != nil || today == nil {
		return nil, planner.NewError(planner.KindTariffUnavailable, fmt.Errorf("today's prices unavailable: %w", err))
	}

	return &Model{Today: today}, nil
}

// LookupSpotPerMWh returns the spot price at the given instant, trying
// today's document first and falling back to tomorrow's.
func (m *Model) LookupSpotPerMWh(t time.Time) (float64, bool) {
	if m.Today != nil {
		if p, ok := m.Today.LookupPriceByTime(t); ok {
			return p, true
		}
	}
	if m.Tomorrow != nil {
		if p, ok := m.Tomorrow.LookupPriceByTime(t); ok {
			return p, true
		}
	}
	return 0, false
}

// ImportPrice applies the fee/VAT stack:
//
//	import_price = (spot + grid_transfer_fee + energy_tax) * (1 + vat)
//
// spot is converted from currency/MWh to currency/kWh.
func (m *Model) ImportPrice(spotPerMWh float64) float64 {
	perKWh := (spotPerMWh + m.GridTransferFee + m.EnergyTax) / 1000
	return perKWh * (1 + m.VATPercent/100)
}

// ExportPrice is the bare spot price, no fees or VAT, minus any
// explicitly configured export fee.
func (m *Model) ExportPrice(spotPerMWh float64, exportFeePerMWh float64) float64 {
	return (spotPerMWh - exportFeePerMWh) / 1000
}

// BuildSlotGrid produces a contiguous, ascending-by-start sequence of
// PriceSlots covering [from, from+horizon) at the given resolution.
// If the publisher returns hour-resolution entries and resolution is
// finer, each hourly price is split uniformly across the sub-slots.
// A wall-clock hour that does not exist (DST
// spring-forward) simply produces no slot for that interval; a
// repeated wall-clock hour (DST fall-back) produces two slots with
// distinct absolute start instants, since all lookups use absolute
// time.Time values rather than formatted strings.
func (m *Model) BuildSlotGrid(from time.Time, horizon time.Duration, resolution time.Duration) ([]PriceSlot, error) {
	if resolution <= 0 {
		return nil, fmt.Errorf("resolution must be positive")
	}
	var slots []PriceSlot
	for t := from; t.Before(from.Add(horizon)); t = t.Add(resolution) {
		spot, ok := m.LookupSpotPerMWh(t)
		if !ok {
			// No price for this instant; truncate the horizon here
			// rather than fabricate a slot.
			break
		}
		slots = append(slots, PriceSlot{
			Start:       t,
			End:         t.Add(resolution),
			ImportPrice: m.ImportPrice(spot),
			ExportPrice: m.ExportPrice(spot, 0),
		})
	}
	if len(slots) == 0 {
		return nil, planner.NewError(planner.KindTariffUnavailable, fmt.Errorf("no priced slots available from %s", from))
	}
	return slots, nil
}
