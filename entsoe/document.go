// Package entsoe downloads and decodes ENTSO-E transparency-platform
// day-ahead price publications. The tariff model consumes the decoded
// document through instant-based price lookups; wall-clock strings
// never leave this package.
package entsoe

import (
	"encoding/xml"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"
)

// PublicationMarketDocument is the root of a Publication_MarketDocument
// XML response, trimmed to the elements the planner reads.
type PublicationMarketDocument struct {
	XMLName            xml.Name     `xml:"Publication_MarketDocument"`
	MRID               string       `xml:"mRID"`
	CreatedDateTime    string       `xml:"createdDateTime"`
	PeriodTimeInterval TimeInterval `xml:"period.timeInterval"`
	TimeSeries         []TimeSeries `xml:"TimeSeries"`
}

// TimeSeries is one bidding-zone price curve within a document.
type TimeSeries struct {
	MRID                 string `xml:"mRID"`
	BusinessType         string `xml:"businessType"`
	CurrencyUnitName     string `xml:"currency_Unit.name"`
	PriceMeasureUnitName string `xml:"price_Measure_Unit.name"`
	CurveType            string `xml:"curveType"`
	Period               Period `xml:"Period"`
}

// Period is a price curve over one contiguous interval at a fixed
// resolution.
type Period struct {
	TimeInterval TimeInterval
	Resolution   time.Duration
	Points       []Point
}

// Point is one price sample; Position is 1-based within the period.
// With curve type A03 the publisher omits a point when the price did
// not change from the previous position.
type Point struct {
	Position    int     `xml:"position"`
	PriceAmount float64 `xml:"price.amount"`
}

// TimeInterval carries the period bounds as absolute instants.
type TimeInterval struct {
	Start time.Time
	End   time.Time
}

// UnmarshalXML parses the interval bounds, which the platform emits
// without seconds ("2025-09-04T22:00Z").
func (ti *TimeInterval) UnmarshalXML(d *xml.Decoder, start xml.StartElement) error {
	var aux struct {
		Start string `xml:"start"`
		End   string `xml:"end"`
	}
	if err := d.DecodeElement(&aux, &start); err != nil {
		return err
	}

	var err error
	if ti.Start, err = parseInstant(aux.Start); err != nil {
		return fmt.Errorf("interval start: %w", err)
	}
	if ti.End, err = parseInstant(aux.End); err != nil {
		return fmt.Errorf("interval end: %w", err)
	}
	return nil
}

// UnmarshalXML parses the period, converting the ISO 8601 resolution
// ("PT15M", "PT60M", "P1D") into a time.Duration.
func (p *Period) UnmarshalXML(d *xml.Decoder, start xml.StartElement) error {
	var aux struct {
		TimeInterval TimeInterval `xml:"timeInterval"`
		Resolution   string       `xml:"resolution"`
		Points       []Point      `xml:"Point"`
	}
	if err := d.DecodeElement(&aux, &start); err != nil {
		return err
	}

	p.TimeInterval = aux.TimeInterval
	p.Points = aux.Points

	res, err := parseISODuration(aux.Resolution)
	if err != nil {
		return fmt.Errorf("period resolution: %w", err)
	}
	p.Resolution = res
	return nil
}

// parseInstant accepts the handful of timestamp layouts the platform
// uses.
func parseInstant(s string) (time.Time, error) {
	for _, layout := range []string{
		time.RFC3339,
		"2006-01-02T15:04Z",
		"2006-01-02T15:04Z07:00",
	} {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized timestamp %q", s)
}

// parseISODuration handles the duration subset the platform emits:
// PT#H, PT#M, PT#H#M and P#D.
func parseISODuration(s string) (time.Duration, error) {
	orig := s
	if !strings.HasPrefix(s, "P") {
		return 0, fmt.Errorf("invalid ISO 8601 duration %q", orig)
	}
	s = s[1:]

	var total time.Duration
	if i := strings.IndexByte(s, 'T'); i >= 0 {
		datePart, timePart := s[:i], s[i+1:]
		d, err := parseDurationPart(datePart, map[byte]time.Duration{'D': 24 * time.Hour})
		if err != nil {
			return 0, fmt.Errorf("invalid ISO 8601 duration %q: %w", orig, err)
		}
		t, err := parseDurationPart(timePart, map[byte]time.Duration{'H': time.Hour, 'M': time.Minute, 'S': time.Second})
		if err != nil {
			return 0, fmt.Errorf("invalid ISO 8601 duration %q: %w", orig, err)
		}
		total = d + t
	} else {
		d, err := parseDurationPart(s, map[byte]time.Duration{'D': 24 * time.Hour})
		if err != nil {
			return 0, fmt.Errorf("invalid ISO 8601 duration %q: %w", orig, err)
		}
		total = d
	}
	return total, nil
}

func parseDurationPart(s string, units map[byte]time.Duration) (time.Duration, error) {
	var total time.Duration
	start := 0
	for i := 0; i < len(s); i++ {
		c := s[i]
		if c >= '0' && c <= '9' || c == '.' {
			continue
		}
		unit, ok := units[c]
		if !ok {
			return 0, fmt.Errorf("unknown unit %q", string(c))
		}
		n, err := strconv.ParseFloat(s[start:i], 64)
		if err != nil {
			return 0, err
		}
		total += time.Duration(n * float64(unit))
		start = i + 1
	}
	if start != len(s) {
		return 0, fmt.Errorf("trailing digits %q", s[start:])
	}
	return total, nil
}

// Decode parses one Publication_MarketDocument from r.
func Decode(r io.Reader) (*PublicationMarketDocument, error) {
	var doc PublicationMarketDocument
	if err := xml.NewDecoder(r).Decode(&doc); err != nil {
		return nil, fmt.Errorf("decode price document: %w", err)
	}
	return &doc, nil
}

// LookupPriceByTime returns the price (currency/MWh) in force at t,
// searching every series in the document. The boolean is false when t
// falls outside all published periods.
func (pmd *PublicationMarketDocument) LookupPriceByTime(t time.Time) (float64, bool) {
	for i := range pmd.TimeSeries {
		if price, ok := pmd.TimeSeries[i].Period.PriceAt(t); ok {
			return price, true
		}
	}
	return 0, false
}

// Covers reports whether any series publishes a price at t.
func (pmd *PublicationMarketDocument) Covers(t time.Time) bool {
	_, ok := pmd.LookupPriceByTime(t)
	return ok
}

// PriceAt returns the price in force at t within this period. Gaps in
// the point sequence (curve type A03) carry the previous point's price
// forward.
func (p *Period) PriceAt(t time.Time) (float64, bool) {
	pos := p.position(t)
	if pos <= 0 {
		return 0, false
	}

	var prev *Point
	for i := range p.Points {
		point := &p.Points[i]
		if point.Position == pos {
			return point.PriceAmount, true
		}
		if point.Position > pos {
			if prev != nil {
				return prev.PriceAmount, true
			}
			return 0, false
		}
		prev = point
	}
	if prev != nil && prev.Position < pos {
		return prev.PriceAmount, true
	}
	return 0, false
}

// position maps t to the 1-based point position covering it, or 0 when
// t is outside the period.
func (p *Period) position(t time.Time) int {
	if p.Resolution <= 0 {
		return 0
	}
	offset := t.Sub(p.TimeInterval.Start)
	if offset < 0 || !t.Before(p.TimeInterval.End) {
		return 0
	}
	return int(offset/p.Resolution) + 1
}
