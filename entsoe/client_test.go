package entsoe

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClientDownload(t *testing.T) {
	var gotUserAgent string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotUserAgent = r.Header.Get("User-Agent")
		w.Header().Set("Content-Type", "application/xml")
		w.Write([]byte(sampleDocument))
	}))
	defer server.Close()

	c := NewClient()
	c.SetUserAgent("test-agent/0.1")

	doc, err := c.Download(context.Background(), server.URL)
	require.NoError(t, err)
	assert.Equal(t, "abc123", doc.MRID)
	assert.Equal(t, "test-agent/0.1", gotUserAgent)
}

func TestClientDownload_HTTPError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "no data", http.StatusBadRequest)
	}))
	defer server.Close()

	_, err := NewClient().Download(context.Background(), server.URL)
	assert.Error(t, err)
}

func TestClientDownload_BadXML(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("not xml at all"))
	}))
	defer server.Close()

	_, err := NewClient().Download(context.Background(), server.URL)
	assert.Error(t, err)
}

func TestBuildDayURL(t *testing.T) {
	loc, err := time.LoadLocation("Europe/Riga")
	require.NoError(t, err)

	now := time.Date(2026, 3, 10, 14, 30, 0, 0, loc)
	url := buildDayURL("TOKEN", "https://example.test/api?periodStart=%s&periodEnd=%s&securityToken=%s", now)

	// Local midnight 2026-03-10 in Riga (UTC+2) is 22:00 UTC the day
	// before.
	assert.Equal(t, "https://example.test/api?periodStart=202603092200&periodEnd=202603102200&securityToken=TOKEN", url)
}

func TestMergeWidensInterval(t *testing.T) {
	first := &PublicationMarketDocument{
		PeriodTimeInterval: TimeInterval{
			Start: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
			End:   time.Date(2026, 1, 2, 0, 0, 0, 0, time.UTC),
		},
		TimeSeries: []TimeSeries{{MRID: "1"}},
	}
	second := &PublicationMarketDocument{
		PeriodTimeInterval: TimeInterval{
			Start: time.Date(2026, 1, 2, 0, 0, 0, 0, time.UTC),
			End:   time.Date(2026, 1, 3, 0, 0, 0, 0, time.UTC),
		},
		TimeSeries: []TimeSeries{{MRID: "2"}},
	}

	merged := merge(first, second)
	require.Len(t, merged.TimeSeries, 2)
	assert.Equal(t, second.PeriodTimeInterval.End, merged.PeriodTimeInterval.End)

	assert.Same(t, second, merge(nil, second))
	assert.Same(t, first, merge(first, nil))
}
