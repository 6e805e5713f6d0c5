package entsoe

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/cepro-home/energy-planner/utils"
)

const defaultUserAgent = "energy-planner/1.0"

// Client is an HTTP client for the ENTSO-E transparency platform.
type Client struct {
	httpClient *http.Client
	userAgent  string
}

// NewClient builds a Client with a default http.Client.
func NewClient() *Client {
	return &Client{httpClient: &http.Client{}, userAgent: defaultUserAgent}
}

// SetUserAgent overrides the User-Agent header sent with every request.
func (c *Client) SetUserAgent(ua string) { c.userAgent = ua }

// Download fetches and decodes one price document from url.
func (c *Client) Download(ctx context.Context, url string) (*PublicationMarketDocument, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("build price request: %w", err)
	}
	req.Header.Set("User-Agent", c.userAgent)
	req.Header.Set("Accept", "application/xml, text/xml")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch price document: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("price download returned %s", resp.Status)
	}
	return Decode(resp.Body)
}

// DownloadPublicationMarketDocument fetches today's day-ahead prices
// and, after the ~13:00 CET publication, tomorrow's as well, merged
// into one document. urlFormat is expected to carry three %s verbs:
// period start, period end (both YYYYMMDDHHmm UTC) and the security
// token.
func DownloadPublicationMarketDocument(ctx context.Context, securityToken, urlFormat string, location *time.Location) (*PublicationMarketDocument, error) {
	now := time.Now().In(location)
	client := NewClient()

	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	doc, err := client.Download(ctx, buildDayURL(securityToken, urlFormat, now))
	if err != nil {
		return nil, err
	}

	if now.Hour() >= 13 {
		tomorrow, terr := client.Download(ctx, buildDayURL(securityToken, urlFormat, now.AddDate(0, 0, 1)))
		if terr == nil {
			doc = merge(doc, tomorrow)
		}
		// Tomorrow's publication may simply not be out yet; today's
		// document alone is still a usable result.
	}

	return doc, nil
}

// buildDayURL formats the request URL for the local calendar day
// containing now.
func buildDayURL(securityToken, urlFormat string, now time.Time) string {
	start := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
	return fmt.Sprintf(urlFormat, utils.GetUTCString(start), utils.GetUTCString(start.AddDate(0, 0, 1)), securityToken)
}

// merge concatenates two documents' series and widens the covered
// interval.
func merge(first, second *PublicationMarketDocument) *PublicationMarketDocument {
	if first == nil {
		return second
	}
	if second == nil {
		return first
	}
	merged := *first
	merged.TimeSeries = append(append([]TimeSeries(nil), first.TimeSeries...), second.TimeSeries...)
	if second.PeriodTimeInterval.End.After(merged.PeriodTimeInterval.End) {
		merged.PeriodTimeInterval.End = second.PeriodTimeInterval.End
	}
	return &merged
}
