package providers

import (
	"context"
	"encoding/xml"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"weatherdash/internal/apperrors"
	"weatherdash/internal/fetch"
	"weatherdash/internal/weather"
)

// NWSAlertsProvider reads active weather alerts for a point from the
// National Weather Service CAP/Atom XML feed. No API key; NWS asks for an
// identifying User-Agent.
type NWSAlertsProvider struct {
	name      string
	baseURL   string
	userAgent string
	policy    *fetch.Policy
}

func NewNWSAlertsProvider(client *http.Client, opts ...fetch.Option) *NWSAlertsProvider {
	return &NWSAlertsProvider{
		name:      "nws-alerts",
		baseURL:   "https://api.weather.gov/alerts/active.atom",
		userAgent: "weatherdash/1.0",
		policy:    fetch.NewPolicy("nws-alerts", client, opts...),
	}
}

func (p *NWSAlertsProvider) Name() string { return p.name }

func (p *NWSAlertsProvider) Supports(kind weather.Kind) bool {
	return kind == weather.KindAlerts
}

func (p *NWSAlertsProvider) Request(q weather.Query) (*http.Request, error) {
	values := url.Values{}
	values.Set("point", fmt.Sprintf("%.4f,%.4f", q.Coords.Lat, q.Coords.Lon))

	req, err := http.NewRequest(http.MethodGet, p.baseURL+"?"+values.Encode(), nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", p.userAgent)
	req.Header.Set("Accept", "application/atom+xml")
	return req, nil
}

// atomFeed mirrors the subset of the NWS Atom schema we consume.
type atomFeed struct {
	XMLName xml.Name    `xml:"http://www.w3.org/2005/Atom feed"`
	Entries []atomEntry `xml:"entry"`
}

type atomEntry struct {
	ID       string `xml:"id"`
	Title    string `xml:"title"`
	Summary  string `xml:"summary"`
	Event    string `xml:"urn:oasis:names:tc:emergency:cap:1.1 event"`
	Severity string `xml:"urn:oasis:names:tc:emergency:cap:1.1 severity"`
	Effect   string `xml:"urn:oasis:names:tc:emergency:cap:1.1 effective"`
	Expires  string `xml:"urn:oasis:names:tc:emergency:cap:1.1 expires"`
	AreaDesc string `xml:"urn:oasis:names:tc:emergency:cap:1.1 areaDesc"`
}

func (p *NWSAlertsProvider) Fetch(ctx context.Context, q weather.Query) (*weather.NormalizedResult, error) {
	if err := q.Validate(); err != nil {
		return nil, err
	}
	if q.Kind != weather.KindAlerts {
		return nil, apperrors.Validation("nws-alerts only serves alert queries")
	}

	raw, err := p.policy.Execute(ctx, func() (*http.Request, error) { return p.Request(q) })
	if err != nil {
		return nil, err
	}

	var feed atomFeed
	if err := xml.Unmarshal(raw.Body, &feed); err != nil {
		return nil, apperrors.Schema(p.name, "response is not a valid Atom feed")
	}

	alerts := make([]weather.Alert, 0, len(feed.Entries))
	for _, entry := range feed.Entries {
		if entry.ID == "" {
			continue
		}
		event := entry.Event
		if event == "" {
			event = entry.Title
		}
		alerts = append(alerts, weather.Alert{
			ID:          entry.ID,
			Event:       event,
			Severity:    entry.Severity,
			Headline:    entry.Title,
			Description: entry.Summary,
			Area:        entry.AreaDesc,
			Effective:   parseCAPTime(entry.Effect),
			Expires:     parseCAPTime(entry.Expires),
		})
	}

	// An empty feed means no active alerts, not a schema error.
	return &weather.NormalizedResult{Alerts: alerts}, nil
}

func parseCAPTime(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	ts, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}
	}
	return ts.UTC()
}
