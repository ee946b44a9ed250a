package funding

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"time"
)

const defaultOKXBaseURL = "https://www.okx.com"

// OKXFetcher retrieves funding-rate history from the OKX v5 public API.
type OKXFetcher struct {
	baseURL string
	client  *http.Client
}

// NewOKXFetcher builds a fetcher; baseURL is overridable for tests.
func NewOKXFetcher(baseURL string) *OKXFetcher {
	if baseURL == "" {
		baseURL = defaultOKXBaseURL
	}
	return &OKXFetcher{
		baseURL: baseURL,
		client:  &http.Client{Timeout: 10 * time.Second},
	}
}

type okxFundingResponse struct {
	Code string            `json:"code"`
	Msg  string            `json:"msg"`
	Data []okxFundingEntry `json:"data"`
}

type okxFundingEntry struct {
	InstID      string `json:"instId"`
	FundingRate string `json:"fundingRate"`
	FundingTime string `json:"fundingTime"` // milliseconds
}

// Fetch returns settlement events in (start, end], ordered by time. OKX
// expresses the window through before/after millisecond bounds.
func (f *OKXFetcher) Fetch(ctx context.Context, instrument string, start, end time.Time) ([]Event, error) {
	q := url.Values{}
	q.Set("instId", instrument)
	q.Set("before", strconv.FormatInt(start.UnixMilli(), 10))
	q.Set("after", strconv.FormatInt(end.UnixMilli(), 10))
	q.Set("limit", "100")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, f.baseURL+"/api/v5/public/funding-rate-history?"+q.Encode(), nil)
	if err != nil {
		return nil, err
	}
	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("okx funding request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("okx funding request: status %d", resp.StatusCode)
	}
	var body okxFundingResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("okx funding decode: %w", err)
	}
	if body.Code != "0" {
		return nil, fmt.Errorf("okx funding error %s: %s", body.Code, body.Msg)
	}

	events := make([]Event, 0, len(body.Data))
	for _, entry := range body.Data {
		ms, err := strconv.ParseInt(entry.FundingTime, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("okx funding time %q: %w", entry.FundingTime, err)
		}
		rate, err := strconv.ParseFloat(entry.FundingRate, 64)
		if err != nil {
			return nil, fmt.Errorf("okx funding rate %q: %w", entry.FundingRate, err)
		}
		ts := ms / 1000
		if float64(ts) <= float64(start.Unix()) || float64(ts) > float64(end.Unix()) {
			continue
		}
		events = append(events, Event{Ts: ts, Rate: rate})
	}
	sort.Slice(events, func(i, j int) bool { return events[i].Ts < events[j].Ts })
	return events, nil
}
