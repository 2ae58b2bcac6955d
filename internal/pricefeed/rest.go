package pricefeed

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"poscal/internal/ratelimit"
)

const DefaultRESTBaseURL = "https://api.twelvedata.com"

type APIError struct {
	Status int
	Body   string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("API error (%d): %s", e.Status, e.Body)
}

type RESTOptions struct {
	BaseURL        string
	APIKey         string
	HTTPClient     *http.Client
	RequestsPerMin int
	// Window caps calls per minute across all callers of the upstream key.
	Window *ratelimit.Limiter
}

// RESTFeed polls a Twelve Data style /price endpoint. Calls are paced to the
// upstream plan so a burst of instruments cannot trip its limit.
type RESTFeed struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	pacer      *rate.Limiter
	window     *ratelimit.Limiter
	now        func() time.Time
}

func NewRESTFeed(opts RESTOptions) *RESTFeed {
	base := strings.TrimRight(strings.TrimSpace(opts.BaseURL), "/")
	if base == "" {
		base = DefaultRESTBaseURL
	}
	client := opts.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	perMin := opts.RequestsPerMin
	if perMin <= 0 {
		perMin = 8
	}
	return &RESTFeed{
		baseURL:    base,
		apiKey:     opts.APIKey,
		httpClient: client,
		pacer:      rate.NewLimiter(rate.Every(time.Minute/time.Duration(perMin)), 1),
		window:     opts.Window,
		now:        time.Now,
	}
}

type priceResponse struct {
	Price   string `json:"price"`
	Code    int    `json:"code"`
	Message string `json:"message"`
	Status  string `json:"status"`
}

func (f *RESTFeed) Price(ctx context.Context, instrument string) (Quote, error) {
	// Pace first: a wait that cannot finish inside the deadline must not
	// spend a window slot.
	if err := f.pacer.Wait(ctx); err != nil {
		return Quote{}, fmt.Errorf("%w: %s: %w", ErrUnavailable, instrument, err)
	}
	if f.window != nil {
		if d := f.window.Allow("live_prices", f.now()); !d.Allowed {
			return Quote{}, unavailable(instrument, "live price window exhausted")
		}
	}

	query := url.Values{}
	query.Set("symbol", strings.ReplaceAll(symbolKey(instrument), "/", ""))
	if f.apiKey != "" {
		query.Set("apikey", f.apiKey)
	}
	body, err := f.doRequest(ctx, "/price", query)
	if err != nil {
		return Quote{}, fmt.Errorf("%w: %s: %w", ErrUnavailable, instrument, err)
	}

	var resp priceResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return Quote{}, fmt.Errorf("%w: %s: decode: %w", ErrUnavailable, instrument, err)
	}
	if resp.Price == "" {
		reason := strings.TrimSpace(resp.Message)
		if reason == "" {
			reason = "empty price"
		}
		return Quote{}, unavailable(instrument, reason)
	}
	price, err := strconv.ParseFloat(resp.Price, 64)
	if err != nil || price <= 0 {
		return Quote{}, unavailable(instrument, "bad price "+resp.Price)
	}
	return Quote{
		Instrument: instrument,
		Price:      price,
		Source:     "rest",
		At:         f.now().UTC(),
	}, nil
}

func (f *RESTFeed) doRequest(ctx context.Context, path string, query url.Values) ([]byte, error) {
	fullURL := f.baseURL + path
	if len(query) > 0 {
		fullURL = fullURL + "?" + query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fullURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	resp, err := f.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, &APIError{Status: resp.StatusCode, Body: string(body)}
	}
	return body, nil
}
