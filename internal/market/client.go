package market

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// ErrUpstream marks failures coming back from the comps vendor, the
// dashboard maps these to 502 instead of 500.
var ErrUpstream = errors.New("market: upstream error")

// Client talks to the comparable-pricing vendor API.
//
// The API key is passed per call because operators can rotate it at
// runtime through the settings table.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// NewClient 创建比价 API 客户端。
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: 15 * time.Second},
	}
}

// Listing is one comparable vehicle listed by another dealer.
type Listing struct {
	VIN           string `json:"vin"`
	Heading       string `json:"heading"`
	Price         *int   `json:"price"`
	Miles         *int   `json:"miles"`
	Trim          string `json:"trim"`
	Year          *int   `json:"year"`
	ExteriorColor string `json:"exterior_color"`
	DealerName    string `json:"dealer_name"`
	DealerCity    string `json:"dealer_city"`
	DealerState   string `json:"dealer_state"`
	DOM           *int   `json:"dom"` // days on market
	VDPURL        string `json:"vdp_url"`

	// Computed against our own vehicle at read time, never cached.
	BeatsUs   *bool `json:"beats_us"`
	PriceDiff *int  `json:"price_diff"`
}

type searchResponse struct {
	Listings []struct {
		VIN           string `json:"vin"`
		Heading       string `json:"heading"`
		Price         *int   `json:"price"`
		Miles         *int   `json:"miles"`
		Trim          string `json:"trim"`
		Year          *int   `json:"year"`
		ExteriorColor string `json:"exterior_color"`
		DOM           *int   `json:"dom"`
		VDPURL        string `json:"vdp_url"`
		Dealer        struct {
			Name  string `json:"name"`
			City  string `json:"city"`
			State string `json:"state"`
		} `json:"dealer"`
	} `json:"listings"`
	Message string `json:"message"`
	Error   *struct {
		Message string `json:"message"`
	} `json:"error"`
}

// SearchActive queries active used listings of the same make/model
// around a ZIP code, cheapest first.
func (c *Client) SearchActive(ctx context.Context, apiKey, vehicleMake, vehicleModel, zip string, radius int) ([]Listing, error) {
	params := url.Values{
		"api_key":    {apiKey},
		"make":       {vehicleMake},
		"model":      {vehicleModel},
		"car_type":   {"used"},
		"zip":        {zip},
		"radius":     {fmt.Sprint(radius)},
		"rows":       {"30"},
		"sort_by":    {"price"},
		"sort_order": {"asc"},
	}

	body, err := c.get(ctx, "/search/car/active", params)
	if err != nil {
		return nil, err
	}

	var data searchResponse
	if err := json.Unmarshal(body, &data); err != nil {
		return nil, fmt.Errorf("%w: decode search response: %v", ErrUpstream, err)
	}
	if data.Error != nil {
		return nil, fmt.Errorf("%w: %s", ErrUpstream, data.Error.Message)
	}

	listings := make([]Listing, 0, len(data.Listings))
	for _, l := range data.Listings {
		listings = append(listings, Listing{
			VIN:           l.VIN,
			Heading:       l.Heading,
			Price:         l.Price,
			Miles:         l.Miles,
			Trim:          l.Trim,
			Year:          l.Year,
			ExteriorColor: l.ExteriorColor,
			DealerName:    l.Dealer.Name,
			DealerCity:    l.Dealer.City,
			DealerState:   l.Dealer.State,
			DOM:           l.DOM,
			VDPURL:        l.VDPURL,
		})
	}
	return listings, nil
}

// DecodeVIN returns the vendor's spec sheet for a VIN as raw JSON.
// The response is either a bare array or {"specs": [...]}.
func (c *Client) DecodeVIN(ctx context.Context, apiKey, vin string) (json.RawMessage, error) {
	body, err := c.get(ctx, "/decode/car/"+url.PathEscape(vin)+"/specs", url.Values{"api_key": {apiKey}})
	if err != nil {
		return nil, err
	}

	trimmed := strings.TrimSpace(string(body))
	if strings.HasPrefix(trimmed, "[") {
		return json.RawMessage(trimmed), nil
	}

	var wrapper struct {
		Specs json.RawMessage `json:"specs"`
		Error *struct {
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.Unmarshal(body, &wrapper); err != nil {
		return nil, fmt.Errorf("%w: decode specs response: %v", ErrUpstream, err)
	}
	if wrapper.Error != nil {
		return nil, fmt.Errorf("%w: %s", ErrUpstream, wrapper.Error.Message)
	}
	if wrapper.Specs == nil {
		return json.RawMessage("[]"), nil
	}
	return wrapper.Specs, nil
}

// WindowSticker returns the window sticker URL for a VIN, empty when
// the vendor has none.
func (c *Client) WindowSticker(ctx context.Context, apiKey, vin string) (string, error) {
	body, err := c.get(ctx, "/sticker/car/"+url.PathEscape(vin), url.Values{"api_key": {apiKey}})
	if err != nil {
		return "", err
	}

	var data struct {
		URL        string `json:"url"`
		StickerURL string `json:"sticker_url"`
		Error      *struct {
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.Unmarshal(body, &data); err != nil {
		return "", fmt.Errorf("%w: decode sticker response: %v", ErrUpstream, err)
	}
	if data.Error != nil {
		return "", fmt.Errorf("%w: %s", ErrUpstream, data.Error.Message)
	}
	if data.URL != "" {
		return data.URL, nil
	}
	return data.StickerURL, nil
}

func (c *Client) get(ctx context.Context, path string, params url.Values) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path+"?"+params.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUpstream, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: read response: %v", ErrUpstream, err)
	}
	if resp.StatusCode != http.StatusOK {
		msg := string(body)
		if len(msg) > 200 {
			msg = msg[:200]
		}
		return nil, fmt.Errorf("%w: status %d: %s", ErrUpstream, resp.StatusCode, msg)
	}
	return body, nil
}
