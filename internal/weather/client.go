// Package weather reads current conditions and daily forecasts from
// Open-Meteo: a geocoding lookup to resolve the place, then a
// forecast query scoped to the requested dates.
package weather

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
)

const (
	defaultGeocodeURL  = "https://geocoding-api.open-meteo.com/v1/search"
	defaultForecastURL = "https://api.open-meteo.com/v1/forecast"
	maxForecastDays    = 16
)

type Config struct {
	GeocodeURL  string
	ForecastURL string
	Units       string
	Timeout     time.Duration
}

type Client struct {
	cfg        Config
	httpClient *http.Client
	today      func() time.Time
}

func New(cfg Config) *Client {
	if strings.TrimSpace(cfg.GeocodeURL) == "" {
		cfg.GeocodeURL = defaultGeocodeURL
	}
	if strings.TrimSpace(cfg.ForecastURL) == "" {
		cfg.ForecastURL = defaultForecastURL
	}
	if cfg.Units != "imperial" {
		cfg.Units = "metric"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 8 * time.Second
	}
	return &Client{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		today:      func() time.Time { return time.Now().UTC() },
	}
}

// relative-location phrases that cannot be geocoded
var rejectedLocations = map[string]struct{}{
	"here": {}, "my location": {}, "current location": {}, "near me": {},
	"me": {}, "home": {}, "local": {}, "this city": {}, "where i am": {},
}

type dateRange struct {
	current bool
	start   time.Time
	end     time.Time
}

// Read resolves the location and returns either current conditions or
// a daily range, depending on when ("now", "today", "tomorrow",
// "next_7_days", "next_14_days", a date, or a date..date range) and
// granularity (auto|current|daily).
func (c *Client) Read(ctx context.Context, location, when, granularity string) (map[string]any, error) {
	location = strings.TrimSpace(location)
	if location == "" {
		return nil, fmt.Errorf("location is required (e.g. 'Prague' or 'Prague, CZ')")
	}
	if _, bad := rejectedLocations[strings.ToLower(location)]; bad {
		return nil, fmt.Errorf("location must be a real place name, not a relative location like %q", location)
	}
	if granularity == "" {
		granularity = "auto"
	}
	if granularity != "auto" && granularity != "current" && granularity != "daily" {
		return nil, fmt.Errorf("granularity must be one of: auto|current|daily")
	}

	parsed, err := c.parseWhen(when)
	if err != nil {
		return nil, err
	}
	wantCurrent := parsed.current
	wantDaily := !parsed.current
	switch granularity {
	case "current":
		wantCurrent, wantDaily = true, false
	case "daily":
		wantCurrent, wantDaily = false, true
		if parsed.current {
			today := c.todayDate()
			parsed = dateRange{start: today, end: today}
		}
	}

	place, err := c.geocode(ctx, location)
	if err != nil {
		return nil, err
	}

	temperatureUnit, windspeedUnit, precipitationUnit := "celsius", "kmh", "mm"
	if c.cfg.Units == "imperial" {
		temperatureUnit, windspeedUnit, precipitationUnit = "fahrenheit", "mph", "inch"
	}

	params := url.Values{}
	params.Set("latitude", formatFloat(place.Latitude))
	params.Set("longitude", formatFloat(place.Longitude))
	params.Set("timezone", "auto")
	params.Set("temperature_unit", temperatureUnit)
	params.Set("windspeed_unit", windspeedUnit)
	params.Set("precipitation_unit", precipitationUnit)
	if wantCurrent {
		params.Set("current_weather", "true")
	}
	if wantDaily {
		params.Set("daily", "weather_code,temperature_2m_max,temperature_2m_min,precipitation_sum,wind_speed_10m_max")
		today := c.todayDate()
		if parsed.end.Before(today) {
			return nil, fmt.Errorf("forecast/current only; past dates not supported")
		}
		daysNeeded := int(parsed.end.Sub(today).Hours()/24) + 1
		if daysNeeded > maxForecastDays {
			return nil, fmt.Errorf("range too large; max supported is %d days ahead", maxForecastDays)
		}
		if daysNeeded < 1 {
			daysNeeded = 1
		}
		params.Set("forecast_days", strconv.Itoa(daysNeeded))
	}

	data, err := c.getJSON(ctx, c.cfg.ForecastURL+"?"+params.Encode())
	if err != nil {
		return nil, err
	}

	out := map[string]any{
		"query": map[string]any{"location": location, "when": when, "granularity": granularity},
		"resolved_location": map[string]any{
			"name":      place.Name,
			"admin1":    place.Admin1,
			"country":   place.Country,
			"latitude":  place.Latitude,
			"longitude": place.Longitude,
		},
		"units": map[string]any{
			"system":             c.cfg.Units,
			"temperature_unit":   temperatureUnit,
			"windspeed_unit":     windspeedUnit,
			"precipitation_unit": precipitationUnit,
		},
		"source": "open-meteo.com",
	}

	if wantCurrent {
		current, _ := data["current_weather"].(map[string]any)
		code := wmoCode(current["weathercode"])
		out["current"] = map[string]any{
			"time":          current["time"],
			"temperature":   current["temperature"],
			"windspeed":     current["windspeed"],
			"winddirection": current["winddirection"],
			"is_day":        current["is_day"],
			"weather_code":  current["weathercode"],
			"weather":       wmoDescription(code),
		}
	}

	if wantDaily {
		daily, _ := data["daily"].(map[string]any)
		section, err := c.sliceDaily(daily, parsed)
		if err != nil {
			return nil, err
		}
		out["daily"] = section
		if times, ok := section["time"].([]any); ok && len(times) == 1 {
			out["day"] = map[string]any{
				"date":              times[0],
				"weather":           first(section["weather"]),
				"temp_max":          first(section["temperature_2m_max"]),
				"temp_min":          first(section["temperature_2m_min"]),
				"precipitation_sum": first(section["precipitation_sum"]),
				"wind_speed_max":    first(section["wind_speed_10m_max"]),
			}
		}
	}

	return out, nil
}

func (c *Client) parseWhen(when string) (dateRange, error) {
	s := strings.ToLower(strings.TrimSpace(when))
	today := c.todayDate()
	switch s {
	case "", "now", "current":
		return dateRange{current: true}, nil
	case "today":
		return dateRange{start: today, end: today}, nil
	case "tomorrow":
		d := today.AddDate(0, 0, 1)
		return dateRange{start: d, end: d}, nil
	case "next_7_days", "next7days":
		return dateRange{start: today, end: today.AddDate(0, 0, 6)}, nil
	case "next_14_days", "next14days":
		return dateRange{start: today, end: today.AddDate(0, 0, 13)}, nil
	}
	if before, after, found := strings.Cut(s, ".."); found {
		start, err1 := time.Parse("2006-01-02", strings.TrimSpace(before))
		end, err2 := time.Parse("2006-01-02", strings.TrimSpace(after))
		if err1 != nil || err2 != nil {
			return dateRange{}, fmt.Errorf("unsupported 'when' format %q", when)
		}
		if end.Before(start) {
			return dateRange{}, fmt.Errorf("invalid date range: end before start")
		}
		return dateRange{start: start, end: end}, nil
	}
	if d, err := time.Parse("2006-01-02", s); err == nil {
		return dateRange{start: d, end: d}, nil
	}
	return dateRange{}, fmt.Errorf(
		"unsupported 'when' format; use now|today|tomorrow|next_7_days|next_14_days|YYYY-MM-DD|YYYY-MM-DD..YYYY-MM-DD")
}

func (c *Client) todayDate() time.Time {
	now := c.today()
	return time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
}

func (c *Client) sliceDaily(daily map[string]any, parsed dateRange) (map[string]any, error) {
	times, _ := daily["time"].([]any)
	today := c.todayDate()
	i0 := int(parsed.start.Sub(today).Hours() / 24)
	i1 := int(parsed.end.Sub(today).Hours() / 24)
	if i0 < 0 || i1 < 0 || i1 >= len(times) {
		return nil, fmt.Errorf("forecast data unavailable for requested dates")
	}
	slice := func(key string) []any {
		arr, _ := daily[key].([]any)
		if i1+1 > len(arr) {
			return []any{}
		}
		return arr[i0 : i1+1]
	}
	codes := slice("weather_code")
	descriptions := make([]any, 0, len(codes))
	for _, raw := range codes {
		descriptions = append(descriptions, wmoDescription(wmoCode(raw)))
	}
	return map[string]any{
		"time":               times[i0 : i1+1],
		"weather_code":       codes,
		"weather":            descriptions,
		"temperature_2m_max": slice("temperature_2m_max"),
		"temperature_2m_min": slice("temperature_2m_min"),
		"precipitation_sum":  slice("precipitation_sum"),
		"wind_speed_10m_max": slice("wind_speed_10m_max"),
	}, nil
}

type place struct {
	Name      string  `json:"name"`
	Country   string  `json:"country"`
	Admin1    string  `json:"admin1"`
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

func (c *Client) geocode(ctx context.Context, location string) (place, error) {
	params := url.Values{}
	params.Set("name", location)
	params.Set("count", "5")
	params.Set("language", "en")
	params.Set("format", "json")
	data, err := c.getJSON(ctx, c.cfg.GeocodeURL+"?"+params.Encode())
	if err != nil {
		return place{}, err
	}
	rawResults, _ := data["results"].([]any)
	if len(rawResults) == 0 {
		return place{}, fmt.Errorf("location not found: %s", location)
	}
	results := make([]place, 0, len(rawResults))
	for _, item := range rawResults {
		raw, err := json.Marshal(item)
		if err != nil {
			continue
		}
		var p place
		if err := json.Unmarshal(raw, &p); err != nil {
			continue
		}
		results = append(results, p)
	}
	if len(results) == 0 {
		return place{}, fmt.Errorf("location not found: %s", location)
	}
	lowered := strings.ToLower(strings.TrimSpace(location))
	for _, p := range results {
		if strings.ToLower(strings.TrimSpace(p.Name)) == lowered {
			return p, nil
		}
	}
	return results[0], nil
}

func (c *Client) getJSON(ctx context.Context, rawURL string) (map[string]any, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", "warden/1.0 (Open-Meteo client)")
	res, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("weather request: %w", err)
	}
	defer res.Body.Close()
	body, err := io.ReadAll(io.LimitReader(res.Body, 4<<20))
	if err != nil {
		return nil, err
	}
	if res.StatusCode < 200 || res.StatusCode >= 300 {
		return nil, fmt.Errorf("weather request: status %d", res.StatusCode)
	}
	var data map[string]any
	if err := json.Unmarshal(body, &data); err != nil {
		return nil, fmt.Errorf("decode weather response: %w", err)
	}
	return data, nil
}

func formatFloat(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}

func first(value any) any {
	if arr, ok := value.([]any); ok && len(arr) > 0 {
		return arr[0]
	}
	return nil
}

func wmoCode(raw any) int {
	if f, ok := raw.(float64); ok {
		return int(f)
	}
	return -1
}

var wmoDescriptions = map[int]string{
	0: "Clear sky", 1: "Mainly clear", 2: "Partly cloudy", 3: "Overcast",
	45: "Fog", 48: "Depositing rime fog",
	51: "Light drizzle", 53: "Moderate drizzle", 55: "Dense drizzle",
	56: "Light freezing drizzle", 57: "Dense freezing drizzle",
	61: "Slight rain", 63: "Moderate rain", 65: "Heavy rain",
	66: "Light freezing rain", 67: "Heavy freezing rain",
	71: "Slight snowfall", 73: "Moderate snowfall", 75: "Heavy snowfall",
	77: "Snow grains",
	80: "Slight rain showers", 81: "Moderate rain showers", 82: "Violent rain showers",
	85: "Slight snow showers", 86: "Heavy snow showers",
	95: "Thunderstorm", 96: "Thunderstorm with slight hail", 99: "Thunderstorm with heavy hail",
}

func wmoDescription(code int) string {
	if code < 0 {
		return "Unknown"
	}
	if desc, ok := wmoDescriptions[code]; ok {
		return desc
	}
	return fmt.Sprintf("Unknown (code %d)", code)
}
