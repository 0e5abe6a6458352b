// Package weather answers current conditions and short forecasts from the
// OpenWeatherMap API.
package weather

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"specter/pkg/agent/types"
	"specter/pkg/config"
	"specter/pkg/modules/match"
	"specter/pkg/modules/upstream"
)

const (
	ID           = "weather"
	forecastDays = 3
)

var stopWords = []string{
	"weather", "in", "at", "for", "what's", "what", "whats", "is", "the", "like", "get", "tell", "me",
	"forecast", "how", "it", "will", "rain", "raining", "today", "now", "current", "currently",
	"temperature", "outside", "please", "show", "check", "going", "to", "be", "next", "days", "a",
	"tomorrow", "this", "week",
}

var rules = []match.Rule{
	{Phrases: []string{"weather", "forecast"}, Weight: 0.9},
	{Phrases: []string{"will it rain", "is it raining", "umbrella", "how hot", "how cold"}, Weight: 0.75},
	{Phrases: []string{"temperature outside", "temperature in"}, Weight: 0.7},
	{Phrases: []string{"temperature", "sunny", "snow"}, Weight: 0.55},
}

type Options struct {
	APIKey     string
	HTTPClient *http.Client
}

type Module struct {
	client      *upstream.Client
	apiKey      string
	defaultCity string
	units       string
}

func New(cfg config.WeatherConfig, opts Options) *Module {
	client := upstream.New(upstream.Options{
		Name:          ID,
		BaseURL:       cfg.BaseURL,
		Timeout:       time.Duration(cfg.RequestTimeoutSeconds) * time.Second,
		RatePerMinute: cfg.RatePerMinute,
		CacheTTL:      time.Duration(cfg.CacheTTLSeconds) * time.Second,
		HTTPClient:    opts.HTTPClient,
	})

	units := strings.ToLower(strings.TrimSpace(cfg.Units))
	if units == "" {
		units = "metric"
	}

	return &Module{
		client:      client,
		apiKey:      strings.TrimSpace(opts.APIKey),
		defaultCity: strings.TrimSpace(cfg.DefaultCity),
		units:       units,
	}
}

func (m *Module) ID() string          { return ID }
func (m *Module) DisplayName() string { return "Weather" }
func (m *Module) Available() bool     { return m.apiKey != "" }

func (m *Module) Help() []string {
	return []string{
		"weather in <city>: current conditions",
		"forecast for <city>: the next three days",
	}
}

func (m *Module) Match(utt types.Utterance, _ types.Snapshot) types.Match {
	text := utt.Normalized()
	confidence := match.Score(text, rules...)
	if confidence == 0 {
		return types.Match{}
	}

	kind := "current"
	if match.HasPhrase(text, "forecast") || match.HasAny(text, "tomorrow", "this week", "next days") {
		kind = "forecast"
	}

	return types.Match{
		ModuleID:   ID,
		Confidence: confidence,
		Utterance:  utt,
		Slots: map[string]string{
			"kind":     kind,
			"location": match.Title(match.StripWords(text, stopWords...)),
		},
	}
}

func (m *Module) Execute(ctx context.Context, mt types.Match, _ types.Snapshot) types.Result {
	city := mt.Slot("location")
	if city == "" {
		city = m.defaultCity
	}
	if city == "" {
		return types.Failed(errors.New("no location"), `Which city? Try "weather in Paris".`)
	}

	var (
		text string
		data map[string]string
		err  error
	)
	if mt.Slot("kind") == "forecast" {
		text, data, err = m.forecast(ctx, city)
	} else {
		text, data, err = m.current(ctx, city)
	}
	if err != nil {
		return failure(err, city)
	}

	return types.Result{Status: types.StatusSuccess, Payload: text, Data: data}
}

type condition struct {
	Description string `json:"description"`
}

type currentResponse struct {
	Name string `json:"name"`
	Sys  struct {
		Country string `json:"country"`
	} `json:"sys"`
	Main struct {
		Temp      float64 `json:"temp"`
		FeelsLike float64 `json:"feels_like"`
		Humidity  int     `json:"humidity"`
	} `json:"main"`
	Weather []condition `json:"weather"`
	Wind    struct {
		Speed float64 `json:"speed"`
	} `json:"wind"`
}

func (m *Module) current(ctx context.Context, city string) (string, map[string]string, error) {
	var resp currentResponse
	query := url.Values{"q": {city}, "appid": {m.apiKey}, "units": {m.units}}
	if err := m.client.GetJSON(ctx, "/weather", query, "current:"+strings.ToLower(city), &resp); err != nil {
		return "", nil, err
	}

	unit, speed := m.unitLabels()
	place := placeName(resp.Name, resp.Sys.Country, city)
	text := fmt.Sprintf("Weather in %s: %s, %.0f%s (feels like %.0f%s). Humidity %d%%, wind %.1f %s.",
		place, describe(resp.Weather), resp.Main.Temp, unit, resp.Main.FeelsLike, unit,
		resp.Main.Humidity, resp.Wind.Speed, speed)

	return text, map[string]string{
		"city": place,
		"kind": "current",
		"temp": strconv.FormatFloat(resp.Main.Temp, 'f', 1, 64),
	}, nil
}

type forecastResponse struct {
	City struct {
		Name    string `json:"name"`
		Country string `json:"country"`
	} `json:"city"`
	List []struct {
		DtTxt string `json:"dt_txt"`
		Main  struct {
			TempMin float64 `json:"temp_min"`
			TempMax float64 `json:"temp_max"`
		} `json:"main"`
		Weather []condition `json:"weather"`
	} `json:"list"`
}

type dayForecast struct {
	date       string
	min, max   float64
	conditions map[string]int
}

func (m *Module) forecast(ctx context.Context, city string) (string, map[string]string, error) {
	var resp forecastResponse
	query := url.Values{
		"q":     {city},
		"appid": {m.apiKey},
		"units": {m.units},
		"cnt":   {strconv.Itoa(forecastDays * 8)},
	}
	if err := m.client.GetJSON(ctx, "/forecast", query, "forecast:"+strings.ToLower(city), &resp); err != nil {
		return "", nil, err
	}

	days := make(map[string]*dayForecast)
	order := make([]string, 0, forecastDays)
	for _, item := range resp.List {
		date, _, _ := strings.Cut(item.DtTxt, " ")
		if date == "" {
			continue
		}
		day, ok := days[date]
		if !ok {
			day = &dayForecast{date: date, min: item.Main.TempMin, max: item.Main.TempMax, conditions: map[string]int{}}
			days[date] = day
			order = append(order, date)
		}
		day.min = min(day.min, item.Main.TempMin)
		day.max = max(day.max, item.Main.TempMax)
		day.conditions[describe(item.Weather)]++
	}
	if len(order) == 0 {
		return "", nil, errors.New("forecast response has no entries")
	}
	if len(order) > forecastDays {
		order = order[:forecastDays]
	}

	unit, _ := m.unitLabels()
	place := placeName(resp.City.Name, resp.City.Country, city)
	var b strings.Builder
	fmt.Fprintf(&b, "Forecast for %s:", place)
	for _, date := range order {
		day := days[date]
		fmt.Fprintf(&b, "\n%s: %s, %.0f%s to %.0f%s", weekday(date), dominant(day.conditions), day.min, unit, day.max, unit)
	}

	return b.String(), map[string]string{
		"city": place,
		"kind": "forecast",
		"days": strconv.Itoa(len(order)),
	}, nil
}

func (m *Module) unitLabels() (temp, speed string) {
	switch m.units {
	case "imperial":
		return "°F", "mph"
	case "standard":
		return "K", "m/s"
	default:
		return "°C", "m/s"
	}
}

func failure(err error, city string) types.Result {
	switch {
	case upstream.IsStatus(err, http.StatusNotFound):
		return types.Failed(err, fmt.Sprintf("City '%s' not found.", city))
	case upstream.IsStatus(err, http.StatusUnauthorized):
		return types.Failed(err, "The weather service rejected the API key.")
	case errors.Is(err, upstream.ErrUnavailable):
		return types.Failed(err, "The weather service is unavailable right now. Please try again later.")
	default:
		return types.Failed(fmt.Errorf("weather lookup: %w", err), "")
	}
}

func describe(conditions []condition) string {
	if len(conditions) == 0 || conditions[0].Description == "" {
		return "unknown conditions"
	}
	return conditions[0].Description
}

func dominant(counts map[string]int) string {
	names := make([]string, 0, len(counts))
	for name := range counts {
		names = append(names, name)
	}
	sort.Slice(names, func(i, j int) bool {
		if counts[names[i]] != counts[names[j]] {
			return counts[names[i]] > counts[names[j]]
		}
		return names[i] < names[j]
	})

	return names[0]
}

func placeName(name, country, fallback string) string {
	if name == "" {
		name = fallback
	}
	if country == "" {
		return name
	}
	return name + ", " + country
}

func weekday(date string) string {
	parsed, err := time.Parse(time.DateOnly, date)
	if err != nil {
		return date
	}
	return parsed.Format("Mon Jan 2")
}
