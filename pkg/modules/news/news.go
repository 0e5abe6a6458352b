// Package news reads headlines, category news and topic searches from
// NewsAPI.
package news

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"specter/pkg/agent/types"
	"specter/pkg/config"
	"specter/pkg/modules/match"
	"specter/pkg/modules/upstream"
)

const ID = "news"

// categories maps spoken words to NewsAPI categories.
var categories = []struct {
	name  string
	words []string
}{
	{name: "technology", words: []string{"technology", "tech"}},
	{name: "business", words: []string{"business", "finance", "markets"}},
	{name: "sports", words: []string{"sports", "sport"}},
	{name: "health", words: []string{"health"}},
	{name: "science", words: []string{"science"}},
	{name: "entertainment", words: []string{"entertainment", "celebrity", "movies"}},
}

var topicStopWords = []string{
	"news", "about", "on", "tell", "me", "latest", "current", "get", "fetch", "find", "show",
	"what's", "what", "is", "the", "any", "some", "give", "please", "headlines", "today", "in",
	"regarding", "for", "there", "are", "my", "of",
}

var rules = []match.Rule{
	{Phrases: []string{"news", "headlines"}, Weight: 0.9},
	{Phrases: []string{"current events", "what's happening in the world"}, Weight: 0.8},
}

type Options struct {
	APIKey     string
	HTTPClient *http.Client
}

type Module struct {
	client   *upstream.Client
	apiKey   string
	country  string
	pageSize int
}

func New(cfg config.NewsConfig, opts Options) *Module {
	apiKey := strings.TrimSpace(opts.APIKey)
	client := upstream.New(upstream.Options{
		Name:          ID,
		BaseURL:       cfg.BaseURL,
		Header:        http.Header{"X-Api-Key": {apiKey}},
		Timeout:       time.Duration(cfg.RequestTimeoutSeconds) * time.Second,
		RatePerMinute: cfg.RatePerMinute,
		CacheTTL:      time.Duration(cfg.CacheTTLSeconds) * time.Second,
		HTTPClient:    opts.HTTPClient,
	})

	pageSize := cfg.PageSize
	if pageSize <= 0 {
		pageSize = 5
	}

	return &Module{client: client, apiKey: apiKey, country: cfg.Country, pageSize: pageSize}
}

func (m *Module) ID() string          { return ID }
func (m *Module) DisplayName() string { return "News" }
func (m *Module) Available() bool     { return m.apiKey != "" }

func (m *Module) Help() []string {
	return []string{
		"news / headlines: top stories",
		"tech news, sports news, business news: news by category",
		"news about <topic>: search recent articles",
	}
}

func (m *Module) Match(utt types.Utterance, _ types.Snapshot) types.Match {
	text := utt.Normalized()
	confidence := match.Score(text, rules...)
	if confidence == 0 {
		return types.Match{}
	}

	slots := map[string]string{"mode": "headlines"}
	switch {
	case category(text) != "":
		slots["mode"] = "category"
		slots["category"] = category(text)
	case match.HasAny(text, "headlines", "top news", "top stories"):
	default:
		if topic := match.StripWords(text, topicStopWords...); topic != "" {
			slots["mode"] = "search"
			slots["topic"] = topic
		}
	}

	return types.Match{ModuleID: ID, Confidence: confidence, Utterance: utt, Slots: slots}
}

func category(text string) string {
	for _, c := range categories {
		if match.HasAny(text, c.words...) {
			return c.name
		}
	}
	return ""
}

type article struct {
	Title  string `json:"title"`
	Source struct {
		Name string `json:"name"`
	} `json:"source"`
	URL string `json:"url"`
}

type response struct {
	Status       string    `json:"status"`
	TotalResults int       `json:"totalResults"`
	Articles     []article `json:"articles"`
}

func (m *Module) Execute(ctx context.Context, mt types.Match, _ types.Snapshot) types.Result {
	var (
		path, heading, cacheKey string
		query                   = url.Values{"pageSize": {strconv.Itoa(m.pageSize)}}
	)

	switch mt.Slot("mode") {
	case "category":
		path = "/top-headlines"
		query.Set("country", m.country)
		query.Set("category", mt.Slot("category"))
		heading = fmt.Sprintf("Top %s news:", mt.Slot("category"))
		cacheKey = "category:" + mt.Slot("category")
	case "search":
		path = "/everything"
		query.Set("q", mt.Slot("topic"))
		query.Set("sortBy", "publishedAt")
		query.Set("language", "en")
		heading = fmt.Sprintf("Latest news about %s:", mt.Slot("topic"))
		cacheKey = "search:" + mt.Slot("topic")
	default:
		path = "/top-headlines"
		query.Set("country", m.country)
		heading = "Top headlines:"
		cacheKey = "headlines"
	}

	var resp response
	if err := m.client.GetJSON(ctx, path, query, cacheKey, &resp); err != nil {
		return failure(err)
	}

	articles := make([]article, 0, len(resp.Articles))
	for _, a := range resp.Articles {
		if strings.TrimSpace(a.Title) == "" || a.Title == "[Removed]" {
			continue
		}
		articles = append(articles, a)
	}
	if len(articles) == 0 {
		return types.Result{
			Status:  types.StatusSuccess,
			Payload: "I couldn't find any news for that right now.",
			Data:    map[string]string{"articles": "0"},
		}
	}
	if len(articles) > m.pageSize {
		articles = articles[:m.pageSize]
	}

	var b strings.Builder
	b.WriteString(heading)
	for i, a := range articles {
		fmt.Fprintf(&b, "\n%d. %s", i+1, strings.TrimSpace(a.Title))
		if a.Source.Name != "" && !strings.HasSuffix(a.Title, a.Source.Name) {
			fmt.Fprintf(&b, " (%s)", a.Source.Name)
		}
	}

	data := map[string]string{"articles": strconv.Itoa(len(articles)), "mode": mt.Slot("mode")}
	if articles[0].URL != "" {
		data["first_url"] = articles[0].URL
	}

	return types.Result{Status: types.StatusSuccess, Payload: b.String(), Data: data}
}

func failure(err error) types.Result {
	switch {
	case upstream.IsStatus(err, http.StatusUnauthorized):
		return types.Failed(err, "The news service rejected the API key.")
	case upstream.IsStatus(err, http.StatusTooManyRequests):
		return types.Failed(err, "The news service limit has been reached. Please try again later.")
	case errors.Is(err, upstream.ErrUnavailable):
		return types.Failed(err, "The news service is unavailable right now. Please try again later.")
	default:
		return types.Failed(fmt.Errorf("news lookup: %w", err), "")
	}
}
