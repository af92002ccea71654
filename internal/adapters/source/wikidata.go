package source

import (
	"context"
	"fmt"
	"io"
	"math"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/goccy/go-json"

	"github.com/okian/villes/internal/domain/model"
	"github.com/okian/villes/pkg/logger"
)

const wikidataQuery = `SELECT DISTINCT ?villeLabel ?image ?paysLabel ?population ?superficie ?coordonnees ?fuseauHoraireLabel WHERE {
  ?ville wdt:P31 wd:Q515;
         wdt:P18 ?image;
         wdt:P17 ?pays;
         wdt:P1082 ?population;
         wdt:P2046 ?superficie;
         wdt:P625 ?coordonnees;
         wdt:P421 ?fuseauHoraire.
  SERVICE wikibase:label {
    bd:serviceParam wikibase:language "%s".
    ?ville rdfs:label ?villeLabel.
    ?pays rdfs:label ?paysLabel.
    ?fuseauHoraire rdfs:label ?fuseauHoraireLabel.
  }
}
LIMIT %d`

// Wikidata queries the public SPARQL endpoint for cities with an image,
// population, area, coordinates and time zone.
type Wikidata struct {
	endpoint  string
	language  string
	limit     int
	userAgent string
	client    *http.Client
	logger    logger.Logger
}

var _ Source = (*Wikidata)(nil)

// NewWikidata creates a SPARQL source for endpoint.
func NewWikidata(endpoint string, opts ...WikidataOption) *Wikidata {
	w := &Wikidata{
		endpoint:  endpoint,
		language:  "fr",
		limit:     200,
		userAgent: "villes-collector/1.0",
		client:    &http.Client{Timeout: 60 * time.Second},
	}
	for _, opt := range opts {
		opt(w)
	}
	if w.logger == nil {
		w.logger = logger.Named("wikidata")
	}
	return w
}

// Query returns the SPARQL text sent to the endpoint.
func (w *Wikidata) Query() string {
	return fmt.Sprintf(wikidataQuery, w.language, w.limit)
}

type sparqlValue struct {
	Type  string `json:"type"`
	Value string `json:"value"`
}

type sparqlResponse struct {
	Results struct {
		Bindings []map[string]sparqlValue `json:"bindings"`
	} `json:"results"`
}

// Fetch runs the query once. Any transport, status or decoding failure fails
// the whole batch with ErrSourceQuery. Rows whose numeric fields do not parse
// are skipped; repeated identities keep their first row.
func (w *Wikidata) Fetch(ctx context.Context) ([]model.City, error) {
	form := url.Values{}
	form.Set("query", w.Query())
	form.Set("format", "json")

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, fmt.Errorf("%w: build request: %w", ErrSourceQuery, err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/sparql-results+json")
	req.Header.Set("User-Agent", w.userAgent)

	resp, err := w.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrSourceQuery, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("%w: status %d: %s", ErrSourceQuery, resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var sr sparqlResponse
	if err := json.NewDecoder(resp.Body).Decode(&sr); err != nil {
		return nil, fmt.Errorf("%w: decode response: %w", ErrSourceQuery, err)
	}

	cities := make([]model.City, 0, len(sr.Results.Bindings))
	for i, row := range sr.Results.Bindings {
		c, err := cityFromRow(row)
		if err != nil {
			w.logger.Warn(ctx, "skipping source row", logger.Int("row", i), logger.Error(err))
			continue
		}
		cities = append(cities, c)
	}
	return dedupe(cities), nil
}

func cityFromRow(row map[string]sparqlValue) (model.City, error) {
	name := strings.TrimSpace(row["villeLabel"].Value)
	country := strings.TrimSpace(row["paysLabel"].Value)
	if name == "" || country == "" {
		return model.City{}, fmt.Errorf("%w: missing label", model.ErrMalformedRecord)
	}
	pop, err := strconv.ParseFloat(strings.TrimPrefix(row["population"].Value, "+"), 64)
	if err != nil || pop < 0 {
		return model.City{}, fmt.Errorf("%w: %s: population %q", model.ErrMalformedRecord, name, row["population"].Value)
	}
	area, err := strconv.ParseFloat(strings.TrimPrefix(row["superficie"].Value, "+"), 64)
	if err != nil || !(area > 0) {
		return model.City{}, fmt.Errorf("%w: %s: superficie %q", model.ErrMalformedRecord, name, row["superficie"].Value)
	}
	c := model.City{
		Name:        name,
		Country:     country,
		Population:  int64(math.Round(pop)),
		Area:        area,
		Coordinates: row["coordonnees"].Value,
		Timezone:    row["fuseauHoraireLabel"].Value,
	}
	if img := strings.TrimSpace(row["image"].Value); img != "" {
		c.Image = &img
	}
	return c, nil
}
