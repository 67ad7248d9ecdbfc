// Package planner fills a day-by-day itinerary from mood templates.
package planner

import (
	_ "embed"
	"errors"
	"fmt"
	"math/rand"
	"sort"
	"strings"
	"sync"
	"time"

	"backend-tripweave/internal/itinerary"

	"gopkg.in/yaml.v3"
)

//go:embed templates.yaml
var defaultTemplates []byte

const maxTripDays = 30

var ErrInvalidRequest = errors.New("invalid trip request")

type Template struct {
	Title       string             `yaml:"title"`
	Description string             `yaml:"description"`
	Location    string             `yaml:"location"`
	Category    itinerary.Category `yaml:"category"`
	DurationMin int                `yaml:"duration_min"`
	Cost        *float64           `yaml:"cost"`
	Rating      float64            `yaml:"rating"`
}

type MoodTemplates struct {
	Morning   []Template `yaml:"morning"`
	Afternoon []Template `yaml:"afternoon"`
	Evening   []Template `yaml:"evening"`
}

type WeatherTemplate struct {
	Condition string  `yaml:"condition"`
	MinC      float64 `yaml:"min_c"`
	MaxC      float64 `yaml:"max_c"`
}

type Catalog struct {
	Weather []WeatherTemplate        `yaml:"weather"`
	Moods   map[string]MoodTemplates `yaml:"moods"`
}

// MoodNames lists the known moods in a stable order.
func (c Catalog) MoodNames() []string {
	out := make([]string, 0, len(c.Moods))
	for m := range c.Moods {
		out = append(out, m)
	}
	sort.Strings(out)
	return out
}

type Request struct {
	Destination string    `json:"destination"`
	StartDate   time.Time `json:"start_date"`
	EndDate     time.Time `json:"end_date"`
	Travelers   int       `json:"travelers"`
	Budget      float64   `json:"budget"`
	Currency    string    `json:"currency"`
	Mood        string    `json:"mood"`
}

func LoadCatalog(data []byte) (Catalog, error) {
	var c Catalog
	if err := yaml.Unmarshal(data, &c); err != nil {
		return Catalog{}, fmt.Errorf("parse templates: %w", err)
	}
	if len(c.Moods) == 0 {
		return Catalog{}, errors.New("parse templates: no moods defined")
	}
	for mood, mt := range c.Moods {
		for _, slot := range [][]Template{mt.Morning, mt.Afternoon, mt.Evening} {
			for _, t := range slot {
				if !t.Category.Valid() {
					return Catalog{}, fmt.Errorf("parse templates: mood %s: unknown category %q", mood, t.Category)
				}
			}
		}
	}
	return c, nil
}

type Generator struct {
	catalog Catalog
	mu      sync.Mutex
	rng     *rand.Rand
}

func NewGenerator(c Catalog, seed int64) *Generator {
	return &Generator{catalog: c, rng: rand.New(rand.NewSource(seed))}
}

// Default builds a generator over the embedded templates.
func Default() (*Generator, error) {
	c, err := LoadCatalog(defaultTemplates)
	if err != nil {
		return nil, err
	}
	return NewGenerator(c, time.Now().UnixNano()), nil
}

func (g *Generator) Catalog() Catalog { return g.catalog }

// Generate builds a trip with one day per calendar day in the request range.
// The first day opens with a fixed arrival leg and the last day closes with a
// fixed departure leg; neither can be moved or deleted. Ids are left empty for
// the store to assign.
func (g *Generator) Generate(req Request) (itinerary.Trip, error) {
	if err := g.validate(req); err != nil {
		return itinerary.Trip{}, err
	}
	mood := g.catalog.Moods[req.Mood]

	g.mu.Lock()
	defer g.mu.Unlock()

	start := truncateDay(req.StartDate)
	count := itinerary.DayCount(req.StartDate, req.EndDate)
	trip := itinerary.Trip{
		Destination: req.Destination,
		StartDate:   start,
		EndDate:     truncateDay(req.EndDate),
		Travelers:   req.Travelers,
		Budget:      req.Budget,
		Currency:    req.Currency,
		Mood:        req.Mood,
		Days:        make([]itinerary.Day, count),
	}
	if trip.Currency == "" {
		trip.Currency = "USD"
	}

	for i := 0; i < count; i++ {
		day := itinerary.Day{
			Number:  i + 1,
			Date:    start.AddDate(0, 0, i),
			Weather: g.weather(),
		}
		var acts []itinerary.Activity
		if i == 0 {
			acts = append(acts, fixedLeg("Arrival in "+req.Destination, "morning", req.Destination))
		}
		acts = append(acts, g.pick(mood.Morning, "morning", req))
		acts = append(acts, g.pick(mood.Afternoon, "afternoon", req))
		acts = append(acts, g.pick(mood.Evening, "evening", req))
		if i == count-1 {
			acts = append(acts, fixedLeg("Departure from "+req.Destination, "evening", req.Destination))
		}

		kept := acts[:0]
		for _, a := range acts {
			if a.Title != "" {
				kept = append(kept, a)
			}
		}
		for j := range kept {
			kept[j].Day = day.Number
			kept[j].Order = j
		}
		day.Activities = kept
		trip.Days[i] = day
	}
	return trip, nil
}

func (g *Generator) validate(req Request) error {
	switch {
	case strings.TrimSpace(req.Destination) == "":
		return fmt.Errorf("%w: destination required", ErrInvalidRequest)
	case req.StartDate.IsZero() || req.EndDate.IsZero():
		return fmt.Errorf("%w: start and end dates required", ErrInvalidRequest)
	case req.EndDate.Before(req.StartDate):
		return fmt.Errorf("%w: end date before start date", ErrInvalidRequest)
	case itinerary.DayCount(req.StartDate, req.EndDate) > maxTripDays:
		return fmt.Errorf("%w: trips are limited to %d days", ErrInvalidRequest, maxTripDays)
	case req.Travelers < 1:
		return fmt.Errorf("%w: at least one traveler", ErrInvalidRequest)
	case req.Budget < 0:
		return fmt.Errorf("%w: negative budget", ErrInvalidRequest)
	}
	if _, ok := g.catalog.Moods[req.Mood]; !ok {
		return fmt.Errorf("%w: unknown mood %q", ErrInvalidRequest, req.Mood)
	}
	return nil
}

func (g *Generator) pick(slot []Template, timeOfDay string, req Request) itinerary.Activity {
	if len(slot) == 0 {
		return itinerary.Activity{}
	}
	t := slot[g.rng.Intn(len(slot))]
	a := itinerary.Activity{
		TimeOfDay:   timeOfDay,
		Title:       strings.ReplaceAll(t.Title, "{destination}", req.Destination),
		Description: strings.ReplaceAll(t.Description, "{destination}", req.Destination),
		Location:    t.Location,
		Category:    t.Category,
		DurationMin: t.DurationMin,
		Rating:      t.Rating,
		Editable:    true,
	}
	if t.Cost != nil {
		c := *t.Cost * float64(req.Travelers)
		a.Cost = &c
	}
	return a
}

func (g *Generator) weather() itinerary.Weather {
	if len(g.catalog.Weather) == 0 {
		return itinerary.Weather{}
	}
	w := g.catalog.Weather[g.rng.Intn(len(g.catalog.Weather))]
	temp := w.MinC
	if w.MaxC > w.MinC {
		temp += g.rng.Float64() * (w.MaxC - w.MinC)
	}
	return itinerary.Weather{Condition: w.Condition, TemperatureC: float64(int(temp*10)) / 10}
}

func fixedLeg(title, timeOfDay, destination string) itinerary.Activity {
	return itinerary.Activity{
		TimeOfDay: timeOfDay,
		Title:     title,
		Location:  destination,
		Category:  itinerary.CategoryTransport,
		Editable:  false,
	}
}

func truncateDay(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}
