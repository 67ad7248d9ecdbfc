package itinerary

import "time"

type Category string

const (
	CategoryTransport  Category = "transport"
	CategoryRestaurant Category = "restaurant"
	CategoryAttraction Category = "attraction"
	CategoryActivity   Category = "activity"
)

func (c Category) Valid() bool {
	switch c {
	case CategoryTransport, CategoryRestaurant, CategoryAttraction, CategoryActivity:
		return true
	}
	return false
}

type Trip struct {
	ID          string    `json:"id"`
	Destination string    `json:"destination"`
	StartDate   time.Time `json:"start_date"`
	EndDate     time.Time `json:"end_date"`
	Travelers   int       `json:"travelers"`
	Budget      float64   `json:"budget"`
	Currency    string    `json:"currency"`
	Mood        string    `json:"mood"`
	Days        []Day     `json:"days"`
}

type Weather struct {
	Condition    string  `json:"condition"`
	TemperatureC float64 `json:"temperature_c"`
}

type Day struct {
	Number     int        `json:"number"`
	Date       time.Time  `json:"date"`
	Weather    Weather    `json:"weather"`
	Collapsed  bool       `json:"collapsed"`
	Activities []Activity `json:"activities"`
}

type Activity struct {
	ID          string   `json:"id"`
	Day         int      `json:"day"`
	TimeOfDay   string   `json:"time_of_day"`
	Title       string   `json:"title"`
	Description string   `json:"description"`
	Location    string   `json:"location"`
	Category    Category `json:"category"`
	DurationMin int      `json:"duration_min"`
	Cost        *float64 `json:"cost"`
	Rating      float64  `json:"rating"`
	Editable    bool     `json:"editable"`
	Order       int      `json:"order"`
}

// DayByNumber returns the day with the given 1-based number.
func (t *Trip) DayByNumber(n int) (*Day, bool) {
	if n < 1 || n > len(t.Days) {
		return nil, false
	}
	d := &t.Days[n-1]
	if d.Number != n {
		return nil, false
	}
	return d, true
}

// FindActivity returns the activity with the given id and the number of the
// day that owns it.
func (t *Trip) FindActivity(id string) (Activity, int, bool) {
	for _, d := range t.Days {
		for _, a := range d.Activities {
			if a.ID == id {
				return a, d.Number, true
			}
		}
	}
	return Activity{}, 0, false
}

// ActivityCount is the total number of activities across all days.
func (t *Trip) ActivityCount() int {
	n := 0
	for _, d := range t.Days {
		n += len(d.Activities)
	}
	return n
}

func (t *Trip) clone() *Trip {
	out := *t
	out.Days = make([]Day, len(t.Days))
	for i, d := range t.Days {
		out.Days[i] = d
		out.Days[i].Activities = CloneActivities(d.Activities)
	}
	return &out
}

// CloneActivities deep-copies a slice of activities, including cost pointers.
func CloneActivities(in []Activity) []Activity {
	if in == nil {
		return nil
	}
	out := make([]Activity, len(in))
	for i, a := range in {
		out[i] = a
		if a.Cost != nil {
			c := *a.Cost
			out[i].Cost = &c
		}
	}
	return out
}
