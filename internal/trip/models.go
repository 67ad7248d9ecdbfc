package trip

import "backend-tripweave/internal/itinerary"

type budgetRequest struct {
	Budget *float64 `json:"budget"`
}

type dayActivitiesRequest struct {
	Activities []itinerary.Activity `json:"activities"`
}

type createdResponse struct {
	ID string `json:"id"`
}

const activityColumns = `id, day_number, position, time_of_day, title, description, location, category, duration_min, cost, rating, editable`
