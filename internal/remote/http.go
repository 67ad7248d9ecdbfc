package remote

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"backend-tripweave/internal/itinerary"

	"github.com/gofiber/fiber/v2"
)

const defaultTimeout = 10 * time.Second

// HTTPClient talks to the backend trip API.
type HTTPClient struct {
	baseURL string
	token   string
	timeout time.Duration
}

type StatusError struct {
	Op     string
	Status int
	Body   string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s: status %d: %s", e.Op, e.Status, e.Body)
}

func NewHTTPClient(baseURL, token string) *HTTPClient {
	return &HTTPClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		timeout: defaultTimeout,
	}
}

func (c *HTTPClient) WithTimeout(d time.Duration) *HTTPClient {
	c.timeout = d
	return c
}

func (c *HTTPClient) CreateTrip(ctx context.Context, trip itinerary.Trip) error {
	_, err := c.do(ctx, "create trip", fiber.Post(c.baseURL+"/trips/"), trip)
	return err
}

func (c *HTTPClient) ReplaceDayActivities(ctx context.Context, tripID string, dayNumber int, activities []itinerary.Activity) error {
	if activities == nil {
		activities = []itinerary.Activity{}
	}
	path := "/trips/" + url.PathEscape(tripID) + "/days/" + strconv.Itoa(dayNumber) + "/activities"
	_, err := c.do(ctx, "replace day activities", fiber.Put(c.baseURL+path), fiber.Map{"activities": activities})
	return err
}

func (c *HTTPClient) DeleteActivity(ctx context.Context, tripID, activityID string) error {
	path := "/trips/" + url.PathEscape(tripID) + "/activities/" + url.PathEscape(activityID)
	_, err := c.do(ctx, "delete activity", fiber.Delete(c.baseURL+path), nil)
	return err
}

func (c *HTTPClient) UpdateBudget(ctx context.Context, tripID string, budget float64) error {
	path := "/trips/" + url.PathEscape(tripID) + "/budget"
	_, err := c.do(ctx, "update budget", fiber.Put(c.baseURL+path), fiber.Map{"budget": budget})
	return err
}

func (c *HTTPClient) GetTrip(ctx context.Context, tripID string) (itinerary.Trip, error) {
	body, err := c.do(ctx, "get trip", fiber.Get(c.baseURL+"/trips/"+url.PathEscape(tripID)), nil)
	if err != nil {
		var se *StatusError
		if errors.As(err, &se) && se.Status == fiber.StatusNotFound {
			return itinerary.Trip{}, Terminal(fmt.Errorf("%w: %s", ErrTripNotFound, tripID))
		}
		return itinerary.Trip{}, err
	}
	var trip itinerary.Trip
	if err := json.Unmarshal(body, &trip); err != nil {
		return itinerary.Trip{}, Transient(fmt.Errorf("get trip: decode: %w", err))
	}
	return trip, nil
}

func (c *HTTPClient) do(ctx context.Context, op string, a *fiber.Agent, payload any) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		fiber.ReleaseAgent(a)
		return nil, Transient(err)
	}
	a.Timeout(c.timeout)
	if c.token != "" {
		a.Set(fiber.HeaderAuthorization, "Bearer "+c.token)
	}
	if payload != nil {
		a.JSON(payload)
	}

	code, body, errs := a.Bytes()
	if len(errs) > 0 {
		return nil, Transient(fmt.Errorf("%s: %w", op, errors.Join(errs...)))
	}
	return body, classifyStatus(op, code, body)
}

func classifyStatus(op string, code int, body []byte) error {
	if code >= 200 && code < 300 {
		return nil
	}
	se := &StatusError{Op: op, Status: code, Body: strings.TrimSpace(string(body))}
	switch {
	case code == fiber.StatusRequestTimeout, code == fiber.StatusTooManyRequests, code >= 500:
		return Transient(se)
	default:
		return Terminal(se)
	}
}
