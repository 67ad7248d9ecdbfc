package trip

import (
	"errors"

	"backend-tripweave/internal/itinerary"
	"backend-tripweave/internal/remote"

	"github.com/gofiber/fiber/v2"
)

func RegisterRoutes(r fiber.Router, svc *Service, authMiddleware fiber.Handler) {
	r.Post("/", authMiddleware, func(c *fiber.Ctx) error {
		var req itinerary.Trip
		if err := c.BodyParser(&req); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, err.Error())
		}
		if req.ID == "" || req.Destination == "" {
			return fiber.NewError(fiber.StatusBadRequest, "id and destination required")
		}
		if err := svc.CreateTrip(c.Context(), req); err != nil {
			return deliveryError(err)
		}
		return c.Status(fiber.StatusCreated).JSON(createdResponse{ID: req.ID})
	})

	r.Get("/:id", func(c *fiber.Ctx) error {
		trip, err := svc.GetTrip(c.Context(), c.Params("id"))
		if err != nil {
			return deliveryError(err)
		}
		return c.JSON(trip)
	})

	r.Put("/:id/budget", authMiddleware, func(c *fiber.Ctx) error {
		var req budgetRequest
		if err := c.BodyParser(&req); err != nil || req.Budget == nil {
			return fiber.NewError(fiber.StatusBadRequest, "budget required")
		}
		if err := svc.UpdateBudget(c.Context(), c.Params("id"), *req.Budget); err != nil {
			return deliveryError(err)
		}
		return c.SendStatus(fiber.StatusNoContent)
	})

	r.Put("/:id/days/:day/activities", authMiddleware, func(c *fiber.Ctx) error {
		day, err := c.ParamsInt("day")
		if err != nil || day < 1 {
			return fiber.NewError(fiber.StatusBadRequest, "invalid day")
		}
		var req dayActivitiesRequest
		if err := c.BodyParser(&req); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, err.Error())
		}
		if err := svc.ReplaceDayActivities(c.Context(), c.Params("id"), day, req.Activities); err != nil {
			return deliveryError(err)
		}
		return c.SendStatus(fiber.StatusNoContent)
	})

	r.Delete("/:id/activities/:activityID", authMiddleware, func(c *fiber.Ctx) error {
		if err := svc.DeleteActivity(c.Context(), c.Params("id"), c.Params("activityID")); err != nil {
			return deliveryError(err)
		}
		return c.SendStatus(fiber.StatusNoContent)
	})
}

// deliveryError keeps the transient/terminal split visible to HTTP clients:
// terminal errors become 4xx, retryable ones 503.
func deliveryError(err error) error {
	switch {
	case errors.Is(err, remote.ErrTripNotFound):
		return fiber.NewError(fiber.StatusNotFound, "trip not found")
	case remote.IsTerminal(err):
		return fiber.NewError(fiber.StatusUnprocessableEntity, err.Error())
	default:
		return fiber.NewError(fiber.StatusServiceUnavailable, err.Error())
	}
}
