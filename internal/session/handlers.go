package session

import (
	"errors"

	"backend-tripweave/internal/itinerary"
	"backend-tripweave/internal/planner"
	"backend-tripweave/internal/remote"
	"backend-tripweave/internal/syncq"

	"github.com/gofiber/fiber/v2"
)

type reorderRequest struct {
	From *int `json:"from"`
	To   *int `json:"to"`
}

type reorderResponse struct {
	Changed bool          `json:"changed"`
	Day     itinerary.Day `json:"day"`
}

type insertRequest struct {
	Activity itinerary.Activity `json:"activity"`
	At       *int               `json:"at"`
}

type budgetRequest struct {
	Budget *float64 `json:"budget"`
}

type connectivityRequest struct {
	Online *bool `json:"online"`
}

// RegisterRoutes mounts the local UI API for one session.
func RegisterRoutes(r fiber.Router, s *Session) {
	r.Get("/", func(c *fiber.Ctx) error {
		trip := s.Trip()
		if trip == nil {
			return fiber.NewError(fiber.StatusNotFound, itinerary.ErrNoTrip.Error())
		}
		return c.JSON(trip)
	})

	r.Post("/generate", func(c *fiber.Ctx) error {
		var req planner.Request
		if err := c.BodyParser(&req); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, "invalid payload")
		}
		trip, err := s.Generate(req)
		if err != nil {
			return localError(err)
		}
		return c.Status(fiber.StatusCreated).JSON(trip)
	})

	r.Post("/days/:day/reorder", func(c *fiber.Ctx) error {
		day, err := dayParam(c)
		if err != nil {
			return err
		}
		var req reorderRequest
		if err := c.BodyParser(&req); err != nil || req.From == nil || req.To == nil {
			return fiber.NewError(fiber.StatusBadRequest, "from and to are required")
		}
		changed, err := s.Store().Reorder(day, *req.From, *req.To)
		if err != nil {
			return localError(err)
		}
		d, ok := s.Trip().DayByNumber(day)
		if !ok {
			return localError(itinerary.ErrDayNotFound)
		}
		return c.JSON(reorderResponse{Changed: changed, Day: *d})
	})

	r.Post("/days/:day/activities", func(c *fiber.Ctx) error {
		day, err := dayParam(c)
		if err != nil {
			return err
		}
		var req insertRequest
		if err := c.BodyParser(&req); err != nil || req.At == nil {
			return fiber.NewError(fiber.StatusBadRequest, "activity and at are required")
		}
		a, err := s.Store().Insert(day, req.Activity, *req.At)
		if err != nil {
			return localError(err)
		}
		return c.Status(fiber.StatusCreated).JSON(a)
	})

	r.Delete("/activities/:id", func(c *fiber.Ctx) error {
		if err := s.Store().Remove(c.Params("id")); err != nil {
			return localError(err)
		}
		return c.SendStatus(fiber.StatusNoContent)
	})

	r.Post("/days/:day/collapse", func(c *fiber.Ctx) error {
		day, err := dayParam(c)
		if err != nil {
			return err
		}
		if err := s.Store().CollapseDay(day); err != nil {
			return localError(err)
		}
		return c.SendStatus(fiber.StatusNoContent)
	})

	r.Post("/days/:day/expand", func(c *fiber.Ctx) error {
		day, err := dayParam(c)
		if err != nil {
			return err
		}
		if err := s.Store().ExpandDay(day); err != nil {
			return localError(err)
		}
		return c.SendStatus(fiber.StatusNoContent)
	})

	r.Put("/budget", func(c *fiber.Ctx) error {
		var req budgetRequest
		if err := c.BodyParser(&req); err != nil || req.Budget == nil {
			return fiber.NewError(fiber.StatusBadRequest, "budget is required")
		}
		if err := s.Store().UpdateBudget(*req.Budget); err != nil {
			return localError(err)
		}
		return c.SendStatus(fiber.StatusNoContent)
	})

	r.Get("/sync", func(c *fiber.Ctx) error {
		return c.JSON(s.Status())
	})

	r.Post("/sync/drain", func(c *fiber.Ctx) error {
		report, err := s.Drain(c.UserContext())
		if err != nil {
			return localError(err)
		}
		return c.JSON(report)
	})

	r.Post("/sync/pull", func(c *fiber.Ctx) error {
		trip, err := s.Pull(c.UserContext())
		if err != nil {
			return localError(err)
		}
		return c.JSON(trip)
	})

	r.Post("/sync/:seq/retry", func(c *fiber.Ctx) error {
		seq, err := seqParam(c)
		if err != nil {
			return err
		}
		if err := s.Queue().Retry(seq); err != nil {
			return localError(err)
		}
		return c.SendStatus(fiber.StatusAccepted)
	})

	r.Delete("/sync/:seq", func(c *fiber.Ctx) error {
		seq, err := seqParam(c)
		if err != nil {
			return err
		}
		if err := s.Queue().Dismiss(seq); err != nil {
			return localError(err)
		}
		return c.SendStatus(fiber.StatusNoContent)
	})

	r.Post("/connectivity", func(c *fiber.Ctx) error {
		var req connectivityRequest
		if err := c.BodyParser(&req); err != nil || req.Online == nil {
			return fiber.NewError(fiber.StatusBadRequest, "online is required")
		}
		s.Monitor().Report(*req.Online)
		return c.Status(fiber.StatusAccepted).JSON(s.Status())
	})
}

func dayParam(c *fiber.Ctx) (int, error) {
	day, err := c.ParamsInt("day")
	if err != nil || day < 1 {
		return 0, fiber.NewError(fiber.StatusBadRequest, "invalid day")
	}
	return day, nil
}

func seqParam(c *fiber.Ctx) (uint64, error) {
	seq, err := c.ParamsInt("seq")
	if err != nil || seq < 1 {
		return 0, fiber.NewError(fiber.StatusBadRequest, "invalid sequence number")
	}
	return uint64(seq), nil
}

func localError(err error) error {
	switch {
	case errors.Is(err, itinerary.ErrNoTrip),
		errors.Is(err, itinerary.ErrDayNotFound),
		errors.Is(err, itinerary.ErrNotFound),
		errors.Is(err, syncq.ErrUnknownEntry),
		errors.Is(err, remote.ErrTripNotFound):
		return fiber.NewError(fiber.StatusNotFound, err.Error())
	case errors.Is(err, itinerary.ErrNotEditable),
		errors.Is(err, itinerary.ErrDuplicateActivity),
		errors.Is(err, syncq.ErrEntryActive),
		errors.Is(err, syncq.ErrNotStalled),
		errors.Is(err, ErrUnsyncedChanges):
		return fiber.NewError(fiber.StatusConflict, err.Error())
	case errors.Is(err, itinerary.ErrInvalidPosition),
		errors.Is(err, itinerary.ErrInvalidActivity),
		errors.Is(err, itinerary.ErrInvalidBudget),
		errors.Is(err, itinerary.ErrInvalidTrip),
		errors.Is(err, planner.ErrInvalidRequest):
		return fiber.NewError(fiber.StatusUnprocessableEntity, err.Error())
	case errors.Is(err, ErrOffline), errors.Is(err, syncq.ErrClosed):
		return fiber.NewError(fiber.StatusServiceUnavailable, err.Error())
	case remote.IsTerminal(err):
		return fiber.NewError(fiber.StatusBadGateway, err.Error())
	}
	return fiber.NewError(fiber.StatusServiceUnavailable, err.Error())
}
