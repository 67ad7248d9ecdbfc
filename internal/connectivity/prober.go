package connectivity

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
)

// HTTPProber treats the backend as reachable when its health route answers
// 200.
type HTTPProber struct {
	url     string
	timeout time.Duration
}

func NewHTTPProber(baseURL string, timeout time.Duration) *HTTPProber {
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	return &HTTPProber{url: strings.TrimRight(baseURL, "/") + "/health", timeout: timeout}
}

func (p *HTTPProber) Probe(ctx context.Context) error {
	a := fiber.Get(p.url)
	if err := ctx.Err(); err != nil {
		fiber.ReleaseAgent(a)
		return err
	}
	timeout := p.timeout
	if deadline, ok := ctx.Deadline(); ok {
		if left := time.Until(deadline); left < timeout {
			timeout = left
		}
	}
	a.Timeout(timeout)

	code, _, errs := a.Bytes()
	if len(errs) > 0 {
		return fmt.Errorf("probe %s: %w", p.url, errors.Join(errs...))
	}
	if code != fiber.StatusOK {
		return fmt.Errorf("probe %s: status %d", p.url, code)
	}
	return nil
}
