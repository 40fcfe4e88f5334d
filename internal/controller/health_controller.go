package controller

import (
	"cyborg-chat-be/internal/dto"
	"cyborg-chat-be/internal/service"

	"github.com/gofiber/fiber/v2"
)

type IHealthController interface {
	RegisterRoutes(r fiber.Router)
	Check(ctx *fiber.Ctx) error
}

type healthController struct {
	service service.IHealthService
}

func NewHealthController(service service.IHealthService) IHealthController {
	return &healthController{service: service}
}

func (c *healthController) RegisterRoutes(r fiber.Router) {
	r.Get("/health", c.Check)
}

// Check answers 503 unless every dependency is ok. The body is the bare
// report so load balancers and people read the same thing.
func (c *healthController) Check(ctx *fiber.Ctx) error {
	res := c.service.Check(ctx.UserContext())

	status := fiber.StatusOK
	if res.Status != dto.HealthOK {
		status = fiber.StatusServiceUnavailable
	}
	return ctx.Status(status).JSON(res)
}
