package controller

import (
	"bufio"
	"context"

	"cyborg-chat-be/internal/dto"
	"cyborg-chat-be/internal/pkg/logger"
	"cyborg-chat-be/internal/pkg/serverutils"
	"cyborg-chat-be/internal/service"

	"github.com/gofiber/fiber/v2"
)

type IMessageController interface {
	RegisterRoutes(r fiber.Router, jwtMiddleware fiber.Handler)
	Send(ctx *fiber.Ctx) error
}

type messageController struct {
	service service.IGenerationService
	logger  logger.ILogger
}

func NewMessageController(service service.IGenerationService, log logger.ILogger) IMessageController {
	return &messageController{service: service, logger: log}
}

func (c *messageController) RegisterRoutes(r fiber.Router, jwtMiddleware fiber.Handler) {
	r.Post("/sessions/:id/messages", jwtMiddleware, c.Send)
}

// Send validates the turn and stores the user message before the stream
// opens, so a bad request still gets a plain JSON error. Everything after
// that is reported inside the stream.
func (c *messageController) Send(ctx *fiber.Ctx) error {
	userId, err := serverutils.UserID(ctx)
	if err != nil {
		return err
	}
	sessionId, err := serverutils.UUIDParam(ctx, "id")
	if err != nil {
		return err
	}

	var req dto.SendMessageRequest
	if err := ctx.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "Invalid request body")
	}
	if err := serverutils.ValidateRequest(req); err != nil {
		return err
	}

	turn, err := c.service.Begin(ctx.UserContext(), userId, sessionId, &req)
	if err != nil {
		return err
	}

	// The stream writer outlives the request handler.
	streamCtx := context.WithoutCancel(ctx.UserContext())

	serverutils.PrepareSSE(ctx)
	ctx.Context().SetBodyStreamWriter(func(w *bufio.Writer) {
		emit := func(frame dto.StreamFrame) error {
			return serverutils.WriteSSE(w, frame)
		}
		if err := c.service.Stream(streamCtx, turn, emit); err != nil {
			c.logger.Debug("MessageController", "Stream ended early", map[string]interface{}{
				"session_id": sessionId.String(),
				"error":      err.Error(),
			})
		}
	})
	return nil
}
