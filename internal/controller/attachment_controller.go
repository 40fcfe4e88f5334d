package controller

import (
	"fmt"
	"path/filepath"
	"strconv"

	"cyborg-chat-be/internal/pkg/serverutils"
	"cyborg-chat-be/internal/service"
	"cyborg-chat-be/pkg/apperror"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
)

type IAttachmentController interface {
	RegisterRoutes(r fiber.Router, jwtMiddleware fiber.Handler)
	Upload(ctx *fiber.Ctx) error
	Status(ctx *fiber.Ctx) error
	Chunks(ctx *fiber.Ctx) error
	Chunk(ctx *fiber.Ctx) error
	Delete(ctx *fiber.Ctx) error
	File(ctx *fiber.Ctx) error
}

type attachmentController struct {
	service service.IAttachmentService
}

func NewAttachmentController(service service.IAttachmentService) IAttachmentController {
	return &attachmentController{service: service}
}

func (c *attachmentController) RegisterRoutes(r fiber.Router, jwtMiddleware fiber.Handler) {
	r.Post("/upload", jwtMiddleware, c.Upload)
	r.Get("/files/:filename", jwtMiddleware, c.File)

	h := r.Group("/attachments")
	h.Get("/:attachmentId/status", jwtMiddleware, c.Status)
	h.Get("/:attachmentId/chunks", jwtMiddleware, c.Chunks)
	h.Get("/:attachmentId/chunks/:index", jwtMiddleware, c.Chunk)
	h.Delete("/:attachmentId", jwtMiddleware, c.Delete)
}

func (c *attachmentController) Upload(ctx *fiber.Ctx) error {
	userId, err := serverutils.UserID(ctx)
	if err != nil {
		return err
	}

	sessionId, err := uuid.Parse(ctx.FormValue("sessionId"))
	if err != nil {
		return apperror.Validation("sessionId is required")
	}

	header, err := ctx.FormFile("file")
	if err != nil {
		return apperror.Validation("No file uploaded")
	}
	file, err := header.Open()
	if err != nil {
		return apperror.Processing("failed to read upload", err)
	}
	defer file.Close()

	res, err := c.service.Upload(ctx.UserContext(), userId, &service.UploadRequest{
		SessionId: sessionId,
		Filename:  header.Filename,
		MimeType:  header.Header.Get(fiber.HeaderContentType),
		Size:      header.Size,
		Content:   file,
	})
	if err != nil {
		return err
	}

	resp := serverutils.SuccessResponse("File uploaded, processing started", res)
	resp.Code = fiber.StatusCreated
	return ctx.Status(fiber.StatusCreated).JSON(resp)
}

func (c *attachmentController) Status(ctx *fiber.Ctx) error {
	userId, attachmentId, err := c.params(ctx)
	if err != nil {
		return err
	}

	res, err := c.service.Status(ctx.UserContext(), userId, attachmentId)
	if err != nil {
		return err
	}

	return ctx.JSON(serverutils.SuccessResponse("Success get attachment status", res))
}

func (c *attachmentController) Chunks(ctx *fiber.Ctx) error {
	userId, attachmentId, err := c.params(ctx)
	if err != nil {
		return err
	}

	res, err := c.service.Chunks(ctx.UserContext(), userId, attachmentId)
	if err != nil {
		return err
	}

	return ctx.JSON(serverutils.SuccessResponse("Success get chunks", res))
}

func (c *attachmentController) Chunk(ctx *fiber.Ctx) error {
	userId, attachmentId, err := c.params(ctx)
	if err != nil {
		return err
	}
	index, err := strconv.Atoi(ctx.Params("index"))
	if err != nil {
		return apperror.Validation("Invalid chunk index")
	}

	res, err := c.service.Chunk(ctx.UserContext(), userId, attachmentId, index)
	if err != nil {
		return err
	}

	return ctx.JSON(serverutils.SuccessResponse("Success get chunk", res))
}

func (c *attachmentController) Delete(ctx *fiber.Ctx) error {
	userId, attachmentId, err := c.params(ctx)
	if err != nil {
		return err
	}

	if err := c.service.Delete(ctx.UserContext(), userId, attachmentId); err != nil {
		return err
	}

	return ctx.JSON(serverutils.SuccessResponse[any]("Success delete attachment", nil))
}

func (c *attachmentController) File(ctx *fiber.Ctx) error {
	userId, err := serverutils.UserID(ctx)
	if err != nil {
		return err
	}

	attachment, err := c.service.File(ctx.UserContext(), userId, ctx.Params("filename"))
	if err != nil {
		return err
	}

	if err := ctx.SendFile(attachment.Url); err != nil {
		return err
	}
	// SendFile guesses the type from the stored name; the upload knows better.
	ctx.Set(fiber.HeaderContentType, attachment.MimeType)
	ctx.Set(fiber.HeaderContentDisposition, fmt.Sprintf("inline; filename=%q", filepath.Base(attachment.Filename)))
	return nil
}

func (c *attachmentController) params(ctx *fiber.Ctx) (uuid.UUID, uuid.UUID, error) {
	userId, err := serverutils.UserID(ctx)
	if err != nil {
		return uuid.Nil, uuid.Nil, err
	}
	attachmentId, err := serverutils.UUIDParam(ctx, "attachmentId")
	if err != nil {
		return uuid.Nil, uuid.Nil, err
	}
	return userId, attachmentId, nil
}
