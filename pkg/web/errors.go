package web

import (
	"github.com/dukex/autoflow/pkg/services"
	"github.com/gofiber/fiber/v3"
	"github.com/moogar0880/problems"
)

func problem(c fiber.Ctx, status int, problemType, detail string) error {
	p := problems.NewStatusProblem(status).
		WithInstance(c.Path()).
		WithType(problemType).
		WithDetail(detail)

	return c.Status(status).JSON(p)
}

func badRequest(c fiber.Ctx, detail string) error {
	return problem(c, fiber.StatusBadRequest, "validation_error", detail)
}

func unauthorized(c fiber.Ctx, detail string) error {
	return problem(c, fiber.StatusUnauthorized, "unauthorized", detail)
}

func forbidden(c fiber.Ctx, detail string) error {
	return problem(c, fiber.StatusForbidden, "forbidden", detail)
}

func internalError(c fiber.Ctx, err error) error {
	p := problems.NewStatusProblem(fiber.StatusInternalServerError).
		WithInstance(c.Path()).
		WithType("internal_error").
		WithError(err)

	return c.Status(fiber.StatusInternalServerError).JSON(p)
}

// handleServiceError maps the services error kinds to HTTP statuses.
func handleServiceError(c fiber.Ctx, err error) error {
	switch {
	case services.IsNotFound(err):
		return problem(c, fiber.StatusNotFound, "not_found", err.Error())
	case services.IsDisabled(err):
		return problem(c, fiber.StatusForbidden, "disabled", err.Error())
	case services.IsMethodMismatch(err):
		return problem(c, fiber.StatusMethodNotAllowed, "method_not_allowed", err.Error())
	case services.IsValidationError(err):
		return badRequest(c, err.Error())
	default:
		return internalError(c, err)
	}
}
