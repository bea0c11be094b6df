package echoapi

import (
	"net/http"

	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	"github.com/trezcool/maombi/core/program"
)

type programApi struct {
	svc      program.Service
	validate *validator.Validate
}

func registerProgramAPI(g *echo.Group, jwt echo.MiddlewareFunc, deps ServerDeps) {
	api := programApi{
		svc:      deps.ProgramSvc,
		validate: deps.Validate,
	}

	pg := g.Group("/programs")

	// the catalog is public so applicants can browse before signing up
	pg.GET("", api.query)
	pg.GET("/:id", api.retrieve)

	pg.POST("", api.create, jwt, adminMiddleware())
	pg.PUT("/:id/active", api.setActive, jwt, adminMiddleware())
}

// Handlers

func (api *programApi) create(ctx echo.Context) error {
	var data program.NewProgram
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to NewProgram")
	}
	if err := data.Validate(api.validate); err != nil {
		return err
	}

	prog, err := api.svc.Create(ctx.Request().Context(), data)
	if err != nil {
		return errors.Wrap(err, "creating program")
	}

	return ctx.JSON(http.StatusCreated, prog)
}

func (api *programApi) query(ctx echo.Context) error {
	filter := new(program.QueryFilter)
	if err := ctx.Bind(filter); err != nil {
		return ctx.JSON(http.StatusOK, []program.Program{})
	}
	filter.Clean()
	ordering := new(Ordering)
	ordering.Bind(ctx)

	progs, err := api.svc.Query(ctx.Request().Context(), filter, ordering.Orderings...)
	if err != nil {
		return errors.Wrap(err, "querying programs")
	}
	if progs == nil {
		progs = []program.Program{}
	}
	return ctx.JSON(http.StatusOK, progs)
}

func (api *programApi) retrieve(ctx echo.Context) error {
	prog, err := api.svc.GetByID(ctx.Request().Context(), ctx.Param("id"))
	if err != nil {
		if errors.Cause(err) == program.ErrNotFound {
			return errHttpNotFound
		}
		return errors.Wrap(err, "finding program by ID")
	}
	return ctx.JSON(http.StatusOK, prog)
}

func (api *programApi) setActive(ctx echo.Context) error {
	var data SetActiveRequest
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to SetActiveRequest")
	}
	if err := data.Validate(api.validate); err != nil {
		return err
	}

	prog, err := api.svc.SetActive(ctx.Request().Context(), ctx.Param("id"), *data.IsActive)
	if err != nil {
		if errors.Cause(err) == program.ErrNotFound {
			return errHttpNotFound
		}
		return errors.Wrap(err, "setting program active state")
	}
	return ctx.JSON(http.StatusOK, prog)
}

type SetActiveRequest struct {
	IsActive *bool `json:"is_active" validate:"required"`
}

func (sr *SetActiveRequest) Validate(validate *validator.Validate) error {
	return validate.Struct(sr)
}
