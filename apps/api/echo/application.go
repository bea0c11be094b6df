package echoapi

import (
	"net/http"

	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	"github.com/trezcool/maombi/core"
	"github.com/trezcool/maombi/core/application"
)

var errDraftNotFound = echo.NewHTTPError(http.StatusNotFound, application.ErrDraftNotFound.Error())

type applicationApi struct {
	svc      application.Service
	validate *validator.Validate
}

func registerApplicationAPI(g *echo.Group, jwt echo.MiddlewareFunc, deps ServerDeps) {
	api := applicationApi{
		svc:      deps.ApplicationSvc,
		validate: deps.Validate,
	}

	ag := g.Group("/applications", jwt)

	// applicant endpoints
	ag.POST("", api.submit)
	ag.GET("/state", api.instanceState)
	ag.POST("/drafts", api.createDraft)
	ag.PUT("/drafts/:id", api.updateDraft)
	ag.DELETE("/drafts/:id", api.deleteDraft)
	ag.GET("/mine", api.queryOwn)
	ag.GET("/mine/:id", api.retrieveOwn)

	// review endpoints
	ag.GET("", api.query, staffMiddleware())
	ag.GET("/:id", api.retrieve, staffMiddleware())
	ag.PUT("/:id/status", api.updateStatus, staffMiddleware())
}

// Handlers

// submit runs the submission pipeline and maps its terminal result onto the
// wire. The service never errors out; failures arrive as SubmitResult.Err.
func (api *applicationApi) submit(ctx echo.Context) error {
	var data SubmitRequest
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to SubmitRequest")
	}

	res := api.svc.Submit(ctx.Request().Context(), getContextIdentity(ctx), data.Application, data.InstanceKey, data.DraftID)
	if res.Success {
		return ctx.JSON(http.StatusCreated, res)
	}

	switch cause := errors.Cause(res.Err); cause {
	case application.ErrNotAuthenticated:
		return errUnauthorized
	case application.ErrSubmissionInFlight, application.ErrDuplicateSubmission:
		return echo.NewHTTPError(http.StatusConflict, res.Message)
	case application.ErrDraftNotFound:
		return echo.NewHTTPError(http.StatusNotFound, res.Message)
	case application.ErrRemoteUnavailable:
		return echo.NewHTTPError(http.StatusBadGateway, res.Message)
	default:
		if _, ok := cause.(*core.ValidationError); ok {
			return cause
		}
		return res.Err
	}
}

func (api *applicationApi) instanceState(ctx echo.Context) error {
	state := api.svc.InstanceState(getContextIdentity(ctx), ctx.QueryParam("instance_key"))
	return ctx.JSON(http.StatusOK, InstanceStateResponse{State: state})
}

func (api *applicationApi) createDraft(ctx echo.Context) error {
	var data application.Application
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to Application")
	}

	sub, err := api.svc.SaveDraft(ctx.Request().Context(), getContextIdentity(ctx), data, "")
	if err != nil {
		if errors.Cause(err) == application.ErrNotAuthenticated {
			return errUnauthorized
		}
		return errors.Wrap(err, "creating draft")
	}
	return ctx.JSON(http.StatusCreated, sub)
}

func (api *applicationApi) updateDraft(ctx echo.Context) error {
	var data application.Application
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to Application")
	}

	sub, err := api.svc.SaveDraft(ctx.Request().Context(), getContextIdentity(ctx), data, ctx.Param("id"))
	if err != nil {
		switch errors.Cause(err) {
		case application.ErrNotAuthenticated:
			return errUnauthorized
		case application.ErrDraftNotFound:
			return errDraftNotFound
		}
		return errors.Wrap(err, "updating draft")
	}
	return ctx.JSON(http.StatusOK, sub)
}

func (api *applicationApi) deleteDraft(ctx echo.Context) error {
	if err := api.svc.DeleteDraft(ctx.Request().Context(), getContextIdentity(ctx), ctx.Param("id")); err != nil {
		switch errors.Cause(err) {
		case application.ErrNotAuthenticated:
			return errUnauthorized
		case application.ErrDraftNotFound:
			return errDraftNotFound
		}
		return errors.Wrap(err, "deleting draft")
	}
	return ctx.NoContent(http.StatusNoContent)
}

func (api *applicationApi) queryOwn(ctx echo.Context) error {
	subs, err := api.svc.QueryOwn(ctx.Request().Context(), getContextIdentity(ctx), ctx.QueryParam("status"))
	if err != nil {
		if errors.Cause(err) == application.ErrNotAuthenticated {
			return errUnauthorized
		}
		return errors.Wrap(err, "querying own applications")
	}
	if subs == nil {
		subs = []application.Submission{}
	}
	return ctx.JSON(http.StatusOK, subs)
}

func (api *applicationApi) retrieveOwn(ctx echo.Context) error {
	sub, err := api.svc.GetOwn(ctx.Request().Context(), getContextIdentity(ctx), ctx.Param("id"))
	if err != nil {
		switch errors.Cause(err) {
		case application.ErrNotAuthenticated:
			return errUnauthorized
		case application.ErrNotFound:
			return errHttpNotFound
		}
		return errors.Wrap(err, "finding own application by ID")
	}
	return ctx.JSON(http.StatusOK, sub)
}

func (api *applicationApi) query(ctx echo.Context) error {
	filter := new(application.QueryFilter)
	if err := ctx.Bind(filter); err != nil {
		return ctx.JSON(http.StatusOK, []application.Submission{})
	}
	filter.Clean()
	ordering := new(Ordering)
	ordering.Bind(ctx)

	subs, err := api.svc.Query(ctx.Request().Context(), filter, ordering.Orderings...)
	if err != nil {
		return errors.Wrap(err, "querying applications")
	}
	if subs == nil {
		subs = []application.Submission{}
	}
	return ctx.JSON(http.StatusOK, subs)
}

func (api *applicationApi) retrieve(ctx echo.Context) error {
	sub, err := api.svc.Get(ctx.Request().Context(), ctx.Param("id"))
	if err != nil {
		if errors.Cause(err) == application.ErrNotFound {
			return errHttpNotFound
		}
		return errors.Wrap(err, "finding application by ID")
	}
	return ctx.JSON(http.StatusOK, sub)
}

func (api *applicationApi) updateStatus(ctx echo.Context) error {
	var data UpdateStatusRequest
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to UpdateStatusRequest")
	}
	if err := data.Validate(api.validate); err != nil {
		return err
	}

	sub, err := api.svc.UpdateStatus(ctx.Request().Context(), ctx.Param("id"), data.Status)
	if err != nil {
		switch cause := errors.Cause(err); cause {
		case application.ErrNotFound:
			return errHttpNotFound
		case application.ErrDuplicateSubmission:
			return echo.NewHTTPError(http.StatusConflict, cause.Error())
		default:
			if _, ok := cause.(*core.ValidationError); ok {
				return cause
			}
			return errors.Wrap(err, "updating application status")
		}
	}
	return ctx.JSON(http.StatusOK, sub)
}

type (
	// SubmitRequest is a full Application plus submission controls.
	// InstanceKey identifies the client form instance so retries from the
	// same form share one state machine; DraftID finalizes that draft in
	// place instead of creating a new submission.
	SubmitRequest struct {
		application.Application
		InstanceKey string `json:"instanceKey,omitempty"`
		DraftID     string `json:"draftId,omitempty"`
	}

	InstanceStateResponse struct {
		State application.State `json:"state"`
	}

	UpdateStatusRequest struct {
		Status string `json:"status" validate:"required"`
	}
)

func (ur *UpdateStatusRequest) Validate(validate *validator.Validate) error {
	ur.Status = core.CleanString(ur.Status, true /* lower */)
	return validate.Struct(ur)
}
