package consultation

import (
	"context"
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/shopspring/decimal"

	"github.com/clinic/clinic/internal/platform/apperr"
	"github.com/clinic/clinic/pkg/pagination"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	api.POST("/consultations", h.CreateConsultation)
	api.GET("/consultations", h.ListConsultations)
	api.GET("/consultations/:id", h.GetConsultation)

	api.POST("/consultations/:id/start", h.StartConsultation)
	api.POST("/consultations/:id/billing", h.SendToBilling)
	api.POST("/consultations/:id/resume", h.ReturnToPhysician)
	api.POST("/consultations/:id/finalize", h.FinalizeConsultation)
	api.POST("/consultations/:id/cancel", h.CancelConsultation)
	api.PUT("/consultations/:id/fee", h.SetFee)

	api.POST("/consultations/:id/line-items", h.AddLineItem)
	api.DELETE("/consultations/:id/line-items/:lineId", h.RemoveLineItem)
	api.POST("/consultations/:id/extra-charges", h.AddExtraCharge)
	api.DELETE("/consultations/:id/extra-charges/:chargeId", h.RemoveExtraCharge)
}

func parseID(c echo.Context, name string) (uuid.UUID, error) {
	id, err := uuid.Parse(c.Param(name))
	if err != nil {
		return uuid.Nil, echo.NewHTTPError(http.StatusBadRequest, "invalid "+name)
	}
	return id, nil
}

func (h *Handler) CreateConsultation(c echo.Context) error {
	var in CreateInput
	if err := c.Bind(&in); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	cons, err := h.svc.Create(c.Request().Context(), in)
	if err != nil {
		return apperr.ToHTTP(err)
	}
	return c.JSON(http.StatusCreated, cons)
}

func (h *Handler) GetConsultation(c echo.Context) error {
	id, err := parseID(c, "id")
	if err != nil {
		return err
	}
	cons, err := h.svc.Get(c.Request().Context(), id)
	if err != nil {
		return apperr.ToHTTP(err)
	}
	return c.JSON(http.StatusOK, cons)
}

func (h *Handler) ListConsultations(c echo.Context) error {
	pg := pagination.FromContext(c)
	f := ListFilter{Status: Status(c.QueryParam("status"))}
	if v := c.QueryParam("patient_id"); v != "" {
		id, err := uuid.Parse(v)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid patient_id")
		}
		f.PatientID = id
	}
	items, total, err := h.svc.List(c.Request().Context(), f, pg.Limit, pg.Offset)
	if err != nil {
		return apperr.ToHTTP(err)
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg).WithLinks(c.Request().URL))
}

func (h *Handler) StartConsultation(c echo.Context) error {
	return h.transition(c, h.svc.Start)
}

func (h *Handler) SendToBilling(c echo.Context) error {
	return h.transition(c, h.svc.SendToBilling)
}

func (h *Handler) ReturnToPhysician(c echo.Context) error {
	return h.transition(c, h.svc.ReturnToPhysician)
}

func (h *Handler) transition(c echo.Context, fn func(ctx context.Context, id uuid.UUID) (*Consultation, error)) error {
	id, err := parseID(c, "id")
	if err != nil {
		return err
	}
	cons, err := fn(c.Request().Context(), id)
	if err != nil {
		return apperr.ToHTTP(err)
	}
	return c.JSON(http.StatusOK, cons)
}

type finalizeRequest struct {
	Notes *string `json:"notes"`
}

func (h *Handler) FinalizeConsultation(c echo.Context) error {
	id, err := parseID(c, "id")
	if err != nil {
		return err
	}
	var req finalizeRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	cons, err := h.svc.Finalize(c.Request().Context(), id, req.Notes)
	if err != nil {
		return apperr.ToHTTP(err)
	}
	return c.JSON(http.StatusOK, cons)
}

func (h *Handler) CancelConsultation(c echo.Context) error {
	id, err := parseID(c, "id")
	if err != nil {
		return err
	}
	restored, cons, err := h.svc.Cancel(c.Request().Context(), id)
	if err != nil {
		return apperr.ToHTTP(err)
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"restored":     restored,
		"consultation": cons,
	})
}

type feeRequest struct {
	Fee *decimal.Decimal `json:"fee"`
}

func (h *Handler) SetFee(c echo.Context) error {
	id, err := parseID(c, "id")
	if err != nil {
		return err
	}
	var req feeRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	cons, err := h.svc.SetFee(c.Request().Context(), id, req.Fee)
	if err != nil {
		return apperr.ToHTTP(err)
	}
	return c.JSON(http.StatusOK, cons)
}

func (h *Handler) AddLineItem(c echo.Context) error {
	id, err := parseID(c, "id")
	if err != nil {
		return err
	}
	var in LineItemInput
	if err := c.Bind(&in); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	li, err := h.svc.AddLineItem(c.Request().Context(), id, in)
	if err != nil {
		return apperr.ToHTTP(err)
	}
	return c.JSON(http.StatusCreated, li)
}

func (h *Handler) RemoveLineItem(c echo.Context) error {
	id, err := parseID(c, "id")
	if err != nil {
		return err
	}
	lineID, err := parseID(c, "lineId")
	if err != nil {
		return err
	}
	cons, err := h.svc.RemoveLineItem(c.Request().Context(), id, lineID)
	if err != nil {
		return apperr.ToHTTP(err)
	}
	return c.JSON(http.StatusOK, cons)
}

func (h *Handler) AddExtraCharge(c echo.Context) error {
	id, err := parseID(c, "id")
	if err != nil {
		return err
	}
	var in ExtraChargeInput
	if err := c.Bind(&in); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	ec, err := h.svc.AddExtraCharge(c.Request().Context(), id, in)
	if err != nil {
		return apperr.ToHTTP(err)
	}
	return c.JSON(http.StatusCreated, ec)
}

func (h *Handler) RemoveExtraCharge(c echo.Context) error {
	id, err := parseID(c, "id")
	if err != nil {
		return err
	}
	chargeID, err := parseID(c, "chargeId")
	if err != nil {
		return err
	}
	cons, err := h.svc.RemoveExtraCharge(c.Request().Context(), id, chargeID)
	if err != nil {
		return apperr.ToHTTP(err)
	}
	return c.JSON(http.StatusOK, cons)
}
