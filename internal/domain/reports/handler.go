package reports

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	"github.com/pharmadb/pharmadb/internal/platform/auth"
	"github.com/pharmadb/pharmadb/pkg/pagination"
	"github.com/pharmadb/pharmadb/pkg/reportdef"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	readGroup := api.Group("/reports", auth.RequireRole(auth.Readers...))
	readGroup.POST("/distinct-data", h.DistinctData)
	readGroup.POST("/column-values", h.ColumnValues)
	readGroup.GET("", h.ListReports)
	readGroup.GET("/:uid", h.GetReport)
	readGroup.GET("/:uid/data", h.ReportData)

	writeGroup := api.Group("/reports", auth.RequireRole(auth.Writers...))
	writeGroup.POST("", h.CreateReport)
	writeGroup.PUT("/:uid", h.UpdateReport)
	writeGroup.DELETE("/:uid", h.DeleteReport)
}

func httpError(err error) error {
	switch {
	case errors.Is(err, ErrNotFound):
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	case errors.Is(err, ErrInvalidRequest):
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	default:
		return echo.NewHTTPError(http.StatusInternalServerError, "internal error").SetInternal(err)
	}
}

func decodeBody(c echo.Context, v interface{}) error {
	if err := json.NewDecoder(c.Request().Body).Decode(v); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid JSON body: "+err.Error())
	}
	return nil
}

func (h *Handler) DistinctData(c echo.Context) error {
	var req reportdef.DistinctDataRequest
	if err := decodeBody(c, &req); err != nil {
		return err
	}
	resp, err := h.svc.DistinctData(c.Request().Context(), req)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, resp)
}

func (h *Handler) ColumnValues(c echo.Context) error {
	var req reportdef.ColumnValuesRequest
	if err := decodeBody(c, &req); err != nil {
		return err
	}
	resp, err := h.svc.ColumnValues(c.Request().Context(), req)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, resp)
}

func (h *Handler) ListReports(c echo.Context) error {
	pg := pagination.FromContext(c)
	items, total, err := h.svc.ListReports(c.Request().Context(), pg.Limit, pg.Offset)
	if err != nil {
		return httpError(err)
	}
	if items == nil {
		items = []*Report{}
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg.Limit, pg.Offset))
}

func (h *Handler) GetReport(c echo.Context) error {
	r, err := h.svc.GetReport(c.Request().Context(), c.Param("uid"))
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, r)
}

func (h *Handler) CreateReport(c echo.Context) error {
	var r Report
	if err := decodeBody(c, &r); err != nil {
		return err
	}
	r.CreatedBy = nil
	if uid := auth.UserIDFromContext(c.Request().Context()); uid != "" {
		r.CreatedBy = &uid
	}
	if err := h.svc.CreateReport(c.Request().Context(), &r); err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusCreated, r)
}

func (h *Handler) UpdateReport(c echo.Context) error {
	var r Report
	if err := decodeBody(c, &r); err != nil {
		return err
	}
	r.UID = c.Param("uid")
	if err := h.svc.UpdateReport(c.Request().Context(), &r); err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, r)
}

func (h *Handler) DeleteReport(c echo.Context) error {
	if err := h.svc.DeleteReport(c.Request().Context(), c.Param("uid")); err != nil {
		return httpError(err)
	}
	return c.NoContent(http.StatusNoContent)
}

// ReportData runs a saved report. offset and limit come from the query
// string; limit falls back to the report's page size.
func (h *Handler) ReportData(c echo.Context) error {
	offset, _ := strconv.Atoi(c.QueryParam("offset"))
	limit, _ := strconv.Atoi(c.QueryParam("limit"))
	resp, err := h.svc.ReportData(c.Request().Context(), c.Param("uid"), offset, limit)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, resp)
}
