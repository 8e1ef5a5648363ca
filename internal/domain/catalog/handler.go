package catalog

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/pharmadb/pharmadb/internal/platform/auth"
	"github.com/pharmadb/pharmadb/internal/platform/modelmap"
	"github.com/pharmadb/pharmadb/pkg/pagination"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	readGroup := api.Group("", auth.RequireRole(auth.Readers...))
	readGroup.POST("/dynamic-select", h.DynamicSelect)
	readGroup.POST("/dynamic-aggregate", h.DynamicAggregate)
	readGroup.GET("/model-map", h.GetModelMap)
	readGroup.GET("/entities/:type", h.ListEntities)
	readGroup.GET("/entities/:type/:uid", h.GetEntity)
	readGroup.GET("/entities/:type/:uid/children/:childType", h.ListChildren)
	readGroup.GET("/aggregates/:type/:parentUid", h.ListAggregate)

	writeGroup := api.Group("", auth.RequireRole(auth.Writers...))
	writeGroup.POST("/entities/:type", h.CreateEntity)
	writeGroup.PUT("/entities/:type/:uid", h.UpdateEntity)
	writeGroup.DELETE("/entities/:type/:uid", h.DeleteEntity)
	writeGroup.POST("/entities/:type/:uid/children/:childType", h.CreateChild)
	writeGroup.PUT("/aggregates/:type/:parentUid", h.ReplaceAggregate)
	writeGroup.POST("/aggregates/:type/:parentUid", h.AddAggregateRow)
	writeGroup.PUT("/aggregates/:type/:parentUid/:uid", h.UpdateAggregateRow)
	writeGroup.DELETE("/aggregates/:type/:parentUid/:uid", h.RemoveAggregateRow)
}

// httpError maps service errors onto status codes.
func httpError(err error) error {
	switch {
	case errors.Is(err, ErrNotFound):
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	case errors.Is(err, modelmap.ErrUnknownType),
		errors.Is(err, modelmap.ErrUnknownProperty),
		errors.Is(err, ErrValidation),
		errors.Is(err, ErrNotEditable):
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	default:
		return echo.NewHTTPError(http.StatusInternalServerError, "internal error").SetInternal(err)
	}
}

type selectRequest struct {
	EntityType string `json:"entity_type"`
	UID        string `json:"uid"`
}

func (h *Handler) DynamicSelect(c echo.Context) error {
	var req selectRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	ent, err := h.svc.SelectEntity(c.Request().Context(), req.EntityType, req.UID)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, ent)
}

type aggregateRequest struct {
	AggregateType string `json:"aggregate_type"`
	ParentUID     string `json:"parent_uid"`
}

func (h *Handler) DynamicAggregate(c echo.Context) error {
	var req aggregateRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	agg, err := h.svc.SelectAggregate(c.Request().Context(), req.AggregateType, req.ParentUID)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, agg)
}

type modelMapResponse struct {
	Entities   []modelmap.EntityMapping    `json:"entities"`
	Aggregates []modelmap.AggregateMapping `json:"aggregates"`
}

func (h *Handler) GetModelMap(c echo.Context) error {
	mm := h.svc.ModelMap()
	return c.JSON(http.StatusOK, modelMapResponse{
		Entities:   mm.Entities(),
		Aggregates: mm.Aggregates(),
	})
}

var reservedQueryParams = map[string]bool{"limit": true, "offset": true}

func (h *Handler) ListEntities(c echo.Context) error {
	pg := pagination.FromContext(c)
	filters := map[string]string{}
	for k, v := range c.QueryParams() {
		if reservedQueryParams[k] || len(v) == 0 || v[0] == "" {
			continue
		}
		filters[k] = v[0]
	}
	items, total, err := h.svc.ListEntities(c.Request().Context(), c.Param("type"), filters, pg.Limit, pg.Offset)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg.Limit, pg.Offset))
}

func (h *Handler) GetEntity(c echo.Context) error {
	ent, err := h.svc.SelectEntity(c.Request().Context(), c.Param("type"), c.Param("uid"))
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, ent)
}

// decodeBody reads the JSON body directly; echo's binder would also copy
// path parameters into map destinations.
func decodeBody(c echo.Context, v interface{}) error {
	if err := json.NewDecoder(c.Request().Body).Decode(v); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid JSON body: "+err.Error())
	}
	return nil
}

func bindValues(c echo.Context) (Values, error) {
	values := Values{}
	if err := decodeBody(c, &values); err != nil {
		return nil, err
	}
	return values, nil
}

func (h *Handler) CreateEntity(c echo.Context) error {
	values, err := bindValues(c)
	if err != nil {
		return err
	}
	ent, err := h.svc.CreateEntity(c.Request().Context(), c.Param("type"), values)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusCreated, ent)
}

func (h *Handler) UpdateEntity(c echo.Context) error {
	values, err := bindValues(c)
	if err != nil {
		return err
	}
	ent, err := h.svc.UpdateEntity(c.Request().Context(), c.Param("type"), c.Param("uid"), values)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, ent)
}

func (h *Handler) DeleteEntity(c echo.Context) error {
	if err := h.svc.DeleteEntity(c.Request().Context(), c.Param("type"), c.Param("uid")); err != nil {
		return httpError(err)
	}
	return c.NoContent(http.StatusNoContent)
}

func (h *Handler) ListChildren(c echo.Context) error {
	items, err := h.svc.ListChildren(c.Request().Context(), c.Param("type"), c.Param("uid"), c.Param("childType"))
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, items)
}

func (h *Handler) CreateChild(c echo.Context) error {
	values, err := bindValues(c)
	if err != nil {
		return err
	}
	ent, err := h.svc.CreateChild(c.Request().Context(), c.Param("type"), c.Param("uid"), c.Param("childType"), values)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusCreated, ent)
}

func (h *Handler) ListAggregate(c echo.Context) error {
	agg, err := h.svc.ListAggregate(c.Request().Context(), c.Param("type"), c.Param("parentUid"))
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, agg)
}

func (h *Handler) ReplaceAggregate(c echo.Context) error {
	var rows []Values
	if err := decodeBody(c, &rows); err != nil {
		return err
	}
	agg, err := h.svc.ReplaceAggregate(c.Request().Context(), c.Param("type"), c.Param("parentUid"), rows)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, agg)
}

func (h *Handler) AddAggregateRow(c echo.Context) error {
	values, err := bindValues(c)
	if err != nil {
		return err
	}
	row, err := h.svc.AddAggregateRow(c.Request().Context(), c.Param("type"), c.Param("parentUid"), values)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusCreated, row)
}

func (h *Handler) UpdateAggregateRow(c echo.Context) error {
	values, err := bindValues(c)
	if err != nil {
		return err
	}
	row, err := h.svc.UpdateAggregateRow(c.Request().Context(), c.Param("type"), c.Param("parentUid"), c.Param("uid"), values)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, row)
}

func (h *Handler) RemoveAggregateRow(c echo.Context) error {
	if err := h.svc.RemoveAggregateRow(c.Request().Context(), c.Param("type"), c.Param("parentUid"), c.Param("uid")); err != nil {
		return httpError(err)
	}
	return c.NoContent(http.StatusNoContent)
}
