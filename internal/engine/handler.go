package engine

import (
	"fmt"

	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"

	"rocket-guard/internal/authz"
	"rocket-guard/internal/entity"
	"rocket-guard/internal/metadata"
	"rocket-guard/internal/metrics"
	"rocket-guard/internal/pubsub"
	"rocket-guard/internal/store"
)

type Handler struct {
	store    *store.Store
	registry *metadata.Registry
	authz    *authz.Engine
	broker   *pubsub.Broker
	metrics  *metrics.Metrics
	log      zerolog.Logger
}

// HandlerOptions carries the optional collaborators of a Handler.
type HandlerOptions struct {
	Broker  *pubsub.Broker
	Metrics *metrics.Metrics
	Logger  zerolog.Logger
}

func NewHandler(s *store.Store, reg *metadata.Registry, az *authz.Engine, opts HandlerOptions) *Handler {
	return &Handler{
		store:    s,
		registry: reg,
		authz:    az,
		broker:   opts.Broker,
		metrics:  opts.Metrics,
		log:      opts.Logger,
	}
}

// List handles GET /api/:entity
func (h *Handler) List(c *fiber.Ctx) error {
	ent, ops, err := h.resolve(c)
	if err != nil {
		return err
	}
	req, err := ParseFindRequest(c, ent)
	if err != nil {
		return err
	}

	ctx := c.UserContext()
	rows, err := ops.Find(ctx, entity.FindArgs{Where: req.Where, Fields: req.Fields, Options: req.Options()})
	if err != nil {
		return err
	}
	total, err := ops.Count(ctx, entity.CountArgs{Where: req.Where})
	if err != nil {
		return err
	}

	if rows == nil {
		rows = []entity.Row{}
	}
	return c.JSON(fiber.Map{
		"data": rows,
		"meta": fiber.Map{
			"page":     req.Page,
			"per_page": req.PerPage,
			"total":    total,
		},
	})
}

// Count handles GET /api/:entity/count
func (h *Handler) Count(c *fiber.Ctx) error {
	ent, ops, err := h.resolve(c)
	if err != nil {
		return err
	}
	req, err := ParseFindRequest(c, ent)
	if err != nil {
		return err
	}
	n, err := ops.Count(c.UserContext(), entity.CountArgs{Where: req.Where})
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": fiber.Map{"count": n}})
}

// Save handles POST /api/:entity
func (h *Handler) Save(c *fiber.Ctx) error {
	ent, ops, err := h.resolve(c)
	if err != nil {
		return err
	}
	var body map[string]any
	if err := decodeJSON(c.Body(), &body); err != nil || body == nil {
		return InvalidPayloadError("Invalid JSON body")
	}
	fields := splitFields(c.Query("fields"))

	row, err := ops.Save(c.UserContext(), entity.SaveArgs{Input: body, Fields: fields})
	if err != nil {
		return err
	}
	h.publish(ent, "save", row)
	return c.JSON(fiber.Map{"data": row})
}

// Insert handles POST /api/:entity/bulk
func (h *Handler) Insert(c *fiber.Ctx) error {
	ent, ops, err := h.resolve(c)
	if err != nil {
		return err
	}
	var body []any
	if err := decodeJSON(c.Body(), &body); err != nil {
		return InvalidPayloadError("Expected a JSON array of records")
	}
	inputs := make([]entity.Row, 0, len(body))
	for i, item := range body {
		row, ok := item.(map[string]any)
		if !ok {
			return InvalidPayloadError(fmt.Sprintf("Record #%d is not an object", i))
		}
		inputs = append(inputs, row)
	}
	fields := splitFields(c.Query("fields"))

	rows, err := ops.Insert(c.UserContext(), entity.InsertArgs{Inputs: inputs, Fields: fields})
	if err != nil {
		return err
	}
	for _, row := range rows {
		h.publish(ent, "save", row)
	}
	return c.Status(201).JSON(fiber.Map{"data": rows})
}

// UpdateMany handles PATCH /api/:entity with body {"where": {...}, "data": {...}}
func (h *Handler) UpdateMany(c *fiber.Ctx) error {
	ent, ops, err := h.resolve(c)
	if err != nil {
		return err
	}
	var body map[string]any
	if err := decodeJSON(c.Body(), &body); err != nil {
		return InvalidPayloadError("Invalid JSON body")
	}
	data, ok := body["data"].(map[string]any)
	if !ok || len(data) == 0 {
		return InvalidPayloadError("data must be a non-empty object")
	}
	whereDoc, _ := body["where"].(map[string]any)
	where, err := entity.ParseWhere(whereDoc)
	if err != nil {
		return InvalidPayloadError("Invalid where: " + err.Error())
	}
	if where.IsEmpty() {
		return InvalidPayloadError("updateMany requires a where clause")
	}
	fields := splitFields(c.Query("fields"))

	rows, err := ops.UpdateMany(c.UserContext(), entity.UpdateManyArgs{Where: where, Input: data, Fields: fields})
	if err != nil {
		return err
	}
	for _, row := range rows {
		h.publish(ent, "save", row)
	}
	if rows == nil {
		rows = []entity.Row{}
	}
	return c.JSON(fiber.Map{"data": rows})
}

// Delete handles DELETE /api/:entity
func (h *Handler) Delete(c *fiber.Ctx) error {
	ent, ops, err := h.resolve(c)
	if err != nil {
		return err
	}
	req, err := ParseFindRequest(c, ent)
	if err != nil {
		return err
	}
	if req.Where.IsEmpty() {
		return InvalidPayloadError("delete requires a where clause")
	}

	rows, err := ops.Delete(c.UserContext(), entity.DeleteArgs{Where: req.Where, Fields: req.Fields})
	if err != nil {
		return err
	}
	for _, row := range rows {
		h.publish(ent, "delete", row)
	}
	if rows == nil {
		rows = []entity.Row{}
	}
	return c.JSON(fiber.Map{"data": rows})
}

// resolve looks up the entity and wraps its repository with the
// authorization hooks.
func (h *Handler) resolve(c *fiber.Ctx) (*metadata.Entity, entity.Operations, error) {
	name := c.Params("entity")
	ent := h.registry.GetEntity(name)
	if ent == nil {
		return nil, nil, UnknownEntityError(name)
	}
	ops, err := h.authz.Guard(ent.Name, store.NewRepository(h.store, ent))
	if err != nil {
		return nil, nil, err
	}
	return ent, ops, nil
}

func getUser(c *fiber.Ctx) *metadata.UserContext {
	if req := entity.RequestFrom(c.UserContext()); req != nil {
		return req.User
	}
	user, _ := c.Locals("user").(*metadata.UserContext)
	return user
}
