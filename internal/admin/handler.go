package admin

import (
	"encoding/json"
	"fmt"

	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"

	"rocket-guard/internal/authz"
	"rocket-guard/internal/engine"
	"rocket-guard/internal/metadata"
	"rocket-guard/internal/store"
)

// Handler manages the persisted entity definitions and access rules. The
// running engine's rules are frozen, so changes apply on the next start.
type Handler struct {
	store    *store.Store
	migrator *store.Migrator
	authz    authz.Config
	log      zerolog.Logger
}

func NewHandler(s *store.Store, mig *store.Migrator, cfg authz.Config, logger zerolog.Logger) *Handler {
	return &Handler{store: s, migrator: mig, authz: cfg, log: logger}
}

// RegisterAdminRoutes mounts the admin API under /api/_admin behind the
// given middleware.
func RegisterAdminRoutes(app *fiber.App, h *Handler, middleware ...fiber.Handler) {
	admin := app.Group("/api/_admin", middleware...)

	admin.Get("/entities", h.ListEntities)
	admin.Get("/entities/:name", h.GetEntity)
	admin.Put("/entities/:name", h.PutEntity)

	admin.Get("/rules", h.ListRules)
	admin.Post("/rules", h.AddRule)
}

// --- Entity Endpoints ---

func (h *Handler) ListEntities(c *fiber.Ctx) error {
	reg, err := h.persistedRegistry(c)
	if err != nil {
		return err
	}
	entities := reg.AllEntities()
	if entities == nil {
		entities = []*metadata.Entity{}
	}
	return c.JSON(fiber.Map{"data": entities})
}

func (h *Handler) GetEntity(c *fiber.Ctx) error {
	reg, err := h.persistedRegistry(c)
	if err != nil {
		return err
	}
	name := c.Params("name")
	ent := reg.GetEntity(name)
	if ent == nil {
		return engine.NewAppError("NOT_FOUND", 404, "Entity not found: "+name)
	}
	return c.JSON(fiber.Map{"data": ent})
}

// PutEntity creates or replaces an entity definition and migrates its table.
// The change is refused when the persisted rules would no longer register.
func (h *Handler) PutEntity(c *fiber.Ctx) error {
	var ent metadata.Entity
	if err := json.Unmarshal(c.Body(), &ent); err != nil {
		return engine.InvalidPayloadError("Invalid JSON body")
	}
	ent.Name = c.Params("name")
	if ent.Table == "" {
		ent.Table = ent.Name
	}
	if err := validateEntity(&ent); err != nil {
		return validationFailed(err)
	}

	ctx := c.UserContext()
	reg, err := h.persistedRegistry(c)
	if err != nil {
		return err
	}
	reg.Load(replaceEntity(reg.AllEntities(), &ent))

	docs, err := metadata.LoadRuleDocuments(ctx, h.store.DB)
	if err != nil {
		return fmt.Errorf("load access rules: %w", err)
	}
	if err := authz.CheckRules(h.authz, reg, docs); err != nil {
		return validationFailed(err)
	}

	if err := h.store.PutEntity(ctx, &ent); err != nil {
		return err
	}
	if err := h.migrator.Migrate(ctx, &ent); err != nil {
		return fmt.Errorf("migrate entity %s: %w", ent.Name, err)
	}
	h.log.Info().Str("entity", ent.Name).Msg("Entity definition stored")

	return c.JSON(fiber.Map{"data": ent, "meta": fiber.Map{"restart_required": true}})
}

// --- Access Rule Endpoints ---

func (h *Handler) ListRules(c *fiber.Ctx) error {
	docs, err := metadata.LoadRuleDocuments(c.UserContext(), h.store.DB)
	if err != nil {
		return fmt.Errorf("load access rules: %w", err)
	}
	if docs == nil {
		docs = []map[string]any{}
	}
	return c.JSON(fiber.Map{"data": docs})
}

// AddRule appends a rule document after the persisted ones, provided the
// whole set still registers against the persisted entities.
func (h *Handler) AddRule(c *fiber.Ctx) error {
	var doc map[string]any
	if err := json.Unmarshal(c.Body(), &doc); err != nil || doc == nil {
		return engine.InvalidPayloadError("Invalid JSON body")
	}

	ctx := c.UserContext()
	reg, err := h.persistedRegistry(c)
	if err != nil {
		return err
	}
	docs, err := metadata.LoadRuleDocuments(ctx, h.store.DB)
	if err != nil {
		return fmt.Errorf("load access rules: %w", err)
	}
	if err := authz.CheckRules(h.authz, reg, append(docs, doc)); err != nil {
		return validationFailed(err)
	}

	id, err := h.store.AddAccessRule(ctx, len(docs), doc)
	if err != nil {
		return err
	}
	h.log.Info().Str("id", id).Int("position", len(docs)).Msg("Access rule stored")

	return c.Status(201).JSON(fiber.Map{
		"data": fiber.Map{"id": id, "position": len(docs), "rule": doc},
		"meta": fiber.Map{"restart_required": true},
	})
}

// persistedRegistry loads the entity definitions currently stored, which may
// differ from the ones the server started with.
func (h *Handler) persistedRegistry(c *fiber.Ctx) (*metadata.Registry, error) {
	reg := metadata.NewRegistry()
	if err := metadata.LoadAll(c.UserContext(), h.store.DB, reg); err != nil {
		return nil, err
	}
	return reg, nil
}

func replaceEntity(entities []*metadata.Entity, ent *metadata.Entity) []*metadata.Entity {
	out := make([]*metadata.Entity, 0, len(entities)+1)
	for _, e := range entities {
		if e.Name != ent.Name {
			out = append(out, e)
		}
	}
	return append(out, ent)
}

// --- Validation ---

func validationFailed(err error) error {
	return engine.NewAppError("VALIDATION_FAILED", 422, err.Error())
}

func validateEntity(e *metadata.Entity) error {
	if e.Name == "" {
		return fmt.Errorf("entity name is required")
	}
	if len(e.Fields) == 0 {
		return fmt.Errorf("entity must have at least one field")
	}
	if e.PrimaryKey.Field == "" {
		return fmt.Errorf("primary key field is required")
	}
	if !e.HasField(e.PrimaryKey.Field) {
		return fmt.Errorf("primary key field %s not found in fields", e.PrimaryKey.Field)
	}
	seen := make(map[string]bool, len(e.Fields))
	for _, f := range e.Fields {
		if f.Name == "" {
			return fmt.Errorf("field name is required")
		}
		if seen[f.Name] {
			return fmt.Errorf("duplicate field %s", f.Name)
		}
		seen[f.Name] = true
		if f.Auto != "" && !f.IsAuto() {
			return fmt.Errorf("field %s: auto must be create or update", f.Name)
		}
	}
	return nil
}
