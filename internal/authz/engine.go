package authz

import (
	"errors"

	"github.com/rs/zerolog"

	"rocket-guard/internal/metadata"
)

// Decision outcomes reported to a DecisionRecorder.
const (
	OutcomeAllowed  = "allowed"
	OutcomeBypassed = "bypassed"
	OutcomeDenied   = "denied"
	OutcomeField    = "field_denied"
	OutcomeError    = "error"
)

// DecisionRecorder receives one call per intercepted operation.
type DecisionRecorder interface {
	RecordDecision(entity, operation, outcome string)
}

// Config is the construction surface of the engine.
type Config struct {
	RoleKey       string
	RolePath      string
	AnonymousRole string
	AdminRole     string
	MergeStrategy MergeStrategy

	Logger   *zerolog.Logger
	Recorder DecisionRecorder
}

// Engine is the authorization engine. It has a two-phase lifecycle:
// RegisterRules validates and freezes the rule store at startup, after which
// the hooks only read it.
type Engine struct {
	registry *metadata.Registry
	roles    RoleExtractor
	merge    mergeFunc
	rules    *ruleStore
	log      zerolog.Logger
	recorder DecisionRecorder
}

// New creates an engine over the entity metadata in reg.
func New(cfg Config, reg *metadata.Registry) (*Engine, error) {
	merge, err := mergeFor(cfg.MergeStrategy)
	if err != nil {
		return nil, err
	}
	logger := zerolog.Nop()
	if cfg.Logger != nil {
		logger = cfg.Logger.With().Str("component", "authz").Logger()
	}
	return &Engine{
		registry: reg,
		roles: RoleExtractor{
			RoleKey:       cfg.RoleKey,
			RolePath:      cfg.RolePath,
			AnonymousRole: cfg.AnonymousRole,
			AdminRole:     cfg.AdminRole,
		},
		merge:    merge,
		rules:    newRuleStore(),
		log:      logger,
		recorder: cfg.Recorder,
	}, nil
}

// RegisterRules validates rules against the entity metadata and freezes the
// rule store. Any configuration problem is returned and nothing is
// installed. A second call fails with ErrRulesFrozen.
func (e *Engine) RegisterRules(rules []Rule) error {
	if e.rules.isFrozen() {
		return ErrRulesFrozen
	}
	if err := e.validate(rules); err != nil {
		return err
	}

	adminRole := e.roles.adminRole()
	byEntity := make(map[string][]*Rule)
	admins := make(map[string]*Rule)
	for i := range rules {
		r := rules[i]
		if r.Role == adminRole {
			admins[r.Entity] = &r
			continue
		}
		byEntity[r.Entity] = append(byEntity[r.Entity], &r)
	}

	scopes, err := e.topicScopes(byEntity)
	if err != nil {
		return err
	}

	for _, ent := range e.registry.AllEntities() {
		admin, ok := admins[ent.Name]
		if !ok {
			admin = &Rule{
				Role:   adminRole,
				Entity: ent.Name,
				Find:   Allow(),
				Save:   Allow(),
				Delete: Allow(),
			}
		}
		byEntity[ent.Name] = append(byEntity[ent.Name], admin)
	}

	if err := e.rules.freeze(byEntity, scopes); err != nil {
		return err
	}
	e.log.Info().Int("rules", len(rules)).Int("scoped_entities", len(scopes)).Msg("Access rules registered")
	return nil
}

// CheckRules decodes docs and validates them against reg on a throwaway
// engine, without touching any running one.
func CheckRules(cfg Config, reg *metadata.Registry, docs []map[string]any) error {
	rules, err := DecodeRules(docs)
	if err != nil {
		return err
	}
	e, err := New(cfg, reg)
	if err != nil {
		return err
	}
	return e.RegisterRules(rules)
}

// Roles extracts the RoleSet of user with the configured extractor.
func (e *Engine) Roles(user *metadata.UserContext) RoleSet {
	return e.roles.Extract(user)
}

func (e *Engine) recordBypass(entityName string, op Operation) {
	if e.recorder != nil {
		e.recorder.RecordDecision(entityName, string(op), OutcomeBypassed)
	}
}

func (e *Engine) record(entityName string, op Operation, err error) {
	if e.recorder == nil {
		return
	}
	outcome := OutcomeAllowed
	switch {
	case err == nil:
	case errors.Is(err, ErrFieldUnauthorized):
		outcome = OutcomeField
	case errors.Is(err, ErrUnauthorized):
		outcome = OutcomeDenied
	default:
		outcome = OutcomeError
	}
	e.recorder.RecordDecision(entityName, string(op), outcome)
}
