package authz

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"rocket-guard/internal/entity"
	"rocket-guard/internal/metadata"
)

// TopicWildcard matches any single topic segment.
const TopicWildcard = "+"

var segmentEscaper = strings.NewReplacer("%", "%25", "/", "%2F", TopicWildcard, "%2B")

// TopicSegment renders v as one topic segment. Separators and the wildcard
// are percent-escaped so a value can never widen or split a topic.
func TopicSegment(v any) string {
	return segmentEscaper.Replace(fmt.Sprintf("%v", v))
}

// topicScopes finds, per entity, the single field that partitions row
// visibility. An entity is scoped when any role's find clause has checks;
// then every other role able to find must be scoped by the same single field.
func (e *Engine) topicScopes(byEntity map[string][]*Rule) (map[string]string, error) {
	names := make([]string, 0, len(byEntity))
	for name := range byEntity {
		names = append(names, name)
	}
	sort.Strings(names)

	scopes := make(map[string]string)
	for _, name := range names {
		rules := byEntity[name]
		scoped := false
		for _, r := range rules {
			if r.Find.Kind == Checked && len(r.Find.Checks) > 0 {
				scoped = true
				break
			}
		}
		if !scoped {
			continue
		}

		field := ""
		for _, r := range rules {
			c := r.Find
			if c.Kind == Forbidden {
				continue
			}
			if c.Kind != Checked || len(c.Checks) != 1 {
				return nil, &ConfigError{
					Entity:  name,
					Message: fmt.Sprintf("ambiguous topic scoping: role %s must scope find by exactly one check like the other roles", r.Role),
				}
			}
			for f, chk := range c.Checks {
				if chk.Comparator != entity.OpEq {
					return nil, &ConfigError{
						Entity:  name,
						Message: fmt.Sprintf("topic scoping: role %s scopes find by %s %s, topics need eq", r.Role, f, chk.Comparator),
					}
				}
				if field != "" && f != field {
					return nil, &ConfigError{
						Entity:  name,
						Message: fmt.Sprintf("ambiguous topic scoping: role %s scopes by %s, another role by %s", r.Role, f, field),
					}
				}
				field = f
			}
		}
		scopes[name] = field
	}
	return scopes, nil
}

// PublishTopic returns the topic an event about row is published on:
// /<field>/<row[field]><base> for scoped entities, base otherwise.
func (e *Engine) PublishTopic(entityName, base string, row entity.Row) string {
	field, ok := e.rules.scopeFor(entityName)
	if !ok {
		return base
	}
	v, ok := row[field]
	if !ok || v == nil {
		return fmt.Sprintf("/%s/null%s", field, base)
	}
	return fmt.Sprintf("/%s/%s%s", field, TopicSegment(v), base)
}

// SubscriptionTopic returns the topic user may subscribe to for base. The
// caller must be allowed to find rows of the entity. An unrestricted caller
// or an absent claim yields the wildcard segment.
func (e *Engine) SubscriptionTopic(entityName, base string, user *metadata.UserContext) (string, error) {
	res, err := e.Resolve(e.Roles(user), entityName, OpFind)
	if err != nil {
		return "", err
	}
	field, ok := e.rules.scopeFor(entityName)
	if !ok {
		return base, nil
	}
	value := TopicWildcard
	if chk, ok := res.Clause.Checks[field]; ok && res.Clause.Kind == Checked {
		if v, found := user.Claim(chk.Claim); found && v != nil {
			value = TopicSegment(v)
		}
	}
	return fmt.Sprintf("/%s/%s%s", field, value, base), nil
}

// SubscriptionFilter returns the predicate a change event row must satisfy
// to reach user. The second result is false when the find clause does not
// restrict rows. Topic scoping cannot express custom find predicates, so
// subscribers apply this to every event.
func (e *Engine) SubscriptionFilter(ctx context.Context, entityName string, user *metadata.UserContext) (entity.Where, bool, error) {
	res, err := e.Resolve(e.Roles(user), entityName, OpFind)
	if err != nil {
		return entity.Where{}, false, err
	}
	if !res.Clause.restrictsRows() {
		return entity.Where{}, false, nil
	}
	where, err := BuildPredicate(ctx, res.Clause, entity.Where{}, user)
	if err != nil {
		return entity.Where{}, false, err
	}
	return where, true, nil
}
