package authz

import "sync"

// ruleStore holds the validated rules per entity. It is written once by
// RegisterRules and only read afterwards.
type ruleStore struct {
	mu       sync.RWMutex
	frozen   bool
	byEntity map[string][]*Rule
	scopes   map[string]string // entity → field that partitions topics
}

func newRuleStore() *ruleStore {
	return &ruleStore{
		byEntity: make(map[string][]*Rule),
		scopes:   make(map[string]string),
	}
}

// rulesFor returns the rules of an entity in registration order, admin last.
func (s *ruleStore) rulesFor(entityName string) []*Rule {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.byEntity[entityName]
}

func (s *ruleStore) scopeFor(entityName string) (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	field, ok := s.scopes[entityName]
	return field, ok
}

func (s *ruleStore) isFrozen() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.frozen
}

// freeze installs the validated tables. It fails if called twice.
func (s *ruleStore) freeze(byEntity map[string][]*Rule, scopes map[string]string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.frozen {
		return ErrRulesFrozen
	}
	s.byEntity = byEntity
	s.scopes = scopes
	s.frozen = true
	return nil
}
