package authz

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"rocket-guard/internal/entity"
	"rocket-guard/internal/metadata"
)

func mustWhere(t *testing.T, doc map[string]any) entity.Where {
	t.Helper()
	w, err := entity.ParseWhere(doc)
	require.NoError(t, err)
	return w
}

func TestTopicScoping(t *testing.T) {
	e := newTestEngine(t, FirstMatch,
		Rule{Role: "user", Entity: "note", Find: Checks(map[string]string{"userId": "UID"})},
		Rule{Role: "auditor", Entity: "note", Find: Checks(map[string]string{"userId": "AUDITED"})},
		Rule{Role: "guest", Entity: "note"},
		Rule{Role: "user", Entity: "page", Find: Allow()},
	)

	assert.Equal(t, "/userId/42/entity/note", e.PublishTopic("note", "/entity/note", entity.Row{"id": 1, "userId": 42}))
	assert.Equal(t, "/userId/null/entity/note", e.PublishTopic("note", "/entity/note", entity.Row{"id": 1}))
	assert.Equal(t, "/entity/page", e.PublishTopic("page", "/entity/page", entity.Row{"userId": 42}))

	topic, err := e.SubscriptionTopic("note", "/entity/note", &metadata.UserContext{
		Claims: map[string]any{"X-USER-ROLE": "user", "UID": 42},
	})
	require.NoError(t, err)
	assert.Equal(t, "/userId/42/entity/note", topic)

	topic, err = e.SubscriptionTopic("note", "/entity/note", &metadata.UserContext{
		Claims: map[string]any{"X-USER-ROLE": "user"},
	})
	require.NoError(t, err)
	assert.Equal(t, "/userId/+/entity/note", topic)

	topic, err = e.SubscriptionTopic("note", "/entity/note", &metadata.UserContext{ForceAdmin: true})
	require.NoError(t, err)
	assert.Equal(t, "/userId/+/entity/note", topic)

	_, err = e.SubscriptionTopic("note", "/entity/note", &metadata.UserContext{
		Claims: map[string]any{"X-USER-ROLE": "guest"},
	})
	assert.ErrorIs(t, err, ErrUnauthorized)

	topic, err = e.SubscriptionTopic("page", "/entity/page", &metadata.UserContext{
		Claims: map[string]any{"X-USER-ROLE": "user"},
	})
	require.NoError(t, err)
	assert.Equal(t, "/entity/page", topic)
}

func TestTopicScopingAmbiguous(t *testing.T) {
	err := registerErr(t,
		Rule{Role: "user", Entity: "note", Find: Checks(map[string]string{"userId": "UID"})},
		Rule{Role: "moderator", Entity: "note", Find: Allow()},
	)
	require.ErrorIs(t, err, ErrConfiguration)
	assert.Contains(t, err.Error(), "ambiguous topic scoping")

	err = registerErr(t,
		Rule{Role: "user", Entity: "note", Find: Checks(map[string]string{"userId": "UID"})},
		Rule{Role: "reader", Entity: "note", Find: Checks(map[string]string{"id": "NOTE"})},
	)
	require.ErrorIs(t, err, ErrConfiguration)
	assert.Contains(t, err.Error(), "scopes by")

	err = registerErr(t,
		Rule{Role: "user", Entity: "note", Find: Checks(map[string]string{"userId": "UID", "id": "NOTE"})},
	)
	require.ErrorIs(t, err, ErrConfiguration)
}

func TestTopicScopingIgnoresAdminRule(t *testing.T) {
	err := registerErr(t,
		Rule{Role: "user", Entity: "note", Find: Checks(map[string]string{"userId": "UID"})},
		Rule{Role: DefaultAdminRole, Entity: "note", Find: Allow()},
	)
	assert.NoError(t, err)
}

func TestTopicScopingNeedsEquality(t *testing.T) {
	err := registerErr(t, Rule{
		Role:   "user",
		Entity: "note",
		Find:   Clause{Kind: Checked, Checks: map[string]Check{"userId": {Comparator: entity.OpLte, Claim: "LEVEL"}}},
	})
	require.ErrorIs(t, err, ErrConfiguration)
	assert.Contains(t, err.Error(), "topics need eq")
}

func TestTopicSegmentsEscaped(t *testing.T) {
	e := newTestEngine(t, FirstMatch,
		Rule{Role: "user", Entity: "note", Find: Checks(map[string]string{"userId": "UID"})},
	)

	topic, err := e.SubscriptionTopic("note", "/entity/note", &metadata.UserContext{
		Claims: map[string]any{"X-USER-ROLE": "user", "UID": "+"},
	})
	require.NoError(t, err)
	assert.Equal(t, "/userId/%2B/entity/note", topic)

	topic, err = e.SubscriptionTopic("note", "/entity/note", &metadata.UserContext{
		Claims: map[string]any{"X-USER-ROLE": "user", "UID": "a/b"},
	})
	require.NoError(t, err)
	assert.Equal(t, "/userId/a%2Fb/entity/note", topic)

	assert.Equal(t, "/userId/50%25%2B/entity/note", e.PublishTopic("note", "/entity/note", entity.Row{"userId": "50%+"}))
	assert.Equal(t, "42", TopicSegment(42))
}

func TestSubscriptionFilterFollowsFindClause(t *testing.T) {
	rules, err := DecodeRules([]map[string]any{
		{"role": "user", "entity": "note", "find": map[string]any{"expr": `{"userId": {"eq": user.UID}}`}},
		{"role": "reader", "entity": "note", "find": true},
	})
	require.NoError(t, err)
	e, err := New(Config{}, testRegistry())
	require.NoError(t, err)
	require.NoError(t, e.RegisterRules(rules))
	ctx := context.Background()

	owner := &metadata.UserContext{Claims: map[string]any{"X-USER-ROLE": "user", "UID": int64(7)}}
	topic, err := e.SubscriptionTopic("note", "/entity/note/+/+", owner)
	require.NoError(t, err)
	assert.Equal(t, "/entity/note/+/+", topic, "a custom clause leaves the entity unscoped")

	filter, filtered, err := e.SubscriptionFilter(ctx, "note", owner)
	require.NoError(t, err)
	require.True(t, filtered)
	assert.True(t, filter.Matches(entity.Row{"id": float64(1), "userId": float64(7)}))
	assert.False(t, filter.Matches(entity.Row{"id": float64(2), "userId": float64(99)}))

	_, filtered, err = e.SubscriptionFilter(ctx, "note", &metadata.UserContext{Claims: map[string]any{"X-USER-ROLE": "reader"}})
	require.NoError(t, err)
	assert.False(t, filtered)

	_, _, err = e.SubscriptionFilter(ctx, "note", &metadata.UserContext{Claims: map[string]any{"X-USER-ROLE": "guest"}})
	assert.ErrorIs(t, err, ErrUnauthorized)
}
