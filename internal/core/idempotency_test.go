package core_test

import (
	"errors"
	"testing"

	"ForgeLedger/internal/core"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
)

type fakeLog struct {
	seen map[string]bool
	err  error
}

func (f *fakeLog) IsDuplicate(kind, key string) (bool, error) {
	if f.err != nil {
		return false, f.err
	}
	return f.seen[kind+"/"+key], nil
}

func TestIdempotencyLRU_Evicts(t *testing.T) {
	lru := core.NewIdempotencyLRU(2)
	assert.False(t, lru.Add("a"))
	assert.False(t, lru.Add("b"))
	assert.True(t, lru.Contains("a"))

	assert.True(t, lru.Add("c"), "b is the least recently used")
	assert.False(t, lru.Contains("b"))
	assert.Equal(t, []string{"a", "c"}, lru.Keys())
}

func TestIdempotencyChecker_Tiers(t *testing.T) {
	db := &fakeLog{seen: map[string]bool{"create_instrument/k1": true}}
	ic := core.NewIdempotencyChecker(16, db, nil, zerolog.Nop())

	assert.True(t, ic.IsDuplicate("create_instrument", "k1"))
	assert.False(t, ic.IsDuplicate("create_instrument", "k2"))

	ic.MarkProcessed("create_instrument", "k2")
	assert.True(t, ic.IsDuplicate("create_instrument", "k2"))
	assert.False(t, ic.IsDuplicate("upgrade_factory", "k2"), "keys are scoped by command kind")

	db.err = errors.New("connection refused")
	assert.False(t, ic.IsDuplicate("create_instrument", "k3"))
	assert.True(t, ic.IsDuplicate("create_instrument", "k1"), "tier 2 hits are cached in the LRU")
}
