// Package testutil holds shared test fixtures.
package testutil

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/Teskh/production-sub000/internal/catalog"
	"github.com/Teskh/production-sub000/internal/config"
	"github.com/Teskh/production-sub000/internal/database"
)

// NewDB opens a migrated in-memory SQLite database closed at test end.
func NewDB(t testing.TB) *gorm.DB {
	t.Helper()

	db, err := database.Open(config.DatabaseConfig{URL: "sqlite://:memory:"}, false)
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = database.Close(db)
	})
	return db
}

// Seed parses a YAML catalog and applies it to db.
func Seed(t testing.TB, db *gorm.DB, doc string) *catalog.Index {
	t.Helper()

	seed, err := catalog.Parse(strings.NewReader(doc))
	require.NoError(t, err)
	ix, err := seed.Apply(context.Background(), db)
	require.NoError(t, err)
	return ix
}

// Clock is a manual time source. Each call to Now advances it by Step.
type Clock struct {
	mu   sync.Mutex
	t    time.Time
	Step time.Duration
}

// NewClock starts at a fixed instant and ticks one second per call.
func NewClock() *Clock {
	return &Clock{
		t:    time.Date(2024, 3, 4, 8, 0, 0, 0, time.UTC),
		Step: time.Second,
	}
}

func (c *Clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(c.Step)
	return c.t
}

// Advance moves the clock forward by d.
func (c *Clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}
