package apperr

import (
	"errors"
	"fmt"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"gorm.io/gorm"
)

func TestErrorIs(t *testing.T) {
	t.Run("Should match sentinel by code", func(t *testing.T) {
		err := NotFound("task instance", 42)
		assert.True(t, errors.Is(err, ErrNotFound))
		assert.False(t, errors.Is(err, ErrInvalidState))
		assert.Contains(t, err.Error(), "task instance with id 42")
	})

	t.Run("Should match through fmt wrapping", func(t *testing.T) {
		err := fmt.Errorf("failed to complete: %w", InvalidState("instance is %s", "Completed"))
		assert.True(t, errors.Is(err, ErrInvalidState))
		assert.Equal(t, CodeInvalidState, CodeOf(err))
	})

	t.Run("Should return empty code for foreign errors", func(t *testing.T) {
		assert.Equal(t, Code(""), CodeOf(errors.New("boom")))
	})
}

func TestFromDB(t *testing.T) {
	t.Run("Should map record not found", func(t *testing.T) {
		err := FromDB("load station", gorm.ErrRecordNotFound)
		assert.True(t, errors.Is(err, ErrNotFound))
		assert.True(t, errors.Is(err, gorm.ErrRecordNotFound))
	})

	t.Run("Should map postgres integrity codes", func(t *testing.T) {
		unique := FromDB("insert", &pgconn.PgError{Code: "23505", Detail: "dup"})
		assert.Equal(t, CodeConflict, CodeOf(unique))

		fk := FromDB("insert", &pgconn.PgError{Code: "23503"})
		assert.Equal(t, CodeNotFound, CodeOf(fk))

		notNull := FromDB("insert", &pgconn.PgError{Code: "23502"})
		assert.Equal(t, CodePolicyViolation, CodeOf(notNull))
	})

	t.Run("Should default to database error", func(t *testing.T) {
		err := FromDB("query", errors.New("disk full"))
		assert.Equal(t, CodeDatabase, CodeOf(err))
	})

	t.Run("Should pass classified errors through", func(t *testing.T) {
		orig := PolicyViolation("dependency unsatisfied")
		assert.Same(t, orig, FromDB("start", orig))
		assert.Nil(t, FromDB("noop", nil))
	})
}
