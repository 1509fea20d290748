package shared

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDomainErrorKindAndCode(t *testing.T) {
	sentinel := NewError(ErrConflict, "INSUFFICIENT_STOCK", "insufficient stock")
	detailed := fmt.Errorf("reserve: %w", sentinel.Detail("sku %s", "A-1"))

	assert.ErrorIs(t, detailed, ErrConflict)
	assert.ErrorIs(t, detailed, sentinel)
	assert.NotErrorIs(t, detailed, ErrValidation)
	assert.Equal(t, "INSUFFICIENT_STOCK", ErrorCode(detailed))
	assert.Contains(t, detailed.Error(), "sku A-1")
}

func TestDistinctCodesDoNotMatch(t *testing.T) {
	a := NewError(ErrConflict, "A", "a")
	b := NewError(ErrConflict, "B", "b")
	assert.False(t, errors.Is(a, b))
	assert.Equal(t, "", ErrorCode(errors.New("plain")))
}

func TestParseRole(t *testing.T) {
	assert.Equal(t, RoleWarehouse, ParseRole(" warehouse "))
	assert.Equal(t, Role(""), ParseRole("janitor"))
	assert.True(t, RoleManager.IsElevated())
	assert.False(t, RoleStaff.IsElevated())
}
