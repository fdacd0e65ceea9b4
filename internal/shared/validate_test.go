package shared

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type sample struct {
	Name     string `validate:"name"`
	Servings int    `validate:"gte=1"`
}

func TestValidate(t *testing.T) {
	require.NoError(t, Validate(sample{Name: "Soup", Servings: 2}))

	err := Validate(sample{Name: "", Servings: 0})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrInvalidInput))

	var verr *ValidationError
	require.True(t, errors.As(err, &verr))
	assert.Len(t, verr.Fields, 2)
	assert.Contains(t, err.Error(), "sample.Name failed name")
	assert.Contains(t, err.Error(), "sample.Servings failed gte")
}
