package model_test

import (
	"testing"

	"github.com/bookery/bookery-service/internal/model"
	"github.com/stretchr/testify/require"
)

func TestValidRating(t *testing.T) {
	t.Parallel()

	for _, r := range []float64{1, 1.5, 2, 2.5, 3, 3.5, 4, 4.5, 5} {
		require.True(t, model.ValidRating(r), "rating %v", r)
	}
	for _, r := range []float64{0, 0.5, 1.25, 3.3, 5.5, -1, 4.999} {
		require.False(t, model.ValidRating(r), "rating %v", r)
	}
}
