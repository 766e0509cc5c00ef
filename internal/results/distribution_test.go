package results

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"classpulse/pkg/types"
)

func scores(s ...int) []*types.Response {
	out := make([]*types.Response, len(s))
	for i, v := range s {
		out[i] = &types.Response{Score: v}
	}
	return out
}

func TestHeightPercent(t *testing.T) {
	tests := []struct {
		count, max int
		want       float64
	}{
		{1, 1, 20},
		{0, 1, 2},
		{5, 5, 100},
		{3, 10, 30},
		{10, 10, 100},
		{0, 0, 2},
	}
	for _, tt := range tests {
		assert.InDelta(t, tt.want, HeightPercent(tt.count, tt.max), 1e-9, "count=%d max=%d", tt.count, tt.max)
	}
}

func TestNewDistribution(t *testing.T) {
	d := NewDistribution(scores(3, 3, 4, 1, 0, 7, -1))

	assert.Equal(t, 7, d.Total)
	assert.Equal(t, 3, d.Unbucketed)
	assert.Len(t, d.Buckets, 4)
	assert.Equal(t, 1, d.Count(1))
	assert.Equal(t, 0, d.Count(2))
	assert.Equal(t, 2, d.Count(3))
	assert.Equal(t, 1, d.Count(4))
	assert.Equal(t, 0, d.Count(0), "out of range scores have no bucket")

	assert.InDelta(t, 40.0, d.Buckets[2].HeightPercent, 1e-9)
	assert.InDelta(t, 2.0, d.Buckets[1].HeightPercent, 1e-9)
}

func TestNewDistribution_Empty(t *testing.T) {
	d := NewDistribution(nil)
	assert.Equal(t, 0, d.Total)
	for i, b := range d.Buckets {
		assert.Equal(t, i+1, b.Score)
		assert.Equal(t, 0, b.Count)
		assert.InDelta(t, 2.0, b.HeightPercent, 1e-9)
	}
}
