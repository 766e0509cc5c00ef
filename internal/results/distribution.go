package results

import (
	"math"

	"classpulse/pkg/types"
)

const (
	minScore = 1
	maxScore = 4

	// referenceCount keeps a single answer from filling the whole chart.
	referenceCount = 5
	// minHeightPercent keeps empty buckets visible as a small nub.
	minHeightPercent = 2.0
)

type Bucket struct {
	Score         int     `json:"score"`
	Count         int     `json:"count"`
	HeightPercent float64 `json:"height_percent"`
}

// Distribution counts responses per integer score 1-4. Other scores are
// only counted in Unbucketed.
type Distribution struct {
	Buckets    []Bucket `json:"buckets"`
	Unbucketed int      `json:"unbucketed"`
	Total      int      `json:"total"`
}

func NewDistribution(responses []*types.Response) Distribution {
	counts := make([]int, maxScore-minScore+1)
	d := Distribution{Total: len(responses)}

	for _, r := range responses {
		if r.Score < minScore || r.Score > maxScore {
			d.Unbucketed++
			continue
		}
		counts[r.Score-minScore]++
	}

	maxCount := 0
	for _, c := range counts {
		if c > maxCount {
			maxCount = c
		}
	}

	d.Buckets = make([]Bucket, len(counts))
	for i, c := range counts {
		d.Buckets[i] = Bucket{
			Score:         minScore + i,
			Count:         c,
			HeightPercent: HeightPercent(c, maxCount),
		}
	}
	return d
}

// HeightPercent scales count against max(maxCount, 5), with a 2% floor.
func HeightPercent(count, maxCount int) float64 {
	ref := maxCount
	if ref < referenceCount {
		ref = referenceCount
	}
	return math.Max(float64(count)/float64(ref)*100, minHeightPercent)
}

// Count returns the number of responses in the bucket for score, or 0.
func (d Distribution) Count(score int) int {
	for _, b := range d.Buckets {
		if b.Score == score {
			return b.Count
		}
	}
	return 0
}
