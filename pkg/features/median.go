package features

import (
	"math"
	"slices"

	"gonum.org/v1/gonum/stat"

	"github.com/mpapenbr/iracelog-racemodel/pkg/model"
)

// FieldLap is the field aggregate of one lap index.
type FieldLap struct {
	Median    float64
	Completed int  // drivers who completed the lap
	Confident bool // enough of the field completed the lap
}

// FieldMedians computes the median lap time per lap index over all drivers
// who completed that lap. The result is read-only once computed.
func FieldMedians(laps []model.LapRecord, minFieldFraction float64) map[int]FieldLap {
	byLap := make(map[int][]float64)
	drivers := make(map[string]struct{})
	for i := range laps {
		byLap[laps[i].Lap] = append(byLap[laps[i].Lap], laps[i].LapTime)
		drivers[laps[i].Driver] = struct{}{}
	}
	need := max(2, int(math.Ceil(minFieldFraction*float64(len(drivers)))))
	ret := make(map[int]FieldLap, len(byLap))
	for lap, times := range byLap {
		slices.Sort(times)
		ret[lap] = FieldLap{
			Median:    median(times),
			Completed: len(times),
			Confident: len(times) >= need,
		}
	}
	return ret
}

// median expects sorted input.
func median(sorted []float64) float64 {
	n := len(sorted)
	if n%2 == 1 {
		return sorted[n/2]
	}
	// even field: mean of the two middle values
	return stat.Mean(sorted[n/2-1:n/2+1], nil)
}
