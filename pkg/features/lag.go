package features

import (
	"github.com/aarondl/opt/null"
	"gonum.org/v1/gonum/stat"

	"github.com/mpapenbr/iracelog-racemodel/pkg/model"
)

// HistoryEntry is one prior lap of a driver as seen by the lag computation.
type HistoryEntry struct {
	Lap    int
	Value  null.Val[float64]
	Usable bool // see model.RaceFeatureRow.PaceUsable
}

// HistoryOf converts feature rows into lag history entries of relative
// performance.
func HistoryOf(rows []model.RaceFeatureRow) []HistoryEntry {
	ret := make([]HistoryEntry, len(rows))
	for i := range rows {
		ret[i] = HistoryEntry{Lap: rows[i].Lap, Value: rows[i].RelPerf, Usable: rows[i].PaceUsable()}
	}
	return ret
}

// AbsoluteHistoryOf is HistoryOf for absolute lap times.
func AbsoluteHistoryOf(rows []model.RaceFeatureRow) []HistoryEntry {
	ret := make([]HistoryEntry, len(rows))
	for i := range rows {
		ret[i] = HistoryEntry{
			Lap:    rows[i].Lap,
			Value:  null.From(rows[i].LapTime),
			Usable: rows[i].PaceUsable(),
		}
	}
	return ret
}

// NextLag computes the lag features of lap. history must be ordered by lap
// and contain only laps before lap. The previous relative performance is the
// value of lap-1 only: if that lap is missing or has no value it stays
// unknown. The rolling and session means cover usable entries, the rolling
// one the window most recent of them. Without any usable lap those are unknown.
func NextLag(lap int, history []HistoryEntry, window int) model.LagFeatures {
	values := make([]float64, 0, len(history))
	ret := model.LagFeatures{}
	if n := len(history); n > 0 && history[n-1].Lap == lap-1 {
		if v, ok := history[n-1].Value.Get(); ok {
			ret.PrevRelPerf = null.From(v)
			ret.SourceLap = lap - 1
		}
	}
	for _, h := range history {
		if !h.Usable {
			continue
		}
		v, ok := h.Value.Get()
		if !ok {
			continue
		}
		values = append(values, v)
		ret.SourceLap = max(ret.SourceLap, h.Lap)
	}
	ret.KnownLaps = len(values)
	if len(values) == 0 {
		return ret
	}
	w := min(max(window, 1), len(values))
	ret.RollingRelPerf = null.From(stat.Mean(values[len(values)-w:], nil))
	ret.SessionMeanRelPerf = null.From(stat.Mean(values, nil))
	return ret
}

// CheckLeakage fails with a *model.LeakageError if a lag feature of the row
// was derived from the row's own lap or a later one.
func CheckLeakage(row *model.RaceFeatureRow) error {
	if row.Lag.SourceLap >= row.Lap {
		return &model.LeakageError{
			Driver:    row.Driver,
			Lap:       row.Lap,
			SourceLap: row.Lag.SourceLap,
			Feature:   "lag",
		}
	}
	return nil
}
