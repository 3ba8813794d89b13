// Package input reads session files produced by the ingestion layer.
//
// A session file is JSON:
//
//	{
//	  "id": "spa-2023-r1",
//	  "totalLaps": 20,
//	  "laps": [{"driver": "d1", "lap": 1, "lapTime": 92.4, "position": 1,
//	            "gapAhead": null, "gapBehind": 0.8, "flag": "green", "pitStop": false}],
//	  "signals": [{"driver": "d1", "lap": 1, "time": [0, 0.1],
//	               "channels": {"throttle": [1, null]}}],
//	  "results": [{"driver": "d1", "position": 1, "totalTime": 1850.2, "gapToLeader": 0}]
//	}
//
// null marks a missing value. Race results are located by a JSONPath
// expression so vendor specific result files can be used as well.
package input

import (
	"encoding/json"
	"fmt"
	"os"
	"slices"

	"github.com/aarondl/opt/null"
	"github.com/ohler55/ojg/jp"
	"github.com/ohler55/ojg/oj"

	"github.com/mpapenbr/iracelog-racemodel/log"
	"github.com/mpapenbr/iracelog-racemodel/pkg/model"
)

const DefaultResultsPath = "$.results[*]"

// ResultFields names the keys of a result entry.
type ResultFields struct {
	Driver      string
	Position    string
	TotalTime   string
	GapToLeader string
}

func DefaultResultFields() ResultFields {
	return ResultFields{
		Driver:      "driver",
		Position:    "position",
		TotalTime:   "totalTime",
		GapToLeader: "gapToLeader",
	}
}

type (
	Loader struct {
		resultsPath string
		fields      ResultFields
		l           *log.Logger
	}
	Option func(*Loader)
)

func WithResultsPath(path string) Option {
	return func(l *Loader) {
		l.resultsPath = path
	}
}

func WithResultFields(f ResultFields) Option {
	return func(l *Loader) {
		l.fields = f
	}
}

func WithLogger(logger *log.Logger) Option {
	return func(l *Loader) {
		l.l = logger
	}
}

func NewLoader(opts ...Option) *Loader {
	ret := &Loader{
		resultsPath: DefaultResultsPath,
		fields:      DefaultResultFields(),
		l:           log.Default().Named("input"),
	}
	for _, opt := range opts {
		opt(ret)
	}
	return ret
}

type (
	wireLap struct {
		Driver    string          `json:"driver"`
		Lap       int             `json:"lap"`
		LapTime   float64         `json:"lapTime"`
		Position  int             `json:"position"`
		GapAhead  *float64        `json:"gapAhead"`
		GapBehind *float64        `json:"gapBehind"`
		Flag      model.FlagState `json:"flag"`
		PitStop   bool            `json:"pitStop"`
	}
	wireSignals struct {
		Driver   string                `json:"driver"`
		Lap      int                   `json:"lap"`
		Time     []float64             `json:"time"`
		Channels map[string][]*float64 `json:"channels"`
	}
	wireSession struct {
		ID        string        `json:"id"`
		TotalLaps int           `json:"totalLaps"`
		Laps      []wireLap     `json:"laps"`
		Signals   []wireSignals `json:"signals"`
	}
)

func (l *Loader) LoadSession(path string) (*model.Session, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	s, err := l.ParseSession(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return s, nil
}

// LoadResults reads race results from a separate (vendor) file.
func (l *Loader) LoadResults(path string) ([]model.RaceResult, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return l.ParseResults(data)
}

func (l *Loader) ParseSession(data []byte) (*model.Session, error) {
	var w wireSession
	if err := json.Unmarshal(data, &w); err != nil {
		return nil, fmt.Errorf("session file: %v: %w", err, model.ErrInvalidInput)
	}
	s := &model.Session{ID: w.ID, TotalLaps: w.TotalLaps}
	for _, wl := range w.Laps {
		flag := wl.Flag
		if flag == "" {
			flag = model.FlagGreen
		}
		s.Laps = append(s.Laps, model.LapRecord{
			Driver:    wl.Driver,
			Lap:       wl.Lap,
			LapTime:   wl.LapTime,
			Position:  wl.Position,
			GapAhead:  null.FromPtr(wl.GapAhead),
			GapBehind: null.FromPtr(wl.GapBehind),
			Flag:      flag,
			PitStop:   wl.PitStop,
		})
	}
	for _, ws := range w.Signals {
		sig := model.LapSignals{
			Driver:   ws.Driver,
			Lap:      ws.Lap,
			Time:     ws.Time,
			Channels: make(map[model.Channel][]null.Val[float64], len(ws.Channels)),
		}
		for ch, values := range ws.Channels {
			sig.Channels[model.Channel(ch)] = convertSamples(values)
		}
		s.Signals = append(s.Signals, sig)
	}
	results, err := l.ParseResults(data)
	if err != nil {
		return nil, err
	}
	s.Results = results
	if s.TotalLaps == 0 {
		for i := range s.Laps {
			s.TotalLaps = max(s.TotalLaps, s.Laps[i].Lap)
		}
	}
	if err := Validate(s); err != nil {
		return nil, err
	}
	l.l.Debug("session loaded",
		log.String("session", s.ID),
		log.Int("laps", len(s.Laps)),
		log.Int("signals", len(s.Signals)),
		log.Int("results", len(s.Results)))
	return s, nil
}

func convertSamples(values []*float64) []null.Val[float64] {
	ret := make([]null.Val[float64], len(values))
	for i, v := range values {
		ret[i] = null.FromPtr(v)
	}
	return ret
}

// ParseResults extracts the classification entries selected by the results
// path. A document without matching entries yields no results.
func (l *Loader) ParseResults(data []byte) ([]model.RaceResult, error) {
	doc, err := oj.Parse(data)
	if err != nil {
		return nil, fmt.Errorf("results: %v: %w", err, model.ErrInvalidInput)
	}
	path, err := jp.ParseString(l.resultsPath)
	if err != nil {
		return nil, fmt.Errorf("results path %q: %v: %w", l.resultsPath, err, model.ErrInvalidInput)
	}
	entries := path.Get(doc)
	ret := make([]model.RaceResult, 0, len(entries))
	for i, e := range entries {
		r, err := l.result(e)
		if err != nil {
			return nil, fmt.Errorf("result entry %d: %w", i, err)
		}
		ret = append(ret, r)
	}
	return ret, nil
}

func (l *Loader) result(entry any) (model.RaceResult, error) {
	m, ok := entry.(map[string]any)
	if !ok {
		return model.RaceResult{}, fmt.Errorf("not an object: %w", model.ErrInvalidInput)
	}
	ret := model.RaceResult{}
	driver, ok := m[l.fields.Driver]
	if !ok {
		return ret, fmt.Errorf("missing %q: %w", l.fields.Driver, model.ErrInvalidInput)
	}
	ret.Driver = fmt.Sprint(driver)
	pos, ok := number(m[l.fields.Position])
	if !ok {
		return ret, fmt.Errorf("missing %q: %w", l.fields.Position, model.ErrInvalidInput)
	}
	ret.Position = int(pos)
	if v, ok := number(m[l.fields.TotalTime]); ok {
		ret.TotalTime = v
	}
	if v, ok := number(m[l.fields.GapToLeader]); ok {
		ret.GapToLeader = null.From(v)
	}
	return ret, nil
}

func number(v any) (float64, bool) {
	switch x := v.(type) {
	case int64:
		return float64(x), true
	case float64:
		return x, true
	default:
		return 0, false
	}
}

// Validate checks the structural rules of a session: lap indexes start at 1
// and are unique per driver, positions start at 1, gaps and lap times are
// not negative and signal channels align with their timestamps.
func Validate(s *model.Session) error {
	if s.ID == "" {
		return fmt.Errorf("session without id: %w", model.ErrInvalidInput)
	}
	seen := make(map[string][]int)
	for i := range s.Laps {
		l := &s.Laps[i]
		if l.Driver == "" {
			return fmt.Errorf("lap record %d without driver: %w", i, model.ErrInvalidInput)
		}
		if l.Lap < 1 {
			return fmt.Errorf("driver %s: lap index %d: %w", l.Driver, l.Lap, model.ErrInvalidInput)
		}
		if slices.Contains(seen[l.Driver], l.Lap) {
			return fmt.Errorf("driver %s: duplicate lap %d: %w", l.Driver, l.Lap, model.ErrInvalidInput)
		}
		seen[l.Driver] = append(seen[l.Driver], l.Lap)
		if l.Position < 1 {
			return fmt.Errorf("driver %s lap %d: position %d: %w", l.Driver, l.Lap, l.Position,
				model.ErrInvalidInput)
		}
		if l.LapTime <= 0 {
			return fmt.Errorf("driver %s lap %d: lap time %v: %w", l.Driver, l.Lap, l.LapTime,
				model.ErrInvalidInput)
		}
		for _, g := range []null.Val[float64]{l.GapAhead, l.GapBehind} {
			if v, ok := g.Get(); ok && v < 0 {
				return fmt.Errorf("driver %s lap %d: negative gap: %w", l.Driver, l.Lap,
					model.ErrInvalidInput)
			}
		}
	}
	for i := range s.Signals {
		sig := &s.Signals[i]
		for ch, values := range sig.Channels {
			if len(values) != len(sig.Time) {
				return fmt.Errorf("driver %s lap %d: channel %s has %d samples for %d timestamps: %w",
					sig.Driver, sig.Lap, ch, len(values), len(sig.Time), model.ErrInvalidInput)
			}
		}
	}
	positions := make(map[int]struct{}, len(s.Results))
	for _, r := range s.Results {
		if r.Position < 1 {
			return fmt.Errorf("result %s: position %d: %w", r.Driver, r.Position, model.ErrInvalidInput)
		}
		if _, ok := positions[r.Position]; ok {
			return fmt.Errorf("result %s: duplicate position %d: %w", r.Driver, r.Position,
				model.ErrInvalidInput)
		}
		positions[r.Position] = struct{}{}
	}
	return nil
}
