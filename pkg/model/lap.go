package model

import (
	"github.com/aarondl/opt/null"
)

type FlagState string

const (
	FlagGreen   FlagState = "green"
	FlagCaution FlagState = "caution"
)

// LapRecord is one completed lap of one driver in one session.
// Gaps are in seconds and never negative; an unknown gap is unset.
type LapRecord struct {
	Driver    string            `json:"driver"`
	Lap       int               `json:"lap"`
	LapTime   float64           `json:"lapTime"`
	Position  int               `json:"position"`
	GapAhead  null.Val[float64] `json:"gapAhead"`
	GapBehind null.Val[float64] `json:"gapBehind"`
	Flag      FlagState         `json:"flag"`
	PitStop   bool              `json:"pitStop"` // lap ended in the pit lane
	Metrics   MetricSet         `json:"metrics"`
}

type Channel string

const (
	ChannelSpeed      Channel = "speed"
	ChannelThrottle   Channel = "throttle"   // 0..1
	ChannelBrakeFront Channel = "brakeFront" // bar
	ChannelBrakeRear  Channel = "brakeRear"  // bar
	ChannelSteering   Channel = "steering"   // degrees
	ChannelAccelLong  Channel = "accelLong"  // g
	ChannelAccelLat   Channel = "accelLat"   // g
)

// LapSignals holds the uniform per-timestamp signal table of one lap.
// Each channel slice is aligned with Time; unset entries are missing samples.
type LapSignals struct {
	Driver   string                          `json:"driver"`
	Lap      int                             `json:"lap"`
	Time     []float64                       `json:"time"`
	Channels map[Channel][]null.Val[float64] `json:"channels"`
}

// Valid returns the present samples of a channel together with their timestamps.
func (s *LapSignals) Valid(ch Channel) (ts, values []float64) {
	raw := s.Channels[ch]
	for i := range raw {
		if i >= len(s.Time) {
			break
		}
		if v, ok := raw[i].Get(); ok {
			ts = append(ts, s.Time[i])
			values = append(values, v)
		}
	}
	return ts, values
}

type RaceResult struct {
	Driver      string            `json:"driver"`
	Position    int               `json:"position"`
	TotalTime   float64           `json:"totalTime"`
	GapToLeader null.Val[float64] `json:"gapToLeader"`
}

// Session bundles all collected data of one race session.
type Session struct {
	ID        string       `json:"id"`
	TotalLaps int          `json:"totalLaps"`
	Laps      []LapRecord  `json:"laps"`
	Signals   []LapSignals `json:"signals,omitempty"`
	Results   []RaceResult `json:"results,omitempty"`
}

// Drivers returns the distinct driver ids in order of first appearance.
func (s *Session) Drivers() []string {
	seen := make(map[string]struct{})
	ret := make([]string, 0)
	for i := range s.Laps {
		if _, ok := seen[s.Laps[i].Driver]; !ok {
			seen[s.Laps[i].Driver] = struct{}{}
			ret = append(ret, s.Laps[i].Driver)
		}
	}
	return ret
}
