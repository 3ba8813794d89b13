package metrics

import (
	"errors"
	"math"
	"slices"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"github.com/mpapenbr/iracelog-racemodel/pkg/model"
)

const (
	MetricBrakePeakCV          = "brake_peak_cv"
	MetricBrakeBalance         = "brake_balance"
	MetricTrailBrakeFraction   = "trail_brake_fraction"
	MetricThrottleLiftCount    = "throttle_lift_count"
	MetricCoastingFraction     = "coasting_fraction"
	MetricFullThrottleFraction = "full_throttle_fraction"
	MetricGripUtilization      = "grip_utilization"
	MetricSteeringRate         = "steering_rate"
)

var brakeChannels = []model.Channel{model.ChannelBrakeFront, model.ChannelBrakeRear}

// errUndefined marks a metric that cannot be computed from otherwise valid
// data (e.g. a lap without any braking event).
var errUndefined = errors.New("metric undefined for lap")

func brakePeakCV(v *lapView) (float64, error) {
	cols := v.aligned(brakeChannels...)
	if cols == nil {
		return 0, errUndefined
	}
	peaks := make([]float64, 0)
	inEvent := false
	peak := 0.0
	for i := range cols[0] {
		p := cols[0][i] + cols[1][i]
		if p >= v.cfg.BrakeOn {
			if !inEvent {
				inEvent = true
				peak = p
			}
			peak = math.Max(peak, p)
		} else if inEvent {
			peaks = append(peaks, peak)
			inEvent = false
		}
	}
	if inEvent {
		peaks = append(peaks, peak)
	}
	if len(peaks) < 2 {
		return 0, errUndefined
	}
	mean, sd := stat.MeanStdDev(peaks, nil)
	return sd / mean, nil
}

func brakeBalance(v *lapView) (float64, error) {
	cols := v.aligned(brakeChannels...)
	if cols == nil {
		return 0, errUndefined
	}
	shares := make([]float64, 0)
	for i := range cols[0] {
		p := cols[0][i] + cols[1][i]
		if p >= v.cfg.BrakeOn {
			shares = append(shares, cols[0][i]/p)
		}
	}
	if len(shares) == 0 {
		return 0, errUndefined
	}
	return stat.Mean(shares, nil), nil
}

func trailBrakeFraction(v *lapView) (float64, error) {
	cols := v.aligned(model.ChannelBrakeFront, model.ChannelBrakeRear, model.ChannelSteering)
	if cols == nil {
		return 0, errUndefined
	}
	braking, trail := 0, 0
	for i := range cols[0] {
		if cols[0][i]+cols[1][i] >= v.cfg.BrakeOn {
			braking++
			if math.Abs(cols[2][i]) > v.cfg.TrailSteer {
				trail++
			}
		}
	}
	if braking == 0 {
		return 0, errUndefined
	}
	return float64(trail) / float64(braking), nil
}

func throttleLiftCount(v *lapView) (float64, error) {
	cols := v.aligned(model.ChannelThrottle, model.ChannelAccelLong)
	if cols == nil {
		return 0, errUndefined
	}
	count := 0
	for i := 1; i < len(cols[0]); i++ {
		if cols[0][i] < cols[0][i-1]-v.cfg.LiftDelta && cols[1][i] > 0 {
			count++
		}
	}
	return float64(count), nil
}

func coastingFraction(v *lapView) (float64, error) {
	cols := v.aligned(model.ChannelThrottle, model.ChannelBrakeFront, model.ChannelBrakeRear)
	if cols == nil {
		return 0, errUndefined
	}
	coast := 0
	for i := range cols[0] {
		if cols[0][i] < v.cfg.CoastThrottle && cols[1][i]+cols[2][i] < v.cfg.BrakeOn {
			coast++
		}
	}
	return float64(coast) / float64(len(cols[0])), nil
}

func fullThrottleFraction(v *lapView) (float64, error) {
	cols := v.aligned(model.ChannelThrottle)
	if cols == nil {
		return 0, errUndefined
	}
	full := 0
	for _, t := range cols[0] {
		if t >= v.cfg.FullThrottle {
			full++
		}
	}
	return float64(full) / float64(len(cols[0])), nil
}

func gripUtilization(v *lapView) (float64, error) {
	cols := v.aligned(model.ChannelAccelLong, model.ChannelAccelLat)
	if cols == nil {
		return 0, errUndefined
	}
	combined := make([]float64, len(cols[0]))
	for i := range combined {
		combined[i] = math.Hypot(cols[0][i], cols[1][i])
	}
	sorted := slices.Clone(combined)
	slices.Sort(sorted)
	p95 := stat.Quantile(0.95, stat.Empirical, sorted, nil)
	if p95 <= 0 {
		return 0, errUndefined
	}
	return stat.Mean(combined, nil) / p95, nil
}

func steeringRate(v *lapView) (float64, error) {
	ts, values := v.signals.Valid(model.ChannelSteering)
	rates := make([]float64, 0, len(values))
	for i := 1; i < len(values); i++ {
		dt := ts[i] - ts[i-1]
		if dt <= 0 {
			continue
		}
		rates = append(rates, math.Abs(values[i]-values[i-1])/dt)
	}
	if len(rates) == 0 {
		return 0, errUndefined
	}
	return floats.Sum(rates) / float64(len(rates)), nil
}
