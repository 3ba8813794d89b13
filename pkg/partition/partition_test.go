package partition

import (
	"fmt"
	"math/rand/v2"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mpapenbr/iracelog-racemodel/pkg/model"
)

const (
	mProfile = "profile_metric"
	mState   = "state_metric"
	mSparse  = "sparse_metric"
)

var testNames = []string{mProfile, mState, mSparse}

// corpus creates 2 sessions with 6 drivers and 20 laps each.
// mProfile is driver specific with little lap noise, mState is noisy per lap
// with almost no driver offset, mSparse is only known for one driver.
func corpus(seed uint64) []Observation {
	rng := rand.New(rand.NewPCG(seed, 42))
	ret := []Observation{}
	for s := 0; s < 2; s++ {
		for d := 0; d < 6; d++ {
			for lap := 1; lap <= 20; lap++ {
				ms := model.NewMetricSet("v1.1.0", testNames)
				_ = ms.Set(mProfile, float64(d)+0.2*(rng.Float64()-0.5))
				_ = ms.Set(mState, 0.01*float64(d)+rng.NormFloat64())
				if d == 0 {
					_ = ms.Set(mSparse, rng.Float64())
				}
				ret = append(ret, Observation{
					Session: fmt.Sprintf("s%d", s),
					Driver:  fmt.Sprintf("d%d", d),
					Lap:     lap,
					Metrics: ms,
				})
			}
		}
	}
	return ret
}

func TestPartition(t *testing.T) {
	c, err := Partition("v1.1.0", testNames, corpus(1), DefaultConfig())
	require.NoError(t, err)
	require.Len(t, c.Entries, 3)

	assert.Equal(t, model.ClassProfile, c.ClassOf(mProfile))
	assert.Equal(t, model.ClassState, c.ClassOf(mState))

	sparse := c.Entries[2]
	assert.Equal(t, mSparse, sparse.Metric)
	assert.False(t, sparse.Sufficient)
	assert.Equal(t, model.ClassAmbiguous, sparse.Class)
	assert.Equal(t, 2, sparse.Groups)

	p := c.Entries[0]
	assert.True(t, p.Ratio.IsValue())
	assert.InDelta(t, p.CrossSD/p.WithinSD, p.Ratio.GetOrZero(), 1e-12)
	assert.Equal(t, 12, p.Groups)
}

func TestPartition_InsufficientData(t *testing.T) {
	obs := corpus(1)[:20] // one driver only
	_, err := Partition("v1.1.0", testNames, obs, DefaultConfig())
	assert.ErrorIs(t, err, model.ErrInsufficientData)
}

func TestPartition_ConstantWithinDriver(t *testing.T) {
	obs := []Observation{}
	for d := 0; d < 3; d++ {
		for lap := 1; lap <= 3; lap++ {
			ms := model.NewMetricSet("v1.1.0", []string{mProfile})
			_ = ms.Set(mProfile, float64(d))
			obs = append(obs, Observation{Session: "s", Driver: fmt.Sprint(d), Lap: lap, Metrics: ms})
		}
	}
	c, err := Partition("v1.1.0", []string{mProfile}, obs, DefaultConfig())
	require.NoError(t, err)
	assert.Equal(t, model.ClassProfile, c.ClassOf(mProfile))
	assert.True(t, c.Entries[0].Ratio.IsNull())
}

func TestClassFor(t *testing.T) {
	th := model.DefaultThresholds()
	tests := []struct {
		name  string
		ratio float64
		want  model.MetricClass
	}{
		{"profile", 1.6, model.ClassProfile},
		{"upper bound", 1.5, model.ClassAmbiguous},
		{"ambiguous", 1.0, model.ClassAmbiguous},
		{"lower bound", 0.7, model.ClassAmbiguous},
		{"state", 0.69, model.ClassState},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ClassFor(tt.ratio, th))
		})
	}
}

func TestVarianceRatioStability(t *testing.T) {
	for seed := uint64(1); seed <= 5; seed++ {
		t.Run(fmt.Sprintf("seed-%d", seed), func(t *testing.T) {
			a, b := Halves(corpus(seed))
			assert.Equal(t, len(a), len(b))
			ca, err := Partition("v1.1.0", testNames, a, DefaultConfig())
			require.NoError(t, err)
			cb, err := Partition("v1.1.0", testNames, b, DefaultConfig())
			require.NoError(t, err)
			assert.GreaterOrEqual(t, Agreement(ca, cb), 0.8)
		})
	}
}

func TestAgreement(t *testing.T) {
	a := &model.Classification{Entries: []model.ClassEntry{
		{Metric: "x", Class: model.ClassProfile, Sufficient: true},
		{Metric: "y", Class: model.ClassState, Sufficient: true},
		{Metric: "z", Class: model.ClassState, Sufficient: false},
	}}
	b := &model.Classification{Entries: []model.ClassEntry{
		{Metric: "x", Class: model.ClassProfile, Sufficient: true},
		{Metric: "y", Class: model.ClassAmbiguous, Sufficient: true},
		{Metric: "z", Class: model.ClassProfile, Sufficient: true},
	}}
	assert.InDelta(t, 0.5, Agreement(a, b), 1e-12)
	assert.Equal(t, 0.0, Agreement(&model.Classification{}, b))
}

func TestHalves_Disjoint(t *testing.T) {
	a, b := Halves(corpus(3))
	seen := map[string]bool{}
	for _, o := range a {
		seen[fmt.Sprintf("%s/%s/%d", o.Session, o.Driver, o.Lap)] = true
	}
	for _, o := range b {
		assert.False(t, seen[fmt.Sprintf("%s/%s/%d", o.Session, o.Driver, o.Lap)])
	}
}
