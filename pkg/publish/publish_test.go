package publish

import (
	"testing"

	"gotest.tools/v3/assert"
)

func TestSubject(t *testing.T) {
	tests := []struct {
		session string
		kind    string
		want    string
	}{
		{"spa-r1", KindBaseline, "irm.spa-r1.baseline"},
		{"spa.r1", KindDeviation, "irm.spa_r1.deviation"},
		{"a b*c>", KindPrediction, "irm.a_b_c_.prediction"},
		{"", KindBaseline, "irm._.baseline"},
	}
	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			assert.Equal(t, Subject(tt.session, tt.kind), tt.want)
		})
	}
}
