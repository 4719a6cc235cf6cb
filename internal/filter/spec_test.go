package filter_test

import (
	"testing"

	"github.com/srg/blefit/internal/filter"
	"github.com/srg/blefit/internal/sensor"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSpecKey(t *testing.T) {
	tests := []struct {
		name string
		spec filter.Spec
		want string
	}{
		{
			name: "wildcard device",
			spec: filter.Spec{Sensor: sensor.TypeHeartRate, Kind: filter.KindInstantaneous},
			want: "-heart_rate-instant-0",
		},
		{
			name: "named device with smoothing",
			spec: filter.Spec{Device: "Stages", Sensor: sensor.TypePower, Kind: filter.KindExponentialSmoothing, Parameter: 0.25},
			want: "Stages-power-smoothing-0.25",
		},
		{
			name: "tiny parameter is not written in exponent form",
			spec: filter.Spec{Device: "W", Sensor: sensor.TypeSpeed, Kind: filter.KindExponentialSmoothing, Parameter: 0.00001},
			want: "W-speed-smoothing-0.00001",
		},
		{
			name: "device name containing dashes",
			spec: filter.Spec{Device: "Wahoo-CADENCE-1", Sensor: sensor.TypeCadence, Kind: filter.KindMovingAverage, Parameter: 5},
			want: "Wahoo-CADENCE-1-cadence-moving_average-5",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.spec.Key())

			parsed, err := filter.ParseKey(tt.spec.Key())
			require.NoError(t, err, "key MUST parse back")
			assert.Equal(t, tt.spec, parsed)
		})
	}
}

func TestSpecKey_DistinctSpecsDistinctKeys(t *testing.T) {
	specs := []filter.Spec{
		{Sensor: sensor.TypePower, Kind: filter.KindMovingAverage, Parameter: 3},
		{Sensor: sensor.TypePower, Kind: filter.KindMovingAverage, Parameter: 30},
		{Device: "a", Sensor: sensor.TypePower, Kind: filter.KindMovingAverage, Parameter: 3},
		{Device: "a-power", Sensor: sensor.TypePower, Kind: filter.KindMovingAverage, Parameter: 3},
		{Sensor: sensor.TypeCadence, Kind: filter.KindMovingAverage, Parameter: 3},
		{Sensor: sensor.TypePower, Kind: filter.KindTimeWindowAverage, Parameter: 3},
	}

	seen := make(map[string]filter.Spec)
	for _, s := range specs {
		if prev, dup := seen[s.Key()]; dup {
			t.Fatalf("key collision between %+v and %+v", prev, s)
		}
		seen[s.Key()] = s
	}
}

func TestParseKey_Malformed(t *testing.T) {
	for _, key := range []string{"", "power", "-power-instant", "-altitude-instant-0", "-power-fancy-0", "-power-instant-abc", "-power-smoothing-2"} {
		_, err := filter.ParseKey(key)
		assert.ErrorIs(t, err, filter.ErrInvalidSpec, "key %q", key)
	}
}

func TestSpecValidate(t *testing.T) {
	assert.NoError(t, filter.Spec{Sensor: sensor.TypePower, Kind: filter.KindRunningMaximum}.Validate())
	assert.ErrorIs(t, filter.Spec{Kind: filter.KindRunningMaximum}.Validate(), filter.ErrInvalidSpec)
}

func TestParseKind(t *testing.T) {
	k, err := filter.ParseKind("Moving-Average")
	require.NoError(t, err)
	assert.Equal(t, filter.KindMovingAverage, k)

	_, err = filter.ParseKind("median")
	assert.ErrorIs(t, err, filter.ErrInvalidSpec)
}
