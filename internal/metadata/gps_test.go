package metadata

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseCoordinate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		raw  any
		ref  string
		want *float64
	}{
		{
			name: "dms north",
			raw:  `35 deg 24' 23.40"`,
			ref:  "North",
			want: ptrF(35.4065),
		},
		{
			name: "dms south is negative",
			raw:  `12 deg 30' 0.00"`,
			ref:  "South",
			want: ptrF(-12.5),
		},
		{
			name: "dms west is negative",
			raw:  `71 deg 3' 36.00"`,
			ref:  "W",
			want: ptrF(-71.06),
		},
		{
			name: "hemisphere embedded in value",
			raw:  `12 deg 30' 0.00" S`,
			ref:  "",
			want: ptrF(-12.5),
		},
		{
			name: "decimal number east",
			raw:  float64(128.881),
			ref:  "E",
			want: ptrF(128.881),
		},
		{
			name: "decimal number west",
			raw:  float64(71.06),
			ref:  "West",
			want: ptrF(-71.06),
		},
		{
			name: "decimal in string",
			raw:  "35.4065",
			ref:  "N",
			want: ptrF(35.4065),
		},
		{name: "absent", raw: nil, ref: "", want: nil},
		{name: "garbage", raw: "somewhere in the woods", ref: "N", want: nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got := parseCoordinate(tt.raw, tt.ref)
			if tt.want == nil {
				assert.Nil(t, got)
				return
			}
			require.NotNil(t, got)
			assert.InDelta(t, *tt.want, *got, 0.0001)
		})
	}
}

func ptrF(v float64) *float64 { return &v }
