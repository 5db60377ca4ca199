package geo

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDistance(t *testing.T) {
	tests := []struct {
		name string
		a, b Coordinates
		want float64
	}{
		{name: "same point", a: Coordinates{Latitude: 6.9, Longitude: 79.8}, b: Coordinates{Latitude: 6.9, Longitude: 79.8}, want: 0},
		{name: "one degree of latitude", a: Coordinates{}, b: Coordinates{Latitude: 1}, want: 111195},
		{name: "one degree of longitude at equator", a: Coordinates{}, b: Coordinates{Longitude: 1}, want: 111195},
		{name: "antipodes", a: Coordinates{}, b: Coordinates{Longitude: 180}, want: 20015087},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.want, Distance(tt.a, tt.b), 1)
			assert.InDelta(t, Distance(tt.a, tt.b), Distance(tt.b, tt.a), 1e-6)
		})
	}
}
