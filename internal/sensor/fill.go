package sensor

import "github.com/thatsimonsguy/tank-controller/internal/model"

// Tank describes the geometry used to turn a distance into a fill level.
type Tank struct {
	EmptyDistanceMm int
	FullDistanceMm  int
}

// FillPercent converts a valid distance reading into a 0-100 fill level.
func FillPercent(r model.SensorReading, tank Tank) (float64, bool) {
	if !r.Valid() || tank.EmptyDistanceMm <= tank.FullDistanceMm {
		return 0, false
	}
	pct := float64(tank.EmptyDistanceMm-r.ValueMm) / float64(tank.EmptyDistanceMm-tank.FullDistanceMm) * 100
	switch {
	case pct < 0:
		pct = 0
	case pct > 100:
		pct = 100
	}
	return pct, true
}
