package alert

import "math"

// Band is the coarse risk band shown alongside a hazard level.
type Band int

const (
	BandUnknown Band = iota - 1
	BandLow
	BandModerate
	BandHigh
	BandCritical
)

func (b Band) String() string {
	switch b {
	case BandLow:
		return "Low"
	case BandModerate:
		return "Moderate"
	case BandHigh:
		return "High"
	case BandCritical:
		return "Critical"
	default:
		return "Unknown"
	}
}

func (b Band) MarshalText() ([]byte, error) {
	return []byte(b.String()), nil
}

// BandFromClass maps a classification ordinal onto its band.
func BandFromClass(class int) Band {
	if class < int(BandLow) || class > int(BandCritical) {
		return BandUnknown
	}
	return Band(class)
}

// Score thresholds used by the stacked regression model.
const (
	scoreModerate = 8.0
	scoreHigh     = 20.0
	scoreCritical = 35.0
)

// BandFromScore maps a regression risk score onto its band.
func BandFromScore(score float64) Band {
	switch {
	case math.IsNaN(score):
		return BandUnknown
	case score < scoreModerate:
		return BandLow
	case score < scoreHigh:
		return BandModerate
	case score < scoreCritical:
		return BandHigh
	default:
		return BandCritical
	}
}
