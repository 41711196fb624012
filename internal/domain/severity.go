package domain

import (
	"fmt"
	"strconv"
)

// Tier is the targeting breadth of an event. Tiers are ordered:
// Ignore < Local < Global.
type Tier int

const (
	TierIgnore Tier = iota
	TierLocal
	TierGlobal
)

func (t Tier) String() string {
	switch t {
	case TierIgnore:
		return "ignore"
	case TierLocal:
		return "local"
	case TierGlobal:
		return "global"
	default:
		return "tier(" + strconv.Itoa(int(t)) + ")"
	}
}

// Default thresholds: Shindo 4 alerts followers of the affected regions,
// Shindo 5-Upper alerts everyone.
const (
	DefaultMinLocalShindo  = 40
	DefaultMinGlobalShindo = 50
)

// Classifier maps an intensity code to a Tier using two thresholds.
type Classifier struct {
	minLocal  int
	minGlobal int
}

// NewClassifier validates that minLocal does not exceed minGlobal.
func NewClassifier(minLocal, minGlobal int) (Classifier, error) {
	if minLocal > minGlobal {
		return Classifier{}, fmt.Errorf("local threshold %d exceeds global threshold %d", minLocal, minGlobal)
	}
	return Classifier{minLocal: minLocal, minGlobal: minGlobal}, nil
}

// Classify returns Global at or above minGlobal, Local at or above minLocal,
// and Ignore below that.
func (c Classifier) Classify(intensityCode int) Tier {
	switch {
	case intensityCode >= c.minGlobal:
		return TierGlobal
	case intensityCode >= c.minLocal:
		return TierLocal
	default:
		return TierIgnore
	}
}

// shindoLabels is the canonical P2PQuake maxScale table.
var shindoLabels = map[int]string{
	10: "1",
	20: "2",
	30: "3",
	40: "4",
	45: "5-Lower",
	50: "5-Upper",
	55: "6-Lower",
	60: "6-Upper",
	70: "7",
}

// ShindoLabel returns the JMA intensity class for a maxScale code, or
// "Unknown" for codes outside the table.
func ShindoLabel(code int) string {
	if l, ok := shindoLabels[code]; ok {
		return l
	}
	return "Unknown"
}

// IntensityValue renders code/10 with one decimal place, e.g. 45 -> "4.5".
func IntensityValue(code int) string {
	return strconv.FormatFloat(float64(code)/10, 'f', 1, 64)
}
