package strategy

// Regime is the sign of the smoothed moving-average spread.
type Regime int

const (
	RegimeDown Regime = -1
	RegimeUp   Regime = 1
)

func (r Regime) String() string {
	if r == RegimeUp {
		return "up"
	}
	return "down"
}

type TrendParams struct {
	ShortWindow  int
	LongWindow   int
	SmoothWindow int
}

// Trend describes the open regime and the completed regimes of the same sign.
type Trend struct {
	Regime  Regime
	Elapsed int
	History []int
}

// AnalyzeTrend classifies the current momentum regime of series. It reports
// false when the series is too short or the smoothed spread never leaves zero.
func AnalyzeTrend(series []float64, p TrendParams) (Trend, bool) {
	if p.ShortWindow <= 0 || p.LongWindow < p.ShortWindow {
		return Trend{}, false
	}
	shortMA := SimpleMovingAverage(series, p.ShortWindow)
	longMA := SimpleMovingAverage(series, p.LongWindow)
	if len(longMA) == 0 {
		return Trend{}, false
	}
	offset := p.LongWindow - p.ShortWindow
	spread := make([]float64, len(longMA))
	for i := range longMA {
		spread[i] = shortMA[i+offset] - longMA[i]
	}
	smoothed := MovingSum(spread, p.SmoothWindow)
	if len(smoothed) == 0 {
		return Trend{}, false
	}

	var ups, downs []int
	start := -1
	startValue := 0.0
	for i, v := range smoothed {
		if start < 0 {
			if v != 0 {
				start, startValue = i, v
			}
			continue
		}
		if v*startValue > 0 {
			continue
		}
		if startValue > 0 {
			ups = append(ups, i-start)
		} else {
			downs = append(downs, i-start)
		}
		if v != 0 {
			start, startValue = i, v
		}
	}
	if start < 0 {
		return Trend{}, false
	}

	trend := Trend{Elapsed: len(smoothed) - start}
	if startValue > 0 {
		trend.Regime = RegimeUp
		trend.History = ups
	} else {
		trend.Regime = RegimeDown
		trend.History = downs
	}
	return trend, true
}
