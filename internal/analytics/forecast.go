package analytics

import (
	"errors"
	"fmt"
	"math"

	"github.com/ksred/marketracker-api/internal/marketdata"
	"gonum.org/v1/gonum/mat"
)

// minForecastBars keeps the regression overdetermined
const minForecastBars = 10

var errTooFewBars = errors.New("not enough history to fit a forecast")

func features(b marketdata.Bar) []float64 {
	return []float64{1, b.Open, b.High, b.Low, b.Close, float64(b.Volume)}
}

// fitNextClose regresses each day's close on the previous day's OHLCV by
// ordinary least squares and predicts the close after the last bar.
func fitNextClose(bars []marketdata.Bar) (float64, error) {
	if len(bars) < minForecastBars {
		return 0, errTooFewBars
	}

	cols := len(features(bars[0]))
	rows := len(bars) - 1
	x := mat.NewDense(rows, cols, nil)
	y := mat.NewVecDense(rows, nil)
	for i := 0; i < rows; i++ {
		x.SetRow(i, features(bars[i]))
		y.SetVec(i, bars[i+1].Close)
	}

	var beta mat.VecDense
	if err := beta.SolveVec(x, y); err != nil {
		// ill-conditioned fits still produce a usable solution
		var cond mat.Condition
		if !errors.As(err, &cond) {
			return 0, fmt.Errorf("fit forecast: %w", err)
		}
	}

	last := mat.NewVecDense(cols, features(bars[len(bars)-1]))
	forecast := mat.Dot(last, &beta)
	if math.IsNaN(forecast) || math.IsInf(forecast, 0) {
		return 0, errors.New("forecast is not finite")
	}
	return forecast, nil
}
