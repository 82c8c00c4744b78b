// Package greeks computes Black-Scholes option sensitivities, used as a
// local fallback when the terminal returns implied vol but no analytics.
package greeks

import (
	"errors"
	"math"

	"gonum.org/v1/gonum/stat/distuv"
)

var stdNormal = distuv.Normal{Mu: 0, Sigma: 1}

// Inputs for one contract. Sigma is annualised implied volatility as a
// fraction (0.25 = 25%), T is years to expiry.
type Inputs struct {
	Spot   float64
	Strike float64
	T      float64
	Rate   float64
	Sigma  float64
	IsCall bool
}

// Greeks holds the five standard sensitivities. Theta is per calendar day;
// vega and rho are per percentage point, matching terminal conventions.
type Greeks struct {
	Delta float64
	Gamma float64
	Theta float64
	Vega  float64
	Rho   float64
}

// ErrInvalidInputs indicates non-positive spot, strike, time, or vol.
var ErrInvalidInputs = errors.New("greeks: inputs must be positive")

// Compute returns all five Greeks for the given inputs.
func Compute(in Inputs) (Greeks, error) {
	if in.Spot <= 0 || in.Strike <= 0 || in.T <= 0 || in.Sigma <= 0 {
		return Greeks{}, ErrInvalidInputs
	}

	sqrtT := math.Sqrt(in.T)
	d1 := (math.Log(in.Spot/in.Strike) + (in.Rate+0.5*in.Sigma*in.Sigma)*in.T) / (in.Sigma * sqrtT)
	d2 := d1 - in.Sigma*sqrtT

	discount := math.Exp(-in.Rate * in.T)
	pdfD1 := stdNormal.Prob(d1)

	var g Greeks

	if in.IsCall {
		g.Delta = stdNormal.CDF(d1)
		g.Theta = (-in.Spot*pdfD1*in.Sigma/(2*sqrtT) - in.Rate*in.Strike*discount*stdNormal.CDF(d2)) / 365
		g.Rho = in.Strike * in.T * discount * stdNormal.CDF(d2) / 100
	} else {
		g.Delta = stdNormal.CDF(d1) - 1
		g.Theta = (-in.Spot*pdfD1*in.Sigma/(2*sqrtT) + in.Rate*in.Strike*discount*stdNormal.CDF(-d2)) / 365
		g.Rho = -in.Strike * in.T * discount * stdNormal.CDF(-d2) / 100
	}

	g.Gamma = pdfD1 / (in.Spot * in.Sigma * sqrtT)
	g.Vega = in.Spot * pdfD1 * sqrtT / 100

	return g, nil
}
