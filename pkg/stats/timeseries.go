// Package stats provides statistical functions and time series analysis tools
package stats

import (
	"fmt"
	"math"
)

// Mean 计算均值
func Mean(data []float64) float64 {
	if len(data) == 0 {
		return 0
	}

	var sum float64
	for _, val := range data {
		sum += val
	}
	return sum / float64(len(data))
}

// Variance 计算总体方差 (ddof = 0)
func Variance(data []float64) float64 {
	return VarianceDDoF(data, 0)
}

// VarianceDDoF computes the variance with sum of squares divided by n - ddof.
// Returns NaN when n <= ddof.
func VarianceDDoF(data []float64, ddof int) float64 {
	n := len(data)
	if n == 0 {
		return 0
	}
	if n <= ddof {
		return math.NaN()
	}

	mean := Mean(data)
	var variance float64
	for _, val := range data {
		diff := val - mean
		variance += diff * diff
	}
	return variance / float64(n-ddof)
}

// StdDev 计算总体标准差
func StdDev(data []float64) float64 {
	return math.Sqrt(Variance(data))
}

// SampleStdDev computes the standard deviation with Bessel's correction (ddof = 1).
func SampleStdDev(data []float64) float64 {
	return math.Sqrt(VarianceDDoF(data, 1))
}

// ZScore 计算 Z-Score
// z = (x - μ) / σ
// Returns NaN when σ is below 1e-10: an undefined score is not a zero score.
func ZScore(value, mean, std float64) float64 {
	if std < 1e-10 || math.IsNaN(std) {
		return math.NaN()
	}
	return (value - mean) / std
}

// Correlation 计算 Pearson 相关系数
// r = Σ[(xi - x̄)(yi - ȳ)] / sqrt[Σ(xi - x̄)² * Σ(yi - ȳ)²]
func Correlation(x, y []float64) float64 {
	if len(x) != len(y) || len(x) == 0 {
		return 0
	}

	meanX := Mean(x)
	meanY := Mean(y)

	var numerator, varX, varY float64
	for i := range x {
		diffX := x[i] - meanX
		diffY := y[i] - meanY
		numerator += diffX * diffY
		varX += diffX * diffX
		varY += diffY * diffY
	}

	denominator := math.Sqrt(varX * varY)
	if denominator < 1e-10 {
		return 0
	}

	return numerator / denominator
}

// Regression is the result of an ordinary least squares fit y = Intercept + Slope*x + residual.
type Regression struct {
	Slope     float64
	Intercept float64
	Residuals []float64
	N         int
}

// Predict returns the fitted value at x.
func (r Regression) Predict(x float64) float64 {
	return r.Intercept + r.Slope*x
}

// OLS 普通最小二乘回归 y = intercept + slope * x
//
// The regressor must have non-zero variance relative to its magnitude; a flat
// x has no defined slope and is reported as ErrDegenerateFit.
func OLS(x, y []float64) (Regression, error) {
	if len(x) != len(y) {
		return Regression{}, fmt.Errorf("%w: x has %d values, y has %d", ErrLengthMismatch, len(x), len(y))
	}
	n := len(x)
	if n < 2 {
		return Regression{}, fmt.Errorf("%w: regression needs at least 2 observations, have %d", ErrInsufficientData, n)
	}
	for i := range x {
		if math.IsNaN(x[i]) || math.IsNaN(y[i]) || math.IsInf(x[i], 0) || math.IsInf(y[i], 0) {
			return Regression{}, fmt.Errorf("%w: non-finite value at index %d", ErrInvalidParameter, i)
		}
	}

	meanX := Mean(x)
	meanY := Mean(y)

	var sxy, sxx, sumSq float64
	for i := range x {
		dx := x[i] - meanX
		sxy += dx * (y[i] - meanY)
		sxx += dx * dx
		sumSq += x[i] * x[i]
	}

	// 相对阈值，与价格量纲无关
	if sxx <= 1e-12*sumSq {
		return Regression{}, fmt.Errorf("%w: regressor has no variance", ErrDegenerateFit)
	}

	slope := sxy / sxx
	intercept := meanY - slope*meanX

	residuals := make([]float64, n)
	for i := range x {
		residuals[i] = y[i] - intercept - slope*x[i]
	}

	return Regression{
		Slope:     slope,
		Intercept: intercept,
		Residuals: residuals,
		N:         n,
	}, nil
}
