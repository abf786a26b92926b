// Package spread builds a hedged spread between two price series
package spread

import (
	"fmt"

	"github.com/homebox25/Quant-Tutorials/pkg/stats"
)

// SpreadType 定义 spread 计算类型
type SpreadType string

const (
	// SpreadTypeOLS 回归 spread: A - hedgeRatio * B, hedgeRatio fit by OLS of A on B
	SpreadTypeOLS SpreadType = "ols"

	// SpreadTypeNormalized 归一化 spread: A/A0 - B/B0, both legs rebased to 1
	SpreadTypeNormalized SpreadType = "normalized"

	// SpreadTypeLog 对数 spread: log(A) - hedgeRatio * log(B)
	// 常用于协整分析
	SpreadTypeLog SpreadType = "log"
)

// Config controls how a spread is built.
type Config struct {
	Type SpreadType `yaml:"type"`

	// IncludeIntercept subtracts the fitted intercept from the spread.
	// Off by default: the spread is A - h*B and downstream z-scoring
	// re-estimates the mean.
	IncludeIntercept bool `yaml:"include_intercept"`

	// Align inner-joins the two series on timestamp before fitting.
	// Without it, differing timestamps are an alignment error.
	Align bool `yaml:"align"`
}

// DefaultConfig returns the OLS spread without intercept.
func DefaultConfig() Config {
	return Config{Type: SpreadTypeOLS}
}

// Validate checks the spread type.
func (c Config) Validate() error {
	switch c.Type {
	case SpreadTypeOLS, SpreadTypeNormalized, SpreadTypeLog:
		return nil
	case "":
		return fmt.Errorf("%w: spread type is required", stats.ErrInvalidParameter)
	default:
		return fmt.Errorf("%w: unknown spread type %q", stats.ErrInvalidParameter, c.Type)
	}
}

// Result is the fitted hedge and the spread it produces.
type Result struct {
	Type       SpreadType
	HedgeRatio float64 // 对冲比率（Beta）
	Intercept  float64
	Spread     *stats.Series
}

// SpreadStats spread 统计信息
type SpreadStats struct {
	CurrentSpread float64 // 当前 spread 值
	Mean          float64 // Spread 均值
	Std           float64 // Spread 标准差
	ZScore        float64 // 最新点相对全样本的 Z-Score
	Correlation   float64 // 价格相关系数
	HedgeRatio    float64 // 对冲比率（Beta）
	Observations  int
}
