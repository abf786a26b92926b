package backtest

import (
	"fmt"
	"math"
	"time"

	"github.com/homebox25/Quant-Tutorials/pkg/indicators"
	"github.com/homebox25/Quant-Tutorials/pkg/stats"
)

// Fill 一次全仓成交
type Fill struct {
	Time  time.Time `json:"time"`
	Price float64   `json:"price"`
	Units float64   `json:"units"`
}

// CashResult is the all-in cash walk over a band strategy.
type CashResult struct {
	Initial float64 `json:"initial"`
	Final   float64 `json:"final"`

	// Value and BuyHold start at the first point with defined bands.
	Value   *stats.Series `json:"-"`
	BuyHold *stats.Series `json:"-"`

	FinalBuyHold float64 `json:"final_buy_hold"`
	Buys         []Fill  `json:"buys"`
	Sells        []Fill  `json:"sells"`
}

// SimulateCash 全仓现金模拟
//
// Long only. Below the lower band all cash buys units at the close; above
// the upper band all units are sold. Value is cash + units·price at every
// point from the first defined band on. BuyHold rebases the price to
// initialCash at that same point.
func SimulateCash(prices *stats.Series, bands indicators.Bands, initialCash float64) (*CashResult, error) {
	if !(initialCash > 0) {
		return nil, fmt.Errorf("%w: initial cash must be positive, got %v", stats.ErrInvalidParameter, initialCash)
	}
	if err := stats.CheckAligned(prices, bands.Upper, bands.Lower); err != nil {
		return nil, err
	}

	// 从上下轨首次有效的 bar 开始 (index window-1)，不再多等一根
	start := -1
	for i := 0; i < prices.Len(); i++ {
		if !math.IsNaN(bands.Upper.Value(i)) && !math.IsNaN(bands.Lower.Value(i)) {
			start = i
			break
		}
	}
	if start < 0 {
		return nil, fmt.Errorf("%w: bands are never defined over %d points", stats.ErrInsufficientData, prices.Len())
	}
	p0 := prices.Value(start)
	if !(p0 > 0) {
		return nil, fmt.Errorf("%w: price at %s must be positive, got %v",
			stats.ErrInvalidParameter, prices.Time(start).Format(time.DateOnly), p0)
	}

	res := &CashResult{Initial: initialCash}
	cash, units := initialCash, 0.0

	n := prices.Len() - start
	ts := make([]time.Time, n)
	value := make([]float64, n)
	hold := make([]float64, n)
	for k := 0; k < n; k++ {
		i := start + k
		price := prices.Value(i)
		upper, lower := bands.Upper.Value(i), bands.Lower.Value(i)

		if price > 0 {
			switch {
			case price < lower && cash > 0:
				units = cash / price
				cash = 0
				res.Buys = append(res.Buys, Fill{Time: prices.Time(i), Price: price, Units: units})
			case price > upper && units > 0:
				res.Sells = append(res.Sells, Fill{Time: prices.Time(i), Price: price, Units: units})
				cash = units * price
				units = 0
			}
		}

		ts[k] = prices.Time(i)
		value[k] = cash + units*price
		hold[k] = initialCash * price / p0
	}

	var err error
	if res.Value, err = stats.NewSeries("strategy_value", ts, value); err != nil {
		return nil, err
	}
	if res.BuyHold, err = stats.NewSeries("buy_hold_value", ts, hold); err != nil {
		return nil, err
	}
	res.Final = value[n-1]
	res.FinalBuyHold = hold[n-1]
	return res, nil
}
