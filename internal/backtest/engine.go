// Package backtest implements the BacktestEngine component (C9): an
// event-driven replay that fires on_bar to the DecisionEngine, executes
// resulting signals through a configurable commission/slippage model,
// tracks a cash-and-position portfolio, and reports a deterministic
// trade log, equity curve, drawdown series, and performance metrics
// (spec.md §4.9). Position sizing reuses the risk/reward vocabulary the
// teacher's risk package already establishes (RiskConfig, PositionSizingMode).
package backtest

import (
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"
	"gonum.org/v1/gonum/stat"

	"github.com/ktrdr-io/ktrdr/internal/decision"
	"github.com/ktrdr-io/ktrdr/pkg/errors"
	"github.com/ktrdr-io/ktrdr/pkg/types"
)

// Row is one aligned bar plus its decision inputs, the unit the event
// loop replays in timestamp order.
type Row struct {
	Bar        types.Bar
	Indicators map[string]float64
	Fuzzy      map[string]float64
	Model      map[types.LabelClass]float64
}

// Engine is the C9 component. It is constructed once per backtest run
// (not reused across symbols) so its portfolio state never leaks between
// independent replays.
type Engine struct {
	decisionEngine *decision.Engine
	exec           types.ExecutionConfig
	risk           types.RiskConfig
	rules          types.RulesConfig
	initialCash    float64
}

// New builds an Engine for one replay.
func New(decisionEngine *decision.Engine, exec types.ExecutionConfig, risk types.RiskConfig, rules types.RulesConfig, initialCash float64) *Engine {
	return &Engine{decisionEngine: decisionEngine, exec: exec, risk: risk, rules: rules, initialCash: initialCash}
}

// pendingOrder is a queued fill, evaluated against the next bar's open
// (spec.md §4.9: "market orders fill at next-bar open with slippage").
type pendingOrder struct {
	kind      types.OrderKind
	direction types.Direction
	quantity  float64
}

// Run replays symbol's rows (already in strictly ascending ts, per
// spec.md §5 ordering guarantees) and returns the deterministic
// BacktestResult.
func (e *Engine) Run(symbol string, rows []Row) (types.BacktestResult, error) {
	if len(rows) == 0 {
		return types.BacktestResult{}, errors.New(errors.ConfigError, "backtest requires at least one bar")
	}

	state := types.PositionFlat
	cash := e.initialCash
	var openTrade *types.Trade
	var pending *pendingOrder
	var exitPending bool

	var equityCurve []types.EquityPoint
	var trades []types.Trade
	var turnoverNotional float64
	barsInPosition := 0
	tradeSeq := 0

	for _, row := range rows {
		bar := row.Bar

		// 1. Settle any order queued on the previous bar against this bar's open.
		if pending != nil {
			fillDirection := pending.direction
			if fillDirection == types.DirectionClose && openTrade != nil && openTrade.Direction == types.DirectionShort {
				fillDirection = types.DirectionLong // covering a short buys, so it fills above the open
			}
			fillPrice := fillPriceWithSlippage(bar, fillDirection, e.exec)
			notional := fillPrice * pending.quantity
			commission := commissionFor(notional, e.exec)
			cash -= commission
			turnoverNotional += notional

			switch pending.kind {
			case types.OrderMarket:
				if state == types.PositionPendingEntry {
					cash -= notional
					tradeSeq++
					openTrade = &types.Trade{
						ID:         tradeID(symbol, bar.Timestamp, tradeSeq),
						Symbol:     symbol,
						Direction:  pending.direction,
						EntryTime:  bar.Timestamp,
						EntryPrice: fillPrice,
						Quantity:   pending.quantity,
						Commission: commission,
					}
					state = types.PositionOpen
				} else if state == types.PositionPendingExit && openTrade != nil {
					cash += notional
					openTrade.ExitTime = bar.Timestamp
					openTrade.ExitPrice = fillPrice
					openTrade.Commission += commission
					openTrade.Slippage = slippageValue(bar, e.exec)
					openTrade.PnL = realizedPnL(*openTrade)
					openTrade.ExitReason = "signal"
					trades = append(trades, *openTrade)
					openTrade = nil
					state = types.PositionFlat
				}
			}
			pending = nil
		}

		// 2. Evaluate this bar's signals (no lookahead: indicators/fuzzy
		// computed from data available up to and including this bar).
		decisionRows := []decision.Row{{
			Timestamp:          bar.Timestamp,
			Symbol:             symbol,
			IndicatorValues:    row.Indicators,
			FuzzyMemberships:   row.Fuzzy,
			ModelProbabilities: row.Model,
		}}
		signals, err := e.decisionEngine.Evaluate(decisionRows, e.rules)
		if err != nil {
			return types.BacktestResult{}, err
		}

		for _, sig := range signals {
			if sig.Type == types.SignalEntry && state == types.PositionFlat {
				equity := cash
				qty := e.positionSize(equity, bar)
				if qty <= 0 {
					continue
				}
				if exceedsExposure(equity, qty*bar.Close, e.risk) {
					continue
				}
				pending = &pendingOrder{kind: types.OrderMarket, direction: sig.Direction, quantity: qty}
				state = types.PositionPendingEntry
				exitPending = false
			} else if sig.Type == types.SignalExit && state == types.PositionOpen && !exitPending {
				pending = &pendingOrder{kind: types.OrderMarket, direction: types.DirectionClose, quantity: openTrade.Quantity}
				state = types.PositionPendingExit
				exitPending = true
			}
		}

		if state == types.PositionOpen {
			barsInPosition++
		}

		// 3. Mark equity to market.
		equity := cash
		if openTrade != nil {
			equity += markToMarket(*openTrade, bar.Close)
		}
		equityCurve = append(equityCurve, types.EquityPoint{Timestamp: bar.Timestamp, Equity: equity})
	}

	// Force-close any still-open position at the final bar's close so the
	// trade log and metrics are always complete (spec.md §4.9 determinism:
	// the trade log must be a function of the full input, not a dangling
	// partial position).
	if openTrade != nil {
		last := rows[len(rows)-1].Bar
		openTrade.ExitTime = last.Timestamp
		openTrade.ExitPrice = last.Close
		openTrade.PnL = realizedPnL(*openTrade)
		openTrade.ExitReason = "end_of_data"
		trades = append(trades, *openTrade)
	}

	drawdowns := computeDrawdowns(equityCurve)
	metrics := computeMetrics(e.initialCash, equityCurve, trades, drawdowns, turnoverNotional, barsInPosition, len(rows))

	return types.BacktestResult{
		EquityCurve:    equityCurve,
		TradeLog:       trades,
		DrawdownSeries: drawdowns,
		Metrics:        metrics,
	}, nil
}

// positionSize applies the configured sizing mode (spec.md §4.9 Portfolio).
func (e *Engine) positionSize(equity float64, bar types.Bar) float64 {
	if bar.Close <= 0 {
		return 0
	}
	switch e.risk.PositionSizing {
	case types.PositionSizingFixed:
		return e.risk.FixedSize
	case types.PositionSizingPercentRisk:
		if e.risk.StopDistanceATR <= 0 {
			return 0
		}
		riskBudget := equity * e.risk.RiskPerTrade
		return riskBudget / e.risk.StopDistanceATR
	case types.PositionSizingFixedFraction:
		fallthrough
	default:
		return (equity * e.risk.FixedFraction) / bar.Close
	}
}

func exceedsExposure(equity, notional float64, risk types.RiskConfig) bool {
	if risk.MaxExposure <= 0 {
		return false
	}
	return notional > equity*risk.MaxExposure
}

// fillPriceWithSlippage resolves the conservative (worst-for-the-trader)
// fill price for a market order at bar's open, per spec.md §4.9's
// "worst fill within the bar" tie-breaking rule.
func fillPriceWithSlippage(bar types.Bar, direction types.Direction, cfg types.ExecutionConfig) float64 {
	slip := slippageValue(bar, cfg)
	if direction == types.DirectionShort || direction == types.DirectionClose {
		return bar.Open - slip
	}
	return bar.Open + slip
}

func slippageValue(bar types.Bar, cfg types.ExecutionConfig) float64 {
	switch cfg.SlippageMode {
	case types.SlippagePercentage:
		return bar.Open * cfg.SlippageValue
	case types.SlippageVolatilityScaled:
		return (bar.High - bar.Low) * cfg.SlippageValue
	case types.SlippageFixed:
		fallthrough
	default:
		return cfg.SlippageValue
	}
}

func commissionFor(notional float64, cfg types.ExecutionConfig) float64 {
	switch cfg.CommissionMode {
	case types.CommissionPercentage:
		return notional * cfg.CommissionValue
	case types.CommissionFixed:
		fallthrough
	default:
		return cfg.CommissionValue
	}
}

// tradeID derives a stable, content-addressed trade identifier rather
// than a random one: spec.md §4.9 requires the trade log be bit-identical
// across repeated runs of identical inputs, which a random v4 UUID would
// break. uuid.NewSHA1 (v5, name-based) gives the google/uuid identifier
// shape the domain stack wires in (spec.md §3 DOMAIN STACK) without
// sacrificing determinism.
func tradeID(symbol string, entryTime time.Time, seq int) string {
	name := fmt.Sprintf("%s|%d|%d", symbol, entryTime.UnixNano(), seq)
	return uuid.NewSHA1(uuid.NameSpaceOID, []byte(name)).String()
}

func markToMarket(trade types.Trade, price float64) float64 {
	if trade.Direction == types.DirectionShort {
		return trade.Quantity * (2*trade.EntryPrice - price)
	}
	return trade.Quantity * price
}

func realizedPnL(trade types.Trade) float64 {
	gross := (trade.ExitPrice - trade.EntryPrice) * trade.Quantity
	if trade.Direction == types.DirectionShort {
		gross = -gross
	}
	return gross - trade.Commission
}

func computeDrawdowns(curve []types.EquityPoint) []types.DrawdownPoint {
	out := make([]types.DrawdownPoint, len(curve))
	peak := math.Inf(-1)
	for i, p := range curve {
		if p.Equity > peak {
			peak = p.Equity
		}
		dd := 0.0
		if peak > 0 {
			dd = (p.Equity - peak) / peak
		}
		out[i] = types.DrawdownPoint{Timestamp: p.Timestamp, Drawdown: dd}
	}
	return out
}

func computeMetrics(initialCash float64, curve []types.EquityPoint, trades []types.Trade, drawdowns []types.DrawdownPoint, turnoverNotional float64, barsInPosition, totalBars int) types.PerformanceMetrics {
	if len(curve) == 0 {
		return types.PerformanceMetrics{}
	}
	finalEquity := curve[len(curve)-1].Equity
	totalReturn := 0.0
	if initialCash > 0 {
		totalReturn = (finalEquity - initialCash) / initialCash
	}

	years := barYears(curve)
	annualized := 0.0
	if years > 0 {
		annualized = math.Pow(1+totalReturn, 1/years) - 1
	}

	returns := periodReturns(curve)
	sharpe, sortino := 0.0, 0.0
	if len(returns) > 1 {
		mean := stat.Mean(returns, nil)
		sd := stat.StdDev(returns, nil)
		if sd > 0 {
			sharpe = mean / sd * math.Sqrt(float64(len(returns)))
		}
		downside := downsideDeviation(returns)
		if downside > 0 {
			sortino = mean / downside * math.Sqrt(float64(len(returns)))
		}
	}

	maxDD := 0.0
	for _, d := range drawdowns {
		if d.Drawdown < maxDD {
			maxDD = d.Drawdown
		}
	}

	wins, grossProfit, grossLoss := 0, 0.0, 0.0
	for _, tr := range trades {
		if tr.PnL > 0 {
			wins++
			grossProfit += tr.PnL
		} else {
			grossLoss += -tr.PnL
		}
	}
	winRate := 0.0
	if len(trades) > 0 {
		winRate = float64(wins) / float64(len(trades))
	}
	profitFactor := 0.0
	if grossLoss > 0 {
		profitFactor = grossProfit / grossLoss
	} else if grossProfit > 0 {
		profitFactor = math.Inf(1)
	}

	exposure := 0.0
	if totalBars > 0 {
		exposure = float64(barsInPosition) / float64(totalBars)
	}
	turnover := 0.0
	if initialCash > 0 {
		turnover = turnoverNotional / initialCash
	}

	return types.PerformanceMetrics{
		TotalReturn:      totalReturn,
		AnnualizedReturn: annualized,
		Sharpe:           sharpe,
		Sortino:          sortino,
		MaxDrawdown:      maxDD,
		WinRate:          winRate,
		ProfitFactor:     profitFactor,
		Exposure:         exposure,
		Turnover:         turnover,
	}
}

func periodReturns(curve []types.EquityPoint) []float64 {
	if len(curve) < 2 {
		return nil
	}
	out := make([]float64, 0, len(curve)-1)
	for i := 1; i < len(curve); i++ {
		prev := curve[i-1].Equity
		if prev == 0 {
			continue
		}
		out = append(out, (curve[i].Equity-prev)/prev)
	}
	return out
}

func downsideDeviation(returns []float64) float64 {
	var sumSq float64
	var n int
	for _, r := range returns {
		if r < 0 {
			sumSq += r * r
			n++
		}
	}
	if n == 0 {
		return 0
	}
	return math.Sqrt(sumSq / float64(n))
}

func barYears(curve []types.EquityPoint) float64 {
	if len(curve) < 2 {
		return 0
	}
	span := curve[len(curve)-1].Timestamp.Sub(curve[0].Timestamp)
	return span.Hours() / (24 * 365.25)
}

