package indicators

import (
	talib "github.com/markcheno/go-talib"

	"github.com/ktrdr-io/ktrdr/pkg/errors"
	"github.com/ktrdr-io/ktrdr/pkg/types"
)

var smaSpec = Spec{
	Name:   "sma",
	Params: []ParamSchema{{Name: "period", Default: 20, Kind: ParamInt, Min: floatPtr(1), Max: floatPtr(2000)}},
	WarmUp: func(params map[string]interface{}) int {
		return intParam(params, "period", 20) - 1
	},
	Compute: func(bars []types.Bar, params map[string]interface{}) (map[string][]float64, error) {
		period := intParam(params, "period", 20)
		if len(bars) < period {
			return nil, errors.Newf(errors.DataIntegrity, "sma needs at least %d bars, got %d", period, len(bars))
		}
		sma := talib.Sma(closes(bars), period)
		return map[string][]float64{"value": markUndefined(sma, period-1)}, nil
	},
}

var emaSpec = Spec{
	Name:   "ema",
	Params: []ParamSchema{{Name: "period", Default: 20, Kind: ParamInt, Min: floatPtr(1), Max: floatPtr(2000)}},
	WarmUp: func(params map[string]interface{}) int {
		return intParam(params, "period", 20) - 1
	},
	Compute: func(bars []types.Bar, params map[string]interface{}) (map[string][]float64, error) {
		period := intParam(params, "period", 20)
		if len(bars) < period {
			return nil, errors.Newf(errors.DataIntegrity, "ema needs at least %d bars, got %d", period, len(bars))
		}
		ema := talib.Ema(closes(bars), period)
		return map[string][]float64{"value": markUndefined(ema, period-1)}, nil
	},
}

var rsiSpec = Spec{
	Name:   "rsi",
	Params: []ParamSchema{{Name: "period", Default: 14, Kind: ParamInt, Min: floatPtr(2), Max: floatPtr(1000)}},
	WarmUp: func(params map[string]interface{}) int {
		return intParam(params, "period", 14)
	},
	Compute: func(bars []types.Bar, params map[string]interface{}) (map[string][]float64, error) {
		period := intParam(params, "period", 14)
		if len(bars) < period+1 {
			return nil, errors.Newf(errors.DataIntegrity, "rsi needs at least %d bars, got %d", period+1, len(bars))
		}
		rsi := talib.Rsi(closes(bars), period)
		return map[string][]float64{"value": markUndefined(rsi, period)}, nil
	},
}

var macdSpec = Spec{
	Name: "macd",
	Params: []ParamSchema{
		{Name: "fast_period", Default: 12, Kind: ParamInt, Min: floatPtr(1), Max: floatPtr(1000)},
		{Name: "slow_period", Default: 26, Kind: ParamInt, Min: floatPtr(1), Max: floatPtr(1000)},
		{Name: "signal_period", Default: 9, Kind: ParamInt, Min: floatPtr(1), Max: floatPtr(1000)},
	},
	WarmUp: func(params map[string]interface{}) int {
		slow := intParam(params, "slow_period", 26)
		signal := intParam(params, "signal_period", 9)
		return slow + signal - 1
	},
	Compute: func(bars []types.Bar, params map[string]interface{}) (map[string][]float64, error) {
		fast := intParam(params, "fast_period", 12)
		slow := intParam(params, "slow_period", 26)
		signal := intParam(params, "signal_period", 9)
		required := slow + signal
		if len(bars) < required {
			return nil, errors.Newf(errors.DataIntegrity, "macd needs at least %d bars, got %d", required, len(bars))
		}
		macd, sig, hist := talib.Macd(closes(bars), fast, slow, signal)
		warmUp := slow + signal - 1
		return map[string][]float64{
			"macd":   markUndefined(macd, warmUp),
			"signal": markUndefined(sig, warmUp),
			"hist":   markUndefined(hist, warmUp),
		}, nil
	},
}

var bbandsSpec = Spec{
	Name: "bbands",
	Params: []ParamSchema{
		{Name: "period", Default: 20, Kind: ParamInt, Min: floatPtr(1), Max: floatPtr(2000)},
		{Name: "dev_up", Default: 2.0, Kind: ParamFloat, Min: floatPtr(0), Max: floatPtr(10)},
		{Name: "dev_down", Default: 2.0, Kind: ParamFloat, Min: floatPtr(0), Max: floatPtr(10)},
	},
	WarmUp: func(params map[string]interface{}) int {
		return intParam(params, "period", 20) - 1
	},
	Compute: func(bars []types.Bar, params map[string]interface{}) (map[string][]float64, error) {
		period := intParam(params, "period", 20)
		devUp := floatParam(params, "dev_up", 2.0)
		devDown := floatParam(params, "dev_down", 2.0)
		if len(bars) < period {
			return nil, errors.Newf(errors.DataIntegrity, "bbands needs at least %d bars, got %d", period, len(bars))
		}
		upper, middle, lower := talib.BBands(closes(bars), period, devUp, devDown, talib.SMA)
		return map[string][]float64{
			"upper":  markUndefined(upper, period-1),
			"middle": markUndefined(middle, period-1),
			"lower":  markUndefined(lower, period-1),
		}, nil
	},
}

var atrSpec = Spec{
	Name:   "atr",
	Params: []ParamSchema{{Name: "period", Default: 14, Kind: ParamInt, Min: floatPtr(1), Max: floatPtr(1000)}},
	WarmUp: func(params map[string]interface{}) int {
		return intParam(params, "period", 14)
	},
	Compute: func(bars []types.Bar, params map[string]interface{}) (map[string][]float64, error) {
		period := intParam(params, "period", 14)
		if len(bars) < period+1 {
			return nil, errors.Newf(errors.DataIntegrity, "atr needs at least %d bars, got %d", period+1, len(bars))
		}
		atr := talib.Atr(highs(bars), lows(bars), closes(bars), period)
		return map[string][]float64{"value": markUndefined(atr, period)}, nil
	},
}
