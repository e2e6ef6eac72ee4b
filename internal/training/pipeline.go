// Package training implements the TrainingPipeline component (C6): a pure
// work-function family with no progress/cancellation logic of its own — it
// accepts an optional progress callback and cancellation token and passes
// them straight through to the training loop (spec.md §4.6 preamble).
package training

import (
	"context"
	"math/rand"
	"sort"
	"time"

	"github.com/panjf2000/ants/v2"
	"go.uber.org/zap"

	"github.com/ktrdr-io/ktrdr/internal/datamanager"
	"github.com/ktrdr-io/ktrdr/internal/fuzzy"
	"github.com/ktrdr-io/ktrdr/internal/indicators"
	"github.com/ktrdr-io/ktrdr/pkg/errors"
	"github.com/ktrdr-io/ktrdr/pkg/types"
)

// Pipeline wires the upstream components (DataManager, IndicatorEngine,
// FuzzyEngine) and the model directory TrainStrategy persists into.
type Pipeline struct {
	data      *datamanager.DataManager
	indicator *indicators.Engine
	fuzzyEng  *fuzzy.Engine
	modelDir  string
	logger    *zap.Logger

	symbolConcurrency int
}

// New builds a Pipeline. symbolConcurrency bounds how many symbols'
// indicator/fuzzy/feature-building stages run at once (grounded on the
// same panjf2000/ants submit-and-wait idiom DataManager uses for its
// per-range fetches).
func New(data *datamanager.DataManager, indicator *indicators.Engine, fuzzyEng *fuzzy.Engine, modelDir string, symbolConcurrency int, logger *zap.Logger) *Pipeline {
	if symbolConcurrency <= 0 {
		symbolConcurrency = 4
	}
	return &Pipeline{data: data, indicator: indicator, fuzzyEng: fuzzyEng, modelDir: modelDir, logger: logger, symbolConcurrency: symbolConcurrency}
}

// TrainStrategy is the C6 high-level operation (spec.md §4.6 steps 1-10).
// It loads bars for every (symbol, timeframe) pair from DataManager,
// computes indicators and fuzzy memberships, builds per-symbol feature
// datasets, concatenates them in the caller's symbol order, splits
// time-ordered (or seeded-random, if explicitly configured), normalizes
// from training-split statistics, trains a feed-forward classifier, and
// atomically persists the resulting model artifact.
//
// Multi-timeframe strategies use the first configured timeframe as the
// primary feature grid per symbol; additional timeframes are validated for
// data sufficiency (step 1) but are not yet fused into the feature matrix —
// multi-timeframe feature fusion is a documented extension point, not an
// implemented one.
func (p *Pipeline) TrainStrategy(ctx context.Context, symbols []string, start, end time.Time, cfg types.StrategyConfig, mode datamanager.LoadMode, progressCb ProgressFunc, cancelTok CancelToken) (types.Result, error) {
	if len(symbols) == 0 {
		return types.Result{}, errors.New(errors.ConfigError, "trainStrategy requires at least one symbol")
	}
	if len(cfg.Timeframes) == 0 {
		return types.Result{}, errors.New(errors.ConfigError, "strategy config declares no timeframes")
	}
	primary := cfg.Timeframes[0]

	bySymbol, summary, err := p.loadAndBuildDatasets(ctx, symbols, cfg.Timeframes, start, end, primary, cfg, mode)
	if err != nil {
		return types.Result{}, err
	}

	names := featureNames(cfg.Features)
	ds := concatenate(names, symbols, bySymbol)
	if len(ds.Features) == 0 {
		return types.Result{}, errors.New(errors.DataIntegrity, "no training rows survived feature construction across all symbols")
	}

	split := splitDataset(ds, cfg.Training)
	if len(split.Train) == 0 || len(split.Val) == 0 || len(split.Test) == 0 {
		return types.Result{}, errors.New(errors.ConfigError, "train/val/test split produced an empty partition; check val_split/test_split")
	}

	trainX, trainY, _ := subset(ds, split.Train)
	valX, valY, _ := subset(ds, split.Val)
	testX, testY, testSymbols := subset(ds, split.Test)

	stats := computeNormalization(ds.Features, split.Train)
	applyNormalization(trainX, stats)
	applyNormalization(valX, stats)
	applyNormalization(testX, stats)

	rng := rand.New(rand.NewSource(cfg.Training.Seed))
	net, err := newNetwork(len(names), cfg.Model, classOrder(), rng)
	if err != nil {
		return types.Result{}, err
	}

	trainingMetrics, err := runTraining(net, cfg.Training, trainX, valX, trainY, valY, progressCb, cancelTok)
	if err != nil {
		if errors.Is(err, errors.Cancelled) {
			return types.Result{Status: types.ResultCancelled}, nil
		}
		return types.Result{}, err
	}

	testMetrics := evaluateTestSplit(net, testX, testY)
	perSymbolMetrics := evaluatePerSymbol(net, testX, testY, testSymbols)

	labelClasses := make([]types.LabelClass, len(classOrder()))
	copy(labelClasses, classOrder())

	artifact := types.ModelArtifact{
		Architecture:    cfg.Model,
		FeatureNames:    names,
		LabelClasses:    labelClasses,
		Normalization:   stats,
		StrategyConfig:  cfg,
		TrainingMetrics: trainingMetrics,
		CreatedAt:       time.Now().UTC(),
	}

	persisted, err := persistArtifact(p.modelDir, net, artifact)
	if err != nil {
		return types.Result{}, err
	}

	parameterCount := 0
	for _, l := range net.Layers {
		r, c := l.W.Dims()
		parameterCount += r*c + c
	}

	return types.Result{
		ModelPath:       persisted.ModelPath,
		TrainingMetrics: trainingMetrics,
		TestMetrics:     testMetrics,
		Artifacts:       types.Artifacts{PerSymbolMetrics: perSymbolMetrics},
		ModelInfo: types.ModelInfo{
			Architecture:   cfg.Model.Architecture,
			ParameterCount: parameterCount,
			FeatureNames:   names,
			LabelClasses:   labelClasses,
		},
		DataSummary: summary,
		Status:      types.ResultCompleted,
	}, nil
}

// loadAndBuildDatasets runs DataManager/IndicatorEngine/FuzzyEngine for
// every symbol concurrently (bounded by symbolConcurrency), requiring all
// symbols to succeed (spec.md §4.6 step 1: "require all to succeed").
// Indicator/fuzzy computation happens independently per symbol's bar
// slice, which structurally resets any warm-up state at the symbol
// boundary (step 5's concatenation safety requirement).
func (p *Pipeline) loadAndBuildDatasets(ctx context.Context, symbols []string, timeframes []types.Timeframe, start, end time.Time, primary types.Timeframe, cfg types.StrategyConfig, mode datamanager.LoadMode) (map[string]symbolDataset, types.DataSummary, error) {
	pool, err := ants.NewPool(p.symbolConcurrency)
	if err != nil {
		return nil, types.DataSummary{}, errors.Wrap(err, errors.ConfigError, "creating training pipeline worker pool")
	}
	defer pool.Release()

	type outcome struct {
		symbol  string
		dataset symbolDataset
		count   int
		err     error
	}
	results := make([]outcome, len(symbols))
	done := make(chan struct{}, len(symbols))

	for i, symbol := range symbols {
		i, symbol := i, symbol
		submitErr := pool.Submit(func() {
			defer func() { done <- struct{}{} }()
			for _, tf := range timeframes {
				key := types.SeriesKey{Symbol: symbol, Timeframe: tf}
				if _, _, err := p.data.LoadData(ctx, key, start, end, mode); err != nil {
					results[i] = outcome{symbol: symbol, err: errors.Wrapf(err, errors.GetKind(err), "loading data for %s@%s", symbol, tf)}
					return
				}
			}

			primaryKey := types.SeriesKey{Symbol: symbol, Timeframe: primary}
			bars, _, err := p.data.LoadData(ctx, primaryKey, start, end, mode)
			if err != nil {
				results[i] = outcome{symbol: symbol, err: err}
				return
			}

			indicatorFrames := make(map[string]types.IndicatorFrame, len(cfg.Indicators))
			for _, ic := range cfg.Indicators {
				frame, err := p.indicator.Compute(ic.Name, bars, ic.Params)
				if err != nil {
					results[i] = outcome{symbol: symbol, err: errors.Wrapf(err, errors.GetKind(err), "computing indicator %s for %s", ic.Name, symbol)}
					return
				}
				indicatorFrames[ic.Name] = frame
			}

			fuzzySets, fuzzyFrame := make([]types.FuzzySet, 0, len(cfg.FuzzySets)), types.FuzzyFrame{}
			if len(cfg.FuzzySets) > 0 {
				for _, fc := range cfg.FuzzySets {
					fuzzySets = append(fuzzySets, types.FuzzySet{Name: fc.Name, InputName: fc.Input, Kind: toTriangular(fc.Params), Scale: toScale(fc.Params)})
				}
				fuzzyFrame, err = p.fuzzyEng.Evaluate(fuzzySets, indicatorFrames)
				if err != nil {
					results[i] = outcome{symbol: symbol, err: errors.Wrapf(err, errors.GetKind(err), "evaluating fuzzy sets for %s", symbol)}
					return
				}
			}

			ds, err := buildSymbolDataset(symbol, bars, indicatorFrames, fuzzyFrame, cfg)
			if err != nil {
				results[i] = outcome{symbol: symbol, err: err}
				return
			}
			results[i] = outcome{symbol: symbol, dataset: ds, count: len(ds.Rows)}
		})
		if submitErr != nil {
			return nil, types.DataSummary{}, errors.Wrap(submitErr, errors.ConnectionLost, "submitting per-symbol pipeline task")
		}
	}
	for range symbols {
		<-done
	}

	bySymbol := make(map[string]symbolDataset, len(symbols))
	counts := make(map[string]int, len(symbols))
	for _, res := range results {
		if res.err != nil {
			return nil, types.DataSummary{}, res.err
		}
		bySymbol[res.symbol] = res.dataset
		counts[res.symbol] = res.count
	}

	total := 0
	for _, c := range counts {
		total += c
	}
	sortedTFs := append([]types.Timeframe{}, timeframes...)
	sort.Slice(sortedTFs, func(i, j int) bool { return sortedTFs[i] < sortedTFs[j] })

	return bySymbol, types.DataSummary{
		Symbols: symbols, Timeframes: sortedTFs, SampleCountsPerSymbol: counts,
		TotalSamples: total, DateRangeStart: start, DateRangeEnd: end,
	}, nil
}

// toTriangular reads a,b,c from a fuzzy set's yaml params map. Config
// validation at load time (internal/config.validateTriangular) guarantees
// these keys are present numeric values and satisfy a<=b<=c before a
// Pipeline ever sees the config; this falls back to 0 only for params
// built directly in tests that bypass LoadStrategyConfig.
func toTriangular(params map[string]interface{}) types.Triangular {
	get := func(key string) float64 {
		switch n := params[key].(type) {
		case float64:
			return n
		case int:
			return float64(n)
		case int64:
			return float64(n)
		}
		return 0
	}
	return types.Triangular{A: get("a"), B: get("b"), C: get("c")}
}

// toScale reads an optional "scale" param ("linear"|"log"), defaulting to
// linear — most fuzzy sets (RSI, oscillators already bounded [0,100]) need
// no transform; log scale exists for unbounded inputs like volume.
func toScale(params map[string]interface{}) types.ScaleKind {
	if v, ok := params["scale"].(string); ok && v == string(types.ScaleLog) {
		return types.ScaleLog
	}
	return types.ScaleLinear
}
