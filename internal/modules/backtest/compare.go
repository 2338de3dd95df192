package backtest

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"paperbot/internal/config"
	"paperbot/internal/domain"
	"paperbot/pkg/formulas"
)

// Scenario is one reliability configuration for the comparison study.
type Scenario struct {
	Name      string  `yaml:"name" json:"name"`
	MissProb  float64 `yaml:"miss_prob" json:"miss_prob"`
	DelayDays int     `yaml:"delay_days" json:"delay_days"`
}

// CompareConfig drives RunComparison: every scenario is simulated once per
// seed against otherwise identical strategy parameters.
type CompareConfig struct {
	Seeds     []int64    `yaml:"seeds" json:"seeds"`
	Scenarios []Scenario `yaml:"scenarios" json:"scenarios"`
}

// ScenarioResult aggregates one scenario's runs across seeds. The impact
// fields are relative to the baseline run without a miss model.
type ScenarioResult struct {
	Scenario       Scenario `json:"scenario"`
	Runs           int      `json:"runs"`
	MeanReturn     float64  `json:"mean_total_return"`
	StdevReturn    float64  `json:"stdev_total_return"`
	MeanMaxDD      float64  `json:"mean_max_drawdown"`
	StdevMaxDD     float64  `json:"stdev_max_drawdown"`
	MeanMissed     float64  `json:"mean_missed"`
	MeanDelayed    float64  `json:"mean_delayed"`
	ReturnImpact   float64  `json:"return_impact"`
	DrawdownImpact float64  `json:"drawdown_impact"`
}

// Comparison holds the reliability study output.
type Comparison struct {
	Baseline  ScenarioResult   `json:"baseline"`
	Scenarios []ScenarioResult `json:"scenarios"`
}

// LoadCompareConfig reads scenario definitions from a YAML file. Missing
// seeds fall back to the default set.
func LoadCompareConfig(path string) (*CompareConfig, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading scenario file: %w", err)
	}

	var cfg CompareConfig
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return nil, fmt.Errorf("parsing scenario file %s: %w", path, err)
	}

	if len(cfg.Seeds) == 0 {
		cfg.Seeds = DefaultCompareConfig().Seeds
	}
	if len(cfg.Scenarios) == 0 {
		return nil, fmt.Errorf("scenario file %s lists no scenarios", path)
	}
	for i, sc := range cfg.Scenarios {
		if sc.Name == "" {
			return nil, fmt.Errorf("scenario %d has no name", i)
		}
		if sc.MissProb < 0 || sc.MissProb > 1 {
			return nil, fmt.Errorf("scenario %s: miss_prob %v outside [0, 1]", sc.Name, sc.MissProb)
		}
		if sc.DelayDays < 0 {
			return nil, fmt.Errorf("scenario %s: delay_days must not be negative", sc.Name)
		}
	}
	return &cfg, nil
}

// DefaultCompareConfig is the study used when no scenario file is given:
// a ladder of scheduler failure rates with and without catch-up retries.
func DefaultCompareConfig() CompareConfig {
	return CompareConfig{
		Seeds: []int64{42, 43, 44, 45, 46},
		Scenarios: []Scenario{
			{Name: "miss-10pct", MissProb: 0.10, DelayDays: 0},
			{Name: "miss-10pct-retry-2d", MissProb: 0.10, DelayDays: 2},
			{Name: "miss-25pct-retry-2d", MissProb: 0.25, DelayDays: 2},
			{Name: "miss-50pct-retry-5d", MissProb: 0.50, DelayDays: 5},
		},
	}
}

// RunComparison backtests the baseline configuration and each scenario
// across every seed, then reports per-scenario return and drawdown
// statistics against the baseline. The baseline never consults the miss
// model, so a single run covers it.
func (s *Simulator) RunComparison(bars map[string][]domain.Bar, cc CompareConfig) (*Comparison, error) {
	if len(cc.Seeds) == 0 || len(cc.Scenarios) == 0 {
		return nil, fmt.Errorf("comparison needs at least one seed and one scenario")
	}

	prep, err := s.prepare(bars)
	if err != nil {
		return nil, err
	}

	baselineParams := s.params
	baselineParams.MissRebalanceProb = 0
	baselineParams.RebalanceDelayDays = 0
	baseline, err := s.runScenario(prep, Scenario{Name: "baseline"}, baselineParams, cc.Seeds[:1])
	if err != nil {
		return nil, err
	}

	out := &Comparison{Baseline: baseline}
	for _, sc := range cc.Scenarios {
		params := s.params
		params.MissRebalanceProb = sc.MissProb
		params.RebalanceDelayDays = sc.DelayDays

		res, err := s.runScenario(prep, sc, params, cc.Seeds)
		if err != nil {
			return nil, err
		}
		res.ReturnImpact = res.MeanReturn - baseline.MeanReturn
		res.DrawdownImpact = res.MeanMaxDD - baseline.MeanMaxDD
		out.Scenarios = append(out.Scenarios, res)

		s.log.Info().
			Str("scenario", sc.Name).
			Float64("mean_return", res.MeanReturn).
			Float64("return_impact", res.ReturnImpact).
			Float64("mean_missed", res.MeanMissed).
			Msg("Scenario compared")
	}

	return out, nil
}

func (s *Simulator) runScenario(prep *prepared, sc Scenario, params config.Strategy, seeds []int64) (ScenarioResult, error) {
	totalReturns := make([]float64, 0, len(seeds))
	maxDDs := make([]float64, 0, len(seeds))
	var missedSum, delayedSum float64

	for _, seed := range seeds {
		p := params
		p.SimSeed = seed

		res, err := NewSimulator(p, s.benchmark, s.log).runPrepared(prep)
		if err != nil {
			return ScenarioResult{}, fmt.Errorf("scenario %s seed %d: %w", sc.Name, seed, err)
		}
		totalReturns = append(totalReturns, res.Stats.TotalReturn)
		maxDDs = append(maxDDs, res.Stats.MaxDrawdown)
		missedSum += float64(res.Missed)
		delayedSum += float64(res.Delayed)
	}

	return ScenarioResult{
		Scenario:    sc,
		Runs:        len(seeds),
		MeanReturn:  formulas.Mean(totalReturns),
		StdevReturn: formulas.StdDev(totalReturns),
		MeanMaxDD:   formulas.Mean(maxDDs),
		StdevMaxDD:  formulas.StdDev(maxDDs),
		MeanMissed:  missedSum / float64(len(seeds)),
		MeanDelayed: delayedSum / float64(len(seeds)),
	}, nil
}
