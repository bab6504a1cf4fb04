package strategyconfig

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/wonny/cepfolio/internal/backtest"
)

func validYAML() string {
	return `
meta:
  strategy_id: test_topn
  version: "1.0.0"
  timezone: UTC
chart:
  subgroup_size: 3
  subgroups: 60
  a2: 1.023
  d3: 0.0
  d4: 2.574
  warmup_end: "2021-06-30"
  buffer: 2
ranking:
  warmup_start: "2021-01-04"
  decision_start: "2021-07-01"
  cp_window: 20
championship:
  points_table: [25, 18, 15, 12, 10, 8, 6, 4, 2, 1]
  pool_size: 15
portfolio:
  initial_capital: 100000
  cost_rate: 0.00025
  top_n: 10
  w_init: 0.10
  w_existing: 0.15
  w_new: 0.10
sell_policy:
  lookback: 60
  min_periods: 20
  top_k: 3
  min_score: 4
  epsilon: 0.2
  actions: [0, 25, 50, 100]
  prior: 0.5
  reward_delay: 3
  horizon: 3
  oracle_sigma_mult: 2.0
matrix:
  regime_windows: [30, 45, 60]
  policies: [stress, deterministic, bandit]
`
}

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "strategy.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoad(t *testing.T) {
	cfg, yamlData, err := Load(writeConfig(t, validYAML()))
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Meta.StrategyID != "test_topn" {
		t.Errorf("expected strategy_id=test_topn, got %s", cfg.Meta.StrategyID)
	}
	if len(yamlData) == 0 {
		t.Error("expected raw yaml bytes")
	}

	hash, err := Hash(cfg)
	if err != nil {
		t.Fatalf("Hash failed: %v", err)
	}
	if len(hash) != 64 {
		t.Errorf("expected 64 char hash, got %d", len(hash))
	}
	hash2, _ := Hash(cfg)
	if hash != hash2 {
		t.Error("hash not deterministic")
	}
}

func TestLoadRejectsUnknownField(t *testing.T) {
	content := validYAML() + "\nmystery_section:\n  foo: 1\n"
	if _, _, err := Load(writeConfig(t, content)); err == nil {
		t.Fatal("expected unknown field error")
	}
}

func TestValidateOrderingConstraints(t *testing.T) {
	cfg, _, err := Load(writeConfig(t, validYAML()))
	if err != nil {
		t.Fatal(err)
	}

	bad := *cfg
	bad.Ranking.DecisionStart = "2020-01-02" // before warmup_start
	if err := Validate(&bad); err == nil {
		t.Error("expected decision_start ordering error")
	}

	bad = *cfg
	bad.Championship.PointsTable = []int{10, 25}
	if err := Validate(&bad); err == nil {
		t.Error("expected non-increasing points table error")
	}

	bad = *cfg
	bad.SellPolicy.Actions = []float64{0, 50, 25}
	if err := Validate(&bad); err == nil {
		t.Error("expected ascending actions error")
	}

	bad = *cfg
	bad.Matrix.Policies = []string{"stress", "oracle"}
	if err := Validate(&bad); err == nil {
		t.Error("expected unknown policy error")
	}
}

func TestWarn(t *testing.T) {
	cfg, _, err := Load(writeConfig(t, validYAML()))
	if err != nil {
		t.Fatal(err)
	}
	cfg.Portfolio.CostRate = 0
	cfg.SellPolicy.Epsilon = 0.8
	cfg.Portfolio.TopN = 20

	warnings := Warn(cfg)
	if len(warnings) < 3 {
		t.Errorf("expected at least 3 warnings, got %d", len(warnings))
	}
}

func TestBacktestConfig(t *testing.T) {
	cfg, _, err := Load(writeConfig(t, validYAML()))
	if err != nil {
		t.Fatal(err)
	}

	bc, err := cfg.BacktestConfig()
	if err != nil {
		t.Fatalf("BacktestConfig failed: %v", err)
	}
	if bc.CEP.Subgroups != 60 || bc.CEP.SubgroupSize != 3 {
		t.Errorf("chart params not mapped: %+v", bc.CEP)
	}
	if got := bc.Ranking.DecisionStart.Format("2006-01-02"); got != "2021-07-01" {
		t.Errorf("decision_start not mapped, got %s", got)
	}
	if bc.Portfolio.TopN != 10 || bc.Policy.Epsilon != 0.2 {
		t.Error("portfolio/policy params not mapped")
	}
}

func TestSpecsExpandMatrix(t *testing.T) {
	cfg, _, err := Load(writeConfig(t, validYAML()))
	if err != nil {
		t.Fatal(err)
	}

	specs := cfg.Specs()
	// stress once + 2 policies x 3 windows
	if len(specs) != 7 {
		t.Fatalf("expected 7 specs, got %d", len(specs))
	}
	if specs[0].Policy != backtest.PolicyStress {
		t.Errorf("expected stress first, got %s", specs[0].Policy)
	}
	names := make(map[string]bool)
	for _, s := range specs {
		names[s.Name] = true
	}
	for _, want := range []string{"stress_baseline", "deterministic_w45", "bandit_w60"} {
		if !names[want] {
			t.Errorf("missing spec %s", want)
		}
	}
}

func TestDecisionSnapshot(t *testing.T) {
	cfg, yamlData, err := Load(writeConfig(t, validYAML()))
	if err != nil {
		t.Fatal(err)
	}

	snapshot, err := NewDecisionSnapshot(cfg, yamlData, "abc123", "panel_20210701")
	if err != nil {
		t.Fatalf("NewDecisionSnapshot failed: %v", err)
	}
	if snapshot.StrategyID != "test_topn" {
		t.Errorf("expected strategy_id=test_topn, got %s", snapshot.StrategyID)
	}
	if snapshot.GitCommit != "abc123" {
		t.Errorf("expected git_commit=abc123, got %s", snapshot.GitCommit)
	}
	if len(snapshot.ConfigHash) != 64 {
		t.Errorf("expected 64 char hash, got %d", len(snapshot.ConfigHash))
	}
}
