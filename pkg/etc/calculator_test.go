package etc

import (
	"math"
	"testing"

	"gonum.org/v1/gonum/mat"

	"github.com/HatiCode/snrcast/pkg/ratemodel"
)

func closeTo(got, want, rtol float64) bool {
	return math.Abs(got-want) <= rtol*math.Abs(want)
}

func baseConfig() Config {
	return Config{
		Alpha: 1, DAlpha: 0.1,
		Beta: 1, DBeta: 0.1,
		Signal:     ratemodel.Prior{Rate: 1.0, Sigma: 0.5, Tcorr: 2000},
		Background: ratemodel.Prior{Rate: 1.0, Sigma: 0.5, Tcorr: 2000},
		T0:         0,
		SNRGoal:    10,
	}
}

func TestNew_Validation(t *testing.T) {
	mutations := map[string]func(*Config){
		"zero alpha":           func(c *Config) { c.Alpha = 0 },
		"negative dalpha":      func(c *Config) { c.DAlpha = -0.1 },
		"zero beta":            func(c *Config) { c.Beta = 0 },
		"negative dbeta":       func(c *Config) { c.DBeta = -0.1 },
		"zero signal prior":    func(c *Config) { c.Signal.Rate = 0 },
		"zero signal sigma":    func(c *Config) { c.Signal.Sigma = 0 },
		"zero signal tcorr":    func(c *Config) { c.Signal.Tcorr = 0 },
		"zero background rate": func(c *Config) { c.Background.Rate = 0 },
		"zero snr goal":        func(c *Config) { c.SNRGoal = 0 },
		"negative dtmax":       func(c *Config) { c.DTMax = -1 },
		"npred too small":      func(c *Config) { c.NPred = 1 },
	}

	for name, mutate := range mutations {
		t.Run(name, func(t *testing.T) {
			cfg := baseConfig()
			mutate(&cfg)
			if _, err := New(cfg); err == nil {
				t.Fatal("New() accepted invalid config, want error")
			}
		})
	}
}

// TestInitialForecast checks the prior-only forecast against the closed
// form for constant rates: remaining = goal²·(α·s0 + β·b0)/(α·s0)².
func TestInitialForecast(t *testing.T) {
	const (
		snrGoal = 10.0
		dsig0   = 0.1
		dbg0    = 0.2
		t0      = 1e6
		tcorr   = 1e3
	)
	for _, alpha := range []float64{0.5, 2.0} {
		for _, beta := range []float64{0.5, 2.0} {
			for _, sig0 := range []float64{0.9, 1.1} {
				for _, bg0 := range []float64{0.9, 1.1} {
					calc, err := New(Config{
						Alpha: alpha, Beta: beta,
						Signal:     ratemodel.Prior{Rate: sig0, Sigma: dsig0, Tcorr: tcorr},
						Background: ratemodel.Prior{Rate: bg0, Sigma: dbg0, Tcorr: tcorr},
						T0:         t0,
						SNRGoal:    snrGoal,
						Seed:       123,
					})
					if err != nil {
						t.Fatalf("New() error = %v", err)
					}
					if calc.WillTimeout() {
						t.Errorf("alpha=%v beta=%v sig0=%v bg0=%v: WillTimeout() = true", alpha, beta, sig0, bg0)
					}
					want := snrGoal * snrGoal * (alpha*sig0 + beta*bg0) / ((alpha * sig0) * (alpha * sig0))
					got, err := calc.Remaining(t0)
					if err != nil {
						t.Fatalf("Remaining() error = %v", err)
					}
					if !closeTo(got, want, 2e-3) {
						t.Errorf("alpha=%v beta=%v sig0=%v bg0=%v: Remaining(t0) = %v, want %v",
							alpha, beta, sig0, bg0, got, want)
					}
				}
			}
		}
	}
}

func colMoments(m *mat.Dense, col int) (mean, std float64) {
	rows, _ := m.Dims()
	var sum, sum2 float64
	for r := 0; r < rows; r++ {
		v := m.At(r, col)
		sum += v
		sum2 += v * v
	}
	mean = sum / float64(rows)
	std = math.Sqrt(sum2/float64(rows) - mean*mean)
	return mean, std
}

// TestInitialSamples verifies the Monte-Carlo consistency of prior-only
// samples: means recover the calibrated prior rates and standard deviations
// recover the propagated prior errors, in both correlation-time regimes and
// with and without calibration error on alpha.
func TestInitialSamples(t *testing.T) {
	const (
		alpha, beta = 0.5, 1.2
		sig0, bg0   = 0.9, 1.1
		dsig0, dbg0 = 0.10, 0.15
		dbeta       = 0.15
		t0          = 1e6
		dtmax       = 4000.0
		nsamples    = 10000
	)
	for _, dalpha := range []float64{0, 0.10} {
		for _, tcorr := range []float64{1e-2 * dtmax, 1e2 * dtmax} {
			calc, err := New(Config{
				Alpha: alpha, DAlpha: dalpha,
				Beta: beta, DBeta: dbeta,
				Signal:     ratemodel.Prior{Rate: sig0, Sigma: dsig0, Tcorr: tcorr},
				Background: ratemodel.Prior{Rate: bg0, Sigma: dbg0, Tcorr: tcorr},
				T0:         t0,
				SNRGoal:    10,
				DTMax:      dtmax,
				NPred:      51,
				Seed:       123,
			})
			if err != nil {
				t.Fatalf("New() error = %v", err)
			}

			spred := alpha * sig0
			dspred := spred * math.Hypot(dalpha/alpha, dsig0/sig0)
			bpred := beta * bg0
			dbpred := bpred * math.Hypot(dbeta/beta, dbg0/bg0)

			sig, bg, err := calc.Samples(calc.Grid(), nsamples)
			if err != nil {
				t.Fatalf("Samples() error = %v", err)
			}
			_, cols := sig.Dims()
			for col := 0; col < cols; col += 10 {
				smean, sstd := colMoments(sig, col)
				bmean, bstd := colMoments(bg, col)
				if !closeTo(smean, spred, 0.01) {
					t.Errorf("dalpha=%v tcorr=%v: signal mean[%d] = %v, want ~%v", dalpha, tcorr, col, smean, spred)
				}
				if !closeTo(sstd, dspred, 0.03) {
					t.Errorf("dalpha=%v tcorr=%v: signal std[%d] = %v, want ~%v", dalpha, tcorr, col, sstd, dspred)
				}
				if !closeTo(bmean, bpred, 0.01) {
					t.Errorf("dalpha=%v tcorr=%v: background mean[%d] = %v, want ~%v", dalpha, tcorr, col, bmean, bpred)
				}
				if !closeTo(bstd, dbpred, 0.03) {
					t.Errorf("dalpha=%v tcorr=%v: background std[%d] = %v, want ~%v", dalpha, tcorr, col, bstd, dbpred)
				}
			}
		}
	}
}

// TestUpdateInterpolation updates both channels once at the grid midpoint
// and verifies the sampled predictions match the update there, while far
// from it they revert to the prior (short correlation time) or stay pinned
// to the update (long correlation time).
func TestUpdateInterpolation(t *testing.T) {
	const (
		alpha, beta   = 0.5, 1.2
		dalpha, dbeta = 0.1, 0.05
		sig0, bg0     = 0.9, 1.1
		dsig0, dbg0   = 0.25, 0.25
		t0            = 1e6
		dtmax         = 4000.0
		nsamples      = 10000
	)

	spred0 := alpha * sig0
	dspred0 := spred0 * math.Hypot(dalpha/alpha, dsig0/sig0)
	bpred0 := beta * bg0
	dbpred0 := bpred0 * math.Hypot(dbeta/beta, dbg0/bg0)

	for _, tcorr := range []float64{1e-2 * dtmax, 1e2 * dtmax} {
		calc, err := New(Config{
			Alpha: alpha, DAlpha: dalpha,
			Beta: beta, DBeta: dbeta,
			Signal:     ratemodel.Prior{Rate: sig0, Sigma: dsig0, Tcorr: tcorr},
			Background: ratemodel.Prior{Rate: bg0, Sigma: dbg0, Tcorr: tcorr},
			T0:         t0,
			SNRGoal:    10,
			DTMax:      dtmax,
			NPred:      51,
			Seed:       123,
		})
		if err != nil {
			t.Fatalf("New() error = %v", err)
		}

		grid := calc.Grid()
		idx := len(grid) / 2
		tupdate := t0 + grid[idx]
		sig, dsig := 2.0, 0.02
		bg, dbg := 0.5, 0.01

		spred := alpha * sig
		dspred := spred * math.Hypot(dalpha/alpha, dsig/sig)
		bpred := beta * bg
		dbpred := bpred * math.Hypot(dbeta/beta, dbg/bg)

		if err := calc.UpdateSignal(tupdate, sig, dsig); err != nil {
			t.Fatalf("UpdateSignal() error = %v", err)
		}
		if err := calc.UpdateBackground(tupdate, bg, dbg); err != nil {
			t.Fatalf("UpdateBackground() error = %v", err)
		}

		sigS, bgS, err := calc.Samples(grid, nsamples)
		if err != nil {
			t.Fatalf("Samples() error = %v", err)
		}

		smean, sstd := colMoments(sigS, idx)
		bmean, bstd := colMoments(bgS, idx)
		if !closeTo(smean, spred, 0.01) {
			t.Errorf("tcorr=%v: signal mean at update = %v, want ~%v", tcorr, smean, spred)
		}
		if !closeTo(sstd, dspred, 0.03) {
			t.Errorf("tcorr=%v: signal std at update = %v, want ~%v", tcorr, sstd, dspred)
		}
		if !closeTo(bmean, bpred, 0.01) {
			t.Errorf("tcorr=%v: background mean at update = %v, want ~%v", tcorr, bmean, bpred)
		}
		if !closeTo(bstd, dbpred, 0.03) {
			t.Errorf("tcorr=%v: background std at update = %v, want ~%v", tcorr, bstd, dbpred)
		}

		for _, edge := range []int{0, len(grid) - 1} {
			wantS, wantDS := spred0, dspred0
			wantB, wantDB := bpred0, dbpred0
			if tcorr > dtmax {
				wantS, wantDS = spred, dspred
				wantB, wantDB = bpred, dbpred
			}
			smean, sstd := colMoments(sigS, edge)
			bmean, bstd := colMoments(bgS, edge)
			if !closeTo(smean, wantS, 0.01) {
				t.Errorf("tcorr=%v: signal mean at edge %d = %v, want ~%v", tcorr, edge, smean, wantS)
			}
			if !closeTo(sstd, wantDS, 0.03) {
				t.Errorf("tcorr=%v: signal std at edge %d = %v, want ~%v", tcorr, edge, sstd, wantDS)
			}
			if !closeTo(bmean, wantB, 0.01) {
				t.Errorf("tcorr=%v: background mean at edge %d = %v, want ~%v", tcorr, edge, bmean, wantB)
			}
			if !closeTo(bstd, wantDB, 0.03) {
				t.Errorf("tcorr=%v: background std at edge %d = %v, want ~%v", tcorr, edge, bstd, wantDB)
			}
		}
	}
}

func TestSNRCurve_NonDecreasing(t *testing.T) {
	cfg := baseConfig()
	cfg.Seed = 42
	calc, err := New(cfg)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	updates := []struct {
		t, rate, sigma float64
	}{
		{1000, 1.0, 0.1},
		{300, 1.4, 0.2}, // out of order on purpose
		{2200, 0.7, 0.05},
	}
	for _, u := range updates {
		if err := calc.UpdateSignal(u.t, u.rate, u.sigma); err != nil {
			t.Fatalf("UpdateSignal(%v) error = %v", u.t, err)
		}
		if err := calc.UpdateBackground(u.t, u.rate, u.sigma); err != nil {
			t.Fatalf("UpdateBackground(%v) error = %v", u.t, err)
		}
		snr := calc.SNRCurve()
		if snr[0] != 0 {
			t.Fatalf("SNR at first grid point = %v, want 0", snr[0])
		}
		for i := 1; i < len(snr); i++ {
			if snr[i] < snr[i-1] {
				t.Fatalf("SNR curve decreases at %d: %v -> %v", i, snr[i-1], snr[i])
			}
		}
	}
}

func TestWillTimeout_Boundary(t *testing.T) {
	cfg := baseConfig()
	cfg.SNRGoal = 1e6 // unreachable
	calc, err := New(cfg)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if !calc.WillTimeout() {
		t.Error("WillTimeout() = false for unreachable goal, want true")
	}
	grid := calc.Grid()
	if got := calc.GoalCrossing(); got != grid[len(grid)-1] {
		t.Errorf("GoalCrossing() = %v, want clamped to final grid time %v", got, grid[len(grid)-1])
	}
	remaining, err := calc.Remaining(cfg.T0)
	if err != nil {
		t.Fatalf("Remaining() error = %v", err)
	}
	if remaining != calc.Config().DTMax {
		t.Errorf("Remaining(t0) = %v, want full horizon %v", remaining, calc.Config().DTMax)
	}

	cfg.SNRGoal = 10 // comfortably reachable within 5000 s at unit rates
	calc, err = New(cfg)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if calc.WillTimeout() {
		t.Error("WillTimeout() = true for reachable goal, want false")
	}
}

// TestScenario runs the canonical smoke sequence: one update per channel,
// then every query, all of which must return finite, sensibly-signed
// values.
func TestScenario(t *testing.T) {
	cfg := baseConfig()
	cfg.Seed = 1
	calc, err := New(cfg)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if err := calc.UpdateSignal(1000, 1.0, 0.1); err != nil {
		t.Fatalf("UpdateSignal() error = %v", err)
	}
	if err := calc.UpdateBackground(900, 0.5, 0.2); err != nil {
		t.Fatalf("UpdateBackground() error = %v", err)
	}

	_ = calc.WillTimeout()

	remaining, err := calc.Remaining(1500)
	if err != nil {
		t.Fatalf("Remaining() error = %v", err)
	}
	if math.IsNaN(remaining) || math.IsInf(remaining, 0) {
		t.Errorf("Remaining(1500) = %v, want finite", remaining)
	}
	if remaining < -DefaultDTMax || remaining > DefaultDTMax {
		t.Errorf("Remaining(1500) = %v, outside plausible range", remaining)
	}

	lo, hi, err := calc.SNRNow(1500, 0.6827, 1000)
	if err != nil {
		t.Fatalf("SNRNow() error = %v", err)
	}
	if math.IsNaN(lo) || math.IsNaN(hi) {
		t.Fatalf("SNRNow() = (%v, %v), want finite", lo, hi)
	}
	if lo > hi {
		t.Errorf("SNRNow() lo = %v > hi = %v", lo, hi)
	}
	if lo < 0 {
		t.Errorf("SNRNow() lo = %v, want >= 0", lo)
	}
}

func TestSNRNow_Reproducible(t *testing.T) {
	build := func() *Calculator {
		cfg := baseConfig()
		cfg.Seed = 987
		calc, err := New(cfg)
		if err != nil {
			t.Fatalf("New() error = %v", err)
		}
		if err := calc.UpdateSignal(1000, 1.0, 0.1); err != nil {
			t.Fatalf("UpdateSignal() error = %v", err)
		}
		return calc
	}

	a := build()
	b := build()
	alo, ahi, err := a.SNRNow(1500, 0.6827, 500)
	if err != nil {
		t.Fatalf("SNRNow() error = %v", err)
	}
	blo, bhi, err := b.SNRNow(1500, 0.6827, 500)
	if err != nil {
		t.Fatalf("SNRNow() error = %v", err)
	}
	if alo != blo || ahi != bhi {
		t.Errorf("identically-seeded calculators disagree: (%v, %v) != (%v, %v)", alo, ahi, blo, bhi)
	}
}

func TestSNRNow_AtShutterOpen(t *testing.T) {
	calc, err := New(baseConfig())
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	lo, hi, err := calc.SNRNow(0, 0.9, 100)
	if err != nil {
		t.Fatalf("SNRNow(t0) error = %v", err)
	}
	if lo != 0 || hi != 0 {
		t.Errorf("SNRNow(t0) = (%v, %v), want (0, 0)", lo, hi)
	}
}

func TestUpdate_Validation(t *testing.T) {
	cfg := baseConfig()
	cfg.T0 = 100
	calc, err := New(cfg)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	tests := []struct {
		name           string
		t, rate, sigma float64
	}{
		{"before exposure start", 50, 1, 0.1},
		{"zero rate", 200, 0, 0.1},
		{"negative rate", 200, -1, 0.1},
		{"zero error", 200, 1, 0},
		{"negative error", 200, 1, -0.1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := calc.UpdateSignal(tt.t, tt.rate, tt.sigma); err == nil {
				t.Error("UpdateSignal() accepted invalid observation, want error")
			}
			if err := calc.UpdateBackground(tt.t, tt.rate, tt.sigma); err == nil {
				t.Error("UpdateBackground() accepted invalid observation, want error")
			}
		})
	}
}

func TestQuery_Validation(t *testing.T) {
	cfg := baseConfig()
	cfg.T0 = 100
	calc, err := New(cfg)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	if _, err := calc.Remaining(50); err == nil {
		t.Error("Remaining() accepted t < t0, want error")
	}
	if _, _, err := calc.SNRNow(50, 0.68, 100); err == nil {
		t.Error("SNRNow() accepted t < t0, want error")
	}
	if _, _, err := calc.SNRNow(100+DefaultDTMax+1, 0.68, 100); err == nil {
		t.Error("SNRNow() accepted t beyond the exposure window, want error")
	}
	for _, conf := range []float64{0, 1, -0.5, 1.5} {
		if _, _, err := calc.SNRNow(200, conf, 100); err == nil {
			t.Errorf("SNRNow() accepted confidence %v, want error", conf)
		}
	}
	if _, _, err := calc.SNRNow(200, 0.68, 0); err == nil {
		t.Error("SNRNow() accepted zero samples, want error")
	}
}

func TestEvalSNR(t *testing.T) {
	// Constant unit rates: S(t) = t, B(t) = t, SNR = t/sqrt(2t).
	dt := []float64{0, 1, 4, 9}
	ones := []float64{1, 1, 1, 1}
	snr := evalSNR(dt, ones, ones)
	if snr[0] != 0 {
		t.Errorf("snr[0] = %v, want 0", snr[0])
	}
	for i := 1; i < len(dt); i++ {
		want := dt[i] / math.Sqrt(2*dt[i])
		if !closeTo(snr[i], want, 1e-12) {
			t.Errorf("snr[%d] = %v, want %v", i, snr[i], want)
		}
	}

	// Negative cumulative sums are clamped to zero SNR.
	neg := []float64{-1, -1, -1, -1}
	for i, v := range evalSNR(dt, neg, ones) {
		if v != 0 {
			t.Errorf("snr[%d] = %v with negative signal, want 0", i, v)
		}
	}
}

func TestGoalCrossing(t *testing.T) {
	dt := []float64{0, 10, 20, 30}
	snr := []float64{0, 1, 2, 3}

	tests := []struct {
		goal float64
		want float64
	}{
		{1.0, 10},
		{1.5, 15},
		{3.0, 30},
		{2.9, 29},
		{5.0, 30}, // unreachable, clamped
	}
	for _, tt := range tests {
		if got := goalCrossing(dt, snr, tt.goal); !closeTo(got, tt.want, 1e-12) {
			t.Errorf("goalCrossing(goal=%v) = %v, want %v", tt.goal, got, tt.want)
		}
	}
}
