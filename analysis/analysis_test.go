package analysis

import (
	"math"
	"testing"

	"ballistics/burn"
	"ballistics/props"
)

func scanConfig() *props.Config {
	p := &props.Propellant{
		Name:            "Varget",
		Vivacity:        63.5,
		Base:            props.BaseSingle,
		Force:           3650000,
		FlameTempK:      3000,
		Gamma:           props.BaseSingle.Gamma(),
		BulkDensity:     0.0584,
		LambdaBase:      63.5 * props.VivacityPer100BarToPsi,
		Coeffs:          props.DefaultCoeffs(),
		Geometry:        burn.GeometrySinglePerf,
		CovolumeM3PerKg: 0.001,
		TempSigmaPerK:   0.002,
	}
	b := &props.Bullet{
		Name:               "Copper Jacket over Lead",
		Strength:           100,
		Density:            0.321,
		InitialPressurePsi: 5000,
		StartPressurePsi:   3626,
	}
	return props.DefaultConfig(175, 42, 0.308, 47.4, 16.625, 2.010, p, b)
}

func TestScanChargeGrid(t *testing.T) {
	cfg := scanConfig()
	pts := ScanCharge(cfg, 38, 44, 7)
	if len(pts) != 7 {
		t.Fatalf("扫掠点数: 期望 7, 实际 %d", len(pts))
	}
	if pts[0].ChargeGrains != 38 || pts[6].ChargeGrains != 44 {
		t.Errorf("扫掠端点: %v ~ %v", pts[0].ChargeGrains, pts[6].ChargeGrains)
	}
	// 等距网格，步长1gr
	for i := 1; i < len(pts); i++ {
		if abs(pts[i].ChargeGrains-pts[i-1].ChargeGrains-1) > 1e-9 {
			t.Errorf("第 %d 点网格间距错误: %v", i, pts[i].ChargeGrains-pts[i-1].ChargeGrains)
		}
	}
	for i, pt := range pts {
		if pt.Failed {
			t.Errorf("第 %d 点不应失败", i)
			continue
		}
		if pt.MuzzleVelocityFPS <= 0 || pt.PeakPressurePsi <= 0 {
			t.Errorf("第 %d 点指标非正: v=%v p=%v", i, pt.MuzzleVelocityFPS, pt.PeakPressurePsi)
		}
		if pt.BarrelLengthIn != cfg.BarrelLengthIn {
			t.Errorf("第 %d 点管长应取配置值: %v", i, pt.BarrelLengthIn)
		}
	}
	// 装药量越大初速不应下降
	for i := 1; i < len(pts); i++ {
		if pts[i].MuzzleVelocityFPS < pts[i-1].MuzzleVelocityFPS {
			t.Errorf("初速随装药量下降: %v → %v", pts[i-1].MuzzleVelocityFPS, pts[i].MuzzleVelocityFPS)
		}
	}
	// 原配置不受扫掠影响
	if cfg.ChargeMassGr != 42 {
		t.Errorf("扫掠修改了原配置装药量: %v", cfg.ChargeMassGr)
	}
}

func TestScanChargeFailedPoints(t *testing.T) {
	cfg := scanConfig()
	// 上端远超弹壳容积，后段点必然失败
	pts := ScanCharge(cfg, 42, 400, 5)
	var failed int
	for _, pt := range pts {
		if pt.Failed {
			failed++
			if !math.IsNaN(pt.MuzzleVelocityFPS) || !math.IsNaN(pt.PeakPressurePsi) {
				t.Error("失败点指标应为NaN")
			}
		}
	}
	if failed == 0 {
		t.Error("超装药扫掠应有失败点")
	}
	if pts[0].Failed {
		t.Error("常规装药点不应失败")
	}
}

func TestScanBarrelGrid(t *testing.T) {
	cfg := scanConfig()
	pts := ScanBarrel(cfg, 16, 26, 6)
	if len(pts) != 6 {
		t.Fatalf("扫掠点数: 期望 6, 实际 %d", len(pts))
	}
	for i, pt := range pts {
		if pt.Failed {
			t.Fatalf("第 %d 点失败", i)
		}
		if pt.ChargeGrains != cfg.ChargeMassGr {
			t.Errorf("第 %d 点装药量应取配置值: %v", i, pt.ChargeGrains)
		}
	}
	// 管长越长初速不应下降
	for i := 1; i < len(pts); i++ {
		if pts[i].MuzzleVelocityFPS < pts[i-1].MuzzleVelocityFPS {
			t.Errorf("初速随管长下降: %v → %v", pts[i-1].MuzzleVelocityFPS, pts[i].MuzzleVelocityFPS)
		}
	}
	// 长管端应出现膛内燃尽点
	last := pts[len(pts)-1]
	if !math.IsNaN(last.BurnoutFromBoltIn) {
		if last.MuzzleBurnPct != 100 {
			t.Errorf("燃尽点燃烧百分比应为100: %v", last.MuzzleBurnPct)
		}
		if last.BurnoutFromBoltIn <= 0 || last.BurnoutFromBoltIn > last.BarrelLengthIn {
			t.Errorf("燃尽位置越界: %v", last.BurnoutFromBoltIn)
		}
	}
}

func TestChargeLadderInterpolation(t *testing.T) {
	cfg := scanConfig()
	ladder := ChargeLadder(cfg, 38, 44, 7, 0)
	if ladder.TargetValid {
		t.Error("未请求目标初速时不应给出插值")
	}

	// 取网格中段两点的初速中点做目标
	pts := ladder.Points
	target := (pts[2].MuzzleVelocityFPS + pts[3].MuzzleVelocityFPS) / 2
	ladder = ChargeLadder(cfg, 38, 44, 7, target)
	if !ladder.TargetValid {
		t.Fatal("区间内目标初速应可插值")
	}
	if ladder.TargetChargeGrains < pts[2].ChargeGrains || ladder.TargetChargeGrains > pts[3].ChargeGrains {
		t.Errorf("插值装药 %v 不在 [%v, %v] 内",
			ladder.TargetChargeGrains, pts[2].ChargeGrains, pts[3].ChargeGrains)
	}
}

func TestChargeLadderTargetOutOfRange(t *testing.T) {
	cfg := scanConfig()
	ladder := ChargeLadder(cfg, 38, 44, 5, 10000)
	if ladder.TargetValid {
		t.Error("区间外目标初速不应给出插值")
	}
	if len(ladder.Points) != 5 {
		t.Errorf("扫掠点数: 期望 5, 实际 %d", len(ladder.Points))
	}
}

func TestInterpolate(t *testing.T) {
	xs := []float64{1, 2, 4}
	ys := []float64{10, 20, 40}
	if v, ok := interpolate(xs, ys, 3); !ok || v != 30 {
		t.Errorf("中点插值: 期望 30, 实际 %v (%v)", v, ok)
	}
	if v, ok := interpolate(xs, ys, 1); !ok || v != 10 {
		t.Errorf("左端点: 期望 10, 实际 %v (%v)", v, ok)
	}
	if v, ok := interpolate(xs, ys, 4); !ok || v != 40 {
		t.Errorf("右端点: 期望 40, 实际 %v (%v)", v, ok)
	}
	if _, ok := interpolate(xs, ys, 0.5); ok {
		t.Error("左越界应返回假")
	}
	if _, ok := interpolate(xs, ys, 5); ok {
		t.Error("右越界应返回假")
	}
}

func abs(x float64) float64 {
	if x < 0 {
		return -x
	}
	return x
}
