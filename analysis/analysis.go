// Package analysis 参数扫掠与装药阶梯分析
// 在装药量/管长区间上批量驱动弹道求解，汇总燃尽指标。
package analysis

import (
	"math"

	"gonum.org/v1/gonum/floats"

	"ballistics/props"
	"ballistics/solver"
)

// ScanPoint 扫掠中单个工况的结果
// 求解失败的点所有指标为NaN并带Failed标记。
type ScanPoint struct {
	ChargeGrains      float64
	BarrelLengthIn    float64
	MuzzleVelocityFPS float64
	PeakPressurePsi   float64
	FinalZ            float64
	BurnoutFromBoltIn float64 // 未燃尽时为NaN
	MuzzleBurnPct     float64
	Failed            bool
}

// ScanCharge 在[lo,hi]区间上等距扫掠装药量
func ScanCharge(cfg *props.Config, lo, hi float64, n int) []ScanPoint {
	points := make([]ScanPoint, 0, n)
	for _, charge := range floats.Span(make([]float64, n), lo, hi) {
		c := cfg.Clone()
		c.ChargeMassGr = charge
		pt := evaluate(c)
		pt.ChargeGrains = charge
		pt.BarrelLengthIn = cfg.BarrelLengthIn
		points = append(points, pt)
	}
	return points
}

// ScanBarrel 在[lo,hi]区间上等距扫掠管长
func ScanBarrel(cfg *props.Config, lo, hi float64, n int) []ScanPoint {
	points := make([]ScanPoint, 0, n)
	for _, barrel := range floats.Span(make([]float64, n), lo, hi) {
		c := cfg.Clone()
		c.BarrelLengthIn = barrel
		pt := evaluate(c)
		pt.ChargeGrains = cfg.ChargeMassGr
		pt.BarrelLengthIn = barrel
		points = append(points, pt)
	}
	return points
}

func evaluate(cfg *props.Config) ScanPoint {
	res, err := solver.Solve(cfg, false)
	if err != nil {
		return ScanPoint{
			MuzzleVelocityFPS: math.NaN(),
			PeakPressurePsi:   math.NaN(),
			FinalZ:            math.NaN(),
			BurnoutFromBoltIn: math.NaN(),
			MuzzleBurnPct:     math.NaN(),
			Failed:            true,
		}
	}
	pt := ScanPoint{
		MuzzleVelocityFPS: res.MuzzleVelocityFPS,
		PeakPressurePsi:   res.PeakPressurePsi,
		FinalZ:            res.FinalZ,
		MuzzleBurnPct:     res.MuzzleBurnPct,
		BurnoutFromBoltIn: math.NaN(),
	}
	if res.BurnedOut {
		pt.BurnoutFromBoltIn = res.BurnoutFromBoltIn
		pt.MuzzleBurnPct = 100
	}
	return pt
}

// Ladder 装药阶梯分析结果
type Ladder struct {
	Points []ScanPoint

	// 目标初速的插值装药量；仅当请求了目标初速且有效点≥2时有效
	TargetChargeGrains float64
	TargetValid        bool
}

// ChargeLadder 装药阶梯分析
// targetVelocity>0时在扫掠结果上线性插值目标初速对应的装药量。
func ChargeLadder(cfg *props.Config, lo, hi float64, n int, targetVelocity float64) *Ladder {
	ladder := &Ladder{Points: ScanCharge(cfg, lo, hi, n)}
	if targetVelocity <= 0 {
		return ladder
	}

	var charges, velocities []float64
	for _, pt := range ladder.Points {
		if !pt.Failed && !math.IsNaN(pt.MuzzleVelocityFPS) {
			charges = append(charges, pt.ChargeGrains)
			velocities = append(velocities, pt.MuzzleVelocityFPS)
		}
	}
	if len(charges) < 2 {
		return ladder
	}
	charge, ok := interpolate(velocities, charges, targetVelocity)
	if ok {
		ladder.TargetChargeGrains = charge
		ladder.TargetValid = true
	}
	return ladder
}

// interpolate 在升序xs上对x线性插值，越界时返回假
func interpolate(xs, ys []float64, x float64) (float64, bool) {
	if x < xs[0] || x > xs[len(xs)-1] {
		return 0, false
	}
	for i := 1; i < len(xs); i++ {
		if x <= xs[i] {
			x0, x1 := xs[i-1], xs[i]
			if x1 == x0 {
				return ys[i], true
			}
			t := (x - x0) / (x1 - x0)
			return ys[i-1] + t*(ys[i]-ys[i-1]), true
		}
	}
	return ys[len(ys)-1], true
}
