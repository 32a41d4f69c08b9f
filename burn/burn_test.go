package burn

import (
	"math"
	"testing"
)

func TestFormFunctionShapes(t *testing.T) {
	// 各几何类别在Z=0处的形函数基值
	cases := []struct {
		g    Geometry
		z    float64
		want float64
	}{
		{GeometrySpherical, 0, 1},
		{GeometryNeutral, 0, 1},
		{GeometrySinglePerf, 0, 1},
		{GeometryMultiPerf, 0, 1},
		{GeometrySpherical, 0.5, math.Pow(0.5, 2.0/3.0)},
		{GeometryNeutral, 0.5, 0.5},
		{GeometrySinglePerf, 0.5, 1.15},
		{GeometryMultiPerf, 0.5, 1.5},
	}
	for _, c := range cases {
		got := FormFunction(c.z, c.g)
		if abs(got-c.want) > 1e-12 {
			t.Errorf("形函数 %v Z=%v: 期望 %v, 实际 %v", c.g, c.z, c.want, got)
		}
	}
}

func TestFormFunctionZeroAtBurnout(t *testing.T) {
	// 所有几何类别在Z=1处必须归零
	for _, g := range []Geometry{
		GeometrySpherical, GeometryDegressive, GeometrySinglePerf,
		GeometryNeutral, GeometryMultiPerf, GeometryProgressive,
	} {
		if v := FormFunction(1, g); v != 0 {
			t.Errorf("形函数 %v 在Z=1处应为0, 实际 %v", g, v)
		}
	}
}

func TestPolynomialConstantShape(t *testing.T) {
	// 形状系数(1,0,0,0)时燃速恒为基准值
	m := Polynomial{Base: 0.05, Coeffs: []float64{1, 0, 0, 0}}
	for _, z := range []float64{0, 0.25, 0.5, 0.99} {
		if got := m.Rate(z, RefTempK, 30000); abs(got-0.05) > 1e-12 {
			t.Errorf("Z=%v: 期望 0.05, 实际 %v", z, got)
		}
	}
}

func TestRateZeroAtFullBurn(t *testing.T) {
	// 三种模型在Z≥1处燃速必须精确为0
	models := []Model{
		Polynomial{Base: 0.05, Coeffs: []float64{1, -1, 0, 0}},
		FormFn{Base: 0.05, Geometry: GeometrySpherical},
		Hybrid{
			Form: FormFn{Base: 0.05, Geometry: GeometrySinglePerf},
			Poly: Polynomial{Base: 1, Coeffs: []float64{1, -0.5, 0, 0}},
		},
	}
	for i, m := range models {
		if got := m.Rate(1, RefTempK, 30000); got != 0 {
			t.Errorf("模型%d 在Z=1处燃速应为0, 实际 %v", i, got)
		}
		if got := m.Rate(1.2, RefTempK, 30000); got != 0 {
			t.Errorf("模型%d 在Z>1处燃速应为0, 实际 %v", i, got)
		}
	}
}

func TestTempCorrectionIdempotentAtReference(t *testing.T) {
	// 参考温度294K下温度修正不得改变燃速，σ是否为0结果一致
	withSigma := Polynomial{Base: 0.05, Coeffs: []float64{1, -1, 0, 0}, TempSigma: 0.003}
	noSigma := Polynomial{Base: 0.05, Coeffs: []float64{1, -1, 0, 0}}
	for _, z := range []float64{0.1, 0.5, 0.9} {
		a, b := withSigma.Rate(z, RefTempK, 30000), noSigma.Rate(z, RefTempK, 30000)
		if a != b {
			t.Errorf("Z=%v: σ≠0结果 %v != σ=0结果 %v", z, a, b)
		}
	}
}

func TestTempCorrectionDirection(t *testing.T) {
	m := Polynomial{Base: 0.05, Coeffs: []float64{1, -1, 0, 0}, TempSigma: 0.003}
	cold := m.Rate(0.5, 260, 30000)
	hot := m.Rate(0.5, 320, 30000)
	ref := m.Rate(0.5, RefTempK, 30000)
	if !(cold < ref && ref < hot) {
		t.Errorf("温度修正方向错误: 260K=%v, 294K=%v, 320K=%v", cold, ref, hot)
	}
}

func TestValidatePositive(t *testing.T) {
	// 形状(1,-3,0,0)在Z≈0.33附近过零，必须判负
	bad := Polynomial{Base: 0.05, Coeffs: []float64{1, -3, 0, 0}}
	if ValidatePositive(bad, RefTempK, 50) {
		t.Error("形状(1,-3,0,0)存在符号翻转, 应判负")
	}
	// 默认形状(1,-1,0,0)在[0,0.99)上恒正
	good := Polynomial{Base: 0.05, Coeffs: []float64{1, -1, 0, 0}}
	if !ValidatePositive(good, RefTempK, 50) {
		t.Error("默认形状(1,-1,0,0)应判正")
	}
}

func TestParseGeometry(t *testing.T) {
	cases := map[string]Geometry{
		"spherical":   GeometrySpherical,
		"single-perf": GeometrySinglePerf,
		"neutral":     GeometryNeutral,
		"7-perf":      GeometryMultiPerf,
		"未知类别":        GeometryNeutral,
	}
	for name, want := range cases {
		if got := ParseGeometry(name); got != want {
			t.Errorf("解析 %q: 期望 %v, 实际 %v", name, want, got)
		}
	}
}

func abs(x float64) float64 {
	if x < 0 {
		return -x
	}
	return x
}
