package burn

import "math"

// RefTempK 燃速温度修正的参考温度（294 K，即70°F）
const RefTempK = 294.0

// sliverZ 多孔/单孔药粒几何崩解点：Z超过该值后形函数取零
const sliverZ = 0.9

// Geometry 药粒几何类别，决定形函数π(Z)的形状
type Geometry int

const (
	GeometrySpherical   Geometry = iota // 球形，减面燃烧
	GeometryDegressive                  // 减面（与球形同形函数）
	GeometrySinglePerf                  // 单孔管状，弱增面
	GeometryNeutral                     // 中性圆柱
	GeometryMultiPerf                   // 七孔，增面燃烧
	GeometryProgressive                 // 增面（与七孔同形函数）
)

var geometryNames = map[Geometry]string{
	GeometrySpherical:   "spherical",
	GeometryDegressive:  "degressive",
	GeometrySinglePerf:  "single-perf",
	GeometryNeutral:     "neutral",
	GeometryMultiPerf:   "7-perf",
	GeometryProgressive: "progressive",
}

func (g Geometry) String() string {
	if name, ok := geometryNames[g]; ok {
		return name
	}
	return "neutral"
}

// ParseGeometry 从数据库字符串解析药粒几何类别，未知值按中性处理
func ParseGeometry(name string) Geometry {
	switch name {
	case "spherical":
		return GeometrySpherical
	case "degressive":
		return GeometryDegressive
	case "single-perf", "single-perforated", "tubular_progressive":
		return GeometrySinglePerf
	case "neutral", "solid_extruded", "tubular":
		return GeometryNeutral
	case "7-perf", "multi-perforated":
		return GeometryMultiPerf
	case "progressive":
		return GeometryProgressive
	default:
		return GeometryNeutral
	}
}

// FormFunction 计算几何形函数π(Z)
// 描述药粒燃烧面积随燃烧分数Z的变化规律：
//
//	球形/减面:   (1-Z)^(2/3)
//	单孔管状:    1+0.3Z，Z≥0.9后崩解归零
//	中性圆柱:    1-Z
//	七孔/增面:   1+Z，Z≥0.9后崩解归零
func FormFunction(Z float64, g Geometry) float64 {
	if Z >= 1 {
		return 0
	}
	switch g {
	case GeometrySpherical, GeometryDegressive:
		return math.Pow(1-Z, 2.0/3.0)
	case GeometrySinglePerf:
		if Z >= sliverZ {
			return 0
		}
		return 1 + 0.3*Z
	case GeometryMultiPerf, GeometryProgressive:
		if Z >= sliverZ {
			return 0
		}
		return 1 + Z
	default:
		return 1 - Z
	}
}

// tempMultiplier 燃速温度修正系数（Arrhenius型指数律）
// σ为零时精确返回1，避免exp运算引入浮点漂移
func tempMultiplier(sigma, tempK float64) float64 {
	if sigma == 0 {
		return 1
	}
	return math.Exp(sigma * (tempK - RefTempK))
}

// Model 动态燃速模型
// 配置阶段选定一种实现（多项式/形函数/混合），
// 弹道求解中每个积分步都会调用Rate。
type Model interface {
	// Rate 计算动态燃速Λ(Z,T,P)，单位 s⁻¹/psi
	// Z为燃烧分数，tempK为药温（K），pressurePsi为当前膛压（psi）
	Rate(Z, tempK, pressurePsi float64) float64
}

// Polynomial 多项式燃速模型
// Λ = Λ_base·exp(σ·(T-294)) × Σ Coeffs[i]·Z^i
type Polynomial struct {
	Base      float64   // 参考温度下的基准燃速 s⁻¹/psi
	Coeffs    []float64 // 形状系数，常数项在前
	TempSigma float64   // 温度敏感系数 1/K
}

func (m Polynomial) Rate(Z, tempK, _ float64) float64 {
	Z = clampZ(Z)
	if Z >= 1 {
		return 0
	}
	// 霍纳法求多项式值
	poly := 0.0
	for i := len(m.Coeffs) - 1; i >= 0; i-- {
		poly = poly*Z + m.Coeffs[i]
	}
	return m.Base * tempMultiplier(m.TempSigma, tempK) * poly
}

// FormFn 几何形函数燃速模型
// Λ = (Λ_base·exp(σ·(T-294)) + α·P) × π(Z)
type FormFn struct {
	Base          float64  // 参考温度下的基准燃速 s⁻¹/psi
	Geometry      Geometry // 药粒几何类别
	PressureCoeff float64  // 线性压力修正系数α，s⁻¹/psi²
	TempSigma     float64  // 温度敏感系数 1/K
}

func (m FormFn) Rate(Z, tempK, pressurePsi float64) float64 {
	Z = clampZ(Z)
	if Z >= 1 {
		return 0
	}
	base := m.Base * tempMultiplier(m.TempSigma, tempK)
	if m.PressureCoeff > 0 && pressurePsi > 0 {
		base += m.PressureCoeff * pressurePsi
	}
	return base * FormFunction(Z, m.Geometry)
}

// Hybrid 混合燃速模型：形函数基线加多项式修正项，
// 两个分量各自带独立基准燃速与温度修正
type Hybrid struct {
	Form FormFn
	Poly Polynomial
}

func (m Hybrid) Rate(Z, tempK, pressurePsi float64) float64 {
	Z = clampZ(Z)
	if Z >= 1 {
		return 0
	}
	return m.Form.Rate(Z, tempK, pressurePsi) + m.Poly.Rate(Z, tempK, pressurePsi)
}

// ValidatePositive 检查燃速在整个燃烧过程中保持正值
// 在[0, 0.99)上均匀采样n个点，任一点Λ≤0即返回false。
// 标定引擎必须在调用弹道求解前用它过滤非物理参数组合。
func ValidatePositive(m Model, tempK float64, n int) bool {
	if n < 2 {
		n = 2
	}
	for i := 0; i < n; i++ {
		Z := 0.99 * float64(i) / float64(n)
		if m.Rate(Z, tempK, 0) <= 0 {
			return false
		}
	}
	return true
}

func clampZ(Z float64) float64 {
	if Z < 0 {
		return 0
	}
	if Z > 1 {
		return 1
	}
	return Z
}
