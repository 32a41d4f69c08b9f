// Package fitting 燃速参数标定引擎
// 以弹道求解为内环，用有界非线性最小二乘从测速数据反推燃速参数。
package fitting

import (
	"fmt"

	"ballistics/props"
)

// 参数向量采用命名有序描述符，装配与拆解走同一条路径，
// 不再按布尔标志做位置算术。
const (
	ParamLambdaBase    = "lambda_base"    // 基准燃速 s⁻¹/psi
	ParamAlpha         = "alpha"          // 形函数压力修正系数
	ParamTempSigma     = "temp_sigma"     // 温度敏感系数 1/K
	ParamBoreFriction  = "bore_friction"  // 膛线摩擦等效压降 psi
	ParamStartPressure = "start_pressure" // 启动压力阈值 psi
	ParamCovolume      = "covolume"       // 余容 m³/kg
	ParamHBase         = "h_base"         // 基准换热系数 W/m²·K
)

// coeffName 第i个多项式形状系数的参数名
func coeffName(i int) string { return fmt.Sprintf("c%d", i) }

// Param 单个标定参数描述符
// Free为假时参数固定在Value上，不进入优化向量。
type Param struct {
	Name  string
	Value float64
	Min   float64
	Max   float64
	Free  bool
}

// Schema 有序参数表
type Schema []Param

// Vector 抽出自由参数的当前值（优化器的x向量）
func (s Schema) Vector() []float64 {
	var v []float64
	for _, p := range s {
		if p.Free {
			v = append(v, p.Value)
		}
	}
	return v
}

// Bounds 自由参数的上下界，顺序与Vector一致
func (s Schema) Bounds() (lower, upper []float64) {
	for _, p := range s {
		if p.Free {
			lower = append(lower, p.Min)
			upper = append(upper, p.Max)
		}
	}
	return lower, upper
}

// SetVector 把优化器向量写回自由参数
func (s Schema) SetVector(v []float64) error {
	i := 0
	for j := range s {
		if !s[j].Free {
			continue
		}
		if i >= len(v) {
			return fmt.Errorf("参数向量长度不足：需要 %d 个，实际 %d 个", s.FreeCount(), len(v))
		}
		s[j].Value = v[i]
		i++
	}
	if i != len(v) {
		return fmt.Errorf("参数向量长度不符：需要 %d 个，实际 %d 个", i, len(v))
	}
	return nil
}

// FreeCount 自由参数个数
func (s Schema) FreeCount() int {
	n := 0
	for _, p := range s {
		if p.Free {
			n++
		}
	}
	return n
}

// Get 按名取当前值，不存在时返回假
func (s Schema) Get(name string) (float64, bool) {
	for _, p := range s {
		if p.Name == name {
			return p.Value, true
		}
	}
	return 0, false
}

// Apply 把整张参数表（自由与固定）写入配置副本
func (s Schema) Apply(cfg *props.Config) error {
	var coeffs []float64
	for _, p := range s {
		switch p.Name {
		case ParamLambdaBase:
			cfg.Propellant.LambdaBase = p.Value
		case ParamAlpha:
			cfg.Propellant.PressureCoeff = p.Value
		case ParamTempSigma:
			cfg.Propellant.TempSigmaPerK = p.Value
		case ParamBoreFriction:
			cfg.BoreFrictionPsi = p.Value
		case ParamStartPressure:
			cfg.StartPressurePsi = p.Value
		case ParamCovolume:
			cfg.Propellant.CovolumeM3PerKg = p.Value
		case ParamHBase:
			cfg.HBase = p.Value
		default:
			var idx int
			if n, err := fmt.Sscanf(p.Name, "c%d", &idx); n != 1 || err != nil {
				return fmt.Errorf("未知标定参数 %q", p.Name)
			}
			for len(coeffs) <= idx {
				coeffs = append(coeffs, 0)
			}
			coeffs[idx] = p.Value
		}
	}
	if coeffs != nil {
		cfg.Propellant.Coeffs = coeffs
	}
	return nil
}

// BuildSchema 按拟合选项从基准配置组装参数表
// 多项式模式放入基准燃速与形状系数，形函数模式放入基准燃速与压力修正系数；
// 各可选物理参数按标志追加。初值取配置当前值，边界取经验范围。
func BuildSchema(base *props.Config, opts Options) Schema {
	var s Schema
	s = append(s, Param{
		Name: ParamLambdaBase, Value: base.Propellant.LambdaBase,
		Min: 0.01, Max: 0.15, Free: true,
	})
	if opts.UseFormFunction {
		s = append(s, Param{
			Name: ParamAlpha, Value: base.Propellant.PressureCoeff,
			Min: 0.0, Max: 0.5, Free: true,
		})
	} else {
		coeffs := base.Propellant.Coeffs
		if allZero(coeffs) {
			coeffs = props.DefaultCoeffs()
		}
		for i, c := range coeffs {
			s = append(s, Param{
				Name: coeffName(i), Value: c,
				Min: -2.0, Max: 2.0, Free: true,
			})
		}
	}
	if opts.FitTempSigma {
		s = append(s, Param{
			Name: ParamTempSigma, Value: base.Propellant.TempSigmaPerK,
			Min: 0.0, Max: 0.01, Free: true,
		})
	}
	if opts.FitBoreFriction {
		s = append(s, Param{
			Name: ParamBoreFriction, Value: base.BoreFrictionPsi,
			Min: 0.0, Max: 4000.0, Free: true,
		})
	}
	if opts.FitStartPressure {
		v := base.StartPressurePsi
		if v < 1000 {
			v = 1000
		}
		s = append(s, Param{
			Name: ParamStartPressure, Value: v,
			Min: 1000.0, Max: 12000.0, Free: true,
		})
	}
	if opts.FitCovolume {
		s = append(s, Param{
			Name: ParamCovolume, Value: base.Propellant.CovolumeM3PerKg,
			Min: 0.0008, Max: 0.0012, Free: true,
		})
	}
	if opts.FitHBase {
		v := base.HBase
		if v <= 0 {
			v = 1000.0
		}
		s = append(s, Param{
			Name: ParamHBase, Value: v,
			Min: 500.0, Max: 10000.0, Free: true,
		})
	}
	for i := range s {
		s[i].Value = clampTo(s[i].Value, s[i].Min, s[i].Max)
	}
	return s
}

// Freeze 把指定名字之外的所有参数冻结在当前值（零宽边界）
func (s Schema) Freeze(keepFree ...string) Schema {
	keep := make(map[string]bool, len(keepFree))
	for _, n := range keepFree {
		keep[n] = true
	}
	out := make(Schema, len(s))
	copy(out, s)
	for i := range out {
		if !keep[out[i].Name] {
			out[i].Free = false
			out[i].Min = out[i].Value
			out[i].Max = out[i].Value
		}
	}
	return out
}

func allZero(v []float64) bool {
	for _, x := range v {
		if x != 0 {
			return false
		}
	}
	return true
}

func clampTo(x, lo, hi float64) float64 {
	if x < lo {
		return lo
	}
	if x > hi {
		return hi
	}
	return x
}
