package props

import (
	"fmt"

	"ballistics/burn"
	"ballistics/utils"
)

// PowderBase 发射药化学基类，决定比热比γ
type PowderBase int

const (
	BaseSingle PowderBase = iota // 单基药
	BaseDouble                   // 双基药
)

// Gamma 基类对应的燃气比热比
func (b PowderBase) Gamma() float64 {
	if b == BaseDouble {
		return 1.22
	}
	return 1.24
}

func (b PowderBase) String() string {
	if b == BaseDouble {
		return "D"
	}
	return "S"
}

// ParsePowderBase 从数据库单字符代码解析基类
func ParsePowderBase(code string) PowderBase {
	if code == "D" {
		return BaseDouble
	}
	return BaseSingle
}

// VivacityPer100BarToPsi 活度单位换算：s⁻¹/100bar → s⁻¹/psi
// 100 bar ≈ 1450 psi
const VivacityPer100BarToPsi = 1.0 / 1450.0

// Propellant 发射药热化学与燃速属性
// 从属性库装载一次后视为不可变；标定过程中按候选参数克隆后覆写。
type Propellant struct {
	Name        string
	Vivacity    float64    // 原始活度 s⁻¹/100bar（数据库存储单位）
	Base        PowderBase // 化学基类，决定γ
	Force       float64    // 火药力 in·lbf/lbm
	FlameTempK  float64    // 绝热火焰温度 K
	Gamma       float64    // 比热比（由基类计算）
	BulkDensity float64    // 堆积密度 lbm/in³
	LambdaBase  float64    // 基准燃速 s⁻¹/psi（Vivacity/1450）
	Coeffs      []float64  // 多项式形状系数（4~6项，常数项在前）
	Geometry    burn.Geometry
	// PressureCoeff 形函数模式的线性压力修正系数α，s⁻¹/psi²
	PressureCoeff float64
	// CovolumeM3PerKg Noble-Abel状态方程余容 m³/kg，典型范围[0.0008, 0.0012]
	CovolumeM3PerKg float64
	// TempSigmaPerK 燃速温度敏感系数 1/K，典型范围[0.002, 0.008]
	TempSigmaPerK float64
}

// DefaultCoeffs 默认多项式形状(1, -1, 0, 0)，即Λ∝(1-Z)
func DefaultCoeffs() []float64 { return []float64{1, -1, 0, 0} }

// Clone 深拷贝（形状系数切片独立）
func (p *Propellant) Clone() *Propellant {
	c := *p
	c.Coeffs = append([]float64(nil), p.Coeffs...)
	return &c
}

// Validate 校验发射药物理属性
func (p *Propellant) Validate() error {
	checks := []error{
		utils.CheckPositive("发射药基准燃速 LambdaBase", p.LambdaBase),
		utils.CheckPositive("火药力 Force", p.Force),
		utils.CheckPositive("火焰温度 FlameTempK", p.FlameTempK),
		utils.CheckPositive("堆积密度 BulkDensity", p.BulkDensity),
		utils.CheckPositive("比热比 Gamma", p.Gamma),
		utils.CheckNonNegative("余容 CovolumeM3PerKg", p.CovolumeM3PerKg),
	}
	for _, err := range checks {
		if err != nil {
			return fmt.Errorf("发射药 %q 属性无效: %w", p.Name, err)
		}
	}
	return nil
}

// Bullet 弹头材料属性
type Bullet struct {
	Name     string
	Strength float64 // 强度系数s
	Density  float64 // 弹头密度 lbm/in³
	// InitialPressurePsi 初始膛压（点火气体生成阈值），psi
	InitialPressurePsi float64
	// StartPressurePsi 挤进压力：弹头克服静态阻力开始运动的最低膛压，psi
	// 典型范围[1000, 12000]，可由标定引擎拟合
	StartPressurePsi float64
}

// Clone 拷贝弹头属性
func (b *Bullet) Clone() *Bullet {
	c := *b
	return &c
}

// Validate 校验弹头属性
func (b *Bullet) Validate() error {
	checks := []error{
		utils.CheckPositive("弹头强度系数 Strength", b.Strength),
		utils.CheckPositive("弹头密度 Density", b.Density),
		utils.CheckPositive("初始膛压 InitialPressurePsi", b.InitialPressurePsi),
		utils.CheckPositive("挤进压力 StartPressurePsi", b.StartPressurePsi),
	}
	for _, err := range checks {
		if err != nil {
			return fmt.Errorf("弹头 %q 属性无效: %w", b.Name, err)
		}
	}
	return nil
}
