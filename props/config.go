package props

import (
	"fmt"

	"ballistics/burn"
	"ballistics/utils"
)

// HeatLossModel 热损失模型选择
type HeatLossModel int

const (
	HeatLossConvective HeatLossModel = iota // 对流模型（推荐）：h(t)随瞬时气体状态变化
	HeatLossEmpirical                       // 经验模型：按口径与装药量的闭式公式，随Z线性缩放
)

func (m HeatLossModel) String() string {
	if m == HeatLossEmpirical {
		return "empirical"
	}
	return "convective"
}

// BurnMode 燃速模型选择
type BurnMode int

const (
	BurnPolynomial   BurnMode = iota // 多项式模式（标定系数直接作用于求解）
	BurnFormFunction                 // 几何形函数模式
	BurnHybrid                       // 混合模式：形函数基线+多项式修正
)

// Config 单次弹道求解的完整配置
// 每次求解评估持有独立实例；标定引擎按行克隆后覆写装药量与候选参数。
type Config struct {
	BulletMassGr    float64 // 弹头质量 grain
	ChargeMassGr    float64 // 装药量 grain
	CaliberIn       float64 // 口径 inch
	CaseVolumeGrH2O float64 // 弹壳有效容积 grain水
	BarrelLengthIn  float64 // 枪管长度 inch
	COALIn          float64 // 全弹长（弹底面到弹尖） inch

	Propellant *Propellant
	Bullet     *Bullet

	TemperatureF float64 // 环境温度 °F
	Phi          float64 // 压力测量效率系数φ
	// InitialPressurePsi 初始膛压，零值时由弹头属性补全
	InitialPressurePsi float64

	// 燃速模型选择
	Mode BurnMode
	// HybridBase/HybridCoeffs 混合模式的多项式修正分量参数
	HybridBase   float64
	HybridCoeffs []float64

	// 热损失模型及其参数
	// 缩放指数α≈0.8、β≈0.3、γ≈0.3来自湍流对流文献，
	// 是经验整定的默认值而非推导量，按配置暴露。
	HeatLoss       HeatLossModel
	HBase          float64 // 基准换热系数 W/m²·K，范围500~10000
	HAlpha         float64 // 压力缩放指数
	HBeta          float64 // 温度缩放指数
	HGammaExp      float64 // 气流速度缩放指数
	WallTempK      float64 // 枪管壁温 K
	RefPressurePsi float64 // h(t)缩放参考压力 psi
	RefTempK       float64 // h(t)缩放参考温度 K
	RefGasVelInS   float64 // h(t)缩放参考气流速度 in/s

	// SecondaryWorkMu 气体夹带倒数μ：m_eff = m + C·Z/μ
	// 取代固定"1/3规则"的可标定常数，范围[2.2, 3.8]
	SecondaryWorkMu float64
	// BoreFrictionPsi 膛壁摩擦的等效压力损失，只从驱动压力中扣除
	BoreFrictionPsi float64
	// StartPressurePsi 挤进压力覆写，零值时由弹头属性补全
	StartPressurePsi float64
}

// DefaultConfig 构建带文献默认值的配置
func DefaultConfig(bulletMassGr, chargeMassGr, caliberIn, caseVolGrH2O, barrelIn, coalIn float64, p *Propellant, b *Bullet) *Config {
	cfg := &Config{
		BulletMassGr:    bulletMassGr,
		ChargeMassGr:    chargeMassGr,
		CaliberIn:       caliberIn,
		CaseVolumeGrH2O: caseVolGrH2O,
		BarrelLengthIn:  barrelIn,
		COALIn:          coalIn,
		Propellant:      p,
		Bullet:          b,
		TemperatureF:    70,
		Phi:             0.9,
		HeatLoss:        HeatLossConvective,
		HBase:           2000,
		HAlpha:          0.8,
		HBeta:           0.3,
		HGammaExp:       0.3,
		WallTempK:       500,
		RefPressurePsi:  10000,
		RefTempK:        2500,
		RefGasVelInS:    1200,
		SecondaryWorkMu: 3.0,
	}
	cfg.Normalize()
	return cfg
}

// Normalize 用弹头属性补全未设置的压力阈值
func (c *Config) Normalize() {
	if c.Bullet == nil {
		return
	}
	if c.InitialPressurePsi == 0 {
		c.InitialPressurePsi = c.Bullet.InitialPressurePsi
	}
	if c.StartPressurePsi == 0 {
		c.StartPressurePsi = c.Bullet.StartPressurePsi
	}
}

// EffectiveBarrelLengthIn 弹头有效行程 = 枪管长度 - 全弹长
func (c *Config) EffectiveBarrelLengthIn() float64 {
	return c.BarrelLengthIn - c.COALIn
}

// FreeVolumeIn3 初始自由容积 = 弹壳容积 - 固体装药体积
func (c *Config) FreeVolumeIn3() float64 {
	chargeLb := c.ChargeMassGr * utils.GrainsToLb
	return c.CaseVolumeGrH2O*utils.GrainsH2OToIn3 - chargeLb/c.Propellant.BulkDensity
}

// Validate 配置构建期校验
// 自由容积与有效行程必须为正——这是最常见的构建期失败，
// 必须在积分开始前立即报错，而不是在积分途中。
func (c *Config) Validate() error {
	if c.Propellant == nil {
		return fmt.Errorf("配置缺少发射药属性")
	}
	if c.Bullet == nil {
		return fmt.Errorf("配置缺少弹头属性")
	}
	if err := c.Propellant.Validate(); err != nil {
		return err
	}
	if err := c.Bullet.Validate(); err != nil {
		return err
	}
	checks := []error{
		utils.CheckPositive("弹头质量 BulletMassGr", c.BulletMassGr),
		utils.CheckPositive("装药量 ChargeMassGr", c.ChargeMassGr),
		utils.CheckPositive("口径 CaliberIn", c.CaliberIn),
		utils.CheckPositive("弹壳容积 CaseVolumeGrH2O", c.CaseVolumeGrH2O),
		utils.CheckPositive("枪管长度 BarrelLengthIn", c.BarrelLengthIn),
		utils.CheckPositive("压力效率系数 Phi", c.Phi),
		utils.CheckPositive("初始膛压 InitialPressurePsi", c.InitialPressurePsi),
		utils.CheckPositive("挤进压力 StartPressurePsi", c.StartPressurePsi),
		utils.CheckPositive("气体夹带倒数 SecondaryWorkMu", c.SecondaryWorkMu),
		utils.CheckNonNegative("膛壁摩擦 BoreFrictionPsi", c.BoreFrictionPsi),
	}
	for _, err := range checks {
		if err != nil {
			return err
		}
	}
	if leff := c.EffectiveBarrelLengthIn(); leff <= 0 {
		return fmt.Errorf("有效行程必须为正：枪管 %.3f in - 全弹长 %.3f in = %.3f in",
			c.BarrelLengthIn, c.COALIn, leff)
	}
	if v0 := c.FreeVolumeIn3(); v0 <= 0 {
		return fmt.Errorf("初始自由容积 %.3f in³ 非正值：弹壳容积 %.1f grH2O 容不下装药 %.1f gr",
			v0, c.CaseVolumeGrH2O, c.ChargeMassGr)
	}
	if c.HeatLoss == HeatLossConvective {
		convChecks := []error{
			utils.CheckPositive("基准换热系数 HBase", c.HBase),
			utils.CheckPositive("枪管壁温 WallTempK", c.WallTempK),
			utils.CheckPositive("参考压力 RefPressurePsi", c.RefPressurePsi),
			utils.CheckPositive("参考温度 RefTempK", c.RefTempK),
			utils.CheckPositive("参考气流速度 RefGasVelInS", c.RefGasVelInS),
		}
		for _, err := range convChecks {
			if err != nil {
				return err
			}
		}
	}
	return nil
}

// Clone 深拷贝配置，发射药与弹头属性独立复制
// 标定引擎的每次行评估与每个优化器试探点都必须在克隆上进行，
// 避免行间或试探点间交叉污染。
func (c *Config) Clone() *Config {
	cp := *c
	if c.Propellant != nil {
		cp.Propellant = c.Propellant.Clone()
	}
	if c.Bullet != nil {
		cp.Bullet = c.Bullet.Clone()
	}
	cp.HybridCoeffs = append([]float64(nil), c.HybridCoeffs...)
	return &cp
}

// BurnModel 按配置选定的模式构建燃速模型（配置期一次性选择）
func (c *Config) BurnModel() burn.Model {
	p := c.Propellant
	switch c.Mode {
	case BurnFormFunction:
		return burn.FormFn{
			Base:          p.LambdaBase,
			Geometry:      p.Geometry,
			PressureCoeff: p.PressureCoeff,
			TempSigma:     p.TempSigmaPerK,
		}
	case BurnHybrid:
		return burn.Hybrid{
			Form: burn.FormFn{
				Base:          p.LambdaBase,
				Geometry:      p.Geometry,
				PressureCoeff: p.PressureCoeff,
				TempSigma:     p.TempSigmaPerK,
			},
			Poly: burn.Polynomial{
				Base:      c.HybridBase,
				Coeffs:    append([]float64(nil), c.HybridCoeffs...),
				TempSigma: p.TempSigmaPerK,
			},
		}
	default:
		return burn.Polynomial{
			Base:      p.LambdaBase,
			Coeffs:    append([]float64(nil), p.Coeffs...),
			TempSigma: p.TempSigmaPerK,
		}
	}
}
