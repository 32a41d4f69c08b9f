// Package solver 内弹道弹道求解器
//
// 将三个耦合的一阶常微分方程组自适应积分到枪口出膛：
//
//	dZ/dt = Λ(Z,T,P)·P      燃烧分数增长率（燃速乘膛压）
//	dv/dt = (g/m_eff)·(A·φ·P_eff - Θ)   弹头运动方程（含摩擦与挤进门限）
//	dx/dt = v               弹头位置
//
// 膛压不参与积分，每次求值由Noble-Abel状态方程下的能量平衡
// 代数重算，保证积分器内部求值与事后报告的一致性：
//
//	P·(V(x) - η·C·Z) = C·Z·F - (γ-1)·[动能 + 热损失 + 挤进功]
//
// 燃尽后切换为多方膨胀律 P·V_free^γ = const，常数在燃尽瞬间一次性固定。
// 燃尽不终止积分：求解分两段进行，只有枪口出膛才停止。
package solver

import (
	"fmt"
	"math"

	"ballistics/burn"
	"ballistics/props"
	"ballistics/utils"
)

// Phase 求解器相位，取代隐式闭包状态
type Phase int

const (
	PhaseIgniting Phase = iota // 点火期：Z<0.001，膛压取初始压力下限
	PhaseBurning               // 燃烧期：能量平衡求压
	PhaseBurned                // 燃尽期：多方膨胀律求压
	PhaseExited                // 已出膛
)

// 积分参数：时间上限100ms对任何常规枪弹都绰绰有余
const (
	tSpanMax   = 0.1
	maxODEStep = 1e-5
	// igniteZ 点火阈值：Z低于该值时膛压取初始压力
	igniteZ = 0.001
	// burnoutZ 燃尽判定阈值
	burnoutZ = 0.999
)

// Result 单次弹道求解结果
type Result struct {
	MuzzleVelocityFPS float64 // 枪口速度 ft/s
	MuzzleEnergyFtLbs float64 // 枪口动能 ft·lbf
	PeakPressurePsi   float64 // 峰值膛压 psi
	MuzzlePressurePsi float64 // 枪口膛压 psi
	FinalZ            float64 // 终态燃烧分数
	TotalTimeS        float64 // 弹头行程耗时 s

	// BurnedOut 为真时BurnoutFromBoltIn有效（燃尽点距弹底面距离），
	// 否则MuzzleBurnPct有效（枪口处已燃百分比）——二者互斥
	BurnedOut         bool
	BurnoutFromBoltIn float64
	MuzzleBurnPct     float64

	Trace *Trace // 仅按需生成
}

// Trace 完整时间序列轨迹
type Trace struct {
	T []float64 // 时间 s
	Z []float64 // 燃烧分数
	V []float64 // 速度 in/s
	X []float64 // 位置 in
	P []float64 // 膛压 psi
}

// sim 由配置预计算的求解器内部量（全部英制单位）
type sim struct {
	m     float64 // 弹头质量 lbm
	C     float64 // 装药量 lbm
	D     float64 // 口径 in
	A     float64 // 膛孔截面积 in²
	V0    float64 // 初始自由容积 in³
	Leff  float64 // 有效行程 in
	coal  float64 // 全弹长 in
	T1    float64 // 环境温度 K
	gamma float64 // 比热比
	F     float64 // 火药力 in·lbf/lbm
	T0    float64 // 火焰温度 K
	eta   float64 // 余容 in³/lbm
	theta float64 // 挤进阻力常数Θ
	phi   float64 // 压力效率系数
	pIn   float64 // 初始膛压 psi

	boreFriction float64
	shotStart    float64
	mu           float64

	model burn.Model

	// 对流热损失模型参数
	convective    bool
	hBase         float64 // 英制换算后的基准换热系数
	hAlpha        float64
	hBeta         float64
	hGamma        float64
	tWall         float64
	pRef          float64
	tRefH         float64
	vRef          float64
	circumference float64

	// 相位状态：多方膨胀常数在Burning→Burned转换时一次性固定
	phase         Phase
	pBurnout      float64 // 燃尽瞬间膛压 psi
	vFreeBurnout  float64 // 燃尽瞬间自由容积 in³
	burnoutTravel float64
}

// newSim 从已校验的配置构建求解器内部量
func newSim(cfg *props.Config) *sim {
	p := cfg.Propellant
	b := cfg.Bullet
	s := &sim{
		m:            cfg.BulletMassGr * utils.GrainsToLb,
		C:            cfg.ChargeMassGr * utils.GrainsToLb,
		D:            cfg.CaliberIn,
		A:            math.Pi * cfg.CaliberIn * cfg.CaliberIn / 4,
		V0:           cfg.FreeVolumeIn3(),
		Leff:         cfg.EffectiveBarrelLengthIn(),
		coal:         cfg.COALIn,
		T1:           utils.FahrenheitToKelvin(cfg.TemperatureF),
		gamma:        p.Gamma,
		F:            p.Force,
		T0:           p.FlameTempK,
		eta:          p.CovolumeM3PerKg * utils.M3PerKgToIn3PerLbm,
		phi:          cfg.Phi,
		pIn:          cfg.InitialPressurePsi,
		boreFriction: cfg.BoreFrictionPsi,
		shotStart:    cfg.StartPressurePsi,
		mu:           cfg.SecondaryWorkMu,
		model:        cfg.BurnModel(),
		phase:        PhaseIgniting,
	}
	// 挤进阻力：Θ = 2.5·m·s/(D·ρ_p)
	s.theta = 2.5 * s.m * b.Strength / (s.D * b.Density)

	if cfg.HeatLoss == props.HeatLossConvective {
		s.convective = true
		s.hBase = cfg.HBase * utils.JoulesToFtLbf / (utils.InToM * utils.InToM * 144)
		s.hAlpha = cfg.HAlpha
		s.hBeta = cfg.HBeta
		s.hGamma = cfg.HGammaExp
		s.tWall = cfg.WallTempK
		s.pRef = cfg.RefPressurePsi
		s.tRefH = cfg.RefTempK
		s.vRef = cfg.RefGasVelInS
		s.circumference = math.Pi * s.D
	}
	return s
}

// heatLoss 热损失项E_h（ft·lbf）
func (s *sim) heatLoss(Z, v, x float64) float64 {
	if !s.convective {
		// 经验模型：闭式公式随Z线性缩放
		return (0.38 * (s.T0 - s.T1) * math.Pow(s.D, 1.5)) /
			(1 + 0.6*(math.Pow(s.D, 2.175)/math.Pow(s.C, 0.8375))) * 12 * Z
	}
	if x <= 0 {
		return 0
	}
	volume := s.V0 + s.A*x
	mGas := s.C * Z
	if Z <= igniteZ {
		mGas = s.C * igniteZ
	}
	// 理想气体估算燃气温度，夹在[环境温度, 1.5倍火焰温度]内
	pEst := s.pIn
	if volume > 0 && Z > igniteZ {
		pEst = math.Max(s.pIn, s.C*Z*s.F/volume)
	}
	rSpecific := s.F / s.T0
	tGas := s.T1
	if mGas > 0 {
		tGas = (pEst * volume / 144) / (mGas * rSpecific)
	}
	tGas = math.Max(s.T1, math.Min(tGas, s.T0*1.5))
	vGas := math.Max(math.Abs(v), 1)

	ht := s.hBase *
		math.Pow(pEst/s.pRef, s.hAlpha) *
		math.Pow(tGas/s.tRefH, s.hBeta) *
		math.Pow(vGas/s.vRef, s.hGamma)

	deltaT := math.Max(tGas-s.tWall, 0)
	return ht * s.circumference * x * deltaT
}

// pressure 由能量平衡代数计算当前膛压（不参与积分）
func (s *sim) pressure(Z, v, x float64) float64 {
	return s.pressureAt(s.phase, Z, v, x)
}

// pressureAt 按指定相位取压力律：燃烧期走能量平衡，燃尽期走多方膨胀。
// 事后重算轨迹点时必须传入该点积分时所处的相位，而不是求解器终态相位。
func (s *sim) pressureAt(phase Phase, Z, v, x float64) float64 {
	Z = clamp01(Z)
	volume := s.V0 + s.A*x
	vFree := volume - s.eta*s.C*Z

	if phase >= PhaseBurned && Z >= burnoutZ {
		// 燃尽后多方膨胀：常数在燃尽瞬间固定
		if vFree > 0 && s.vFreeBurnout > 0 {
			return s.pBurnout * math.Pow(s.vFreeBurnout/vFree, s.gamma)
		}
		return s.pIn
	}
	if Z < igniteZ {
		// 点火期：以配置的初始压力为下限预压系统
		return s.pIn
	}

	mEff := s.m + s.C*Z/s.mu
	ke := mEff * v * v / (2 * utils.GAccel)
	energyLoss := (s.gamma - 1) * (ke + s.heatLoss(Z, v, x) + s.theta*x)

	if vFree > 0 {
		return math.Max(s.pIn, (s.C*Z*s.F-energyLoss)/vFree)
	}
	// 余容超过总容积时退化为理想气体（现实参数下不应发生）
	if volume > 0 {
		return math.Max(s.pIn, (s.C*Z*s.F-energyLoss)/volume)
	}
	return s.pIn
}

// rhs 常微分方程组右端
func (s *sim) rhs(_ float64, y, dydt []float64) {
	Z, v, x := clamp01(y[0]), y[1], y[2]
	P := s.pressure(Z, v, x)

	// 燃烧分数增长率：燃速乘膛压
	dydt[0] = s.model.Rate(Z, s.T1, P) * P

	// 弹头加速度：挤进门限之下或已达枪口时保持静止
	if P > s.shotStart && x < s.Leff {
		pEff := math.Max(0, P-s.boreFriction)
		mEff := s.m + s.C*Z/s.mu
		a := (utils.GAccel / mEff) * (s.A*s.phi*pEff - s.theta)
		// 静止弹头不后退：驱动力不足挤进阻力时保持v=0，
		// 否则速度与位置转负，膛室容积随之失真
		if a < 0 && v <= 0 {
			a = 0
		}
		dydt[1] = a
	} else {
		dydt[1] = 0
	}

	if x < s.Leff {
		dydt[2] = v
	} else {
		dydt[2] = 0
	}
}

// Solve 执行单次弹道求解
// withTrace为真时结果附带完整时间序列。
// 配置校验失败、积分不收敛均返回错误；标定引擎应将这类
// 错误转为有限大惩罚而非中止整个优化。
func Solve(cfg *props.Config, withTrace bool) (*Result, error) {
	cfg.Normalize()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	s := newSim(cfg)

	ig := &Integrator{
		RTol:    1e-6,
		ATol:    1e-9,
		MaxStep: maxODEStep,
	}

	burnoutEvent := Event{
		G:         func(_ float64, y []float64) float64 { return y[0] - 1 },
		Direction: 1,
		Terminal:  true, // 终止第一段积分；求解器切相位后续积第二段
	}
	muzzleEvent := Event{
		G:         func(_ float64, y []float64) float64 { return y[2] - s.Leff },
		Direction: 1,
		Terminal:  true,
	}

	// 第一段：从点火积分至燃尽或出膛
	s.phase = PhaseBurning
	sol1, err := ig.Integrate(s.rhs, 0, tSpanMax, []float64{0, 0, 0}, []Event{burnoutEvent, muzzleEvent})
	if err != nil {
		return nil, fmt.Errorf("弹道积分失败: %w", err)
	}

	segments := []*Solution{sol1}
	if sol1.Terminated == 0 {
		// 燃尽先于出膛：固定多方膨胀常数后继续积分到枪口
		tb, yb := sol1.LastState()
		s.pBurnout = s.pressure(yb[0], yb[1], yb[2])
		s.vFreeBurnout = s.V0 + s.A*yb[2] - s.eta*s.C
		s.burnoutTravel = yb[2]
		s.phase = PhaseBurned

		yb2 := []float64{1, yb[1], yb[2]}
		sol2, err := ig.Integrate(s.rhs, tb, tSpanMax, yb2, []Event{muzzleEvent})
		if err != nil {
			return nil, fmt.Errorf("燃尽后段积分失败: %w", err)
		}
		segments = append(segments, sol2)
	}

	return s.buildResult(cfg, segments, withTrace)
}

// buildResult 汇总各积分段，重算峰值压力与终态指标
func (s *sim) buildResult(cfg *props.Config, segments []*Solution, withTrace bool) (*Result, error) {
	last := segments[len(segments)-1]
	tFinal, yFinal := last.LastState()
	zFinal, vFinal, xFinal := clamp01(yFinal[0]), yFinal[1], yFinal[2]

	// 峰值压力在每个接受步上重算代数压力律——
	// 峰值常出现在任一终止事件之前，端点取值不可靠
	peak := s.pIn
	var trace *Trace
	if withTrace {
		trace = &Trace{}
	}
	for si, seg := range segments {
		start := 0
		segPhase := PhaseBurning
		if si > 0 {
			start = 1 // 段首与上一段段尾重合
			segPhase = PhaseBurned
		}
		for i := start; i < len(seg.T); i++ {
			Z, v, x := seg.Y[i][0], seg.Y[i][1], seg.Y[i][2]
			// 每个点都按它积分时所处的相位取压力律：第一段末尾
			// Z已过燃尽阈值的点仍是能量平衡律算出来的
			P := s.pressureAt(segPhase, Z, v, x)
			if P > peak {
				peak = P
			}
			if trace != nil {
				trace.T = append(trace.T, seg.T[i])
				trace.Z = append(trace.Z, clamp01(Z))
				trace.V = append(trace.V, v)
				trace.X = append(trace.X, x)
				trace.P = append(trace.P, P)
			}
		}
	}

	muzzlePressure := s.pressure(zFinal, vFinal, xFinal)
	muzzleVelocityFPS := vFinal / 12

	res := &Result{
		MuzzleVelocityFPS: muzzleVelocityFPS,
		MuzzleEnergyFtLbs: utils.MuzzleEnergy(cfg.BulletMassGr, muzzleVelocityFPS),
		PeakPressurePsi:   peak,
		MuzzlePressurePsi: muzzlePressure,
		FinalZ:            zFinal,
		TotalTimeS:        tFinal,
		Trace:             trace,
	}

	if zFinal >= burnoutZ {
		res.BurnedOut = true
		travel := s.burnoutTravel
		if s.phase < PhaseBurned {
			// 燃尽紧贴枪口、未被事件捕获时退化为终态位置
			travel = xFinal
		}
		res.BurnoutFromBoltIn = s.coal + travel
	} else {
		res.MuzzleBurnPct = zFinal * 100
	}
	s.phase = PhaseExited
	return res, nil
}

func clamp01(x float64) float64 {
	if x < 0 {
		return 0
	}
	if x > 1 {
		return 1
	}
	return x
}
