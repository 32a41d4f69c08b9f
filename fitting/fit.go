package fitting

import (
	"fmt"
	"log/slog"
	"math"

	"gonum.org/v1/gonum/diff/fd"
	"gonum.org/v1/gonum/optimize"
	"gonum.org/v1/gonum/stat"

	"ballistics/burn"
	"ballistics/dataset"
	"ballistics/props"
	"ballistics/solver"
	"ballistics/utils"
)

// penaltyLoss 不可行候选的统一惩罚值
// 燃速为负、求解失败都折算成这个有限大损失，优化器照常迭代。
const penaltyLoss = 1e10

// positivitySamples 正性预检的采样点数
const positivitySamples = 50

// Options 拟合选项
type Options struct {
	UseFormFunction  bool // 真则拟合(基准燃速, 压力修正系数)，假则拟合多项式系数
	FitTempSigma     bool // 同时拟合温度敏感系数
	FitBoreFriction  bool // 同时拟合膛线摩擦
	FitStartPressure bool // 同时拟合启动压力
	FitCovolume      bool // 同时拟合余容（一般不推荐）
	FitHBase         bool // 同时拟合基准换热系数

	IncludePressurePenalty bool    // 损失中加入最大装药档的膛压匹配项
	PressureWeight         float64 // 膛压匹配项权重，默认0.3

	MaxIterations int  // 优化器主迭代上限，默认100
	LogProgress   bool // 每10次求值输出一次进度日志
}

func (o Options) normalized() Options {
	if o.PressureWeight <= 0 {
		o.PressureWeight = 0.3
	}
	if o.MaxIterations <= 0 {
		o.MaxIterations = 100
	}
	return o
}

// Convergence 优化器收敛诊断
type Convergence struct {
	Converged   bool
	Status      string
	Iterations  int
	Evaluations int
	Loss        float64 // 终点处的目标函数值
}

// Result 拟合结果
type Result struct {
	Params Schema         // 全部参数（含固定项）的终值
	Mode   props.BurnMode // 拟合时采用的燃速模型，回代配置时跟随参数一起套用

	Predicted []float64 // 各行预测初速 ft/s，失败行为NaN
	Residuals []float64 // 预测-实测 ft/s
	RMSE      float64   // 加权RMSE ft/s

	Convergence Convergence
	Warnings    []string
}

// LambdaBase 拟合后的基准燃速
func (r *Result) LambdaBase() float64 {
	v, _ := r.Params.Get(ParamLambdaBase)
	return v
}

// Coeffs 拟合后的多项式形状系数（形函数模式下为空）
func (r *Result) Coeffs() []float64 {
	var out []float64
	for i := 0; ; i++ {
		v, ok := r.Params.Get(coeffName(i))
		if !ok {
			return out
		}
		out = append(out, v)
	}
}

// ConfigWith 把拟合参数套用到配置副本上
// 燃速模型模式跟随拟合结果，调用方传入的base不要求已设置模式。
func (r *Result) ConfigWith(base *props.Config, chargeGrains float64) (*props.Config, error) {
	cfg := base.Clone()
	cfg.ChargeMassGr = chargeGrains
	cfg.Mode = r.Mode
	if err := r.Params.Apply(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// objective 拟合目标函数
// 每次求值对每个数据行克隆配置后独立求解，任何共享只读。
type objective struct {
	data      dataset.Table
	base      *props.Config
	schema    Schema
	tempK     float64
	maxCharge float64

	pRef           float64 // 最大装药档的外部膛压参考
	hasPRef        bool
	pressureWeight float64

	evals       int
	logProgress bool
}

// rowConfig 第i行的求解配置：克隆基准配置并写入候选参数
func (o *objective) rowConfig(chargeGrains float64) (*props.Config, error) {
	cfg := o.base.Clone()
	cfg.ChargeMassGr = chargeGrains
	if err := o.schema.Apply(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// loss 候选向量的加权损失
// 先做燃速正性预检，失败直接给惩罚值，不触发昂贵的弹道求解。
func (o *objective) loss(x []float64) float64 {
	o.evals++
	if err := o.schema.SetVector(x); err != nil {
		return penaltyLoss
	}

	probe, err := o.rowConfig(o.maxCharge)
	if err != nil {
		return penaltyLoss
	}
	if !burn.ValidatePositive(probe.BurnModel(), o.tempK, positivitySamples) {
		return penaltyLoss
	}

	var sumWR2, sumW float64
	for _, row := range o.data {
		cfg, err := o.rowConfig(row.ChargeGrains)
		if err != nil {
			return penaltyLoss
		}
		res, err := solver.Solve(cfg, false)
		if err != nil {
			return penaltyLoss
		}
		r := res.MuzzleVelocityFPS - row.VelocityFPS
		// 权重按装药比缩放，弱化低装药行；有标准差再按逆方差加权
		w := row.ChargeGrains / o.maxCharge
		if row.VelocitySD > 0 {
			w /= row.VelocitySD * row.VelocitySD
		}
		sumWR2 += w * r * r
		sumW += w
	}
	loss := math.Sqrt(sumWR2 / sumW)

	if o.hasPRef {
		cfg, err := o.rowConfig(o.maxCharge)
		pp := 1.0
		if err == nil {
			if res, err := solver.Solve(cfg, false); err == nil {
				rel := (res.PeakPressurePsi - o.pRef) / o.pRef
				pp = rel * rel
			}
		}
		loss += o.pressureWeight * pp
	}

	if o.logProgress && o.evals%10 == 0 {
		lambda, _ := o.schema.Get(ParamLambdaBase)
		slog.Info("拟合迭代", "evals", o.evals, "loss", loss, "lambda_base", lambda)
	}
	return loss
}

// 优化器在无约束坐标u上搜索，tanh变换把u映回盒约束[lo,hi]，
// 等价于带边界的L-BFGS。

func toBounded(u, lo, hi []float64) []float64 {
	x := make([]float64, len(u))
	for i := range u {
		x[i] = lo[i] + (hi[i]-lo[i])*(1+math.Tanh(u[i]))/2
	}
	return x
}

func toUnbounded(x, lo, hi []float64) []float64 {
	u := make([]float64, len(x))
	for i := range x {
		t := 2*(x[i]-lo[i])/(hi[i]-lo[i]) - 1
		// 边界上atanh发散，收紧到可逆区间
		if t > 0.999999 {
			t = 0.999999
		}
		if t < -0.999999 {
			t = -0.999999
		}
		u[i] = math.Atanh(t)
	}
	return u
}

// Fit 拟合燃速参数
// data至少3行；base的装药量逐行覆盖。返回拟合参数、逐行残差与收敛诊断。
func Fit(data dataset.Table, base *props.Config, opts Options) (*Result, error) {
	opts = opts.normalized()
	if err := data.Validate(); err != nil {
		return nil, err
	}
	base = base.Clone()
	base.Normalize()
	if opts.UseFormFunction {
		base.Mode = props.BurnFormFunction
	} else {
		base.Mode = props.BurnPolynomial
	}

	schema := BuildSchema(base, opts)
	return FitSchema(data, base, schema, opts)
}

// FitSchema 用调用方给定的参数表拟合（顺序标定复用此入口）
func FitSchema(data dataset.Table, base *props.Config, schema Schema, opts Options) (*Result, error) {
	opts = opts.normalized()
	if err := data.Validate(); err != nil {
		return nil, err
	}

	obj := &objective{
		data:           data,
		base:           base,
		schema:         schema,
		tempK:          utils.FahrenheitToKelvin(base.TemperatureF),
		maxCharge:      data.MaxCharge(),
		pressureWeight: opts.PressureWeight,
		logProgress:    opts.LogProgress,
	}
	if opts.IncludePressurePenalty {
		if p, ok := data.PressureReference(); ok {
			obj.pRef, obj.hasPRef = p, true
			slog.Info("启用膛压参考惩罚", "p_ref_psi", p, "charge_gr", obj.maxCharge)
		} else {
			slog.Warn("请求了膛压惩罚但数据集无膛压参考值，已忽略")
		}
	}

	conv := Convergence{Converged: true, Status: "nothing to fit"}
	if schema.FreeCount() > 0 {
		lo, hi := schema.Bounds()
		u0 := toUnbounded(schema.Vector(), lo, hi)

		lossU := func(u []float64) float64 {
			return obj.loss(toBounded(u, lo, hi))
		}
		// L-BFGS需要梯度，目标函数不可导（内含事件定位的ODE求解），
		// 用中心差分数值梯度补齐，等价于scipy侧的L-BFGS-B默认行为
		problem := optimize.Problem{
			Func: lossU,
			Grad: func(grad, u []float64) {
				fd.Gradient(grad, lossU, u, nil)
			},
		}
		settings := &optimize.Settings{
			MajorIterations: opts.MaxIterations,
			Converger: &optimize.FunctionConverge{
				Absolute:   1e-3,
				Iterations: 10,
			},
		}
		optRes, optErr := optimize.Minimize(problem, u0, settings, &optimize.LBFGS{})
		if optRes == nil {
			return nil, fmt.Errorf("优化器未返回结果: %w", optErr)
		}
		if err := schema.SetVector(toBounded(optRes.X, lo, hi)); err != nil {
			return nil, err
		}
		conv = Convergence{
			Converged:   optErr == nil && optRes.F < penaltyLoss,
			Status:      optRes.Status.String(),
			Iterations:  optRes.Stats.MajorIterations,
			Evaluations: optRes.Stats.FuncEvaluations,
			Loss:        optRes.F,
		}
		if optErr != nil {
			conv.Status = fmt.Sprintf("%s: %v", conv.Status, optErr)
		}
	}

	result := &Result{Params: schema, Mode: base.Mode, Convergence: conv}
	finalize(result, data, obj)
	return result, nil
}

// finalize 用终值参数回算逐行预测并生成诊断提示
// 预测与拟合走同一条求解路径，拟合结果回代必须复现这里的数组。
func finalize(r *Result, data dataset.Table, obj *objective) {
	n := len(data)
	r.Predicted = make([]float64, n)
	r.Residuals = make([]float64, n)
	weights := make([]float64, n)
	charges := make([]float64, 0, n)
	valid := make([]float64, 0, n)

	for i, row := range data {
		cfg, err := obj.rowConfig(row.ChargeGrains)
		var res *solver.Result
		if err == nil {
			res, err = solver.Solve(cfg, false)
		}
		if err != nil {
			r.Predicted[i] = math.NaN()
			r.Residuals[i] = math.NaN()
			r.Warnings = append(r.Warnings,
				fmt.Sprintf("装药 %.1fgr 回算失败: %v", row.ChargeGrains, err))
			continue
		}
		r.Predicted[i] = res.MuzzleVelocityFPS
		r.Residuals[i] = res.MuzzleVelocityFPS - row.VelocityFPS
		w := 1.0
		if row.VelocitySD > 0 {
			w = 1.0 / (row.VelocitySD * row.VelocitySD)
		}
		weights[i] = w
		charges = append(charges, row.ChargeGrains)
		valid = append(valid, r.Residuals[i])
	}

	// 权重归一化到均值1后取加权RMSE
	var sumW float64
	for _, w := range weights {
		sumW += w
	}
	if sumW > 0 && len(valid) > 0 {
		var s float64
		for i, res := range r.Residuals {
			if math.IsNaN(res) {
				continue
			}
			s += res * res * weights[i] / sumW * float64(len(valid))
		}
		r.RMSE = math.Sqrt(s / float64(len(valid)))
	} else {
		r.RMSE = math.NaN()
	}

	r.Warnings = append(r.Warnings, diagnostics(charges, valid, r.Params)...)
	r.Warnings = append(r.Warnings, data.QualityWarnings()...)
}

// diagnostics 残差系统偏差与趋势检测（仅提示，不判失败）
func diagnostics(charges, residuals []float64, params Schema) []string {
	var warnings []string
	if len(residuals) > 3 {
		mean := stat.Mean(residuals, nil)
		sd := stat.StdDev(residuals, nil)
		if sd > 0 && math.Abs(mean) > 2*sd {
			warnings = append(warnings, fmt.Sprintf(
				"残差存在系统性偏差（均值 %.1f fps，标准差 %.1f fps），检查模型假设或数据质量", mean, sd))
		}
		if len(charges) == len(residuals) {
			corr := stat.Correlation(charges, residuals, nil)
			if math.Abs(corr) > 0.5 {
				direction := "递增"
				if corr < 0 {
					direction = "递减"
				}
				warnings = append(warnings, fmt.Sprintf(
					"残差随装药量%s（相关系数 %.2f），模型可能存在系统偏差", direction, corr))
			}
		}
	}
	if sigma, ok := params.Get(ParamTempSigma); ok {
		if sigma < 0.001 || sigma > 0.008 {
			warnings = append(warnings, fmt.Sprintf(
				"拟合温度敏感系数 %.6f 超出经验范围 [0.001, 0.008]，检查数据质量", sigma))
		}
	}
	return warnings
}
