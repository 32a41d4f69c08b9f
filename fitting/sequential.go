package fitting

import (
	"log/slog"

	"ballistics/dataset"
	"ballistics/props"
)

// SequentialResult 两阶段拟合结果
type SequentialResult struct {
	Stage1 *Result // 燃速形状拟合
	Stage2 *Result // 换热系数拟合（形状冻结）
	Final  *Result // 与Stage2相同，含全量参数终值
}

// FitSequential 两阶段顺序拟合
// 第一阶段只放开基准燃速与形状系数，所有次级物理参数关闭；
// 第二阶段把第一阶段的结果用零宽边界冻结，单独放开基准换热系数。
func FitSequential(data dataset.Table, base *props.Config, opts Options) (*SequentialResult, error) {
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

	stage1Opts := opts
	stage1Opts.FitTempSigma = false
	stage1Opts.FitBoreFriction = false
	stage1Opts.FitStartPressure = false
	stage1Opts.FitCovolume = false
	stage1Opts.FitHBase = false

	slog.Info("第一阶段：拟合燃速形状参数")
	stage1, err := Fit(data, base, stage1Opts)
	if err != nil {
		return nil, err
	}

	slog.Info("第二阶段：冻结形状参数，拟合基准换热系数",
		"lambda_base", stage1.LambdaBase())
	schema2 := stage1.Params.Freeze()
	hBase := base.HBase
	if hBase <= 0 {
		hBase = 1000.0
	}
	schema2 = append(schema2, Param{
		Name: ParamHBase, Value: clampTo(hBase, 500, 10000),
		Min: 500.0, Max: 10000.0, Free: true,
	})

	stage2Opts := opts
	stage2Opts.FitHBase = true
	stage2, err := FitSchema(data, base, schema2, stage2Opts)
	if err != nil {
		return nil, err
	}

	return &SequentialResult{Stage1: stage1, Stage2: stage2, Final: stage2}, nil
}
