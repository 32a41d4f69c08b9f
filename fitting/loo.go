package fitting

import (
	"log/slog"
	"math"

	"ballistics/dataset"
	"ballistics/props"
	"ballistics/solver"
)

// Fold 留一交叉验证的单折结果
// 求解失败的折Predicted/Error为NaN并带Failed标记，不计入聚合误差。
type Fold struct {
	Index        int
	ChargeGrains float64
	Actual       float64
	Predicted    float64
	Error        float64
	Failed       bool
}

// LOOResult 留一交叉验证结果
type LOOResult struct {
	Folds      []Fold
	RMSE       float64 // 仅有效折
	MAE        float64 // 仅有效折
	NFolds     int
	NValidFold int
}

// LeaveOneOut 留一交叉验证
// 对每行：去掉该行重新拟合，再用拟合参数预测被留出的行。
// 折数恒等于行数，失败折保留占位而不中断整轮验证。
func LeaveOneOut(data dataset.Table, base *props.Config, opts Options) (*LOOResult, error) {
	if err := data.Validate(); err != nil {
		return nil, err
	}

	out := &LOOResult{NFolds: len(data)}
	var sumSq, sumAbs float64

	for i, row := range data {
		fold := Fold{
			Index:        i,
			ChargeGrains: row.ChargeGrains,
			Actual:       row.VelocityFPS,
			Predicted:    math.NaN(),
			Error:        math.NaN(),
			Failed:       true,
		}

		train := data.Without(i)
		fit, err := Fit(train, base, opts)
		if err == nil {
			var cfg *props.Config
			cfg, err = fit.ConfigWith(base, row.ChargeGrains)
			if err == nil {
				var res *solver.Result
				res, err = solver.Solve(cfg, false)
				if err == nil {
					fold.Predicted = res.MuzzleVelocityFPS
					fold.Error = res.MuzzleVelocityFPS - row.VelocityFPS
					fold.Failed = false
				}
			}
		}
		if fold.Failed {
			slog.Warn("留一验证折失败", "fold", i, "charge_gr", row.ChargeGrains, "err", err)
		} else {
			sumSq += fold.Error * fold.Error
			sumAbs += math.Abs(fold.Error)
			out.NValidFold++
		}
		out.Folds = append(out.Folds, fold)
	}

	if out.NValidFold > 0 {
		out.RMSE = math.Sqrt(sumSq / float64(out.NValidFold))
		out.MAE = sumAbs / float64(out.NValidFold)
	} else {
		out.RMSE = math.NaN()
		out.MAE = math.NaN()
	}
	return out, nil
}
