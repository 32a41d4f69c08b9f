package analysis

import (
	"fmt"
	"math"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"

	"ballistics/dataset"
	"ballistics/fitting"
)

// PlotVelocityFit 绘制初速拟合图：实测散点+拟合折线，存为PNG
func PlotVelocityFit(data dataset.Table, fit *fitting.Result, path string) error {
	p := plot.New()
	p.Title.Text = fmt.Sprintf("Velocity Fit - RMSE %.1f fps", fit.RMSE)
	p.X.Label.Text = "Charge (grains)"
	p.Y.Label.Text = "Velocity (fps)"

	measured := make(plotter.XYs, 0, len(data))
	predicted := make(plotter.XYs, 0, len(data))
	for i, row := range data {
		measured = append(measured, plotter.XY{X: row.ChargeGrains, Y: row.VelocityFPS})
		if i < len(fit.Predicted) && !math.IsNaN(fit.Predicted[i]) {
			predicted = append(predicted, plotter.XY{X: row.ChargeGrains, Y: fit.Predicted[i]})
		}
	}

	scatter, err := plotter.NewScatter(measured)
	if err != nil {
		return err
	}
	line, err := plotter.NewLine(predicted)
	if err != nil {
		return err
	}
	p.Add(scatter, line, plotter.NewGrid())
	p.Legend.Add("measured", scatter)
	p.Legend.Add("fitted", line)

	return p.Save(8*vg.Inch, 5*vg.Inch, path)
}

// PlotResiduals 绘制残差-装药量散点图，存为PNG
func PlotResiduals(data dataset.Table, fit *fitting.Result, path string) error {
	p := plot.New()
	p.Title.Text = "Fit Residuals"
	p.X.Label.Text = "Charge (grains)"
	p.Y.Label.Text = "Residual (fps)"

	pts := make(plotter.XYs, 0, len(data))
	for i, row := range data {
		if i < len(fit.Residuals) && !math.IsNaN(fit.Residuals[i]) {
			pts = append(pts, plotter.XY{X: row.ChargeGrains, Y: fit.Residuals[i]})
		}
	}
	scatter, err := plotter.NewScatter(pts)
	if err != nil {
		return err
	}
	zero := plotter.NewFunction(func(float64) float64 { return 0 })
	p.Add(scatter, zero, plotter.NewGrid())

	return p.Save(8*vg.Inch, 4*vg.Inch, path)
}

// PlotScan 绘制扫掠曲线：初速与峰压随扫掠变量的变化，存为PNG
// xCharge为真时横轴取装药量，否则取管长。
func PlotScan(points []ScanPoint, xCharge bool, path string) error {
	p := plot.New()
	p.Title.Text = "Burnout Scan"
	p.Y.Label.Text = "Muzzle velocity (fps)"
	if xCharge {
		p.X.Label.Text = "Charge (grains)"
	} else {
		p.X.Label.Text = "Barrel length (in)"
	}

	velocity := make(plotter.XYs, 0, len(points))
	for _, pt := range points {
		if pt.Failed {
			continue
		}
		x := pt.BarrelLengthIn
		if xCharge {
			x = pt.ChargeGrains
		}
		velocity = append(velocity, plotter.XY{X: x, Y: pt.MuzzleVelocityFPS})
	}
	line, err := plotter.NewLine(velocity)
	if err != nil {
		return err
	}
	p.Add(line, plotter.NewGrid())
	p.Legend.Add("velocity", line)

	return p.Save(8*vg.Inch, 5*vg.Inch, path)
}
