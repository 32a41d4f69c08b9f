// 内弹道求解与燃速标定命令行工具
package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"ballistics"
	"ballistics/analysis"
	"ballistics/db"
	"ballistics/fitting"
	"ballistics/load"
)

var (
	dbPath       string
	outputPath   string
	plotPath     string
	chargeGr     float64
	minValue     float64
	maxValue     float64
	nPoints      int
	withPressure bool
	sequential   bool
	saveDB       bool

	firearmEntry db.Firearm

	rootCmd = &cobra.Command{
		Use:   "ballistics",
		Short: "内弹道模拟与燃速参数标定",
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			// .env仅作为环境变量补充，不存在时静默跳过
			_ = godotenv.Load()
			if dbPath == "" {
				dbPath = db.DefaultPath()
			}
		},
	}

	fitCmd = &cobra.Command{
		Use:   "fit <测速文件>",
		Short: "从测速数据拟合燃速参数",
		Args:  cobra.ExactArgs(1),
		RunE:  runFit,
	}

	simulateCmd = &cobra.Command{
		Use:   "simulate <测速文件>",
		Short: "用当前配置模拟单发弹道",
		Args:  cobra.ExactArgs(1),
		RunE:  runSimulate,
	}

	scanChargeCmd = &cobra.Command{
		Use:   "scan-charge <测速文件>",
		Short: "扫掠装药量并分析燃尽特性",
		Args:  cobra.ExactArgs(1),
		RunE:  runScanCharge,
	}

	scanBarrelCmd = &cobra.Command{
		Use:   "scan-barrel <测速文件>",
		Short: "扫掠管长并分析燃尽特性",
		Args:  cobra.ExactArgs(1),
		RunE:  runScanBarrel,
	}

	looCmd = &cobra.Command{
		Use:   "loo <测速文件>",
		Short: "留一交叉验证评估拟合稳健性",
		Args:  cobra.ExactArgs(1),
		RunE:  runLOO,
	}

	firearmCmd = &cobra.Command{
		Use:   "firearm",
		Short: "管理属性库中的枪械登记",
	}

	firearmAddCmd = &cobra.Command{
		Use:   "add",
		Short: "登记一支枪械（重复登记返回原条目）",
		RunE:  runFirearmAdd,
	}

	firearmListCmd = &cobra.Command{
		Use:   "list",
		Short: "列出已登记枪械",
		RunE:  runFirearmList,
	}
)

func init() {
	rootCmd.PersistentFlags().StringVar(&dbPath, "db", "", "属性库路径（默认取BALLISTICS_DB_PATH）")

	fitCmd.Flags().StringVarP(&outputPath, "output", "o", "", "拟合结果JSON输出路径")
	fitCmd.Flags().StringVar(&plotPath, "plot", "", "拟合曲线PNG输出路径")
	fitCmd.Flags().BoolVar(&withPressure, "pressure-penalty", false, "损失中加入膛压匹配项")
	fitCmd.Flags().BoolVar(&sequential, "sequential", false, "两阶段顺序拟合（形状后换热系数）")
	fitCmd.Flags().BoolVar(&saveDB, "save-db", false, "拟合通过后把燃速参数写回属性库")

	firearmAddCmd.Flags().StringVar(&firearmEntry.Manufacturer, "manufacturer", "", "厂牌")
	firearmAddCmd.Flags().StringVar(&firearmEntry.Model, "model", "", "型号")
	firearmAddCmd.Flags().StringVar(&firearmEntry.SerialNumber, "serial", "", "序列号")
	firearmAddCmd.Flags().Float64Var(&firearmEntry.CaliberIn, "caliber", 0, "口径 in")
	firearmAddCmd.Flags().Float64Var(&firearmEntry.BarrelLengthIn, "barrel", 0, "管长 in")
	firearmAddCmd.Flags().StringVar(&firearmEntry.TwistRate, "twist", "", "缠距，如 1:10")
	firearmAddCmd.Flags().StringVar(&firearmEntry.Notes, "notes", "", "备注")
	firearmAddCmd.MarkFlagRequired("manufacturer")
	firearmAddCmd.MarkFlagRequired("model")
	firearmCmd.AddCommand(firearmAddCmd, firearmListCmd)

	simulateCmd.Flags().Float64Var(&chargeGr, "charge", 0, "装药量覆盖值 grain")

	for _, c := range []*cobra.Command{scanChargeCmd, scanBarrelCmd} {
		c.Flags().Float64Var(&minValue, "min", 0, "扫掠下限")
		c.Flags().Float64Var(&maxValue, "max", 0, "扫掠上限")
		c.Flags().IntVar(&nPoints, "points", 20, "扫掠点数")
		c.Flags().StringVar(&plotPath, "plot", "", "扫掠曲线PNG输出路径")
		c.MarkFlagRequired("min")
		c.MarkFlagRequired("max")
	}

	rootCmd.AddCommand(fitCmd, simulateCmd, scanChargeCmd, scanBarrelCmd, looCmd, firearmCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		slog.Error("命令执行失败", "err", err)
		os.Exit(1)
	}
}

// openProject 打开属性库与测速工程
func openProject(path string) (*ballistics.Project, *db.Store, error) {
	store, err := db.Open(dbPath)
	if err != nil {
		return nil, nil, err
	}
	if err := store.Seed(); err != nil {
		store.Close()
		return nil, nil, err
	}
	project, err := ballistics.OpenProject(path, store)
	if err != nil {
		store.Close()
		return nil, nil, err
	}
	return project, store, nil
}

func runFit(cmd *cobra.Command, args []string) error {
	project, store, err := openProject(args[0])
	if err != nil {
		return err
	}
	defer store.Close()

	slog.Info("开始拟合", "file", args[0], "rows", len(project.Data),
		"propellant", project.Meta.PropellantName)

	opts := fitting.Options{
		FitTempSigma:           true,
		FitBoreFriction:        true,
		FitStartPressure:       true,
		FitHBase:               true,
		IncludePressurePenalty: withPressure,
		LogProgress:            true,
	}

	var result *fitting.Result
	if sequential {
		seq, err := project.FitSequential(opts)
		if err != nil {
			return err
		}
		result = seq.Final
	} else {
		result, err = project.Fit(opts)
		if err != nil {
			return err
		}
	}

	fmt.Printf("基准燃速: %.6f s⁻¹/psi\n", result.LambdaBase())
	fmt.Printf("形状系数: %v\n", result.Coeffs())
	fmt.Printf("RMSE: %.1f fps\n", result.RMSE)
	fmt.Printf("收敛: %v (%s, %d次迭代)\n",
		result.Convergence.Converged, result.Convergence.Status, result.Convergence.Iterations)
	for _, w := range result.Warnings {
		slog.Warn(w)
	}

	if outputPath != "" {
		if err := load.ExportFitJSON(outputPath, result, project.Meta.PropellantName); err != nil {
			return err
		}
		slog.Info("拟合结果已保存", "path", outputPath)
	}
	if plotPath != "" {
		if err := analysis.PlotVelocityFit(project.Data, result, plotPath); err != nil {
			return err
		}
		slog.Info("拟合曲线已保存", "path", plotPath)
	}
	if saveDB {
		err := store.UpdatePropellantCoefficients(
			project.Meta.PropellantName, result.LambdaBase(), result.Coeffs())
		if err != nil {
			return err
		}
		slog.Info("燃速参数已写回属性库",
			"propellant", project.Meta.PropellantName, "lambda_base", result.LambdaBase())
	}
	return nil
}

func runFirearmAdd(cmd *cobra.Command, args []string) error {
	store, err := db.Open(dbPath)
	if err != nil {
		return err
	}
	defer store.Close()

	id, err := store.InsertFirearm(firearmEntry)
	if err != nil {
		return err
	}
	fmt.Printf("枪械已登记: #%d %s %s\n", id, firearmEntry.Manufacturer, firearmEntry.Model)
	return nil
}

func runFirearmList(cmd *cobra.Command, args []string) error {
	store, err := db.Open(dbPath)
	if err != nil {
		return err
	}
	defer store.Close()

	firearms, err := store.ListFirearms()
	if err != nil {
		return err
	}
	for _, f := range firearms {
		fmt.Printf("#%d  %s %s  %.3fin  %gin管  %s  %s\n",
			f.ID, f.Manufacturer, f.Model, f.CaliberIn, f.BarrelLengthIn, f.TwistRate, f.SerialNumber)
	}
	if len(firearms) == 0 {
		fmt.Println("尚无登记枪械")
	}
	return nil
}

func runSimulate(cmd *cobra.Command, args []string) error {
	project, store, err := openProject(args[0])
	if err != nil {
		return err
	}
	defer store.Close()

	charge := chargeGr
	if charge <= 0 {
		charge = project.Config.ChargeMassGr
	}
	res, err := project.Solve(charge, false)
	if err != nil {
		return err
	}

	fmt.Printf("枪口速度: %.0f fps\n", res.MuzzleVelocityFPS)
	fmt.Printf("枪口动能: %.0f ft·lbf\n", res.MuzzleEnergyFtLbs)
	fmt.Printf("峰值膛压: %.0f psi\n", res.PeakPressurePsi)
	fmt.Printf("终态燃烧分数: %.3f\n", res.FinalZ)
	if res.BurnedOut {
		fmt.Printf("燃尽位置: 距弹底 %.2f in\n", res.BurnoutFromBoltIn)
	} else {
		fmt.Printf("枪口燃烧百分比: %.1f%%\n", res.MuzzleBurnPct)
	}
	return nil
}

func runScanCharge(cmd *cobra.Command, args []string) error {
	project, store, err := openProject(args[0])
	if err != nil {
		return err
	}
	defer store.Close()

	points := analysis.ScanCharge(project.Config, minValue, maxValue, nPoints)
	printScan(points, true)
	if plotPath != "" {
		return analysis.PlotScan(points, true, plotPath)
	}
	return nil
}

func runScanBarrel(cmd *cobra.Command, args []string) error {
	project, store, err := openProject(args[0])
	if err != nil {
		return err
	}
	defer store.Close()

	points := analysis.ScanBarrel(project.Config, minValue, maxValue, nPoints)
	printScan(points, false)
	if plotPath != "" {
		return analysis.PlotScan(points, false, plotPath)
	}
	return nil
}

func printScan(points []analysis.ScanPoint, charge bool) {
	for _, pt := range points {
		x := pt.BarrelLengthIn
		if charge {
			x = pt.ChargeGrains
		}
		if pt.Failed {
			fmt.Printf("%8.2f  求解失败\n", x)
			continue
		}
		fmt.Printf("%8.2f  %7.0f fps  %8.0f psi  Z=%.3f\n",
			x, pt.MuzzleVelocityFPS, pt.PeakPressurePsi, pt.FinalZ)
	}
}

func runLOO(cmd *cobra.Command, args []string) error {
	project, store, err := openProject(args[0])
	if err != nil {
		return err
	}
	defer store.Close()

	result, err := project.CrossValidate(fitting.Options{})
	if err != nil {
		return err
	}

	for _, f := range result.Folds {
		if f.Failed {
			fmt.Printf("折%d  %.1fgr  失败\n", f.Index, f.ChargeGrains)
			continue
		}
		fmt.Printf("折%d  %.1fgr  实测 %.0f fps  预测 %.0f fps  误差 %+.0f fps\n",
			f.Index, f.ChargeGrains, f.Actual, f.Predicted, f.Error)
	}
	fmt.Printf("LOO RMSE: %.1f fps  MAE: %.1f fps（%d/%d折有效）\n",
		result.RMSE, result.MAE, result.NValidFold, result.NFolds)
	return nil
}
