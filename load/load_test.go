package load

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"ballistics/db"
	"ballistics/fitting"
	"ballistics/utils"
)

const sampleCSV = `# Cartridge: .308 Winchester
# Barrel Length (in): 16.625
# Cartridge Overall Length (in): 2.010
# Bullet Weight (gr): 175
# Effective Case Volume (gr H2O): 47.4
# Propellant: Varget
# Bullet Jacket Type: Copper Jacket over Lead
# Temperature (°F): 85
charge_grains,mean_velocity_fps,velocity_sd,p_max_psi,notes
40.0,2350,12,,
42.0,2465,9,58000,book max
44.0,2570,15,,compressed
`

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("写入测试文件失败: %v", err)
	}
	return path
}

func TestChronographCSV(t *testing.T) {
	meta, data, err := Project(writeFile(t, "ladder.csv", sampleCSV))
	if err != nil {
		t.Fatalf("装载CSV失败: %v", err)
	}
	if meta.Cartridge != ".308 Winchester" {
		t.Errorf("弹种: 实际 %q", meta.Cartridge)
	}
	if meta.BarrelLengthIn != 16.625 || meta.COALIn != 2.010 {
		t.Errorf("枪管/全弹长: %v / %v", meta.BarrelLengthIn, meta.COALIn)
	}
	if meta.PropellantName != "Varget" || meta.BulletJacketType != "Copper Jacket over Lead" {
		t.Errorf("火药/弹头类型: %q / %q", meta.PropellantName, meta.BulletJacketType)
	}
	if meta.TemperatureF != 85 {
		t.Errorf("温度: 期望 85, 实际 %v", meta.TemperatureF)
	}
	// 缺省字段走默认值
	if meta.InitialPressurePsi != 5000 || meta.CaliberIn != 0.308 {
		t.Errorf("默认初压/口径: %v / %v", meta.InitialPressurePsi, meta.CaliberIn)
	}

	if len(data) != 3 {
		t.Fatalf("数据行数: 期望 3, 实际 %d", len(data))
	}
	if data[1].ChargeGrains != 42 || data[1].VelocityFPS != 2465 {
		t.Errorf("第2行数据: %+v", data[1])
	}
	if data[1].PeakPressurePsi != 58000 || data[1].Notes != "book max" {
		t.Errorf("第2行膛压/备注: %v / %q", data[1].PeakPressurePsi, data[1].Notes)
	}
	// 空的可选列归零
	if data[0].PeakPressurePsi != 0 || data[0].Notes != "" {
		t.Errorf("第1行可选列: %v / %q", data[0].PeakPressurePsi, data[0].Notes)
	}
}

func TestChronographCSVMissingHeader(t *testing.T) {
	// 去掉必需的火药字段
	broken := strings.Replace(sampleCSV, "# Propellant: Varget\n", "", 1)
	_, _, err := ChronographCSV(writeFile(t, "broken.csv", broken))
	if err == nil || !strings.Contains(err.Error(), "Propellant") {
		t.Errorf("缺少必需字段应报错并点名: %v", err)
	}
}

func TestChronographCSVBadRow(t *testing.T) {
	bad := sampleCSV + "-5,2600,,,\n"
	if _, _, err := ChronographCSV(writeFile(t, "bad.csv", bad)); err == nil {
		t.Error("负装药行应报错")
	}
}

const sampleGRT = `<?xml version="1.0"?>
<grtool>
  <cartridgedim>
    <input name="xe" value="422.275"/>
    <input name="oal" value="51.054"/>
    <input name="Dz" value="7.8232"/>
    <input name="casevol" value="3.07"/>
    <input name="mp" value="11.34"/>
    <input name="ps" value="250"/>
    <input name="pt" value="21"/>
    <input name="CaliberName" value=".308%20Winchester"/>
  </cartridgedim>
  <propellant>
    <input name="pname" value="Vihtavuori%20N140"/>
  </propellant>
  <Measurement>
    <charge value="0.0026">
      <shot velocity="740.0"/>
      <shot velocity="742.0"/>
      <shot velocity="744.0"/>
    </charge>
    <charge value="0.0024">
      <shot velocity="700.0"/>
    </charge>
  </Measurement>
</grtool>
`

func TestGRTProject(t *testing.T) {
	meta, data, err := Project(writeFile(t, "ladder.grtload", sampleGRT))
	if err != nil {
		t.Fatalf("装载GRT文件失败: %v", err)
	}
	// mm/cm³/g换算到英制
	if abs(meta.BarrelLengthIn-422.275*utils.MmToIn) > 1e-9 {
		t.Errorf("枪管长度: %v", meta.BarrelLengthIn)
	}
	if abs(meta.COALIn-51.054*utils.MmToIn) > 1e-9 {
		t.Errorf("全弹长: %v", meta.COALIn)
	}
	if abs(meta.CaliberIn-7.8232*utils.MmToIn) > 1e-9 {
		t.Errorf("口径: %v", meta.CaliberIn)
	}
	if abs(meta.BulletMassGr-11.34*utils.GramsToGrains) > 1e-6 {
		t.Errorf("弹头质量: %v", meta.BulletMassGr)
	}
	if abs(meta.CaseVolumeGrH2O-3.07*utils.Cm3ToGrainsH2O) > 1e-6 {
		t.Errorf("弹壳容积: %v", meta.CaseVolumeGrH2O)
	}
	if abs(meta.InitialPressurePsi-250*utils.BarToPsi) > 1e-6 {
		t.Errorf("初压: %v", meta.InitialPressurePsi)
	}
	if abs(meta.TemperatureF-utils.CelsiusToFahrenheit(21)) > 1e-9 {
		t.Errorf("温度: %v", meta.TemperatureF)
	}
	// URL解码与厂牌前缀归一化
	if meta.PropellantName != "N140" {
		t.Errorf("火药名: 期望 N140, 实际 %q", meta.PropellantName)
	}
	if meta.Cartridge != ".308 Winchester" {
		t.Errorf("弹种: %q", meta.Cartridge)
	}

	if len(data) != 2 {
		t.Fatalf("装药档数: 期望 2, 实际 %d", len(data))
	}
	// 按装药量升序
	if data[0].ChargeGrains >= data[1].ChargeGrains {
		t.Errorf("数据未按装药量排序: %v, %v", data[0].ChargeGrains, data[1].ChargeGrains)
	}
	if abs(data[1].ChargeGrains-0.0026*utils.KgToGrains) > 1e-6 {
		t.Errorf("装药量换算: %v", data[1].ChargeGrains)
	}
	// 三发742±2 m/s
	if abs(data[1].VelocityFPS-742*utils.MsToFps) > 1e-6 {
		t.Errorf("均值: %v", data[1].VelocityFPS)
	}
	if abs(data[1].VelocitySD-2*utils.MsToFps) > 1e-6 {
		t.Errorf("标准差: %v", data[1].VelocitySD)
	}
	// 单发组标准差为0
	if data[0].VelocitySD != 0 {
		t.Errorf("单发组标准差应为0: %v", data[0].VelocitySD)
	}
}

func TestMapGRTPropellantName(t *testing.T) {
	cases := []struct{ in, want string }{
		{"Vihtavuori N140", "N140"},
		{"Hodgdon Varget", "Varget"},
		{"IMR 4064", "IMR 4064"},
		{"Norma 203-B", "Norma 203-B"},
	}
	for _, c := range cases {
		if got := mapGRTPropellantName(c.in); got != c.want {
			t.Errorf("%q: 期望 %q, 实际 %q", c.in, c.want, got)
		}
	}
}

func TestProjectUnknownExtension(t *testing.T) {
	if _, _, err := Project("ladder.xlsx"); err == nil {
		t.Error("未知扩展名应报错")
	}
}

func TestConfigFromStore(t *testing.T) {
	store, err := db.Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("打开数据库失败: %v", err)
	}
	defer store.Close()
	if err := store.Seed(); err != nil {
		t.Fatalf("写入种子数据失败: %v", err)
	}

	meta, _, err := Project(writeFile(t, "ladder.csv", sampleCSV))
	if err != nil {
		t.Fatalf("装载CSV失败: %v", err)
	}
	cfg, err := Config(meta, store)
	if err != nil {
		t.Fatalf("组装配置失败: %v", err)
	}
	if cfg.Propellant.Name != "Varget" || cfg.Bullet.Name != "Copper Jacket over Lead" {
		t.Errorf("属性装载错误: %q / %q", cfg.Propellant.Name, cfg.Bullet.Name)
	}
	if cfg.TemperatureF != 85 {
		t.Errorf("温度未覆盖: %v", cfg.TemperatureF)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("装载出的配置应通过校验: %v", err)
	}

	// 未知火药报错并列出可用名录
	meta.PropellantName = "Unobtainium"
	_, err = Config(meta, store)
	if err == nil || !strings.Contains(err.Error(), "Varget") {
		t.Errorf("未知火药应列出可用名录: %v", err)
	}
}

func TestExportFitJSON(t *testing.T) {
	r := &fitting.Result{
		Params: fitting.Schema{
			{Name: fitting.ParamLambdaBase, Value: 0.05},
			{Name: "c0", Value: 1},
			{Name: "c1", Value: -0.9},
		},
		RMSE: 14.2,
		Convergence: fitting.Convergence{
			Converged: true, Iterations: 12, Evaluations: 80,
		},
	}
	path := filepath.Join(t.TempDir(), "fit.json")
	if err := ExportFitJSON(path, r, "Varget"); err != nil {
		t.Fatalf("导出JSON失败: %v", err)
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("回读JSON失败: %v", err)
	}
	var got map[string]any
	if err := json.Unmarshal(raw, &got); err != nil {
		t.Fatalf("解析JSON失败: %v", err)
	}
	if got["propellant"] != "Varget" {
		t.Errorf("propellant字段: %v", got["propellant"])
	}
	if got["lambda_base"].(float64) != 0.05 {
		t.Errorf("lambda_base字段: %v", got["lambda_base"])
	}
	coeffs := got["coeffs"].([]any)
	if len(coeffs) != 2 || coeffs[1].(float64) != -0.9 {
		t.Errorf("coeffs字段: %v", coeffs)
	}
	if got["converged"] != true {
		t.Errorf("converged字段: %v", got["converged"])
	}
}

func abs(x float64) float64 {
	if x < 0 {
		return -x
	}
	return x
}
