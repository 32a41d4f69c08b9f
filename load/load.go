// Package load 测速数据文件装载
// 支持带元数据头的测速CSV与GRT工程文件(.grtload/.grtproject)，
// 两种来源归一化成同一份(元数据, 数据表)形态。
package load

import (
	"encoding/csv"
	"encoding/json"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"math"
	"net/url"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"ballistics/dataset"
	"ballistics/db"
	"ballistics/fitting"
	"ballistics/props"
	"ballistics/utils"
)

// Metadata 测速文件头部的装填元数据
type Metadata struct {
	Cartridge          string
	BarrelLengthIn     float64
	COALIn             float64
	BulletMassGr       float64
	CaseVolumeGrH2O    float64
	PropellantName     string
	BulletJacketType   string
	TemperatureF       float64
	InitialPressurePsi float64
	CaliberIn          float64
}

// Project 按扩展名分派装载测速文件
func Project(path string) (*Metadata, dataset.Table, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".csv":
		return ChronographCSV(path)
	case ".grtload", ".grtproject":
		return GRTProject(path)
	default:
		return nil, nil, fmt.Errorf("不支持的文件类型 %q（支持 .csv/.grtload/.grtproject）", filepath.Ext(path))
	}
}

// ChronographCSV 装载测速CSV
// 头部注释行格式为"# Key: Value"，正文为标准CSV，
// 必需列charge_grains与mean_velocity_fps。
func ChronographCSV(path string) (*Metadata, dataset.Table, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, nil, fmt.Errorf("读取 %s 失败: %w", path, err)
	}

	header := map[string]string{}
	var body []string
	for _, line := range strings.Split(string(raw), "\n") {
		if strings.HasPrefix(line, "#") {
			if k, v, ok := strings.Cut(line[1:], ":"); ok {
				header[strings.TrimSpace(k)] = strings.TrimSpace(v)
			}
			continue
		}
		if strings.TrimSpace(line) != "" {
			body = append(body, line)
		}
	}

	meta, err := parseHeader(header)
	if err != nil {
		return nil, nil, err
	}

	table, err := parseCSVBody(strings.Join(body, "\n"))
	if err != nil {
		return nil, nil, err
	}
	return meta, table, nil
}

// 必需的元数据字段名
var requiredHeaderKeys = []string{
	"Barrel Length (in)",
	"Cartridge Overall Length (in)",
	"Bullet Weight (gr)",
	"Effective Case Volume (gr H2O)",
	"Propellant",
	"Bullet Jacket Type",
}

func parseHeader(h map[string]string) (*Metadata, error) {
	for _, k := range requiredHeaderKeys {
		if _, ok := h[k]; !ok {
			return nil, fmt.Errorf("缺少必需元数据字段 %q", k)
		}
	}
	meta := &Metadata{
		Cartridge:        valueOr(h, "Cartridge", "Unknown"),
		PropellantName:   h["Propellant"],
		BulletJacketType: h["Bullet Jacket Type"],
	}
	var err error
	if meta.BarrelLengthIn, err = headerFloat(h, "Barrel Length (in)", 0); err != nil {
		return nil, err
	}
	if meta.COALIn, err = headerFloat(h, "Cartridge Overall Length (in)", 0); err != nil {
		return nil, err
	}
	if meta.BulletMassGr, err = headerFloat(h, "Bullet Weight (gr)", 0); err != nil {
		return nil, err
	}
	if meta.CaseVolumeGrH2O, err = headerFloat(h, "Effective Case Volume (gr H2O)", 0); err != nil {
		return nil, err
	}
	if meta.TemperatureF, err = headerFloat(h, "Temperature (°F)", 70.0); err != nil {
		return nil, err
	}
	if meta.InitialPressurePsi, err = headerFloat(h, "Initial Pressure (psi)", 5000.0); err != nil {
		return nil, err
	}
	if meta.CaliberIn, err = headerFloat(h, "Caliber (in)", 0.308); err != nil {
		return nil, err
	}
	return meta, nil
}

func valueOr(h map[string]string, key, fallback string) string {
	if v, ok := h[key]; ok && v != "" {
		return v
	}
	return fallback
}

func headerFloat(h map[string]string, key string, fallback float64) (float64, error) {
	v, ok := h[key]
	if !ok || v == "" {
		return fallback, nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, fmt.Errorf("元数据字段 %q 的值 %q 不是数字", key, v)
	}
	return f, nil
}

func parseCSVBody(body string) (dataset.Table, error) {
	r := csv.NewReader(strings.NewReader(body))
	r.TrimLeadingSpace = true
	records, err := r.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("解析CSV正文失败: %w", err)
	}
	if len(records) < 2 {
		return nil, fmt.Errorf("CSV正文至少需要表头和一行数据，实际 %d 行", len(records))
	}

	col := map[string]int{}
	for i, name := range records[0] {
		col[strings.TrimSpace(name)] = i
	}
	for _, required := range []string{"charge_grains", "mean_velocity_fps"} {
		if _, ok := col[required]; !ok {
			return nil, fmt.Errorf("CSV缺少必需列 %q", required)
		}
	}

	field := func(rec []string, name string) string {
		if i, ok := col[name]; ok && i < len(rec) {
			return strings.TrimSpace(rec[i])
		}
		return ""
	}
	fieldFloat := func(rec []string, name string) float64 {
		s := field(rec, name)
		if s == "" {
			return 0
		}
		f, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return 0
		}
		return f
	}

	var table dataset.Table
	for i, rec := range records[1:] {
		row := dataset.Row{
			ChargeGrains:    fieldFloat(rec, "charge_grains"),
			VelocityFPS:     fieldFloat(rec, "mean_velocity_fps"),
			VelocitySD:      fieldFloat(rec, "velocity_sd"),
			PeakPressurePsi: fieldFloat(rec, "p_max_psi"),
			Notes:           field(rec, "notes"),
		}
		if row.ChargeGrains <= 0 {
			return nil, fmt.Errorf("CSV第 %d 行装药量必须为正值", i+1)
		}
		if row.VelocityFPS <= 0 {
			return nil, fmt.Errorf("CSV第 %d 行初速必须为正值", i+1)
		}
		table = append(table, row)
	}
	return table, nil
}

// GRTProject 装载GRT工程文件
// 逐token扫描XML：input元素按name属性取值，propellant下的pname
// 经URL解码与厂牌前缀归一化；Measurement/charge(kg)/shot(m/s)
// 汇总成每档装药的均值与标准差，按装药量排序。
func GRTProject(path string) (*Metadata, dataset.Table, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, fmt.Errorf("读取 %s 失败: %w", path, err)
	}
	defer f.Close()

	inputs := map[string]string{}
	propellantName := "Unknown"

	type chargeGroup struct {
		grains     float64
		velocities []float64
	}
	var charges []chargeGroup

	var inPropellant bool
	var inMeasurement bool
	var current *chargeGroup

	dec := xml.NewDecoder(f)
	for {
		tok, err := dec.Token()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, nil, fmt.Errorf("解析GRT文件失败: %w", err)
		}
		switch t := tok.(type) {
		case xml.StartElement:
			switch t.Name.Local {
			case "propellant":
				inPropellant = true
			case "Measurement":
				inMeasurement = true
			case "input":
				name, value := attrValue(t, "name"), attrValue(t, "value")
				if name == "" {
					break
				}
				if inPropellant && name == "pname" {
					if decoded, err := url.QueryUnescape(value); err == nil {
						propellantName = mapGRTPropellantName(decoded)
					}
					break
				}
				if _, seen := inputs[name]; !seen {
					inputs[name] = value
				}
			case "charge":
				if !inMeasurement {
					break
				}
				kg, err := strconv.ParseFloat(attrValue(t, "value"), 64)
				if err != nil {
					break
				}
				charges = append(charges, chargeGroup{grains: kg * utils.KgToGrains})
				current = &charges[len(charges)-1]
			case "shot":
				if current == nil {
					break
				}
				if v, err := strconv.ParseFloat(attrValue(t, "velocity"), 64); err == nil {
					current.velocities = append(current.velocities, v*utils.MsToFps)
				}
			}
		case xml.EndElement:
			switch t.Name.Local {
			case "propellant":
				inPropellant = false
			case "Measurement":
				inMeasurement = false
			case "charge":
				current = nil
			}
		}
	}

	meta, err := grtMetadata(inputs, propellantName)
	if err != nil {
		return nil, nil, err
	}

	var table dataset.Table
	for _, c := range charges {
		if len(c.velocities) == 0 {
			continue
		}
		mean, sd := meanStd(c.velocities)
		table = append(table, dataset.Row{
			ChargeGrains: c.grains,
			VelocityFPS:  mean,
			VelocitySD:   sd,
		})
	}
	sort.Slice(table, func(i, j int) bool { return table[i].ChargeGrains < table[j].ChargeGrains })
	return meta, table, nil
}

func attrValue(e xml.StartElement, name string) string {
	for _, a := range e.Attr {
		if a.Name.Local == name {
			return a.Value
		}
	}
	return ""
}

// grtMetadata GRT字段换算：xe/oal/Dz为mm，casevol为cm³，mp为g，
// ps为bar，pt为摄氏度。
func grtMetadata(inputs map[string]string, propellantName string) (*Metadata, error) {
	requiredFloat := func(name string) (float64, error) {
		v, ok := inputs[name]
		if !ok {
			return 0, fmt.Errorf("GRT文件缺少必需字段 %q", name)
		}
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return 0, fmt.Errorf("GRT字段 %q 的值 %q 不是数字", name, v)
		}
		return f, nil
	}
	optionalFloat := func(name string, fallback float64) float64 {
		if v, ok := inputs[name]; ok {
			if f, err := strconv.ParseFloat(v, 64); err == nil {
				return f
			}
		}
		return fallback
	}

	barrelMm, err := requiredFloat("xe")
	if err != nil {
		return nil, err
	}
	coalMm, err := requiredFloat("oal")
	if err != nil {
		return nil, err
	}
	caseVolCm3, err := requiredFloat("casevol")
	if err != nil {
		return nil, err
	}
	bulletG, err := requiredFloat("mp")
	if err != nil {
		return nil, err
	}
	caliberMm, err := requiredFloat("Dz")
	if err != nil {
		return nil, err
	}

	cartridge := "Unknown"
	if v, ok := inputs["CaliberName"]; ok {
		if decoded, err := url.QueryUnescape(v); err == nil {
			cartridge = decoded
		}
	}

	return &Metadata{
		Cartridge:          cartridge,
		BarrelLengthIn:     barrelMm * utils.MmToIn,
		COALIn:             coalMm * utils.MmToIn,
		BulletMassGr:       bulletG * utils.GramsToGrains,
		CaseVolumeGrH2O:    caseVolCm3 * utils.Cm3ToGrainsH2O,
		PropellantName:     propellantName,
		BulletJacketType:   "Copper Jacket over Lead",
		InitialPressurePsi: optionalFloat("ps", 250) * utils.BarToPsi,
		TemperatureF:       utils.CelsiusToFahrenheit(optionalFloat("pt", 21)),
		CaliberIn:          caliberMm * utils.MmToIn,
	}, nil
}

// grtVendorPrefixes 前缀归一化表：GRT全名去掉厂牌前缀得到库内名称
var grtVendorPrefixes = []struct{ prefix, replacement string }{
	{"Vihtavuori", ""},
	{"Hodgdon", ""},
	{"IMR", "IMR "},
	{"Alliant", ""},
	{"Accurate", ""},
}

func mapGRTPropellantName(full string) string {
	for _, m := range grtVendorPrefixes {
		if strings.HasPrefix(full, m.prefix) {
			return strings.TrimSpace(m.replacement + strings.TrimSpace(strings.TrimPrefix(full, m.prefix)))
		}
	}
	return full
}

func meanStd(v []float64) (mean, sd float64) {
	for _, x := range v {
		mean += x
	}
	mean /= float64(len(v))
	if len(v) < 2 {
		return mean, 0
	}
	var ss float64
	for _, x := range v {
		ss += (x - mean) * (x - mean)
	}
	return mean, math.Sqrt(ss / float64(len(v)-1))
}

// Config 用元数据与属性库组装求解配置（装药量由调用方逐行覆盖）
func Config(meta *Metadata, store *db.Store) (*props.Config, error) {
	propellant, err := store.Propellant(meta.PropellantName)
	if err != nil {
		available, listErr := store.ListPropellants()
		if listErr == nil && len(available) > 0 {
			return nil, fmt.Errorf("火药 %q 不在属性库中（可用: %s）: %w",
				meta.PropellantName, strings.Join(available, ", "), err)
		}
		return nil, err
	}
	bullet, err := store.BulletType(meta.BulletJacketType)
	if err != nil {
		return nil, fmt.Errorf("弹头类型 %q 不在属性库中: %w", meta.BulletJacketType, err)
	}

	cfg := props.DefaultConfig(meta.BulletMassGr, 40.0, meta.CaliberIn,
		meta.CaseVolumeGrH2O, meta.BarrelLengthIn, meta.COALIn, propellant, bullet)
	cfg.TemperatureF = meta.TemperatureF
	if meta.InitialPressurePsi > 0 {
		cfg.InitialPressurePsi = meta.InitialPressurePsi
	}
	cfg.Normalize()
	return cfg, nil
}

// fitExport 拟合结果的JSON导出形态
type fitExport struct {
	Propellant  string    `json:"propellant,omitempty"`
	LambdaBase  float64   `json:"lambda_base"`
	Coeffs      []float64 `json:"coeffs"`
	RMSE        float64   `json:"rmse_velocity"`
	Converged   bool      `json:"converged"`
	Iterations  int       `json:"iterations"`
	Evaluations int       `json:"evaluations"`
	Warnings    []string  `json:"warnings,omitempty"`
}

// ExportFitJSON 把拟合结果写成JSON文件
func ExportFitJSON(path string, r *fitting.Result, propellantName string) error {
	out := fitExport{
		Propellant:  propellantName,
		LambdaBase:  r.LambdaBase(),
		Coeffs:      r.Coeffs(),
		RMSE:        r.RMSE,
		Converged:   r.Convergence.Converged,
		Iterations:  r.Convergence.Iterations,
		Evaluations: r.Convergence.Evaluations,
		Warnings:    r.Warnings,
	}
	buf, err := json.MarshalIndent(out, "", "  ")
	if err != nil {
		return err
	}
	if err := os.WriteFile(path, buf, 0o644); err != nil {
		return fmt.Errorf("写入 %s 失败: %w", path, err)
	}
	return nil
}
