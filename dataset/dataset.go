// Package dataset 测速仪装药阶梯数据表
// 标定引擎消费的归一化数据形态：每行一组(装药量, 平均初速)，
// 可选速度标准差与最大膛压参考值。
package dataset

import (
	"fmt"
	"math"
)

// Row 单个装药档位的测量记录
type Row struct {
	ChargeGrains    float64 // 装药量 grain
	VelocityFPS     float64 // 平均初速 ft/s
	VelocitySD      float64 // 初速标准差 ft/s，0表示缺失
	PeakPressurePsi float64 // 外部测得的最大膛压参考 psi，0表示缺失
	Notes           string
}

// Table 装药阶梯数据表
type Table []Row

// Validate 标定入口处的数据契约校验
// 行数不足或出现非正装药/初速属于调用方契约违规，立即报错且不恢复。
func (t Table) Validate() error {
	if len(t) < 3 {
		return fmt.Errorf("拟合至少需要3个数据点，实际只有 %d 个", len(t))
	}
	for i, r := range t {
		if r.ChargeGrains <= 0 {
			return fmt.Errorf("第 %d 行装药量必须为正值，实际为 %g gr", i, r.ChargeGrains)
		}
		if r.VelocityFPS <= 0 {
			return fmt.Errorf("第 %d 行初速必须为正值，实际为 %g fps", i, r.VelocityFPS)
		}
	}
	return nil
}

// MaxCharge 数据集中的最大装药量
func (t Table) MaxCharge() float64 {
	max := 0.0
	for _, r := range t {
		if r.ChargeGrains > max {
			max = r.ChargeGrains
		}
	}
	return max
}

// PressureReference 最大装药档位的膛压参考值（存在时）
func (t Table) PressureReference() (float64, bool) {
	maxCharge := t.MaxCharge()
	for _, r := range t {
		if r.ChargeGrains == maxCharge && r.PeakPressurePsi > 0 && !math.IsNaN(r.PeakPressurePsi) {
			return r.PeakPressurePsi, true
		}
	}
	return 0, false
}

// Without 返回去掉第i行的新表（留一交叉验证用）
func (t Table) Without(i int) Table {
	out := make(Table, 0, len(t)-1)
	out = append(out, t[:i]...)
	out = append(out, t[i+1:]...)
	return out
}

// QualityWarnings 数据质量提示（不阻止拟合）
// 装药比为该行装药量相对数据集最大装药量的比值，
// <0.8或>1.05提示异常/压缩装药，速度跨度<50fps提示拟合精度受限。
func (t Table) QualityWarnings() []string {
	var warnings []string
	maxCharge := t.MaxCharge()
	if maxCharge <= 0 {
		return warnings
	}
	lowFill, highFill := false, false
	vMin, vMax := math.Inf(1), math.Inf(-1)
	for _, r := range t {
		ratio := r.ChargeGrains / maxCharge
		if ratio < 0.8 {
			lowFill = true
		}
		if ratio > 1.05 {
			highFill = true
		}
		vMin = math.Min(vMin, r.VelocityFPS)
		vMax = math.Max(vMax, r.VelocityFPS)
	}
	if lowFill {
		warnings = append(warnings, "部分装药装填比低于0.8，可能是异常数据或极端轻装药")
	}
	if highFill {
		warnings = append(warnings, "部分装药装填比高于1.05，可能是压缩装药")
	}
	if vMax-vMin < 50 {
		warnings = append(warnings, "初速跨度不足50fps，可能限制拟合精度")
	}
	return warnings
}
