package utils

import "fmt"

// 物理常数与单位换算系数
// 内弹道计算统一使用英制单位（grain、inch、psi、°F），
// 数据库与外部文件中的公制值在装载时换算。
const (
	GrainsToLb     = 1.0 / 7000.0 // grain → lbm
	GrainsH2OToIn3 = 1.0 / 252.9  // grain水容积 → in³
	GAccel         = 386.4        // 重力加速度 in/s²
	GAccelFt       = 32.174       // 重力加速度 ft/s²

	PsiToBar = 0.0689476 // psi → bar
	BarToPsi = 14.5038   // bar → psi
	MmToIn   = 1.0 / 25.4
	InToM    = 0.0254

	GramsToGrains  = 15.432358
	KgToGrains     = 15432.358
	Cm3ToGrainsH2O = 15.432358 // 1 cm³水 ≈ 15.432 grain水容积
	MsToFps        = 3.28084

	JoulesToFtLbf = 0.737562

	// 余容单位换算：1 m³/kg = 27679.9 in³/lbm
	M3PerKgToIn3PerLbm = 27679.9
)

// FahrenheitToKelvin 华氏度转开尔文
func FahrenheitToKelvin(tempF float64) float64 {
	return (tempF-32)*5/9 + 273.15
}

// CelsiusToFahrenheit 摄氏度转华氏度
func CelsiusToFahrenheit(tempC float64) float64 {
	return tempC*9/5 + 32
}

// MuzzleEnergy 计算枪口动能（ft·lbf）
// E = m·v²/(2g)，弹头质量单位grain，速度单位ft/s
func MuzzleEnergy(bulletMassGr, velocityFps float64) float64 {
	mLb := bulletMassGr * GrainsToLb
	return mLb * velocityFps * velocityFps / (2 * GAccelFt)
}

// CheckPositive 校验参数为正值，违反时返回指明参数名与实际值的错误
func CheckPositive(name string, value float64) error {
	if value <= 0 {
		return fmt.Errorf("%s 必须为正值，实际为 %g", name, value)
	}
	return nil
}

// CheckNonNegative 校验参数非负
func CheckNonNegative(name string, value float64) error {
	if value < 0 {
		return fmt.Errorf("%s 不能为负值，实际为 %g", name, value)
	}
	return nil
}

// CheckRange 校验参数落在[min,max]区间内
func CheckRange(name string, value, min, max float64) error {
	if value < min || value > max {
		return fmt.Errorf("%s 必须在 [%g, %g] 区间内，实际为 %g", name, min, max, value)
	}
	return nil
}
