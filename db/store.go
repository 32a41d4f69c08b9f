// Package db 火药与弹头属性库
// SQLite单文件存储，按名检索火药/弹头类型，拟合结果可回写。
package db

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"

	"ballistics/burn"
	"ballistics/props"
)

// ErrNotFound 查询对象不存在
var ErrNotFound = errors.New("记录不存在")

// envDBPath 数据库路径环境变量
const envDBPath = "BALLISTICS_DB_PATH"

// DefaultPath 数据库默认路径，可用环境变量覆盖
func DefaultPath() string {
	if p := os.Getenv(envDBPath); p != "" {
		return p
	}
	return filepath.Join("data", "db", "ballistics.db")
}

// Store 属性库句柄
type Store struct {
	db *sql.DB
}

// 建表语句幂等，打开即保证模式存在。
const schemaSQL = `
CREATE TABLE IF NOT EXISTS propellants (
	name               TEXT PRIMARY KEY,
	vivacity           REAL NOT NULL,
	base               TEXT NOT NULL DEFAULT 'S',
	force              REAL NOT NULL,
	temp_0             REAL NOT NULL,
	bulk_density       REAL NOT NULL DEFAULT 0.0584,
	poly_a             REAL NOT NULL DEFAULT 1.0,
	poly_b             REAL NOT NULL DEFAULT -1.0,
	poly_c             REAL NOT NULL DEFAULT 0.0,
	poly_d             REAL NOT NULL DEFAULT 0.0,
	covolume_m3_per_kg REAL NOT NULL DEFAULT 0.001,
	temp_sigma_per_k   REAL NOT NULL DEFAULT 0.002,
	grain_geometry     TEXT NOT NULL DEFAULT 'spherical',
	alpha              REAL NOT NULL DEFAULT 0.0
);
CREATE TABLE IF NOT EXISTS bullet_types (
	name               TEXT PRIMARY KEY,
	s                  REAL NOT NULL,
	rho_p              REAL NOT NULL,
	start_pressure_psi REAL NOT NULL DEFAULT 3626.0
);
CREATE TABLE IF NOT EXISTS firearms (
	firearm_id       INTEGER PRIMARY KEY AUTOINCREMENT,
	manufacturer     TEXT NOT NULL,
	model            TEXT NOT NULL,
	serial_number    TEXT,
	caliber_in       REAL,
	barrel_length_in REAL,
	twist_rate       TEXT,
	notes            TEXT
);
`

// Open 打开（必要时创建）属性库
func Open(path string) (*Store, error) {
	if dir := filepath.Dir(path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("创建数据库目录 %s 失败: %w", dir, err)
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("打开数据库 %s 失败: %w", path, err)
	}
	if _, err := db.Exec(schemaSQL); err != nil {
		db.Close()
		return nil, fmt.Errorf("初始化数据库模式失败: %w", err)
	}
	return &Store{db: db}, nil
}

// Close 关闭属性库
func (s *Store) Close() error { return s.db.Close() }

// Propellant 按名检索火药属性
// 数据库存原始活度(s⁻¹/100bar)，读出时换算基准燃速并按基类填γ。
func (s *Store) Propellant(name string) (*props.Propellant, error) {
	row := s.db.QueryRow(`
		SELECT name, vivacity, base, force, temp_0, bulk_density,
		       poly_a, poly_b, poly_c, poly_d,
		       covolume_m3_per_kg, temp_sigma_per_k, grain_geometry, alpha
		FROM propellants WHERE name = ?`, name)

	var p props.Propellant
	var base, geometry string
	var a, b, c, d float64
	err := row.Scan(&p.Name, &p.Vivacity, &base, &p.Force, &p.FlameTempK,
		&p.BulkDensity, &a, &b, &c, &d,
		&p.CovolumeM3PerKg, &p.TempSigmaPerK, &geometry, &p.PressureCoeff)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("火药 %q: %w", name, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("读取火药 %q 失败: %w", name, err)
	}
	p.Base = props.ParsePowderBase(base)
	p.Gamma = p.Base.Gamma()
	p.LambdaBase = p.Vivacity * props.VivacityPer100BarToPsi
	p.Coeffs = []float64{a, b, c, d}
	p.Geometry = burn.ParseGeometry(geometry)
	return &p, nil
}

// ListPropellants 列出全部火药名（按名排序）
func (s *Store) ListPropellants() ([]string, error) {
	rows, err := s.db.Query(`SELECT name FROM propellants ORDER BY name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var names []string
	for rows.Next() {
		var n string
		if err := rows.Scan(&n); err != nil {
			return nil, err
		}
		names = append(names, n)
	}
	return names, rows.Err()
}

// UpdatePropellantCoefficients 把拟合出的燃速参数回写数据库
// 基准燃速换算回原始活度单位再存。
func (s *Store) UpdatePropellantCoefficients(name string, lambdaBase float64, coeffs []float64) error {
	padded := make([]float64, 4)
	copy(padded, coeffs)
	res, err := s.db.Exec(`
		UPDATE propellants
		SET vivacity = ?, poly_a = ?, poly_b = ?, poly_c = ?, poly_d = ?
		WHERE name = ?`,
		lambdaBase/props.VivacityPer100BarToPsi,
		padded[0], padded[1], padded[2], padded[3], name)
	if err != nil {
		return fmt.Errorf("回写火药 %q 系数失败: %w", name, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("火药 %q: %w", name, ErrNotFound)
	}
	return nil
}

// BulletType 按名检索弹头类型（材质强度与密度）
func (s *Store) BulletType(name string) (*props.Bullet, error) {
	row := s.db.QueryRow(`
		SELECT name, s, rho_p, start_pressure_psi
		FROM bullet_types WHERE name = ?`, name)

	var b props.Bullet
	err := row.Scan(&b.Name, &b.Strength, &b.Density, &b.StartPressurePsi)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("弹头类型 %q: %w", name, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("读取弹头类型 %q 失败: %w", name, err)
	}
	// 点火初压不入库，取文献默认值，装载元数据时可覆盖
	b.InitialPressurePsi = 5000
	return &b, nil
}

// Firearm 枪械登记项
type Firearm struct {
	ID             int64
	Manufacturer   string
	Model          string
	SerialNumber   string
	CaliberIn      float64
	BarrelLengthIn float64
	TwistRate      string
	Notes          string
}

// InsertFirearm 登记枪械，同厂牌/型号/管长/序列号视为已存在并返回原ID
func (s *Store) InsertFirearm(f Firearm) (int64, error) {
	var id int64
	err := s.db.QueryRow(`
		SELECT firearm_id FROM firearms
		WHERE manufacturer = ? AND model = ? AND barrel_length_in = ? AND serial_number = ?`,
		f.Manufacturer, f.Model, f.BarrelLengthIn, f.SerialNumber).Scan(&id)
	if err == nil {
		return id, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return 0, err
	}
	res, err := s.db.Exec(`
		INSERT INTO firearms (manufacturer, model, serial_number, caliber_in, barrel_length_in, twist_rate, notes)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		f.Manufacturer, f.Model, f.SerialNumber, f.CaliberIn, f.BarrelLengthIn, f.TwistRate, f.Notes)
	if err != nil {
		return 0, fmt.Errorf("登记枪械失败: %w", err)
	}
	return res.LastInsertId()
}

// GetFirearm 按ID取枪械
func (s *Store) GetFirearm(id int64) (*Firearm, error) {
	row := s.db.QueryRow(`
		SELECT firearm_id, manufacturer, model, IFNULL(serial_number,''),
		       IFNULL(caliber_in,0), IFNULL(barrel_length_in,0),
		       IFNULL(twist_rate,''), IFNULL(notes,'')
		FROM firearms WHERE firearm_id = ?`, id)
	var f Firearm
	err := row.Scan(&f.ID, &f.Manufacturer, &f.Model, &f.SerialNumber,
		&f.CaliberIn, &f.BarrelLengthIn, &f.TwistRate, &f.Notes)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("枪械 %d: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return &f, nil
}

// ListFirearms 列出全部枪械
func (s *Store) ListFirearms() ([]Firearm, error) {
	rows, err := s.db.Query(`
		SELECT firearm_id, manufacturer, model, IFNULL(serial_number,''),
		       IFNULL(caliber_in,0), IFNULL(barrel_length_in,0),
		       IFNULL(twist_rate,''), IFNULL(notes,'')
		FROM firearms ORDER BY manufacturer, model`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Firearm
	for rows.Next() {
		var f Firearm
		if err := rows.Scan(&f.ID, &f.Manufacturer, &f.Model, &f.SerialNumber,
			&f.CaliberIn, &f.BarrelLengthIn, &f.TwistRate, &f.Notes); err != nil {
			return nil, err
		}
		out = append(out, f)
	}
	return out, rows.Err()
}

// Seed 写入一组常见火药与弹头类型（已有记录跳过）
func (s *Store) Seed() error {
	propellantRows := []struct {
		name     string
		vivacity float64
		base     string
		force    float64
		temp0    float64
		geometry string
	}{
		{"Varget", 63.5, "S", 3650000, 3000, "single-perf"},
		{"N140", 61.8, "S", 3650000, 2900, "single-perf"},
		{"H4350", 51.9, "S", 3650000, 3000, "single-perf"},
		{"CFE-223", 61.8, "S", 3650000, 3000, "spherical"},
		{"BL-C(2)", 55.8, "D", 3950000, 3200, "spherical"},
	}
	for _, r := range propellantRows {
		_, err := s.db.Exec(`
			INSERT OR IGNORE INTO propellants (name, vivacity, base, force, temp_0, grain_geometry)
			VALUES (?, ?, ?, ?, ?, ?)`,
			r.name, r.vivacity, r.base, r.force, r.temp0, r.geometry)
		if err != nil {
			return fmt.Errorf("写入火药 %q 失败: %w", r.name, err)
		}
	}

	bulletRows := []struct {
		name     string
		strength float64
		density  float64
	}{
		{"Copper Jacket over Lead", 100, 0.321},
		{"Solid Copper", 200, 0.323},
		{"Gilding Metal Brass", 300, 0.306},
	}
	for _, r := range bulletRows {
		_, err := s.db.Exec(`
			INSERT OR IGNORE INTO bullet_types (name, s, rho_p)
			VALUES (?, ?, ?)`, r.name, r.strength, r.density)
		if err != nil {
			return fmt.Errorf("写入弹头类型 %q 失败: %w", r.name, err)
		}
	}
	return nil
}
