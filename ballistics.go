// Package ballistics 内弹道模拟与燃速标定
// 顶层入口：装载测速工程文件，驱动弹道求解与参数拟合。
package ballistics

import (
	"fmt"

	"ballistics/dataset"
	"ballistics/db"
	"ballistics/fitting"
	"ballistics/load"
	"ballistics/props"
	"ballistics/solver"
)

// Project 一次装填测试工程：元数据、测速数据表与求解配置
type Project struct {
	Meta   *load.Metadata
	Data   dataset.Table
	Config *props.Config
}

// OpenProject 打开测速工程文件并从属性库组装配置
// 按扩展名识别CSV或GRT格式。store为nil时打开默认路径属性库。
func OpenProject(path string, store *db.Store) (*Project, error) {
	meta, data, err := load.Project(path)
	if err != nil {
		return nil, err
	}

	if store == nil {
		store, err = db.Open(db.DefaultPath())
		if err != nil {
			return nil, err
		}
		defer store.Close()
	}

	cfg, err := load.Config(meta, store)
	if err != nil {
		return nil, err
	}
	return &Project{Meta: meta, Data: data, Config: cfg}, nil
}

// Solve 以指定装药量求解一条弹道
func (p *Project) Solve(chargeGrains float64, withTrace bool) (*solver.Result, error) {
	if chargeGrains <= 0 {
		return nil, fmt.Errorf("装药量必须为正值，实际为 %g gr", chargeGrains)
	}
	cfg := p.Config.Clone()
	cfg.ChargeMassGr = chargeGrains
	return solver.Solve(cfg, withTrace)
}

// Fit 用工程自带的测速数据拟合燃速参数
func (p *Project) Fit(opts fitting.Options) (*fitting.Result, error) {
	return fitting.Fit(p.Data, p.Config, opts)
}

// FitSequential 两阶段顺序拟合
func (p *Project) FitSequential(opts fitting.Options) (*fitting.SequentialResult, error) {
	return fitting.FitSequential(p.Data, p.Config, opts)
}

// CrossValidate 留一交叉验证
func (p *Project) CrossValidate(opts fitting.Options) (*fitting.LOOResult, error) {
	return fitting.LeaveOneOut(p.Data, p.Config, opts)
}
