package solver

import (
	"errors"
	"fmt"
	"math"
)

// 积分器错误
var (
	// ErrStepBudget 达到最大积分步数限制
	ErrStepBudget = errors.New("rk45 step budget exhausted")
	// ErrStepUnderflow 步长收缩到下限仍无法满足误差要求
	ErrStepUnderflow = errors.New("rk45 step size underflow")
)

// Func 一阶常微分方程组右端函数 dy/dt = f(t, y)
// 实现方将导数写入dydt，不得保留对y的引用
type Func func(t float64, y, dydt []float64)

// Event 零点穿越事件
// 每个被接受的积分步结束后检查G的符号变化，
// 发生穿越时用稠密输出二分定位事件时刻。
type Event struct {
	G         func(t float64, y []float64) float64 // 事件函数，G=0为触发条件
	Direction int                                  // +1只检测上穿，-1只检测下穿，0双向
	Terminal  bool                                 // 触发后是否终止积分
}

// Solution 积分结果
type Solution struct {
	T []float64   // 接受步的时间序列
	Y [][]float64 // 对应状态序列
	// EventTimes/EventStates 按事件索引记录的触发时刻与状态
	EventTimes  [][]float64
	EventStates [][][]float64
	// Terminated 终止积分的事件索引，未被事件终止时为-1
	Terminated int
	// Steps 接受的积分步数
	Steps int
}

// LastState 末状态
func (s *Solution) LastState() (t float64, y []float64) {
	n := len(s.T)
	return s.T[n-1], s.Y[n-1]
}

// Integrator Dormand-Prince 5(4)自适应步长积分器
// 五阶显式方法配嵌入式四阶误差估计，对光滑但偏刚性的
// 内弹道方程组足够稳定；步数预算防止病态参数导致的死循环。
type Integrator struct {
	RTol     float64 // 相对误差容限，零值取1e-6
	ATol     float64 // 绝对误差容限，零值取1e-9
	InitStep float64 // 初始步长，零值自动估计
	MaxStep  float64 // 最大步长，零值不限制
	MaxSteps int     // 最大步数预算，零值取1000000
}

// Dormand-Prince Butcher表
var (
	dpC = [7]float64{0, 1.0 / 5, 3.0 / 10, 4.0 / 5, 8.0 / 9, 1, 1}
	dpA = [7][6]float64{
		{},
		{1.0 / 5},
		{3.0 / 40, 9.0 / 40},
		{44.0 / 45, -56.0 / 15, 32.0 / 9},
		{19372.0 / 6561, -25360.0 / 2187, 64448.0 / 6561, -212.0 / 729},
		{9017.0 / 3168, -355.0 / 33, 46732.0 / 5247, 49.0 / 176, -5103.0 / 18656},
		{35.0 / 384, 0, 500.0 / 1113, 125.0 / 192, -2187.0 / 6784, 11.0 / 84},
	}
	// 五阶解与四阶解权重之差，用于误差估计
	dpE = [7]float64{
		35.0/384 - 5179.0/57600,
		0,
		500.0/1113 - 7571.0/16695,
		125.0/192 - 393.0/640,
		-2187.0/6784 + 92097.0/339200,
		11.0/84 - 187.0/2100,
		-1.0 / 40,
	}
)

// Integrate 从t0积分到t1，返回接受步序列与事件记录
// 终止事件触发时解在事件时刻截断。
func (ig *Integrator) Integrate(f Func, t0, t1 float64, y0 []float64, events []Event) (*Solution, error) {
	rtol, atol := ig.RTol, ig.ATol
	if rtol == 0 {
		rtol = 1e-6
	}
	if atol == 0 {
		atol = 1e-9
	}
	maxSteps := ig.MaxSteps
	if maxSteps == 0 {
		maxSteps = 1000000
	}

	n := len(y0)
	y := append([]float64(nil), y0...)
	k := make([][]float64, 7)
	for i := range k {
		k[i] = make([]float64, n)
	}
	ytmp := make([]float64, n)
	ynew := make([]float64, n)

	f(t0, y, k[0])

	h := ig.InitStep
	if h == 0 {
		h = (t1 - t0) * 1e-6
	}
	if ig.MaxStep > 0 && h > ig.MaxStep {
		h = ig.MaxStep
	}

	sol := &Solution{
		T:           []float64{t0},
		Y:           [][]float64{append([]float64(nil), y...)},
		EventTimes:  make([][]float64, len(events)),
		EventStates: make([][][]float64, len(events)),
		Terminated:  -1,
	}

	// 事件函数在上一个接受点的取值
	gPrev := make([]float64, len(events))
	for i, ev := range events {
		gPrev[i] = ev.G(t0, y)
	}

	t := t0
	for t < t1 {
		sol.Steps++
		if sol.Steps > maxSteps {
			return sol, fmt.Errorf("积分步数超过预算 %d（t=%.6e）: %w", maxSteps, t, ErrStepBudget)
		}
		if h > t1-t {
			h = t1 - t
		}

		// 七级Runge-Kutta求值（k[0]为FSAL复用值）
		for s := 1; s < 7; s++ {
			for i := 0; i < n; i++ {
				acc := 0.0
				for j := 0; j < s; j++ {
					acc += dpA[s][j] * k[j][i]
				}
				ytmp[i] = y[i] + h*acc
			}
			f(t+dpC[s]*h, ytmp, k[s])
		}
		// 五阶解即第七级的状态
		copy(ynew, ytmp)

		// 误差范数（按分量容限归一的均方根）
		errNorm := 0.0
		for i := 0; i < n; i++ {
			e := 0.0
			for s := 0; s < 7; s++ {
				e += dpE[s] * k[s][i]
			}
			e *= h
			scale := atol + rtol*math.Max(math.Abs(y[i]), math.Abs(ynew[i]))
			errNorm += (e / scale) * (e / scale)
		}
		errNorm = math.Sqrt(errNorm / float64(n))

		if errNorm > 1 {
			// 拒绝：收缩步长后重试
			factor := 0.9 * math.Pow(errNorm, -0.2)
			if factor < 0.2 {
				factor = 0.2
			}
			h *= factor
			if h < 1e-16*math.Max(1, math.Abs(t)) {
				return sol, fmt.Errorf("步长在 t=%.6e 处下溢: %w", t, ErrStepUnderflow)
			}
			continue
		}

		tnew := t + h

		// 事件检测：在[t, tnew]区间用三次Hermite插值二分定位穿越点
		termIdx := -1
		termT := tnew
		var termY []float64
		for i, ev := range events {
			g1 := ev.G(tnew, ynew)
			if crossed(gPrev[i], g1, ev.Direction) {
				te, ye := locateEvent(ev, t, h, y, k[0], ynew, k[6])
				sol.EventTimes[i] = append(sol.EventTimes[i], te)
				sol.EventStates[i] = append(sol.EventStates[i], ye)
				if ev.Terminal && (termIdx < 0 || te < termT) {
					termIdx = i
					termT = te
					termY = ye
				}
			}
			gPrev[i] = g1
		}

		if termIdx >= 0 {
			sol.T = append(sol.T, termT)
			sol.Y = append(sol.Y, append([]float64(nil), termY...))
			sol.Terminated = termIdx
			return sol, nil
		}

		sol.T = append(sol.T, tnew)
		sol.Y = append(sol.Y, append([]float64(nil), ynew...))

		// 接受：FSAL复用末级导数，按误差放大步长
		t = tnew
		copy(y, ynew)
		copy(k[0], k[6])
		factor := 5.0
		if errNorm > 0 {
			factor = 0.9 * math.Pow(errNorm, -0.2)
			if factor > 5 {
				factor = 5
			}
			if factor < 0.2 {
				factor = 0.2
			}
		}
		h *= factor
		if ig.MaxStep > 0 && h > ig.MaxStep {
			h = ig.MaxStep
		}
	}

	return sol, nil
}

// crossed 判断事件函数值在步区间内是否按指定方向穿越零点
func crossed(g0, g1 float64, direction int) bool {
	switch {
	case direction > 0:
		return g0 < 0 && g1 >= 0
	case direction < 0:
		return g0 > 0 && g1 <= 0
	default:
		return (g0 < 0 && g1 >= 0) || (g0 > 0 && g1 <= 0)
	}
}

// locateEvent 在接受步内二分定位事件时刻
// 用步端点状态与导数构造三次Hermite插值作为稠密输出
func locateEvent(ev Event, t0, h float64, y0, f0, y1, f1 []float64) (float64, []float64) {
	lo, hi := 0.0, 1.0
	g0 := ev.G(t0, y0)
	ym := make([]float64, len(y0))
	for iter := 0; iter < 60; iter++ {
		mid := 0.5 * (lo + hi)
		hermite(mid, h, y0, f0, y1, f1, ym)
		gm := ev.G(t0+mid*h, ym)
		if (g0 < 0) == (gm < 0) {
			lo = mid
		} else {
			hi = mid
		}
	}
	theta := 0.5 * (lo + hi)
	hermite(theta, h, y0, f0, y1, f1, ym)
	return t0 + theta*h, append([]float64(nil), ym...)
}

// hermite 三次Hermite插值：theta∈[0,1]为步内归一化位置
func hermite(theta, h float64, y0, f0, y1, f1, out []float64) {
	t2 := theta * theta
	t3 := t2 * theta
	h00 := 2*t3 - 3*t2 + 1
	h10 := t3 - 2*t2 + theta
	h01 := -2*t3 + 3*t2
	h11 := t3 - t2
	for i := range out {
		out[i] = h00*y0[i] + h10*h*f0[i] + h01*y1[i] + h11*h*f1[i]
	}
}
