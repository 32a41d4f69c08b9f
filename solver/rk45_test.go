package solver

import (
	"errors"
	"math"
	"testing"
)

func TestIntegrateExponentialDecay(t *testing.T) {
	// dy/dt = -y，解析解 y(t) = e^(-t)
	ig := &Integrator{RTol: 1e-8, ATol: 1e-10}
	sol, err := ig.Integrate(func(_ float64, y, dydt []float64) {
		dydt[0] = -y[0]
	}, 0, 2, []float64{1}, nil)
	if err != nil {
		t.Fatalf("积分失败: %v", err)
	}
	_, y := sol.LastState()
	want := math.Exp(-2)
	if math.Abs(y[0]-want) > 1e-7 {
		t.Errorf("e^(-2): 期望 %v, 实际 %v", want, y[0])
	}
}

func TestIntegrateHarmonicOscillator(t *testing.T) {
	// y'' = -y，积分一个周期后回到初值
	ig := &Integrator{RTol: 1e-9, ATol: 1e-11}
	sol, err := ig.Integrate(func(_ float64, y, dydt []float64) {
		dydt[0] = y[1]
		dydt[1] = -y[0]
	}, 0, 2*math.Pi, []float64{1, 0}, nil)
	if err != nil {
		t.Fatalf("积分失败: %v", err)
	}
	_, y := sol.LastState()
	if math.Abs(y[0]-1) > 1e-6 || math.Abs(y[1]) > 1e-6 {
		t.Errorf("一个周期后应回到(1,0), 实际 (%v, %v)", y[0], y[1])
	}
}

func TestTerminalEventLocation(t *testing.T) {
	// dy/dt = 1，y(0) = 0，事件 y - 0.5 = 0 应在 t = 0.5 处触发并终止
	ig := &Integrator{RTol: 1e-9, ATol: 1e-12}
	events := []Event{{
		G:        func(_ float64, y []float64) float64 { return y[0] - 0.5 },
		Terminal: true,
	}}
	sol, err := ig.Integrate(func(_ float64, y, dydt []float64) {
		dydt[0] = 1
	}, 0, 10, []float64{0}, events)
	if err != nil {
		t.Fatalf("积分失败: %v", err)
	}
	if sol.Terminated != 0 {
		t.Fatalf("应被事件0终止, 实际 %d", sol.Terminated)
	}
	if len(sol.EventTimes[0]) != 1 {
		t.Fatalf("事件应触发一次, 实际 %d 次", len(sol.EventTimes[0]))
	}
	te := sol.EventTimes[0][0]
	if math.Abs(te-0.5) > 1e-6 {
		t.Errorf("事件时刻: 期望 0.5, 实际 %v", te)
	}
	tEnd, _ := sol.LastState()
	if math.Abs(tEnd-te) > 1e-9 {
		t.Errorf("终止事件后积分应停在事件时刻: tEnd=%v, te=%v", tEnd, te)
	}
}

func TestEventDirectionFilter(t *testing.T) {
	// y = sin(t)在一个周期内两次过零；只检测下穿应只触发 t=π 处
	ig := &Integrator{RTol: 1e-9, ATol: 1e-12}
	events := []Event{{
		G:         func(_ float64, y []float64) float64 { return y[0] },
		Direction: -1,
	}}
	sol, err := ig.Integrate(func(tt float64, y, dydt []float64) {
		dydt[0] = math.Cos(tt)
	}, 0.1, 2*math.Pi-0.1, []float64{math.Sin(0.1)}, events)
	if err != nil {
		t.Fatalf("积分失败: %v", err)
	}
	if len(sol.EventTimes[0]) != 1 {
		t.Fatalf("下穿事件应触发一次, 实际 %d 次", len(sol.EventTimes[0]))
	}
	if math.Abs(sol.EventTimes[0][0]-math.Pi) > 1e-5 {
		t.Errorf("下穿时刻: 期望 π, 实际 %v", sol.EventTimes[0][0])
	}
}

func TestStepBudgetExhaustion(t *testing.T) {
	// 极小步数预算必须返回ErrStepBudget而不是死循环
	ig := &Integrator{MaxSteps: 3, MaxStep: 1e-6}
	_, err := ig.Integrate(func(_ float64, y, dydt []float64) {
		dydt[0] = 1
	}, 0, 1, []float64{0}, nil)
	if !errors.Is(err, ErrStepBudget) {
		t.Errorf("期望ErrStepBudget, 实际 %v", err)
	}
}

func TestIntegrateDeterministic(t *testing.T) {
	// 同一问题两次积分必须逐位一致
	run := func() []float64 {
		ig := &Integrator{}
		sol, err := ig.Integrate(func(_ float64, y, dydt []float64) {
			dydt[0] = -0.5*y[0] + math.Sin(y[1])
			dydt[1] = y[0]
		}, 0, 3, []float64{1, 0}, nil)
		if err != nil {
			t.Fatalf("积分失败: %v", err)
		}
		_, y := sol.LastState()
		return y
	}
	a, b := run(), run()
	if a[0] != b[0] || a[1] != b[1] {
		t.Errorf("重复积分结果不一致: %v != %v", a, b)
	}
}
