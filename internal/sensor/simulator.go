// Package sensor 模拟仪器的压力类读数（Setra）：
// 上升时沿线性斜坡到达满量程，下降时先线性后指数逼近基线，并叠加有界噪声。
package sensor

import (
    "errors"
    "fmt"
    "math"
    "math/rand"
    "sync"
)

const (
    // Ceiling 满量程
    Ceiling = 1_000_000

    // stepFloor 以下视为已回到基线
    stepFloor = 0.00001
)

var ErrOutOfRange = errors.New("value out of range")

type Direction int

const (
    Down Direction = iota
    Up
)

func (d Direction) String() string {
    if d == Up {
        return "UP"
    }
    return "DOWN"
}

// Params 模型参数，DumpThreshold 为 0 时按 base 之上 12% 量程推导
type Params struct {
    Base          float64
    Increment     float64
    DumpGain      float64
    DumpThreshold float64
    NoiseRatio    float64
    SettleEpsilon float64
}

func DefaultParams() Params {
    return Params{
        Base:          64000,
        Increment:     10000,
        DumpGain:      0.88,
        NoiseRatio:    0.1,
        SettleEpsilon: 0.0005,
    }
}

// DefaultDumpThreshold base 之上 12% 剩余量程
func DefaultDumpThreshold(base float64) float64 {
    return (Ceiling-base)/100*12 + base
}

// State 模型状态快照
type State struct {
    Value         int64
    Base          float64
    Increment     float64
    StepCount     float64
    Speed         float64
    Direction     Direction
    Locked        bool
    DumpThreshold float64
    DumpGain      float64
    NoiseRatio    float64
}

type Simulator struct {
    mu       sync.Mutex
    defaults Params
    rng      *rand.Rand

    value         int64
    base          float64
    increment     float64
    stepCount     float64
    speed         float64
    direction     Direction
    locked        bool
    dumpThreshold float64
    dumpGain      float64
    noiseRatio    float64
    settleEps     float64
}

// NewSimulator 创建处于锁定状态的模拟器
func NewSimulator(p Params, rng *rand.Rand) *Simulator {
    if p.DumpThreshold == 0 {
        p.DumpThreshold = DefaultDumpThreshold(p.Base)
    }
    if rng == nil {
        rng = rand.New(rand.NewSource(1))
    }
    return &Simulator{
        defaults:      p,
        rng:           rng,
        base:          p.Base,
        increment:     p.Increment,
        speed:         1,
        direction:     Down,
        locked:        true,
        dumpThreshold: p.DumpThreshold,
        dumpGain:      p.DumpGain,
        noiseRatio:    p.NoiseRatio,
        settleEps:     p.SettleEpsilon,
    }
}

// Tick 推进一步，锁定时不做任何事
func (s *Simulator) Tick() {
    s.mu.Lock()
    defer s.mu.Unlock()

    if s.locked {
        return
    }

    if s.direction == Up {
        s.stepCount += s.speed
        if s.deterministic() >= Ceiling {
            s.stepCount -= s.speed
        }
        s.recalc()
        return
    }

    if s.stepCount >= stepFloor {
        prev := s.deterministic()
        s.stepCount -= s.speed
        if prev <= s.dumpThreshold {
            s.stepCount += s.speed
            s.speed = 1 - math.Pow(s.dumpGain, s.stepCount)
            if s.speed < s.settleEps {
                s.stepCount = 1
                s.speed = 1
            }
            s.stepCount -= s.speed
        } else {
            s.speed = 1
        }
    }
    s.recalc()
}

// ConfigureRamp 设置基线，并使 totalTimeUnits*10 步后到达满量程
func (s *Simulator) ConfigureRamp(base, totalTimeUnits float64) error {
    if base < 0 || base >= Ceiling || math.IsNaN(base) {
        return fmt.Errorf("ramp base %v: %w", base, ErrOutOfRange)
    }
    if totalTimeUnits <= 0 || math.IsNaN(totalTimeUnits) || math.IsInf(totalTimeUnits, 0) {
        return fmt.Errorf("ramp time %v: %w", totalTimeUnits, ErrOutOfRange)
    }

    inc := (Ceiling - base) / (totalTimeUnits * 10)
    if math.IsNaN(inc) || math.IsInf(inc, 0) || inc <= 0 {
        return fmt.Errorf("ramp increment %v: %w", inc, ErrOutOfRange)
    }

    s.mu.Lock()
    defer s.mu.Unlock()

    s.base = base
    s.increment = inc
    s.value = int64(base)
    s.stepCount = -1
    return nil
}

// RestartRamp 读数回到基线，下一次上升从基线开始
func (s *Simulator) RestartRamp() {
    s.mu.Lock()
    defer s.mu.Unlock()

    s.value = int64(s.base)
    s.stepCount = -1
}

// Reset 重启仪器：解锁、向下、读数回到基线、恢复默认 dump gain
func (s *Simulator) Reset() {
    s.mu.Lock()
    defer s.mu.Unlock()

    s.locked = false
    s.direction = Down
    s.value = int64(s.base)
    s.speed = 1
    s.stepCount = 1
    s.dumpGain = s.defaults.DumpGain
}

func (s *Simulator) SetDirection(d Direction) {
    s.mu.Lock()
    defer s.mu.Unlock()

    s.speed = 1
    s.direction = d
}

func (s *Simulator) Lock() {
    s.mu.Lock()
    s.locked = true
    s.mu.Unlock()
}

func (s *Simulator) Unlock() {
    s.mu.Lock()
    s.locked = false
    s.mu.Unlock()
}

// SetLocked 设置锁定状态并返回之前的状态
func (s *Simulator) SetLocked(locked bool) bool {
    s.mu.Lock()
    defer s.mu.Unlock()

    prev := s.locked
    s.locked = locked
    return prev
}

func (s *Simulator) Locked() bool {
    s.mu.Lock()
    defer s.mu.Unlock()
    return s.locked
}

// SetDumpGain 取值 (0,1)，非法值不改变状态
func (s *Simulator) SetDumpGain(g float64) error {
    if !(g > 0 && g < 1) {
        return fmt.Errorf("dump gain %v: %w", g, ErrOutOfRange)
    }
    s.mu.Lock()
    s.dumpGain = g
    s.mu.Unlock()
    return nil
}

// SetDumpThreshold 取值 [0, Ceiling]，非法值不改变状态
func (s *Simulator) SetDumpThreshold(t float64) error {
    if !(t >= 0 && t <= Ceiling) {
        return fmt.Errorf("dump threshold %v: %w", t, ErrOutOfRange)
    }
    s.mu.Lock()
    s.dumpThreshold = t
    s.mu.Unlock()
    return nil
}

func (s *Simulator) DumpThreshold() float64 {
    s.mu.Lock()
    defer s.mu.Unlock()
    return s.dumpThreshold
}

func (s *Simulator) Value() int64 {
    s.mu.Lock()
    defer s.mu.Unlock()
    return s.value
}

func (s *Simulator) Snapshot() State {
    s.mu.Lock()
    defer s.mu.Unlock()

    return State{
        Value:         s.value,
        Base:          s.base,
        Increment:     s.increment,
        StepCount:     s.stepCount,
        Speed:         s.speed,
        Direction:     s.direction,
        Locked:        s.locked,
        DumpThreshold: s.dumpThreshold,
        DumpGain:      s.dumpGain,
        NoiseRatio:    s.noiseRatio,
    }
}

// deterministic 不含噪声的读数，负步数按基线计算
func (s *Simulator) deterministic() float64 {
    if s.stepCount <= 0 {
        return s.base
    }
    return s.base + s.increment*s.stepCount
}

func (s *Simulator) recalc() {
    v := s.deterministic()
    // 非有限值按边界处理，噪声只加在量程内的读数上
    switch {
    case math.IsNaN(v), v < 0:
        v = 0
    case v > Ceiling:
        v = Ceiling
    }

    span := int64(v * s.noiseRatio / 100)
    if span > 0 {
        jitter := s.rng.Int63n(span)
        v = v - float64(span)/2 + float64(jitter)
    }

    s.value = int64(math.Max(0, math.Min(Ceiling, v)))
}
