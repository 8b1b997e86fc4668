// Package waveform produces the synthetic battery readings: a noisy voltage,
// a current alternating hourly between a charge and a discharge band, and a
// temperature following a 20 minute triangular ramp.
package waveform

import (
	"math"
	"math/rand/v2"
	"sync"
	"time"

	"gonum.org/v1/gonum/stat/distuv"

	"github.com/kilianp07/smartbattery/core/model"
)

const (
	DefaultIntervalSeconds = 5

	VoltageMin = 22.0
	VoltageMax = 26.0

	ChargeMin    = 9.0
	ChargeMax    = 11.0
	DischargeMin = -11.0
	DischargeMax = -9.0

	TemperatureMax = 80.0

	// CurrentPeriod is the number of seconds between band flips.
	CurrentPeriod = 60 * 60
	// TemperaturePeriod is the duration in seconds of one ramp.
	TemperaturePeriod = 20 * 60
)

// Generator holds the waveform state. It is safe for concurrent use.
type Generator struct {
	interval *Interval

	mu        sync.Mutex
	voltage   distuv.Uniform
	charge    distuv.Uniform
	discharge distuv.Uniform

	currentElapsed int
	charging       bool

	tempElapsed float64
	tempRising  bool
}

// NewGenerator creates a generator reading its step from interval. A zero
// seed selects a time based seed.
func NewGenerator(interval *Interval, seed uint64) *Generator {
	if interval == nil {
		interval = NewInterval(DefaultIntervalSeconds)
	}
	if seed == 0 {
		seed = uint64(time.Now().UnixNano())
	}
	src := rand.NewPCG(seed, seed>>1|1)
	return &Generator{
		interval:   interval,
		voltage:    distuv.Uniform{Min: VoltageMin, Max: VoltageMax, Src: src},
		charge:     distuv.Uniform{Min: ChargeMin, Max: ChargeMax, Src: src},
		discharge:  distuv.Uniform{Min: DischargeMin, Max: DischargeMax, Src: src},
		charging:   true,
		tempRising: true,
	}
}

// Interval returns the shared report interval.
func (g *Generator) Interval() *Interval { return g.interval }

// Next returns the next reading of channel c, advancing only that channel.
func (g *Generator) Next(c model.Channel) float64 {
	g.mu.Lock()
	defer g.mu.Unlock()
	switch c {
	case model.ChannelVoltage:
		return g.voltage.Rand()
	case model.ChannelCurrent:
		return g.nextCurrent()
	case model.ChannelTemperature:
		return g.nextTemperature()
	default:
		return 0
	}
}

// Sample returns one reading per channel.
func (g *Generator) Sample() model.TelemetrySet {
	g.mu.Lock()
	defer g.mu.Unlock()
	return model.TelemetrySet{
		Voltage:     g.voltage.Rand(),
		Current:     g.nextCurrent(),
		Temperature: g.nextTemperature(),
	}
}

// nextCurrent accumulates the interval first so the reading is drawn from the
// band in force after a flip.
func (g *Generator) nextCurrent() float64 {
	g.currentElapsed += g.interval.Seconds()
	if g.currentElapsed >= CurrentPeriod {
		g.charging = !g.charging
		g.currentElapsed = 0
	}
	if g.charging {
		return g.charge.Rand()
	}
	return g.discharge.Rand()
}

// nextTemperature reports the ramp position before moving it. Steps that
// would overshoot a bound stop on it, so the ramp always reaches 0 and 80.
func (g *Generator) nextTemperature() float64 {
	step := float64(g.interval.Seconds())
	value := g.tempElapsed * TemperatureMax / TemperaturePeriod
	if g.tempRising {
		if g.tempElapsed >= TemperaturePeriod {
			g.tempRising = false
			g.tempElapsed = math.Max(TemperaturePeriod-step, 0)
		} else {
			g.tempElapsed = math.Min(g.tempElapsed+step, TemperaturePeriod)
		}
	} else {
		if g.tempElapsed <= 0 {
			g.tempRising = true
			g.tempElapsed = math.Min(step, TemperaturePeriod)
		} else {
			g.tempElapsed = math.Max(g.tempElapsed-step, 0)
		}
	}
	return value
}
