package indicator

import (
	"errors"
	"fmt"
	"runtime"
	"sync"

	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpio/gpioreg"
	"periph.io/x/host/v3"

	"studybell/internal/alarm"
	appLog "studybell/internal/log"
)

// Indicator is a physical alarm light. Set drives it on or off.
type Indicator interface {
	Set(on bool) error
	Close() error
}

type nopIndicator struct{}

// NewNop returns an Indicator that does nothing. It is used when no pin
// is configured or the hardware is unavailable.
func NewNop() Indicator { return nopIndicator{} }

func (nopIndicator) Set(bool) error { return nil }
func (nopIndicator) Close() error   { return nil }

// gpioIndicator drives an LED on a single GPIO output pin.
type gpioIndicator struct {
	mu  sync.Mutex
	pin gpio.PinOut
}

// OpenGPIO initializes periph.io and claims the named pin (e.g. "GPIO17")
// as an output, starting low.
func OpenGPIO(name string) (Indicator, error) {
	if name == "" {
		return nil, errors.New("indicator: gpio pin name is empty")
	}
	if runtime.GOOS != "linux" {
		return nil, errors.New("indicator: gpio unavailable on this platform")
	}
	if _, err := host.Init(); err != nil {
		return nil, fmt.Errorf("indicator: periph host init failed: %w", err)
	}
	p := gpioreg.ByName(name)
	if p == nil {
		return nil, fmt.Errorf("indicator: gpio %s not found", name)
	}
	if err := p.Out(gpio.Low); err != nil {
		return nil, fmt.Errorf("indicator: gpio %s Out failed: %w", name, err)
	}
	return &gpioIndicator{pin: p}, nil
}

func (g *gpioIndicator) Set(on bool) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	level := gpio.Low
	if on {
		level = gpio.High
	}
	return g.pin.Out(level)
}

func (g *gpioIndicator) Close() error {
	return g.Set(false)
}

// Default returns a GPIO indicator for pin, or a no-op indicator when pin
// is empty or the hardware cannot be opened.
func Default(pin string) Indicator {
	if pin == "" {
		return NewNop()
	}
	ind, err := OpenGPIO(pin)
	if err != nil {
		appLog.Error("indicator unavailable; continuing without it", err, "pin", pin)
		return NewNop()
	}
	appLog.Info("indicator ready", "pin", pin)
	return ind
}

// Level maps an alarm state to the light level. The light comes on when
// the alarm fires, toggles on every flash tick, stays on once flashing
// ends and goes off when idle.
func Level(st alarm.State) bool {
	if st.Phase != alarm.PhaseActive {
		return false
	}
	if st.Flashing {
		return st.FlashCount%2 == 0
	}
	return true
}

// Follow mirrors the controller state onto ind until the subscription
// ends, then switches the light off.
func Follow(sub *alarm.Subscription, ind Indicator) {
	for st := range sub.C() {
		if err := ind.Set(Level(st)); err != nil {
			appLog.Error("indicator set failed", err)
		}
	}
	if err := ind.Set(false); err != nil {
		appLog.Error("indicator reset failed", err)
	}
}
