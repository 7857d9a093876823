package vm

import (
	"fmt"
	"math"
)

// MU is a count of machine units (hardware clock ticks) since the start of a
// run. It is the canonical representation of time inside the runtime.
type MU int64

// snapULPs is how many units in the last place a seconds-to-MU quotient may
// sit from an integer and still be taken as that integer. It covers the
// rounding of products like 20*us and nothing more.
const snapULPs = 4

// Core is a timing reference device. RefPeriod is the length of one machine
// unit in seconds and never changes during a run.
type Core struct {
	Name      string
	RefPeriod float64
}

// NewCore creates a core device with the given reference period.
func NewCore(name string, refPeriod float64) (*Core, error) {
	if !(refPeriod > 0) || math.IsInf(refPeriod, 0) {
		return nil, fmt.Errorf("vm: core %q: reference period must be positive, got %v", name, refPeriod)
	}
	return &Core{Name: name, RefPeriod: refPeriod}, nil
}

// DeviceName implements Device.
func (c *Core) DeviceName() string { return c.Name }

// MuToSeconds converts machine units to seconds.
func MuToSeconds(mu MU, core *Core) (float64, error) {
	if core == nil {
		return 0, NewException(UnboundDeviceError, "core")
	}
	return float64(mu) * core.RefPeriod, nil
}

// SecondsToMu converts seconds to machine units, truncating toward zero.
// Quotients within snapULPs of an integer are taken as that integer.
func SecondsToMu(seconds float64, core *Core) (MU, error) {
	if core == nil {
		return 0, NewException(UnboundDeviceError, "core")
	}
	if math.IsNaN(seconds) || math.IsInf(seconds, 0) {
		return 0, Errorf(ValueError, "cannot convert %v seconds to machine units", seconds)
	}
	x := seconds / core.RefPeriod
	if math.Abs(x) >= math.MaxInt64 {
		return 0, Errorf(OverflowError, "%v seconds does not fit in machine units", seconds)
	}
	r := math.Round(x)
	if math.Abs(x-r) <= snapULPs*ulp(x) {
		return MU(r), nil
	}
	return MU(math.Trunc(x)), nil
}

func ulp(x float64) float64 {
	a := math.Abs(x)
	return math.Nextafter(a, math.Inf(1)) - a
}
