package config

import "fmt"

// Profile selects the transmitted pulse length. Higher profiles reach further with
// lower distance resolution.
type Profile uint8

const (
	Profile1 Profile = iota + 1
	Profile2
	Profile3
	Profile4
	Profile5
)

func (p Profile) Valid() bool {
	return p >= Profile1 && p <= Profile5
}

func (p Profile) String() string {
	return fmt.Sprintf("profile %d", uint8(p))
}

// ParseProfile accepts 1 to 5.
func ParseProfile(v int) (Profile, error) {
	p := Profile(v)
	if v < 1 || v > 5 {
		return 0, fmt.Errorf("%w: %d", ErrProfile, v)
	}
	return p, nil
}

// HWAAS is the number of hardware accelerated average samples per point.
type HWAAS uint16

const MaxHWAAS = 511

// NewHWAAS rejects values above MaxHWAAS.
func NewHWAAS(v uint16) (HWAAS, error) {
	if v > MaxHWAAS {
		return 0, fmt.Errorf("%w: %d", ErrHWAAS, v)
	}
	return HWAAS(v), nil
}

const MaxReceiverGain = 23

// PRF is the pulse repetition frequency.
type PRF uint8

const (
	PRF19_5MHz PRF = iota
	PRF15_6MHz
	PRF13_0MHz
	PRF8_7MHz
	PRF6_5MHz
	PRF5_2MHz
)

var prfTable = []struct {
	hz  uint32
	mmd float32
	str string
}{
	{19_500_000, 3.1, "19.5 MHz"},
	{15_600_000, 5.1, "15.6 MHz"},
	{13_000_000, 7.0, "13.0 MHz"},
	{8_700_000, 12.7, "8.7 MHz"},
	{6_500_000, 18.5, "6.5 MHz"},
	{5_200_000, 24.3, "5.2 MHz"},
}

func (p PRF) Valid() bool {
	return int(p) < len(prfTable)
}

// Hz returns 0 for an unknown PRF.
func (p PRF) Hz() uint32 {
	if !p.Valid() {
		return 0
	}
	return prfTable[p].hz
}

// MaxMeasurableDistance is the unambiguous range in meters.
func (p PRF) MaxMeasurableDistance() float32 {
	if !p.Valid() {
		return 0
	}
	return prfTable[p].mmd
}

func (p PRF) String() string {
	if !p.Valid() {
		return fmt.Sprintf("PRF(%d)", uint8(p))
	}
	return prfTable[p].str
}

// FrameRate of zero means unlimited.
type FrameRate float32

const Unlimited FrameRate = 0

func (f FrameRate) Limited() bool {
	return f > 0
}

func (f FrameRate) String() string {
	if !f.Limited() {
		return "unlimited"
	}
	return fmt.Sprintf("%.2f Hz", float32(f))
}

// IdleState is the sensor state between sweeps or frames.
type IdleState uint8

const (
	DeepSleep IdleState = iota
	Sleep
	IdleReady
)

func (s IdleState) String() string {
	switch s {
	case DeepSleep:
		return "deep sleep"
	case Sleep:
		return "sleep"
	case IdleReady:
		return "ready"
	default:
		return fmt.Sprintf("IdleState(%d)", uint8(s))
	}
}

// SweepMode is either Continuous or Discrete.
type SweepMode interface {
	sweepMode()
}

// Continuous sweeps at a fixed rate regardless of frame boundaries.
type Continuous struct {
	SweepRate float32
}

// Discrete measures frames of SweepsPerFrame sweeps at FrameRate.
type Discrete struct {
	FrameRate      FrameRate
	SweepsPerFrame uint16
}

func (Continuous) sweepMode() {}
func (Discrete) sweepMode()   {}
