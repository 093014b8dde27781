package sim

import "github.com/mklimuk/a121/engine"

// Name is the registry name of the simulated engine. The registered instance sees a
// single reflector walking away from the sensor and back.
const Name = "sim"

func init() {
	if err := engine.Register(Name, func() (engine.Engine, error) {
		return New(WithFrameSource(Moving(20, 60, 2000))), nil
	}); err != nil {
		panic(err)
	}
}
