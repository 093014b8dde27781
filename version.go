package a121

import "fmt"

// Version is the RSS version word reported by the engine.
type Version uint32

func (v Version) Major() uint16 { return uint16(v >> 16) }

func (v Version) Minor() uint8 { return uint8(v >> 8) }

func (v Version) Patch() uint8 { return uint8(v) }

func (v Version) String() string {
	return fmt.Sprintf("%d.%d.%d", v.Major(), v.Minor(), v.Patch())
}
