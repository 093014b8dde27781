package a121

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestVersion_String(t *testing.T) {
	tests := []struct {
		given    uint32
		expected string
	}{
		{0x00000000, "0.0.0"},
		{0x00010203, "1.2.3"},
		{0x00010600, "1.6.0"},
		{0xFFFFFFFF, "65535.255.255"},
	}
	for _, test := range tests {
		t.Run(fmt.Sprintf("%08x", test.given), func(t *testing.T) {
			assert.Equal(t, test.expected, Version(test.given).String())
		})
	}
}
