package vebus

import (
	"testing"

	"github.com/godbus/dbus/v5"
	"github.com/stretchr/testify/assert"
)

func TestValueToVariant(t *testing.T) {
	assert.Equal(t, dbus.MakeVariant(42.5), valueToVariant(42.5))
	assert.Equal(t, dbus.MakeVariant("pvinverter"), valueToVariant("pvinverter"))
	// "no value" travels as an empty int32 array
	assert.Equal(t, invalidValue, valueToVariant(nil))
}
