// internal/poller/modbus/client_test.go
package modbus

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestUnpackRegisters_BigEndian(t *testing.T) {
	got := unpackRegisters([]byte{0x00, 0x48, 0x01, 0x02, 0xFF})
	assert.Equal(t, []uint16{72, 258}, got)
}

func TestRegisterValue_ScaleAndSign(t *testing.T) {
	assert.Equal(t, 72.0, Register{}.value(72))
	assert.InDelta(t, 97.5, Register{Scale: 0.1}.value(975), 1e-9)
	assert.Equal(t, -2.0, Register{Signed: true}.value(0xFFFE))
	assert.Equal(t, 65534.0, Register{}.value(0xFFFE))
}

func TestNew_RequiresEndpointAndRegisters(t *testing.T) {
	_, err := New(Config{})
	assert.Error(t, err)

	_, err = New(Config{Endpoint: "127.0.0.1:1"})
	assert.Error(t, err)
}
