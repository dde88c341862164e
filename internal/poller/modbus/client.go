// internal/poller/modbus/client.go
package modbus

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/goburrow/modbus"

	"github.com/tamzrod/vitals-relay/internal/vitals"
)

// Register maps one vitals type onto a holding register of the gateway.
type Register struct {
	Address uint16
	Scale   float64 // value = raw * Scale; 0 means 1
	Signed  bool    // raw is int16
	Unit    string
}

// Config is minimal transport config plus the register map.
type Config struct {
	Endpoint  string
	Timeout   time.Duration
	Users     map[string]uint8 // userID -> Modbus unit (slave) id
	Registers map[vitals.PermissionType]Register
}

// Client implements poller.Client against a Modbus TCP vitals gateway.
// It serializes requests because it mutates SlaveId per user.
type Client struct {
	mu      sync.Mutex
	handler *modbus.TCPClientHandler
	client  modbus.Client
	cfg     Config
}

// New creates a connected Modbus TCP client.
func New(cfg Config) (*Client, error) {
	if cfg.Endpoint == "" {
		return nil, errors.New("modbus client: endpoint required")
	}
	if len(cfg.Registers) == 0 {
		return nil, errors.New("modbus client: register map required")
	}

	h := modbus.NewTCPClientHandler(cfg.Endpoint)
	h.Timeout = cfg.Timeout

	if err := h.Connect(); err != nil {
		return nil, fmt.Errorf("modbus client: connect %s: %w", cfg.Endpoint, err)
	}

	return &Client{
		handler: h,
		client:  modbus.NewClient(h),
		cfg:     cfg,
	}, nil
}

// Close closes the TCP connection.
func (c *Client) Close() error {
	if c == nil || c.handler == nil {
		return nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.handler.Close()
}

// ReadVitals reads one register per requested type.
// All-or-nothing: the first failed read aborts the call.
// Types without a register mapping are skipped.
func (c *Client) ReadVitals(ctx context.Context, userID string, types []vitals.PermissionType) ([]vitals.VitalsUpdate, error) {
	unit, ok := c.cfg.Users[userID]
	if !ok {
		return nil, fmt.Errorf("modbus client: no unit id for user %q", userID)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	c.handler.SlaveId = unit

	out := make([]vitals.VitalsUpdate, 0, len(types))
	for _, t := range types {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		reg, ok := c.cfg.Registers[t]
		if !ok {
			continue
		}

		raw, err := c.client.ReadHoldingRegisters(reg.Address, 1)
		if err != nil {
			return nil, fmt.Errorf("modbus client: read %s at %d: %w", t, reg.Address, err)
		}
		regs := unpackRegisters(raw)
		if len(regs) != 1 {
			return nil, fmt.Errorf("modbus client: read %s: short payload (%d bytes)", t, len(raw))
		}

		out = append(out, vitals.VitalsUpdate{
			DataType:   t,
			Value:      reg.value(regs[0]),
			Unit:       reg.Unit,
			ObservedAt: time.Now(),
		})
	}

	return out, nil
}

func (r Register) value(raw uint16) float64 {
	scale := r.Scale
	if scale == 0 {
		scale = 1
	}
	if r.Signed {
		return float64(int16(raw)) * scale
	}
	return float64(raw) * scale
}

// ---- helpers (pure geometry) ----

// unpackRegisters decodes big-endian register payload bytes.
func unpackRegisters(data []byte) []uint16 {
	n := len(data) / 2
	out := make([]uint16, n)
	for i := 0; i < n; i++ {
		out[i] = uint16(data[2*i])<<8 | uint16(data[2*i+1])
	}
	return out
}
