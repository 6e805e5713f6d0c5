// Package plant talks Modbus TCP/RTU to the site's hybrid inverter to read
// live battery/PV/grid telemetry and to drive the water heater relay.
// Register layout is generalized from a real hybrid-inverter map; this
// package treats it as an opaque site gateway rather than any one vendor's
// product.
package plant

import (
	"encoding/binary"
	"fmt"
	"time"

	"github.com/goburrow/modbus"
)

// Slave addresses on the site Modbus network.
const (
	GatewayAddress  = 247
	MinSlaveAddress = 1
	MaxSlaveAddress = 246
)

// Client is a Modbus client scoped to one site gateway.
type Client struct {
	client     modbus.Client
	handler    *modbus.RTUClientHandler
	tcpHandler *modbus.TCPClientHandler
}

// NewRTUClient connects over RS-485.
func NewRTUClient(device string, baudRate int, slaveID byte) (*Client, error) {
	handler := modbus.NewRTUClientHandler(device)
	handler.BaudRate = baudRate
	handler.DataBits = 8
	handler.Parity = "N"
	handler.StopBits = 1
	handler.SlaveId = slaveID
	handler.Timeout = 1 * time.Second

	if err := handler.Connect(); err != nil {
		return nil, fmt.Errorf("failed to connect: %w", err)
	}

	return &Client{
		client:  modbus.NewClient(handler),
		handler: handler,
	}, nil
}

// NewTCPClient connects over Modbus TCP.
func NewTCPClient(address string, slaveID byte) (*Client, error) {
	handler := modbus.NewTCPClientHandler(address)
	handler.SlaveId = slaveID
	handler.Timeout = 1 * time.Second

	if err := handler.Connect(); err != nil {
		return nil, fmt.Errorf("failed to connect: %w", err)
	}

	return &Client{
		client:     modbus.NewClient(handler),
		tcpHandler: handler,
	}, nil
}

// Close closes the underlying connection.
func (c *Client) Close() error {
	if c.handler != nil {
		return c.handler.Close()
	}
	if c.tcpHandler != nil {
		return c.tcpHandler.Close()
	}
	return nil
}

func (c *Client) setSlaveID(slaveID byte) {
	if c.handler != nil {
		c.handler.SlaveId = slaveID
	}
	if c.tcpHandler != nil {
		c.tcpHandler.SlaveId = slaveID
	}
}

func bytesToU16(data []byte) uint16 { return binary.BigEndian.Uint16(data) }
func bytesToS32(data []byte) int32  { return int32(binary.BigEndian.Uint32(data)) }
func bytesToU32(data []byte) uint32 { return binary.BigEndian.Uint32(data) }

func u32ToBytes(val uint32) []byte {
	buf := make([]byte, 4)
	binary.BigEndian.PutUint32(buf, val)
	return buf
}

// SiteTelemetry is the subset of gateway registers the planner's input
// assembler (C4) needs every tick.
type SiteTelemetry struct {
	BatterySOCPercent      float64 // 0-100
	BatteryCapacityKWh     float64
	BatteryPowerKW         float64 // >0 charging, <0 discharging
	PhotovoltaicPowerKW    float64
	GridActivePowerKW      float64 // >0 importing, <0 exporting
	CumulativePVKWh        float64 // monotonically increasing lifetime counter
	CumulativeImportKWh    float64
	CumulativeExportKWh    float64
	CumulativeChargeKWh    float64
	CumulativeDischargeKWh float64
}

// ReadSiteTelemetry reads the live instantaneous + cumulative-counter block
// (registers 30000-30059, matching the input-register block convention of
// hybrid-inverter gateways).
func (c *Client) ReadSiteTelemetry() (*SiteTelemetry, error) {
	c.setSlaveID(GatewayAddress)

	data, err := c.client.ReadInputRegisters(30000, 40)
	if err != nil {
		return nil, fmt.Errorf("failed to read site telemetry: %w", err)
	}

	t := &SiteTelemetry{
		BatterySOCPercent:   float64(bytesToU16(data[0:2])) / 10.0,
		BatteryCapacityKWh:  float64(bytesToU32(data[2:6])) / 100.0,
		BatteryPowerKW:      float64(bytesToS32(data[6:10])) / 1000.0,
		PhotovoltaicPowerKW: float64(bytesToS32(data[10:14])) / 1000.0,
		GridActivePowerKW:   float64(bytesToS32(data[14:18])) / 1000.0,
	}

	data2, err := c.client.ReadInputRegisters(30040, 20)
	if err != nil {
		return nil, fmt.Errorf("failed to read energy counters: %w", err)
	}
	t.CumulativePVKWh = float64(bytesToU32(data2[0:4])) / 100.0
	t.CumulativeImportKWh = float64(bytesToU32(data2[4:8])) / 100.0
	t.CumulativeExportKWh = float64(bytesToU32(data2[8:12])) / 100.0
	t.CumulativeChargeKWh = float64(bytesToU32(data2[12:16])) / 100.0
	t.CumulativeDischargeKWh = float64(bytesToU32(data2[16:20])) / 100.0

	return t, nil
}

// SetWaterHeaterRelay writes the deferrable-load relay control register
// (holding register 40050) that switches the resistive water heater
// contactor on or off for the current slot.
func (c *Client) SetWaterHeaterRelay(on bool) error {
	c.setSlaveID(GatewayAddress)
	var value uint16
	if on {
		value = 1
	}
	_, err := c.client.WriteSingleRegister(40050, value)
	return err
}

// SetBatterySetpoints pushes the executor's per-slot charge/discharge
// power limits (kW) for the remote-EMS control mode. Mirrors the
// gateway's "command charging/discharging" register pair.
func (c *Client) SetBatterySetpoints(chargeLimitKW, dischargeLimitKW float64) error {
	c.setSlaveID(GatewayAddress)
	if _, err := c.client.WriteMultipleRegisters(40032, 2, u32ToBytes(uint32(chargeLimitKW*1000))); err != nil {
		return fmt.Errorf("failed to set charge limit: %w", err)
	}
	if _, err := c.client.WriteMultipleRegisters(40034, 2, u32ToBytes(uint32(dischargeLimitKW*1000))); err != nil {
		return fmt.Errorf("failed to set discharge limit: %w", err)
	}
	return nil
}

// EnableRemoteControl toggles the gateway's remote-EMS control bit so the
// orchestrator's setpoints take effect instead of the inverter's built-in
// self-consumption logic.
func (c *Client) EnableRemoteControl(enable bool) error {
	c.setSlaveID(GatewayAddress)
	var value uint16
	if enable {
		value = 1
	}
	_, err := c.client.WriteSingleRegister(40029, value)
	return err
}
