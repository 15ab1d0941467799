package device

import (
	"fmt"
	"time"

	"go.bug.st/serial"
)

// DefaultBaudRate matches the firmware's Serial.begin.
const DefaultBaudRate = 9600

// SerialConfig describes the USB serial link to the feeder.
type SerialConfig struct {
	Port       string        `yaml:"port"`
	BaudRate   int           `yaml:"baud_rate"`
	AckTimeout time.Duration `yaml:"ack_timeout"`
	// Settle is how long to wait after opening for the board to reset.
	Settle time.Duration `yaml:"settle"`
}

// OpenSerial opens the port and wraps it in a Link.
func OpenSerial(cfg SerialConfig) (*Link, error) {
	if cfg.Port == "" {
		return nil, fmt.Errorf("serial port is required")
	}
	baud := cfg.BaudRate
	if baud == 0 {
		baud = DefaultBaudRate
	}
	p, err := serial.Open(cfg.Port, &serial.Mode{
		BaudRate: baud,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	})
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", cfg.Port, err)
	}
	if cfg.Settle > 0 {
		time.Sleep(cfg.Settle)
	}
	if err := p.ResetInputBuffer(); err != nil {
		p.Close()
		return nil, fmt.Errorf("reset %s: %w", cfg.Port, err)
	}
	return NewLink(cfg.Port, p, cfg.AckTimeout), nil
}

// Ports lists the serial ports present on this machine.
func Ports() ([]string, error) {
	ports, err := serial.GetPortsList()
	if err != nil {
		return nil, fmt.Errorf("list serial ports: %w", err)
	}
	return ports, nil
}
