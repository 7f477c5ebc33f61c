package connection

import (
	"fmt"
	"time"

	"go.bug.st/serial"

	"github.com/shaunagostinho/ardulink-go/internal/observability"
)

// SerialConfig holds serial port settings.
type SerialConfig struct {
	Port     string `yaml:"port" json:"port"`
	BaudRate int    `yaml:"baud_rate" json:"baudRate"`
	// ResetOnOpen pulses DTR after opening, which reboots most Arduino
	// boards. The device then announces itself with a ready frame.
	ResetOnOpen bool `yaml:"reset_on_open" json:"resetOnOpen"`
}

const (
	// serialReadTimeout bounds each Read so the read loop notices Close.
	serialReadTimeout = 200 * time.Millisecond
	resetPulse        = 100 * time.Millisecond
)

// OpenSerial opens a serial port and starts reading from it.
func OpenSerial(cfg SerialConfig) (*Stream, error) {
	if cfg.BaudRate == 0 {
		cfg.BaudRate = 115200
	}
	mode := &serial.Mode{
		BaudRate: cfg.BaudRate,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	}
	port, err := serial.Open(cfg.Port, mode)
	if err != nil {
		return nil, fmt.Errorf("serial: failed to open %s: %w", cfg.Port, err)
	}
	if err := port.SetReadTimeout(serialReadTimeout); err != nil {
		port.Close()
		return nil, fmt.Errorf("serial: failed to set timeout: %w", err)
	}
	if cfg.ResetOnOpen {
		if err := pulseDTR(port); err != nil {
			port.Close()
			return nil, fmt.Errorf("serial: failed to reset %s: %w", cfg.Port, err)
		}
	}
	// Drop boot garbage that arrived before we were listening.
	if err := port.ResetInputBuffer(); err != nil {
		port.Close()
		return nil, fmt.Errorf("serial: failed to reset input buffer: %w", err)
	}

	log := observability.Component("serial")
	log.Info().
		Str("port", cfg.Port).Int("baud", cfg.BaudRate).Msg("opened")
	return NewStream("serial:"+cfg.Port, port), nil
}

func pulseDTR(port serial.Port) error {
	if err := port.SetDTR(false); err != nil {
		return err
	}
	time.Sleep(resetPulse)
	return port.SetDTR(true)
}

// SerialPorts lists the serial ports present on this machine.
func SerialPorts() []string {
	ports, err := serial.GetPortsList()
	if err != nil {
		log := observability.Component("serial")
		log.Warn().Err(err).Msg("listing ports failed")
		return nil
	}
	return ports
}
