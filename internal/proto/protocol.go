// Package proto converts typed device messages to wire frames and back.
package proto

import (
	"errors"
	"sort"
	"strings"
	"sync"
)

var (
	// ErrInvalidArgument is returned when a message cannot be encoded.
	ErrInvalidArgument = errors.New("invalid argument")

	// ErrUnrecognized is returned when a frame matches no known pattern.
	ErrUnrecognized = errors.New("unrecognized frame")
)

// Protocol is a stateless, symmetric codec. Framing is not its job: Decode
// and DecodeCommand receive one frame without the delimiter, Encode and
// EncodeEvent return one frame including it.
type Protocol interface {
	Name() string
	Delimiter() []byte

	// Host side.
	Encode(msg ToDevice) ([]byte, error)
	Decode(frame []byte) (FromDevice, error)

	// Device side, used by simulators.
	EncodeEvent(msg FromDevice) ([]byte, error)
	DecodeCommand(frame []byte) (ToDevice, error)
}

var (
	registryMu sync.RWMutex
	registry   = map[string]Protocol{}
)

func init() {
	Register(ALP{})
}

// Register makes p available through ByName. Later registrations replace
// earlier ones with the same name.
func Register(p Protocol) {
	registryMu.Lock()
	defer registryMu.Unlock()
	registry[strings.ToLower(p.Name())] = p
}

// ByName looks up a registered protocol, case-insensitively.
func ByName(name string) (Protocol, bool) {
	registryMu.RLock()
	defer registryMu.RUnlock()
	p, ok := registry[strings.ToLower(name)]
	return p, ok
}

// Names lists registered protocol names in sorted order.
func Names() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()
	names := make([]string, 0, len(registry))
	for n := range registry {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}
