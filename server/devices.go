package server

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/nedpals/nfcard/nfc"
)

// DefaultDeviceTimeout is how long a phone may stay silent before it expires.
const DefaultDeviceTimeout = 30 * time.Second

var (
	ErrDeviceNotFound  = errors.New("device not found")
	ErrInvalidPlatform = errors.New("invalid platform")
)

// Device is a registered phone.
type Device struct {
	ID         string
	Name       string
	Platform   string
	AppVersion string
	Metadata   map[string]string

	mu       sync.Mutex
	lastSeen time.Time
}

func (d *Device) String() string {
	return fmt.Sprintf("%s (%s)", d.Name, d.Platform)
}

// Source is the label reports read through this phone carry.
func (d *Device) Source() string {
	return "phone:" + d.ID
}

func (d *Device) LastSeen() time.Time {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.lastSeen
}

func (d *Device) touch(t time.Time) {
	d.mu.Lock()
	d.lastSeen = t
	d.mu.Unlock()
}

// DeviceRegistry tracks connected phones and expires the inactive ones.
type DeviceRegistry struct {
	mu      sync.RWMutex
	devices map[string]*Device
	timeout time.Duration
	clock   nfc.Clock
}

func NewDeviceRegistry(timeout time.Duration, clock nfc.Clock) *DeviceRegistry {
	if timeout <= 0 {
		timeout = DefaultDeviceTimeout
	}
	if clock == nil {
		clock = nfc.NewRealClock()
	}
	return &DeviceRegistry{
		devices: make(map[string]*Device),
		timeout: timeout,
		clock:   clock,
	}
}

// Register validates req and assigns the phone a fresh UUID.
func (r *DeviceRegistry) Register(req RegisterDeviceRequest) (*Device, error) {
	if req.DeviceName == "" {
		return nil, fmt.Errorf("device name is required")
	}
	if req.Platform != "android" && req.Platform != "ios" {
		return nil, fmt.Errorf("%w: %q (must be 'android' or 'ios')", ErrInvalidPlatform, req.Platform)
	}

	d := &Device{
		ID:         uuid.New().String(),
		Name:       req.DeviceName,
		Platform:   req.Platform,
		AppVersion: req.AppVersion,
		Metadata:   req.Metadata,
		lastSeen:   r.clock.Now(),
	}
	r.mu.Lock()
	r.devices[d.ID] = d
	r.mu.Unlock()
	return d, nil
}

func (r *DeviceRegistry) Unregister(id string) (*Device, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	d, ok := r.devices[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrDeviceNotFound, id)
	}
	delete(r.devices, id)
	return d, nil
}

func (r *DeviceRegistry) Get(id string) (*Device, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	d, ok := r.devices[id]
	return d, ok
}

// Touch marks the device as seen now.
func (r *DeviceRegistry) Touch(id string) error {
	d, ok := r.Get(id)
	if !ok {
		return fmt.Errorf("%w: %s", ErrDeviceNotFound, id)
	}
	d.touch(r.clock.Now())
	return nil
}

func (r *DeviceRegistry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.devices)
}

// Expire removes and returns every device not seen within the timeout.
func (r *DeviceRegistry) Expire() []*Device {
	now := r.clock.Now()
	r.mu.Lock()
	defer r.mu.Unlock()

	var expired []*Device
	for id, d := range r.devices {
		if now.Sub(d.LastSeen()) > r.timeout {
			expired = append(expired, d)
			delete(r.devices, id)
		}
	}
	return expired
}
