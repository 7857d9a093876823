package vm

import (
	"fmt"
	"sort"
)

// Device is a handle to a piece of hardware bound by name for a run.
type Device interface {
	DeviceName() string
}

// GenericDevice is a device the runtime knows only by name and type. Drivers
// are external; the runtime just resolves them.
type GenericDevice struct {
	Name string
	Type string
}

// DeviceName implements Device.
func (d *GenericDevice) DeviceName() string { return d.Name }

// DeviceRegistry maps device names to handles.
type DeviceRegistry struct {
	devices map[string]Device
}

// NewDeviceRegistry creates a registry holding devs.
func NewDeviceRegistry(devs ...Device) *DeviceRegistry {
	r := &DeviceRegistry{devices: make(map[string]Device, len(devs))}
	for _, d := range devs {
		r.devices[d.DeviceName()] = d
	}
	return r
}

// Add binds d under its name, replacing any previous binding.
func (r *DeviceRegistry) Add(d Device) {
	r.devices[d.DeviceName()] = d
}

// Resolve returns the device bound to name.
func (r *DeviceRegistry) Resolve(name string) (Device, error) {
	if r != nil {
		if d, ok := r.devices[name]; ok {
			return d, nil
		}
	}
	return nil, NewException(UnboundDeviceError, name)
}

// Core resolves name and checks that it is a core device.
func (r *DeviceRegistry) Core(name string) (*Core, error) {
	d, err := r.Resolve(name)
	if err != nil {
		return nil, err
	}
	c, ok := d.(*Core)
	if !ok {
		return nil, Errorf(TypeError, "device '%s' is not a core device", name)
	}
	return c, nil
}

// Names returns the bound device names in sorted order.
func (r *DeviceRegistry) Names() []string {
	if r == nil {
		return nil
	}
	names := make([]string, 0, len(r.devices))
	for name := range r.devices {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (r *DeviceRegistry) String() string {
	return fmt.Sprintf("DeviceRegistry%v", r.Names())
}
