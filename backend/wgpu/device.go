// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

// Package wgpu implements gpucore.GPUAdapter over the gogpu/wgpu HAL.
package wgpu

import (
	"fmt"

	"github.com/gogpu/gpucontext"
	"github.com/gogpu/gputypes"
	"github.com/gogpu/wgpu/hal"
)

// Device bundles a HAL device and queue with ownership information.
// Devices obtained from New are owned and torn down by Close; devices
// obtained from a host provider are borrowed and Close leaves them alone.
type Device struct {
	instance hal.Instance
	device   hal.Device
	queue    hal.Queue
	name     string
	owned    bool
}

// New acquires a GPU device through the Vulkan HAL backend, preferring a
// discrete or integrated GPU over software adapters.
//
// The caller must arrange for the backend to be registered, typically by
// importing the backend package for its init side effect:
//
//	import _ "github.com/gogpu/wgpu/hal/vulkan"
func New() (*Device, error) {
	backend, ok := hal.GetBackend(gputypes.BackendVulkan)
	if !ok {
		return nil, fmt.Errorf("wgpu: vulkan backend not available")
	}
	instance, err := backend.CreateInstance(&hal.InstanceDescriptor{Flags: 0})
	if err != nil {
		return nil, fmt.Errorf("wgpu: create instance: %w", err)
	}
	adapters := instance.EnumerateAdapters(nil)
	if len(adapters) == 0 {
		instance.Destroy()
		return nil, fmt.Errorf("wgpu: no GPU adapters found")
	}
	var selected *hal.ExposedAdapter
	for i := range adapters {
		if adapters[i].Info.DeviceType == gputypes.DeviceTypeDiscreteGPU ||
			adapters[i].Info.DeviceType == gputypes.DeviceTypeIntegratedGPU {
			selected = &adapters[i]
			break
		}
	}
	if selected == nil {
		selected = &adapters[0]
	}
	openDev, err := selected.Adapter.Open(gputypes.Features(0), gputypes.DefaultLimits())
	if err != nil {
		instance.Destroy()
		return nil, fmt.Errorf("wgpu: open device: %w", err)
	}

	slogger().Debug("gpu device opened", "adapter", selected.Info.Name)
	return &Device{
		instance: instance,
		device:   openDev.Device,
		queue:    openDev.Queue,
		name:     selected.Info.Name,
		owned:    true,
	}, nil
}

// FromProvider borrows the HAL device and queue from a host application's
// device provider (e.g. a gogpu.App). The provider must additionally expose
// HalDevice() any and HalQueue() any returning the raw HAL handles.
func FromProvider(provider gpucontext.DeviceProvider) (*Device, error) {
	type halProvider interface {
		HalDevice() any
		HalQueue() any
	}
	hp, ok := provider.(halProvider)
	if !ok {
		return nil, fmt.Errorf("wgpu: provider does not expose HAL types")
	}
	device, ok := hp.HalDevice().(hal.Device)
	if !ok || device == nil {
		return nil, fmt.Errorf("wgpu: provider HalDevice is not hal.Device")
	}
	queue, ok := hp.HalQueue().(hal.Queue)
	if !ok || queue == nil {
		return nil, fmt.Errorf("wgpu: provider HalQueue is not hal.Queue")
	}
	return &Device{device: device, queue: queue, name: "host-provided"}, nil
}

// FromHAL wraps an already-open HAL device and queue without taking
// ownership. Tests use this with the noop backend.
func FromHAL(device hal.Device, queue hal.Queue) *Device {
	return &Device{device: device, queue: queue, name: "external"}
}

// AdapterName returns the name of the underlying GPU adapter.
func (d *Device) AdapterName() string {
	return d.name
}

// Close releases the device and instance if this Device owns them.
func (d *Device) Close() {
	if !d.owned {
		return
	}
	if d.device != nil {
		d.device.Destroy()
		d.device = nil
	}
	if d.instance != nil {
		d.instance.Destroy()
		d.instance = nil
	}
}
