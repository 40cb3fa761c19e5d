package sensor

import (
	"context"
	"fmt"

	"codeberg.org/mutker/laptopctl/internal/errors"
	"codeberg.org/mutker/laptopctl/internal/logger"
	"github.com/NVIDIA/go-nvml/pkg/nvml"
)

// nvmlDevice is the subset of nvml.Device the GPU source reads.
type nvmlDevice interface {
	GetName() (string, nvml.Return)
	GetTemperature(nvml.TemperatureSensors) (uint32, nvml.Return)
	GetNumFans() (int, nvml.Return)
	GetFanSpeed_v2(int) (uint32, nvml.Return)
}

// GPUSource reads discrete NVIDIA GPUs through NVML.
type GPUSource struct {
	devices []nvmlDevice
	names   []string
}

// NewGPUSource initializes NVML. It fails on machines without the NVIDIA
// driver; callers then run without the source.
func NewGPUSource(log logger.Logger) (*GPUSource, error) {
	errFactory := errors.New()

	if ret := nvml.Init(); ret != nvml.SUCCESS {
		return nil, errFactory.Wrap(errors.ErrSourceUnavailable, newNVMLError(ret))
	}

	count, ret := nvml.DeviceGetCount()
	if ret != nvml.SUCCESS {
		nvml.Shutdown()
		return nil, errFactory.Wrap(errors.ErrSourceUnavailable, newNVMLError(ret))
	}

	devices := make([]nvmlDevice, 0, count)
	for i := 0; i < count; i++ {
		device, ret := nvml.DeviceGetHandleByIndex(i)
		if ret != nvml.SUCCESS {
			log.Warn().Int("index", i).Str("error", nvml.ErrorString(ret)).Msg("Skipping GPU")
			continue
		}
		devices = append(devices, device)
	}

	s := newGPUSource(devices)
	for _, name := range s.names {
		log.Info().Str("gpu", name).Msg("Detected GPU")
	}

	return s, nil
}

func newGPUSource(devices []nvmlDevice) *GPUSource {
	s := &GPUSource{devices: devices, names: make([]string, len(devices))}
	for i, d := range devices {
		name, ret := d.GetName()
		if ret != nvml.SUCCESS || name == "" {
			name = fmt.Sprintf("gpu%d", i)
		}
		s.names[i] = name
	}
	return s
}

func (s *GPUSource) Name() string { return "gpu" }

func (s *GPUSource) Collect(_ context.Context, snap *Snapshot) (int, []string) {
	var failed []string
	for i, d := range s.devices {
		temp, ret := d.GetTemperature(nvml.TEMPERATURE_GPU)
		if ret != nvml.SUCCESS {
			failed = append(failed, fmt.Sprintf("gpu%d", i))
			continue
		}

		reading := GPUReading{Name: s.names[i], Temperature: float64(temp)}
		if fans, ret := d.GetNumFans(); ret == nvml.SUCCESS && fans > 0 {
			var sum uint32
			for f := 0; f < fans; f++ {
				speed, ret := d.GetFanSpeed_v2(f)
				if ret == nvml.SUCCESS {
					sum += speed
				}
			}
			reading.FanPercent = clampPercent(float64(sum) / float64(fans))
		}
		snap.GPUs = append(snap.GPUs, reading)
	}

	return len(snap.GPUs), failed
}

// Close shuts NVML down.
func (s *GPUSource) Close() error {
	if ret := nvml.Shutdown(); ret != nvml.SUCCESS {
		return errors.New().Wrap(errors.ErrShutdownFailed, newNVMLError(ret))
	}
	return nil
}

type nvmlError struct {
	ret nvml.Return
}

func (e *nvmlError) Error() string {
	return fmt.Sprintf("NVML error: %s", nvml.ErrorString(e.ret))
}

func newNVMLError(ret nvml.Return) error {
	return &nvmlError{ret: ret}
}
