// Package device picks the accelerator a local model should run on.
package device

import (
	"os"
	"os/exec"
	"runtime"
	"strings"
)

// Device is an inference accelerator.
type Device string

const (
	CPU   Device = "cpu"
	CUDA  Device = "cuda"
	Metal Device = "metal"
)

// Environment abstracts the host lookups detection relies on.
type Environment struct {
	GOOS     string
	GOARCH   string
	Stat     func(path string) (os.FileInfo, error)
	LookPath func(file string) (string, error)
}

// Host returns the environment of the running process.
func Host() Environment {
	return Environment{
		GOOS:     runtime.GOOS,
		GOARCH:   runtime.GOARCH,
		Stat:     os.Stat,
		LookPath: exec.LookPath,
	}
}

var nvidiaNodes = []string{"/dev/nvidiactl", "/dev/nvidia0"}

// Detect returns the device for the running host. A non-empty override other
// than "auto" wins.
func Detect(override string) Device {
	return Host().Detect(override)
}

// Detect returns the device for env.
func (env Environment) Detect(override string) Device {
	switch Device(strings.ToLower(strings.TrimSpace(override))) {
	case CPU:
		return CPU
	case CUDA:
		return CUDA
	case Metal:
		return Metal
	}

	if env.hasNVIDIA() {
		return CUDA
	}
	if env.GOOS == "darwin" && env.GOARCH == "arm64" {
		return Metal
	}
	return CPU
}

func (env Environment) hasNVIDIA() bool {
	if env.Stat != nil {
		for _, p := range nvidiaNodes {
			if _, err := env.Stat(p); err == nil {
				return true
			}
		}
	}
	if env.LookPath != nil {
		if _, err := env.LookPath("nvidia-smi"); err == nil {
			return true
		}
	}
	return false
}

// Accelerated reports whether d offloads work from the CPU.
func (d Device) Accelerated() bool {
	return d == CUDA || d == Metal
}

func (d Device) String() string { return string(d) }
