package schema

import (
	"fmt"
	"strings"
)

// KernelKind selects how a kernel is launched.
type KernelKind string

const (
	// KernelKindLocal launches the kernelspec argv as a child process.
	KernelKindLocal KernelKind = "local"
	// KernelKindRemote creates the kernel on a Jupyter server.
	KernelKindRemote KernelKind = "remote"
	// KernelKindGateway launches the kernel through a kernelx gateway.
	KernelKindGateway KernelKind = "gateway"
)

// InterruptMode controls how interrupts are delivered to local kernels.
type InterruptMode string

const (
	InterruptModeSignal  InterruptMode = "signal"
	InterruptModeMessage InterruptMode = "message"
)

// KernelSpecification describes a launchable kernel.
type KernelSpecification struct {
	Kind          KernelKind        `json:"kind,omitempty"`
	Name          KernelName        `json:"name"`
	DisplayName   string            `json:"display_name"`
	LanguageName  string            `json:"language"`
	Argv          []string          `json:"argv"`
	Env           map[string]string `json:"env,omitempty"`
	InterruptMode InterruptMode     `json:"interrupt_mode,omitempty"`
	ResourceDir   string            `json:"-"`
	// Endpoint is the server base URL for remote kernels or the socket path
	// for gateway kernels.
	Endpoint string `json:"-"`
}

// Language returns the lowercased kernel language, falling back to the name.
func (k KernelSpecification) Language() string {
	lang := strings.TrimSpace(k.LanguageName)
	if lang == "" {
		lang = string(k.Name)
	}
	return strings.ToLower(lang)
}

// Validate checks that the kernelspec can be launched.
func (k KernelSpecification) Validate() error {
	if strings.TrimSpace(string(k.Name)) == "" {
		return fmt.Errorf("%w: name is required", ErrInvalidKernelSpec)
	}
	switch k.Kind {
	case "", KernelKindLocal:
		if len(k.Argv) == 0 {
			return fmt.Errorf("%w: %s has empty argv", ErrInvalidKernelSpec, k.Name)
		}
	case KernelKindRemote, KernelKindGateway:
		if strings.TrimSpace(k.Endpoint) == "" {
			return fmt.Errorf("%w: %s kernel %s requires an endpoint", ErrInvalidKernelSpec, k.Kind, k.Name)
		}
	default:
		return fmt.Errorf("%w: unknown kind %q", ErrInvalidKernelSpec, k.Kind)
	}
	return nil
}
