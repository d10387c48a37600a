package core

import (
	"context"

	"pkt.systems/kernelx/schema"
)

// Kernel is the lifecycle state of a session's kernel. Exactly one variant
// is active; transitions replace the whole value.
//
// Variants: StartingKernel, RunningKernel, ErroredLaunch, RestartingKernel,
// ShuttingDownKernel, ShutdownKernel.
type Kernel interface {
	Status() schema.KernelStatus
	isKernel()
}

// StartingKernel holds the shared launch task.
type StartingKernel struct {
	task *startTask
}

// Wait blocks until the launch resolves. Late callers get the cached outcome.
func (k StartingKernel) Wait(ctx context.Context) error {
	if k.task == nil {
		return nil
	}
	return k.task.Wait(ctx)
}

// RunningKernel carries the live transport.
type RunningKernel struct {
	Transport      Transport
	ExecutionState schema.ExecutionState
	// Info is nil until the kernel answers kernel_info_request.
	Info *schema.KernelInfoReply
	// task identifies the launch that produced Transport.
	task *startTask
}

// ErroredLaunch records why startup failed.
type ErroredLaunch struct {
	Message string
}

// RestartingKernel is set while the previous transport is torn down.
type RestartingKernel struct{}

// ShuttingDownKernel is set while the forced kill is pending.
type ShuttingDownKernel struct{}

// ShutdownKernel is terminal.
type ShutdownKernel struct{}

func (StartingKernel) isKernel()     {}
func (RunningKernel) isKernel()      {}
func (ErroredLaunch) isKernel()      {}
func (RestartingKernel) isKernel()   {}
func (ShuttingDownKernel) isKernel() {}
func (ShutdownKernel) isKernel()     {}

func (StartingKernel) Status() schema.KernelStatus { return schema.KernelStatusStarting }

func (k RunningKernel) Status() schema.KernelStatus {
	return schema.KernelStatusFromExecutionState(k.ExecutionState)
}

func (ErroredLaunch) Status() schema.KernelStatus      { return schema.KernelStatusError }
func (RestartingKernel) Status() schema.KernelStatus   { return schema.KernelStatusRestarting }
func (ShuttingDownKernel) Status() schema.KernelStatus { return schema.KernelStatusShuttingDown }
func (ShutdownKernel) Status() schema.KernelStatus     { return schema.KernelStatusShutdown }

// executionStatusFor projects a kernel variant onto the status a new block
// starts with.
func executionStatusFor(kernel Kernel) schema.ExecutionStatus {
	switch k := kernel.(type) {
	case RunningKernel:
		return schema.StatusOf(schema.ExecutionQueued)
	case StartingKernel:
		return schema.StatusOf(schema.ExecutionConnectingToKernel)
	case ErroredLaunch:
		return schema.Errored(k.Message)
	case ShuttingDownKernel:
		return schema.StatusOf(schema.ExecutionShuttingDown)
	case ShutdownKernel:
		return schema.StatusOf(schema.ExecutionShutdown)
	case RestartingKernel:
		return schema.StatusOf(schema.ExecutionRestarting)
	default:
		return schema.StatusOf(schema.ExecutionUnknown)
	}
}

// statusText is the label shown for the kernel in the session header.
func statusText(kernel Kernel, spec schema.KernelSpecification) string {
	switch k := kernel.(type) {
	case RunningKernel:
		if k.Info != nil && k.Info.LanguageInfo.Name != "" {
			return k.Info.LanguageInfo.Name
		}
		return spec.Language()
	case StartingKernel:
		return "Starting"
	case ErroredLaunch:
		return "Error: " + k.Message
	case ShuttingDownKernel:
		return "Shutting Down"
	case ShutdownKernel:
		return "Shutdown"
	case RestartingKernel:
		return "Restarting"
	default:
		return ""
	}
}
