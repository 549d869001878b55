// Package engine wires all gatekeep subsystems together: the approval
// service and expiry sweeper, the checkpoint service and codec, the
// orchestrator, the task registry, middleware chain and worker pool,
// the DLQ service, the authorization gate and the extension registry.
//
// This package exists to break import cycles: the domain packages
// (approval, checkpoint, orchestrator) each define the emitter
// interfaces they need, ext.Registry provides the implementations, and
// the engine layer plugs them together with small adapters. The engine
// package sits above all subsystem packages and below the application
// layer (api, cmd).
package engine
