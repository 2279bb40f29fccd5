/*
Package types provides the core interfaces, data structures, and type definitions for PageTrace.

This package is the foundation of the tracer: it defines the contracts between
the recorder engine, the read-observation hook, the path resolver, the metrics
layer, and the control plane.

# Architecture Overview

PageTrace follows a layered architecture with well-defined interfaces between
components:

	┌─────────────────────────────────────────────┐
	│            Control Plane (pkg/api)          │
	│      setup / start / stop / reset / collect │
	└─────────────────────────────────────────────┘
	                      │
	┌─────────────────────────────────────────────┐
	│         Recorder Engine (internal/recorder) │
	│   registry · trace buffers · capture path   │
	└─────────────────────────────────────────────┘
	          │              │             │
	┌─────────┴───┐ ┌────────┴───┐ ┌───────┴─────┐
	│  Hook       │ │  Resolver  │ │  Metrics    │
	│ (FUSE read  │ │ (procfs /  │ │ (Prometheus │
	│  observer)  │ │  static)   │ │  collector) │
	└─────────────┘ └────────────┘ └─────────────┘

# Core Interfaces

CaptureSink:
The hot callback the hook drives on every qualifying read fault. It is the one
interface in the system with a hard performance contract: O(1), non-blocking,
allocation-free, and silent on every failure condition.

Resolver:
Converts raw file handles into durable path strings during post-processing.
Resolution is the slow path and never runs under a recorder lock.

MetricsSink and FootprintUploader:
Observability and export seams, implemented by internal/metrics and
internal/export respectively.

# Ownership Model

FileRef carries an explicit reference count. The capture path retains one
reference per recorded fault; snapshot copy-out retains one more per copied
record. Resolution releases the snapshot-owned reference, Reset releases the
buffer-owned one, and the underlying descriptor closes when the last
reference drops.
*/
package types
