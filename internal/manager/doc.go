// Package manager provides lifecycle, admission, and inference coordination for
// model instances. It is structured into small files by concern:
//
//   - manager.go: core Manager type, constructor helpers, simple getters, Close.
//   - config.go: ManagerConfig and package defaults; NewWithConfig applies defaults.
//   - types.go: internal state types (State, ModelInfo, Instance, Snapshot).
//   - errors.go: error types and helpers (IsTooBusy, IsModelNotFound, IsBadRequest).
//   - helpers.go: small utilities (registry lookup, default model).
//   - admission.go: per-instance queueing and generation admission.
//   - ensure.go: EnsureInstance loading (model file + decoding context).
//   - evict.go: choosing least recently used idle instances over the cap.
//   - idle.go: unloading instances nobody used for a while (ttlcache).
//   - unload.go: draining and freeing an instance.
//   - infer.go: Infer, the step loop that streams NDJSON.
//   - stopstr.go: text-level stop sequences with hold-back.
//   - status_report.go: Status/Snapshot reporting helpers.
//   - ops.go: async Switch with operation ids.
//   - sanity.go: backend and registry checks.
//
// Each loaded model owns exactly one decoding context. The admission pair
// (a bounded FIFO of queue slots plus a single in-flight slot) guarantees
// that only one generation drives that context at a time.
//
// The inference backend comes from package engine: the llama.cpp backend
// when built with `-tags=llama`, otherwise a stub whose errors map to
// dependency-unavailable (HTTP 503).
//
// External packages should treat this package as the orchestration layer and use
// public methods only (e.g., New/NewWithConfig, Ready, ListModels, Status, Infer).
// Internal types are subject to change.
package manager
