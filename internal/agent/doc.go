// Package agent implements the per-turn decision pipeline.
//
// A turn flows through profile lookup, feature encoding, inference,
// categorical sampling of an action, rendering, safety evaluation and
// length enforcement. The pipeline never returns an error to its caller:
// inference or render failures, panics, timeouts and unsafe responses are
// each replaced with a fallback response whose metadata names the cause.
//
// The collaborators (Inference, Renderer, ProfileProvider, SafetyChecker,
// RandSource) are interfaces so tests and alternative backends can replace
// them.
package agent
