package main

import (
	"strings"

	"github.com/structrun/structrun/engine"
)

// modelCapabilities returns the engine.Capabilities descriptor for model,
// narrowing engine.DefaultCapabilities' permissive fallback for the two
// provider families this CLI wires. Anthropic's Claude models accept no frequency/presence penalty
// and have no reasoning-effort knob; everything else defers to the
// permissive default so an unrecognised model still runs.
func modelCapabilities(model string) engine.Capabilities {
	caps := engine.DefaultCapabilities(model)
	if strings.HasPrefix(model, "claude") {
		delete(caps.Supported, "frequency_penalty")
		delete(caps.Supported, "presence_penalty")
		delete(caps.Supported, "reasoning_effort")
		caps.SupportsWebSearch = false
	}
	return caps
}
