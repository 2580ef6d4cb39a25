package engine

import (
	"fmt"

	"github.com/structrun/structrun/errs"
)

// Range bounds a numeric parameter's admissible values.
type Range struct {
	Min, Max float64
}

// Capabilities is the model capability descriptor parameter admission
// checks against: which sampling/reasoning parameters the model accepts
// and in what ranges.
type Capabilities struct {
	Model              string
	SupportsStructured bool
	SupportsWebSearch  bool
	Supported          map[string]Range // empty Range => no bounds check beyond presence
}

// DefaultCapabilities returns a permissive descriptor covering the six
// admissible request parameters, suitable as a fallback for unknown
// models.
func DefaultCapabilities(model string) Capabilities {
	return Capabilities{
		Model:              model,
		SupportsStructured: true,
		SupportsWebSearch:  true,
		Supported: map[string]Range{
			"temperature":       {Min: 0, Max: 2},
			"max_output_tokens": {Min: 1, Max: 1 << 20},
			"top_p":             {Min: 0, Max: 1},
			"frequency_penalty": {Min: -2, Max: 2},
			"presence_penalty":  {Min: -2, Max: 2},
			"reasoning_effort":  {},
		},
	}
}

// Params carries the sampling/reasoning parameters of a run: temperature,
// max_output_tokens, top_p, frequency_penalty, presence_penalty, and
// reasoning_effort.
type Params struct {
	Temperature      *float64
	MaxOutputTokens  *int
	TopP             *float64
	FrequencyPenalty *float64
	PresencePenalty  *float64
	ReasoningEffort  string
}

// Admitted is the subset of Params that passed capability admission, plus
// any drop warnings.
type Admitted struct {
	Params   Params
	Warnings []string
}

// AdmitParams validates each parameter against caps, dropping unsupported
// ones with a warning and failing PARAM_INVALID on an out-of-range value
// for a supported one.
func AdmitParams(caps Capabilities, p Params) (Admitted, error) {
	out := Admitted{Params: Params{ReasoningEffort: p.ReasoningEffort}}

	check := func(name string, value *float64) (*float64, error) {
		if value == nil {
			return nil, nil
		}
		rng, ok := caps.Supported[name]
		if !ok {
			out.Warnings = append(out.Warnings, fmt.Sprintf("parameter %q is not supported by model %q and will be ignored", name, caps.Model))
			return nil, nil
		}
		if rng != (Range{}) && (*value < rng.Min || *value > rng.Max) {
			return nil, errs.New(errs.KindParamInvalid, "parameter %q value %v is out of range [%v, %v] for model %q",
				name, *value, rng.Min, rng.Max, caps.Model).With("param", name).With("value", *value)
		}
		return value, nil
	}

	var err error
	if out.Params.Temperature, err = check("temperature", p.Temperature); err != nil {
		return Admitted{}, err
	}
	if out.Params.TopP, err = check("top_p", p.TopP); err != nil {
		return Admitted{}, err
	}
	if out.Params.FrequencyPenalty, err = check("frequency_penalty", p.FrequencyPenalty); err != nil {
		return Admitted{}, err
	}
	if out.Params.PresencePenalty, err = check("presence_penalty", p.PresencePenalty); err != nil {
		return Admitted{}, err
	}

	if p.MaxOutputTokens != nil {
		rng, ok := caps.Supported["max_output_tokens"]
		if !ok {
			out.Warnings = append(out.Warnings, fmt.Sprintf("parameter %q is not supported by model %q and will be ignored", "max_output_tokens", caps.Model))
		} else {
			v := float64(*p.MaxOutputTokens)
			if rng != (Range{}) && (v < rng.Min || v > rng.Max) {
				return Admitted{}, errs.New(errs.KindParamInvalid, "parameter %q value %d is out of range [%v, %v] for model %q",
					"max_output_tokens", *p.MaxOutputTokens, rng.Min, rng.Max, caps.Model)
			}
			out.Params.MaxOutputTokens = p.MaxOutputTokens
		}
	}

	if p.ReasoningEffort != "" {
		if _, ok := caps.Supported["reasoning_effort"]; !ok {
			out.Warnings = append(out.Warnings, fmt.Sprintf("parameter %q is not supported by model %q and will be ignored", "reasoning_effort", caps.Model))
			out.Params.ReasoningEffort = ""
		}
	}

	return out, nil
}
