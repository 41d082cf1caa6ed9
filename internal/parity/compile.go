package parity

import (
	_ "embed"
	"fmt"
	"os"
	"path/filepath"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	cueerrors "cuelang.org/go/cue/errors"
	"cuelang.org/go/cue/token"
)

//go:embed default.cue
var defaultPolicySource []byte

// DefaultPolicySource returns the checked-in default policy file, the
// same data DefaultPolicy() mirrors as a Go value.
func DefaultPolicySource() []byte {
	return append([]byte(nil), defaultPolicySource...)
}

// CompilePolicy parses a CUE policy document into a validated Policy.
// Uses the CUE SDK's Go API directly (not a CLI subprocess). Structural
// problems are reported as *CompileError with source positions.
func CompilePolicy(src []byte, filename string) (*Policy, error) {
	ctx := cuecontext.New()
	v := ctx.CompileBytes(src, cue.Filename(filename))
	if err := v.Err(); err != nil {
		return nil, formatCUEError(err)
	}

	p := &Policy{}

	version, err := requiredInt(v, "version")
	if err != nil {
		return nil, err
	}
	p.Version = int(version)

	nameVal := v.LookupPath(cue.ParsePath("name"))
	if nameVal.Exists() {
		name, err := nameVal.String()
		if err != nil {
			return nil, formatCUEError(err)
		}
		p.Name = name
	} else {
		p.Name = filename
	}

	buffer, err := requiredFloat(v, "safety_buffer")
	if err != nil {
		return nil, err
	}
	p.SafetyBuffer = buffer

	minSamples, err := requiredInt(v, "min_samples")
	if err != nil {
		return nil, err
	}
	p.MinSamples = int(minSamples)

	gatesVal := v.LookupPath(cue.ParsePath("gates"))
	if !gatesVal.Exists() {
		return nil, &CompileError{Field: "gates", Message: "gates are required", Pos: v.Pos()}
	}
	gateIter, err := gatesVal.List()
	if err != nil {
		return nil, formatCUEError(err)
	}
	for i := 0; gateIter.Next(); i++ {
		gate, err := parseGate(gateIter.Value(), i)
		if err != nil {
			return nil, err
		}
		p.Gates = append(p.Gates, gate)
	}

	excVal := v.LookupPath(cue.ParsePath("exceptions"))
	if excVal.Exists() {
		excIter, err := excVal.List()
		if err != nil {
			return nil, formatCUEError(err)
		}
		for i := 0; excIter.Next(); i++ {
			exc, err := parseException(excIter.Value(), i)
			if err != nil {
				return nil, err
			}
			p.Exceptions = append(p.Exceptions, exc)
		}
	}

	if err := p.Validate(); err != nil {
		return nil, &CompileError{Field: "policy", Message: err.Error(), Pos: v.Pos()}
	}
	return p, nil
}

// LoadPolicyFile reads and compiles a policy file.
func LoadPolicyFile(path string) (*Policy, error) {
	src, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read policy: %w", err)
	}
	return CompilePolicy(src, filepath.Base(path))
}

func parseGate(v cue.Value, index int) (Gate, error) {
	var g Gate

	kind, err := gateString(v, index, "kind", true)
	if err != nil {
		return g, err
	}
	g.Kind = kind

	switch kind {
	case GateHard:
		if g.Metric, err = gateString(v, index, "metric", true); err != nil {
			return g, err
		}
	case GateScalar:
		if g.Metric, err = gateString(v, index, "metric", true); err != nil {
			return g, err
		}
		if g.Mode, err = gateString(v, index, "mode", true); err != nil {
			return g, err
		}
		if g.Threshold, err = gateFloat(v, index, "threshold"); err != nil {
			return g, err
		}
	case GateDistribution:
		if g.Band, err = gateFloat(v, index, "band"); err != nil {
			return g, err
		}
		if g.MinFraction, err = gateFloat(v, index, "min_fraction"); err != nil {
			return g, err
		}
		if g.OutlierBand, err = gateFloat(v, index, "outlier_band"); err != nil {
			return g, err
		}
	default:
		return g, &CompileError{
			Field:   fmt.Sprintf("gates[%d].kind", index),
			Message: fmt.Sprintf("unknown gate kind %q", kind),
			Pos:     v.Pos(),
		}
	}

	return g, nil
}

func parseException(v cue.Value, index int) (Exception, error) {
	var e Exception

	kindVal := v.LookupPath(cue.ParsePath("kind"))
	if !kindVal.Exists() {
		return e, &CompileError{
			Field:   fmt.Sprintf("exceptions[%d].kind", index),
			Message: "kind is required",
			Pos:     v.Pos(),
		}
	}
	kind, err := kindVal.String()
	if err != nil {
		return e, formatCUEError(err)
	}
	e.Kind = kind

	maxVal := v.LookupPath(cue.ParsePath("max_points"))
	if !maxVal.Exists() {
		return e, &CompileError{
			Field:   fmt.Sprintf("exceptions[%d].max_points", index),
			Message: "max_points is required",
			Pos:     v.Pos(),
		}
	}
	maxPoints, err := maxVal.Int64()
	if err != nil {
		return e, formatCUEError(err)
	}
	e.MaxPoints = int(maxPoints)

	bandVal := v.LookupPath(cue.ParsePath("band"))
	if !bandVal.Exists() {
		return e, &CompileError{
			Field:   fmt.Sprintf("exceptions[%d].band", index),
			Message: "band is required",
			Pos:     v.Pos(),
		}
	}
	band, err := bandVal.Float64()
	if err != nil {
		return e, formatCUEError(err)
	}
	e.Band = band

	return e, nil
}

func gateString(v cue.Value, index int, field string, required bool) (string, error) {
	fv := v.LookupPath(cue.ParsePath(field))
	if !fv.Exists() {
		if !required {
			return "", nil
		}
		return "", &CompileError{
			Field:   fmt.Sprintf("gates[%d].%s", index, field),
			Message: field + " is required",
			Pos:     v.Pos(),
		}
	}
	s, err := fv.String()
	if err != nil {
		return "", formatCUEError(err)
	}
	return s, nil
}

func gateFloat(v cue.Value, index int, field string) (float64, error) {
	fv := v.LookupPath(cue.ParsePath(field))
	if !fv.Exists() {
		return 0, &CompileError{
			Field:   fmt.Sprintf("gates[%d].%s", index, field),
			Message: field + " is required",
			Pos:     v.Pos(),
		}
	}
	f, err := fv.Float64()
	if err != nil {
		return 0, formatCUEError(err)
	}
	return f, nil
}

func requiredInt(v cue.Value, field string) (int64, error) {
	fv := v.LookupPath(cue.ParsePath(field))
	if !fv.Exists() {
		return 0, &CompileError{Field: field, Message: field + " is required", Pos: v.Pos()}
	}
	n, err := fv.Int64()
	if err != nil {
		return 0, formatCUEError(err)
	}
	return n, nil
}

func requiredFloat(v cue.Value, field string) (float64, error) {
	fv := v.LookupPath(cue.ParsePath(field))
	if !fv.Exists() {
		return 0, &CompileError{Field: field, Message: field + " is required", Pos: v.Pos()}
	}
	f, err := fv.Float64()
	if err != nil {
		return 0, formatCUEError(err)
	}
	return f, nil
}

// CompileError is a policy compilation error with source position.
type CompileError struct {
	Field   string
	Message string
	Pos     token.Pos
}

func (e *CompileError) Error() string {
	if e.Pos.IsValid() {
		return fmt.Sprintf("%s:%d:%d: %s: %s",
			e.Pos.Filename(), e.Pos.Line(), e.Pos.Column(),
			e.Field, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// formatCUEError extracts position info from CUE errors.
func formatCUEError(err error) error {
	if err == nil {
		return nil
	}
	errs := cueerrors.Errors(err)
	if len(errs) == 0 {
		return err
	}
	first := errs[0]
	if positions := cueerrors.Positions(first); len(positions) > 0 {
		return &CompileError{
			Field:   "cue",
			Message: first.Error(),
			Pos:     positions[0],
		}
	}
	return err
}
