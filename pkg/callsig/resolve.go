package callsig

import (
	"errors"
	"fmt"

	"github.com/chazu/pyaot/pkg/types"
)

var (
	// ErrNoMatch means no candidate accepts the call site; callers fall back
	// to the dynamic protocol.
	ErrNoMatch = errors.New("no matching signature")

	// ErrAmbiguousOverload means two or more candidates match equally well.
	ErrAmbiguousOverload = errors.New("ambiguous overload")
)

// Match is a chosen overload with its binding plan.
type Match struct {
	Sig  *Signature
	Plan *Plan
}

// Resolve picks the overload for a call site. argTypes holds the static
// types of the positional arguments followed by the keyword arguments; a nil
// entry is an unknown type and only fits object parameters.
func Resolve(candidates []*Signature, argTypes []*types.Type, kwnames []string) (*Match, error) {
	npos := len(argTypes) - len(kwnames)
	if npos < 0 {
		return nil, fmt.Errorf("%w: %d argument types for %d keywords", ErrNoMatch, len(argTypes), len(kwnames))
	}

	var matches []*Match
	var lastErr error
	for _, sig := range candidates {
		plan, err := sig.Bind(npos, kwnames)
		if err != nil {
			lastErr = err
			continue
		}
		if err := checkTypes(plan, argTypes, npos); err != nil {
			lastErr = err
			continue
		}
		matches = append(matches, &Match{Sig: sig, Plan: plan})
	}

	switch len(matches) {
	case 0:
		if lastErr != nil {
			return nil, fmt.Errorf("%w: %w", ErrNoMatch, lastErr)
		}
		return nil, ErrNoMatch
	case 1:
		return matches[0], nil
	}

	var best []*Match
	for _, m := range matches {
		dominated := false
		for _, other := range matches {
			if other != m && moreSpecific(other, m, len(argTypes), npos) && !moreSpecific(m, other, len(argTypes), npos) {
				dominated = true
				break
			}
		}
		if !dominated {
			best = append(best, m)
		}
	}
	if len(best) != 1 {
		names := make([]string, len(best))
		for i, m := range best {
			names[i] = m.Sig.String()
		}
		return nil, fmt.Errorf("%w: %v", ErrAmbiguousOverload, names)
	}
	return best[0], nil
}

func checkTypes(plan *Plan, argTypes []*types.Type, npos int) error {
	for i, src := range plan.Args {
		ai, ok := src.ArgIndex(npos)
		if !ok {
			continue
		}
		p := plan.Sig.Params[i]
		at := argTypes[ai]
		if at == nil {
			at = types.Object
		}
		if p.Nullable && types.Same(at, types.None) {
			continue
		}
		if !types.IsSubtype(at, plan.Sig.ParamType(i)) {
			return fmt.Errorf("%s: argument %q is %s, declared %s", plan.Sig.QualifiedName(), p.Name, at, plan.Sig.ParamType(i))
		}
	}
	return nil
}

// declaredTypes maps each call-site argument to the parameter type that
// receives it; surplus arguments captured by var parameters are object.
func declaredTypes(m *Match, nargs, npos int) []*types.Type {
	out := make([]*types.Type, nargs)
	for i := range out {
		out[i] = types.Object
	}
	for i, src := range m.Plan.Args {
		if ai, ok := src.ArgIndex(npos); ok {
			out[ai] = m.Sig.ParamType(i)
		}
	}
	return out
}

// moreSpecific reports whether every argument lands in a parameter of a at
// least as narrow as its parameter in b.
func moreSpecific(a, b *Match, nargs, npos int) bool {
	ta, tb := declaredTypes(a, nargs, npos), declaredTypes(b, nargs, npos)
	for i := range ta {
		if !types.IsSubtype(ta[i], tb[i]) {
			return false
		}
	}
	return true
}
