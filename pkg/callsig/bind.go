package callsig

import "fmt"

// SourceKind says where a bound parameter takes its value from.
type SourceKind uint8

const (
	FromPositional    SourceKind = iota // Index is the positional argument
	FromKeyword                         // Index is the keyword argument
	FromDefault                         // The declared default
	FromNoValue                         // The runtime's "no value" sentinel
	FromVarPositional                   // Indices are the surplus positionals
	FromVarKeyword                      // Indices are the surplus keywords
)

// ArgSource is the binding of one declared parameter.
type ArgSource struct {
	Kind    SourceKind
	Index   int
	Indices []int
}

// Plan is the result of binding a call site shape against a signature. Args
// has one entry per declared parameter, in declaration order.
type Plan struct {
	Sig  *Signature
	Args []ArgSource
}

// BindReason classifies a binding failure.
type BindReason uint8

const (
	TooManyPositional BindReason = iota
	MissingArgument
	UnexpectedKeyword
	MultipleValues
	PositionalOnlyAsKeyword
)

var bindReasonText = [...]string{
	"too many positional arguments",
	"missing required argument",
	"unexpected keyword argument",
	"multiple values for argument",
	"positional-only argument passed as keyword",
}

// BindError reports why a call site does not fit a signature.
type BindError struct {
	Sig    string
	Reason BindReason
	Name   string
}

func (e *BindError) Error() string {
	if e.Name != "" {
		return fmt.Sprintf("%s: %s %q", e.Sig, bindReasonText[e.Reason], e.Name)
	}
	return fmt.Sprintf("%s: %s", e.Sig, bindReasonText[e.Reason])
}

// Bind matches npos positional arguments followed by keyword arguments named
// kwnames against s.
func (s *Signature) Bind(npos int, kwnames []string) (*Plan, error) {
	plan := &Plan{Sig: s, Args: make([]ArgSource, len(s.Params))}
	filled := make([]bool, len(s.Params))
	varPos, varKw := -1, -1
	var positional []int
	for i, p := range s.Params {
		switch p.Kind {
		case PositionalOnly, PositionalOrKeyword:
			positional = append(positional, i)
		case VarPositional:
			varPos = i
		case VarKeyword:
			varKw = i
		}
	}
	fail := func(r BindReason, name string) (*Plan, error) {
		return nil, &BindError{Sig: s.QualifiedName(), Reason: r, Name: name}
	}

	var extraPos []int
	for a := 0; a < npos; a++ {
		if a < len(positional) {
			pi := positional[a]
			plan.Args[pi] = ArgSource{Kind: FromPositional, Index: a}
			filled[pi] = true
			continue
		}
		if varPos < 0 {
			return fail(TooManyPositional, "")
		}
		extraPos = append(extraPos, a)
	}

	var extraKw []int
	for k, name := range kwnames {
		pi := s.paramIndex(name)
		switch {
		case pi >= 0 && s.Params[pi].Kind == PositionalOnly:
			if varKw < 0 {
				return fail(PositionalOnlyAsKeyword, name)
			}
			extraKw = append(extraKw, k)
		case pi >= 0 && (s.Params[pi].Kind == PositionalOrKeyword || s.Params[pi].Kind == KeywordOnly):
			if filled[pi] {
				return fail(MultipleValues, name)
			}
			plan.Args[pi] = ArgSource{Kind: FromKeyword, Index: k}
			filled[pi] = true
		case varKw >= 0:
			for _, prev := range extraKw {
				if kwnames[prev] == name {
					return fail(MultipleValues, name)
				}
			}
			extraKw = append(extraKw, k)
		default:
			return fail(UnexpectedKeyword, name)
		}
	}

	for i, p := range s.Params {
		switch {
		case i == varPos:
			plan.Args[i] = ArgSource{Kind: FromVarPositional, Indices: extraPos}
		case i == varKw:
			plan.Args[i] = ArgSource{Kind: FromVarKeyword, Indices: extraKw}
		case filled[i]:
		case p.Default != nil:
			plan.Args[i] = ArgSource{Kind: FromDefault}
		case p.Nullable:
			plan.Args[i] = ArgSource{Kind: FromNoValue}
		default:
			return fail(MissingArgument, p.Name)
		}
	}
	return plan, nil
}

func (s *Signature) paramIndex(name string) int {
	for i, p := range s.Params {
		if p.Name == name && p.Kind != VarPositional && p.Kind != VarKeyword {
			return i
		}
	}
	return -1
}

// ArgIndex maps the source of a single-valued parameter to its index in the
// combined argument list (positionals first, then keywords). ok is false for
// defaults, "no value" and var captures.
func (src ArgSource) ArgIndex(npos int) (int, bool) {
	switch src.Kind {
	case FromPositional:
		return src.Index, true
	case FromKeyword:
		return npos + src.Index, true
	}
	return 0, false
}
