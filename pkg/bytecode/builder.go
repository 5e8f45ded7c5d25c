package bytecode

import "fmt"

// Builder assembles a FunctionRecord instruction by instruction, resolving
// symbolic labels into version-correct jump arguments. It is how tools and
// tests produce records without a loader.
type Builder struct {
	rec     *FunctionRecord
	version Version
	labels  map[string]int
	pending []string // labels waiting for the next instruction
	fixups  []fixup
	err     error
}

type fixup struct {
	at    int
	label string
}

// NewBuilder starts a record for the named function.
func NewBuilder(name, version string) *Builder {
	b := &Builder{
		rec:    &FunctionRecord{Name: name, Version: version},
		labels: make(map[string]int),
	}
	v, err := ParseVersion(version)
	if err != nil {
		b.err = err
	}
	b.version = v
	return b
}

// Params declares positional parameters. It must be called before any
// other local is declared.
func (b *Builder) Params(names ...string) *Builder {
	if len(b.rec.VarNames) != 0 && b.err == nil {
		b.err = fmt.Errorf("builder: parameters must be declared first")
	}
	b.rec.VarNames = append(b.rec.VarNames, names...)
	b.rec.ArgCount = len(names)
	return b
}

// TypedParams declares positional parameters with declared type names,
// given as alternating name, type pairs.
func (b *Builder) TypedParams(pairs ...string) *Builder {
	var names, typs []string
	for i := 0; i+1 < len(pairs); i += 2 {
		names = append(names, pairs[i])
		typs = append(typs, pairs[i+1])
	}
	b.Params(names...)
	b.rec.ParamTypes = typs
	return b
}

// Record exposes the record under construction for fields the builder has
// no helper for.
func (b *Builder) Record() *FunctionRecord {
	return b.rec
}

// Local returns the varnames index of name, declaring it when needed.
func (b *Builder) Local(name string) int {
	return indexOrAppend(&b.rec.VarNames, name)
}

// Name returns the names index of name, declaring it when needed.
func (b *Builder) Name(name string) int {
	return indexOrAppend(&b.rec.Names, name)
}

// Cell declares a cell variable and returns its cell index.
func (b *Builder) Cell(name string) int {
	return indexOrAppend(&b.rec.CellVars, name)
}

// Free declares a free variable and returns its index in the combined
// cell and free space.
func (b *Builder) Free(name string) int {
	return len(b.rec.CellVars) + indexOrAppend(&b.rec.FreeVars, name)
}

// Const adds c to the constant pool and returns its index. Scalar
// constants are shared.
func (b *Builder) Const(c Constant) int {
	if c.Kind != ConstCode && c.Kind != ConstTuple {
		for i, existing := range b.rec.Consts {
			if existing.Kind == c.Kind && existing.String() == c.String() {
				return i
			}
		}
	}
	b.rec.Consts = append(b.rec.Consts, c)
	return len(b.rec.Consts) - 1
}

// Mark attaches label to the next emitted instruction.
func (b *Builder) Mark(label string) *Builder {
	b.pending = append(b.pending, label)
	return b
}

// Emit appends an instruction with a literal argument.
func (b *Builder) Emit(op string, arg int) *Builder {
	off := len(b.rec.Instructions)
	for _, l := range b.pending {
		if _, dup := b.labels[l]; dup && b.err == nil {
			b.err = fmt.Errorf("builder: label %q defined twice", l)
		}
		b.labels[l] = off
	}
	b.pending = b.pending[:0]
	b.rec.Instructions = append(b.rec.Instructions, RawInstruction{Op: op, Arg: arg, Offset: off})
	return b
}

// EmitJump appends a jump whose argument is resolved from label at Build.
func (b *Builder) EmitJump(op, label string) *Builder {
	b.fixups = append(b.fixups, fixup{at: len(b.rec.Instructions), label: label})
	return b.Emit(op, 0)
}

// LoadConst emits LOAD_CONST for c.
func (b *Builder) LoadConst(c Constant) *Builder {
	return b.Emit("LOAD_CONST", b.Const(c))
}

// LoadFast emits LOAD_FAST for the named local.
func (b *Builder) LoadFast(name string) *Builder {
	return b.Emit("LOAD_FAST", b.Local(name))
}

// StoreFast emits STORE_FAST for the named local.
func (b *Builder) StoreFast(name string) *Builder {
	return b.Emit("STORE_FAST", b.Local(name))
}

// LoadGlobal emits LOAD_GLOBAL for name.
func (b *Builder) LoadGlobal(name string) *Builder {
	return b.Emit("LOAD_GLOBAL", b.Name(name))
}

// LoadMethod emits LOAD_METHOD for name.
func (b *Builder) LoadMethod(name string) *Builder {
	return b.Emit("LOAD_METHOD", b.Name(name))
}

// LoadAttr emits LOAD_ATTR for name.
func (b *Builder) LoadAttr(name string) *Builder {
	return b.Emit("LOAD_ATTR", b.Name(name))
}

// Op emits an argument-less instruction.
func (b *Builder) Op(op string) *Builder {
	return b.Emit(op, 0)
}

// Build resolves labels and returns the finished record.
func (b *Builder) Build() (*FunctionRecord, error) {
	if b.err != nil {
		return nil, b.err
	}
	if len(b.pending) != 0 {
		return nil, fmt.Errorf("builder: labels %v mark no instruction", b.pending)
	}
	for _, f := range b.fixups {
		target, ok := b.labels[f.label]
		if !ok {
			return nil, fmt.Errorf("builder: undefined label %q", f.label)
		}
		raw := &b.rec.Instructions[f.at]
		op, ok := LookupOp(raw.Op, b.version)
		if !ok || !op.IsJump() {
			return nil, fmt.Errorf("builder: %s at %d is not a jump", raw.Op, f.at)
		}
		raw.Arg = EncodeJumpArg(op, target, f.at, b.version)
		b.rec.Instructions[target].JumpTarget = true
	}
	return b.rec, nil
}

// MustBuild is Build for callers that construct records from literals.
func (b *Builder) MustBuild() *FunctionRecord {
	rec, err := b.Build()
	if err != nil {
		panic(err)
	}
	return rec
}

func indexOrAppend(list *[]string, name string) int {
	for i, s := range *list {
		if s == name {
			return i
		}
	}
	*list = append(*list, name)
	return len(*list) - 1
}
