package symbol

import (
	"sort"

	"github.com/derekparker/trie"

	"github.com/go-tether/tether/pkg/locspec"
)

// LineRow is one line-table row of a function. Addresses are
// module-relative.
type LineRow struct {
	Address uint64 `yaml:"address"`
	Line    int    `yaml:"line"`
	Column  int    `yaml:"column,omitempty"`
	// PrologueEnd marks the row the compiler designated as the end of
	// the function's prologue.
	PrologueEnd bool `yaml:"prologueend,omitempty"`
}

// FuncSym describes one function definition: a qualified name, the
// module-relative address range [Entry, End) and the line rows covering
// it.
type FuncSym struct {
	Name  string    `yaml:"name"`
	File  string    `yaml:"file,omitempty"`
	Entry uint64    `yaml:"entry"`
	End   uint64    `yaml:"end"`
	Lines []LineRow `yaml:"lines,omitempty"`
}

// prologueEnd returns the module-relative address execution reaches
// once the function's prologue has run.
func (f *FuncSym) prologueEnd() uint64 {
	for _, row := range f.Lines {
		if row.PrologueEnd {
			return row.Address
		}
	}
	// No marker in the line table, settle for the first statement past
	// the entry row.
	for _, row := range f.Lines {
		if row.Address > f.Entry && row.Address < f.End {
			return row.Address
		}
	}
	return f.Entry
}

// rowForAddress returns the row covering rel: the last row at or before
// it.
func (f *FuncSym) rowForAddress(rel uint64) (LineRow, bool) {
	i := sort.Search(len(f.Lines), func(i int) bool { return f.Lines[i].Address > rel })
	if i == 0 {
		return LineRow{}, false
	}
	return f.Lines[i-1], true
}

// rowForLine returns the row code for line starts at. When the exact
// line has no code the next line inside the function that does is used,
// so a breakpoint on a blank or comment line lands on the statement
// below it instead of disappearing.
func (f *FuncSym) rowForLine(line int) (LineRow, bool) {
	best := -1
	for i, row := range f.Lines {
		if row.Line < line {
			continue
		}
		if best == -1 || row.Line < f.Lines[best].Line {
			best = i
		}
	}
	if best == -1 {
		return LineRow{}, false
	}
	return f.Lines[best], true
}

// VarSym describes one variable definition. Unlocated variables have no
// statically known address, for example thread-local data.
type VarSym struct {
	Name      string `yaml:"name"`
	Addr      uint64 `yaml:"addr,omitempty"`
	Unlocated bool   `yaml:"unlocated,omitempty"`
}

// TableData is the raw symbol listing a Table is built from.
type TableData struct {
	Name      string    `yaml:"name"`
	BuildID   string    `yaml:"buildid"`
	Functions []FuncSym `yaml:"functions,omitempty"`
	Variables []VarSym  `yaml:"variables,omitempty"`
	Files     []string  `yaml:"files,omitempty"`
}

// Table is an immutable in-memory symbol table for one binary,
// implementing ModuleSymbols. Construct with NewTable or LoadTable.
type Table struct {
	name    string
	buildID string
	funcs   []FuncSym
	vars    []VarSym
	files   []string

	funcIndex *trie.Trie       // qualified name -> []int into funcs
	fileIndex *trie.Trie       // reversed path -> full path
	varIndex  map[string][]int // name -> indices into vars
}

// NewTable builds the lookup structures for data. The input slices are
// not retained.
func NewTable(data TableData) *Table {
	t := &Table{
		name:      data.Name,
		buildID:   data.BuildID,
		funcs:     append([]FuncSym(nil), data.Functions...),
		vars:      append([]VarSym(nil), data.Variables...),
		funcIndex: trie.New(),
		fileIndex: trie.New(),
		varIndex:  make(map[string][]int),
	}

	sort.Slice(t.funcs, func(i, j int) bool { return t.funcs[i].Entry < t.funcs[j].Entry })
	byName := make(map[string][]int)
	fileSet := make(map[string]bool)
	for i := range t.funcs {
		f := &t.funcs[i]
		sort.Slice(f.Lines, func(a, b int) bool { return f.Lines[a].Address < f.Lines[b].Address })
		byName[f.Name] = append(byName[f.Name], i)
		if f.File != "" {
			fileSet[f.File] = true
		}
	}
	for name, idxs := range byName {
		t.funcIndex.Add(name, idxs)
	}

	for i, v := range t.vars {
		t.varIndex[v.Name] = append(t.varIndex[v.Name], i)
	}

	for _, file := range data.Files {
		fileSet[file] = true
	}
	for file := range fileSet {
		t.files = append(t.files, file)
	}
	sort.Strings(t.files)
	for _, file := range t.files {
		t.fileIndex.Add(reversePath(file), file)
	}

	return t
}

// Status implements ModuleSymbols.
func (t *Table) Status() ModuleStatus {
	return ModuleStatus{
		Name:      t.name,
		BuildID:   t.buildID,
		Loaded:    true,
		Functions: len(t.funcs),
		Variables: len(t.vars),
		Files:     len(t.files),
	}
}

// ResolveInputLocation implements ModuleSymbols.
func (t *Table) ResolveInputLocation(ctx Context, input locspec.InputLocation, opts ResolveOptions) []Location {
	opts.mustBeValid()
	switch input := input.(type) {
	case locspec.AddrLocation:
		return []Location{t.resolveAddr(ctx, input.Addr, opts)}
	case locspec.NameLocation:
		return t.resolveName(ctx, input.Ident, opts)
	case locspec.LineLocation:
		return t.resolveLine(ctx, input.File, input.Line, opts)
	}
	return nil
}

func (t *Table) resolveAddr(ctx Context, addr uint64, opts ResolveOptions) Location {
	if !opts.Symbolize {
		return AddressLocation(ctx, addr)
	}
	rel := ctx.AbsToRel(addr)
	f := t.functionForRel(rel)
	if f == nil {
		// Symbolization was attempted, the table just has nothing here.
		return Location{State: LocationSymbolized, Address: addr, Context: ctx}
	}
	if opts.SkipPrologue && rel == f.Entry {
		rel = f.prologueEnd()
	}
	return t.symbolizedAt(ctx, f, rel)
}

func (t *Table) resolveName(ctx Context, ident locspec.Identifier, opts ResolveOptions) []Location {
	var out []Location
	name := ident.FullName()
	if node, ok := t.funcIndex.Find(name); ok {
		for _, i := range node.Meta().([]int) {
			f := &t.funcs[i]
			rel := f.Entry
			if opts.SkipPrologue {
				rel = f.prologueEnd()
			}
			if !opts.Symbolize {
				out = append(out, AddressLocation(ctx, ctx.RelToAbs(rel)))
				continue
			}
			out = append(out, t.symbolizedAt(ctx, f, rel))
		}
	}
	for _, i := range t.varIndex[name] {
		v := t.vars[i]
		if v.Unlocated {
			out = append(out, Location{State: LocationUnlocatedVariable, Variable: v.Name, Context: ctx})
			continue
		}
		if !opts.Symbolize {
			out = append(out, AddressLocation(ctx, ctx.RelToAbs(v.Addr)))
			continue
		}
		out = append(out, Location{State: LocationSymbolized, Address: ctx.RelToAbs(v.Addr), Variable: v.Name, Context: ctx})
	}
	return out
}

func (t *Table) resolveLine(ctx Context, file string, line int, opts ResolveOptions) []Location {
	var out []Location
	for _, match := range t.FindFileMatches(file) {
		for i := range t.funcs {
			f := &t.funcs[i]
			if f.File != match {
				continue
			}
			row, ok := f.rowForLine(line)
			if !ok {
				continue
			}
			rel := row.Address
			if opts.SkipPrologue && rel == f.Entry {
				rel = f.prologueEnd()
			}
			if !opts.Symbolize {
				out = append(out, AddressLocation(ctx, ctx.RelToAbs(rel)))
				continue
			}
			out = append(out, t.symbolizedAt(ctx, f, rel))
		}
	}
	return out
}

// symbolizedAt builds the symbolized location for the module-relative
// address rel, known to be inside f.
func (t *Table) symbolizedAt(ctx Context, f *FuncSym, rel uint64) Location {
	loc := Location{
		State:    LocationSymbolized,
		Address:  ctx.RelToAbs(rel),
		File:     f.File,
		Function: f.Name,
		Context:  ctx,
	}
	if row, ok := f.rowForAddress(rel); ok {
		loc.Line = row.Line
		loc.Column = row.Column
	}
	return loc
}

// LineForAddress implements ModuleSymbols.
func (t *Table) LineForAddress(ctx Context, addr uint64) (LineDetails, bool) {
	rel := ctx.AbsToRel(addr)
	f := t.functionForRel(rel)
	if f == nil {
		return LineDetails{}, false
	}
	ld := LineDetails{File: f.File, Function: f.Name}
	if row, ok := f.rowForAddress(rel); ok {
		ld.Line = row.Line
	}
	return ld, true
}

// FindFileMatches implements ModuleSymbols. The name matches any table
// path that ends with it, starting at a path component boundary:
// "widget.cc" matches "lib/widget.cc" but not "gadget.cc".
func (t *Table) FindFileMatches(name string) []string {
	if name == "" {
		return nil
	}
	rev := reversePath(name)
	var out []string
	for _, key := range t.fileIndex.PrefixSearch(rev) {
		if len(key) > len(rev) && key[len(rev)] != '/' {
			continue
		}
		if node, ok := t.fileIndex.Find(key); ok {
			out = append(out, node.Meta().(string))
		}
	}
	sort.Strings(out)
	return out
}

// FuncsWithPrefix implements ModuleSymbols.
func (t *Table) FuncsWithPrefix(prefix string) []string {
	if !t.funcIndex.HasKeysWithPrefix(prefix) {
		return nil
	}
	names := t.funcIndex.PrefixSearch(prefix)
	sort.Strings(names)
	return names
}

func (t *Table) functionForRel(rel uint64) *FuncSym {
	i := sort.Search(len(t.funcs), func(i int) bool { return t.funcs[i].Entry > rel })
	if i == 0 {
		return nil
	}
	f := &t.funcs[i-1]
	if rel >= f.End {
		return nil
	}
	return f
}

func reversePath(s string) string {
	b := []byte(s)
	for i, j := 0, len(b)-1; i < j; i, j = i+1, j-1 {
		b[i], b[j] = b[j], b[i]
	}
	return string(b)
}
