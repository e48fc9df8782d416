// Package symbol resolves user-supplied locations against the symbol
// tables of the modules mapped into attached processes.
//
// One ModuleSymbols provider exists per distinct binary, identified by
// build ID and shared through an Index by every process mapping that
// build. ProcessSymbols tracks the modules of one running process and
// translates module-relative addresses through each mapping's load
// address. TargetSymbols validates symbols for a target before any
// process exists.
package symbol
