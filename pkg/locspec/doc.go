// Package locspec describes program locations as requested by the user,
// before symbol resolution.
//
// Location string examples:
//
// locStr ::= <filename>:<line> | <name> | *<address>
// * <filename> can be the full path of a file or just a trailing suffix
//   of path components
// * <name> ::= [::]<part>{::<part>} is a possibly qualified symbol name
// * *<address> is a literal address, decimal or hexadecimal
//
// Resolution of an input location against loaded modules lives in
// pkg/symbol; this package only defines the value types and the lexical
// expansion of bare names into qualified candidates.
package locspec
