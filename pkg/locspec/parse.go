package locspec

import (
	"fmt"
	"strconv"
	"strings"
)

// Parse turns locStr into an InputLocation.
func Parse(locStr string) (InputLocation, error) {
	rest := locStr

	malformed := func(reason string) error {
		return fmt.Errorf("malformed location %q: %s", locStr, reason)
	}

	if len(rest) == 0 {
		return nil, malformed("empty string")
	}

	if rest[0] == '*' {
		addrExpr := rest[1:]
		if addrExpr == "" {
			return nil, malformed("missing address expression")
		}
		addr, err := strconv.ParseUint(addrExpr, 0, 64)
		if err != nil {
			return nil, malformed(err.Error())
		}
		return AddrLocation{Addr: addr}, nil
	}

	if file, line, ok := splitFileLine(rest); ok {
		if file == "" {
			return nil, malformed("line number requires a file name")
		}
		if line < 1 {
			return nil, malformed("line numbers start at 1")
		}
		return LineLocation{File: file, Line: line}, nil
	}

	if _, err := strconv.Atoi(rest); err == nil {
		return nil, malformed("line number requires a file name")
	}

	ident := ParseIdentifier(rest)
	if ident.Empty() {
		return nil, malformed("empty identifier")
	}
	return NameLocation{Ident: ident}, nil
}

// splitFileLine splits "file:line" on the last colon. Only the last
// colon counts so Windows drive letters survive, and a colon that is
// part of a "::" scope separator never does.
func splitFileLine(s string) (file string, line int, ok bool) {
	i := strings.LastIndexByte(s, ':')
	if i < 0 {
		return "", 0, false
	}
	if i > 0 && s[i-1] == ':' {
		return "", 0, false
	}
	n, err := strconv.Atoi(s[i+1:])
	if err != nil {
		return "", 0, false
	}
	return s[:i], n, true
}
