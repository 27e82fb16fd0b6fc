package plugin

import (
	"strings"

	"github.com/dshills/plughost/internal/version"
)

// Compare orders plugins by key and then by version. A plugin without a
// key sorts before any plugin with one. Versions that cannot be parsed
// sort before valid ones and compare equal to each other.
func Compare(a, b *Plugin) int {
	ak, bk := a.Key(), b.Key()
	switch {
	case ak == "" && bk == "":
		return 0
	case ak == "":
		return -1
	case bk == "":
		return 1
	}
	if c := strings.Compare(ak, bk); c != 0 {
		return c
	}

	av, bv := a.Version(), b.Version()
	aValid, bValid := version.Valid(av), version.Valid(bv)
	switch {
	case !aValid && !bValid:
		return 0
	case !aValid:
		return -1
	case !bValid:
		return 1
	}
	return version.MustCompare(av, bv)
}

// Compare is shorthand for Compare(p, other).
func (p *Plugin) Compare(other *Plugin) int {
	return Compare(p, other)
}
