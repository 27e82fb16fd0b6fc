// Package version compares dotted plugin version strings.
//
// Versions are split on '.', ',' and '-' and compared component by
// component. Missing trailing components count as "0", so "1.0" and
// "1.0.0" are equal.
package version

import (
	"errors"
	"fmt"
	"math/big"
	"regexp"
	"strings"
)

// ErrInvalidVersion is returned when a version string cannot be compared.
var ErrInvalidVersion = errors.New("invalid version string")

var (
	validPattern     = regexp.MustCompile(`^[\w\d]+([.,-][\w\d]+)*$`)
	delimiterPattern = regexp.MustCompile(`[.,-]`)
	numericPattern   = regexp.MustCompile(`^\d+$`)
)

// normalize strips whitespace; an empty version is treated as "0".
func normalize(v string) string {
	v = strings.Join(strings.Fields(v), "")
	if v == "" {
		return "0"
	}
	return v
}

// Valid reports whether v can be compared.
func Valid(v string) bool {
	return validPattern.MatchString(normalize(v))
}

// Compare returns -1, 0 or 1 when a is lower than, equal to or greater
// than b. It returns ErrInvalidVersion if either side is malformed.
func Compare(a, b string) (int, error) {
	a, b = normalize(a), normalize(b)
	if !validPattern.MatchString(a) || !validPattern.MatchString(b) {
		return 0, fmt.Errorf("version %q cannot be compared to %q: %w", a, b, ErrInvalidVersion)
	}

	as := delimiterPattern.Split(a, -1)
	bs := delimiterPattern.Split(b, -1)
	n := max(len(as), len(bs))

	for i := 0; i < n; i++ {
		ca, cb := "0", "0"
		if i < len(as) {
			ca = as[i]
		}
		if i < len(bs) {
			cb = bs[i]
		}
		if r := compareComponent(ca, cb); r != 0 {
			return r, nil
		}
	}
	return 0, nil
}

// MustCompare is like Compare but panics on malformed input.
func MustCompare(a, b string) int {
	r, err := Compare(a, b)
	if err != nil {
		panic(err)
	}
	return r
}

func compareComponent(a, b string) int {
	if a == b {
		return 0
	}

	aNum, bNum := numericPattern.MatchString(a), numericPattern.MatchString(b)
	if aNum && bNum {
		x, _ := new(big.Int).SetString(a, 10)
		y, _ := new(big.Int).SetString(b, 10)
		return x.Cmp(y)
	}

	// "0" outranks any qualifier: 2.3-alpha < 2.3.0
	if a == "0" {
		return 1
	}
	if b == "0" {
		return -1
	}

	// 1.2.3 < 1.2.3a
	if aNum && strings.HasPrefix(b, a) {
		return -1
	}
	if bNum && strings.HasPrefix(a, b) {
		return 1
	}

	return sign(strings.Compare(strings.ToLower(a), strings.ToLower(b)))
}

func sign(n int) int {
	switch {
	case n < 0:
		return -1
	case n > 0:
		return 1
	default:
		return 0
	}
}
