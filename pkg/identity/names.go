package identity

import (
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/haasonsaas/areuok/pkg/apperr"
	"golang.org/x/text/cases"
	"golang.org/x/text/unicode/norm"
)

// NamePolicy decides which device names are acceptable and which of them
// collide. Names are always trimmed and NFC-normalized; unless CaseSensitive
// is set, the comparison key is additionally Unicode case-folded.
type NamePolicy struct {
	CaseSensitive bool
	MinLength     int
	MaxLength     int
	Reserved      []string
}

// Canonical returns the display form stored for name.
func (p NamePolicy) Canonical(name string) string {
	return norm.NFC.String(strings.TrimSpace(name))
}

// Key returns the uniqueness key for name.
func (p NamePolicy) Key(name string) string {
	canonical := p.Canonical(name)
	if p.CaseSensitive {
		return canonical
	}
	return norm.NFC.String(cases.Fold().String(canonical))
}

// Normalize validates name and returns its display form and key.
func (p NamePolicy) Normalize(name string) (string, string, error) {
	canonical := p.Canonical(name)
	n := utf8.RuneCountInString(canonical)
	if n == 0 || (p.MinLength > 0 && n < p.MinLength) || (p.MaxLength > 0 && n > p.MaxLength) {
		return "", "", apperr.InvalidInput("device_name")
	}
	for _, r := range canonical {
		if unicode.IsControl(r) {
			return "", "", apperr.InvalidInput("device_name")
		}
	}
	key := p.Key(canonical)
	for _, reserved := range p.Reserved {
		if p.Key(reserved) == key {
			return "", "", apperr.ErrNameConflict
		}
	}
	return canonical, key, nil
}
