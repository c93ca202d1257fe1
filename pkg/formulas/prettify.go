// Package formulas rewrites plain-text math and chemistry notation in
// generated answers into Unicode that renders well in chat clients.
package formulas

import (
	"regexp"
	"strings"
)

var (
	superscripts = map[rune]rune{
		'0': '⁰', '1': '¹', '2': '²', '3': '³', '4': '⁴', '5': '⁵', '6': '⁶', '7': '⁷', '8': '⁸', '9': '⁹',
		'+': '⁺', '-': '⁻', '=': '⁼', '(': '⁽', ')': '⁾', 'n': 'ⁿ',
	}
	subscripts = map[rune]rune{
		'0': '₀', '1': '₁', '2': '₂', '3': '₃', '4': '₄', '5': '₅', '6': '₆', '7': '₇', '8': '₈', '9': '₉',
		'+': '₊', '-': '₋', '=': '₌', '(': '₍', ')': '₎',
	}

	elementCount  = regexp.MustCompile(`([A-Za-zА-Яа-яЁё])(\d{1,3})`)
	chargePower   = regexp.MustCompile(`\^([0-9+-]+)`)
	groupPower    = regexp.MustCompile(`\^\(([^)]+)\)`)
	digitProduct  = regexp.MustCompile(`(\d)\s*\*\s*(\d)`)
	mathReplacers = strings.NewReplacer("sqrt(", "√(", "+-", "±", "<=", "≤", ">=", "≥", "∫ ", "∫")
)

// Superscript maps every mappable rune of s to its superscript form and
// keeps the rest unchanged.
func Superscript(s string) string { return mapRunes(s, superscripts) }

// Subscript is the subscript counterpart of Superscript.
func Subscript(s string) string { return mapRunes(s, subscripts) }

func mapRunes(s string, table map[rune]rune) string {
	return strings.Map(func(r rune) rune {
		if m, ok := table[r]; ok {
			return m
		}
		return r
	}, s)
}

// Chemistry turns element counts into subscripts and ^charges into
// superscripts: "SO4^2-" becomes "SO₄²⁻".
func Chemistry(text string) string {
	out := elementCount.ReplaceAllStringFunc(text, func(m string) string {
		parts := elementCount.FindStringSubmatch(m)
		return parts[1] + Subscript(parts[2])
	})
	return chargePower.ReplaceAllStringFunc(out, func(m string) string {
		return Superscript(m[1:])
	})
}

// Math rewrites roots, plus-minus, comparisons, ^(...) exponents and
// digit products.
func Math(text string) string {
	out := mathReplacers.Replace(text)
	out = groupPower.ReplaceAllStringFunc(out, func(m string) string {
		return Superscript(groupPower.FindStringSubmatch(m)[1])
	})
	for {
		next := digitProduct.ReplaceAllString(out, "${1}·${2}")
		if next == out {
			return out
		}
		out = next
	}
}

// Prettify applies Chemistry then Math. Empty input is returned as is.
func Prettify(text string) string {
	if text == "" {
		return text
	}
	return Math(Chemistry(text))
}
