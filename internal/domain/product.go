package domain

import "strings"

// Unit is a canonical measurement unit. Parser-facing aliases (kgs, kilo,
// ltr, litre, ...) are resolved to these before any item reaches an order.
type Unit string

const (
	UnitKg     Unit = "kg"
	UnitG      Unit = "g"
	UnitL      Unit = "l"
	UnitMl     Unit = "ml"
	UnitPiece  Unit = "piece"
	UnitDozen  Unit = "dozen"
	UnitPacket Unit = "packet"
	UnitCarton Unit = "carton"
)

// Product is a catalog entry, shared read/write with the external catalog
// subsystem; the core only reads it (aliases, unit, conversion) when
// resolving an intent into order items.
type Product struct {
	ID                string
	Name              string
	Aliases           []string
	Unit              Unit
	ConversionToCanon float64
}

// MatchesName reports whether name (case-folded, trimmed) equals the
// product's canonical name or one of its aliases.
func (p Product) MatchesName(name string) bool {
	name = strings.ToLower(strings.TrimSpace(name))
	if strings.ToLower(p.Name) == name {
		return true
	}
	for _, a := range p.Aliases {
		if strings.ToLower(a) == name {
			return true
		}
	}
	return false
}
