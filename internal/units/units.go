// Package units defines measurement units, ingredient categories and the
// formatting rules used to present quantities.
package units

import (
	"fmt"
	"math"
	"strings"
)

// MeasurementUnit is the unit an ingredient amount is expressed in.
type MeasurementUnit string

const (
	Gram       MeasurementUnit = "GRAM"
	Kilogram   MeasurementUnit = "KILOGRAM"
	Milliliter MeasurementUnit = "MILLILITER"
	Liter      MeasurementUnit = "LITER"
	Teaspoon   MeasurementUnit = "TEASPOON"
	Tablespoon MeasurementUnit = "TABLESPOON"
	Cup        MeasurementUnit = "CUP"
	Piece      MeasurementUnit = "PIECE"
)

// AllUnits lists every unit in declaration order.
var AllUnits = []MeasurementUnit{Gram, Kilogram, Milliliter, Liter, Teaspoon, Tablespoon, Cup, Piece}

var abbreviations = map[MeasurementUnit]string{
	Gram:       "g",
	Kilogram:   "kg",
	Milliliter: "ml",
	Liter:      "L",
	Teaspoon:   "tsp",
	Tablespoon: "tbsp",
	Cup:        "cup",
	Piece:      "pc",
}

// spoon and cup measures are shown in milliliters
var millilitersPerUnit = map[MeasurementUnit]float64{
	Teaspoon:   5,
	Tablespoon: 15,
	Cup:        240,
}

// Abbreviation returns the short label for a unit. Unknown units are returned as-is.
func Abbreviation(u MeasurementUnit) string {
	if a, ok := abbreviations[u]; ok {
		return a
	}
	return string(u)
}

// MillilitersPerUnit reports the milliliter factor for units that are
// converted before display.
func MillilitersPerUnit(u MeasurementUnit) (float64, bool) {
	f, ok := millilitersPerUnit[u]
	return f, ok
}

// DisplayString renders an amount with its unit, converting spoon and cup
// measures to milliliters.
func DisplayString(amount float64, u MeasurementUnit) string {
	if factor, ok := millilitersPerUnit[u]; ok {
		return FractionString(amount*factor) + " ml"
	}
	return FractionString(amount) + " " + Abbreviation(u)
}

// FractionString renders an amount as a whole number followed by the closest
// quarter glyph. Amounts with neither part fall back to one decimal place.
func FractionString(amount float64) string {
	whole := int(math.Trunc(amount))
	frac := amount - float64(whole)

	glyph := ""
	switch {
	case frac >= 0.875:
		whole++
	case frac >= 0.625:
		glyph = "¾"
	case frac >= 0.375:
		glyph = "½"
	case frac >= 0.125:
		glyph = "¼"
	}

	switch {
	case whole == 0 && glyph != "":
		return glyph
	case glyph == "" && whole == 0:
		return fmt.Sprintf("%.1f", amount)
	case glyph == "":
		return fmt.Sprintf("%d", whole)
	default:
		return fmt.Sprintf("%d %s", whole, glyph)
	}
}

// ParseUnit accepts a unit name or abbreviation, case-insensitively.
func ParseUnit(s string) (MeasurementUnit, error) {
	v := strings.TrimSpace(s)
	for _, u := range AllUnits {
		if strings.EqualFold(v, string(u)) || strings.EqualFold(v, abbreviations[u]) {
			return u, nil
		}
	}
	switch strings.ToLower(v) {
	case "grams", "gr":
		return Gram, nil
	case "kilograms", "kilo", "kilos":
		return Kilogram, nil
	case "milliliters", "millilitres", "mls":
		return Milliliter, nil
	case "liters", "litres":
		return Liter, nil
	case "teaspoons":
		return Teaspoon, nil
	case "tablespoons":
		return Tablespoon, nil
	case "cups":
		return Cup, nil
	case "pieces", "pcs", "unit", "units":
		return Piece, nil
	}
	return "", fmt.Errorf("unknown measurement unit %q", s)
}

// ParseUnitOr returns fallback when s is not a known unit.
func ParseUnitOr(s string, fallback MeasurementUnit) MeasurementUnit {
	u, err := ParseUnit(s)
	if err != nil {
		return fallback
	}
	return u
}

// PackageType describes how an ingredient is sold.
type PackageType string

const (
	PackageUnit    PackageType = "UNIT"
	PackagePackage PackageType = "PACKAGE"
	PackageBulk    PackageType = "BULK"
	PackageBottle  PackageType = "BOTTLE"
	PackageCarton  PackageType = "CARTON"
	PackageBag     PackageType = "BAG"
	PackageCan     PackageType = "CAN"
	PackageJar     PackageType = "JAR"
	PackageOther   PackageType = "OTHER"
)

// Valid reports whether p is a known package type.
func (p PackageType) Valid() bool {
	switch p {
	case PackageUnit, PackagePackage, PackageBulk, PackageBottle, PackageCarton,
		PackageBag, PackageCan, PackageJar, PackageOther:
		return true
	}
	return false
}
