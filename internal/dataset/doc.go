// Package dataset turns a finished feature table into model samples.
//
// Windows produces fixed-length sequence samples per unit; units shorter than
// the window are skipped and reported, but still appear in Tabular output,
// which takes the last row of every unit. When a sample cap is set, units are
// consumed in table order, so earlier unit ids are favoured over later ones.
// UnitWindow and UnitRow serve single-unit lookups.
package dataset
