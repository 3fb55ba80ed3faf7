// Package healthindex compresses the sensor, rolling-mean and trend columns of
// a feature table into a single degradation score in [0, 1].
//
// Fit projects the selected columns onto their first principal component,
// smooths the projection per unit, and records the global min-max bounds and a
// polarity flag (see Polarity) so that 1 means healthy and 0 means failing.
// Apply reuses those parameters unchanged; it never refits.
package healthindex
