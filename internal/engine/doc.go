// Package engine runs the preprocessing stages in order: sensor filter,
// normalizer, degradation featurizer, health index.
//
// Fit is the training path. It learns every parameter from a reference table
// and captures them in a types.FittedTransform. Apply is the inference path
// and only ever calls the Apply side of each stage with the stored
// parameters, so a table built by Apply has exactly the schema recorded at
// fit time.
package engine
