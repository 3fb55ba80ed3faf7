package artifact

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/rulstack/rulstack/internal/atomicfile"
	"github.com/rulstack/rulstack/pkg/types"
)

// WriteTransform serializes tr as indented JSON to path. The file is written
// to a temporary sibling first and renamed into place, so readers never see a
// partial transform.
func WriteTransform(path string, tr *types.FittedTransform) error {
	data, err := json.MarshalIndent(tr, "", "  ")
	if err != nil {
		return fmt.Errorf("artifact: encode transform: %w", err)
	}
	if err := atomicfile.Write(path, append(data, '\n')); err != nil {
		return fmt.Errorf("artifact: %w", err)
	}
	return nil
}

// ReadTransform loads a transform written by WriteTransform. A transform with
// a different layout version, or without a schema, is an ErrSchema error.
func ReadTransform(path string) (*types.FittedTransform, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("artifact: read transform: %w", err)
	}
	return decodeTransform(data)
}

func decodeTransform(data []byte) (*types.FittedTransform, error) {
	var tr types.FittedTransform
	if err := json.Unmarshal(data, &tr); err != nil {
		return nil, fmt.Errorf("artifact: decode transform: %w", err)
	}
	if tr.Version != types.TransformVersion {
		return nil, fmt.Errorf("artifact: transform version %d, want %d: %w", tr.Version, types.TransformVersion, types.ErrSchema)
	}
	if len(tr.Schema) == 0 || len(tr.KeptSensors) == 0 {
		return nil, fmt.Errorf("artifact: transform %q has no schema or kept sensors: %w", tr.RunID, types.ErrSchema)
	}
	return &tr, nil
}
