// Package render turns export documents into artifact bytes.
package render

import (
	"context"
	"encoding/json"
	"fmt"

	exportapp "github.com/compliancesync/backend/internal/application/export"
	"github.com/compliancesync/backend/internal/domain/export"
)

var _ exportapp.Renderer = JSONRenderer{}

// JSONRenderer writes the document as indented JSON
type JSONRenderer struct{}

// Render encodes doc. Every product carries all compliance fields, empty
// when unset.
func (JSONRenderer) Render(_ context.Context, doc *export.Document) ([]byte, error) {
	if doc == nil {
		return nil, fmt.Errorf("render json: nil document")
	}
	complete(doc)
	out, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("render json: %w", err)
	}
	return append(out, '\n'), nil
}
