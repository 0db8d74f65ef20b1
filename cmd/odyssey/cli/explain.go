package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/odyssey-erp/odyssey-access/internal/access"
	"github.com/odyssey-erp/odyssey-access/internal/directory"
	"github.com/odyssey-erp/odyssey-access/internal/resolver"
)

var errInvalidKey = errors.New("explain: user and company must be positive")

// Explanation is the output of Explain.
type Explanation struct {
	Snapshot    access.Snapshot    `json:"snapshot"`
	Requirement access.Requirement `json:"requirement"`
	Decision    access.Decision    `json:"decision"`
}

// Explain resolves the snapshot of key straight from the directory and
// evaluates req against it, writing the result as indented JSON.
func Explain(ctx context.Context, store directory.Reader, adminRole string, key access.Key, req access.Requirement, w io.Writer) (Explanation, error) {
	if !key.Valid() {
		return Explanation{}, errInvalidKey
	}
	if err := access.ValidateRequirement(req); err != nil {
		return Explanation{}, err
	}
	res := resolver.New(store, resolver.Options{AdminRole: adminRole})
	snap, err := res.Resolve(ctx, key)
	if err != nil {
		return Explanation{}, fmt.Errorf("explain: resolve: %w", err)
	}
	out := Explanation{Snapshot: snap, Requirement: req, Decision: access.Evaluate(snap, req)}
	if w != nil {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		if err := enc.Encode(out); err != nil {
			return out, err
		}
	}
	return out, nil
}
