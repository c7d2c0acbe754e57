package catalog

import (
	"context"
	"strings"
)

// Entry is one orderable test in the lab's catalog.
type Entry struct {
	ID           string `json:"id"`
	LocalCode    string `json:"local_code"`
	StandardCode string `json:"standard_code,omitempty"`
	CodingSystem string `json:"coding_system,omitempty"`
	Name         string `json:"name"`
	Unit         string `json:"unit,omitempty"`
}

// Lookup finds catalog entries. Each method returns nil, nil when nothing
// matches; matching is case-insensitive.
type Lookup interface {
	FindByLocalCode(ctx context.Context, code string) (*Entry, error)
	FindByStandardCode(ctx context.Context, code string) (*Entry, error)
	FindByName(ctx context.Context, name string) (*Entry, error)
}

// Key identifies an analyte as reported by an instrument.
type Key struct {
	LocalCode    string
	StandardCode string
	Name         string
}

// Resolve tries the local code, then the standard code, then the name. The
// first hit wins.
func Resolve(ctx context.Context, lookup Lookup, key Key) (*Entry, error) {
	if code := strings.TrimSpace(key.LocalCode); code != "" {
		entry, err := lookup.FindByLocalCode(ctx, code)
		if err != nil || entry != nil {
			return entry, err
		}
	}

	if code := strings.TrimSpace(key.StandardCode); code != "" {
		entry, err := lookup.FindByStandardCode(ctx, code)
		if err != nil || entry != nil {
			return entry, err
		}
	}

	if name := strings.TrimSpace(key.Name); name != "" {
		return lookup.FindByName(ctx, name)
	}

	return nil, nil
}

func normalize(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}
