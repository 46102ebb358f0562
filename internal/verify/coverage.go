package verify

import (
	"encoding/json"
	"fmt"
	"os"
)

// ParseCoverageReport reads a JSON coverage summary at path and returns
// the overall line-coverage percentage. It recognizes two shapes, mirroring
// original_source's CoverageChecker._parse_report:
//
//   - a root-level {"total": n, "percent": p} (or {"total": {"percent": p}}) object
//   - a keyed report with a "total.lines.pct" path, e.g. Istanbul/nyc's
//     {"total": {"lines": {"pct": p}}}
func ParseCoverageReport(path string) (float64, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, fmt.Errorf("verify: read coverage report: %w", err)
	}
	var doc map[string]any
	if err := json.Unmarshal(data, &doc); err != nil {
		return 0, fmt.Errorf("%w: %v", ErrCoverageUnparseable, err)
	}

	if p, ok := numberField(doc, "percent"); ok {
		return p, nil
	}
	if p, ok := numberField(doc, "pct"); ok {
		return p, nil
	}

	total, ok := doc["total"]
	if !ok {
		return 0, ErrCoverageUnparseable
	}
	switch t := total.(type) {
	case float64:
		return t, nil
	case map[string]any:
		if p, ok := numberField(t, "percent"); ok {
			return p, nil
		}
		if p, ok := numberField(t, "pct"); ok {
			return p, nil
		}
		if lines, ok := t["lines"].(map[string]any); ok {
			if p, ok := numberField(lines, "pct"); ok {
				return p, nil
			}
			if p, ok := numberField(lines, "percent"); ok {
				return p, nil
			}
		}
	}
	return 0, ErrCoverageUnparseable
}

func numberField(m map[string]any, key string) (float64, bool) {
	v, ok := m[key]
	if !ok {
		return 0, false
	}
	f, ok := v.(float64)
	return f, ok
}
