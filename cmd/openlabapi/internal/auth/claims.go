package auth

import (
	"fmt"

	"github.com/mitchellh/mapstructure"
)

// ExtractGroups handles both flat and nested group claims
// Supports:
//   - Flat arrays: ["members", "vorstand"]
//   - Nested objects: [{"name": "members", "type": "team"}] with claimPath="name"
func ExtractGroups(claims map[string]any, claimField string, claimPath string) ([]string, error) {
	rawValue, ok := claims[claimField]
	if !ok {
		// Groups claim not present - return empty list (not an error, user may have no groups)
		return []string{}, nil
	}

	// Try flat string array first: ["members", "vorstand"]
	if groups, ok := rawValue.([]any); ok {
		result := make([]string, 0, len(groups))
		for _, g := range groups {
			if str, ok := g.(string); ok {
				result = append(result, str)
			}
		}
		if len(result) > 0 || len(groups) == 0 {
			return result, nil
		}
	}

	// A single group is sometimes sent as a bare string
	if group, ok := rawValue.(string); ok && claimPath == "" {
		return []string{group}, nil
	}

	// Try nested extraction if path provided: [{"name": "members"}]
	if claimPath != "" {
		return extractNestedGroups(rawValue, claimPath)
	}

	return nil, fmt.Errorf("groups claim invalid format (expected []string or []object with path)")
}

// extractNestedGroups uses mapstructure to extract from nested objects
// Supports simple single-level paths like "name", "value", "id"
func extractNestedGroups(rawValue any, path string) ([]string, error) {
	var objects []map[string]any
	if err := mapstructure.Decode(rawValue, &objects); err != nil {
		return nil, fmt.Errorf("failed to decode nested groups: %w", err)
	}

	result := make([]string, 0, len(objects))
	for _, obj := range objects {
		if val, ok := obj[path].(string); ok {
			result = append(result, val)
		}
	}
	return result, nil
}

// ExtractClaimString extracts a non-empty string claim
func ExtractClaimString(claims map[string]any, claimField string) (string, error) {
	rawValue, ok := claims[claimField]
	if !ok {
		return "", fmt.Errorf("claim field %s not found", claimField)
	}

	value, ok := rawValue.(string)
	if !ok {
		return "", fmt.Errorf("claim field %s is not a string", claimField)
	}

	if value == "" {
		return "", fmt.Errorf("claim field %s is empty", claimField)
	}

	return value, nil
}
