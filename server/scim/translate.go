// Package scim translates local entity snapshots into SCIM 2.0 payloads and
// performs the HTTP calls that carry them to downstream service providers.
package scim

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/antonmedv/expr"
	"github.com/scimrelay/scimrelay/server/scimrelay"
)

// SCIM 2.0 schema URNs (RFC 7643/7644).
const (
	UserSchema    = "urn:ietf:params:scim:schemas:core:2.0:User"
	GroupSchema   = "urn:ietf:params:scim:schemas:core:2.0:Group"
	PatchOpSchema = "urn:ietf:params:scim:api:messages:2.0:PatchOp"
)

// UserPayload builds the SCIM User document for the given snapshot view.
// When mapping is empty the default attribute mapping applies; otherwise each
// mapping entry assigns one SCIM attribute path from its source expression.
// scimID is included as the top-level id when non-empty (updates).
func UserPayload(view map[string]interface{}, mapping scimrelay.AttributeMapping, scimID string) (map[string]interface{}, error) {
	doc := map[string]interface{}{
		"schemas": []interface{}{UserSchema},
	}
	if scimID != "" {
		doc["id"] = scimID
	}

	if len(mapping) == 0 {
		mapping = defaultUserMapping
	}
	if err := applyMapping(doc, view, mapping); err != nil {
		return nil, err
	}
	return doc, nil
}

// defaultUserMapping is applied when a destination has no custom mapping.
var defaultUserMapping = scimrelay.AttributeMapping{
	"userName":          "$.user.username",
	"externalId":        "$.user.id",
	"name.givenName":    "$.profile.given_name",
	"name.familyName":   "$.profile.family_name",
	"emails[0].value":   "$.user.email",
	"emails[0].primary": "true",
}

// GroupPayload builds the SCIM Group document for the given snapshot view.
func GroupPayload(view map[string]interface{}, scimID string) (map[string]interface{}, error) {
	doc := map[string]interface{}{
		"schemas": []interface{}{GroupSchema},
	}
	if scimID != "" {
		doc["id"] = scimID
	}
	if err := applyMapping(doc, view, scimrelay.AttributeMapping{
		"displayName": "$.group.displayName",
		"externalId":  "$.group.id",
	}); err != nil {
		return nil, err
	}
	return doc, nil
}

// DeactivatePatch builds the PATCH body that sets active=false.
func DeactivatePatch() map[string]interface{} {
	return map[string]interface{}{
		"schemas": []interface{}{PatchOpSchema},
		"Operations": []interface{}{
			map[string]interface{}{
				"op":    "replace",
				"path":  "active",
				"value": false,
			},
		},
	}
}

// AddMemberPatch builds the PATCH body that adds one member to a group.
func AddMemberPatch(userSCIMID string) map[string]interface{} {
	return map[string]interface{}{
		"schemas": []interface{}{PatchOpSchema},
		"Operations": []interface{}{
			map[string]interface{}{
				"op":   "add",
				"path": "members",
				"value": []interface{}{
					map[string]interface{}{"value": userSCIMID},
				},
			},
		},
	}
}

// RemoveMemberPatch builds the PATCH body that removes one member from a
// group, using a value filter path per RFC 7644 §3.5.2.2.
func RemoveMemberPatch(userSCIMID string) map[string]interface{} {
	return map[string]interface{}{
		"schemas": []interface{}{PatchOpSchema},
		"Operations": []interface{}{
			map[string]interface{}{
				"op":   "remove",
				"path": fmt.Sprintf("members[value eq %q]", userSCIMID),
			},
		},
	}
}

// applyMapping evaluates each source expression against the snapshot view and
// assigns the result at the target path. Entries whose source resolves to
// nothing are skipped, so a mapping with no valid sources yields a document
// containing only what was already present.
func applyMapping(doc, view map[string]interface{}, mapping scimrelay.AttributeMapping) error {
	for target, source := range mapping {
		val, ok, err := evalSource(view, source)
		if err != nil {
			return fmt.Errorf("attribute %s: %w", target, err)
		}
		if !ok {
			continue
		}
		if err := setPath(doc, target, val); err != nil {
			return fmt.Errorf("attribute %s: %w", target, err)
		}
	}
	return nil
}

// evalSource resolves a source expression: the literals "true"/"false"
// become booleans, and "$."-prefixed paths are compiled as expressions over
// the snapshot view. A path that does not resolve (missing key, nil value)
// reports ok=false rather than an error.
func evalSource(view map[string]interface{}, source string) (interface{}, bool, error) {
	switch source {
	case "true":
		return true, true, nil
	case "false":
		return false, true, nil
	}
	if !strings.HasPrefix(source, "$.") {
		return nil, false, fmt.Errorf("unsupported source expression %q", source)
	}

	program, err := expr.Compile(strings.TrimPrefix(source, "$."), expr.Env(view), expr.AllowUndefinedVariables())
	if err != nil {
		return nil, false, fmt.Errorf("compile source expression %q: %w", source, err)
	}
	out, err := expr.Run(program, view)
	if err != nil || out == nil {
		return nil, false, nil
	}
	return out, true, nil
}

type pathSegment struct {
	key   string
	index int // -1 when the segment has no bracket index
}

// parsePath splits a target path like "emails[0].value" into segments.
func parsePath(path string) ([]pathSegment, error) {
	var segments []pathSegment
	for _, part := range strings.Split(path, ".") {
		if part == "" {
			return nil, fmt.Errorf("invalid target path %q", path)
		}
		idx := -1
		key := part
		if open := strings.IndexByte(part, '['); open >= 0 {
			if !strings.HasSuffix(part, "]") {
				return nil, fmt.Errorf("invalid target path %q", path)
			}
			n, err := strconv.Atoi(part[open+1 : len(part)-1])
			if err != nil || n < 0 {
				return nil, fmt.Errorf("invalid index in target path %q", path)
			}
			idx = n
			key = part[:open]
		}
		if key == "" {
			return nil, fmt.Errorf("invalid target path %q", path)
		}
		segments = append(segments, pathSegment{key: key, index: idx})
	}
	return segments, nil
}

// setPath assigns val at the dotted, optionally bracket-indexed path,
// lazily creating intermediate objects and growing arrays as needed so that
// assignments never fail for in-range indices.
func setPath(doc map[string]interface{}, path string, val interface{}) error {
	segments, err := parsePath(path)
	if err != nil {
		return err
	}

	current := doc
	for i, seg := range segments {
		last := i == len(segments)-1

		if seg.index < 0 {
			if last {
				current[seg.key] = val
				return nil
			}
			next, ok := current[seg.key].(map[string]interface{})
			if !ok {
				next = map[string]interface{}{}
				current[seg.key] = next
			}
			current = next
			continue
		}

		arr, _ := current[seg.key].([]interface{})
		for len(arr) <= seg.index {
			arr = append(arr, nil)
		}
		current[seg.key] = arr
		if last {
			arr[seg.index] = val
			return nil
		}
		next, ok := arr[seg.index].(map[string]interface{})
		if !ok {
			next = map[string]interface{}{}
			arr[seg.index] = next
		}
		current = next
	}
	return nil
}
