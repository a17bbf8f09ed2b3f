package conflict

import "sort"

// mergeSemantic implements the semantic strategy (spec §4.4): recursive
// object merge, array union-by-identity-key or unique-concatenation,
// string merge as a sorted union of distinct lines, and schema-policy
// numeric merge. No common ancestor is consulted, so strings are not
// three-way merged.
func mergeSemantic(local, remote any, policy *FieldPolicy) any {
	switch lv := local.(type) {
	case map[string]any:
		rv, ok := remote.(map[string]any)
		if !ok {
			return remote
		}
		return mergeObjects(lv, rv, policy)
	case []any:
		rv, ok := remote.([]any)
		if !ok {
			return remote
		}
		return mergeArrays(lv, rv, policy)
	case float64:
		rv, ok := remote.(float64)
		if !ok {
			return remote
		}
		return mergeNumbers(lv, rv, policy)
	case string:
		rv, ok := remote.(string)
		if !ok {
			return remote
		}
		return mergeStrings(lv, rv)
	default:
		return remote
	}
}

func mergeObjects(local, remote map[string]any, policy *FieldPolicy) map[string]any {
	out := make(map[string]any, len(local)+len(remote))
	for k, v := range local {
		out[k] = v
	}
	for k, rv := range remote {
		lv, exists := out[k]
		if !exists {
			out[k] = rv
			continue
		}
		out[k] = mergeSemantic(lv, rv, policy)
	}
	return out
}

func mergeArrays(local, remote []any, policy *FieldPolicy) []any {
	if policy != nil && policy.ArrayIdentityKey != "" {
		return unionByIdentity(local, remote, policy.ArrayIdentityKey)
	}
	return concatUnique(local, remote)
}

func unionByIdentity(local, remote []any, key string) []any {
	seen := make(map[any]int)
	out := make([]any, 0, len(local)+len(remote))
	for _, item := range local {
		id := identityOf(item, key)
		seen[id] = len(out)
		out = append(out, item)
	}
	for _, item := range remote {
		id := identityOf(item, key)
		if idx, ok := seen[id]; ok {
			out[idx] = mergeSemantic(out[idx], item, nil)
			continue
		}
		seen[id] = len(out)
		out = append(out, item)
	}
	return out
}

func identityOf(item any, key string) any {
	if m, ok := item.(map[string]any); ok {
		if v, ok := m[key]; ok {
			return v
		}
	}
	return item
}

func concatUnique(local, remote []any) []any {
	out := make([]any, 0, len(local)+len(remote))
	seen := make(map[any]bool)
	for _, item := range local {
		if !seen[item] {
			seen[item] = true
			out = append(out, item)
		}
	}
	for _, item := range remote {
		if !seen[item] {
			seen[item] = true
			out = append(out, item)
		}
	}
	return out
}

func mergeNumbers(local, remote float64, policy *FieldPolicy) float64 {
	if policy == nil {
		return remote // default: remote wins, matches LWW fallback
	}
	switch policy.NumberPolicy {
	case NumberMax:
		return maxFloat(local, remote)
	case NumberMin:
		return minFloat(local, remote)
	case NumberAvg:
		return (local + remote) / 2
	default: // NumberLWW
		return remote
	}
}

func maxFloat(a, b float64) float64 {
	if a > b {
		return a
	}
	return b
}

func minFloat(a, b float64) float64 {
	if a < b {
		return a
	}
	return b
}

// mergeStrings merges two strings line by line without a common ancestor:
// it returns the distinct lines of both, sorted (no three-way diff is
// performed, since no ancestor text reaches the resolver).
func mergeStrings(local, remote string) string {
	if local == remote {
		return local
	}
	localLines := splitLines(local)
	remoteLines := splitLines(remote)
	seen := make(map[string]bool, len(localLines)+len(remoteLines))
	merged := make([]string, 0, len(localLines)+len(remoteLines))
	for _, l := range localLines {
		if !seen[l] {
			seen[l] = true
			merged = append(merged, l)
		}
	}
	for _, l := range remoteLines {
		if !seen[l] {
			seen[l] = true
			merged = append(merged, l)
		}
	}
	sort.Strings(merged)
	return joinLines(merged)
}

func splitLines(s string) []string {
	var out []string
	start := 0
	for i := 0; i < len(s); i++ {
		if s[i] == '\n' {
			out = append(out, s[start:i])
			start = i + 1
		}
	}
	out = append(out, s[start:])
	return out
}

func joinLines(lines []string) string {
	out := ""
	for i, l := range lines {
		if i > 0 {
			out += "\n"
		}
		out += l
	}
	return out
}
