package chainstore

import (
	"fmt"
	"sort"
	"strings"
)

// MatchField is one (field_name, value) pair from a policy-chain
// declaration's match-fields clause.
type MatchField struct {
	Name  string
	Value string
}

// sortedCopy returns fields sorted lexicographically by name, matching
// tsaBE.py's generatePolicyChainKey ("matchFields.sort()") — keys must
// be invariant under permutations of the user's input order.
func sortedCopy(fields []MatchField) []MatchField {
	out := make([]MatchField, len(fields))
	copy(out, fields)
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// GenerateKey builds the canonical policy-chain key
// "<sender>$<m1,m2,...>$<f1:v1*f2:v2*...>" (spec.md §3).
func GenerateKey(sender string, chain []string, fields []MatchField) (string, error) {
	if len(fields) == 0 {
		return "", fmt.Errorf("chainstore: cannot generate a key with no match fields")
	}

	sorted := sortedCopy(fields)
	parts := make([]string, len(sorted))
	for i, f := range sorted {
		parts[i] = f.Name + ":" + f.Value
	}

	return sender + "$" + strings.Join(chain, ",") + "$" + strings.Join(parts, "*"), nil
}

// SplitKey decomposes a canonical key into its three sections.
func SplitKey(key string) (sender string, chain []string, fields []MatchField, err error) {
	segments := strings.Split(key, "$")
	if len(segments) != 3 {
		return "", nil, nil, fmt.Errorf("chainstore: malformed policy-chain key %q", key)
	}

	sender = segments[0]
	if segments[1] != "" {
		chain = strings.Split(segments[1], ",")
	}
	fields = parseFieldSection(segments[2])
	return sender, chain, fields, nil
}

func parseFieldSection(section string) []MatchField {
	if section == "" {
		return nil
	}
	var fields []MatchField
	for _, part := range strings.Split(section, "*") {
		name, value, ok := strings.Cut(part, ":")
		if !ok {
			continue
		}
		fields = append(fields, MatchField{Name: name, Value: value})
	}
	return fields
}

// KeyWithoutMiddlebox rebuilds key with mbName removed from its chain
// section, used by the unregister rewriter (spec.md §4.7).
func KeyWithoutMiddlebox(key, mbName string) (string, error) {
	sender, chain, fields, err := SplitKey(key)
	if err != nil {
		return "", err
	}

	filtered := chain[:0:0]
	for _, name := range chain {
		if name != mbName {
			filtered = append(filtered, name)
		}
	}
	return GenerateKey(sender, filtered, fields)
}
