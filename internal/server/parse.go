package server

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/newtron-network/tsa/internal/chainstore"
	"github.com/newtron-network/tsa/internal/util"
)

// policyChainPattern extracts the comma-separated name list and the
// brace-delimited match-field clause from a raw FE argument string
// such as "h1,m2,m3 {tp_dst=80}" — mirrors tsaBE.py's handleAddPolicyCommand
// regex verbatim.
var policyChainPattern = regexp.MustCompile(`(([\w]+\s*,\s*)*[\w]+)\s+\{([^}]*)\}`)

// matchFieldPattern extracts "name=value" pairs from the brace clause,
// mirroring tsaBE.py's extractMatchFields.
var matchFieldPattern = regexp.MustCompile(`([^=\s]+)\s*=\s*([^\s,]+)`)

// parsePolicyChainArgs splits a raw "<sender>,<m1>,<m2> {f1=v1,f2=v2}"
// argument string into the sender host, the ordered middlebox chain,
// and the match fields. An empty match-field clause is an error: a
// policy chain with no match fields has no canonical key (spec.md §8
// scenario 5).
func parsePolicyChainArgs(raw string) (sender string, chain []string, fields []chainstore.MatchField, err error) {
	m := policyChainPattern.FindStringSubmatch(raw)
	if m == nil {
		return "", nil, nil, fmt.Errorf(`arguments do not match "<chain> {<fields>}"`)
	}

	names := util.SplitCommaSeparated(m[1])
	if len(names) == 0 {
		return "", nil, nil, fmt.Errorf("empty policy chain")
	}

	fields = extractMatchFields(m[3])
	if len(fields) == 0 {
		return "", nil, nil, fmt.Errorf("no match fields given")
	}

	return names[0], names[1:], fields, nil
}

func extractMatchFields(raw string) []chainstore.MatchField {
	var fields []chainstore.MatchField
	for _, m := range matchFieldPattern.FindAllStringSubmatch(raw, -1) {
		fields = append(fields, chainstore.MatchField{Name: m[1], Value: m[2]})
	}
	return fields
}

// parseReplaceDPIInstanceArgs parses "<newInstance> <pcid>" — exactly
// two whitespace-separated tokens (spec.md §9: the format
// handleReplacingDPIInstanceCommand accepts is intentionally distinct
// from the chain-with-sender format the other handlers parse).
func parseReplaceDPIInstanceArgs(raw string) (newInstance string, pcid int, err error) {
	fields := strings.Fields(raw)
	if len(fields) != 2 {
		return "", 0, fmt.Errorf("expected exactly two arguments: <newInstance> <pcid>")
	}
	pcid, err = strconv.Atoi(fields[1])
	if err != nil {
		return "", 0, fmt.Errorf("invalid pcid %q: %w", fields[1], err)
	}
	return fields[0], pcid, nil
}
