// Package mapping translates host entities into RT field payloads and back.
// Everything here is pure: no I/O, no state.
package mapping

import (
	"fmt"
	"strings"

	"pretalx-rt-sync/host"
	"pretalx-rt-sync/rt"
)

// Requestors formats host users as RT requestor address strings, one per
// user, order-preserving, no deduplication. An "@" inside the display name
// would break RT's address-list syntax, so it is replaced with "(at)".
func Requestors(users []host.User) []string {
	requestors := make([]string, 0, len(users))
	for _, user := range users {
		name := strings.ReplaceAll(user.Name, "@", "(at)")
		requestors = append(requestors, fmt.Sprintf("%s <%s>", name, user.Email))
	}
	return requestors
}

// CustomFieldPayload maps the two configured custom-field names to the
// submission's code and workflow state.
func CustomFieldPayload(codeField, stateField string, sub *host.Submission) map[string]string {
	return map[string]string{
		codeField:  sub.Code,
		stateField: sub.State,
	}
}

// knownStatuses are the ticket statuses the local mirror distinguishes.
var knownStatuses = map[string]bool{
	"new":      true,
	"open":     true,
	"stalled":  true,
	"resolved": true,
	"rejected": true,
}

// NormalizeStatus folds a remote status value into the local status
// enumeration. Site-specific lifecycle statuses become "other".
func NormalizeStatus(status string) string {
	normalized := strings.ToLower(strings.TrimSpace(status))
	if knownStatuses[normalized] {
		return normalized
	}
	return "other"
}

// ExtractCustomField returns the first value of the named custom field, or
// false when the field is absent or empty. Used to recover the originating
// submission code when reconciling from the remote side.
func ExtractCustomField(fields []rt.CustomField, name string) (string, bool) {
	for _, field := range fields {
		if field.Name != name {
			continue
		}
		if len(field.Values) == 0 || field.Values[0] == "" {
			return "", false
		}
		return field.Values[0], true
	}
	return "", false
}
