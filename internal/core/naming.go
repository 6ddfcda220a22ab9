package core

import (
	"fmt"
	"regexp"
	"strings"
)

var bindingCommentPattern = regexp.MustCompile(`^session-(.+)-\d+h-(?:\d+|unlimited)$`)

// DataCapMeterName is the router queue that counts a capped session's
// traffic.
func DataCapMeterName(sessionID string) string {
	return "datacap-" + sessionID
}

func SpeedMeterName(sessionID string) string {
	return "speed-" + sessionID
}

// LegacyDataCapMeterName is the address-keyed queue name used by older
// deployments, e.g. "datacap-10-0-0-5".
func LegacyDataCapMeterName(address string) string {
	r := strings.NewReplacer(".", "-", ":", "-")
	return "datacap-" + r.Replace(address)
}

// HostTarget returns the single-host prefix for address.
func HostTarget(address string) string {
	if strings.Contains(address, ":") {
		return address + "/128"
	}
	return address + "/32"
}

// BindingComment is the audit label written on an access binding. Only
// BindingOwner reads it back.
func BindingComment(sessionID string, durationHours int, dataCapMB *int64) string {
	capLabel := "unlimited"
	if dataCapMB != nil && *dataCapMB > 0 {
		capLabel = fmt.Sprint(*dataCapMB)
	}
	return fmt.Sprintf("session-%s-%dh-%s", sessionID, durationHours, capLabel)
}

// BindingOwner returns the session id recorded in a binding comment, and
// false for bindings not written by BindingComment.
func BindingOwner(comment string) (string, bool) {
	m := bindingCommentPattern.FindStringSubmatch(comment)
	if m == nil {
		return "", false
	}
	return m[1], true
}

// IsMeterName reports whether name is a data-cap or speed meter.
func IsMeterName(name string) bool {
	return strings.HasPrefix(name, "datacap-") || strings.HasPrefix(name, "speed-")
}

// DataCapComment records the byte limit on a data-cap meter.
func DataCapComment(sessionID string, dataCapMB int64) string {
	return fmt.Sprintf("datacap-%dMB-%dB-session-%s", dataCapMB, MBToBytes(dataCapMB), sessionID)
}
