package messaging

import "strings"

// Headers carried on device method invocations.
const (
	HeaderMethod  = "Devicebridge-Method"
	HeaderTimeout = "Devicebridge-Timeout"
	HeaderReason  = "Devicebridge-Reason"
	HeaderOrigin  = "Devicebridge-Origin"
)

// DLQ subjects follow devicebridge.dlq.<reason>.
const (
	SubjectDLQPrefix = "devicebridge.dlq"
	SubjectDLQAll    = SubjectDLQPrefix + ".>"
)

// MethodSubject returns the request subject for method on deviceID.
// Example: devices.sensor-7.methods.ingestTelemetry
func MethodSubject(prefix, deviceID, method string) string {
	return prefix + "." + SubjectToken(deviceID) + ".methods." + SubjectToken(method)
}

// DLQSubject returns the dead-letter subject for reason.
func DLQSubject(reason string) string {
	return SubjectDLQPrefix + "." + SubjectToken(reason)
}

// SubjectToken replaces characters that would split or wildcard a subject token.
func SubjectToken(s string) string {
	if s == "" {
		return "_"
	}
	return strings.Map(func(r rune) rune {
		switch r {
		case '.', '*', '>', ' ', '\t', '\r', '\n':
			return '_'
		}
		return r
	}, s)
}
