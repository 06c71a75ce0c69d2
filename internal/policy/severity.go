package policy

import "strings"

// Severity is an alert level. Values are totally ordered.
type Severity int

const (
	Debug Severity = iota
	Info
	Notice
	Warning
	Error
	Critical
)

var severityNames = [...]string{"DEBUG", "INFO", "NOTICE", "WARNING", "ERROR", "CRITICAL"}

// ParseSeverity is case-insensitive; unknown input yields Info.
func ParseSeverity(s string) Severity {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "DEBUG":
		return Debug
	case "INFO":
		return Info
	case "NOTICE":
		return Notice
	case "WARNING", "WARN":
		return Warning
	case "ERROR":
		return Error
	case "CRITICAL", "CRIT":
		return Critical
	default:
		return Info
	}
}

func (s Severity) String() string {
	if s < Debug || s > Critical {
		return severityNames[Info]
	}
	return severityNames[s]
}

// Severities lists every level in ascending order.
func Severities() []Severity {
	return []Severity{Debug, Info, Notice, Warning, Error, Critical}
}
