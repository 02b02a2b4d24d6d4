package guard

import (
	libinjection "github.com/corazawaf/libinjection-go"
)

// InjectionCheck describes a bound parameter flagged by libinjection.
type InjectionCheck struct {
	ParamIndex  int
	Fingerprint string
}

// ScreenParams runs every string parameter through libinjection's SQLi
// detector and returns the flagged ones with their 1-based placeholder
// index. Non-string values are skipped: the placeholder protocol already
// keeps them out of the SQL text.
func ScreenParams(params []any) []InjectionCheck {
	var flagged []InjectionCheck
	for i, p := range params {
		s, ok := p.(string)
		if !ok {
			continue
		}
		if isInjection, fingerprint := libinjection.IsSQLi(s); isInjection {
			flagged = append(flagged, InjectionCheck{ParamIndex: i + 1, Fingerprint: fingerprint})
		}
	}
	return flagged
}
