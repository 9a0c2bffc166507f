package worker

import (
	"net/url"
	"strings"
)

const redacted = "xxxxx"

// Redact masks credentials in a source URL so it can be logged or stored.
// Camera URLs commonly carry user:password in the userinfo section.
func Redact(raw string) string {
	if raw == "" || !strings.Contains(raw, "://") {
		return raw
	}

	u, err := url.Parse(raw)
	if err != nil {
		// Unparseable URLs may still contain secrets after the scheme
		if at := strings.LastIndex(raw, "@"); at > 0 {
			scheme := raw[:strings.Index(raw, "://")+3]
			return scheme + redacted + raw[at:]
		}
		return raw
	}

	changed := false
	if u.User != nil {
		if _, hasPassword := u.User.Password(); hasPassword {
			u.User = url.UserPassword(u.User.Username(), redacted)
			changed = true
		}
	}

	q := u.Query()
	for k := range q {
		lower := strings.ToLower(k)
		if strings.Contains(lower, "pass") || strings.Contains(lower, "token") ||
			strings.Contains(lower, "auth") || strings.Contains(lower, "key") {
			q.Set(k, redacted)
			changed = true
		}
	}

	if !changed {
		return raw
	}
	u.RawQuery = q.Encode()
	return u.String()
}

// redactArgs returns a copy of args safe for logging
func redactArgs(args []string) []string {
	out := make([]string, 0, len(args))
	for _, a := range args {
		out = append(out, Redact(a))
	}
	return out
}
