package opencode

import (
	"fmt"
	"os"
	"regexp"
	"sort"
	"strings"
)

// secretKeyPattern matches environment variable names that likely hold
// credentials. Values for matching keys are never logged.
var secretKeyPattern = regexp.MustCompile(`(?i)(password|token|secret)`)

const redactedPlaceholder = "[redacted]"

// mergeEnviron merges the supervisor's environment with caller-supplied
// overrides. Overrides win over inherited values.
func mergeEnviron(overrides map[string]string) []string {
	if len(overrides) == 0 {
		return os.Environ()
	}

	env := os.Environ()
	merged := make([]string, 0, len(env)+len(overrides))
	for _, kv := range env {
		key, _, ok := strings.Cut(kv, "=")
		if ok {
			if _, overridden := overrides[key]; overridden {
				continue
			}
		}
		merged = append(merged, kv)
	}

	keys := make([]string, 0, len(overrides))
	for key := range overrides {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	for _, key := range keys {
		merged = append(merged, key+"="+overrides[key])
	}
	return merged
}

// redactOverrides returns a loggable copy of the overrides with secret-like
// values replaced. Redaction happens before any log call sees the map, so a
// credential can never leak through the supervisor log.
func redactOverrides(overrides map[string]string) string {
	if len(overrides) == 0 {
		return ""
	}

	keys := make([]string, 0, len(overrides))
	for key := range overrides {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys))
	for _, key := range keys {
		value := overrides[key]
		if secretKeyPattern.MatchString(key) {
			value = redactedPlaceholder
		}
		parts = append(parts, fmt.Sprintf("%s=%s", key, value))
	}
	return strings.Join(parts, " ")
}
