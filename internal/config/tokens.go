package config

import (
	"fmt"
	"os"
	"regexp"
)

// MissingSecretError is returned by ExpandTokens when a required
// ${ENV:NAME} token has no corresponding environment variable set.
type MissingSecretError struct {
	Name string
}

func (e *MissingSecretError) Error() string {
	return fmt.Sprintf("required environment variable %q is not set", e.Name)
}

// tokenPattern matches ${ENV:NAME} and ${ENV:NAME:-default}. The
// optional ":-default" suffix marks the token as not required: a
// missing environment variable falls back to default instead of
// failing the load.
var tokenPattern = regexp.MustCompile(`\$\{ENV:([A-Za-z_][A-Za-z0-9_]*)(:-([^}]*))?\}`)

// ExpandTokens replaces ${PROJECT_ROOT} with projectRoot and
// ${ENV:NAME} / ${ENV:NAME:-default} with the named environment
// variable, in that order. A ${ENV:NAME} token with no default and no
// matching environment variable fails fast with *MissingSecretError.
func ExpandTokens(raw, projectRoot string) (string, error) {
	out := regexp.MustCompile(`\$\{PROJECT_ROOT\}`).ReplaceAllString(raw, projectRoot)

	var firstErr error
	out = tokenPattern.ReplaceAllStringFunc(out, func(match string) string {
		if firstErr != nil {
			return match
		}
		groups := tokenPattern.FindStringSubmatch(match)
		name := groups[1]
		hasDefault := groups[2] != ""
		defaultVal := groups[3]

		if val, ok := os.LookupEnv(name); ok {
			return val
		}
		if hasDefault {
			return defaultVal
		}
		firstErr = &MissingSecretError{Name: name}
		return match
	})

	if firstErr != nil {
		return "", firstErr
	}
	return out, nil
}
