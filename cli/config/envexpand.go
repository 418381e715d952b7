// Package config loads ipfs-publish settings from YAML files and the environment.
package config

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
)

// envRef matches ${VAR}, ${VAR:-default} and ${VAR:?message}.
var envRef = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)(?::([-?])([^}]*))?\}`)

// ExpandEnv substitutes environment references in input:
//
//	${VAR}           value of VAR, or empty
//	${VAR:-default}  value of VAR, or default when VAR is unset or empty
//	${VAR:?message}  value of VAR, or an error carrying message
//
// Every missing required variable is reported, each with its line number.
func ExpandEnv(input string, lookup LookupFunc) (string, error) {
	matches := envRef.FindAllStringSubmatchIndex(input, -1)
	if len(matches) == 0 {
		return input, nil
	}

	var (
		out  strings.Builder
		errs []error
		last int
	)
	out.Grow(len(input))
	for _, m := range matches {
		out.WriteString(input[last:m[0]])
		last = m[1]

		name := input[m[2]:m[3]]
		value, ok := lookup(name)
		if ok && value != "" {
			out.WriteString(value)
			continue
		}
		if m[4] < 0 {
			continue
		}
		arg := input[m[6]:m[7]]
		if input[m[4]:m[5]] == "-" {
			out.WriteString(arg)
			continue
		}
		if arg == "" {
			arg = "required variable is not set"
		}
		line := strings.Count(input[:m[0]], "\n") + 1
		errs = append(errs, fmt.Errorf("line %d: %s: %s", line, name, arg))
	}
	out.WriteString(input[last:])

	if len(errs) > 0 {
		return "", errors.Join(errs...)
	}
	return out.String(), nil
}
