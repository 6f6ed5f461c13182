// Package flagx helps several independent parsers share os.Args: each one
// filters out the flags it owns before handing them to its own FlagSet.
package flagx

import (
	"flag"
	"strings"
)

// FilterArgs returns the subset of args that belong to the allowed flags.
//
// Both "-flag value" and "-flag=value" forms are recognised. A value is only
// consumed when the following argument does not itself look like a flag.
// The result is never nil.
func FilterArgs(args []string, allowedFlags []string) []string {
	own, _ := SplitArgs(args, allowedFlags)
	return own
}

// SplitArgs separates the allowed flags (with their values) from everything
// else, preserving order within each part. Neither result is nil.
func SplitArgs(args []string, allowedFlags []string) (own, rest []string) {
	allowed := make(map[string]struct{}, len(allowedFlags))
	for _, f := range allowedFlags {
		allowed[f] = struct{}{}
	}

	own = make([]string, 0, len(args))
	rest = make([]string, 0, len(args))

	for i := 0; i < len(args); i++ {
		arg := args[i]

		if strings.HasPrefix(arg, "-") && strings.Contains(arg, "=") {
			name, _, _ := strings.Cut(arg, "=")
			if _, ok := allowed[name]; ok {
				own = append(own, arg)
			} else {
				rest = append(rest, arg)
			}
			continue
		}

		if _, ok := allowed[arg]; !ok {
			rest = append(rest, arg)
			continue
		}
		own = append(own, arg)
		if i+1 < len(args) && !strings.HasPrefix(args[i+1], "-") {
			own = append(own, args[i+1])
			i++
		}
	}

	return own, rest
}

// ConfigPath extracts the JSON config path passed via -c or -config.
// It returns an empty string when neither flag is present.
func ConfigPath(args []string) string {
	var path string

	fs := flag.NewFlagSet("config", flag.ContinueOnError)
	fs.StringVar(&path, "config", "", "path to JSON config file")
	fs.StringVar(&path, "c", "", "path to JSON config file (short)")
	_ = fs.Parse(FilterArgs(args, []string{"-c", "-config", "--config"}))

	return path
}
