// Package flagx holds helpers for partial command-line parsing, so that
// several layers (config file lookup, per-command flags) can each pick out
// only the flags they own.
package flagx

import (
	"flag"
	"io"
	"os"
	"strings"
)

// ConfigEnvVar names the environment variable consulted when no -c/-config
// flag is given.
const ConfigEnvVar = "PMDASH_CONFIG"

// FilterArgs returns a slice of command-line arguments that only contains
// the allowed flags (and their values) specified in allowedFlags.
//
// Supported formats:
//  1. Flag and value as separate arguments:  -c conf.json
//  2. Flag and value combined with '=':      -config=conf.json
//
// A value that itself starts with "-" is never consumed as the previous
// flag's value, so boolean flags followed by another flag stay intact.
//
// Parameters:
//
//	args         - the command-line arguments (usually os.Args[1:])
//	allowedFlags - list of allowed flag names (e.g. []string{"-u", "-e"})
//
// Returns:
//
//	A slice containing the allowed flags and their values (if provided separately).
//
// Example:
//
//	args := []string{"set-password", "-u", "alice", "-debug", "-e=a@b.c"}
//	FilterArgs(args, []string{"-u", "-e"})
//	// => []string{"-u", "alice", "-e=a@b.c"}
func FilterArgs(args []string, allowedFlags []string) []string {
	allowed := make(map[string]struct{}, len(allowedFlags))
	for _, f := range allowedFlags {
		allowed[f] = struct{}{}
	}

	filtered := make([]string, 0, len(args))

	for i := 0; i < len(args); i++ {
		arg := args[i]

		if strings.HasPrefix(arg, "-") && strings.Contains(arg, "=") {
			name := strings.SplitN(arg, "=", 2)[0]
			if _, ok := allowed[name]; ok {
				filtered = append(filtered, arg)
			}
			continue
		}

		if _, ok := allowed[arg]; ok {
			filtered = append(filtered, arg)
			if i+1 < len(args) && !strings.HasPrefix(args[i+1], "-") {
				filtered = append(filtered, args[i+1])
				i++
			}
		}
	}

	return filtered
}

// ConfigPath extracts the JSON config path from the command line.
//
// It looks for -c, -config or --config in args and ignores every other
// flag, so it can run before the full flag set is known. When none is
// present it falls back to the PMDASH_CONFIG environment variable.
//
// Parameters:
//
//	args - the command-line arguments (usually os.Args[1:])
//
// Returns:
//
//	The config file path, or "" when no file should be read.
//
// Example:
//
//	ConfigPath([]string{"-http-addr", ":9000", "-c", "/etc/pmdash.json"})
//	// => "/etc/pmdash.json"
func ConfigPath(args []string) string {
	var config string

	fs := flag.NewFlagSet("config", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	fs.StringVar(&config, "config", "", "path to config file")
	fs.StringVar(&config, "c", "", "path to config file (short)")
	_ = fs.Parse(FilterArgs(args, []string{"-c", "-config", "--config"}))

	if config == "" {
		config = os.Getenv(ConfigEnvVar)
	}
	return config
}
