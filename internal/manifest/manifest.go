// Package manifest implements the declarative process manifest parser
// described in spec.md §4.2 (component C2). It reads the well-known
// Procfile at the root of an extracted application archive — the naming
// convention and manifest shape carried over from the original Python
// agent's use of the "procfile" package.
package manifest

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/smartmob-project/smartmob-agent/internal/apierr"
)

// FileName is the well-known manifest file name at the root of an
// extracted archive.
const FileName = "Procfile"

var nameRe = regexp.MustCompile(`^[A-Za-z0-9_-]+$`)

// Parse reads dir/Procfile and returns the process-type → command-line
// mapping it declares. Duplicate names, malformed lines, and a missing
// manifest file are all parse-errors.
func Parse(dir string) (map[string]string, error) {
	path := filepath.Join(dir, FileName)
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, apierr.New(apierr.KindParseError, fmt.Sprintf("missing manifest file %q", FileName))
		}
		return nil, apierr.Wrap(apierr.KindParseError, "failed to open manifest", err)
	}
	defer f.Close()

	result := make(map[string]string)
	scanner := bufio.NewScanner(f)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := scanner.Text()
		trimmed := strings.TrimSpace(line)
		if trimmed == "" || strings.HasPrefix(trimmed, "#") {
			continue
		}

		idx := strings.Index(line, ":")
		if idx < 0 {
			return nil, apierr.New(apierr.KindParseError, fmt.Sprintf("line %d: missing ':' separator", lineNo))
		}
		name := strings.TrimSpace(line[:idx])
		command := strings.TrimSpace(line[idx+1:])

		if !nameRe.MatchString(name) {
			return nil, apierr.New(apierr.KindParseError, fmt.Sprintf("line %d: invalid process type name %q", lineNo, name))
		}
		if command == "" {
			return nil, apierr.New(apierr.KindParseError, fmt.Sprintf("line %d: empty command for %q", lineNo, name))
		}
		if _, exists := result[name]; exists {
			return nil, apierr.New(apierr.KindParseError, fmt.Sprintf("line %d: duplicate process type %q", lineNo, name))
		}
		result[name] = command
	}
	if err := scanner.Err(); err != nil {
		return nil, apierr.Wrap(apierr.KindParseError, "failed to read manifest", err)
	}
	if len(result) == 0 {
		return nil, apierr.New(apierr.KindParseError, "manifest declares no process types")
	}
	return result, nil
}

// SplitArgv splits a manifest command line into argv, respecting single-
// and double-quoted segments, per spec.md §4.2 ("Commands are not
// shell-interpreted").
func SplitArgv(command string) ([]string, error) {
	var argv []string
	var cur strings.Builder
	var quote rune
	inWord := false

	flush := func() {
		if inWord {
			argv = append(argv, cur.String())
			cur.Reset()
			inWord = false
		}
	}

	for _, r := range command {
		switch {
		case quote != 0:
			if r == quote {
				quote = 0
			} else {
				cur.WriteRune(r)
			}
		case r == '\'' || r == '"':
			quote = r
			inWord = true
		case r == ' ' || r == '\t':
			flush()
		default:
			inWord = true
			cur.WriteRune(r)
		}
	}
	if quote != 0 {
		return nil, fmt.Errorf("unterminated quote in command %q", command)
	}
	flush()
	if len(argv) == 0 {
		return nil, fmt.Errorf("empty command")
	}
	return argv, nil
}
