// paths.go contains the file path rules for sandbox file operations.
// All paths are confined to the work directory and a set of sensitive
// patterns is denied outright.

package policy

import (
	"errors"
	"fmt"
	"path/filepath"
	"regexp"
	"strings"
)

// WorkRoot is the directory sandbox file operations are confined to.
const WorkRoot = "/work"

// Path rule errors.
var (
	// ErrPathTraversal is returned for paths containing "..".
	ErrPathTraversal = errors.New("path contains traversal")

	// ErrPathOutsideRoot is returned for paths that resolve outside WorkRoot.
	ErrPathOutsideRoot = errors.New("path outside work directory")

	// ErrDeniedPath is returned for paths matching a denied pattern.
	ErrDeniedPath = errors.New("path denied by policy")
)

// DeniedPath describes one entry in the file path denylist.
type DeniedPath struct {
	Name    string
	Pattern *regexp.Regexp
}

// deniedPaths contains pre-compiled patterns for files that must not be
// read or written even when they resolve under WorkRoot. They cover
// credential material a task could plant and then exfiltrate.
var deniedPaths = []DeniedPath{
	{
		Name:    "env_file",
		Pattern: regexp.MustCompile(`(^|/)\.env(\.|$)`),
	},
	{
		Name:    "pem_file",
		Pattern: regexp.MustCompile(`\.pem$`),
	},
	{
		Name:    "key_file",
		Pattern: regexp.MustCompile(`\.key$`),
	},
	{
		Name:    "ssh_identity",
		Pattern: regexp.MustCompile(`id_rsa`),
	},
	{
		Name:    "aws_credentials",
		Pattern: regexp.MustCompile(`\.aws/credentials`),
	},
	{
		Name:    "etc",
		Pattern: regexp.MustCompile(`/etc/`),
	},
	{
		Name:    "root_home",
		Pattern: regexp.MustCompile(`/root/`),
	},
	{
		Name:    "ssh_dir",
		Pattern: regexp.MustCompile(`/home/[^/]+/\.ssh/`),
	},
}

// ResolvePath resolves a caller-supplied path against WorkRoot and
// checks it against the path rules. Relative paths are joined to
// WorkRoot; absolute paths must already lie under it.
//
// It returns the cleaned absolute path, or an error wrapping one of
// ErrPathTraversal, ErrPathOutsideRoot, or ErrDeniedPath.
func ResolvePath(path string) (string, error) {
	return ResolvePathIn(WorkRoot, path)
}

// ResolvePathIn applies the path rules against an explicit root. The
// denylist applies regardless of root.
func ResolvePathIn(root, path string) (string, error) {
	if strings.Contains(path, "..") {
		return "", fmt.Errorf("%w: %q", ErrPathTraversal, path)
	}

	resolved := path
	if !filepath.IsAbs(resolved) {
		resolved = filepath.Join(root, resolved)
	}
	resolved = filepath.Clean(resolved)

	if resolved != root && !strings.HasPrefix(resolved, root+"/") {
		return "", fmt.Errorf("%w: %q", ErrPathOutsideRoot, path)
	}

	for _, dp := range deniedPaths {
		if dp.Pattern.MatchString(path) || dp.Pattern.MatchString(resolved) {
			return "", fmt.Errorf("%w: %s", ErrDeniedPath, dp.Name)
		}
	}

	return resolved, nil
}
