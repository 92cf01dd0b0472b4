// Package policy enforces the safety rules applied to work performed
// inside task sandboxes.
//
// policy.go contains the shell command blocklist. Commands are matched
// against pre-compiled patterns before execution; a match rejects the
// command outright. The blocklist is deliberately coarse: it exists to
// stop a planner from wrecking the sandbox or the host, not to be a
// full capability model.
package policy

import (
	"errors"
	"fmt"
	"regexp"
)

// ErrBlockedCommand is returned by CheckCommand when a command matches
// a blocklist entry.
var ErrBlockedCommand = errors.New("command blocked by policy")

// BlockedCommand describes one entry in the shell command blocklist.
type BlockedCommand struct {
	Name    string
	Pattern *regexp.Regexp
}

// blockedCommands contains pre-compiled patterns for commands that must
// never run inside a sandbox, regardless of the task goal.
var blockedCommands = []BlockedCommand{
	{
		Name:    "sudo",
		Pattern: regexp.MustCompile(`(?i)\bsudo\s`),
	},
	{
		Name:    "rm_root",
		Pattern: regexp.MustCompile(`\brm\s+(-\S+\s+)*-\S*[rR]\S*\s+(-\S+\s+)*/(\*|\s|$)`),
	},
	{
		Name:    "fork_bomb",
		Pattern: regexp.MustCompile(`:\(\)\s*\{\s*:\s*\|\s*:\s*&?\s*\}\s*;?\s*:?`),
	},
	{
		Name:    "mkfs",
		Pattern: regexp.MustCompile(`\bmkfs(\.\w+)?\b`),
	},
	{
		Name:    "dd_input",
		Pattern: regexp.MustCompile(`\bdd\s+[^|;&]*\bif=`),
	},
	{
		Name:    "shutdown",
		Pattern: regexp.MustCompile(`(?i)\b(shutdown|reboot|halt|poweroff)\b`),
	},
	{
		Name:    "init_runlevel",
		Pattern: regexp.MustCompile(`\binit\s+[0-6]\b`),
	},
	{
		Name:    "block_device_write",
		Pattern: regexp.MustCompile(`(>>?\s*|\bof=)/dev/(sd[a-z]|hd[a-z]|vd[a-z]|xvd[a-z]|nvme\d+)`),
	},
	{
		Name:    "recursive_chmod_root",
		Pattern: regexp.MustCompile(`\bch(mod|own)\s+(-\S+\s+)*-[a-zA-Z]*R[a-zA-Z]*\s+(-\S+\s+)*\S+\s+/(\s|$)`),
	},
	{
		Name:    "pipe_to_shell",
		Pattern: regexp.MustCompile(`\b(curl|wget)\b[^|]*\|\s*(sudo\s+)?(/\S*/)?(ba|da|z|k)?sh(\s|$)`),
	},
	{
		Name:    "netcat_listener",
		Pattern: regexp.MustCompile(`\b(nc|ncat|netcat)\b[^|;&]*\s(-\w*l|--listen)`),
	},
	{
		Name:    "nohup_background",
		Pattern: regexp.MustCompile(`(?i)\bnohup\s`),
	},
}

// CheckCommand reports whether command may run inside a sandbox. It
// returns an error wrapping ErrBlockedCommand and naming the violated
// rule for the first blocklist match, or nil if the command is allowed.
func CheckCommand(command string) error {
	for _, bc := range blockedCommands {
		if bc.Pattern.MatchString(command) {
			return fmt.Errorf("%w: %s", ErrBlockedCommand, bc.Name)
		}
	}
	return nil
}
