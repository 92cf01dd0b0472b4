// limits.go contains output and file size limits for sandbox operations.

package policy

// MaxShellOutput is the maximum number of bytes of combined shell
// output returned to callers. Longer output is truncated.
const MaxShellOutput = 10000

// MaxFileBytes is the maximum size for file reads and writes (5 MiB).
const MaxFileBytes = 5 * 1024 * 1024

// TruncationMarker is appended to shell output that was cut at
// MaxShellOutput.
const TruncationMarker = "\n...[truncated]"

// TruncateOutput cuts s at MaxShellOutput bytes and appends
// TruncationMarker. Output at or under the limit is returned unchanged.
func TruncateOutput(s string) string {
	if len(s) <= MaxShellOutput {
		return s
	}
	return s[:MaxShellOutput] + TruncationMarker
}
