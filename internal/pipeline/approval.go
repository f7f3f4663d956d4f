package pipeline

import (
	"fmt"
	"path"
	"strings"
)

// destructivePatterns are shell signatures that block unconditionally.
// Matching is substring over the lowercased command, same as the command
// sensitivity classifier these came from: an agent that embeds one of
// these anywhere in a command line gets stopped, quoting tricks aside.
var destructivePatterns = []string{
	"rm -rf /",
	"rm -fr /",
	"dd of=/dev/",
	"mkfs",
	"> /dev/sd",
	"chmod -r 777 /",
	":(){ :|:& };:",
	"shutdown",
	"reboot",
}

// protectedPaths are file targets no agent writes to without a human.
var protectedPaths = []string{
	".env",
	".ssh",
	"id_rsa",
	"secrets",
	"credentials",
	".aws",
	".kube",
}

// highRisk reports whether the invocation matches an explicit high-risk
// signature. Everything outside these lists is at most advisory.
func highRisk(command, filePath string) (bool, string) {
	lower := strings.ToLower(command)
	for _, p := range destructivePatterns {
		if strings.Contains(lower, p) {
			return true, fmt.Sprintf("destructive command signature %q", p)
		}
	}

	if filePath != "" {
		clean := strings.ToLower(strings.ReplaceAll(filePath, "\\", "/"))
		base := path.Base(clean)
		for _, p := range protectedPaths {
			if base == p || strings.HasPrefix(base, p+".") ||
				strings.Contains(clean, "/"+p+"/") || strings.HasPrefix(clean, p+"/") {
				return true, fmt.Sprintf("protected path %q", p)
			}
		}
	}

	return false, ""
}
