package tracking

import (
	"fmt"
	"strings"
)

const embedSrc = "https://cdn.beacon.dev/embed.js"

// Snippet renders the script tag customers paste into their site. The
// loader reads the site key and container id off its own data attributes.
func Snippet(siteKey, containerID string) string {
	return fmt.Sprintf("<script async src=%q data-site-key=%q data-container=%q></script>",
		embedSrc, siteKey, containerID)
}

// scriptMatches reports whether one script node references the container,
// either through our loader's data attribute, a src that embeds the
// container id (gtm.js?id=...), or inline bootstrap code.
func scriptMatches(src, dataContainer, inline, containerID string) bool {
	if containerID == "" {
		return false
	}
	if dataContainer == containerID {
		return true
	}
	if src != "" && strings.Contains(src, containerID) {
		return true
	}
	return strings.Contains(inline, containerID)
}
