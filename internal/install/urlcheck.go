package install

import (
	"fmt"
	"net/url"
	"strings"
)

const binaryExtension = ".apk"

// Hosts a package may be fetched from; a console policy file can extend
// this set. Subdomains of a trusted host are trusted too.
var trustedHosts = []string{
	"f-droid.org",
	"github.com",
	"objects.githubusercontent.com",
	"gitlab.com",
}

// ValidateURL accepts only HTTPS URLs on a trusted host (exact match or
// subdomain) whose path ends in the binary extension.
func ValidateURL(raw string, extraHosts []string) (string, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return "", fmt.Errorf("install url is empty")
	}
	parsed, parseError := url.Parse(trimmed)
	if parseError != nil {
		return "", fmt.Errorf("invalid install url: %w", parseError)
	}
	if parsed.Scheme != "https" {
		return "", fmt.Errorf("install url must use https, not %q", parsed.Scheme)
	}

	hostname := strings.ToLower(parsed.Hostname())
	if !hostTrusted(hostname, extraHosts) {
		return "", fmt.Errorf("host %q is not a trusted distribution host", hostname)
	}
	if !strings.HasSuffix(strings.ToLower(parsed.Path), binaryExtension) {
		return "", fmt.Errorf("install url path must end in %s", binaryExtension)
	}
	return parsed.String(), nil
}

func hostTrusted(hostname string, extraHosts []string) bool {
	for _, trusted := range append(append([]string{}, trustedHosts...), extraHosts...) {
		trusted = strings.ToLower(strings.TrimSpace(trusted))
		if trusted == "" {
			continue
		}
		if hostname == trusted || strings.HasSuffix(hostname, "."+trusted) {
			return true
		}
	}
	return false
}
