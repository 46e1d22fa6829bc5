// Package policy holds the vetting rules applied before any side effect: the terminal
// command allowlist, the browser URL rules and the prohibited-terms guard shared by
// commands and platform drafts. Every rejection is a *custom_errors.VettingError.
package policy

import (
	"fmt"
	"net/url"
	"path/filepath"
	"slices"
	"strings"

	"github.com/RezaEskandarii/autopilot/custom_errors"
)

// ProhibitedTerms are matched case-insensitively as substrings.
var ProhibitedTerms = []string{
	"exfiltrate",
	"credential",
	"password",
	"delete database",
	"ransomware",
	"self-replicate",
}

var shellWrapperSet = map[string]struct{}{
	"bash": {}, "sh": {}, "zsh": {}, "ash": {}, "dash": {}, "ksh": {}, "fish": {}, "csh": {}, "tcsh": {},
}

var allowedSchemes = map[string]struct{}{
	"http": {}, "https": {}, "about": {},
}

type Decision struct {
	Allowed bool
	Reasons []string
}

// Evaluate reports which prohibited terms text contains.
func Evaluate(text string) Decision {
	lowered := strings.ToLower(text)
	var reasons []string
	for _, term := range ProhibitedTerms {
		if strings.Contains(lowered, term) {
			reasons = append(reasons, term)
		}
	}
	return Decision{Allowed: len(reasons) == 0, Reasons: reasons}
}

// VetText rejects text containing a prohibited term.
func VetText(subject, text string) error {
	decision := Evaluate(text)
	if decision.Allowed {
		return nil
	}
	slices.Sort(decision.Reasons)
	return custom_errors.NewVettingError(subject, "contains prohibited term(s): "+strings.Join(decision.Reasons, ", "))
}

// CommandPolicy allows only argv vectors whose program is explicitly listed.
type CommandPolicy struct {
	allowed map[string]struct{}
}

func NewCommandPolicy(allowedBinaries []string) *CommandPolicy {
	allowed := make(map[string]struct{}, len(allowedBinaries))
	for _, bin := range allowedBinaries {
		if bin = strings.TrimSpace(bin); bin != "" {
			allowed[bin] = struct{}{}
		}
	}
	return &CommandPolicy{allowed: allowed}
}

// Vet checks argv before execution. Shell wrappers are rejected even when allowlisted,
// since they would run an arbitrary script.
func (p *CommandPolicy) Vet(argv []string) error {
	if len(argv) == 0 || strings.TrimSpace(argv[0]) == "" {
		return custom_errors.NewVettingError("", "empty command")
	}
	subject := strings.Join(argv, " ")

	if isShellWrapper(argv[0]) {
		return custom_errors.NewVettingError(subject, "shell wrappers are not allowed")
	}
	if _, ok := p.allowed[argv[0]]; !ok {
		return custom_errors.NewVettingError(subject, "binary "+argv[0]+" is not allowlisted")
	}
	return VetText(subject, subject)
}

func isShellWrapper(command string) bool {
	name := strings.ToLower(filepath.Base(strings.TrimSpace(command)))
	_, ok := shellWrapperSet[name]
	return ok
}

// URLPolicy vets browser targets by scheme and, when hosts are configured, by host.
type URLPolicy struct {
	hosts []string
}

func NewURLPolicy(allowedHosts []string) *URLPolicy {
	hosts := make([]string, 0, len(allowedHosts))
	for _, h := range allowedHosts {
		if h = strings.ToLower(strings.TrimSpace(h)); h != "" {
			hosts = append(hosts, h)
		}
	}
	return &URLPolicy{hosts: hosts}
}

// Vet parses raw and returns the URL when it may be visited. A configured host also
// admits its subdomains.
func (p *URLPolicy) Vet(raw string) (*url.URL, error) {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return nil, custom_errors.NewVettingError(raw, "unparseable url: "+err.Error())
	}

	scheme := strings.ToLower(u.Scheme)
	if _, ok := allowedSchemes[scheme]; !ok {
		return nil, custom_errors.NewVettingError(raw, fmt.Sprintf("scheme %q is not allowed", u.Scheme))
	}

	if scheme != "about" {
		host := strings.ToLower(u.Hostname())
		if host == "" {
			return nil, custom_errors.NewVettingError(raw, "url has no host")
		}
		if len(p.hosts) > 0 && !p.hostAllowed(host) {
			return nil, custom_errors.NewVettingError(raw, "host "+host+" is not allowlisted")
		}
	}

	if err := VetText(raw, raw); err != nil {
		return nil, err
	}
	return u, nil
}

func (p *URLPolicy) hostAllowed(host string) bool {
	for _, allowed := range p.hosts {
		if host == allowed || strings.HasSuffix(host, "."+allowed) {
			return true
		}
	}
	return false
}
