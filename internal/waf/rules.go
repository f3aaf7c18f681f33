package waf

import (
	"regexp"
	"strings"
)

// target is a bitmask of the request parts a rule inspects.
type target int

const (
	targetPath    target = 1 << iota // percent-decoded path
	targetQuery                      // query string, raw and decoded forms
	targetHeaders                    // header values outside skipHeaders
	targetUA                         // User-Agent only
	targetURI                        // request target exactly as received
)

// rule is a single compiled detection pattern.
type rule struct {
	name    string
	targets target
	pattern *regexp.Regexp
}

// ruleSpec declares a rule as a list of case-insensitive alternatives.
type ruleSpec struct {
	name    string
	targets target
	anyOf   []string
	// exact disables the (?i) flag and uses anyOf[0] as the whole pattern.
	exact bool
}

var ruleSpecs = []ruleSpec{
	{
		name:    "sql-injection",
		targets: targetPath | targetQuery | targetHeaders,
		anyOf: []string{
			`union\s+(?:all\s+)?select`,
			`;\s*(?:drop|delete|insert|update|alter)\s`,
			`'\s*(?:or|and)\s+['"\d].*=`,
			`"\s*(?:or|and)\s+['"\d].*=`,
			`'\s*;\s*--`,
			`/\*[^*]*\*/`,
			`(?:0x[0-9a-f]+|x'[0-9a-f]+')`,
			`(?:benchmark|sleep|waitfor)\s*\(`,
			`(?:load_file|into\s+outfile|into\s+dumpfile)\s*\(`,
		},
	},
	{
		name:    "xss",
		targets: targetPath | targetQuery | targetHeaders,
		anyOf: []string{
			`<\s*script`,
			`javascript\s*:`,
			`\bon\w+\s*=`,
			`<\s*img[^>]+onerror`,
			`document\s*\.\s*(?:cookie|location|write)`,
			`<\s*(?:iframe|object|embed|form|svg|math)[\s>]`,
			`(?:alert|confirm|prompt|eval)\s*\(`,
		},
	},
	{
		name:    "path-traversal",
		targets: targetURI,
		anyOf:   []string{`\.\.[\\/]`, `\.\.%2[fF]`, `\.\.%5[cC]`, `%00`},
	},
	{
		name:    "shell-injection",
		targets: targetQuery | targetHeaders,
		anyOf: []string{
			`\$\(`,
			"`[^`]+`",
			`\|\s*` + shellTools,
			`;\s*` + shellTools,
		},
	},
	{
		name:    "log4shell-jndi",
		targets: targetPath | targetQuery | targetHeaders,
		anyOf:   []string{`\$\{.*?(?:jndi|java)\s*:`},
	},
	{
		name:    "scanner-ua",
		targets: targetUA,
		anyOf: []string{
			"sqlmap", "nikto", "nmap", "masscan", "dirbuster", "gobuster",
			"nuclei", "zgrab", "httpx-toolkit", "nessus", "openvas",
			"acunetix", "w3af", "arachni", "burpsuite", "havij", "commix",
		},
	},
	{
		name:    "header-injection",
		targets: targetHeaders,
		anyOf:   []string{`[\r\n]`},
		exact:   true,
	},
	{
		name:    sensitiveFileRule,
		targets: targetPath,
		anyOf: []string{
			`/\.env`, `/\.git/`, `/\.git$`, `/\.aws/`, `/\.ssh/`,
			`/\.docker/`, `/\.kube/`, `/\.config/`,
			`/wp-admin`, `/wp-login`, `/wp-content/uploads/`,
			`/phpmy`, `/cgi-bin/`, `/autodiscover/`,
			`/etc/passwd`, `/etc/shadow`,
		},
	},
	{
		name:    "protocol-attack",
		targets: targetQuery | targetHeaders,
		anyOf:   []string{`<\?(?:php|=)`, `<%[^>]*%>`, `\bdata\s*:.*base64`},
	},
}

const sensitiveFileRule = "sensitive-file-probe"

const shellTools = `(?:cat|ls|curl|wget|nc|bash|sh|python|perl|ruby|chmod|chown)\b`

// builtinRules is compiled once; a Firewall only holds the slice.
var builtinRules = compileRules(ruleSpecs)

func compileRules(specs []ruleSpec) []rule {
	out := make([]rule, 0, len(specs))
	for _, s := range specs {
		expr := `(?i)(?:` + strings.Join(s.anyOf, "|") + `)`
		if s.exact {
			expr = s.anyOf[0]
		}
		out = append(out, rule{name: s.name, targets: s.targets, pattern: regexp.MustCompile(expr)})
	}
	return out
}

func defaultRules() []rule {
	return builtinRules
}
