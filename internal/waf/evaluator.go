package waf

import (
	"net/url"
	"slices"
	"strings"

	"github.com/koltyakov/raccoon/internal/httpproto"
	"github.com/koltyakov/raccoon/internal/netutil"
)

// skipHeaders are headers excluded from pattern matching because they are
// either safe, controlled by the browser, or cause false positives.
var skipHeaders = map[string]struct{}{
	"host":               {},
	"accept":             {},
	"accept-language":    {},
	"accept-encoding":    {},
	"connection":         {},
	"content-length":     {},
	"content-type":       {},
	"cookie":             {},
	"if-modified-since":  {},
	"if-none-match":      {},
	"cache-control":      {},
	"authorization":      {},
	"sec-fetch-dest":     {},
	"sec-fetch-mode":     {},
	"sec-fetch-site":     {},
	"sec-fetch-user":     {},
	"sec-ch-ua":          {},
	"sec-ch-ua-mobile":   {},
	"sec-ch-ua-platform": {},
}

type requestView struct {
	requestURI    string
	path          string
	rawQuery      string
	decodedQuery  string
	plusDecoded   string
	doubleDecoded string // second pass URL-decode to catch double-encoding
	userAgent     string
	headerValues  []string
	uriTooLong    bool
	tooManyHdrs   bool
}

// maxURILength is the longest request target accepted before the request
// is considered suspicious. 8 KiB is the de-facto limit of most servers.
const maxURILength = 8192

// maxHeaderCount is the maximum number of non-exempt headers.
const maxHeaderCount = 64

func newRequestView(req *httpproto.Request) requestView {
	target := req.Path
	rawPath, rawQuery, _ := strings.Cut(target, "?")
	path := rawPath
	if strings.Contains(rawPath, "%") {
		if p, err := url.PathUnescape(rawPath); err == nil {
			path = p
		}
	}

	decodedQuery := rawQuery
	if strings.Contains(rawQuery, "%") {
		if d, err := url.QueryUnescape(rawQuery); err == nil {
			decodedQuery = d
		}
	}

	plusDecoded := rawQuery
	if strings.Contains(rawQuery, "+") {
		plusDecoded = strings.ReplaceAll(rawQuery, "+", " ")
	}

	// %2527 -> %27 -> '
	doubleDecoded := decodedQuery
	if strings.Contains(decodedQuery, "%") {
		if dd, err := url.QueryUnescape(decodedQuery); err == nil && dd != decodedQuery {
			doubleDecoded = dd
		}
	}

	userAgent, _ := req.Header.Lookup("User-Agent")
	headerValues := make([]string, 0, req.Header.Len())
	for name, value := range req.Header.All() {
		if _, skip := skipHeaders[strings.ToLower(name)]; skip {
			continue
		}
		headerValues = append(headerValues, value)
	}

	return requestView{
		requestURI:    target,
		path:          path,
		rawQuery:      rawQuery,
		decodedQuery:  decodedQuery,
		plusDecoded:   plusDecoded,
		doubleDecoded: doubleDecoded,
		userAgent:     userAgent,
		headerValues:  headerValues,
		uriTooLong:    len(target) > maxURILength,
		tooManyHdrs:   len(headerValues) > maxHeaderCount,
	}
}

// check tests the request against every rule and returns on the first match.
func (fw *Firewall) check(req *httpproto.Request) (matched bool, ruleName string) {
	view := newRequestView(req)

	if view.uriTooLong {
		return true, "uri-too-long"
	}
	if view.tooManyHdrs {
		return true, "too-many-headers"
	}

	for i := range fw.rules {
		rl := &fw.rules[i]

		if rl.targets&targetURI != 0 && rl.pattern.MatchString(view.requestURI) {
			return true, rl.name
		}
		if rl.targets&targetPath != 0 && matchPathRule(rl, view.path) {
			return true, rl.name
		}
		if rl.targets&targetQuery != 0 && view.rawQuery != "" {
			if rl.pattern.MatchString(view.rawQuery) ||
				rl.pattern.MatchString(view.decodedQuery) ||
				rl.pattern.MatchString(view.plusDecoded) ||
				(view.doubleDecoded != view.decodedQuery && rl.pattern.MatchString(view.doubleDecoded)) {
				return true, rl.name
			}
		}
		if rl.targets&targetUA != 0 && view.userAgent != "" && rl.pattern.MatchString(view.userAgent) {
			return true, rl.name
		}
		if rl.targets&targetHeaders != 0 && slices.ContainsFunc(view.headerValues, rl.pattern.MatchString) {
			return true, rl.name
		}
	}

	return false, ""
}

func matchPathRule(rl *rule, path string) bool {
	if rl.name == sensitiveFileRule && isWellKnownPath(path) {
		return false
	}
	return rl.pattern.MatchString(path)
}

func isWellKnownPath(path string) bool {
	return path == "/.well-known" || strings.HasPrefix(path, "/.well-known/")
}

func normalizeHost(host string) string {
	return netutil.NormalizeHost(host)
}
