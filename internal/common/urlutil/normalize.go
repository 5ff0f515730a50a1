package urlutil

import (
	"fmt"
	"net/url"
	"sort"
	"strings"
)

// ParamPolicy controls how query parameters are treated during normalization.
type ParamPolicy string

const (
	ParamPolicyKeep   ParamPolicy = "keep"
	ParamPolicyStrip  ParamPolicy = "strip"
	ParamPolicySample ParamPolicy = "sample"
)

var defaultPorts = map[string]string{
	"http":  "80",
	"https": "443",
}

// NormalizeOptions configures one call to Normalize.
type NormalizeOptions struct {
	ParamPolicy ParamPolicy
	// BlockList holds parameter-name patterns to strip regardless of policy;
	// entries ending in "*" match by prefix (e.g. "utm_*").
	BlockList []string
	// SeenParamKeys tracks, per path template (scheme://host/path), the first
	// observed value for each parameter key — consulted and mutated only
	// under ParamPolicySample. Callers own its lifetime and locking.
	SeenParamKeys map[string]map[string]string
}

// Normalize applies the admission-time URL canonicalization rules from the
// frontier's normalization contract: reject non-http(s), lowercase host,
// strip default ports and fragments, apply parameter policy, sort query keys.
func Normalize(rawURL string, opts NormalizeOptions) (string, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", fmt.Errorf("parse url: %w", err)
	}

	scheme := strings.ToLower(u.Scheme)
	if scheme != "http" && scheme != "https" {
		return "", fmt.Errorf("unsupported scheme %q", u.Scheme)
	}
	u.Scheme = scheme
	u.Host = strings.ToLower(u.Host)
	u.Fragment = ""

	if host, port, ok := strings.Cut(u.Host, ":"); ok && defaultPorts[scheme] == port {
		u.Host = host
	}

	if u.Path == "" {
		u.Path = "/"
	}

	u.RawQuery = normalizeQuery(u, opts)

	return u.String(), nil
}

func normalizeQuery(u *url.URL, opts NormalizeOptions) string {
	query := u.Query()
	if len(query) == 0 {
		return ""
	}

	for key := range query {
		if isBlocked(key, opts.BlockList) {
			delete(query, key)
		}
	}

	switch opts.ParamPolicy {
	case ParamPolicyStrip:
		return ""
	case ParamPolicySample:
		pathTemplate := u.Scheme + "://" + u.Host + u.Path
		seen, ok := opts.SeenParamKeys[pathTemplate]
		if !ok {
			seen = make(map[string]string)
			if opts.SeenParamKeys != nil {
				opts.SeenParamKeys[pathTemplate] = seen
			}
		}
		for key, values := range query {
			if len(values) == 0 {
				continue
			}
			if firstValue, already := seen[key]; already {
				query[key] = []string{firstValue}
				continue
			}
			seen[key] = values[0]
			query[key] = []string{values[0]}
		}
	case ParamPolicyKeep:
		// fall through
	}

	keys := make([]string, 0, len(query))
	for key := range query {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	var b strings.Builder
	for i, key := range keys {
		if i > 0 {
			b.WriteByte('&')
		}
		values := query[key]
		sort.Strings(values)
		for j, v := range values {
			if j > 0 {
				b.WriteByte('&')
			}
			b.WriteString(url.QueryEscape(key))
			b.WriteByte('=')
			b.WriteString(url.QueryEscape(v))
		}
	}
	return b.String()
}

func isBlocked(key string, blockList []string) bool {
	for _, pattern := range blockList {
		if strings.HasSuffix(pattern, "*") {
			if strings.HasPrefix(key, strings.TrimSuffix(pattern, "*")) {
				return true
			}
			continue
		}
		if key == pattern {
			return true
		}
	}
	return false
}
