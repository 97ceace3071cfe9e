package enrich

import "regexp"

// UAResult is the Enricher's parseUA() output (spec §4.D).
type UAResult struct {
	BrowserName    string
	BrowserVersion string
	OSName         string
	OSVersion      string
	DeviceType     string
	DeviceBrand    string
	DeviceModel    string
}

// No suitable user-agent-parsing library appears anywhere in the retrieved
// example pool (see DESIGN.md), so ParseUA is a small deterministic parser
// built directly on regexp. It is a pure function: identical inputs always
// yield identical outputs (spec §4.D), and it never returns an error: fields
// it cannot recognize are left empty, except DeviceType, which falls back to
// "desktop" for any non-empty input.

type uaBrowserRule struct {
	name    string
	pattern *regexp.Regexp
}

var browserRules = []uaBrowserRule{
	{"Edge", regexp.MustCompile(`Edg(?:A|iOS)?/([\d.]+)`)},
	{"Chrome", regexp.MustCompile(`Chrome/([\d.]+)`)},
	{"Firefox", regexp.MustCompile(`Firefox/([\d.]+)`)},
	{"Safari", regexp.MustCompile(`Version/([\d.]+).*Safari`)},
	{"Opera", regexp.MustCompile(`OPR/([\d.]+)`)},
	{"Samsung Internet", regexp.MustCompile(`SamsungBrowser/([\d.]+)`)},
	{"Internet Explorer", regexp.MustCompile(`MSIE ([\d.]+)`)},
}

type uaOSRule struct {
	name    string
	pattern *regexp.Regexp
}

var osRules = []uaOSRule{
	{"iOS", regexp.MustCompile(`iP(?:hone|ad|od).*OS ([\d_]+)`)},
	{"Android", regexp.MustCompile(`Android ([\d.]+)`)},
	{"Windows", regexp.MustCompile(`Windows NT ([\d.]+)`)},
	{"macOS", regexp.MustCompile(`Mac OS X ([\d_.]+)`)},
	{"Linux", regexp.MustCompile(`Linux`)},
	{"Chrome OS", regexp.MustCompile(`CrOS [^\s]+ ([\d.]+)`)},
}

var (
	tabletPattern = regexp.MustCompile(`iPad|Tablet|Nexus 7|Nexus 10`)
	mobilePattern = regexp.MustCompile(`Mobi|iPhone|Android.*Mobile|BlackBerry|IEMobile`)
)

// ParseUA parses a raw User-Agent header into browser/OS/device fields
// (spec §4.D). An empty input yields an all-empty UAResult; an input with no
// recognized browser or OS token yields empty browser and OS fields with
// DeviceType "desktop".
func ParseUA(ua string) UAResult {
	if ua == "" {
		return UAResult{}
	}

	var result UAResult

	for _, rule := range browserRules {
		if m := rule.pattern.FindStringSubmatch(ua); m != nil {
			result.BrowserName = rule.name
			if len(m) > 1 {
				result.BrowserVersion = normalizeVersion(m[1])
			}
			break
		}
	}

	for _, rule := range osRules {
		if m := rule.pattern.FindStringSubmatch(ua); m != nil {
			result.OSName = rule.name
			if len(m) > 1 {
				result.OSVersion = normalizeVersion(m[1])
			}
			break
		}
	}

	switch {
	case tabletPattern.MatchString(ua):
		result.DeviceType = "tablet"
	case mobilePattern.MatchString(ua):
		result.DeviceType = "mobile"
	default:
		result.DeviceType = "desktop"
	}

	result.DeviceBrand, result.DeviceModel = deviceHint(ua)

	return result
}

// normalizeVersion converts underscore-separated version components (as
// Apple platforms encode them in the UA string) to dotted form.
func normalizeVersion(v string) string {
	out := make([]byte, len(v))
	for i := 0; i < len(v); i++ {
		if v[i] == '_' {
			out[i] = '.'
		} else {
			out[i] = v[i]
		}
	}
	return string(out)
}

var deviceHintPatterns = []struct {
	brand   string
	pattern *regexp.Regexp
}{
	{"Apple", regexp.MustCompile(`iPhone|iPad|iPod|Macintosh`)},
	{"Samsung", regexp.MustCompile(`SM-[A-Za-z0-9]+`)},
	{"Google", regexp.MustCompile(`Pixel [\w ]+`)},
}

// deviceHint makes a best-effort guess at device brand/model from common
// tokens. Returns empty strings when nothing recognizable is present.
func deviceHint(ua string) (brand, model string) {
	for _, h := range deviceHintPatterns {
		if m := h.pattern.FindString(ua); m != "" {
			return h.brand, m
		}
	}
	return "", ""
}
