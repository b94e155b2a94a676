// Package translate implements C5: the closed translation map from
// source-native field names to the canonical schema exposed to
// consumers (§4.5). The orchestrator's layer runner applies it to each
// adapter result before merging, so every layer-complete event, the
// cached session and the session read path all carry canonical keys;
// sources never translate their own fields. Grounded on the teacher's
// provider.DetectProvider table-dispatch shape, generalized from a
// single switch to a closed key map.
package translate

import (
	"strings"
)

// sourceKey identifies one source-native field by "source.field".
type sourceKey struct {
	source string
	field  string
}

// canonicalMap is the closed table from §4.5. One source-native field
// may feed more than one canonical key (e.g. registry.legal_name backs
// both "name" and "legal_name"), so each entry fans out to a slice.
var canonicalMap = map[sourceKey][]string{
	{"metadata", "company_name"}: {"name"},
	{"places", "business_name"}:  {"name"},
	{"registry", "legal_name"}:   {"name", "legal_name"},

	{"registry", "region"}: {"state"},
	{"places", "state"}:    {"state"},
	{"geoip", "region"}:    {"state"},

	{"places", "city"}: {"city"},
	{"geoip", "city"}:  {"city"},

	{"geoip", "country"}:    {"country"},
	{"registry", "country"}: {"country"},

	{"llm_inference", "ai_industry"}: {"industry"},

	{"llm_inference", "ai_company_size"}: {"companySize"},

	{"people_api", "employee_count"}: {"employeeCount"},

	{"registry", "founded_year"}:   {"foundedYear"},
	{"people_api", "founded_year"}: {"foundedYear"},

	{"linkedin", "linkedin_url"}: {"linkedinUrl"},

	{"metadata", "description"}:      {"description"},
	{"llm_inference", "description"}: {"description"},

	{"places", "phone"}:         {"phone"},
	{"places", "address"}:       {"address"},
	{"places", "rating"}:        {"rating"},
	{"places", "reviews_count"}: {"reviewsCount"},
}

// Translate converts one field, produced by sourceName with native key
// nativeField, into its canonical name(s). Any ai_* prefix is stripped
// first; snake_case is then converted to lowerCamelCase for unknown
// pairs. A single native field may resolve to more than one canonical
// key. Unknown (source, field) pairs pass through the post-strip,
// post-camel-case name unchanged, for forward compatibility — but are
// not part of the documented contract (§4.5).
func Translate(sourceName, nativeField string) []string {
	if canonical, ok := canonicalMap[sourceKey{sourceName, nativeField}]; ok {
		return canonical
	}
	return []string{toLowerCamelCase(stripAIPrefix(nativeField))}
}

// TranslateFields rewrites every key of a source's raw field map into
// canonical keys, in the fixed Translate order. Its one caller is the
// orchestrator's layer runner, which translates each adapter result
// before merge; the session read path returns those stored fields
// without translating again.
func TranslateFields(sourceName string, raw map[string]any) map[string]any {
	out := make(map[string]any, len(raw))
	for field, value := range raw {
		for _, canonical := range Translate(sourceName, field) {
			out[canonical] = value
		}
	}
	return out
}

func stripAIPrefix(field string) string {
	return strings.TrimPrefix(field, "ai_")
}

func toLowerCamelCase(snake string) string {
	parts := strings.Split(snake, "_")
	if len(parts) == 0 {
		return snake
	}
	var sb strings.Builder
	sb.WriteString(strings.ToLower(parts[0]))
	for _, p := range parts[1:] {
		if p == "" {
			continue
		}
		sb.WriteString(strings.ToUpper(p[:1]))
		sb.WriteString(strings.ToLower(p[1:]))
	}
	return sb.String()
}
