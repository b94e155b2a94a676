package translate

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTranslate_KnownFieldsUseCanonicalMap(t *testing.T) {
	assert.Equal(t, []string{"name"}, Translate("metadata", "company_name"))
	assert.Equal(t, []string{"industry"}, Translate("llm_inference", "ai_industry"))
	assert.Equal(t, []string{"employeeCount"}, Translate("people_api", "employee_count"))
}

func TestTranslate_RegistryLegalNameFansOutToTwoCanonicalKeys(t *testing.T) {
	got := Translate("registry", "legal_name")
	assert.ElementsMatch(t, []string{"name", "legal_name"}, got)
}

func TestTranslate_UnknownFieldStripsAIPrefixAndCamelCases(t *testing.T) {
	got := Translate("some_new_source", "ai_some_new_field")
	assert.Equal(t, []string{"someNewField"}, got)
}

func TestTranslate_UnknownFieldWithoutAIPrefixStillCamelCases(t *testing.T) {
	got := Translate("some_new_source", "some_field")
	assert.Equal(t, []string{"someField"}, got)
}

func TestTranslateFields_FansOutRegistryLegalNameIntoBothKeys(t *testing.T) {
	out := TranslateFields("registry", map[string]any{
		"legal_name": "Acme Ltda",
		"region":     "SP",
	})
	assert.Equal(t, "Acme Ltda", out["name"])
	assert.Equal(t, "Acme Ltda", out["legal_name"])
	assert.Equal(t, "SP", out["state"])
}

func TestTranslateFields_IsIdempotentOnAlreadyCanonicalUnknownKeys(t *testing.T) {
	first := TranslateFields("metadata", map[string]any{"company_name": "Acme"})
	second := TranslateFields("metadata", first)
	assert.Equal(t, first, second)
}
