package docgen

import (
	"encoding/json"
	"testing"
)

// defProperties extracts the properties map for a named $defs entry.
func defProperties(t *testing.T, raw map[string]interface{}, defName string) map[string]interface{} {
	t.Helper()
	defs, ok := raw["$defs"].(map[string]interface{})
	if !ok {
		t.Fatal("no $defs")
	}
	def, ok := defs[defName].(map[string]interface{})
	if !ok {
		t.Fatalf("no %s definition in $defs", defName)
	}
	props, ok := def["properties"].(map[string]interface{})
	if !ok {
		t.Fatalf("%s has no properties", defName)
	}
	return props
}

func marshalSchema(t *testing.T, v interface{}) map[string]interface{} {
	t.Helper()
	data, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var raw map[string]interface{}
	if err := json.Unmarshal(data, &raw); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	return raw
}

func TestGenerateProjectSchema(t *testing.T) {
	s, err := GenerateProjectSchema()
	if err != nil {
		t.Fatalf("GenerateProjectSchema: %v", err)
	}
	raw := marshalSchema(t, s)

	props := defProperties(t, raw, "ProjectRecord")
	for _, expected := range []string{"id", "name", "path", "team"} {
		if _, ok := props[expected]; !ok {
			t.Errorf("missing ProjectRecord property %q", expected)
		}
	}
	// Should NOT have Go-style names.
	for _, bad := range []string{"ID", "Name", "Path"} {
		if _, ok := props[bad]; ok {
			t.Errorf("found Go-style property %q, expected TOML name", bad)
		}
	}
}

func TestGenerateTeamSchema(t *testing.T) {
	s, err := GenerateTeamSchema()
	if err != nil {
		t.Fatalf("GenerateTeamSchema: %v", err)
	}
	raw := marshalSchema(t, s)

	teamProps := defProperties(t, raw, "TeamRecord")
	for _, expected := range []string{"id", "name", "members"} {
		if _, ok := teamProps[expected]; !ok {
			t.Errorf("missing TeamRecord property %q", expected)
		}
	}

	memberProps := defProperties(t, raw, "MemberRecord")
	for _, expected := range []string{"id", "name", "role", "skills"} {
		if _, ok := memberProps[expected]; !ok {
			t.Errorf("missing MemberRecord property %q", expected)
		}
	}
}

func TestTeamSchemaDescriptions(t *testing.T) {
	s, err := GenerateTeamSchema()
	if err != nil {
		t.Fatalf("GenerateTeamSchema: %v", err)
	}
	raw := marshalSchema(t, s)

	memberProps := defProperties(t, raw, "MemberRecord")
	roleField, ok := memberProps["role"].(map[string]interface{})
	if !ok {
		t.Fatal("MemberRecord role property not a map")
	}
	if desc, ok := roleField["description"].(string); !ok || desc == "" {
		t.Error("MemberRecord.role has no description — AddGoComments may not be extracting comments")
	}
}

func TestGenerateStateSchema(t *testing.T) {
	s, err := GenerateStateSchema()
	if err != nil {
		t.Fatalf("GenerateStateSchema: %v", err)
	}
	raw := marshalSchema(t, s)

	props := defProperties(t, raw, "Document")
	for _, expected := range []string{"orchestrator", "teams"} {
		if _, ok := props[expected]; !ok {
			t.Errorf("missing Document property %q", expected)
		}
	}
}
