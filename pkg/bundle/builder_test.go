package bundle

import (
	"encoding/json"
	"encoding/xml"
	"strings"
	"testing"

	"github.com/glidepush/glidepush/pkg/platform"
)

func TestNewLocalSysID(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 100; i++ {
		id := NewLocalSysID()
		if len(id) != 32 {
			t.Fatalf("Expected 32-char sys_id, got %d chars: %s", len(id), id)
		}
		if strings.Contains(id, "-") {
			t.Fatalf("Expected no dashes, got: %s", id)
		}
		if seen[id] {
			t.Fatalf("Duplicate sys_id generated: %s", id)
		}
		seen[id] = true
	}
}

func TestBuild_SingleArtifact(t *testing.T) {
	items := []Item{
		{
			Kind:       platform.KindWidget,
			Name:       "incident_board",
			Definition: json.RawMessage(`{"name":"incident_board","template":"<div></div>"}`),
		},
	}

	b, err := Build("deploy incident_board", "generated bundle", items)
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}

	if b.SysID == "" {
		t.Error("Expected bundle sys_id to be assigned")
	}
	if len(b.Members) != 1 {
		t.Fatalf("Expected 1 member, got %d", len(b.Members))
	}

	m := b.Members[0]
	if m.Table != "sp_widget" {
		t.Errorf("Expected table sp_widget, got %s", m.Table)
	}
	if m.TargetSysID == "" {
		t.Error("Expected target sys_id to be assigned")
	}
	if m.Name != "sp_widget_"+m.TargetSysID {
		t.Errorf("Expected member name sp_widget_%s, got %s", m.TargetSysID, m.Name)
	}
	if m.Fields["name"] != "incident_board" {
		t.Errorf("Expected name field preserved, got %q", m.Fields["name"])
	}
	if m.Fields["sys_id"] != m.TargetSysID {
		t.Errorf("Expected definition sys_id to match target, got %q", m.Fields["sys_id"])
	}
}

func TestBuild_PinnedSysID(t *testing.T) {
	pinned := "abcdef0123456789abcdef0123456789"
	items := []Item{
		{
			Kind:       platform.KindScript,
			Name:       "DateUtils",
			Definition: json.RawMessage(`{"script":"var x = 1;"}`),
			SysID:      pinned,
		},
	}

	b, err := Build("deploy DateUtils", "", items)
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}

	m := b.Members[0]
	if m.TargetSysID != pinned {
		t.Errorf("Expected pinned sys_id %s, got %s", pinned, m.TargetSysID)
	}
	if m.Name != "sys_script_include_"+pinned {
		t.Errorf("Expected member name with pinned sys_id, got %s", m.Name)
	}
	// Name field filled from the item when the definition lacks it.
	if m.Fields["name"] != "DateUtils" {
		t.Errorf("Expected name field DateUtils, got %q", m.Fields["name"])
	}
}

func TestBuild_Validation(t *testing.T) {
	valid := []Item{{
		Kind:       platform.KindWidget,
		Name:       "w",
		Definition: json.RawMessage(`{"name":"w"}`),
	}}

	tests := []struct {
		name  string
		setName string
		items []Item
	}{
		{name: "empty bundle name", setName: "", items: valid},
		{name: "no items", setName: "x", items: nil},
		{
			name:    "unknown kind",
			setName: "x",
			items:   []Item{{Kind: "bogus", Name: "w", Definition: json.RawMessage(`{}`)}},
		},
		{
			name:    "definition not an object",
			setName: "x",
			items:   []Item{{Kind: platform.KindWidget, Name: "w", Definition: json.RawMessage(`[1,2]`)}},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := Build(tt.setName, "", tt.items); err == nil {
				t.Error("Expected error, got nil")
			}
		})
	}
}

func TestFlattenDefinition(t *testing.T) {
	def := json.RawMessage(`{
		"name": "w",
		"active": true,
		"order": 100,
		"option_schema": {"fields": [{"name": "limit"}]},
		"roles": null
	}`)

	fields, err := flattenDefinition(def)
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}

	if fields["name"] != "w" {
		t.Errorf("Expected name=w, got %q", fields["name"])
	}
	if fields["active"] != "true" {
		t.Errorf("Expected active=true, got %q", fields["active"])
	}
	if fields["order"] != "100" {
		t.Errorf("Expected order=100, got %q", fields["order"])
	}
	if fields["roles"] != "" {
		t.Errorf("Expected roles empty, got %q", fields["roles"])
	}
	// Nested structures survive as compact JSON.
	var nested map[string]interface{}
	if err := json.Unmarshal([]byte(fields["option_schema"]), &nested); err != nil {
		t.Errorf("Expected option_schema to stay valid JSON, got %q", fields["option_schema"])
	}
}

func TestBundleXML(t *testing.T) {
	items := []Item{
		{
			Kind:       platform.KindWidget,
			Name:       "incident_board",
			Definition: json.RawMessage(`{"name":"incident_board","template":"<div>hi & bye</div>"}`),
		},
		{
			Kind:       platform.KindScript,
			Name:       "DateUtils",
			Definition: json.RawMessage(`{"name":"DateUtils","script":"var x = 1;"}`),
		},
	}

	b, err := Build("glidepush bundle", "two artifacts", items)
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}

	data, err := b.XML()
	if err != nil {
		t.Fatalf("Expected no error rendering XML, got: %v", err)
	}
	doc := string(data)

	for _, want := range []string{
		`<unload unload_date="`,
		`<sys_remote_update_set action="INSERT_OR_UPDATE">`,
		`<state>loaded</state>`,
		`<sys_id>` + b.SysID + `</sys_id>`,
		`<sys_update_xml action="INSERT_OR_UPDATE">`,
		`<name>sp_widget_` + b.Members[0].TargetSysID + `</name>`,
		`<remote_update_set>` + b.SysID + `</remote_update_set>`,
		`<table>sys_script_include</table>`,
	} {
		if !strings.Contains(doc, want) {
			t.Errorf("Expected XML to contain %q", want)
		}
	}

	// The payload markup must be escaped, not nested as real elements.
	if strings.Contains(doc, "<record_update") {
		t.Error("Expected payload XML to be escaped inside the member row")
	}
	if !strings.Contains(doc, "&lt;record_update") {
		t.Error("Expected escaped record_update payload")
	}

	// The document must stay well-formed.
	var envelope struct {
		XMLName xml.Name `xml:"unload"`
	}
	if err := xml.Unmarshal(data, &envelope); err != nil {
		t.Fatalf("Expected well-formed XML, got: %v", err)
	}
}

func TestBundleXML_PayloadRoundTrip(t *testing.T) {
	items := []Item{
		{
			Kind:       platform.KindWidget,
			Name:       "w",
			Definition: json.RawMessage(`{"name":"w","template":"<p>x</p>"}`),
		},
	}

	b, err := Build("bundle", "", items)
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}

	data, err := b.XML()
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}

	// Extract the payload back out and confirm the inner record parses.
	var envelope struct {
		Members []struct {
			Payload string `xml:"payload"`
			Table   string `xml:"table"`
		} `xml:"sys_update_xml"`
	}
	if err := xml.Unmarshal(data, &envelope); err != nil {
		t.Fatalf("Expected well-formed XML, got: %v", err)
	}
	if len(envelope.Members) != 1 {
		t.Fatalf("Expected 1 member row, got %d", len(envelope.Members))
	}

	var record struct {
		XMLName xml.Name `xml:"record_update"`
		Widget  struct {
			Name     string `xml:"name"`
			Template string `xml:"template"`
		} `xml:"sp_widget"`
	}
	if err := xml.Unmarshal([]byte(envelope.Members[0].Payload), &record); err != nil {
		t.Fatalf("Expected payload to parse as record_update, got: %v", err)
	}
	if record.Widget.Name != "w" {
		t.Errorf("Expected widget name w, got %q", record.Widget.Name)
	}
	if record.Widget.Template != "<p>x</p>" {
		t.Errorf("Expected template round-trip, got %q", record.Widget.Template)
	}
}
