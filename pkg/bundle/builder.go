// Package bundle builds transactional update set payloads in the
// platform's retrieved update set XML format. A bundle carries one
// sys_remote_update_set row plus one sys_update_xml member per artifact,
// ready to upload to an instance or write to disk for manual import.
package bundle

import (
	"bytes"
	"encoding/json"
	"encoding/xml"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/glidepush/glidepush/pkg/platform"
)

// platformTimeLayout is the timestamp format the platform uses in exports.
const platformTimeLayout = "2006-01-02 15:04:05"

// Item is one artifact to include in a bundle.
type Item struct {
	// Kind is the artifact kind.
	Kind platform.ArtifactKind `json:"kind"`

	// Name is the artifact's display name.
	Name string `json:"name"`

	// Definition is the artifact body as a JSON object. Top-level fields
	// become record columns; nested values are stored as compact JSON.
	Definition json.RawMessage `json:"definition"`

	// SysID optionally pins the record's sys_id. A local one is assigned
	// when empty.
	SysID string `json:"sys_id,omitempty"`
}

// Member is one sys_update_xml row inside a bundle.
type Member struct {
	// SysID is the member row's own sys_id.
	SysID string `json:"sys_id"`

	// Table is the target table of the carried record.
	Table string `json:"table"`

	// TargetSysID is the sys_id of the carried record.
	TargetSysID string `json:"target_sys_id"`

	// TargetName is the display name of the carried record.
	TargetName string `json:"target_name"`

	// Name is the member name in the platform's convention:
	// "<table>_<target sys_id>".
	Name string `json:"name"`

	// Type is the human-readable record type.
	Type string `json:"type"`

	// Fields are the carried record's columns.
	Fields map[string]string `json:"fields"`
}

// Bundle is a buildable remote update set.
type Bundle struct {
	// SysID is the remote update set's sys_id.
	SysID string `json:"sys_id"`

	// Name is the update set name shown on the platform.
	Name string `json:"name"`

	// Description explains what the bundle contains.
	Description string `json:"description"`

	// CreatedAt stamps the unload envelope.
	CreatedAt time.Time `json:"created_at"`

	// Members are the carried records in insertion order.
	Members []Member `json:"members"`
}

// NewLocalSysID returns a locally generated 32-hex sys_id, matching the
// platform's identifier shape.
func NewLocalSysID() string {
	return strings.ReplaceAll(uuid.New().String(), "-", "")
}

// Build assembles a bundle from the given items. Each item's definition
// must be a JSON object; the kind's name field and a sys_id are filled in
// when the definition lacks them.
func Build(name, description string, items []Item) (*Bundle, error) {
	if name == "" {
		return nil, fmt.Errorf("bundle name is required")
	}
	if len(items) == 0 {
		return nil, fmt.Errorf("bundle needs at least one artifact")
	}

	b := &Bundle{
		SysID:       NewLocalSysID(),
		Name:        name,
		Description: description,
		CreatedAt:   time.Now().UTC(),
		Members:     make([]Member, 0, len(items)),
	}

	for _, item := range items {
		spec, err := platform.SpecFor(item.Kind)
		if err != nil {
			return nil, fmt.Errorf("artifact %q: %w", item.Name, err)
		}

		fields, err := flattenDefinition(item.Definition)
		if err != nil {
			return nil, fmt.Errorf("artifact %q: %w", item.Name, err)
		}

		if fields[spec.NameField] == "" {
			fields[spec.NameField] = item.Name
		}

		targetID := item.SysID
		if targetID == "" {
			targetID = fields["sys_id"]
		}
		if targetID == "" {
			targetID = NewLocalSysID()
		}
		fields["sys_id"] = targetID

		b.Members = append(b.Members, Member{
			SysID:       NewLocalSysID(),
			Table:       spec.Table,
			TargetSysID: targetID,
			TargetName:  item.Name,
			Name:        spec.Table + "_" + targetID,
			Type:        spec.DisplayName,
			Fields:      fields,
		})
	}

	return b, nil
}

// XML renders the bundle as a retrieved update set document: an <unload>
// envelope holding the sys_remote_update_set row and one sys_update_xml
// row per member.
func (b *Bundle) XML() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteString(xml.Header)

	enc := xml.NewEncoder(&buf)
	enc.Indent("", "  ")

	root := xml.StartElement{
		Name: xml.Name{Local: "unload"},
		Attr: []xml.Attr{
			{Name: xml.Name{Local: "unload_date"}, Value: b.CreatedAt.Format(platformTimeLayout)},
		},
	}
	if err := enc.EncodeToken(root); err != nil {
		return nil, fmt.Errorf("encode unload envelope: %w", err)
	}

	if err := encodeRecord(enc, "sys_remote_update_set", b.setFields()); err != nil {
		return nil, fmt.Errorf("encode update set row: %w", err)
	}

	for _, m := range b.Members {
		payload, err := renderPayload(m.Table, m.Fields)
		if err != nil {
			return nil, fmt.Errorf("render payload for %s: %w", m.Name, err)
		}
		if err := encodeRecord(enc, "sys_update_xml", m.memberFields(b.SysID, b.CreatedAt, payload)); err != nil {
			return nil, fmt.Errorf("encode member %s: %w", m.Name, err)
		}
	}

	if err := enc.EncodeToken(root.End()); err != nil {
		return nil, fmt.Errorf("close unload envelope: %w", err)
	}
	if err := enc.Flush(); err != nil {
		return nil, fmt.Errorf("flush bundle XML: %w", err)
	}

	buf.WriteByte('\n')
	return buf.Bytes(), nil
}

// Payload renders the member's escaped record document, the same markup
// the payload column carries in the XML export. Used when staging members
// row by row through the Table API.
func (m *Member) Payload() (string, error) {
	return renderPayload(m.Table, m.Fields)
}

// field is one column in rendered order.
type field struct {
	name  string
	value string
}

// setFields returns the sys_remote_update_set row columns.
func (b *Bundle) setFields() []field {
	return []field{
		{"application_name", "Global"},
		{"application_scope", "global"},
		{"description", b.Description},
		{"name", b.Name},
		{"release_date", ""},
		{"state", "loaded"},
		{"sys_created_on", b.CreatedAt.Format(platformTimeLayout)},
		{"sys_id", b.SysID},
	}
}

// memberFields returns the sys_update_xml row columns for one member.
func (m *Member) memberFields(setID string, createdAt time.Time, payload string) []field {
	return []field{
		{"category", "customer"},
		{"name", m.Name},
		{"payload", payload},
		{"remote_update_set", setID},
		{"sys_created_on", createdAt.Format(platformTimeLayout)},
		{"sys_id", m.SysID},
		{"table", m.Table},
		{"target_name", m.TargetName},
		{"type", m.Type},
		{"update_domain", "global"},
	}
}

// encodeRecord writes one <table action="INSERT_OR_UPDATE"> row with its
// columns as child elements.
func encodeRecord(enc *xml.Encoder, table string, fields []field) error {
	start := xml.StartElement{
		Name: xml.Name{Local: table},
		Attr: []xml.Attr{
			{Name: xml.Name{Local: "action"}, Value: "INSERT_OR_UPDATE"},
		},
	}
	if err := enc.EncodeToken(start); err != nil {
		return err
	}
	for _, f := range fields {
		el := xml.StartElement{Name: xml.Name{Local: f.name}}
		if err := enc.EncodeElement(f.value, el); err != nil {
			return err
		}
	}
	return enc.EncodeToken(start.End())
}

// renderPayload produces the escaped record document carried inside a
// member's payload column: <record_update table="..."><table ...>columns
// sorted by name</table></record_update>.
func renderPayload(table string, fields map[string]string) (string, error) {
	names := make([]string, 0, len(fields))
	for name := range fields {
		names = append(names, name)
	}
	sort.Strings(names)

	ordered := make([]field, 0, len(names))
	for _, name := range names {
		ordered = append(ordered, field{name, fields[name]})
	}

	var buf bytes.Buffer
	buf.WriteString(xml.Header)

	enc := xml.NewEncoder(&buf)
	wrapper := xml.StartElement{
		Name: xml.Name{Local: "record_update"},
		Attr: []xml.Attr{
			{Name: xml.Name{Local: "table"}, Value: table},
		},
	}
	if err := enc.EncodeToken(wrapper); err != nil {
		return "", err
	}
	if err := encodeRecord(enc, table, ordered); err != nil {
		return "", err
	}
	if err := enc.EncodeToken(wrapper.End()); err != nil {
		return "", err
	}
	if err := enc.Flush(); err != nil {
		return "", err
	}

	return buf.String(), nil
}

// flattenDefinition converts a JSON object definition into record columns.
// Scalar values become strings the way the platform stores them; nested
// structures are kept as compact JSON.
func flattenDefinition(definition json.RawMessage) (map[string]string, error) {
	if len(definition) == 0 {
		return nil, fmt.Errorf("definition is empty")
	}

	var obj map[string]interface{}
	if err := json.Unmarshal(definition, &obj); err != nil {
		return nil, fmt.Errorf("definition is not a JSON object: %w", err)
	}

	fields := make(map[string]string, len(obj))
	for k, v := range obj {
		switch t := v.(type) {
		case nil:
			fields[k] = ""
		case string:
			fields[k] = t
		case bool:
			fields[k] = strconv.FormatBool(t)
		case float64:
			fields[k] = strconv.FormatFloat(t, 'f', -1, 64)
		default:
			data, err := json.Marshal(v)
			if err != nil {
				return nil, fmt.Errorf("field %q: %w", k, err)
			}
			fields[k] = string(data)
		}
	}

	return fields, nil
}
