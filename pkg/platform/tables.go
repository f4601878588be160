package platform

import (
	"encoding/json"
	"fmt"
	"sort"
)

// ArtifactKind identifies the family of artifact being deployed.
type ArtifactKind string

const (
	// KindFlow is a Flow Designer flow.
	KindFlow ArtifactKind = "flow"

	// KindWidget is a Service Portal widget.
	KindWidget ArtifactKind = "widget"

	// KindScript is a script include.
	KindScript ArtifactKind = "script"

	// KindPackage is the pseudo-kind for a staged remote update set. It is
	// not deployable on its own; verification uses it to confirm a package
	// was loaded and previewed.
	KindPackage ArtifactKind = "package"
)

// Validate checks if the artifact kind is known.
func (k ArtifactKind) Validate() error {
	if _, ok := kindRegistry[k]; !ok {
		return fmt.Errorf("unknown artifact kind: %s", k)
	}
	return nil
}

// Deployable returns true if requests may carry this kind. The package
// pseudo-kind exists only for verification.
func (k ArtifactKind) Deployable() bool {
	return k != KindPackage && kindRegistry[k] != nil
}

// MarshalJSON implements custom JSON marshaling for type-safe enum serialization.
func (k ArtifactKind) MarshalJSON() ([]byte, error) {
	return json.Marshal(string(k))
}

// UnmarshalJSON implements custom JSON unmarshaling with validation.
func (k *ArtifactKind) UnmarshalJSON(data []byte) error {
	var str string
	if err := json.Unmarshal(data, &str); err != nil {
		return err
	}
	*k = ArtifactKind(str)
	return k.Validate()
}

// SignalSpec describes a secondary collection consulted during
// verification. When RefField is set the query needs the primary record's
// sys_id; otherwise NameField matches by artifact name. ExtraQuery is a
// fixed predicate appended to every query against the collection.
type SignalSpec struct {
	// Table is the collection to query.
	Table string `json:"table"`

	// RefField is the foreign-key column pointing at the primary record.
	RefField string `json:"ref_field,omitempty"`

	// NameField matches rows by artifact name when no sys_id is available.
	NameField string `json:"name_field,omitempty"`

	// ExtraQuery is appended to the query with "^".
	ExtraQuery string `json:"extra_query,omitempty"`
}

// KindSpec describes where a kind's records live on the platform and which
// secondary collections provide structural and activation evidence.
type KindSpec struct {
	// Kind is the artifact kind this spec describes.
	Kind ArtifactKind `json:"kind"`

	// Table is the primary collection for the kind.
	Table string `json:"table"`

	// NameField is the column holding the artifact name in the primary
	// collection.
	NameField string `json:"name_field"`

	// DisplayName is the human-readable kind name for messages.
	DisplayName string `json:"display_name"`

	// Detail is the structural evidence signal (snapshot, template,
	// metadata row).
	Detail *SignalSpec `json:"detail,omitempty"`

	// Binding is the activation evidence signal (trigger, page instance,
	// active flag).
	Binding *SignalSpec `json:"binding,omitempty"`
}

var kindRegistry = map[ArtifactKind]*KindSpec{
	KindFlow: {
		Kind:        KindFlow,
		Table:       "sys_hub_flow",
		NameField:   "name",
		DisplayName: "flow",
		Detail: &SignalSpec{
			Table:    "sys_hub_flow_snapshot",
			RefField: "flow",
			// Snapshot rows mirror the flow name, so a name match works
			// before the flow's sys_id is known.
			NameField: "name",
		},
		Binding: &SignalSpec{
			Table:    "sys_hub_trigger_instance",
			RefField: "flow",
		},
	},
	KindWidget: {
		Kind:        KindWidget,
		Table:       "sp_widget",
		NameField:   "name",
		DisplayName: "widget",
		Detail: &SignalSpec{
			Table:      "sp_widget",
			NameField:  "name",
			ExtraQuery: "templateISNOTEMPTY",
		},
		Binding: &SignalSpec{
			Table:    "sp_instance",
			RefField: "widget",
		},
	},
	KindScript: {
		Kind:        KindScript,
		Table:       "sys_script_include",
		NameField:   "name",
		DisplayName: "script include",
		Detail: &SignalSpec{
			Table:      "sys_metadata",
			NameField:  "sys_name",
			ExtraQuery: "sys_class_name=sys_script_include",
		},
		Binding: &SignalSpec{
			Table:      "sys_script_include",
			NameField:  "name",
			ExtraQuery: "active=true",
		},
	},
	KindPackage: {
		Kind:        KindPackage,
		Table:       "sys_remote_update_set",
		NameField:   "name",
		DisplayName: "update set",
		Detail: &SignalSpec{
			Table:    "sys_update_xml",
			RefField: "remote_update_set",
		},
		Binding: &SignalSpec{
			Table:      "sys_remote_update_set",
			NameField:  "name",
			ExtraQuery: "stateINpreviewed,committed",
		},
	},
}

// SpecFor returns the table spec for a kind.
func SpecFor(kind ArtifactKind) (*KindSpec, error) {
	spec, ok := kindRegistry[kind]
	if !ok {
		return nil, fmt.Errorf("unknown artifact kind: %s", kind)
	}
	return spec, nil
}

// Kinds returns all deployable kinds in stable order.
func Kinds() []ArtifactKind {
	kinds := make([]ArtifactKind, 0, len(kindRegistry))
	for k := range kindRegistry {
		if k.Deployable() {
			kinds = append(kinds, k)
		}
	}
	sort.Slice(kinds, func(i, j int) bool { return kinds[i] < kinds[j] })
	return kinds
}
