package presence

import (
	"encoding/json"
	"fmt"

	"github.com/aretw0/concord/pkg/domain"
)

// Patch is the wire form of an Update.
// An absent field is left untouched; null or {} clears it. Any other object overwrites it,
// including a cursor at the origin.
type Patch struct {
	Cursor    json.RawMessage `json:"cursor,omitempty" jsonschema_description:"Cursor {view,x,y,z}; null or {} clears it"`
	Selection json.RawMessage `json:"selection,omitempty" jsonschema_description:"Selection {view,ids}; null or {} clears it"`
}

// Update decodes the patch.
func (p Patch) Update() (Update, error) {
	var u Update
	if len(p.Cursor) > 0 {
		data, err := rawFields("cursor", p.Cursor)
		if err != nil {
			return Update{}, err
		}
		cu, err := cursorUpdate(data)
		if err != nil {
			return Update{}, err
		}
		u.Cursor, u.ClearCursor = cu.Cursor, cu.ClearCursor
	}
	if len(p.Selection) > 0 {
		data, err := rawFields("selection", p.Selection)
		if err != nil {
			return Update{}, err
		}
		su, err := selectionUpdate(data)
		if err != nil {
			return Update{}, err
		}
		u.Selection, u.ClearSelection = su.Selection, su.ClearSelection
	}
	return u, nil
}

func rawFields(name string, raw json.RawMessage) (domain.Fields, error) {
	var data domain.Fields
	if err := json.Unmarshal(raw, &data); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", domain.ErrInvalidUpdate, name, err)
	}
	return data, nil
}
