package presence_test

import (
	"encoding/json"
	"testing"

	"github.com/aretw0/concord/pkg/domain"
	"github.com/aretw0/concord/pkg/presence"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPatch_Update(t *testing.T) {
	tests := []struct {
		name string
		body string
		want presence.Update
	}{
		{name: "absent", body: `{}`, want: presence.Update{}},
		{
			name: "origin",
			body: `{"cursor":{"x":0,"y":0}}`,
			want: presence.Update{Cursor: &domain.Cursor{}},
		},
		{
			name: "move",
			body: `{"cursor":{"view":"viewport3d","x":1.5,"y":2}}`,
			want: presence.Update{Cursor: &domain.Cursor{View: "viewport3d", X: 1.5, Y: 2}},
		},
		{name: "null clears", body: `{"cursor":null}`, want: presence.Update{ClearCursor: true}},
		{name: "empty clears", body: `{"cursor":{},"selection":{ }}`, want: presence.Update{ClearCursor: true, ClearSelection: true}},
		{
			name: "selection",
			body: `{"selection":{"view":"tracks","ids":["t1","t2"]}}`,
			want: presence.Update{Selection: &domain.Selection{View: "tracks", IDs: []string{"t1", "t2"}}},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var p presence.Patch
			require.NoError(t, json.Unmarshal([]byte(tt.body), &p))
			got, err := p.Update()
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestPatch_Invalid(t *testing.T) {
	_, err := presence.Patch{Cursor: json.RawMessage(`[1,2]`)}.Update()
	assert.ErrorIs(t, err, domain.ErrInvalidUpdate)

	_, err = presence.Patch{Cursor: json.RawMessage(`{"x":"left"}`)}.Update()
	assert.ErrorIs(t, err, domain.ErrInvalidUpdate)
}
