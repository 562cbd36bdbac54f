package presence_test

import (
	"context"
	"strings"
	"testing"

	"github.com/aretw0/concord/pkg/domain"
	"github.com/aretw0/concord/pkg/presence"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSanitizeUsername(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    string
		wantErr error
	}{
		{name: "plain", input: "Ada Lovelace", want: "Ada Lovelace"},
		{name: "ansi escape", input: "\x1b[31mAda\x1b[0m", want: "[31mAda[0m"},
		{name: "newline and null", input: "Ada\n\x00", want: "Ada"},
		{name: "invalid utf8", input: "Ada\xff", wantErr: presence.ErrInvalidUTF8},
		{name: "too large", input: strings.Repeat("a", presence.DefaultMaxUsernameSize+1), wantErr: presence.ErrUsernameTooLarge},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := presence.SanitizeUsername(tt.input)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestSanitizeUsername_EnvLimit(t *testing.T) {
	t.Setenv(presence.EnvMaxUsernameSize, "4")

	_, err := presence.SanitizeUsername("abcde")
	assert.ErrorIs(t, err, presence.ErrUsernameTooLarge)

	got, err := presence.SanitizeUsername("abcd")
	require.NoError(t, err)
	assert.Equal(t, "abcd", got)
}

func TestJoin_SanitizesUsername(t *testing.T) {
	tracker, _ := setup(t)
	ctx := context.Background()

	p, err := tracker.Join(ctx, "s1", domain.Participant{UserID: "u1", Username: "Ada\x07"})
	require.NoError(t, err)
	assert.Equal(t, "Ada", p.Username)

	_, err = tracker.Join(ctx, "s1", domain.Participant{UserID: "u2", Username: "bad\xff"})
	assert.ErrorIs(t, err, domain.ErrInvalidUpdate)
}
