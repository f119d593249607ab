package notify

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRender(t *testing.T) {
	tests := []struct {
		kind    Kind
		subject string
		want    string
	}{
		{KindPasswordReset, "Password Reset Request - Eruptible PM", "reset your password"},
		{KindPasswordChanged, "Password Changed - Eruptible PM", "successfully changed"},
		{KindTwoFactorEnabled, "Two-Factor Authentication Enabled - Eruptible PM", "successfully enabled"},
		{KindTwoFactorDisabled, "Two-Factor Authentication Disabled - Eruptible PM", "has been disabled"},
	}

	for _, tt := range tests {
		t.Run(string(tt.kind), func(t *testing.T) {
			m, err := Render(tt.kind, Data{Username: "alice", ResetLink: "http://x/reset-password?token=abc"})
			require.NoError(t, err)
			assert.Equal(t, tt.subject, m.Subject)
			assert.Contains(t, m.Text, "Hello alice,")
			assert.Contains(t, m.HTML, "Hello alice,")
			assert.Contains(t, m.Text, tt.want)
		})
	}
}

func TestRender_ResetLink(t *testing.T) {
	m, err := Render(KindPasswordReset, Data{Username: "bob", ResetLink: "http://localhost:3000/reset-password?token=abc"})
	require.NoError(t, err)
	assert.Contains(t, m.Text, "http://localhost:3000/reset-password?token=abc")
	assert.Contains(t, m.HTML, `href="http://localhost:3000/reset-password?token=abc"`)
}

func TestRender_EscapesHTML(t *testing.T) {
	m, err := Render(KindPasswordChanged, Data{Username: "<script>"})
	require.NoError(t, err)
	assert.NotContains(t, m.HTML, "<script>")
	assert.Contains(t, m.HTML, "&lt;script&gt;")
}

func TestRender_UnknownKind(t *testing.T) {
	_, err := Render(Kind("welcome"), Data{})
	assert.ErrorIs(t, err, ErrUnknownKind)
}
