package oauth

import (
	"encoding/json"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRedactedToken(t *testing.T) {
	token := NewRedactedToken("super-secret-token-12345")

	assert.Equal(t, "[REDACTED]", token.String())
	assert.Equal(t, "super-secret-token-12345", token.Value())
	assert.Equal(t, "oauth.RedactedToken{[REDACTED]}", token.GoString())
	assert.False(t, token.IsEmpty())

	t.Run("format verbs", func(t *testing.T) {
		assert.Equal(t, "Token: [REDACTED]", fmt.Sprintf("Token: %s", token))
		assert.Equal(t, "Token: [REDACTED]", fmt.Sprintf("Token: %v", token))
		assert.Equal(t, "Token: oauth.RedactedToken{[REDACTED]}", fmt.Sprintf("Token: %#v", token))
	})

	t.Run("json", func(t *testing.T) {
		data, err := json.Marshal(struct {
			Token RedactedToken `json:"token"`
		}{token})
		require.NoError(t, err)
		assert.JSONEq(t, `{"token":"[REDACTED]"}`, string(data))
		assert.NotContains(t, string(data), "super-secret")
	})

	t.Run("empty", func(t *testing.T) {
		empty := NewRedactedToken("")
		assert.True(t, empty.IsEmpty())
		assert.Equal(t, "[EMPTY]", empty.String())
	})
}

func TestRedactedToken_Fingerprint(t *testing.T) {
	a := NewRedactedToken("token-a")
	assert.Len(t, a.Fingerprint(), 8)
	assert.Equal(t, a.Fingerprint(), NewRedactedToken("token-a").Fingerprint())
	assert.NotEqual(t, a.Fingerprint(), NewRedactedToken("token-b").Fingerprint())
	assert.NotContains(t, a.Fingerprint(), "token")
	assert.Empty(t, NewRedactedToken("").Fingerprint())
}
