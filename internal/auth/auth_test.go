package auth

import (
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAuthenticateBindsTenant(t *testing.T) {
	tokens := []TokenConfig{
		{Token: "tok-a", Tenant: "tenant-a", Scopes: []string{ScopeWebhooksRW}},
		{Token: "tok-b", Tenant: "tenant-b", Scopes: []string{ScopeEventsPublish}},
	}

	p, ok := Authenticate("tok-b", tokens)
	require.True(t, ok)
	assert.Equal(t, "tenant-b", p.Tenant)
	assert.True(t, HasAnyScope(p, ScopeEventsPublish))
	assert.False(t, HasAnyScope(p, ScopeWebhooksRO))

	_, ok = Authenticate("tok-c", tokens)
	assert.False(t, ok)
	_, ok = Authenticate("", tokens)
	assert.False(t, ok)
}

func TestWriteImpliesRead(t *testing.T) {
	p, ok := Authenticate("tok", []TokenConfig{{Token: "tok", Tenant: "t", Scopes: []string{" webhooks:rw "}}})
	require.True(t, ok)
	assert.True(t, HasAnyScope(p, ScopeWebhooksRO))
	assert.True(t, HasAnyScope(p, ScopeWebhooksRW))
	assert.False(t, HasAnyScope(p, ScopeEventsRO))
}

func TestWildcardScope(t *testing.T) {
	p, _ := Authenticate("tok", []TokenConfig{{Token: "tok", Tenant: "t", Scopes: []string{ScopeAll}}})
	assert.True(t, HasAnyScope(p, ScopeEventsRO, ScopeWebhooksRW))
	assert.True(t, HasAnyScope(p))
}

func TestExtractBearerToken(t *testing.T) {
	tests := []struct {
		header  string
		want    string
		wantErr bool
	}{
		{header: "Bearer abc", want: "abc"},
		{header: "Bearer   abc  ", want: "abc"},
		{header: "", wantErr: true},
		{header: "Basic abc", wantErr: true},
		{header: "Bearer ", wantErr: true},
	}
	for _, tt := range tests {
		req := httptest.NewRequest("GET", "/", nil)
		if tt.header != "" {
			req.Header.Set("Authorization", tt.header)
		}
		got, err := ExtractBearerToken(req)
		if tt.wantErr {
			assert.Error(t, err, tt.header)
			continue
		}
		require.NoError(t, err)
		assert.Equal(t, tt.want, got)
	}
}

func TestKnownScope(t *testing.T) {
	assert.True(t, KnownScope("webhooks:ro"))
	assert.True(t, KnownScope("*"))
	assert.False(t, KnownScope("plugin:rw"))
}
