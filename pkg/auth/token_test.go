package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestBearerToken(t *testing.T) {
	tests := []struct {
		name    string
		headers map[string]string
		want    string
		wantOK  bool
	}{
		{"bearer", map[string]string{"Authorization": "Bearer s3cret"}, "s3cret", true},
		{"bearer lowercase scheme", map[string]string{"Authorization": "bearer s3cret"}, "s3cret", true},
		{"custom header", map[string]string{TokenHeader: "s3cret"}, "s3cret", true},
		{"authorization wins", map[string]string{"Authorization": "Bearer a", TokenHeader: "b"}, "a", true},
		{"basic scheme falls through", map[string]string{"Authorization": "Basic abc", TokenHeader: "b"}, "b", true},
		{"empty bearer", map[string]string{"Authorization": "Bearer   "}, "", false},
		{"none", nil, "", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodPost, "/", nil)
			for k, v := range tt.headers {
				r.Header.Set(k, v)
			}
			got, ok := BearerToken(r)
			assert.Equal(t, tt.wantOK, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestHasQueryCredential(t *testing.T) {
	assert.True(t, HasQueryCredential(httptest.NewRequest(http.MethodPost, "/x?token=abc", nil)))
	assert.True(t, HasQueryCredential(httptest.NewRequest(http.MethodPost, "/x?access_token=", nil)))
	assert.True(t, HasQueryCredential(httptest.NewRequest(http.MethodPost, "/x?secret=1", nil)))
	assert.False(t, HasQueryCredential(httptest.NewRequest(http.MethodPost, "/x?account=work", nil)))
}

func TestTokenEqual(t *testing.T) {
	assert.True(t, TokenEqual("abc", "abc"))
	assert.False(t, TokenEqual("abc", "abd"))
	assert.False(t, TokenEqual("ab", "abc"))
	assert.False(t, TokenEqual("", ""))
}
