package update

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewer(t *testing.T) {
	tests := []struct {
		latest, current string
		want            bool
	}{
		{"1.2.0", "1.1.9", true},
		{"v1.10.0", "1.9.0", true},
		{"1.2.0", "1.2.0", false},
		{"1.2", "1.2.1", false},
		{"2.0.0-rc1", "1.9.9", true},
		{"1.0.0", "dev", false},
		{"", "1.0.0", false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, Newer(tt.latest, tt.current), "%s vs %s", tt.latest, tt.current)
	}
}

func TestCheckUsesCache(t *testing.T) {
	var hits atomic.Int32
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		assert.Equal(t, "/repos/"+GitHubRepo+"/releases/latest", r.URL.Path)
		w.Write([]byte(`{"tag_name":"v1.4.0","html_url":"https://example.test/r/1.4.0"}`))
	}))
	defer ts.Close()

	old := Version
	Version = "1.3.2"
	defer func() { Version = old }()

	c := NewChecker(t.TempDir()).WithAPIURL(ts.URL)
	res, err := c.Check(context.Background(), false)
	require.NoError(t, err)
	assert.True(t, res.HasUpdate)
	assert.Equal(t, "1.4.0", res.Latest)
	assert.False(t, res.Cached)

	res, err = c.Check(context.Background(), false)
	require.NoError(t, err)
	assert.True(t, res.Cached)
	assert.Equal(t, "https://example.test/r/1.4.0", res.URL)
	assert.Equal(t, int32(1), hits.Load())

	_, err = c.Check(context.Background(), true)
	require.NoError(t, err)
	assert.Equal(t, int32(2), hits.Load())
}

func TestCheckAPIError(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	defer ts.Close()

	_, err := NewChecker(t.TempDir()).WithAPIURL(ts.URL).Check(context.Background(), true)
	assert.ErrorContains(t, err, "403")
}
