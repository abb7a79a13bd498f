package handlers

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/fulmenhq/gofulmen/appidentity"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/qrandom/qrandom/internal/appid"
)

func getVersion(t *testing.T, handler http.HandlerFunc) VersionResponse {
	t.Helper()
	rec := httptest.NewRecorder()
	handler(rec, httptest.NewRequest(http.MethodGet, "/version", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var resp VersionResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	return resp
}

func TestVersionHandlerReportsBuildAndSources(t *testing.T) {
	SetVersionInfo("1.2.3", "abcd123", "2026-01-07T12:00:00Z")
	SetAppIdentity(&appidentity.Identity{BinaryName: "qrandom-edge"})
	t.Cleanup(func() { SetAppIdentity(nil) })

	resp := getVersion(t, NewVersionHandler(func() []string {
		return []string{"ANU QRNG", "Local Fallback QRNG"}
	}))

	assert.Equal(t, "qrandom-edge", resp.App.Name)
	assert.Equal(t, "1.2.3", resp.App.Version)
	assert.Equal(t, "abcd123", resp.App.Commit)
	assert.Equal(t, []string{"ANU QRNG", "Local Fallback QRNG"}, resp.Sources)
	assert.NotEmpty(t, resp.Dependencies.Gofulmen)
	assert.NotEmpty(t, resp.Dependencies.Crucible)
}

func TestVersionHandlerWithoutService(t *testing.T) {
	SetAppIdentity(nil)

	resp := getVersion(t, NewVersionHandler(nil))

	assert.Equal(t, appid.BinaryName, resp.App.Name)
	assert.NotNil(t, resp.Sources)
	assert.Empty(t, resp.Sources)
}
