package observability

import (
	"encoding/json"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func freePort(t *testing.T) int {
	t.Helper()
	return 43000 + (len(t.Name()) * 7 % 2000)
}

func TestHealthzReportsOKPlusStatusFunc(t *testing.T) {
	port := freePort(t)
	hs, err := StartHealthServer(port, func() map[string]any {
		return map[string]any{"agents": 3}
	})
	require.NoError(t, err)
	defer hs.Close()

	resp, err := http.Get(fmt.Sprintf("http://%s/healthz", hs.Addr().String()))
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var body map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, true, body["ok"])
	assert.Equal(t, float64(3), body["agents"])
}

func TestHealthzWorksWithNilStatusFunc(t *testing.T) {
	port := freePort(t) + 1
	hs, err := StartHealthServer(port, nil)
	require.NoError(t, err)
	defer hs.Close()

	resp, err := http.Get(fmt.Sprintf("http://%s/healthz", hs.Addr().String()))
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestMetricsEndpointServesPrometheusFormat(t *testing.T) {
	port := freePort(t) + 2
	hs, err := StartHealthServer(port, nil)
	require.NoError(t, err)
	defer hs.Close()

	resp, err := http.Get(fmt.Sprintf("http://%s/metrics", hs.Addr().String()))
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestStartHealthServerFailsOnAlreadyBoundPort(t *testing.T) {
	port := freePort(t) + 3
	first, err := StartHealthServer(port, nil)
	require.NoError(t, err)
	defer first.Close()

	_, err = StartHealthServer(port, nil)
	assert.Error(t, err)
}
