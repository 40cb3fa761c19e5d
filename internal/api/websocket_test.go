package api

import (
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"codeberg.org/mutker/laptopctl/internal/sensor"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseInterval(t *testing.T) {
	h := NewHandler(&mockService{interval: 2 * time.Second}, nil)

	cases := []struct {
		name string
		u    string
		want time.Duration
	}{
		{"default_is_poll_interval", "/ws", 2 * time.Second},
		{"valid", "/ws?interval=200ms", 200 * time.Millisecond},
		{"too_large", "/ws?interval=20s", 2 * time.Second},
		{"invalid", "/ws?interval=bogus", 2 * time.Second},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			c, _ := gin.CreateTestContext(httptest.NewRecorder())
			c.Request = httptest.NewRequest(http.MethodGet, tc.u, nil)
			assert.Equal(t, tc.want, h.parseInterval(c))
		})
	}
}

func TestWebSocketStreamsNewSnapshots(t *testing.T) {
	svc := &mockService{}
	svc.setSnapshot(sensor.Snapshot{Seq: 1, CPUPackageTemp: 60})

	srv := httptest.NewServer(NewHandler(svc, nil).InitRoutes())
	defer srv.Close()

	u, err := url.Parse(srv.URL)
	require.NoError(t, err)
	u.Scheme = "ws"
	u.Path = "/ws"
	u.RawQuery = "interval=20ms"

	conn, resp, err := websocket.DefaultDialer.Dial(u.String(), nil)
	require.NoError(t, err)
	defer resp.Body.Close()
	defer conn.Close()

	read := func() sensor.Snapshot {
		t.Helper()
		require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
		var env struct {
			Type string          `json:"type"`
			Data sensor.Snapshot `json:"data"`
		}
		require.NoError(t, conn.ReadJSON(&env))
		assert.Equal(t, "snapshot", env.Type)
		return env.Data
	}

	first := read()
	assert.Equal(t, uint64(1), first.Seq)
	assert.Equal(t, 60.0, first.CPUPackageTemp)

	svc.setSnapshot(sensor.Snapshot{Seq: 2, CPUPackageTemp: 62})
	second := read()
	assert.Equal(t, uint64(2), second.Seq)
}
