package ess

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeISolarCloud struct {
	mu       sync.Mutex
	logins   int
	token    string
	expired  bool
	requests []map[string]any
	headers  []http.Header
	point    string
}

func (f *fakeISolarCloud) handler(t *testing.T) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		defer f.mu.Unlock()

		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		f.requests = append(f.requests, body)
		f.headers = append(f.headers, r.Header.Clone())

		path := strings.TrimPrefix(r.URL.Path, "/openapi/")
		if path == "login" {
			f.logins++
			f.token = "token-" + string(rune('0'+f.logins))
			_, _ = w.Write([]byte(`{"result_code":"1","result_data":{"token":"` + f.token + `"}}`))
			return
		}
		if f.expired || body["token"] != f.token {
			f.expired = false
			_, _ = w.Write([]byte(`{"result_code":"E00003","result_msg":"er_token_login_invalid"}`))
			return
		}
		switch path {
		case "getDeviceRealTimeData":
			_, _ = w.Write([]byte(`{"result_code":"1","result_data":{"device_point_list":[{"device_point":{` + f.point + `}}]}}`))
		case "paramSetting":
			_, _ = w.Write([]byte(`{"result_code":"1","result_data":{"dev_result_list":[]}}`))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}
}

func newTestISolarCloud(t *testing.T, f *fakeISolarCloud) *ISolarCloud {
	ts := httptest.NewServer(f.handler(t))
	t.Cleanup(ts.Close)

	c := newISolarCloud()
	c.client = ts.Client()
	c.baseURL = ts.URL + "/openapi"
	c.appKey = "app"
	c.secretKey = "secret"
	c.username = "user@example.com"
	c.password = "pass"
	c.psKey = "1234_14_1_1"
	c.deviceUUID = "5678"
	require.NoError(t, c.Validate())
	return c
}

func TestISolarCloud(t *testing.T) {
	ctx := context.Background()

	t.Run("Validate", func(t *testing.T) {
		assert.Error(t, newISolarCloud().Validate())
	})

	t.Run("StateOfCharge", func(t *testing.T) {
		f := &fakeISolarCloud{point: `"p13141":"0.853"`}
		c := newTestISolarCloud(t, f)

		soc, err := c.GetStateOfCharge(ctx)
		require.NoError(t, err)
		assert.InDelta(t, 0.853, soc, 1e-9)
		assert.Equal(t, 1, f.logins)

		login := f.requests[0]
		assert.Equal(t, "user@example.com", login["user_account"])
		assert.Equal(t, "pass", login["user_password"])
		assert.Equal(t, "app", login["appkey"])
		assert.Equal(t, "_en_US", login["lang"])
		assert.Equal(t, "901", f.headers[0].Get("sys_code"))
		assert.Equal(t, "secret", f.headers[0].Get("x-access-key"))

		read := f.requests[1]
		assert.Equal(t, "token-1", read["token"])
		assert.Equal(t, []any{"13141"}, read["point_id_list"])
		assert.Equal(t, []any{"1234_14_1_1"}, read["ps_key_list"])
		assert.EqualValues(t, 14, read["device_type"])

		// the session token is reused
		_, err = c.GetStateOfCharge(ctx)
		require.NoError(t, err)
		assert.Equal(t, 1, f.logins)
	})

	t.Run("DailyLoadNumeric", func(t *testing.T) {
		f := &fakeISolarCloud{point: `"p13199":12345.0`}
		c := newTestISolarCloud(t, f)
		load, err := c.GetDailyLoad(ctx)
		require.NoError(t, err)
		assert.Equal(t, 12345.0, load)
	})

	t.Run("MissingPoint", func(t *testing.T) {
		f := &fakeISolarCloud{point: `"p1":1`}
		c := newTestISolarCloud(t, f)
		_, err := c.GetStateOfCharge(ctx)
		assert.Error(t, err)
	})

	t.Run("Relogin", func(t *testing.T) {
		f := &fakeISolarCloud{point: `"p13141":0.5`}
		c := newTestISolarCloud(t, f)
		_, err := c.GetStateOfCharge(ctx)
		require.NoError(t, err)

		f.mu.Lock()
		f.expired = true
		f.mu.Unlock()

		require.NoError(t, c.StopDischarge(ctx))
		assert.Equal(t, 2, f.logins)
		assert.Equal(t, "token-2", c.session.token)
	})

	t.Run("StartCharge", func(t *testing.T) {
		f := &fakeISolarCloud{}
		c := newTestISolarCloud(t, f)
		require.NoError(t, c.StartCharge(ctx, 2400, 0.8))

		req := f.requests[len(f.requests)-1]
		assert.Equal(t, "5678", req["uuid"])
		assert.EqualValues(t, 0, req["set_type"])
		assert.EqualValues(t, 1800, req["expire_second"])
		params := map[float64]float64{}
		for _, p := range req["param_list"].([]any) {
			m := p.(map[string]any)
			params[m["param_code"].(float64)] = m["set_value"].(float64)
		}
		assert.Equal(t, map[float64]float64{10001: 800, 10003: 2, 10004: 170, 10005: 2400}, params)
	})

	t.Run("APIError", func(t *testing.T) {
		ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write([]byte(`{"result_code":"E900","result_msg":"nope"}`))
		}))
		defer ts.Close()

		c := newISolarCloud()
		c.client = ts.Client()
		c.baseURL = ts.URL
		_, err := c.GetStateOfCharge(ctx)
		assert.ErrorContains(t, err, "nope")
	})
}
