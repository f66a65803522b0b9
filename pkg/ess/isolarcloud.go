package ess

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"net/http"
	"os"
	"strconv"
	"sync"
	"time"

	"github.com/jingfee/sungrow-scheduler/pkg/common"
	"github.com/jingfee/sungrow-scheduler/pkg/log"
	"github.com/levenlabs/go-lflag"
)

const (
	isolarLoginPath    = "login"
	isolarRealtimePath = "getDeviceRealTimeData"
	isolarParamPath    = "paramSetting"

	isolarInvalidToken = "E00003"
	isolarSuccess      = "1"

	pointSoC       = "13141"
	pointDailyLoad = "13199"
)

// ISolarCloud implements System through the Sungrow iSolarCloud OpenAPI.
type ISolarCloud struct {
	client     *http.Client
	baseURL    string
	appKey     string
	secretKey  string
	username   string
	password   string
	psKey      string
	deviceUUID string

	session *session
}

// session owns the API token. It logs in lazily and is reused until the API
// rejects the token.
type session struct {
	mu    sync.Mutex
	token string
}

func configuredISolarCloud() *ISolarCloud {
	baseURL := lflag.String("isolarcloud-url", "https://gateway.isolarcloud.eu/openapi", "Base URL of the iSolarCloud OpenAPI")
	appKey := lflag.String("isolarcloud-app-key", os.Getenv("SUNGROW_APP_KEY"), "iSolarCloud application key")
	secretKey := lflag.String("isolarcloud-secret-key", os.Getenv("SUNGROW_SECRET_KEY"), "iSolarCloud access key secret")
	username := lflag.String("isolarcloud-username", os.Getenv("SUNGROW_USERNAME"), "iSolarCloud account email")
	password := lflag.String("isolarcloud-password", os.Getenv("SUNGROW_PASSWORD"), "iSolarCloud account password")
	psKey := lflag.String("isolarcloud-ps-key", "", "ps_key of the inverter device")
	deviceUUID := lflag.String("isolarcloud-device-uuid", "", "uuid of the inverter device used for parameter settings")

	c := newISolarCloud()

	lflag.Do(func() {
		c.baseURL = *baseURL
		c.appKey = *appKey
		c.secretKey = *secretKey
		c.username = *username
		c.password = *password
		c.psKey = *psKey
		c.deviceUUID = *deviceUUID
	})

	return c
}

func newISolarCloud() *ISolarCloud {
	return &ISolarCloud{
		client:  common.HTTPClient(30 * time.Second),
		session: &session{},
	}
}

// Validate checks the required credentials are present.
func (c *ISolarCloud) Validate() error {
	switch {
	case c.appKey == "" || c.secretKey == "":
		return errors.New("missing app key or secret key")
	case c.username == "" || c.password == "":
		return errors.New("missing username or password")
	case c.psKey == "":
		return errors.New("missing ps key")
	case c.deviceUUID == "":
		return errors.New("missing device uuid")
	}
	return nil
}

type isolarResponse struct {
	ResultCode string          `json:"result_code"`
	ResultMsg  string          `json:"result_msg"`
	ResultData json.RawMessage `json:"result_data"`
}

type loginResult struct {
	Token string `json:"token"`
}

// pointValue accepts a point that is either a JSON number or a quoted number.
type pointValue float64

func (p *pointValue) UnmarshalJSON(b []byte) error {
	if string(b) == "null" {
		return errors.New("point has no value")
	}
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		f, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return err
		}
		*p = pointValue(f)
		return nil
	}
	var f float64
	if err := json.Unmarshal(b, &f); err != nil {
		return err
	}
	*p = pointValue(f)
	return nil
}

type realtimeResult struct {
	DevicePointList []struct {
		DevicePoint map[string]json.RawMessage `json:"device_point"`
	} `json:"device_point_list"`
}

type paramSetting struct {
	Code  int     `json:"param_code"`
	Value float64 `json:"set_value"`
}

// login returns a new token.
func (c *ISolarCloud) login(ctx context.Context) (string, error) {
	body := map[string]any{
		"user_account":  c.username,
		"user_password": c.password,
	}
	var res loginResult
	if err := c.doRequest(ctx, isolarLoginPath, "", body, &res); err != nil {
		log.Ctx(ctx).ErrorContext(ctx, "isolarcloud login failed", slog.Any("error", err))
		return "", fmt.Errorf("login failed: %w", err)
	}
	if res.Token == "" {
		return "", errors.New("login returned no token")
	}
	log.Ctx(ctx).DebugContext(ctx, "isolarcloud login success", slog.String("username", c.username))
	return res.Token, nil
}

// call performs an authenticated request, logging in first if needed and
// once more if the token was rejected.
func (c *ISolarCloud) call(ctx context.Context, path string, body map[string]any, dest any) error {
	c.session.mu.Lock()
	defer c.session.mu.Unlock()

	// we try up to 2 times because we might have an expired token
	for i := 0; i < 2; i++ {
		if c.session.token == "" {
			token, err := c.login(ctx)
			if err != nil {
				return err
			}
			c.session.token = token
		}
		err := c.doRequest(ctx, path, c.session.token, body, dest)
		if errors.Is(err, ErrInvalidToken) && i == 0 {
			log.Ctx(ctx).DebugContext(ctx, "isolarcloud token expired")
			c.session.token = ""
			continue
		}
		return err
	}
	return nil
}

func (c *ISolarCloud) doRequest(ctx context.Context, path, token string, body map[string]any, dest any) error {
	payload := map[string]any{
		"appkey": c.appKey,
		"lang":   "_en_US",
	}
	for k, v := range body {
		payload[k] = v
	}
	if token != "" {
		payload["token"] = token
	}
	jsonBytes, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/"+path, bytes.NewReader(jsonBytes))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json;charset=UTF-8")
	req.Header.Set("sys_code", "901")
	req.Header.Set("x-access-key", c.secretKey)

	resp, err := c.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("status %d", resp.StatusCode)
	}

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}

	var ir isolarResponse
	if err := json.Unmarshal(respBody, &ir); err != nil {
		log.Ctx(ctx).ErrorContext(ctx, "failed to decode isolarcloud response", slog.Any("error", err), slog.String("body", string(respBody)))
		return err
	}
	switch ir.ResultCode {
	case isolarSuccess:
	case isolarInvalidToken:
		return ErrInvalidToken
	default:
		log.Ctx(ctx).ErrorContext(ctx, "isolarcloud api error", slog.String("path", path), slog.String("code", ir.ResultCode), slog.String("message", ir.ResultMsg))
		return fmt.Errorf("isolarcloud api error %s: %s", ir.ResultCode, ir.ResultMsg)
	}

	if dest != nil {
		if err := json.Unmarshal(ir.ResultData, dest); err != nil {
			log.Ctx(ctx).ErrorContext(ctx, "failed to decode isolarcloud result", slog.Any("error", err))
			return fmt.Errorf("failed to decode isolarcloud result: %w", err)
		}
	}
	return nil
}

func (c *ISolarCloud) readPoint(ctx context.Context, point string) (float64, error) {
	body := map[string]any{
		"device_type":   14,
		"point_id_list": []string{point},
		"ps_key_list":   []string{c.psKey},
	}
	var res realtimeResult
	if err := c.call(ctx, isolarRealtimePath, body, &res); err != nil {
		return 0, fmt.Errorf("getDeviceRealTimeData failed: %w", err)
	}
	if len(res.DevicePointList) == 0 {
		return 0, errors.New("no device in realtime data")
	}
	raw, ok := res.DevicePointList[0].DevicePoint["p"+point]
	if !ok {
		return 0, fmt.Errorf("point p%s missing from realtime data", point)
	}
	var v pointValue
	if err := json.Unmarshal(raw, &v); err != nil {
		return 0, fmt.Errorf("invalid value for point p%s: %w", point, err)
	}
	return float64(v), nil
}

// GetStateOfCharge returns the battery level as a fraction.
func (c *ISolarCloud) GetStateOfCharge(ctx context.Context) (float64, error) {
	return c.readPoint(ctx, pointSoC)
}

// GetDailyLoad returns today's house load in Wh.
func (c *ISolarCloud) GetDailyLoad(ctx context.Context) (float64, error) {
	return c.readPoint(ctx, pointDailyLoad)
}

func (c *ISolarCloud) setParams(ctx context.Context, params []paramSetting) error {
	body := map[string]any{
		"set_type":      0,
		"uuid":          c.deviceUUID,
		"task_name":     "sungrow-scheduler",
		"expire_second": 1800,
		"param_list":    params,
	}
	if err := c.call(ctx, isolarParamPath, body, nil); err != nil {
		return fmt.Errorf("paramSetting failed: %w", err)
	}
	return nil
}

// StartCharge enables forced charge at powerW up to targetSoC.
func (c *ISolarCloud) StartCharge(ctx context.Context, powerW, targetSoC float64) error {
	return c.setParams(ctx, []paramSetting{
		{Code: 10001, Value: math.Round(targetSoC * 1000)},
		{Code: 10003, Value: 2},
		{Code: 10004, Value: 170},
		{Code: 10005, Value: math.Round(powerW)},
	})
}

// StopCharge returns the inverter to self consumption.
func (c *ISolarCloud) StopCharge(ctx context.Context) error {
	return c.setParams(ctx, []paramSetting{
		{Code: 10003, Value: 0},
		{Code: 10004, Value: 204},
		{Code: 10005, Value: 0},
	})
}

// StartDischarge enables forced discharge at full power.
func (c *ISolarCloud) StartDischarge(ctx context.Context) error {
	return c.setParams(ctx, []paramSetting{
		{Code: 10003, Value: 2},
		{Code: 10004, Value: 187},
		{Code: 10005, Value: 6000},
		{Code: 10012, Value: 170},
		{Code: 10013, Value: 0},
	})
}

// StopDischarge returns the inverter to self consumption.
func (c *ISolarCloud) StopDischarge(ctx context.Context) error {
	return c.setParams(ctx, []paramSetting{
		{Code: 10003, Value: 0},
		{Code: 10004, Value: 204},
		{Code: 10005, Value: 0},
		{Code: 10012, Value: 85},
	})
}
