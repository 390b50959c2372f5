package main

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/gorilla/websocket"
	"github.com/knadh/koanf"
	"github.com/stretchr/testify/require"

	"github.com/nosseb/gomac/jvl"
	"github.com/nosseb/gomac/util"
)

const testConfig = `
Addr: ":9100"
Buses:
  - Endpoint: bench/mac
    Addr: /dev/ttyUSB0
    Serial: true
    MinInterval: 1ms
    Motors:
      - Name: x
        Address: 1
        RetryInterval: 1ms
        Limits: {Min: -100, Max: 100}
        Safety: {RegulationError: 900}
        InitOnStart: true
      - Name: y
        Address: 2
  - Endpoint: /cryo/
    Addr: 192.168.100.12:2001
    Motors:
      - Name: y
        Address: 9
`

func loadTestConfig(t *testing.T, body string) Config {
	t.Helper()
	path := filepath.Join(t.TempDir(), "macserver.yml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	kk := koanf.New(".")
	require.NoError(t, loadConfig(kk, path))
	c := Config{}
	require.NoError(t, kk.Unmarshal("", &c))
	return c
}

func TestLoadConfig(t *testing.T) {
	t.Setenv("MACSERVER_MOCK", "true")
	t.Setenv("MACSERVER_BUSES", "ignored")
	c := loadTestConfig(t, testConfig)
	require.Equal(t, ":9100", c.Addr)
	require.True(t, c.Mock)
	require.Len(t, c.Buses, 2)
	x := c.Buses[0].Motors[0]
	require.Equal(t, "x", x.Name)
	require.Equal(t, util.Limiter{Min: -100, Max: 100}, x.Limits)
	require.Equal(t, int64(900), x.Safety.RegulationError)
	require.True(t, x.InitOnStart)
}

func TestLoadConfigMissingFile(t *testing.T) {
	kk := koanf.New(".")
	require.NoError(t, loadConfig(kk, filepath.Join(t.TempDir(), "absent.yml")))
	c := Config{}
	require.NoError(t, kk.Unmarshal("", &c))
	require.Equal(t, ":8000", c.Addr)
	_, err := BuildBuses(c)
	require.ErrorIs(t, err, errNoBuses)
}

func TestBuildBusesRejects(t *testing.T) {
	bad := []Config{
		{Buses: []BusSetup{{Endpoint: "a", Motors: []MotorSetup{{Name: "x", Address: 0}}}}},
		{Buses: []BusSetup{{Endpoint: "a", Motors: []MotorSetup{{Name: "x y", Address: 1}}}}},
		{Buses: []BusSetup{{Endpoint: "a", Motors: []MotorSetup{{Name: "x", Address: 1}, {Name: "y", Address: 1}}}}},
		{Buses: []BusSetup{{Endpoint: "a", Motors: []MotorSetup{{Name: "x", Address: 1}, {Name: "x", Address: 2}}}}},
		{Buses: []BusSetup{{Endpoint: "", Motors: []MotorSetup{{Name: "x", Address: 1}}}}},
		{Buses: []BusSetup{{Endpoint: "a", MinInterval: "soon", Motors: []MotorSetup{{Name: "x", Address: 1}}}}},
		{Buses: []BusSetup{{Endpoint: "a"}}},
	}
	for i, c := range bad {
		c.Mock = true
		_, err := BuildBuses(c)
		require.Error(t, err, "case %d", i)
	}
}

func TestFindMotor(t *testing.T) {
	c := loadTestConfig(t, testConfig)
	c.Mock = true
	buses, err := BuildBuses(c)
	require.NoError(t, err)

	m, setup, err := FindMotor(buses, "x")
	require.NoError(t, err)
	require.Equal(t, byte(1), m.Address())
	require.Equal(t, int64(900), setup.Safety.RegulationError)

	m, _, err = FindMotor(buses, "cryo/y")
	require.NoError(t, err)
	require.Equal(t, byte(9), m.Address())

	_, _, err = FindMotor(buses, "y")
	require.Error(t, err)

	_, _, err = FindMotor(buses, "z")
	require.ErrorIs(t, err, errNoMotor)
}

func TestMockServer(t *testing.T) {
	c := loadTestConfig(t, testConfig)
	c.Mock = true
	buses, err := BuildBuses(c)
	require.NoError(t, err)
	require.Equal(t, 0, InitializeAll(buses, cmdTimeout))

	srv := httptest.NewServer(BuildMux(buses))
	defer srv.Close()
	do := func(method, path, body string) (int, string) {
		req, err := http.NewRequest(method, srv.URL+path, strings.NewReader(body))
		require.NoError(t, err)
		resp, err := http.DefaultClient.Do(req)
		require.NoError(t, err)
		defer resp.Body.Close()
		b, err := io.ReadAll(resp.Body)
		require.NoError(t, err)
		return resp.StatusCode, string(b)
	}

	code, body := do(http.MethodGet, "/bench/mac/motor/x/register/FLWERRMAX", "")
	require.Equal(t, http.StatusOK, code)
	require.JSONEq(t, `{"int": 900}`, body)

	code, _ = do(http.MethodPost, "/bench/mac/axis/x/enabled", `{"bool": true}`)
	require.Equal(t, http.StatusOK, code)
	code, _ = do(http.MethodPost, "/bench/mac/axis/x/pos", `{"f64": 150}`)
	require.Equal(t, http.StatusBadRequest, code)
	code, _ = do(http.MethodPost, "/bench/mac/axis/x/pos", `{"f64": 50}`)
	require.Equal(t, http.StatusOK, code)
	code, body = do(http.MethodGet, "/bench/mac/axis/x/pos", "")
	require.Equal(t, http.StatusOK, code)
	require.JSONEq(t, `{"f64": 50}`, body)

	code, _ = do(http.MethodGet, "/bench/mac/axis/w/pos", "")
	require.Equal(t, http.StatusNotFound, code)

	ws := "ws" + strings.TrimPrefix(srv.URL, "http") + "/bench/mac/motor/x/status/stream?interval=20ms"
	conn, _, err := websocket.DefaultDialer.Dial(ws, nil)
	require.NoError(t, err)
	var st jvl.Status
	require.NoError(t, conn.ReadJSON(&st))
	require.Equal(t, int64(50), st.TargetPosition)
	conn.Close()

	code, _ = do(http.MethodPost, "/bench/mac/motor/x/position/target", `{"int": 101}`)
	require.Equal(t, http.StatusBadRequest, code)

	code, body = do(http.MethodGet, "/bench/mac/motor/x/mode", "")
	require.Equal(t, http.StatusOK, code)
	require.JSONEq(t, `{"str": "POSITION"}`, body)

	code, _ = do(http.MethodPost, "/bench/mac/lock", `{"bool": true}`)
	require.Equal(t, http.StatusOK, code)
	code, _ = do(http.MethodPost, "/bench/mac/axis/x/pos", `{"f64": 10}`)
	require.Equal(t, http.StatusLocked, code)
	code, _ = do(http.MethodGet, "/cryo/motor/y/position", "")
	require.Equal(t, http.StatusOK, code)
	code, _ = do(http.MethodPost, "/bench/mac/lock", `{"bool": false}`)
	require.Equal(t, http.StatusOK, code)

	code, body = do(http.MethodGet, "/endpoints", "")
	require.Equal(t, http.StatusOK, code)
	var graph map[string][]string
	require.NoError(t, json.Unmarshal([]byte(body), &graph))
	require.Contains(t, graph, "/bench/mac")
	require.Contains(t, graph, "/cryo")
	require.Contains(t, graph["/bench/mac"], "GET /motor/y/status")
	require.Contains(t, graph["/bench/mac"], "GET /axis/{axis}/limits")
}

func TestDefaultsDecode(t *testing.T) {
	bus := exampleBus()
	c := Config{Buses: []BusSetup{bus}, Mock: true}
	buses, err := BuildBuses(c)
	require.NoError(t, err)
	require.Equal(t, []string{"x"}, buses[0].Axes.Names())
	_, err = buses[0].Axes.Motor("x")
	require.NoError(t, err)
	require.IsType(t, &jvl.Motor{}, buses[0].Motors["x"])
}

func TestLoadConfigKeepsShortNames(t *testing.T) {
	c := loadTestConfig(t, `
Buses:
  - Endpoint: stage
    Addr: /dev/ttyUSB1
    Motors:
      - {Name: y, Address: 1}
      - {Name: n, Address: 2}
      - {Name: on, Address: 3}
      - {Name: off, Address: 4}
      - {Name: yes, Address: 5}
`)
	var names []string
	for _, m := range c.Buses[0].Motors {
		names = append(names, m.Name)
	}
	require.Equal(t, []string{"y", "n", "on", "off", "yes"}, names)

	c.Mock = true
	buses, err := BuildBuses(c)
	require.NoError(t, err)
	require.Equal(t, []string{"n", "off", "on", "y", "yes"}, buses[0].Axes.Names())
	m, _, err := FindMotor(buses, "stage/y")
	require.NoError(t, err)
	require.Equal(t, byte(1), m.Address())
}

func TestLockCoversEveryAxisName(t *testing.T) {
	c := loadTestConfig(t, `
Buses:
  - Endpoint: bench
    Addr: /dev/ttyUSB0
    Motors:
      - {Name: x, Address: 1}
      - {Name: clock, Address: 2}
`)
	c.Mock = true
	buses, err := BuildBuses(c)
	require.NoError(t, err)
	srv := httptest.NewServer(BuildMux(buses))
	defer srv.Close()
	post := func(path, body string) int {
		resp, err := http.Post(srv.URL+path, "application/json", strings.NewReader(body))
		require.NoError(t, err)
		resp.Body.Close()
		return resp.StatusCode
	}

	require.Equal(t, http.StatusOK, post("/bench/lock", `{"bool": true}`))
	require.Equal(t, http.StatusLocked, post("/bench/axis/x/enabled", `{"bool": true}`))
	require.Equal(t, http.StatusLocked, post("/bench/axis/clock/enabled", `{"bool": true}`))
	require.Equal(t, http.StatusLocked, post("/bench/axis/clock/pos", `{"f64": 5}`))
	require.Equal(t, http.StatusLocked, post("/bench/motor/clock/register/P_SOLL", `{"int": 5}`))
	require.Equal(t, http.StatusOK, post("/bench/lock", `{"bool": false}`))
	require.Equal(t, http.StatusOK, post("/bench/axis/clock/enabled", `{"bool": true}`))
}
