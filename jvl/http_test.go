package jvl

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi"
	"github.com/stretchr/testify/require"

	"github.com/nosseb/gomac/util"
)

func newTestServer(t *testing.T, dev *MockDevice) (*HTTPWrapper, http.Handler) {
	t.Helper()
	wrap := NewHTTPWrapper(newTestMotor(t, dev, 1))
	r := chi.NewRouter()
	wrap.RT().Bind(r)
	return wrap, r
}

func call(h http.Handler, method, url, body string) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(method, url, strings.NewReader(body)))
	return rec
}

func TestHTTPRegisters(t *testing.T) {
	dev := NewMockDevice(1)
	dev.Set("P_IST", -42)
	_, h := newTestServer(t, dev)

	rec := call(h, http.MethodGet, "/registers", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var regs []Register
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &regs))
	require.Len(t, regs, len(DefaultTable().All()))

	rec = call(h, http.MethodGet, "/register/P_IST", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.JSONEq(t, `{"int": -42}`, rec.Body.String())

	rec = call(h, http.MethodGet, "/register/10", "")
	require.JSONEq(t, `{"int": -42}`, rec.Body.String())

	rec = call(h, http.MethodPost, "/register/a_soll", `{"int": 250}`)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, int64(250), dev.Get("A_SOLL"))

	rec = call(h, http.MethodGet, "/register/NOPE", "")
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec = call(h, http.MethodPost, "/register/A_SOLL", `{"int": 70000}`)
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec = call(h, http.MethodPost, "/register/A_SOLL", `{"int": "x"}`)
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHTTPModeAndPosition(t *testing.T) {
	dev := NewMockDevice(1)
	dev.Set("MIN_P_IST", -500)
	dev.Set("MAX_P_IST", 500)
	wrap, h := newTestServer(t, dev)

	rec := call(h, http.MethodGet, "/mode", "")
	require.JSONEq(t, `{"str": "PASSIVE"}`, rec.Body.String())

	rec = call(h, http.MethodPost, "/position/target", `{"int": 100}`)
	require.Equal(t, http.StatusConflict, rec.Code)

	rec = call(h, http.MethodPost, "/position/target?ignore-mode=true", `{"int": 100}`)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, int64(100), dev.Get("P_SOLL"))

	rec = call(h, http.MethodPost, "/position/target?ignore-mode=perhaps", `{"int": 100}`)
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec = call(h, http.MethodPost, "/mode", `{"str": "fly"}`)
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec = call(h, http.MethodPost, "/mode", `{"str": "position"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, int64(Position), dev.Get("MODE_REG"))

	rec = call(h, http.MethodPost, "/position/target", `{"int": 300}`)
	require.Equal(t, http.StatusOK, rec.Code)
	rec = call(h, http.MethodGet, "/position", "")
	require.JSONEq(t, `{"int": 300}`, rec.Body.String())

	rec = call(h, http.MethodPost, "/position/target", `{"int": 600}`)
	require.Equal(t, http.StatusConflict, rec.Code)

	wrap.Limits = util.Limiter{Min: 0, Max: 200}
	rec = call(h, http.MethodPost, "/position/target", `{"int": 250}`)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.Equal(t, int64(300), dev.Get("P_SOLL"))

	dev.Set("V_IST", -12)
	rec = call(h, http.MethodGet, "/velocity", "")
	require.JSONEq(t, `{"int": -12}`, rec.Body.String())
}

func TestHTTPRegisterWritesAreChecked(t *testing.T) {
	dev := NewMockDevice(1)
	dev.Set("MIN_P_IST", 10)
	dev.Set("MAX_P_IST", 400)
	wrap, h := newTestServer(t, dev)
	wrap.Limits = util.Limiter{Min: 0, Max: 200}

	// passive, so a raw target is refused like on /position/target
	rec := call(h, http.MethodPost, "/register/P_SOLL", `{"int": 50}`)
	require.Equal(t, http.StatusConflict, rec.Code)
	require.Zero(t, dev.Writes("P_SOLL"))

	// actual position 0 lies outside MIN_P_IST..MAX_P_IST
	rec = call(h, http.MethodPost, "/register/mode_reg", `{"int": 2}`)
	require.Equal(t, http.StatusConflict, rec.Code)
	require.Equal(t, int64(Passive), dev.Get("MODE_REG"))

	rec = call(h, http.MethodPost, "/register/MODE_REG", `{"int": 99}`)
	require.Equal(t, http.StatusBadRequest, rec.Code)

	dev.Set("P_IST", 20)
	rec = call(h, http.MethodPost, "/register/MODE_REG", `{"int": 2}`)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, int64(Position), dev.Get("MODE_REG"))

	rec = call(h, http.MethodPost, "/register/P_SOLL", `{"int": 250}`)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	rec = call(h, http.MethodPost, "/register/3", `{"int": 150}`)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, int64(150), dev.Get("P_IST"))

	rec = call(h, http.MethodPost, "/register/P_SOLL?ignore-mode=true", `{"int": 5}`)
	require.Equal(t, http.StatusConflict, rec.Code)
}

func TestHTTPConfigStatus(t *testing.T) {
	dev := NewMockDevice(1)
	_, h := newTestServer(t, dev)

	rec := call(h, http.MethodGet, "/config", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var cfg Config
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &cfg))
	require.Equal(t, int64(123456), cfg.SerialNumber)

	dev.Set("U_SUPPLY", 470)
	rec = call(h, http.MethodGet, "/status", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var st Status
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &st))
	require.Equal(t, int64(470), st.SupplyVoltage)
	require.Equal(t, Passive, st.Mode)

	dev.Set("GEARF1", 1024)
	rec = call(h, http.MethodPost, "/refresh", "")
	require.Equal(t, http.StatusOK, rec.Code)
	rec = call(h, http.MethodGet, "/config", "")
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &cfg))
	require.Equal(t, int64(1024), cfg.GearNumerator)
}

func TestHTTPInitialize(t *testing.T) {
	dev := NewMockDevice(1)
	wrap, h := newTestServer(t, dev)
	wrap.Safety = SafetyLimits{WindingEnergy: 111}

	rec := call(h, http.MethodPost, "/initialize", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var report InitReport
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &report))
	require.Equal(t, map[string]int64{"I2TLIM": 111}, report.Written)

	rec = call(h, http.MethodPost, "/initialize", `{"movementError": 2500}`)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, int64(2500), dev.Get("FNCERRMAX"))

	dev.Set("ERR_STAT", int64(OvervoltageError))
	rec = call(h, http.MethodPost, "/initialize", "")
	require.Equal(t, http.StatusConflict, rec.Code)
	require.Contains(t, rec.Body.String(), "OV_ERR")

	rec = call(h, http.MethodPost, "/initialize", `{`)
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestStatusCode(t *testing.T) {
	require.Equal(t, http.StatusBadRequest, StatusCode(ErrUnknownRegister))
	require.Equal(t, http.StatusConflict, StatusCode(&FaultError{Status: UITError}))
	require.Equal(t, http.StatusInternalServerError, StatusCode(ErrShortFrame))
}
