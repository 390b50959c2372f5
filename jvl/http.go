package jvl

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/go-chi/chi"

	"github.com/nosseb/gomac/generichttp"
	"github.com/nosseb/gomac/util"
)

var errSoftLimit = errors.New("requested position violates software limits, aborted")

// HTTPWrapper provides HTTP bindings on top of a Motor
type HTTPWrapper struct {
	*Motor

	// Safety is used by POST /initialize when the request has no body
	Safety SafetyLimits

	// Limits is a software limit on target positions, in addition to the
	// motor's own MIN_P_IST and MAX_P_IST
	Limits util.Limiter

	// RouteTable maps method/path pairs to http handlers
	RouteTable generichttp.RouteTable
}

// NewHTTPWrapper returns a new HTTP wrapper with the route table pre-configured
func NewHTTPWrapper(m *Motor) *HTTPWrapper {
	w := &HTTPWrapper{Motor: m}
	w.RouteTable = generichttp.RouteTable{
		{Method: http.MethodGet, Path: "/registers"}:        w.Registers,
		{Method: http.MethodGet, Path: "/register/{reg}"}:   w.GetRegister,
		{Method: http.MethodPost, Path: "/register/{reg}"}:  w.SetRegister,
		{Method: http.MethodGet, Path: "/mode"}:             w.GetMode,
		{Method: http.MethodPost, Path: "/mode"}:            w.SetMode,
		{Method: http.MethodGet, Path: "/position"}:         w.GetPosition,
		{Method: http.MethodPost, Path: "/position/target"}: w.SetTargetPosition,
		{Method: http.MethodGet, Path: "/velocity"}:         w.GetVelocity,
		{Method: http.MethodGet, Path: "/config"}:           w.Config,
		{Method: http.MethodGet, Path: "/status"}:           w.Status,
		{Method: http.MethodGet, Path: "/status/stream"}:    w.StreamStatus,
		{Method: http.MethodPost, Path: "/refresh"}:         w.Refresh,
		{Method: http.MethodPost, Path: "/initialize"}:      w.Initialize,
	}
	return w
}

// RT satisfies generichttp.HTTPer
func (h *HTTPWrapper) RT() generichttp.RouteTable {
	return h.RouteTable
}

// StatusCode maps an error from a Motor to an HTTP status
func StatusCode(err error) int {
	var fault *FaultError
	switch {
	case errors.Is(err, ErrUnknownAxis):
		return http.StatusNotFound
	case errors.Is(err, ErrUnknownRegister), errors.Is(err, ErrOutOfRange),
		errors.Is(err, ErrSize), errors.Is(err, ErrOddLength), errors.Is(err, ErrTooLong):
		return http.StatusBadRequest
	case errors.Is(err, ErrWrongMode), errors.Is(err, ErrPositionOutOfBounds), errors.As(err, &fault):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

func replyError(w http.ResponseWriter, err error) {
	http.Error(w, err.Error(), StatusCode(err))
}

// Registers lists the register table
func (h *HTTPWrapper) Registers(w http.ResponseWriter, r *http.Request) {
	generichttp.ReplyJSON(w, r, h.Table().All())
}

// coded tags err with the status StatusCode gives it
func coded(err error) error {
	if err == nil {
		return nil
	}
	return generichttp.CodedError{Code: StatusCode(err), Err: err}
}

// GetRegister reads the register named or numbered by the route and replies {"int": value}
func (h *HTTPWrapper) GetRegister(w http.ResponseWriter, r *http.Request) {
	generichttp.GetInt(func() (int64, error) {
		v, err := h.ReadValue(r.Context(), chi.URLParam(r, "reg"))
		return v, coded(err)
	})(w, r)
}

// guarded reports whether reg is the register called name in h's table
func (h *HTTPWrapper) guarded(reg Register, name string) bool {
	g, ok := h.Table().ByName(name)
	return ok && g.Number == reg.Number
}

// SetRegister writes {"int": value} to the register named or numbered by the
// route.  P_SOLL and MODE_REG are written through SetTargetPosition and
// SetMode, so the same mode and limit checks as /position/target and /mode apply
func (h *HTTPWrapper) SetRegister(w http.ResponseWriter, r *http.Request) {
	reg, err := h.Table().Lookup(chi.URLParam(r, "reg"))
	if err != nil {
		replyError(w, err)
		return
	}
	switch {
	case h.guarded(reg, "P_SOLL"):
		h.SetTargetPosition(w, r)
	case h.guarded(reg, "MODE_REG"):
		generichttp.SetInt(func(v int64) error {
			mode, err := ModeFromValue(v)
			if err != nil {
				return generichttp.CodedError{Code: http.StatusBadRequest, Err: err}
			}
			return coded(h.Motor.SetMode(r.Context(), mode))
		})(w, r)
	default:
		generichttp.SetInt(func(v int64) error {
			return coded(h.WriteValue(r.Context(), reg.Name, v))
		})(w, r)
	}
}

// GetMode replies {"str": mode}
func (h *HTTPWrapper) GetMode(w http.ResponseWriter, r *http.Request) {
	generichttp.GetString(func() (string, error) {
		mode, err := h.Motor.GetMode(r.Context())
		return mode.String(), coded(err)
	})(w, r)
}

// SetMode changes the operating mode to {"str": name or number}
func (h *HTTPWrapper) SetMode(w http.ResponseWriter, r *http.Request) {
	generichttp.SetString(func(s string) error {
		mode, err := ParseMode(s)
		if err != nil {
			return generichttp.CodedError{Code: http.StatusBadRequest, Err: err}
		}
		return coded(h.Motor.SetMode(r.Context(), mode))
	})(w, r)
}

// GetPosition replies {"int": actual position}
func (h *HTTPWrapper) GetPosition(w http.ResponseWriter, r *http.Request) {
	generichttp.GetInt(func() (int64, error) {
		p, err := h.Motor.GetPosition(r.Context())
		return p, coded(err)
	})(w, r)
}

// SetTargetPosition writes {"int": target}.  The query parameter
// ignore-mode=true allows it outside Position mode
func (h *HTTPWrapper) SetTargetPosition(w http.ResponseWriter, r *http.Request) {
	ignore := false
	if q := r.URL.Query().Get("ignore-mode"); q != "" {
		var err error
		if ignore, err = strconv.ParseBool(q); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
	}
	generichttp.SetInt(func(target int64) error {
		if !h.Limits.Check(float64(target)) {
			err := fmt.Errorf("%w: %d outside %v..%v", errSoftLimit, target, h.Limits.Min, h.Limits.Max)
			return generichttp.CodedError{Code: http.StatusBadRequest, Err: err}
		}
		return coded(h.Motor.SetTargetPosition(r.Context(), target, ignore))
	})(w, r)
}

// GetVelocity replies {"int": actual velocity}
func (h *HTTPWrapper) GetVelocity(w http.ResponseWriter, r *http.Request) {
	generichttp.GetInt(func() (int64, error) {
		v, err := h.Motor.GetVelocity(r.Context())
		return v, coded(err)
	})(w, r)
}

// Config replies with the cached configuration, reading it if it never was
func (h *HTTPWrapper) Config(w http.ResponseWriter, r *http.Request) {
	cfg, err := h.limits(r.Context())
	if err != nil {
		replyError(w, err)
		return
	}
	generichttp.ReplyJSON(w, r, cfg)
}

// Status reads the status registers and replies with them
func (h *HTTPWrapper) Status(w http.ResponseWriter, r *http.Request) {
	if err := h.RefreshStatus(r.Context()); err != nil {
		replyError(w, err)
		return
	}
	generichttp.ReplyJSON(w, r, h.Motor.Status())
}

// Refresh reads the configuration and status registers
func (h *HTTPWrapper) Refresh(w http.ResponseWriter, r *http.Request) {
	if err := h.RefreshConfig(r.Context()); err != nil {
		replyError(w, err)
		return
	}
	if err := h.RefreshStatus(r.Context()); err != nil {
		replyError(w, err)
		return
	}
	w.WriteHeader(http.StatusOK)
}

// Initialize runs the startup sequence with the SafetyLimits in the body, or
// h.Safety if there is none, and replies with the InitReport
func (h *HTTPWrapper) Initialize(w http.ResponseWriter, r *http.Request) {
	limits := h.Safety
	err := json.NewDecoder(r.Body).Decode(&limits)
	defer r.Body.Close()
	if err != nil && !errors.Is(err, io.EOF) {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	report, err := h.Motor.Initialize(r.Context(), limits)
	if err != nil {
		replyError(w, err)
		return
	}
	generichttp.ReplyJSON(w, r, report)
}
