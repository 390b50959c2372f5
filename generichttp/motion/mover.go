package motion

import (
	"context"
	"net/http"
	"strconv"

	"github.com/nosseb/gomac/generichttp"
)

// Mover describes an interface with position-related methods for axes
type Mover interface {
	// GetPos gets the current position of an axis
	GetPos(ctx context.Context, axis string) (float64, error)

	// MoveAbs moves an axis to an absolute position
	MoveAbs(ctx context.Context, axis string, pos float64) error

	// MoveRel moves an axis a relative amount
	MoveRel(ctx context.Context, axis string, delta float64) error
}

// HTTPMove adds routes for the mover to the route table
func HTTPMove(m Mover, table generichttp.RouteTable) {
	table[generichttp.MethodPath{Method: http.MethodGet, Path: "/axis/{axis}/pos"}] = GetPos(m)
	table[generichttp.MethodPath{Method: http.MethodPost, Path: "/axis/{axis}/pos"}] = SetPos(m)
}

// GetPos returns an HTTP handler func replying {"f64": pos} for an axis
func GetPos(m Mover) http.HandlerFunc {
	return handle(m, func(ctx context.Context, axis string, _ *http.Request) (interface{}, error) {
		pos, err := m.GetPos(ctx, axis)
		return generichttp.FloatT{F64: pos}, err
	})
}

// moveRequest decodes the body {"f64": x} of a move and its relative query
// parameter
func moveRequest(r *http.Request) (x float64, relative bool, err error) {
	if q := r.URL.Query().Get("relative"); q != "" {
		if relative, err = strconv.ParseBool(q); err != nil {
			return 0, false, requestError{err}
		}
	}
	f := generichttp.FloatT{}
	if err = decode(r, &f); err != nil {
		return 0, false, err
	}
	return f.F64, relative, nil
}

// SetPos returns an HTTP handler func that moves an axis to {"f64": x}, or by
// x with ?relative=true
func SetPos(m Mover) http.HandlerFunc {
	return handle(m, func(ctx context.Context, axis string, r *http.Request) (interface{}, error) {
		x, relative, err := moveRequest(r)
		if err != nil {
			return nil, err
		}
		if relative {
			return nil, m.MoveRel(ctx, axis, x)
		}
		return nil, m.MoveAbs(ctx, axis, x)
	})
}
