package motion

import (
	"context"
	"net/http"

	"github.com/nosseb/gomac/generichttp"
)

// Speeder describes an interface with velocity-related methods for axes
type Speeder interface {
	// SetVelocity sets the velocity setpoint on the axis
	SetVelocity(ctx context.Context, axis string, v float64) error

	// GetVelocity gets the velocity setpoint on the axis
	GetVelocity(ctx context.Context, axis string) (float64, error)
}

// HTTPSpeed adds GET and POST /axis/{axis}/velocity, {"f64": v}
func HTTPSpeed(s Speeder, table generichttp.RouteTable) {
	path := "/axis/{axis}/velocity"
	table[generichttp.MethodPath{Method: http.MethodGet, Path: path}] = handle(s,
		func(ctx context.Context, axis string, _ *http.Request) (interface{}, error) {
			v, err := s.GetVelocity(ctx, axis)
			return generichttp.FloatT{F64: v}, err
		})
	table[generichttp.MethodPath{Method: http.MethodPost, Path: path}] = handle(s,
		func(ctx context.Context, axis string, r *http.Request) (interface{}, error) {
			f := generichttp.FloatT{}
			if err := decode(r, &f); err != nil {
				return nil, err
			}
			return nil, s.SetVelocity(ctx, axis, f.F64)
		})
}
