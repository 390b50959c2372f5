package motion

import (
	"context"
	"net/http"

	"github.com/nosseb/gomac/generichttp"
)

// Enabler describes an interface with enable/disable methods for axes
type Enabler interface {
	Enable(ctx context.Context, axis string) error
	Disable(ctx context.Context, axis string) error
	GetEnabled(ctx context.Context, axis string) (bool, error)
}

// HTTPEnable adds GET and POST /axis/{axis}/enabled, {"bool": x}
func HTTPEnable(e Enabler, table generichttp.RouteTable) {
	path := "/axis/{axis}/enabled"
	table[generichttp.MethodPath{Method: http.MethodGet, Path: path}] = handle(e,
		func(ctx context.Context, axis string, _ *http.Request) (interface{}, error) {
			on, err := e.GetEnabled(ctx, axis)
			return generichttp.BoolT{Bool: on}, err
		})
	table[generichttp.MethodPath{Method: http.MethodPost, Path: path}] = handle(e,
		func(ctx context.Context, axis string, r *http.Request) (interface{}, error) {
			b := generichttp.BoolT{}
			if err := decode(r, &b); err != nil {
				return nil, err
			}
			if b.Bool {
				return nil, e.Enable(ctx, axis)
			}
			return nil, e.Disable(ctx, axis)
		})
}
