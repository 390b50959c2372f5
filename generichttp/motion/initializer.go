package motion

import (
	"context"
	"net/http"

	"github.com/nosseb/gomac/generichttp"
)

// Initializer is a type which may run a startup sequence on an axis
type Initializer interface {
	Initialize(ctx context.Context, axis string) error
}

// HTTPInitialize adds POST /axis/{axis}/initialize
func HTTPInitialize(i Initializer, table generichttp.RouteTable) {
	table[generichttp.MethodPath{Method: http.MethodPost, Path: "/axis/{axis}/initialize"}] = handle(i,
		func(ctx context.Context, axis string, _ *http.Request) (interface{}, error) {
			return nil, i.Initialize(ctx, axis)
		})
}
