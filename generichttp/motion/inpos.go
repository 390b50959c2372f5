package motion

import (
	"context"
	"net/http"

	"github.com/nosseb/gomac/generichttp"
)

// InPositionQueryer is a type which can query whether an axis is in position
type InPositionQueryer interface {
	GetInPosition(ctx context.Context, axis string) (bool, error)
}

// HTTPInPosition adds GET /axis/{axis}/inposition, {"bool": x}
func HTTPInPosition(q InPositionQueryer, table generichttp.RouteTable) {
	table[generichttp.MethodPath{Method: http.MethodGet, Path: "/axis/{axis}/inposition"}] = handle(q,
		func(ctx context.Context, axis string, _ *http.Request) (interface{}, error) {
			in, err := q.GetInPosition(ctx, axis)
			return generichttp.BoolT{Bool: in}, err
		})
}
