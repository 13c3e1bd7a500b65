package outbound

import (
	"context"
	"net/url"
)

// DataAPI is the outbound port for the backend's REST data API.
// params carry PostgREST-style filters ("read_status=eq.unread"); every
// call authenticates with the signed-in user's access token.
type DataAPI interface {
	// Select reads rows from table into out (a pointer to a slice).
	Select(ctx context.Context, table string, params url.Values, accessToken string, out any) error

	// Insert writes row into table, decoding the created representation
	// into out when out is non-nil.
	Insert(ctx context.Context, table string, row any, accessToken string, out any) error

	// Update patches the rows matched by params.
	Update(ctx context.Context, table string, params url.Values, patch any, accessToken string) error

	// Delete removes the rows matched by params.
	Delete(ctx context.Context, table string, params url.Values, accessToken string) error
}
