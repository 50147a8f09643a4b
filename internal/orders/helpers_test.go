package orders

import "github.com/angelmondragon/flashmart-backend/pkg/pagination"

func ptr[T any](v T) *T { return &v }

func paramsOf(limit int, cursor ...string) pagination.Params {
	p := pagination.Params{Limit: limit}
	if len(cursor) > 0 {
		p.Cursor = cursor[0]
	}
	return p
}
