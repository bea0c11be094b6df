package echoapi

import (
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/trezcool/maombi/core"
)

const orderingParam = "ordering"

// Ordering binds the "ordering" query param: a comma-separated field list,
// "-" prefix for descending. eg. ?ordering=-created_at,email
type Ordering struct {
	Orderings []core.DBOrdering
}

func (ord *Ordering) Bind(ctx echo.Context) {
	raw := ctx.QueryParam(orderingParam)
	if raw == "" {
		return
	}

	for _, field := range strings.Split(raw, ",") {
		field = strings.TrimSpace(field)
		if field == "" {
			continue
		}
		if strings.HasPrefix(field, "-") {
			ord.Orderings = append(ord.Orderings, core.DBOrdering{Field: field[1:]})
			continue
		}
		ord.Orderings = append(ord.Orderings, core.DBOrdering{Field: field, Ascending: true})
	}
}
