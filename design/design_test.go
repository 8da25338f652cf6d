package design

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"goa.design/goa/v3/eval"
	"goa.design/goa/v3/expr"

	"ringside/internal/services"
)

func TestDesignMatchesMountedRoutes(t *testing.T) {
	require.NoError(t, eval.RunDSL())
	require.Equal(t, "ringside", expr.Root.API.Name)

	designed := map[string]bool{}
	for _, svc := range expr.Root.API.HTTP.Services {
		for _, e := range svc.HTTPEndpoints {
			for _, r := range e.Routes {
				designed[r.Method+" "+r.Path] = true
			}
		}
	}

	mounted := map[string]bool{}
	for _, m := range services.NewServer(services.Services{}, nil, nil, nil, nil).Mounts {
		mounted[m.Verb+" "+m.Pattern] = true
	}

	assert.Equal(t, designed, mounted)
}
