package cwclient

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestBuildParams_Defaults(t *testing.T) {
	got := BuildParams(nil, nil)
	require.Equal(t, map[string]string{
		"page":     "1",
		"pageSize": "100",
		"orderBy":  "name asc",
		"fields":   "id,name",
	}, got)
}

func TestBuildParams_Precedence(t *testing.T) {
	defaults := Params{"fields": TicketFields, "orderBy": "dateEntered desc", "conditions": "project/id=7"}
	overrides := Params{"orderBy": "id asc", "page": 3}

	got := BuildParams(defaults, overrides)
	require.Equal(t, "id asc", got["orderBy"])
	require.Equal(t, "3", got["page"])
	require.Equal(t, "100", got["pageSize"])
	require.Equal(t, "project/id=7", got["conditions"])
	require.Equal(t,
		"id,summary,status/name,priority/name,project/id,project/name,assignedTo/identifier,dateEntered,estimatedHours,actualHours",
		got["fields"])
}

func TestBuildParams_DropsNil(t *testing.T) {
	var nilSlice []string
	var nilPtr *int
	got := BuildParams(
		Params{"conditions": nil, "fields": nilSlice},
		Params{"orderBy": nil, "childConditions": nilPtr},
	)
	for _, k := range []string{"conditions", "fields", "orderBy", "childConditions"} {
		_, ok := got[k]
		require.Falsef(t, ok, "key %q should be dropped", k)
	}
	require.Equal(t, "1", got["page"])
}

func TestBuildParams_SerializesSequencesAndScalars(t *testing.T) {
	n := 25
	got := BuildParams(nil, Params{
		"fields":   []string{"id", "summary"},
		"ids":      []int{3, 1, 2},
		"pageSize": &n,
		"flag":     true,
	})
	require.Equal(t, "id,summary", got["fields"])
	require.Equal(t, "3,1,2", got["ids"])
	require.Equal(t, "25", got["pageSize"])
	require.Equal(t, "true", got["flag"])
}

func TestBuildParams_NeverMutatesInputs(t *testing.T) {
	defaults := Params{"fields": []string{"id"}}
	overrides := Params{"page": 2, "conditions": nil}

	first := BuildParams(defaults, overrides)
	require.Equal(t, Params{"fields": []string{"id"}}, defaults)
	require.Equal(t, Params{"page": 2, "conditions": nil}, overrides)

	first["page"] = "99"
	second := BuildParams(defaults, overrides)
	require.Equal(t, "2", second["page"], "each call must return a fresh map")
}
