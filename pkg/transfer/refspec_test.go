package transfer

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lkjx77/GeoGig/pkg/status"
)

func TestParseRefSpec(t *testing.T) {
	tests := []struct {
		in      string
		want    RefSpec
		del     bool
		current bool
	}{
		{in: "+master:master", want: RefSpec{Force: true, Local: "master", Remote: "master"}},
		{in: ":branch", want: RefSpec{Remote: "branch"}, del: true},
		{in: "", want: RefSpec{}, current: true},
		{in: "+", want: RefSpec{Force: true}, current: true},
		{in: "master", want: RefSpec{Local: "master", Remote: "master"}},
		{in: "dev:review", want: RefSpec{Local: "dev", Remote: "review"}},
		{in: "refs/tags/v1:refs/tags/v1", want: RefSpec{Local: "refs/tags/v1", Remote: "refs/tags/v1"}},
		{in: "dev:", want: RefSpec{Local: "dev"}},
	}
	for _, tc := range tests {
		t.Run(tc.in, func(t *testing.T) {
			got, err := ParseRefSpec(tc.in)
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
			assert.Equal(t, tc.del, got.IsDelete())
			assert.Equal(t, tc.current, got.IsCurrentBranch())
		})
	}
}

func TestParseRefSpecRejects(t *testing.T) {
	for _, in := range []string{"a:b:c", "::", "my branch", "heads/*:x"} {
		_, err := ParseRefSpec(in)
		assert.Equal(t, status.InvalidArgument, status.Of(err), in)
	}
}

func TestRefSpecString(t *testing.T) {
	for _, in := range []string{"+master:master", ":branch", "master", "dev:review", ""} {
		spec, err := ParseRefSpec(in)
		require.NoError(t, err)
		again, err := ParseRefSpec(spec.String())
		require.NoError(t, err)
		assert.Equal(t, spec, again, in)
	}
	spec, _ := ParseRefSpec("+master:master")
	assert.Equal(t, "+master", spec.String())
}
