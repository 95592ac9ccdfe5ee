package transfer

import (
	"fmt"
	"strings"

	"github.com/lkjx77/GeoGig/pkg/status"
)

// RefSpec maps a local ref to a remote ref: [+][<local>][:][<remote>].
type RefSpec struct {
	Force  bool
	Local  string
	Remote string
}

// ParseRefSpec parses a push refspec. Without a colon the remote name
// equals the local one; ":name" deletes the remote ref and "" means the
// current branch.
func ParseRefSpec(s string) (RefSpec, error) {
	raw := s
	s = strings.TrimSpace(s)
	var spec RefSpec
	if strings.HasPrefix(s, "+") {
		spec.Force = true
		s = s[1:]
	}
	if strings.Count(s, ":") > 1 {
		return RefSpec{}, status.Errorf(status.InvalidArgument, "invalid refspec %q: more than one ':'", raw)
	}
	local, rem, found := strings.Cut(s, ":")
	spec.Local = strings.TrimSpace(local)
	spec.Remote = strings.TrimSpace(rem)
	if !found {
		spec.Remote = spec.Local
	}
	if strings.ContainsAny(spec.Local+spec.Remote, " \t*") {
		return RefSpec{}, status.Errorf(status.InvalidArgument, "invalid refspec %q", raw)
	}
	return spec, nil
}

// IsDelete reports whether the spec deletes its remote ref.
func (s RefSpec) IsDelete() bool { return s.Local == "" && s.Remote != "" }

// IsCurrentBranch reports whether the spec stands for the current branch.
func (s RefSpec) IsCurrentBranch() bool { return s.Local == "" && s.Remote == "" }

func (s RefSpec) String() string {
	var b strings.Builder
	if s.Force {
		b.WriteByte('+')
	}
	b.WriteString(s.Local)
	if s.Remote != s.Local {
		b.WriteByte(':')
		b.WriteString(s.Remote)
	}
	return b.String()
}

// RefSpecError reports which refspec aborted a push.
type RefSpecError struct {
	RefSpec string
	Err     error
}

func (e *RefSpecError) Error() string {
	return fmt.Sprintf("refspec %q: %v", e.RefSpec, e.Err)
}

func (e *RefSpecError) Unwrap() error { return e.Err }
