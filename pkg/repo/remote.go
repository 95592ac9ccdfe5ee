package repo

import (
	"strings"
)

// Remote identifies a peer repository and how its branches map into the
// local remote-tracking namespace.
type Remote struct {
	Name     string
	FetchURL string
	PushURL  string
	Fetch    string // "+refs/heads/*:refs/remotes/<name>/*"
}

func newRemote(name string, rc RemoteConfig) Remote {
	rm := Remote{Name: name, FetchURL: rc.URL, PushURL: rc.PushURL, Fetch: rc.Fetch}
	if rm.PushURL == "" {
		rm.PushURL = rm.FetchURL
	}
	if rm.Fetch == "" {
		rm.Fetch = DefaultFetchSpec(name)
	}
	return rm
}

func DefaultFetchSpec(remote string) string {
	return "+" + BranchPrefix + "*:" + RemotePrefix + remote + "/*"
}

// TrackingRef maps a ref name on the remote to the local remote-tracking
// ref through the fetch mapping. ok is false when the ref is not covered.
func (rm Remote) TrackingRef(remoteRef string) (string, bool) {
	spec := strings.TrimPrefix(rm.Fetch, "+")
	src, dst, found := strings.Cut(spec, ":")
	if !found || src == "" || dst == "" {
		return "", false
	}
	if !strings.Contains(src, "*") {
		if remoteRef == src {
			return dst, true
		}
		return "", false
	}
	srcPre, srcSuf, _ := strings.Cut(src, "*")
	dstPre, dstSuf, _ := strings.Cut(dst, "*")
	if !strings.HasPrefix(remoteRef, srcPre) || !strings.HasSuffix(remoteRef, srcSuf) {
		return "", false
	}
	middle := strings.TrimSuffix(strings.TrimPrefix(remoteRef, srcPre), srcSuf)
	if middle == "" {
		return "", false
	}
	return dstPre + middle + dstSuf, true
}

// BranchTrackingRef is the tracking ref for a branch short name or full
// name, falling back to refs/remotes/<remote>/<branch> when the fetch
// mapping does not cover it.
func (rm Remote) BranchTrackingRef(branch string) string {
	full := branch
	if !strings.HasPrefix(full, RefsPrefix) {
		full = BranchPrefix + branch
	}
	if ref, ok := rm.TrackingRef(full); ok {
		return ref
	}
	return RemotePrefix + rm.Name + "/" + ShortName(full)
}

// ShortName strips the refs/heads/, refs/tags/ or refs/remotes/ prefix.
func ShortName(ref string) string {
	for _, p := range []string{BranchPrefix, TagPrefix, RemotePrefix} {
		if strings.HasPrefix(ref, p) {
			return strings.TrimPrefix(ref, p)
		}
	}
	return ref
}
