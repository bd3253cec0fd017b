package proto

import (
	"strings"

	"github.com/QuangTung97/zksession/jute"
)

// ChrootApplier is implemented by requests carrying paths that must be
// rooted under the client's chroot before they are sent.
type ChrootApplier interface {
	ApplyChroot(chroot string)
}

// ChrootStripper is implemented by responses and events carrying server
// paths that must be made relative to the client's chroot.
type ChrootStripper interface {
	StripChroot(chroot string)
}

// PrependChroot maps a client path to the server path.
func PrependChroot(chroot string, path string) string {
	if chroot == "" {
		return path
	}
	if path == "/" {
		return chroot
	}
	return chroot + path
}

// TrimChroot maps a server path back to the client path. Paths outside of
// the chroot are returned unchanged.
func TrimChroot(chroot string, path string) string {
	if chroot == "" {
		return path
	}
	if path == chroot {
		return "/"
	}
	if strings.HasPrefix(path, chroot+"/") {
		return path[len(chroot):]
	}
	return path
}

func prependPath(s *jute.UString, chroot string) {
	if s.Valid {
		s.Value = PrependChroot(chroot, s.Value)
	}
}

func trimPath(s *jute.UString, chroot string) {
	if s.Valid {
		s.Value = TrimChroot(chroot, s.Value)
	}
}

func prependPaths(v jute.Vector[jute.UString, *jute.UString], chroot string) {
	for i := range v {
		prependPath(&v[i], chroot)
	}
}

func (r *CreateRequest) ApplyChroot(chroot string)       { prependPath(&r.Path, chroot) }
func (r *DeleteRequest) ApplyChroot(chroot string)       { prependPath(&r.Path, chroot) }
func (r *PathWatchRequest) ApplyChroot(chroot string)    { prependPath(&r.Path, chroot) }
func (r *SetDataRequest) ApplyChroot(chroot string)      { prependPath(&r.Path, chroot) }
func (r *PathRequest) ApplyChroot(chroot string)         { prependPath(&r.Path, chroot) }
func (r *SetACLRequest) ApplyChroot(chroot string)       { prependPath(&r.Path, chroot) }
func (r *CheckVersionRequest) ApplyChroot(chroot string) { prependPath(&r.Path, chroot) }

func (r *SetWatches) ApplyChroot(chroot string) {
	prependPaths(r.DataWatches, chroot)
	prependPaths(r.ExistWatches, chroot)
	prependPaths(r.ChildWatches, chroot)
}

func (r *MultiRequest) ApplyChroot(chroot string) {
	for _, op := range r.Ops {
		if a, ok := op.Request.(ChrootApplier); ok {
			a.ApplyChroot(chroot)
		}
	}
}

func (r *PathResponse) StripChroot(chroot string) { trimPath(&r.Path, chroot) }
func (r *WatcherEvent) StripChroot(chroot string) { trimPath(&r.Path, chroot) }

func (r *MultiResponse) StripChroot(chroot string) {
	for i := range r.Results {
		if r.Results[i].Type == OpCreate {
			r.Results[i].Path = TrimChroot(chroot, r.Results[i].Path)
		}
	}
}
