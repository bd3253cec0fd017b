package proto

import "github.com/QuangTung97/zksession/jute"

// ACLs is the wire form of an ACL list.
type ACLs = jute.Vector[ACL, *ACL]

// Id names an authenticated identity under a scheme.
type Id struct {
	Scheme jute.UString
	ID     jute.UString
}

func (r *Id) fields() jute.Fields {
	return jute.Fields{{Name: "scheme", Value: &r.Scheme}, {Name: "id", Value: &r.ID}}
}

func (r *Id) ByteLength() int { return r.fields().ByteLength() }
func (r *Id) Serialize(b []byte, o int) (int, error) {
	return r.fields().Serialize(b, o)
}
func (r *Id) Deserialize(b []byte, o int) (int, error) {
	return r.fields().Deserialize(b, o)
}

// ACL grants perms to an identity.
type ACL struct {
	Perms jute.Int
	ID    Id
}

// NewACL builds an ACL entry.
func NewACL(perms int32, scheme string, id string) ACL {
	return ACL{
		Perms: jute.Int(perms),
		ID:    Id{Scheme: jute.String(scheme), ID: jute.String(id)},
	}
}

func (r *ACL) fields() jute.Fields {
	return jute.Fields{{Name: "perms", Value: &r.Perms}, {Name: "id", Value: &r.ID}}
}

func (r *ACL) ByteLength() int { return r.fields().ByteLength() }
func (r *ACL) Serialize(b []byte, o int) (int, error) {
	return r.fields().Serialize(b, o)
}
func (r *ACL) Deserialize(b []byte, o int) (int, error) {
	return r.fields().Deserialize(b, o)
}

// Stat is the metadata of a znode.
type Stat struct {
	Czxid          jute.Zxid
	Mzxid          jute.Zxid
	Ctime          jute.Long
	Mtime          jute.Long
	Version        jute.Int
	Cversion       jute.Int
	Aversion       jute.Int
	EphemeralOwner jute.Long
	DataLength     jute.Int
	NumChildren    jute.Int
	Pzxid          jute.Zxid
}

func (r *Stat) fields() jute.Fields {
	return jute.Fields{
		{Name: "czxid", Value: &r.Czxid},
		{Name: "mzxid", Value: &r.Mzxid},
		{Name: "ctime", Value: &r.Ctime},
		{Name: "mtime", Value: &r.Mtime},
		{Name: "version", Value: &r.Version},
		{Name: "cversion", Value: &r.Cversion},
		{Name: "aversion", Value: &r.Aversion},
		{Name: "ephemeralOwner", Value: &r.EphemeralOwner},
		{Name: "dataLength", Value: &r.DataLength},
		{Name: "numChildren", Value: &r.NumChildren},
		{Name: "pzxid", Value: &r.Pzxid},
	}
}

func (r *Stat) ByteLength() int { return r.fields().ByteLength() }
func (r *Stat) Serialize(b []byte, o int) (int, error) {
	return r.fields().Serialize(b, o)
}
func (r *Stat) Deserialize(b []byte, o int) (int, error) {
	return r.fields().Deserialize(b, o)
}
func (r *Stat) String() string { return r.fields().String() }

// ConnectRequest opens or resumes a session. It has no request header.
type ConnectRequest struct {
	ProtocolVersion jute.Int
	LastZxidSeen    jute.Zxid
	TimeOut         jute.Int
	SessionID       jute.Long
	Passwd          jute.Buffer
	ReadOnly        jute.Bool
}

func (r *ConnectRequest) fields() jute.Fields {
	return jute.Fields{
		{Name: "protocolVersion", Value: &r.ProtocolVersion},
		{Name: "lastZxidSeen", Value: &r.LastZxidSeen},
		{Name: "timeOut", Value: &r.TimeOut},
		{Name: "sessionId", Value: &r.SessionID},
		{Name: "passwd", Value: &r.Passwd},
		{Name: "readOnly", Value: &r.ReadOnly},
	}
}

func (r *ConnectRequest) ByteLength() int { return r.fields().ByteLength() }
func (r *ConnectRequest) Serialize(b []byte, o int) (int, error) {
	return r.fields().Serialize(b, o)
}
func (r *ConnectRequest) Deserialize(b []byte, o int) (int, error) {
	return r.fields().Deserialize(b, o)
}

// ConnectResponse carries the negotiated session. Servers older than 3.4
// omit the trailing readOnly flag, so it is only read when present.
type ConnectResponse struct {
	ProtocolVersion jute.Int
	TimeOut         jute.Int
	SessionID       jute.Long
	Passwd          jute.Buffer
	ReadOnly        jute.Bool
}

func (r *ConnectResponse) fields() jute.Fields {
	return jute.Fields{
		{Name: "protocolVersion", Value: &r.ProtocolVersion},
		{Name: "timeOut", Value: &r.TimeOut},
		{Name: "sessionId", Value: &r.SessionID},
		{Name: "passwd", Value: &r.Passwd},
	}
}

func (r *ConnectResponse) ByteLength() int { return r.fields().ByteLength() + 1 }
func (r *ConnectResponse) Serialize(b []byte, o int) (int, error) {
	n, err := r.fields().Serialize(b, o)
	if err != nil {
		return 0, err
	}
	m, err := r.ReadOnly.Serialize(b, o+n)
	if err != nil {
		return 0, err
	}
	return n + m, nil
}
func (r *ConnectResponse) Deserialize(b []byte, o int) (int, error) {
	n, err := r.fields().Deserialize(b, o)
	if err != nil {
		return 0, err
	}
	r.ReadOnly = false
	if o+n >= len(b) {
		return n, nil
	}
	m, err := r.ReadOnly.Deserialize(b, o+n)
	if err != nil {
		return 0, err
	}
	return n + m, nil
}

// RequestHeader precedes every request except the connect request.
type RequestHeader struct {
	Xid  jute.Int
	Type jute.Int
}

func (r *RequestHeader) fields() jute.Fields {
	return jute.Fields{{Name: "xid", Value: &r.Xid}, {Name: "type", Value: &r.Type}}
}

func (r *RequestHeader) ByteLength() int { return r.fields().ByteLength() }
func (r *RequestHeader) Serialize(b []byte, o int) (int, error) {
	return r.fields().Serialize(b, o)
}
func (r *RequestHeader) Deserialize(b []byte, o int) (int, error) {
	return r.fields().Deserialize(b, o)
}

// ReplyHeader precedes every reply except the connect response.
type ReplyHeader struct {
	Xid  jute.Int
	Zxid jute.Zxid
	Err  jute.Int
}

func (r *ReplyHeader) fields() jute.Fields {
	return jute.Fields{
		{Name: "xid", Value: &r.Xid},
		{Name: "zxid", Value: &r.Zxid},
		{Name: "err", Value: &r.Err},
	}
}

func (r *ReplyHeader) ByteLength() int { return r.fields().ByteLength() }
func (r *ReplyHeader) Serialize(b []byte, o int) (int, error) {
	return r.fields().Serialize(b, o)
}
func (r *ReplyHeader) Deserialize(b []byte, o int) (int, error) {
	return r.fields().Deserialize(b, o)
}

// AuthPacket adds a credential to the session.
type AuthPacket struct {
	Type   jute.Int
	Scheme jute.UString
	Auth   jute.Buffer
}

func (r *AuthPacket) fields() jute.Fields {
	return jute.Fields{
		{Name: "type", Value: &r.Type},
		{Name: "scheme", Value: &r.Scheme},
		{Name: "auth", Value: &r.Auth},
	}
}

func (r *AuthPacket) ByteLength() int { return r.fields().ByteLength() }
func (r *AuthPacket) Serialize(b []byte, o int) (int, error) {
	return r.fields().Serialize(b, o)
}
func (r *AuthPacket) Deserialize(b []byte, o int) (int, error) {
	return r.fields().Deserialize(b, o)
}

type CreateRequest struct {
	Path  jute.UString
	Data  jute.Buffer
	ACL   ACLs
	Flags jute.Int
}

func (r *CreateRequest) fields() jute.Fields {
	return jute.Fields{
		{Name: "path", Value: &r.Path},
		{Name: "data", Value: &r.Data},
		{Name: "acl", Value: &r.ACL},
		{Name: "flags", Value: &r.Flags},
	}
}

func (r *CreateRequest) ByteLength() int { return r.fields().ByteLength() }
func (r *CreateRequest) Serialize(b []byte, o int) (int, error) {
	return r.fields().Serialize(b, o)
}
func (r *CreateRequest) Deserialize(b []byte, o int) (int, error) {
	return r.fields().Deserialize(b, o)
}

// PathResponse is shared by create and sync.
type PathResponse struct {
	Path jute.UString
}

func (r *PathResponse) fields() jute.Fields {
	return jute.Fields{{Name: "path", Value: &r.Path}}
}

func (r *PathResponse) ByteLength() int { return r.fields().ByteLength() }
func (r *PathResponse) Serialize(b []byte, o int) (int, error) {
	return r.fields().Serialize(b, o)
}
func (r *PathResponse) Deserialize(b []byte, o int) (int, error) {
	return r.fields().Deserialize(b, o)
}

type (
	CreateResponse = PathResponse
	SyncResponse   = PathResponse
)

type DeleteRequest struct {
	Path    jute.UString
	Version jute.Int
}

func (r *DeleteRequest) fields() jute.Fields {
	return jute.Fields{{Name: "path", Value: &r.Path}, {Name: "version", Value: &r.Version}}
}

func (r *DeleteRequest) ByteLength() int { return r.fields().ByteLength() }
func (r *DeleteRequest) Serialize(b []byte, o int) (int, error) {
	return r.fields().Serialize(b, o)
}
func (r *DeleteRequest) Deserialize(b []byte, o int) (int, error) {
	return r.fields().Deserialize(b, o)
}

// PathWatchRequest is shared by exists, getData and getChildren2.
type PathWatchRequest struct {
	Path  jute.UString
	Watch jute.Bool
}

func (r *PathWatchRequest) fields() jute.Fields {
	return jute.Fields{{Name: "path", Value: &r.Path}, {Name: "watch", Value: &r.Watch}}
}

func (r *PathWatchRequest) ByteLength() int { return r.fields().ByteLength() }
func (r *PathWatchRequest) Serialize(b []byte, o int) (int, error) {
	return r.fields().Serialize(b, o)
}
func (r *PathWatchRequest) Deserialize(b []byte, o int) (int, error) {
	return r.fields().Deserialize(b, o)
}

type (
	ExistsRequest       = PathWatchRequest
	GetDataRequest      = PathWatchRequest
	GetChildren2Request = PathWatchRequest
)

// StatResponse is shared by exists, setData and setACL.
type StatResponse struct {
	Stat Stat
}

func (r *StatResponse) fields() jute.Fields {
	return jute.Fields{{Name: "stat", Value: &r.Stat}}
}

func (r *StatResponse) ByteLength() int { return r.fields().ByteLength() }
func (r *StatResponse) Serialize(b []byte, o int) (int, error) {
	return r.fields().Serialize(b, o)
}
func (r *StatResponse) Deserialize(b []byte, o int) (int, error) {
	return r.fields().Deserialize(b, o)
}

type (
	ExistsResponse  = StatResponse
	SetDataResponse = StatResponse
	SetACLResponse  = StatResponse
)

type GetDataResponse struct {
	Data jute.Buffer
	Stat Stat
}

func (r *GetDataResponse) fields() jute.Fields {
	return jute.Fields{{Name: "data", Value: &r.Data}, {Name: "stat", Value: &r.Stat}}
}

func (r *GetDataResponse) ByteLength() int { return r.fields().ByteLength() }
func (r *GetDataResponse) Serialize(b []byte, o int) (int, error) {
	return r.fields().Serialize(b, o)
}
func (r *GetDataResponse) Deserialize(b []byte, o int) (int, error) {
	return r.fields().Deserialize(b, o)
}

type SetDataRequest struct {
	Path    jute.UString
	Data    jute.Buffer
	Version jute.Int
}

func (r *SetDataRequest) fields() jute.Fields {
	return jute.Fields{
		{Name: "path", Value: &r.Path},
		{Name: "data", Value: &r.Data},
		{Name: "version", Value: &r.Version},
	}
}

func (r *SetDataRequest) ByteLength() int { return r.fields().ByteLength() }
func (r *SetDataRequest) Serialize(b []byte, o int) (int, error) {
	return r.fields().Serialize(b, o)
}
func (r *SetDataRequest) Deserialize(b []byte, o int) (int, error) {
	return r.fields().Deserialize(b, o)
}

// PathRequest is shared by getACL and sync.
type PathRequest struct {
	Path jute.UString
}

func (r *PathRequest) fields() jute.Fields {
	return jute.Fields{{Name: "path", Value: &r.Path}}
}

func (r *PathRequest) ByteLength() int { return r.fields().ByteLength() }
func (r *PathRequest) Serialize(b []byte, o int) (int, error) {
	return r.fields().Serialize(b, o)
}
func (r *PathRequest) Deserialize(b []byte, o int) (int, error) {
	return r.fields().Deserialize(b, o)
}

type (
	GetACLRequest = PathRequest
	SyncRequest   = PathRequest
)

type GetACLResponse struct {
	ACL  ACLs
	Stat Stat
}

func (r *GetACLResponse) fields() jute.Fields {
	return jute.Fields{{Name: "acl", Value: &r.ACL}, {Name: "stat", Value: &r.Stat}}
}

func (r *GetACLResponse) ByteLength() int { return r.fields().ByteLength() }
func (r *GetACLResponse) Serialize(b []byte, o int) (int, error) {
	return r.fields().Serialize(b, o)
}
func (r *GetACLResponse) Deserialize(b []byte, o int) (int, error) {
	return r.fields().Deserialize(b, o)
}

type SetACLRequest struct {
	Path    jute.UString
	ACL     ACLs
	Version jute.Int
}

func (r *SetACLRequest) fields() jute.Fields {
	return jute.Fields{
		{Name: "path", Value: &r.Path},
		{Name: "acl", Value: &r.ACL},
		{Name: "version", Value: &r.Version},
	}
}

func (r *SetACLRequest) ByteLength() int { return r.fields().ByteLength() }
func (r *SetACLRequest) Serialize(b []byte, o int) (int, error) {
	return r.fields().Serialize(b, o)
}
func (r *SetACLRequest) Deserialize(b []byte, o int) (int, error) {
	return r.fields().Deserialize(b, o)
}

type GetChildren2Response struct {
	Children jute.Vector[jute.UString, *jute.UString]
	Stat     Stat
}

func (r *GetChildren2Response) fields() jute.Fields {
	return jute.Fields{{Name: "children", Value: &r.Children}, {Name: "stat", Value: &r.Stat}}
}

func (r *GetChildren2Response) ByteLength() int { return r.fields().ByteLength() }
func (r *GetChildren2Response) Serialize(b []byte, o int) (int, error) {
	return r.fields().Serialize(b, o)
}
func (r *GetChildren2Response) Deserialize(b []byte, o int) (int, error) {
	return r.fields().Deserialize(b, o)
}

type CheckVersionRequest struct {
	Path    jute.UString
	Version jute.Int
}

func (r *CheckVersionRequest) fields() jute.Fields {
	return jute.Fields{{Name: "path", Value: &r.Path}, {Name: "version", Value: &r.Version}}
}

func (r *CheckVersionRequest) ByteLength() int { return r.fields().ByteLength() }
func (r *CheckVersionRequest) Serialize(b []byte, o int) (int, error) {
	return r.fields().Serialize(b, o)
}
func (r *CheckVersionRequest) Deserialize(b []byte, o int) (int, error) {
	return r.fields().Deserialize(b, o)
}

// SetWatches re-arms watches after a reconnect.
type SetWatches struct {
	RelativeZxid jute.Zxid
	DataWatches  jute.Vector[jute.UString, *jute.UString]
	ExistWatches jute.Vector[jute.UString, *jute.UString]
	ChildWatches jute.Vector[jute.UString, *jute.UString]
}

func (r *SetWatches) fields() jute.Fields {
	return jute.Fields{
		{Name: "relativeZxid", Value: &r.RelativeZxid},
		{Name: "dataWatches", Value: &r.DataWatches},
		{Name: "existWatches", Value: &r.ExistWatches},
		{Name: "childWatches", Value: &r.ChildWatches},
	}
}

func (r *SetWatches) ByteLength() int { return r.fields().ByteLength() }
func (r *SetWatches) Serialize(b []byte, o int) (int, error) {
	return r.fields().Serialize(b, o)
}
func (r *SetWatches) Deserialize(b []byte, o int) (int, error) {
	return r.fields().Deserialize(b, o)
}

// WatcherEvent is the payload of a notification (xid -1).
type WatcherEvent struct {
	Type  jute.Int
	State jute.Int
	Path  jute.UString
}

func (r *WatcherEvent) fields() jute.Fields {
	return jute.Fields{
		{Name: "type", Value: &r.Type},
		{Name: "state", Value: &r.State},
		{Name: "path", Value: &r.Path},
	}
}

func (r *WatcherEvent) ByteLength() int { return r.fields().ByteLength() }
func (r *WatcherEvent) Serialize(b []byte, o int) (int, error) {
	return r.fields().Serialize(b, o)
}
func (r *WatcherEvent) Deserialize(b []byte, o int) (int, error) {
	return r.fields().Deserialize(b, o)
}

// MultiHeader precedes every operation of a multi request and response.
type MultiHeader struct {
	Type jute.Int
	Done jute.Bool
	Err  jute.Int
}

func (r *MultiHeader) fields() jute.Fields {
	return jute.Fields{
		{Name: "type", Value: &r.Type},
		{Name: "done", Value: &r.Done},
		{Name: "err", Value: &r.Err},
	}
}

func (r *MultiHeader) ByteLength() int { return r.fields().ByteLength() }
func (r *MultiHeader) Serialize(b []byte, o int) (int, error) {
	return r.fields().Serialize(b, o)
}
func (r *MultiHeader) Deserialize(b []byte, o int) (int, error) {
	return r.fields().Deserialize(b, o)
}

type ErrorResponse struct {
	Err jute.Int
}

func (r *ErrorResponse) fields() jute.Fields {
	return jute.Fields{{Name: "err", Value: &r.Err}}
}

func (r *ErrorResponse) ByteLength() int { return r.fields().ByteLength() }
func (r *ErrorResponse) Serialize(b []byte, o int) (int, error) {
	return r.fields().Serialize(b, o)
}
func (r *ErrorResponse) Deserialize(b []byte, o int) (int, error) {
	return r.fields().Deserialize(b, o)
}
