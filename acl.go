package zk

import (
	"crypto/sha1"
	"encoding/base64"

	"github.com/QuangTung97/zksession/proto"
)

const (
	PermRead   = proto.PermRead
	PermWrite  = proto.PermWrite
	PermCreate = proto.PermCreate
	PermDelete = proto.PermDelete
	PermAdmin  = proto.PermAdmin
	PermAll    = proto.PermAll
)

const (
	FlagEphemeral = proto.FlagEphemeral
	FlagSequence  = proto.FlagSequence
)

// ACL grants Perms to the identity ID under Scheme.
type ACL struct {
	Perms  int32
	Scheme string
	ID     string
}

// WorldACL produces an ACL list containing a single ACL which uses the
// provided permissions, with the scheme "world", and ID "anyone", which
// is used by ZooKeeper to represent any user at all.
func WorldACL(perms int32) []ACL {
	return []ACL{{Perms: perms, Scheme: "world", ID: "anyone"}}
}

// AuthACL grants perms to every identity authenticated on the session
// that creates the node.
func AuthACL(perms int32) []ACL {
	return []ACL{{Perms: perms, Scheme: "auth", ID: ""}}
}

// DigestACL grants perms to user, authenticated with the "digest" scheme.
func DigestACL(perms int32, user, password string) []ACL {
	h := sha1.New()
	_, _ = h.Write([]byte(user + ":" + password))
	digest := base64.StdEncoding.EncodeToString(h.Sum(nil))
	return []ACL{{Perms: perms, Scheme: "digest", ID: user + ":" + digest}}
}

var (
	OpenACLUnsafe = WorldACL(PermAll)
	CreatorAllACL = AuthACL(PermAll)
	ReadACLUnsafe = WorldACL(PermRead)
)

func toProtoACLs(acl []ACL) proto.ACLs {
	result := make(proto.ACLs, 0, len(acl))
	for _, a := range acl {
		result = append(result, proto.NewACL(a.Perms, a.Scheme, a.ID))
	}
	return result
}

func fromProtoACLs(acl proto.ACLs) []ACL {
	result := make([]ACL, 0, len(acl))
	for _, a := range acl {
		result = append(result, ACL{
			Perms:  int32(a.Perms),
			Scheme: a.ID.Scheme.Value,
			ID:     a.ID.ID.Value,
		})
	}
	return result
}
