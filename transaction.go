package zk

import (
	"github.com/QuangTung97/zksession/jute"
	"github.com/QuangTung97/zksession/proto"
)

// Transaction collects operations committed atomically with one multi
// request. Builder errors are kept and returned by Commit.
type Transaction struct {
	client *Client
	ops    []proto.MultiOp
	err    error
}

// Transaction starts an empty transaction.
func (c *Client) Transaction() *Transaction {
	return &Transaction{client: c}
}

func (t *Transaction) add(op proto.OpCode, req jute.Value) *Transaction {
	t.ops = append(t.ops, proto.MultiOp{Type: op, Request: req})
	return t
}

func (t *Transaction) setErr(err error) *Transaction {
	if t.err == nil {
		t.err = err
	}
	return t
}

func (t *Transaction) Create(path string, data []byte, flags int32, acl []ACL) *Transaction {
	if err := ValidatePath(path, flags&FlagSequence != 0); err != nil {
		return t.setErr(err)
	}
	if len(acl) == 0 {
		return t.setErr(ErrInvalidACLArgs)
	}
	data, err := t.client.compressData(path, data)
	if err != nil {
		return t.setErr(err)
	}
	return t.add(proto.OpCreate, &proto.CreateRequest{
		Path:  jute.String(path),
		Data:  jute.Buffer(data),
		ACL:   toProtoACLs(acl),
		Flags: jute.Int(flags),
	})
}

func (t *Transaction) Delete(path string, version int32) *Transaction {
	if err := ValidatePath(path, false); err != nil {
		return t.setErr(err)
	}
	return t.add(proto.OpDelete, &proto.DeleteRequest{
		Path:    jute.String(path),
		Version: jute.Int(version),
	})
}

func (t *Transaction) SetData(path string, data []byte, version int32) *Transaction {
	if err := ValidatePath(path, false); err != nil {
		return t.setErr(err)
	}
	data, err := t.client.compressData(path, data)
	if err != nil {
		return t.setErr(err)
	}
	return t.add(proto.OpSetData, &proto.SetDataRequest{
		Path:    jute.String(path),
		Data:    jute.Buffer(data),
		Version: jute.Int(version),
	})
}

// Check fails the transaction unless the node has the given version.
func (t *Transaction) Check(path string, version int32) *Transaction {
	if err := ValidatePath(path, false); err != nil {
		return t.setErr(err)
	}
	return t.add(proto.OpCheck, &proto.CheckVersionRequest{
		Path:    jute.String(path),
		Version: jute.Int(version),
	})
}

// OpResult is the outcome of one operation of a committed transaction.
type OpResult struct {
	Type proto.OpCode
	Path string // created path, for create
	Stat *Stat  // for set data
	Err  error
}

type TransactionResponse struct {
	Zxid    jute.Zxid
	Results []OpResult
}

// Commit sends the transaction. err is the first failed operation, if any.
func (t *Transaction) Commit(callback func(resp TransactionResponse, err error)) {
	handleCallback := func(resp *Response, err error) {
		if callback == nil {
			return
		}
		if err != nil {
			callback(TransactionResponse{}, err)
			return
		}

		r := resp.Payload.(*proto.MultiResponse)
		result := TransactionResponse{
			Zxid:    resp.Zxid,
			Results: make([]OpResult, 0, len(r.Results)),
		}

		var firstErr error
		for i, res := range r.Results {
			op := OpResult{
				Type: res.Type,
				Path: res.Path,
			}
			if res.Stat != nil {
				stat := statFromProto(res.Stat)
				op.Stat = &stat
			}
			if res.Err != 0 {
				path := ""
				if i < len(t.ops) {
					path = proto.PathOf(t.ops[i].Request)
				}
				op.Err = NewError(ErrorCode(res.Err), path)
				if firstErr == nil {
					firstErr = op.Err
				}
			}
			result.Results = append(result.Results, op)
		}
		callback(result, firstErr)
	}

	if t.err != nil {
		t.client.fail(proto.OpMulti, t.err, handleCallback)
		return
	}
	if len(t.ops) == 0 {
		t.client.fail(proto.OpMulti, ErrBadArguments, handleCallback)
		return
	}

	ops := t.ops
	t.client.do(proto.OpMulti, func() (jute.Value, *WatchRegistration) {
		return &proto.MultiRequest{Ops: cloneMultiOps(ops)}, nil
	}, handleCallback)
}

// cloneMultiOps copies the requests so that the chroot applied by one
// attempt does not leak into a retry.
func cloneMultiOps(ops []proto.MultiOp) []proto.MultiOp {
	result := make([]proto.MultiOp, 0, len(ops))
	for _, op := range ops {
		var req jute.Value
		switch r := op.Request.(type) {
		case *proto.CreateRequest:
			clone := *r
			req = &clone
		case *proto.DeleteRequest:
			clone := *r
			req = &clone
		case *proto.SetDataRequest:
			clone := *r
			req = &clone
		case *proto.CheckVersionRequest:
			clone := *r
			req = &clone
		default:
			req = op.Request
		}
		result = append(result, proto.MultiOp{Type: op.Type, Request: req})
	}
	return result
}
