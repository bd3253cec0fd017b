package proto

import (
	"fmt"

	"github.com/QuangTung97/zksession/jute"
)

// MultiOp is one operation of a multi request. Request must be a
// *CreateRequest, *DeleteRequest, *SetDataRequest or *CheckVersionRequest.
type MultiOp struct {
	Type    OpCode
	Request jute.Value
}

// MultiRequest is a list of operations applied atomically.
type MultiRequest struct {
	Ops []MultiOp
}

func newMultiOpRequest(op OpCode) (jute.Value, error) {
	switch op {
	case OpCreate:
		return &CreateRequest{}, nil
	case OpDelete:
		return &DeleteRequest{}, nil
	case OpSetData:
		return &SetDataRequest{}, nil
	case OpCheck:
		return &CheckVersionRequest{}, nil
	default:
		return nil, fmt.Errorf("%w: %d in multi", ErrUnknownOpCode, op)
	}
}

func multiDoneHeader() MultiHeader {
	return MultiHeader{Type: jute.Int(OpError), Done: true, Err: -1}
}

func (r *MultiRequest) ByteLength() int {
	var header MultiHeader
	size := 0
	for _, op := range r.Ops {
		size += header.ByteLength() + op.Request.ByteLength()
	}
	return size + header.ByteLength()
}

func (r *MultiRequest) Serialize(b []byte, o int) (int, error) {
	written := 0
	for _, op := range r.Ops {
		header := MultiHeader{Type: jute.Int(op.Type), Done: false, Err: -1}
		n, err := header.Serialize(b, o+written)
		if err != nil {
			return 0, err
		}
		written += n

		n, err = op.Request.Serialize(b, o+written)
		if err != nil {
			return 0, fmt.Errorf("multi %s: %w", op.Type, err)
		}
		written += n
	}

	done := multiDoneHeader()
	n, err := done.Serialize(b, o+written)
	if err != nil {
		return 0, err
	}
	return written + n, nil
}

func (r *MultiRequest) Deserialize(b []byte, o int) (int, error) {
	r.Ops = nil
	read := 0
	for {
		var header MultiHeader
		n, err := header.Deserialize(b, o+read)
		if err != nil {
			return 0, err
		}
		read += n
		if header.Done {
			return read, nil
		}

		op := OpCode(header.Type)
		req, err := newMultiOpRequest(op)
		if err != nil {
			return 0, err
		}
		n, err = req.Deserialize(b, o+read)
		if err != nil {
			return 0, err
		}
		read += n
		r.Ops = append(r.Ops, MultiOp{Type: op, Request: req})
	}
}

// MultiResult is the outcome of one operation of a multi request.
// Err is zero on success. Path is set for create and Stat for setData.
type MultiResult struct {
	Type OpCode
	Err  int32
	Path string
	Stat *Stat
}

// MultiResponse holds one result per requested operation.
type MultiResponse struct {
	Results []MultiResult
}

func resultBody(res *MultiResult) jute.Value {
	switch res.Type {
	case OpCreate:
		return &PathResponse{Path: jute.String(res.Path)}
	case OpSetData:
		resp := &StatResponse{}
		if res.Stat != nil {
			resp.Stat = *res.Stat
		}
		return resp
	case OpError:
		return &ErrorResponse{Err: jute.Int(res.Err)}
	default:
		return nil
	}
}

func (r *MultiResponse) ByteLength() int {
	var header MultiHeader
	size := header.ByteLength()
	for i := range r.Results {
		size += header.ByteLength()
		if body := resultBody(&r.Results[i]); body != nil {
			size += body.ByteLength()
		}
	}
	return size
}

func (r *MultiResponse) Serialize(b []byte, o int) (int, error) {
	written := 0
	for i := range r.Results {
		res := &r.Results[i]
		header := MultiHeader{Type: jute.Int(res.Type), Done: false, Err: jute.Int(res.Err)}
		n, err := header.Serialize(b, o+written)
		if err != nil {
			return 0, err
		}
		written += n

		if body := resultBody(res); body != nil {
			n, err = body.Serialize(b, o+written)
			if err != nil {
				return 0, err
			}
			written += n
		}
	}

	done := multiDoneHeader()
	n, err := done.Serialize(b, o+written)
	if err != nil {
		return 0, err
	}
	return written + n, nil
}

func (r *MultiResponse) Deserialize(b []byte, o int) (int, error) {
	r.Results = nil
	read := 0
	for {
		var header MultiHeader
		n, err := header.Deserialize(b, o+read)
		if err != nil {
			return 0, err
		}
		read += n
		if header.Done {
			return read, nil
		}

		res := MultiResult{Type: OpCode(header.Type), Err: int32(header.Err)}
		switch res.Type {
		case OpCreate:
			var body PathResponse
			n, err = body.Deserialize(b, o+read)
			res.Path = body.Path.Value
		case OpSetData:
			var body StatResponse
			n, err = body.Deserialize(b, o+read)
			res.Stat = &body.Stat
		case OpError:
			var body ErrorResponse
			n, err = body.Deserialize(b, o+read)
			res.Err = int32(body.Err)
		case OpDelete, OpCheck:
			n, err = 0, nil
		default:
			return 0, fmt.Errorf("%w: %d in multi response", ErrUnknownOpCode, header.Type)
		}
		if err != nil {
			return 0, err
		}
		read += n
		r.Results = append(r.Results, res)
	}
}
