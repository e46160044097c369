package mailbox

import (
	"context"
	"encoding/binary"

	"github.com/cantripos/cantripos"
)

// Handler serves decoded requests on the Security Coordinator side of the
// link.
type Handler interface {
	FindFile(ctx context.Context, name string) (*FindFileResponse, error)
	GetFilePage(ctx context.Context, fid, offset uint32, page []byte) error
	Test(ctx context.Context, count uint32, page []byte) error
	GetBuiltins(ctx context.Context) (*GetBuiltinsResponse, error)
	ReadKey(ctx context.Context, appID, key string) ([]byte, error)
	WriteKey(ctx context.Context, appID, key string, value []byte) error
	DeleteKey(ctx context.Context, appID, key string) error
}

// decodeRequest parses the wire encoding produced by encodeRequest.
func decodeRequest(data []byte) (*Request, error) {
	if len(data) == 0 {
		return nil, cantripos.NewError("mailbox.decodeRequest", cantripos.ErrCodeDeserializeFailed, "empty request")
	}
	kind := RequestKind(data[0])
	switch kind {
	case RequestFindFile:
		if len(data) < 2 {
			return nil, cantripos.NewError("mailbox.decodeRequest", cantripos.ErrCodeDeserializeFailed, "short FindFile request")
		}
		nameLen := int(data[1])
		if len(data) < 2+nameLen {
			return nil, cantripos.NewError("mailbox.decodeRequest", cantripos.ErrCodeDeserializeFailed, "truncated file name")
		}
		return &Request{Kind: kind, FileName: string(data[2 : 2+nameLen])}, nil
	case RequestGetFilePage:
		if len(data) < 9 {
			return nil, cantripos.NewError("mailbox.decodeRequest", cantripos.ErrCodeDeserializeFailed, "short GetFilePage request")
		}
		return &Request{
			Kind:     kind,
			FileID:   binary.LittleEndian.Uint32(data[1:5]),
			Offset:   binary.LittleEndian.Uint32(data[5:9]),
		}, nil
	case RequestTest:
		if len(data) < 5 {
			return nil, cantripos.NewError("mailbox.decodeRequest", cantripos.ErrCodeDeserializeFailed, "short Test request")
		}
		return &Request{Kind: kind, Count: binary.LittleEndian.Uint32(data[1:5])}, nil
	case RequestGetBuiltins:
		return &Request{Kind: kind}, nil
	case RequestReadKey, RequestDeleteKey:
		appID, key, _, err := decodeAppIDAndKey(data[1:])
		if err != nil {
			return nil, err
		}
		return &Request{Kind: kind, AppID: appID, Key: key}, nil
	case RequestWriteKey:
		appID, key, rest, err := decodeAppIDAndKey(data[1:])
		if err != nil {
			return nil, err
		}
		if len(rest) < 4 {
			return nil, cantripos.NewError("mailbox.decodeRequest", cantripos.ErrCodeDeserializeFailed, "short WriteKey value")
		}
		n := binary.LittleEndian.Uint32(rest[0:4])
		if uint32(len(rest)-4) != n {
			return nil, cantripos.NewError("mailbox.decodeRequest", cantripos.ErrCodeDeserializeFailed, "WriteKey value length mismatch")
		}
		value := make([]byte, n)
		copy(value, rest[4:])
		return &Request{Kind: kind, AppID: appID, Key: key, Value: value}, nil
	default:
		return nil, cantripos.NewError("mailbox.decodeRequest", cantripos.ErrCodeDeserializeFailed, "unknown request kind")
	}
}

// decodeAppIDAndKey parses the two length-prefixed strings common to the
// key-value request variants, returning the unconsumed trailing bytes.
func decodeAppIDAndKey(data []byte) (appID, key string, rest []byte, err error) {
	if len(data) < 1 {
		return "", "", nil, cantripos.NewError("mailbox.decodeRequest", cantripos.ErrCodeDeserializeFailed, "short key-value request")
	}
	appLen := int(data[0])
	if len(data) < 1+appLen+1 {
		return "", "", nil, cantripos.NewError("mailbox.decodeRequest", cantripos.ErrCodeDeserializeFailed, "truncated app id")
	}
	appID = string(data[1 : 1+appLen])
	keyLenIdx := 1 + appLen
	keyLen := int(data[keyLenIdx])
	if len(data) < keyLenIdx+1+keyLen {
		return "", "", nil, cantripos.NewError("mailbox.decodeRequest", cantripos.ErrCodeDeserializeFailed, "truncated key")
	}
	key = string(data[keyLenIdx+1 : keyLenIdx+1+keyLen])
	return appID, key, data[keyLenIdx+1+keyLen:], nil
}

// Server answers one request over fifo using handler, the mirror image of
// Client.roundTrip.
type Server struct {
	fifo    *FIFO
	handler Handler
}

func NewServer(fifo *FIFO, handler Handler) *Server {
	return &Server{fifo: fifo, handler: handler}
}

// ServeOne receives one request, dispatches it, and sends back the encoded
// response. It returns transport errors only: a request that fails to
// decode, or whose handler returns an error, is answered with an empty
// reply and ServeOne returns that send's result. Callers typically loop
// calling it from a dedicated goroutine.
func (s *Server) ServeOne(ctx context.Context) error {
	data, err := s.fifo.RecvMessage(ctx)
	if err != nil {
		return err
	}
	req, err := decodeRequest(data)
	if err != nil {
		return s.fifo.SendMessage(ctx, nil, false)
	}

	var resp []byte
	var handlerErr error
	switch req.Kind {
	case RequestFindFile:
		var r *FindFileResponse
		r, handlerErr = s.handler.FindFile(ctx, req.FileName)
		if handlerErr == nil {
			resp = encodeFindFileResponse(r)
		}
	case RequestGetFilePage:
		handlerErr = s.handler.GetFilePage(ctx, req.FileID, req.Offset, req.Page)
	case RequestTest:
		handlerErr = s.handler.Test(ctx, req.Count, req.Page)
	case RequestGetBuiltins:
		var r *GetBuiltinsResponse
		r, handlerErr = s.handler.GetBuiltins(ctx)
		if handlerErr == nil {
			resp = encodeGetBuiltinsResponse(r.Names)
		}
	case RequestReadKey:
		var value []byte
		value, handlerErr = s.handler.ReadKey(ctx, req.AppID, req.Key)
		if handlerErr == nil {
			resp = encodeReadKeyResponse(&ReadKeyResponse{Value: value})
		}
	case RequestWriteKey:
		handlerErr = s.handler.WriteKey(ctx, req.AppID, req.Key, req.Value)
	case RequestDeleteKey:
		handlerErr = s.handler.DeleteKey(ctx, req.AppID, req.Key)
	}
	if handlerErr != nil {
		return s.fifo.SendMessage(ctx, nil, false)
	}
	return s.fifo.SendMessage(ctx, resp, false)
}
