package mailbox

import (
	"context"
	"encoding/binary"
	"strings"

	"github.com/cantripos/cantripos"
	"github.com/cantripos/cantripos/internal/constants"
)

// RequestKind tags which SECRequest variant a message carries.
type RequestKind uint8

const (
	RequestFindFile RequestKind = iota
	RequestGetFilePage
	RequestTest
	RequestGetBuiltins
	RequestReadKey
	RequestWriteKey
	RequestDeleteKey
)

// Request is the Go-side tagged union mirroring SECRequest: exactly the
// fields relevant to Kind are populated.
type Request struct {
	Kind RequestKind

	FileName string // FindFile
	FileID   uint32 // GetFilePage
	Offset   uint32 // GetFilePage
	Count    uint32 // Test

	AppID string // ReadKey, WriteKey, DeleteKey
	Key   string // ReadKey, WriteKey, DeleteKey
	Value []byte // WriteKey

	// Page is the caller's buffer for an attached page (GetFilePage, Test).
	// A non-empty Page marks the request as a long message; the page bytes
	// are not sent over the FIFO, so the server's handler receives a nil
	// Page.
	Page []byte
}

// ReadKeyResponse is returned for RequestReadKey.
type ReadKeyResponse struct {
	Value []byte
}

// FindFileResponse is returned for RequestFindFile.
type FindFileResponse struct {
	FID       uint32
	SizeBytes uint32
}

// GetBuiltinsResponse is returned for RequestGetBuiltins.
type GetBuiltinsResponse struct {
	Names []string
}

// encodeRequest hand-rolls a little-endian wire encoding for Request, in the
// same style used elsewhere in this module for fixed binary layouts:
// a kind byte followed by kind-specific fields.
func encodeRequest(req *Request) ([]byte, error) {
	var buf []byte
	put32 := func(v uint32) {
		var tmp [4]byte
		binary.LittleEndian.PutUint32(tmp[:], v)
		buf = append(buf, tmp[:]...)
	}

	switch req.Kind {
	case RequestFindFile:
		if len(req.FileName) > 255 {
			return nil, cantripos.NewError("mailbox.encodeRequest", cantripos.ErrCodeSerializeFailed, "file name too long")
		}
		buf = append(buf, byte(req.Kind), byte(len(req.FileName)))
		buf = append(buf, req.FileName...)
	case RequestGetFilePage:
		buf = append(buf, byte(req.Kind))
		put32(req.FileID)
		put32(req.Offset)
	case RequestTest:
		buf = append(buf, byte(req.Kind))
		put32(req.Count)
	case RequestGetBuiltins:
		buf = append(buf, byte(req.Kind))
	case RequestReadKey, RequestDeleteKey:
		if len(req.AppID) > 255 || len(req.Key) > 255 {
			return nil, cantripos.NewError("mailbox.encodeRequest", cantripos.ErrCodeSerializeFailed, "app id or key too long")
		}
		buf = append(buf, byte(req.Kind), byte(len(req.AppID)))
		buf = append(buf, req.AppID...)
		buf = append(buf, byte(len(req.Key)))
		buf = append(buf, req.Key...)
	case RequestWriteKey:
		if len(req.AppID) > 255 || len(req.Key) > 255 {
			return nil, cantripos.NewError("mailbox.encodeRequest", cantripos.ErrCodeSerializeFailed, "app id or key too long")
		}
		if len(req.Value) > constants.KeyValueMaxBytes {
			return nil, cantripos.NewError("mailbox.encodeRequest", cantripos.ErrCodeSerializeFailed, "value exceeds key-value payload limit")
		}
		buf = append(buf, byte(req.Kind), byte(len(req.AppID)))
		buf = append(buf, req.AppID...)
		buf = append(buf, byte(len(req.Key)))
		buf = append(buf, req.Key...)
		put32(uint32(len(req.Value)))
		buf = append(buf, req.Value...)
	default:
		return nil, cantripos.NewError("mailbox.encodeRequest", cantripos.ErrCodeSerializeFailed, "unknown request kind")
	}
	return buf, nil
}

func decodeFindFileResponse(data []byte) (*FindFileResponse, error) {
	if len(data) < 8 {
		return nil, cantripos.NewError("mailbox.decodeFindFileResponse", cantripos.ErrCodeDeserializeFailed, "short response")
	}
	return &FindFileResponse{
		FID:       binary.LittleEndian.Uint32(data[0:4]),
		SizeBytes: binary.LittleEndian.Uint32(data[4:8]),
	}, nil
}

// decodeGetBuiltinsResponse reads a count-prefixed list of NUL-separated
// names.
func decodeGetBuiltinsResponse(data []byte) (*GetBuiltinsResponse, error) {
	if len(data) < 4 {
		return nil, cantripos.NewError("mailbox.decodeGetBuiltinsResponse", cantripos.ErrCodeDeserializeFailed, "short response")
	}
	count := binary.LittleEndian.Uint32(data[0:4])
	rest := string(data[4:])
	var names []string
	if rest != "" {
		names = strings.Split(strings.TrimRight(rest, "\x00"), "\x00")
	}
	if uint32(len(names)) != count {
		return nil, cantripos.NewError("mailbox.decodeGetBuiltinsResponse", cantripos.ErrCodeDeserializeFailed, "name count mismatch")
	}
	return &GetBuiltinsResponse{Names: names}, nil
}

func encodeGetBuiltinsResponse(names []string) []byte {
	var buf []byte
	var tmp [4]byte
	binary.LittleEndian.PutUint32(tmp[:], uint32(len(names)))
	buf = append(buf, tmp[:]...)
	buf = append(buf, strings.Join(names, "\x00")...)
	return buf
}

func encodeFindFileResponse(r *FindFileResponse) []byte {
	buf := make([]byte, 8)
	binary.LittleEndian.PutUint32(buf[0:4], r.FID)
	binary.LittleEndian.PutUint32(buf[4:8], r.SizeBytes)
	return buf
}

func decodeReadKeyResponse(data []byte) (*ReadKeyResponse, error) {
	if len(data) < 4 {
		return nil, cantripos.NewError("mailbox.decodeReadKeyResponse", cantripos.ErrCodeDeserializeFailed, "short response")
	}
	n := binary.LittleEndian.Uint32(data[0:4])
	if uint32(len(data)-4) != n {
		return nil, cantripos.NewError("mailbox.decodeReadKeyResponse", cantripos.ErrCodeDeserializeFailed, "value length mismatch")
	}
	value := make([]byte, n)
	copy(value, data[4:])
	return &ReadKeyResponse{Value: value}, nil
}

func encodeReadKeyResponse(r *ReadKeyResponse) []byte {
	buf := make([]byte, 4+len(r.Value))
	binary.LittleEndian.PutUint32(buf[0:4], uint32(len(r.Value)))
	copy(buf[4:], r.Value)
	return buf
}

// Client issues requests to the Security Coordinator over a FIFO transport
// and decodes the matching response.
type Client struct {
	fifo *FIFO
}

func NewClient(fifo *FIFO) *Client { return &Client{fifo: fifo} }

func (c *Client) roundTrip(ctx context.Context, req *Request) ([]byte, error) {
	payload, err := encodeRequest(req)
	if err != nil {
		return nil, err
	}
	if err := c.fifo.SendMessage(ctx, payload, len(req.Page) > 0); err != nil {
		return nil, err
	}
	return c.fifo.RecvMessage(ctx)
}

// FindFile looks up name and returns its file id and size in bytes.
func (c *Client) FindFile(ctx context.Context, name string) (*FindFileResponse, error) {
	data, err := c.roundTrip(ctx, &Request{Kind: RequestFindFile, FileName: name})
	if err != nil {
		return nil, err
	}
	return decodeFindFileResponse(data)
}

// GetFilePage requests one page of file fid at offset. page only marks the
// request as a long message: the reply carries no file data and page is
// left unchanged.
func (c *Client) GetFilePage(ctx context.Context, fid, offset uint32, page []byte) error {
	_, err := c.roundTrip(ctx, &Request{Kind: RequestGetFilePage, FileID: fid, Offset: offset, Page: page})
	return err
}

// Test sends the diagnostic Test request carrying count; page only marks
// the request as a long message and is left unchanged.
func (c *Client) Test(ctx context.Context, count uint32, page []byte) error {
	_, err := c.roundTrip(ctx, &Request{Kind: RequestTest, Count: count, Page: page})
	return err
}

// GetBuiltins returns the names of the bundled builtin packages.
func (c *Client) GetBuiltins(ctx context.Context) (*GetBuiltinsResponse, error) {
	data, err := c.roundTrip(ctx, &Request{Kind: RequestGetBuiltins})
	if err != nil {
		return nil, err
	}
	return decodeGetBuiltinsResponse(data)
}

// ReadKey fetches the value stored under key for appID from the Security
// Coordinator's per-application key-value store.
func (c *Client) ReadKey(ctx context.Context, appID, key string) ([]byte, error) {
	data, err := c.roundTrip(ctx, &Request{Kind: RequestReadKey, AppID: appID, Key: key})
	if err != nil {
		return nil, err
	}
	resp, err := decodeReadKeyResponse(data)
	if err != nil {
		return nil, err
	}
	return resp.Value, nil
}

// WriteKey stores value under key for appID.
func (c *Client) WriteKey(ctx context.Context, appID, key string, value []byte) error {
	_, err := c.roundTrip(ctx, &Request{Kind: RequestWriteKey, AppID: appID, Key: key, Value: value})
	return err
}

// DeleteKey removes key for appID.
func (c *Client) DeleteKey(ctx context.Context, appID, key string) error {
	_, err := c.roundTrip(ctx, &Request{Kind: RequestDeleteKey, AppID: appID, Key: key})
	return err
}
