package mailbox

import (
	"context"
	"testing"

	"github.com/cantripos/cantripos"
)

func TestEncodeDecodeFindFileRequest(t *testing.T) {
	payload, err := encodeRequest(&Request{Kind: RequestFindFile, FileName: "builtins/echo"})
	if err != nil {
		t.Fatalf("encodeRequest: %v", err)
	}
	req, err := decodeRequest(payload)
	if err != nil {
		t.Fatalf("decodeRequest: %v", err)
	}
	if req.Kind != RequestFindFile || req.FileName != "builtins/echo" {
		t.Errorf("decodeRequest = %+v, want FindFile builtins/echo", req)
	}
}

func TestEncodeDecodeGetFilePageRequest(t *testing.T) {
	payload, err := encodeRequest(&Request{Kind: RequestGetFilePage, FileID: 7, Offset: 4096})
	if err != nil {
		t.Fatalf("encodeRequest: %v", err)
	}
	req, err := decodeRequest(payload)
	if err != nil {
		t.Fatalf("decodeRequest: %v", err)
	}
	if req.Kind != RequestGetFilePage || req.FileID != 7 || req.Offset != 4096 {
		t.Errorf("decodeRequest = %+v, want GetFilePage fid=7 offset=4096", req)
	}
}

func TestEncodeDecodeTestRequest(t *testing.T) {
	payload, err := encodeRequest(&Request{Kind: RequestTest, Count: 42})
	if err != nil {
		t.Fatalf("encodeRequest: %v", err)
	}
	req, err := decodeRequest(payload)
	if err != nil {
		t.Fatalf("decodeRequest: %v", err)
	}
	if req.Kind != RequestTest || req.Count != 42 {
		t.Errorf("decodeRequest = %+v, want Test count=42", req)
	}
}

func TestEncodeRequestRejectsLongFileName(t *testing.T) {
	name := make([]byte, 256)
	for i := range name {
		name[i] = 'a'
	}
	_, err := encodeRequest(&Request{Kind: RequestFindFile, FileName: string(name)})
	if !cantripos.IsCode(err, cantripos.ErrCodeSerializeFailed) {
		t.Fatalf("expected ErrCodeSerializeFailed, got %v", err)
	}
}

func TestDecodeRequestRejectsEmpty(t *testing.T) {
	if _, err := decodeRequest(nil); !cantripos.IsCode(err, cantripos.ErrCodeDeserializeFailed) {
		t.Fatalf("expected ErrCodeDeserializeFailed, got %v", err)
	}
}

func TestFindFileResponseRoundTrip(t *testing.T) {
	want := &FindFileResponse{FID: 3, SizeBytes: 8192}
	got, err := decodeFindFileResponse(encodeFindFileResponse(want))
	if err != nil {
		t.Fatalf("decodeFindFileResponse: %v", err)
	}
	if *got != *want {
		t.Errorf("decodeFindFileResponse = %+v, want %+v", got, want)
	}
}

func TestGetBuiltinsResponseRoundTrip(t *testing.T) {
	names := []string{"echo", "logger", "timer_service"}
	got, err := decodeGetBuiltinsResponse(encodeGetBuiltinsResponse(names))
	if err != nil {
		t.Fatalf("decodeGetBuiltinsResponse: %v", err)
	}
	if len(got.Names) != len(names) {
		t.Fatalf("decodeGetBuiltinsResponse = %v, want %v", got.Names, names)
	}
	for i, n := range names {
		if got.Names[i] != n {
			t.Errorf("Names[%d] = %q, want %q", i, got.Names[i], n)
		}
	}
}

func TestGetBuiltinsResponseEmpty(t *testing.T) {
	got, err := decodeGetBuiltinsResponse(encodeGetBuiltinsResponse(nil))
	if err != nil {
		t.Fatalf("decodeGetBuiltinsResponse: %v", err)
	}
	if len(got.Names) != 0 {
		t.Errorf("decodeGetBuiltinsResponse = %v, want empty", got.Names)
	}
}

// fakeHandler implements Handler for client/server round-trip tests.
type fakeHandler struct {
	files    map[string]*FindFileResponse
	builtins []string
	kv       map[string][]byte
}

func (f *fakeHandler) FindFile(ctx context.Context, name string) (*FindFileResponse, error) {
	r, ok := f.files[name]
	if !ok {
		return nil, cantripos.NewError("fakeHandler.FindFile", cantripos.ErrCodeUnknownError, "not found")
	}
	return r, nil
}

func (f *fakeHandler) GetFilePage(ctx context.Context, fid, offset uint32, page []byte) error {
	return nil
}

func (f *fakeHandler) Test(ctx context.Context, count uint32, page []byte) error { return nil }

func (f *fakeHandler) GetBuiltins(ctx context.Context) (*GetBuiltinsResponse, error) {
	return &GetBuiltinsResponse{Names: f.builtins}, nil
}

func (f *fakeHandler) ReadKey(ctx context.Context, appID, key string) ([]byte, error) {
	v, ok := f.kv[appID+"/"+key]
	if !ok {
		return nil, cantripos.NewError("fakeHandler.ReadKey", cantripos.ErrCodeUnknownError, "no such key")
	}
	return v, nil
}

func (f *fakeHandler) WriteKey(ctx context.Context, appID, key string, value []byte) error {
	if f.kv == nil {
		f.kv = make(map[string][]byte)
	}
	f.kv[appID+"/"+key] = value
	return nil
}

func (f *fakeHandler) DeleteKey(ctx context.Context, appID, key string) error {
	delete(f.kv, appID+"/"+key)
	return nil
}

func TestClientServerFindFile(t *testing.T) {
	regs := NewLoopbackRegisters()
	client := NewClient(NewFIFO(regs))
	handler := &fakeHandler{files: map[string]*FindFileResponse{
		"builtins/echo": {FID: 1, SizeBytes: 256},
	}}
	server := NewServer(NewFIFO(regs), handler)

	errCh := make(chan error, 1)
	go func() { errCh <- server.ServeOne(context.Background()) }()

	got, err := client.FindFile(context.Background(), "builtins/echo")
	if err != nil {
		t.Fatalf("FindFile: %v", err)
	}
	if got.FID != 1 || got.SizeBytes != 256 {
		t.Errorf("FindFile = %+v, want fid=1 size=256", got)
	}
	if serveErr := <-errCh; serveErr != nil {
		t.Fatalf("ServeOne: %v", serveErr)
	}
}

func TestClientServerGetBuiltins(t *testing.T) {
	regs := NewLoopbackRegisters()
	client := NewClient(NewFIFO(regs))
	handler := &fakeHandler{builtins: []string{"echo", "logger"}}
	server := NewServer(NewFIFO(regs), handler)

	errCh := make(chan error, 1)
	go func() { errCh <- server.ServeOne(context.Background()) }()

	got, err := client.GetBuiltins(context.Background())
	if err != nil {
		t.Fatalf("GetBuiltins: %v", err)
	}
	if len(got.Names) != 2 || got.Names[0] != "echo" || got.Names[1] != "logger" {
		t.Errorf("GetBuiltins = %v, want [echo logger]", got.Names)
	}
	if serveErr := <-errCh; serveErr != nil {
		t.Fatalf("ServeOne: %v", serveErr)
	}
}

func TestClientServerFindFileNotFound(t *testing.T) {
	regs := NewLoopbackRegisters()
	client := NewClient(NewFIFO(regs))
	handler := &fakeHandler{files: map[string]*FindFileResponse{}}
	server := NewServer(NewFIFO(regs), handler)

	errCh := make(chan error, 1)
	go func() { errCh <- server.ServeOne(context.Background()) }()

	_, err := client.FindFile(context.Background(), "builtins/missing")
	if err == nil {
		t.Fatal("expected an error decoding an empty not-found response")
	}
	<-errCh
}

func TestClientServerWriteThenReadKey(t *testing.T) {
	regs := NewLoopbackRegisters()
	client := NewClient(NewFIFO(regs))
	handler := &fakeHandler{kv: make(map[string][]byte)}
	server := NewServer(NewFIFO(regs), handler)

	errCh := make(chan error, 1)
	go func() { errCh <- server.ServeOne(context.Background()) }()
	if err := client.WriteKey(context.Background(), "app1", "token", []byte("secret")); err != nil {
		t.Fatalf("WriteKey: %v", err)
	}
	if serveErr := <-errCh; serveErr != nil {
		t.Fatalf("ServeOne write: %v", serveErr)
	}

	go func() { errCh <- server.ServeOne(context.Background()) }()
	got, err := client.ReadKey(context.Background(), "app1", "token")
	if err != nil {
		t.Fatalf("ReadKey: %v", err)
	}
	if string(got) != "secret" {
		t.Errorf("ReadKey = %q, want %q", got, "secret")
	}
	if serveErr := <-errCh; serveErr != nil {
		t.Fatalf("ServeOne read: %v", serveErr)
	}
}

func TestClientServerDeleteKey(t *testing.T) {
	regs := NewLoopbackRegisters()
	client := NewClient(NewFIFO(regs))
	handler := &fakeHandler{kv: map[string][]byte{"app1/token": []byte("secret")}}
	server := NewServer(NewFIFO(regs), handler)

	errCh := make(chan error, 1)
	go func() { errCh <- server.ServeOne(context.Background()) }()
	if err := client.DeleteKey(context.Background(), "app1", "token"); err != nil {
		t.Fatalf("DeleteKey: %v", err)
	}
	if serveErr := <-errCh; serveErr != nil {
		t.Fatalf("ServeOne delete: %v", serveErr)
	}

	go func() { errCh <- server.ServeOne(context.Background()) }()
	if _, err := client.ReadKey(context.Background(), "app1", "token"); err == nil {
		t.Fatal("expected an error reading a deleted key")
	}
	<-errCh
}

func TestClientServerReadKeyMissing(t *testing.T) {
	regs := NewLoopbackRegisters()
	client := NewClient(NewFIFO(regs))
	handler := &fakeHandler{kv: make(map[string][]byte)}
	server := NewServer(NewFIFO(regs), handler)

	errCh := make(chan error, 1)
	go func() { errCh <- server.ServeOne(context.Background()) }()
	if _, err := client.ReadKey(context.Background(), "app1", "missing"); err == nil {
		t.Fatal("expected an error reading a missing key")
	}
	<-errCh
}
