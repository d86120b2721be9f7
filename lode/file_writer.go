package lode

import (
	"bytes"
	"context"
	"fmt"
	"path"
	"strings"
	"sync"

	"github.com/justapithecus/lode/lode"
)

// FileWriter stores sidecar files, such as the CSV recording, beside a
// session's event partitions. Sidecars are plain objects, not dataset
// segments, so snapshot reads never see them.
type FileWriter interface {
	// PutFile stores data as files/<filename> in the session partition.
	PutFile(ctx context.Context, filename, contentType string, data []byte) error
}

var _ FileWriter = (*LodeClient)(nil)

// PutFile stores a sidecar file. The filename must be a single path
// element. Lode stores carry no content type, so it is dropped.
func (c *LodeClient) PutFile(ctx context.Context, filename, _ string, data []byte) error {
	if !validSidecarName(filename) {
		return fmt.Errorf("invalid sidecar filename %q", filename)
	}

	store, err := c.sidecarStore()
	if err != nil {
		return WrapInitError(fmt.Errorf("sidecar store: %w", err), c.config.Dataset)
	}

	key := c.sidecarKey(filename)
	return WrapWriteError(store.Put(ctx, key, bytes.NewReader(data)), key)
}

func validSidecarName(name string) bool {
	return name != "" && name != "." && !strings.ContainsAny(name, `/\`) && !strings.Contains(name, "..")
}

// sidecarStore opens the raw store once per client.
func (c *LodeClient) sidecarStore() (lode.Store, error) {
	c.storeOnce.Do(func() {
		c.store, c.storeErr = c.storeFactory()
	})
	return c.store, c.storeErr
}

// sidecarKey places the file under the session's day partition:
// datasets/<dataset>/partitions/session_id=<id>/day=<day>/files/<name>.
func (c *LodeClient) sidecarKey(filename string) string {
	return path.Join("datasets", c.config.Dataset, "partitions",
		"session_id="+c.config.SessionID,
		"day="+c.config.Day,
		"files", filename)
}

// StubFileWriter keeps PutFile calls in memory for tests.
type StubFileWriter struct {
	mu    sync.Mutex
	Files []StubFileRecord
}

// StubFileRecord is one captured PutFile call.
type StubFileRecord struct {
	Filename    string
	ContentType string
	Data        []byte
}

func NewStubFileWriter() *StubFileWriter {
	return &StubFileWriter{}
}

func (w *StubFileWriter) PutFile(_ context.Context, filename, contentType string, data []byte) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.Files = append(w.Files, StubFileRecord{Filename: filename, ContentType: contentType, Data: bytes.Clone(data)})
	return nil
}

var _ FileWriter = (*StubFileWriter)(nil)
