package content

import (
	"bytes"
	"fmt"
	"io"
	"mime"
	"os"
	"path/filepath"

	"github.com/ruteri/sbs/interfaces"
)

// DefaultChunkSize is the buffer size used when streaming content bodies.
const DefaultChunkSize = 1024 * 1024

// Copy streams src into dst in chunks of at most chunkSize bytes, reporting
// each chunk written to progress. A non-positive chunkSize selects
// DefaultChunkSize. It returns the number of bytes copied.
func Copy(dst io.Writer, src io.Reader, progress interfaces.ProgressFunc, chunkSize int) (int64, error) {
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}
	buf := make([]byte, chunkSize)
	var total int64
	for {
		n, rerr := src.Read(buf)
		if n > 0 {
			w, werr := dst.Write(buf[:n])
			total += int64(w)
			if werr != nil {
				return total, werr
			}
			if w != n {
				return total, io.ErrShortWrite
			}
			if progress != nil {
				progress(int64(n))
			}
		}
		if rerr == io.EOF {
			return total, nil
		}
		if rerr != nil {
			return total, rerr
		}
	}
}

// MeasureLength counts the bytes readable from the content's body by
// streaming through it. Use it for sources that cannot know their length
// up front.
func MeasureLength(c interfaces.Content) (int64, error) {
	body, err := c.Open()
	if err != nil {
		return 0, err
	}
	defer body.Close()
	return Copy(io.Discard, body, nil, 0)
}

// TypeOrDefault returns the content type, or interfaces.DefaultContentType
// when it is empty.
func TypeOrDefault(contentType string) string {
	if contentType == "" {
		return interfaces.DefaultContentType
	}
	return contentType
}

// TypeByFileName guesses a MIME type from a file name's extension.
func TypeByFileName(name string) string {
	return TypeOrDefault(mime.TypeByExtension(filepath.Ext(name)))
}

// BytesContent is in-memory content.
type BytesContent struct {
	contentType string
	data        []byte
}

// NewBytesContent wraps data as content of the given type.
func NewBytesContent(contentType string, data []byte) *BytesContent {
	return &BytesContent{contentType: TypeOrDefault(contentType), data: data}
}

func (c *BytesContent) Type() string { return c.contentType }

func (c *BytesContent) Open() (io.ReadCloser, error) {
	return io.NopCloser(bytes.NewReader(c.data)), nil
}

func (c *BytesContent) Length() (int64, error) { return int64(len(c.data)), nil }

// Bytes returns the underlying data.
func (c *BytesContent) Bytes() []byte { return c.data }

func (c *BytesContent) String() string {
	return fmt.Sprintf("<BytesContent: %s, %d bytes>", c.contentType, len(c.data))
}

// FileContent is content backed by a file on the local filesystem. Each Open
// reopens the file.
type FileContent struct {
	path        string
	contentType string
}

// NewFileContent creates content for the file at path. An empty contentType
// is guessed from the file extension.
func NewFileContent(path string, contentType string) (*FileContent, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve path %s: %w", path, err)
	}
	if contentType == "" {
		contentType = TypeByFileName(abs)
	}
	return &FileContent{path: abs, contentType: contentType}, nil
}

// FileContentAt creates content for a file at an already absolute path.
func FileContentAt(absPath string, contentType string) *FileContent {
	return &FileContent{path: absPath, contentType: TypeOrDefault(contentType)}
}

// Path returns the absolute path of the file.
func (c *FileContent) Path() string { return c.path }

func (c *FileContent) Type() string { return c.contentType }

func (c *FileContent) Open() (io.ReadCloser, error) {
	return os.Open(c.path)
}

func (c *FileContent) Length() (int64, error) {
	fi, err := os.Stat(c.path)
	if err != nil {
		return 0, err
	}
	return fi.Size(), nil
}

func (c *FileContent) String() string {
	return fmt.Sprintf("<FileContent: %s>", c.path)
}
