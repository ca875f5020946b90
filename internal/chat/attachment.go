package chat

import (
	"encoding/base64"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/gabriel-vasile/mimetype"

	"github.com/BioHazard786/Huddle/internal/protocol"
)

// Kind tells images and PDFs apart.
type Kind string

const (
	KindImage Kind = "image"
	KindPDF   Kind = "pdf"
)

var (
	ErrEmptyFile    = errors.New("file is empty")
	ErrTooLarge     = errors.New("file exceeds the upload limit")
	ErrWrongType    = errors.New("unsupported file type")
	ErrNotADataURI  = errors.New("not a data URI")
	ErrNotBase64URI = errors.New("data URI is not base64 encoded")
)

// Attachment is a file ready to be shared with the room.
type Attachment struct {
	Kind     Kind
	Path     string
	Filename string
	Size     int64
	MIME     string
	DataURI  string
}

// LoadFile reads path, checks its detected content type against kind and
// encodes it as a data URI. maxSize caps the raw file size; zero disables the
// check.
func LoadFile(path string, kind Kind, maxSize int64) (*Attachment, error) {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("%s: failed to get absolute path: %w", path, err)
	}

	stat, err := os.Stat(absPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%s: file does not exist", path)
		}
		return nil, fmt.Errorf("%s: failed to stat file: %w", path, err)
	}
	if stat.IsDir() {
		return nil, fmt.Errorf("%s: is a directory", path)
	}
	if stat.Size() == 0 {
		return nil, fmt.Errorf("%s: %w", path, ErrEmptyFile)
	}
	if maxSize > 0 && stat.Size() > maxSize {
		return nil, fmt.Errorf("%s: %w (%s > %s)", path, ErrTooLarge, FormatSize(stat.Size()), FormatSize(maxSize))
	}

	data, err := os.ReadFile(absPath)
	if err != nil {
		return nil, fmt.Errorf("%s: cannot read file: %w", path, err)
	}

	mime := mimetype.Detect(data)
	if !matches(kind, mime) {
		return nil, fmt.Errorf("%s: %w %s for %s", path, ErrWrongType, mime.String(), kind)
	}

	return &Attachment{
		Kind:     kind,
		Path:     absPath,
		Filename: filepath.Base(absPath),
		Size:     stat.Size(),
		MIME:     mime.String(),
		DataURI:  EncodeDataURI(mime.String(), data),
	}, nil
}

func matches(kind Kind, mime *mimetype.MIME) bool {
	switch kind {
	case KindImage:
		for m := mime; m != nil; m = m.Parent() {
			if strings.HasPrefix(m.String(), "image/") {
				return true
			}
		}
		return false
	case KindPDF:
		return mime.Is("application/pdf")
	default:
		return false
	}
}

// Event returns the relay event and payload that share a.
func (a *Attachment) Event() (string, any) {
	if a.Kind == KindPDF {
		return protocol.EventSendPDF, protocol.SendPDFPayload{
			Data:     a.DataURI,
			Filename: a.Filename,
			Filesize: a.Size,
		}
	}
	return protocol.EventSendImage, protocol.SendImagePayload{Image: a.DataURI}
}

// EncodeDataURI builds a base64 data URI.
func EncodeDataURI(mime string, data []byte) string {
	return "data:" + mime + ";base64," + base64.StdEncoding.EncodeToString(data)
}

// DecodeDataURI splits a base64 data URI into its media type and bytes.
func DecodeDataURI(uri string) (string, []byte, error) {
	rest, ok := strings.CutPrefix(uri, "data:")
	if !ok {
		return "", nil, ErrNotADataURI
	}
	meta, encoded, ok := strings.Cut(rest, ",")
	if !ok {
		return "", nil, ErrNotADataURI
	}
	mime, ok := strings.CutSuffix(meta, ";base64")
	if !ok {
		return "", nil, ErrNotBase64URI
	}
	data, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return "", nil, fmt.Errorf("invalid base64 payload: %w", err)
	}
	return mime, data, nil
}

// Save writes the content of a received data URI into dir. The file keeps
// filename when given, otherwise a name is derived from the detected type.
// Existing files are never overwritten.
func Save(dir, filename, uri string) (string, error) {
	_, data, err := DecodeDataURI(uri)
	if err != nil {
		return "", err
	}

	name := filepath.Base(filepath.Clean("/" + filename))
	if name == "/" || name == "." || name == "" {
		name = "attachment" + mimetype.Detect(data).Extension()
	}

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create %s: %w", dir, err)
	}

	ext := filepath.Ext(name)
	stem := strings.TrimSuffix(name, ext)
	target := filepath.Join(dir, name)
	for i := 1; ; i++ {
		f, err := os.OpenFile(target, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
		if errors.Is(err, os.ErrExist) {
			target = filepath.Join(dir, fmt.Sprintf("%s (%d)%s", stem, i, ext))
			continue
		}
		if err != nil {
			return "", fmt.Errorf("failed to create file: %w", err)
		}
		if _, err := f.Write(data); err != nil {
			f.Close()
			return "", fmt.Errorf("failed to write file: %w", err)
		}
		return target, f.Close()
	}
}

// FormatSize formats bytes into a human-readable string.
func FormatSize(bytes int64) string {
	const unit = 1024
	if bytes < unit {
		return fmt.Sprintf("%d B", bytes)
	}
	div, exp := int64(unit), 0
	for n := bytes / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %cB", float64(bytes)/float64(div), "KMGTPE"[exp])
}
