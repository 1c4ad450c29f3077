// Package photo turns a local image file into the data URI stored as the
// profile photo.
package photo

import (
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/gabriel-vasile/mimetype"

	"spendly/internal/core"
)

// MaxSize is the largest accepted file.
const MaxSize = 2 << 20

// Load reads path and returns data:<mime>;base64,<payload>. Oversized and
// non-image files are rejected with a *core.LocalIOError.
func Load(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", &core.LocalIOError{Path: path, Message: "Could not read the selected photo", Err: err}
	}
	defer f.Close()

	// One byte past the limit is enough to detect oversize input.
	data, err := io.ReadAll(io.LimitReader(f, MaxSize+1))
	if err != nil {
		return "", &core.LocalIOError{Path: path, Message: "Could not read the selected photo", Err: err}
	}
	return Encode(path, data)
}

// Encode validates data and returns it as a data URI.
func Encode(name string, data []byte) (string, error) {
	if len(data) == 0 {
		return "", &core.LocalIOError{Path: name, Message: "The selected photo is empty"}
	}
	if len(data) > MaxSize {
		return "", &core.LocalIOError{Path: name, Message: fmt.Sprintf("Photo must be %d MB or smaller", MaxSize>>20)}
	}

	mt := mimetype.Detect(data)
	if !strings.HasPrefix(mt.String(), "image/") {
		return "", &core.LocalIOError{
			Path:    name,
			Message: "The selected file is not an image",
			Err:     errors.New("detected " + mt.String()),
		}
	}
	mime := mt.String()
	if i := strings.IndexByte(mime, ';'); i >= 0 {
		mime = mime[:i]
	}
	return "data:" + mime + ";base64," + base64.StdEncoding.EncodeToString(data), nil
}
