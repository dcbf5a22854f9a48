package task

import (
	"encoding/json"
	"io"
	"mime/multipart"

	"github.com/pkg/errors"
)

// DecodeJSON decodes a request body into v, keeping numbers as json.Number
// so that ids reach ParseID without a float64 round trip.
func DecodeJSON(r io.Reader, v any) error {
	dec := json.NewDecoder(r)
	dec.UseNumber()
	return dec.Decode(v)
}

// ReadAttachments collects the file_<n> parts of a parsed multipart form.
// Parts with an empty filename (an untouched file input) are skipped.
func ReadAttachments(form *multipart.Form) (map[int]Attachment, error) {
	files := make(map[int]Attachment)
	if form == nil {
		return files, nil
	}
	for key, headers := range form.File {
		idx, ok := ParseFileField(key)
		if !ok || len(headers) == 0 || headers[0].Filename == "" {
			continue
		}
		fh := headers[0]
		f, err := fh.Open()
		if err != nil {
			return nil, errors.Wrapf(err, "open %s", key)
		}
		data, err := io.ReadAll(f)
		f.Close()
		if err != nil {
			return nil, errors.Wrapf(err, "read %s", key)
		}
		files[idx] = Attachment{Name: fh.Filename, ContentType: fh.Header.Get("Content-Type"), Data: data}
	}
	return files, nil
}
