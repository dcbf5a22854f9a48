package task

import (
	"bytes"
	"mime/multipart"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReadAttachments(t *testing.T) {
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	require.NoError(t, mw.WriteField("tasks", "[]"))
	fw, err := mw.CreateFormFile(FileField(0), "run.sh")
	require.NoError(t, err)
	_, err = fw.Write([]byte("echo ok"))
	require.NoError(t, err)
	_, err = mw.CreateFormFile(FileField(1), "")
	require.NoError(t, err)
	_, err = mw.CreateFormFile("upload", "other.sh")
	require.NoError(t, err)
	require.NoError(t, mw.Close())

	form, err := multipart.NewReader(&body, mw.Boundary()).ReadForm(1 << 20)
	require.NoError(t, err)

	files, err := ReadAttachments(form)
	require.NoError(t, err)
	require.Len(t, files, 1)
	assert.Equal(t, "run.sh", files[0].Name)
	assert.Equal(t, "echo ok", string(files[0].Data))
	assert.Equal(t, "application/octet-stream", files[0].ContentType)
}

func TestReadAttachments_NilForm(t *testing.T) {
	files, err := ReadAttachments(nil)
	require.NoError(t, err)
	assert.Empty(t, files)
}

func TestReadAttachments_SkipsEmptyFilename(t *testing.T) {
	form := &multipart.Form{File: map[string][]*multipart.FileHeader{
		FileField(2): {{Filename: ""}},
		FileField(3): {},
	}}
	files, err := ReadAttachments(form)
	require.NoError(t, err)
	assert.Empty(t, files)
}
