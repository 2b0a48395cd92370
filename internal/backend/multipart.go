package backend

import (
	"bytes"
	"fmt"
	"io"
	"mime/multipart"
)

// File is an uploaded file held in memory until it is sent.
type File struct {
	Name string
	Data []byte
}

type formBody struct {
	buf bytes.Buffer
	w   *multipart.Writer
	err error
}

func newForm() *formBody {
	f := &formBody{}
	f.w = multipart.NewWriter(&f.buf)
	return f
}

func (f *formBody) field(name, value string) {
	if f.err != nil {
		return
	}
	f.err = f.w.WriteField(name, value)
}

// optional writes the field only when value is non-empty.
func (f *formBody) optional(name, value string) {
	if value != "" {
		f.field(name, value)
	}
}

func (f *formBody) files(name string, files []File) {
	for _, file := range files {
		if f.err != nil {
			return
		}
		var part io.Writer
		part, f.err = f.w.CreateFormFile(name, file.Name)
		if f.err != nil {
			return
		}
		_, f.err = part.Write(file.Data)
	}
}

func (f *formBody) file(name string, file *File) {
	if file != nil {
		f.files(name, []File{*file})
	}
}

func (f *formBody) finish() (io.Reader, string, error) {
	if f.err == nil {
		f.err = f.w.Close()
	}
	if f.err != nil {
		return nil, "", fmt.Errorf("building multipart body: %w", f.err)
	}
	return &f.buf, f.w.FormDataContentType(), nil
}
