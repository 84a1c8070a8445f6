package handlers

import (
	"errors"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"os"
)

// errSpoolFailed — часть не удалось сохранить во временный файл.
var errSpoolFailed = errors.New("сохранение части multipart")

// uploadPart — файловая часть multipart, сохранённая во временный файл.
// Пустое name означает часть с filename="".
type uploadPart struct {
	field string
	name  string
	file  *os.File
}

// uploadForm — разобранное тело загрузки. Файловые части (с параметром
// filename, даже пустым) отделены от обычных полей формы.
type uploadForm struct {
	files  []*uploadPart
	values map[string]string
}

// readUploadForm читает multipart-тело потоково, по одной части.
func readUploadForm(r *http.Request) (*uploadForm, error) {
	mr, err := r.MultipartReader()
	if err != nil {
		return nil, err
	}

	form := &uploadForm{values: map[string]string{}}
	for {
		p, err := mr.NextPart()
		if errors.Is(err, io.EOF) {
			return form, nil
		}
		if err != nil {
			form.RemoveAll()
			return nil, err
		}

		err = form.add(p)
		p.Close()
		if err != nil {
			form.RemoveAll()
			return nil, err
		}
	}
}

func (f *uploadForm) add(p *multipart.Part) error {
	field := p.FormName()

	_, params, _ := mime.ParseMediaType(p.Header.Get("Content-Disposition"))
	if _, isFile := params["filename"]; !isFile {
		data, err := io.ReadAll(io.LimitReader(p, maxJSONBody))
		if err != nil {
			return err
		}
		if _, seen := f.values[field]; !seen {
			f.values[field] = string(data)
		}
		return nil
	}

	tmp, err := os.CreateTemp("", "depot-upload-*")
	if err != nil {
		return fmt.Errorf("%w: %v", errSpoolFailed, err)
	}
	f.files = append(f.files, &uploadPart{field: field, name: p.FileName(), file: tmp})

	if _, err := io.Copy(tmp, p); err != nil {
		return err
	}
	if _, err := tmp.Seek(0, io.SeekStart); err != nil {
		return fmt.Errorf("%w: %v", errSpoolFailed, err)
	}
	return nil
}

// file возвращает первую файловую часть поля или nil.
func (f *uploadForm) file(field string) *uploadPart {
	for _, p := range f.files {
		if p.field == field {
			return p
		}
	}
	return nil
}

// RemoveAll закрывает и удаляет временные файлы.
func (f *uploadForm) RemoveAll() {
	for _, p := range f.files {
		_ = p.file.Close()
		_ = os.Remove(p.file.Name())
	}
}
