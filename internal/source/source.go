package source

import (
	"bytes"
	"fmt"
	"image"
	"image/png"
	"os"
	"path/filepath"
	"strings"

	"github.com/gen2brain/go-fitz"
)

// File is one picked input: a display name and its raw payload.
type File struct {
	Name string
	Data []byte
}

// Source is a paged input whose pages become image assets.
type Source interface {
	PageCount() int
	GetPageDimensions(index int) (width, height float64, err error)
	RenderPage(index int, dpi int) (image.Image, error)
	Close() error
}

var (
	imageExtensions = []string{".jpg", ".jpeg", ".png", ".gif", ".bmp", ".tif", ".tiff", ".webp"}
	audioExtensions = []string{".mp3", ".wav", ".m4a", ".ogg", ".aac", ".flac"}
)

func IsImage(name string) bool {
	return hasExtension(name, imageExtensions)
}

func IsAudio(name string) bool {
	return hasExtension(name, audioExtensions)
}

func IsPDF(name string) bool {
	return strings.EqualFold(filepath.Ext(name), ".pdf")
}

func hasExtension(name string, exts []string) bool {
	ext := strings.ToLower(filepath.Ext(name))
	for _, e := range exts {
		if ext == e {
			return true
		}
	}
	return false
}

func ReadFile(path string) (File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return File{}, err
	}
	return File{Name: filepath.Base(path), Data: data}, nil
}

// OpenImages expands a path into image files: a PDF yields one PNG per page,
// a directory yields its images in name order, anything else is read as is.
func OpenImages(path string, dpi int) ([]File, error) {
	if IsPDF(path) {
		src, err := NewFitzPDFSource(path)
		if err != nil {
			return nil, err
		}
		defer src.Close()
		return Pages(src, dpi, strings.TrimSuffix(filepath.Base(path), filepath.Ext(path)))
	}

	paths, err := listImages(path)
	if err != nil {
		return nil, err
	}
	return readImages(paths)
}

// Pages renders every page of src and encodes it as PNG.
func Pages(src Source, dpi int, baseName string) ([]File, error) {
	files := make([]File, 0, src.PageCount())
	for i := 0; i < src.PageCount(); i++ {
		img, err := src.RenderPage(i, dpi)
		if err != nil {
			return nil, fmt.Errorf("render page %d: %w", i, err)
		}
		var buf bytes.Buffer
		if err := png.Encode(&buf, img); err != nil {
			return nil, fmt.Errorf("encode page %d: %w", i, err)
		}
		files = append(files, File{
			Name: fmt.Sprintf("%s_p%03d.png", baseName, i+1),
			Data: buf.Bytes(),
		})
	}
	return files, nil
}

type FitzPDFSource struct {
	doc  *fitz.Document
	path string
}

func NewFitzPDFSource(path string) (*FitzPDFSource, error) {
	doc, err := fitz.New(path)
	if err != nil {
		return nil, err
	}
	return &FitzPDFSource{doc: doc, path: path}, nil
}

// PDFPages renders an in-memory PDF into one PNG file per page.
func PDFPages(f File, dpi int) ([]File, error) {
	doc, err := fitz.NewFromMemory(f.Data)
	if err != nil {
		return nil, fmt.Errorf("open pdf %s: %w", f.Name, err)
	}
	src := &FitzPDFSource{doc: doc, path: f.Name}
	defer src.Close()
	return Pages(src, dpi, strings.TrimSuffix(f.Name, filepath.Ext(f.Name)))
}

func (f *FitzPDFSource) PageCount() int {
	return f.doc.NumPage()
}

func (f *FitzPDFSource) GetPageDimensions(index int) (float64, float64, error) {
	rect, err := f.doc.Bound(index)
	if err != nil {
		return 0, 0, err
	}
	return float64(rect.Dx()), float64(rect.Dy()), nil
}

func (f *FitzPDFSource) RenderPage(index int, dpi int) (image.Image, error) {
	return f.doc.ImageDPI(index, float64(dpi))
}

func (f *FitzPDFSource) Close() error {
	return f.doc.Close()
}
