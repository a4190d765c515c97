package forms

import (
	"bytes"
	"strconv"
	"testing"

	"github.com/leyline/core/internal/functions/forms/formstest"
	"github.com/nalgeon/be"
	"github.com/pdfcpu/pdfcpu/pkg/api"
)

func TestLoadRejectsNonPDF(t *testing.T) {
	_, err := NewFiller().Load([]byte("not a pdf"))
	be.True(t, err != nil)
}

func TestDocumentSetText(t *testing.T) {
	maxLen := 10
	doc := &pdfDocument{
		data:   []byte("%PDF-1.7"),
		fields: []Field{{ID: "4", Name: "name", MaxLength: &maxLen}, {ID: "5", Name: "addr"}},
		values: make(map[string]string),
	}

	be.Err(t, doc.SetText("name", "Alexandria"), nil)
	be.Err(t, doc.SetText("name", "Alex"), nil)
	be.Err(t, doc.SetText("missing", "x"), ErrUnknownField)

	be.Equal(t, doc.order, []string{"name"})
	be.Equal(t, doc.values["name"], "Alex")
}

func TestSaveWithoutValuesReturnsOriginal(t *testing.T) {
	doc := &pdfDocument{data: []byte("%PDF-1.7 original"), values: make(map[string]string)}

	out, err := doc.Save()
	be.Err(t, err, nil)
	be.Equal(t, string(out), "%PDF-1.7 original")
}

func TestFillTextFieldInPDF(t *testing.T) {
	filler := NewFiller()

	doc, err := filler.Load(formstest.TextFieldPDF("name", 10))
	be.Err(t, err, nil)

	fields := doc.TextFields()
	be.Equal(t, len(fields), 1)
	be.Equal(t, fields[0].ID, strconv.Itoa(formstest.FieldObject))
	be.Equal(t, fields[0].Name, "name")
	be.True(t, fields[0].MaxLength != nil)
	be.Equal(t, *fields[0].MaxLength, 10)

	be.Err(t, doc.SetText("name", "Alexandria"), nil)
	filled, err := doc.Save()
	be.Err(t, err, nil)

	group, err := api.ExportForm(bytes.NewReader(filled), "filled.pdf", nil)
	be.Err(t, err, nil)
	be.Equal(t, len(group.Forms), 1)
	be.Equal(t, len(group.Forms[0].TextFields), 1)

	field := group.Forms[0].TextFields[0]
	be.Equal(t, field.Name, "name")
	be.Equal(t, field.Value, "Alexandria")
	be.Equal(t, field.MaxLen, 10)
}

func TestLoadPDFWithoutForm(t *testing.T) {
	plain := bytes.Replace(formstest.TextFieldPDF("name", 10), []byte("/AcroForm"), []byte("/Ignored "), 1)

	_, err := NewFiller().Load(plain)
	be.Err(t, err, ErrNoForm)
}
