package forms

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/types"
)

var (
	// ErrNoForm indicates the PDF carries no AcroForm
	ErrNoForm = errors.New("pdf has no form")
	// ErrUnknownField indicates a text field name not present in the form
	ErrUnknownField = errors.New("unknown text field")
)

// Field is one fillable text field
type Field struct {
	ID        string
	Name      string
	MaxLength *int
}

// Document is a loaded PDF form
type Document interface {
	TextFields() []Field
	SetText(name, value string) error
	Save() ([]byte, error)
}

// Filler loads PDF forms with pdfcpu
type Filler struct {
	conf *model.Configuration
}

// NewFiller creates a Filler with relaxed validation
func NewFiller() *Filler {
	conf := model.NewDefaultConfiguration()
	conf.ValidationMode = model.ValidationRelaxed
	return &Filler{conf: conf}
}

// Load parses data and indexes its text fields
func (f *Filler) Load(data []byte) (Document, error) {
	ctx, err := api.ReadContext(bytes.NewReader(data), f.conf)
	if err != nil {
		return nil, fmt.Errorf("read pdf: %w", err)
	}

	fields, err := collectTextFields(ctx.XRefTable)
	if err != nil {
		return nil, err
	}

	return &pdfDocument{
		conf:   f.conf,
		data:   data,
		fields: fields,
		values: make(map[string]string),
	}, nil
}

type pdfDocument struct {
	conf   *model.Configuration
	data   []byte
	fields []Field
	values map[string]string
	order  []string
}

func (d *pdfDocument) TextFields() []Field {
	return d.fields
}

func (d *pdfDocument) SetText(name, value string) error {
	if d.field(name) == nil {
		return fmt.Errorf("%w: %s", ErrUnknownField, name)
	}
	if _, ok := d.values[name]; !ok {
		d.order = append(d.order, name)
	}
	d.values[name] = value
	return nil
}

// fillJSON mirrors the subset of pdfcpu's form export format read by FillForm
type fillJSON struct {
	Forms []fillForm `json:"forms"`
}

type fillForm struct {
	TextFields []fillTextField `json:"textfield"`
}

type fillTextField struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Value string `json:"value"`
}

func (d *pdfDocument) Save() ([]byte, error) {
	if len(d.order) == 0 {
		return d.data, nil
	}

	form := fillForm{}
	for _, name := range d.order {
		field := d.field(name)
		form.TextFields = append(form.TextFields, fillTextField{
			ID:    field.ID,
			Name:  field.Name,
			Value: d.values[name],
		})
	}

	payload, err := json.Marshal(fillJSON{Forms: []fillForm{form}})
	if err != nil {
		return nil, err
	}

	// FillForm sets conf.Cmd; each save works on its own copy
	conf := *d.conf
	var out bytes.Buffer
	if err := api.FillForm(bytes.NewReader(d.data), bytes.NewReader(payload), &out, &conf); err != nil {
		return nil, fmt.Errorf("fill form: %w", err)
	}
	return out.Bytes(), nil
}

func (d *pdfDocument) field(name string) *Field {
	for i := range d.fields {
		if d.fields[i].Name == name {
			return &d.fields[i]
		}
	}
	return nil
}

// collectTextFields walks the AcroForm field tree. FT and MaxLen are
// inheritable; names are the dotted partial names from the root.
func collectTextFields(xRefTable *model.XRefTable) ([]Field, error) {
	catalog, err := xRefTable.Catalog()
	if err != nil {
		return nil, fmt.Errorf("read catalog: %w", err)
	}

	obj, found := catalog.Find("AcroForm")
	if !found {
		return nil, ErrNoForm
	}
	acroForm, err := xRefTable.DereferenceDict(obj)
	if err != nil || acroForm == nil {
		return nil, ErrNoForm
	}

	obj, found = acroForm.Find("Fields")
	if !found {
		return nil, ErrNoForm
	}
	roots, err := xRefTable.DereferenceArray(obj)
	if err != nil {
		return nil, fmt.Errorf("read fields: %w", err)
	}

	var fields []Field
	for _, o := range roots {
		if err := walkField(xRefTable, o, "", "", nil, &fields); err != nil {
			return nil, err
		}
	}
	return fields, nil
}

func walkField(xRefTable *model.XRefTable, o types.Object, parent, fieldType string, maxLen *int, out *[]Field) error {
	id := ""
	if ref, ok := o.(types.IndirectRef); ok {
		id = fmt.Sprintf("%d", int(ref.ObjectNumber))
	}

	d, err := xRefTable.DereferenceDict(o)
	if err != nil {
		return fmt.Errorf("read field: %w", err)
	}
	if d == nil {
		return nil
	}

	name := parent
	if t, ok := d.Find("T"); ok {
		partial, err := decodeText(xRefTable, t)
		if err != nil {
			return err
		}
		if parent != "" {
			name = parent + "." + partial
		} else {
			name = partial
		}
	}
	if ft := d.NameEntry("FT"); ft != nil {
		fieldType = *ft
	}
	if ml := d.IntEntry("MaxLen"); ml != nil {
		v := *ml
		maxLen = &v
	}

	if kidsObj, ok := d.Find("Kids"); ok {
		kids, err := xRefTable.DereferenceArray(kidsObj)
		if err != nil {
			return fmt.Errorf("read kids of %s: %w", name, err)
		}
		var childFields []types.Object
		for _, kid := range kids {
			kd, err := xRefTable.DereferenceDict(kid)
			if err != nil || kd == nil {
				continue
			}
			if _, named := kd.Find("T"); named {
				childFields = append(childFields, kid)
			}
		}
		if len(childFields) > 0 {
			for _, kid := range childFields {
				if err := walkField(xRefTable, kid, name, fieldType, maxLen, out); err != nil {
					return err
				}
			}
			return nil
		}
	}

	if fieldType == "Tx" && name != "" {
		*out = append(*out, Field{ID: id, Name: name, MaxLength: maxLen})
	}
	return nil
}

func decodeText(xRefTable *model.XRefTable, o types.Object) (string, error) {
	obj, err := xRefTable.Dereference(o)
	if err != nil {
		return "", err
	}

	switch v := obj.(type) {
	case types.StringLiteral:
		return types.StringLiteralToString(v)
	case types.HexLiteral:
		return types.HexLiteralToString(v)
	case types.Name:
		return string(v), nil
	}
	return strings.TrimSpace(fmt.Sprint(obj)), nil
}
