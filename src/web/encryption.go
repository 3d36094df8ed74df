// This file is part of VLabsTools.

// VLabsTools is free software released under the MIT License.
// See LICENSE.md file for details.

package web

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/casjay-forks/vlabstools/src/netshare"
	"github.com/casjay-forks/vlabstools/src/passgen"
)

type encryptionTmpl struct {
	Length   int
	Quantity int
	Options  passgen.Options

	MinLength   int
	MaxLength   int
	MaxQuantity int

	Batch *passgen.Batch
	Bits  string
	Error string
}

func newEncryptionTmpl() encryptionTmpl {
	return encryptionTmpl{
		Length:      passgen.DefaultLength,
		Quantity:    passgen.DefaultQuantity,
		Options:     passgen.DefaultOptions(),
		MinLength:   passgen.MinLength,
		MaxLength:   passgen.MaxLength,
		MaxQuantity: passgen.MaxQuantity,
	}
}

// Pattern: GET /encryption
func (data *Data) renderEncryption(rw http.ResponseWriter, req *http.Request) error {
	return data.renderPage(rw, req, "encryption", newEncryptionTmpl())
}

func formInt(req *http.Request, name string) int {
	n, _ := strconv.Atoi(strings.TrimSpace(req.PostFormValue(name)))
	return n
}

func formBool(req *http.Request, name string) bool {
	switch req.PostFormValue(name) {
	case "on", "true", "1":
		return true
	}
	return false
}

// Pattern: POST /encryption
func (data *Data) submitEncryption(rw http.ResponseWriter, req *http.Request) error {
	body := newEncryptionTmpl()
	body.Length = passgen.ClampLength(formInt(req, "length"))
	body.Quantity = passgen.ClampQuantity(formInt(req, "quantity"))
	body.Options = passgen.Options{
		Lower:            formBool(req, "lower"),
		Upper:            formBool(req, "upper"),
		Digits:           formBool(req, "digits"),
		Symbols:          formBool(req, "symbols"),
		ExcludeSimilar:   formBool(req, "exclude_similar"),
		ExcludeAmbiguous: formBool(req, "exclude_ambiguous"),
	}

	batch, err := passgen.NewBatch(body.Length, body.Quantity, body.Options)
	if err != nil {
		body.Error = netshare.Message(err)
	} else {
		body.Batch = &batch
		body.Bits = strconv.FormatFloat(batch.Bits, 'f', 1, 64)
	}

	rw.Header().Set("Cache-Control", "no-store")
	return data.renderPage(rw, req, "encryption", body)
}
