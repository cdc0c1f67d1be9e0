// Package carteira reads the "Carteira de Clientes" page exported from the
// municipal portal and turns it into company records.
package carteira

import (
	"fmt"
	"io"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/exatta/encerramento/internal/cnpj"
	"github.com/exatta/encerramento/internal/models"
	"github.com/exatta/encerramento/internal/scrape"
)

// encerradaXPath matches the link the portal shows instead of the closing
// form when the period is already closed.
const encerradaXPath = `//a[contains(@href, "fechamento/") and contains(normalize-space(.), "Escrituração já foi Encerrada")]`

// Result is the outcome of parsing a portfolio page.
type Result struct {
	Empresas []models.Empresa
	// Skipped counts tr.line rows with too few cells or an invalid CNPJ.
	Skipped int
}

// Parse extracts one company per tr.line row. Cells are, in order: IM, CNPJ,
// name, omisso, débito.
func Parse(r io.Reader) (*Result, error) {
	doc, err := scrape.ParseReader(r)
	if err != nil {
		return nil, err
	}

	res := &Result{Empresas: []models.Empresa{}}
	seen := make(map[string]int)

	doc.Find("tr.line").Each(func(i int, row *goquery.Selection) {
		cells := row.Find("td")
		if cells.Length() < 5 {
			res.Skipped++
			return
		}
		cell := func(n int) string {
			return scrape.CleanText(cells.Eq(n).Text())
		}

		digits := cnpj.Normalize(cell(1))
		if !cnpj.Valid(digits) {
			res.Skipped++
			return
		}
		e := models.Empresa{
			IM:     cell(0),
			CNPJ:   digits,
			Nome:   cell(2),
			Omisso: cell(3),
			Debito: cell(4),
		}
		// The portal occasionally repeats a row across pages; the last one wins.
		if idx, ok := seen[digits]; ok {
			res.Empresas[idx] = e
			return
		}
		seen[digits] = len(res.Empresas)
		res.Empresas = append(res.Empresas, e)
	})

	if len(res.Empresas) == 0 && res.Skipped == 0 {
		return nil, fmt.Errorf("no tr.line rows found")
	}
	return res, nil
}

// EscrituracaoEncerrada reports whether a closing page says the period was
// already closed.
func EscrituracaoEncerrada(htmlStr string) (bool, error) {
	if strings.TrimSpace(htmlStr) == "" {
		return false, nil
	}
	nodes, err := scrape.XPath(htmlStr, encerradaXPath)
	if err != nil {
		return false, err
	}
	return len(nodes) > 0, nil
}
