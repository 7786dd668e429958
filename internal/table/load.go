package table

import (
	"bufio"
	"bytes"
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"

	"datalab/internal/lifecycle"
)

// Load materializes a frame from a version's data location.
//
// Original sources are dispatched on extension: .html/.htm are parsed as an
// HTML table, everything else as delimited text. Generated artifacts are
// always the engine's own CSV encoding.
func Load(loc lifecycle.DataLocation) (*Frame, error) {
	switch loc.Kind {
	case lifecycle.LocationArtifact:
		return loadCSV(loc.Path)
	case lifecycle.LocationOriginal:
		switch strings.ToLower(filepath.Ext(loc.Path)) {
		case ".html", ".htm":
			return loadHTML(loc.Path)
		default:
			return loadCSV(loc.Path)
		}
	}
	return nil, fmt.Errorf("unknown data location kind %q", loc.Kind)
}

// decodeReader wraps r with a UTF-16 decoder when the file starts with a
// UTF-16 BOM; otherwise the bytes pass through (UTF-8 BOMs are stripped).
// Workbench users drag in spreadsheets exported on Windows often enough that
// this cannot be left to the caller.
func decodeReader(r io.Reader) io.Reader {
	br := bufio.NewReader(r)
	head, _ := br.Peek(2)

	switch {
	case bytes.HasPrefix(head, []byte{0xFF, 0xFE}), bytes.HasPrefix(head, []byte{0xFE, 0xFF}):
		dec := unicode.UTF16(unicode.LittleEndian, unicode.ExpectBOM).NewDecoder()
		return transform.NewReader(br, dec)
	default:
		dec := unicode.UTF8BOM.NewDecoder()
		return transform.NewReader(br, dec)
	}
}

func loadCSV(path string) (*Frame, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	cr := csv.NewReader(decodeReader(f))
	cr.FieldsPerRecord = -1
	cr.ReuseRecord = false

	header, err := cr.Read()
	if err == io.EOF {
		return &Frame{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read header %s: %w", path, err)
	}

	var raw [][]string
	for {
		rec, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", path, err)
		}
		row := make([]string, len(header))
		copy(row, rec)
		raw = append(raw, row)
	}

	return typedFrame(header, raw), nil
}

// loadHTML extracts the first <table> of an HTML document. Headers come from
// <th> cells when present, otherwise from the first row.
func loadHTML(path string) (*Frame, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	doc, err := goquery.NewDocumentFromReader(decodeReader(f))
	if err != nil {
		return nil, fmt.Errorf("parse html %s: %w", path, err)
	}

	tbl := doc.Find("table").First()
	if tbl.Length() == 0 {
		return nil, fmt.Errorf("no table element in %s", path)
	}

	var header []string
	tbl.Find("tr").First().Find("th").Each(func(_ int, sel *goquery.Selection) {
		header = append(header, strings.TrimSpace(sel.Text()))
	})

	var raw [][]string
	tbl.Find("tr").Each(func(i int, tr *goquery.Selection) {
		var cells []string
		tr.Find("td").Each(func(_ int, td *goquery.Selection) {
			cells = append(cells, strings.TrimSpace(td.Text()))
		})
		if len(cells) == 0 {
			return // header row or empty
		}
		if header == nil {
			header = cells
			return
		}
		row := make([]string, len(header))
		copy(row, cells)
		raw = append(raw, row)
	})

	if header == nil {
		return nil, fmt.Errorf("table in %s has no rows", path)
	}
	return typedFrame(header, raw), nil
}

// typedFrame infers a column type from the raw string cells and converts
// them. Empty strings are nulls and do not participate in inference.
//
// Inference tries int64, then float64, then bool; a single non-conforming
// value demotes the column to string. Deterministic for a given input.
func typedFrame(header []string, raw [][]string) *Frame {
	cols := make([]lifecycle.ColumnInfo, len(header))
	for i, name := range header {
		cols[i] = lifecycle.ColumnInfo{Name: name, Type: inferColumnType(raw, i)}
	}

	rows := make([][]any, len(raw))
	for r, rec := range raw {
		row := make([]any, len(cols))
		for c := range cols {
			row[c] = convertCell(rec[c], cols[c].Type)
		}
		rows[r] = row
	}
	return &Frame{Columns: cols, Rows: rows}
}

func inferColumnType(raw [][]string, col int) string {
	isInt, isFloat, isBool := true, true, true
	seen := false

	for _, rec := range raw {
		s := rec[col]
		if s == "" {
			continue
		}
		seen = true
		if isInt {
			if _, err := strconv.ParseInt(s, 10, 64); err != nil {
				isInt = false
			}
		}
		if isFloat {
			if _, err := strconv.ParseFloat(s, 64); err != nil {
				isFloat = false
			}
		}
		if isBool {
			if _, err := strconv.ParseBool(strings.ToLower(s)); err != nil {
				isBool = false
			}
		}
		if !isInt && !isFloat && !isBool {
			return TypeString
		}
	}
	if !seen {
		return TypeString
	}
	switch {
	case isInt:
		return TypeInt
	case isFloat:
		return TypeFloat
	case isBool:
		return TypeBool
	}
	return TypeString
}

func convertCell(s, typ string) any {
	if s == "" {
		return nil
	}
	switch typ {
	case TypeInt:
		n, err := strconv.ParseInt(s, 10, 64)
		if err == nil {
			return n
		}
	case TypeFloat:
		f, err := strconv.ParseFloat(s, 64)
		if err == nil {
			return f
		}
	case TypeBool:
		b, err := strconv.ParseBool(strings.ToLower(s))
		if err == nil {
			return b
		}
	}
	return s
}
