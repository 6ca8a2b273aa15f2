package main

import (
	"encoding/csv"
	"io"

	"inventory_go/internal/csvmap"
)

func detect(m *csvmap.Mapper, r io.Reader) (csvmap.Mapping, error) {
	headers, err := csv.NewReader(r).Read()
	if err != nil {
		return nil, err
	}
	return m.DetectMapping(headers), nil
}
