package record

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/ValentinKolb/storekit/lib/engine"
)

// ParseRecords decodes a single json object or a json array of objects
func ParseRecords(data []byte) ([]engine.Record, error) {
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return nil, nil
	}

	if data[0] == '[' {
		var recs []engine.Record
		if err := json.Unmarshal(data, &recs); err != nil {
			return nil, fmt.Errorf("invalid record list: %w", err)
		}
		for i, rec := range recs {
			if rec == nil {
				return nil, fmt.Errorf("record %d is not an object", i)
			}
		}
		return recs, nil
	}

	var rec engine.Record
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("invalid record: %w", err)
	}
	if rec == nil {
		return nil, fmt.Errorf("record is not an object")
	}
	return []engine.Record{rec}, nil
}

// readRecords collects the records given as arguments and in the --file input ("-" reads stdin)
func readRecords(stdin io.Reader, args []string, file string) ([]engine.Record, error) {
	var out []engine.Record
	for _, arg := range args {
		recs, err := ParseRecords([]byte(arg))
		if err != nil {
			return nil, err
		}
		out = append(out, recs...)
	}

	if file == "" {
		return out, nil
	}

	var (
		data []byte
		err  error
	)
	if file == "-" {
		data, err = io.ReadAll(stdin)
	} else {
		data, err = os.ReadFile(file)
	}
	if err != nil {
		return nil, err
	}
	recs, err := ParseRecords(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", file, err)
	}
	return append(out, recs...), nil
}
