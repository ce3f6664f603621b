package domain

import (
	"bytes"
	"fmt"

	"github.com/goccy/go-json"
)

// ID is an opaque host identifier. Hosts send ids as JSON strings or numbers;
// both decode to the same text and it is always encoded back as a string.
type ID string

func (id ID) String() string { return string(id) }

func (id *ID) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	switch {
	case bytes.Equal(data, []byte("null")):
		*id = ""
		return nil
	case len(data) > 0 && data[0] == '"':
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*id = ID(s)
		return nil
	case len(data) == 0 || (data[0] != '-' && (data[0] < '0' || data[0] > '9')):
		return fmt.Errorf("id: want string or number, got %s", data)
	}

	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var n json.Number
	if err := dec.Decode(&n); err != nil {
		return fmt.Errorf("id: want string or number, got %s", data)
	}
	*id = ID(n.String())
	return nil
}
