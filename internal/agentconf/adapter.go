package agentconf

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/BurntSushi/toml"
	"github.com/tidwall/jsonc"

	"github.com/scharc/boxctl/internal/agent"
	"github.com/scharc/boxctl/internal/confmodel"
)

// Adapter converts an agent's native config format to and from the
// common document model.
type Adapter interface {
	Format() agent.Format
	Decode(data []byte) (confmodel.Mapping, error)
	Encode(doc confmodel.Mapping) ([]byte, error)
}

// AdapterFor returns the adapter for a format.
func AdapterFor(format agent.Format) (Adapter, error) {
	switch format {
	case agent.FormatJSON:
		return JSONAdapter{}, nil
	case agent.FormatTOML:
		return TOMLAdapter{}, nil
	default:
		return nil, fmt.Errorf("unsupported config format %q", format)
	}
}

// JSONAdapter reads JSON with comments and trailing commas tolerated and
// writes plain indented JSON with sorted keys.
type JSONAdapter struct{}

func (JSONAdapter) Format() agent.Format { return agent.FormatJSON }

func (JSONAdapter) Decode(data []byte) (confmodel.Mapping, error) {
	if len(bytes.TrimSpace(data)) == 0 {
		return confmodel.Mapping{}, nil
	}

	dec := json.NewDecoder(bytes.NewReader(jsonc.ToJSON(data)))
	dec.UseNumber()

	var raw any
	if err := dec.Decode(&raw); err != nil {
		return nil, err
	}
	if dec.More() {
		return nil, fmt.Errorf("unexpected data after top-level value")
	}
	obj, ok := raw.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("top-level value must be an object, got %T", raw)
	}
	return confmodel.FromNativeMap(obj)
}

func (JSONAdapter) Encode(doc confmodel.Mapping) ([]byte, error) {
	data, err := json.MarshalIndent(doc.Native(), "", "  ")
	if err != nil {
		return nil, err
	}
	return append(data, '\n'), nil
}

// TOMLAdapter reads and writes TOML documents.
type TOMLAdapter struct{}

func (TOMLAdapter) Format() agent.Format { return agent.FormatTOML }

func (TOMLAdapter) Decode(data []byte) (confmodel.Mapping, error) {
	raw := make(map[string]any)
	if _, err := toml.Decode(string(data), &raw); err != nil {
		return nil, err
	}
	return confmodel.FromNativeMap(raw)
}

func (TOMLAdapter) Encode(doc confmodel.Mapping) ([]byte, error) {
	var buf bytes.Buffer
	if len(doc) == 0 {
		return []byte("# empty\n"), nil
	}
	if err := toml.NewEncoder(&buf).Encode(doc.Native()); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
