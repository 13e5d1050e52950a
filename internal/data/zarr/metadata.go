package zarr

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// NodeType distinguishes groups from arrays in a Zarr v3 hierarchy.
type NodeType string

const (
	NodeGroup NodeType = "group"
	NodeArray NodeType = "array"
)

// metadataKey is the name of the per-node metadata document.
const metadataKey = "zarr.json"

// Codec is one entry of an array's codec pipeline.
type Codec struct {
	Name          string                 `json:"name"`
	Configuration map[string]interface{} `json:"configuration,omitempty"`
}

// NodeMeta represents Zarr v3 node metadata (zarr.json). Array-only fields are
// zero for groups.
type NodeMeta struct {
	ZarrFormat int                    `json:"zarr_format"`
	NodeType   NodeType               `json:"node_type"`
	Attributes map[string]interface{} `json:"attributes,omitempty"`

	Shape     []int  `json:"shape,omitempty"`
	DataType  string `json:"data_type,omitempty"`
	ChunkGrid struct {
		Name          string `json:"name"`
		Configuration struct {
			ChunkShape []int `json:"chunk_shape"`
		} `json:"configuration"`
	} `json:"chunk_grid,omitempty"`
	ChunkKeyEncoding struct {
		Name          string `json:"name"`
		Configuration struct {
			Separator string `json:"separator"`
		} `json:"configuration"`
	} `json:"chunk_key_encoding,omitempty"`
	FillValue interface{} `json:"fill_value,omitempty"`
	Codecs    []Codec     `json:"codecs,omitempty"`
}

func parseNodeMeta(data []byte) (*NodeMeta, error) {
	var meta NodeMeta
	if err := json.Unmarshal(data, &meta); err != nil {
		return nil, fmt.Errorf("failed to parse zarr.json: %w", err)
	}
	if meta.ZarrFormat != 0 && meta.ZarrFormat != 3 {
		return nil, fmt.Errorf("unsupported zarr_format: %d", meta.ZarrFormat)
	}
	switch meta.NodeType {
	case NodeGroup:
	case NodeArray:
		if err := meta.validateArray(); err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("unsupported node_type: %q", meta.NodeType)
	}
	return &meta, nil
}

func (m *NodeMeta) validateArray() error {
	chunks := m.ChunkGrid.Configuration.ChunkShape
	if len(m.Shape) == 0 || len(chunks) == 0 {
		return fmt.Errorf("invalid zarr metadata: missing shape/chunk_shape")
	}
	if len(m.Shape) != len(chunks) {
		return fmt.Errorf("invalid zarr metadata: shape dims (%d) != chunk dims (%d)", len(m.Shape), len(chunks))
	}
	for d, c := range chunks {
		if c <= 0 {
			return fmt.Errorf("invalid chunk shape at dim %d: %d", d, c)
		}
		if m.Shape[d] < 0 {
			return fmt.Errorf("invalid shape at dim %d: %d", d, m.Shape[d])
		}
	}
	if _, err := dtypeOf(m.DataType); err != nil {
		return err
	}
	return nil
}

// chunkKey encodes chunk coordinates relative to the array node.
func (m *NodeMeta) chunkKey(chunkIndices []int) string {
	parts := make([]string, len(chunkIndices))
	for i, idx := range chunkIndices {
		parts[i] = strconv.Itoa(idx)
	}

	switch m.ChunkKeyEncoding.Name {
	case "v2":
		sep := m.ChunkKeyEncoding.Configuration.Separator
		if sep == "" {
			sep = "."
		}
		return strings.Join(parts, sep)
	default:
		sep := m.ChunkKeyEncoding.Configuration.Separator
		if sep == "" {
			sep = "/"
		}
		return "c" + sep + strings.Join(parts, sep)
	}
}

// StringAttr returns a string attribute, or "" when absent.
func (m *NodeMeta) StringAttr(name string) string {
	v, ok := m.Attributes[name]
	if !ok {
		return ""
	}
	s, _ := v.(string)
	return s
}

// StringsAttr returns a list-of-strings attribute.
func (m *NodeMeta) StringsAttr(name string) []string {
	raw, ok := m.Attributes[name].([]interface{})
	if !ok {
		return nil
	}
	out := make([]string, 0, len(raw))
	for _, v := range raw {
		if s, ok := v.(string); ok {
			out = append(out, s)
		}
	}
	return out
}

// BoolAttr returns a boolean attribute and whether it was present.
func (m *NodeMeta) BoolAttr(name string) (bool, bool) {
	v, ok := m.Attributes[name].(bool)
	return v, ok
}
