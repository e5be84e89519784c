// Package resulttree implements the tagged result tree a module instance
// builds while it runs: a root "object" node with Config/Binary/Blob
// children, each of which may themselves have children. The reporter
// walks this tree depth-first to upload each node to the artifact store.
//
// Grounded directly on analysis_results.py's GenericObject/Config/Binary/
// Blob hierarchy: a dynamically-typed tree serialized as nested maps
// rather than a sealed Go interface, because the wire shape (tagged by an
// "object" string field) and the artifact-store upload contract are both
// expressed in terms of that shape, not a closed set of Go types.
package resulttree

import "encoding/base64"

// Kind identifies the tagged variant of a Node.
type Kind string

const (
	KindObject Kind = "object"
	KindConfig Kind = "config"
	KindBinary Kind = "binary"
	KindBlob   Kind = "blob"
)

// Node is one node of a result tree. Only the fields relevant to its Kind
// are populated; Children holds nested pushes in push order.
type Node struct {
	Kind Kind

	// Config-only
	Config     map[string]any
	ConfigType string

	// Binary-only
	Data []byte
	Name string

	// Blob-only
	Content  string
	BlobType string

	// Config/Binary/Blob share these
	Tags       []string
	Attributes map[string]any
	Comments   []string

	Children []*Node
}

// NewRoot returns an empty root object node.
func NewRoot() *Node {
	return &Node{Kind: KindObject}
}

// PushConfig appends a config child and returns it, so further children
// can be pushed onto it.
func (n *Node) PushConfig(config map[string]any, configType string, tags []string, attrs map[string]any, comments []string) *Node {
	child := &Node{
		Kind:       KindConfig,
		Config:     config,
		ConfigType: configType,
		Tags:       tags,
		Attributes: attrs,
		Comments:   comments,
	}
	n.Children = append(n.Children, child)
	return child
}

// PushBinary appends a binary child and returns it.
func (n *Node) PushBinary(data []byte, name string, tags []string, attrs map[string]any, comments []string) *Node {
	child := &Node{
		Kind:       KindBinary,
		Data:       data,
		Name:       name,
		Tags:       tags,
		Attributes: attrs,
		Comments:   comments,
	}
	n.Children = append(n.Children, child)
	return child
}

// PushBlob appends a blob child and returns it.
func (n *Node) PushBlob(content []byte, name, blobType string, tags []string, attrs map[string]any, comments []string) *Node {
	child := &Node{
		Kind:       KindBlob,
		Content:    string(content),
		Name:       name,
		BlobType:   blobType,
		Tags:       tags,
		Attributes: attrs,
		Comments:   comments,
	}
	n.Children = append(n.Children, child)
	return child
}

// ToMap serializes a single node (not its children) to the wire shape
// used by the artifact store and by the executor/reporter transport
// encoding.
func (n *Node) ToMap() map[string]any {
	switch n.Kind {
	case KindConfig:
		return map[string]any{
			"object":      string(KindConfig),
			"config":      n.Config,
			"config_type": n.ConfigType,
			"tags":        orEmptySlice(n.Tags),
			"attributes":  orEmptyMap(n.Attributes),
			"comments":    orEmptySlice(n.Comments),
		}
	case KindBinary:
		return map[string]any{
			"object":     string(KindBinary),
			"data":       base64.StdEncoding.EncodeToString(n.Data),
			"name":       n.Name,
			"tags":       orEmptySlice(n.Tags),
			"attributes": orEmptyMap(n.Attributes),
			"comments":   orEmptySlice(n.Comments),
		}
	case KindBlob:
		return map[string]any{
			"object":     string(KindBlob),
			"content":    n.Content,
			"blob_type":  n.BlobType,
			"name":       n.Name,
			"tags":       orEmptySlice(n.Tags),
			"attributes": orEmptyMap(n.Attributes),
			"comments":   orEmptySlice(n.Comments),
		}
	default:
		return map[string]any{"object": string(KindObject)}
	}
}

// ToMapRecursive serializes the node and its full subtree, matching
// GenericObject.to_dict_recursive.
func (n *Node) ToMapRecursive() map[string]any {
	m := n.ToMap()
	children := make([]map[string]any, 0, len(n.Children))
	for _, c := range n.Children {
		children = append(children, c.ToMapRecursive())
	}
	m["children"] = children
	return m
}

func orEmptySlice[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}

func orEmptyMap(m map[string]any) map[string]any {
	if m == nil {
		return map[string]any{}
	}
	return m
}
