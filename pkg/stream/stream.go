// Package stream defines the documents a capture writer emits for
// downstream consumers: a stream_resource describing the backing store
// and stream_datum index ranges claimed against it.
package stream

import (
	"fmt"

	"github.com/google/uuid"
)

type Kind string

const (
	KindResource Kind = "stream_resource"
	KindDatum    Kind = "stream_datum"
)

// DataKey describes one externally-stored stream in a descriptor.
type DataKey struct {
	Source     string `json:"source"`
	Shape      []int  `json:"shape"`
	Dtype      string `json:"dtype"`
	DtypeNumpy string `json:"dtype_numpy"`
	External   string `json:"external"`
}

// Parameters carry the format-specific layout of a resource.
type Parameters struct {
	ChunkShape []int  `json:"chunk_shape"`
	Template   string `json:"template"`
}

// ResourceDoc identifies the backing storage of one capture session.
type ResourceDoc struct {
	UID        string     `json:"uid"`
	DataKey    string     `json:"data_key"`
	Mimetype   string     `json:"mimetype"`
	URI        string     `json:"uri"`
	Parameters Parameters `json:"parameters"`
}

// Range is a half-open frame index interval relative to a resource.
type Range struct {
	Start int `json:"start"`
	Stop  int `json:"stop"`
}

// DatumDoc claims an index range against a resource.
type DatumDoc struct {
	UID            string `json:"uid"`
	StreamResource string `json:"stream_resource"`
	Indices        Range  `json:"indices"`
}

// Asset pairs a document with its kind for emission.
type Asset struct {
	Kind Kind
	Doc  any
}

// Resource composes datum ranges against one stream_resource document.
// Datum uids are counted per resource.
type Resource struct {
	doc     ResourceDoc
	counter int
}

func ComposeResource(mimetype, uri, dataKey string, params Parameters) *Resource {
	return &Resource{
		doc: ResourceDoc{
			UID:        uuid.NewString(),
			DataKey:    dataKey,
			Mimetype:   mimetype,
			URI:        uri,
			Parameters: params,
		},
	}
}

func (r *Resource) Doc() ResourceDoc { return r.doc }

func (r *Resource) ComposeDatum(indices Range) DatumDoc {
	r.counter++
	return DatumDoc{
		UID:            fmt.Sprintf("%s/%d", r.doc.UID, r.counter),
		StreamResource: r.doc.UID,
		Indices:        indices,
	}
}
