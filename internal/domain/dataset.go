package domain

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"strings"
	"time"
)

// Dataset is the metadata row for an agent's evaluation dataset. Its content
// lives in the object store at BlobFilePath.
type Dataset struct {
	DatasetID     string    `json:"datasetId"`
	AgentID       string    `json:"agentId"`
	DatasetName   string    `json:"datasetName"`
	DatasetType   string    `json:"datasetType"`
	ContainerName string    `json:"containerName"`
	BlobFilePath  string    `json:"blobFilePath"`
	CreatedBy     string    `json:"createdBy"`
	CreatedOn     time.Time `json:"createdOn"`
	LastUpdatedBy string    `json:"lastUpdatedBy"`
	LastUpdatedOn time.Time `json:"lastUpdatedOn"`
}

func (d Dataset) Validate() error {
	if strings.TrimSpace(d.DatasetID) == "" {
		return errors.New("dataset id is required")
	}
	if strings.TrimSpace(d.AgentID) == "" {
		return errors.New("agent id is required")
	}
	if strings.TrimSpace(d.DatasetName) == "" {
		return errors.New("dataset name is required")
	}
	if strings.TrimSpace(d.DatasetType) == "" {
		return errors.New("dataset type is required")
	}
	if strings.TrimSpace(d.BlobFilePath) == "" {
		return errors.New("blob file path is required")
	}
	return nil
}

// DatasetRecord is one prompt/response pair of a dataset or enriched dataset.
// Fields without a typed counterpart are kept in Extra and written back out.
//
// Typed fields are decoded leniently: scalars in a text field become their
// JSON text, a context that is not a list becomes empty. A decoded record
// whose typed fields are left untouched encodes back to the JSON it was
// decoded from.
type DatasetRecord struct {
	Query            string
	GroundTruth      string
	ActualResponse   string
	ExpectedResponse string
	Context          []string
	Metadata         map[string]any

	Extra map[string]json.RawMessage

	source  map[string]json.RawMessage
	decoded map[string]any
}

const (
	recordQuery            = "query"
	recordGroundTruth      = "groundTruth"
	recordActualResponse   = "actualResponse"
	recordExpectedResponse = "expectedResponse"
	recordContext          = "context"
	recordMetadata         = "metadata"
)

var datasetRecordKeys = []string{recordQuery, recordGroundTruth, recordActualResponse, recordExpectedResponse, recordContext, recordMetadata}

func (r *DatasetRecord) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	if raw == nil {
		return errors.New("dataset record must be a json object")
	}
	rec := DatasetRecord{
		source:  make(map[string]json.RawMessage),
		decoded: make(map[string]any),
	}
	for _, key := range datasetRecordKeys {
		value, ok := raw[key]
		if !ok {
			continue
		}
		delete(raw, key)
		rec.source[key] = value
		// decoded gets its own copy so in-place edits to Context or
		// Metadata still count as changes.
		rec.decoded[key] = decodeRecordField(key, value)
		switch v := decodeRecordField(key, value).(type) {
		case []string:
			rec.Context = v
		case map[string]any:
			rec.Metadata = v
		case string:
			rec.setText(key, v)
		}
	}
	if len(raw) > 0 {
		rec.Extra = raw
	}
	*r = rec
	return nil
}

func decodeRecordField(key string, raw json.RawMessage) any {
	switch key {
	case recordContext:
		return lenientList(raw)
	case recordMetadata:
		return lenientObject(raw)
	default:
		return lenientText(raw)
	}
}

func (r *DatasetRecord) setText(key, v string) {
	switch key {
	case recordQuery:
		r.Query = v
	case recordGroundTruth:
		r.GroundTruth = v
	case recordActualResponse:
		r.ActualResponse = v
	case recordExpectedResponse:
		r.ExpectedResponse = v
	}
}

func (r DatasetRecord) MarshalJSON() ([]byte, error) {
	out := make(map[string]json.RawMessage, len(r.Extra)+len(datasetRecordKeys))
	for key, value := range r.Extra {
		out[key] = value
	}
	current := r.typedValues()
	for _, key := range datasetRecordKeys {
		value := current[key]
		prev, seen := r.decoded[key]
		if seen && reflect.DeepEqual(prev, value) {
			out[key] = r.source[key]
			continue
		}
		// Built records always carry query and groundTruth; decoded ones
		// only carry the keys they arrived with.
		required := r.source == nil && (key == recordQuery || key == recordGroundTruth)
		if !seen && !required && isEmptyValue(value) {
			continue
		}
		encoded, err := json.Marshal(value)
		if err != nil {
			return nil, fmt.Errorf("encode %s: %w", key, err)
		}
		out[key] = encoded
	}
	return json.Marshal(out)
}

func (r DatasetRecord) typedValues() map[string]any {
	return map[string]any{
		recordQuery:            r.Query,
		recordGroundTruth:      r.GroundTruth,
		recordActualResponse:   r.ActualResponse,
		recordExpectedResponse: r.ExpectedResponse,
		recordContext:          r.Context,
		recordMetadata:         r.Metadata,
	}
}

func isEmptyValue(v any) bool {
	switch v := v.(type) {
	case string:
		return v == ""
	case []string:
		return len(v) == 0
	case map[string]any:
		return len(v) == 0
	}
	return v == nil
}

// lenientText reads a JSON string as itself, null as empty and anything else
// as its compact JSON text.
func lenientText(raw json.RawMessage) string {
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	trimmed := bytes.TrimSpace(raw)
	if bytes.Equal(trimmed, []byte("null")) {
		return ""
	}
	var compact bytes.Buffer
	if err := json.Compact(&compact, trimmed); err != nil {
		return string(trimmed)
	}
	return compact.String()
}

func lenientList(raw json.RawMessage) []string {
	var items []json.RawMessage
	if err := json.Unmarshal(raw, &items); err != nil || items == nil {
		return nil
	}
	out := make([]string, 0, len(items))
	for _, item := range items {
		out = append(out, lenientText(item))
	}
	return out
}

func lenientObject(raw json.RawMessage) map[string]any {
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil
	}
	return m
}

// EnrichedDataset is the enrichment output delivered by the upstream platform.
type EnrichedDataset struct {
	EvalRunID       string          `json:"evalRunId"`
	AgentID         string          `json:"agentId"`
	EnrichedDataset []DatasetRecord `json:"enrichedDataset"`
	CreatedAt       time.Time       `json:"createdAt"`
	LastUpdated     time.Time       `json:"lastUpdated"`
}
