package service

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"math"
	"os"
	"sort"
	"strings"

	"github.com/tieubaoca/docrag/types"
)

// maxCategories bounds the distinct values a string field may have to be
// reported as categorical.
const maxCategories = 50

// JSONExtractor parses JSON, renders it as indented text with sorted keys
// and derives aggregation metadata for arrays of objects.
type JSONExtractor struct{}

func (JSONExtractor) Extract(_ context.Context, path string) (*Extraction, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, &types.ExtractionError{FileType: types.FileTypeJSON, Err: err}
	}

	data, err := parseJSON(raw)
	if err != nil {
		return nil, &types.ExtractionError{FileType: types.FileTypeJSON, Err: err}
	}

	text, err := renderJSON(data)
	if err != nil {
		return nil, &types.ExtractionError{FileType: types.FileTypeJSON, Err: err}
	}

	return &Extraction{
		Text:           text,
		StructuredData: data,
		Aggregation:    buildAggregationMetadata(data),
	}, nil
}

// renderJSON indents data with two spaces and keeps <, > and & literal.
func renderJSON(data any) (string, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if err := enc.Encode(data); err != nil {
		return "", err
	}
	return strings.TrimSuffix(buf.String(), "\n"), nil
}

func parseJSON(raw []byte) (any, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()

	var data any
	if err := dec.Decode(&data); err != nil {
		return nil, err
	}
	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		return nil, errors.New("unexpected data after top-level value")
	}
	return data, nil
}

// objectArray returns data as a list of objects, or false when it is not a
// non-empty array made only of objects.
func objectArray(data any) ([]map[string]any, bool) {
	items, ok := data.([]any)
	if !ok || len(items) == 0 {
		return nil, false
	}
	objects := make([]map[string]any, 0, len(items))
	for _, item := range items {
		obj, ok := item.(map[string]any)
		if !ok {
			return nil, false
		}
		objects = append(objects, obj)
	}
	return objects, true
}

func buildAggregationMetadata(data any) *types.AggregationMetadata {
	objects, ok := objectArray(data)
	if !ok {
		return nil
	}

	fieldSet := make(map[string]struct{})
	for _, obj := range objects {
		for key := range obj {
			fieldSet[key] = struct{}{}
		}
	}
	fields := make([]string, 0, len(fieldSet))
	for key := range fieldSet {
		fields = append(fields, key)
	}
	sort.Strings(fields)

	meta := &types.AggregationMetadata{
		NumericFields:     make(map[string]types.NumericSummary),
		CategoricalFields: make(map[string]map[string]int),
	}
	for _, field := range fields {
		if values, ok := numericValues(objects, field); ok {
			meta.NumericFields[field] = summarize(values)
			continue
		}
		if counts, ok := categoryCounts(objects, field); ok {
			meta.CategoricalFields[field] = counts
		}
	}
	return meta
}

// numericValues collects field from every object that has it. It fails
// when any present value is not a number.
func numericValues(objects []map[string]any, field string) ([]float64, bool) {
	var values []float64
	for _, obj := range objects {
		v, present := obj[field]
		if !present {
			continue
		}
		f, ok := toFloat(v)
		if !ok {
			return nil, false
		}
		values = append(values, f)
	}
	return values, len(values) > 0
}

func categoryCounts(objects []map[string]any, field string) (map[string]int, bool) {
	counts := make(map[string]int)
	for _, obj := range objects {
		v, present := obj[field]
		if !present {
			continue
		}
		s, ok := v.(string)
		if !ok {
			return nil, false
		}
		counts[s]++
		if len(counts) > maxCategories {
			return nil, false
		}
	}
	return counts, len(counts) > 0
}

func summarize(values []float64) types.NumericSummary {
	summary := types.NumericSummary{
		Min:   math.Inf(1),
		Max:   math.Inf(-1),
		Count: len(values),
	}
	for _, v := range values {
		summary.Min = math.Min(summary.Min, v)
		summary.Max = math.Max(summary.Max, v)
		summary.Sum += v
	}
	summary.Avg = summary.Sum / float64(len(values))
	return summary
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	case float64:
		return n, true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	default:
		return 0, false
	}
}

// AggregationOperations are the supported aggregation operators.
var AggregationOperations = []string{"min", "max", "sum", "avg", "count"}

func isAggregationOperation(op string) bool {
	for _, o := range AggregationOperations {
		if o == op {
			return true
		}
	}
	return false
}

// pick reads one operator out of a precomputed summary.
func pick(summary types.NumericSummary, op string) float64 {
	switch op {
	case "min":
		return summary.Min
	case "max":
		return summary.Max
	case "sum":
		return summary.Sum
	case "avg":
		return summary.Avg
	default:
		return float64(summary.Count)
	}
}

// computeAggregation derives op over the numeric values of field in data.
// Non-numeric values are skipped. It reports false when no value qualifies.
func computeAggregation(data any, field, op string) (float64, bool) {
	objects, ok := objectArray(data)
	if !ok {
		return 0, false
	}
	var values []float64
	for _, obj := range objects {
		if f, ok := toFloat(obj[field]); ok {
			values = append(values, f)
		}
	}
	if len(values) == 0 {
		return 0, false
	}
	return pick(summarize(values), op), true
}
