package ai

import (
	"testing"

	"github.com/invopop/jsonschema"
)

type verdict struct {
	Sufficient bool   `json:"sufficient"`
	NeedSearch bool   `json:"need_search"`
	Query      string `json:"query,omitempty"`
}

func TestUnmarshalFlexible_ObjectVariants(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  verdict
	}{
		{
			name:  "valid json object",
			input: `{"sufficient":true}`,
			want:  verdict{Sufficient: true},
		},
		{
			name:  "unquoted key and single quotes",
			input: `{need_search: true, query: 'стек AI-Portfolio'}`,
			want:  verdict{NeedSearch: true, Query: "стек AI-Portfolio"},
		},
		{
			name:  "trailing comma",
			input: `{"sufficient":true,}`,
			want:  verdict{Sufficient: true},
		},
		{
			name:  "missing end bracket",
			input: `{"need_search":true,"query":"Go`,
			want:  verdict{NeedSearch: true, Query: "Go"},
		},
		{
			name:  "stringified invalid json object",
			input: `"{sufficient: true}"`,
			want:  verdict{Sufficient: true},
		},
		{
			name:  "duplicate leading brace",
			input: "{\n{\n  \"sufficient\": true\n}\n",
			want:  verdict{Sufficient: true},
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			var got verdict
			if err := UnmarshalFlexible(tc.input, &got); err != nil {
				t.Fatalf("UnmarshalFlexible() error = %v", err)
			}
			if got != tc.want {
				t.Fatalf("UnmarshalFlexible() got = %+v, want %+v", got, tc.want)
			}
		})
	}
}

func TestUnmarshalFlexible_ArrayVariants(t *testing.T) {
	type call struct {
		Tool string `json:"tool"`
	}
	input := `[{tool:'graph_query_tool'},{tool:'portfolio_search_tool',}]`
	var got []call
	if err := UnmarshalFlexible(input, &got); err != nil {
		t.Fatalf("UnmarshalFlexible() error = %v", err)
	}
	if len(got) != 2 || got[0].Tool != "graph_query_tool" || got[1].Tool != "portfolio_search_tool" {
		t.Fatalf("UnmarshalFlexible() got = %+v", got)
	}
}

func TestUnmarshalFlexible_Unrecoverable(t *testing.T) {
	var got verdict
	if err := UnmarshalFlexible("hello", &got); err == nil {
		t.Fatalf("UnmarshalFlexible() expected error for unrecoverable input")
	}
}

func TestGenerateSchemaClosesObjects(t *testing.T) {
	schema, ok := GenerateSchema(&verdict{}).(*jsonschema.Schema)
	if !ok {
		t.Fatalf("GenerateSchema() returned %T", GenerateSchema(&verdict{}))
	}
	if schema.Type != "object" {
		t.Fatalf("schema type = %q, want object", schema.Type)
	}
	if _, ok := schema.Properties.Get("need_search"); !ok {
		t.Fatalf("schema lacks need_search property")
	}
}

func TestExtractJSONObject(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{name: "bare object", input: `{"a":1}`, want: `{"a":1}`},
		{name: "fenced", input: "```json\n{\"sufficient\": true}\n```", want: `{"sufficient": true}`},
		{name: "prose around", input: `Ответ: {"a":{"b":2}} готово`, want: `{"a":{"b":2}}`},
		{name: "no object", input: "nothing here", want: "nothing here"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := ExtractJSONObject(tc.input); got != tc.want {
				t.Fatalf("ExtractJSONObject() = %q, want %q", got, tc.want)
			}
		})
	}
}

func TestFitDimensions(t *testing.T) {
	if got := FitDimensions([]float32{1, 2, 3}, 2); len(got) != 2 || got[1] != 2 {
		t.Fatalf("FitDimensions() truncate = %v", got)
	}
	if got := FitDimensions([]float32{1}, 3); len(got) != 3 || got[0] != 1 || got[2] != 0 {
		t.Fatalf("FitDimensions() pad = %v", got)
	}
}

func TestMetricsAccumulate(t *testing.T) {
	var m Metrics
	m.Add(ModelMetrics{InputTokens: 10, OutputTokens: 5, TotalTokens: 15, DurationMs: 500})
	m.Add(ModelMetrics{InputTokens: 5, TotalTokens: 5, DurationMs: 500})
	got := m.Snapshot()
	if got.TotalTokens != 20 || got.Requests != 2 || got.TokenPerSecond != 20 {
		t.Fatalf("Snapshot() = %+v", got)
	}
	m.Reset()
	if m.Snapshot().Requests != 0 {
		t.Fatalf("Reset() did not clear totals")
	}
}
