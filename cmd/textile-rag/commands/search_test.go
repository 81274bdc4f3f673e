package commands

import (
	"bytes"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jinford/textile-rag/internal/core/ingestion"
	"github.com/jinford/textile-rag/internal/core/retrieval"
)

func sampleResult() *retrieval.Result {
	return &retrieval.Result{Items: []retrieval.Item{
		{ID: "gond_01.jpg", Craft: "gond", Path: "textile_data/gond/01.jpg", Score: 0.9123},
		{ID: "kasuti_02.png", Craft: "kasuti", Path: "textile_data/kasuti/02.png", Score: 0.8},
	}}
}

func TestWriteResultJSON(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, writeResultJSON(&buf, sampleResult()))

	var decoded struct {
		Results []retrieval.Item `json:"results"`
	}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &decoded))
	require.Len(t, decoded.Results, 2)
	assert.Equal(t, "gond_01.jpg", decoded.Results[0].ID)
	assert.Equal(t, "kasuti", decoded.Results[1].Craft)
}

func TestWriteResultJSON_Empty(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, writeResultJSON(&buf, &retrieval.Result{}))
	assert.JSONEq(t, `{"results":[]}`, buf.String())
}

func TestRenderResultTable(t *testing.T) {
	var buf bytes.Buffer
	renderResultTable(&buf, sampleResult())

	out := buf.String()
	assert.Contains(t, out, "gond_01.jpg")
	assert.Contains(t, out, "textile_data/kasuti/02.png")
	assert.Contains(t, out, "0.9123")
}

func TestRenderResultTable_Empty(t *testing.T) {
	var buf bytes.Buffer
	renderResultTable(&buf, &retrieval.Result{})
	assert.Contains(t, buf.String(), "該当する画像はありません")
}

func TestRenderReport(t *testing.T) {
	var buf bytes.Buffer
	renderReport(&buf, &ingestion.Report{
		Discovered: 4,
		Indexed:    3,
		Failed:     1,
		Crafts:     map[string]int{"kasuti": 1, "gond": 2},
		Duration:   1500 * time.Millisecond,
	}, -1)

	out := buf.String()
	assert.Contains(t, out, "gond")
	assert.Contains(t, out, "kasuti")
	assert.Contains(t, out, "3/4")
	assert.NotContains(t, out, "インデックス総件数")
	assert.Less(t, bytes.Index(buf.Bytes(), []byte("gond")), bytes.Index(buf.Bytes(), []byte("kasuti")))
}

func TestRenderReport_WithIndexTotal(t *testing.T) {
	var buf bytes.Buffer
	renderReport(&buf, &ingestion.Report{
		Discovered: 2,
		Indexed:    2,
		Crafts:     map[string]int{"gond": 2},
	}, 57)

	assert.Contains(t, buf.String(), "インデックス総件数: 57")
}

func TestLoadConfig_Invalid(t *testing.T) {
	t.Setenv("VECTOR_BACKEND", "chroma")
	_, err := LoadConfig("")
	assert.Error(t, err)
}
