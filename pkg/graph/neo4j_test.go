package graph

import (
	"testing"
	"time"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
	"github.com/stretchr/testify/assert"
)

func TestNeo4jConfig_Validate(t *testing.T) {
	assert.NoError(t, (&Neo4jConfig{}).Validate(), "disabled config is valid")
	assert.Error(t, (&Neo4jConfig{Enabled: true}).Validate())
	assert.Error(t, (&Neo4jConfig{Enabled: true, URI: "neo4j://localhost:7687"}).Validate())
	assert.NoError(t, (&Neo4jConfig{Enabled: true, URI: "neo4j://localhost:7687", Database: "neo4j"}).Validate())
}

func TestConvertValue(t *testing.T) {
	node := neo4j.Node{Props: map[string]any{"id": "doc-1"}}
	assert.Equal(t, map[string]any{"id": "doc-1"}, convertValue(node))

	rel := neo4j.Relationship{Props: map[string]any{"preview": "hi"}}
	assert.Equal(t, map[string]any{"preview": "hi"}, convertValue(rel))

	ts := time.Date(2026, 1, 2, 3, 4, 5, 0, time.FixedZone("x", 3600))
	assert.Equal(t, ts.UTC(), convertValue(ts))
	assert.Equal(t, int64(3), convertValue(int64(3)))
}
