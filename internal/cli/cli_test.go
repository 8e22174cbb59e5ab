package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lazypower/memgraph/internal/pack"
)

func run(t *testing.T, args ...string) []byte {
	t.Helper()
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetArgs(args)
	require.NoError(t, rootCmd.Execute(), "memgraph %v", args)
	return out.Bytes()
}

func TestPackAndLibraryCommands(t *testing.T) {
	dir := t.TempDir()
	packPath := filepath.Join(dir, "notes.mgpack")

	var created struct {
		ID       string `json:"id"`
		Metadata struct {
			Name string `json:"name"`
		} `json:"metadata"`
	}
	require.NoError(t, json.Unmarshal(run(t, "pack", "create", filepath.Join(dir, "notes"), "--name", "Notes"), &created))
	assert.Equal(t, "Notes", created.Metadata.Name)
	assert.NotEmpty(t, created.ID)

	run(t, "pack", "remember", packPath, "the build uses make")

	var info struct {
		Stats struct {
			ActiveNodes int `json:"active_nodes"`
		} `json:"stats"`
	}
	require.NoError(t, json.Unmarshal(run(t, "pack", "info", packPath), &info))
	assert.Equal(t, 1, info.Stats.ActiveNodes)

	run(t, "library", "create", dir)
	run(t, "library", "add", dir, packPath)

	var graph struct {
		Nodes []struct {
			Content  string `json:"content"`
			PackName string `json:"pack_name"`
		} `json:"nodes"`
	}
	require.NoError(t, json.Unmarshal(run(t, "library", "graph", dir), &graph))
	require.Len(t, graph.Nodes, 1)
	assert.Equal(t, "the build uses make", graph.Nodes[0].Content)
	assert.Equal(t, "Notes", graph.Nodes[0].PackName)
}

func TestPackRecallCountsAccess(t *testing.T) {
	packPath := filepath.Join(t.TempDir(), "recall.mgpack")
	run(t, "pack", "create", packPath, "--name", "Recall")

	var node struct {
		ID string `json:"id"`
	}
	require.NoError(t, json.Unmarshal(run(t, "pack", "remember", packPath, "staging runs on arm64"), &node))

	var results []struct {
		Node struct {
			ID string `json:"id"`
		} `json:"node"`
	}
	require.NoError(t, json.Unmarshal(run(t, "pack", "recall", packPath, "arm64"), &results))
	require.Len(t, results, 1)
	assert.Equal(t, node.ID, results[0].Node.ID)

	ctx := context.Background()
	err := pack.With(ctx, packPath, true, func(p *pack.Pack) error {
		n, err := p.Store().FindByID(ctx, node.ID)
		require.NoError(t, err)
		require.NotNil(t, n)
		assert.Equal(t, 1, n.AccessCount)
		assert.NotNil(t, n.LastAccessed)
		return nil
	})
	require.NoError(t, err)
}

func TestMemoryCommands(t *testing.T) {
	db := filepath.Join(t.TempDir(), "memgraph.db")

	var node struct {
		ID string `json:"id"`
	}
	require.NoError(t, json.Unmarshal(run(t, "--db", db, "remember", "deploys run on Fridays", "-c", "fact"), &node))
	require.NotEmpty(t, node.ID)

	var results []struct {
		Node struct {
			ID string `json:"id"`
		} `json:"node"`
	}
	require.NoError(t, json.Unmarshal(run(t, "--db", db, "recall", "Fridays"), &results))
	require.Len(t, results, 1)
	assert.Equal(t, node.ID, results[0].Node.ID)

	run(t, "--db", db, "forget", node.ID, "--reason", "outdated")

	var entries []struct {
		Action string `json:"action"`
	}
	require.NoError(t, json.Unmarshal(run(t, "--db", db, "log"), &entries))
	require.Len(t, entries, 1)
	assert.Equal(t, "forget", entries[0].Action)
}
