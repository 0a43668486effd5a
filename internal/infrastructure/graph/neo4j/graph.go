package neo4j

import (
	"context"
	"fmt"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"

	"github.com/kirillkom/policy-analyst/internal/core/domain"
)

// Graph mirrors the chunk corpus into Neo4j so the graph refinement
// strategy can ask for chunk adjacency. Chunks connect to their document
// and to the next chunk of the same document.
type Graph struct {
	driver   neo4j.DriverWithContext
	database string
}

func New(ctx context.Context, uri, user, password, database string) (*Graph, error) {
	driver, err := neo4j.NewDriverWithContext(uri, neo4j.BasicAuth(user, password, ""))
	if err != nil {
		return nil, fmt.Errorf("create neo4j driver: %w", err)
	}
	if err := driver.VerifyConnectivity(ctx); err != nil {
		_ = driver.Close(ctx)
		return nil, fmt.Errorf("verify neo4j connectivity: %w", err)
	}
	return &Graph{driver: driver, database: database}, nil
}

func (g *Graph) Close(ctx context.Context) error {
	return g.driver.Close(ctx)
}

func (g *Graph) UpsertChunks(ctx context.Context, chunks []domain.Chunk) error {
	if len(chunks) == 0 {
		return nil
	}

	rows := make([]map[string]any, 0, len(chunks))
	for _, chunk := range chunks {
		rows = append(rows, map[string]any{
			"id":          chunk.ID,
			"document_id": chunk.DocumentID,
			"page_from":   chunk.Pages.From,
			"page_to":     chunk.Pages.To,
			"token_count": chunk.TokenCount,
		})
	}

	const upsert = `
UNWIND $rows AS row
MERGE (c:Chunk {id: row.id})
SET c.document_id = row.document_id,
    c.page_from = row.page_from,
    c.page_to = row.page_to,
    c.token_count = row.token_count
MERGE (d:Document {id: row.document_id})
MERGE (c)-[:PART_OF]->(d)`

	if _, err := neo4j.ExecuteQuery(ctx, g.driver, upsert,
		map[string]any{"rows": rows},
		neo4j.EagerResultTransformer,
		neo4j.ExecuteQueryWithDatabase(g.database),
	); err != nil {
		return fmt.Errorf("upsert chunks: %w", err)
	}

	// Sequence edges let the refinement signal follow reading order.
	pairs := make([]map[string]any, 0, len(chunks))
	for i := 1; i < len(chunks); i++ {
		if chunks[i].DocumentID != chunks[i-1].DocumentID {
			continue
		}
		pairs = append(pairs, map[string]any{"prev": chunks[i-1].ID, "next": chunks[i].ID})
	}
	if len(pairs) == 0 {
		return nil
	}

	const link = `
UNWIND $pairs AS pair
MATCH (a:Chunk {id: pair.prev}), (b:Chunk {id: pair.next})
MERGE (a)-[:NEXT]->(b)`

	if _, err := neo4j.ExecuteQuery(ctx, g.driver, link,
		map[string]any{"pairs": pairs},
		neo4j.EagerResultTransformer,
		neo4j.ExecuteQueryWithDatabase(g.database),
	); err != nil {
		return fmt.Errorf("link chunks: %w", err)
	}
	return nil
}

func (g *Graph) Neighbors(ctx context.Context, chunkIDs []string, depth int) (map[string][]string, error) {
	if len(chunkIDs) == 0 {
		return map[string][]string{}, nil
	}

	result, err := neo4j.ExecuteQuery(ctx, g.driver, neighborsQuery(depth),
		map[string]any{"ids": chunkIDs},
		neo4j.EagerResultTransformer,
		neo4j.ExecuteQueryWithDatabase(g.database),
	)
	if err != nil {
		return nil, fmt.Errorf("query neighbors: %w", err)
	}

	out := make(map[string][]string, len(chunkIDs))
	for _, record := range result.Records {
		id, ok := record.Get("id")
		if !ok {
			continue
		}
		neighbors, ok := record.Get("neighbors")
		if !ok {
			continue
		}
		chunkID, _ := id.(string)
		raw, _ := neighbors.([]any)
		list := make([]string, 0, len(raw))
		for _, n := range raw {
			if s, ok := n.(string); ok {
				list = append(list, s)
			}
		}
		out[chunkID] = list
	}
	return out, nil
}

// neighborsQuery inlines the hop count: Cypher does not parameterize
// variable-length bounds. Depth is clamped to keep traversal bounded.
func neighborsQuery(depth int) string {
	if depth < 1 {
		depth = 1
	}
	if depth > 3 {
		depth = 3
	}
	return fmt.Sprintf(`
MATCH (c:Chunk) WHERE c.id IN $ids
OPTIONAL MATCH (c)-[:NEXT|PART_OF*1..%d]-(n:Chunk)
WHERE n.id <> c.id
RETURN c.id AS id, collect(DISTINCT n.id) AS neighbors`, depth)
}
