package graph

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strings"
)

// Hybrid search: a lexical candidate pass and a semantic candidate pass are
// fused with reciprocal rank fusion. With a center node, fused candidates
// are re-ranked by graph distance from the center.
const (
	lexicalPool  = 64
	semanticPool = 256
	rrfConstant  = 60
	centerDepth  = 3
)

func (s *FalkorStore) SearchNodes(ctx context.Context, q SearchQuery) ([]NodeResult, error) {
	if q.Limit <= 0 || strings.TrimSpace(q.Text) == "" || len(q.GroupIDs) == 0 {
		return []NodeResult{}, nil
	}

	filter := fmt.Sprintf("n.group_id IN %s", stringList(q.GroupIDs))
	if q.LabelFilter != "" {
		filter += fmt.Sprintf(" AND %s IN n.labels", quote(q.LabelFilter))
	}

	candidates := map[string]NodeResult{}

	lexQ := fmt.Sprintf(
		"MATCH (n:%s) WHERE %s AND (toLower(n.name) CONTAINS %s OR toLower(n.summary) CONTAINS %s) "+
			"RETURN %s ORDER BY n.created_at DESC LIMIT %d",
		labelEntity, filter,
		quote(strings.ToLower(q.Text)), quote(strings.ToLower(q.Text)),
		nodeReturnClause, lexicalPool,
	)
	lexResult, err := s.client.Query(ctx, lexQ)
	if err != nil {
		return nil, err
	}
	lexical := make([]string, 0, len(lexResult.Rows))
	for _, row := range lexResult.Rows {
		node := nodeFromRow(row)
		candidates[node.UUID] = node
		lexical = append(lexical, node.UUID)
	}

	var semantic []string
	if vec := s.queryVector(ctx, q.Text); vec != nil {
		semQ := fmt.Sprintf(
			"MATCH (n:%s) WHERE %s AND n.name_embedding IS NOT NULL "+
				"RETURN %s, n.name_embedding ORDER BY n.created_at DESC LIMIT %d",
			labelEntity, filter, nodeReturnClause, semanticPool,
		)
		semResult, err := s.client.Query(ctx, semQ)
		if err != nil {
			return nil, err
		}
		scored := make([]scoredID, 0, len(semResult.Rows))
		for _, row := range semResult.Rows {
			node := nodeFromRow(row)
			candidates[node.UUID] = node
			scored = append(scored, scoredID{id: node.UUID, score: cosine(vec, asFloat32Slice(row[7]))})
		}
		semantic = topByScore(scored)
	}

	order := rrfFuse(lexical, semantic)
	if q.CenterUUID != "" {
		order, err = s.rankByCenter(ctx, labelEntity, q.CenterUUID, order)
		if err != nil {
			return nil, err
		}
	}

	results := make([]NodeResult, 0, q.Limit)
	for _, id := range order {
		if len(results) == q.Limit {
			break
		}
		results = append(results, candidates[id])
	}
	return results, nil
}

func (s *FalkorStore) SearchFacts(ctx context.Context, q SearchQuery) ([]FactResult, error) {
	if q.Limit <= 0 || strings.TrimSpace(q.Text) == "" || len(q.GroupIDs) == 0 {
		return []FactResult{}, nil
	}

	match := fmt.Sprintf("MATCH (a:%s)-[r:%s]->(b:%s) WHERE r.group_id IN %s",
		labelEntity, relRelatesTo, labelEntity, stringList(q.GroupIDs))

	candidates := map[string]FactResult{}

	lexQ := fmt.Sprintf(
		"%s AND toLower(r.fact) CONTAINS %s RETURN %s ORDER BY r.created_at DESC LIMIT %d",
		match, quote(strings.ToLower(q.Text)), factReturnClause, lexicalPool,
	)
	lexResult, err := s.client.Query(ctx, lexQ)
	if err != nil {
		return nil, err
	}
	lexical := make([]string, 0, len(lexResult.Rows))
	for _, row := range lexResult.Rows {
		fact := factFromRow(row)
		candidates[fact.UUID] = fact
		lexical = append(lexical, fact.UUID)
	}

	var semantic []string
	if vec := s.queryVector(ctx, q.Text); vec != nil {
		semQ := fmt.Sprintf(
			"%s AND r.fact_embedding IS NOT NULL RETURN %s, r.fact_embedding "+
				"ORDER BY r.created_at DESC LIMIT %d",
			match, factReturnClause, semanticPool,
		)
		semResult, err := s.client.Query(ctx, semQ)
		if err != nil {
			return nil, err
		}
		scored := make([]scoredID, 0, len(semResult.Rows))
		for _, row := range semResult.Rows {
			fact := factFromRow(row)
			candidates[fact.UUID] = fact
			scored = append(scored, scoredID{id: fact.UUID, score: cosine(vec, asFloat32Slice(row[9]))})
		}
		semantic = topByScore(scored)
	}

	order := rrfFuse(lexical, semantic)
	if q.CenterUUID != "" {
		// Facts are ranked by the distance of their source entity.
		bySource := make(map[string][]string, len(candidates))
		sources := make([]string, 0, len(order))
		for _, id := range order {
			src := candidates[id].SourceNodeUUID
			if _, seen := bySource[src]; !seen {
				sources = append(sources, src)
			}
			bySource[src] = append(bySource[src], id)
		}
		ranked, err := s.rankByCenter(ctx, labelEntity, q.CenterUUID, sources)
		if err != nil {
			return nil, err
		}
		order = order[:0]
		for _, src := range ranked {
			order = append(order, bySource[src]...)
		}
	}

	results := make([]FactResult, 0, q.Limit)
	for _, id := range order {
		if len(results) == q.Limit {
			break
		}
		results = append(results, candidates[id])
	}
	return results, nil
}

// queryVector embeds the search text. Embedding failures degrade search to
// lexical-only and are logged, not returned.
func (s *FalkorStore) queryVector(ctx context.Context, text string) []float32 {
	if s.embedder == nil {
		return nil
	}
	vec, err := s.embedder.EmbedQuery(ctx, text)
	if err != nil {
		s.logger.Warn("query embedding failed, falling back to lexical search: %v", err)
		return nil
	}
	return vec
}

// rankByCenter stable-sorts ids by hop distance from the center node. Nodes
// the center cannot reach within centerDepth hops keep their fused order at
// the tail.
func (s *FalkorStore) rankByCenter(ctx context.Context, label, centerUUID string, ids []string) ([]string, error) {
	if len(ids) == 0 {
		return ids, nil
	}

	dist := map[string]int{centerUUID: 0}
	for depth := 1; depth <= centerDepth; depth++ {
		hops := strings.Repeat("-[]-()", depth-1)
		q := fmt.Sprintf(
			"MATCH (c:%s {uuid: %s})%s-[]-(n:%s) WHERE n.uuid IN %s RETURN DISTINCT n.uuid",
			label, quote(centerUUID), hops, label, stringList(ids),
		)
		result, err := s.client.Query(ctx, q)
		if err != nil {
			return nil, err
		}
		for _, row := range result.Rows {
			id := asString(row[0])
			if _, seen := dist[id]; !seen {
				dist[id] = depth
			}
		}
	}

	ranked := append([]string(nil), ids...)
	sort.SliceStable(ranked, func(i, j int) bool {
		return distanceOf(dist, ranked[i]) < distanceOf(dist, ranked[j])
	})
	return ranked, nil
}

func distanceOf(dist map[string]int, id string) int {
	if d, ok := dist[id]; ok {
		return d
	}
	return math.MaxInt
}

type scoredID struct {
	id    string
	score float64
}

// topByScore orders scored candidates best-first and drops non-positive
// similarities.
func topByScore(scored []scoredID) []string {
	sort.SliceStable(scored, func(i, j int) bool { return scored[i].score > scored[j].score })
	out := make([]string, 0, len(scored))
	for _, s := range scored {
		if s.score <= 0 {
			continue
		}
		out = append(out, s.id)
	}
	return out
}

// rrfFuse merges ranked id lists with reciprocal rank fusion. Ids appearing
// in several lists accumulate score and rise.
func rrfFuse(lists ...[]string) []string {
	scores := map[string]float64{}
	first := map[string]int{}
	next := 0

	for _, list := range lists {
		for rank, id := range list {
			scores[id] += 1.0 / float64(rrfConstant+rank+1)
			if _, seen := first[id]; !seen {
				first[id] = next
				next++
			}
		}
	}

	ids := make([]string, 0, len(scores))
	for id := range scores {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool {
		if scores[ids[i]] != scores[ids[j]] {
			return scores[ids[i]] > scores[ids[j]]
		}
		return first[ids[i]] < first[ids[j]]
	})
	return ids
}

// cosine computes cosine similarity; mismatched or empty vectors score zero.
func cosine(a, b []float32) float64 {
	if len(a) == 0 || len(a) != len(b) {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}
