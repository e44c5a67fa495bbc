package graph

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/engramhq/engram/internal/logging"
	"github.com/engramhq/engram/internal/schema"
)

// Node labels and relationship types used in the graph.
const (
	labelEpisodic = "Episodic"
	labelEntity   = "Entity"

	relMentions  = "MENTIONS"
	relRelatesTo = "RELATES_TO"
)

// FalkorStore implements Store on top of a FalkorDB client. Episode writes
// run the extractor first and then persist the episodic node, the merged
// entities and the extracted facts in a single pass.
type FalkorStore struct {
	client    Client
	extractor Extractor
	embedder  Embedder
	logger    *logging.Logger
}

// NewStore creates a store over the given client. The embedder may be nil;
// search then runs lexical-only.
func NewStore(client Client, extractor Extractor, embedder Embedder) *FalkorStore {
	return &FalkorStore{
		client:    client,
		extractor: extractor,
		embedder:  embedder,
		logger:    logging.GetLogger("graph.store"),
	}
}

func (s *FalkorStore) BuildIndices(ctx context.Context) error {
	s.logger.Info("building graph indices")

	indices := []string{
		fmt.Sprintf("CREATE INDEX FOR (n:%s) ON (n.uuid)", labelEpisodic),
		fmt.Sprintf("CREATE INDEX FOR (n:%s) ON (n.group_id)", labelEpisodic),
		fmt.Sprintf("CREATE INDEX FOR (n:%s) ON (n.created_at)", labelEpisodic),
		fmt.Sprintf("CREATE INDEX FOR (n:%s) ON (n.uuid)", labelEntity),
		fmt.Sprintf("CREATE INDEX FOR (n:%s) ON (n.group_id)", labelEntity),
		fmt.Sprintf("CREATE INDEX FOR (n:%s) ON (n.name)", labelEntity),
	}

	for _, q := range indices {
		if _, err := s.client.Query(ctx, q); err != nil {
			// The backend errors when the index already exists.
			s.logger.Warn("failed to create index (may already exist): %v", err)
		}
	}
	return nil
}

// AddEpisode extracts and persists one episode. The writes are issued as
// separate statements, not a transaction: a mid-sequence failure can leave
// the episodic node and some entities behind. Entity merges are idempotent,
// so re-submitting the episode converges instead of duplicating.
func (s *FalkorStore) AddEpisode(ctx context.Context, ep Episode, schemas map[string]schema.Definition) error {
	extraction, err := s.extractor.Extract(ctx, ep, schemas)
	if err != nil {
		return fmt.Errorf("%w for episode %s: %v", ErrExtraction, ep.UUID, err)
	}

	createdAt := ep.ReferenceTime
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}

	if err := s.createEpisodicNode(ctx, ep, createdAt); err != nil {
		return err
	}
	for _, ent := range extraction.Entities {
		if err := s.mergeEntity(ctx, ep, ent, createdAt); err != nil {
			return err
		}
	}
	for _, edge := range extraction.Edges {
		if err := s.createFact(ctx, ep.GroupID, edge, createdAt); err != nil {
			return err
		}
	}

	s.logger.Info("persisted episode %s: %d entities, %d facts (group: %s)",
		ep.UUID, len(extraction.Entities), len(extraction.Edges), ep.GroupID)
	return nil
}

func (s *FalkorStore) createEpisodicNode(ctx context.Context, ep Episode, createdAt time.Time) error {
	props := propsString(map[string]interface{}{
		"uuid":               ep.UUID,
		"name":               ep.Name,
		"body":               ep.Body,
		"source":             string(ep.Format),
		"source_description": ep.SourceDescription,
		"group_id":           ep.GroupID,
		"created_at":         createdAt,
	})
	_, err := s.client.Query(ctx, fmt.Sprintf("CREATE (e:%s %s)", labelEpisodic, props))
	if err != nil {
		return fmt.Errorf("failed to create episodic node %s: %w", ep.UUID, err)
	}
	return nil
}

// mergeEntity upserts an entity keyed by (name, group_id) and links it to
// the episode that mentioned it. A re-extracted entity keeps its uuid but
// picks up the newer summary and attributes.
func (s *FalkorStore) mergeEntity(ctx context.Context, ep Episode, ent ExtractedEntity, createdAt time.Time) error {
	attrs, err := json.Marshal(ent.Attributes)
	if err != nil {
		return fmt.Errorf("failed to encode attributes for entity %q: %w", ent.Name, err)
	}

	labels := []string{labelEntity}
	if ent.Label != "" && ent.Label != labelEntity {
		labels = append(labels, ent.Label)
	}

	q := fmt.Sprintf(
		"MERGE (n:%s {name: %s, group_id: %s}) "+
			"ON CREATE SET n.uuid = %s, n.created_at = %s "+
			"SET n.summary = %s, n.labels = %s, n.attributes = %s",
		labelEntity, quote(ent.Name), quote(ep.GroupID),
		quote(uuid.NewString()), quote(formatTimestamp(createdAt)),
		quote(ent.Summary), stringList(labels), quote(string(attrs)),
	)
	if len(ent.Embedding) > 0 {
		q += fmt.Sprintf(", n.name_embedding = %s", floatList(ent.Embedding))
	}
	if _, err := s.client.Query(ctx, q); err != nil {
		return fmt.Errorf("failed to merge entity %q: %w", ent.Name, err)
	}

	mention := fmt.Sprintf(
		"MATCH (ep:%s {uuid: %s}), (n:%s {name: %s, group_id: %s}) MERGE (ep)-[:%s]->(n)",
		labelEpisodic, quote(ep.UUID),
		labelEntity, quote(ent.Name), quote(ep.GroupID),
		relMentions,
	)
	if _, err := s.client.Query(ctx, mention); err != nil {
		return fmt.Errorf("failed to link episode %s to entity %q: %w", ep.UUID, ent.Name, err)
	}
	return nil
}

func (s *FalkorStore) createFact(ctx context.Context, groupID string, edge ExtractedEdge, createdAt time.Time) error {
	props := map[string]interface{}{
		"uuid":       uuid.NewString(),
		"name":       edge.Relation,
		"fact":       edge.Fact,
		"group_id":   groupID,
		"created_at": createdAt,
		"valid_at":   createdAt,
	}
	if len(edge.Embedding) > 0 {
		props["fact_embedding"] = edge.Embedding
	}

	q := fmt.Sprintf(
		"MATCH (a:%s {name: %s, group_id: %s}), (b:%s {name: %s, group_id: %s}) "+
			"CREATE (a)-[r:%s %s]->(b)",
		labelEntity, quote(edge.SourceName), quote(groupID),
		labelEntity, quote(edge.TargetName), quote(groupID),
		relRelatesTo, propsString(props),
	)
	result, err := s.client.Query(ctx, q)
	if err != nil {
		return fmt.Errorf("failed to create fact %q: %w", edge.Fact, err)
	}
	if result.Stats.RelationshipsCreated == 0 {
		// Endpoint entity was not extracted alongside the edge.
		s.logger.Warn("skipped fact %q: endpoint %q or %q missing in group %s",
			edge.Fact, edge.SourceName, edge.TargetName, groupID)
	}
	return nil
}

const nodeReturnClause = "n.uuid, n.name, n.summary, n.labels, n.group_id, n.created_at, n.attributes"

func nodeFromRow(row []interface{}) NodeResult {
	return NodeResult{
		UUID:       asString(row[0]),
		Name:       asString(row[1]),
		Summary:    asString(row[2]),
		Labels:     asStringSlice(row[3]),
		GroupID:    asString(row[4]),
		CreatedAt:  asTime(row[5]),
		Attributes: asAttributes(row[6]),
	}
}

const factReturnClause = "r.uuid, a.uuid, b.uuid, r.name, r.fact, r.group_id, r.created_at, r.valid_at, r.invalid_at"

func factFromRow(row []interface{}) FactResult {
	fact := FactResult{
		UUID:           asString(row[0]),
		SourceNodeUUID: asString(row[1]),
		TargetNodeUUID: asString(row[2]),
		Name:           asString(row[3]),
		Fact:           asString(row[4]),
		GroupID:        asString(row[5]),
		CreatedAt:      asTime(row[6]),
		ValidAt:        asTime(row[7]),
	}
	if t := asTime(row[8]); !t.IsZero() {
		fact.InvalidAt = &t
	}
	return fact
}

func (s *FalkorStore) GetEntityEdge(ctx context.Context, edgeUUID string) (*FactResult, error) {
	q := fmt.Sprintf(
		"MATCH (a:%s)-[r:%s {uuid: %s}]->(b:%s) RETURN %s",
		labelEntity, relRelatesTo, quote(edgeUUID), labelEntity, factReturnClause,
	)
	result, err := s.client.Query(ctx, q)
	if err != nil {
		return nil, err
	}
	if len(result.Rows) == 0 {
		return nil, fmt.Errorf("entity edge %s: %w", edgeUUID, ErrNotFound)
	}
	fact := factFromRow(result.Rows[0])
	return &fact, nil
}

func (s *FalkorStore) GetEpisodes(ctx context.Context, groupID string, lastN int, reference time.Time) ([]EpisodicNode, error) {
	if lastN <= 0 {
		return []EpisodicNode{}, nil
	}
	if reference.IsZero() {
		reference = time.Now().UTC()
	}

	q := fmt.Sprintf(
		"MATCH (e:%s {group_id: %s}) WHERE e.created_at <= %s "+
			"RETURN e.uuid, e.name, e.body, e.source, e.source_description, e.group_id, e.created_at "+
			"ORDER BY e.created_at DESC LIMIT %d",
		labelEpisodic, quote(groupID), quote(formatTimestamp(reference)), lastN,
	)
	result, err := s.client.Query(ctx, q)
	if err != nil {
		return nil, err
	}

	episodes := make([]EpisodicNode, 0, len(result.Rows))
	for _, row := range result.Rows {
		episodes = append(episodes, EpisodicNode{
			UUID:              asString(row[0]),
			Name:              asString(row[1]),
			Body:              asString(row[2]),
			Source:            asString(row[3]),
			SourceDescription: asString(row[4]),
			GroupID:           asString(row[5]),
			CreatedAt:         asTime(row[6]),
		})
	}
	return episodes, nil
}

func (s *FalkorStore) DeleteEntityEdge(ctx context.Context, edgeUUID string) error {
	q := fmt.Sprintf("MATCH ()-[r:%s {uuid: %s}]->() DELETE r", relRelatesTo, quote(edgeUUID))
	result, err := s.client.Query(ctx, q)
	if err != nil {
		return err
	}
	if result.Stats.RelationshipsDeleted == 0 {
		return fmt.Errorf("entity edge %s: %w", edgeUUID, ErrNotFound)
	}
	s.logger.Info("deleted entity edge %s", edgeUUID)
	return nil
}

func (s *FalkorStore) DeleteEpisode(ctx context.Context, episodeUUID string) error {
	q := fmt.Sprintf("MATCH (e:%s {uuid: %s}) DETACH DELETE e", labelEpisodic, quote(episodeUUID))
	result, err := s.client.Query(ctx, q)
	if err != nil {
		return err
	}
	if result.Stats.NodesDeleted == 0 {
		return fmt.Errorf("episode %s: %w", episodeUUID, ErrNotFound)
	}
	s.logger.Info("deleted episode %s", episodeUUID)
	return nil
}

func (s *FalkorStore) Clear(ctx context.Context, groupID string) error {
	q := fmt.Sprintf("MATCH (n) WHERE n.group_id = %s DETACH DELETE n", quote(groupID))
	result, err := s.client.Query(ctx, q)
	if err != nil {
		return err
	}
	s.logger.Info("cleared namespace %s: %d nodes deleted", groupID, result.Stats.NodesDeleted)
	return nil
}

// RebuildCommunities recomputes the stored degree of every entity in the
// namespace. The degree feeds relevance heuristics and the status surface.
func (s *FalkorStore) RebuildCommunities(ctx context.Context, groupID string) error {
	q := fmt.Sprintf(
		"MATCH (n:%s {group_id: %s}) OPTIONAL MATCH (n)-[r:%s]-() "+
			"WITH n, count(r) AS deg SET n.degree = deg",
		labelEntity, quote(groupID), relRelatesTo,
	)
	if _, err := s.client.Query(ctx, q); err != nil {
		return fmt.Errorf("failed to rebuild communities for %s: %w", groupID, err)
	}
	return nil
}

func (s *FalkorStore) VerifyConnectivity(ctx context.Context) error {
	return s.client.Ping(ctx)
}
