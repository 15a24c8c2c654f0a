package metrics

// Pipeline bundles the series recorded by ingestion and retrieval.
type Pipeline struct {
	PointsWritten    *Counter
	ChunkFailures    *Counter
	DocumentsSkipped *Counter
	Queries          *Counter
	EmptyQueries     *Counter
	QueryDuration    *Histogram
	CollectionPoints *Gauge
}

// NewPipeline registers the pipeline series on r for one collection.
func NewPipeline(r *Registry, collection string) *Pipeline {
	l := []string{"collection", collection}
	return &Pipeline{
		PointsWritten:    r.Counter("ragqa_ingest_points_total", "Points upserted into the vector store.", l...),
		ChunkFailures:    r.Counter("ragqa_ingest_chunk_failures_total", "Chunks skipped because embedding failed.", l...),
		DocumentsSkipped: r.Counter("ragqa_ingest_documents_skipped_total", "Documents that produced no chunks.", l...),
		Queries:          r.Counter("ragqa_query_total", "Retrieval requests.", l...),
		EmptyQueries:     r.Counter("ragqa_query_empty_total", "Retrievals that found nothing.", l...),
		QueryDuration:    r.Histogram("ragqa_query_duration_seconds", "Retrieval latency.", nil, l...),
		CollectionPoints: r.Gauge("ragqa_collection_points", "Points in the collection after the last ingest.", l...),
	}
}
