// Package sources defines the contract shared by the bibliographic API
// clients and the middleware stack they compose.
//
// Clients return raw per-source records; they never normalize. Optional
// capabilities (citations, author lookup, embeddings, PDF bytes) are
// expressed as additional interfaces so the aggregator can probe them with
// type assertions instead of capability flags.
package sources

import (
	"context"

	"github.com/djjay0131/agentic-kg/paper"
)

// Record is a raw per-source payload. Concrete types live in the client
// subpackages; the normalizer type-switches over them.
type Record interface {
	// RecordSource names the source that produced this record.
	RecordSource() paper.Source
}

// RequestOptions tune a single call.
type RequestOptions struct {
	// BypassCache forces a fresh upstream fetch.
	BypassCache bool
}

// Client is the minimal contract every source client implements.
type Client interface {
	// Source returns the stable source key ("s2", "arxiv", "openalex").
	Source() paper.Source

	// GetPaper fetches the raw record for an identifier already cleaned to
	// the source's native form. Not-found is a typed faults.KindNotFound
	// error, never an empty record.
	GetPaper(ctx context.Context, id string, opts RequestOptions) (Record, error)

	// SearchPapers runs a relevance query.
	SearchPapers(ctx context.Context, query string, limit, offset int) ([]Record, error)

	// SupportsID reports whether the client can serve the identifier type.
	SupportsID(t paper.IDType) bool
}

// CitationsProvider is implemented by clients that can list citing papers.
type CitationsProvider interface {
	GetCitations(ctx context.Context, id string, limit int) ([]Record, error)
}

// AuthorProvider is implemented by clients with an author endpoint.
type AuthorProvider interface {
	GetAuthor(ctx context.Context, id string) (Record, error)
}

// PDFProvider is implemented by clients that can serve PDF bytes.
type PDFProvider interface {
	GetPDFBytes(ctx context.Context, id string) ([]byte, error)
}

// EmbeddingProvider is implemented by clients exposing precomputed paper
// embeddings (Semantic Scholar SPECTER).
type EmbeddingProvider interface {
	GetEmbedding(ctx context.Context, id string) ([]float32, error)
}
