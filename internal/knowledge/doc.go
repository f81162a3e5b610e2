// Package knowledge is the retrieval store behind the tutoring pipeline.
//
// Documents live in the gateway's SQLite database with their embedding as a
// little-endian float32 blob. Search embeds the query and ranks every stored
// document by cosine similarity in process; the corpus is small enough that
// a dedicated vector engine is not needed.
//
// Ingestion embeds texts in batches (five by default) with a bounded number
// of concurrent calls. Seed populates an empty store from a TOML file or the
// built-in math facts.
package knowledge
