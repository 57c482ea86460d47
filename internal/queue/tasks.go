package queue

const (
	TypeKBReindex = "kb:reindex"
)

// KBReindexPayload asks a worker to re-run ingestion over the knowledge
// base directory. No force flag: the pipeline is idempotent, unchanged
// documents are cheap no-ops.
type KBReindexPayload struct {
	KBPath string `json:"kb_path"`
}
