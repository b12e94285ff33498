package db

// SchemaSQL defines the tracked document table.
const SchemaSQL = `
    -- ==========================================================================
    -- KB_DOCUMENT TABLE (knowledge base sync state per uploaded document)
    -- ==========================================================================
    DEFINE TABLE IF NOT EXISTS kb_document SCHEMAFULL;
    DEFINE FIELD IF NOT EXISTS file_name ON kb_document TYPE string DEFAULT "";
    -- Missing status is read as pending
    DEFINE FIELD IF NOT EXISTS knowledge_base_status ON kb_document TYPE option<string>
        ASSERT $value = NONE OR $value IN ["pending", "ingesting", "synced", "failed"];
    DEFINE FIELD IF NOT EXISTS ingestion_job_id ON kb_document TYPE option<string>;
    DEFINE FIELD IF NOT EXISTS last_sync_date ON kb_document TYPE option<datetime>;
    DEFINE FIELD IF NOT EXISTS retry_count ON kb_document TYPE int DEFAULT 0 ASSERT $value >= 0;
    DEFINE FIELD IF NOT EXISTS last_retry_date ON kb_document TYPE option<datetime>;
    DEFINE FIELD IF NOT EXISTS upload_date ON kb_document TYPE datetime;
    DEFINE FIELD IF NOT EXISTS file_size ON kb_document TYPE option<int>;
    DEFINE FIELD IF NOT EXISTS content_type ON kb_document TYPE option<string>;
    DEFINE FIELD IF NOT EXISTS s3_key ON kb_document TYPE option<string>;
    DEFINE FIELD IF NOT EXISTS uploaded_by ON kb_document TYPE option<string>;
    DEFINE FIELD IF NOT EXISTS created ON kb_document TYPE datetime DEFAULT time::now();

    DEFINE INDEX IF NOT EXISTS kb_document_status ON kb_document FIELDS knowledge_base_status;
    DEFINE INDEX IF NOT EXISTS kb_document_job ON kb_document FIELDS ingestion_job_id;
    DEFINE INDEX IF NOT EXISTS kb_document_upload ON kb_document FIELDS upload_date;
`
