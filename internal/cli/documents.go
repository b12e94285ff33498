package cli

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/raphaelgruber/kbsync/internal/models"
)

var (
	documentsStatus string

	trackID          string
	trackS3Key       string
	trackSize        int64
	trackContentType string
	trackUploadedBy  string
)

var documentsCmd = &cobra.Command{
	Use:   "documents",
	Short: "List tracked documents",
	Long: `List tracked documents with their knowledge base sync status.

Examples:
  kbsync documents
  kbsync documents --status failed
  kbsync documents -v        # include job and retry details`,
	Args: cobra.NoArgs,
	RunE: runDocuments,
}

var trackCmd = &cobra.Command{
	Use:   "track <file-name>",
	Short: "Start tracking an uploaded document",
	Long: `Create a pending tracking record for a document that has been uploaded
to the knowledge base data source. The next run picks it up.

Examples:
  kbsync track handbook.pdf
  kbsync track handbook.pdf --id 7d1c... --s3-key uploads/handbook.pdf`,
	Args: cobra.ExactArgs(1),
	RunE: runTrack,
}

var untrackCmd = &cobra.Command{
	Use:   "untrack <document-id>",
	Short: "Stop tracking a document",
	Args:  cobra.ExactArgs(1),
	RunE:  runUntrack,
}

var resetRetriesCmd = &cobra.Command{
	Use:   "reset-retries <document-id>",
	Short: "Reset the retry budget of a failed document",
	Long: `Set the retry count of a document back to zero and its status to pending,
so the next runs resubmit it again with fresh backoff.

Use this after fixing the cause of an ingestion failure for a document that
reached the retry limit.`,
	Args: cobra.ExactArgs(1),
	RunE: runResetRetries,
}

func init() {
	documentsCmd.Flags().StringVarP(&documentsStatus, "status", "s", "", "filter by status (pending, ingesting, synced, failed)")

	trackCmd.Flags().StringVar(&trackID, "id", "", "document id (default: random UUID)")
	trackCmd.Flags().StringVar(&trackS3Key, "s3-key", "", "object key in the data source bucket")
	trackCmd.Flags().Int64Var(&trackSize, "size", 0, "file size in bytes")
	trackCmd.Flags().StringVar(&trackContentType, "content-type", "", "MIME type")
	trackCmd.Flags().StringVar(&trackUploadedBy, "uploaded-by", "", "uploader")
}

func runDocuments(cmd *cobra.Command, args []string) error {
	out := cmd.OutOrStdout()

	var status models.KBStatus
	if documentsStatus != "" {
		status = models.KBStatus(documentsStatus)
		if !status.Valid() {
			return fmt.Errorf("unknown status %q", documentsStatus)
		}
	}

	docs, err := store.ListDocuments(cmd.Context(), status)
	if err != nil {
		return fmt.Errorf("list documents: %w", err)
	}

	if len(docs) == 0 {
		fmt.Fprintln(out, "No documents found.")
		return nil
	}

	p := newPrinter(out)
	fmt.Fprintf(out, "Documents (%d):\n\n", len(docs))
	for _, d := range docs {
		fmt.Fprintf(out, "%s %-36s %s\n", p.documentStatus(d.KnowledgeBaseStatus, 10), d.DocumentID, d.FileName)
		if verbose {
			if d.IngestionJobID != "" {
				fmt.Fprintf(out, "  Job: %s\n", d.IngestionJobID)
			}
			if d.LastSyncDate != nil {
				fmt.Fprintf(out, "  Last sync: %s\n", d.LastSyncDate.Local().Format(time.RFC3339))
			}
			if d.RetryCount > 0 {
				fmt.Fprintf(out, "  Retries: %d\n", d.RetryCount)
			}
			fmt.Fprintf(out, "  Uploaded: %s\n", d.UploadDate.Local().Format(time.RFC3339))
		}
	}

	return nil
}

func runTrack(cmd *cobra.Command, args []string) error {
	id := trackID
	if id == "" {
		id = uuid.NewString()
	}

	doc := models.NewTrackedDocument(id, args[0], time.Now())
	doc.S3Key = trackS3Key
	doc.FileSize = trackSize
	doc.ContentType = trackContentType
	doc.UploadedBy = trackUploadedBy

	if err := store.CreateDocument(cmd.Context(), doc); err != nil {
		if errors.Is(err, models.ErrDocumentExists) {
			return fmt.Errorf("document %s is already tracked", id)
		}
		return fmt.Errorf("track document: %w", err)
	}

	fmt.Fprintf(cmd.OutOrStdout(), "Tracking %s as %s (pending)\n", doc.FileName, id)
	return nil
}

func runUntrack(cmd *cobra.Command, args []string) error {
	if err := store.DeleteDocument(cmd.Context(), args[0]); err != nil {
		if errors.Is(err, models.ErrDocumentNotFound) {
			return fmt.Errorf("document %s is not tracked", args[0])
		}
		return fmt.Errorf("untrack document: %w", err)
	}

	fmt.Fprintf(cmd.OutOrStdout(), "Stopped tracking %s\n", args[0])
	return nil
}

func runResetRetries(cmd *cobra.Command, args []string) error {
	if err := store.ResetRetries(cmd.Context(), args[0]); err != nil {
		if errors.Is(err, models.ErrDocumentNotFound) {
			return fmt.Errorf("document %s is not tracked", args[0])
		}
		return fmt.Errorf("reset retries: %w", err)
	}

	fmt.Fprintf(cmd.OutOrStdout(), "Reset retries for %s; it will be resubmitted on the next run\n", args[0])
	return nil
}
