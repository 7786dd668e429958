package publish

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"time"

	"datalab/internal/lifecycle"
)

// ReceiptVersion identifies the receipt schema; bump on breaking changes.
const ReceiptVersion = 1

// IntegrityReceipt is the sidecar written next to every snapshot export.
// It lets a consumer confirm, long after the fact, that the file they hold
// is byte-identical to what was published.
type IntegrityReceipt struct {
	ReceiptVersion int       `json:"receipt_version"`
	CreatedUTC     time.Time `json:"created_utc"`
	Producer       Producer  `json:"producer"`
	Export         Export    `json:"export"`
	Integrity      Integrity `json:"integrity"`
}

// Producer records what wrote the snapshot.
type Producer struct {
	AppName    string `json:"app_name"`
	AppVersion string `json:"app_version"`
	Platform   string `json:"platform"`
}

// Export describes the exported file at publish time.
type Export struct {
	Filename      string                 `json:"filename"`
	Format        string                 `json:"format"`
	FileSizeBytes int64                  `json:"file_size_bytes"`
	RowCount      int64                  `json:"row_count"`
	ColumnCount   int                    `json:"column_count"`
	Schema        []lifecycle.ColumnInfo `json:"schema"`
}

// Integrity carries the content hash.
type Integrity struct {
	HashAlgorithm string `json:"hash_algorithm"`
	Hash          string `json:"hash"`
}

// HashFile streams the file through SHA-256 and returns the hex digest.
func HashFile(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// CreateReceipt hashes the snapshot file and assembles its receipt.
func CreateReceipt(path, appName, appVersion string, export Export) (*IntegrityReceipt, error) {
	hash, err := HashFile(path)
	if err != nil {
		return nil, fmt.Errorf("hash snapshot: %w", err)
	}
	if export.Filename == "" {
		export.Filename = filepath.Base(path)
	}
	return &IntegrityReceipt{
		ReceiptVersion: ReceiptVersion,
		CreatedUTC:     time.Now().UTC(),
		Producer: Producer{
			AppName:    appName,
			AppVersion: appVersion,
			Platform:   runtime.GOOS,
		},
		Export:    export,
		Integrity: Integrity{HashAlgorithm: "SHA-256", Hash: hash},
	}, nil
}

// ReceiptPath returns the sidecar path for a snapshot file.
func ReceiptPath(snapshotPath string) string {
	return snapshotPath + ".receipt.json"
}

// SaveReceipt writes the receipt next to the snapshot.
func SaveReceipt(snapshotPath string, r *IntegrityReceipt) error {
	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(ReceiptPath(snapshotPath), data, 0o644)
}

// LoadReceipt reads a receipt sidecar.
func LoadReceipt(snapshotPath string) (*IntegrityReceipt, error) {
	data, err := os.ReadFile(ReceiptPath(snapshotPath))
	if err != nil {
		return nil, err
	}
	var r IntegrityReceipt
	if err := json.Unmarshal(data, &r); err != nil {
		return nil, fmt.Errorf("decode receipt: %w", err)
	}
	return &r, nil
}

// VerifyReceipt re-hashes the snapshot and compares against the receipt.
// A nil error means the file is byte-identical to what was published.
func VerifyReceipt(snapshotPath string, r *IntegrityReceipt) error {
	if r.Integrity.HashAlgorithm != "SHA-256" {
		return fmt.Errorf("unsupported hash algorithm %q", r.Integrity.HashAlgorithm)
	}
	hash, err := HashFile(snapshotPath)
	if err != nil {
		return fmt.Errorf("hash snapshot: %w", err)
	}
	if hash != r.Integrity.Hash {
		return fmt.Errorf("integrity check failed: file hash %s does not match receipt hash %s", hash, r.Integrity.Hash)
	}
	return nil
}
