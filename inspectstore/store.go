// Package inspectstore persists the on-device inspection dataset in SQLite
// with sensitive columns encrypted at rest. It is the single source of truth
// for the synchronization engine; all writes run inside explicit
// transactions on one logical writer.
// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

package inspectstore

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/pressly/goose/v3"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

var (
	// ErrStoreUnavailable means the store could not be opened, typically
	// because encryption key material could not be obtained or generated.
	ErrStoreUnavailable = errors.New("inspection store unavailable")

	// ErrNotFound is returned by point lookups that match no row.
	ErrNotFound = errors.New("record not found")
)

// Store owns the SQLite database and the record cipher.
type Store struct {
	db      *sql.DB
	cipher  *recordCipher
	logger  *slog.Logger
	writeMu sync.Mutex // serialize writers to avoid SQLITE_BUSY churn
}

// Open opens (creating if necessary) the store at dbPath. Key material is
// read from keyPath, generated and persisted on first run, and never
// overwritten afterwards.
func Open(ctx context.Context, dbPath, keyPath string, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}

	material, err := loadOrCreateKeyMaterial(keyPath)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrStoreUnavailable, err)
	}
	cipher, err := newRecordCipher(material)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrStoreUnavailable, err)
	}

	db, err := sql.Open("sqlite3", dbPath+"?_busy_timeout=5000&_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("%w: open database: %w", ErrStoreUnavailable, err)
	}
	if _, err := db.ExecContext(ctx, "PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("%w: enable WAL: %w", ErrStoreUnavailable, err)
	}

	goose.SetBaseFS(migrationsFS)
	if err := goose.SetDialect("sqlite3"); err != nil {
		db.Close()
		return nil, fmt.Errorf("%w: set dialect: %w", ErrStoreUnavailable, err)
	}
	if err := goose.UpContext(ctx, db, "migrations"); err != nil {
		db.Close()
		return nil, fmt.Errorf("%w: run migrations: %w", ErrStoreUnavailable, err)
	}

	return &Store{db: db, cipher: cipher, logger: logger}, nil
}

// Close releases the underlying database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

// withTx runs fn inside a transaction, rolling back on error.
func (s *Store) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()

	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	committed = true
	return nil
}

// ReplaceInspectionDataset atomically drops the current Inspection and its
// items and installs the new set. Sample photos are independent reference
// data and are left untouched.
func (s *Store) ReplaceInspectionDataset(ctx context.Context, insp *Inspection, items []InspectionItem) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `DELETE FROM inspection_item`); err != nil {
			return fmt.Errorf("clear items: %w", err)
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM inspection`); err != nil {
			return fmt.Errorf("clear inspection: %w", err)
		}
		if err := s.insertInspection(ctx, tx, insp); err != nil {
			return err
		}
		for i := range items {
			if err := s.insertItem(ctx, tx, &items[i]); err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *Store) insertInspection(ctx context.Context, tx *sql.Tx, insp *Inspection) error {
	clientName, err := s.cipher.seal(insp.ClientName)
	if err != nil {
		return fmt.Errorf("seal client name: %w", err)
	}
	model, err := s.cipher.seal(insp.Model)
	if err != nil {
		return fmt.Errorf("seal model: %w", err)
	}
	_, err = tx.ExecContext(ctx, `
		INSERT INTO inspection (
			inspection_id, inspection_name_id, inspection_name, worksheet_code,
			receipt_confirmation_date, scheduled_date, model, client_name, status,
			company_code, base_code, worker_code, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		insp.InspectionID, insp.InspectionNameID, insp.InspectionName, insp.WorksheetCode,
		insp.ReceiptConfirmationDate, insp.ScheduledDate, model, clientName, int(insp.Status),
		insp.CompanyCode, insp.BaseCode, insp.WorkerCode, insp.CreatedAt, insp.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert inspection: %w", err)
	}
	return nil
}

// GetInspection returns the single on-device inspection, or ErrNotFound when
// no session is active.
func (s *Store) GetInspection(ctx context.Context) (*Inspection, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT inspection_id, inspection_name_id, inspection_name, worksheet_code,
		       receipt_confirmation_date, scheduled_date, model, client_name, status,
		       company_code, base_code, worker_code, created_at, updated_at
		FROM inspection LIMIT 1`)

	var insp Inspection
	var status int
	var model, clientName string
	err := row.Scan(
		&insp.InspectionID, &insp.InspectionNameID, &insp.InspectionName, &insp.WorksheetCode,
		&insp.ReceiptConfirmationDate, &insp.ScheduledDate, &model, &clientName, &status,
		&insp.CompanyCode, &insp.BaseCode, &insp.WorkerCode, &insp.CreatedAt, &insp.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query inspection: %w", err)
	}
	insp.Status = Status(status)
	if insp.Model, err = s.cipher.open(model); err != nil {
		return nil, fmt.Errorf("open model: %w", err)
	}
	if insp.ClientName, err = s.cipher.open(clientName); err != nil {
		return nil, fmt.Errorf("open client name: %w", err)
	}
	return &insp, nil
}

// UpdateInspectionStatus persists a workflow status transition.
func (s *Store) UpdateInspectionStatus(ctx context.Context, inspectionID int64, status Status) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx,
			`UPDATE inspection SET status = ?, updated_at = ? WHERE inspection_id = ?`,
			int(status), time.Now().UTC(), inspectionID)
		if err != nil {
			return fmt.Errorf("update status: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return ErrNotFound
		}
		return nil
	})
}

// ClearInspectionDataset removes the inspection and all of its items. Used
// after a successful final submission.
func (s *Store) ClearInspectionDataset(ctx context.Context) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `DELETE FROM inspection_item`); err != nil {
			return fmt.Errorf("clear items: %w", err)
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM inspection`); err != nil {
			return fmt.Errorf("clear inspection: %w", err)
		}
		return nil
	})
}

const itemColumns = `
	item_uuid, item_id, inspection_id, item_name_id, item_name, taken_at,
	local_original_image_path, local_cropped_image_path,
	remote_original_image_path, remote_cropped_image_path,
	analysis_result, model, serial_number, edited_model, edited_serial_number,
	progress, ng_comment, delete_flag, analysis_type, version, created_at, updated_at`

func (s *Store) insertItem(ctx context.Context, tx *sql.Tx, item *InspectionItem) error {
	sealed, err := s.sealItem(item)
	if err != nil {
		return err
	}
	_, err = tx.ExecContext(ctx, `
		INSERT INTO inspection_item (`+itemColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		item.ItemUUID, item.ItemID, item.InspectionID, item.ItemNameID, item.ItemName, item.TakenAt,
		item.LocalOriginalImagePath, item.LocalCroppedImagePath,
		item.RemoteOriginalImagePath, item.RemoteCroppedImagePath,
		sealed.analysisResult, sealed.model, sealed.serialNumber, sealed.editedModel, sealed.editedSerialNumber,
		int(item.Progress), sealed.ngComment, boolToInt(item.DeleteFlag), string(item.AnalysisType),
		item.Version, item.CreatedAt, item.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert item %s: %w", item.ItemUUID, err)
	}
	return nil
}

// UpsertItem inserts the item or overwrites the existing row with the same
// ItemUUID.
func (s *Store) UpsertItem(ctx context.Context, item *InspectionItem) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx,
			`DELETE FROM inspection_item WHERE item_uuid = ?`, item.ItemUUID); err != nil {
			return fmt.Errorf("replace item %s: %w", item.ItemUUID, err)
		}
		return s.insertItem(ctx, tx, item)
	})
}

// DeleteItem applies the tombstone rule: a server-known item (non-null
// ItemID) is flagged deleted and retained for later deletion reporting, a
// never-submitted item is removed outright.
func (s *Store) DeleteItem(ctx context.Context, itemUUID string) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		var itemID sql.NullInt64
		err := tx.QueryRowContext(ctx,
			`SELECT item_id FROM inspection_item WHERE item_uuid = ?`, itemUUID).Scan(&itemID)
		if errors.Is(err, sql.ErrNoRows) {
			return ErrNotFound
		}
		if err != nil {
			return fmt.Errorf("lookup item %s: %w", itemUUID, err)
		}
		if itemID.Valid {
			_, err = tx.ExecContext(ctx,
				`UPDATE inspection_item SET delete_flag = 1, updated_at = ? WHERE item_uuid = ?`,
				time.Now().UTC(), itemUUID)
		} else {
			_, err = tx.ExecContext(ctx, `DELETE FROM inspection_item WHERE item_uuid = ?`, itemUUID)
		}
		if err != nil {
			return fmt.Errorf("delete item %s: %w", itemUUID, err)
		}
		return nil
	})
}

// QueryItems lists items for the inspection ordered by creation time.
func (s *Store) QueryItems(ctx context.Context, inspectionID int64, excludeDeleted bool) ([]InspectionItem, error) {
	query := `SELECT ` + itemColumns + ` FROM inspection_item WHERE inspection_id = ?`
	if excludeDeleted {
		query += ` AND delete_flag = 0`
	}
	query += ` ORDER BY created_at, item_uuid`

	rows, err := s.db.QueryContext(ctx, query, inspectionID)
	if err != nil {
		return nil, fmt.Errorf("query items: %w", err)
	}
	defer rows.Close()
	return s.scanItems(rows)
}

// QueryDeletedItems lists tombstoned items for deletion reporting.
func (s *Store) QueryDeletedItems(ctx context.Context, inspectionID int64) ([]InspectionItem, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+itemColumns+` FROM inspection_item
		 WHERE inspection_id = ? AND delete_flag = 1 ORDER BY created_at, item_uuid`, inspectionID)
	if err != nil {
		return nil, fmt.Errorf("query deleted items: %w", err)
	}
	defer rows.Close()
	return s.scanItems(rows)
}

// GetItemByUUID returns the item with the given client key.
func (s *Store) GetItemByUUID(ctx context.Context, itemUUID string) (*InspectionItem, error) {
	return s.getItem(ctx, `item_uuid = ?`, itemUUID)
}

// GetItemByServerID returns the item the server knows by itemID.
func (s *Store) GetItemByServerID(ctx context.Context, inspectionID, itemID int64) (*InspectionItem, error) {
	return s.getItem(ctx, `inspection_id = ? AND item_id = ?`, inspectionID, itemID)
}

func (s *Store) getItem(ctx context.Context, where string, args ...any) (*InspectionItem, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+itemColumns+` FROM inspection_item WHERE `+where+` LIMIT 1`, args...)
	if err != nil {
		return nil, fmt.Errorf("query item: %w", err)
	}
	defer rows.Close()
	items, err := s.scanItems(rows)
	if err != nil {
		return nil, err
	}
	if len(items) == 0 {
		return nil, ErrNotFound
	}
	return &items[0], nil
}

type sealedItemFields struct {
	analysisResult, model, serialNumber string
	editedModel, editedSerialNumber     string
	ngComment                           sql.NullString
}

func (s *Store) sealItem(item *InspectionItem) (sealedItemFields, error) {
	var out sealedItemFields
	var err error
	if out.analysisResult, err = s.cipher.seal(item.AnalysisResult); err != nil {
		return out, fmt.Errorf("seal analysis result: %w", err)
	}
	if out.model, err = s.cipher.seal(item.Model); err != nil {
		return out, fmt.Errorf("seal model: %w", err)
	}
	if out.serialNumber, err = s.cipher.seal(item.SerialNumber); err != nil {
		return out, fmt.Errorf("seal serial number: %w", err)
	}
	if out.editedModel, err = s.cipher.seal(item.EditedModel); err != nil {
		return out, fmt.Errorf("seal edited model: %w", err)
	}
	if out.editedSerialNumber, err = s.cipher.seal(item.EditedSerialNumber); err != nil {
		return out, fmt.Errorf("seal edited serial: %w", err)
	}
	if item.NGComment.Valid {
		sealed, err := s.cipher.seal(item.NGComment.String)
		if err != nil {
			return out, fmt.Errorf("seal ng comment: %w", err)
		}
		out.ngComment = sql.NullString{String: sealed, Valid: true}
	}
	return out, nil
}

func (s *Store) scanItems(rows *sql.Rows) ([]InspectionItem, error) {
	var items []InspectionItem
	for rows.Next() {
		var item InspectionItem
		var progress, deleteFlag int
		var analysisType string
		var sealed sealedItemFields
		err := rows.Scan(
			&item.ItemUUID, &item.ItemID, &item.InspectionID, &item.ItemNameID, &item.ItemName, &item.TakenAt,
			&item.LocalOriginalImagePath, &item.LocalCroppedImagePath,
			&item.RemoteOriginalImagePath, &item.RemoteCroppedImagePath,
			&sealed.analysisResult, &sealed.model, &sealed.serialNumber,
			&sealed.editedModel, &sealed.editedSerialNumber,
			&progress, &sealed.ngComment, &deleteFlag, &analysisType,
			&item.Version, &item.CreatedAt, &item.UpdatedAt)
		if err != nil {
			return nil, fmt.Errorf("scan item: %w", err)
		}
		item.Progress = Progress(progress)
		item.DeleteFlag = deleteFlag != 0
		item.AnalysisType = AnalysisType(analysisType)
		if item.AnalysisResult, err = s.cipher.open(sealed.analysisResult); err != nil {
			return nil, fmt.Errorf("open analysis result: %w", err)
		}
		if item.Model, err = s.cipher.open(sealed.model); err != nil {
			return nil, fmt.Errorf("open model: %w", err)
		}
		if item.SerialNumber, err = s.cipher.open(sealed.serialNumber); err != nil {
			return nil, fmt.Errorf("open serial number: %w", err)
		}
		if item.EditedModel, err = s.cipher.open(sealed.editedModel); err != nil {
			return nil, fmt.Errorf("open edited model: %w", err)
		}
		if item.EditedSerialNumber, err = s.cipher.open(sealed.editedSerialNumber); err != nil {
			return nil, fmt.Errorf("open edited serial: %w", err)
		}
		if sealed.ngComment.Valid {
			comment, err := s.cipher.open(sealed.ngComment.String)
			if err != nil {
				return nil, fmt.Errorf("open ng comment: %w", err)
			}
			item.NGComment = sql.NullString{String: comment, Valid: true}
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate items: %w", err)
	}
	return items, nil
}

// ReplaceSamplePhotos swaps the reference-photo catalog for an inspection
// name in one transaction.
func (s *Store) ReplaceSamplePhotos(ctx context.Context, inspectionNameID int64, photos []SamplePhoto) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx,
			`DELETE FROM sample_photo WHERE inspection_name_id = ?`, inspectionNameID); err != nil {
			return fmt.Errorf("clear sample photos: %w", err)
		}
		for _, p := range photos {
			_, err := tx.ExecContext(ctx, `
				INSERT INTO sample_photo (inspection_name_id, item_name_id, file_name, explanation, local_path, remote_path)
				VALUES (?, ?, ?, ?, ?, ?)`,
				p.InspectionNameID, p.ItemNameID, p.FileName, p.Explanation, p.LocalPath, p.RemotePath)
			if err != nil {
				return fmt.Errorf("insert sample photo %s: %w", p.FileName, err)
			}
		}
		return nil
	})
}

// QuerySamplePhotos lists reference photos for one item name.
func (s *Store) QuerySamplePhotos(ctx context.Context, inspectionNameID, itemNameID int64) ([]SamplePhoto, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT sample_id, inspection_name_id, item_name_id, file_name, explanation, local_path, remote_path
		FROM sample_photo WHERE inspection_name_id = ? AND item_name_id = ?
		ORDER BY sample_id`, inspectionNameID, itemNameID)
	if err != nil {
		return nil, fmt.Errorf("query sample photos: %w", err)
	}
	defer rows.Close()

	var photos []SamplePhoto
	for rows.Next() {
		var p SamplePhoto
		if err := rows.Scan(&p.SampleID, &p.InspectionNameID, &p.ItemNameID,
			&p.FileName, &p.Explanation, &p.LocalPath, &p.RemotePath); err != nil {
			return nil, fmt.Errorf("scan sample photo: %w", err)
		}
		photos = append(photos, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate sample photos: %w", err)
	}
	return photos, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
