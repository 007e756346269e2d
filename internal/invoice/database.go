package invoice

import (
	"cmp"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"time"

	"go.etcd.io/bbolt"
)

const (
	invoiceBucketName = "invoices"
	ocrBucketName     = "ocr_responses"
)

// ErrNotFound is returned for unknown invoice IDs
var ErrNotFound = errors.New("invoice not found")

// DB defines the interface for database operations
type DB interface {
	// SaveInvoice saves an invoice to the database
	SaveInvoice(invoice *Invoice) error

	// GetInvoice retrieves an invoice by ID
	GetInvoice(id string) (*Invoice, error)

	// ListInvoices returns all invoices, newest first
	ListInvoices() ([]*Invoice, error)

	// DeleteInvoice removes an invoice and its raw responses
	DeleteInvoice(id string) error

	// SaveOCR stores the raw backend responses for an invoice
	SaveOCR(id string, data []byte) error

	// GetOCR retrieves the raw backend responses for an invoice
	GetOCR(id string) ([]byte, error)

	// DeleteAll removes every invoice and raw response
	DeleteAll() error

	// Close closes the database connection
	Close() error
}

// BoltDB implements the DB interface using BoltDB
type BoltDB struct {
	db *bbolt.DB
}

// NewBoltDB creates a new BoltDB instance
func NewBoltDB(path string) (*BoltDB, error) {
	db, err := bbolt.Open(path, 0600, &bbolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("opening boltdb: %w", err)
	}

	if err := db.Update(createBuckets); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating buckets: %w", err)
	}

	return &BoltDB{db: db}, nil
}

func createBuckets(tx *bbolt.Tx) error {
	for _, name := range []string{invoiceBucketName, ocrBucketName} {
		if _, err := tx.CreateBucketIfNotExists([]byte(name)); err != nil {
			return err
		}
	}
	return nil
}

// SaveInvoice saves an invoice to the database
func (b *BoltDB) SaveInvoice(invoice *Invoice) error {
	return b.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(invoiceBucketName))
		data, err := json.Marshal(invoice)
		if err != nil {
			return fmt.Errorf("marshaling invoice: %w", err)
		}
		return bucket.Put([]byte(invoice.ID), data)
	})
}

// GetInvoice retrieves an invoice by ID
func (b *BoltDB) GetInvoice(id string) (*Invoice, error) {
	var invoice *Invoice
	err := b.db.View(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(invoiceBucketName))
		data := bucket.Get([]byte(id))
		if data == nil {
			return fmt.Errorf("%w: %s", ErrNotFound, id)
		}
		return json.Unmarshal(data, &invoice)
	})
	if err != nil {
		return nil, err
	}
	return invoice, nil
}

// ListInvoices returns all invoices, newest first
func (b *BoltDB) ListInvoices() ([]*Invoice, error) {
	invoices := make([]*Invoice, 0)
	err := b.db.View(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(invoiceBucketName))
		return bucket.ForEach(func(k, v []byte) error {
			var invoice Invoice
			if err := json.Unmarshal(v, &invoice); err != nil {
				return fmt.Errorf("unmarshaling invoice: %w", err)
			}
			invoices = append(invoices, &invoice)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	slices.SortStableFunc(invoices, func(a, b *Invoice) int {
		return cmp.Or(b.CreatedAt.Compare(a.CreatedAt), cmp.Compare(a.ID, b.ID))
	})
	return invoices, nil
}

// DeleteInvoice removes an invoice and its raw responses
func (b *BoltDB) DeleteInvoice(id string) error {
	return b.db.Update(func(tx *bbolt.Tx) error {
		if err := tx.Bucket([]byte(invoiceBucketName)).Delete([]byte(id)); err != nil {
			return err
		}
		return tx.Bucket([]byte(ocrBucketName)).Delete([]byte(id))
	})
}

// SaveOCR stores the raw backend responses for an invoice
func (b *BoltDB) SaveOCR(id string, data []byte) error {
	return b.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket([]byte(ocrBucketName)).Put([]byte(id), data)
	})
}

// GetOCR retrieves the raw backend responses for an invoice
func (b *BoltDB) GetOCR(id string) ([]byte, error) {
	var data []byte
	err := b.db.View(func(tx *bbolt.Tx) error {
		v := tx.Bucket([]byte(ocrBucketName)).Get([]byte(id))
		if v == nil {
			return fmt.Errorf("%w: no responses for %s", ErrNotFound, id)
		}
		// v is only valid inside the transaction
		data = append([]byte(nil), v...)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return data, nil
}

// DeleteAll removes every invoice and raw response
func (b *BoltDB) DeleteAll() error {
	return b.db.Update(func(tx *bbolt.Tx) error {
		for _, name := range []string{invoiceBucketName, ocrBucketName} {
			if err := tx.DeleteBucket([]byte(name)); err != nil && !errors.Is(err, bbolt.ErrBucketNotFound) {
				return fmt.Errorf("deleting bucket %s: %w", name, err)
			}
		}
		return createBuckets(tx)
	})
}

// Close closes the database connection
func (b *BoltDB) Close() error {
	return b.db.Close()
}
