package lib

import (
	"encoding/json"
	"errors"
	"log"
	"os"
	"path/filepath"
	"time"

	"gorm.io/datatypes"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// DownloadRecord is the persisted form of a DownloadEvent.
type DownloadRecord struct {
	ID     string    `json:"id" gorm:"primaryKey"`
	Kind   string    `json:"kind"`
	Route  string    `json:"route"`
	Path   string    `json:"path" gorm:"index"`
	Remote string    `json:"remote"`
	Size   int64     `json:"size"`
	At     time.Time `json:"at" gorm:"index"`
	Meta   datatypes.JSON
}

// SetMeta stores m in the Meta column.
func (r *DownloadRecord) SetMeta(m map[string]interface{}) error {
	b, err := json.Marshal(m)
	if err != nil {
		return err
	}
	r.Meta = datatypes.JSON(b)
	return nil
}

// GetMeta returns the Meta column as a map.
func (r *DownloadRecord) GetMeta() map[string]interface{} {
	var m map[string]interface{}
	if err := json.Unmarshal(r.Meta, &m); err != nil {
		return nil
	}
	return m
}

// History is a sqlite-backed download log.
type History struct {
	*gorm.DB
	path string
}

// OpenHistory opens (and creates) the history database at path.
func OpenHistory(path string) (*History, error) {
	if path == "" {
		return nil, errors.New("history: empty path")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	dsn := path + "?cache=shared&_mutex=full"
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, err
	}
	for _, v := range []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=NORMAL;",
		"PRAGMA busy_timeout = 30000;",
	} {
		if res := db.Exec(v); res.Error != nil {
			return nil, res.Error
		}
	}
	if err := db.AutoMigrate(&DownloadRecord{}); err != nil {
		return nil, err
	}
	log.Println("history db", path)
	return &History{DB: db, path: path}, nil
}

// Record implements Sink.
func (h *History) Record(e DownloadEvent) error {
	r := &DownloadRecord{
		ID:     e.ID,
		Kind:   e.Kind,
		Route:  e.Route,
		Path:   e.Path,
		Remote: e.Remote,
		Size:   e.Size,
		At:     e.At,
	}
	meta := map[string]interface{}{"count": e.Count}
	if e.Source != "" {
		meta["source"] = e.Source
	}
	if err := r.SetMeta(meta); err != nil {
		return err
	}
	return h.Create(r).Error
}

// Recent returns up to limit records, newest first.
func (h *History) Recent(limit int) ([]DownloadRecord, error) {
	var list []DownloadRecord
	res := h.Order("at desc").Limit(limit).Find(&list)
	return list, res.Error
}

// CountPath returns how many downloads streamed path.
func (h *History) CountPath(path string) (int64, error) {
	var n int64
	res := h.Model(&DownloadRecord{}).Where("path = ?", path).Count(&n)
	return n, res.Error
}

// Close releases the database.
func (h *History) Close() error {
	sqlDB, err := h.DB.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
