package metadata

import (
	"encoding/json"
	"errors"
	"strconv"

	badger "github.com/dgraph-io/badger/v4"
	"github.com/sirupsen/logrus"

	"safevision/internal/dao"
)

const (
	recordingKeyPrefix = "recording:"
	lastArchiveTimeKey = "last_archive_time"
)

// MetadataDB is the local catalog of finished recordings.
type MetadataDB struct {
	db     *badger.DB
	logger *logrus.Entry
}

func NewMetadataDB(dir string, logger *logrus.Entry) (*MetadataDB, error) {
	return open(badger.DefaultOptions(dir), logger)
}

// NewInMemoryMetadataDB keeps the catalog in memory only.
func NewInMemoryMetadataDB(logger *logrus.Entry) (*MetadataDB, error) {
	return open(badger.DefaultOptions("").WithInMemory(true), logger)
}

func open(opts badger.Options, logger *logrus.Entry) (*MetadataDB, error) {
	db, err := badger.Open(opts.WithLoggingLevel(badger.ERROR))
	if err != nil {
		return nil, err
	}
	return &MetadataDB{
		db:     db,
		logger: logger,
	}, nil
}

func (m *MetadataDB) Close() error {
	return m.db.Close()
}

func (m *MetadataDB) Get(key []byte) ([]byte, error) {
	var val []byte
	err := m.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(key)
		if err != nil {
			return err
		}
		val, err = item.ValueCopy(nil)
		return err
	})
	if err != nil {
		return nil, err
	}
	return val, nil
}

func (m *MetadataDB) Set(key, val []byte) error {
	return m.db.Update(func(txn *badger.Txn) error {
		return txn.Set(key, val)
	})
}

func (m *MetadataDB) Delete(key []byte) error {
	return m.db.Update(func(txn *badger.Txn) error {
		return txn.Delete(key)
	})
}

func (m *MetadataDB) GetRecording(filename string) (*dao.RecordingInfo, error) {
	val, err := m.Get([]byte(recordingKeyPrefix + filename))
	if err != nil {
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil, nil
		}
		return nil, err
	}
	info := &dao.RecordingInfo{}
	if err := json.Unmarshal(val, info); err != nil {
		return nil, err
	}
	return info, nil
}

func (m *MetadataDB) SetRecording(info *dao.RecordingInfo) error {
	val, err := json.Marshal(info)
	if err != nil {
		return err
	}
	return m.Set([]byte(recordingKeyPrefix+info.Filename), val)
}

func (m *MetadataDB) DeleteRecording(filename string) error {
	return m.Delete([]byte(recordingKeyPrefix + filename))
}

func (m *MetadataDB) GetRecordings() ([]*dao.RecordingInfo, error) {
	prefix := []byte(recordingKeyPrefix)
	recordings := make([]*dao.RecordingInfo, 0, 10)
	err := m.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchSize = 10
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			item := it.Item()
			info := &dao.RecordingInfo{}
			err := item.Value(func(val []byte) error {
				return json.Unmarshal(val, info)
			})
			if err != nil {
				m.logger.WithError(err).Errorf("unmarshal recording %s", item.Key())
			} else {
				recordings = append(recordings, info)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return recordings, nil
}

// GetLastArchiveTime is the unix time of the last successful archive pass.
func (m *MetadataDB) GetLastArchiveTime() (int64, error) {
	t, err := m.Get([]byte(lastArchiveTimeKey))
	if err != nil {
		if errors.Is(err, badger.ErrKeyNotFound) {
			return 0, nil
		}
		return 0, err
	}
	return strconv.ParseInt(string(t), 10, 64)
}

func (m *MetadataDB) SetLastArchiveTime(t int64) error {
	return m.Set([]byte(lastArchiveTimeKey), []byte(strconv.FormatInt(t, 10)))
}
