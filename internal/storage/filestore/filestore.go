// Пакет filestore - blob-хранилище на локальной файловой системе.
// Запись атомарная: temp файл → fsync → rename.
package filestore

import (
	"context"
	"errors"
	"fmt"
	"io"
	"iter"
	"os"
	"path/filepath"
	"strings"

	"github.com/bigkaa/goartstore/selfdestruct-module/internal/domain/model"
	"github.com/bigkaa/goartstore/selfdestruct-module/internal/storage"
)

// tmpSuffix - суффикс незавершённых файлов.
const tmpSuffix = ".tmp"

// FileStore - blob'ы как файлы в одной директории.
type FileStore struct {
	// dataDir - корневая директория хранения (SD_BLOB_DIR)
	dataDir string
	// baseURL - префикс локатора, по которому blob'ы отдаются клиентам
	baseURL string
}

// New создаёт FileStore. Директория создаётся, если её нет.
func New(dataDir, baseURL string) (*FileStore, error) {
	if err := os.MkdirAll(dataDir, 0o750); err != nil {
		return nil, fmt.Errorf("не удалось создать директорию данных %s: %w", dataDir, err)
	}
	return &FileStore{
		dataDir: dataDir,
		baseURL: strings.TrimSuffix(baseURL, "/"),
	}, nil
}

// Put записывает данные под ключом key.
// При ошибке temp файл удаляется, blob не появляется.
func (fs *FileStore) Put(ctx context.Context, key string, r io.Reader, _ string) (string, error) {
	if err := storage.ValidateKey(key); err != nil {
		return "", err
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}

	fullPath := fs.FullPath(key)
	tmpPath := fullPath + tmpSuffix

	f, err := os.Create(tmpPath)
	if err != nil {
		return "", fmt.Errorf("ошибка создания временного файла: %w", err)
	}

	if _, err := io.Copy(f, r); err != nil {
		f.Close()
		os.Remove(tmpPath)
		return "", fmt.Errorf("ошибка записи данных: %w", err)
	}

	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(tmpPath)
		return "", fmt.Errorf("ошибка fsync: %w", err)
	}

	if err := f.Close(); err != nil {
		os.Remove(tmpPath)
		return "", fmt.Errorf("ошибка закрытия файла: %w", err)
	}

	if err := os.Rename(tmpPath, fullPath); err != nil {
		os.Remove(tmpPath)
		return "", fmt.Errorf("ошибка атомарного переименования: %w", err)
	}

	return fs.locator(key), nil
}

// Delete удаляет файл. Отсутствующий файл - AlreadyAbsent.
func (fs *FileStore) Delete(_ context.Context, key string) (model.DeleteResult, error) {
	if err := storage.ValidateKey(key); err != nil {
		return model.AlreadyAbsent, err
	}

	err := os.Remove(fs.FullPath(key))
	if err == nil {
		return model.Deleted, nil
	}
	if os.IsNotExist(err) {
		return model.AlreadyAbsent, nil
	}
	return model.AlreadyAbsent, fmt.Errorf("ошибка удаления файла %s: %w", key, err)
}

// LocatorFor возвращает URL blob'а, если файл существует.
func (fs *FileStore) LocatorFor(_ context.Context, key string) (string, error) {
	if err := storage.ValidateKey(key); err != nil {
		return "", err
	}
	if _, err := os.Stat(fs.FullPath(key)); err != nil {
		if os.IsNotExist(err) {
			return "", storage.ErrNotFound
		}
		return "", fmt.Errorf("ошибка получения информации о файле %s: %w", key, err)
	}
	return fs.locator(key), nil
}

// Open открывает blob для чтения. Вызывающий код обязан закрыть файл.
func (fs *FileStore) Open(key string) (*os.File, error) {
	if err := storage.ValidateKey(key); err != nil {
		return nil, err
	}
	f, err := os.Open(fs.FullPath(key))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("ошибка открытия файла %s: %w", key, err)
	}
	return f, nil
}

// List перечисляет готовые файлы директории. Незавершённые .tmp пропускаются.
func (fs *FileStore) List(ctx context.Context) iter.Seq2[storage.BlobInfo, error] {
	return func(yield func(storage.BlobInfo, error) bool) {
		entries, err := os.ReadDir(fs.dataDir)
		if err != nil {
			yield(storage.BlobInfo{}, fmt.Errorf("ошибка чтения директории %s: %w", fs.dataDir, err))
			return
		}

		for _, entry := range entries {
			if err := ctx.Err(); err != nil {
				yield(storage.BlobInfo{}, err)
				return
			}
			name := entry.Name()
			if entry.IsDir() || strings.HasSuffix(name, tmpSuffix) || storage.ValidateKey(name) != nil {
				continue
			}
			info, err := entry.Info()
			if errors.Is(err, os.ErrNotExist) {
				// Удалён между ReadDir и Info
				continue
			}
			if err != nil {
				if !yield(storage.BlobInfo{}, fmt.Errorf("ошибка получения информации о файле %s: %w", name, err)) {
					return
				}
				continue
			}
			if !yield(storage.BlobInfo{Key: name, Size: info.Size(), ModTime: info.ModTime()}, nil) {
				return
			}
		}
	}
}

// FullPath возвращает абсолютный путь к файлу на диске.
func (fs *FileStore) FullPath(key string) string {
	return filepath.Join(fs.dataDir, key)
}

// DataDir возвращает путь к директории данных.
func (fs *FileStore) DataDir() string {
	return fs.dataDir
}

func (fs *FileStore) locator(key string) string {
	return fs.baseURL + "/" + key
}

// Проверка соответствия интерфейсу на этапе компиляции.
var _ storage.BlobStore = (*FileStore)(nil)
